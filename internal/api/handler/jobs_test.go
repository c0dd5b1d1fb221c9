package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiranshivaraju/captioner/internal/cache"
	"github.com/kiranshivaraju/captioner/internal/imaging"
	"github.com/kiranshivaraju/captioner/internal/job"
	"github.com/kiranshivaraju/captioner/internal/media"
	"github.com/kiranshivaraju/captioner/internal/queue"
	"github.com/kiranshivaraju/captioner/internal/store"
	"github.com/kiranshivaraju/captioner/pkg/models"
)

const testMaxUpload = 1 << 20

// --- mock Submitter / StatusReader ---

type mockSubmitter struct {
	fn   func(sub job.Submission) (*models.Job, error)
	subs []job.Submission
}

func (m *mockSubmitter) Submit(_ context.Context, sub job.Submission) (*models.Job, error) {
	m.subs = append(m.subs, sub)
	return m.fn(sub)
}

func acceptingSubmitter() *mockSubmitter {
	return &mockSubmitter{fn: func(job.Submission) (*models.Job, error) {
		return &models.Job{ID: uuid.New(), Status: models.JobStatusQueued}, nil
	}}
}

type mockStatusReader struct {
	fn func(id uuid.UUID) (*job.StatusView, error)
}

func (m *mockStatusReader) Status(_ context.Context, id uuid.UUID) (*job.StatusView, error) {
	return m.fn(id)
}

// --- helpers ---

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 24, 16))))
	return buf.Bytes()
}

// multipartReq builds a submission request. A nil file omits the image part.
func multipartReq(t *testing.T, file []byte, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mpw := multipart.NewWriter(&body)
	if file != nil {
		fw, err := mpw.CreateFormFile("image", "photo.png")
		require.NoError(t, err)
		_, err = fw.Write(file)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mpw.WriteField(k, v))
	}
	require.NoError(t, mpw.Close())

	r := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", &body)
	r.Header.Set("Content-Type", mpw.FormDataContentType())
	return r
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func errCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var env struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env.Error.Code
}

func statusRouter(svc StatusReader) http.Handler {
	r := chi.NewRouter()
	r.Get("/api/v1/jobs/{jobID}", NewStatusHandler(svc))
	return r
}

// ========================================
// Submit
// ========================================

func TestSubmit_Success(t *testing.T) {
	svc := acceptingSubmitter()
	rec := httptest.NewRecorder()

	NewSubmitHandler(svc, testMaxUpload).ServeHTTP(rec,
		multipartReq(t, pngBytes(t), map[string]string{"query_text": "What is shown?"}))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, "processing", body["status"])
	_, err := uuid.Parse(body["job_id"].(string))
	assert.NoError(t, err)
	_, hasData := body["data"]
	assert.False(t, hasData, "submission payload is not enveloped")

	require.Len(t, svc.subs, 1)
	assert.Equal(t, "What is shown?", svc.subs[0].Query)
	assert.Equal(t, "photo.png", svc.subs[0].Filename)
	assert.Equal(t, pngBytes(t), svc.subs[0].Data)
}

func TestSubmit_MissingFile(t *testing.T) {
	svc := acceptingSubmitter()
	rec := httptest.NewRecorder()

	NewSubmitHandler(svc, testMaxUpload).ServeHTTP(rec,
		multipartReq(t, nil, map[string]string{"query_text": "hello"}))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", errCode(t, rec))
	assert.Empty(t, svc.subs)
}

func TestSubmit_NotMultipart(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", strings.NewReader(`{"image":"x"}`))
	r.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	NewSubmitHandler(acceptingSubmitter(), testMaxUpload).ServeHTTP(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", errCode(t, rec))
}

func TestSubmit_TooLarge(t *testing.T) {
	svc := acceptingSubmitter()
	rec := httptest.NewRecorder()

	NewSubmitHandler(svc, 512).ServeHTTP(rec, multipartReq(t, bytes.Repeat([]byte{0xAB}, 4096), nil))

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "PAYLOAD_TOO_LARGE", errCode(t, rec))
	assert.Empty(t, svc.subs)
}

func TestSubmit_ErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantErr  string
	}{
		{"not an image", fmt.Errorf("%w: %w", job.ErrValidation, imaging.ErrNotImage), http.StatusBadRequest, "VALIDATION_ERROR"},
		{"empty file", fmt.Errorf("%w: %w", job.ErrValidation, job.ErrNoFile), http.StatusBadRequest, "VALIDATION_ERROR"},
		{"other validation", job.ErrValidation, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"store failure", errors.New("create job: connection refused"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockSubmitter{fn: func(job.Submission) (*models.Job, error) { return nil, tt.err }}
			rec := httptest.NewRecorder()

			NewSubmitHandler(svc, testMaxUpload).ServeHTTP(rec, multipartReq(t, pngBytes(t), nil))

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantErr, errCode(t, rec))
			assert.NotContains(t, rec.Body.String(), "connection refused")
		})
	}
}

// ========================================
// Status
// ========================================

func TestStatus_MalformedID(t *testing.T) {
	called := false
	svc := &mockStatusReader{fn: func(uuid.UUID) (*job.StatusView, error) {
		called = true
		return nil, nil
	}}
	rec := httptest.NewRecorder()

	statusRouter(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/not-a-uuid", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", errCode(t, rec))
	assert.False(t, called)
}

func TestStatus_Unknown(t *testing.T) {
	svc := &mockStatusReader{fn: func(uuid.UUID) (*job.StatusView, error) { return nil, job.ErrNotFound }}
	rec := httptest.NewRecorder()

	statusRouter(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+uuid.NewString(), nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", errCode(t, rec))
}

func TestStatus_InternalError(t *testing.T) {
	svc := &mockStatusReader{fn: func(uuid.UUID) (*job.StatusView, error) { return nil, errors.New("pg down") }}
	rec := httptest.NewRecorder()

	statusRouter(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+uuid.NewString(), nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "pg down")
}

func TestStatus_Views(t *testing.T) {
	id := uuid.New()
	answer := "A cat."
	tests := []struct {
		name string
		view job.StatusView
		want map[string]any
	}{
		{
			name: "processing",
			view: job.StatusView{JobID: id, Status: job.StatusProcessing},
			want: map[string]any{"job_id": id.String(), "status": "processing"},
		},
		{
			name: "failed",
			view: job.StatusView{JobID: id, Status: job.StatusFailed, Error: "Processing took too long and was stopped."},
			want: map[string]any{"job_id": id.String(), "status": "failed", "error": "Processing took too long and was stopped."},
		},
		{
			name: "completed with query",
			view: job.StatusView{
				JobID: id, Status: job.StatusCompleted, AnalysisID: &id,
				ImageURL: "/media/a.png", DisplayURL: "/media/a_display.jpg",
				ShortCaption: "short", NormalCaption: "normal", QueryResult: &answer,
			},
			want: map[string]any{
				"job_id": id.String(), "status": "completed", "analysis_id": id.String(),
				"image_url": "/media/a.png", "display_url": "/media/a_display.jpg",
				"short_caption": "short", "normal_caption": "normal", "query_result": answer,
			},
		},
		{
			name: "completed without query",
			view: job.StatusView{
				JobID: id, Status: job.StatusCompleted, AnalysisID: &id,
				ImageURL: "/media/a.png", DisplayURL: "/media/a_display.jpg",
				ShortCaption: "short", NormalCaption: "normal",
			},
			want: map[string]any{
				"job_id": id.String(), "status": "completed", "analysis_id": id.String(),
				"image_url": "/media/a.png", "display_url": "/media/a_display.jpg",
				"short_caption": "short", "normal_caption": "normal", "query_result": nil,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			view := tt.view
			svc := &mockStatusReader{fn: func(uuid.UUID) (*job.StatusView, error) { return &view, nil }}
			rec := httptest.NewRecorder()

			statusRouter(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+id.String(), nil))

			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, tt.want, decodeBody(t, rec))
		})
	}
}

// ========================================
// Submit + Status against the job service
// ========================================

func newJobService(t *testing.T) (*job.Service, *store.MemoryStore, *queue.MemoryQueue) {
	t.Helper()
	m, err := media.NewFSStore(filepath.Join(t.TempDir(), "media"), "/media/")
	require.NoError(t, err)
	st := store.NewMemoryStore()
	q := queue.NewMemoryQueue()
	svc := job.NewService(st, q, m, cache.NewMemoryCache(), job.Config{JobTimeout: time.Minute, StatusTTL: time.Hour})
	return svc, st, q
}

func TestSubmitThenPoll_Service(t *testing.T) {
	svc, _, q := newJobService(t)

	rec := httptest.NewRecorder()
	NewSubmitHandler(svc, testMaxUpload).ServeHTTP(rec, multipartReq(t, pngBytes(t), nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	jobID := decodeBody(t, rec)["job_id"].(string)
	pending, _ := q.Len()
	assert.Equal(t, 1, pending)

	rec = httptest.NewRecorder()
	statusRouter(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+jobID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"job_id": jobID, "status": "processing"}, decodeBody(t, rec))
}

func TestSubmit_Service_RejectsNonImage(t *testing.T) {
	svc, _, q := newJobService(t)

	rec := httptest.NewRecorder()
	NewSubmitHandler(svc, testMaxUpload).ServeHTTP(rec, multipartReq(t, []byte("just some text, not pixels"), nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", errCode(t, rec))
	pending, _ := q.Len()
	assert.Equal(t, 0, pending)
}
