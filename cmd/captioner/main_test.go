package main

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/kiranshivaraju/captioner/internal/engine/mock"
	"github.com/kiranshivaraju/captioner/pkg/models"
)

// ─── helpers ────────────────────────────────────────────────────────────────

func clearConfigEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"DATABASE_URL", "REDIS_URL", "MODEL_PROVIDER", "MODEL_DEVICE",
		"OLLAMA_BASE_URL", "MEDIA_URL", "QUEUE_WORKERS",
	} {
		t.Setenv(key, "")
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func pngUpload(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 800, 600))
	for x := 0; x < 800; x += 50 {
		for y := 0; y < 600; y++ {
			img.Set(x, y, color.RGBA{B: 255, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// ─── command tree ───────────────────────────────────────────────────────────

func TestRootCmd_Subcommands(t *testing.T) {
	root := newRootCmd()

	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "worker", "dev", "migrate", "analyses"} {
		assert.True(t, names[want], "missing %s command", want)
	}
}

func TestServe_FailsOnMissingConfig(t *testing.T) {
	clearConfigEnv(t)

	_, err := execute(t, "serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}

func TestWorker_FailsOnMissingConfig(t *testing.T) {
	clearConfigEnv(t)

	_, err := execute(t, "worker")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestDev_FailsOnInvalidConfig(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("MODEL_DEVICE", "tpu")

	_, err := execute(t, "dev")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MODEL_DEVICE")
}

func TestDev_RejectsZeroReapInterval(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("QUEUE_REAP_INTERVAL", "0s")

	_, err := execute(t, "dev")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "QUEUE_REAP_INTERVAL")
}

func TestMigrate_RequiresDatabaseURL(t *testing.T) {
	clearConfigEnv(t)

	_, err := execute(t, "migrate", "up")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL is required")
}

func TestMigrateDown_RejectsNonPositiveSteps(t *testing.T) {
	_, err := execute(t, "migrate", "down", "--steps", "0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--steps must be positive")
}

func TestAnalysesDelete_InvalidID(t *testing.T) {
	_, err := execute(t, "analyses", "delete", "not-a-uuid")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid analysis id")
}

func TestShutdownTimeout(t *testing.T) {
	assert.Equal(t, 30*time.Second, shutdownTimeout)
}

// ─── table output ───────────────────────────────────────────────────────────

func TestWriteAnalysesTable(t *testing.T) {
	q := "what is it?"
	items := []*models.Analysis{
		{ID: uuid.New(), CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), ShortCaption: "A cat on a mat."},
		{ID: uuid.New(), CreatedAt: time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC), ShortCaption: strings.Repeat("long ", 30), QueryText: &q},
	}

	var out bytes.Buffer
	writeAnalysesTable(&out, items)

	text := out.String()
	assert.Contains(t, text, "SHORT CAPTION")
	assert.Contains(t, text, items[0].ID.String())
	assert.Contains(t, text, "A cat on a mat.")
	assert.Contains(t, text, "2026-03-01 12:00:00")
	assert.Contains(t, text, `"what is it?"`)
	assert.Contains(t, text, "...")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
	assert.Equal(t, "日本語...", truncate("日本語のキャプションです", 6))
}

// ─── single-process pipeline ────────────────────────────────────────────────

func TestDevApp_SubmitPollComplete(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("MEDIA_DIR", t.TempDir())
	t.Setenv("MODEL_PROVIDER", "mock")
	t.Setenv("QUEUE_CLAIM_WAIT", "100ms")

	cfg, err := loadConfig(true)
	require.NoError(t, err)

	eng := mock.NewMockEngine()
	app, err := newDevApp(cfg, eng)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	var g errgroup.Group
	app.runBackground(ctx, &g)
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, g.Wait())
	})

	srv := httptest.NewServer(app.handler)
	t.Cleanup(srv.Close)

	submit := func() string {
		var body bytes.Buffer
		mpw := multipart.NewWriter(&body)
		fw, err := mpw.CreateFormFile("image", "stripes.png")
		require.NoError(t, err)
		_, err = fw.Write(pngUpload(t))
		require.NoError(t, err)
		require.NoError(t, mpw.WriteField("query_text", "  What color are the stripes?  "))
		require.NoError(t, mpw.Close())

		resp, err := http.Post(srv.URL+"/api/v1/jobs", mpw.FormDataContentType(), &body)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var out map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		assert.Equal(t, "processing", out["status"])
		return out["job_id"].(string)
	}

	poll := func(id string) map[string]any {
		var view map[string]any
		require.Eventually(t, func() bool {
			resp, err := http.Get(srv.URL + "/api/v1/jobs/" + id)
			if err != nil {
				return false
			}
			defer resp.Body.Close()
			view = nil
			if json.NewDecoder(resp.Body).Decode(&view) != nil {
				return false
			}
			return view["status"] != "processing"
		}, 5*time.Second, 20*time.Millisecond)
		return view
	}

	first := poll(submit())
	require.Equal(t, "completed", first["status"], first)
	assert.Equal(t, "A small test image.", first["short_caption"])
	assert.Equal(t, "Mock answer to: What color are the stripes?", first["query_result"])
	generations := eng.Generations()
	assert.EqualValues(t, 3, generations)

	// Same bytes and question: served from the prediction cache.
	second := poll(submit())
	require.Equal(t, "completed", second["status"])
	assert.Equal(t, first["short_caption"], second["short_caption"])
	assert.Equal(t, first["query_result"], second["query_result"])
	assert.Equal(t, generations, eng.Generations())

	for _, key := range []string{"image_url", "display_url"} {
		resp, err := http.Get(srv.URL + first[key].(string))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, key)
	}

	resp, err := http.Get(srv.URL + "/api/v1/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var health struct {
		Data struct {
			Queue map[string]int64 `json:"queue"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Zero(t, health.Data.Queue["pending"])
	assert.Contains(t, health.Data.Queue, "processing", "the last ack may still be in flight")
}
