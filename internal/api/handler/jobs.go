package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kiranshivaraju/captioner/internal/api/response"
	"github.com/kiranshivaraju/captioner/internal/imaging"
	"github.com/kiranshivaraju/captioner/internal/job"
	"github.com/kiranshivaraju/captioner/pkg/models"
)

const (
	imageField = "image"
	queryField = "query_text"

	// multipartMemory is how much of a form is held in memory before
	// spilling file parts to disk.
	multipartMemory = 8 << 20
)

// Submitter accepts image submissions.
type Submitter interface {
	Submit(ctx context.Context, sub job.Submission) (*models.Job, error)
}

// StatusReader resolves a job id to its client view.
type StatusReader interface {
	Status(ctx context.Context, id uuid.UUID) (*job.StatusView, error)
}

type submitResponse struct {
	JobID  uuid.UUID `json:"job_id"`
	Status string    `json:"status"`
}

// NewSubmitHandler returns an http.HandlerFunc for POST /api/v1/jobs. The
// body is a multipart form with an "image" file and an optional
// "query_text" field; maxUpload caps the whole request.
func NewSubmitHandler(svc Submitter, maxUpload int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > maxUpload {
			tooLarge(w, maxUpload)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxUpload)

		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			var mbe *http.MaxBytesError
			if errors.As(err, &mbe) {
				tooLarge(w, maxUpload)
				return
			}
			response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR",
				"Request must be multipart/form-data with an image file", nil)
			return
		}
		defer r.MultipartForm.RemoveAll()

		file, hdr, err := r.FormFile(imageField)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR",
				"No image file provided", map[string]string{"field": imageField})
			return
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}

		j, err := svc.Submit(r.Context(), job.Submission{
			Data:     data,
			Filename: hdr.Filename,
			Query:    r.FormValue(queryField),
		})
		if err != nil {
			switch {
			case errors.Is(err, job.ErrNoFile):
				response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR",
					"No image file provided", map[string]string{"field": imageField})
			case errors.Is(err, imaging.ErrNotImage):
				response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR",
					"Uploaded file is not a valid image", map[string]string{"field": imageField})
			case errors.Is(err, job.ErrValidation):
				response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR",
					"Invalid submission", nil)
			default:
				slog.Error("submit job failed", "error", err)
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
					"An unexpected error occurred", nil)
			}
			return
		}

		response.Raw(w, http.StatusOK, submitResponse{JobID: j.ID, Status: job.StatusProcessing})
	}
}

// NewStatusHandler returns an http.HandlerFunc for GET /api/v1/jobs/{jobID}.
func NewStatusHandler(svc StatusReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "jobID"))
		if err != nil {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Job not found", nil)
			return
		}

		view, err := svc.Status(r.Context(), id)
		if err != nil {
			if errors.Is(err, job.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "NOT_FOUND", "Job not found", nil)
				return
			}
			slog.Error("job status failed", "job_id", id, "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}

		response.Raw(w, http.StatusOK, view)
	}
}

func tooLarge(w http.ResponseWriter, limit int64) {
	response.Error(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE",
		"Upload exceeds the maximum allowed size", map[string]int64{"max_bytes": limit})
}
