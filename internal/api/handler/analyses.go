package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kiranshivaraju/captioner/internal/api/response"
	"github.com/kiranshivaraju/captioner/internal/store"
	"github.com/kiranshivaraju/captioner/pkg/models"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// AnalysisService reads and deletes analysis records.
type AnalysisService interface {
	GetAnalysis(ctx context.Context, id uuid.UUID) (*models.Analysis, error)
	ListAnalyses(ctx context.Context, page, limit int) ([]*models.Analysis, int, error)
	RecentAnalyses(ctx context.Context) ([]*models.Analysis, error)
	AnalysisStats(ctx context.Context) (*models.AnalysisStats, error)
	DeleteAnalysis(ctx context.Context, id uuid.UUID) error
	MediaURL(name string) string
}

type analysisResponse struct {
	ID            uuid.UUID `json:"id"`
	JobID         uuid.UUID `json:"job_id"`
	ImageURL      string    `json:"image_url"`
	DisplayURL    string    `json:"display_url"`
	Fingerprint   string    `json:"fingerprint"`
	UploadedAt    string    `json:"uploaded_at"`
	ShortCaption  string    `json:"short_caption"`
	NormalCaption string    `json:"normal_caption"`
	QueryText     *string   `json:"query_text"`
	QueryResult   *string   `json:"query_result"`
	CreatedAt     string    `json:"created_at"`
}

func toAnalysisResponse(svc AnalysisService, a *models.Analysis) analysisResponse {
	return analysisResponse{
		ID:            a.ID,
		JobID:         a.JobID,
		ImageURL:      svc.MediaURL(a.ImagePath),
		DisplayURL:    svc.MediaURL(a.DisplayPath),
		Fingerprint:   a.Fingerprint,
		UploadedAt:    a.UploadedAt.UTC().Format(time.RFC3339),
		ShortCaption:  a.ShortCaption,
		NormalCaption: a.NormalCaption,
		QueryText:     a.QueryText,
		QueryResult:   a.QueryResult,
		CreatedAt:     a.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func toAnalysisResponses(svc AnalysisService, list []*models.Analysis) []analysisResponse {
	out := make([]analysisResponse, 0, len(list))
	for _, a := range list {
		out = append(out, toAnalysisResponse(svc, a))
	}
	return out
}

// NewListAnalysesHandler returns an http.HandlerFunc for GET /api/v1/analyses.
func NewListAnalysesHandler(svc AnalysisService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page, ok := queryInt(r, "page", 1)
		if !ok || page < 1 {
			response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR",
				"page must be a positive integer", nil)
			return
		}
		limit, ok := queryInt(r, "limit", defaultPageLimit)
		if !ok || limit < 1 {
			response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR",
				"limit must be a positive integer", nil)
			return
		}
		if limit > maxPageLimit {
			limit = maxPageLimit
		}

		list, total, err := svc.ListAnalyses(r.Context(), page, limit)
		if err != nil {
			internalError(w, "list analyses failed", err)
			return
		}

		response.Collection(w, toAnalysisResponses(svc, list), response.NewPaginationMeta(page, limit, total))
	}
}

// NewRecentAnalysesHandler returns an http.HandlerFunc for GET /api/v1/analyses/recent.
func NewRecentAnalysesHandler(svc AnalysisService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := svc.RecentAnalyses(r.Context())
		if err != nil {
			internalError(w, "recent analyses failed", err)
			return
		}
		response.JSON(w, toAnalysisResponses(svc, list))
	}
}

// NewAnalysisStatsHandler returns an http.HandlerFunc for GET /api/v1/analyses/stats.
func NewAnalysisStatsHandler(svc AnalysisService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := svc.AnalysisStats(r.Context())
		if err != nil {
			internalError(w, "analysis stats failed", err)
			return
		}
		response.JSON(w, stats)
	}
}

// NewGetAnalysisHandler returns an http.HandlerFunc for GET /api/v1/analyses/{analysisID}.
func NewGetAnalysisHandler(svc AnalysisService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "analysisID"))
		if err != nil {
			analysisNotFound(w)
			return
		}

		a, err := svc.GetAnalysis(r.Context(), id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				analysisNotFound(w)
				return
			}
			internalError(w, "get analysis failed", err)
			return
		}

		response.JSON(w, toAnalysisResponse(svc, a))
	}
}

// NewDeleteAnalysisHandler returns an http.HandlerFunc for DELETE /api/v1/analyses/{analysisID}.
func NewDeleteAnalysisHandler(svc AnalysisService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "analysisID"))
		if err != nil {
			analysisNotFound(w)
			return
		}

		if err := svc.DeleteAnalysis(r.Context(), id); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				analysisNotFound(w)
				return
			}
			internalError(w, "delete analysis failed", err)
			return
		}

		response.NoContent(w)
	}
}

func queryInt(r *http.Request, key string, defaultVal int) (int, bool) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return defaultVal, true
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return i, true
}

func analysisNotFound(w http.ResponseWriter) {
	response.Error(w, http.StatusNotFound, "NOT_FOUND", "Analysis not found", nil)
}

func internalError(w http.ResponseWriter, msg string, err error) {
	slog.Error(msg, "error", err)
	response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
		"An unexpected error occurred", nil)
}
