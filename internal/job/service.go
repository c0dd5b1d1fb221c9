// Package job accepts image submissions and answers status polls. It is
// the only writer of queued jobs; workers take it from there.
package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kiranshivaraju/captioner/internal/cache"
	"github.com/kiranshivaraju/captioner/internal/imaging"
	"github.com/kiranshivaraju/captioner/internal/media"
	"github.com/kiranshivaraju/captioner/internal/queue"
	"github.com/kiranshivaraju/captioner/internal/store"
	"github.com/kiranshivaraju/captioner/pkg/models"
)

var (
	ErrValidation = errors.New("validation failed")
	ErrNoFile     = errors.New("no image file provided")
	ErrNotFound   = errors.New("job not found")
)

// Client-facing statuses. Queued and running are both reported as processing.
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// statsWindow is the span counted as recent on the dashboard.
const statsWindow = 7 * 24 * time.Hour

// RecentLimit is how many analyses the recent listing returns.
const RecentLimit = 5

// Submission is one uploaded image with an optional question about it.
type Submission struct {
	Data     []byte
	Filename string
	Query    string
}

type Config struct {
	JobTimeout time.Duration
	StatusTTL  time.Duration
}

type Service struct {
	store store.Store
	queue queue.Queue
	media media.Store
	cache cache.Cache
	cfg   Config
	now   func() time.Time
}

func NewService(st store.Store, q queue.Queue, m media.Store, c cache.Cache, cfg Config) *Service {
	return &Service{
		store: st,
		queue: q,
		media: m,
		cache: c,
		cfg:   cfg,
		now:   time.Now,
	}
}

// Submit validates the upload, stores it and queues a job. It never waits
// for inference.
func (s *Service) Submit(ctx context.Context, sub Submission) (*models.Job, error) {
	if len(sub.Data) == 0 {
		return nil, fmt.Errorf("%w: %w", ErrValidation, ErrNoFile)
	}
	info, err := imaging.Inspect(sub.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	name := media.UploadName(cache.Fingerprint(sub.Data), info.Ext)
	if err := s.media.Put(ctx, name, sub.Data); err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}

	now := s.now().UTC()
	job := &models.Job{
		ID:        uuid.New(),
		ImagePath: name,
		Status:    models.JobStatusQueued,
		Timeout:   s.cfg.JobTimeout,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if q := strings.TrimSpace(sub.Query); q != "" {
		job.QueryText = &q
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	if err := s.queue.Enqueue(ctx, job.ID.String()); err != nil {
		if ferr := s.store.FailJob(context.WithoutCancel(ctx), job.ID, models.ErrorCodeInternal, err.Error()); ferr != nil {
			slog.Error("fail unqueued job", "job_id", job.ID, "error", ferr)
		}
		return nil, fmt.Errorf("enqueue job: %w", err)
	}

	slog.Info("job submitted",
		"job_id", job.ID,
		"image", name,
		"filename", sub.Filename,
		"format", info.Format,
		"has_query", job.QueryText != nil,
	)
	return job, nil
}

// Status returns the client view of a job. Terminal views never change and
// are served from the cache after the first read.
func (s *Service) Status(ctx context.Context, id uuid.UUID) (*StatusView, error) {
	if raw, found, err := s.cache.GetJobStatus(ctx, id); err != nil {
		slog.Warn("status cache lookup failed", "job_id", id, "error", err)
	} else if found {
		var v StatusView
		if err := json.Unmarshal([]byte(raw), &v); err == nil {
			return &v, nil
		}
	}

	job, err := s.store.GetJob(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}

	view, err := s.viewOf(ctx, job)
	if err != nil {
		return nil, err
	}

	if view.Status != StatusProcessing && s.cfg.StatusTTL > 0 {
		if raw, err := json.Marshal(view.cached()); err == nil {
			if err := s.cache.SetJobStatus(ctx, id, string(raw), s.cfg.StatusTTL); err != nil {
				slog.Warn("status cache store failed", "job_id", id, "error", err)
			}
		}
	}
	return view, nil
}

func (s *Service) viewOf(ctx context.Context, job *models.Job) (*StatusView, error) {
	v := &StatusView{JobID: job.ID}
	switch job.Status {
	case models.JobStatusSucceeded:
		if job.AnalysisID == nil {
			return nil, ErrNotFound
		}
		a, err := s.store.GetAnalysis(ctx, *job.AnalysisID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("get analysis: %w", err)
		}
		v.Status = StatusCompleted
		v.AnalysisID = &a.ID
		v.ImageURL = s.media.URL(a.ImagePath)
		v.DisplayURL = s.media.URL(a.DisplayPath)
		v.ShortCaption = a.ShortCaption
		v.NormalCaption = a.NormalCaption
		v.QueryResult = a.QueryResult
	case models.JobStatusFailed:
		code := models.ErrorCodeInternal
		if job.ErrorCode != nil {
			code = *job.ErrorCode
		}
		v.Status = StatusFailed
		v.Error = PublicMessage(code)
	default:
		v.Status = StatusProcessing
	}
	return v, nil
}

// PublicMessage maps an error code to the message shown to clients. Raw
// engine output stays in the job record.
func PublicMessage(code string) string {
	switch code {
	case models.ErrorCodeInvalidImage:
		return "The uploaded file could not be processed as an image."
	case models.ErrorCodeModelUnavailable:
		return "The captioning model is currently unavailable. Please try again later."
	case models.ErrorCodeInference:
		return "The model could not generate a description for this image."
	case models.ErrorCodeTimeout:
		return "Processing took too long and was stopped."
	default:
		return "An unexpected error occurred while processing the image."
	}
}

// --- Analyses ---

func (s *Service) GetAnalysis(ctx context.Context, id uuid.UUID) (*models.Analysis, error) {
	return s.store.GetAnalysis(ctx, id)
}

func (s *Service) ListAnalyses(ctx context.Context, page, limit int) ([]*models.Analysis, int, error) {
	return s.store.ListAnalyses(ctx, store.AnalysisFilter{Page: page, Limit: limit})
}

func (s *Service) RecentAnalyses(ctx context.Context) ([]*models.Analysis, error) {
	return s.store.RecentAnalyses(ctx, RecentLimit)
}

func (s *Service) AnalysisStats(ctx context.Context) (*models.AnalysisStats, error) {
	return s.store.AnalysisStats(ctx, s.now().UTC().Add(-statsWindow))
}

// DeleteAnalysis removes the record and the job's cached view. Media files
// are content addressed and may back other analyses, so they are kept.
func (s *Service) DeleteAnalysis(ctx context.Context, id uuid.UUID) error {
	a, err := s.store.DeleteAnalysis(ctx, id)
	if err != nil {
		return err
	}
	if err := s.cache.Delete(ctx, cache.JobStatusKey(a.JobID)); err != nil {
		slog.Warn("status cache invalidation failed", "job_id", a.JobID, "error", err)
	}
	slog.Info("analysis deleted", "analysis_id", id, "job_id", a.JobID)
	return nil
}

// MediaURL resolves a stored media name to its public URL.
func (s *Service) MediaURL(name string) string {
	return s.media.URL(name)
}
