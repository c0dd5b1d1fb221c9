// Package worker claims jobs from the queue and runs them through the
// model, recording each outcome in the store.
package worker

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kiranshivaraju/captioner/internal/cache"
	"github.com/kiranshivaraju/captioner/internal/imaging"
	"github.com/kiranshivaraju/captioner/internal/media"
	"github.com/kiranshivaraju/captioner/internal/model"
	"github.com/kiranshivaraju/captioner/internal/store"
	"github.com/kiranshivaraju/captioner/pkg/models"
)

// Captioner is the model surface the processor drives. *model.Handle
// implements it.
type Captioner interface {
	ShortCaption(ctx context.Context, img image.Image) (string, error)
	NormalCaption(ctx context.Context, img image.Image) (string, error)
	Query(ctx context.Context, img image.Image, question string) (string, error)
}

var errWorkerStopped = errors.New("worker stopped before the job finished")

// failWriteTimeout bounds the store write that records a failure, which
// runs even after the job's own context has ended.
const failWriteTimeout = 5 * time.Second

type Processor struct {
	store       store.Store
	media       media.Store
	predictions *cache.PredictionCache
	captioner   Captioner
	modelName   string
	now         func() time.Time
}

func NewProcessor(st store.Store, m media.Store, predictions *cache.PredictionCache, captioner Captioner, modelName string) *Processor {
	return &Processor{
		store:       st,
		media:       m,
		predictions: predictions,
		captioner:   captioner,
		modelName:   modelName,
		now:         time.Now,
	}
}

// Process runs one delivery of jobID. It returns an error only when the job
// could not be started for a transient reason; the id should then stay
// claimed so the queue delivers it again. Every other outcome, including
// job failure, is recorded in the store and reported as nil.
func (p *Processor) Process(ctx context.Context, jobID string) error {
	start := time.Now()

	id, err := uuid.Parse(jobID)
	if err != nil {
		slog.Warn("dropping malformed job id", "job_id", jobID, "error", err)
		return nil
	}

	job, err := p.store.StartJob(ctx, id, p.now().UTC())
	if errors.Is(err, store.ErrJobTerminal) || errors.Is(err, store.ErrNotFound) {
		slog.Info("skipping job not awaiting processing", "job_id", id, "reason", err)
		return nil
	}
	if err != nil {
		return fmt.Errorf("start job %s: %w", id, err)
	}

	jobCtx, cancel := context.WithDeadline(ctx, *job.Deadline)
	defer cancel()

	analysis, err := p.run(jobCtx, job)
	if err == nil && jobCtx.Err() != nil {
		err = fmt.Errorf("result ready after deadline: %w", jobCtx.Err())
	}
	if err == nil {
		err = p.store.CompleteJob(jobCtx, id, analysis)
		if errors.Is(err, store.ErrJobTerminal) {
			slog.Warn("job finished after reaching a terminal state; result discarded", "job_id", id)
			return nil
		}
	}
	if err != nil {
		p.fail(ctx, jobCtx, id, err)
		return nil
	}

	slog.Info("job completed",
		"job_id", id,
		"analysis_id", analysis.ID,
		"fingerprint", analysis.Fingerprint,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// run produces the analysis for job, calling the model only for outputs
// the prediction cache does not already hold.
func (p *Processor) run(ctx context.Context, job *models.Job) (*models.Analysis, error) {
	data, err := p.media.Get(ctx, job.ImagePath)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	fp := cache.Fingerprint(data)

	prev, hit := p.predictions.Lookup(ctx, fp)
	query := ""
	if job.QueryText != nil {
		query = *job.QueryText
	}

	var decoded image.Image
	decode := func() (image.Image, error) {
		if decoded != nil {
			return decoded, nil
		}
		img, err := imaging.Decode(data)
		if err != nil {
			return nil, err
		}
		decoded = img
		return decoded, nil
	}

	displayName := media.DisplayName(fp)
	exists, err := p.media.Exists(ctx, displayName)
	if err != nil {
		return nil, err
	}
	if !exists {
		img, err := decode()
		if err != nil {
			return nil, err
		}
		rendition, err := imaging.Display(img)
		if err != nil {
			return nil, err
		}
		if err := p.media.Put(ctx, displayName, rendition); err != nil {
			return nil, fmt.Errorf("store display rendition: %w", err)
		}
	}

	short, normal := "", ""
	if prev.HasCaptions() {
		short, normal = prev.ShortCaption, prev.NormalCaption
	}
	answer, haveAnswer := "", query == ""
	if query != "" {
		answer, haveAnswer = prev.Answer(query)
	}

	computed := false
	if short == "" || !haveAnswer {
		img, err := decode()
		if err != nil {
			return nil, err
		}
		input := imaging.ForModel(img)

		if short == "" {
			if short, err = p.captioner.ShortCaption(ctx, input); err != nil {
				return nil, err
			}
			if normal, err = p.captioner.NormalCaption(ctx, input); err != nil {
				return nil, err
			}
		}
		if !haveAnswer {
			if answer, err = p.captioner.Query(ctx, input, query); err != nil {
				return nil, err
			}
		}
		computed = true
	}

	if computed {
		next := prev.With(short, normal, query, answer)
		next.Model = p.modelName
		p.predictions.Store(ctx, fp, next, 0)
	}
	slog.Debug("prediction resolved", "job_id", job.ID, "fingerprint", fp, "cache_hit", hit, "computed", computed)

	a := &models.Analysis{
		ID:            uuid.New(),
		JobID:         job.ID,
		ImagePath:     job.ImagePath,
		DisplayPath:   displayName,
		Fingerprint:   fp,
		UploadedAt:    job.CreatedAt,
		ShortCaption:  short,
		NormalCaption: normal,
	}
	if query != "" {
		a.QueryText = &query
		a.QueryResult = &answer
	}
	return a, nil
}

// fail records err on the job. The write uses a context detached from the
// job's so an expired deadline can still be recorded.
func (p *Processor) fail(parent, jobCtx context.Context, id uuid.UUID, cause error) {
	code := classify(parent, jobCtx, cause)
	if code == models.ErrorCodeInternal && parent.Err() != nil {
		cause = fmt.Errorf("%w: %v", errWorkerStopped, cause)
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), failWriteTimeout)
	defer cancel()

	err := p.store.FailJob(ctx, id, code, cause.Error())
	switch {
	case errors.Is(err, store.ErrJobTerminal):
		slog.Info("job already terminal; failure not recorded", "job_id", id, "code", code)
	case err != nil:
		slog.Error("record job failure", "job_id", id, "code", code, "error", err)
	default:
		slog.Warn("job failed", "job_id", id, "code", code, "error", cause)
	}
}

func classify(parent, jobCtx context.Context, err error) string {
	switch {
	case parent.Err() != nil:
		return models.ErrorCodeInternal
	case errors.Is(jobCtx.Err(), context.DeadlineExceeded), errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, store.ErrJobExpired):
		return models.ErrorCodeTimeout
	case errors.Is(err, imaging.ErrNotImage):
		return models.ErrorCodeInvalidImage
	case errors.Is(err, model.ErrModelUnavailable):
		return models.ErrorCodeModelUnavailable
	case errors.Is(err, model.ErrInference):
		return models.ErrorCodeInference
	default:
		return models.ErrorCodeInternal
	}
}
