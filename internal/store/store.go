package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/captioner/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// ErrJobTerminal is returned when a job is not in a state that accepts the
// requested transition. Terminal states never change, so a late write from
// a worker that lost a race (or the reaper) is reported and dropped.
var ErrJobTerminal = errors.New("job not in a transitionable state")

// ErrJobExpired is returned by CompleteJob when the job's deadline has
// already passed. The job stays running for the caller to fail.
var ErrJobExpired = errors.New("job passed its deadline")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	StartJob(ctx context.Context, id uuid.UUID, now time.Time) (*models.Job, error)
	CompleteJob(ctx context.Context, id uuid.UUID, analysis *models.Analysis) error
	FailJob(ctx context.Context, id uuid.UUID, code, message string) error
	FailExpiredJobs(ctx context.Context, now time.Time) (int, error)
	DeleteJobsBefore(ctx context.Context, cutoff time.Time) (int, error)

	GetAnalysis(ctx context.Context, id uuid.UUID) (*models.Analysis, error)
	ListAnalyses(ctx context.Context, filter AnalysisFilter) ([]*models.Analysis, int, error)
	RecentAnalyses(ctx context.Context, limit int) ([]*models.Analysis, error)
	DeleteAnalysis(ctx context.Context, id uuid.UUID) (*models.Analysis, error)
	AnalysisStats(ctx context.Context, since time.Time) (*models.AnalysisStats, error)
}

type AnalysisFilter struct {
	Page  int
	Limit int
}

// normalize applies pagination defaults and bounds.
func (f AnalysisFilter) normalize() (limit, offset int) {
	limit = f.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	page := f.Page
	if page <= 0 {
		page = 1
	}
	return limit, (page - 1) * limit
}

// validTransitions lists, per target status, the states a job may leave
// to reach it.
var validTransitions = map[string][]string{
	models.JobStatusRunning:   {models.JobStatusQueued},
	models.JobStatusSucceeded: {models.JobStatusRunning},
	models.JobStatusFailed:    {models.JobStatusQueued, models.JobStatusRunning},
}

func canTransition(from, to string) bool {
	for _, s := range validTransitions[to] {
		if s == from {
			return true
		}
	}
	return false
}

// ExpiredJobMessage is recorded on jobs failed for passing their deadline.
const ExpiredJobMessage = "job exceeded its deadline"
