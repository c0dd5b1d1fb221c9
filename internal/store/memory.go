package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/captioner/pkg/models"
)

// MemoryStore is an in-process Store with the same transition rules as
// PostgresStore. It backs single-process mode and tests.
type MemoryStore struct {
	mu       sync.Mutex
	jobs     map[uuid.UUID]*models.Job
	analyses map[uuid.UUID]*models.Analysis
	byJob    map[uuid.UUID]uuid.UUID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:     make(map[uuid.UUID]*models.Job),
		analyses: make(map[uuid.UUID]*models.Analysis),
		byJob:    make(map[uuid.UUID]uuid.UUID),
	}
}

func (s *MemoryStore) Ping(_ context.Context) error { return nil }

func (s *MemoryStore) CreateJob(_ context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return ErrDuplicateKey
	}
	s.jobs[job.ID] = copyJob(job)
	return nil
}

func (s *MemoryStore) GetJob(_ context.Context, id uuid.UUID) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyJob(j), nil
}

func (s *MemoryStore) StartJob(_ context.Context, id uuid.UUID, now time.Time) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, err := s.transitionLocked(id, models.JobStatusRunning)
	if err != nil {
		return nil, err
	}
	deadline := now.Add(j.Timeout)
	j.Status = models.JobStatusRunning
	j.StartedAt = &now
	j.Deadline = &deadline
	j.UpdatedAt = now
	return copyJob(j), nil
}

func (s *MemoryStore) CompleteJob(_ context.Context, id uuid.UUID, analysis *models.Analysis) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, err := s.transitionLocked(id, models.JobStatusSucceeded)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if j.Deadline != nil && now.After(*j.Deadline) {
		return ErrJobExpired
	}
	analysis.JobID = id
	if analysis.ID == uuid.Nil {
		analysis.ID = uuid.New()
	}
	if analysis.CreatedAt.IsZero() {
		analysis.CreatedAt = now
	}
	if existing, ok := s.byJob[id]; ok {
		analysis.ID = existing
	} else {
		a := *analysis
		s.analyses[a.ID] = &a
		s.byJob[id] = a.ID
	}

	aid := analysis.ID
	j.Status = models.JobStatusSucceeded
	j.AnalysisID = &aid
	j.CompletedAt = &now
	j.UpdatedAt = now
	return nil
}

func (s *MemoryStore) FailJob(_ context.Context, id uuid.UUID, code, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, err := s.transitionLocked(id, models.JobStatusFailed)
	if err != nil {
		return err
	}
	failLocked(j, code, message, time.Now().UTC())
	return nil
}

func (s *MemoryStore) FailExpiredJobs(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, j := range s.jobs {
		if j.Status == models.JobStatusRunning && j.Deadline != nil && j.Deadline.Before(now) {
			failLocked(j, models.ErrorCodeTimeout, ExpiredJobMessage, now)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) DeleteJobsBefore(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, j := range s.jobs {
		if j.Terminal() && j.CompletedAt != nil && j.CompletedAt.Before(cutoff) {
			delete(s.jobs, id)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) GetAnalysis(_ context.Context, id uuid.UUID) (*models.Analysis, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.analyses[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) ListAnalyses(_ context.Context, filter AnalysisFilter) ([]*models.Analysis, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.sortedLocked()
	limit, offset := filter.normalize()
	if offset >= len(all) {
		return []*models.Analysis{}, len(all), nil
	}
	end := min(offset+limit, len(all))
	return all[offset:end], len(all), nil
}

func (s *MemoryStore) RecentAnalyses(_ context.Context, limit int) ([]*models.Analysis, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.sortedLocked()
	if limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

func (s *MemoryStore) DeleteAnalysis(_ context.Context, id uuid.UUID) (*models.Analysis, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.analyses[id]
	if !ok {
		return nil, ErrNotFound
	}
	delete(s.analyses, id)
	delete(s.byJob, a.JobID)
	for _, j := range s.jobs {
		if j.AnalysisID != nil && *j.AnalysisID == id {
			j.AnalysisID = nil
		}
	}
	return a, nil
}

func (s *MemoryStore) AnalysisStats(_ context.Context, since time.Time) (*models.AnalysisStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := &models.AnalysisStats{Total: len(s.analyses)}
	for _, a := range s.analyses {
		if !a.UploadedAt.Before(since) {
			st.Recent++
		}
	}
	return st, nil
}

func (s *MemoryStore) transitionLocked(id uuid.UUID, to string) (*models.Job, error) {
	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !canTransition(j.Status, to) {
		return nil, ErrJobTerminal
	}
	return j, nil
}

// sortedLocked returns copies of all analyses, newest upload first.
func (s *MemoryStore) sortedLocked() []*models.Analysis {
	all := make([]*models.Analysis, 0, len(s.analyses))
	for _, a := range s.analyses {
		cp := *a
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, k int) bool {
		if all[i].UploadedAt.Equal(all[k].UploadedAt) {
			return all[i].ID.String() < all[k].ID.String()
		}
		return all[i].UploadedAt.After(all[k].UploadedAt)
	})
	return all
}

func failLocked(j *models.Job, code, message string, now time.Time) {
	j.Status = models.JobStatusFailed
	j.ErrorCode = &code
	j.ErrorMessage = &message
	j.CompletedAt = &now
	j.UpdatedAt = now
}

func copyJob(j *models.Job) *models.Job {
	cp := *j
	return &cp
}

var _ Store = (*MemoryStore)(nil)
