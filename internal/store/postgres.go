package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/captioner/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Jobs ---

const jobColumns = `id, image_path, query_text, status, analysis_id, error_code, error_message,
	timeout_ms, deadline, started_at, completed_at, created_at, updated_at`

func scanJob(row pgx.Row) (*models.Job, error) {
	var j models.Job
	var timeoutMS int64
	err := row.Scan(&j.ID, &j.ImagePath, &j.QueryText, &j.Status, &j.AnalysisID, &j.ErrorCode,
		&j.ErrorMessage, &timeoutMS, &j.Deadline, &j.StartedAt, &j.CompletedAt, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	j.Timeout = time.Duration(timeoutMS) * time.Millisecond
	return &j, nil
}

func (s *PostgresStore) CreateJob(ctx context.Context, job *models.Job) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO jobs (id, image_path, query_text, status, timeout_ms, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		job.ID, job.ImagePath, job.QueryText, job.Status, job.Timeout.Milliseconds(), job.CreatedAt, job.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

// StartJob moves a queued job to running and fixes its deadline.
func (s *PostgresStore) StartJob(ctx context.Context, id uuid.UUID, now time.Time) (*models.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx,
		`UPDATE jobs SET status = $2, started_at = $3, updated_at = $3,
		   deadline = $3 + timeout_ms * INTERVAL '1 millisecond'
		 WHERE id = $1 AND status = ANY($4)
		 RETURNING `+jobColumns,
		id, models.JobStatusRunning, now, validTransitions[models.JobStatusRunning]))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, s.transitionError(ctx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("start job: %w", err)
	}
	return j, nil
}

// CompleteJob records the analysis and marks the job succeeded in one
// transaction. Nothing is written when the job is no longer running.
func (s *PostgresStore) CompleteJob(ctx context.Context, id uuid.UUID, analysis *models.Analysis) error {
	now := time.Now().UTC()
	if analysis.ID == uuid.Nil {
		analysis.ID = uuid.New()
	}
	if analysis.CreatedAt.IsZero() {
		analysis.CreatedAt = now
	}
	analysis.JobID = id

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var status string
		var deadline *time.Time
		err := tx.QueryRow(ctx, `SELECT status, deadline FROM jobs WHERE id = $1 FOR UPDATE`, id).Scan(&status, &deadline)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock job: %w", err)
		}
		if !canTransition(status, models.JobStatusSucceeded) {
			return ErrJobTerminal
		}
		if deadline != nil && now.After(*deadline) {
			return ErrJobExpired
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO analyses (id, job_id, image_path, display_path, fingerprint, uploaded_at,
			   short_caption, normal_caption, query_text, query_result, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			 ON CONFLICT (job_id) DO NOTHING`,
			analysis.ID, analysis.JobID, analysis.ImagePath, analysis.DisplayPath, analysis.Fingerprint,
			analysis.UploadedAt, analysis.ShortCaption, analysis.NormalCaption, analysis.QueryText,
			analysis.QueryResult, analysis.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert analysis: %w", err)
		}
		if err := tx.QueryRow(ctx, `SELECT id FROM analyses WHERE job_id = $1`, id).Scan(&analysis.ID); err != nil {
			return fmt.Errorf("read analysis id: %w", err)
		}

		_, err = tx.Exec(ctx,
			`UPDATE jobs SET status = $2, analysis_id = $3, completed_at = $4, updated_at = $4
			 WHERE id = $1`,
			id, models.JobStatusSucceeded, analysis.ID, now)
		if err != nil {
			return fmt.Errorf("mark job succeeded: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrJobTerminal) || errors.Is(err, ErrNotFound) || errors.Is(err, ErrJobExpired) {
			return err
		}
		return fmt.Errorf("complete job: %w", err)
	}
	return nil
}

func (s *PostgresStore) FailJob(ctx context.Context, id uuid.UUID, code, message string) error {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $2, error_code = $3, error_message = $4, completed_at = $5, updated_at = $5
		 WHERE id = $1 AND status = ANY($6)`,
		id, models.JobStatusFailed, code, message, now, validTransitions[models.JobStatusFailed])
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionError(ctx, id)
	}
	return nil
}

// FailExpiredJobs fails running jobs whose deadline has passed.
func (s *PostgresStore) FailExpiredJobs(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $1, error_code = $2, error_message = $3, completed_at = $4, updated_at = $4
		 WHERE status = $5 AND deadline < $4`,
		models.JobStatusFailed, models.ErrorCodeTimeout, ExpiredJobMessage, now, models.JobStatusRunning)
	if err != nil {
		return 0, fmt.Errorf("fail expired jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// DeleteJobsBefore purges terminal jobs completed before cutoff. Analyses are kept.
func (s *PostgresStore) DeleteJobsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM jobs WHERE status IN ($1, $2) AND completed_at < $3`,
		models.JobStatusSucceeded, models.JobStatusFailed, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// transitionError distinguishes a missing job from one in the wrong state.
func (s *PostgresStore) transitionError(ctx context.Context, id uuid.UUID) error {
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM jobs WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check job: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrJobTerminal
}

// --- Analyses ---

const analysisColumns = `id, job_id, image_path, display_path, fingerprint, uploaded_at,
	short_caption, normal_caption, query_text, query_result, created_at`

func scanAnalysis(row pgx.Row) (*models.Analysis, error) {
	var a models.Analysis
	err := row.Scan(&a.ID, &a.JobID, &a.ImagePath, &a.DisplayPath, &a.Fingerprint, &a.UploadedAt,
		&a.ShortCaption, &a.NormalCaption, &a.QueryText, &a.QueryResult, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *PostgresStore) GetAnalysis(ctx context.Context, id uuid.UUID) (*models.Analysis, error) {
	a, err := scanAnalysis(s.pool.QueryRow(ctx, `SELECT `+analysisColumns+` FROM analyses WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get analysis: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) ListAnalyses(ctx context.Context, filter AnalysisFilter) ([]*models.Analysis, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM analyses`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count analyses: %w", err)
	}

	limit, offset := filter.normalize()
	list, err := s.queryAnalyses(ctx,
		`SELECT `+analysisColumns+` FROM analyses ORDER BY uploaded_at DESC, id LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list analyses: %w", err)
	}
	return list, total, nil
}

func (s *PostgresStore) RecentAnalyses(ctx context.Context, limit int) ([]*models.Analysis, error) {
	list, err := s.queryAnalyses(ctx,
		`SELECT `+analysisColumns+` FROM analyses ORDER BY uploaded_at DESC, id LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent analyses: %w", err)
	}
	return list, nil
}

func (s *PostgresStore) queryAnalyses(ctx context.Context, query string, args ...any) ([]*models.Analysis, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := []*models.Analysis{}
	for rows.Next() {
		a, err := scanAnalysis(rows)
		if err != nil {
			return nil, fmt.Errorf("scan analysis: %w", err)
		}
		list = append(list, a)
	}
	return list, rows.Err()
}

func (s *PostgresStore) DeleteAnalysis(ctx context.Context, id uuid.UUID) (*models.Analysis, error) {
	a, err := scanAnalysis(s.pool.QueryRow(ctx,
		`DELETE FROM analyses WHERE id = $1 RETURNING `+analysisColumns, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("delete analysis: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) AnalysisStats(ctx context.Context, since time.Time) (*models.AnalysisStats, error) {
	var st models.AnalysisStats
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*), COUNT(*) FILTER (WHERE uploaded_at >= $1) FROM analyses`, since,
	).Scan(&st.Total, &st.Recent)
	if err != nil {
		return nil, fmt.Errorf("analysis stats: %w", err)
	}
	return &st, nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

var _ Store = (*PostgresStore)(nil)
