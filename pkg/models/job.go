package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	JobStatusQueued    = "queued"
	JobStatusRunning   = "running"
	JobStatusSucceeded = "succeeded"
	JobStatusFailed    = "failed"
)

// Error codes recorded on failed jobs. The code decides the message shown
// to clients; ErrorMessage keeps the internal detail for operators.
const (
	ErrorCodeInvalidImage     = "invalid_image"
	ErrorCodeModelUnavailable = "model_unavailable"
	ErrorCodeInference        = "inference_error"
	ErrorCodeTimeout          = "timeout"
	ErrorCodeInternal         = "internal"
)

// Job tracks one inference request. The API returns the job id on
// POST /api/v1/jobs; the client polls GET /api/v1/jobs/{job_id} until the
// status is succeeded or failed. Only the worker that started the job
// (or the reaper, on timeout) mutates it.
type Job struct {
	ID           uuid.UUID     `db:"id"            json:"id"`
	ImagePath    string        `db:"image_path"    json:"image_path"`
	QueryText    *string       `db:"query_text"    json:"query_text,omitempty"`
	Status       string        `db:"status"        json:"status"`
	AnalysisID   *uuid.UUID    `db:"analysis_id"   json:"analysis_id,omitempty"`
	ErrorCode    *string       `db:"error_code"    json:"error_code,omitempty"`
	ErrorMessage *string       `db:"error_message" json:"-"`
	Timeout      time.Duration `db:"timeout_ms"    json:"timeout"`
	Deadline     *time.Time    `db:"deadline"      json:"deadline,omitempty"`
	StartedAt    *time.Time    `db:"started_at"    json:"started_at,omitempty"`
	CompletedAt  *time.Time    `db:"completed_at"  json:"completed_at,omitempty"`
	CreatedAt    time.Time     `db:"created_at"    json:"created_at"`
	UpdatedAt    time.Time     `db:"updated_at"    json:"updated_at"`
}

// Terminal reports whether the job reached a final state.
func (j *Job) Terminal() bool {
	return j.Status == JobStatusSucceeded || j.Status == JobStatusFailed
}
