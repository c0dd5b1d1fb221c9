package models

import (
	"time"

	"github.com/google/uuid"
)

// Analysis is the persisted outcome of a successfully completed job.
// Exactly one exists per job; it is never updated, only deleted.
type Analysis struct {
	ID            uuid.UUID `db:"id"             json:"id"`
	JobID         uuid.UUID `db:"job_id"         json:"job_id"`
	ImagePath     string    `db:"image_path"     json:"image_path"`
	DisplayPath   string    `db:"display_path"   json:"display_path"`
	Fingerprint   string    `db:"fingerprint"    json:"fingerprint"`
	UploadedAt    time.Time `db:"uploaded_at"    json:"uploaded_at"`
	ShortCaption  string    `db:"short_caption"  json:"short_caption"`
	NormalCaption string    `db:"normal_caption" json:"normal_caption"`
	QueryText     *string   `db:"query_text"     json:"query_text,omitempty"`
	QueryResult   *string   `db:"query_result"   json:"query_result,omitempty"`
	CreatedAt     time.Time `db:"created_at"     json:"created_at"`
}

// AnalysisStats summarizes the analysis store for dashboards.
type AnalysisStats struct {
	Total  int `json:"total"`
	Recent int `json:"recent"`
}
