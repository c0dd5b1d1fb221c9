package job

import (
	"encoding/json"

	"github.com/google/uuid"
)

// StatusView is what a status poll returns. Which fields are present
// depends on Status.
type StatusView struct {
	JobID         uuid.UUID  `json:"job_id"`
	Status        string     `json:"status"`
	Error         string     `json:"error,omitempty"`
	AnalysisID    *uuid.UUID `json:"analysis_id,omitempty"`
	ImageURL      string     `json:"image_url,omitempty"`
	DisplayURL    string     `json:"display_url,omitempty"`
	ShortCaption  string     `json:"short_caption,omitempty"`
	NormalCaption string     `json:"normal_caption,omitempty"`
	QueryResult   *string    `json:"query_result,omitempty"`
}

type statusAlias StatusView

// cached returns v in a form whose JSON decodes back into an equal view.
func (v *StatusView) cached() *statusAlias {
	return (*statusAlias)(v)
}

// MarshalJSON writes only the fields for v's status. A completed view
// always carries query_result, null when no question was asked.
func (v StatusView) MarshalJSON() ([]byte, error) {
	switch v.Status {
	case StatusCompleted:
		return json.Marshal(struct {
			JobID         uuid.UUID  `json:"job_id"`
			Status        string     `json:"status"`
			AnalysisID    *uuid.UUID `json:"analysis_id"`
			ImageURL      string     `json:"image_url"`
			DisplayURL    string     `json:"display_url"`
			ShortCaption  string     `json:"short_caption"`
			NormalCaption string     `json:"normal_caption"`
			QueryResult   *string    `json:"query_result"`
		}{v.JobID, v.Status, v.AnalysisID, v.ImageURL, v.DisplayURL, v.ShortCaption, v.NormalCaption, v.QueryResult})
	case StatusFailed:
		return json.Marshal(struct {
			JobID  uuid.UUID `json:"job_id"`
			Status string    `json:"status"`
			Error  string    `json:"error"`
		}{v.JobID, v.Status, v.Error})
	default:
		return json.Marshal(struct {
			JobID  uuid.UUID `json:"job_id"`
			Status string    `json:"status"`
		}{v.JobID, v.Status})
	}
}
