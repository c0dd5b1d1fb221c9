package handler

import (
	"context"
	"net/http"

	"github.com/kiranshivaraju/captioner/internal/api/response"
)

// Pinger is anything whose reachability the health check reports.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ModelChecker reports whether the model handle has failed to load.
// A nil ModelChecker means the process hosts no model.
type ModelChecker interface {
	Ready(ctx context.Context) error
}

// QueueDepth reports the backlog shown on the health payload.
type QueueDepth interface {
	Depth(ctx context.Context) (pending, processing int64, err error)
}

// NewHealthHandler checks database, cache, queue and model readiness.
// q and m may be nil.
func NewHealthHandler(db, c Pinger, q QueueDepth, m ModelChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}

		if err := db.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := c.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}
		var backlog map[string]int64
		if q != nil {
			checks["queue"] = "ok"
			pending, processing, err := q.Depth(r.Context())
			if err != nil {
				checks["queue"] = "degraded"
			} else {
				backlog = map[string]int64{"pending": pending, "processing": processing}
			}
		}
		if m != nil {
			checks["model"] = "ok"
			if err := m.Ready(r.Context()); err != nil {
				checks["model"] = "unavailable"
			}
		}

		for _, v := range checks {
			if v != "ok" {
				response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
					"One or more services degraded", checks)
				return
			}
		}

		body := map[string]any{
			"status":   "ok",
			"services": checks,
		}
		if backlog != nil {
			body["queue"] = backlog
		}
		response.JSON(w, body)
	}
}
