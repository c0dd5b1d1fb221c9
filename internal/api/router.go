package api

import (
	"net/http"
	"net/netip"
	"strings"

	"github.com/go-chi/chi/v5"

	mw "github.com/kiranshivaraju/captioner/internal/api/middleware"
	"github.com/kiranshivaraju/captioner/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	RateLimit *mw.RateLimit
	// TrustedProxies may set the client address through X-Forwarded-For.
	TrustedProxies []netip.Prefix

	HealthHandler  http.HandlerFunc
	SubmitHandler  http.HandlerFunc
	StatusHandler  http.HandlerFunc
	ListAnalyses   http.HandlerFunc
	RecentAnalyses http.HandlerFunc
	AnalysisStats  http.HandlerFunc
	GetAnalysis    http.HandlerFunc
	DeleteAnalysis http.HandlerFunc

	// MediaDir is served read-only under MediaURL when both are set.
	MediaDir string
	MediaURL string
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.ClientAddr(deps.TrustedProxies))
	r.Use(mw.RequestID)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	r.Group(func(r chi.Router) {
		if deps.RateLimit != nil {
			r.Use(deps.RateLimit.Limit)
		}

		submit := orNotImplemented(deps.SubmitHandler)
		r.Post("/api/v1/jobs", submit)
		r.Post("/process-image", submit)
		r.Post("/blog/process-image", submit)
	})

	r.Get("/api/v1/jobs/{jobID}", orNotImplemented(deps.StatusHandler))

	r.Get("/api/v1/analyses", orNotImplemented(deps.ListAnalyses))
	r.Get("/api/v1/analyses/recent", orNotImplemented(deps.RecentAnalyses))
	r.Get("/api/v1/analyses/stats", orNotImplemented(deps.AnalysisStats))
	r.Get("/api/v1/analyses/{analysisID}", orNotImplemented(deps.GetAnalysis))
	r.Delete("/api/v1/analyses/{analysisID}", orNotImplemented(deps.DeleteAnalysis))

	if deps.MediaDir != "" && deps.MediaURL != "" {
		prefix := strings.TrimSuffix(deps.MediaURL, "/")
		r.Handle(prefix+"/*", http.StripPrefix(prefix, noDirListing(http.FileServer(http.Dir(deps.MediaDir)))))
	}

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Resource not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		response.Error(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	return r
}

// noDirListing hides directory indexes from the media file server.
func noDirListing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/") {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Resource not found", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
