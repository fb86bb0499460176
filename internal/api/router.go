package api

import (
	"net/http"

	"github.com/NPRiteshReddy/DS.2-sub000/internal/api/middleware"
	"github.com/NPRiteshReddy/DS.2-sub000/internal/api/response"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *middleware.Auth
	RateLimit *middleware.RateLimit

	HealthHandler http.HandlerFunc

	SubmitReviewHandler   http.HandlerFunc
	ReviewStatusHandler   http.HandlerFunc
	ReviewHandler         http.HandlerFunc
	MyReviewsHandler      http.HandlerFunc
	ReviewDownloadHandler http.HandlerFunc
	CancelReviewHandler   http.HandlerFunc

	SubmitVideoHandler http.HandlerFunc
	SubmitAudioHandler http.HandlerFunc
	MediaStatusHandler http.HandlerFunc
	MediaHandler       http.HandlerFunc
	CancelMediaHandler http.HandlerFunc

	HistoryHandler http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recovery)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		response.Error(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	// Public health check
	r.Get("/health", orNotImplemented(deps.HealthHandler))

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Route("/reviews", func(r chi.Router) {
			r.Post("/", orNotImplemented(deps.SubmitReviewHandler))
			r.Get("/mine", orNotImplemented(deps.MyReviewsHandler))
			r.Get("/{id}", orNotImplemented(deps.ReviewHandler))
			r.Get("/{id}/status", orNotImplemented(deps.ReviewStatusHandler))
			r.Get("/{id}/download", orNotImplemented(deps.ReviewDownloadHandler))
			r.Delete("/{id}", orNotImplemented(deps.CancelReviewHandler))
		})

		r.Route("/media", func(r chi.Router) {
			r.Post("/video", orNotImplemented(deps.SubmitVideoHandler))
			r.Post("/audio", orNotImplemented(deps.SubmitAudioHandler))
			r.Get("/{id}", orNotImplemented(deps.MediaHandler))
			r.Get("/{id}/status", orNotImplemented(deps.MediaStatusHandler))
			r.Delete("/{id}", orNotImplemented(deps.CancelMediaHandler))
		})

		r.Get("/jobs", orNotImplemented(deps.HistoryHandler))
	})

	return r
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
