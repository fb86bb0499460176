// Package handler implements the HTTP endpoints of the API tier. Every
// endpoint is owner scoped: a job belonging to someone else is reported as
// not found.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/NPRiteshReddy/DS.2-sub000/internal/api/middleware"
	"github.com/NPRiteshReddy/DS.2-sub000/internal/api/response"
	"github.com/NPRiteshReddy/DS.2-sub000/internal/jobs"
	"github.com/NPRiteshReddy/DS.2-sub000/internal/report"
	"github.com/NPRiteshReddy/DS.2-sub000/pkg/models"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const maxBodyBytes = 64 << 10

// JobService defines the interface the handlers depend on.
type JobService interface {
	Submit(ctx context.Context, ownerID string, kind models.JobKind, input json.RawMessage) (*models.Job, error)
	Status(ctx context.Context, ownerID, id string) (*models.Job, error)
	Result(ctx context.Context, ownerID, id string) (*models.Job, error)
	Cancel(ctx context.Context, ownerID, id string) (*models.Job, error)
	History(ctx context.Context, ownerID string, kind models.JobKind) ([]*models.Job, error)
}

func requireOwner(w http.ResponseWriter, r *http.Request) (string, bool) {
	ownerID, ok := middleware.GetOwnerID(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing owner", nil)
	}
	return ownerID, ok
}

func decodeInput(w http.ResponseWriter, r *http.Request) (json.RawMessage, bool) {
	var raw json.RawMessage
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&raw); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Error(w, http.StatusRequestEntityTooLarge, "INVALID_REQUEST", "Request body too large", nil)
			return nil, false
		}
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
		return nil, false
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
		return nil, false
	}
	return raw, true
}

// loadJob reads the job named by the {id} route parameter and checks that it
// is of a kind the route serves.
func loadJob(w http.ResponseWriter, r *http.Request, svc JobService, serves func(models.JobKind) bool) (*models.Job, string, bool) {
	ownerID, ok := requireOwner(w, r)
	if !ok {
		return nil, "", false
	}
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, r, jobs.ErrNotFound)
		return nil, "", false
	}
	job, err := svc.Status(r.Context(), ownerID, id)
	if err != nil {
		writeError(w, r, err)
		return nil, "", false
	}
	if !serves(job.Kind) {
		writeError(w, r, jobs.ErrNotFound)
		return nil, "", false
	}
	return job, ownerID, true
}

func isReview(k models.JobKind) bool { return k == models.KindCodeReview }
func isMedia(k models.JobKind) bool  { return k.IsMedia() }

// writeError maps service errors to status codes.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		invalid  *jobs.ValidationError
		quota    *jobs.QuotaError
		notReady *jobs.NotReadyError
	)
	switch {
	case errors.As(err, &invalid):
		var details any
		if len(invalid.Fields) > 0 {
			details = invalid.Fields
		}
		response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", invalid.Message, details)
	case errors.Is(err, jobs.ErrValidation):
		response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
	case errors.As(err, &quota):
		retry := time.Until(quota.ResetsOn)
		if retry < time.Second {
			retry = time.Second
		}
		w.Header().Set("Retry-After", strconv.Itoa(int(retry.Seconds())))
		response.Error(w, http.StatusTooManyRequests, "QUOTA_EXCEEDED", quota.Error(), map[string]any{
			"kind":      quota.Kind,
			"limit":     quota.Cap,
			"resets_on": quota.ResetsOn.Format(time.DateOnly),
		})
	case errors.Is(err, jobs.ErrNotFound):
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Job not found", nil)
	case errors.As(err, &notReady):
		response.Error(w, http.StatusConflict, "NOT_READY",
			fmt.Sprintf("Result is not available while the job is %s", notReady.Status),
			map[string]string{"status": notReady.Status})
	case errors.Is(err, report.ErrNoResult):
		response.Error(w, http.StatusConflict, "NOT_READY", "Review has no result to export", nil)
	case errors.Is(err, jobs.ErrSubmissionFailed):
		response.Error(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE",
			"The job queue is unavailable; try again shortly", nil)
	default:
		slog.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
	}
}
