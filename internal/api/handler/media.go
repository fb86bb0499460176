package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/NPRiteshReddy/DS.2-sub000/internal/api/response"
	"github.com/NPRiteshReddy/DS.2-sub000/pkg/models"
)

type jobStatus struct {
	JobID        string          `json:"job_id"`
	Kind         models.JobKind  `json:"kind"`
	Status       string          `json:"status"`
	Progress     models.Progress `json:"progress"`
	ErrorMessage *string         `json:"error_message,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

func newJobStatus(job *models.Job) jobStatus {
	return jobStatus{
		JobID:        job.ID,
		Kind:         job.Kind,
		Status:       job.Status,
		Progress:     job.Progress,
		ErrorMessage: job.ErrorMessage,
		CreatedAt:    job.CreatedAt,
		CompletedAt:  job.CompletedAt,
	}
}

type mediaDetail struct {
	JobID  string         `json:"job_id"`
	Kind   models.JobKind `json:"kind"`
	Status string         `json:"status"`
	models.MediaResult
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewSubmitMediaHandler returns an http.HandlerFunc for POST /media/video and
// POST /media/audio.
func NewSubmitMediaHandler(svc JobService, kind models.JobKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, ok := requireOwner(w, r)
		if !ok {
			return
		}
		input, ok := decodeInput(w, r)
		if !ok {
			return
		}
		job, err := svc.Submit(r.Context(), ownerID, kind, input)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.Created(w, map[string]string{
			"job_id": job.ID,
			"status": job.Status,
		})
	}
}

// NewMediaStatusHandler returns an http.HandlerFunc for GET /media/{id}/status.
func NewMediaStatusHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, _, ok := loadJob(w, r, svc, isMedia)
		if !ok {
			return
		}
		response.JSON(w, newJobStatus(job))
	}
}

// NewMediaHandler returns an http.HandlerFunc for GET /media/{id}.
func NewMediaHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, ownerID, ok := loadJob(w, r, svc, isMedia)
		if !ok {
			return
		}
		job, err := svc.Result(r.Context(), ownerID, job.ID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		var res models.MediaResult
		if err := json.Unmarshal(job.Result, &res); err != nil {
			slog.Warn("decode media result", "job_id", job.ID, "error", err)
		}
		response.JSON(w, mediaDetail{
			JobID:       job.ID,
			Kind:        job.Kind,
			Status:      job.Status,
			MediaResult: res,
			CreatedAt:   job.CreatedAt,
			CompletedAt: job.CompletedAt,
		})
	}
}

// NewCancelMediaHandler returns an http.HandlerFunc for DELETE /media/{id}.
func NewCancelMediaHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, ownerID, ok := loadJob(w, r, svc, isMedia)
		if !ok {
			return
		}
		job, err := svc.Cancel(r.Context(), ownerID, job.ID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, map[string]any{
			"job_id":           job.ID,
			"status":           job.Status,
			"cancel_requested": job.CancelRequested,
		})
	}
}

// NewHistoryHandler returns an http.HandlerFunc for GET /jobs. The optional
// kind query parameter narrows the list.
func NewHistoryHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, ok := requireOwner(w, r)
		if !ok {
			return
		}
		list, err := svc.History(r.Context(), ownerID, models.JobKind(r.URL.Query().Get("kind")))
		if err != nil {
			writeError(w, r, err)
			return
		}
		out := make([]jobStatus, 0, len(list))
		for _, job := range list {
			out = append(out, newJobStatus(job))
		}
		response.JSON(w, map[string]any{
			"jobs":  out,
			"count": len(out),
		})
	}
}
