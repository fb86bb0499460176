package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/NPRiteshReddy/DS.2-sub000/internal/api/response"
	"github.com/NPRiteshReddy/DS.2-sub000/pkg/models"
)

// PDFRenderer renders a completed review for download.
type PDFRenderer interface {
	ReviewPDF(ctx context.Context, job *models.Job) ([]byte, error)
}

type reviewStatus struct {
	ReviewID     string          `json:"review_id"`
	Status       string          `json:"status"`
	Progress     models.Progress `json:"progress"`
	QualityScore *float64        `json:"quality_score,omitempty"`
	ErrorMessage *string         `json:"error_message,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

type reviewSummary struct {
	ReviewID     string     `json:"review_id"`
	RepoURL      string     `json:"repo_url"`
	Status       string     `json:"status"`
	QualityScore *float64   `json:"quality_score,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

type reviewDetail struct {
	ReviewID string `json:"review_id"`
	RepoURL  string `json:"repo_url"`
	Status   string `json:"status"`
	models.ReviewResult
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func repoURL(job *models.Job) string {
	var in models.ReviewInput
	_ = json.Unmarshal(job.Input, &in)
	return in.RepoURL
}

// reviewResult decodes the stored result. ok is false until the job completes.
func reviewResult(job *models.Job) (models.ReviewResult, bool) {
	var res models.ReviewResult
	if job.Status != models.JobStatusCompleted || len(job.Result) == 0 {
		return res, false
	}
	if err := json.Unmarshal(job.Result, &res); err != nil {
		slog.Warn("decode review result", "job_id", job.ID, "error", err)
		return res, false
	}
	res.ApplyDefaults()
	return res, true
}

func qualityScore(job *models.Job) *float64 {
	res, ok := reviewResult(job)
	if !ok {
		return nil
	}
	return &res.QualityScore
}

// NewSubmitReviewHandler returns an http.HandlerFunc for POST /reviews.
func NewSubmitReviewHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, ok := requireOwner(w, r)
		if !ok {
			return
		}
		input, ok := decodeInput(w, r)
		if !ok {
			return
		}
		job, err := svc.Submit(r.Context(), ownerID, models.KindCodeReview, input)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.Created(w, map[string]string{
			"review_id": job.ID,
			"status":    submittedReviewStatus(job.Status),
		})
	}
}

// submittedReviewStatus is the status reported for a freshly accepted
// review. Review clients treat an accepted review as in progress, so a
// queued job is reported as processing.
func submittedReviewStatus(status string) string {
	if status == models.JobStatusQueued {
		return models.JobStatusProcessing
	}
	return status
}

// NewReviewStatusHandler returns an http.HandlerFunc for GET /reviews/{id}/status.
func NewReviewStatusHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, _, ok := loadJob(w, r, svc, isReview)
		if !ok {
			return
		}
		response.JSON(w, reviewStatus{
			ReviewID:     job.ID,
			Status:       job.Status,
			Progress:     job.Progress,
			QualityScore: qualityScore(job),
			ErrorMessage: job.ErrorMessage,
			CreatedAt:    job.CreatedAt,
			CompletedAt:  job.CompletedAt,
		})
	}
}

// NewReviewHandler returns an http.HandlerFunc for GET /reviews/{id}.
func NewReviewHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, ownerID, ok := loadJob(w, r, svc, isReview)
		if !ok {
			return
		}
		job, err := svc.Result(r.Context(), ownerID, job.ID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		res, _ := reviewResult(job)
		res.ApplyDefaults()
		response.JSON(w, reviewDetail{
			ReviewID:     job.ID,
			RepoURL:      repoURL(job),
			Status:       job.Status,
			ReviewResult: res,
			CreatedAt:    job.CreatedAt,
			CompletedAt:  job.CompletedAt,
		})
	}
}

// NewMyReviewsHandler returns an http.HandlerFunc for GET /reviews/mine.
func NewMyReviewsHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, ok := requireOwner(w, r)
		if !ok {
			return
		}
		list, err := svc.History(r.Context(), ownerID, models.KindCodeReview)
		if err != nil {
			writeError(w, r, err)
			return
		}
		reviews := make([]reviewSummary, 0, len(list))
		for _, job := range list {
			reviews = append(reviews, reviewSummary{
				ReviewID:     job.ID,
				RepoURL:      repoURL(job),
				Status:       job.Status,
				QualityScore: qualityScore(job),
				CreatedAt:    job.CreatedAt,
				CompletedAt:  job.CompletedAt,
			})
		}
		response.JSON(w, map[string]any{
			"reviews": reviews,
			"count":   len(reviews),
		})
	}
}

// NewReviewDownloadHandler returns an http.HandlerFunc for GET /reviews/{id}/download.
func NewReviewDownloadHandler(svc JobService, pdf PDFRenderer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, ownerID, ok := loadJob(w, r, svc, isReview)
		if !ok {
			return
		}
		job, err := svc.Result(r.Context(), ownerID, job.ID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		doc, err := pdf.ReviewPDF(r.Context(), job)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.Attachment(w, "application/pdf", "code-review-"+job.ID+".pdf", doc)
	}
}

// NewCancelReviewHandler returns an http.HandlerFunc for DELETE /reviews/{id}.
func NewCancelReviewHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, ownerID, ok := loadJob(w, r, svc, isReview)
		if !ok {
			return
		}
		job, err := svc.Cancel(r.Context(), ownerID, job.ID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, map[string]any{
			"review_id":        job.ID,
			"status":           job.Status,
			"cancel_requested": job.CancelRequested,
		})
	}
}
