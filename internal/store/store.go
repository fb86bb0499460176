package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/NPRiteshReddy/DS.2-sub000/pkg/models"
	"github.com/google/uuid"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")
var ErrInvalidTransition = errors.New("invalid job status transition")
var ErrQuotaExceeded = errors.New("daily quota exceeded")

// MaxErrorMessageLen caps the stored error_message of failed jobs.
const MaxErrorMessageLen = 2000

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error

	CreateJob(ctx context.Context, job *models.Job) error
	CreateJobWithinQuota(ctx context.Context, job *models.Job, dailyCap int) error
	GetJob(ctx context.Context, id, ownerID string) (*models.Job, error)
	ListJobs(ctx context.Context, filter ListFilter) ([]*models.Job, error)
	DeleteJob(ctx context.Context, id, ownerID string) error
	ListProcessingJobIDs(ctx context.Context) ([]string, error)

	UpdateJobStatus(ctx context.Context, id, status string, opts ...JobUpdateOption) error
	UpdateProgress(ctx context.Context, id string, progress models.Progress) error
	RecordResult(ctx context.Context, id string, result json.RawMessage, opts ...JobUpdateOption) error
	RecordFailure(ctx context.Context, id, message string, retryPending bool, opts ...JobUpdateOption) error
	RequestCancel(ctx context.Context, id, ownerID string) (*models.Job, error)

	CheckQuota(ctx context.Context, ownerID string, kind models.JobKind, date time.Time, dailyCap int) (bool, error)
	IncrementQuota(ctx context.Context, jobID, ownerID string, kind models.JobKind, date time.Time) error
	IncrementReviewCounter(ctx context.Context, ownerID string) error
}

// ListFilter narrows ListJobs. A zero Kind matches every kind.
type ListFilter struct {
	OwnerID string
	Kind    models.JobKind
	Limit   int
}

// JobUpdate is the resolved form of a set of JobUpdateOptions.
type JobUpdate struct {
	ErrorMessage    *string
	Result          json.RawMessage
	Progress        *models.Progress
	Attempt         *int
	ExpectedAttempt *int
	RetryPending    *bool
}

type JobUpdateOption func(*JobUpdate)

// NewJobUpdate applies opts in order.
func NewJobUpdate(opts ...JobUpdateOption) JobUpdate {
	var u JobUpdate
	for _, opt := range opts {
		opt(&u)
	}
	return u
}

func WithErrorMessage(msg string) JobUpdateOption {
	return func(p *JobUpdate) {
		p.ErrorMessage = &msg
	}
}

func WithResult(result json.RawMessage) JobUpdateOption {
	return func(p *JobUpdate) {
		p.Result = result
	}
}

func WithProgress(step int, message string) JobUpdateOption {
	return func(p *JobUpdate) {
		p.Progress = &models.Progress{Step: step, Message: message}
	}
}

// WithAttempt records the delivery number entering processing. A new
// attempt number resets progress.
func WithAttempt(n int) JobUpdateOption {
	return func(p *JobUpdate) {
		p.Attempt = &n
	}
}

// WithExpectedAttempt makes the update apply only while the row still
// belongs to attempt n. A row taken over by a later delivery yields
// ErrInvalidTransition.
func WithExpectedAttempt(n int) JobUpdateOption {
	return func(p *JobUpdate) {
		p.ExpectedAttempt = &n
	}
}

// WithRetryPending marks a failed job as awaiting redelivery.
func WithRetryPending(pending bool) JobUpdateOption {
	return func(p *JobUpdate) {
		p.RetryPending = &pending
	}
}

// validTransitions defines allowed state machine transitions. Transitions
// out of failed additionally require retry_pending.
var validTransitions = map[string][]string{
	models.JobStatusQueued:     {models.JobStatusProcessing, models.JobStatusFailed, models.JobStatusCancelled},
	models.JobStatusProcessing: {models.JobStatusProcessing, models.JobStatusCompleted, models.JobStatusFailed, models.JobStatusCancelled},
	models.JobStatusFailed:     {models.JobStatusProcessing, models.JobStatusFailed, models.JobStatusCancelled},
}

// TransitionAllowed reports whether a job in status from may move to status to.
func TransitionAllowed(from, to string, retryPending bool) bool {
	if from == models.JobStatusFailed && !retryPending {
		return false
	}
	for _, a := range validTransitions[from] {
		if a == to {
			return true
		}
	}
	return false
}

// UTCDate truncates t to midnight UTC.
func UTCDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
