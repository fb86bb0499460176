// Package jobs is the API tier's view of asynchronous jobs: submission with
// the daily quota gate, status polling, results, cancellation and history.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/NPRiteshReddy/DS.2-sub000/internal/cache"
	"github.com/NPRiteshReddy/DS.2-sub000/internal/config"
	"github.com/NPRiteshReddy/DS.2-sub000/internal/queue"
	"github.com/NPRiteshReddy/DS.2-sub000/internal/store"
	"github.com/NPRiteshReddy/DS.2-sub000/pkg/models"
	"github.com/google/uuid"
)

var (
	ErrValidation       = errors.New("invalid job input")
	ErrQuotaExceeded    = store.ErrQuotaExceeded
	ErrSubmissionFailed = errors.New("job submission failed")
	ErrNotFound         = store.ErrNotFound
	ErrNotReady         = errors.New("job result not ready")
)

// HistoryLimit is the number of jobs History returns.
const HistoryLimit = 50

// SnapshotTTL is how long a terminal job is served from the cache.
const SnapshotTTL = 10 * time.Minute

// QuotaError reports a submission over the daily cap.
type QuotaError struct {
	Kind     models.JobKind
	Cap      int
	ResetsOn time.Time
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("daily limit of %d %s jobs reached; try again on %s (UTC)",
		e.Cap, e.Kind, e.ResetsOn.Format(time.DateOnly))
}

func (e *QuotaError) Unwrap() error { return ErrQuotaExceeded }

// NotReadyError is returned by Result for jobs that have not completed.
type NotReadyError struct {
	Status string
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("job is %s", e.Status)
}

func (e *NotReadyError) Unwrap() error { return ErrNotReady }

// Store is the part of the job store the service uses.
type Store interface {
	CreateJobWithinQuota(ctx context.Context, job *models.Job, dailyCap int) error
	GetJob(ctx context.Context, id, ownerID string) (*models.Job, error)
	ListJobs(ctx context.Context, filter store.ListFilter) ([]*models.Job, error)
	DeleteJob(ctx context.Context, id, ownerID string) error
	RequestCancel(ctx context.Context, id, ownerID string) (*models.Job, error)
}

type Service struct {
	store  Store
	queue  queue.Queue
	cache  cache.Cache
	queues config.QueueConfig
	quota  config.QuotaConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates a Service. c may be nil to disable status snapshots.
func NewService(st Store, q queue.Queue, c cache.Cache, queues config.QueueConfig, quota config.QuotaConfig, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, queue: q, cache: c, queues: queues, quota: quota, logger: logger, now: time.Now}
}

// Submit validates input, applies the daily quota, records the job as
// queued and enqueues it. A job that cannot be enqueued is deleted again.
func (s *Service) Submit(ctx context.Context, ownerID string, kind models.JobKind, input json.RawMessage) (*models.Job, error) {
	if !kind.Valid() {
		return nil, &ValidationError{Message: fmt.Sprintf("unknown job kind %q", kind)}
	}
	normalized, err := normalizeInput(kind, input)
	if err != nil {
		return nil, err
	}
	name, err := queue.NameFor(kind)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	job := &models.Job{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Kind:      kind,
		Input:     normalized,
		Status:    models.JobStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}

	dailyCap := s.quota.DailyCap(string(kind))
	if err := s.store.CreateJobWithinQuota(ctx, job, dailyCap); err != nil {
		if errors.Is(err, store.ErrQuotaExceeded) {
			return nil, &QuotaError{Kind: kind, Cap: dailyCap, ResetsOn: store.UTCDate(now).AddDate(0, 0, 1)}
		}
		return nil, fmt.Errorf("create job: %w", err)
	}

	msg := queue.Message{JobID: job.ID, OwnerID: ownerID, Kind: kind, Input: normalized}
	if err := s.queue.Submit(ctx, name, msg, queue.OptionsFor(kind, s.queues)); err != nil {
		if delErr := s.store.DeleteJob(context.WithoutCancel(ctx), job.ID, ownerID); delErr != nil {
			s.logger.Error("roll back unqueued job", "job_id", job.ID, "error", delErr)
		}
		return nil, fmt.Errorf("%w: %w", ErrSubmissionFailed, err)
	}

	s.logger.Info("job submitted", "job_id", job.ID, "owner_id", ownerID, "kind", kind, "queue", name)
	return job, nil
}

// Status returns the job. Terminal jobs are served from the cache when possible.
func (s *Service) Status(ctx context.Context, ownerID, id string) (*models.Job, error) {
	if s.cache != nil {
		job, ok, err := s.cache.GetJobSnapshot(ctx, ownerID, id)
		if err != nil {
			s.logger.Debug("job snapshot lookup", "job_id", id, "error", err)
		}
		if ok {
			return job, nil
		}
	}

	job, err := s.store.GetJob(ctx, id, ownerID)
	if err != nil {
		return nil, err
	}
	if s.cache != nil && job.IsTerminal() {
		if err := s.cache.SetJobSnapshot(ctx, job, SnapshotTTL); err != nil {
			s.logger.Debug("job snapshot store", "job_id", id, "error", err)
		}
	}
	return job, nil
}

// Result returns the completed job, or a *NotReadyError naming its status.
func (s *Service) Result(ctx context.Context, ownerID, id string) (*models.Job, error) {
	job, err := s.Status(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if job.Status != models.JobStatusCompleted {
		return nil, &NotReadyError{Status: job.Status}
	}
	return job, nil
}

// Cancel cancels a queued or retry-pending job and removes it from its queue.
// A processing job is marked and stops at its next stage boundary. Terminal
// jobs are returned unchanged.
func (s *Service) Cancel(ctx context.Context, ownerID, id string) (*models.Job, error) {
	job, err := s.store.RequestCancel(ctx, id, ownerID)
	if err != nil {
		return nil, err
	}
	if job.Status == models.JobStatusCancelled {
		name, err := queue.NameFor(job.Kind)
		if err == nil {
			if _, err := s.queue.Cancel(ctx, name, job.ID); err != nil {
				// The worker drops deliveries of cancelled jobs anyway.
				s.logger.Warn("remove cancelled job from queue", "job_id", job.ID, "error", err)
			}
		}
	}
	s.logger.Info("job cancel requested", "job_id", id, "owner_id", ownerID, "status", job.Status)
	return job, nil
}

// History returns the owner's most recent jobs, newest first. A zero kind
// includes every kind.
func (s *Service) History(ctx context.Context, ownerID string, kind models.JobKind) ([]*models.Job, error) {
	if kind != "" && !kind.Valid() {
		return nil, &ValidationError{Message: fmt.Sprintf("unknown job kind %q", kind)}
	}
	return s.store.ListJobs(ctx, store.ListFilter{OwnerID: ownerID, Kind: kind, Limit: HistoryLimit})
}
