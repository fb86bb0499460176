// Package worker consumes the job queues: it drives one reservation through
// its pipeline and supervises the per-queue worker loops.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/NPRiteshReddy/DS.2-sub000/internal/artifacts"
	"github.com/NPRiteshReddy/DS.2-sub000/internal/events"
	"github.com/NPRiteshReddy/DS.2-sub000/internal/pipeline"
	"github.com/NPRiteshReddy/DS.2-sub000/internal/queue"
	"github.com/NPRiteshReddy/DS.2-sub000/internal/store"
	"github.com/NPRiteshReddy/DS.2-sub000/pkg/models"
)

// JobStore is the part of the job store the worker tier uses.
type JobStore interface {
	GetJob(ctx context.Context, id, ownerID string) (*models.Job, error)
	UpdateJobStatus(ctx context.Context, id, status string, opts ...store.JobUpdateOption) error
	UpdateProgress(ctx context.Context, id string, progress models.Progress) error
	RecordFailure(ctx context.Context, id, message string, retryPending bool, opts ...store.JobUpdateOption) error
	ListProcessingJobIDs(ctx context.Context) ([]string, error)
}

// Outcomes recorded with a completed reservation.
const (
	OutcomeCompleted  = "completed"
	OutcomeCancelled  = "cancelled"
	OutcomeSkipped    = "skipped"
	OutcomeSuperseded = "superseded"
)

// statusRetrying is reported on terminal events of attempts that will be redelivered.
const statusRetrying = "retrying"

// Driver runs reservations through the pipeline registered for their kind.
type Driver struct {
	queue         queue.Queue
	store         JobStore
	artifacts     *artifacts.Store
	pipelines     map[models.JobKind]pipeline.Pipeline
	events        events.Emitter
	renewInterval time.Duration
	logger        *slog.Logger
}

// NewDriver creates a Driver. renewInterval is how often the lock of a
// running job is extended.
func NewDriver(q queue.Queue, st JobStore, arts *artifacts.Store, pipelines map[models.JobKind]pipeline.Pipeline,
	em events.Emitter, renewInterval time.Duration, logger *slog.Logger) *Driver {
	if em == nil {
		em = events.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{
		queue:         q,
		store:         st,
		artifacts:     arts,
		pipelines:     pipelines,
		events:        em,
		renewInterval: renewInterval,
		logger:        logger,
	}
}

// Handle processes one reservation to completion. When ctx is cancelled
// mid-run the reservation is abandoned: its lock expires and the broker
// redelivers the job.
func (d *Driver) Handle(ctx context.Context, res *queue.Reservation) error {
	msg := res.Message
	log := d.logger.With("job_id", msg.JobID, "queue", res.Queue, "attempt", res.Attempt)
	d.emit(ctx, res, events.Event{Type: events.TypeReserved})

	stopRenew := d.keepAlive(ctx, res, log)
	defer stopRenew()

	job, err := d.store.GetJob(ctx, msg.JobID, msg.OwnerID)
	if errors.Is(err, store.ErrNotFound) {
		log.Warn("job row missing, dropping delivery")
		return d.complete(ctx, res, OutcomeSkipped, log)
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return d.fail(ctx, res, fmt.Errorf("load job: %w", err), res.CanRetry(), false, log)
	}

	switch {
	case job.Status == models.JobStatusCancelled:
		return d.complete(ctx, res, OutcomeCancelled, log)
	case job.IsTerminal():
		log.Info("job already finished, dropping delivery", "status", job.Status)
		return d.complete(ctx, res, OutcomeSkipped, log)
	case job.CancelRequested:
		return d.cancel(ctx, res, false, log)
	}

	p, ok := d.pipelines[job.Kind]
	if !ok {
		return d.fail(ctx, res, fmt.Errorf("no pipeline for kind %q", job.Kind), false, false, log)
	}

	if err := d.store.UpdateJobStatus(ctx, job.ID, models.JobStatusProcessing, store.WithAttempt(res.Attempt)); err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			log.Info("job moved on before start", "error", err)
			return d.complete(ctx, res, OutcomeSuperseded, log)
		}
		if ctx.Err() != nil {
			return nil
		}
		return d.fail(ctx, res, fmt.Errorf("start job: %w", err), res.CanRetry(), false, log)
	}
	job.Status = models.JobStatusProcessing
	job.Attempt = res.Attempt

	handle, err := d.artifacts.Acquire(job.ID, res.Attempt)
	if err != nil {
		return d.fail(ctx, res, fmt.Errorf("acquire artifacts: %w", err), res.CanRetry(), true, log)
	}
	defer func() {
		if err := handle.Release(); err != nil {
			log.Warn("release artifacts", "error", err)
		}
	}()

	runCtx := ctx
	if res.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, res.Timeout)
		defer cancel()
	}

	observer := func(step int, message string, elapsed time.Duration) {
		d.emit(ctx, res, events.Event{
			Type:    events.TypeStageCompleted,
			Step:    step,
			Stage:   message,
			Elapsed: elapsed.Seconds(),
		})
	}
	run := &pipeline.Run{
		Job:       job,
		Tracker:   pipeline.NewTracker(d.store, job, res.Attempt, observer),
		Artifacts: handle,
		Logger:    log,
	}

	start := time.Now()
	err = p.Execute(runCtx, run)
	stopRenew()
	switch {
	case err == nil:
		log.Info("job completed", "elapsed", time.Since(start).String())
		d.emit(ctx, res, events.Event{Type: events.TypeTerminal, Status: models.JobStatusCompleted})
		return d.complete(ctx, res, OutcomeCompleted, log)
	case ctx.Err() != nil:
		log.Warn("worker stopping, abandoning job", "error", err)
		return nil
	case errors.Is(err, pipeline.ErrCancelled):
		return d.cancel(ctx, res, true, log)
	case errors.Is(err, pipeline.ErrSuperseded):
		log.Info("job superseded by another delivery")
		return d.complete(ctx, res, OutcomeSuperseded, log)
	}

	limit := pipeline.AttemptLimit(err)
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("job timed out after %s: %w", res.Timeout, err)
		limit = pipeline.DeterministicAttempts
	}
	return d.fail(ctx, res, err, res.Failures+1 < min(res.MaxAttempts, limit), true, log)
}

// guard scopes a status write to this delivery once it has moved the job
// into processing, so a superseded attempt cannot overwrite the row.
func guard(res *queue.Reservation, started bool) []store.JobUpdateOption {
	if !started {
		return nil
	}
	return []store.JobUpdateOption{store.WithExpectedAttempt(res.Attempt)}
}

// fail records the failure on the job row before telling the broker, so a
// poller never sees a redelivered job without its retry marker. started is
// true once this delivery has moved the job into processing.
func (d *Driver) fail(ctx context.Context, res *queue.Reservation, cause error, retry, started bool, log *slog.Logger) error {
	msg := cause.Error()
	log.Error("job failed", "error", msg, "retry", retry, "failures", res.Failures+1)

	err := d.store.RecordFailure(ctx, res.Message.JobID, msg, retry, guard(res, started)...)
	switch {
	case err == nil:
	case started && errors.Is(err, store.ErrInvalidTransition):
		log.Info("job superseded by another delivery, failure not recorded", "error", err)
		return d.complete(ctx, res, OutcomeSuperseded, log)
	case errors.Is(err, store.ErrNotFound):
		log.Warn("job row missing, failure not recorded")
	default:
		log.Error("record failure", "error", err)
	}
	if err := d.queue.Fail(ctx, res, cause, retry); err != nil {
		if errors.Is(err, queue.ErrLockLost) {
			log.Warn("lock lost before failure was acknowledged")
			return nil
		}
		return fmt.Errorf("fail job %s: %w", res.Message.JobID, err)
	}

	status := models.JobStatusFailed
	if retry {
		status = statusRetrying
	}
	d.emit(ctx, res, events.Event{Type: events.TypeTerminal, Status: status, Error: msg})
	return nil
}

func (d *Driver) cancel(ctx context.Context, res *queue.Reservation, started bool, log *slog.Logger) error {
	err := d.store.UpdateJobStatus(ctx, res.Message.JobID, models.JobStatusCancelled, guard(res, started)...)
	switch {
	case err == nil:
	case started && errors.Is(err, store.ErrInvalidTransition):
		log.Info("job superseded by another delivery, cancellation left to it", "error", err)
		return d.complete(ctx, res, OutcomeSuperseded, log)
	case errors.Is(err, store.ErrInvalidTransition):
		// Already terminal.
	default:
		return fmt.Errorf("cancel job %s: %w", res.Message.JobID, err)
	}
	log.Info("job cancelled")
	d.emit(ctx, res, events.Event{Type: events.TypeTerminal, Status: models.JobStatusCancelled})
	return d.complete(ctx, res, OutcomeCancelled, log)
}

func (d *Driver) complete(ctx context.Context, res *queue.Reservation, outcome string, log *slog.Logger) error {
	if err := d.queue.Complete(ctx, res, outcome); err != nil {
		if errors.Is(err, queue.ErrLockLost) {
			log.Warn("lock lost before completion was acknowledged", "outcome", outcome)
			return nil
		}
		return fmt.Errorf("complete job %s: %w", res.Message.JobID, err)
	}
	return nil
}

// keepAlive renews the reservation lock until the returned stop is called.
// stop may be called more than once.
func (d *Driver) keepAlive(ctx context.Context, res *queue.Reservation, log *slog.Logger) func() {
	if d.renewInterval <= 0 {
		return func() {}
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(d.renewInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := d.queue.Renew(ctx, res); err != nil && ctx.Err() == nil {
					log.Warn("renew lock", "error", err)
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func (d *Driver) emit(ctx context.Context, res *queue.Reservation, e events.Event) {
	e.JobID = res.Message.JobID
	e.OwnerID = res.Message.OwnerID
	e.Kind = string(res.Message.Kind)
	e.Queue = res.Queue
	e.Attempt = res.Attempt
	d.events.Emit(ctx, e)
}
