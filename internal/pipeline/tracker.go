package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/NPRiteshReddy/DS.2-sub000/internal/store"
	"github.com/NPRiteshReddy/DS.2-sub000/pkg/models"
)

// StageObserver is told when a stage finishes.
type StageObserver func(step int, message string, elapsed time.Duration)

// ProgressStore is the part of the job store a Tracker needs.
type ProgressStore interface {
	GetJob(ctx context.Context, id, ownerID string) (*models.Job, error)
	UpdateProgress(ctx context.Context, id string, progress models.Progress) error
}

// Tracker writes stage progress for one attempt and is the cooperative
// cancellation point between stages.
type Tracker struct {
	store    ProgressStore
	jobID    string
	ownerID  string
	attempt  int
	observer StageObserver
	now      func() time.Time

	mu        sync.Mutex
	step      int
	message   string
	stepStart time.Time
}

// NewTracker creates a tracker for attempt of the job. observer may be nil.
func NewTracker(st ProgressStore, job *models.Job, attempt int, observer StageObserver) *Tracker {
	return &Tracker{
		store:    st,
		jobID:    job.ID,
		ownerID:  job.OwnerID,
		attempt:  attempt,
		observer: observer,
		now:      time.Now,
	}
}

// Enter starts stage step. It re-reads the job first and returns ErrCancelled
// when the owner asked to cancel, or ErrSuperseded when this attempt no
// longer owns the job.
func (t *Tracker) Enter(ctx context.Context, step int, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	job, err := t.store.GetJob(ctx, t.jobID, t.ownerID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrSuperseded
	}
	if err != nil {
		return fmt.Errorf("reload job: %w", err)
	}
	switch {
	case job.CancelRequested, job.Status == models.JobStatusCancelled:
		return ErrCancelled
	case job.Status != models.JobStatusProcessing, job.Attempt != t.attempt:
		return ErrSuperseded
	}

	t.finishStage()
	if err := t.store.UpdateProgress(ctx, t.jobID, models.Progress{Step: step, Message: message}); err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			return ErrSuperseded
		}
		return fmt.Errorf("update progress: %w", err)
	}

	t.mu.Lock()
	t.step, t.message, t.stepStart = step, message, t.now()
	t.mu.Unlock()
	return nil
}

// Report updates the message of the current stage without a cancellation check.
func (t *Tracker) Report(ctx context.Context, message string) {
	t.mu.Lock()
	step := t.step
	t.mu.Unlock()
	if step == 0 {
		return
	}
	// Progress messages are informational; a failed write is not worth
	// failing the stage for.
	_ = t.store.UpdateProgress(ctx, t.jobID, models.Progress{Step: step, Message: message})
}

// Finish reports the last stage as completed.
func (t *Tracker) Finish() {
	t.finishStage()
}

func (t *Tracker) finishStage() {
	t.mu.Lock()
	step, message, start := t.step, t.message, t.stepStart
	t.step = 0
	t.mu.Unlock()
	if step == 0 || t.observer == nil {
		return
	}
	t.observer(step, message, t.now().Sub(start))
}
