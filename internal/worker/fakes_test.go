package worker

import (
	"context"
	"fmt"
	"sync"

	"github.com/NPRiteshReddy/DS.2-sub000/internal/events"
	"github.com/NPRiteshReddy/DS.2-sub000/internal/pipeline"
	"github.com/NPRiteshReddy/DS.2-sub000/internal/queue"
	"github.com/NPRiteshReddy/DS.2-sub000/internal/store"
	"github.com/NPRiteshReddy/DS.2-sub000/pkg/models"
)

// journal records calls across fakes so tests can assert on their order.
type journal struct {
	mu  sync.Mutex
	ops []string
}

func (j *journal) add(format string, args ...any) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.ops = append(j.ops, fmt.Sprintf(format, args...))
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.ops...)
}

type fakeQueue struct {
	j *journal

	mu         sync.Mutex
	ready      map[string][]*queue.Reservation
	renewals   int
	reserveErr error
	stalled    map[string]*queue.StalledReport
	failErr    error
}

func newFakeQueue(j *journal) *fakeQueue {
	return &fakeQueue{j: j, ready: map[string][]*queue.Reservation{}, stalled: map[string]*queue.StalledReport{}}
}

func (q *fakeQueue) push(res *queue.Reservation) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ready[res.Queue] = append(q.ready[res.Queue], res)
}

func (q *fakeQueue) Submit(context.Context, string, queue.Message, queue.Options) error { return nil }

func (q *fakeQueue) Cancel(context.Context, string, string) (bool, error) { return false, nil }

func (q *fakeQueue) Reserve(_ context.Context, name string) (*queue.Reservation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.reserveErr != nil {
		err := q.reserveErr
		q.reserveErr = nil
		return nil, err
	}
	pending := q.ready[name]
	if len(pending) == 0 {
		return nil, queue.ErrNoJob
	}
	q.ready[name] = pending[1:]
	return pending[0], nil
}

func (q *fakeQueue) Renew(_ context.Context, _ *queue.Reservation) error {
	q.mu.Lock()
	q.renewals++
	q.mu.Unlock()
	return nil
}

func (q *fakeQueue) renewCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.renewals
}

func (q *fakeQueue) Complete(_ context.Context, res *queue.Reservation, outcome string) error {
	q.j.add("queue.complete %s %s", res.Message.JobID, outcome)
	return nil
}

func (q *fakeQueue) Fail(_ context.Context, res *queue.Reservation, _ error, retry bool) error {
	q.j.add("queue.fail %s retry=%t", res.Message.JobID, retry)
	return q.failErr
}

func (q *fakeQueue) CheckStalled(_ context.Context, name string) (*queue.StalledReport, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if r, ok := q.stalled[name]; ok {
		delete(q.stalled, name)
		return r, nil
	}
	return &queue.StalledReport{}, nil
}

type fakeStore struct {
	j *journal

	mu     sync.Mutex
	jobs   map[string]*models.Job
	getErr error
}

func newFakeStore(j *journal, jobs ...*models.Job) *fakeStore {
	s := &fakeStore{j: j, jobs: map[string]*models.Job{}}
	for _, job := range jobs {
		s.jobs[job.ID] = job
	}
	return s
}

func (s *fakeStore) get(id string) models.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.jobs[id]
}

func (s *fakeStore) GetJob(_ context.Context, id, ownerID string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	job, ok := s.jobs[id]
	if !ok || job.OwnerID != ownerID {
		return nil, store.ErrNotFound
	}
	cp := *job
	return &cp, nil
}

// UpdateJobStatus applies the same transition rules as the Postgres store.
func (s *fakeStore) UpdateJobStatus(_ context.Context, id, status string, opts ...store.JobUpdateOption) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.apply(id, status, store.NewJobUpdate(opts...)); err != nil {
		return err
	}
	s.j.add("store.status %s %s", id, status)
	return nil
}

func (s *fakeStore) UpdateProgress(_ context.Context, id string, p models.Progress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	job.Progress = p
	return nil
}

func (s *fakeStore) RecordFailure(_ context.Context, id, message string, retryPending bool, opts ...store.JobUpdateOption) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	opts = append(opts, store.WithErrorMessage(message), store.WithRetryPending(retryPending))
	if err := s.apply(id, models.JobStatusFailed, store.NewJobUpdate(opts...)); err != nil {
		return err
	}
	s.j.add("store.failure %s retry=%t", id, retryPending)
	return nil
}

func (s *fakeStore) apply(id, status string, u store.JobUpdate) error {
	job, ok := s.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	if u.ExpectedAttempt != nil && *u.ExpectedAttempt != job.Attempt {
		return fmt.Errorf("%w: attempt %d superseded by attempt %d", store.ErrInvalidTransition, *u.ExpectedAttempt, job.Attempt)
	}
	if !store.TransitionAllowed(job.Status, status, job.RetryPending) {
		return fmt.Errorf("%w: %s -> %s", store.ErrInvalidTransition, job.Status, status)
	}
	job.Status = status
	if u.Attempt != nil {
		job.Attempt = *u.Attempt
	}
	job.RetryPending = u.RetryPending != nil && *u.RetryPending
	job.ErrorMessage = u.ErrorMessage
	return nil
}

func (s *fakeStore) ListProcessingJobIDs(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, job := range s.jobs {
		if job.Status == models.JobStatusProcessing {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// pipelineFunc adapts a function to pipeline.Pipeline.
type pipelineFunc func(ctx context.Context, run *pipeline.Run) error

func (f pipelineFunc) Execute(ctx context.Context, run *pipeline.Run) error { return f(ctx, run) }

type recordingEmitter struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingEmitter) Emit(_ context.Context, e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingEmitter) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

type fakeBroker struct {
	mu    sync.Mutex
	waits int
}

func (b *fakeBroker) Monitor(ctx context.Context) { <-ctx.Done() }

func (b *fakeBroker) WaitHealthy(ctx context.Context) error {
	b.mu.Lock()
	b.waits++
	b.mu.Unlock()
	return ctx.Err()
}

func (b *fakeBroker) waitCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.waits
}
