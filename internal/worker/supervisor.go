package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/NPRiteshReddy/DS.2-sub000/internal/artifacts"
	"github.com/NPRiteshReddy/DS.2-sub000/internal/queue"
	"github.com/NPRiteshReddy/DS.2-sub000/internal/store"
	"golang.org/x/sync/errgroup"
)

// StalledMessage is stored on jobs the broker gave up on after repeated stalls.
const StalledMessage = "job stalled more than allowable limit"

// Handler processes one reservation.
type Handler interface {
	Handle(ctx context.Context, res *queue.Reservation) error
}

// Broker is the health surface of the queue connection.
type Broker interface {
	Monitor(ctx context.Context)
	WaitHealthy(ctx context.Context) error
}

// Binding attaches a number of concurrent workers to a queue.
type Binding struct {
	Queue       string
	Concurrency int
}

// SupervisorConfig holds the supervisor timings.
type SupervisorConfig struct {
	PollInterval         time.Duration
	StalledCheckInterval time.Duration
	DrainGrace           time.Duration
}

// Supervisor runs the worker loops of every bound queue.
type Supervisor struct {
	queue     queue.Queue
	broker    Broker
	handler   Handler
	store     JobStore
	artifacts *artifacts.Store
	bindings  []Binding
	cfg       SupervisorConfig
	logger    *slog.Logger
}

func NewSupervisor(q queue.Queue, b Broker, h Handler, st JobStore, arts *artifacts.Store,
	bindings []Binding, cfg SupervisorConfig, logger *slog.Logger) *Supervisor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		queue:     q,
		broker:    b,
		handler:   h,
		store:     st,
		artifacts: arts,
		bindings:  bindings,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run consumes until ctx is cancelled, then stops reserving and waits up to
// DrainGrace for in-flight jobs before cancelling them. Cancelled jobs keep
// their locks until expiry, after which the broker redelivers them.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.Sweep(ctx); err != nil {
		s.logger.Warn("startup artifact sweep failed", "error", err)
	}

	// Jobs outlive ctx by up to the drain grace.
	jobCtx, cancelJobs := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelJobs()

	go s.broker.Monitor(jobCtx)

	g := new(errgroup.Group)
	for _, b := range s.bindings {
		for i := 0; i < b.Concurrency; i++ {
			g.Go(func() error {
				s.consume(ctx, jobCtx, b.Queue)
				return nil
			})
		}
		s.logger.Info("consuming queue", "queue", b.Queue, "concurrency", b.Concurrency)
	}
	if s.cfg.StalledCheckInterval > 0 {
		g.Go(func() error {
			s.checkStalledLoop(ctx, jobCtx)
			return nil
		})
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("draining in-flight jobs", "grace", s.cfg.DrainGrace.String())
	timer := time.NewTimer(s.cfg.DrainGrace)
	defer timer.Stop()
	select {
	case err := <-done:
		s.logger.Info("drain complete")
		return err
	case <-timer.C:
		s.logger.Warn("drain grace expired, abandoning in-flight jobs")
		cancelJobs()
		return <-done
	}
}

// consume reserves from one queue until reserveCtx ends. Each job runs under
// jobCtx so it can finish after reserving stops.
func (s *Supervisor) consume(reserveCtx, jobCtx context.Context, name string) {
	log := s.logger.With("queue", name)
	for reserveCtx.Err() == nil {
		res, err := s.queue.Reserve(reserveCtx, name)
		switch {
		case err == nil:
		case errors.Is(err, queue.ErrNoJob):
			sleep(reserveCtx, s.cfg.PollInterval)
			continue
		case errors.Is(err, queue.ErrBrokerUnavailable):
			log.Warn("broker unavailable, waiting")
			if err := s.broker.WaitHealthy(reserveCtx); err != nil {
				return
			}
			continue
		case reserveCtx.Err() != nil:
			return
		default:
			log.Error("reserve", "error", err)
			sleep(reserveCtx, s.cfg.PollInterval)
			continue
		}

		if err := s.handler.Handle(jobCtx, res); err != nil {
			log.Error("handle job", "job_id", res.Message.JobID, "error", err)
		}
	}
}

func (s *Supervisor) checkStalledLoop(reserveCtx, jobCtx context.Context) {
	ticker := time.NewTicker(s.cfg.StalledCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-reserveCtx.Done():
			return
		case <-ticker.C:
			s.CheckStalled(jobCtx)
		}
	}
}

// CheckStalled requeues jobs whose locks expired on every bound queue and
// marks the ones past the stall limit as failed.
func (s *Supervisor) CheckStalled(ctx context.Context) {
	for _, b := range s.bindings {
		report, err := s.queue.CheckStalled(ctx, b.Queue)
		if err != nil {
			s.logger.Warn("stalled check", "queue", b.Queue, "error", err)
			continue
		}
		if len(report.Requeued) > 0 {
			s.logger.Warn("requeued stalled jobs", "queue", b.Queue, "job_ids", report.Requeued)
		}
		for _, id := range report.Dead {
			err := s.store.RecordFailure(ctx, id, StalledMessage, false)
			if err != nil && !errors.Is(err, store.ErrInvalidTransition) && !errors.Is(err, store.ErrNotFound) {
				s.logger.Error("record stalled job", "job_id", id, "error", err)
				continue
			}
			s.logger.Error("job exceeded stall limit", "queue", b.Queue, "job_id", id)
		}
	}
}

// Sweep deletes artifact directories of jobs that are not processing.
func (s *Supervisor) Sweep(ctx context.Context) error {
	removed, err := SweepArtifacts(ctx, s.store, s.artifacts)
	if len(removed) > 0 {
		s.logger.Info("removed orphaned artifact directories", "count", len(removed))
	}
	return err
}

// SweepArtifacts removes every artifact directory whose job is not processing.
func SweepArtifacts(ctx context.Context, st JobStore, arts *artifacts.Store) ([]string, error) {
	ids, err := st.ListProcessingJobIDs(ctx)
	if err != nil {
		return nil, err
	}
	processing := make(map[string]bool, len(ids))
	for _, id := range ids {
		processing[id] = true
	}
	return arts.Sweep(ctx, func(jobID string) bool { return processing[jobID] })
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
