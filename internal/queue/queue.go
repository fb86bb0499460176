// Package queue is a durable at-least-once work queue on Redis. Every state
// change runs as a single Lua script so a crash never leaves a job half moved.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/NPRiteshReddy/DS.2-sub000/internal/config"
	"github.com/NPRiteshReddy/DS.2-sub000/pkg/models"
)

// Queue names are shared by the API and worker tiers.
const (
	CodeReview = "code-review"
	Video      = "video-generation"
	Audio      = "audio-generation"
)

// MaxAttempts caps Options.Attempts.
const MaxAttempts = 3

var (
	ErrNoJob             = errors.New("no job available")
	ErrDuplicateJob      = errors.New("job already enqueued")
	ErrLockLost          = errors.New("job lock no longer held")
	ErrBrokerUnavailable = errors.New("queue broker unavailable")
	ErrUnknownQueue      = errors.New("unknown queue")
)

// Queue is the broker interface shared by the job service and the worker.
type Queue interface {
	Submit(ctx context.Context, name string, msg Message, opts Options) error
	Cancel(ctx context.Context, name, jobID string) (bool, error)
	Reserve(ctx context.Context, name string) (*Reservation, error)
	Renew(ctx context.Context, res *Reservation) error
	Complete(ctx context.Context, res *Reservation, outcome string) error
	Fail(ctx context.Context, res *Reservation, cause error, retry bool) error
	CheckStalled(ctx context.Context, name string) (*StalledReport, error)
}

// Message is the queued payload. It carries no authority; workers re-read the
// job row before acting on it.
type Message struct {
	JobID         string          `json:"job_id"`
	OwnerID       string          `json:"owner_id"`
	Kind          models.JobKind  `json:"kind"`
	Input         json.RawMessage `json:"input"`
	AttemptNumber int             `json:"attempt_number"`
}

// Backoff is exponential: Base * 2^(failures-1), capped at Cap.
type Backoff struct {
	Base time.Duration
	Cap  time.Duration
}

// Delay returns the wait before the retry that follows the given number of failures.
func (b Backoff) Delay(failures int) time.Duration {
	if failures < 1 || b.Base <= 0 {
		return 0
	}
	d := b.Base
	for i := 1; i < failures; i++ {
		d *= 2
		if b.Cap > 0 && d >= b.Cap {
			return b.Cap
		}
	}
	if b.Cap > 0 && d > b.Cap {
		return b.Cap
	}
	return d
}

// Options control delivery of one job. RemoveOnComplete and RemoveOnFail are
// the number of finished jobs retained for inspection; zero removes the job
// as soon as it finishes.
type Options struct {
	Attempts         int
	Backoff          Backoff
	Timeout          time.Duration
	RemoveOnComplete int
	RemoveOnFail     int
}

func (o Options) normalized() Options {
	if o.Attempts < 1 {
		o.Attempts = 1
	}
	if o.Attempts > MaxAttempts {
		o.Attempts = MaxAttempts
	}
	if o.RemoveOnComplete < 0 {
		o.RemoveOnComplete = 0
	}
	if o.RemoveOnFail < 0 {
		o.RemoveOnFail = 0
	}
	return o
}

// Reservation is a reserved job and the token that proves ownership of its lock.
type Reservation struct {
	Queue       string
	Message     Message
	Token       string
	Attempt     int
	Failures    int
	Stalls      int
	MaxAttempts int
	Backoff     Backoff
	Timeout     time.Duration
}

// CanRetry reports whether a failure of this delivery may be redelivered.
func (r *Reservation) CanRetry() bool {
	return r.Failures+1 < r.MaxAttempts
}

// StalledReport lists jobs whose locks expired during a stalled check.
type StalledReport struct {
	Requeued []string
	Dead     []string
}

// NameFor maps a job kind to its queue.
func NameFor(kind models.JobKind) (string, error) {
	switch kind {
	case models.KindCodeReview:
		return CodeReview, nil
	case models.KindVideo:
		return Video, nil
	case models.KindAudio:
		return Audio, nil
	}
	return "", ErrUnknownQueue
}

// OptionsFor returns the delivery options configured for kind.
func OptionsFor(kind models.JobKind, cfg config.QueueConfig) Options {
	opts := Options{
		Attempts:         cfg.Attempts,
		Backoff:          Backoff{Base: cfg.BackoffBase, Cap: cfg.BackoffCap},
		RemoveOnComplete: cfg.RemoveOnComplete,
		RemoveOnFail:     cfg.RemoveOnFail,
	}
	switch kind {
	case models.KindCodeReview:
		opts.Timeout = cfg.ReviewTimeout
	case models.KindVideo:
		opts.Timeout = cfg.VideoTimeout
	case models.KindAudio:
		opts.Timeout = cfg.AudioTimeout
	}
	return opts.normalized()
}
