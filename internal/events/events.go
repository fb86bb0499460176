// Package events emits job lifecycle events. Events are informational: an
// emitter never fails the job that produced them.
package events

import (
	"context"
	"log/slog"
	"time"
)

const (
	TypeReserved       = "reserved"
	TypeStageCompleted = "stage_completed"
	TypeTerminal       = "terminal"
)

// Event is one lifecycle point of a job.
type Event struct {
	Type    string    `json:"type"`
	JobID   string    `json:"job_id"`
	OwnerID string    `json:"owner_id"`
	Kind    string    `json:"kind"`
	Queue   string    `json:"queue,omitempty"`
	Attempt int       `json:"attempt"`
	Stage   string    `json:"stage,omitempty"`
	Step    int       `json:"step,omitempty"`
	Status  string    `json:"status,omitempty"`
	Error   string    `json:"error,omitempty"`
	Elapsed float64   `json:"elapsed_seconds,omitempty"`
	Time    time.Time `json:"time"`
}

// Emitter publishes events.
type Emitter interface {
	Emit(ctx context.Context, e Event)
}

// LogEmitter writes events as structured log records.
type LogEmitter struct {
	logger *slog.Logger
}

func NewLogEmitter(logger *slog.Logger) *LogEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogEmitter{logger: logger}
}

func (l *LogEmitter) Emit(ctx context.Context, e Event) {
	attrs := []any{
		"event", e.Type,
		"job_id", e.JobID,
		"kind", e.Kind,
		"attempt", e.Attempt,
	}
	if e.Queue != "" {
		attrs = append(attrs, "queue", e.Queue)
	}
	if e.Stage != "" {
		attrs = append(attrs, "stage", e.Stage, "step", e.Step)
	}
	if e.Status != "" {
		attrs = append(attrs, "status", e.Status)
	}
	if e.Elapsed > 0 {
		attrs = append(attrs, "elapsed_seconds", e.Elapsed)
	}
	if e.Error != "" {
		attrs = append(attrs, "error", e.Error)
		l.logger.WarnContext(ctx, "job event", attrs...)
		return
	}
	l.logger.InfoContext(ctx, "job event", attrs...)
}

// Multi fans an event out to every emitter.
type Multi []Emitter

func (m Multi) Emit(ctx context.Context, e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	for _, em := range m {
		em.Emit(ctx, e)
	}
}

// Nop discards events.
type Nop struct{}

func (Nop) Emit(context.Context, Event) {}
