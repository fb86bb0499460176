// Package pipeline holds what the code review and media pipelines share:
// the stage tracker, typed failures and the retry policy.
package pipeline

import (
	"context"
	"log/slog"

	"github.com/NPRiteshReddy/DS.2-sub000/internal/artifacts"
	"github.com/NPRiteshReddy/DS.2-sub000/pkg/models"
)

// Run is one execution of a job by a pipeline.
type Run struct {
	Job       *models.Job
	Tracker   *Tracker
	Artifacts *artifacts.Handle
	Logger    *slog.Logger
}

// Pipeline takes a processing job to a terminal result. Implementations
// record the result themselves in their final stage and return nil; any
// error is left to the worker to record.
type Pipeline interface {
	Execute(ctx context.Context, run *Run) error
}
