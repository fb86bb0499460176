// Package review is the code review pipeline: ingest the repository, ask the
// model for a review, persist it.
package review

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/NPRiteshReddy/DS.2-sub000/internal/ingest"
	"github.com/NPRiteshReddy/DS.2-sub000/internal/pipeline"
	"github.com/NPRiteshReddy/DS.2-sub000/internal/runner"
	"github.com/NPRiteshReddy/DS.2-sub000/internal/store"
	"github.com/NPRiteshReddy/DS.2-sub000/pkg/models"
)

const (
	StepIngest  = 1
	StepAnalyze = 2
	StepPersist = 3
)

// Ingester produces a repository digest.
type Ingester interface {
	Ingest(ctx context.Context, repoURL string) (*ingest.Digest, error)
}

// Reviewer turns a digest into a review.
type Reviewer interface {
	ReviewRepository(ctx context.Context, tree, content string) (*models.ReviewResult, error)
}

// ResultStore is the part of the job store the pipeline writes to.
type ResultStore interface {
	RecordResult(ctx context.Context, id string, result json.RawMessage, opts ...store.JobUpdateOption) error
	IncrementQuota(ctx context.Context, jobID, ownerID string, kind models.JobKind, date time.Time) error
	IncrementReviewCounter(ctx context.Context, ownerID string) error
}

// Pipeline implements pipeline.Pipeline for code_review jobs.
type Pipeline struct {
	ingester Ingester
	reviewer Reviewer
	store    ResultStore
	now      func() time.Time
}

func New(ing Ingester, rev Reviewer, st ResultStore) *Pipeline {
	return &Pipeline{ingester: ing, reviewer: rev, store: st, now: time.Now}
}

var _ pipeline.Pipeline = (*Pipeline)(nil)

func (p *Pipeline) Execute(ctx context.Context, run *pipeline.Run) error {
	job := run.Job
	log := run.Logger
	if log == nil {
		log = slog.Default()
	}

	var in models.ReviewInput
	if err := json.Unmarshal(job.Input, &in); err != nil || in.RepoURL == "" {
		return &pipeline.StageError{Stage: "ingest", Kind: pipeline.ErrIngestionFailed, Slide: pipeline.NoSlide,
			Err: fmt.Errorf("decode input: missing repo_url")}
	}

	if err := run.Tracker.Enter(ctx, StepIngest, "Ingesting repository..."); err != nil {
		return err
	}
	digest, err := p.ingester.Ingest(ctx, in.RepoURL)
	if err != nil {
		se := pipeline.Fail("ingest", pipeline.ErrIngestionFailed, err)
		// The helper clones over the network; a timeout is worth another attempt.
		se.Transient = se.Transient || errors.Is(err, runner.ErrProcessTimeout)
		return se
	}
	log.Info("repository ingested", "job_id", job.ID,
		"tree_chars", len(digest.Tree), "content_chars", len(digest.Content))

	if err := run.Tracker.Enter(ctx, StepAnalyze, "Analyzing code with AI..."); err != nil {
		return err
	}
	result, err := p.reviewer.ReviewRepository(ctx, digest.Tree, digest.Content)
	if err != nil {
		return pipeline.Fail("analyze", pipeline.ErrAnalysisFailed, err)
	}

	if err := run.Tracker.Enter(ctx, StepPersist, "Saving review..."); err != nil {
		return err
	}
	body, err := json.Marshal(result)
	if err != nil {
		return pipeline.Fail("persist", pipeline.ErrPersistFailed, err)
	}
	if err := p.store.RecordResult(ctx, job.ID, body, store.WithExpectedAttempt(job.Attempt)); err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			return fmt.Errorf("%w: %v", pipeline.ErrSuperseded, err)
		}
		se := pipeline.Fail("persist", pipeline.ErrPersistFailed, err)
		se.Transient = true
		return se
	}
	run.Tracker.Finish()

	// The job is completed; what follows is bookkeeping that must not fail it.
	if err := p.store.IncrementQuota(ctx, job.ID, job.OwnerID, job.Kind, p.now()); err != nil {
		log.Error("increment quota", "job_id", job.ID, "owner_id", job.OwnerID, "error", err)
	}
	if err := p.store.IncrementReviewCounter(ctx, job.OwnerID); err != nil {
		log.Warn("increment review counter", "owner_id", job.OwnerID, "error", err)
	}

	log.Info("code review completed", "job_id", job.ID, "quality_score", result.QualityScore)
	return nil
}
