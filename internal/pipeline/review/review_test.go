package review

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/NPRiteshReddy/DS.2-sub000/internal/ai"
	"github.com/NPRiteshReddy/DS.2-sub000/internal/ai/mock"
	"github.com/NPRiteshReddy/DS.2-sub000/internal/ingest"
	"github.com/NPRiteshReddy/DS.2-sub000/internal/pipeline"
	"github.com/NPRiteshReddy/DS.2-sub000/internal/runner"
	"github.com/NPRiteshReddy/DS.2-sub000/internal/store"
	"github.com/NPRiteshReddy/DS.2-sub000/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeIngester struct {
	digest *ingest.Digest
	err    error
	urls   []string
}

func (f *fakeIngester) Ingest(_ context.Context, repoURL string) (*ingest.Digest, error) {
	f.urls = append(f.urls, repoURL)
	return f.digest, f.err
}

type fakeStore struct {
	mu            sync.Mutex
	job           models.Job
	progress      []models.Progress
	result        json.RawMessage
	recordErr     error
	takenOverBy   int
	quotaCalls    int
	quotaErr      error
	counterCalls  int
	counterErr    error
	cancelOnEnter int
}

func (f *fakeStore) GetJob(_ context.Context, id, ownerID string) (*models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id != f.job.ID || ownerID != f.job.OwnerID {
		return nil, store.ErrNotFound
	}
	j := f.job
	return &j, nil
}

func (f *fakeStore) UpdateProgress(_ context.Context, _ string, p models.Progress) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.progress = append(f.progress, p)
	if f.cancelOnEnter != 0 && p.Step == f.cancelOnEnter {
		f.job.CancelRequested = true
	}
	return nil
}

// RecordResult rejects writes scoped to an attempt other than takenOverBy,
// when set.
func (f *fakeStore) RecordResult(_ context.Context, _ string, result json.RawMessage, opts ...store.JobUpdateOption) error {
	if f.recordErr != nil {
		return f.recordErr
	}
	u := store.NewJobUpdate(opts...)
	if f.takenOverBy != 0 && u.ExpectedAttempt != nil && *u.ExpectedAttempt != f.takenOverBy {
		return fmt.Errorf("%w: attempt %d superseded", store.ErrInvalidTransition, *u.ExpectedAttempt)
	}
	f.result = result
	f.job.Status = models.JobStatusCompleted
	return nil
}

func (f *fakeStore) IncrementQuota(_ context.Context, _, _ string, kind models.JobKind, _ time.Time) error {
	f.quotaCalls++
	return f.quotaErr
}

func (f *fakeStore) IncrementReviewCounter(_ context.Context, _ string) error {
	f.counterCalls++
	return f.counterErr
}

func newRun(st *fakeStore) *pipeline.Run {
	return &pipeline.Run{
		Job:     &st.job,
		Tracker: pipeline.NewTracker(st, &st.job, st.job.Attempt, nil),
	}
}

func reviewJob() models.Job {
	return models.Job{
		ID:      "11111111-1111-1111-1111-111111111111",
		OwnerID: "user-1",
		Kind:    models.KindCodeReview,
		Input:   json.RawMessage(`{"repo_url":"https://github.com/acme/widget"}`),
		Status:  models.JobStatusProcessing,
		Attempt: 1,
	}
}

func goodDigest() *ingest.Digest {
	return &ingest.Digest{Summary: "1 file", Tree: "widget/\n  main.go", Content: "package main"}
}

func newPipeline(ing Ingester, provider *mock.MockProvider, st *fakeStore) *Pipeline {
	return New(ing, ai.NewService(provider, time.Second, 1024), st)
}

func TestPipeline_HappyPath(t *testing.T) {
	st := &fakeStore{job: reviewJob()}
	ing := &fakeIngester{digest: goodDigest()}
	provider := mock.NewStaticProvider(`{"quality_score": 7.5, "strengths": ["clear naming"],
		"improvements": ["add tests"], "key_suggestions": ["use CI"], "full_review": "Solid.", "metrics": {"security": 8}}`)

	err := newPipeline(ing, provider, st).Execute(context.Background(), newRun(st))
	require.NoError(t, err)

	assert.Equal(t, []string{"https://github.com/acme/widget"}, ing.urls)
	require.Len(t, st.progress, 3)
	assert.Equal(t, []int{1, 2, 3}, []int{st.progress[0].Step, st.progress[1].Step, st.progress[2].Step})

	var got models.ReviewResult
	require.NoError(t, json.Unmarshal(st.result, &got))
	assert.Equal(t, 7.5, got.QualityScore)
	assert.Equal(t, []string{"clear naming"}, got.Strengths)
	assert.Equal(t, map[string]float64{"security": 8}, got.Metrics)

	assert.Equal(t, 1, st.quotaCalls)
	assert.Equal(t, 1, st.counterCalls)

	reqs := provider.Requests()
	require.Len(t, reqs, 1)
	assert.Contains(t, reqs[0].Prompt, "package main")
}

func TestPipeline_DefaultsMissingFields(t *testing.T) {
	st := &fakeStore{job: reviewJob()}
	err := newPipeline(&fakeIngester{digest: goodDigest()}, mock.NewStaticProvider(`{}`), st).
		Execute(context.Background(), newRun(st))
	require.NoError(t, err)

	var got models.ReviewResult
	require.NoError(t, json.Unmarshal(st.result, &got))
	assert.Equal(t, models.DefaultQualityScore, got.QualityScore)
	assert.Equal(t, models.DefaultFullReview, got.FullReview)
	assert.NotNil(t, got.Strengths)
	assert.NotNil(t, got.Metrics)
}

func TestPipeline_IngestFailure(t *testing.T) {
	st := &fakeStore{job: reviewJob()}
	ing := &fakeIngester{err: fmt.Errorf("%w: repository not found", ingest.ErrIngestionFailed)}

	err := newPipeline(ing, mock.NewMockProvider(), st).Execute(context.Background(), newRun(st))
	require.Error(t, err)
	assert.ErrorIs(t, err, pipeline.ErrIngestionFailed)
	assert.False(t, pipeline.IsTransient(err))
	assert.Equal(t, pipeline.DeterministicAttempts, pipeline.AttemptLimit(err))
	assert.Nil(t, st.result)
	assert.Zero(t, st.quotaCalls)
}

func TestPipeline_IngestTimeoutIsTransient(t *testing.T) {
	st := &fakeStore{job: reviewJob()}
	timeout := &runner.TimeoutError{Name: "python3", Timeout: 2 * time.Minute}
	ing := &fakeIngester{err: fmt.Errorf("%w: %s: %w", ingest.ErrIngestionFailed, "helper", timeout)}

	err := newPipeline(ing, mock.NewMockProvider(), st).Execute(context.Background(), newRun(st))
	assert.ErrorIs(t, err, pipeline.ErrIngestionFailed)
	assert.True(t, pipeline.IsTransient(err))
}

func TestPipeline_AnalysisOutageIsTransient(t *testing.T) {
	st := &fakeStore{job: reviewJob()}
	provider := mock.NewFailingProvider(fmt.Errorf("%w: status 503", ai.ErrProviderUnavailable))

	err := newPipeline(&fakeIngester{digest: goodDigest()}, provider, st).Execute(context.Background(), newRun(st))
	assert.ErrorIs(t, err, pipeline.ErrAnalysisFailed)
	assert.Equal(t, pipeline.TransientAttempts, pipeline.AttemptLimit(err))
	assert.Equal(t, 2, st.progress[len(st.progress)-1].Step)
}

func TestPipeline_MalformedAnalysisIsDeterministic(t *testing.T) {
	st := &fakeStore{job: reviewJob()}
	err := newPipeline(&fakeIngester{digest: goodDigest()}, mock.NewStaticProvider("I cannot help with that"), st).
		Execute(context.Background(), newRun(st))
	assert.ErrorIs(t, err, pipeline.ErrAnalysisFailed)
	assert.False(t, pipeline.IsTransient(err))
}

func TestPipeline_CancelledBetweenStages(t *testing.T) {
	st := &fakeStore{job: reviewJob(), cancelOnEnter: 1}
	provider := mock.NewMockProvider()

	err := newPipeline(&fakeIngester{digest: goodDigest()}, provider, st).Execute(context.Background(), newRun(st))
	assert.ErrorIs(t, err, pipeline.ErrCancelled)
	assert.Empty(t, provider.Requests(), "analysis never starts")
	assert.Nil(t, st.result)
}

func TestPipeline_BookkeepingFailuresDoNotFailJob(t *testing.T) {
	st := &fakeStore{job: reviewJob(), quotaErr: errors.New("db down"), counterErr: errors.New("db down")}
	err := newPipeline(&fakeIngester{digest: goodDigest()}, mock.NewMockProvider(), st).
		Execute(context.Background(), newRun(st))
	require.NoError(t, err)
	assert.NotNil(t, st.result)
}

func TestPipeline_RecordFailureIsTransient(t *testing.T) {
	st := &fakeStore{job: reviewJob(), recordErr: errors.New("connection reset")}
	err := newPipeline(&fakeIngester{digest: goodDigest()}, mock.NewMockProvider(), st).
		Execute(context.Background(), newRun(st))
	assert.ErrorIs(t, err, pipeline.ErrPersistFailed)
	assert.True(t, pipeline.IsTransient(err))
	assert.Zero(t, st.quotaCalls)
}

func TestPipeline_TakenOverBeforePersistIsSuperseded(t *testing.T) {
	st := &fakeStore{job: reviewJob(), takenOverBy: 2}
	err := newPipeline(&fakeIngester{digest: goodDigest()}, mock.NewMockProvider(), st).
		Execute(context.Background(), newRun(st))
	assert.ErrorIs(t, err, pipeline.ErrSuperseded)
	assert.Nil(t, st.result)
	assert.Zero(t, st.quotaCalls)
	assert.Zero(t, st.counterCalls)
}

func TestPipeline_BadInput(t *testing.T) {
	st := &fakeStore{job: reviewJob()}
	st.job.Input = json.RawMessage(`{}`)
	err := newPipeline(&fakeIngester{}, mock.NewMockProvider(), st).Execute(context.Background(), newRun(st))
	assert.ErrorIs(t, err, pipeline.ErrIngestionFailed)
	assert.Empty(t, st.progress)
}
