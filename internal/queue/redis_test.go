package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/NPRiteshReddy/DS.2-sub000/internal/config"
	"github.com/NPRiteshReddy/DS.2-sub000/pkg/models"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// fakeClock is a settable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// setupRedis spins up a Redis container and returns its URL.
func setupRedis(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)
	return "redis://" + host + ":" + port.Port()
}

func testQueueConfig() config.QueueConfig {
	return config.QueueConfig{
		Prefix:       "test",
		LockDuration: 5 * time.Minute,
		MaxStalls:    2,
	}
}

func setupQueue(t *testing.T) (*RedisQueue, *fakeClock) {
	t.Helper()
	b, err := NewBroker(context.Background(), setupRedis(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	q := NewRedisQueue(b, testQueueConfig())
	q.now = clock.Now
	return q, clock
}

func newMessage() Message {
	return Message{
		JobID:   uuid.NewString(),
		OwnerID: "user-1",
		Kind:    models.KindCodeReview,
		Input:   json.RawMessage(`{"repo_url":"https://github.com/acme/widget"}`),
	}
}

func retryOptions() Options {
	return Options{
		Attempts:         3,
		Backoff:          Backoff{Base: 5 * time.Second, Cap: 30 * time.Second},
		Timeout:          5 * time.Minute,
		RemoveOnComplete: 10,
		RemoveOnFail:     10,
	}
}

func TestRedisQueue_SubmitReserveFIFO(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	q, _ := setupQueue(t)
	ctx := context.Background()

	first, second := newMessage(), newMessage()
	require.NoError(t, q.Submit(ctx, CodeReview, first, retryOptions()))
	require.NoError(t, q.Submit(ctx, CodeReview, second, retryOptions()))

	res, err := q.Reserve(ctx, CodeReview)
	require.NoError(t, err)
	assert.Equal(t, first.JobID, res.Message.JobID)
	assert.Equal(t, "user-1", res.Message.OwnerID)
	assert.JSONEq(t, string(first.Input), string(res.Message.Input))
	assert.Equal(t, 1, res.Attempt)
	assert.Equal(t, 1, res.Message.AttemptNumber)
	assert.Equal(t, 0, res.Failures)
	assert.Equal(t, 3, res.MaxAttempts)
	assert.Equal(t, 5*time.Minute, res.Timeout)
	assert.Equal(t, 5*time.Second, res.Backoff.Base)
	assert.NotEmpty(t, res.Token)

	res2, err := q.Reserve(ctx, CodeReview)
	require.NoError(t, err)
	assert.Equal(t, second.JobID, res2.Message.JobID)

	_, err = q.Reserve(ctx, CodeReview)
	assert.ErrorIs(t, err, ErrNoJob)
}

func TestRedisQueue_QueuesAreIsolated(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	q, _ := setupQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Submit(ctx, Video, newMessage(), retryOptions()))
	_, err := q.Reserve(ctx, CodeReview)
	assert.ErrorIs(t, err, ErrNoJob)
	_, err = q.Reserve(ctx, Video)
	assert.NoError(t, err)

	_, err = q.Reserve(ctx, "unknown")
	assert.ErrorIs(t, err, ErrUnknownQueue)
}

func TestRedisQueue_DuplicateSubmit(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	q, _ := setupQueue(t)
	ctx := context.Background()

	msg := newMessage()
	require.NoError(t, q.Submit(ctx, CodeReview, msg, retryOptions()))
	assert.ErrorIs(t, q.Submit(ctx, CodeReview, msg, retryOptions()), ErrDuplicateJob)
}

func TestRedisQueue_RenewRequiresToken(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	q, _ := setupQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Submit(ctx, CodeReview, newMessage(), retryOptions()))
	res, err := q.Reserve(ctx, CodeReview)
	require.NoError(t, err)

	require.NoError(t, q.Renew(ctx, res))

	forged := *res
	forged.Token = "not-the-token"
	assert.ErrorIs(t, q.Renew(ctx, &forged), ErrLockLost)
	assert.ErrorIs(t, q.Complete(ctx, &forged, "completed"), ErrLockLost)
	assert.ErrorIs(t, q.Fail(ctx, &forged, errors.New("boom"), true), ErrLockLost)
}

func TestRedisQueue_RenewPreventsStall(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	q, clock := setupQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Submit(ctx, CodeReview, newMessage(), retryOptions()))
	res, err := q.Reserve(ctx, CodeReview)
	require.NoError(t, err)

	clock.Advance(150 * time.Second)
	require.NoError(t, q.Renew(ctx, res))
	clock.Advance(4 * time.Minute)

	report, err := q.CheckStalled(ctx, CodeReview)
	require.NoError(t, err)
	assert.Empty(t, report.Requeued)
	assert.Empty(t, report.Dead)
}

func TestRedisQueue_CompleteRetention(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	q, _ := setupQueue(t)
	ctx := context.Background()

	opts := retryOptions()
	opts.RemoveOnComplete = 1

	var ids []string
	for i := 0; i < 2; i++ {
		msg := newMessage()
		ids = append(ids, msg.JobID)
		require.NoError(t, q.Submit(ctx, CodeReview, msg, opts))
		res, err := q.Reserve(ctx, CodeReview)
		require.NoError(t, err)
		require.NoError(t, q.Complete(ctx, res, "completed"))
	}

	_, err := q.Inspect(ctx, CodeReview, ids[0])
	assert.ErrorIs(t, err, ErrNoJob, "older completed job is trimmed")

	st, err := q.Inspect(ctx, CodeReview, ids[1])
	require.NoError(t, err)
	assert.Equal(t, "completed", st.State)
	assert.Equal(t, "completed", st.Outcome)

	counts, err := q.Counts(ctx, CodeReview)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Completed)
	assert.Equal(t, int64(0), counts.Active)
}

func TestRedisQueue_RemoveOnCompleteZeroDeletes(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	q, _ := setupQueue(t)
	ctx := context.Background()

	opts := retryOptions()
	opts.RemoveOnComplete = 0
	msg := newMessage()
	require.NoError(t, q.Submit(ctx, CodeReview, msg, opts))
	res, err := q.Reserve(ctx, CodeReview)
	require.NoError(t, err)
	require.NoError(t, q.Complete(ctx, res, "cancelled"))

	_, err = q.Inspect(ctx, CodeReview, msg.JobID)
	assert.ErrorIs(t, err, ErrNoJob)
}

func TestRedisQueue_FailRetriesWithBackoff(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	q, clock := setupQueue(t)
	ctx := context.Background()

	msg := newMessage()
	require.NoError(t, q.Submit(ctx, CodeReview, msg, retryOptions()))

	res, err := q.Reserve(ctx, CodeReview)
	require.NoError(t, err)
	require.NoError(t, q.Fail(ctx, res, errors.New("llm 503"), true))

	// First retry waits the base delay.
	clock.Advance(4 * time.Second)
	_, err = q.Reserve(ctx, CodeReview)
	assert.ErrorIs(t, err, ErrNoJob)
	clock.Advance(time.Second)
	res, err = q.Reserve(ctx, CodeReview)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempt)
	assert.Equal(t, 1, res.Failures)
	assert.True(t, res.CanRetry())

	require.NoError(t, q.Fail(ctx, res, errors.New("llm 503"), true))

	// Second retry waits twice the base.
	clock.Advance(9 * time.Second)
	_, err = q.Reserve(ctx, CodeReview)
	assert.ErrorIs(t, err, ErrNoJob)
	clock.Advance(time.Second)
	res, err = q.Reserve(ctx, CodeReview)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Attempt)
	assert.False(t, res.CanRetry())

	// Attempts are exhausted, so even a retryable failure goes dead.
	require.NoError(t, q.Fail(ctx, res, errors.New("llm 503"), true))
	clock.Advance(time.Hour)
	_, err = q.Reserve(ctx, CodeReview)
	assert.ErrorIs(t, err, ErrNoJob)

	st, err := q.Inspect(ctx, CodeReview, msg.JobID)
	require.NoError(t, err)
	assert.Equal(t, "dead", st.State)
	assert.Equal(t, 3, st.Failures)
	assert.Equal(t, "llm 503", st.FailedReason)
}

func TestRedisQueue_FailWithoutRetryGoesDead(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	q, _ := setupQueue(t)
	ctx := context.Background()

	msg := newMessage()
	require.NoError(t, q.Submit(ctx, CodeReview, msg, retryOptions()))
	res, err := q.Reserve(ctx, CodeReview)
	require.NoError(t, err)
	require.NoError(t, q.Fail(ctx, res, errors.New("invalid script"), false))

	st, err := q.Inspect(ctx, CodeReview, msg.JobID)
	require.NoError(t, err)
	assert.Equal(t, "dead", st.State)

	counts, err := q.Counts(ctx, CodeReview)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Dead)
	assert.Equal(t, int64(0), counts.Delayed)
}

func TestRedisQueue_CancelWaitingAndDelayedOnly(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	q, _ := setupQueue(t)
	ctx := context.Background()

	waiting := newMessage()
	require.NoError(t, q.Submit(ctx, Video, waiting, retryOptions()))
	removed, err := q.Cancel(ctx, Video, waiting.JobID)
	require.NoError(t, err)
	assert.True(t, removed)
	_, err = q.Reserve(ctx, Video)
	assert.ErrorIs(t, err, ErrNoJob)

	delayed := newMessage()
	require.NoError(t, q.Submit(ctx, Video, delayed, retryOptions()))
	res, err := q.Reserve(ctx, Video)
	require.NoError(t, err)
	require.NoError(t, q.Fail(ctx, res, errors.New("timeout"), true))
	removed, err = q.Cancel(ctx, Video, delayed.JobID)
	require.NoError(t, err)
	assert.True(t, removed)

	active := newMessage()
	require.NoError(t, q.Submit(ctx, Video, active, retryOptions()))
	res, err = q.Reserve(ctx, Video)
	require.NoError(t, err)
	removed, err = q.Cancel(ctx, Video, active.JobID)
	require.NoError(t, err)
	assert.False(t, removed, "a reserved job is not removed")
	require.NoError(t, q.Renew(ctx, res))

	removed, err = q.Cancel(ctx, Video, uuid.NewString())
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestRedisQueue_StalledJobsAreRedeliveredThenDead(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	q, clock := setupQueue(t)
	ctx := context.Background()

	msg := newMessage()
	require.NoError(t, q.Submit(ctx, Video, msg, retryOptions()))

	for stall := 1; stall <= 2; stall++ {
		res, err := q.Reserve(ctx, Video)
		require.NoError(t, err)
		assert.Equal(t, stall, res.Attempt)

		clock.Advance(6 * time.Minute)
		report, err := q.CheckStalled(ctx, Video)
		require.NoError(t, err)
		assert.Equal(t, []string{msg.JobID}, report.Requeued)
		assert.Empty(t, report.Dead)

		// The stalled holder has lost its lock.
		assert.ErrorIs(t, q.Renew(ctx, res), ErrLockLost)
		assert.ErrorIs(t, q.Complete(ctx, res, "completed"), ErrLockLost)
	}

	res, err := q.Reserve(ctx, Video)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Attempt)
	assert.Equal(t, 2, res.Stalls)

	clock.Advance(6 * time.Minute)
	report, err := q.CheckStalled(ctx, Video)
	require.NoError(t, err)
	assert.Empty(t, report.Requeued)
	assert.Equal(t, []string{msg.JobID}, report.Dead)

	st, err := q.Inspect(ctx, Video, msg.JobID)
	require.NoError(t, err)
	assert.Equal(t, "dead", st.State)
	assert.Equal(t, stalledReason, st.FailedReason)
}

func TestRedisQueue_ConcurrentReserveDeliversOnce(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	q, _ := setupQueue(t)
	ctx := context.Background()

	const jobs = 20
	for i := 0; i < jobs; i++ {
		require.NoError(t, q.Submit(ctx, CodeReview, newMessage(), retryOptions()))
	}

	var mu sync.Mutex
	seen := map[string]int{}
	var wg sync.WaitGroup
	for w := 0; w < 5; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				res, err := q.Reserve(ctx, CodeReview)
				if errors.Is(err, ErrNoJob) {
					return
				}
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				seen[res.Message.JobID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, jobs)
	for id, n := range seen {
		assert.Equal(t, 1, n, "job %s delivered %d times", id, n)
	}
}

func TestBroker_UnavailableRefusesReservations(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	q, _ := setupQueue(t)
	ctx := context.Background()
	require.NoError(t, q.Submit(ctx, CodeReview, newMessage(), retryOptions()))

	q.broker.MarkDown(errors.New("simulated outage"))
	assert.False(t, q.broker.Healthy())

	_, err := q.Reserve(ctx, CodeReview)
	assert.ErrorIs(t, err, ErrBrokerUnavailable)
	assert.ErrorIs(t, q.Submit(ctx, CodeReview, newMessage(), retryOptions()), ErrBrokerUnavailable)

	waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.broker.WaitHealthy(waitCtx), context.DeadlineExceeded)

	// Monitor sees the broker is reachable again and restores it.
	monCtx, stop := context.WithCancel(ctx)
	defer stop()
	go q.broker.Monitor(monCtx)

	healthyCtx, cancelHealthy := context.WithTimeout(ctx, 10*time.Second)
	defer cancelHealthy()
	require.NoError(t, q.broker.WaitHealthy(healthyCtx))

	_, err = q.Reserve(ctx, CodeReview)
	assert.NoError(t, err)
}

func TestBroker_ConnectionErrorMarksDown(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 200 * time.Millisecond,
		MaxRetries:  -1,
	})
	b := NewBrokerFromClient(client)
	defer b.Close()
	q := NewRedisQueue(b, testQueueConfig())

	err := q.Submit(context.Background(), CodeReview, newMessage(), retryOptions())
	assert.ErrorIs(t, err, ErrBrokerUnavailable)
	assert.False(t, b.Healthy())
}

func TestNewBroker_InvalidURL(t *testing.T) {
	_, err := NewBroker(context.Background(), "://bad")
	assert.Error(t, err)
}
