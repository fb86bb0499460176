package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/NPRiteshReddy/DS.2-sub000/internal/config"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// MaxFailedReasonLen caps the failure reason stored on a dead job.
const MaxFailedReasonLen = 2000

const stalledReason = "job stalled more than allowable limit"

// RedisQueue implements Queue on a Broker.
type RedisQueue struct {
	broker       *Broker
	prefix       string
	lockDuration time.Duration
	maxStalls    int
	now          func() time.Time
}

// NewRedisQueue creates a RedisQueue. Lock duration and stall tolerance come
// from cfg; the renew interval is enforced by the caller.
func NewRedisQueue(b *Broker, cfg config.QueueConfig) *RedisQueue {
	lock := cfg.LockDuration
	if lock <= 0 {
		lock = 5 * time.Minute
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "studyq"
	}
	return &RedisQueue{
		broker:       b,
		prefix:       prefix,
		lockDuration: lock,
		maxStalls:    cfg.MaxStalls,
		now:          time.Now,
	}
}

var _ Queue = (*RedisQueue)(nil)

func (q *RedisQueue) keys(name string) (keys, error) {
	switch name {
	case CodeReview, Video, Audio:
		return queueKeys(q.prefix, name), nil
	}
	return keys{}, fmt.Errorf("%w: %q", ErrUnknownQueue, name)
}

func (q *RedisQueue) nowMs() int64 {
	return q.now().UnixMilli()
}

// Submit stores msg durably and makes it available for reservation.
func (q *RedisQueue) Submit(ctx context.Context, name string, msg Message, opts Options) error {
	k, err := q.keys(name)
	if err != nil {
		return err
	}
	if msg.JobID == "" {
		return errors.New("submit: empty job id")
	}
	if !q.broker.Healthy() {
		return ErrBrokerUnavailable
	}
	opts = opts.normalized()
	msg.AttemptNumber = 0
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	added, err := submitScript.Run(ctx, q.broker.client,
		[]string{k.wait, k.job(msg.JobID)},
		msg.JobID, data, opts.Attempts,
		opts.Backoff.Base.Milliseconds(), opts.Backoff.Cap.Milliseconds(), opts.Timeout.Milliseconds(),
		opts.RemoveOnComplete, opts.RemoveOnFail, q.nowMs(),
	).Int()
	if err != nil {
		return fmt.Errorf("submit job: %w", q.broker.check(err))
	}
	if added == 0 {
		return ErrDuplicateJob
	}
	return nil
}

// Cancel removes a waiting or delayed job. A reserved job is untouched and
// false is returned.
func (q *RedisQueue) Cancel(ctx context.Context, name, jobID string) (bool, error) {
	k, err := q.keys(name)
	if err != nil {
		return false, err
	}
	removed, err := cancelScript.Run(ctx, q.broker.client,
		[]string{k.wait, k.delayed, k.job(jobID)}, jobID).Int()
	if err != nil {
		return false, fmt.Errorf("cancel job: %w", q.broker.check(err))
	}
	return removed == 1, nil
}

// Reserve promotes due delayed jobs and takes the oldest waiting one. It
// returns ErrNoJob when the queue is empty and ErrBrokerUnavailable while the
// broker is down.
func (q *RedisQueue) Reserve(ctx context.Context, name string) (*Reservation, error) {
	k, err := q.keys(name)
	if err != nil {
		return nil, err
	}
	if !q.broker.Healthy() {
		return nil, ErrBrokerUnavailable
	}

	token := uuid.NewString()
	raw, err := reserveScript.Run(ctx, q.broker.client,
		[]string{k.wait, k.delayed, k.active},
		k.jobPrefix, q.nowMs(), q.lockDuration.Milliseconds(), token,
	).StringSlice()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoJob
	}
	if err != nil {
		return nil, fmt.Errorf("reserve job: %w", q.broker.check(err))
	}
	if len(raw) != 9 {
		return nil, fmt.Errorf("reserve job: unexpected reply of %d fields", len(raw))
	}

	var msg Message
	if err := json.Unmarshal([]byte(raw[2]), &msg); err != nil {
		return nil, fmt.Errorf("decode message %s: %w", raw[0], err)
	}
	res := &Reservation{
		Queue:       name,
		Message:     msg,
		Token:       token,
		Attempt:     atoi(raw[1]),
		MaxAttempts: atoi(raw[3]),
		Failures:    atoi(raw[4]),
		Stalls:      atoi(raw[5]),
		Backoff: Backoff{
			Base: time.Duration(atoi64(raw[6])) * time.Millisecond,
			Cap:  time.Duration(atoi64(raw[7])) * time.Millisecond,
		},
		Timeout: time.Duration(atoi64(raw[8])) * time.Millisecond,
	}
	res.Message.JobID = raw[0]
	res.Message.AttemptNumber = res.Attempt
	return res, nil
}

// Renew extends the lock of res by the lock duration.
func (q *RedisQueue) Renew(ctx context.Context, res *Reservation) error {
	k, err := q.keys(res.Queue)
	if err != nil {
		return err
	}
	id := res.Message.JobID
	ok, err := renewScript.Run(ctx, q.broker.client,
		[]string{k.active, k.job(id)},
		id, res.Token, q.now().Add(q.lockDuration).UnixMilli(),
	).Int()
	if err != nil {
		return fmt.Errorf("renew lock: %w", q.broker.check(err))
	}
	if ok == 0 {
		return ErrLockLost
	}
	return nil
}

// Complete releases the lock and records outcome.
func (q *RedisQueue) Complete(ctx context.Context, res *Reservation, outcome string) error {
	k, err := q.keys(res.Queue)
	if err != nil {
		return err
	}
	id := res.Message.JobID
	ok, err := completeScript.Run(ctx, q.broker.client,
		[]string{k.active, k.completed, k.job(id)},
		id, res.Token, q.nowMs(), outcome, k.jobPrefix,
	).Int()
	if err != nil {
		return fmt.Errorf("complete job: %w", q.broker.check(err))
	}
	if ok == 0 {
		return ErrLockLost
	}
	return nil
}

// Fail releases the lock. With retry set and attempts left the job is
// redelivered after the backoff delay; otherwise it is moved to the dead set.
func (q *RedisQueue) Fail(ctx context.Context, res *Reservation, cause error, retry bool) error {
	k, err := q.keys(res.Queue)
	if err != nil {
		return err
	}
	reason := "unknown error"
	if cause != nil {
		reason = truncate(cause.Error(), MaxFailedReasonLen)
	}
	retryFlag := "0"
	if retry {
		retryFlag = "1"
	}
	id := res.Message.JobID
	delay := res.Backoff.Delay(res.Failures + 1)

	state, err := failScript.Run(ctx, q.broker.client,
		[]string{k.active, k.delayed, k.dead, k.job(id)},
		id, res.Token, q.nowMs(), reason, retryFlag, delay.Milliseconds(), k.jobPrefix,
	).Int()
	if err != nil {
		return fmt.Errorf("fail job: %w", q.broker.check(err))
	}
	if state == -1 {
		return ErrLockLost
	}
	return nil
}

// CheckStalled requeues jobs whose lock expired. A job that stalls more than
// the configured tolerance is moved to the dead set instead.
func (q *RedisQueue) CheckStalled(ctx context.Context, name string) (*StalledReport, error) {
	k, err := q.keys(name)
	if err != nil {
		return nil, err
	}
	raw, err := stalledScript.Run(ctx, q.broker.client,
		[]string{k.active, k.wait, k.dead},
		q.nowMs(), q.maxStalls, k.jobPrefix, stalledReason,
	).Slice()
	if err != nil {
		return nil, fmt.Errorf("check stalled: %w", q.broker.check(err))
	}
	report := &StalledReport{}
	if len(raw) == 2 {
		report.Requeued = toStrings(raw[0])
		report.Dead = toStrings(raw[1])
	}
	return report, nil
}

// JobState is the broker-side view of one job, used for inspection.
type JobState struct {
	State        string
	Deliveries   int
	Failures     int
	Stalls       int
	FailedReason string
	Outcome      string
}

// Inspect returns the broker state of jobID, or ErrNoJob when the broker no
// longer holds it.
func (q *RedisQueue) Inspect(ctx context.Context, name, jobID string) (*JobState, error) {
	k, err := q.keys(name)
	if err != nil {
		return nil, err
	}
	h, err := q.broker.client.HGetAll(ctx, k.job(jobID)).Result()
	if err != nil {
		return nil, fmt.Errorf("inspect job: %w", q.broker.check(err))
	}
	if len(h) == 0 {
		return nil, ErrNoJob
	}
	return &JobState{
		State:        h["state"],
		Deliveries:   atoi(h["deliveries"]),
		Failures:     atoi(h["failures"]),
		Stalls:       atoi(h["stalls"]),
		FailedReason: h["failed_reason"],
		Outcome:      h["outcome"],
	}, nil
}

// Counts is the number of jobs per state in one queue.
type Counts struct {
	Waiting   int64 `json:"waiting"`
	Delayed   int64 `json:"delayed"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Dead      int64 `json:"dead"`
}

// Counts reports queue depth per state.
func (q *RedisQueue) Counts(ctx context.Context, name string) (*Counts, error) {
	k, err := q.keys(name)
	if err != nil {
		return nil, err
	}
	pipe := q.broker.client.Pipeline()
	wait := pipe.LLen(ctx, k.wait)
	delayed := pipe.ZCard(ctx, k.delayed)
	active := pipe.ZCard(ctx, k.active)
	completed := pipe.ZCard(ctx, k.completed)
	dead := pipe.ZCard(ctx, k.dead)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("queue counts: %w", q.broker.check(err))
	}
	return &Counts{
		Waiting:   wait.Val(),
		Delayed:   delayed.Val(),
		Active:    active.Val(),
		Completed: completed.Val(),
		Dead:      dead.Val(),
	}, nil
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func atoi64(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

func toStrings(v any) []string {
	items, _ := v.([]any)
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// truncate cuts s to at most max runes.
func truncate(s string, max int) string {
	n := 0
	for i := range s {
		if n == max {
			return s[:i]
		}
		n++
	}
	return s
}
