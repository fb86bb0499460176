package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/redis/go-redis/v9"
)

// Broker owns the Redis connection and tracks whether it is usable. When a
// command fails with a connection error the broker is marked down and Monitor
// reconnects with exponential backoff until the context ends.
type Broker struct {
	client        *redis.Client
	checkInterval time.Duration
	maxInterval   time.Duration

	mu      sync.Mutex
	healthy bool
	ready   chan struct{} // closed while healthy
	down    chan struct{}
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithCheckInterval sets how often Monitor pings a healthy broker.
func WithCheckInterval(d time.Duration) BrokerOption {
	return func(b *Broker) { b.checkInterval = d }
}

// WithMaxReconnectInterval caps the delay between reconnect attempts.
func WithMaxReconnectInterval(d time.Duration) BrokerOption {
	return func(b *Broker) { b.maxInterval = d }
}

// NewBroker connects to redisURL. The first connection is retried a few times
// before giving up so a process started next to its broker does not race it.
func NewBroker(ctx context.Context, redisURL string, opts ...BrokerOption) (*Broker, error) {
	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	b := newBroker(redis.NewClient(redisOpts), opts...)

	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = b.maxInterval
	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		if err := b.client.Ping(ctx).Err(); err != nil {
			slog.Warn("redis not reachable, retrying", "error", err)
			return struct{}{}, err
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(5))
	if err != nil {
		_ = b.client.Close()
		return nil, fmt.Errorf("%w: %v", ErrBrokerUnavailable, err)
	}
	b.setHealthy(true)
	return b, nil
}

// NewBrokerFromClient wraps an existing client and assumes it is healthy.
func NewBrokerFromClient(client *redis.Client, opts ...BrokerOption) *Broker {
	b := newBroker(client, opts...)
	b.setHealthy(true)
	return b
}

func newBroker(client *redis.Client, opts ...BrokerOption) *Broker {
	b := &Broker{
		client:        client,
		checkInterval: 5 * time.Second,
		maxInterval:   30 * time.Second,
		ready:         make(chan struct{}),
		down:          make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Client exposes the underlying redis client.
func (b *Broker) Client() *redis.Client {
	return b.client
}

// Healthy reports whether the broker is accepting commands.
func (b *Broker) Healthy() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.healthy
}

// WaitHealthy blocks until the broker is healthy or ctx ends.
func (b *Broker) WaitHealthy(ctx context.Context) error {
	b.mu.Lock()
	ready := b.ready
	b.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ping checks the connection without changing health state.
func (b *Broker) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// MarkDown flags the broker unhealthy and wakes Monitor.
func (b *Broker) MarkDown(cause error) {
	if b.setHealthy(false) {
		slog.Error("queue broker marked unavailable", "error", cause)
	}
	select {
	case b.down <- struct{}{}:
	default:
	}
}

// setHealthy returns true when the state changed.
func (b *Broker) setHealthy(v bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.healthy == v {
		return false
	}
	b.healthy = v
	if v {
		close(b.ready)
	} else {
		b.ready = make(chan struct{})
	}
	return true
}

// Monitor pings the broker periodically and reconnects after failures. It
// never gives up; it returns when ctx ends.
func (b *Broker) Monitor(ctx context.Context) {
	ticker := time.NewTicker(b.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := b.client.Ping(ctx).Err(); err != nil {
				if ctx.Err() != nil {
					return
				}
				b.MarkDown(err)
				b.reconnect(ctx)
			}
		case <-b.down:
			if !b.Healthy() {
				b.reconnect(ctx)
			}
		}
	}
}

func (b *Broker) reconnect(ctx context.Context) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = b.maxInterval

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		if err := b.client.Ping(ctx).Err(); err != nil {
			slog.Warn("queue broker reconnect failed", "attempt", attempt, "error", err)
			return struct{}{}, err
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(bo), backoff.WithMaxElapsedTime(0))
	if err != nil {
		return
	}
	if b.setHealthy(true) {
		slog.Info("queue broker reconnected", "attempts", attempt)
	}
}

// Close releases the connection pool.
func (b *Broker) Close() error {
	return b.client.Close()
}

// check converts connection failures into ErrBrokerUnavailable and marks the
// broker down. Other errors pass through unchanged.
func (b *Broker) check(err error) error {
	if err == nil || !isConnError(err) {
		return err
	}
	b.MarkDown(err)
	return fmt.Errorf("%w: %v", ErrBrokerUnavailable, err)
}

func isConnError(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, redis.ErrClosed) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
