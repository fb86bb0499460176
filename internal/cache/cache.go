package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/NPRiteshReddy/DS.2-sub000/pkg/models"
	"github.com/redis/go-redis/v9"
)

// Cache is the caching interface. All cache operations go through here.
// Implementations must be safe for concurrent use.
type Cache interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	SetJobSnapshot(ctx context.Context, job *models.Job, ttl time.Duration) error
	GetJobSnapshot(ctx context.Context, ownerID, jobID string) (*models.Job, bool, error)
	IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error)
}

// RedisCache implements the Cache interface using go-redis/v9.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new RedisCache from a Redis URL.
func NewRedisCache(redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisCache{client: redis.NewClient(opts)}, nil
}

// Close releases the underlying connection pool.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

// SetJobSnapshot stores a terminal job so status polls skip the database.
// Non-terminal jobs are refused since their progress keeps moving.
func (c *RedisCache) SetJobSnapshot(ctx context.Context, job *models.Job, ttl time.Duration) error {
	if !job.IsTerminal() {
		return fmt.Errorf("snapshot of %s job %s", job.Status, job.ID)
	}
	b, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job snapshot: %w", err)
	}
	return c.client.Set(ctx, JobSnapshotKey(job.OwnerID, job.ID), b, ttl).Err()
}

// GetJobSnapshot returns the cached terminal job, scoped to ownerID.
func (c *RedisCache) GetJobSnapshot(ctx context.Context, ownerID, jobID string) (*models.Job, bool, error) {
	b, found, err := c.Get(ctx, JobSnapshotKey(ownerID, jobID))
	if err != nil || !found {
		return nil, false, err
	}
	var job models.Job
	if err := json.Unmarshal(b, &job); err != nil {
		// A corrupt entry is treated as a miss; the caller falls back to the store.
		return nil, false, nil
	}
	return &job, true, nil
}

func (c *RedisCache) IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error) {
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, expiry)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}
