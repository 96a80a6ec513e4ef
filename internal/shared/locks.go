package shared

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// ObligationLockKey builds the redis key guarding settlement writes on one obligation.
func ObligationLockKey(obligationID int64) string {
	return fmt.Sprintf("brokerage:obligation:%d:lock", obligationID)
}

// ComputeLockKey builds the redis key guarding a broker's computation pass.
func ComputeLockKey(brokerID int64) string {
	return fmt.Sprintf("brokerage:broker:%d:compute:lock", brokerID)
}

// ReleaseFunc releases a previously acquired lock.
type ReleaseFunc func(ctx context.Context) error

// Locker serialises critical sections across processes.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (ReleaseFunc, error)
}

// RedisLocker implements Locker on top of bsm/redislock.
type RedisLocker struct {
	client *redislock.Client
	retry  redislock.RetryStrategy
}

// NewRedisLocker wraps a redis client. Acquisition retries for roughly one second
// before giving up with ErrLocked.
func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{
		client: redislock.New(client),
		retry:  redislock.LimitRetry(redislock.LinearBackoff(50*time.Millisecond), 20),
	}
}

// Acquire obtains the lock identified by key.
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (ReleaseFunc, error) {
	if l == nil || l.client == nil {
		return func(context.Context) error { return nil }, nil
	}
	lock, err := l.client.Obtain(ctx, key, ttl, &redislock.Options{RetryStrategy: l.retry})
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, fmt.Errorf("%w: %s", ErrLocked, key)
	}
	if err != nil {
		return nil, fmt.Errorf("shared: obtain lock %s: %w", key, err)
	}
	return func(ctx context.Context) error {
		if err := lock.Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			return err
		}
		return nil
	}, nil
}
