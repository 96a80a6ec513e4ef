package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/brokerage/internal/shared"
)

// Scope groups cache entries that are invalidated together.
type Scope string

const (
	// ScopeAnalytics holds financial-year analytics blobs.
	ScopeAnalytics Scope = "analytics"
	// ScopeTop holds top-N rankings.
	ScopeTop Scope = "top"
)

// Scopes lists every cache scope.
var Scopes = []Scope{ScopeAnalytics, ScopeTop}

// ParseScope validates a scope name.
func ParseScope(v string) (Scope, error) {
	for _, s := range Scopes {
		if string(s) == v {
			return s, nil
		}
	}
	return "", fmt.Errorf("analytics: unknown cache scope %q: %w", v, shared.ErrValidation)
}

// loadTimeout bounds a shared loader call once it is detached from its caller.
const loadTimeout = 30 * time.Second

// Cache stores JSON blobs in Redis under per-broker, per-scope version
// counters. Evicting bumps the counter so stale keys simply age out.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
}

// NewCache instantiates the cache helper.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

func versionKey(scope Scope, brokerID int64) string {
	return "brokerage:" + string(scope) + ":broker:" + strconv.FormatInt(brokerID, 10) + ":version"
}

// Version returns the scope's current version for a broker, initialising when missing.
func (c *Cache) Version(ctx context.Context, scope Scope, brokerID int64) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	key := versionKey(scope, brokerID)
	ver, err := c.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		// SetNX keeps a concurrent Evict from being overwritten.
		if err := c.client.SetNX(ctx, key, 1, 0).Err(); err != nil {
			return 0, err
		}
		return c.client.Get(ctx, key).Int64()
	}
	if err != nil {
		return 0, err
	}
	if ver <= 0 {
		ver = 1
		if err := c.client.Set(ctx, key, ver, 0).Err(); err != nil {
			return 0, err
		}
	}
	return ver, nil
}

// BuildKey composes a cache key carrying the scope's current version.
func (c *Cache) BuildKey(ctx context.Context, scope Scope, brokerID int64, parts ...string) (string, error) {
	base := strings.Join(append([]string{"brokerage", string(scope), strconv.FormatInt(brokerID, 10)}, parts...), ":")
	if c == nil || c.client == nil {
		return base, nil
	}
	ver, err := c.Version(ctx, scope, brokerID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:v%d", base, ver), nil
}

// FetchJSON loads a cached value or populates it using the loader. Concurrent
// misses on the same key share one loader call.
func (c *Cache) FetchJSON(ctx context.Context, key string, dest interface{}, loader func(context.Context) (interface{}, error)) error {
	if loader == nil {
		return errors.New("cache: loader required")
	}
	if c == nil || c.client == nil {
		value, err := loader(ctx)
		if err != nil {
			return err
		}
		raw, err := json.Marshal(value)
		if err != nil {
			return err
		}
		return json.Unmarshal(raw, dest)
	}
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		return json.Unmarshal(payload, dest)
	}
	if !errors.Is(err, redis.Nil) {
		return err
	}

	resultChan := c.group.DoChan(key, func() (interface{}, error) {
		// Waiters share this call; one of them going away must not fail the rest.
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()
		value, err := loader(loadCtx)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		if err := c.client.Set(loadCtx, key, raw, c.ttl).Err(); err != nil {
			return nil, err
		}
		return raw, nil
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-resultChan:
		if res.Err != nil {
			return res.Err
		}
		return json.Unmarshal(res.Val.([]byte), dest)
	}
}

// Evict invalidates one scope of a broker's cache.
func (c *Cache) Evict(ctx context.Context, scope Scope, brokerID int64) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Incr(ctx, versionKey(scope, brokerID)).Err()
}

// EvictBroker invalidates every scope of a broker's cache.
func (c *Cache) EvictBroker(ctx context.Context, brokerID int64) error {
	for _, scope := range Scopes {
		if err := c.Evict(ctx, scope, brokerID); err != nil {
			return fmt.Errorf("analytics: evict %s: %w", scope, err)
		}
	}
	return nil
}
