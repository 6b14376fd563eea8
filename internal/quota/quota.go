// Package quota implements the per-user daily application counter as an
// explicit keyed store with atomic increment-and-check. It is the only hot
// shared state in a cycle; there is deliberately no global lock.
package quota

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// keyTTL keeps counters long enough to span clock skew between nodes, then
// lets Redis reclaim them.
const keyTTL = 48 * time.Hour

// Counter reserves one slot of a user's daily quota before a submission
// starts, and releases it if the submission never happens.
type Counter interface {
	// Reserve atomically increments the user's counter for day and
	// reports whether the result stayed within limit.
	Reserve(ctx context.Context, userID string, day time.Time, limit int) (bool, error)
	// Release returns one reserved slot, for attempts that failed before
	// anything was submitted.
	Release(ctx context.Context, userID string, day time.Time) error
}

// RedisCounter keys counters as applier:quota:<user>:<YYYY-MM-DD>.
type RedisCounter struct {
	rdb *redis.Client
}

// NewRedisCounter returns a Counter backed by Redis INCR/DECR.
func NewRedisCounter(rdb *redis.Client) *RedisCounter {
	return &RedisCounter{rdb: rdb}
}

func key(userID string, day time.Time) string {
	return fmt.Sprintf("applier:quota:%s:%s", userID, day.UTC().Format("2006-01-02"))
}

func (c *RedisCounter) Reserve(ctx context.Context, userID string, day time.Time, limit int) (bool, error) {
	k := key(userID, day)

	n, err := c.rdb.Incr(ctx, k).Result()
	if err != nil {
		return false, fmt.Errorf("quota incr %s: %w", k, err)
	}
	// Refreshing the TTL on every reserve is fine: the key only needs to
	// outlive its calendar day.
	c.rdb.Expire(ctx, k, keyTTL)

	if int(n) > limit {
		if err := c.rdb.Decr(ctx, k).Err(); err != nil {
			return false, fmt.Errorf("quota decr %s: %w", k, err)
		}
		return false, nil
	}

	return true, nil
}

func (c *RedisCounter) Release(ctx context.Context, userID string, day time.Time) error {
	if err := c.rdb.Decr(ctx, key(userID, day)).Err(); err != nil {
		return fmt.Errorf("quota release %s: %w", key(userID, day), err)
	}
	return nil
}

// MemoryCounter is the in-process Counter used in tests and single-node
// development runs.
type MemoryCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

// NewMemoryCounter returns an empty in-memory Counter.
func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{counts: make(map[string]int)}
}

func (c *MemoryCounter) Reserve(_ context.Context, userID string, day time.Time, limit int) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := key(userID, day)
	if c.counts[k]+1 > limit {
		return false, nil
	}
	c.counts[k]++
	return true, nil
}

func (c *MemoryCounter) Release(_ context.Context, userID string, day time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if k := key(userID, day); c.counts[k] > 0 {
		c.counts[k]--
	}
	return nil
}
