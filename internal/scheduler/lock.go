package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// CycleLock serialises cycles: at most one runs at a time, even with
// several service replicas.
type CycleLock interface {
	// Acquire returns false when another cycle holds the lock.
	Acquire(ctx context.Context, ttl time.Duration) (bool, error)
	Release(ctx context.Context)
}

const lockKey = "applier:cycle:lock"

// RedisLock implements CycleLock with SET NX EX. The token guards against
// releasing a lock that expired and was re-acquired elsewhere.
type RedisLock struct {
	rdb   *redis.Client
	token string
}

// NewRedisLock returns a CycleLock backed by Redis.
func NewRedisLock(rdb *redis.Client) *RedisLock {
	return &RedisLock{rdb: rdb}
}

func (l *RedisLock) Acquire(ctx context.Context, ttl time.Duration) (bool, error) {
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, lockKey, token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire cycle lock: %w", err)
	}
	if ok {
		l.token = token
	}
	return ok, nil
}

func (l *RedisLock) Release(ctx context.Context) {
	if l.token == "" {
		return
	}
	if v, err := l.rdb.Get(ctx, lockKey).Result(); err == nil && v == l.token {
		l.rdb.Del(ctx, lockKey)
	}
	l.token = ""
}

// MemoryLock is the in-process CycleLock used in tests.
type MemoryLock struct {
	mu   sync.Mutex
	held bool
}

func (l *MemoryLock) Acquire(context.Context, time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		return false, nil
	}
	l.held = true
	return true, nil
}

func (l *MemoryLock) Release(context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.held = false
}
