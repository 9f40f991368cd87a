package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultRateLimit  = 10
	DefaultRateWindow = time.Minute
)

// RateLimiter bounds how often a user may send messages.
type RateLimiter interface {
	Allow(ctx context.Context, userId string) (bool, error)
}

type rateWindow struct {
	count   int
	resetAt time.Time
}

// FixedWindowLimiter counts sends per user in fixed windows. A window starts
// on the first send after the previous one ended, so bursts at a window
// boundary can reach twice the ceiling.
type FixedWindowLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	windows map[string]*rateWindow
	now     func() time.Time
}

func NewFixedWindowLimiter(limit int, window time.Duration) *FixedWindowLimiter {
	return &FixedWindowLimiter{
		limit:   limit,
		window:  window,
		windows: make(map[string]*rateWindow),
		now:     time.Now,
	}
}

func (l *FixedWindowLimiter) Allow(_ context.Context, userId string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[userId]
	if !ok || now.After(w.resetAt) {
		l.windows[userId] = &rateWindow{count: 1, resetAt: now.Add(l.window)}
		return 1 <= l.limit, nil
	}

	w.count++
	return w.count <= l.limit, nil
}

// Cleanup drops windows that have ended.
func (l *FixedWindowLimiter) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for userId, w := range l.windows {
		if now.After(w.resetAt) {
			delete(l.windows, userId)
		}
	}
}

var fixedWindowScript = redis.NewScript(`
	local count = redis.call('INCR', KEYS[1])
	if count == 1 then
		redis.call('PEXPIRE', KEYS[1], ARGV[1])
	end
	return count
`)

// RedisFixedWindowLimiter is a FixedWindowLimiter shared through Redis. The
// window starts with the first INCR and ends when the key expires.
type RedisFixedWindowLimiter struct {
	client *redis.Client
	prefix string
	limit  int
	window time.Duration
}

func NewRedisFixedWindowLimiter(client *redis.Client, prefix string, limit int, window time.Duration) *RedisFixedWindowLimiter {
	return &RedisFixedWindowLimiter{
		client: client,
		prefix: prefix,
		limit:  limit,
		window: window,
	}
}

func (l *RedisFixedWindowLimiter) Allow(ctx context.Context, userId string) (bool, error) {
	count, err := fixedWindowScript.Run(ctx, l.client, []string{l.prefix + userId}, l.window.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("rate limit script: %w", err)
	}

	return count <= int64(l.limit), nil
}
