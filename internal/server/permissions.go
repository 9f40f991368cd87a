package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultPermissionTTL = 5 * time.Minute

// PermissionCache memoizes "user may access room" decisions for a fixed TTL.
type PermissionCache interface {
	Get(ctx context.Context, userId, roomId string) (allowed, found bool, err error)
	Set(ctx context.Context, userId, roomId string, allowed bool) error
}

type permissionKey struct {
	userId string
	roomId string
}

type permissionEntry struct {
	allowed   bool
	expiresAt time.Time
}

// MemoryPermissionCache is a process local PermissionCache. Expired entries
// are dropped on read; the map is bounded by the (user, room) pairs touched.
type MemoryPermissionCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[permissionKey]permissionEntry
	now     func() time.Time
}

func NewMemoryPermissionCache(ttl time.Duration) *MemoryPermissionCache {
	return &MemoryPermissionCache{
		ttl:     ttl,
		entries: make(map[permissionKey]permissionEntry),
		now:     time.Now,
	}
}

func (c *MemoryPermissionCache) Get(_ context.Context, userId, roomId string) (bool, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := permissionKey{userId, roomId}
	entry, ok := c.entries[key]
	if !ok {
		return false, false, nil
	}

	if c.now().After(entry.expiresAt) {
		delete(c.entries, key)
		return false, false, nil
	}

	return entry.allowed, true, nil
}

func (c *MemoryPermissionCache) Set(_ context.Context, userId, roomId string, allowed bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[permissionKey{userId, roomId}] = permissionEntry{
		allowed:   allowed,
		expiresAt: c.now().Add(c.ttl),
	}
	return nil
}

// Cleanup drops expired entries.
func (c *MemoryPermissionCache) Cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
		}
	}
}

// RedisPermissionCache shares decisions between gateway processes.
type RedisPermissionCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisPermissionCache(client *redis.Client, prefix string, ttl time.Duration) *RedisPermissionCache {
	return &RedisPermissionCache{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (c *RedisPermissionCache) key(userId, roomId string) string {
	return c.prefix + userId + ":" + roomId
}

func (c *RedisPermissionCache) Get(ctx context.Context, userId, roomId string) (bool, bool, error) {
	val, err := c.client.Get(ctx, c.key(userId, roomId)).Result()
	if err != nil {
		if err == redis.Nil {
			return false, false, nil
		}
		return false, false, fmt.Errorf("permission cache get: %w", err)
	}

	return val == "1", true, nil
}

func (c *RedisPermissionCache) Set(ctx context.Context, userId, roomId string, allowed bool) error {
	val := "0"
	if allowed {
		val = "1"
	}

	if err := c.client.Set(ctx, c.key(userId, roomId), val, c.ttl).Err(); err != nil {
		return fmt.Errorf("permission cache set: %w", err)
	}
	return nil
}
