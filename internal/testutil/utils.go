package testutil

import (
	"context"
	"log"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

type testWriter struct {
	t *testing.T
}

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(strings.TrimSuffix(string(p), "\n"))
	return len(p), nil
}

// TestLogger returns a logger attached to t's output. Logging after the test
// completes goes to stderr instead.
func TestLogger(t *testing.T) *log.Logger {
	logger := log.New(testWriter{t}, "[test] ", log.Lmicroseconds)
	t.Cleanup(func() {
		logger.SetOutput(os.Stderr)
	})
	return logger
}

// Env returns the value of key, skipping the test when it is unset.
func Env(t *testing.T, key string) string {
	t.Helper()

	v := os.Getenv(key)
	if v == "" {
		t.Skipf("%s not set, skipping integration test", key)
	}
	return v
}

// RedisClient connects to TEST_REDIS_ADDR, skipping the test when it is unset
// or the server does not answer.
func RedisClient(t *testing.T) *redis.Client {
	t.Helper()

	addr := Env(t, "TEST_REDIS_ADDR")

	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		t.Skipf("redis unavailable at %s: %v", addr, err)
	}

	t.Cleanup(func() { client.Close() })
	return client
}
