//go:build integration

// Package testutil provides helpers for integration tests that need a live
// Redis instance.
package testutil

import (
	"context"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisAddr returns the address of the test Redis instance. It checks
// SHERPA_TEST_REDIS_ADDR first, then falls back to discovering the Docker
// container named sherpa-test-redis.
func RedisAddr() string {
	if addr := os.Getenv("SHERPA_TEST_REDIS_ADDR"); addr != "" {
		return addr
	}
	ip := redisContainerIP()
	if ip == "" {
		return ""
	}
	return ip + ":6379"
}

func redisContainerIP() string {
	out, err := exec.Command("docker", "inspect",
		"--format", "{{range .NetworkSettings.Networks}}{{.IPAddress}}{{end}}",
		"sherpa-test-redis").Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

// SkipIfNoRedis skips the test when no test Redis is reachable.
func SkipIfNoRedis(t *testing.T) {
	t.Helper()

	addr := RedisAddr()
	if addr == "" {
		t.Skip("test Redis not available: set SHERPA_TEST_REDIS_ADDR or start sherpa-test-redis")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("test Redis not reachable at %s: %v", addr, err)
	}
}

// TestDB is the Redis database integration tests run against, kept away
// from the default DB 0 so a developer instance survives a test run.
const TestDB = 9

// FlushTestDB empties the test database.
func FlushTestDB(t *testing.T) {
	t.Helper()

	client := redis.NewClient(&redis.Options{Addr: RedisAddr(), DB: TestDB})
	defer client.Close()

	if err := client.FlushDB(context.Background()).Err(); err != nil {
		t.Fatalf("flushing test DB: %v", err)
	}
}
