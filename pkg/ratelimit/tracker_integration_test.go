//go:build integration

package ratelimit

import (
	"context"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis starts a Redis container and returns a client
func setupRedis(t *testing.T) (*redis.Client, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	endpoint, err := redisContainer.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("Failed to get Redis endpoint: %v", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr: endpoint,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("Failed to connect to Redis: %v", err)
	}

	cleanup := func() {
		client.Close()
		redisContainer.Terminate(ctx)
	}

	return client, cleanup
}

func TestTracker_Integration_SharedWindow(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	writer := NewTracker(redisClient, logger)
	reader := NewTracker(redisClient, logger)
	ctx := context.Background()

	state, err := reader.GetState(ctx)
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if state.IsBlocked(time.Now()) {
		t.Fatal("empty Redis should not report a back-off window")
	}

	resp := &http.Response{
		StatusCode: http.StatusTooManyRequests,
		Header:     http.Header{"Retry-After": []string{"60"}},
	}
	if err := writer.UpdateFromResponse(ctx, resp); err != nil {
		t.Fatalf("UpdateFromResponse() error = %v", err)
	}

	state, err = reader.GetState(ctx)
	if err != nil {
		t.Fatalf("GetState() after update error = %v", err)
	}
	remaining := state.Remaining(time.Now())
	if remaining < 55*time.Second || remaining > 61*time.Second {
		t.Errorf("Remaining() = %v, want about 60s", remaining)
	}
	if state.LastStatus != http.StatusTooManyRequests {
		t.Errorf("LastStatus = %d, want 429", state.LastStatus)
	}

	allowed, err := reader.ShouldAllowRequest(ctx)
	if err != nil {
		t.Fatalf("ShouldAllowRequest() error = %v", err)
	}
	if allowed {
		t.Error("second tracker should honour the shared window")
	}

	ttl, err := redisClient.TTL(ctx, RedisKeyBlockedUntil).Result()
	if err != nil {
		t.Fatalf("TTL() error = %v", err)
	}
	if ttl <= 0 || ttl > 61*time.Second {
		t.Errorf("key TTL = %v, want the window length", ttl)
	}
}
