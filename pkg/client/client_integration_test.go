//go:build integration

package client

import (
	"context"
	"errors"
	"testing"

	"github.com/hneveryday/hn-client/internal/testutil"
	"github.com/hneveryday/hn-client/pkg/cache"
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedisContainer creates a Redis container for integration testing.
func setupRedisContainer(t *testing.T) (*redis.Client, func()) {
	t.Helper()

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

	host, err := redisContainer.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := redisContainer.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr: host + ":" + port.Port(),
	})

	cleanup := func() {
		client.Close()
		redisContainer.Terminate(ctx)
	}

	return client, cleanup
}

func TestIntegration_FullRequestFlow(t *testing.T) {
	redisClient, cleanup := setupRedisContainer(t)
	defer cleanup()

	mock := testutil.NewMockHN()
	defer mock.Close()
	mock.AddItems(testutil.Story(8863, "My YC app: Dropbox", 8952))

	client := newTestClient(t, mock, redisClient)
	ctx := context.Background()

	// Phase 1: cold fetch fills the cache
	if _, err := client.GetItem(ctx, 8863); err != nil {
		t.Fatalf("GetItem() error = %v", err)
	}

	key := cache.Key{Endpoint: "/item/8863.json"}
	entry, err := client.GetCache().Get(ctx, key)
	if err != nil {
		t.Fatalf("cache Get() error = %v", err)
	}
	if entry.ETag == "" {
		t.Error("cached entry should carry the ETag")
	}

	// Phase 2: revalidation answers 304 and the cached body is served
	it, err := client.GetItem(ctx, 8863)
	if err != nil {
		t.Fatalf("GetItem() revalidation error = %v", err)
	}
	if it.Title != "My YC app: Dropbox" {
		t.Errorf("Title = %q", it.Title)
	}
	if mock.ConditionalCount() != 1 {
		t.Errorf("ConditionalCount = %d, want 1", mock.ConditionalCount())
	}
}

func TestIntegration_SharedBackOff(t *testing.T) {
	redisClient, cleanup := setupRedisContainer(t)
	defer cleanup()

	mock := testutil.NewMockHN()
	defer mock.Close()
	mock.SetResponse("/item/1.json", testutil.NewRateLimitResponse(120))
	mock.AddItems(testutil.Story(2, "other"))

	first := newTestClient(t, mock, redisClient)
	second := newTestClient(t, mock, redisClient)
	ctx := context.Background()

	if _, err := first.GetItem(ctx, 1); !errors.Is(err, ErrThrottled) {
		t.Fatalf("first GetItem() error = %v, want ErrThrottled", err)
	}

	// The window recorded by the first client gates the second
	if _, err := second.GetItem(ctx, 2); !errors.Is(err, ErrThrottled) {
		t.Errorf("second GetItem() error = %v, want ErrThrottled", err)
	}
	if mock.ItemRequests(2) != 0 {
		t.Errorf("ItemRequests(2) = %d, want 0", mock.ItemRequests(2))
	}
}
