//go:build integration

package integration

import (
	"context"
	"testing"
	"time"

	"github.com/hneveryday/hn-client/internal/testutil"
	"github.com/hneveryday/hn-client/pkg/batch"
	"github.com/hneveryday/hn-client/pkg/client"
	"github.com/hneveryday/hn-client/pkg/feed"
	"github.com/hneveryday/hn-client/pkg/item"
	"github.com/hneveryday/hn-client/pkg/tree"
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis creates a Redis container for integration testing.
func setupRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: host + ":" + port.Port(),
	})

	cleanup := func() {
		redisClient.Close()
		container.Terminate(ctx)
	}

	return redisClient, cleanup
}

func newClient(t *testing.T, redisClient *redis.Client, mock *testutil.MockHN) *client.Client {
	t.Helper()

	cfg := client.DefaultConfig(redisClient, "hn-integration-test/1.0")
	cfg.BaseURL = mock.URL()
	cfg.InitialBackoff = 10 * time.Millisecond

	c, err := client.New(cfg)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

// TestTreeLoad_RevalidatesOnSecondLoad loads the same tree twice through
// the Redis cache. The mock marks every response stale immediately, so the
// second load must revalidate each node instead of downloading it again.
func TestTreeLoad_RevalidatesOnSecondLoad(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockHN()
	defer mock.Close()

	mock.AddItems(
		testutil.Story(1, "story", 10, 11),
		testutil.Comment(10, 1, "a", 20),
		testutil.Comment(11, 1, "b"),
		testutil.Comment(20, 10, "c"),
	)

	fetcher := batch.NewFetcher(newClient(t, redisClient, mock), batch.DefaultConfig())
	loader := tree.NewLoader(fetcher, tree.DefaultConfig())
	ctx := context.Background()

	_, first, err := loader.LoadStoryTree(ctx, 1)
	if err != nil {
		t.Fatalf("first load failed: %v", err)
	}
	if item.Count(first) != 3 {
		t.Fatalf("first load: %d nodes, want 3", item.Count(first))
	}
	if mock.ConditionalCount() != 0 {
		t.Errorf("first load sent %d conditional requests, want 0", mock.ConditionalCount())
	}

	_, second, err := loader.LoadStoryTree(ctx, 1)
	if err != nil {
		t.Fatalf("second load failed: %v", err)
	}
	if item.Count(second) != 3 {
		t.Fatalf("second load: %d nodes, want 3", item.Count(second))
	}
	if mock.ConditionalCount() != 4 {
		t.Errorf("second load sent %d conditional requests, want 4", mock.ConditionalCount())
	}
	if second[0].Children[0].Item.Text != "c" {
		t.Errorf("revalidated grandchild text = %q, want c", second[0].Children[0].Item.Text)
	}
}

// TestFeed_PagesThroughCachedListing pages through a listing with a shared
// cache and checks that no item is requested twice.
func TestFeed_PagesThroughCachedListing(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockHN()
	defer mock.Close()

	ids := make([]int, 0, 7)
	for id := 100; id < 107; id++ {
		mock.AddItems(testutil.Story(id, "story"))
		ids = append(ids, id)
	}
	mock.SetListing(item.CategoryTop, ids)

	c := newClient(t, redisClient, mock)
	ctrl := feed.NewController(c, batch.NewFetcher(c, batch.Config{MaxInFlight: 2}), feed.Config{PageSize: 3})
	ctx := context.Background()

	if err := ctrl.Refresh(ctx); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	for ctrl.HasMore() {
		if _, err := ctrl.LoadNextPage(ctx); err != nil {
			t.Fatalf("LoadNextPage failed: %v", err)
		}
	}

	items := ctrl.Items()
	if len(items) != len(ids) {
		t.Fatalf("feed has %d items, want %d", len(items), len(ids))
	}
	for i, it := range items {
		if it.ID != ids[i] {
			t.Errorf("items[%d] = %d, want %d", i, it.ID, ids[i])
		}
		if n := mock.ItemRequests(it.ID); n != 1 {
			t.Errorf("item %d requested %d times, want 1", it.ID, n)
		}
	}
}
