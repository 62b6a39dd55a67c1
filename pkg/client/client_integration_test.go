//go:build integration

package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedisContainer starts a Redis container and returns a client
func setupRedisContainer(t *testing.T) (*redis.Client, func()) {
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

	client := redis.NewClient(&redis.Options{Addr: endpoint})
	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("Failed to connect to Redis: %v", err)
	}

	return client, func() {
		client.Close()
		redisContainer.Terminate(ctx)
	}
}

func TestClient_Integration_CacheAndQuotaShared(t *testing.T) {
	redisClient, cleanup := setupRedisContainer(t)
	defer cleanup()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("ETag", `"abc"`)
		w.Write([]byte(`{"items":[]}`))
	}))
	defer server.Close()

	ctx := context.Background()

	first := newTestClient(t, testConfig(redisClient), server.URL)
	second := newTestClient(t, testConfig(redisClient), server.URL)

	resp, err := first.Get(ctx, "/youtube/v3/playlistItems?playlistId=UU1")
	if err != nil {
		t.Fatalf("first Get() error = %v", err)
	}
	resp.Body.Close()

	// A second process sharing Redis is served from the cache.
	resp, err = second.Get(ctx, "/youtube/v3/playlistItems?playlistId=UU1")
	if err != nil {
		t.Fatalf("second Get() error = %v", err)
	}
	resp.Body.Close()

	if got := resp.Header.Get("X-Cache"); got != "fresh" {
		t.Errorf("X-Cache = %q, want fresh", got)
	}
	if calls.Load() != 1 {
		t.Errorf("server calls = %d, want 1", calls.Load())
	}

	state, err := second.QuotaState(ctx)
	if err != nil {
		t.Fatalf("QuotaState() error = %v", err)
	}
	if state.UnitsUsed != 1 {
		t.Errorf("UnitsUsed = %d, want 1", state.UnitsUsed)
	}
}
