package cache

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// setupTestRedis creates a Redis client against a local server and skips
// the test when none is running.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // Use a separate DB for tests
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available for testing: %v", err)
	}

	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test DB: %v", err)
	}

	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})

	return client
}

func testKey() CacheKey {
	return CacheKey{
		Endpoint:    "/youtube/v3/videos",
		QueryParams: url.Values{"id": []string{"abc"}, "part": []string{"snippet,statistics"}},
	}
}

func TestNewManager_Panic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("NewManager should panic with nil redis client")
		}
	}()
	NewManager(nil, time.Hour)
}

func TestManager_GetMiss(t *testing.T) {
	manager := NewManager(setupTestRedis(t), time.Hour)

	_, err := manager.Get(context.Background(), testKey())
	if !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Get() error = %v, want ErrCacheMiss", err)
	}
}

func TestManager_SetGet(t *testing.T) {
	client := setupTestRedis(t)
	manager := NewManager(client, time.Hour)
	ctx := context.Background()

	entry := &CacheEntry{
		Data:       []byte(`{"items":[1]}`),
		ETag:       `"etag"`,
		StatusCode: http.StatusOK,
		Headers:    http.Header{"Content-Type": []string{"application/json"}},
		CachedAt:   time.Now(),
		Expires:    time.Now().Add(time.Minute),
	}

	if err := manager.Set(ctx, testKey(), entry); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, err := manager.Get(ctx, testKey())
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got.Data) != string(entry.Data) || got.ETag != entry.ETag {
		t.Errorf("Get() = %+v, want %+v", got, entry)
	}

	ttl, err := client.TTL(ctx, testKey().String()).Result()
	if err != nil {
		t.Fatalf("TTL() error = %v", err)
	}
	if ttl < time.Hour || ttl > time.Hour+time.Minute {
		t.Errorf("redis TTL = %v, want freshness plus retention", ttl)
	}
}

func TestManager_ExpiredEntryRetained(t *testing.T) {
	manager := NewManager(setupTestRedis(t), time.Hour)
	ctx := context.Background()

	entry := &CacheEntry{
		Data:     []byte("{}"),
		ETag:     `"old"`,
		CachedAt: time.Now().Add(-10 * time.Minute),
		Expires:  time.Now().Add(-5 * time.Minute),
	}
	if err := manager.Set(ctx, testKey(), entry); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, err := manager.Get(ctx, testKey())
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !got.IsExpired() {
		t.Error("Expected expired entry")
	}
	if !ShouldMakeConditionalRequest(got) {
		t.Error("Expired entry with ETag should be revalidated")
	}
}

func TestManager_UpdateTTLAndDelete(t *testing.T) {
	manager := NewManager(setupTestRedis(t), time.Hour)
	ctx := context.Background()

	entry := &CacheEntry{Data: []byte("{}"), CachedAt: time.Now(), Expires: time.Now().Add(-time.Second)}
	if err := manager.Set(ctx, testKey(), entry); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	if err := manager.UpdateTTL(ctx, testKey(), time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("UpdateTTL() error = %v", err)
	}
	got, err := manager.Get(ctx, testKey())
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.IsExpired() {
		t.Error("Entry should be fresh after UpdateTTL")
	}

	if err := manager.Delete(ctx, testKey()); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := manager.Get(ctx, testKey()); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Get() after Delete error = %v, want ErrCacheMiss", err)
	}
}
