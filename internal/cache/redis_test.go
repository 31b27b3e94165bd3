package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewFromClient(client)
}

func TestHashKey(t *testing.T) {
	tests := []struct {
		name  string
		parts []string
	}{
		{
			name:  "single part",
			parts: []string{"test"},
		},
		{
			name:  "multiple parts",
			parts: []string{"test", "key", "with", "many", "parts"},
		},
		{
			name:  "empty parts",
			parts: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hashed1 := HashKey(tt.parts...)
			hashed2 := HashKey(tt.parts...)

			// Hash should be consistent
			if hashed1 != hashed2 {
				t.Errorf("HashKey() should be consistent, got %s and %s", hashed1, hashed2)
			}

			// Hash should be 32 characters (MD5 hex)
			if len(hashed1) != 32 {
				t.Errorf("HashKey() should return 32 character hex string, got length %d", len(hashed1))
			}
		})
	}
}

func TestCache_NamespaceKey(t *testing.T) {
	cache := &Cache{}

	tests := []struct {
		name     string
		key      string
		expected string
	}{
		{
			name:     "simple key",
			key:      "test",
			expected: "swarm:test",
		},
		{
			name:     "key with colon",
			key:      "ratelimit:42:hourly",
			expected: "swarm:ratelimit:42:hourly",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cache.NamespaceKey(tt.key); got != tt.expected {
				t.Errorf("NamespaceKey(%q) = %q, want %q", tt.key, got, tt.expected)
			}
		})
	}
}

func TestCache_Incr(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		val, err := cache.Incr(ctx, "counter", time.Minute)
		if err != nil {
			t.Fatalf("Incr() error: %v", err)
		}
		if val != i {
			t.Errorf("Incr() = %d, want %d", val, i)
		}
	}
}

func TestCache_Decr(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	if _, err := cache.Incr(ctx, "counter", time.Minute); err != nil {
		t.Fatalf("Incr() error: %v", err)
	}
	if err := cache.Decr(ctx, "counter"); err != nil {
		t.Fatalf("Decr() error: %v", err)
	}

	val, ok, err := cache.GetInt(ctx, "counter")
	if err != nil || !ok {
		t.Fatalf("GetInt() = %v, %v, %v", val, ok, err)
	}
	if val != 0 {
		t.Errorf("counter after Incr+Decr = %d, want 0", val)
	}

	// Decrementing at zero floors instead of going negative
	if err := cache.Decr(ctx, "counter"); err != nil {
		t.Fatalf("Decr() error: %v", err)
	}
	val, ok, err = cache.GetInt(ctx, "counter")
	if err != nil || !ok {
		t.Fatalf("GetInt() = %v, %v, %v", val, ok, err)
	}
	if val != 0 {
		t.Errorf("counter after extra Decr = %d, want 0", val)
	}
}

func TestCache_DecrAbsentKeyStaysAbsent(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	// A counter evicted or never seeded must not reappear as a
	// permanent zero; consumers treat a missing key as "recompute"
	if err := cache.Decr(ctx, "missing"); err != nil {
		t.Fatalf("Decr() error: %v", err)
	}
	_, ok, err := cache.GetInt(ctx, "missing")
	if err != nil {
		t.Fatalf("GetInt() error: %v", err)
	}
	if ok {
		t.Error("Decr() materialized an absent counter")
	}
}

func TestCache_Flags(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	has, err := cache.HasFlag(ctx, "paused:1")
	if err != nil {
		t.Fatalf("HasFlag() error: %v", err)
	}
	if has {
		t.Error("flag should start unset")
	}

	if err := cache.SetFlag(ctx, "paused:1"); err != nil {
		t.Fatalf("SetFlag() error: %v", err)
	}
	has, _ = cache.HasFlag(ctx, "paused:1")
	if !has {
		t.Error("flag should be set")
	}

	if err := cache.ClearFlag(ctx, "paused:1"); err != nil {
		t.Fatalf("ClearFlag() error: %v", err)
	}
	has, _ = cache.HasFlag(ctx, "paused:1")
	if has {
		t.Error("flag should be cleared")
	}
}

func TestCache_DisabledIsSafe(t *testing.T) {
	var cache *Cache

	if _, err := cache.Get("key"); err != ErrCacheDisabled {
		t.Errorf("Get() on nil cache = %v, want ErrCacheDisabled", err)
	}
	if _, err := cache.Incr(context.Background(), "key", time.Minute); err != ErrCacheDisabled {
		t.Errorf("Incr() on nil cache = %v, want ErrCacheDisabled", err)
	}
	if err := cache.Close(); err != nil {
		t.Errorf("Close() on nil cache = %v, want nil", err)
	}
}
