package cache

import (
	"context"
	"testing"
	"time"

	"mediagate/internal/generation"
)

func TestMemoryResultCache_TTL(t *testing.T) {
	c := NewMemoryResultCache(10 * time.Millisecond)
	defer c.Close()

	ctx := context.Background()
	key := "test:key"
	val := []byte("hello")

	if err := c.Set(ctx, key, val, 20*time.Millisecond); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, hit, err := c.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !hit {
		t.Fatalf("expected hit immediately after Set")
	}
	if string(got) != "hello" {
		t.Fatalf("expected 'hello', got %q", got)
	}

	// Wait for TTL to expire
	time.Sleep(30 * time.Millisecond)

	_, hit, err = c.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get after TTL failed: %v", err)
	}
	if hit {
		t.Fatalf("expected miss after TTL expiry")
	}
}

func TestBuildResultCacheKey(t *testing.T) {
	req := &generation.Request{Model: "img-model", Prompt: "a red balloon", Size: "1024x1024"}

	k1 := BuildResultCacheKey(req, "alice")
	k2 := BuildResultCacheKey(req, "alice")
	if k1 != k2 {
		t.Fatalf("key building must be deterministic: %v vs %v", k1, k2)
	}
	if k1.UserID != "alice" || k1.Model != "img-model" || k1.Size != "1024x1024" {
		t.Fatalf("unexpected key parts: %+v", k1)
	}
	if len(k1.Hash) != 64 {
		t.Fatalf("expected sha256 hex hash, got %q", k1.Hash)
	}

	// A transformed prompt must map to a different key.
	other := BuildResultCacheKey(&generation.Request{
		Model: "img-model", Prompt: "not a red balloon", Size: "1024x1024",
	}, "alice")
	if other.Hash == k1.Hash {
		t.Fatal("different prompts must hash differently")
	}

	if s := k1.String(); s != "result:alice:img-model:1024x1024:"+k1.Hash {
		t.Fatalf("unexpected rendering: %s", s)
	}
}
