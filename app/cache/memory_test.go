package cache

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestMemoryStore_SetGet(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	if _, found, err := store.Get(ctx, "missing"); err != nil || found {
		t.Errorf("Expected miss without error, got found=%v err=%v", found, err)
	}

	value := []byte("hello")
	if err := store.Set(ctx, "k", value, 0); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	value[0] = 'j'

	got, found, err := store.Get(ctx, "k")
	if err != nil || !found {
		t.Fatalf("Expected hit, got found=%v err=%v", found, err)
	}
	if string(got) != "hello" {
		t.Errorf("Expected stored copy 'hello', got: %s", got)
	}
}

func TestMemoryStore_Expiry(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	_ = store.Set(ctx, "k", []byte("v"), time.Minute)

	now = now.Add(30 * time.Second)
	if _, found, _ := store.Get(ctx, "k"); !found {
		t.Error("Expected entry to be present before TTL")
	}

	now = now.Add(31 * time.Second)
	if _, found, _ := store.Get(ctx, "k"); found {
		t.Error("Expected entry to expire after TTL")
	}
}

func TestMemoryStore_SetSweepsExpired(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	for i := 0; i < 1000; i++ {
		_ = store.Set(ctx, fmt.Sprintf("reader:https://news.example.com/%d", i), []byte("page"), time.Hour)
	}
	_ = store.Set(ctx, "forever", []byte("v"), 0)

	if size := store.size(); size != 1001 {
		t.Fatalf("Expected 1001 entries, got: %d", size)
	}

	now = now.Add(48 * time.Hour)
	_ = store.Set(ctx, "fresh", []byte("v"), time.Hour)

	if size := store.size(); size != 2 {
		t.Errorf("Expected expired entries swept on write, got: %d entries", size)
	}
	if _, found, _ := store.Get(ctx, "forever"); !found {
		t.Error("Expected entry without TTL to survive the sweep")
	}
}

func TestMemoryStore_Delete(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_ = store.Set(ctx, "k", []byte("v"), 0)
	_ = store.Delete(ctx, "k")

	if _, found, _ := store.Get(ctx, "k"); found {
		t.Error("Expected entry to be deleted")
	}
}
