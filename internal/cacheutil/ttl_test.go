package cacheutil

import (
	"testing"
	"time"
)

func TestTTLCache_GetSetExpire(t *testing.T) {
	c := NewTTLCache[string](time.Minute, 10)
	now := time.Now()
	c.now = func() time.Time { return now }

	if _, ok := c.Get("a"); ok {
		t.Fatal("expected miss on empty cache")
	}

	c.Set("a", "alpha")
	if v, ok := c.Get("a"); !ok || v != "alpha" {
		t.Fatalf("Get(a) = %q, %v", v, ok)
	}

	now = now.Add(time.Minute)
	if _, ok := c.Get("a"); ok {
		t.Error("expected entry to expire after ttl")
	}
}

func TestTTLCache_EvictsOldestWhenFull(t *testing.T) {
	c := NewTTLCache[int](time.Hour, 2)
	now := time.Now()
	c.now = func() time.Time { return now }

	c.Set("first", 1)
	now = now.Add(time.Second)
	c.Set("second", 2)
	now = now.Add(time.Second)
	c.Set("third", 3)

	if c.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", c.Len())
	}
	if _, ok := c.Get("first"); ok {
		t.Error("expected oldest entry to be evicted")
	}
	if _, ok := c.Get("third"); !ok {
		t.Error("expected newest entry to be present")
	}
}

func TestTTLCache_Invalidate(t *testing.T) {
	c := NewTTLCache[int](time.Hour, 0)
	c.Set("k", 1)
	c.Invalidate("k")
	if _, ok := c.Get("k"); ok {
		t.Error("expected miss after Invalidate")
	}
}

func TestTTLCache_DisabledWithZeroTTL(t *testing.T) {
	c := NewTTLCache[int](0, 10)
	c.Set("k", 1)
	if _, ok := c.Get("k"); ok {
		t.Error("zero ttl must disable caching")
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d, want 0", c.Len())
	}
}
