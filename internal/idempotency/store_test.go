package idempotency

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestStore(t *testing.T, size int) (*MemoryStore, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	s := newMemoryStore(size, clock.Now, time.Hour)
	t.Cleanup(s.Stop)
	return s, clock
}

func reply(body string) *Response {
	return &Response{StatusCode: 200, Body: []byte(body)}
}

func TestMemoryStore_SetGet(t *testing.T) {
	s, _ := newTestStore(t, 10)
	ctx := context.Background()

	if _, ok := s.Get(ctx, "missing"); ok {
		t.Fatal("unexpected hit for missing key")
	}
	if err := s.Set(ctx, "k1", reply(`{"payment_url":"a"}`), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, ok := s.Get(ctx, "k1")
	if !ok || string(got.Body) != `{"payment_url":"a"}` {
		t.Fatalf("Get = %v, %v", got, ok)
	}
}

func TestMemoryStore_ExpiryIsLazy(t *testing.T) {
	s, clock := newTestStore(t, 10)
	ctx := context.Background()

	_ = s.Set(ctx, "k1", reply("a"), time.Minute)
	clock.Advance(59 * time.Second)
	if _, ok := s.Get(ctx, "k1"); !ok {
		t.Fatal("entry expired early")
	}

	clock.Advance(time.Second)
	if _, ok := s.Get(ctx, "k1"); ok {
		t.Fatal("entry served at its expiry instant")
	}
	if s.Len() != 0 {
		t.Errorf("expired entry not removed on read, Len = %d", s.Len())
	}
}

func TestMemoryStore_Sweep(t *testing.T) {
	s, clock := newTestStore(t, 10)
	ctx := context.Background()

	_ = s.Set(ctx, "short", reply("a"), time.Minute)
	_ = s.Set(ctx, "long", reply("b"), time.Hour)
	clock.Advance(2 * time.Minute)

	if removed := s.sweep(); removed != 1 {
		t.Errorf("sweep removed %d, want 1", removed)
	}
	if _, ok := s.Get(ctx, "long"); !ok {
		t.Error("live entry swept")
	}
}

func TestMemoryStore_EvictsLeastRecentlyUsed(t *testing.T) {
	s, _ := newTestStore(t, 3)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		_ = s.Set(ctx, fmt.Sprintf("k%d", i), reply("x"), time.Hour)
	}
	// Touch k1 so k2 becomes the eviction candidate
	s.Get(ctx, "k1")
	_ = s.Set(ctx, "k4", reply("x"), time.Hour)

	if s.Len() != 3 {
		t.Fatalf("Len = %d, want 3", s.Len())
	}
	for key, want := range map[string]bool{"k1": true, "k2": false, "k3": true, "k4": true} {
		if _, ok := s.Get(ctx, key); ok != want {
			t.Errorf("%s present = %v, want %v", key, ok, want)
		}
	}
}

func TestMemoryStore_OverwriteRefreshesTTL(t *testing.T) {
	s, clock := newTestStore(t, 10)
	ctx := context.Background()

	_ = s.Set(ctx, "k1", reply("old"), time.Minute)
	clock.Advance(50 * time.Second)
	_ = s.Set(ctx, "k1", reply("new"), time.Minute)
	clock.Advance(50 * time.Second)

	got, ok := s.Get(ctx, "k1")
	if !ok || string(got.Body) != "new" {
		t.Fatalf("Get = %v, %v; want refreshed entry", got, ok)
	}
	if s.Len() != 1 {
		t.Errorf("overwrite duplicated entry, Len = %d", s.Len())
	}
}

func TestMemoryStore_Delete(t *testing.T) {
	s, _ := newTestStore(t, 10)
	ctx := context.Background()

	_ = s.Set(ctx, "k1", reply("a"), time.Hour)
	if err := s.Delete(ctx, "k1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(ctx, "k1"); err != nil {
		t.Fatalf("second Delete: %v", err)
	}
	if _, ok := s.Get(ctx, "k1"); ok {
		t.Error("deleted entry still served")
	}
}

func TestMemoryStore_ConcurrentSetNeverExceedsCapacity(t *testing.T) {
	s, _ := newTestStore(t, 50)
	ctx := context.Background()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("g%d-%d", g, i)
				_ = s.Set(ctx, key, reply("x"), time.Hour)
				s.Get(ctx, key)
			}
		}(g)
	}
	wg.Wait()

	if s.Len() > 50 {
		t.Errorf("Len = %d exceeds capacity 50", s.Len())
	}
}

func TestMemoryStore_CloseIsIdempotent(t *testing.T) {
	s := NewMemoryStoreWithSize(0)
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	s.Stop()
}
