package idempotency

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// Response is a cached /initialize reply replayed for a repeated Idempotency-Key.
type Response struct {
	StatusCode int               `json:"status_code"`
	Headers    map[string]string `json:"headers,omitempty"`
	Body       []byte            `json:"body,omitempty"`
	BodyHash   string            `json:"body_hash,omitempty"`
	CachedAt   time.Time         `json:"cached_at"`
}

// Store caches responses for the Idempotency-Key header. Get treats any backend
// failure as a miss.
type Store interface {
	Get(ctx context.Context, key string) (*Response, bool)
	Set(ctx context.Context, key string, response *Response, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// DefaultMaxEntries bounds the in-memory response cache.
const DefaultMaxEntries = 10000

const sweepInterval = 5 * time.Minute

// MemoryStore is a single-process Store. Entries expire individually and the
// least recently used one is evicted when the store is full.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // front = most recently used
	maxSize int
	now     func() time.Time

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

type memoryEntry struct {
	key       string
	response  *Response
	expiresAt time.Time
}

// NewMemoryStore creates a store holding up to DefaultMaxEntries responses.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithSize(DefaultMaxEntries)
}

// NewMemoryStoreWithSize creates a store holding up to maxSize responses.
func NewMemoryStoreWithSize(maxSize int) *MemoryStore {
	return newMemoryStore(maxSize, time.Now, sweepInterval)
}

func newMemoryStore(maxSize int, now func() time.Time, every time.Duration) *MemoryStore {
	if maxSize <= 0 {
		maxSize = DefaultMaxEntries
	}
	s := &MemoryStore{
		entries: make(map[string]*list.Element),
		order:   list.New(),
		maxSize: maxSize,
		now:     now,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go s.sweepLoop(every)
	return s
}

func (s *MemoryStore) Get(_ context.Context, key string) (*Response, bool) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	entry := el.Value.(*memoryEntry)
	if !now.Before(entry.expiresAt) {
		s.removeLocked(el)
		return nil, false
	}
	s.order.MoveToFront(el)
	return entry.response, true
}

func (s *MemoryStore) Set(_ context.Context, key string, response *Response, ttl time.Duration) error {
	expiresAt := s.now().Add(ttl)

	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.entries[key]; ok {
		entry := el.Value.(*memoryEntry)
		entry.response = response
		entry.expiresAt = expiresAt
		s.order.MoveToFront(el)
		return nil
	}

	// Evict under the same lock as the insert so concurrent Sets cannot overshoot maxSize
	for len(s.entries) >= s.maxSize {
		s.removeLocked(s.order.Back())
	}
	s.entries[key] = s.order.PushFront(&memoryEntry{key: key, response: response, expiresAt: expiresAt})
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if el, ok := s.entries[key]; ok {
		s.removeLocked(el)
	}
	return nil
}

func (s *MemoryStore) removeLocked(el *list.Element) {
	entry := s.order.Remove(el).(*memoryEntry)
	delete(s.entries, entry.key)
}

// sweep drops every expired entry and reports how many were removed.
func (s *MemoryStore) sweep() int {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for el := s.order.Back(); el != nil; {
		prev := el.Prev()
		if !now.Before(el.Value.(*memoryEntry).expiresAt) {
			s.removeLocked(el)
			removed++
		}
		el = prev
	}
	return removed
}

func (s *MemoryStore) sweepLoop(every time.Duration) {
	defer close(s.done)
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

// Len reports the number of cached responses, including expired ones not yet swept.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Stop ends the background sweep. It is safe to call more than once.
func (s *MemoryStore) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
		<-s.done
	})
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.Stop()
	return nil
}
