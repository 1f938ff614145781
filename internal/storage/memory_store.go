package storage

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store implementation suitable for tests and single-instance deployments.
type MemoryStore struct {
	mu          sync.RWMutex
	state       *ledgerState
	users       *keyedMutex
	stopCleanup chan struct{}
	cleanupDone chan struct{}
	stopOnce    sync.Once
}

// NewMemoryStore constructs a MemoryStore and starts background cleanup.
func NewMemoryStore() *MemoryStore {
	m := &MemoryStore{
		state:       newLedgerState(),
		users:       newKeyedMutex(),
		stopCleanup: make(chan struct{}),
		cleanupDone: make(chan struct{}),
	}
	go m.cleanupStalePending()
	return m
}

func (m *MemoryStore) cleanupStalePending() {
	ticker := time.NewTicker(CleanupInterval)
	defer ticker.Stop()
	defer close(m.cleanupDone)

	for {
		select {
		case <-m.stopCleanup:
			return
		case now := <-ticker.C:
			m.mu.Lock()
			m.state.prunePending(now.Add(-PendingIntentRetention))
			m.mu.Unlock()
		}
	}
}

// Append inserts a single ledger row.
func (m *MemoryStore) Append(_ context.Context, intent PaymentIntent) (PaymentIntent, error) {
	if err := prepareIntent(&intent); err != nil {
		return PaymentIntent{}, err
	}
	unlock := m.users.Lock(intent.UserID)
	defer unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.state.insert(intent); err != nil {
		return PaymentIntent{}, err
	}
	return intent, nil
}

// AppendForUser derives and inserts a row while holding the user's lock.
func (m *MemoryStore) AppendForUser(ctx context.Context, userID string, build BuildFunc) (PaymentIntent, error) {
	unlock := m.users.Lock(userID)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return PaymentIntent{}, err
	}

	m.mu.RLock()
	latest, err := m.state.latestActive(userID)
	m.mu.RUnlock()

	var latestPtr *PaymentIntent
	if err == nil {
		latestPtr = &latest
	}

	intent, err := buildForUser(userID, latestPtr, build)
	if err != nil {
		return PaymentIntent{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.state.insert(intent); err != nil {
		return PaymentIntent{}, err
	}
	return intent, nil
}

func (m *MemoryStore) GetByIdempotencyKey(_ context.Context, key string) (PaymentIntent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.get(key)
}

func (m *MemoryStore) LatestActive(_ context.Context, userID string) (PaymentIntent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.latestActive(userID)
}

func (m *MemoryStore) ListByUser(_ context.Context, userID string, limit int) ([]PaymentIntent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.listByUser(userID, normalizeLimit(limit)), nil
}

func (m *MemoryStore) SavePendingIntent(_ context.Context, pending PendingIntent) error {
	if err := preparePendingIntent(&pending); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.savePending(pending)
	return nil
}

func (m *MemoryStore) GetPendingIntent(_ context.Context, key string) (PendingIntent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.getPending(key)
}

func (m *MemoryStore) CreateNotification(_ context.Context, n Notification) error {
	if err := prepareNotification(&n); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.createNotification(n)
}

func (m *MemoryStore) ListNotifications(_ context.Context, userID string, limit int) ([]Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.listNotifications(userID, normalizeLimit(limit)), nil
}

func (m *MemoryStore) Ping(context.Context) error {
	return nil
}

// Stop halts the background cleanup goroutine.
func (m *MemoryStore) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCleanup)
		<-m.cleanupDone
	})
}

// Close stops background work; in-memory data is discarded with the process.
func (m *MemoryStore) Close() error {
	m.Stop()
	return nil
}
