package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileStore implements Store using a JSON file.
//
// Ledger appends are flushed to disk before returning; notices and pending
// intents are flushed by a periodic writer. FileStore supports a single
// process only and is meant for local development and demos.
type FileStore struct {
	filePath    string
	mu          sync.RWMutex
	state       *ledgerState
	users       *keyedMutex
	dirty       bool
	flushTicker *time.Ticker
	stopFlush   chan struct{}
	flushDone   chan struct{}
	closeOnce   sync.Once
}

// NewFileStore creates a new file-backed store, loading any existing data.
func NewFileStore(filePath string) (*FileStore, error) {
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	store := &FileStore{
		filePath:    filePath,
		state:       newLedgerState(),
		users:       newKeyedMutex(),
		flushTicker: time.NewTicker(5 * time.Second),
		stopFlush:   make(chan struct{}),
		flushDone:   make(chan struct{}),
	}

	if err := store.load(); err != nil {
		store.flushTicker.Stop()
		return nil, err
	}

	go store.periodicFlush()

	return store, nil
}

func (s *FileStore) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.filePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	loaded := newLedgerState()
	if err := json.Unmarshal(data, loaded); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	loaded.reindex()
	s.state = loaded
	return nil
}

// save writes the current state. Caller holds s.mu.
func (s *FileStore) save() error {
	jsonData, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal data: %w", err)
	}

	// Write to temporary file first, then rename atomically
	tmpPath := s.filePath + ".tmp"
	if err := os.WriteFile(tmpPath, jsonData, 0600); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.filePath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename file: %w", err)
	}
	s.dirty = false
	return nil
}

func (s *FileStore) periodicFlush() {
	defer close(s.flushDone)

	for {
		select {
		case <-s.stopFlush:
			return
		case now := <-s.flushTicker.C:
			s.mu.Lock()
			if s.state.prunePending(now.Add(-PendingIntentRetention)) > 0 {
				s.dirty = true
			}
			if s.dirty {
				_ = s.save()
			}
			s.mu.Unlock()
		}
	}
}

func (s *FileStore) Append(_ context.Context, intent PaymentIntent) (PaymentIntent, error) {
	if err := prepareIntent(&intent); err != nil {
		return PaymentIntent{}, err
	}
	unlock := s.users.Lock(intent.UserID)
	defer unlock()
	return s.insertAndFlush(intent)
}

func (s *FileStore) AppendForUser(ctx context.Context, userID string, build BuildFunc) (PaymentIntent, error) {
	unlock := s.users.Lock(userID)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return PaymentIntent{}, err
	}

	s.mu.RLock()
	latest, err := s.state.latestActive(userID)
	s.mu.RUnlock()

	var latestPtr *PaymentIntent
	if err == nil {
		latestPtr = &latest
	}

	intent, err := buildForUser(userID, latestPtr, build)
	if err != nil {
		return PaymentIntent{}, err
	}
	return s.insertAndFlush(intent)
}

// insertAndFlush inserts a ledger row and persists it before returning.
// A failed write rolls the row back so memory never runs ahead of disk.
func (s *FileStore) insertAndFlush(intent PaymentIntent) (PaymentIntent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.state.insert(intent); err != nil {
		return PaymentIntent{}, err
	}
	if err := s.save(); err != nil {
		delete(s.state.Intents, intent.IdempotencyKey)
		s.state.reindex()
		return PaymentIntent{}, fmt.Errorf("persist ledger row: %w", err)
	}
	return intent, nil
}

func (s *FileStore) GetByIdempotencyKey(_ context.Context, key string) (PaymentIntent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.get(key)
}

func (s *FileStore) LatestActive(_ context.Context, userID string) (PaymentIntent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.latestActive(userID)
}

func (s *FileStore) ListByUser(_ context.Context, userID string, limit int) ([]PaymentIntent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.listByUser(userID, normalizeLimit(limit)), nil
}

func (s *FileStore) SavePendingIntent(_ context.Context, pending PendingIntent) error {
	if err := preparePendingIntent(&pending); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.savePending(pending)
	s.dirty = true
	return nil
}

func (s *FileStore) GetPendingIntent(_ context.Context, key string) (PendingIntent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.getPending(key)
}

func (s *FileStore) CreateNotification(_ context.Context, n Notification) error {
	if err := prepareNotification(&n); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.state.createNotification(n); err != nil {
		return err
	}
	s.dirty = true
	return nil
}

func (s *FileStore) ListNotifications(_ context.Context, userID string, limit int) ([]Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.listNotifications(userID, normalizeLimit(limit)), nil
}

func (s *FileStore) Ping(context.Context) error {
	_, err := os.Stat(filepath.Dir(s.filePath))
	return err
}

// Close stops the flush goroutine and writes any unflushed changes.
func (s *FileStore) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stopFlush)
		s.flushTicker.Stop()
		<-s.flushDone

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.dirty {
			err = s.save()
		}
	})
	return err
}
