package storage

import (
	"sort"
	"time"
)

// ledgerState is the in-process representation shared by MemoryStore and FileStore.
// Callers hold the owning store's lock.
type ledgerState struct {
	Intents       map[string]PaymentIntent `json:"payment_intents"` // idempotency key -> row
	Pending       map[string]PendingIntent `json:"pending_intents"` // idempotency key -> pending
	Notifications map[string]Notification  `json:"notifications"`   // key|kind -> notice

	byUser map[string][]string // user -> idempotency keys
}

func newLedgerState() *ledgerState {
	return &ledgerState{
		Intents:       make(map[string]PaymentIntent),
		Pending:       make(map[string]PendingIntent),
		Notifications: make(map[string]Notification),
		byUser:        make(map[string][]string),
	}
}

// reindex rebuilds the per-user index after loading persisted state.
func (s *ledgerState) reindex() {
	if s.Intents == nil {
		s.Intents = make(map[string]PaymentIntent)
	}
	if s.Pending == nil {
		s.Pending = make(map[string]PendingIntent)
	}
	if s.Notifications == nil {
		s.Notifications = make(map[string]Notification)
	}
	s.byUser = make(map[string][]string, len(s.Intents))
	for key, intent := range s.Intents {
		s.byUser[intent.UserID] = append(s.byUser[intent.UserID], key)
	}
}

func (s *ledgerState) insert(intent PaymentIntent) error {
	if _, exists := s.Intents[intent.IdempotencyKey]; exists {
		return ErrConflict
	}
	s.Intents[intent.IdempotencyKey] = intent
	s.byUser[intent.UserID] = append(s.byUser[intent.UserID], intent.IdempotencyKey)
	return nil
}

func (s *ledgerState) get(key string) (PaymentIntent, error) {
	intent, ok := s.Intents[key]
	if !ok {
		return PaymentIntent{}, ErrNotFound
	}
	return intent, nil
}

func (s *ledgerState) latestActive(userID string) (PaymentIntent, error) {
	var (
		best  PaymentIntent
		found bool
	)
	for _, key := range s.byUser[userID] {
		intent := s.Intents[key]
		if intent.Status != StatusActive {
			continue
		}
		if !found || intent.AccessExpiresAt.After(best.AccessExpiresAt) {
			best = intent
			found = true
		}
	}
	if !found {
		return PaymentIntent{}, ErrNotFound
	}
	return best, nil
}

func (s *ledgerState) listByUser(userID string, limit int) []PaymentIntent {
	keys := s.byUser[userID]
	out := make([]PaymentIntent, 0, len(keys))
	for _, key := range keys {
		out = append(out, s.Intents[key])
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].AccessExpiresAt.After(out[j].AccessExpiresAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *ledgerState) savePending(p PendingIntent) {
	if _, exists := s.Pending[p.IdempotencyKey]; exists {
		return
	}
	s.Pending[p.IdempotencyKey] = p
}

func (s *ledgerState) getPending(key string) (PendingIntent, error) {
	p, ok := s.Pending[key]
	if !ok {
		return PendingIntent{}, ErrNotFound
	}
	return p, nil
}

func (s *ledgerState) createNotification(n Notification) error {
	dedup := notificationDedupKey(n)
	if _, exists := s.Notifications[dedup]; exists {
		return ErrConflict
	}
	s.Notifications[dedup] = n
	return nil
}

func (s *ledgerState) listNotifications(userID string, limit int) []Notification {
	var out []Notification
	for _, n := range s.Notifications {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// prunePending drops pending intents older than the cutoff and any that were paid.
func (s *ledgerState) prunePending(cutoff time.Time) int {
	removed := 0
	for key, p := range s.Pending {
		_, paid := s.Intents[key]
		if paid || p.CreatedAt.Before(cutoff) {
			delete(s.Pending, key)
			removed++
		}
	}
	return removed
}
