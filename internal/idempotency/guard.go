package idempotency

import (
	"context"
	"errors"
	"fmt"

	"github.com/roomboard/passledger/internal/storage"
)

// Outcome reports what Commit did with a key.
type Outcome int

const (
	// Created means this call appended the ledger row.
	Created Outcome = iota + 1
	// AlreadyProcessed means a row for the key existed; nothing was written.
	AlreadyProcessed
)

func (o Outcome) String() string {
	switch o {
	case Created:
		return "created"
	case AlreadyProcessed:
		return "already_processed"
	default:
		return "unknown"
	}
}

// Guard makes ledger writes exactly-once per idempotency key.
type Guard struct {
	store storage.Store
}

// NewGuard returns a Guard over the ledger store.
func NewGuard(store storage.Store) *Guard {
	return &Guard{store: store}
}

// Commit appends the row produced by build unless key was already committed.
//
// build receives the user's latest active row and runs inside the store's per-user
// critical section. The returned row is the one written (Created) or the existing
// row (AlreadyProcessed). Store failures are returned as errors so the caller can
// ask the gateway to redeliver.
func (g *Guard) Commit(ctx context.Context, key, userID string, build storage.BuildFunc) (Outcome, storage.PaymentIntent, error) {
	existing, err := g.store.GetByIdempotencyKey(ctx, key)
	switch {
	case err == nil:
		return AlreadyProcessed, existing, nil
	case !errors.Is(err, storage.ErrNotFound):
		return 0, storage.PaymentIntent{}, fmt.Errorf("lookup idempotency key: %w", err)
	}

	row, err := g.store.AppendForUser(ctx, userID, func(latest *storage.PaymentIntent) (storage.PaymentIntent, error) {
		intent, err := build(latest)
		if err != nil {
			return storage.PaymentIntent{}, err
		}
		intent.IdempotencyKey = key
		intent.UserID = userID
		return intent, nil
	})
	if errors.Is(err, storage.ErrConflict) {
		// Lost the race to a concurrent delivery of the same event
		existing, lookupErr := g.store.GetByIdempotencyKey(ctx, key)
		if lookupErr != nil {
			existing = storage.PaymentIntent{IdempotencyKey: key, UserID: userID}
		}
		return AlreadyProcessed, existing, nil
	}
	if err != nil {
		return 0, storage.PaymentIntent{}, fmt.Errorf("append ledger row: %w", err)
	}
	return Created, row, nil
}
