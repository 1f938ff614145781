package storage

import (
	"context"
	"time"
)

const (
	// DefaultQueryTimeout is the maximum time allowed for database queries.
	DefaultQueryTimeout = 5 * time.Second

	// CleanupInterval is how often in-process stores prune stale pending intents.
	CleanupInterval = 1 * time.Hour

	// PendingIntentRetention bounds how long unpaid pending intents are kept by in-process stores.
	PendingIntentRetention = 7 * 24 * time.Hour

	// DefaultListLimit caps list queries when the caller passes a non-positive limit.
	DefaultListLimit = 100
)

// withQueryTimeout wraps the context with a query timeout if one isn't already set.
// An existing caller deadline is respected.
func withQueryTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, DefaultQueryTimeout)
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return DefaultListLimit
	}
	return limit
}
