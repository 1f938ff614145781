package storage

import (
	"context"

	"github.com/roomboard/passledger/internal/metrics"
)

// instrumentedStore records the latency of every store call.
type instrumentedStore struct {
	Store
	metrics *metrics.Metrics
	backend string
}

// WithMetrics wraps store so each operation is timed under the given backend label.
// A nil m returns store unchanged.
func WithMetrics(store Store, m *metrics.Metrics, backend string) Store {
	if m == nil {
		return store
	}
	return &instrumentedStore{Store: store, metrics: m, backend: backend}
}

func (s *instrumentedStore) Append(ctx context.Context, intent PaymentIntent) (PaymentIntent, error) {
	defer metrics.MeasureDBQuery(s.metrics, "append", s.backend)()
	return s.Store.Append(ctx, intent)
}

func (s *instrumentedStore) AppendForUser(ctx context.Context, userID string, build BuildFunc) (PaymentIntent, error) {
	defer metrics.MeasureDBQuery(s.metrics, "append_for_user", s.backend)()
	return s.Store.AppendForUser(ctx, userID, build)
}

func (s *instrumentedStore) GetByIdempotencyKey(ctx context.Context, key string) (PaymentIntent, error) {
	defer metrics.MeasureDBQuery(s.metrics, "get_by_key", s.backend)()
	return s.Store.GetByIdempotencyKey(ctx, key)
}

func (s *instrumentedStore) LatestActive(ctx context.Context, userID string) (PaymentIntent, error) {
	defer metrics.MeasureDBQuery(s.metrics, "latest_active", s.backend)()
	return s.Store.LatestActive(ctx, userID)
}

func (s *instrumentedStore) ListByUser(ctx context.Context, userID string, limit int) ([]PaymentIntent, error) {
	defer metrics.MeasureDBQuery(s.metrics, "list_by_user", s.backend)()
	return s.Store.ListByUser(ctx, userID, limit)
}

func (s *instrumentedStore) SavePendingIntent(ctx context.Context, pending PendingIntent) error {
	defer metrics.MeasureDBQuery(s.metrics, "save_pending", s.backend)()
	return s.Store.SavePendingIntent(ctx, pending)
}

func (s *instrumentedStore) GetPendingIntent(ctx context.Context, key string) (PendingIntent, error) {
	defer metrics.MeasureDBQuery(s.metrics, "get_pending", s.backend)()
	return s.Store.GetPendingIntent(ctx, key)
}

func (s *instrumentedStore) CreateNotification(ctx context.Context, n Notification) error {
	defer metrics.MeasureDBQuery(s.metrics, "create_notification", s.backend)()
	return s.Store.CreateNotification(ctx, n)
}

func (s *instrumentedStore) ListNotifications(ctx context.Context, userID string, limit int) ([]Notification, error) {
	defer metrics.MeasureDBQuery(s.metrics, "list_notifications", s.backend)()
	return s.Store.ListNotifications(ctx, userID, limit)
}
