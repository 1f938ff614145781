package entitlements

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roomboard/passledger/internal/config"
	"github.com/roomboard/passledger/internal/metrics"
	"github.com/roomboard/passledger/internal/storage"
)

const day = 24 * time.Hour

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func activeRow(key, user, plan string, expires time.Time) storage.PaymentIntent {
	return storage.PaymentIntent{
		IdempotencyKey:  key,
		UserID:          user,
		PlanType:        plan,
		Status:          storage.StatusActive,
		AccessExpiresAt: expires,
	}
}

func TestComputeExpiry(t *testing.T) {
	weekly := 5 * day
	monthly := 25 * day
	live := activeRow("k", "u1", PlanWeekly, t0.Add(5*day))
	expired := activeRow("k", "u1", PlanWeekly, t0.Add(-time.Second))
	cancelled := live
	cancelled.Status = storage.StatusCancelled

	tests := []struct {
		name     string
		latest   *storage.PaymentIntent
		duration time.Duration
		now      time.Time
		want     time.Time
	}{
		{"first purchase starts now", nil, weekly, t0, t0.Add(5 * day)},
		{"renewal before expiry stacks", &live, monthly, t0.Add(2 * day), t0.Add(30 * day)},
		{"purchase after expiry starts now", &expired, weekly, t0, t0.Add(5 * day)},
		{"expiry exactly now does not stack", &live, weekly, t0.Add(5 * day), t0.Add(10 * day)},
		{"cancelled row never stacks", &cancelled, weekly, t0, t0.Add(5 * day)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeExpiry(tt.latest, tt.duration, tt.now)
			assert.True(t, got.Equal(tt.want), "got %s want %s", got, tt.want)
			assert.Equal(t, time.UTC, got.Location())
		})
	}
}

func TestCatalog_Resolve(t *testing.T) {
	c := DefaultCatalog()

	weekly, ok := c.Lookup("WEEKLY")
	require.True(t, ok)
	assert.Equal(t, 5, weekly.Days())
	assert.Equal(t, "49.00", weekly.Amount())
	assert.Equal(t, "ZAR", weekly.Currency)

	monthly, err := c.Resolve("", "monthly pass")
	require.NoError(t, err)
	assert.Equal(t, PlanMonthly, monthly.Type)
	assert.Equal(t, 25, monthly.Days())

	byKey, err := c.Resolve("", " Weekly ")
	require.NoError(t, err)
	assert.Equal(t, PlanWeekly, byKey.Type)

	explicit, err := c.Resolve("monthly", "Weekly Pass")
	require.NoError(t, err)
	assert.Equal(t, PlanMonthly, explicit.Type, "explicit plan type wins over item name")

	_, err = c.Resolve("yearly", "")
	assert.ErrorIs(t, err, ErrUnknownPlan)
	_, err = c.Resolve("", "Lifetime Pass")
	assert.ErrorIs(t, err, ErrUnknownPlan)
	_, err = c.Resolve("", "")
	assert.ErrorIs(t, err, ErrUnknownPlan)

	plans := c.Plans()
	require.Len(t, plans, 2)
	assert.Equal(t, PlanWeekly, plans[0].Type)
}

func TestNewCatalog_FromConfig(t *testing.T) {
	c := NewCatalog(config.PlansConfig{
		Currency: "USD",
		Catalog: map[string]config.PlanConfig{
			"Daily": {Duration: config.Duration{Duration: day}, AmountCents: 199, ItemName: "Day Ticket"},
			"":      {Duration: config.Duration{Duration: day}},
		},
	})
	p, ok := c.FromItemName("day ticket")
	require.True(t, ok)
	assert.Equal(t, "daily", p.Type)
	assert.Equal(t, "USD", p.Currency)
	assert.Len(t, c.Plans(), 1)
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"49.00", 4900, false},
		{"149", 14900, false},
		{"49.5", 4950, false},
		{" 0.99 ", 99, false},
		{".50", 50, false},
		{"49.999", 0, true},
		{"-1.00", 0, true},
		{"abc", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseAmount(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
	assert.Equal(t, "149.00", FormatCents(14900))
	assert.Equal(t, "0.05", FormatCents(5))
	assert.Equal(t, "-1.50", FormatCents(-150))
}

func newTestService(store storage.Store, now time.Time) (*Service, *metrics.Metrics) {
	m := metrics.New(prometheus.NewRegistry())
	svc := NewService(store, 0, zerolog.Nop(), m)
	svc.now = func() time.Time { return now }
	return svc, m
}

func TestService_GetAccessLevel(t *testing.T) {
	store := storage.NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	_, err := store.Append(ctx, activeRow("RB-1", "u1", PlanWeekly, t0.Add(5*day)))
	require.NoError(t, err)
	_, err = store.Append(ctx, activeRow("RB-2", "u1", PlanMonthly, t0.Add(30*day)))
	require.NoError(t, err)

	svc, m := newTestService(store, t0.Add(day))
	level := svc.GetAccessLevel(ctx, "u1")
	require.True(t, level.IsPaid())
	assert.Equal(t, PlanMonthly, level.PlanType)
	assert.True(t, level.ExpiresAt.Equal(t0.Add(30*day)))

	assert.Equal(t, Free(), svc.GetAccessLevel(ctx, "nobody"))
	assert.Equal(t, Free(), svc.GetAccessLevel(ctx, ""))
	assert.Equal(t, float64(1), promtest.ToFloat64(m.AccessQueriesTotal.WithLabelValues("paid")))
	assert.Equal(t, float64(2), promtest.ToFloat64(m.AccessQueriesTotal.WithLabelValues("free")))
}

func TestService_ExpiredActiveRowIsFree(t *testing.T) {
	store := storage.NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	_, err := store.Append(ctx, activeRow("RB-1", "u1", PlanWeekly, t0.Add(-time.Second)))
	require.NoError(t, err)

	svc, _ := newTestService(store, t0)
	assert.Equal(t, Free(), svc.GetAccessLevel(ctx, "u1"))

	// No write happened; the stored status is unchanged
	row, err := store.GetByIdempotencyKey(ctx, "RB-1")
	require.NoError(t, err)
	assert.Equal(t, storage.StatusActive, row.Status)
}

// brokenStore fails every lookup.
type brokenStore struct {
	storage.Store
}

func (brokenStore) LatestActive(context.Context, string) (storage.PaymentIntent, error) {
	return storage.PaymentIntent{}, errors.New("connection reset")
}

func (brokenStore) ListByUser(context.Context, string, int) ([]storage.PaymentIntent, error) {
	return nil, errors.New("connection reset")
}

// slowStore blocks until the context is done.
type slowStore struct {
	storage.Store
}

func (slowStore) LatestActive(ctx context.Context, _ string) (storage.PaymentIntent, error) {
	<-ctx.Done()
	return storage.PaymentIntent{}, ctx.Err()
}

func TestService_DegradesToFree(t *testing.T) {
	svc, m := newTestService(brokenStore{}, t0)
	assert.Equal(t, Free(), svc.GetAccessLevel(context.Background(), "u1"))
	assert.Equal(t, float64(1), promtest.ToFloat64(m.AccessQueriesTotal.WithLabelValues("degraded")))

	_, err := svc.History(context.Background(), "u1", 10)
	assert.Error(t, err)
}

func TestService_TimeoutYieldsFree(t *testing.T) {
	svc := NewService(slowStore{}, 20*time.Millisecond, zerolog.Nop(), nil)

	start := time.Now()
	level := svc.GetAccessLevel(context.Background(), "u1")
	assert.Equal(t, Free(), level)
	assert.Less(t, time.Since(start), time.Second)
}

func TestService_HistoryFlagsEntitledRows(t *testing.T) {
	store := storage.NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	old := activeRow("RB-old", "u1", PlanWeekly, t0.Add(-day))
	old.RawPayload = []byte(`{"status":"paid"}`)
	_, err := store.Append(ctx, old)
	require.NoError(t, err)
	_, err = store.Append(ctx, activeRow("RB-new", "u1", PlanMonthly, t0.Add(24*day)))
	require.NoError(t, err)

	svc, _ := newTestService(store, t0)
	history, err := svc.History(ctx, "u1", 0)
	require.NoError(t, err)
	require.Len(t, history, 2)

	assert.Equal(t, "RB-new", history[0].IdempotencyKey)
	assert.True(t, history[0].Entitled)
	assert.Equal(t, "RB-old", history[1].IdempotencyKey)
	assert.False(t, history[1].Entitled)
	assert.Nil(t, history[1].RawPayload)
}
