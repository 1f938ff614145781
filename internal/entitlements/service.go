package entitlements

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/roomboard/passledger/internal/metrics"
	"github.com/roomboard/passledger/internal/storage"
)

// Tier is the projected access level.
type Tier string

const (
	TierFree Tier = "free"
	TierPaid Tier = "paid"
)

// AccessLevel is either Paid (with expiry and plan) or Free.
type AccessLevel struct {
	Tier      Tier       `json:"access"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	PlanType  string     `json:"plan_type,omitempty"`
}

// Free is the access level for anyone without a live pass.
func Free() AccessLevel {
	return AccessLevel{Tier: TierFree}
}

// Paid returns a paid access level.
func Paid(expiresAt time.Time, planType string) AccessLevel {
	e := expiresAt.UTC()
	return AccessLevel{Tier: TierPaid, ExpiresAt: &e, PlanType: planType}
}

// IsPaid reports whether the level grants premium access.
func (a AccessLevel) IsPaid() bool {
	return a.Tier == TierPaid
}

// HistoryEntry is a ledger row with its entitlement projected at query time.
type HistoryEntry struct {
	storage.PaymentIntent
	Entitled bool `json:"entitled"`
}

// Service answers "is this user currently paid?" from the ledger.
type Service struct {
	store   storage.Store
	timeout time.Duration
	logger  zerolog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewService creates the query service. timeout bounds each lookup (default 2s).
func NewService(store storage.Store, timeout time.Duration, logger zerolog.Logger, m *metrics.Metrics) *Service {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Service{
		store:   store,
		timeout: timeout,
		logger:  logger,
		metrics: m,
		now:     time.Now,
	}
}

// GetAccessLevel projects the user's access level at the current time.
// It never fails: an empty user, a store error or a timeout all yield Free.
func (s *Service) GetAccessLevel(ctx context.Context, userID string) AccessLevel {
	if userID == "" {
		s.metrics.ObserveAccessQuery("free")
		return Free()
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	latest, err := s.store.LatestActive(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.metrics.ObserveAccessQuery("free")
			return Free()
		}
		s.logger.Warn().Err(err).Str("user_id", userID).Msg("access.lookup_failed")
		s.metrics.ObserveAccessQuery("degraded")
		return Free()
	}

	// Stored status stays "active" after expiry; the projection happens here
	if !latest.EntitledAt(s.now()) {
		s.metrics.ObserveAccessQuery("free")
		return Free()
	}
	s.metrics.ObserveAccessQuery("paid")
	return Paid(latest.AccessExpiresAt, latest.PlanType)
}

// History returns the user's ledger rows, newest expiry first, each flagged with
// whether it is entitled right now.
func (s *Service) History(ctx context.Context, userID string, limit int) ([]HistoryEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	rows, err := s.store.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	now := s.now()
	out := make([]HistoryEntry, 0, len(rows))
	for _, row := range rows {
		row.RawPayload = nil
		out = append(out, HistoryEntry{PaymentIntent: row, Entitled: row.EntitledAt(now)})
	}
	return out, nil
}
