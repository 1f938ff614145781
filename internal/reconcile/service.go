package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/roomboard/passledger/internal/auth"
	"github.com/roomboard/passledger/internal/entitlements"
	"github.com/roomboard/passledger/internal/gateway"
	"github.com/roomboard/passledger/internal/idempotency"
	"github.com/roomboard/passledger/internal/logger"
	"github.com/roomboard/passledger/internal/metrics"
	"github.com/roomboard/passledger/internal/notifications"
	"github.com/roomboard/passledger/internal/storage"
	"github.com/roomboard/passledger/internal/stripe"
)

var (
	// ErrValidation marks a notification that is missing or has malformed fields.
	ErrValidation = errors.New("invalid notification")
	// ErrSignature marks a notification whose signature does not verify.
	ErrSignature = errors.New("invalid signature")
)

// Outcome is the result of reconciling one gateway event.
type Outcome int

const (
	// Created means a new ledger row was appended.
	Created Outcome = iota + 1
	// Duplicate means the event was already reconciled; nothing was written.
	Duplicate
	// Ignored means the event does not grant access (malformed key, unpaid status).
	Ignored
)

func (o Outcome) String() string {
	switch o {
	case Created:
		return "created"
	case Duplicate:
		return "duplicate"
	case Ignored:
		return "ignored"
	default:
		return "unknown"
	}
}

// Ignore reasons.
const (
	ReasonMalformedKey = "malformed_idempotency_key"
	ReasonNotPaid      = "status_not_paid"
	ReasonEventType    = "unhandled_event_type"
)

// Event is a gateway-neutral payment confirmation.
type Event struct {
	Gateway          storage.Gateway
	IdempotencyKey   string
	GatewayPaymentID string
	Paid             bool
	PlanType         string // wins over ItemName; only set from signed or server-issued data
	ItemName         string
	AmountCents      int64
	Currency         string
	Email            string
	PaymentMethod    string
	Raw              json.RawMessage
}

// Result describes what Process did.
type Result struct {
	Outcome Outcome
	Intent  storage.PaymentIntent
	Reason  string
}

// Service turns verified gateway notifications into ledger rows.
type Service struct {
	guard    *idempotency.Guard
	catalog  entitlements.Catalog
	verifier *auth.SignatureVerifier
	notifier notifications.Notifier
	logger   zerolog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// Option customizes a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

// WithMetrics records webhook and ledger metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithNotifier sets who is told about newly created rows.
func WithNotifier(n notifications.Notifier) Option {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates the reconciliation pipeline.
func NewService(guard *idempotency.Guard, catalog entitlements.Catalog, verifier *auth.SignatureVerifier, opts ...Option) *Service {
	s := &Service{
		guard:    guard,
		catalog:  catalog,
		verifier: verifier,
		notifier: notifications.NoopNotifier{},
		logger:   zerolog.Nop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// HandleHosted validates and verifies a hosted gateway notification, then processes it.
func (s *Service) HandleHosted(ctx context.Context, n gateway.Notification) (res Result, err error) {
	start := time.Now()
	defer func() { s.observe(string(storage.GatewayHosted), res, err, start) }()

	log := s.requestLogger(ctx).With().
		Str("gateway", string(storage.GatewayHosted)).
		Str("idempotency_key", logger.TruncateKey(n.IdempotencyKey)).
		Logger()

	if err := n.Validate(); err != nil {
		log.Warn().Err(err).Msg("webhook.invalid_payload")
		return Result{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if err := s.verifier.Verify(n.Fields(), n.Signature); err != nil {
		s.metrics.ObserveSignatureFailure(string(storage.GatewayHosted))
		log.Warn().Err(err).Str("status", n.Status).Msg("webhook.invalid_signature")
		return Result{}, fmt.Errorf("%w: %v", ErrSignature, err)
	}
	amount, err := entitlements.ParseAmount(n.Amount)
	if err != nil {
		log.Warn().Err(err).Msg("webhook.invalid_amount")
		return Result{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	return s.Process(ctx, Event{
		Gateway:          storage.GatewayHosted,
		IdempotencyKey:   strings.TrimSpace(n.IdempotencyKey),
		GatewayPaymentID: n.GatewayPaymentID,
		Paid:             n.IsPaid(),
		ItemName:         n.ItemName,
		AmountCents:      amount,
		Email:            strings.TrimSpace(n.Email),
		PaymentMethod:    n.PaymentMethod,
		Raw:              n.Raw,
	})
}

// HandleStripe processes a verified Stripe event. Only completed, paid checkouts grant access.
func (s *Service) HandleStripe(ctx context.Context, ev stripe.WebhookEvent) (res Result, err error) {
	start := time.Now()
	defer func() { s.observe(string(storage.GatewayStripe), res, err, start) }()

	if ev.Type != stripe.EventCheckoutCompleted {
		return Result{Outcome: Ignored, Reason: ReasonEventType}, nil
	}
	paymentID := ev.PaymentIntentID
	if paymentID == "" {
		paymentID = ev.SessionID
	}
	return s.Process(ctx, Event{
		Gateway:          storage.GatewayStripe,
		IdempotencyKey:   ev.IdempotencyKey,
		GatewayPaymentID: paymentID,
		Paid:             ev.Paid(),
		PlanType:         ev.PlanType,
		AmountCents:      ev.AmountTotal,
		Currency:         ev.Currency,
		Email:            ev.Email,
		PaymentMethod:    "card",
		Raw:              ev.Raw,
	})
}

// Process reconciles an already-verified event into the ledger.
//
// Malformed keys and unpaid statuses are ignored without a write. A paid event
// appends exactly one row per key with a stacked expiry, and only the delivery
// that created the row triggers notifications.
func (s *Service) Process(ctx context.Context, ev Event) (Result, error) {
	log := s.requestLogger(ctx).With().
		Str("gateway", string(ev.Gateway)).
		Str("idempotency_key", logger.TruncateKey(ev.IdempotencyKey)).
		Logger()

	userID, ok := idempotency.ParseKey(ev.IdempotencyKey)
	if !ok {
		log.Warn().Msg("webhook.malformed_key")
		return Result{Outcome: Ignored, Reason: ReasonMalformedKey}, nil
	}
	if !ev.Paid {
		log.Info().Msg("webhook.not_paid")
		return Result{Outcome: Ignored, Reason: ReasonNotPaid}, nil
	}

	plan, err := s.catalog.Resolve(ev.PlanType, ev.ItemName)
	if err != nil {
		log.Warn().Err(err).Str("item_name", ev.ItemName).Msg("webhook.unknown_plan")
		return Result{}, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	if plan.AmountCents > 0 && ev.AmountCents != plan.AmountCents {
		log.Warn().
			Int64("amount_cents", ev.AmountCents).
			Int64("plan_amount_cents", plan.AmountCents).
			Msg("webhook.amount_mismatch")
	}
	currency := ev.Currency
	if currency == "" {
		currency = plan.Currency
	}

	paidAt := s.now().UTC()
	outcome, row, err := s.guard.Commit(ctx, ev.IdempotencyKey, userID, func(latest *storage.PaymentIntent) (storage.PaymentIntent, error) {
		return storage.PaymentIntent{
			AmountCents:      ev.AmountCents,
			Currency:         currency,
			PlanType:         plan.Type,
			Status:           storage.StatusActive,
			AccessExpiresAt:  entitlements.ComputeExpiry(latest, plan.Duration, paidAt),
			PaidAt:           paidAt,
			Gateway:          ev.Gateway,
			GatewayPaymentID: ev.GatewayPaymentID,
			Email:            ev.Email,
			PaymentMethod:    ev.PaymentMethod,
			RawPayload:       ev.Raw,
		}, nil
	})
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("ledger.append_failed")
		return Result{}, err
	}

	if outcome == idempotency.AlreadyProcessed {
		log.Info().Str("user_id", userID).Msg("webhook.duplicate")
		return Result{Outcome: Duplicate, Intent: row}, nil
	}

	s.metrics.ObserveLedgerAppend(row.PlanType, string(row.Gateway), row.Currency, row.AmountCents)
	log.Info().
		Str("user_id", userID).
		Str("plan_type", row.PlanType).
		Time("access_expires_at", row.AccessExpiresAt).
		Msg("ledger.appended")

	s.notifier.Notify(ctx, notifications.Notice{
		UserID:         row.UserID,
		Email:          row.Email,
		PlanType:       row.PlanType,
		ItemName:       firstNonEmpty(plan.ItemName, row.PlanType),
		ExpiresAt:      row.AccessExpiresAt,
		IdempotencyKey: row.IdempotencyKey,
		AmountCents:    row.AmountCents,
		Currency:       row.Currency,
	})
	return Result{Outcome: Created, Intent: row}, nil
}

func (s *Service) observe(source string, res Result, err error, start time.Time) {
	outcome := res.Outcome.String()
	switch {
	case errors.Is(err, ErrSignature):
		outcome = "invalid_signature"
	case errors.Is(err, ErrValidation):
		outcome = "invalid"
	case err != nil:
		outcome = "error"
	}
	s.metrics.ObserveWebhook(source, outcome, time.Since(start))
}

func (s *Service) requestLogger(ctx context.Context) zerolog.Logger {
	if l := logger.FromContext(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return s.logger
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
