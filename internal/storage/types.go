package storage

import (
	"encoding/json"
	"time"
)

// IntentStatus is the lifecycle status stored on a ledger row. Rows are written
// once as active; entitlement is always derived from AccessExpiresAt at read time.
type IntentStatus string

const (
	StatusActive    IntentStatus = "active"
	StatusExpired   IntentStatus = "expired"
	StatusCancelled IntentStatus = "cancelled"
)

// Gateway identifies the payment provider that confirmed a ledger row.
type Gateway string

const (
	GatewayHosted Gateway = "hosted"
	GatewayStripe Gateway = "stripe"
)

// PaymentIntent is one append-only ledger row granting access until AccessExpiresAt.
type PaymentIntent struct {
	ID               string          `json:"id"`
	IdempotencyKey   string          `json:"idempotency_key"`
	UserID           string          `json:"user_id"`
	AmountCents      int64           `json:"amount_cents"`
	Currency         string          `json:"currency"`
	PlanType         string          `json:"plan_type"`
	Status           IntentStatus    `json:"status"`
	AccessExpiresAt  time.Time       `json:"access_expires_at"`
	PaidAt           time.Time       `json:"paid_at"`
	CreatedAt        time.Time       `json:"created_at"`
	Gateway          Gateway         `json:"gateway"`
	GatewayPaymentID string          `json:"gateway_payment_id,omitempty"`
	Email            string          `json:"email,omitempty"`
	PaymentMethod    string          `json:"payment_method,omitempty"`
	RawPayload       json.RawMessage `json:"raw_gateway_payload,omitempty"`
}

// EntitledAt reports whether this row grants access at the given instant.
func (p PaymentIntent) EntitledAt(now time.Time) bool {
	return p.Status == StatusActive && p.AccessExpiresAt.After(now)
}

// PendingIntent records that checkout was initialized for a key. It is never
// consulted for entitlement decisions.
type PendingIntent struct {
	IdempotencyKey string    `json:"idempotency_key"`
	UserID         string    `json:"user_id"`
	PlanType       string    `json:"plan_type"`
	Email          string    `json:"email,omitempty"`
	AmountCents    int64     `json:"amount_cents"`
	Gateway        Gateway   `json:"gateway"`
	CreatedAt      time.Time `json:"created_at"`
}

// NotificationKind classifies in-app notices.
type NotificationKind string

const (
	NotificationPassActivated NotificationKind = "pass_activated"
)

// Notification is an in-app notice shown to a user.
type Notification struct {
	ID             string           `json:"id"`
	UserID         string           `json:"user_id"`
	Kind           NotificationKind `json:"kind"`
	Title          string           `json:"title"`
	Body           string           `json:"body"`
	IdempotencyKey string           `json:"idempotency_key"`
	CreatedAt      time.Time        `json:"created_at"`
	ReadAt         *time.Time       `json:"read_at,omitempty"`
}

// BuildFunc derives the row to append from the user's latest active row
// (nil when the user has none). It runs inside the store's per-user critical section.
type BuildFunc func(latest *PaymentIntent) (PaymentIntent, error)

func notificationDedupKey(n Notification) string {
	return n.IdempotencyKey + "|" + string(n.Kind)
}

func ptrTime(t time.Time) *time.Time {
	return &t
}
