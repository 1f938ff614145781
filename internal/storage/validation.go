package storage

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// prepareIntent validates required fields and fills store-assigned defaults.
func prepareIntent(intent *PaymentIntent) error {
	if intent.IdempotencyKey == "" {
		return fmt.Errorf("payment intent requires idempotency_key")
	}
	if intent.UserID == "" {
		return fmt.Errorf("payment intent requires user_id")
	}
	if intent.PlanType == "" {
		return fmt.Errorf("payment intent requires plan_type")
	}
	if intent.AccessExpiresAt.IsZero() {
		return fmt.Errorf("payment intent requires access_expires_at")
	}
	if intent.ID == "" {
		intent.ID = uuid.NewString()
	}
	if intent.Status == "" {
		intent.Status = StatusActive
	}
	now := time.Now().UTC()
	if intent.CreatedAt.IsZero() {
		intent.CreatedAt = now
	}
	if intent.PaidAt.IsZero() {
		intent.PaidAt = intent.CreatedAt
	}
	intent.AccessExpiresAt = intent.AccessExpiresAt.UTC()
	intent.PaidAt = intent.PaidAt.UTC()
	intent.CreatedAt = intent.CreatedAt.UTC()
	return nil
}

func preparePendingIntent(p *PendingIntent) error {
	if p.IdempotencyKey == "" {
		return fmt.Errorf("pending intent requires idempotency_key")
	}
	if p.UserID == "" {
		return fmt.Errorf("pending intent requires user_id")
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	return nil
}

func prepareNotification(n *Notification) error {
	if n.UserID == "" {
		return fmt.Errorf("notification requires user_id")
	}
	if n.Kind == "" {
		return fmt.Errorf("notification requires kind")
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	return nil
}

// buildForUser runs build against latest and checks the result belongs to userID.
func buildForUser(userID string, latest *PaymentIntent, build BuildFunc) (PaymentIntent, error) {
	intent, err := build(latest)
	if err != nil {
		return PaymentIntent{}, err
	}
	if intent.UserID == "" {
		intent.UserID = userID
	}
	if intent.UserID != userID {
		return PaymentIntent{}, fmt.Errorf("payment intent user %q does not match locked user %q", intent.UserID, userID)
	}
	if err := prepareIntent(&intent); err != nil {
		return PaymentIntent{}, err
	}
	return intent, nil
}
