package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	stripeapi "github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/checkout/session"
	"github.com/stripe/stripe-go/v72/webhook"

	"github.com/roomboard/passledger/internal/circuitbreaker"
	"github.com/roomboard/passledger/internal/config"
)

// EventCheckoutCompleted is the only event type that grants access.
const EventCheckoutCompleted = "checkout.session.completed"

var (
	// ErrWebhookSecret is returned when no webhook secret is configured.
	ErrWebhookSecret = errors.New("stripe: webhook secret not configured")
	// ErrInvalidSignature wraps signature and payload verification failures.
	ErrInvalidSignature = errors.New("stripe: invalid webhook signature")
)

// Client wraps stripe-go operations used by the server.
type Client struct {
	cfg        config.StripeConfig
	breakers   *circuitbreaker.Manager
	newSession func(*stripeapi.CheckoutSessionParams) (*stripeapi.CheckoutSession, error)
}

// NewClient sets up stripe-go with the provided credentials.
func NewClient(cfg config.StripeConfig, breakers *circuitbreaker.Manager) *Client {
	stripeapi.Key = cfg.SecretKey
	return &Client{
		cfg:        cfg,
		breakers:   breakers,
		newSession: session.New,
	}
}

// CreateSessionRequest captures checkout metadata for one pass purchase.
type CreateSessionRequest struct {
	IdempotencyKey string
	UserID         string
	PlanType       string
	ItemName       string
	AmountCents    int64
	Currency       string
	CustomerEmail  string
	SuccessURL     string
	CancelURL      string
}

// CreateCheckoutSession builds a Stripe Checkout session whose client reference
// is the idempotency key, so the completion webhook maps back to the ledger row.
func (c *Client) CreateCheckoutSession(ctx context.Context, req CreateSessionRequest) (*stripeapi.CheckoutSession, error) {
	if req.IdempotencyKey == "" {
		return nil, errors.New("stripe: idempotency key required")
	}
	if req.AmountCents <= 0 {
		return nil, errors.New("stripe: amount required")
	}

	params := &stripeapi.CheckoutSessionParams{
		Mode:               stripeapi.String(string(stripeapi.CheckoutSessionModePayment)),
		PaymentMethodTypes: stripeapi.StringSlice([]string{"card"}),
		SuccessURL:         stripeapi.String(firstNonEmpty(req.SuccessURL, c.cfg.SuccessURL)),
		CancelURL:          stripeapi.String(firstNonEmpty(req.CancelURL, c.cfg.CancelURL)),
		ClientReferenceID:  stripeapi.String(req.IdempotencyKey),
		LineItems: []*stripeapi.CheckoutSessionLineItemParams{
			{
				Quantity: stripeapi.Int64(1),
				PriceData: &stripeapi.CheckoutSessionLineItemPriceDataParams{
					Currency: stripeapi.String(strings.ToLower(req.Currency)),
					ProductData: &stripeapi.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripeapi.String(firstNonEmpty(req.ItemName, req.PlanType)),
					},
					UnitAmount: stripeapi.Int64(req.AmountCents),
				},
			},
		},
	}
	params.Metadata = sessionMetadata(req)
	params.Context = ctx
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripeapi.String(req.CustomerEmail)
	}

	result, err := c.breakers.Execute(circuitbreaker.ServiceStripe, func() (interface{}, error) {
		return c.newSession(params)
	})
	if err != nil {
		return nil, fmt.Errorf("stripe: create checkout session: %w", err)
	}
	return result.(*stripeapi.CheckoutSession), nil
}

// WebhookEvent is the normalised subset of a Stripe event.
type WebhookEvent struct {
	Type            string
	EventID         string
	SessionID       string
	IdempotencyKey  string
	PlanType        string
	Email           string
	PaymentStatus   string
	PaymentIntentID string
	AmountTotal     int64
	Currency        string
	Raw             json.RawMessage
}

// Paid reports whether the checkout completed with a captured payment.
func (e WebhookEvent) Paid() bool {
	return e.Type == EventCheckoutCompleted &&
		e.PaymentStatus == string(stripeapi.CheckoutSessionPaymentStatusPaid)
}

// ParseWebhook validates the Stripe-Signature header and normalises the payload.
// Event types other than checkout completion are returned with only Type set.
func (c *Client) ParseWebhook(payload []byte, signature string) (WebhookEvent, error) {
	if c.cfg.WebhookSecret == "" {
		return WebhookEvent{}, ErrWebhookSecret
	}
	event, err := webhook.ConstructEvent(payload, signature, c.cfg.WebhookSecret)
	if err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if event.Type != EventCheckoutCompleted {
		return WebhookEvent{Type: event.Type, EventID: event.ID}, nil
	}

	var checkout stripeapi.CheckoutSession
	if err := jsonExtract(event.Data.Raw, &checkout); err != nil {
		return WebhookEvent{}, err
	}

	key := checkout.ClientReferenceID
	planType := ""
	if checkout.Metadata != nil {
		if key == "" {
			key = checkout.Metadata["idempotency_key"]
		}
		planType = checkout.Metadata["plan_type"]
	}
	email := checkout.CustomerEmail
	if email == "" && checkout.CustomerDetails != nil {
		email = checkout.CustomerDetails.Email
	}
	paymentIntentID := ""
	if checkout.PaymentIntent != nil {
		paymentIntentID = checkout.PaymentIntent.ID
	}

	return WebhookEvent{
		Type:            event.Type,
		EventID:         event.ID,
		SessionID:       checkout.ID,
		IdempotencyKey:  key,
		PlanType:        planType,
		Email:           email,
		PaymentStatus:   string(checkout.PaymentStatus),
		PaymentIntentID: paymentIntentID,
		AmountTotal:     checkout.AmountTotal,
		Currency:        strings.ToUpper(string(checkout.Currency)),
		Raw:             event.Data.Raw,
	}, nil
}

func sessionMetadata(req CreateSessionRequest) map[string]string {
	out := map[string]string{
		"idempotency_key": req.IdempotencyKey,
		"plan_type":       req.PlanType,
	}
	if req.UserID != "" {
		out["user_id"] = req.UserID
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func jsonExtract(data []byte, v any) error {
	if len(data) == 0 {
		return errors.New("stripe: webhook payload empty")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("stripe: decode webhook payload: %w", err)
	}
	return nil
}
