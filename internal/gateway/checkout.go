package gateway

import (
	"fmt"
	"net/url"

	"github.com/roomboard/passledger/internal/auth"
	"github.com/roomboard/passledger/internal/config"
)

// CheckoutRequest describes one hosted checkout redirect. The plan travels only
// as ItemName, which is signed.
type CheckoutRequest struct {
	IdempotencyKey string
	ItemName       string
	Amount         string
	Email          string
}

// Client builds signed redirect URLs for the hosted gateway.
type Client struct {
	cfg config.GatewayConfig
}

// NewClient creates a hosted gateway client.
func NewClient(cfg config.GatewayConfig) *Client {
	return &Client{cfg: cfg}
}

// Sandbox reports whether the client targets the sandbox process URL.
func (c *Client) Sandbox() bool {
	return c.cfg.Sandbox
}

// PaymentURL returns the process URL carrying the checkout fields and their signature.
func (c *Client) PaymentURL(req CheckoutRequest) (string, error) {
	base := c.cfg.CheckoutURL()
	if base == "" {
		return "", fmt.Errorf("gateway process url not configured")
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse process url: %w", err)
	}

	signed := map[string]string{
		"merchant_id":     c.cfg.MerchantID,
		"idempotency_key": req.IdempotencyKey,
		"item_name":       req.ItemName,
		"amount":          req.Amount,
		"email":           req.Email,
	}

	q := u.Query()
	for k, v := range signed {
		if v != "" {
			q.Set(k, v)
		}
	}
	setIfNotEmpty(q, "merchant_key", c.cfg.MerchantKey)
	setIfNotEmpty(q, "return_url", c.cfg.ReturnURL)
	setIfNotEmpty(q, "cancel_url", c.cfg.CancelURL)
	setIfNotEmpty(q, "notify_url", c.cfg.NotifyURL)
	if c.cfg.Passphrase != "" {
		q.Set("signature", auth.Sign(signed, c.cfg.Passphrase))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func setIfNotEmpty(q url.Values, key, value string) {
	if value != "" {
		q.Set(key, value)
	}
}
