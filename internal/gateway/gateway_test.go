package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roomboard/passledger/internal/auth"
	"github.com/roomboard/passledger/internal/config"
)

const testKey = "RB-0b5a1c7e-3f0e-4b8a-9c1d-2e3f4a5b6c7d-1772366400000"

func TestParseNotification_JSON(t *testing.T) {
	body := `{"merchant_id":"10000100","gateway_payment_id":"pf-991","idempotency_key":"` + testKey + `",
		"status":"paid","item_name":"Weekly Pass","amount":49.00,"email":"rider@example.com",
		"payment_method":"cc","signature":"abc","extra":{"nested":true}}`
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	n, err := ParseNotification(req)
	require.NoError(t, err)
	assert.Equal(t, testKey, n.IdempotencyKey)
	assert.Equal(t, "49.00", n.Amount, "numbers keep their literal text")
	assert.Equal(t, "pf-991", n.GatewayPaymentID)
	assert.True(t, n.IsPaid())
	require.NoError(t, n.Validate())

	var raw map[string]string
	require.NoError(t, json.Unmarshal(n.Raw, &raw))
	assert.Equal(t, `{"nested":true}`, raw["extra"])
}

func TestParseNotification_Form(t *testing.T) {
	form := url.Values{
		"custom_payment_id": {testKey},
		"status":            {"COMPLETE"},
		"item_name":         {"Monthly Pass"},
		"amount":            {"149.00"},
		"email":             {"rider@example.com"},
	}
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	n, err := ParseNotification(req)
	require.NoError(t, err)
	assert.Equal(t, testKey, n.IdempotencyKey)
	assert.True(t, n.IsPaid())
	assert.NoError(t, n.Validate())
}

func TestParseNotification_Rejects(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"idempotency_key":`},
		{"array body", `[1,2]`},
		{"oversized", `{"pad":"` + strings.Repeat("x", MaxNotificationBytes) + `"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(tt.body))
			_, err := ParseNotification(req)
			assert.ErrorIs(t, err, ErrInvalidNotification)
		})
	}
}

func TestNotification_Validate(t *testing.T) {
	valid := Notification{IdempotencyKey: testKey, Status: "paid", ItemName: "Weekly Pass", Amount: "49.00"}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Notification)
		field  string
	}{
		{"missing key", func(n *Notification) { n.IdempotencyKey = "" }, "idempotency_key"},
		{"missing status", func(n *Notification) { n.Status = "" }, "status"},
		{"missing amount", func(n *Notification) { n.Amount = "" }, "amount"},
		{"missing item", func(n *Notification) { n.ItemName = "" }, "item_name"},
		{"bad email", func(n *Notification) { n.Email = "not-an-email" }, "email"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := valid
			tt.mutate(&n)
			err := n.Validate()
			require.ErrorIs(t, err, ErrInvalidNotification)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestNotification_IsPaid(t *testing.T) {
	for status, want := range map[string]bool{
		"paid": true, "PAID": true, " Complete ": true,
		"pending": false, "failed": false, "cancelled": false, "": false,
	} {
		assert.Equal(t, want, Notification{Status: status}.IsPaid(), status)
	}
}

func TestNotification_FieldsVerify(t *testing.T) {
	n := Notification{MerchantID: "m1", IdempotencyKey: testKey, Status: "paid", ItemName: "Weekly Pass", Amount: "49.00"}
	n.Signature = auth.Sign(n.Fields(), "s3cret")

	v := auth.NewSignatureVerifier("s3cret", false)
	assert.NoError(t, v.Verify(n.Fields(), n.Signature))

	n.Amount = "1.00"
	assert.ErrorIs(t, v.Verify(n.Fields(), n.Signature), auth.ErrSignatureMismatch)
}

func TestClient_PaymentURL(t *testing.T) {
	c := NewClient(config.GatewayConfig{
		MerchantID:        "m1",
		MerchantKey:       "mk",
		Passphrase:        "s3cret",
		ProcessURL:        "https://pay.example.com/eng/process",
		SandboxProcessURL: "https://sandbox.pay.example.com/eng/process",
		NotifyURL:         "https://api.example.com/webhook",
	})
	raw, err := c.PaymentURL(CheckoutRequest{
		IdempotencyKey: testKey,
		ItemName:       "Weekly Pass",
		Amount:         "49.00",
		Email:          "rider@example.com",
	})
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "pay.example.com", u.Host)
	q := u.Query()
	assert.Equal(t, testKey, q.Get("idempotency_key"))
	assert.Equal(t, "https://api.example.com/webhook", q.Get("notify_url"))
	assert.Empty(t, q.Get("return_url"))

	signed := map[string]string{
		"merchant_id":     "m1",
		"idempotency_key": testKey,
		"item_name":       "Weekly Pass",
		"amount":          "49.00",
		"email":           "rider@example.com",
	}
	assert.Equal(t, auth.Sign(signed, "s3cret"), q.Get("signature"))

	// Every query field the notification echoes back must be covered by the signature
	unsigned := map[string]bool{"signature": true, "merchant_key": true, "return_url": true, "cancel_url": true, "notify_url": true}
	for name := range q {
		if unsigned[name] {
			continue
		}
		assert.Contains(t, auth.SignatureFields, name, "redirect carries unsigned field %q", name)
		assert.Equal(t, signed[name], q.Get(name), "field %q", name)
	}
	assert.Empty(t, q.Get("plan_type"))
}

func TestClient_PaymentURLSandbox(t *testing.T) {
	c := NewClient(config.GatewayConfig{
		Sandbox:           true,
		ProcessURL:        "https://pay.example.com/eng/process",
		SandboxProcessURL: "https://sandbox.pay.example.com/eng/process",
	})
	raw, err := c.PaymentURL(CheckoutRequest{IdempotencyKey: testKey, ItemName: "Weekly Pass"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(raw, "https://sandbox.pay.example.com/"))
	assert.NotContains(t, raw, "signature=")
	assert.True(t, c.Sandbox())

	_, err = NewClient(config.GatewayConfig{}).PaymentURL(CheckoutRequest{})
	assert.Error(t, err)
}
