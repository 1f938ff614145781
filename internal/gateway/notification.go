package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// MaxNotificationBytes bounds webhook bodies.
const MaxNotificationBytes = 64 << 10

// ErrInvalidNotification wraps every parse and validation failure.
var ErrInvalidNotification = errors.New("invalid gateway notification")

// Gateway status values that confirm a payment.
var paidStatuses = map[string]bool{
	"paid":     true,
	"complete": true,
}

// Notification is the hosted gateway's payment callback.
type Notification struct {
	MerchantID       string `json:"merchant_id"`
	GatewayPaymentID string `json:"gateway_payment_id" validate:"max=128"`
	IdempotencyKey   string `json:"idempotency_key" validate:"required,max=128"`
	Status           string `json:"status" validate:"required,max=32"`
	ItemName         string `json:"item_name" validate:"required,max=128"` // signed; the plan is derived from it
	Amount           string `json:"amount" validate:"required,max=32"`
	Email            string `json:"email" validate:"omitempty,email,max=254"`
	PaymentMethod    string `json:"payment_method" validate:"max=64"`
	Signature        string `json:"signature"`

	// Raw is the inbound payload re-encoded as a flat JSON object.
	Raw json.RawMessage `json:"-"`
}

var validate = func() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}()

// Validate checks required fields and lengths.
func (n Notification) Validate() error {
	if err := validate.Struct(n); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidNotification, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidNotification, err)
	}
	return nil
}

// IsPaid reports whether the gateway status confirms the payment.
func (n Notification) IsPaid() bool {
	return paidStatuses[strings.ToLower(strings.TrimSpace(n.Status))]
}

// Fields returns the signed fields keyed by their wire names.
func (n Notification) Fields() map[string]string {
	return map[string]string{
		"merchant_id":        n.MerchantID,
		"gateway_payment_id": n.GatewayPaymentID,
		"idempotency_key":    n.IdempotencyKey,
		"status":             n.Status,
		"item_name":          n.ItemName,
		"amount":             n.Amount,
		"email":              n.Email,
		"payment_method":     n.PaymentMethod,
	}
}

// ParseNotification reads a JSON or form-encoded notification from r.
// custom_payment_id is accepted as an alias for idempotency_key.
func ParseNotification(r *http.Request) (Notification, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxNotificationBytes+1))
	if err != nil {
		return Notification{}, fmt.Errorf("%w: read body: %v", ErrInvalidNotification, err)
	}
	if len(body) > MaxNotificationBytes {
		return Notification{}, fmt.Errorf("%w: body exceeds %d bytes", ErrInvalidNotification, MaxNotificationBytes)
	}

	var values map[string]string
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/x-www-form-urlencoded":
		values, err = decodeForm(body)
	default:
		values, err = decodeJSON(body)
	}
	if err != nil {
		return Notification{}, err
	}
	return FromValues(values)
}

// FromValues builds a notification from flat string values.
func FromValues(values map[string]string) (Notification, error) {
	key := values["idempotency_key"]
	if key == "" {
		key = values["custom_payment_id"]
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return Notification{}, fmt.Errorf("%w: %v", ErrInvalidNotification, err)
	}
	return Notification{
		MerchantID:       values["merchant_id"],
		GatewayPaymentID: values["gateway_payment_id"],
		IdempotencyKey:   key,
		Status:           values["status"],
		ItemName:         values["item_name"],
		Amount:           values["amount"],
		Email:            values["email"],
		PaymentMethod:    values["payment_method"],
		Signature:        values["signature"],
		Raw:              raw,
	}, nil
}

func decodeForm(body []byte) (map[string]string, error) {
	form, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, fmt.Errorf("%w: malformed form body", ErrInvalidNotification)
	}
	values := make(map[string]string, len(form))
	for k, v := range form {
		if len(v) > 0 {
			values[k] = v[0]
		}
	}
	return values, nil
}

func decodeJSON(body []byte) (map[string]string, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, fmt.Errorf("%w: malformed JSON body", ErrInvalidNotification)
	}
	values := make(map[string]string, len(obj))
	for k, v := range obj {
		switch val := v.(type) {
		case nil:
		case string:
			values[k] = val
		case json.Number:
			values[k] = val.String()
		case bool:
			values[k] = fmt.Sprint(val)
		default:
			// Nested values are flattened to their JSON text
			encoded, _ := json.Marshal(val)
			values[k] = string(encoded)
		}
	}
	return values, nil
}
