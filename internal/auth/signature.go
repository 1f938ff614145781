package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/url"
	"strings"
)

// SignatureFields is the fixed order in which notification fields are signed.
var SignatureFields = []string{
	"merchant_id",
	"gateway_payment_id",
	"idempotency_key",
	"status",
	"item_name",
	"amount",
	"email",
	"payment_method",
}

var (
	// ErrSignatureMissing is returned when a notification carries no signature.
	ErrSignatureMissing = errors.New("signature missing")
	// ErrSignatureMismatch is returned when the recomputed signature differs.
	ErrSignatureMismatch = errors.New("signature mismatch")
	// ErrNoSecret is returned outside sandbox when no passphrase is configured.
	ErrNoSecret = errors.New("signature secret not configured")
)

// SignatureVerifier checks gateway notifications signed with the shared passphrase.
type SignatureVerifier struct {
	secret  string
	sandbox bool
}

// NewSignatureVerifier creates a verifier. In sandbox mode every notification passes.
func NewSignatureVerifier(secret string, sandbox bool) *SignatureVerifier {
	return &SignatureVerifier{secret: secret, sandbox: sandbox}
}

// Sandbox reports whether verification is skipped.
func (sv *SignatureVerifier) Sandbox() bool {
	return sv.sandbox
}

// CanonicalString joins the signed fields as key=value pairs in SignatureFields order,
// URL-encoding each trimmed value, and appends &passphrase=<secret>.
// Absent fields are signed as empty values.
func CanonicalString(fields map[string]string, secret string) string {
	var b strings.Builder
	for i, name := range SignatureFields {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(strings.TrimSpace(fields[name])))
	}
	b.WriteString("&passphrase=")
	b.WriteString(url.QueryEscape(secret))
	return b.String()
}

// Sign returns the lowercase hex HMAC-SHA256 of the canonical string keyed by secret.
func Sign(fields map[string]string, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(CanonicalString(fields, secret)))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify recomputes the signature over fields and compares it in constant time.
func (sv *SignatureVerifier) Verify(fields map[string]string, signature string) error {
	if sv.sandbox {
		return nil
	}
	if sv.secret == "" {
		return ErrNoSecret
	}
	signature = strings.ToLower(strings.TrimSpace(signature))
	if signature == "" {
		return ErrSignatureMissing
	}
	expected := Sign(fields, sv.secret)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrSignatureMismatch
	}
	return nil
}

// Valid is the boolean form of Verify.
func (sv *SignatureVerifier) Valid(fields map[string]string, signature string) bool {
	return sv.Verify(fields, signature) == nil
}
