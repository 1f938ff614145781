package entitlements

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/roomboard/passledger/internal/storage"
)

// ComputeExpiry returns the expiry for a new pass of the given duration.
//
// latest is the user's active row with the furthest expiry, or nil. Time still
// left on it carries over: a pass bought before expiry extends from that expiry,
// otherwise from now.
func ComputeExpiry(latest *storage.PaymentIntent, duration time.Duration, now time.Time) time.Time {
	now = now.UTC()
	if latest != nil && latest.Status == storage.StatusActive && latest.AccessExpiresAt.After(now) {
		return latest.AccessExpiresAt.UTC().Add(duration)
	}
	return now.Add(duration)
}

// ParseAmount converts a gateway decimal amount ("49.00", "49", "49.5") to minor units.
func ParseAmount(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("amount is empty")
	}
	whole, frac, hasFrac := strings.Cut(s, ".")
	if hasFrac {
		if len(frac) > 2 {
			return 0, fmt.Errorf("amount %q has more than two decimals", s)
		}
		frac += strings.Repeat("0", 2-len(frac))
	} else {
		frac = "00"
	}
	if whole == "" {
		whole = "0"
	}
	units, err := strconv.ParseUint(whole, 10, 63)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	cents, err := strconv.ParseUint(frac, 10, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	return int64(units)*100 + int64(cents), nil
}

// FormatCents renders minor units as a two-decimal string.
func FormatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}
