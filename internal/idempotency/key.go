package idempotency

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// KeyPrefix starts every ledger idempotency key.
const KeyPrefix = "RB-"

// keyPattern matches RB-<user uuid>-<unix millis>.
var keyPattern = regexp.MustCompile(`^RB-([0-9a-fA-F-]{36})-(\d{10,})$`)

// NewKey builds the idempotency key for a checkout started by userID at now.
// The key embeds the user so the webhook can be attributed without a lookup.
func NewKey(userID string, now time.Time) (string, error) {
	if _, err := uuid.Parse(userID); err != nil || len(userID) != 36 {
		return "", fmt.Errorf("user id must be a uuid: %q", userID)
	}
	return KeyPrefix + userID + "-" + strconv.FormatInt(now.UnixMilli(), 10), nil
}

// ParseKey extracts the user id from a key, lowercased. ok is false for anything that
// does not match the key format or whose user segment is not a valid UUID.
func ParseKey(key string) (userID string, ok bool) {
	m := keyPattern.FindStringSubmatch(key)
	if m == nil {
		return "", false
	}
	if _, err := uuid.Parse(m[1]); err != nil {
		return "", false
	}
	return strings.ToLower(m[1]), true
}

// KeyTime returns the creation instant embedded in a well-formed key.
func KeyTime(key string) (time.Time, bool) {
	m := keyPattern.FindStringSubmatch(key)
	if m == nil {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(m[2], 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms).UTC(), true
}
