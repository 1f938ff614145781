package httpserver

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/roomboard/passledger/internal/auth"
	"github.com/roomboard/passledger/internal/entitlements"
	apierrors "github.com/roomboard/passledger/internal/errors"
	"github.com/roomboard/passledger/internal/idempotency"
	"github.com/roomboard/passledger/internal/logger"
	"github.com/roomboard/passledger/internal/storage"
	"github.com/roomboard/passledger/pkg/responders"
)

// Verify statuses.
const (
	verifyPaid    = "paid"
	verifyPending = "pending"
	verifyUnknown = "unknown"
)

const (
	defaultHistoryLimit       = 50
	defaultNotificationsLimit = 20
)

type verifyResponse struct {
	Status         string                   `json:"status"`
	IdempotencyKey string                   `json:"idempotency_key"`
	PlanType       string                   `json:"plan_type,omitempty"`
	PaidAt         *time.Time               `json:"paid_at,omitempty"`
	Access         entitlements.AccessLevel `json:"access"`
}

// verify answers a client polling after checkout. A key with a ledger row is paid;
// otherwise the answer is pending until the webhook lands.
func (h *handlers) verify(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	key := strings.TrimSpace(r.URL.Query().Get("idempotency_key"))
	userID, ok := idempotency.ParseKey(key)
	if !ok {
		apierrors.WriteErrorWithDetail(w, apierrors.ErrCodeInvalidIdempotencyKey, "malformed idempotency key", "idempotency_key", key)
		return
	}

	resp := verifyResponse{IdempotencyKey: key}

	row, err := h.store.GetByIdempotencyKey(r.Context(), key)
	switch {
	case err == nil:
		paidAt := row.PaidAt
		resp.Status = verifyPaid
		resp.PlanType = row.PlanType
		resp.PaidAt = &paidAt
		resp.Access = h.access.GetAccessLevel(r.Context(), row.UserID)
		responders.JSON(w, http.StatusOK, resp)
		return
	case !errors.Is(err, storage.ErrNotFound):
		// The client keeps polling; treat a failed lookup as not yet confirmed
		log.Warn().Err(err).Str("idempotency_key", logger.TruncateKey(key)).Msg("verify.lookup_failed")
	}

	resp.Status = verifyPending
	resp.Access = h.access.GetAccessLevel(r.Context(), userID)
	if h.cfg.Ledger.RecordPendingIntents {
		pending, err := h.store.GetPendingIntent(r.Context(), key)
		switch {
		case err == nil:
			resp.PlanType = pending.PlanType
		case errors.Is(err, storage.ErrNotFound):
			resp.Status = verifyUnknown
		default:
			log.Warn().Err(err).Str("idempotency_key", logger.TruncateKey(key)).Msg("verify.pending_lookup_failed")
		}
	}
	responders.JSON(w, http.StatusOK, resp)
}

// status reports the caller's projected access level. It never fails: anonymous
// callers, rejected tokens and identity outages all read as free.
func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	id, err := h.identify(r.Context(), r)
	if err != nil {
		if !errors.Is(err, auth.ErrUnauthenticated) {
			log := logger.FromContext(r.Context())
			log.Warn().Err(err).Msg("status.identity_failed")
		}
		responders.JSON(w, http.StatusOK, entitlements.Free())
		return
	}
	responders.JSON(w, http.StatusOK, h.access.GetAccessLevel(r.Context(), id.UserID))
}

type historyResponse struct {
	UserID  string                      `json:"user_id"`
	Access  entitlements.AccessLevel    `json:"access"`
	Entries []entitlements.HistoryEntry `json:"entries"`
}

// history lists the caller's ledger rows, each flagged with whether it is live now.
func (h *handlers) history(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}
	entries, err := h.access.History(r.Context(), id.UserID, queryLimit(r, defaultHistoryLimit))
	if err != nil {
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Str("user_id", id.UserID).Msg("history.lookup_failed")
		apierrors.WriteRequestError(w, r, apierrors.ErrCodeStoreError, "failed to load history")
		return
	}
	responders.JSON(w, http.StatusOK, historyResponse{
		UserID:  id.UserID,
		Access:  h.access.GetAccessLevel(r.Context(), id.UserID),
		Entries: entries,
	})
}

// notifications lists the caller's in-app notices, newest first.
func (h *handlers) notifications(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}
	list, err := h.store.ListNotifications(r.Context(), id.UserID, queryLimit(r, defaultNotificationsLimit))
	if err != nil {
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Str("user_id", id.UserID).Msg("notifications.lookup_failed")
		apierrors.WriteRequestError(w, r, apierrors.ErrCodeStoreError, "failed to load notifications")
		return
	}
	if list == nil {
		list = []storage.Notification{}
	}
	responders.JSON(w, http.StatusOK, map[string]any{
		"notifications": list,
	})
}
