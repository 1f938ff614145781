package httpserver

import (
	"context"
	"errors"
	"net/http"

	"github.com/roomboard/passledger/internal/auth"
	"github.com/roomboard/passledger/internal/entitlements"
	apierrors "github.com/roomboard/passledger/internal/errors"
	"github.com/roomboard/passledger/internal/reconcile"
	"github.com/roomboard/passledger/pkg/responders"
)

// Webhook acknowledgement statuses. Every one of them is a 200 so the gateway stops retrying.
const (
	ackAccepted  = "accepted"
	ackDuplicate = "duplicate"
	ackIgnored   = "ignored"
)

type webhookAck struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// writeWebhookAck sends the 200 response for a reconciled notification.
func writeWebhookAck(w http.ResponseWriter, res reconcile.Result) {
	ack := webhookAck{Status: ackAccepted}
	switch res.Outcome {
	case reconcile.Duplicate:
		ack.Status = ackDuplicate
	case reconcile.Ignored:
		ack.Status = ackIgnored
		ack.Reason = res.Reason
	}
	responders.JSON(w, http.StatusOK, ack)
}

// writeReconcileError maps pipeline errors to responses: bad input is terminal (400),
// anything else is a store failure the gateway should retry (500).
func writeReconcileError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, reconcile.ErrSignature):
		apierrors.WriteRequestError(w, r, apierrors.ErrCodeInvalidSignature, "signature verification failed")
	case errors.Is(err, entitlements.ErrUnknownPlan):
		apierrors.WriteRequestError(w, r, apierrors.ErrCodeUnknownPlan, err.Error())
	case errors.Is(err, reconcile.ErrValidation):
		apierrors.WriteRequestError(w, r, apierrors.ErrCodeInvalidPayload, err.Error())
	default:
		apierrors.WriteRequestError(w, r, apierrors.ErrCodeStoreError, "failed to record payment")
	}
}

// identify resolves the bearer token on r. It returns auth.ErrUnauthenticated when
// there is no token or no resolver.
func (h *handlers) identify(ctx context.Context, r *http.Request) (auth.Identity, error) {
	token, ok := auth.BearerToken(r)
	if !ok || h.resolver == nil {
		return auth.Identity{}, auth.ErrUnauthenticated
	}
	return h.resolver.Resolve(ctx, token)
}

// requireIdentity is identify for endpoints that refuse anonymous callers.
// It writes the error response itself and reports whether the caller may proceed.
func (h *handlers) requireIdentity(w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
	id, err := h.identify(r.Context(), r)
	switch {
	case err == nil:
		return id, true
	case errors.Is(err, auth.ErrIdentityUnavailable):
		apierrors.WriteRequestError(w, r, apierrors.ErrCodeIdentityUnavailable, "identity provider unavailable")
	default:
		apierrors.WriteRequestError(w, r, apierrors.ErrCodeUnauthorized, "valid bearer token required")
	}
	return auth.Identity{}, false
}
