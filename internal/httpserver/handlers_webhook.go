package httpserver

import (
	"errors"
	"net/http"
	"time"

	apierrors "github.com/roomboard/passledger/internal/errors"
	"github.com/roomboard/passledger/internal/gateway"
	"github.com/roomboard/passledger/internal/logger"
	"github.com/roomboard/passledger/internal/storage"
	stripesvc "github.com/roomboard/passledger/internal/stripe"
)

// hostedWebhook receives payment notifications from the hosted gateway.
//
// Accepted, duplicate and ignored notifications all answer 200. Malformed or
// unsigned ones answer 400 and are not retried; store failures answer 500 so the
// gateway redelivers.
func (h *handlers) hostedWebhook(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	start := time.Now()

	n, err := gateway.ParseNotification(r)
	if err != nil {
		log.Warn().Err(err).Msg("webhook.unreadable")
		h.metrics.ObserveWebhook(string(storage.GatewayHosted), "invalid", time.Since(start))
		apierrors.WriteRequestError(w, r, apierrors.ErrCodeInvalidPayload, err.Error())
		return
	}

	log.Info().
		Str("idempotency_key", logger.TruncateKey(n.IdempotencyKey)).
		Str("status", n.Status).
		Msg("webhook.received")

	res, err := h.reconcile.HandleHosted(r.Context(), n)
	if err != nil {
		writeReconcileError(w, r, err)
		return
	}
	writeWebhookAck(w, res)
}

// stripeWebhook feeds Stripe checkout completions into the same ledger pipeline.
func (h *handlers) stripeWebhook(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	start := time.Now()

	if h.stripe == nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeServiceNotConfigured, "stripe webhooks are not enabled")
		return
	}

	body, err := readBody(w, r)
	if err != nil {
		log.Warn().Err(err).Msg("stripe.webhook.read_body_failed")
		h.metrics.ObserveWebhook(string(storage.GatewayStripe), "invalid", time.Since(start))
		apierrors.WriteRequestError(w, r, apierrors.ErrCodeInvalidPayload, "failed to read request body")
		return
	}

	event, err := h.stripe.ParseWebhook(body, r.Header.Get("Stripe-Signature"))
	if err != nil {
		code := apierrors.ErrCodeInvalidPayload
		if errors.Is(err, stripesvc.ErrInvalidSignature) {
			code = apierrors.ErrCodeInvalidSignature
			h.metrics.ObserveSignatureFailure(string(storage.GatewayStripe))
		}
		if errors.Is(err, stripesvc.ErrWebhookSecret) {
			code = apierrors.ErrCodeServiceNotConfigured
		}
		log.Warn().Err(err).Msg("stripe.webhook.rejected")
		h.metrics.ObserveWebhook(string(storage.GatewayStripe), "invalid", time.Since(start))
		apierrors.WriteRequestError(w, r, code, "stripe event rejected")
		return
	}

	log.Info().
		Str("event_type", event.Type).
		Str("event_id", event.EventID).
		Msg("stripe.webhook.received")

	res, err := h.reconcile.HandleStripe(r.Context(), event)
	if err != nil {
		writeReconcileError(w, r, err)
		return
	}
	writeWebhookAck(w, res)
}
