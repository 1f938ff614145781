package httpserver

import (
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	apierrors "github.com/roomboard/passledger/internal/errors"
	"github.com/roomboard/passledger/internal/gateway"
	"github.com/roomboard/passledger/internal/idempotency"
	"github.com/roomboard/passledger/internal/logger"
	"github.com/roomboard/passledger/internal/storage"
	stripesvc "github.com/roomboard/passledger/internal/stripe"
	"github.com/roomboard/passledger/pkg/responders"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

type initializeRequest struct {
	PlanType   string `json:"plan_type" validate:"required"`
	Email      string `json:"email" validate:"required,email"`
	UserID     string `json:"user_id" validate:"required,uuid"`
	Provider   string `json:"provider" validate:"omitempty,oneof=hosted stripe"`
	SuccessURL string `json:"success_url" validate:"omitempty,url"`
	CancelURL  string `json:"cancel_url" validate:"omitempty,url"`
}

type initializeResponse struct {
	PaymentURL     string `json:"payment_url"`
	IdempotencyKey string `json:"idempotency_key"`
	PlanType       string `json:"plan_type"`
	Amount         string `json:"amount"`
	Currency       string `json:"currency"`
	Provider       string `json:"provider"`
	Days           int    `json:"days"`
}

// initialize starts a checkout: it mints the idempotency key and returns the
// gateway URL. No ledger row is written; that only happens when the webhook lands.
func (h *handlers) initialize(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	var req initializeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		log.Warn().Err(err).Msg("initialize.invalid_body")
		apierrors.WriteRequestError(w, r, apierrors.ErrCodeInvalidPayload, "request body must be a JSON object")
		return
	}
	req.PlanType = strings.ToLower(strings.TrimSpace(req.PlanType))
	req.Email = strings.TrimSpace(req.Email)
	req.Provider = strings.ToLower(strings.TrimSpace(req.Provider))
	if req.Provider == "" {
		req.Provider = string(storage.GatewayHosted)
	}

	if err := validate.Struct(req); err != nil {
		code, field := initializeErrorCode(err)
		log.Warn().Err(err).Str("field", field).Msg("initialize.invalid_request")
		apierrors.WriteErrorWithDetail(w, code, "invalid "+field, "field", field)
		return
	}

	plan, ok := h.catalog.Lookup(req.PlanType)
	if !ok {
		apierrors.WriteErrorWithDetail(w, apierrors.ErrCodeUnknownPlan, "unknown plan type", "plan_type", req.PlanType)
		return
	}

	key, err := idempotency.NewKey(strings.ToLower(req.UserID), h.now())
	if err != nil {
		apierrors.WriteErrorWithDetail(w, apierrors.ErrCodeInvalidUserID, err.Error(), "field", "user_id")
		return
	}

	log = log.With().
		Str("idempotency_key", logger.TruncateKey(key)).
		Str("plan_type", plan.Type).
		Str("provider", req.Provider).
		Logger()

	var paymentURL string
	switch storage.Gateway(req.Provider) {
	case storage.GatewayStripe:
		if h.stripe == nil {
			h.metrics.ObserveInitialize(req.Provider, "not_configured")
			apierrors.WriteSimpleError(w, apierrors.ErrCodeServiceNotConfigured, "card checkout is not enabled")
			return
		}
		session, err := h.stripe.CreateCheckoutSession(r.Context(), stripesvc.CreateSessionRequest{
			IdempotencyKey: key,
			UserID:         req.UserID,
			PlanType:       plan.Type,
			ItemName:       plan.ItemName,
			AmountCents:    plan.AmountCents,
			Currency:       plan.Currency,
			CustomerEmail:  req.Email,
			SuccessURL:     req.SuccessURL,
			CancelURL:      req.CancelURL,
		})
		if err != nil {
			log.Error().Err(err).Msg("initialize.stripe_failed")
			h.metrics.ObserveInitialize(req.Provider, "failed")
			apierrors.WriteRequestError(w, r, apierrors.ErrCodeStripeError, "failed to create checkout session")
			return
		}
		paymentURL = session.URL
	default:
		paymentURL, err = h.gateway.PaymentURL(gateway.CheckoutRequest{
			IdempotencyKey: key,
			ItemName:       plan.ItemName,
			Amount:         plan.Amount(),
			Email:          req.Email,
		})
		if err != nil {
			log.Error().Err(err).Msg("initialize.gateway_failed")
			h.metrics.ObserveInitialize(req.Provider, "failed")
			apierrors.WriteRequestError(w, r, apierrors.ErrCodeGatewayError, "failed to build payment url")
			return
		}
	}

	if h.cfg.Ledger.RecordPendingIntents {
		// Best effort: the pending record only sharpens /verify answers
		err := h.store.SavePendingIntent(r.Context(), storage.PendingIntent{
			IdempotencyKey: key,
			UserID:         strings.ToLower(req.UserID),
			PlanType:       plan.Type,
			Email:          req.Email,
			AmountCents:    plan.AmountCents,
			Gateway:        storage.Gateway(req.Provider),
			CreatedAt:      h.now().UTC(),
		})
		if err != nil {
			log.Warn().Err(err).Msg("initialize.pending_save_failed")
		}
	}

	h.metrics.ObserveInitialize(req.Provider, "success")
	log.Info().Str("email", logger.RedactEmail(req.Email)).Msg("initialize.created")

	responders.JSON(w, http.StatusOK, initializeResponse{
		PaymentURL:     paymentURL,
		IdempotencyKey: key,
		PlanType:       plan.Type,
		Amount:         plan.Amount(),
		Currency:       plan.Currency,
		Provider:       req.Provider,
		Days:           plan.Days(),
	})
}

// initializeErrorCode picks the error code for the first failing field.
func initializeErrorCode(err error) (apierrors.ErrorCode, string) {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return apierrors.ErrCodeInvalidPayload, "body"
	}
	fe := verrs[0]
	field := fe.Field()
	switch {
	case fe.Tag() == "required":
		return apierrors.ErrCodeMissingField, field
	case field == "email":
		return apierrors.ErrCodeInvalidEmail, field
	case field == "user_id":
		return apierrors.ErrCodeInvalidUserID, field
	case field == "provider":
		return apierrors.ErrCodeUnsupportedProvider, field
	default:
		return apierrors.ErrCodeInvalidField, field
	}
}
