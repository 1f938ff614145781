package httpserver

import (
	"net/http"
	"time"
)

// RequestKind enumerates the operations the server answers.
type RequestKind int

const (
	KindInitialize RequestKind = iota + 1
	KindWebhook
	KindStripeWebhook
	KindVerify
	KindStatus
	KindHistory
	KindNotifications
	KindHealth
)

func (k RequestKind) String() string {
	switch k {
	case KindInitialize:
		return "initialize"
	case KindWebhook:
		return "webhook"
	case KindStripeWebhook:
		return "stripe_webhook"
	case KindVerify:
		return "verify"
	case KindStatus:
		return "status"
	case KindHistory:
		return "history"
	case KindNotifications:
		return "notifications"
	case KindHealth:
		return "health"
	default:
		return "unknown"
	}
}

// route binds a request kind to its method and path (relative to the route prefix).
type route struct {
	Kind       RequestKind
	Method     string
	Path       string
	Timeout    time.Duration
	Idempotent bool // replay cached responses for repeated Idempotency-Key headers
	Callback   bool // gateway callback; exempt from rate limits so retry bursts are not refused
}

const (
	lightTimeout   = 5 * time.Second
	paymentTimeout = 30 * time.Second
)

// routeTable lists every endpoint. Webhook paths are stable; gateways are configured with them.
var routeTable = []route{
	{Kind: KindHealth, Method: http.MethodGet, Path: "/health", Timeout: lightTimeout},
	{Kind: KindInitialize, Method: http.MethodPost, Path: "/initialize", Timeout: paymentTimeout, Idempotent: true},
	{Kind: KindWebhook, Method: http.MethodPost, Path: "/webhook", Timeout: paymentTimeout, Callback: true},
	{Kind: KindStripeWebhook, Method: http.MethodPost, Path: "/webhook/stripe", Timeout: paymentTimeout, Callback: true},
	{Kind: KindVerify, Method: http.MethodGet, Path: "/verify", Timeout: lightTimeout},
	{Kind: KindStatus, Method: http.MethodGet, Path: "/status", Timeout: lightTimeout},
	{Kind: KindHistory, Method: http.MethodGet, Path: "/entitlements/history", Timeout: lightTimeout},
	{Kind: KindNotifications, Method: http.MethodGet, Path: "/notifications", Timeout: lightTimeout},
}

// handlerFor returns the dedicated handler for a request kind.
func (h *handlers) handlerFor(kind RequestKind) http.HandlerFunc {
	switch kind {
	case KindInitialize:
		return h.initialize
	case KindWebhook:
		return h.hostedWebhook
	case KindStripeWebhook:
		return h.stripeWebhook
	case KindVerify:
		return h.verify
	case KindStatus:
		return h.status
	case KindHistory:
		return h.history
	case KindNotifications:
		return h.notifications
	case KindHealth:
		return h.health
	default:
		return http.NotFound
	}
}
