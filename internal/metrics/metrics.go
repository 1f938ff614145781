package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for passledger.
// All Observe methods are safe to call on a nil *Metrics.
type Metrics struct {
	// Webhook metrics
	WebhooksTotal          *prometheus.CounterVec
	WebhookDuration        *prometheus.HistogramVec
	SignatureFailuresTotal *prometheus.CounterVec

	// Ledger metrics
	LedgerAppendsTotal *prometheus.CounterVec
	LedgerAmountTotal  *prometheus.CounterVec

	// Access metrics
	AccessQueriesTotal *prometheus.CounterVec

	// Checkout metrics
	InitializeTotal *prometheus.CounterVec

	// Notification metrics
	NotificationsTotal *prometheus.CounterVec

	// Rate limiting metrics
	RateLimitHitsTotal *prometheus.CounterVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
}

// New creates and registers all Prometheus metrics.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		WebhooksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "passledger_webhooks_total",
				Help: "Payment notifications received, by source and outcome",
			},
			[]string{"source", "outcome"},
		),
		WebhookDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "passledger_webhook_duration_seconds",
				Help:    "Time taken to reconcile a payment notification",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"source"},
		),
		SignatureFailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "passledger_signature_failures_total",
				Help: "Notifications rejected for an invalid signature",
			},
			[]string{"source"},
		),

		LedgerAppendsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "passledger_ledger_appends_total",
				Help: "Ledger rows appended, by plan and gateway",
			},
			[]string{"plan", "gateway"},
		),
		LedgerAmountTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "passledger_ledger_amount_cents_total",
				Help: "Sum of appended payment amounts in minor units",
			},
			[]string{"currency"},
		),

		AccessQueriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "passledger_access_queries_total",
				Help: "Access level lookups, by result (paid, free, degraded)",
			},
			[]string{"result"},
		),

		InitializeTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "passledger_initialize_total",
				Help: "Checkout initializations, by provider and status",
			},
			[]string{"provider", "status"},
		),

		NotificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "passledger_notifications_total",
				Help: "Post-payment notifications, by channel and status",
			},
			[]string{"channel", "status"},
		),

		RateLimitHitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "passledger_rate_limit_hits_total",
				Help: "Requests rejected by rate limiting",
			},
			[]string{"limit_type"},
		),

		DBQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "passledger_db_query_duration_seconds",
				Help:    "Ledger store operation latency",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
			},
			[]string{"operation", "backend"},
		),
	}
}

// ObserveWebhook records the outcome and latency of one notification.
func (m *Metrics) ObserveWebhook(source, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.WebhooksTotal.WithLabelValues(source, outcome).Inc()
	m.WebhookDuration.WithLabelValues(source).Observe(duration.Seconds())
}

func (m *Metrics) ObserveSignatureFailure(source string) {
	if m == nil {
		return
	}
	m.SignatureFailuresTotal.WithLabelValues(source).Inc()
}

// ObserveLedgerAppend records a newly created ledger row.
func (m *Metrics) ObserveLedgerAppend(plan, gateway, currency string, amountCents int64) {
	if m == nil {
		return
	}
	m.LedgerAppendsTotal.WithLabelValues(plan, gateway).Inc()
	if amountCents > 0 {
		m.LedgerAmountTotal.WithLabelValues(currency).Add(float64(amountCents))
	}
}

func (m *Metrics) ObserveAccessQuery(result string) {
	if m == nil {
		return
	}
	m.AccessQueriesTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveInitialize(provider, status string) {
	if m == nil {
		return
	}
	m.InitializeTotal.WithLabelValues(provider, status).Inc()
}

func (m *Metrics) ObserveNotification(channel, status string) {
	if m == nil {
		return
	}
	m.NotificationsTotal.WithLabelValues(channel, status).Inc()
}

func (m *Metrics) ObserveRateLimit(limitType string) {
	if m == nil {
		return
	}
	m.RateLimitHitsTotal.WithLabelValues(limitType).Inc()
}

func (m *Metrics) ObserveDBQuery(operation, backend string, duration time.Duration) {
	if m == nil {
		return
	}
	m.DBQueryDuration.WithLabelValues(operation, backend).Observe(duration.Seconds())
}
