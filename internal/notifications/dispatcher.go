package notifications

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"text/template"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/roomboard/passledger/internal/circuitbreaker"
	"github.com/roomboard/passledger/internal/config"
	"github.com/roomboard/passledger/internal/logger"
	"github.com/roomboard/passledger/internal/metrics"
	"github.com/roomboard/passledger/internal/storage"
)

// Notice describes a newly activated pass.
type Notice struct {
	UserID         string
	Email          string
	PlanType       string
	ItemName       string
	ExpiresAt      time.Time
	IdempotencyKey string
	AmountCents    int64
	Currency       string
}

// Amount formats AmountCents for templates.
func (n Notice) Amount() string {
	return fmt.Sprintf("%d.%02d", n.AmountCents/100, n.AmountCents%100)
}

// Notifier is notified once per newly created ledger row.
type Notifier interface {
	Notify(ctx context.Context, n Notice)
}

// NoopNotifier ignores all notices.
type NoopNotifier struct{}

func (NoopNotifier) Notify(context.Context, Notice) {}

const (
	defaultSubject = "Your {{.ItemName}} is active"
	defaultBody    = `Thanks for your purchase.

Your {{.ItemName}} ({{.PlanType}}) is active until {{.ExpiresAt.Format "2 Jan 2006 15:04 MST"}}.
Amount paid: {{.Amount}} {{.Currency}}
Reference: {{.IdempotencyKey}}
`
	inAppTitle = "Pass activated"
	inAppBody  = "Your {{.ItemName}} is active until {{.ExpiresAt.Format \"2 Jan 2006\"}}."
)

// Dispatcher fans a notice out to the in-app store and the mailer in the background.
type Dispatcher struct {
	store           storage.Store
	mailer          Mailer
	breakers        *circuitbreaker.Manager
	from            string
	inApp           bool
	sendTimeout     time.Duration
	dispatchTimeout time.Duration
	subject         *template.Template
	body            *template.Template
	inAppBody       *template.Template
	logger          zerolog.Logger
	metrics         *metrics.Metrics

	wg     sync.WaitGroup
	closed atomic.Bool
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the dispatcher logger.
func WithLogger(l zerolog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = l
	}
}

// WithMetrics records per-channel outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// WithBreakers guards email sends with the email circuit breaker.
func WithBreakers(b *circuitbreaker.Manager) Option {
	return func(d *Dispatcher) {
		d.breakers = b
	}
}

// NewDispatcher creates a dispatcher. A nil mailer disables email; a nil store
// disables in-app notices regardless of cfg.InApp.
func NewDispatcher(cfg config.NotificationsConfig, store storage.Store, mailer Mailer, opts ...Option) (*Dispatcher, error) {
	subject := cfg.Subject
	if subject == "" {
		subject = defaultSubject
	}
	d := &Dispatcher{
		store:           store,
		mailer:          mailer,
		from:            cfg.From,
		inApp:           cfg.InApp && store != nil,
		sendTimeout:     cfg.Timeout.Duration,
		dispatchTimeout: cfg.DispatchTimeout.Duration,
		logger:          zerolog.Nop(),
	}
	if d.sendTimeout <= 0 {
		d.sendTimeout = 5 * time.Second
	}
	if d.dispatchTimeout <= 0 {
		d.dispatchTimeout = 10 * time.Second
	}
	if _, ok := mailer.(NoopMailer); ok {
		d.mailer = nil
	}

	var err error
	if d.subject, err = template.New("subject").Parse(subject); err != nil {
		return nil, fmt.Errorf("parse subject template: %w", err)
	}
	d.body = template.Must(template.New("body").Parse(defaultBody))
	d.inAppBody = template.Must(template.New("in_app").Parse(inAppBody))

	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Notify dispatches n without blocking. The work is detached from ctx's
// cancellation so it survives the HTTP response, but keeps its values.
func (d *Dispatcher) Notify(ctx context.Context, n Notice) {
	if d == nil {
		return
	}
	if d.closed.Load() {
		d.logger.Warn().
			Str("idempotency_key", logger.TruncateKey(n.IdempotencyKey)).
			Msg("notify.dropped_after_close")
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.dispatchTimeout)
		defer cancel()
		_ = d.Deliver(dctx, n)
	}()
}

// Deliver runs both channels concurrently and waits for them. Failures are logged
// and counted; the joined error is returned for callers that want it.
func (d *Dispatcher) Deliver(ctx context.Context, n Notice) error {
	var (
		g              errgroup.Group
		inAppErr, mail error
	)
	if d.inApp {
		g.Go(func() error {
			inAppErr = d.sendInApp(ctx, n)
			return nil
		})
	}
	if d.mailer != nil && n.Email != "" {
		g.Go(func() error {
			mail = d.sendEmail(ctx, n)
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(inAppErr, mail)
}

func (d *Dispatcher) sendInApp(ctx context.Context, n Notice) error {
	body, err := render(d.inAppBody, n)
	if err != nil {
		d.metrics.ObserveNotification("in_app", "failed")
		return err
	}
	err = d.store.CreateNotification(ctx, storage.Notification{
		UserID:         n.UserID,
		Kind:           storage.NotificationPassActivated,
		Title:          inAppTitle,
		Body:           body,
		IdempotencyKey: n.IdempotencyKey,
	})
	switch {
	case err == nil:
		d.metrics.ObserveNotification("in_app", "sent")
		return nil
	case errors.Is(err, storage.ErrConflict):
		d.metrics.ObserveNotification("in_app", "duplicate")
		return nil
	default:
		d.logger.Warn().
			Err(err).
			Str("user_id", n.UserID).
			Str("idempotency_key", logger.TruncateKey(n.IdempotencyKey)).
			Msg("notify.in_app_failed")
		d.metrics.ObserveNotification("in_app", "failed")
		return fmt.Errorf("in-app notice: %w", err)
	}
}

func (d *Dispatcher) sendEmail(ctx context.Context, n Notice) error {
	msg, err := d.renderEmail(n)
	if err != nil {
		d.metrics.ObserveNotification("email", "failed")
		return err
	}

	err = d.breakers.Run(circuitbreaker.ServiceEmail, func() error {
		sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
		defer cancel()
		return d.mailer.Send(sendCtx, msg)
	})
	if err != nil {
		status := "failed"
		if circuitbreaker.IsOpen(err) {
			status = "breaker_open"
		}
		d.logger.Warn().
			Err(err).
			Str("mailer", d.mailer.Name()).
			Str("to", logger.RedactEmail(n.Email)).
			Str("idempotency_key", logger.TruncateKey(n.IdempotencyKey)).
			Msg("notify.email_failed")
		d.metrics.ObserveNotification("email", status)
		return fmt.Errorf("email: %w", err)
	}
	d.metrics.ObserveNotification("email", "sent")
	return nil
}

func (d *Dispatcher) renderEmail(n Notice) (Message, error) {
	subject, err := render(d.subject, n)
	if err != nil {
		return Message{}, err
	}
	text, err := render(d.body, n)
	if err != nil {
		return Message{}, err
	}
	return Message{From: d.from, To: n.Email, Subject: subject, Text: text}, nil
}

func render(t *template.Template, n Notice) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, n); err != nil {
		return "", fmt.Errorf("render %s template: %w", t.Name(), err)
	}
	return buf.String(), nil
}

// Close stops accepting notices and waits for in-flight dispatches.
func (d *Dispatcher) Close() error {
	if d == nil {
		return nil
	}
	d.closed.Store(true)
	d.wg.Wait()
	return nil
}
