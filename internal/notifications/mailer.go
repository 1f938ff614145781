package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/roomboard/passledger/internal/config"
	"github.com/roomboard/passledger/internal/httputil"
	"github.com/roomboard/passledger/internal/logger"
)

// Message is a rendered confirmation email.
type Message struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
}

// Mailer sends one message. Implementations must honour ctx cancellation.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
	Name() string
}

// ErrMailerDisabled is returned by NoopMailer.
var ErrMailerDisabled = errors.New("notifications: email disabled")

// NewMailer builds the mailer selected by cfg.EmailProvider.
func NewMailer(cfg config.NotificationsConfig, log zerolog.Logger) (Mailer, error) {
	switch strings.ToLower(cfg.EmailProvider) {
	case "smtp":
		return NewSMTPMailer(cfg.SMTP), nil
	case "http":
		return NewHTTPMailer(cfg.HTTP, cfg.Timeout.Duration), nil
	case "", "log":
		return LogMailer{Logger: log}, nil
	case "none":
		return NoopMailer{}, nil
	default:
		return nil, fmt.Errorf("notifications: unknown email provider %q", cfg.EmailProvider)
	}
}

// NoopMailer drops every message.
type NoopMailer struct{}

func (NoopMailer) Send(context.Context, Message) error { return ErrMailerDisabled }
func (NoopMailer) Name() string                        { return "none" }

// LogMailer writes messages to the log instead of sending them.
type LogMailer struct {
	Logger zerolog.Logger
}

func (l LogMailer) Send(_ context.Context, msg Message) error {
	l.Logger.Info().
		Str("to", logger.RedactEmail(msg.To)).
		Str("subject", msg.Subject).
		Msg("notify.email_logged")
	return nil
}

func (LogMailer) Name() string { return "log" }

// SMTPMailer relays through an SMTP server with PLAIN auth when credentials are set.
type SMTPMailer struct {
	addr     string
	host     string
	auth     smtp.Auth
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPMailer creates a mailer for the given relay.
func NewSMTPMailer(cfg config.SMTPConfig) *SMTPMailer {
	port := cfg.Port
	if port == 0 {
		port = 587
	}
	m := &SMTPMailer{
		addr:     net.JoinHostPort(cfg.Host, strconv.Itoa(port)),
		host:     cfg.Host,
		sendMail: smtp.SendMail,
	}
	if cfg.Username != "" {
		m.auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return m
}

func (m *SMTPMailer) Name() string { return "smtp" }

// Send delivers msg. net/smtp has no context support, so the send runs in its own
// goroutine and Send returns when ctx ends even if the relay is still talking.
func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	body := buildMIME(msg)
	done := make(chan error, 1)
	go func() {
		done <- m.sendMail(m.addr, m.auth, msg.From, []string{msg.To}, body)
	}()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("smtp send: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("smtp send: %w", ctx.Err())
	}
}

func buildMIME(msg Message) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", msg.From)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n\r\n")
	b.WriteString(strings.ReplaceAll(msg.Text, "\n", "\r\n"))
	return b.Bytes()
}

// HTTPMailer posts messages as JSON to an email API.
type HTTPMailer struct {
	url        string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPMailer creates a JSON API mailer.
func NewHTTPMailer(cfg config.HTTPMailer, timeout time.Duration) *HTTPMailer {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPMailer{
		url:        cfg.URL,
		apiKey:     cfg.APIKey,
		httpClient: httputil.NewClient(timeout),
	}
}

func (m *HTTPMailer) Name() string { return "http" }

func (m *HTTPMailer) Send(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode email: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build email request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if m.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+m.apiKey)
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("email api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := httputil.ReadBody(resp, 1024)
		return fmt.Errorf("email api returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
