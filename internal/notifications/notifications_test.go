package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roomboard/passledger/internal/circuitbreaker"
	"github.com/roomboard/passledger/internal/config"
	"github.com/roomboard/passledger/internal/metrics"
	"github.com/roomboard/passledger/internal/storage"
)

// recordingMailer captures sent messages and can be made to fail or block.
type recordingMailer struct {
	mu    sync.Mutex
	sent  []Message
	err   error
	block chan struct{}
}

func (m *recordingMailer) Send(ctx context.Context, msg Message) error {
	if m.block != nil {
		select {
		case <-m.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *recordingMailer) Name() string { return "recording" }

func (m *recordingMailer) messages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.sent...)
}

func testNotice() Notice {
	return Notice{
		UserID:         "0b5a1c7e-3f0e-4b8a-9c1d-2e3f4a5b6c7d",
		Email:          "rider@example.com",
		PlanType:       "weekly",
		ItemName:       "Weekly Pass",
		ExpiresAt:      time.Date(2026, 3, 6, 12, 0, 0, 0, time.UTC),
		IdempotencyKey: "RB-0b5a1c7e-3f0e-4b8a-9c1d-2e3f4a5b6c7d-1772366400000",
		AmountCents:    4900,
		Currency:       "ZAR",
	}
}

func testConfig() config.NotificationsConfig {
	return config.NotificationsConfig{
		InApp: true,
		From:  "passes@example.com",
	}
}

func newTestDispatcher(t *testing.T, store storage.Store, mailer Mailer, opts ...Option) (*Dispatcher, *metrics.Metrics) {
	t.Helper()
	m := metrics.New(prometheus.NewRegistry())
	opts = append([]Option{WithMetrics(m)}, opts...)
	d, err := NewDispatcher(testConfig(), store, mailer, opts...)
	require.NoError(t, err)
	return d, m
}

func TestDispatcher_DeliversBothChannels(t *testing.T) {
	store := storage.NewMemoryStore()
	defer store.Close()
	mailer := &recordingMailer{}
	d, m := newTestDispatcher(t, store, mailer)

	require.NoError(t, d.Deliver(context.Background(), testNotice()))

	msgs := mailer.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "rider@example.com", msgs[0].To)
	assert.Equal(t, "passes@example.com", msgs[0].From)
	assert.Equal(t, "Your Weekly Pass is active", msgs[0].Subject)
	assert.Contains(t, msgs[0].Text, "6 Mar 2026")
	assert.Contains(t, msgs[0].Text, "49.00 ZAR")

	notes, err := store.ListNotifications(context.Background(), testNotice().UserID, 10)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, storage.NotificationPassActivated, notes[0].Kind)
	assert.Contains(t, notes[0].Body, "Weekly Pass")

	assert.Equal(t, float64(1), promtest.ToFloat64(m.NotificationsTotal.WithLabelValues("email", "sent")))
	assert.Equal(t, float64(1), promtest.ToFloat64(m.NotificationsTotal.WithLabelValues("in_app", "sent")))
}

func TestDispatcher_RepeatedNoticeIsDeduplicated(t *testing.T) {
	store := storage.NewMemoryStore()
	defer store.Close()
	d, m := newTestDispatcher(t, store, nil)

	require.NoError(t, d.Deliver(context.Background(), testNotice()))
	require.NoError(t, d.Deliver(context.Background(), testNotice()))

	notes, err := store.ListNotifications(context.Background(), testNotice().UserID, 10)
	require.NoError(t, err)
	assert.Len(t, notes, 1)
	assert.Equal(t, float64(1), promtest.ToFloat64(m.NotificationsTotal.WithLabelValues("in_app", "duplicate")))
}

func TestDispatcher_EmailFailureDoesNotBlockInApp(t *testing.T) {
	store := storage.NewMemoryStore()
	defer store.Close()
	mailer := &recordingMailer{err: errors.New("relay refused")}
	d, m := newTestDispatcher(t, store, mailer)

	err := d.Deliver(context.Background(), testNotice())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "relay refused")

	notes, err := store.ListNotifications(context.Background(), testNotice().UserID, 10)
	require.NoError(t, err)
	assert.Len(t, notes, 1)
	assert.Equal(t, float64(1), promtest.ToFloat64(m.NotificationsTotal.WithLabelValues("email", "failed")))
}

func TestDispatcher_BreakerOpensAfterRepeatedFailures(t *testing.T) {
	cfg := circuitbreaker.DefaultConfig()
	cfg.Email.ConsecutiveFailures = 2
	breakers := circuitbreaker.NewManager(cfg, zerolog.Nop())
	mailer := &recordingMailer{err: errors.New("relay refused")}
	d, m := newTestDispatcher(t, nil, mailer, WithBreakers(breakers))

	for i := 0; i < 3; i++ {
		_ = d.Deliver(context.Background(), testNotice())
	}
	assert.Equal(t, "open", breakers.State(circuitbreaker.ServiceEmail))
	assert.Equal(t, float64(2), promtest.ToFloat64(m.NotificationsTotal.WithLabelValues("email", "failed")))
	assert.Equal(t, float64(1), promtest.ToFloat64(m.NotificationsTotal.WithLabelValues("email", "breaker_open")))
}

func TestDispatcher_SendTimeout(t *testing.T) {
	mailer := &recordingMailer{block: make(chan struct{})}
	cfg := testConfig()
	cfg.Timeout = config.Duration{Duration: 20 * time.Millisecond}
	d, err := NewDispatcher(cfg, nil, mailer)
	require.NoError(t, err)

	start := time.Now()
	err = d.Deliver(context.Background(), testNotice())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestDispatcher_NotifySurvivesCancelledRequest(t *testing.T) {
	store := storage.NewMemoryStore()
	defer store.Close()
	mailer := &recordingMailer{block: make(chan struct{})}
	d, _ := newTestDispatcher(t, store, mailer)

	ctx, cancel := context.WithCancel(context.Background())
	d.Notify(ctx, testNotice())
	cancel()
	close(mailer.block)

	require.NoError(t, d.Close())
	assert.Len(t, mailer.messages(), 1)
}

func TestDispatcher_NotifyAfterCloseIsDropped(t *testing.T) {
	mailer := &recordingMailer{}
	d, _ := newTestDispatcher(t, nil, mailer)
	require.NoError(t, d.Close())

	d.Notify(context.Background(), testNotice())
	require.NoError(t, d.Close())
	assert.Empty(t, mailer.messages())
}

func TestDispatcher_SkipsEmailWithoutAddress(t *testing.T) {
	mailer := &recordingMailer{}
	d, _ := newTestDispatcher(t, nil, mailer)

	n := testNotice()
	n.Email = ""
	require.NoError(t, d.Deliver(context.Background(), n))
	assert.Empty(t, mailer.messages())
}

func TestNewDispatcher_BadSubjectTemplate(t *testing.T) {
	cfg := testConfig()
	cfg.Subject = "{{.ItemName"
	_, err := NewDispatcher(cfg, nil, nil)
	assert.Error(t, err)
}

func TestNilDispatcher(t *testing.T) {
	var d *Dispatcher
	d.Notify(context.Background(), testNotice())
	assert.NoError(t, d.Close())
	NoopNotifier{}.Notify(context.Background(), testNotice())
}

func TestNewMailer(t *testing.T) {
	tests := []struct {
		provider string
		want     string
		wantErr  bool
	}{
		{"smtp", "smtp", false},
		{"http", "http", false},
		{"log", "log", false},
		{"", "log", false},
		{"none", "none", false},
		{"pigeon", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			m, err := NewMailer(config.NotificationsConfig{EmailProvider: tt.provider}, zerolog.Nop())
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, m.Name())
		})
	}

	d, err := NewDispatcher(testConfig(), nil, NoopMailer{})
	require.NoError(t, err)
	assert.Nil(t, d.mailer)
}

func TestHTTPMailer(t *testing.T) {
	var got Message
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	m := NewHTTPMailer(config.HTTPMailer{URL: srv.URL, APIKey: "key-123"}, time.Second)
	msg := Message{From: "a@example.com", To: "b@example.com", Subject: "hi", Text: "body"}
	require.NoError(t, m.Send(context.Background(), msg))
	assert.Equal(t, "Bearer key-123", auth)
	assert.Equal(t, msg, got)
}

func TestHTTPMailer_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	m := NewHTTPMailer(config.HTTPMailer{URL: srv.URL}, time.Second)
	err := m.Send(context.Background(), Message{To: "b@example.com"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestSMTPMailer(t *testing.T) {
	m := NewSMTPMailer(config.SMTPConfig{Host: "smtp.example.com", Port: 2525, Username: "u", Password: "p"})
	var addr string
	var raw []byte
	m.sendMail = func(a string, _ smtp.Auth, from string, to []string, msg []byte) error {
		addr = a
		raw = msg
		assert.Equal(t, "a@example.com", from)
		assert.Equal(t, []string{"b@example.com"}, to)
		return nil
	}

	err := m.Send(context.Background(), Message{From: "a@example.com", To: "b@example.com", Subject: "Pass", Text: "line1\nline2"})
	require.NoError(t, err)
	assert.Equal(t, "smtp.example.com:2525", addr)
	assert.Contains(t, string(raw), "Subject: Pass\r\n")
	assert.True(t, strings.HasSuffix(string(raw), "line1\r\nline2"))
}

func TestSMTPMailer_ContextCancel(t *testing.T) {
	m := NewSMTPMailer(config.SMTPConfig{Host: "smtp.example.com"})
	release := make(chan struct{})
	defer close(release)
	m.sendMail = func(string, smtp.Auth, string, []string, []byte) error {
		<-release
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, m.Send(ctx, Message{To: "b@example.com"}), context.DeadlineExceeded)
}
