package passledger

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roomboard/passledger/internal/auth"
	"github.com/roomboard/passledger/internal/config"
	"github.com/roomboard/passledger/internal/entitlements"
	"github.com/roomboard/passledger/internal/gateway"
	"github.com/roomboard/passledger/internal/storage"
)

const (
	appSecret = "app-secret"
	appUser   = "6f1c2a9e-8d7b-4c3a-9e2f-1a2b3c4d5e6f"
	appToken  = "app-token"
)

func appConfig() *config.Config {
	return &config.Config{
		Gateway: config.GatewayConfig{
			MerchantID: "10000100",
			Passphrase: appSecret,
			ProcessURL: "https://pay.example.com/eng/process",
		},
		Plans: config.PlansConfig{
			Currency: "ZAR",
			Catalog: map[string]config.PlanConfig{
				"weekly": {Duration: config.Duration{Duration: 5 * 24 * time.Hour}, AmountCents: 4900, ItemName: "Weekly Pass"},
			},
		},
		Storage:       config.StorageConfig{Backend: "memory"},
		Notifications: config.NotificationsConfig{InApp: true, EmailProvider: "none"},
		Ledger:        config.LedgerConfig{RecordPendingIntents: true},
	}
}

func newTestApp(t *testing.T, cfg *config.Config, opts ...Option) *App {
	t.Helper()
	opts = append([]Option{
		WithLogger(zerolog.Nop()),
		WithRegisterer(prometheus.NewRegistry()),
		WithResolver(auth.StaticResolver{appToken: {UserID: appUser}}),
	}, opts...)
	app, err := NewApp(cfg, opts...)
	require.NoError(t, err)
	return app
}

func signedForm(key string) url.Values {
	n := gateway.Notification{
		MerchantID:       "10000100",
		GatewayPaymentID: "pf-1",
		IdempotencyKey:   key,
		Status:           "COMPLETE",
		ItemName:         "Weekly Pass",
		Amount:           "49.00",
	}
	form := url.Values{}
	for k, v := range n.Fields() {
		form.Set(k, v)
	}
	form.Set("signature", auth.Sign(n.Fields(), appSecret))
	return form
}

func TestNewApp_RequiresConfig(t *testing.T) {
	_, err := NewApp(nil)
	assert.Error(t, err)
}

func TestNewApp_UnknownIdempotencyBackend(t *testing.T) {
	cfg := appConfig()
	cfg.Idempotency.Backend = "memcached"

	_, err := NewApp(cfg, WithLogger(zerolog.Nop()), WithRegisterer(prometheus.NewRegistry()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "memcached")
}

func TestApp_WebhookGrantsAccess(t *testing.T) {
	mem := storage.NewMemoryStore()
	t.Cleanup(func() { _ = mem.Close() })

	app := newTestApp(t, appConfig(), WithStore(mem))
	key := fmt.Sprintf("RB-%s-%d", appUser, time.Now().UnixMilli())

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(signedForm(key).Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("Authorization", "Bearer "+appToken)
	rec = httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var level entitlements.AccessLevel
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &level))
	assert.True(t, level.IsPaid())
	assert.Equal(t, "weekly", level.PlanType)

	// Close drains the dispatcher, so the in-app notice is visible afterwards
	require.NoError(t, app.Close())
	list, err := mem.ListNotifications(context.Background(), appUser, 10)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestApp_CloseIsIdempotent(t *testing.T) {
	app := newTestApp(t, appConfig())
	require.NoError(t, app.Close())
	assert.NoError(t, app.Close())
}

func TestNewHandler(t *testing.T) {
	handler, shutdown, err := NewHandler(appConfig(), WithLogger(zerolog.Nop()), WithRegisterer(prometheus.NewRegistry()))
	require.NoError(t, err)
	defer func() { _ = shutdown(context.Background()) }()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
