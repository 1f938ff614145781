package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfig_Defaults(t *testing.T) {
	clearEnv()
	// Empty path uses defaults, which lack gateway credentials
	cfg, err := Load("")
	if err == nil {
		t.Fatal("expected error when required fields are missing, got nil")
	}
	if cfg != nil {
		t.Fatal("expected nil config when validation fails")
	}
}

func TestLoadConfig_RequiredFields(t *testing.T) {
	tests := []struct {
		name    string
		envVars map[string]string
		wantErr string
	}{
		{
			name: "missing merchant id",
			envVars: map[string]string{
				"PASSLEDGER_GATEWAY_PASSPHRASE": "secret",
			},
			wantErr: "gateway.merchant_id is required",
		},
		{
			name: "missing passphrase outside sandbox",
			envVars: map[string]string{
				"PASSLEDGER_GATEWAY_MERCHANT_ID": "10000100",
			},
			wantErr: "gateway.passphrase is required",
		},
		{
			name: "postgres backend without url",
			envVars: map[string]string{
				"PASSLEDGER_GATEWAY_MERCHANT_ID": "10000100",
				"PASSLEDGER_GATEWAY_PASSPHRASE":  "secret",
				"PASSLEDGER_STORAGE_BACKEND":     "postgres",
			},
			wantErr: "storage.postgres_url is required",
		},
		{
			name: "redis idempotency without url",
			envVars: map[string]string{
				"PASSLEDGER_GATEWAY_MERCHANT_ID": "10000100",
				"PASSLEDGER_GATEWAY_PASSPHRASE":  "secret",
				"PASSLEDGER_IDEMPOTENCY_BACKEND": "redis",
			},
			wantErr: "idempotency.redis_url is required",
		},
		{
			name: "stripe enabled without keys",
			envVars: map[string]string{
				"PASSLEDGER_GATEWAY_MERCHANT_ID": "10000100",
				"PASSLEDGER_GATEWAY_PASSPHRASE":  "secret",
				"PASSLEDGER_STRIPE_ENABLED":      "true",
			},
			wantErr: "stripe.secret_key is required",
		},
		{
			name: "unknown email provider",
			envVars: map[string]string{
				"PASSLEDGER_GATEWAY_MERCHANT_ID":   "10000100",
				"PASSLEDGER_GATEWAY_PASSPHRASE":    "secret",
				"PASSLEDGER_NOTIFY_EMAIL_PROVIDER": "pigeon",
			},
			wantErr: "notifications.email_provider",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv()
			for k, v := range tt.envVars {
				os.Setenv(k, v)
			}
			defer clearEnv()

			_, err := Load("")
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %q", tt.wantErr, err.Error())
			}
		})
	}
}

func TestLoadConfig_ValidMinimal(t *testing.T) {
	clearEnv()
	os.Setenv("PASSLEDGER_GATEWAY_MERCHANT_ID", "10000100")
	os.Setenv("PASSLEDGER_GATEWAY_PASSPHRASE", "jt7NOE43FZPn")
	defer clearEnv()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("expected no error with valid config, got: %v", err)
	}

	if cfg.Server.Address != ":8080" {
		t.Errorf("expected default address :8080, got %s", cfg.Server.Address)
	}
	if cfg.Storage.Backend != "memory" {
		t.Errorf("expected default backend memory, got %s", cfg.Storage.Backend)
	}
	if got := cfg.Plans.Catalog["weekly"].Duration.Duration; got != 5*24*time.Hour {
		t.Errorf("expected weekly pass to last 5 days, got %v", got)
	}
	if got := cfg.Plans.Catalog["monthly"].Duration.Duration; got != 25*24*time.Hour {
		t.Errorf("expected monthly pass to last 25 days, got %v", got)
	}
	if !cfg.Ledger.RecordPendingIntents {
		t.Error("expected pending intents to be recorded by default")
	}
	if cfg.Storage.SchemaMapping.PaymentIntents.TableName != "payment_intents" {
		t.Errorf("expected default table name, got %q", cfg.Storage.SchemaMapping.PaymentIntents.TableName)
	}
	if cfg.Notifications.DispatchTimeout.Duration != 10*time.Second {
		t.Errorf("expected dispatch timeout 10s, got %v", cfg.Notifications.DispatchTimeout.Duration)
	}
}

func TestLoadConfig_SandboxWithoutPassphrase(t *testing.T) {
	clearEnv()
	os.Setenv("PASSLEDGER_GATEWAY_MERCHANT_ID", "10000100")
	os.Setenv("PASSLEDGER_GATEWAY_SANDBOX", "true")
	defer clearEnv()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("sandbox mode should not require a passphrase: %v", err)
	}
	if cfg.Gateway.CheckoutURL() != cfg.Gateway.SandboxProcessURL {
		t.Errorf("expected sandbox process url, got %s", cfg.Gateway.CheckoutURL())
	}
}

func TestLoadConfig_FromYAML(t *testing.T) {
	clearEnv()
	defer clearEnv()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlBody := `
gateway:
  merchant_id: "10000100"
  passphrase: "from-file"
plans:
  currency: zar
  catalog:
    weekly:
      duration: 432000
      amount_cents: 5900
storage:
  backend: file
notifications:
  dispatch_timeout: 15s
`
	if err := os.WriteFile(path, []byte(yamlBody), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	os.Setenv("PASSLEDGER_GATEWAY_PASSPHRASE", "from-env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Gateway.Passphrase != "from-env" {
		t.Errorf("expected env to override file, got %q", cfg.Gateway.Passphrase)
	}
	if cfg.Plans.Currency != "ZAR" {
		t.Errorf("expected upper-cased currency, got %q", cfg.Plans.Currency)
	}
	weekly := cfg.Plans.Catalog["weekly"]
	if weekly.Duration.Duration != 5*24*time.Hour {
		t.Errorf("expected numeric seconds to parse as 5 days, got %v", weekly.Duration.Duration)
	}
	if weekly.AmountCents != 5900 {
		t.Errorf("expected amount 5900, got %d", weekly.AmountCents)
	}
	if weekly.ItemName != "Weekly Pass" {
		t.Errorf("expected derived item name, got %q", weekly.ItemName)
	}
	if cfg.Storage.FilePath == "" {
		t.Error("expected default file path for file backend")
	}
	if cfg.Notifications.DispatchTimeout.Duration != 15*time.Second {
		t.Errorf("expected 15s dispatch timeout, got %v", cfg.Notifications.DispatchTimeout.Duration)
	}
}

func TestNormalizeRoutePrefix(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"", ""},
		{"api", "/api"},
		{"/api", "/api"},
		{"/api/", "/api"},
		{"  /api/  ", "/api"},
		{"pass-ledger", "/pass-ledger"},
		{"/v1/passes", "/v1/passes"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := normalizeRoutePrefix(tt.input)
			if got != tt.want {
				t.Errorf("normalizeRoutePrefix(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

// Test helpers

func clearEnv() {
	for _, env := range os.Environ() {
		for i := 0; i < len(env); i++ {
			if env[i] == '=' {
				key := env[:i]
				if len(key) >= len("PASSLEDGER_") && key[:len("PASSLEDGER_")] == "PASSLEDGER_" {
					os.Unsetenv(key)
				}
				break
			}
		}
	}
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && (s == substr || len(s) > len(substr) && containsAny(s, substr))
}

func containsAny(s, substr string) bool {
	for i := 0; i <= len(s)-len(substr); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
