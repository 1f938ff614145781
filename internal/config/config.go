package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads configuration from a YAML file and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		if err := cfg.parseFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.finalize(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:      ":8080",
			ReadTimeout:  Duration{Duration: 15 * time.Second},
			WriteTimeout: Duration{Duration: 15 * time.Second},
			IdleTimeout:  Duration{Duration: 60 * time.Second},
		},
		Gateway: GatewayConfig{
			ProcessURL:        "https://www.payfast.co.za/eng/process",
			SandboxProcessURL: "https://sandbox.payfast.co.za/eng/process",
		},
		Stripe: StripeConfig{
			Mode:       "test",
			SuccessURL: "http://localhost:8080/payment/success?session_id={CHECKOUT_SESSION_ID}",
			CancelURL:  "http://localhost:8080/payment/cancel",
		},
		Plans: PlansConfig{
			Currency: "ZAR",
			Catalog: map[string]PlanConfig{
				"weekly": {
					Duration:    Duration{Duration: 5 * 24 * time.Hour},
					AmountCents: 4900,
					ItemName:    "Weekly Pass",
				},
				"monthly": {
					Duration:    Duration{Duration: 25 * 24 * time.Hour},
					AmountCents: 14900,
					ItemName:    "Monthly Pass",
				},
			},
		},
		Ledger: LedgerConfig{
			RecordPendingIntents: true,
			QueryTimeout:         Duration{Duration: 2 * time.Second},
		},
		Identity: IdentityConfig{
			Timeout:  Duration{Duration: 3 * time.Second},
			CacheTTL: Duration{Duration: 30 * time.Second},
		},
		Notifications: NotificationsConfig{
			InApp:           true,
			EmailProvider:   "log",
			From:            "passes@localhost",
			Subject:         "Your pass is active",
			SMTP:            SMTPConfig{Port: 587},
			Timeout:         Duration{Duration: 5 * time.Second},
			DispatchTimeout: Duration{Duration: 10 * time.Second},
		},
		Idempotency: IdempotencyConfig{
			Backend: "memory",
			TTL:     Duration{Duration: 24 * time.Hour},
		},
		RateLimit: RateLimitConfig{
			// Generous limits - designed to prevent spam, not restrict legitimate use
			GlobalEnabled:  true,
			GlobalLimit:    1000,
			GlobalWindow:   Duration{Duration: 1 * time.Minute},
			PerUserEnabled: true,
			PerUserLimit:   60,
			PerUserWindow:  Duration{Duration: 1 * time.Minute},
			PerIPEnabled:   true,
			PerIPLimit:     120,
			PerIPWindow:    Duration{Duration: 1 * time.Minute},
		},
		APIKey: APIKeyConfig{
			Enabled: false,
			Keys:    make(map[string]string),
		},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled: true,
			Email: BreakerServiceConfig{
				MaxRequests:         3,
				Interval:            Duration{Duration: 60 * time.Second},
				Timeout:             Duration{Duration: 60 * time.Second},
				ConsecutiveFailures: 5,
				FailureRatio:        0.5,
				MinRequests:         10,
			},
			Identity: BreakerServiceConfig{
				MaxRequests:         3,
				Interval:            Duration{Duration: 60 * time.Second},
				Timeout:             Duration{Duration: 30 * time.Second},
				ConsecutiveFailures: 5,
				FailureRatio:        0.5,
				MinRequests:         10,
			},
			StripeAPI: BreakerServiceConfig{
				MaxRequests:         3,
				Interval:            Duration{Duration: 60 * time.Second},
				Timeout:             Duration{Duration: 30 * time.Second},
				ConsecutiveFailures: 5,
				FailureRatio:        0.5,
				MinRequests:         10,
			},
		},
	}
}

// parseFile reads and unmarshals a YAML configuration file.
func (c *Config) parseFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}
	return nil
}
