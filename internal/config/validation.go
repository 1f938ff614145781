package config

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"
)

// finalize applies defaults and validates the configuration.
func (c *Config) finalize() error {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Environment == "" {
		c.Logging.Environment = "production"
	}
	if c.Stripe.Mode == "" {
		c.Stripe.Mode = "test"
	}
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Plans.Currency == "" {
		c.Plans.Currency = "ZAR"
	}
	c.Plans.Currency = strings.ToUpper(c.Plans.Currency)
	for name, plan := range c.Plans.Catalog {
		if plan.ItemName == "" && name != "" {
			plan.ItemName = strings.ToUpper(name[:1]) + name[1:] + " Pass"
		}
		c.Plans.Catalog[name] = plan
	}

	if c.Ledger.QueryTimeout.Duration <= 0 {
		c.Ledger.QueryTimeout = Duration{Duration: 2 * time.Second}
	}

	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	if c.Storage.Backend == "" {
		c.Storage.Backend = "memory"
	}
	if c.Storage.Backend == "mongodb" && c.Storage.MongoDBDatabase == "" {
		c.Storage.MongoDBDatabase = "passledger"
	}
	if c.Storage.Backend == "file" && c.Storage.FilePath == "" {
		c.Storage.FilePath = "./data/passledger.json"
	}
	defaultTable(&c.Storage.SchemaMapping.PaymentIntents, "payment_intents")
	defaultTable(&c.Storage.SchemaMapping.PendingIntents, "pending_intents")
	defaultTable(&c.Storage.SchemaMapping.Notifications, "notifications")
	defaultTable(&c.Storage.SchemaMapping.LedgerLocks, "ledger_locks")

	if c.Identity.Timeout.Duration <= 0 {
		c.Identity.Timeout = Duration{Duration: 3 * time.Second}
	}

	c.Notifications.EmailProvider = strings.ToLower(strings.TrimSpace(c.Notifications.EmailProvider))
	if c.Notifications.EmailProvider == "" {
		c.Notifications.EmailProvider = "log"
	}
	if c.Notifications.Timeout.Duration <= 0 {
		c.Notifications.Timeout = Duration{Duration: 5 * time.Second}
	}
	if c.Notifications.DispatchTimeout.Duration <= 0 {
		c.Notifications.DispatchTimeout = Duration{Duration: 10 * time.Second}
	}
	if c.Notifications.SMTP.Port == 0 {
		c.Notifications.SMTP.Port = 587
	}

	c.Idempotency.Backend = strings.ToLower(strings.TrimSpace(c.Idempotency.Backend))
	if c.Idempotency.Backend == "" {
		c.Idempotency.Backend = "memory"
	}
	if c.Idempotency.TTL.Duration <= 0 {
		c.Idempotency.TTL = Duration{Duration: 24 * time.Hour}
	}

	return c.validate()
}

func defaultTable(m *TableMappingConfig, name string) {
	if strings.TrimSpace(m.TableName) == "" {
		m.TableName = name
	}
}

// validate checks that required configuration fields are set correctly.
func (c *Config) validate() error {
	var errs []string

	// Gateway validation
	if c.Gateway.MerchantID == "" {
		errs = append(errs, "gateway.merchant_id is required")
	}
	if c.Gateway.Passphrase == "" && !c.Gateway.Sandbox {
		errs = append(errs, "gateway.passphrase is required unless gateway.sandbox is enabled")
	}
	if c.Gateway.CheckoutURL() == "" {
		errs = append(errs, "gateway.process_url is required")
	} else if err := validateURL(c.Gateway.CheckoutURL()); err != nil {
		errs = append(errs, fmt.Sprintf("gateway.process_url: %v", err))
	}

	// Stripe validation
	if c.Stripe.Enabled {
		if c.Stripe.SecretKey == "" {
			errs = append(errs, "stripe.secret_key is required when stripe is enabled")
		}
		if c.Stripe.WebhookSecret == "" {
			errs = append(errs, "stripe.webhook_secret is required when stripe is enabled")
		}
	}

	// Plan catalog validation
	if len(c.Plans.Catalog) == 0 {
		errs = append(errs, "plans.catalog must define at least one plan")
	}
	names := make([]string, 0, len(c.Plans.Catalog))
	for name := range c.Plans.Catalog {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		plan := c.Plans.Catalog[name]
		if plan.Duration.Duration <= 0 {
			errs = append(errs, fmt.Sprintf("plans.catalog.%s.duration must be positive", name))
		}
		if plan.AmountCents <= 0 {
			errs = append(errs, fmt.Sprintf("plans.catalog.%s.amount_cents must be positive", name))
		}
	}

	// Storage validation
	switch c.Storage.Backend {
	case "memory", "file":
	case "postgres":
		if c.Storage.PostgresURL == "" {
			errs = append(errs, "storage.postgres_url is required when backend is 'postgres'")
		}
	case "mongodb":
		if c.Storage.MongoDBURL == "" {
			errs = append(errs, "storage.mongodb_url is required when backend is 'mongodb'")
		}
	default:
		errs = append(errs, fmt.Sprintf("storage.backend %q is not supported (memory, file, postgres, mongodb)", c.Storage.Backend))
	}

	// Notifications validation
	switch c.Notifications.EmailProvider {
	case "log", "none":
	case "smtp":
		if c.Notifications.SMTP.Host == "" {
			errs = append(errs, "notifications.smtp.host is required when email_provider is 'smtp'")
		}
	case "http":
		if c.Notifications.HTTP.URL == "" {
			errs = append(errs, "notifications.http.url is required when email_provider is 'http'")
		}
	default:
		errs = append(errs, fmt.Sprintf("notifications.email_provider %q is not supported (smtp, http, log, none)", c.Notifications.EmailProvider))
	}

	// Idempotency cache validation
	switch c.Idempotency.Backend {
	case "memory":
	case "redis":
		if c.Idempotency.RedisURL == "" {
			errs = append(errs, "idempotency.redis_url is required when backend is 'redis'")
		}
	default:
		errs = append(errs, fmt.Sprintf("idempotency.backend %q is not supported (memory, redis)", c.Idempotency.Backend))
	}

	if c.Identity.URL != "" {
		if err := validateURL(c.Identity.URL); err != nil {
			errs = append(errs, fmt.Sprintf("identity.url: %v", err))
		}
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "http", "https":
	case "":
		return errors.New("missing scheme")
	default:
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}

// ApplyPostgresPoolSettings applies connection pool settings to a database connection.
// If pool config is not specified, applies sensible defaults.
func ApplyPostgresPoolSettings(db *sql.DB, pool PostgresPoolConfig) {
	maxOpen := pool.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 25
	}

	maxIdle := pool.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 5
	}

	// maxIdle cannot exceed maxOpen
	if maxIdle > maxOpen {
		maxIdle = maxOpen
	}

	maxLifetime := pool.ConnMaxLifetime.Duration
	if maxLifetime <= 0 {
		maxLifetime = 5 * time.Minute
	}

	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(maxLifetime)
}
