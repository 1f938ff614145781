package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support string based YAML decoding.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration values expressed as Go-style strings or numbers interpreted as seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		raw := strings.TrimSpace(value.Value)
		if raw == "" {
			d.Duration = 0
			return nil
		}
		parsed, err := time.ParseDuration(raw)
		if err == nil {
			d.Duration = parsed
			return nil
		}
		secs, convErr := time.ParseDuration(fmt.Sprintf("%ss", raw))
		if convErr == nil {
			d.Duration = secs
			return nil
		}
		return fmt.Errorf("invalid duration value %q: %w", raw, err)
	default:
		return fmt.Errorf("unsupported duration node kind: %v", value.Kind)
	}
}

// MarshalYAML renders the duration as a string to keep config edits human-friendly.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config holds application level configuration aggregated from file and environment variables.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Logging        LoggingConfig        `yaml:"logging"`
	Gateway        GatewayConfig        `yaml:"gateway"`
	Stripe         StripeConfig         `yaml:"stripe"`
	Plans          PlansConfig          `yaml:"plans"`
	Ledger         LedgerConfig         `yaml:"ledger"`
	Storage        StorageConfig        `yaml:"storage"`
	Identity       IdentityConfig       `yaml:"identity"`
	Notifications  NotificationsConfig  `yaml:"notifications"`
	Idempotency    IdempotencyConfig    `yaml:"idempotency"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	APIKey         APIKeyConfig         `yaml:"api_key"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Address            string   `yaml:"address"`
	ReadTimeout        Duration `yaml:"read_timeout"`
	WriteTimeout       Duration `yaml:"write_timeout"`
	IdleTimeout        Duration `yaml:"idle_timeout"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
	RoutePrefix        string   `yaml:"route_prefix"`          // Optional prefix for all routes (e.g., "/api", "/payments")
	AdminMetricsAPIKey string   `yaml:"admin_metrics_api_key"` // Optional API key to protect /metrics endpoint
}

// GatewayConfig holds the hosted payment gateway settings (redirect checkout plus ITN-style webhook).
type GatewayConfig struct {
	MerchantID        string `yaml:"merchant_id"`
	MerchantKey       string `yaml:"merchant_key"`
	Passphrase        string `yaml:"passphrase"` // Shared secret for webhook signatures
	Sandbox           bool   `yaml:"sandbox"`    // Skips signature verification; never enable in production
	ProcessURL        string `yaml:"process_url"`
	SandboxProcessURL string `yaml:"sandbox_process_url"`
	ReturnURL         string `yaml:"return_url"`
	CancelURL         string `yaml:"cancel_url"`
	NotifyURL         string `yaml:"notify_url"`
}

// CheckoutURL returns the process URL for the current mode.
func (g GatewayConfig) CheckoutURL() string {
	if g.Sandbox && g.SandboxProcessURL != "" {
		return g.SandboxProcessURL
	}
	return g.ProcessURL
}

// StripeConfig holds Stripe payment integration configuration.
type StripeConfig struct {
	Enabled       bool   `yaml:"enabled"`
	SecretKey     string `yaml:"secret_key"`
	WebhookSecret string `yaml:"webhook_secret"`
	SuccessURL    string `yaml:"success_url"`
	CancelURL     string `yaml:"cancel_url"`
	Mode          string `yaml:"mode"` // live | test
}

// PlansConfig defines the pass catalog.
type PlansConfig struct {
	Currency string                `yaml:"currency"`
	Catalog  map[string]PlanConfig `yaml:"catalog"`
}

// PlanConfig defines a single pass type.
type PlanConfig struct {
	Duration    Duration `yaml:"duration"`
	AmountCents int64    `yaml:"amount_cents"`
	ItemName    string   `yaml:"item_name"`
}

// LedgerConfig holds entitlement ledger behaviour switches.
type LedgerConfig struct {
	RecordPendingIntents bool     `yaml:"record_pending_intents"` // Persist a pending intent on /initialize (default: true)
	QueryTimeout         Duration `yaml:"query_timeout"`          // Bound for access-level lookups (default: 2s)
}

// PostgresPoolConfig holds PostgreSQL connection pool settings.
type PostgresPoolConfig struct {
	MaxOpenConns    int      `yaml:"max_open_conns"`    // Maximum number of open connections (default: 25)
	MaxIdleConns    int      `yaml:"max_idle_conns"`    // Maximum number of idle connections (default: 5)
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"` // Maximum lifetime of connections (default: 5m)
}

// StorageConfig holds storage backend configuration.
type StorageConfig struct {
	Backend         string              `yaml:"backend"`          // "memory", "postgres", "mongodb", or "file"
	PostgresURL     string              `yaml:"postgres_url"`     // PostgreSQL connection string
	MongoDBURL      string              `yaml:"mongodb_url"`      // MongoDB connection string
	MongoDBDatabase string              `yaml:"mongodb_database"` // MongoDB database name
	FilePath        string              `yaml:"file_path"`        // Path to JSON file for file backend
	PostgresPool    PostgresPoolConfig  `yaml:"postgres_pool"`    // PostgreSQL connection pool settings
	SchemaMapping   SchemaMappingConfig `yaml:"schema_mapping"`   // Table/collection name mappings for all entities
}

// SchemaMappingConfig holds table/collection name mappings for custom schemas.
type SchemaMappingConfig struct {
	PaymentIntents TableMappingConfig `yaml:"payment_intents"`
	PendingIntents TableMappingConfig `yaml:"pending_intents"`
	Notifications  TableMappingConfig `yaml:"notifications"`
	LedgerLocks    TableMappingConfig `yaml:"ledger_locks"` // MongoDB only
}

// TableMappingConfig defines a single table/collection mapping.
type TableMappingConfig struct {
	TableName string `yaml:"table_name"`
}

// IdentityConfig configures the bearer-token identity provider.
type IdentityConfig struct {
	URL      string   `yaml:"url"`       // GET endpoint returning {"id": "<uuid>"} for a bearer token
	APIKey   string   `yaml:"api_key"`   // Optional service key sent as "apikey" header
	Timeout  Duration `yaml:"timeout"`   // default: 3s
	CacheTTL Duration `yaml:"cache_ttl"` // default: 30s, 0 disables caching
}

// NotificationsConfig configures the post-payment notification dispatcher.
type NotificationsConfig struct {
	InApp           bool       `yaml:"in_app"`           // Persist in-app notices (default: true)
	EmailProvider   string     `yaml:"email_provider"`   // "smtp", "http", "log", or "none"
	From            string     `yaml:"from"`
	Subject         string     `yaml:"subject"`
	SMTP            SMTPConfig `yaml:"smtp"`
	HTTP            HTTPMailer `yaml:"http"`
	Timeout         Duration   `yaml:"timeout"`          // Per-channel send timeout (default: 5s)
	DispatchTimeout Duration   `yaml:"dispatch_timeout"` // Whole dispatch bound (default: 10s)
}

// SMTPConfig holds SMTP relay settings.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// HTTPMailer holds settings for a JSON email API.
type HTTPMailer struct {
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key"`
}

// IdempotencyConfig configures the Idempotency-Key response cache used by /initialize.
type IdempotencyConfig struct {
	Backend  string   `yaml:"backend"`   // "memory" (default) or "redis"
	RedisURL string   `yaml:"redis_url"` // redis://host:6379/0
	TTL      Duration `yaml:"ttl"`       // default: 24h
}

// LoggingConfig holds structured logging configuration.
type LoggingConfig struct {
	Level       string `yaml:"level"`       // debug, info, warn, error (default: info)
	Format      string `yaml:"format"`      // json, console (default: json)
	Environment string `yaml:"environment"` // production, staging, development
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	// Global rate limiting (across all callers)
	GlobalEnabled bool     `yaml:"global_enabled"`
	GlobalLimit   int      `yaml:"global_limit"`
	GlobalWindow  Duration `yaml:"global_window"`

	// Per-user rate limiting (identified by bearer token or user_id)
	PerUserEnabled bool     `yaml:"per_user_enabled"`
	PerUserLimit   int      `yaml:"per_user_limit"`
	PerUserWindow  Duration `yaml:"per_user_window"`

	// Per-IP rate limiting (fallback when no user is identified)
	PerIPEnabled bool     `yaml:"per_ip_enabled"`
	PerIPLimit   int      `yaml:"per_ip_limit"`
	PerIPWindow  Duration `yaml:"per_ip_window"`
}

// APIKeyConfig holds API key tiers for trusted callers.
// Allows the gateway relay and internal services to bypass rate limits via X-API-Key header.
type APIKeyConfig struct {
	Enabled bool              `yaml:"enabled"`
	Keys    map[string]string `yaml:"keys"` // Map of API key -> tier (free, service, partner)
}

// CircuitBreakerConfig holds circuit breaker configuration for external services.
type CircuitBreakerConfig struct {
	Enabled   bool                 `yaml:"enabled"`    // Enable circuit breakers (default: true)
	Email     BreakerServiceConfig `yaml:"email"`      // Email provider
	Identity  BreakerServiceConfig `yaml:"identity"`   // Identity provider
	StripeAPI BreakerServiceConfig `yaml:"stripe_api"` // Stripe API
}

// BreakerServiceConfig configures a circuit breaker for a specific external service.
type BreakerServiceConfig struct {
	MaxRequests         uint32   `yaml:"max_requests"`         // Max requests in half-open state (default: 3)
	Interval            Duration `yaml:"interval"`             // Stats reset interval in closed state (default: 60s)
	Timeout             Duration `yaml:"timeout"`              // Open state timeout before half-open (default: 30s)
	ConsecutiveFailures uint32   `yaml:"consecutive_failures"` // Consecutive failures to trip (default: 5)
	FailureRatio        float64  `yaml:"failure_ratio"`        // Failure ratio to trip 0.0-1.0 (default: 0.5)
	MinRequests         uint32   `yaml:"min_requests"`         // Minimum requests before checking ratio (default: 10)
}
