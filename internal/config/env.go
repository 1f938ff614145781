package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// applyEnvOverrides applies environment variable overrides to the config.
// Environment variables take precedence over YAML configuration.
// All env vars use PASSLEDGER_ prefix for namespace isolation.
func (c *Config) applyEnvOverrides() {
	// Server config
	setIfEnv(&c.Server.Address, "PASSLEDGER_SERVER_ADDRESS")
	setIfEnv(&c.Server.RoutePrefix, "PASSLEDGER_ROUTE_PREFIX")
	setIfEnv(&c.Server.AdminMetricsAPIKey, "PASSLEDGER_ADMIN_METRICS_API_KEY")
	if v := os.Getenv("PASSLEDGER_CORS_ALLOWED_ORIGINS"); v != "" {
		c.Server.CORSAllowedOrigins = splitList(v)
	}

	// Normalize route prefix: ensure it starts with / and doesn't end with /
	if c.Server.RoutePrefix != "" {
		c.Server.RoutePrefix = normalizeRoutePrefix(c.Server.RoutePrefix)
	}

	// Logging config
	setIfEnv(&c.Logging.Level, "PASSLEDGER_LOG_LEVEL")
	setIfEnv(&c.Logging.Format, "PASSLEDGER_LOG_FORMAT")
	setIfEnv(&c.Logging.Environment, "PASSLEDGER_ENVIRONMENT")

	// Hosted gateway config
	setIfEnv(&c.Gateway.MerchantID, "PASSLEDGER_GATEWAY_MERCHANT_ID")
	setIfEnv(&c.Gateway.MerchantKey, "PASSLEDGER_GATEWAY_MERCHANT_KEY")
	setIfEnv(&c.Gateway.Passphrase, "PASSLEDGER_GATEWAY_PASSPHRASE")
	setBoolIfEnv(&c.Gateway.Sandbox, "PASSLEDGER_GATEWAY_SANDBOX")
	setIfEnv(&c.Gateway.ProcessURL, "PASSLEDGER_GATEWAY_PROCESS_URL")
	setIfEnv(&c.Gateway.SandboxProcessURL, "PASSLEDGER_GATEWAY_SANDBOX_PROCESS_URL")
	setIfEnv(&c.Gateway.ReturnURL, "PASSLEDGER_GATEWAY_RETURN_URL")
	setIfEnv(&c.Gateway.CancelURL, "PASSLEDGER_GATEWAY_CANCEL_URL")
	setIfEnv(&c.Gateway.NotifyURL, "PASSLEDGER_GATEWAY_NOTIFY_URL")

	// Stripe config
	setBoolIfEnv(&c.Stripe.Enabled, "PASSLEDGER_STRIPE_ENABLED")
	setIfEnv(&c.Stripe.SecretKey, "PASSLEDGER_STRIPE_SECRET_KEY")
	setIfEnv(&c.Stripe.WebhookSecret, "PASSLEDGER_STRIPE_WEBHOOK_SECRET")
	setIfEnv(&c.Stripe.SuccessURL, "PASSLEDGER_STRIPE_SUCCESS_URL")
	setIfEnv(&c.Stripe.CancelURL, "PASSLEDGER_STRIPE_CANCEL_URL")
	setIfEnv(&c.Stripe.Mode, "PASSLEDGER_STRIPE_MODE")

	// Plans
	setIfEnv(&c.Plans.Currency, "PASSLEDGER_PLANS_CURRENCY")
	for name, plan := range c.Plans.Catalog {
		prefix := "PASSLEDGER_PLAN_" + strings.ToUpper(name)
		setDurationIfEnv(&plan.Duration, prefix+"_DURATION")
		setInt64IfEnv(&plan.AmountCents, prefix+"_AMOUNT_CENTS")
		setIfEnv(&plan.ItemName, prefix+"_ITEM_NAME")
		c.Plans.Catalog[name] = plan
	}

	// Ledger
	setBoolIfEnv(&c.Ledger.RecordPendingIntents, "PASSLEDGER_LEDGER_RECORD_PENDING_INTENTS")
	setDurationIfEnv(&c.Ledger.QueryTimeout, "PASSLEDGER_LEDGER_QUERY_TIMEOUT")

	// Storage config
	setIfEnv(&c.Storage.Backend, "PASSLEDGER_STORAGE_BACKEND")
	setIfEnv(&c.Storage.PostgresURL, "PASSLEDGER_POSTGRES_URL")
	setIfEnv(&c.Storage.MongoDBURL, "PASSLEDGER_MONGODB_URL")
	setIfEnv(&c.Storage.MongoDBDatabase, "PASSLEDGER_MONGODB_DATABASE")
	setIfEnv(&c.Storage.FilePath, "PASSLEDGER_STORAGE_FILE_PATH")

	// Identity provider
	setIfEnv(&c.Identity.URL, "PASSLEDGER_IDENTITY_URL")
	setIfEnv(&c.Identity.APIKey, "PASSLEDGER_IDENTITY_API_KEY")
	setDurationIfEnv(&c.Identity.Timeout, "PASSLEDGER_IDENTITY_TIMEOUT")
	setDurationIfEnv(&c.Identity.CacheTTL, "PASSLEDGER_IDENTITY_CACHE_TTL")

	// Notifications
	setBoolIfEnv(&c.Notifications.InApp, "PASSLEDGER_NOTIFY_IN_APP")
	setIfEnv(&c.Notifications.EmailProvider, "PASSLEDGER_NOTIFY_EMAIL_PROVIDER")
	setIfEnv(&c.Notifications.From, "PASSLEDGER_NOTIFY_FROM")
	setIfEnv(&c.Notifications.Subject, "PASSLEDGER_NOTIFY_SUBJECT")
	setIfEnv(&c.Notifications.SMTP.Host, "PASSLEDGER_SMTP_HOST")
	setIntIfEnv(&c.Notifications.SMTP.Port, "PASSLEDGER_SMTP_PORT")
	setIfEnv(&c.Notifications.SMTP.Username, "PASSLEDGER_SMTP_USERNAME")
	setIfEnv(&c.Notifications.SMTP.Password, "PASSLEDGER_SMTP_PASSWORD")
	setIfEnv(&c.Notifications.HTTP.URL, "PASSLEDGER_EMAIL_API_URL")
	setIfEnv(&c.Notifications.HTTP.APIKey, "PASSLEDGER_EMAIL_API_KEY")
	setDurationIfEnv(&c.Notifications.Timeout, "PASSLEDGER_NOTIFY_TIMEOUT")
	setDurationIfEnv(&c.Notifications.DispatchTimeout, "PASSLEDGER_NOTIFY_DISPATCH_TIMEOUT")

	// Idempotency cache
	setIfEnv(&c.Idempotency.Backend, "PASSLEDGER_IDEMPOTENCY_BACKEND")
	setIfEnv(&c.Idempotency.RedisURL, "PASSLEDGER_REDIS_URL")
	setDurationIfEnv(&c.Idempotency.TTL, "PASSLEDGER_IDEMPOTENCY_TTL")

	// API Key config
	setBoolIfEnv(&c.APIKey.Enabled, "PASSLEDGER_API_KEY_ENABLED")
	// Load API keys (PASSLEDGER_API_KEY_*)
	for _, env := range os.Environ() {
		if !strings.HasPrefix(env, "PASSLEDGER_API_KEY_") {
			continue
		}
		parts := strings.SplitN(env, "=", 2)
		if len(parts) != 2 {
			continue
		}
		name := strings.TrimPrefix(parts[0], "PASSLEDGER_API_KEY_")
		if name == "" || name == "ENABLED" {
			continue
		}
		if c.APIKey.Keys == nil {
			c.APIKey.Keys = make(map[string]string)
		}
		// PASSLEDGER_API_KEY_GATEWAY_RELAY=partner -> key: "gateway_relay", tier: "partner"
		c.APIKey.Keys[strings.ToLower(name)] = strings.TrimSpace(parts[1])
	}
}

// setIfEnv sets a string pointer to the environment variable value if it exists.
func setIfEnv(target *string, key string) {
	if val := os.Getenv(key); val != "" {
		*target = val
	}
}

// setBoolIfEnv sets a boolean pointer from an environment variable.
// Accepts "1", "true", "TRUE", "True" as true values.
func setBoolIfEnv(target *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v == "1" || strings.EqualFold(v, "true")
	}
}

// setDurationIfEnv sets a Duration pointer from an environment variable.
// Uses time.ParseDuration to parse values like "5m", "120s", "1h30m".
func setDurationIfEnv(target *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			*target = Duration{Duration: dur}
		}
	}
}

func setIntIfEnv(target *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			*target = n
		}
	}
}

func setInt64IfEnv(target *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			*target = n
		}
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// normalizeRoutePrefix ensures the prefix starts with / and doesn't end with /.
// Examples: "api" -> "/api", "/api/" -> "/api", "pass-ledger" -> "/pass-ledger"
func normalizeRoutePrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return ""
	}
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	prefix = strings.TrimSuffix(prefix, "/")
	return prefix
}
