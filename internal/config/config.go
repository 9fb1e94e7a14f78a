// Package config loads stripe-sync-engine configuration from the
// environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the sync engine worker.
type Config struct {
	Database DatabaseConfig
	Stripe   StripeConfig
	Sigma    SigmaConfig
	Worker   WorkerConfig
}

// DatabaseConfig holds destination-database configuration.
type DatabaseConfig struct {
	ConnString      string
	MaxConns        int
	MinConns        int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// StripeConfig holds Stripe API and webhook configuration.
type StripeConfig struct {
	SecretKey       string
	AccountID       string // optional Connect platform account id
	WebhookSecret   string // optional static signing secret
	WebhookURL      string // this engine's own externally reachable webhook URL, for the reconciler
	APIVersion      string
	AutoExpandLists bool
	BackfillRelated bool
	// RevalidateKinds names registry entries whose webhook handler
	// re-fetches the object from Stripe before upserting, unless the
	// object already carries a terminal status.
	RevalidateKinds map[string]bool
	MaxRetries      int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
}

// SigmaConfig holds optional Sigma CSV export configuration.
type SigmaConfig struct {
	Enabled bool
}

// WorkerConfig holds backfill/queue worker tuning.
type WorkerConfig struct {
	MaxConcurrentObjects  int
	MaxConcurrentCustomers int
	// TickInterval must map to a valid cron schedule: LoadConfig rejects
	// anything other than 1-59 whole seconds or a whole number of
	// minutes under an hour.
	TickInterval time.Duration
	QueueBatch   int
	VisibilityTimeout time.Duration
	WorkerSecret string
}

// LoadConfig loads configuration from environment variables, applying
// the same defaults documented in spec §6.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Database: DatabaseConfig{
			ConnString:      getEnv("DATABASE_URL", ""),
			MaxConns:        getEnvAsInt("DB_MAX_CONNS", 10),
			MinConns:        getEnvAsInt("DB_MIN_CONNS", 0),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", "1h"),
			ConnMaxIdleTime: getEnvAsDuration("DB_CONN_MAX_IDLE_TIME", "30m"),
		},
		Stripe: StripeConfig{
			SecretKey:       getEnv("STRIPE_SECRET_KEY", ""),
			AccountID:       getEnv("STRIPE_ACCOUNT_ID", ""),
			WebhookSecret:   getEnv("STRIPE_WEBHOOK_SECRET", ""),
			WebhookURL:      getEnv("STRIPE_WEBHOOK_URL", ""),
			APIVersion:      getEnv("STRIPE_API_VERSION", ""),
			AutoExpandLists: getEnvAsBool("AUTO_EXPAND_LISTS", true),
			BackfillRelated: getEnvAsBool("BACKFILL_RELATED_ENTITIES", true),
			RevalidateKinds: parseSet(getEnv("REVALIDATE_ENTITY_KINDS", "")),
			MaxRetries:      getEnvAsInt("STRIPE_MAX_RETRIES", 5),
			InitialDelay:    getEnvAsDuration("STRIPE_RETRY_INITIAL_DELAY", "500ms"),
			MaxDelay:        getEnvAsDuration("STRIPE_RETRY_MAX_DELAY", "30s"),
		},
		Sigma: SigmaConfig{
			Enabled: getEnvAsBool("ENABLE_SIGMA", false),
		},
		Worker: WorkerConfig{
			MaxConcurrentObjects:   getEnvAsInt("MAX_CONCURRENT_OBJECTS", 5),
			MaxConcurrentCustomers: getEnvAsInt("MAX_CONCURRENT_CUSTOMERS", 10),
			TickInterval:           getEnvAsDuration("WORKER_TICK_INTERVAL", "10s"),
			QueueBatch:             getEnvAsInt("QUEUE_BATCH_SIZE", 10),
			VisibilityTimeout:      getEnvAsDuration("QUEUE_VISIBILITY_TIMEOUT", "60s"),
			WorkerSecret:           getEnv("WORKER_SECRET", ""),
		},
	}

	if cfg.Database.ConnString == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.Stripe.SecretKey == "" {
		return nil, fmt.Errorf("STRIPE_SECRET_KEY is required")
	}
	if d := cfg.Worker.TickInterval; d < time.Second || d%time.Second != 0 ||
		(d >= time.Minute && (d%time.Minute != 0 || d >= time.Hour)) {
		return nil, fmt.Errorf("WORKER_TICK_INTERVAL must be 1-59 whole seconds or a whole number of minutes under 60, got %s", d)
	}

	return cfg, nil
}

func parseSet(csv string) map[string]bool {
	out := make(map[string]bool)
	start := 0
	for i := 0; i <= len(csv); i++ {
		if i == len(csv) || csv[i] == ',' {
			if i > start {
				out[csv[start:i]] = true
			}
			start = i + 1
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		valueStr = defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		duration, _ := time.ParseDuration(defaultValue)
		return duration
	}
	return value
}
