package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	Port        string
	DatabaseURL string
	RedisURL    string
	NumWorkers  int

	// Identity provider: API access plus one webhook secret per event
	// category. Distinct secrets limit the blast radius of a leak — a leaked
	// users secret cannot forge membership events.
	IdentityAPIURL          string
	IdentityAPIKey          string
	UserWebhookSecret       string
	OrgWebhookSecret        string
	MembershipWebhookSecret string

	// Payment processor.
	BillingAPIURL        string
	BillingAPIKey        string
	BillingWebhookSecret string

	// Analytical sink (write-only downstream).
	SinkURL    string
	SinkSecret string

	PollInterval  time.Duration
	PollPageSize  int
	RetentionDays int
}

// Load reads configuration from environment variables, with optional .env
// autoload for local development.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisURL:    getEnv("REDIS_URL", ""),
		NumWorkers:  getEnvInt("NUM_WORKERS", 20),

		IdentityAPIURL:          getEnv("IDENTITY_API_URL", ""),
		IdentityAPIKey:          getEnv("IDENTITY_API_KEY", ""),
		UserWebhookSecret:       getEnv("USER_WEBHOOK_SECRET", ""),
		OrgWebhookSecret:        getEnv("ORG_WEBHOOK_SECRET", ""),
		MembershipWebhookSecret: getEnv("MEMBERSHIP_WEBHOOK_SECRET", ""),

		BillingAPIURL:        getEnv("BILLING_API_URL", ""),
		BillingAPIKey:        getEnv("BILLING_API_KEY", ""),
		BillingWebhookSecret: getEnv("BILLING_WEBHOOK_SECRET", ""),

		SinkURL:    getEnv("SINK_URL", ""),
		SinkSecret: getEnv("SINK_SECRET", ""),

		PollInterval:  time.Duration(getEnvInt("POLL_INTERVAL_SECONDS", 60)) * time.Second,
		PollPageSize:  getEnvInt("POLL_PAGE_SIZE", 100),
		RetentionDays: getEnvInt("LEDGER_RETENTION_DAYS", 30),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}
	if cfg.UserWebhookSecret == "" || cfg.OrgWebhookSecret == "" || cfg.MembershipWebhookSecret == "" {
		return nil, fmt.Errorf("identity webhook secrets are required")
	}
	if cfg.BillingWebhookSecret == "" {
		return nil, fmt.Errorf("BILLING_WEBHOOK_SECRET is required")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}
