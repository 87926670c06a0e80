package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// IntaSendConfig holds the credentials for the IntaSend checkout API
type IntaSendConfig struct {
	APIKey         string
	PublishableKey string
	BaseURL        string
	WebhookSecret  string
}

// MidtransConfig holds the credentials for the Midtrans Snap API
type MidtransConfig struct {
	ServerKey    string
	ClientKey    string
	IsProduction bool
}

// Config is the process configuration, built once in main and passed down
// to the services that need it.
type Config struct {
	Port        string
	Env         string
	DatabaseURL string
	RedisURL    string

	KafkaBrokers []string
	KafkaTopic   string

	IntaSend        IntaSendConfig
	Midtrans        MidtransConfig
	ProviderTimeout time.Duration

	AllowedOrigins          []string
	FirebaseCredentialsPath string

	ReconcileMaxAttempts int
	ReconcileRule        string
	WorkerInterval       time.Duration
}

const defaultIntaSendBaseURL = "https://sandbox.intasend.com/api/v1"

// Load reads the configuration from the process environment.
// The .env file, if any, must already be loaded by the caller.
func Load() (*Config, error) {
	getEnv := func(key string, required bool) (string, error) {
		value := os.Getenv(key)
		if value == "" && required {
			return "", fmt.Errorf("missing required environment variable: %s", key)
		}
		return value, nil
	}

	cfg := &Config{
		Port:                    envOrDefault("PORT", "8080"),
		Env:                     envOrDefault("ENV", "development"),
		RedisURL:                os.Getenv("REDIS_URL"),
		KafkaBrokers:            splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:              envOrDefault("KAFKA_PAYMENT_TOPIC", "payments"),
		FirebaseCredentialsPath: envOrDefault("FIREBASE_CREDENTIALS_PATH", "./firebase-service-account.json"),
		AllowedOrigins:          splitList(envOrDefault("CORS_ALLOWED_ORIGINS", "*")),
		ReconcileRule:           envOrDefault("RECONCILE_RRULE", "FREQ=MINUTELY;INTERVAL=15"),
	}

	var err error
	if cfg.DatabaseURL, err = getEnv("DATABASE_URL", true); err != nil {
		return nil, err
	}

	if cfg.IntaSend.APIKey, err = getEnv("INTASEND_API_KEY", true); err != nil {
		return nil, err
	}
	if cfg.IntaSend.PublishableKey, err = getEnv("INTASEND_PUBLISHABLE_KEY", true); err != nil {
		return nil, err
	}
	if cfg.IntaSend.WebhookSecret, err = getEnv("INTASEND_WEBHOOK_SECRET", true); err != nil {
		return nil, err
	}
	cfg.IntaSend.BaseURL = strings.TrimRight(envOrDefault("INTASEND_BASE_URL", defaultIntaSendBaseURL), "/")

	// Midtrans is optional; the gateway is disabled without a server key.
	cfg.Midtrans.ServerKey = os.Getenv("MIDTRANS_SERVER_KEY")
	cfg.Midtrans.ClientKey = os.Getenv("MIDTRANS_CLIENT_KEY")
	if cfg.Midtrans.IsProduction, err = cast.ToBoolE(envOrDefault("MIDTRANS_IS_PRODUCTION", "false")); err != nil {
		return nil, fmt.Errorf("invalid MIDTRANS_IS_PRODUCTION: %w", err)
	}

	if cfg.ProviderTimeout, err = cast.ToDurationE(envOrDefault("PROVIDER_TIMEOUT", "10s")); err != nil {
		return nil, fmt.Errorf("invalid PROVIDER_TIMEOUT: %w", err)
	}
	if cfg.WorkerInterval, err = cast.ToDurationE(envOrDefault("WORKER_INTERVAL", "5m")); err != nil {
		return nil, fmt.Errorf("invalid WORKER_INTERVAL: %w", err)
	}
	if cfg.ReconcileMaxAttempts, err = cast.ToIntE(envOrDefault("RECONCILE_MAX_ATTEMPTS", "5")); err != nil {
		return nil, fmt.Errorf("invalid RECONCILE_MAX_ATTEMPTS: %w", err)
	}
	if cfg.ReconcileMaxAttempts < 1 {
		return nil, fmt.Errorf("RECONCILE_MAX_ATTEMPTS must be at least 1")
	}

	return cfg, nil
}

// IsProduction reports whether ENV is set to production
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// MidtransEnabled reports whether a Midtrans server key is configured
func (c *Config) MidtransEnabled() bool {
	return c.Midtrans.ServerKey != ""
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
