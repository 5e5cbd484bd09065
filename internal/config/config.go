package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config captures runtime configuration values used by the checkout service.
type Config struct {
	// ServerAddress is the host:port pair the HTTP server listens on. Defaults to ":18111".
	ServerAddress string `env:"CHECKOUT_ADDR" envDefault:":18111"`

	// DatabaseURL is the Postgres DSN used by database/sql. When empty, checkout
	// sessions are kept in process memory.
	DatabaseURL string `env:"DATABASE_URL"`

	// JWTSecret signs the parent bearer tokens issued by the platform.
	JWTSecret string `env:"JWT_SECRET"`

	// PaymentProvider selects where the hosted payment URL comes from:
	// "platform" (POST /payments/intent) or "stripe" (Stripe Checkout Session).
	PaymentProvider string `env:"PAYMENT_PROVIDER" envDefault:"platform"`

	Platform Platform `envPrefix:"PLATFORM_API_"`
	Stripe   Stripe   `envPrefix:"STRIPE_"`
	Checkout Checkout `envPrefix:"CHECKOUT_"`
	Log      Log
}

// Platform configures the enrollment platform REST API client.
type Platform struct {
	BaseURL string        `env:"URL" envDefault:"http://localhost:8080/api/v1"`
	Token   string        `env:"TOKEN"`
	Timeout time.Duration `env:"TIMEOUT" envDefault:"15s"`
}

type Stripe struct {
	SecretKey     string `env:"SECRET_KEY"`
	WebhookSecret string `env:"WEBHOOK_SECRET"`
	SuccessURL    string `env:"SUCCESS_URL"`
	CancelURL     string `env:"CANCEL_URL"`
	Currency      string `env:"CURRENCY" envDefault:"usd"`
}

// Checkout holds the knobs of the checkout flow itself.
type Checkout struct {
	// ProcessingFeePercent is applied to the post-discount amount. Zero hides the fee line.
	ProcessingFeePercent float64 `env:"PROCESSING_FEE_PERCENT" envDefault:"0"`
	// MultiChild enables selecting several children in one transaction.
	MultiChild    bool          `env:"MULTI_CHILD" envDefault:"true"`
	SessionTTL    time.Duration `env:"SESSION_TTL" envDefault:"2h"`
	SweepInterval time.Duration `env:"SWEEP_INTERVAL" envDefault:"5m"`
	// SweepHeartbeat is how often sweeper stats are logged. Zero disables it.
	SweepHeartbeat time.Duration `env:"SWEEP_HEARTBEAT" envDefault:"1h"`
	// ClassListPath is where a checkout without a class id is sent back to.
	ClassListPath string `env:"CLASS_LIST_PATH" envDefault:"/classes"`
}

type Log struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"json"`
}

const (
	envDatabaseURL          = "DATABASE_URL"
	envJWTSecret            = "JWT_SECRET"
	envPaymentProvider      = "PAYMENT_PROVIDER"
	envPlatformURL          = "PLATFORM_API_URL"
	envStripeSecretKey      = "STRIPE_SECRET_KEY"
	envStripeSuccessURL     = "STRIPE_SUCCESS_URL"
	envStripeCancelURL      = "STRIPE_CANCEL_URL"
	envProcessingFeePercent = "CHECKOUT_PROCESSING_FEE_PERCENT"

	ProviderPlatform = "platform"
	ProviderStripe   = "stripe"
)

// Load reads configuration from environment variables, applies defaults, and returns
// a Config structure. Required values return an error when missing.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}

	cfg.PaymentProvider = strings.ToLower(strings.TrimSpace(cfg.PaymentProvider))
	cfg.Platform.BaseURL = strings.TrimRight(cfg.Platform.BaseURL, "/")

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("%s is required", envJWTSecret)
	}
	if _, err := url.ParseRequestURI(cfg.Platform.BaseURL); err != nil {
		return Config{}, fmt.Errorf("invalid %s: %w", envPlatformURL, err)
	}
	if cfg.Checkout.ProcessingFeePercent < 0 || cfg.Checkout.ProcessingFeePercent > 100 {
		return Config{}, fmt.Errorf("%s must be between 0 and 100", envProcessingFeePercent)
	}

	switch cfg.PaymentProvider {
	case ProviderPlatform:
	case ProviderStripe:
		if cfg.Stripe.SecretKey == "" {
			return Config{}, fmt.Errorf("%s is required when %s=stripe", envStripeSecretKey, envPaymentProvider)
		}
		if cfg.Stripe.SuccessURL == "" {
			return Config{}, fmt.Errorf("%s is required when %s=stripe", envStripeSuccessURL, envPaymentProvider)
		}
		if cfg.Stripe.CancelURL == "" {
			return Config{}, fmt.Errorf("%s is required when %s=stripe", envStripeCancelURL, envPaymentProvider)
		}
	default:
		return Config{}, fmt.Errorf("%s must be %q or %q, got %q", envPaymentProvider, ProviderPlatform, ProviderStripe, cfg.PaymentProvider)
	}

	return cfg, nil
}

// Database is the configuration the migrations tool needs.
type Database struct {
	URL string `env:"DATABASE_URL"`
	Log Log
}

// LoadDatabase reads only the database settings, so migrations can run
// without the service's secrets.
func LoadDatabase() (Database, error) {
	var cfg Database
	if err := env.Parse(&cfg); err != nil {
		return Database{}, fmt.Errorf("parse environment: %w", err)
	}
	if strings.TrimSpace(cfg.URL) == "" {
		return Database{}, fmt.Errorf("%s is required", envDatabaseURL)
	}
	return cfg, nil
}
