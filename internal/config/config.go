package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config captures runtime configuration values used by the subscription service.
type Config struct {
	// ServerAddress is the host:port pair the HTTP server listens on. Defaults to ":18111".
	ServerAddress string `env:"BACKEND_ADDR" envDefault:":18111"`

	// DatabaseURL is the Postgres DSN used by database/sql.
	DatabaseURL string `env:"DATABASE_URL,notEmpty"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	Stripe StripeConfig
	Plans  PlanConfig

	// DowngradePolicy selects how a move to a lower tier is handled: "schedule" defers it to
	// the end of the billing period, "reject" refuses it outright.
	DowngradePolicy string `env:"DOWNGRADE_POLICY" envDefault:"schedule"`

	// EmailVerificationExceptions lists addresses allowed past the access gate without a
	// verified email.
	EmailVerificationExceptions []string `env:"EMAIL_VERIFICATION_EXCEPTIONS" envSeparator:","`

	Worker WorkerConfig
}

// StripeConfig holds billing provider credentials.
type StripeConfig struct {
	SecretKey     string `env:"STRIPE_SECRET_KEY,notEmpty"`
	WebhookSecret string `env:"STRIPE_WEBHOOK_SECRET,notEmpty"`
}

// PlanConfig maps each tier to its provider price identifier.
type PlanConfig struct {
	StarterPriceID   string `env:"STRIPE_PRICE_ID_STARTER"`
	PlusPriceID      string `env:"STRIPE_PRICE_ID_PLUS"`
	FamilyProPriceID string `env:"STRIPE_PRICE_ID_FAMILY_PRO"`
}

// WorkerConfig tunes the background reconciliation worker.
type WorkerConfig struct {
	Concurrency   int           `env:"WORKER_CONCURRENCY" envDefault:"2"`
	PollInterval  time.Duration `env:"WORKER_POLL_INTERVAL" envDefault:"5s"`
	SweepInterval time.Duration `env:"RECONCILE_SWEEP_INTERVAL" envDefault:"15m"`
}

const (
	DowngradePolicySchedule = "schedule"
	DowngradePolicyReject   = "reject"
)

const (
	defaultServerAddress = ":18111"
	envServerAddress     = "BACKEND_ADDR"
	envDatabaseURL       = "DATABASE_URL"
	envStripeSecretKey   = "STRIPE_SECRET_KEY"
	envWebhookSecret     = "STRIPE_WEBHOOK_SECRET"
	envDowngradePolicy   = "DOWNGRADE_POLICY"
)

// Load reads configuration from environment variables, applies defaults, and returns
// a Config structure. Required values return an error when missing.
func Load() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("config: parse environment: %w", err)
	}

	if _, err := url.Parse(cfg.DatabaseURL); err != nil {
		return Config{}, fmt.Errorf("invalid %s: %w", envDatabaseURL, err)
	}

	cfg.DowngradePolicy = strings.ToLower(strings.TrimSpace(cfg.DowngradePolicy))
	switch cfg.DowngradePolicy {
	case DowngradePolicySchedule, DowngradePolicyReject:
	default:
		return Config{}, fmt.Errorf("invalid %s %q: want %q or %q",
			envDowngradePolicy, cfg.DowngradePolicy, DowngradePolicySchedule, DowngradePolicyReject)
	}

	exceptions := cfg.EmailVerificationExceptions[:0]
	for _, e := range cfg.EmailVerificationExceptions {
		if e = strings.ToLower(strings.TrimSpace(e)); e != "" {
			exceptions = append(exceptions, e)
		}
	}
	cfg.EmailVerificationExceptions = exceptions

	if cfg.Worker.Concurrency <= 0 {
		cfg.Worker.Concurrency = 1
	}

	return cfg, nil
}

// DatabaseConfig is the subset of Config needed by schema tooling.
type DatabaseConfig struct {
	DatabaseURL string `env:"DATABASE_URL,notEmpty"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
}

// LoadDatabase reads only the database settings, so migrations run without billing credentials.
func LoadDatabase() (DatabaseConfig, error) {
	cfg, err := env.ParseAs[DatabaseConfig]()
	if err != nil {
		return DatabaseConfig{}, fmt.Errorf("config: parse environment: %w", err)
	}
	if _, err := url.Parse(cfg.DatabaseURL); err != nil {
		return DatabaseConfig{}, fmt.Errorf("invalid %s: %w", envDatabaseURL, err)
	}
	return cfg, nil
}
