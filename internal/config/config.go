// Package config provides application configuration.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all application configuration.
type Config struct {
	Port           string `env:"PORT" envDefault:"8080"`
	GRPCHealthPort string `env:"GRPC_HEALTH_PORT"`
	// AppEnv must be set to "development" explicitly to relax origin and
	// wallet credit checks.
	AppEnv         string   `env:"APP_ENV" envDefault:"production"`
	DBPath         string   `env:"DB_PATH" envDefault:"./data/chatpay.db"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`
	// WalletCreditToken authorizes wallet top-ups from the purchase flow.
	// When empty, top-ups are refused unless AppEnv is development.
	WalletCreditToken string        `env:"WALLET_CREDIT_TOKEN"`
	Billing           BillingConfig `envPrefix:"BILLING_"`
	Reaper            ReaperConfig  `envPrefix:"REAPER_"`
	Retry             RetryConfig   `envPrefix:"RETRY_"`
}

// BillingConfig controls pricing, allowances and the deposit split.
type BillingConfig struct {
	DepositAmount              int64 `env:"DEPOSIT_AMOUNT" envDefault:"100"`
	PlatformFeePercent         int   `env:"PLATFORM_FEE_PERCENT" envDefault:"35"`
	FreeMessagesPerParticipant int   `env:"FREE_MESSAGES_PER_PARTICIPANT" envDefault:"3"`
	FreePoolCap                int   `env:"FREE_POOL_CAP" envDefault:"50"`
	PremiumWordsPerToken       int   `env:"PREMIUM_WORDS_PER_TOKEN" envDefault:"7"`
	StandardWordsPerToken      int   `env:"STANDARD_WORDS_PER_TOKEN" envDefault:"11"`
	MinAccountAgeDays          int   `env:"MIN_ACCOUNT_AGE_DAYS" envDefault:"5"`
}

// ReaperConfig controls the inactivity sweep.
type ReaperConfig struct {
	Interval          time.Duration `env:"INTERVAL" envDefault:"1h"`
	InactivityTimeout time.Duration `env:"INACTIVITY_TIMEOUT" envDefault:"48h"`
}

// RetryConfig bounds retries of session transactions that lost a lock race.
type RetryConfig struct {
	MaxAttempts int           `env:"MAX_ATTEMPTS" envDefault:"3"`
	BaseDelay   time.Duration `env:"BASE_DELAY" envDefault:"25ms"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.GRPCHealthPort != "" && c.GRPCHealthPort == c.Port {
		return fmt.Errorf("GRPC_HEALTH_PORT must differ from PORT")
	}

	b := c.Billing
	if b.DepositAmount <= 0 {
		return fmt.Errorf("BILLING_DEPOSIT_AMOUNT must be > 0")
	}
	if b.PlatformFeePercent < 0 || b.PlatformFeePercent > 100 {
		return fmt.Errorf("BILLING_PLATFORM_FEE_PERCENT must be between 0 and 100")
	}
	if b.FreeMessagesPerParticipant < 0 {
		return fmt.Errorf("BILLING_FREE_MESSAGES_PER_PARTICIPANT cannot be negative")
	}
	if b.FreePoolCap <= 0 {
		return fmt.Errorf("BILLING_FREE_POOL_CAP must be > 0")
	}
	if b.PremiumWordsPerToken <= 0 || b.StandardWordsPerToken <= 0 {
		return fmt.Errorf("BILLING_*_WORDS_PER_TOKEN must be > 0")
	}
	if b.PremiumWordsPerToken >= b.StandardWordsPerToken {
		return fmt.Errorf("BILLING_PREMIUM_WORDS_PER_TOKEN must be below BILLING_STANDARD_WORDS_PER_TOKEN")
	}
	if b.MinAccountAgeDays < 0 {
		return fmt.Errorf("BILLING_MIN_ACCOUNT_AGE_DAYS cannot be negative")
	}

	if c.Reaper.Interval <= 0 {
		return fmt.Errorf("REAPER_INTERVAL must be > 0")
	}
	if c.Reaper.InactivityTimeout <= 0 {
		return fmt.Errorf("REAPER_INACTIVITY_TIMEOUT must be > 0")
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be > 0")
	}
	if c.Retry.BaseDelay < 0 {
		return fmt.Errorf("RETRY_BASE_DELAY cannot be negative")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}
