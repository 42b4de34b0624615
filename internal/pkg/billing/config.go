package billing

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/omniai/payments/app/models"
	"github.com/omniai/payments/internal/pkg/env"
)

var (
	DefaultMinAmount = decimal.RequireFromString("1.00")
	DefaultMaxAmount = decimal.RequireFromString("10000.00")
)

const (
	DefaultProviderTimeout  = 20 * time.Second
	DefaultWebhookTolerance = 5 * time.Minute
)

// Config is the payment configuration. It is built once at startup and
// passed by value; nothing mutates it afterwards.
type Config struct {
	Currency         string
	MinAmount        decimal.Decimal
	MaxAmount        decimal.Decimal
	PublishableKey   string
	SecretKey        string
	WebhookSecret    string
	WebhookTolerance time.Duration
	SuccessURL       string
	CancelURL        string
	ProviderTimeout  time.Duration
	// APIBaseURL overrides the provider endpoint, used against local mocks.
	APIBaseURL string
}

// DefaultConfig returns a USD config with the fixed amount bounds and no
// provider credentials.
func DefaultConfig() Config {
	return Config{
		Currency:         models.CurrencyUSD,
		MinAmount:        DefaultMinAmount,
		MaxAmount:        DefaultMaxAmount,
		WebhookTolerance: DefaultWebhookTolerance,
		ProviderTimeout:  DefaultProviderTimeout,
		SuccessURL:       "http://localhost:4000/payment/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:        "http://localhost:4000/payment/cancel",
	}
}

// LoadConfigFromEnv reads STRIPE_* and PAYMENT_* variables on top of
// DefaultConfig.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	cfg.Currency = strings.TrimSpace(env.GetEnv("PAYMENT_CURRENCY", models.CurrencyUSD))
	cfg.PublishableKey = strings.TrimSpace(env.GetEnv("STRIPE_PUBLISHABLE_KEY", ""))
	cfg.SecretKey = strings.TrimSpace(env.GetEnv("STRIPE_SECRET_KEY", ""))
	cfg.WebhookSecret = strings.TrimSpace(env.GetEnv("STRIPE_WEBHOOK_SECRET", ""))
	cfg.WebhookTolerance = env.GetEnvDuration("STRIPE_WEBHOOK_TOLERANCE", DefaultWebhookTolerance)
	cfg.ProviderTimeout = env.GetEnvDuration("PAYMENT_PROVIDER_TIMEOUT", DefaultProviderTimeout)
	cfg.SuccessURL = env.GetEnv("PAYMENT_SUCCESS_URL", cfg.SuccessURL)
	cfg.CancelURL = env.GetEnv("PAYMENT_CANCEL_URL", cfg.CancelURL)
	cfg.APIBaseURL = strings.TrimSpace(env.GetEnv("STRIPE_API_BASE_URL", ""))

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Currency != models.CurrencyUSD {
		return fmt.Errorf("payment currency must be USD, got %q", c.Currency)
	}
	if !c.MinAmount.IsPositive() || c.MaxAmount.LessThan(c.MinAmount) {
		return fmt.Errorf("invalid amount bounds [%s, %s]", c.MinAmount.StringFixed(2), c.MaxAmount.StringFixed(2))
	}
	if c.ProviderTimeout <= 0 {
		return fmt.Errorf("provider timeout must be positive")
	}
	return nil
}

// CheckoutConfigured reports whether checkout sessions can be created.
func (c Config) CheckoutConfigured() bool {
	return c.SecretKey != ""
}

// WebhookConfigured reports whether incoming webhooks can be verified.
func (c Config) WebhookConfigured() bool {
	return c.WebhookSecret != ""
}
