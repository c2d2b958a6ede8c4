// Package config handles loading and managing application configuration.
package config

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix namespaces every variable read by Load.
const EnvPrefix = "checkout"

const (
	GatewayModeBackend     = "backend"
	GatewayModeMercadoPago = "mercadopago"
)

// Config holds all configuration for the application.
type Config struct {
	// HTTP server configuration
	Server ServerConfig
	Auth   AuthConfig

	// Downstream services
	Orders   OrdersConfig
	Payments PaymentsConfig

	// Payment providers
	MercadoPago MercadoPagoConfig
	Stripe      StripeConfig

	Redis    RedisConfig
	Checkout CheckoutConfig
	Log      LogConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            string        `envconfig:"CHECKOUT_PORT" default:"8080"`
	GinMode         string        `envconfig:"CHECKOUT_GIN_MODE" default:"debug"` // "debug", "release", or "test"
	ShutdownTimeout time.Duration `envconfig:"CHECKOUT_SHUTDOWN_TIMEOUT" default:"10s"`
	AllowedOrigin   string        `envconfig:"CHECKOUT_ALLOWED_ORIGIN" default:"*"`
}

// AuthConfig holds the access token verification settings.
type AuthConfig struct {
	// JWTSecret is the auth service signing secret, base64 encoded unless JWTSecretRaw is set.
	JWTSecret    string `envconfig:"CHECKOUT_JWT_SECRET" required:"true"`
	JWTSecretRaw bool   `envconfig:"CHECKOUT_JWT_SECRET_RAW" default:"false"`
}

// SigningKey returns the HMAC key access tokens are signed with.
func (a AuthConfig) SigningKey() ([]byte, error) {
	secret := strings.TrimSpace(a.JWTSecret)
	if secret == "" {
		return nil, fmt.Errorf("CHECKOUT_JWT_SECRET is required")
	}
	if a.JWTSecretRaw {
		return []byte(secret), nil
	}
	key, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		return nil, fmt.Errorf("CHECKOUT_JWT_SECRET must be base64: %w", err)
	}
	return key, nil
}

// OrdersConfig holds the order backend configuration.
type OrdersConfig struct {
	BaseURL string        `envconfig:"CHECKOUT_ORDERS_SERVICE_URL" required:"true"`
	Timeout time.Duration `envconfig:"CHECKOUT_ORDERS_TIMEOUT" default:"10s"`
	// Zone of the zone-less timestamps the order backend emits.
	Timezone string `envconfig:"CHECKOUT_ORDERS_TIMEZONE" default:"UTC"`
}

// Location resolves Timezone, falling back to UTC.
func (o OrdersConfig) Location() *time.Location {
	loc, err := time.LoadLocation(o.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// PaymentsConfig holds the payment backend configuration.
type PaymentsConfig struct {
	BaseURL     string        `envconfig:"CHECKOUT_PAYMENTS_SERVICE_URL" required:"true"`
	Timeout     time.Duration `envconfig:"CHECKOUT_PAYMENTS_TIMEOUT" default:"15s"`
	GatewayMode string        `envconfig:"CHECKOUT_GATEWAY_MODE" default:"backend"`
}

// MercadoPagoConfig holds Mercado Pago settings used in direct gateway mode and for webhooks.
type MercadoPagoConfig struct {
	AccessToken     string `envconfig:"CHECKOUT_MP_ACCESS_TOKEN"`
	WebhookSecret   string `envconfig:"CHECKOUT_MP_WEBHOOK_SECRET"`
	NotificationURL string `envconfig:"CHECKOUT_MP_NOTIFICATION_URL"`
	Currency        string `envconfig:"CHECKOUT_MP_CURRENCY" default:"ARS"`
	ReturnBaseURL   string `envconfig:"CHECKOUT_RETURN_BASE_URL" default:"http://localhost:4200"`
	// WebhookMaxAge bounds how old a signed notification may be; 0 disables the check.
	WebhookMaxAge time.Duration `envconfig:"CHECKOUT_MP_WEBHOOK_MAX_AGE" default:"10m"`
}

// WebhooksEnabled reports whether Mercado Pago notifications can be verified.
func (m MercadoPagoConfig) WebhooksEnabled() bool {
	return strings.TrimSpace(m.WebhookSecret) != ""
}

// StripeConfig holds the Stripe secret used to verify payment intents on return.
type StripeConfig struct {
	SecretKey string `envconfig:"CHECKOUT_STRIPE_SECRET_KEY"`
}

// Enabled reports whether Stripe verification is configured.
func (s StripeConfig) Enabled() bool {
	return strings.TrimSpace(s.SecretKey) != ""
}

// RedisConfig holds the preference cache settings. An empty URL disables the cache.
type RedisConfig struct {
	URL           string        `envconfig:"CHECKOUT_REDIS_URL"`
	DialTimeout   time.Duration `envconfig:"CHECKOUT_REDIS_DIAL_TIMEOUT" default:"5s"`
	PreferenceTTL time.Duration `envconfig:"CHECKOUT_PREFERENCE_TTL" default:"30m"`
}

// CheckoutConfig holds the reconciliation timings and the browser paths used for redirects.
type CheckoutConfig struct {
	PollInterval time.Duration `envconfig:"CHECKOUT_POLL_INTERVAL" default:"5s"`
	TickInterval time.Duration `envconfig:"CHECKOUT_TICK_INTERVAL" default:"1s"`
	ReturnDelay  time.Duration `envconfig:"CHECKOUT_RETURN_DELAY" default:"2s"`
	ViewTTL      time.Duration `envconfig:"CHECKOUT_VIEW_TTL" default:"20m"`

	CheckoutPath  string `envconfig:"CHECKOUT_PATH_CHECKOUT" default:"/customer/checkout"`
	SuccessPath   string `envconfig:"CHECKOUT_PATH_SUCCESS" default:"/customer/orders/success"`
	DashboardPath string `envconfig:"CHECKOUT_PATH_DASHBOARD" default:"/customer/dashboard"`
	LoginPath     string `envconfig:"CHECKOUT_PATH_LOGIN" default:"/customer/login"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level     string `envconfig:"CHECKOUT_LOG_LEVEL" default:"info"`
	Format    string `envconfig:"CHECKOUT_LOG_FORMAT" default:"json"`
	WarnStack bool   `envconfig:"CHECKOUT_LOG_WARN_STACK" default:"false"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints envconfig cannot express.
func (c *Config) Validate() error {
	if _, err := c.Auth.SigningKey(); err != nil {
		return err
	}
	if err := validateURL("CHECKOUT_ORDERS_SERVICE_URL", c.Orders.BaseURL); err != nil {
		return err
	}
	if err := validateURL("CHECKOUT_PAYMENTS_SERVICE_URL", c.Payments.BaseURL); err != nil {
		return err
	}
	if _, err := time.LoadLocation(c.Orders.Timezone); err != nil {
		return fmt.Errorf("CHECKOUT_ORDERS_TIMEZONE: %w", err)
	}
	switch strings.ToLower(c.Payments.GatewayMode) {
	case GatewayModeBackend:
	case GatewayModeMercadoPago:
		if strings.TrimSpace(c.MercadoPago.AccessToken) == "" {
			return fmt.Errorf("CHECKOUT_MP_ACCESS_TOKEN is required in %s gateway mode", GatewayModeMercadoPago)
		}
	default:
		return fmt.Errorf("CHECKOUT_GATEWAY_MODE must be %q or %q", GatewayModeBackend, GatewayModeMercadoPago)
	}
	if c.Checkout.PollInterval <= 0 || c.Checkout.TickInterval <= 0 {
		return fmt.Errorf("poll and tick intervals must be positive")
	}
	return nil
}

func validateURL(name, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", name)
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s must be an absolute URL", name)
	}
	return nil
}
