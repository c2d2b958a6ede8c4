package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("CHECKOUT_ORDERS_SERVICE_URL", "http://orders.local:8084/api")
	t.Setenv("CHECKOUT_PAYMENTS_SERVICE_URL", "http://payments.local:8085")
	t.Setenv("CHECKOUT_JWT_SECRET", "c2lnbmluZy1rZXk=")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, "8080", cfg.Server.Port)
	require.Equal(t, 5*time.Second, cfg.Checkout.PollInterval)
	require.Equal(t, time.Second, cfg.Checkout.TickInterval)
	require.Equal(t, 2*time.Second, cfg.Checkout.ReturnDelay)
	require.Equal(t, GatewayModeBackend, cfg.Payments.GatewayMode)
	require.Equal(t, "ARS", cfg.MercadoPago.Currency)
	require.Equal(t, "/customer/orders/success", cfg.Checkout.SuccessPath)
	require.False(t, cfg.Stripe.Enabled())
}

func TestLoadRequiresOrdersURL(t *testing.T) {
	t.Setenv("CHECKOUT_PAYMENTS_SERVICE_URL", "http://payments.local:8085")

	_, err := Load()
	require.Error(t, err)
}

func TestValidateRejectsRelativeURL(t *testing.T) {
	setRequired(t)
	t.Setenv("CHECKOUT_ORDERS_SERVICE_URL", "orders.local")

	_, err := Load()
	require.ErrorContains(t, err, "absolute URL")
}

func TestValidateMercadoPagoModeNeedsToken(t *testing.T) {
	setRequired(t)
	t.Setenv("CHECKOUT_GATEWAY_MODE", "mercadopago")

	_, err := Load()
	require.ErrorContains(t, err, "CHECKOUT_MP_ACCESS_TOKEN")

	t.Setenv("CHECKOUT_MP_ACCESS_TOKEN", "APP_USR-123")
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, GatewayModeMercadoPago, cfg.Payments.GatewayMode)
}

func TestValidateUnknownGatewayMode(t *testing.T) {
	setRequired(t)
	t.Setenv("CHECKOUT_GATEWAY_MODE", "paypal")

	_, err := Load()
	require.Error(t, err)
}

func TestSigningKey(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)
	key, err := cfg.Auth.SigningKey()
	require.NoError(t, err)
	require.Equal(t, []byte("signing-key"), key)

	t.Setenv("CHECKOUT_JWT_SECRET", "mySecretKey123456789PackedGoAuth2025VerySecureKey")
	t.Setenv("CHECKOUT_JWT_SECRET_RAW", "true")
	cfg, err = Load()
	require.NoError(t, err)
	key, err = cfg.Auth.SigningKey()
	require.NoError(t, err)
	require.Equal(t, []byte("mySecretKey123456789PackedGoAuth2025VerySecureKey"), key)
}

func TestLoadRejectsUndecodableSecret(t *testing.T) {
	setRequired(t)
	t.Setenv("CHECKOUT_JWT_SECRET", "not base64!")

	_, err := Load()
	require.ErrorContains(t, err, "CHECKOUT_JWT_SECRET")
}
