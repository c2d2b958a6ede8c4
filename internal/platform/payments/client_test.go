package payments

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/packedgo/checkout-sync/internal/auth"
	"github.com/packedgo/checkout-sync/internal/domain"
)

func TestCreatePreferenceSendsGroupKey(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/payments/create", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"preferenceId":"pref-1","initPoint":"https://mp/checkout/1","qrUrl":"https://mp/qr/1"}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, time.Second)
	ctx := auth.WithToken(context.Background(), "tok")
	pref, err := client.CreatePreference(ctx, domain.PreferenceRequest{
		SellerID:    7,
		OrderNumber: "ORD-1",
		Amount:      decimal.NewFromInt(100),
		SessionID:   "s1",
	})
	require.NoError(t, err)

	assert.Equal(t, "pref-1", pref.PreferenceID)
	assert.Equal(t, "https://mp/checkout/1", pref.CheckoutURL)
	assert.Equal(t, "https://mp/qr/1", pref.QRURL)
	assert.Equal(t, float64(7), got["adminId"])
	assert.Equal(t, "ORD-1", got["orderId"])
	assert.Equal(t, "s1", got["sessionId"])
}

func TestCreatePreferencePrefersStripeCheckoutURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"preferenceId":"cs_1","checkoutUrl":"https://stripe/cs_1","sandboxInitPoint":"https://sandbox","paymentProvider":"STRIPE"}`))
	}))
	defer srv.Close()

	pref, err := NewClient(srv.URL, time.Second).CreatePreference(context.Background(), domain.PreferenceRequest{OrderNumber: "ORD-1"})
	require.NoError(t, err)
	assert.Equal(t, "https://stripe/cs_1", pref.CheckoutURL)
}

func TestCreatePreferenceErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"unauthorized", http.StatusUnauthorized, ``, domain.ErrUnauthorized},
		{"server error", http.StatusInternalServerError, `{"message":"Error al crear el pago"}`, domain.ErrPaymentGatewayError},
		{"missing url", http.StatusCreated, `{"preferenceId":"p"}`, domain.ErrPaymentGatewayError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL, time.Second).CreatePreference(context.Background(), domain.PreferenceRequest{OrderNumber: "ORD-1"})
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestVerifyPayment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/payments/order/ORD-1", r.URL.Path)
		_, _ = w.Write([]byte(`{"paymentId":123,"orderId":"ORD-1","status":"APPROVED","amount":100,"currency":"ARS","paymentProvider":"MERCADOPAGO"}`))
	}))
	defer srv.Close()

	v, err := NewClient(srv.URL, time.Second).VerifyPayment(context.Background(), "ORD-1")
	require.NoError(t, err)
	assert.Equal(t, "123", v.PaymentID)
	assert.Equal(t, "approved", v.Status)
	assert.Equal(t, "mercadopago", v.Provider)
	assert.True(t, v.Amount.Equal(decimal.NewFromInt(100)))
}

func TestVerifyPaymentWithoutStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"message":"Endpoint de consulta"}`))
	}))
	defer srv.Close()

	v, err := NewClient(srv.URL, time.Second).VerifyPayment(context.Background(), "ORD-1")
	require.NoError(t, err)
	assert.Equal(t, "unknown", v.Status)
	assert.Equal(t, "ORD-1", v.OrderID)

	_, err = NewClient(srv.URL, time.Second).VerifyPayment(context.Background(), "")
	require.ErrorIs(t, err, domain.ErrInvalidRequest)
}
