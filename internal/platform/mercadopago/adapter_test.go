package mercadopago

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/mercadopago/sdk-go/pkg/payment"
	"github.com/mercadopago/sdk-go/pkg/preference"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/packedgo/checkout-sync/internal/domain"
)

type stubPreferences struct {
	got  preference.Request
	resp *preference.Response
	err  error
}

func (s *stubPreferences) Create(_ context.Context, req preference.Request) (*preference.Response, error) {
	s.got = req
	return s.resp, s.err
}

type stubPayments struct {
	gotID int
	resp  *payment.Response
	err   error
}

func (s *stubPayments) Get(_ context.Context, id int) (*payment.Response, error) {
	s.gotID = id
	return s.resp, s.err
}

func TestCreatePreferenceBuildsRequest(t *testing.T) {
	prefs := &stubPreferences{resp: &preference.Response{ID: "pref-1", InitPoint: "https://mp/init/1"}}
	adapter := newAdapter(Options{
		NotificationURL: "https://api.example/webhooks/mercadopago",
		ReturnBaseURL:   "https://shop.example/",
	}, prefs, &stubPayments{})

	pref, err := adapter.CreatePreference(context.Background(), domain.PreferenceRequest{
		SellerID:    7,
		OrderNumber: "ORD-1",
		Amount:      decimal.RequireFromString("150.25"),
		SessionID:   "s1",
	})
	require.NoError(t, err)

	assert.Equal(t, "pref-1", pref.PreferenceID)
	assert.Equal(t, "https://mp/init/1", pref.CheckoutURL)

	require.Len(t, prefs.got.Items, 1)
	assert.Equal(t, 150.25, prefs.got.Items[0].UnitPrice)
	assert.Equal(t, "ARS", prefs.got.Items[0].CurrencyID)
	assert.Equal(t, "s1|ORD-1", prefs.got.ExternalReference)
	assert.Equal(t, "approved", prefs.got.AutoReturn)
	require.NotNil(t, prefs.got.BackURLs)

	back, err := url.Parse(prefs.got.BackURLs.Success)
	require.NoError(t, err)
	assert.Equal(t, "/customer/checkout", back.Path)
	assert.Equal(t, "s1", back.Query().Get("session_id"))
	assert.Equal(t, "ORD-1", back.Query().Get("orderId"))
}

func TestCreatePreferenceFallsBackToSandboxURL(t *testing.T) {
	prefs := &stubPreferences{resp: &preference.Response{ID: "pref-1", SandboxInitPoint: "https://sandbox/1"}}
	adapter := newAdapter(Options{}, prefs, &stubPayments{})

	pref, err := adapter.CreatePreference(context.Background(), domain.PreferenceRequest{OrderNumber: "ORD-1", SessionID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, "https://sandbox/1", pref.CheckoutURL)
	assert.Nil(t, prefs.got.BackURLs)
}

func TestCreatePreferenceClassifiesErrors(t *testing.T) {
	adapter := newAdapter(Options{}, &stubPreferences{err: errors.New("status 401: invalid_token")}, &stubPayments{})
	_, err := adapter.CreatePreference(context.Background(), domain.PreferenceRequest{OrderNumber: "ORD-1"})
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	adapter = newAdapter(Options{}, &stubPreferences{err: errors.New("status 500")}, &stubPayments{})
	_, err = adapter.CreatePreference(context.Background(), domain.PreferenceRequest{OrderNumber: "ORD-1"})
	require.ErrorIs(t, err, domain.ErrPaymentGatewayError)
}

func TestGetPaymentInfo(t *testing.T) {
	pays := &stubPayments{resp: &payment.Response{
		Status:            "approved",
		StatusDetail:      "accredited",
		ExternalReference: "s1|ORD-1",
		TransactionAmount: 100,
		CurrencyID:        "ARS",
	}}
	adapter := newAdapter(Options{}, &stubPreferences{}, pays)

	info, err := adapter.GetPaymentInfo(context.Background(), "123456")
	require.NoError(t, err)
	assert.Equal(t, 123456, pays.gotID)
	assert.Equal(t, "approved", info.Status)
	assert.Equal(t, "ORD-1", info.OrderID)
	assert.True(t, info.Amount.Equal(decimal.NewFromInt(100)))

	_, err = adapter.GetPaymentInfo(context.Background(), "abc")
	require.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestExternalReference(t *testing.T) {
	ref, ok := ParseExternalReference(BuildExternalReference("s1", "ORD-1"))
	require.True(t, ok)
	assert.Equal(t, ExternalReference{SessionID: "s1", OrderNumber: "ORD-1"}, ref)

	_, ok = ParseExternalReference("ORD-1")
	assert.False(t, ok)
	_, ok = ParseExternalReference("|ORD-1")
	assert.False(t, ok)
}

func TestValidateSignature(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	v := &WebhookValidator{MaxAge: 5 * time.Minute, now: func() time.Time { return now }}
	ts := "1700000000000"
	header := SignatureHeader("123456", "req-1", ts, "secret")

	assert.True(t, v.ValidateSignature(header, "req-1", "123456", "secret"))
	assert.False(t, v.ValidateSignature(header, "req-2", "123456", "secret"), "request id is signed")
	assert.False(t, v.ValidateSignature(header, "req-1", "123456", "other"))
	assert.False(t, v.ValidateSignature("", "req-1", "123456", "secret"))
	assert.False(t, v.ValidateSignature("ts="+ts, "req-1", "123456", "secret"))
	assert.False(t, v.ValidateSignature(header, "req-1", "123456", ""))

	now = now.Add(10 * time.Minute)
	assert.False(t, v.ValidateSignature(header, "req-1", "123456", "secret"), "stale signature")
}

func TestValidateSignatureLowercasesDataID(t *testing.T) {
	v := NewWebhookValidator(0)
	header := SignatureHeader("ABC123", "req-1", "42", "secret")
	assert.True(t, v.ValidateSignature(header, "req-1", "ABC123", "secret"))
	assert.Equal(t, "id:abc;request-id:r;ts:1;", buildManifest("abc", "r", "1"))
}
