// Package mercadopago implements domain.PaymentGateway and domain.PaymentLookup
// with the Mercado Pago SDK, and validates Mercado Pago webhook signatures.
package mercadopago

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/mercadopago/sdk-go/pkg/config"
	"github.com/mercadopago/sdk-go/pkg/payment"
	"github.com/mercadopago/sdk-go/pkg/preference"

	"github.com/packedgo/checkout-sync/internal/domain"
)

// Options configures the direct gateway.
type Options struct {
	AccessToken     string
	Currency        string
	NotificationURL string
	// ReturnBaseURL + CheckoutPath is where Mercado Pago sends the browser back.
	ReturnBaseURL string
	CheckoutPath  string
}

// preferenceCreator is the part of the SDK preference client the adapter uses.
type preferenceCreator interface {
	Create(ctx context.Context, request preference.Request) (*preference.Response, error)
}

// paymentGetter is the part of the SDK payment client the adapter uses.
type paymentGetter interface {
	Get(ctx context.Context, id int) (*payment.Response, error)
}

// Adapter creates preferences with the platform's access token. The session id
// and order number travel in external_reference so webhooks can be routed back
// to the live checkout view.
type Adapter struct {
	opts        Options
	preferences preferenceCreator
	payments    paymentGetter
}

// NewAdapter creates a new Mercado Pago adapter.
func NewAdapter(opts Options) (*Adapter, error) {
	cfg, err := config.New(opts.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create MP config: %w", err)
	}
	return newAdapter(opts, preference.NewClient(cfg), payment.NewClient(cfg)), nil
}

func newAdapter(opts Options, prefs preferenceCreator, pays paymentGetter) *Adapter {
	if opts.Currency == "" {
		opts.Currency = "ARS"
	}
	if opts.CheckoutPath == "" {
		opts.CheckoutPath = "/customer/checkout"
	}
	return &Adapter{opts: opts, preferences: prefs, payments: pays}
}

// CreatePreference creates a payment preference in Mercado Pago.
func (a *Adapter) CreatePreference(ctx context.Context, in domain.PreferenceRequest) (*domain.PaymentPreference, error) {
	amount, _ := in.Amount.Float64()

	request := preference.Request{
		Items: []preference.ItemRequest{
			{
				Title:      "Order " + in.OrderNumber,
				Quantity:   1,
				UnitPrice:  amount,
				CurrencyID: a.opts.Currency,
			},
		},
		ExternalReference: BuildExternalReference(in.SessionID, in.OrderNumber),
		NotificationURL:   a.opts.NotificationURL,
	}
	if back := a.backURL(in); back != "" {
		request.AutoReturn = "approved"
		request.BackURLs = &preference.BackURLsRequest{
			Success: back,
			Failure: back,
			Pending: back,
		}
	}

	result, err := a.preferences.Create(ctx, request)
	if err != nil {
		return nil, classifySDKError(err, "failed to create preference")
	}

	checkoutURL := result.InitPoint
	if checkoutURL == "" {
		checkoutURL = result.SandboxInitPoint
	}
	return &domain.PaymentPreference{
		PreferenceID: result.ID,
		CheckoutURL:  checkoutURL,
	}, nil
}

// GetPaymentInfo retrieves payment information from Mercado Pago.
// Used when processing webhooks to get the current payment status.
func (a *Adapter) GetPaymentInfo(ctx context.Context, paymentID string) (*domain.PaymentVerification, error) {
	// SDK uses int for payment IDs
	id, err := strconv.Atoi(strings.TrimSpace(paymentID))
	if err != nil {
		return nil, domain.NewCheckoutError(domain.ErrInvalidRequest, "invalid payment ID format", "INVALID_PAYMENT_ID")
	}

	result, err := a.payments.Get(ctx, id)
	if err != nil {
		return nil, classifySDKError(err, "failed to get payment info")
	}

	out := &domain.PaymentVerification{
		PaymentID:         paymentID,
		Status:            result.Status,
		StatusDetail:      result.StatusDetail,
		ExternalReference: result.ExternalReference,
		Amount:            decimalFromFloat(result.TransactionAmount),
		Currency:          result.CurrencyID,
		Provider:          "mercadopago",
	}
	if ref, ok := ParseExternalReference(result.ExternalReference); ok {
		out.OrderID = ref.OrderNumber
		out.SessionID = ref.SessionID
	}
	return out, nil
}

func (a *Adapter) backURL(in domain.PreferenceRequest) string {
	if a.opts.ReturnBaseURL == "" {
		return ""
	}
	q := url.Values{}
	q.Set("session_id", in.SessionID)
	q.Set("orderId", in.OrderNumber)
	return strings.TrimRight(a.opts.ReturnBaseURL, "/") + a.opts.CheckoutPath + "?" + q.Encode()
}

// classifySDKError maps credential rejections to domain.ErrUnauthorized.
func classifySDKError(err error, message string) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	text := strings.ToLower(err.Error())
	if strings.Contains(text, "401") || strings.Contains(text, "unauthorized") || strings.Contains(text, "invalid_token") {
		return domain.NewCheckoutError(domain.ErrUnauthorized, message+": "+err.Error(), "MP_UNAUTHORIZED")
	}
	return domain.NewCheckoutError(domain.ErrPaymentGatewayError, message+": "+err.Error(), "MP_ERROR")
}
