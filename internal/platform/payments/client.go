// Package payments provides the HTTP client for the payment service, which
// issues payment preferences on behalf of sellers and reports order payments.
package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/packedgo/checkout-sync/internal/auth"
	"github.com/packedgo/checkout-sync/internal/domain"
)

// Client implements domain.PaymentGateway and domain.PaymentVerifier.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new payment service client.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// paymentResponse is the payment service's answer for both preference
// creation and order payment lookups.
type paymentResponse struct {
	PaymentID        json.Number     `json:"paymentId"`
	OrderID          string          `json:"orderId"`
	Status           string          `json:"status"`
	StatusDetail     string          `json:"statusDetail"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	PreferenceID     string          `json:"preferenceId"`
	InitPoint        string          `json:"initPoint"`
	SandboxInitPoint string          `json:"sandboxInitPoint"`
	CheckoutURL      string          `json:"checkoutUrl"`
	QRURL            string          `json:"qrUrl"`
	PaymentProvider  string          `json:"paymentProvider"`
	Message          string          `json:"message"`
	Error            string          `json:"error"`
}

func (r paymentResponse) checkoutURL() string {
	for _, candidate := range []string{r.CheckoutURL, r.InitPoint, r.SandboxInitPoint} {
		if candidate != "" {
			return candidate
		}
	}
	return ""
}

func (r paymentResponse) message() string {
	if r.Message != "" {
		return r.Message
	}
	return r.Error
}

// CreatePreference asks the payment service for a checkout intent.
// POST /api/payments/create
func (c *Client) CreatePreference(ctx context.Context, in domain.PreferenceRequest) (*domain.PaymentPreference, error) {
	jsonBody, err := json.Marshal(in)
	if err != nil {
		return nil, domain.NewCheckoutError(domain.ErrPaymentGatewayError,
			"failed to marshal payload", "MARSHAL_ERROR")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/payments/create", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, domain.NewCheckoutError(domain.ErrPaymentGatewayError,
			"failed to create request", "REQUEST_ERROR")
	}
	req.Header.Set("Content-Type", "application/json")
	setBearer(req)

	var resp paymentResponse
	if err := c.roundTrip(req, &resp); err != nil {
		return nil, err
	}

	pref := &domain.PaymentPreference{
		PreferenceID: resp.PreferenceID,
		CheckoutURL:  resp.checkoutURL(),
		QRURL:        resp.QRURL,
	}
	if pref.CheckoutURL == "" {
		return nil, domain.NewCheckoutError(domain.ErrPaymentGatewayError,
			"payment service returned no checkout url: "+resp.message(), "MISSING_CHECKOUT_URL")
	}
	return pref, nil
}

// VerifyPayment reports the payment of an order.
// GET /api/payments/order/{orderId}
func (c *Client) VerifyPayment(ctx context.Context, orderID string) (*domain.PaymentVerification, error) {
	if orderID == "" {
		return nil, domain.NewCheckoutError(domain.ErrInvalidRequest, "order id is required", "INVALID_ORDER")
	}

	endpoint := fmt.Sprintf("%s/api/payments/order/%s", c.baseURL, url.PathEscape(orderID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, domain.NewCheckoutError(domain.ErrPaymentGatewayError,
			"failed to create request", "REQUEST_ERROR")
	}
	setBearer(req)

	var resp paymentResponse
	if err := c.roundTrip(req, &resp); err != nil {
		return nil, err
	}

	out := &domain.PaymentVerification{
		OrderID:      orderID,
		PaymentID:    resp.PaymentID.String(),
		Status:       strings.ToLower(resp.Status),
		StatusDetail: resp.StatusDetail,
		Amount:       resp.Amount,
		Currency:     resp.Currency,
		Provider:     strings.ToLower(resp.PaymentProvider),
	}
	if resp.OrderID != "" {
		out.OrderID = resp.OrderID
	}
	if out.Status == "" {
		out.Status = "unknown"
	}
	return out, nil
}

func (c *Client) roundTrip(req *http.Request, out *paymentResponse) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return domain.NewCheckoutError(domain.ErrPaymentGatewayError,
			"request failed: "+err.Error(), "HTTP_ERROR")
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return domain.NewCheckoutError(domain.ErrUnauthorized,
			"credentials rejected by payment service", "UNAUTHORIZED")
	case resp.StatusCode == http.StatusNotFound:
		return domain.NewCheckoutError(domain.ErrSessionNotFound,
			"payment not found", "NOT_FOUND")
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		_ = json.Unmarshal(body, out)
		return domain.NewCheckoutError(domain.ErrPaymentGatewayError,
			fmt.Sprintf("payment service returned status %d: %s", resp.StatusCode, strings.TrimSpace(firstNonEmpty(out.message(), string(body)))),
			"PAYMENT_SERVICE_ERROR")
	}

	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return domain.NewCheckoutError(domain.ErrPaymentGatewayError,
			"failed to decode response", "DECODE_ERROR")
	}
	return nil
}

func setBearer(req *http.Request) {
	if token := auth.TokenFromContext(req.Context()); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
