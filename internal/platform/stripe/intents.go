// Package stripe resolves the status of Stripe payment intents named in
// checkout return redirects.
package stripe

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/paymentintent"

	"github.com/packedgo/checkout-sync/internal/domain"
)

var errSecretRequired = errors.New("stripe secret key is required")

// IntentGetter exposes the subset of Stripe operations the verifier needs.
type IntentGetter interface {
	Get(ctx context.Context, id string) (*stripe.PaymentIntent, error)
}

type intentClientWrapper struct{}

func (intentClientWrapper) Get(ctx context.Context, id string) (*stripe.PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	return paymentintent.Get(id, params)
}

// Verifier implements domain.IntentVerifier.
type Verifier struct {
	intents IntentGetter
}

// NewVerifier configures the Stripe API key and returns a verifier backed by the live API.
func NewVerifier(secretKey string) (*Verifier, error) {
	key := strings.TrimSpace(secretKey)
	if key == "" {
		return nil, errSecretRequired
	}
	stripe.Key = key
	return &Verifier{intents: intentClientWrapper{}}, nil
}

// NewVerifierWithClient builds a verifier over any IntentGetter.
func NewVerifierWithClient(intents IntentGetter) *Verifier {
	return &Verifier{intents: intents}
}

// IntentStatus returns the intent's status, e.g. "succeeded" or "processing".
func (v *Verifier) IntentStatus(ctx context.Context, intentID string) (string, error) {
	if !strings.HasPrefix(intentID, "pi_") {
		return "", domain.NewCheckoutError(domain.ErrInvalidRequest, "not a payment intent id", "INVALID_INTENT")
	}
	intent, err := v.intents.Get(ctx, intentID)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) {
			switch stripeErr.HTTPStatusCode {
			case http.StatusUnauthorized, http.StatusForbidden:
				return "", domain.NewCheckoutError(domain.ErrPaymentGatewayError, "stripe rejected the api key", "STRIPE_AUTH")
			case http.StatusNotFound:
				return "", domain.NewCheckoutError(domain.ErrInvalidRequest, "unknown payment intent", "INTENT_NOT_FOUND")
			}
		}
		return "", domain.NewCheckoutError(domain.ErrPaymentGatewayError, "stripe lookup failed: "+err.Error(), "STRIPE_ERROR")
	}
	return string(intent.Status), nil
}
