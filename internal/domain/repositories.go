package domain

import "context"

// SessionBackend is the order backend that owns checkout sessions.
// Implementations read the customer's bearer token from the context.
type SessionBackend interface {
	// CurrentCheckoutState returns the customer's active session, creating one from the cart
	// when needed. Returns ErrNoCart when the customer has nothing to check out.
	CurrentCheckoutState(ctx context.Context) (*CheckoutSession, error)

	// SessionStatus returns the authoritative state of a session by id.
	SessionStatus(ctx context.Context, sessionID string) (*CheckoutSession, error)

	// AbandonSession releases the session and returns its items to the cart.
	AbandonSession(ctx context.Context, sessionID string) error
}

// SessionRecoverer recovers a session with a recovery token instead of a bearer token.
type SessionRecoverer interface {
	RecoverSession(ctx context.Context, recoveryToken string) (*CheckoutSession, error)
}

// TicketSource lists the tickets issued for a completed session.
type TicketSource interface {
	SessionTickets(ctx context.Context, sessionID string) ([]Ticket, error)
}

// CartRefresher asks the order backend to reload the customer's cart.
type CartRefresher interface {
	RefreshCart(ctx context.Context) error
}

// PaymentGateway issues payment preferences.
// This is a "port" in hexagonal architecture - the domain defines what it needs,
// and infrastructure provides the implementation (payment backend or Mercado Pago directly).
type PaymentGateway interface {
	// CreatePreference returns ErrUnauthorized when the caller's credentials are rejected.
	CreatePreference(ctx context.Context, req PreferenceRequest) (*PaymentPreference, error)
}

// PaymentVerifier checks the state of an order payment.
type PaymentVerifier interface {
	VerifyPayment(ctx context.Context, orderID string) (*PaymentVerification, error)
}

// PaymentLookup fetches a provider payment by id, used when processing webhooks.
type PaymentLookup interface {
	GetPaymentInfo(ctx context.Context, paymentID string) (*PaymentVerification, error)
}

// PreferenceCache persists client-only preference fields keyed by session and order.
type PreferenceCache interface {
	// Get returns ok=false when nothing is cached.
	Get(ctx context.Context, sessionID, orderID string) (pref *PaymentPreference, ok bool, err error)
	Put(ctx context.Context, sessionID, orderID string, pref PaymentPreference) error
	// Forget drops the entries of a session that no longer needs them.
	Forget(ctx context.Context, sessionID string, orderIDs ...string) error
}

// IntentVerifier resolves the status of a provider payment intent (Stripe returns).
type IntentVerifier interface {
	IntentStatus(ctx context.Context, intentID string) (string, error)
}

// WebhookValidator validates provider webhook signatures.
type WebhookValidator interface {
	ValidateSignature(xSignature, xRequestID, dataID, secret string) bool
}
