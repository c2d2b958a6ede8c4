package domain

import "errors"

// Domain errors represent the failure classes the checkout flow reacts to.
var (
	// ErrUnauthorized is returned when the customer's credentials were rejected or expired.
	// It is fatal to the current operation and leads to re-authentication.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNoCart is returned when the customer has no active cart to check out.
	ErrNoCart = errors.New("no active cart")

	// ErrSessionNotFound is returned when a session id is unknown to the backend.
	ErrSessionNotFound = errors.New("checkout session not found")

	// ErrSessionExpired is returned when the backend reports the session as expired.
	ErrSessionExpired = errors.New("checkout session expired")

	// ErrBackendUnavailable is returned for transient failures talking to the order backend.
	ErrBackendUnavailable = errors.New("order backend unavailable")

	// ErrPaymentGatewayError is returned when the payment gateway fails.
	ErrPaymentGatewayError = errors.New("payment gateway error")

	// ErrAbandonFailed is returned when the backend did not acknowledge an abandon request.
	ErrAbandonFailed = errors.New("failed to abandon checkout session")

	// ErrWebhookValidationFailed is returned when x-signature is invalid.
	ErrWebhookValidationFailed = errors.New("webhook signature validation failed")

	// ErrInvalidRequest is returned for malformed requests.
	ErrInvalidRequest = errors.New("invalid request")
)

// CheckoutError wraps a domain error with additional context.
type CheckoutError struct {
	Err     error
	Message string
	Code    string
}

// Error implements the error interface.
func (e *CheckoutError) Error() string {
	if e.Message != "" {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Err.Error()
}

// Unwrap allows errors.Is and errors.As to work with CheckoutError.
func (e *CheckoutError) Unwrap() error {
	return e.Err
}

// NewCheckoutError creates a new CheckoutError.
func NewCheckoutError(err error, message, code string) *CheckoutError {
	return &CheckoutError{Err: err, Message: message, Code: code}
}

// IsTransient reports whether err should be retried on the next scheduled attempt.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrBackendUnavailable) || errors.Is(err, ErrPaymentGatewayError)
}
