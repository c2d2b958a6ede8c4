package checkout

import (
	"net/url"
	"strings"
	"time"
)

// ReturnClass classifies a redirect back from the payment gateway.
type ReturnClass string

const (
	ReturnSuccess  ReturnClass = "success"
	ReturnPending  ReturnClass = "pending"
	ReturnRejected ReturnClass = "rejected"
	ReturnUnknown  ReturnClass = "unknown"
)

// ReturnParams are the query parameters present after the gateway redirects the browser back.
type ReturnParams struct {
	Status        string `form:"status" json:"status,omitempty"`
	PaymentStatus string `form:"paymentStatus" json:"paymentStatus,omitempty"`
	OrderID       string `form:"orderId" json:"orderId,omitempty"`
	SessionID     string `form:"session_id" json:"sessionId,omitempty"`
	PaymentIntent string `form:"payment_intent" json:"paymentIntent,omitempty"`
}

// Present reports whether the parameters describe a gateway return at all.
func (p ReturnParams) Present() bool {
	return p.Status != "" || p.PaymentStatus != "" || p.PaymentIntent != ""
}

// ReturnOutcome is the user-facing interpretation of a gateway return.
type ReturnOutcome struct {
	Class   ReturnClass   `json:"class"`
	Message string        `json:"message"`
	Dismiss time.Duration `json:"-"`
}

var returnOutcomes = map[ReturnClass]ReturnOutcome{
	ReturnSuccess: {
		Class:   ReturnSuccess,
		Message: "Payment approved. Verifying your order...",
		Dismiss: 5 * time.Second,
	},
	ReturnPending: {
		Class:   ReturnPending,
		Message: "Your payment is pending confirmation. The status will update automatically.",
		Dismiss: 10 * time.Second,
	},
	ReturnRejected: {
		Class:   ReturnRejected,
		Message: "Your payment was rejected. Please try again with another payment method.",
		Dismiss: 12 * time.Second,
	},
	ReturnUnknown: {
		Class:   ReturnUnknown,
		Message: "We could not determine the payment status. We will keep checking.",
		Dismiss: 8 * time.Second,
	},
}

// InterpretReturn classifies the redirect parameters. status wins over paymentStatus.
func InterpretReturn(p ReturnParams) ReturnOutcome {
	raw := p.Status
	if raw == "" {
		raw = p.PaymentStatus
	}
	return OutcomeFor(classifyStatus(raw))
}

// OutcomeFor returns the message and dismiss timeout of a class.
func OutcomeFor(class ReturnClass) ReturnOutcome {
	if out, ok := returnOutcomes[class]; ok {
		return out
	}
	return returnOutcomes[ReturnUnknown]
}

func classifyStatus(raw string) ReturnClass {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "approved", "success":
		return ReturnSuccess
	case "pending", "in_process":
		return ReturnPending
	case "rejected", "failure":
		return ReturnRejected
	default:
		return ReturnUnknown
	}
}

// ClassifyIntentStatus maps a Stripe payment intent status to a return class.
func ClassifyIntentStatus(status string) ReturnClass {
	switch status {
	case "succeeded":
		return ReturnSuccess
	case "processing", "requires_action", "requires_confirmation", "requires_capture":
		return ReturnPending
	case "requires_payment_method", "canceled":
		return ReturnRejected
	default:
		return ReturnUnknown
	}
}

// CleanReturnQuery is the query string that replaces the gateway parameters in
// the address bar: only the session id survives, so a refresh does not
// interpret the return again.
func CleanReturnQuery(sessionID string) url.Values {
	q := url.Values{}
	if sessionID != "" {
		q.Set("sessionId", sessionID)
	}
	return q
}
