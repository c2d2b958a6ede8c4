// Package payment implements the payment side of checkout: order payment
// verification and Mercado Pago webhook processing.
package payment

import (
	"context"
	"strings"

	"github.com/packedgo/checkout-sync/internal/domain"
	"github.com/packedgo/checkout-sync/internal/logger"
)

// SessionNudger asks the live checkout view of a session to re-check its state.
type SessionNudger interface {
	NudgeSession(sessionID string) bool
}

// WebhookResult describes what a processed webhook did.
type WebhookResult struct {
	Event     string `json:"event,omitempty"`
	PaymentID string `json:"paymentId,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	Nudged    bool   `json:"nudged"`
	Ignored   bool   `json:"ignored"`
}

// Service implements the payment use cases.
// It verifies payments through the payment backend and turns provider
// webhooks into nudges for the live checkout views.
type Service struct {
	verifier      domain.PaymentVerifier
	lookup        domain.PaymentLookup
	validator     domain.WebhookValidator
	webhookSecret string
	nudger        SessionNudger
	log           *logger.Logger
}

// NewService creates a new payment service. lookup may be nil when preferences
// are issued by the payment backend, in which case webhooks are not resolved here.
func NewService(
	verifier domain.PaymentVerifier,
	lookup domain.PaymentLookup,
	validator domain.WebhookValidator,
	webhookSecret string,
	nudger SessionNudger,
	log *logger.Logger,
) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		verifier:      verifier,
		lookup:        lookup,
		validator:     validator,
		webhookSecret: webhookSecret,
		nudger:        nudger,
		log:           log,
	}
}

// VerifyOrderPayment returns the payment backend's view of an order payment.
func (s *Service) VerifyOrderPayment(ctx context.Context, orderID string) (*domain.PaymentVerification, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, domain.NewCheckoutError(domain.ErrInvalidRequest, "order id is required", "VALIDATION_ERROR")
	}
	if s.verifier == nil {
		return nil, domain.NewCheckoutError(domain.ErrPaymentGatewayError, "payment verification is not configured", "NOT_CONFIGURED")
	}

	verification, err := s.verifier.VerifyPayment(ctx, orderID)
	if err != nil {
		return nil, err
	}
	ctx = s.log.WithField(ctx, "order_id", orderID)
	s.log.Zerolog(ctx).Debug().Str("status", verification.Status).Msg("order payment verified")
	return verification, nil
}

// ProcessWebhook handles a Mercado Pago notification:
// 1. Validates the x-signature header
// 2. Ignores anything that is not a payment notification
// 3. Fetches the payment from Mercado Pago
// 4. Nudges the live checkout view of the payment's session
func (s *Service) ProcessWebhook(ctx context.Context, notification domain.WebhookNotification, xSignature, xRequestID string) (*WebhookResult, error) {
	dataID := notification.Data.ID

	// Step 1: Validate signature
	if s.validator == nil || !s.validator.ValidateSignature(xSignature, xRequestID, dataID, s.webhookSecret) {
		s.log.Warn(s.log.WithField(ctx, "data_id", dataID), "webhook signature rejected")
		return nil, domain.NewCheckoutError(domain.ErrWebhookValidationFailed, "invalid webhook signature", "INVALID_SIGNATURE")
	}

	// Step 2: Only payment notifications move a checkout forward
	if notification.Type != "payment" {
		s.log.Zerolog(ctx).Debug().Str("type", notification.Type).Msg("ignoring webhook type")
		return &WebhookResult{Ignored: true}, nil
	}
	if dataID == "" {
		return nil, domain.NewCheckoutError(domain.ErrInvalidRequest, "missing data.id", "VALIDATION_ERROR")
	}
	if s.lookup == nil {
		return &WebhookResult{PaymentID: dataID, Ignored: true}, nil
	}

	// Step 3: Get payment info from Mercado Pago
	info, err := s.lookup.GetPaymentInfo(ctx, dataID)
	if err != nil {
		s.log.Error(s.log.WithField(ctx, "payment_id", dataID), "failed to get payment info", err)
		return nil, err
	}

	result := &WebhookResult{
		Event:     mapStatusToEvent(info.Status),
		PaymentID: dataID,
		SessionID: info.SessionID,
	}
	ctx = s.log.WithFields(ctx, map[string]any{
		"payment_id": dataID,
		"session_id": info.SessionID,
		"order_id":   info.OrderID,
		"event":      result.Event,
	})

	// Step 4: Nudge the session's view, if one is live on this instance
	if info.SessionID == "" {
		s.log.Warn(ctx, "payment carries no session reference")
		return result, nil
	}
	if s.nudger != nil {
		result.Nudged = s.nudger.NudgeSession(info.SessionID)
	}

	s.log.Zerolog(ctx).Info().Bool("nudged", result.Nudged).Msg("webhook processed")
	return result, nil
}

// mapStatusToEvent maps MP payment status to event name.
func mapStatusToEvent(status string) string {
	switch status {
	case "approved":
		return "payment.approved"
	case "pending", "in_process":
		return "payment.pending"
	case "rejected":
		return "payment.rejected"
	case "cancelled":
		return "payment.cancelled"
	case "refunded":
		return "payment.refunded"
	default:
		return "payment.updated"
	}
}
