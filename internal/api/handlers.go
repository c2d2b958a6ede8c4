// Package api contains the HTTP handlers and routing for the checkout service.
package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/packedgo/checkout-sync/internal/checkout"
	"github.com/packedgo/checkout-sync/internal/domain"
	"github.com/packedgo/checkout-sync/internal/logger"
	"github.com/packedgo/checkout-sync/internal/payment"
)

// Pinger reports whether an optional dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HandlerDeps are the collaborators of Handler. Pinger may be nil.
type HandlerDeps struct {
	Views     *checkout.Registry
	Payments  *payment.Service
	Tickets   domain.TicketSource
	Recoverer domain.SessionRecoverer
	Cache     Pinger
	Log       *logger.Logger
}

// Handler contains the HTTP handlers for the checkout API.
type Handler struct {
	views     *checkout.Registry
	payments  *payment.Service
	tickets   domain.TicketSource
	recoverer domain.SessionRecoverer
	cache     Pinger
	log       *logger.Logger
}

// NewHandler creates a new API handler.
func NewHandler(deps HandlerDeps) *Handler {
	if deps.Log == nil {
		deps.Log = logger.Nop()
	}
	return &Handler{
		views:     deps.Views,
		payments:  deps.Payments,
		tickets:   deps.Tickets,
		recoverer: deps.Recoverer,
		cache:     deps.Cache,
		log:       deps.Log,
	}
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Success  bool          `json:"success"`
	Error    string        `json:"error"`
	Code     string        `json:"code,omitempty"`
	Redirect string        `json:"redirect,omitempty"`
	View     *ViewResponse `json:"view,omitempty"`
}

// ViewResponse is the JSON rendering of a checkout view. The browser follows
// Redirect once RedirectAt, when set, has passed.
type ViewResponse struct {
	ID                 string                  `json:"id"`
	Phase              checkout.Phase          `json:"phase"`
	Session            *domain.CheckoutSession `json:"session,omitempty"`
	Remaining          int64                   `json:"remainingSeconds"`
	RemainingLabel     string                  `json:"remainingLabel"`
	Expired            bool                    `json:"expired"`
	GeneratingPayments bool                    `json:"generatingPayments"`
	Banner             *checkout.Banner        `json:"banner,omitempty"`
	Redirect           string                  `json:"redirect,omitempty"`
	RedirectAt         *time.Time              `json:"redirectAt,omitempty"`
	Error              string                  `json:"error,omitempty"`
	Labels             map[string]string       `json:"labels,omitempty"`
}

// ReturnResponse is the result of reporting a gateway return. Query is what the
// browser should replace the return query string with.
type ReturnResponse struct {
	Outcome   checkout.ReturnClass `json:"outcome"`
	Message   string               `json:"message"`
	Verified  bool                 `json:"verified"`
	Completed bool                 `json:"completed"`
	Query     string               `json:"query"`
	View      ViewResponse         `json:"view"`
}

func toViewResponse(v checkout.View) ViewResponse {
	out := ViewResponse{
		ID:                 v.ID,
		Phase:              v.Phase,
		Session:            v.Session,
		Remaining:          v.Remaining,
		RemainingLabel:     v.RemainingLabel,
		Expired:            v.Expired,
		GeneratingPayments: v.GeneratingPayments,
		Banner:             v.Banner,
		Error:              v.Error,
	}
	if v.Redirect != nil {
		out.Redirect = v.Redirect.String()
		if !v.Redirect.NotBefore.IsZero() {
			at := v.Redirect.NotBefore
			out.RedirectAt = &at
		}
	}
	if v.Session != nil {
		out.Labels = map[string]string{"session": checkout.SessionStatusLabel(v.Session.Status)}
		for _, g := range v.Session.PaymentGroups {
			out.Labels[g.OrderNumber] = checkout.GroupStatusLabel(g.Status)
		}
	}
	return out
}

// GetView handles GET /api/v1/checkout/view
// Mounts the customer's checkout view on first access and returns its current state.
func (h *Handler) GetView(c *gin.Context) {
	_, view := h.views.Acquire(c.Request.Context(), c.GetString(customerKey))
	c.JSON(http.StatusOK, toViewResponse(view))
}

// ReleaseView handles DELETE /api/v1/checkout/view
// Stops the customer's checkout view when the page is left.
func (h *Handler) ReleaseView(c *gin.Context) {
	h.views.Release(c.GetString(customerKey))
	c.Status(http.StatusNoContent)
}

// HandleReturn handles GET /api/v1/checkout/return
// Reports the query parameters the payment gateway redirected the browser back with.
func (h *Handler) HandleReturn(c *gin.Context) {
	var params checkout.ReturnParams
	if err := c.ShouldBindQuery(&params); err != nil || !params.Present() {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Success: false,
			Error:   "status, paymentStatus or payment_intent is required",
			Code:    "VALIDATION_ERROR",
		})
		return
	}

	ctx := c.Request.Context()
	ctrl, _ := h.views.Acquire(ctx, c.GetString(customerKey))
	result := ctrl.HandleReturn(ctx, params)

	c.JSON(http.StatusOK, ReturnResponse{
		Outcome:   result.Outcome.Class,
		Message:   result.Outcome.Message,
		Verified:  result.Verified,
		Completed: result.Completed,
		Query:     result.Query.Encode(),
		View:      toViewResponse(ctrl.View()),
	})
}

// Abandon handles POST /api/v1/checkout/abandon
// Releases the session and returns its items to the cart.
func (h *Handler) Abandon(c *gin.Context) {
	ctx := c.Request.Context()
	ctrl, ok := h.views.Lookup(c.GetString(customerKey))
	if !ok {
		ctrl, _ = h.views.Acquire(ctx, c.GetString(customerKey))
	}

	view, err := ctrl.Abandon(ctx)
	if err != nil {
		resp := toViewResponse(view)
		h.writeError(c, err, &resp)
		return
	}
	c.JSON(http.StatusOK, toViewResponse(view))
}

// SessionTickets handles GET /api/v1/checkout/sessions/:session_id/tickets
func (h *Handler) SessionTickets(c *gin.Context) {
	sessionID := strings.TrimSpace(c.Param("session_id"))
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "session_id is required", Code: "VALIDATION_ERROR"})
		return
	}
	tickets, err := h.tickets.SessionTickets(c.Request.Context(), sessionID)
	if err != nil {
		h.writeError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "tickets": tickets})
}

// RecoverSession handles GET /api/v1/checkout/recover
// Looks a session up with the recovery token the customer was given, without a bearer token.
func (h *Handler) RecoverSession(c *gin.Context) {
	token := strings.TrimSpace(c.GetHeader("X-Session-Token"))
	if token == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "X-Session-Token header is required", Code: "VALIDATION_ERROR"})
		return
	}
	session, err := h.recoverer.RecoverSession(c.Request.Context(), token)
	if err != nil {
		h.writeError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "session": session})
}

// PaymentStatus handles GET /api/v1/payments/orders/:order_id/status
func (h *Handler) PaymentStatus(c *gin.Context) {
	verification, err := h.payments.VerifyOrderPayment(c.Request.Context(), c.Param("order_id"))
	if err != nil {
		h.writeError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "payment": verification})
}

// HandleWebhook handles POST /webhooks/mercadopago
// Receives Mercado Pago notifications and nudges the matching checkout view.
func (h *Handler) HandleWebhook(c *gin.Context) {
	ctx := c.Request.Context()

	var notification domain.WebhookNotification
	if err := c.ShouldBindJSON(&notification); err != nil {
		// MP may send different formats, log and accept
		h.log.Warn(ctx, "webhook parse error: "+err.Error())
		c.JSON(http.StatusOK, gin.H{"status": "received"})
		return
	}
	if notification.Data.ID == "" {
		// IPN style notifications carry the id in the query string
		notification.Data.ID = c.Query("data.id")
	}

	result, err := h.payments.ProcessWebhook(ctx, notification, c.GetHeader("x-signature"), c.GetHeader("x-request-id"))
	if err != nil {
		if errors.Is(err, domain.ErrWebhookValidationFailed) {
			c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid signature", Code: "INVALID_SIGNATURE"})
			return
		}
		// Still return 200 to prevent MP from retrying
		c.JSON(http.StatusOK, gin.H{"status": "processed_with_error"})
		return
	}
	if result.Ignored {
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "processed", "nudged": result.Nudged})
}

// Health handles GET /health
func (h *Handler) Health(c *gin.Context) {
	body := gin.H{
		"status":  "ok",
		"service": "checkout-sync",
		"views":   h.views.Len(),
	}
	if h.cache != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.cache.Ping(ctx); err != nil {
			body["status"] = "degraded"
			body["redis"] = err.Error()
			c.JSON(http.StatusServiceUnavailable, body)
			return
		}
		body["redis"] = "ok"
	}
	c.JSON(http.StatusOK, body)
}

func (h *Handler) writeError(c *gin.Context, err error, view *ViewResponse) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error(c.Request.Context(), "request failed", err)
	}
	resp := ErrorResponse{
		Success: false,
		Error:   err.Error(),
		Code:    errorCode(err, "INTERNAL_ERROR"),
		View:    view,
	}
	if view != nil {
		resp.Redirect = view.Redirect
	}
	c.JSON(status, resp)
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNoCart), errors.Is(err, domain.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrSessionExpired):
		return http.StatusGone
	case errors.Is(err, domain.ErrWebhookValidationFailed):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrPaymentGatewayError), errors.Is(err, domain.ErrBackendUnavailable), errors.Is(err, domain.ErrAbandonFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func errorCode(err error, fallback string) string {
	var checkoutErr *domain.CheckoutError
	if errors.As(err, &checkoutErr) && checkoutErr.Code != "" {
		return checkoutErr.Code
	}
	return fallback
}
