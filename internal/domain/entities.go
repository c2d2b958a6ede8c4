// Package domain contains the core checkout entities and interfaces.
// This is the innermost layer of the Clean Architecture - it only depends on
// value libraries, never on transport or infrastructure.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// SessionStatus is the overall status of a checkout session as reported by the order backend.
type SessionStatus string

const (
	SessionPending   SessionStatus = "PENDING"
	SessionPartial   SessionStatus = "PARTIAL"
	SessionCompleted SessionStatus = "COMPLETED"
	SessionExpired   SessionStatus = "EXPIRED"
	SessionCancelled SessionStatus = "CANCELLED"
)

// GroupStatus is the status of a single payment group.
type GroupStatus string

const (
	GroupPending        GroupStatus = "PENDING"
	GroupPendingPayment GroupStatus = "PENDING_PAYMENT"
	GroupPaid           GroupStatus = "PAID"
	GroupCompleted      GroupStatus = "COMPLETED"
	GroupFailed         GroupStatus = "FAILED"
	GroupExpired        GroupStatus = "EXPIRED"
	GroupCancelled      GroupStatus = "CANCELLED"
)

// IsPending reports whether the group still waits for a payment.
func (s GroupStatus) IsPending() bool {
	return s == GroupPending || s == GroupPendingPayment
}

// IsPaid reports whether the group has been paid.
func (s GroupStatus) IsPaid() bool {
	return s == GroupPaid || s == GroupCompleted
}

// OrderItem is a line of an order inside a payment group.
type OrderItem struct {
	EventID   int64           `json:"eventId"`
	EventName string          `json:"eventName"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

// PaymentGroup is the part of a session payable to one seller in one transaction.
//
// CheckoutURL, PreferenceID and QRURL are client-side fields: the order backend
// does not echo them back, so they have to be carried across refreshes.
type PaymentGroup struct {
	SellerID    int64           `json:"sellerId"`
	SellerName  string          `json:"sellerName,omitempty"`
	OrderID     string          `json:"orderId"`
	OrderNumber string          `json:"orderNumber"`
	Amount      decimal.Decimal `json:"amount"`
	Status      GroupStatus     `json:"status"`
	Items       []OrderItem     `json:"items,omitempty"`

	CheckoutURL  string `json:"checkoutUrl,omitempty"`
	PreferenceID string `json:"preferenceId,omitempty"`
	QRURL        string `json:"qrUrl,omitempty"`
}

// NeedsPreference reports whether a checkout URL still has to be requested for the group.
func (g PaymentGroup) NeedsPreference() bool {
	return g.Status.IsPending() && g.CheckoutURL == ""
}

// CheckoutSession is the local mirror of a backend-owned checkout session.
type CheckoutSession struct {
	SessionID     string          `json:"sessionId"`
	Status        SessionStatus   `json:"sessionStatus"`
	ExpiresAt     time.Time       `json:"expiresAt"`
	TotalAmount   decimal.Decimal `json:"totalAmount"`
	PaymentGroups []PaymentGroup  `json:"paymentGroups"`

	TotalGroups   int `json:"totalGroups"`
	PaidGroups    int `json:"paidGroups"`
	PendingGroups int `json:"pendingGroups"`

	IsExpired   bool `json:"isExpired"`
	IsActive    bool `json:"isActive"`
	IsCompleted bool `json:"isCompleted"`
}

// Completed reports whether the backend considers every payment of the session done.
func (s *CheckoutSession) Completed() bool {
	if s == nil {
		return false
	}
	return s.IsCompleted || s.Status == SessionCompleted
}

// Clone returns a copy that does not share the group slice.
func (s *CheckoutSession) Clone() *CheckoutSession {
	if s == nil {
		return nil
	}
	out := *s
	out.PaymentGroups = make([]PaymentGroup, len(s.PaymentGroups))
	copy(out.PaymentGroups, s.PaymentGroups)
	return &out
}

// PreferenceRequest asks the payment gateway for a checkout intent for one group.
type PreferenceRequest struct {
	SellerID    int64           `json:"adminId"`
	OrderNumber string          `json:"orderId"`
	Amount      decimal.Decimal `json:"amount"`
	SessionID   string          `json:"sessionId"`
}

// PaymentPreference is a gateway-issued, single-use checkout intent.
type PaymentPreference struct {
	PreferenceID string `json:"preferenceId"`
	CheckoutURL  string `json:"checkoutUrl"`
	QRURL        string `json:"qrUrl,omitempty"`
}

// PaymentVerification is the payment backend's view of a single order payment.
type PaymentVerification struct {
	OrderID           string          `json:"orderId"`
	SessionID         string          `json:"sessionId,omitempty"`
	PaymentID         string          `json:"paymentId,omitempty"`
	Status            string          `json:"status"`
	StatusDetail      string          `json:"statusDetail,omitempty"`
	ExternalReference string          `json:"externalReference,omitempty"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency,omitempty"`
	Provider          string          `json:"provider,omitempty"`
}

// Ticket is a QR-coded ticket issued for a completed session.
type Ticket struct {
	TicketID    int64  `json:"ticketId"`
	EventID     int64  `json:"eventId"`
	EventName   string `json:"eventName"`
	OrderNumber string `json:"orderNumber,omitempty"`
	QRCode      string `json:"qrCode"`
	Redeemed    bool   `json:"redeemed"`
}

// WebhookNotification represents the IPN notification from Mercado Pago.
type WebhookNotification struct {
	ID          int64  `json:"id"`
	LiveMode    bool   `json:"live_mode"`
	Type        string `json:"type"`
	DateCreated string `json:"date_created"`
	UserID      int64  `json:"user_id,omitempty"`
	APIVersion  string `json:"api_version"`
	Action      string `json:"action"`
	Data        struct {
		ID string `json:"id"`
	} `json:"data"`
}
