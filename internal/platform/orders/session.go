package orders

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/packedgo/checkout-sync/internal/domain"
)

// flexID accepts ids the backend sends either as JSON numbers or strings.
type flexID string

func (f *flexID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}

// sessionResponse covers both the session-state and the multi-order session
// payloads of the order service.
type sessionResponse struct {
	SessionID              string          `json:"sessionId"`
	SessionStatus          string          `json:"sessionStatus"`
	TotalAmount            decimal.Decimal `json:"totalAmount"`
	ExpiresAt              string          `json:"expiresAt"`
	SecondsUntilExpiration *int64          `json:"secondsUntilExpiration"`

	// Serialized as either isX or x depending on the backend's bean naming.
	IsExpired   bool `json:"isExpired"`
	Expired     bool `json:"expired"`
	IsActive    bool `json:"isActive"`
	Active      bool `json:"active"`
	IsCompleted bool `json:"isCompleted"`
	Completed   bool `json:"completed"`

	TotalGroups   int `json:"totalGroups"`
	PaidGroups    int `json:"paidGroups"`
	PendingGroups int `json:"pendingGroups"`
	TotalOrders   int `json:"totalOrders"`
	PaidOrders    int `json:"paidOrders"`

	PaymentGroups []groupResponse `json:"paymentGroups"`
}

type groupResponse struct {
	AdminID             int64           `json:"adminId"`
	AdminName           string          `json:"adminName"`
	OrderID             flexID          `json:"orderId"`
	OrderNumber         string          `json:"orderNumber"`
	Amount              decimal.Decimal `json:"amount"`
	PaymentStatus       string          `json:"paymentStatus"`
	Status              string          `json:"status"`
	InitPoint           string          `json:"initPoint"`
	PaymentPreferenceID string          `json:"paymentPreferenceId"`
	QRURL               string          `json:"qrUrl"`
	Items               []itemResponse  `json:"items"`
}

type itemResponse struct {
	EventID   int64           `json:"eventId"`
	EventName string          `json:"eventName"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

type ticketResponse struct {
	TicketID    int64  `json:"ticketId"`
	EventID     int64  `json:"eventId"`
	EventName   string `json:"eventName"`
	OrderNumber string `json:"orderNumber"`
	QRCode      string `json:"qrCode"`
	Redeemed    bool   `json:"redeemed"`
}

func (t ticketResponse) toDomain() domain.Ticket {
	return domain.Ticket{
		TicketID:    t.TicketID,
		EventID:     t.EventID,
		EventName:   t.EventName,
		OrderNumber: t.OrderNumber,
		QRCode:      t.QRCode,
		Redeemed:    t.Redeemed,
	}
}

// toDomain maps the payload. A relative expiry wins over the absolute one since
// it is immune to clock skew between the backend and this service. A live
// session without a usable expiry is rejected as a transient decode error.
func (r sessionResponse) toDomain(fetchedAt time.Time, loc *time.Location) (*domain.CheckoutSession, error) {
	s := &domain.CheckoutSession{
		SessionID:     r.SessionID,
		Status:        domain.SessionStatus(strings.ToUpper(r.SessionStatus)),
		TotalAmount:   r.TotalAmount,
		IsExpired:     r.IsExpired || r.Expired,
		IsActive:      r.IsActive || r.Active,
		IsCompleted:   r.IsCompleted || r.Completed,
		TotalGroups:   firstNonZero(r.TotalGroups, r.TotalOrders),
		PaidGroups:    firstNonZero(r.PaidGroups, r.PaidOrders),
		PendingGroups: r.PendingGroups,
	}

	switch {
	case r.SecondsUntilExpiration != nil:
		secs := *r.SecondsUntilExpiration
		if secs < 0 {
			secs = 0
		}
		s.ExpiresAt = fetchedAt.Add(time.Duration(secs) * time.Second)
	default:
		expiresAt, err := parseTimestamp(r.ExpiresAt, loc)
		if err != nil && !s.IsExpired && !s.Completed() {
			return nil, domain.NewCheckoutError(domain.ErrBackendUnavailable,
				fmt.Sprintf("session %s: %v", r.SessionID, err), "DECODE_ERROR")
		}
		s.ExpiresAt = expiresAt
	}

	s.PaymentGroups = make([]domain.PaymentGroup, 0, len(r.PaymentGroups))
	for _, g := range r.PaymentGroups {
		s.PaymentGroups = append(s.PaymentGroups, g.toDomain())
	}
	if s.TotalGroups == 0 {
		s.TotalGroups = len(s.PaymentGroups)
	}
	if s.PendingGroups == 0 {
		for _, g := range s.PaymentGroups {
			if g.Status.IsPending() {
				s.PendingGroups++
			}
		}
	}
	return s, nil
}

func (g groupResponse) toDomain() domain.PaymentGroup {
	status := g.PaymentStatus
	if status == "" {
		status = g.Status
	}
	out := domain.PaymentGroup{
		SellerID:     g.AdminID,
		SellerName:   g.AdminName,
		OrderID:      string(g.OrderID),
		OrderNumber:  g.OrderNumber,
		Amount:       g.Amount,
		Status:       domain.GroupStatus(strings.ToUpper(status)),
		CheckoutURL:  g.InitPoint,
		PreferenceID: g.PaymentPreferenceID,
		QRURL:        g.QRURL,
	}
	if out.OrderID == "" {
		out.OrderID = g.OrderNumber
	}
	for _, it := range g.Items {
		out.Items = append(out.Items, domain.OrderItem{
			EventID:   it.EventID,
			EventName: it.EventName,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
			Subtotal:  it.Subtotal,
		})
	}
	return out
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

// parseTimestamp accepts RFC 3339 and zone-less local date-times, the latter in loc.
func parseTimestamp(raw string, loc *time.Location) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, errors.New("missing expiresAt")
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t, nil
	}
	for _, layout := range timestampLayouts[1:] {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable expiresAt %q", raw)
}

func firstNonZero(values ...int) int {
	for _, v := range values {
		if v != 0 {
			return v
		}
	}
	return 0
}
