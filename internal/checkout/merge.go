package checkout

import (
	"github.com/packedgo/checkout-sync/internal/domain"
)

// MergeSession folds an authoritative snapshot into the previous local view.
//
// The result is a new session built from next; for every group matched by
// order id that is still pending, the client-only preference fields of prev
// are re-attached when next does not carry them. Neither input is modified.
func MergeSession(prev, next *domain.CheckoutSession) *domain.CheckoutSession {
	if next == nil {
		return prev.Clone()
	}
	out := next.Clone()
	if prev == nil {
		return out
	}
	out.PaymentGroups = MergeGroups(prev.PaymentGroups, next.PaymentGroups)
	return out
}

// MergeGroups returns next with the preference fields of prev re-attached by order id.
func MergeGroups(prev, next []domain.PaymentGroup) []domain.PaymentGroup {
	known := make(map[string]domain.PaymentGroup, len(prev))
	for _, g := range prev {
		if g.OrderID != "" {
			known[g.OrderID] = g
		}
	}

	out := make([]domain.PaymentGroup, len(next))
	for i, g := range next {
		out[i] = g
		if !g.Status.IsPending() {
			continue
		}
		old, ok := known[g.OrderID]
		if !ok || !old.Status.IsPending() || g.CheckoutURL != "" || old.CheckoutURL == "" {
			continue
		}
		out[i].CheckoutURL = old.CheckoutURL
		out[i].PreferenceID = old.PreferenceID
		out[i].QRURL = old.QRURL
	}
	return out
}
