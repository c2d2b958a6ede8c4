package checkout

import (
	"fmt"

	"github.com/packedgo/checkout-sync/internal/domain"
)

// FormatRemaining renders seconds as M:SS.
func FormatRemaining(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}

// GroupStatusLabel is the customer-facing label of a payment group status.
func GroupStatusLabel(s domain.GroupStatus) string {
	switch {
	case s.IsPaid():
		return "Paid"
	case s.IsPending():
		return "Pending"
	case s == domain.GroupExpired:
		return "Expired"
	case s == domain.GroupFailed:
		return "Failed"
	case s == domain.GroupCancelled:
		return "Cancelled"
	default:
		return string(s)
	}
}

// SessionStatusLabel is the customer-facing label of a session status.
func SessionStatusLabel(s domain.SessionStatus) string {
	switch s {
	case domain.SessionCompleted:
		return "Completed"
	case domain.SessionPartial:
		return "Partially paid"
	case domain.SessionPending:
		return "Pending"
	case domain.SessionExpired:
		return "Expired"
	case domain.SessionCancelled:
		return "Cancelled"
	default:
		return string(s)
	}
}
