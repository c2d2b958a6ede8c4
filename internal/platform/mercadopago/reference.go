package mercadopago

import (
	"strings"

	"github.com/shopspring/decimal"
)

const referenceSeparator = "|"

// ExternalReference is what the adapter stores in a preference's external_reference.
type ExternalReference struct {
	SessionID   string
	OrderNumber string
}

// BuildExternalReference encodes the session and order of a preference.
func BuildExternalReference(sessionID, orderNumber string) string {
	return sessionID + referenceSeparator + orderNumber
}

// ParseExternalReference decodes a reference built by BuildExternalReference.
// References created elsewhere (a bare order number) report ok=false.
func ParseExternalReference(raw string) (ExternalReference, bool) {
	sessionID, orderNumber, found := strings.Cut(raw, referenceSeparator)
	if !found || sessionID == "" {
		return ExternalReference{}, false
	}
	return ExternalReference{SessionID: sessionID, OrderNumber: orderNumber}, true
}

func decimalFromFloat(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v)
}
