package orders

import (
	"context"
	"errors"
	"net/http"

	"github.com/packedgo/checkout-sync/internal/domain"
)

// RefreshCart reloads the customer's cart so it reflects a finished checkout.
// A missing cart is not an error.
// GET /cart
func (c *Client) RefreshCart(ctx context.Context) error {
	err := c.do(ctx, http.MethodGet, "/cart", nil, nil, nil, domain.ErrNoCart)
	if errors.Is(err, domain.ErrNoCart) {
		return nil
	}
	return err
}
