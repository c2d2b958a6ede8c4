package checkout

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/packedgo/checkout-sync/internal/domain"
)

func TestGenerateIsIdempotentPerSession(t *testing.T) {
	gw := &fakeGateway{}
	gen := NewPreferenceGenerator(gw, nil, nil, nil)
	groups := []domain.PaymentGroup{
		group(1, domain.GroupPending, 100),
		group(2, domain.GroupPendingPayment, 50),
		group(3, domain.GroupPaid, 20),
	}

	first, err := gen.Generate(context.Background(), "s1", groups)
	require.NoError(t, err)
	second, err := gen.Generate(context.Background(), "s1", groups)
	require.NoError(t, err)

	assert.Equal(t, 2, gw.callCount(), "one call per eligible group")
	assert.Equal(t, first, second)
	assert.Equal(t, "https://pay.example/ORD-1", first[0].CheckoutURL)
	assert.Equal(t, "https://pay.example/ORD-2", first[1].CheckoutURL)
	assert.Empty(t, first[2].CheckoutURL)
	assert.Empty(t, groups[0].CheckoutURL, "input is not modified")
}

func TestGenerateSendsGroupDetails(t *testing.T) {
	gw := &fakeGateway{}
	gen := NewPreferenceGenerator(gw, nil, nil, nil)

	_, err := gen.Generate(context.Background(), "s1", []domain.PaymentGroup{group(7, domain.GroupPending, 100)})
	require.NoError(t, err)

	require.Len(t, gw.calls, 1)
	assert.Equal(t, int64(7), gw.calls[0].SellerID)
	assert.Equal(t, "ORD-7", gw.calls[0].OrderNumber)
	assert.Equal(t, "100", gw.calls[0].Amount.String())
	assert.Equal(t, "s1", gw.calls[0].SessionID)
}

func TestGenerateContinuesAfterGroupFailure(t *testing.T) {
	gw := &fakeGateway{errs: map[string]error{"ORD-1": errors.New("gateway down")}}
	gen := NewPreferenceGenerator(gw, nil, nil, nil)

	out, err := gen.Generate(context.Background(), "s1", []domain.PaymentGroup{
		group(1, domain.GroupPending, 100),
		group(2, domain.GroupPending, 50),
	})
	require.NoError(t, err)

	assert.Empty(t, out[0].CheckoutURL)
	assert.Equal(t, "https://pay.example/ORD-2", out[1].CheckoutURL)

	// failed groups are retried on the next pass, successful ones are not
	delete(gw.errs, "ORD-1")
	out, err = gen.Generate(context.Background(), "s1", out)
	require.NoError(t, err)
	assert.Equal(t, "https://pay.example/ORD-1", out[0].CheckoutURL)
	assert.Equal(t, 2, gw.callsFor("ORD-1"))
	assert.Equal(t, 1, gw.callsFor("ORD-2"))
}

func TestGenerateAbortsBatchOnUnauthorized(t *testing.T) {
	gw := &fakeGateway{errs: map[string]error{"ORD-1": domain.NewCheckoutError(domain.ErrUnauthorized, "token expired", "UNAUTHORIZED")}}
	gen := NewPreferenceGenerator(gw, nil, nil, nil)

	_, err := gen.Generate(context.Background(), "s1", []domain.PaymentGroup{
		group(1, domain.GroupPending, 100),
		group(2, domain.GroupPending, 50),
	})

	require.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.Equal(t, 0, gw.callsFor("ORD-2"))
}

func TestGenerateUsesCacheBeforeGateway(t *testing.T) {
	gw := &fakeGateway{}
	cache := newMemoryCache()
	require.NoError(t, cache.Put(context.Background(), "s1", "1", domain.PaymentPreference{PreferenceID: "p1", CheckoutURL: "https://cached/1"}))
	gen := NewPreferenceGenerator(gw, cache, nil, nil)

	out, err := gen.Generate(context.Background(), "s1", []domain.PaymentGroup{
		group(1, domain.GroupPending, 100),
		group(2, domain.GroupPending, 50),
	})
	require.NoError(t, err)

	assert.Equal(t, "https://cached/1", out[0].CheckoutURL)
	assert.Equal(t, 0, gw.callsFor("ORD-1"))
	assert.Equal(t, 1, gw.callsFor("ORD-2"))
	assert.Equal(t, 2, cache.puts, "fresh preferences are written back")
}

func TestGenerateTreatsMissingURLAsFailure(t *testing.T) {
	gen := NewPreferenceGenerator(emptyGateway{}, nil, nil, nil)

	out, err := gen.Generate(context.Background(), "s1", []domain.PaymentGroup{group(1, domain.GroupPending, 100)})
	require.NoError(t, err)
	assert.True(t, out[0].NeedsPreference())
}

func TestGenerateStopsWhenContextCancelled(t *testing.T) {
	gw := &fakeGateway{}
	gen := NewPreferenceGenerator(gw, nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := gen.Generate(ctx, "s1", []domain.PaymentGroup{group(1, domain.GroupPending, 100)})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, gw.callCount())
}

type emptyGateway struct{}

func (emptyGateway) CreatePreference(context.Context, domain.PreferenceRequest) (*domain.PaymentPreference, error) {
	return &domain.PaymentPreference{PreferenceID: "p"}, nil
}

func TestForgetAllowsANewPreference(t *testing.T) {
	gw := &fakeGateway{}
	cache := newMemoryCache()
	gen := NewPreferenceGenerator(gw, cache, nil, nil)
	groups := []domain.PaymentGroup{group(1, domain.GroupPending, 100)}

	_, err := gen.Generate(context.Background(), "s1", groups)
	require.NoError(t, err)
	require.True(t, cache.has("s1", "1"))

	require.NoError(t, gen.Forget(context.Background(), "s1", "1"))
	assert.False(t, cache.has("s1", "1"))

	_, err = gen.Generate(context.Background(), "s1", groups)
	require.NoError(t, err)
	assert.Equal(t, 2, gw.callCount())
}
