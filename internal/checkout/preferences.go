package checkout

import (
	"context"
	"errors"
	"sync"

	"github.com/packedgo/checkout-sync/internal/domain"
	"github.com/packedgo/checkout-sync/internal/logger"
	"github.com/packedgo/checkout-sync/internal/metrics"
)

// PreferenceGenerator requests a payment preference for every pending group that has none.
//
// Results are remembered per (session, order) so a group never gets a second
// preference within the same session, even when Generate is called again with
// a stale group list. An optional PreferenceCache extends that memory across
// process restarts.
type PreferenceGenerator struct {
	gateway domain.PaymentGateway
	cache   domain.PreferenceCache
	log     *logger.Logger
	metrics *metrics.CheckoutMetrics

	mu     sync.Mutex
	issued map[string]domain.PaymentPreference
}

// NewPreferenceGenerator creates a generator. cache, log and m may be nil.
func NewPreferenceGenerator(gateway domain.PaymentGateway, cache domain.PreferenceCache, log *logger.Logger, m *metrics.CheckoutMetrics) *PreferenceGenerator {
	if log == nil {
		log = logger.Nop()
	}
	return &PreferenceGenerator{
		gateway: gateway,
		cache:   cache,
		log:     log,
		metrics: m,
		issued:  make(map[string]domain.PaymentPreference),
	}
}

// Generate returns a copy of groups with checkout URLs attached to every eligible group.
//
// A failure for one group is logged and the batch moves on. An authorization
// failure aborts the batch: the groups processed so far are returned together
// with an error wrapping domain.ErrUnauthorized.
func (g *PreferenceGenerator) Generate(ctx context.Context, sessionID string, groups []domain.PaymentGroup) ([]domain.PaymentGroup, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]domain.PaymentGroup, len(groups))
	copy(out, groups)

	for i := range out {
		group := &out[i]
		if !group.NeedsPreference() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return out, err
		}

		key := sessionID + "|" + group.OrderID
		if pref, ok := g.issued[key]; ok {
			attachPreference(group, pref)
			continue
		}
		if pref, ok := g.fromCache(ctx, sessionID, group.OrderID); ok {
			g.issued[key] = pref
			attachPreference(group, pref)
			g.metrics.ObservePreference(metrics.OutcomeCached)
			continue
		}

		pref, err := g.gateway.CreatePreference(ctx, domain.PreferenceRequest{
			SellerID:    group.SellerID,
			OrderNumber: group.OrderNumber,
			Amount:      group.Amount,
			SessionID:   sessionID,
		})
		if err != nil {
			if errors.Is(err, domain.ErrUnauthorized) {
				g.metrics.ObservePreference(metrics.OutcomeUnauthorized)
				return out, err
			}
			g.metrics.ObservePreference(metrics.OutcomeError)
			g.log.Error(g.log.WithField(ctx, "order_number", group.OrderNumber), "payment preference generation failed", err)
			continue
		}
		if pref == nil || pref.CheckoutURL == "" {
			g.metrics.ObservePreference(metrics.OutcomeError)
			g.log.Warn(g.log.WithField(ctx, "order_number", group.OrderNumber), "payment gateway returned a preference without checkout url")
			continue
		}

		g.issued[key] = *pref
		attachPreference(group, *pref)
		g.metrics.ObservePreference(metrics.OutcomeOK)

		if g.cache != nil {
			if err := g.cache.Put(ctx, sessionID, group.OrderID, *pref); err != nil {
				g.log.Warn(g.log.WithField(ctx, "order_number", group.OrderNumber), "could not cache payment preference: "+err.Error())
			}
		}
	}
	return out, nil
}

// Forget drops what was remembered for the given orders of a finished session.
func (g *PreferenceGenerator) Forget(ctx context.Context, sessionID string, orderIDs ...string) error {
	g.mu.Lock()
	for _, id := range orderIDs {
		delete(g.issued, sessionID+"|"+id)
	}
	g.mu.Unlock()

	if g.cache == nil || len(orderIDs) == 0 {
		return nil
	}
	return g.cache.Forget(ctx, sessionID, orderIDs...)
}

func (g *PreferenceGenerator) fromCache(ctx context.Context, sessionID, orderID string) (domain.PaymentPreference, bool) {
	if g.cache == nil {
		return domain.PaymentPreference{}, false
	}
	pref, ok, err := g.cache.Get(ctx, sessionID, orderID)
	if err != nil {
		g.log.Warn(ctx, "preference cache lookup failed: "+err.Error())
		return domain.PaymentPreference{}, false
	}
	if !ok || pref == nil || pref.CheckoutURL == "" {
		return domain.PaymentPreference{}, false
	}
	return *pref, true
}

func attachPreference(group *domain.PaymentGroup, pref domain.PaymentPreference) {
	group.CheckoutURL = pref.CheckoutURL
	group.PreferenceID = pref.PreferenceID
	group.QRURL = pref.QRURL
}
