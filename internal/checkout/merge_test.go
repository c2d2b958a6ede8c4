package checkout

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/packedgo/checkout-sync/internal/domain"
)

func withURL(g domain.PaymentGroup, url string) domain.PaymentGroup {
	g.CheckoutURL = url
	g.PreferenceID = "pref-" + g.OrderNumber
	return g
}

func TestMergeKeepsURLForPendingGroups(t *testing.T) {
	exp := time.Now().Add(time.Minute)
	prev := session("s1", exp,
		withURL(group(1, domain.GroupPending, 100), "https://pay/1"),
		withURL(group(2, domain.GroupPending, 50), "https://pay/2"),
	)
	next := session("s1", exp,
		group(1, domain.GroupPending, 100),
		group(2, domain.GroupPaid, 50),
	)

	merged := MergeSession(prev, next)

	require.Len(t, merged.PaymentGroups, 2)
	assert.Equal(t, "https://pay/1", merged.PaymentGroups[0].CheckoutURL)
	assert.Equal(t, "pref-ORD-1", merged.PaymentGroups[0].PreferenceID)
	assert.Empty(t, merged.PaymentGroups[1].CheckoutURL, "paid groups drop their checkout url")
	assert.Empty(t, next.PaymentGroups[0].CheckoutURL, "inputs are not modified")
}

func TestMergeSurvivesRepeatedRefreshes(t *testing.T) {
	exp := time.Now().Add(time.Minute)
	local := session("s1", exp, withURL(group(1, domain.GroupPending, 100), "https://pay/1"))

	for i := 0; i < 5; i++ {
		local = MergeSession(local, session("s1", exp, group(1, domain.GroupPending, 100)))
	}
	assert.Equal(t, "https://pay/1", local.PaymentGroups[0].CheckoutURL)
}

func TestMergeDoesNotRevivePreferenceOfGroupThatLeftPending(t *testing.T) {
	exp := time.Now().Add(time.Minute)
	local := session("s1", exp, withURL(group(1, domain.GroupPending, 100), "https://pay/1"))
	local = MergeSession(local, session("s1", exp, group(1, domain.GroupFailed, 100)))
	local = MergeSession(local, session("s1", exp, group(1, domain.GroupPending, 100)))

	assert.Empty(t, local.PaymentGroups[0].CheckoutURL)
	assert.True(t, local.PaymentGroups[0].NeedsPreference())
}

func TestMergePrefersURLCarriedByNext(t *testing.T) {
	exp := time.Now().Add(time.Minute)
	prev := session("s1", exp, withURL(group(1, domain.GroupPending, 100), "https://pay/old"))
	next := session("s1", exp, withURL(group(1, domain.GroupPending, 100), "https://pay/new"))

	merged := MergeSession(prev, next)
	assert.Equal(t, "https://pay/new", merged.PaymentGroups[0].CheckoutURL)
}

func TestMergeIgnoresUnknownGroups(t *testing.T) {
	exp := time.Now().Add(time.Minute)
	prev := session("s1", exp, withURL(group(1, domain.GroupPending, 100), "https://pay/1"))
	next := session("s1", exp, group(3, domain.GroupPending, 20))

	merged := MergeSession(prev, next)
	require.Len(t, merged.PaymentGroups, 1)
	assert.Empty(t, merged.PaymentGroups[0].CheckoutURL)
	assert.Nil(t, MergeSession(nil, nil))
}
