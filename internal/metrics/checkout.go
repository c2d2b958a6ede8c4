// Package metrics exposes Prometheus collectors for the checkout reconciliation loop.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels shared by the poll and preference counters.
const (
	OutcomeOK           = "ok"
	OutcomeError        = "error"
	OutcomeUnauthorized = "unauthorized"
	OutcomeNoCart       = "no_cart"
	OutcomeCompleted    = "completed"
	OutcomeCached       = "cached"
)

// CheckoutMetrics records reconciliation activity. A nil *CheckoutMetrics is a valid no-op.
type CheckoutMetrics struct {
	polls       *prometheus.CounterVec
	preferences *prometheus.CounterVec
	transitions *prometheus.CounterVec
	liveViews   prometheus.Gauge
}

// NewCheckoutMetrics registers the checkout metrics on the provided registerer.
func NewCheckoutMetrics(reg prometheus.Registerer) *CheckoutMetrics {
	if reg == nil {
		return &CheckoutMetrics{}
	}
	polls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_polls_total",
		Help: "Session state polls by outcome.",
	}, []string{"outcome"})
	preferences := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_preferences_total",
		Help: "Payment preference requests by outcome.",
	}, []string{"outcome"})
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_view_transitions_total",
		Help: "Checkout view phase transitions.",
	}, []string{"phase"})
	liveViews := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "checkout_live_views",
		Help: "Checkout views currently mounted.",
	})
	reg.MustRegister(polls, preferences, transitions, liveViews)
	return &CheckoutMetrics{
		polls:       polls,
		preferences: preferences,
		transitions: transitions,
		liveViews:   liveViews,
	}
}

// ObservePoll counts one poll attempt.
func (m *CheckoutMetrics) ObservePoll(outcome string) {
	if m == nil || m.polls == nil {
		return
	}
	m.polls.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// ObservePreference counts one preference generation attempt.
func (m *CheckoutMetrics) ObservePreference(outcome string) {
	if m == nil || m.preferences == nil {
		return
	}
	m.preferences.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// ObserveTransition counts a view entering phase.
func (m *CheckoutMetrics) ObserveTransition(phase string) {
	if m == nil || m.transitions == nil {
		return
	}
	m.transitions.WithLabelValues(normalizeLabel(phase)).Inc()
}

func (m *CheckoutMetrics) ViewMounted() {
	if m == nil || m.liveViews == nil {
		return
	}
	m.liveViews.Inc()
}

func (m *CheckoutMetrics) ViewReleased() {
	if m == nil || m.liveViews == nil {
		return
	}
	m.liveViews.Dec()
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
