package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func TestCheckoutMetricsCountsPolls(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCheckoutMetrics(reg)

	m.ObservePoll(OutcomeOK)
	m.ObservePoll(OutcomeOK)
	m.ObservePoll("")
	m.ViewMounted()

	families, err := reg.Gather()
	require.NoError(t, err)

	counts := map[string]float64{}
	var live float64
	for _, mf := range families {
		switch mf.GetName() {
		case "checkout_polls_total":
			for _, metric := range mf.GetMetric() {
				counts[labelValue(metric, "outcome")] = metric.GetCounter().GetValue()
			}
		case "checkout_live_views":
			live = mf.GetMetric()[0].GetGauge().GetValue()
		}
	}
	require.Equal(t, 2.0, counts[OutcomeOK])
	require.Equal(t, 1.0, counts["unknown"])
	require.Equal(t, 1.0, live)
}

func TestNilMetricsAreNoop(t *testing.T) {
	var m *CheckoutMetrics
	m.ObservePoll(OutcomeOK)
	m.ObservePreference(OutcomeError)
	m.ObserveTransition("ACTIVE")
	m.ViewMounted()
	m.ViewReleased()

	NewCheckoutMetrics(nil).ObservePoll(OutcomeOK)
}

func labelValue(metric *dto.Metric, name string) string {
	for _, lp := range metric.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}
