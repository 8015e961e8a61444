package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestSettlementMetricsCountsMutations(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewSettlementMetrics(reg)

	m.ObserveMutation("delivered_hold_credit", OutcomeApplied, 500)
	m.ObserveMutation("delivered_hold_credit", OutcomeReplayed, 500)
	m.ObserveUnrecovered(40)
	m.ObservePromotion(2, 700)
	m.IncUnlockFailure()
	m.IncDispatchFailure("delivered")

	mfs, err := reg.Gather()
	require.NoError(t, err)

	applied := findMetricFamily(mfs, "settlement_wallet_mutations_total")
	require.NotNil(t, applied)
	require.Len(t, applied.GetMetric(), 2)

	cents, err := fetchCounterValue(mfs, "settlement_wallet_mutation_cents_total", "type", "delivered_hold_credit")
	require.NoError(t, err)
	require.Equal(t, float64(500), cents)

	dispatch, err := fetchCounterValue(mfs, "settlement_dispatch_failures_total", "status", "delivered")
	require.NoError(t, err)
	require.Equal(t, float64(1), dispatch)

	promoted := findMetricFamily(mfs, "settlement_unlock_promoted_cents_total")
	require.NotNil(t, promoted)
	require.Equal(t, float64(700), promoted.GetMetric()[0].GetCounter().GetValue())
}

func TestSettlementMetricsNilSafe(t *testing.T) {
	var m *SettlementMetrics
	m.ObserveMutation("x", OutcomeApplied, 1)
	m.ObservePromotion(1, 1)
	m.IncUnlockFailure()
	m.IncDispatchFailure("x")
	m.ObserveUnrecovered(1)

	NewSettlementMetrics(nil).ObserveMutation("x", OutcomeApplied, 1)
}
