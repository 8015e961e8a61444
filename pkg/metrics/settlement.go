package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Ledger mutation outcomes.
const (
	OutcomeApplied  = "applied"
	OutcomeReplayed = "replayed"
	OutcomeRejected = "rejected"
)

// SettlementMetrics covers wallet mutations, hold unlocks and settlement
// dispatch. A nil receiver or one built without a registerer is a no-op.
type SettlementMetrics struct {
	mutations        *prometheus.CounterVec
	mutatedCents     *prometheus.CounterVec
	unrecoveredCents prometheus.Counter
	promotedTxns     prometheus.Counter
	promotedCents    prometheus.Counter
	unlockFailures   prometheus.Counter
	dispatchErrors   *prometheus.CounterVec
}

func NewSettlementMetrics(reg prometheus.Registerer) *SettlementMetrics {
	if reg == nil {
		return &SettlementMetrics{}
	}
	m := &SettlementMetrics{
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wallet_mutations_total",
			Help:      "Wallet transaction append attempts by type and outcome.",
		}, []string{"type", "outcome"}),
		mutatedCents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wallet_mutation_cents_total",
			Help:      "Cents moved by applied wallet transactions.",
		}, []string{"type"}),
		unrecoveredCents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wallet_unrecovered_cents_total",
			Help:      "Deduction shortfall that could not be taken from hold or available.",
		}),
		promotedTxns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unlock_promoted_transactions_total",
			Help:      "Hold credits promoted to available.",
		}),
		promotedCents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unlock_promoted_cents_total",
			Help:      "Cents moved from hold to available.",
		}),
		unlockFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unlock_wallet_failures_total",
			Help:      "Wallets whose unlock batch failed.",
		}),
		dispatchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_failures_total",
			Help:      "Settlement passes that failed after a status change was committed.",
		}, []string{"status"}),
	}
	reg.MustRegister(
		m.mutations,
		m.mutatedCents,
		m.unrecoveredCents,
		m.promotedTxns,
		m.promotedCents,
		m.unlockFailures,
		m.dispatchErrors,
	)
	return m
}

// ObserveMutation records one append attempt. Amount is only counted for
// applied mutations.
func (m *SettlementMetrics) ObserveMutation(txnType, outcome string, amountCents int64) {
	if m == nil || m.mutations == nil {
		return
	}
	m.mutations.WithLabelValues(normalizeLabel(txnType), normalizeLabel(outcome)).Inc()
	if outcome == OutcomeApplied && amountCents > 0 {
		m.mutatedCents.WithLabelValues(normalizeLabel(txnType)).Add(float64(amountCents))
	}
}

func (m *SettlementMetrics) ObserveUnrecovered(cents int64) {
	if m == nil || m.unrecoveredCents == nil || cents <= 0 {
		return
	}
	m.unrecoveredCents.Add(float64(cents))
}

func (m *SettlementMetrics) ObservePromotion(txns int, cents int64) {
	if m == nil || m.promotedTxns == nil {
		return
	}
	m.promotedTxns.Add(float64(txns))
	m.promotedCents.Add(float64(cents))
}

func (m *SettlementMetrics) IncUnlockFailure() {
	if m == nil || m.unlockFailures == nil {
		return
	}
	m.unlockFailures.Inc()
}

func (m *SettlementMetrics) IncDispatchFailure(status string) {
	if m == nil || m.dispatchErrors == nil {
		return
	}
	m.dispatchErrors.WithLabelValues(normalizeLabel(status)).Inc()
}
