// Package metrics exposes Prometheus collectors for the loyalty engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the engine's collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	earnEvents       *prometheus.CounterVec
	pointsCredited   prometheus.Counter
	codesIssued      prometheus.Counter
	partialFailures  prometheus.Counter
	redemptions      *prometheus.CounterVec
	reconciliations  prometheus.Counter
	externalFailures *prometheus.CounterVec
	externalCalls    *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg (prometheus.DefaultRegisterer when nil).
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		earnEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loyalty_earn_events_total",
			Help: "Earn events processed, by outcome (credited, replayed, rejected, failed).",
		}, []string{"outcome"}),
		pointsCredited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "loyalty_points_credited_total",
			Help: "Points credited to customer balances.",
		}),
		codesIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "loyalty_codes_issued_total",
			Help: "Reward codes created, recorded and paid for.",
		}),
		partialFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "loyalty_issuance_partial_failures_total",
			Help: "Issuance batches that stopped before issuing every entitled code.",
		}),
		redemptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loyalty_redemptions_total",
			Help: "Redeem events processed, by outcome (redeemed, already_redeemed, not_found, failed).",
		}, []string{"outcome"}),
		reconciliations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "loyalty_balance_reconciliations_total",
			Help: "Stored balances repaired from the credit journal.",
		}),
		externalFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loyalty_external_failures_total",
			Help: "Failed external calls after retries, by dependency.",
		}, []string{"dependency"}),
		externalCalls: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "loyalty_external_call_duration_seconds",
			Help:    "Latency of external calls including retries, by dependency, operation and result.",
			Buckets: prometheus.DefBuckets,
		}, []string{"dependency", "op", "result"}),
	}
	reg.MustRegister(
		m.earnEvents,
		m.pointsCredited,
		m.codesIssued,
		m.partialFailures,
		m.redemptions,
		m.reconciliations,
		m.externalFailures,
		m.externalCalls,
	)
	return m
}

func (m *Metrics) ObserveEarn(outcome string, credited int64) {
	if m == nil {
		return
	}
	m.earnEvents.WithLabelValues(outcome).Inc()
	if credited > 0 {
		m.pointsCredited.Add(float64(credited))
	}
}

func (m *Metrics) ObserveCodesIssued(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.codesIssued.Add(float64(n))
}

func (m *Metrics) ObservePartialFailure() {
	if m == nil {
		return
	}
	m.partialFailures.Inc()
}

func (m *Metrics) ObserveRedemption(outcome string) {
	if m == nil {
		return
	}
	m.redemptions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveReconciliation() {
	if m == nil {
		return
	}
	m.reconciliations.Inc()
}

func (m *Metrics) ObserveExternalFailure(dependency string) {
	if m == nil {
		return
	}
	if dependency == "" {
		dependency = "unknown"
	}
	m.externalFailures.WithLabelValues(dependency).Inc()
}

// ObserveExternalCall records the latency of one retried external call and counts it as a failure
// when err is non-nil.
func (m *Metrics) ObserveExternalCall(dependency, op string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
		m.ObserveExternalFailure(dependency)
	}
	m.externalCalls.WithLabelValues(dependency, op, result).Observe(elapsed.Seconds())
}
