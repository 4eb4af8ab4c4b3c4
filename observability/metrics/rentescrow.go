package metrics

import (
	"sync"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
)

// RentEscrowMetrics tracks escrow operations and the state of the registry.
type RentEscrowMetrics struct {
	operations *prometheus.CounterVec
	live       prometheus.Gauge
	leased     prometheus.Gauge
	custody    prometheus.Gauge
	disbursed  *prometheus.CounterVec
}

var (
	rentEscrowOnce     sync.Once
	rentEscrowRegistry *RentEscrowMetrics
)

// RentEscrow returns the lazily registered rent escrow collectors.
func RentEscrow() *RentEscrowMetrics {
	rentEscrowOnce.Do(func() {
		rentEscrowRegistry = &RentEscrowMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "rentescrow",
				Name:      "operations_total",
				Help:      "Escrow operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			live: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "rentescrow",
				Name:      "escrows_live",
				Help:      "Escrow records currently held by the registry.",
			}),
			leased: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "rentescrow",
				Name:      "escrows_leased",
				Help:      "Escrow records with an active lease.",
			}),
			custody: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "rentescrow",
				Name:      "custody_balance",
				Help:      "Funds held in custody across all escrows.",
			}),
			disbursed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "rentescrow",
				Name:      "disbursed_total",
				Help:      "Funds paid out to landlords segmented by reason.",
			}, []string{"reason"}),
		}
		prometheus.MustRegister(
			rentEscrowRegistry.operations,
			rentEscrowRegistry.live,
			rentEscrowRegistry.leased,
			rentEscrowRegistry.custody,
			rentEscrowRegistry.disbursed,
		)
	})
	return rentEscrowRegistry
}

// ObserveOperation counts a completed operation. Outcome is "ok" or the
// error class reported to the caller.
func (m *RentEscrowMetrics) ObserveOperation(operation, outcome string) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "unknown"
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
}

// ObserveDisbursement records funds released to a landlord.
func (m *RentEscrowMetrics) ObserveDisbursement(reason string, amount *uint256.Int) {
	if m == nil || amount == nil {
		return
	}
	m.disbursed.WithLabelValues(reason).Add(amount.Float64())
}

// SetRegistryState publishes the current registry summary.
func (m *RentEscrowMetrics) SetRegistryState(live, leased int, custody *uint256.Int) {
	if m == nil {
		return
	}
	m.live.Set(float64(live))
	m.leased.Set(float64(leased))
	if custody != nil {
		m.custody.Set(custody.Float64())
	}
}
