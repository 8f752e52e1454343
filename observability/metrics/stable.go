package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// StableMetrics aggregates the engine-level collectors.
type StableMetrics struct {
	operations       *prometheus.CounterVec
	liquidationDebt  prometheus.Counter
	liquidationSeize prometheus.Counter
	oracleFailures   *prometheus.CounterVec
}

var (
	stableOnce     sync.Once
	stableRegistry *StableMetrics
)

// Stable returns the process-wide collector set, registering it on first use.
func Stable() *StableMetrics {
	stableOnce.Do(func() {
		stableRegistry = &StableMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "stable_operations_total",
				Help: "Count of engine operations by kind and result.",
			}, []string{"op", "result"}),
			liquidationDebt: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "stable_liquidation_debt_covered_total",
				Help: "Cumulative debt repaid through liquidations, in whole NUSD.",
			}),
			liquidationSeize: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "stable_liquidation_collateral_seized_total",
				Help: "Cumulative collateral seized through liquidations, in whole asset units.",
			}),
			oracleFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "stable_oracle_failures_total",
				Help: "Count of operations aborted by a price feed failure, by operation.",
			}, []string{"op"}),
		}
		prometheus.MustRegister(
			stableRegistry.operations,
			stableRegistry.liquidationDebt,
			stableRegistry.liquidationSeize,
			stableRegistry.oracleFailures,
		)
	})
	return stableRegistry
}

// ObserveOperation records the outcome of one engine operation.
func (m *StableMetrics) ObserveOperation(op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.operations.WithLabelValues(op, result).Inc()
}

// ObserveLiquidation records the value moved by a committed liquidation.
func (m *StableMetrics) ObserveLiquidation(debtCovered, seized float64) {
	if m == nil {
		return
	}
	m.liquidationDebt.Add(debtCovered)
	m.liquidationSeize.Add(seized)
}

// ObserveOracleFailure records an aborted operation caused by a feed outage.
func (m *StableMetrics) ObserveOracleFailure(op string) {
	if m == nil {
		return
	}
	m.oracleFailures.WithLabelValues(op).Inc()
}
