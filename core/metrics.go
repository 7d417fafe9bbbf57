package core

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

type Metrics struct {
	operations      *prometheus.CounterVec
	liquidatedValue prometheus.Counter
	poolUtilization *prometheus.GaugeVec
}

// NewMetrics registers the engine collectors on reg. A nil reg falls back to
// the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lending_operations_total",
			Help: "Engine operations by type and result.",
		}, []string{"op", "result"}),
		liquidatedValue: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lending_liquidated_debt_value_total",
			Help: "Debt value repaid through liquidations.",
		}),
		poolUtilization: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lending_pool_utilization_ratio",
			Help: "Pool utilization after the last committed change.",
		}, []string{"asset"}),
	}
	reg.MustRegister(m.operations, m.liquidatedValue, m.poolUtilization)
	return m
}

func (m *Metrics) ObserveOperation(op OperateType, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = KindOf(err).String()
	}
	m.operations.WithLabelValues(op.String(), result).Inc()
}

func (m *Metrics) ObserveLiquidation(repaidValue decimal.Decimal) {
	if m == nil {
		return
	}
	m.liquidatedValue.Add(repaidValue.InexactFloat64())
}

func (m *Metrics) ObservePool(pool *Pool) {
	if m == nil {
		return
	}
	m.poolUtilization.WithLabelValues(pool.Symbol).Set(pool.ComputeUtilizationRate().InexactFloat64())
}
