// Package metrics exposes the trading loop's Prometheus counters.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// DecisionsTotal counts parsed decisions by action and parse status.
	DecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trader_decisions_total",
			Help: "Decisions produced, labeled by action and parse status.",
		},
		[]string{"action", "status"},
	)

	// OrdersSubmittedTotal counts orders accepted by the exchange.
	OrdersSubmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trader_orders_submitted_total",
			Help: "Orders accepted by the exchange, labeled by side.",
		},
		[]string{"side"},
	)

	// OrderFailuresTotal counts order attempts that did not reach the book.
	OrderFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "trader_order_failures_total",
			Help: "Order attempts that failed before or at submission.",
		},
	)

	// CycleErrorsTotal counts decision cycles abandoned on a transport or
	// snapshot error.
	CycleErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trader_cycle_errors_total",
			Help: "Cycles abandoned before a decision was recorded, labeled by stage.",
		},
		[]string{"stage"},
	)

	// CycleDurationSeconds observes wall time per decision cycle.
	CycleDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "trader_cycle_duration_seconds",
			Help:    "Wall-clock duration of one full decision cycle.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		},
	)
)

func init() {
	prometheus.MustRegister(
		DecisionsTotal,
		OrdersSubmittedTotal,
		OrderFailuresTotal,
		CycleErrorsTotal,
		CycleDurationSeconds,
	)
}
