// Package metrics exposes Prometheus collectors for cycles, strategy
// evaluation and market data access.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the symphony service.
type Metrics struct {
	CyclesTotal        *prometheus.CounterVec // labels: status
	CycleDuration      prometheus.Histogram
	LastCycleTimestamp prometheus.Gauge

	StrategyEvaluations *prometheus.CounterVec   // labels: strategy, result
	StrategyDuration    *prometheus.HistogramVec // labels: strategy
	StrategiesExcluded  prometheus.Counter

	PlanTrades   *prometheus.GaugeVec // labels: side
	PlanTurnover prometheus.Gauge

	BarCacheRequests *prometheus.CounterVec // labels: result=hit|miss|error
	BarsImported     prometheus.Counter

	gatherer prometheus.Gatherer
}

// New creates the collectors and registers them with reg. A nil reg uses a
// fresh registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Metrics{
		CyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "symphony_cycles_total",
			Help: "Rebalance cycles run, by final status",
		}, []string{"status"}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "symphony_cycle_duration_seconds",
			Help:    "Wall time of a full rebalance cycle",
			Buckets: prometheus.DefBuckets,
		}),
		LastCycleTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "symphony_last_cycle_timestamp_seconds",
			Help: "Unix time the last cycle finished",
		}),
		StrategyEvaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "symphony_strategy_evaluations_total",
			Help: "Strategy evaluations, by strategy and result kind",
		}, []string{"strategy", "result"}),
		StrategyDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "symphony_strategy_evaluation_duration_seconds",
			Help:    "Evaluation latency per strategy",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"strategy"}),
		StrategiesExcluded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "symphony_strategies_excluded_total",
			Help: "Strategies dropped from a cycle by the skip failure policy",
		}),
		PlanTrades: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "symphony_plan_trades",
			Help: "Trades in the latest plan, by side",
		}, []string{"side"}),
		PlanTurnover: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "symphony_plan_turnover_ratio",
			Help: "Sum of absolute weight deltas in the latest plan",
		}),
		BarCacheRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "symphony_bar_cache_requests_total",
			Help: "Bar cache lookups, by result",
		}, []string{"result"}),
		BarsImported: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "symphony_bars_imported_total",
			Help: "Daily bars written by the importer",
		}),
		gatherer: reg,
	}

	reg.MustRegister(
		m.CyclesTotal,
		m.CycleDuration,
		m.LastCycleTimestamp,
		m.StrategyEvaluations,
		m.StrategyDuration,
		m.StrategiesExcluded,
		m.PlanTrades,
		m.PlanTurnover,
		m.BarCacheRequests,
		m.BarsImported,
	)
	return m
}

// ObserveCycle records a finished cycle.
func (m *Metrics) ObserveCycle(status string, duration time.Duration, finished time.Time) {
	m.CyclesTotal.WithLabelValues(status).Inc()
	m.CycleDuration.Observe(duration.Seconds())
	m.LastCycleTimestamp.Set(float64(finished.Unix()))
}

// ObserveStrategy records one strategy evaluation. result is "ok" or a
// failure kind.
func (m *Metrics) ObserveStrategy(strategyID, result string, duration time.Duration) {
	m.StrategyEvaluations.WithLabelValues(strategyID, result).Inc()
	m.StrategyDuration.WithLabelValues(strategyID).Observe(duration.Seconds())
}

// ObservePlan records the shape of the latest plan.
func (m *Metrics) ObservePlan(sells, buys int, turnover float64) {
	m.PlanTrades.WithLabelValues("sell").Set(float64(sells))
	m.PlanTrades.WithLabelValues("buy").Set(float64(buys))
	m.PlanTurnover.Set(turnover)
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
