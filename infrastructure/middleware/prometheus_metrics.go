package middleware

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ahrav/go-versus/infrastructure/llm"
	"github.com/ahrav/go-versus/internal/ports"
)

// Duel metric names recorded by the orchestrator's metrics observer.
const (
	MetricDuels         = "duels_total"
	MetricDuelRounds    = "duel_rounds_total"
	MetricDuelRound     = "duel_round"
	MetricWeightedTotal = "duel_weighted_total"
	MetricFallbacks     = "duel_fallbacks_total"
)

const namespace = "versus"

// Compile-time verification that PrometheusMetrics implements MetricsCollector.
var _ ports.MetricsCollector = (*PrometheusMetrics)(nil)

// PrometheusMetrics implements ports.MetricsCollector on Prometheus. Known
// metric names map onto dedicated vectors; anything else lands in generic
// vectors labelled with the metric name.
type PrometheusMetrics struct {
	llmRequests *prometheus.CounterVec
	llmLatency  *prometheus.HistogramVec
	llmTokens   *prometheus.CounterVec

	duels         *prometheus.CounterVec
	rounds        *prometheus.CounterVec
	roundLatency  *prometheus.HistogramVec
	weightedTotal *prometheus.HistogramVec
	fallbacks     *prometheus.CounterVec

	budgetExceeded *prometheus.CounterVec
	budgetGauges   *prometheus.GaugeVec

	operationLatency *prometheus.HistogramVec
	operationCounter *prometheus.CounterVec
	operationGauges  *prometheus.GaugeVec
	observations     *prometheus.HistogramVec
}

// NewPrometheusMetrics creates the collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	factory := promauto.With(reg)
	return &PrometheusMetrics{
		llmRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      llm.MetricLLMRequests,
			Help:      "Generation requests by provider, model and outcome.",
		}, []string{"provider", "model", "status"}),
		llmLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      llm.MetricLLMLatency,
			Help:      "Generation request latency.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32, 64},
		}, []string{"provider", "model", "status"}),
		llmTokens: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      llm.MetricLLMTokens,
			Help:      "Tokens reported by providers.",
		}, []string{"provider", "model", "token_type"}),

		duels: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      MetricDuels,
			Help:      "Finished duels by outcome.",
		}, []string{"outcome"}),
		rounds: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      MetricDuelRounds,
			Help:      "Rounds played by status.",
		}, []string{"status"}),
		roundLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      MetricDuelRound + "_duration_seconds",
			Help:      "Wall time of one round, both poets and the judge.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 9),
		}, []string{"status"}),
		weightedTotal: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      MetricWeightedTotal,
			Help:      "Weighted rubric totals awarded per persona.",
			Buckets:   prometheus.LinearBuckets(1, 1, 10),
		}, []string{"persona"}),
		fallbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      MetricFallbacks,
			Help:      "Fallback outcomes substituted for unusable model output.",
		}, []string{"agent"}),

		budgetExceeded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      MetricBudgetExceeded,
			Help:      "Stages refused or stopped because the duel budget ran out.",
		}, []string{"limit_type", "unit"}),
		budgetGauges: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "budget_state",
			Help:      "Most recent budget usage and remaining allowance.",
		}, []string{"metric", "budget_limit"}),

		operationLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Latency of other operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		operationCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Counters without a dedicated metric.",
		}, []string{"metric"}),
		operationGauges: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "gauges",
			Help:      "Gauges without a dedicated metric.",
		}, []string{"metric"}),
		observations: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "observations",
			Help:      "Histogram values without a dedicated metric.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"metric"}),
	}
}

// RecordLatency observes duration in seconds.
func (pm *PrometheusMetrics) RecordLatency(operation string, duration time.Duration, labels map[string]string) {
	switch operation {
	case MetricDuelRound:
		pm.roundLatency.WithLabelValues(label(labels, "status")).Observe(duration.Seconds())
	case llm.MetricLLMLatency:
		pm.llmLatency.WithLabelValues(label(labels, "provider"), label(labels, "model"), label(labels, "status")).
			Observe(duration.Seconds())
	default:
		pm.operationLatency.WithLabelValues(operation).Observe(duration.Seconds())
	}
}

// RecordCounter adds value to a counter.
func (pm *PrometheusMetrics) RecordCounter(metric string, value float64, labels map[string]string) {
	switch metric {
	case llm.MetricLLMRequests:
		pm.llmRequests.WithLabelValues(label(labels, "provider"), label(labels, "model"), label(labels, "status")).Add(value)
	case llm.MetricLLMTokens:
		pm.llmTokens.WithLabelValues(label(labels, "provider"), label(labels, "model"), label(labels, "token_type")).Add(value)
	case MetricDuels:
		pm.duels.WithLabelValues(label(labels, "outcome")).Add(value)
	case MetricDuelRounds:
		pm.rounds.WithLabelValues(label(labels, "status")).Add(value)
	case MetricFallbacks:
		pm.fallbacks.WithLabelValues(label(labels, "agent")).Add(value)
	case MetricBudgetExceeded:
		pm.budgetExceeded.WithLabelValues(label(labels, "limit_type"), label(labels, "unit")).Add(value)
	default:
		pm.operationCounter.WithLabelValues(metric).Add(value)
	}
}

// RecordGauge sets a gauge.
func (pm *PrometheusMetrics) RecordGauge(metric string, value float64, labels map[string]string) {
	switch metric {
	case MetricBudgetTokensUsed, MetricBudgetCallsUsed, MetricBudgetRemainingToken, MetricBudgetRemainingCalls:
		pm.budgetGauges.WithLabelValues(metric, label(labels, "budget_limit")).Set(value)
	default:
		pm.operationGauges.WithLabelValues(metric).Set(value)
	}
}

// RecordHistogram observes value.
func (pm *PrometheusMetrics) RecordHistogram(metric string, value float64, labels map[string]string) {
	switch metric {
	case llm.MetricLLMLatency:
		pm.llmLatency.WithLabelValues(label(labels, "provider"), label(labels, "model"), label(labels, "status")).Observe(value)
	case MetricWeightedTotal:
		pm.weightedTotal.WithLabelValues(label(labels, "persona")).Observe(value)
	default:
		pm.observations.WithLabelValues(metric).Observe(value)
	}
}

func label(labels map[string]string, key string) string {
	if v, ok := labels[key]; ok && v != "" {
		return v
	}
	return "unknown"
}
