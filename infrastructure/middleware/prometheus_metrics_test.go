package middleware

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-versus/infrastructure/llm"
	"github.com/ahrav/go-versus/internal/domain"
)

func TestNewPrometheusMetrics_RegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	pm := NewPrometheusMetrics(reg)

	pm.RecordCounter(MetricDuelRounds, 1, map[string]string{"status": "accepted"})

	families, err := reg.Gather()
	require.NoError(t, err)
	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "versus_duel_rounds_total")

	assert.Panics(t, func() { NewPrometheusMetrics(reg) }, "duplicate registration is rejected")
}

func TestNewPrometheusMetrics_NilRegistererDoesNotRegister(t *testing.T) {
	assert.NotPanics(t, func() {
		NewPrometheusMetrics(nil)
		NewPrometheusMetrics(nil)
	})
}

func TestPrometheusMetrics_RecordCounter(t *testing.T) {
	pm := NewPrometheusMetrics(nil)

	labels := map[string]string{"provider": "openai", "model": "gpt-4o", "status": "success"}
	pm.RecordCounter(llm.MetricLLMRequests, 1, labels)
	pm.RecordCounter(llm.MetricLLMRequests, 1, labels)
	pm.RecordCounter(llm.MetricLLMTokens, 120, map[string]string{"provider": "openai", "model": "gpt-4o", "token_type": "input"})
	pm.RecordCounter(MetricDuelRounds, 1, map[string]string{"status": "skipped"})
	pm.RecordCounter(MetricFallbacks, 2, map[string]string{"agent": "poet"})
	pm.RecordCounter(MetricBudgetExceeded, 1, map[string]string{"limit_type": "calls", "unit": "judge"})
	pm.RecordCounter(MetricDuels, 1, nil)
	pm.RecordCounter("something_else", 3, nil)

	assert.InDelta(t, 2, testutil.ToFloat64(pm.llmRequests.WithLabelValues("openai", "gpt-4o", "success")), 1e-9)
	assert.InDelta(t, 120, testutil.ToFloat64(pm.llmTokens.WithLabelValues("openai", "gpt-4o", "input")), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(pm.rounds.WithLabelValues("skipped")), 1e-9)
	assert.InDelta(t, 2, testutil.ToFloat64(pm.fallbacks.WithLabelValues("poet")), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(pm.budgetExceeded.WithLabelValues("calls", "judge")), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(pm.duels.WithLabelValues("unknown")), 1e-9, "missing labels become unknown")
	assert.InDelta(t, 3, testutil.ToFloat64(pm.operationCounter.WithLabelValues("something_else")), 1e-9)
}

func TestPrometheusMetrics_RecordGauge(t *testing.T) {
	pm := NewPrometheusMetrics(nil)

	pm.RecordGauge(MetricBudgetCallsUsed, 7, map[string]string{"budget_limit": "calls_only"})
	pm.RecordGauge(MetricBudgetCallsUsed, 9, map[string]string{"budget_limit": "calls_only"})
	pm.RecordGauge("active_duels", 2, nil)

	assert.InDelta(t, 9, testutil.ToFloat64(pm.budgetGauges.WithLabelValues(MetricBudgetCallsUsed, "calls_only")), 1e-9)
	assert.InDelta(t, 2, testutil.ToFloat64(pm.operationGauges.WithLabelValues("active_duels")), 1e-9)
}

func TestPrometheusMetrics_Histograms(t *testing.T) {
	pm := NewPrometheusMetrics(nil)

	pm.RecordHistogram(llm.MetricLLMLatency, 1.5, map[string]string{"provider": "anthropic", "model": "claude", "status": "success"})
	pm.RecordHistogram(MetricWeightedTotal, 7.6, map[string]string{"persona": "Aurora"})
	pm.RecordHistogram("other", 1, nil)
	pm.RecordLatency(MetricDuelRound, 3*time.Second, map[string]string{"status": "accepted"})
	pm.RecordLatency(MetricBudgetStage, time.Second, nil)

	assert.Equal(t, 1, testutil.CollectAndCount(pm.llmLatency))
	assert.Equal(t, 1, testutil.CollectAndCount(pm.weightedTotal))
	assert.Equal(t, 1, testutil.CollectAndCount(pm.observations))
	assert.Equal(t, 1, testutil.CollectAndCount(pm.roundLatency))
	assert.Equal(t, 1, testutil.CollectAndCount(pm.operationLatency))
}

func TestOTelBudgetObserver_RecordsMetrics(t *testing.T) {
	pm := NewPrometheusMetrics(nil)
	observer := NewOTelBudgetObserver(pm)
	budget := Budget{MaxTokens: 1000, MaxCalls: 10}

	ctx := observer.PreCheck(context.Background(), domain.Usage{Tokens: 950, Calls: 9}, budget)
	observer.PostCheck(ctx, domain.Usage{Tokens: 980, Calls: 10}, budget, time.Millisecond, nil)

	assert.InDelta(t, 10, testutil.ToFloat64(pm.budgetGauges.WithLabelValues(MetricBudgetCallsUsed, "tokens_and_calls")), 1e-9)
	assert.InDelta(t, 20, testutil.ToFloat64(pm.budgetGauges.WithLabelValues(MetricBudgetRemainingToken, "tokens_and_calls")), 1e-9)
	assert.InDelta(t, 0, testutil.ToFloat64(pm.budgetGauges.WithLabelValues(MetricBudgetRemainingCalls, "tokens_and_calls")), 1e-9)
	assert.Equal(t, 1, testutil.CollectAndCount(pm.operationLatency))

	t.Run("budget_exceeded", func(t *testing.T) {
		ctx := observer.PreCheck(context.Background(), domain.Usage{Calls: 9}, budget)
		observer.PostCheck(ctx, domain.Usage{Calls: 11}, budget, time.Millisecond,
			domain.NewBudgetExceededError("calls", 10, 11, "contest"))

		assert.InDelta(t, 1, testutil.ToFloat64(pm.budgetExceeded.WithLabelValues("calls", "contest")), 1e-9)
	})
}

func TestBudgetLimitLabel(t *testing.T) {
	assert.Equal(t, "tokens_and_calls", budgetLimitLabel(Budget{MaxTokens: 1, MaxCalls: 1}))
	assert.Equal(t, "tokens_only", budgetLimitLabel(Budget{MaxTokens: 1}))
	assert.Equal(t, "calls_only", budgetLimitLabel(Budget{MaxCalls: 1}))
	assert.Equal(t, "unlimited", budgetLimitLabel(Budget{}))
	assert.True(t, Budget{}.Unlimited())
}
