package middleware

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/go-versus/internal/domain"
	"github.com/ahrav/go-versus/internal/ports"
)

var _ BudgetObserver = (*OTelBudgetObserver)(nil)

// Budget metric names.
const (
	MetricBudgetStage          = "budget_stage"
	MetricBudgetExceeded       = "budget_exceeded_total"
	MetricBudgetTokensUsed     = "budget_tokens_used"
	MetricBudgetCallsUsed      = "budget_calls_used"
	MetricBudgetRemainingToken = "budget_remaining_tokens"
	MetricBudgetRemainingCalls = "budget_remaining_calls"
)

const (
	budgetWarningThreshold  = 0.8
	budgetCriticalThreshold = 0.9
)

// OTelBudgetObserver traces each budgeted stage as a span and mirrors the
// duel's usage into a MetricsCollector. The span travels in the context, so
// one observer serves every duel.
type OTelBudgetObserver struct {
	metrics ports.MetricsCollector
	tracer  trace.Tracer
}

// NewOTelBudgetObserver creates an observer using the global tracer
// provider. metrics may be nil.
func NewOTelBudgetObserver(metrics ports.MetricsCollector) *OTelBudgetObserver {
	return &OTelBudgetObserver{
		metrics: metrics,
		tracer:  otel.Tracer("github.com/ahrav/go-versus/budget"),
	}
}

// PreCheck starts the stage span and flags usage close to a limit.
func (o *OTelBudgetObserver) PreCheck(ctx context.Context, usage domain.Usage, budget Budget) context.Context {
	ctx, span := o.tracer.Start(ctx, "BudgetManager.Execute")
	addSpanAttributes(span, usage, budget)
	checkBudgetThresholds(span, usage, budget)
	return ctx
}

// PostCheck finalizes the span and records usage metrics.
func (o *OTelBudgetObserver) PostCheck(ctx context.Context, usage domain.Usage, budget Budget, elapsed time.Duration, err error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	addSpanAttributes(span, usage, budget)
	labels := map[string]string{"budget_limit": budgetLimitLabel(budget)}
	if o.metrics != nil {
		o.metrics.RecordLatency(MetricBudgetStage, elapsed, labels)
	}

	if err != nil {
		var budgetErr *domain.BudgetExceededError
		if errors.As(err, &budgetErr) {
			span.AddEvent("budget.exceeded", trace.WithAttributes(
				attribute.String("limit_type", budgetErr.LimitType),
				attribute.Int64("limit_value", budgetErr.Limit),
				attribute.Int64("used_value", budgetErr.Used),
				attribute.String("unit", budgetErr.Unit),
			))
			span.SetStatus(codes.Error, "budget limit exceeded")
			if o.metrics != nil {
				o.metrics.RecordCounter(MetricBudgetExceeded, 1, map[string]string{
					"limit_type": budgetErr.LimitType,
					"unit":       budgetErr.Unit,
				})
			}
			return
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}

	span.AddEvent("budget.usage_tracked", trace.WithAttributes(
		attribute.Int64("tokens_consumed", usage.Tokens),
		attribute.Int64("calls_made", usage.Calls),
	))
	o.updateMetrics(usage, budget, labels)
	span.SetStatus(codes.Ok, "")
}

func addSpanAttributes(span trace.Span, usage domain.Usage, budget Budget) {
	span.SetAttributes(
		attribute.Int64("budget.tokens_used", usage.Tokens),
		attribute.Int64("budget.calls_made", usage.Calls),
	)
	if budget.MaxTokens > 0 {
		span.SetAttributes(
			attribute.Int64("budget.max_tokens", budget.MaxTokens),
			attribute.Int64("budget.remaining_tokens", budget.MaxTokens-usage.Tokens),
		)
	}
	if budget.MaxCalls > 0 {
		span.SetAttributes(
			attribute.Int64("budget.max_calls", budget.MaxCalls),
			attribute.Int64("budget.remaining_calls", budget.MaxCalls-usage.Calls),
		)
	}
}

func checkBudgetThresholds(span trace.Span, usage domain.Usage, budget Budget) {
	check := func(resource string, used, limit int64) {
		if limit <= 0 {
			return
		}
		ratio := float64(used) / float64(limit)
		event := ""
		switch {
		case ratio >= budgetCriticalThreshold:
			event = "budget.threshold.critical"
		case ratio >= budgetWarningThreshold:
			event = "budget.threshold.warning"
		default:
			return
		}
		span.AddEvent(event, trace.WithAttributes(
			attribute.String("resource_type", resource),
			attribute.Float64("usage_percentage", ratio*100),
		))
	}
	check("tokens", usage.Tokens, budget.MaxTokens)
	check("calls", usage.Calls, budget.MaxCalls)
}

func (o *OTelBudgetObserver) updateMetrics(usage domain.Usage, budget Budget, labels map[string]string) {
	if o.metrics == nil {
		return
	}
	o.metrics.RecordGauge(MetricBudgetTokensUsed, float64(usage.Tokens), labels)
	o.metrics.RecordGauge(MetricBudgetCallsUsed, float64(usage.Calls), labels)
	if budget.MaxTokens > 0 {
		o.metrics.RecordGauge(MetricBudgetRemainingToken, float64(budget.MaxTokens-usage.Tokens), labels)
	}
	if budget.MaxCalls > 0 {
		o.metrics.RecordGauge(MetricBudgetRemainingCalls, float64(budget.MaxCalls-usage.Calls), labels)
	}
}

func budgetLimitLabel(budget Budget) string {
	switch {
	case budget.MaxTokens > 0 && budget.MaxCalls > 0:
		return "tokens_and_calls"
	case budget.MaxTokens > 0:
		return "tokens_only"
	case budget.MaxCalls > 0:
		return "calls_only"
	}
	return "unlimited"
}
