package application

import (
	"context"
	"log/slog"

	"github.com/ahrav/go-versus/infrastructure/middleware"
	"github.com/ahrav/go-versus/internal/domain"
	"github.com/ahrav/go-versus/internal/ports"
)

// Observers fans notifications out to several observers in order.
type Observers []ports.DuelObserver

var _ ports.DuelObserver = Observers(nil)

// RoundCompleted notifies every observer.
func (os Observers) RoundCompleted(ctx context.Context, report domain.RoundReport, snapshot domain.Snapshot) {
	for _, o := range os {
		o.RoundCompleted(ctx, report, snapshot)
	}
}

// DuelFinished notifies every observer.
func (os Observers) DuelFinished(ctx context.Context, snapshot domain.Snapshot, err error) {
	for _, o := range os {
		o.DuelFinished(ctx, snapshot, err)
	}
}

// MetricsObserver records round and duel outcomes.
type MetricsObserver struct {
	metrics ports.MetricsCollector
}

var _ ports.DuelObserver = (*MetricsObserver)(nil)

// NewMetricsObserver returns an observer recording into metrics.
func NewMetricsObserver(metrics ports.MetricsCollector) *MetricsObserver {
	return &MetricsObserver{metrics: metrics}
}

// RoundCompleted counts the round, its fallbacks and the awarded totals.
func (m *MetricsObserver) RoundCompleted(_ context.Context, report domain.RoundReport, _ domain.Snapshot) {
	status := map[string]string{"status": string(report.Status)}
	m.metrics.RecordCounter(middleware.MetricDuelRounds, 1, status)

	for _, fb := range report.PoetFallbacks {
		if fb {
			m.metrics.RecordCounter(middleware.MetricFallbacks, 1, map[string]string{"agent": "poet"})
		}
	}
	if report.JudgeFallback {
		m.metrics.RecordCounter(middleware.MetricFallbacks, 1, map[string]string{"agent": "judge"})
	}
	if j := report.Judgment; j != nil {
		m.metrics.RecordHistogram(middleware.MetricWeightedTotal, j.TotalA, map[string]string{"persona": j.NameA})
		m.metrics.RecordHistogram(middleware.MetricWeightedTotal, j.TotalB, map[string]string{"persona": j.NameB})
	}
}

// DuelFinished counts the duel by outcome.
func (m *MetricsObserver) DuelFinished(_ context.Context, snapshot domain.Snapshot, _ error) {
	m.metrics.RecordCounter(middleware.MetricDuels, 1, map[string]string{"outcome": string(snapshot.Status)})
}

// LogObserver writes one structured log line per round and per duel.
type LogObserver struct {
	logger *slog.Logger
}

var _ ports.DuelObserver = (*LogObserver)(nil)

// NewLogObserver returns an observer logging to logger, or slog.Default
// when nil.
func NewLogObserver(logger *slog.Logger) *LogObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogObserver{logger: logger}
}

// RoundCompleted logs the accepted verse or the skip cause.
func (l *LogObserver) RoundCompleted(ctx context.Context, report domain.RoundReport, snapshot domain.Snapshot) {
	if report.Status == domain.RoundSkipped {
		l.logger.WarnContext(ctx, "round completed without a verse",
			"duel_id", snapshot.DuelID,
			"round", report.Round,
			"cause", report.CauseText(),
		)
		return
	}
	attrs := []any{
		"duel_id", snapshot.DuelID,
		"round", report.Round,
		"poem_lines", len(snapshot.Verses),
	}
	if report.Accepted != nil {
		attrs = append(attrs, "author", report.Accepted.Author.Name, "line", report.Accepted.Line)
	}
	l.logger.InfoContext(ctx, "round completed", attrs...)
}

// DuelFinished logs the final statistics.
func (l *LogObserver) DuelFinished(ctx context.Context, snapshot domain.Snapshot, err error) {
	attrs := []any{
		"duel_id", snapshot.DuelID,
		"status", string(snapshot.Status),
		"rounds_attempted", snapshot.RoundsAttempted,
		"verses", len(snapshot.Verses),
	}
	if s := snapshot.Statistics; s != nil {
		attrs = append(attrs, "wins", s.Wins, "average_total", s.AverageTotal)
	}
	if err != nil {
		l.logger.ErrorContext(ctx, "duel finished early", append(attrs, "error", err)...)
		return
	}
	l.logger.InfoContext(ctx, "duel finished", attrs...)
}
