package application

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-versus/infrastructure/middleware"
	"github.com/ahrav/go-versus/internal/domain"
	"github.com/ahrav/go-versus/internal/testutils"
)

type recordedMetric struct {
	kind   string
	name   string
	value  float64
	labels map[string]string
}

// recordingMetrics is a ports.MetricsCollector that keeps every call.
type recordingMetrics struct {
	mu      sync.Mutex
	records []recordedMetric
}

func (r *recordingMetrics) add(kind, name string, value float64, labels map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, recordedMetric{kind: kind, name: name, value: value, labels: labels})
}

func (r *recordingMetrics) RecordLatency(op string, d time.Duration, labels map[string]string) {
	r.add("latency", op, d.Seconds(), labels)
}

func (r *recordingMetrics) RecordCounter(m string, v float64, labels map[string]string) {
	r.add("counter", m, v, labels)
}

func (r *recordingMetrics) RecordGauge(m string, v float64, labels map[string]string) {
	r.add("gauge", m, v, labels)
}

func (r *recordingMetrics) RecordHistogram(m string, v float64, labels map[string]string) {
	r.add("histogram", m, v, labels)
}

func (r *recordingMetrics) named(name string) []recordedMetric {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []recordedMetric
	for _, rec := range r.records {
		if rec.name == name {
			out = append(out, rec)
		}
	}
	return out
}

func acceptedReport(t *testing.T) domain.RoundReport {
	t.Helper()
	aurora, echo := testutils.Personas()
	rubric := testutils.Rubric(t)
	j := domain.NewJudgment(rubric, "Aurora", "Echo", rubric.UniformScores(8), rubric.UniformScores(6), "", "", "Aurora", "")
	verse := domain.Verse{Line: "line", Source: "src", Author: aurora}
	return domain.RoundReport{
		Round:         1,
		Status:        domain.RoundAccepted,
		Pairing:       domain.Pairing{A: aurora, B: echo},
		Accepted:      &verse,
		Judgment:      &j,
		PoetFallbacks: []bool{false, true},
		JudgeFallback: true,
	}
}

func TestObservers_FanOut(t *testing.T) {
	first, second := &testutils.RecordingObserver{}, &testutils.RecordingObserver{}
	obs := Observers{first, second}

	obs.RoundCompleted(context.Background(), acceptedReport(t), domain.Snapshot{DuelID: "d"})
	obs.DuelFinished(context.Background(), domain.Snapshot{DuelID: "d", Status: domain.DuelCompleted}, nil)

	for _, o := range []*testutils.RecordingObserver{first, second} {
		assert.Len(t, o.Reports(), 1)
		final, err := o.Final()
		require.NotNil(t, final)
		assert.NoError(t, err)
	}
}

func TestMetricsObserver(t *testing.T) {
	metrics := &recordingMetrics{}
	obs := NewMetricsObserver(metrics)

	obs.RoundCompleted(context.Background(), acceptedReport(t), domain.Snapshot{})
	obs.RoundCompleted(context.Background(), domain.RoundReport{Round: 2, Status: domain.RoundSkipped}, domain.Snapshot{})
	obs.DuelFinished(context.Background(), domain.Snapshot{Status: domain.DuelTerminated}, errors.New("quota"))

	rounds := metrics.named(middleware.MetricDuelRounds)
	require.Len(t, rounds, 2)
	assert.Equal(t, "accepted", rounds[0].labels["status"])
	assert.Equal(t, "skipped", rounds[1].labels["status"])

	fallbacks := metrics.named(middleware.MetricFallbacks)
	require.Len(t, fallbacks, 2)
	assert.Equal(t, "poet", fallbacks[0].labels["agent"])
	assert.Equal(t, "judge", fallbacks[1].labels["agent"])

	totals := metrics.named(middleware.MetricWeightedTotal)
	require.Len(t, totals, 2)
	assert.Equal(t, "Aurora", totals[0].labels["persona"])
	assert.InDelta(t, 8.0, totals[0].value, 1e-9)
	assert.InDelta(t, 6.0, totals[1].value, 1e-9)

	duels := metrics.named(middleware.MetricDuels)
	require.Len(t, duels, 1)
	assert.Equal(t, "terminated", duels[0].labels["outcome"])
}

func TestLogObserver(t *testing.T) {
	var buf bytes.Buffer
	obs := NewLogObserver(slog.New(slog.NewJSONHandler(&buf, nil)))

	obs.RoundCompleted(context.Background(), acceptedReport(t), domain.Snapshot{DuelID: "d-1"})
	obs.RoundCompleted(context.Background(),
		domain.RoundReport{Round: 2, Status: domain.RoundSkipped, Cause: errors.New("connection reset")},
		domain.Snapshot{DuelID: "d-1"})
	obs.DuelFinished(context.Background(), domain.Snapshot{DuelID: "d-1", Status: domain.DuelCompleted}, nil)

	out := buf.String()
	assert.Contains(t, out, `"msg":"round completed"`)
	assert.Contains(t, out, `"author":"Aurora"`)
	assert.Contains(t, out, `"cause":"connection reset"`)
	assert.Contains(t, out, `"msg":"duel finished"`)
	assert.Contains(t, out, `"duel_id":"d-1"`)
}

func TestDuel_NotifiesMetricsObserver(t *testing.T) {
	loaded, err := newTestLoader(t, nil).Load([]byte(fixedPairing))
	require.NoError(t, err)
	client := testutils.NewMockLLMClient("mock-model")
	metrics := &recordingMetrics{}
	agents, err := NewAgentFactory(client, loaded, middleware.NewOTelBudgetObserver(metrics), nil)
	require.NoError(t, err)
	orch, err := NewOrchestrator(loaded, agents, WithObserver(NewMetricsObserver(metrics)))
	require.NoError(t, err)

	duel, err := orch.NewDuel(auroraVsEcho(1))
	require.NoError(t, err)
	_, err = duel.Run(context.Background())
	require.NoError(t, err)

	assert.Len(t, metrics.named(middleware.MetricDuelRounds), 1)
	assert.Len(t, metrics.named(middleware.MetricDuels), 1)
	assert.Len(t, metrics.named(middleware.MetricBudgetStage), 2, "one observation per budgeted stage")
}
