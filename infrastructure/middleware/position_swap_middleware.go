package middleware

import (
	"context"
	"fmt"
	"math"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/go-versus/internal/domain"
	"github.com/ahrav/go-versus/internal/ports"
)

var _ ports.Unit = (*PositionSwapMiddleware)(nil)

// PositionSwapMiddleware reduces slot bias by running the wrapped judge
// stage twice, the second time with the candidates and the pairing
// swapped. Per-criterion scores are averaged back onto the original slots
// and the totals recomputed from the rubric. The runs must agree on a
// winner, otherwise the round is a declared tie decided by totals.
type PositionSwapMiddleware struct {
	next   ports.Unit
	rubric domain.Rubric
}

// NewPositionSwapMiddleware wraps a judge stage.
func NewPositionSwapMiddleware(next ports.Unit, rubric domain.Rubric) *PositionSwapMiddleware {
	if next == nil {
		panic("position swap middleware: next unit is required")
	}
	return &PositionSwapMiddleware{next: next, rubric: rubric}
}

// Name returns the wrapped stage's name.
func (psm *PositionSwapMiddleware) Name() string { return psm.next.Name() }

func (psm *PositionSwapMiddleware) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := otel.Tracer("github.com/ahrav/go-versus/position-swap").Start(ctx, name)
	span.SetAttributes(attribute.String("unit.name", psm.next.Name()))
	span.SetAttributes(attrs...)
	return ctx, span
}

// Execute judges both slot orders and writes the combined judgment.
func (psm *PositionSwapMiddleware) Execute(ctx context.Context, state domain.State) (domain.State, error) {
	ctx, span := psm.startSpan(ctx, "PositionSwapMiddleware.Execute")
	defer span.End()

	candidates, ok := domain.Get(state, domain.KeyCandidates)
	if !ok || len(candidates) != 2 {
		err := fmt.Errorf("position swap: expected 2 candidates, got %d", len(candidates))
		span.SetStatus(codes.Error, err.Error())
		return state, err
	}
	pairing, ok := domain.Get(state, domain.KeyPairing)
	if !ok {
		err := fmt.Errorf("position swap: pairing not found in state with key %s", domain.KeyPairing.Name())
		span.SetStatus(codes.Error, err.Error())
		return state, err
	}

	first, err := psm.run(ctx, state, 0)
	if err != nil {
		return first, fmt.Errorf("first execution failed: %w", err)
	}

	swapped := domain.With(first, domain.KeyCandidates, []domain.Verse{candidates[domain.SlotB], candidates[domain.SlotA]})
	swapped = domain.With(swapped, domain.KeyPairing, pairing.Swapped())
	second, err := psm.run(ctx, swapped, 1)
	if err != nil {
		return second, fmt.Errorf("second execution failed: %w", err)
	}

	combined, fallback, err := psm.combine(first, second)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return second, err
	}

	result := domain.With(second, domain.KeyCandidates, candidates)
	result = domain.With(result, domain.KeyPairing, pairing)
	result = domain.With(result, domain.KeyJudgment, &combined)
	result = domain.With(result, domain.KeyJudgeFallback, fallback)

	span.AddEvent("position_swap.combined", trace.WithAttributes(
		attribute.String("winner", combined.Winner),
		attribute.Float64("total_a", combined.TotalA),
		attribute.Float64("total_b", combined.TotalB),
	))
	span.SetStatus(codes.Ok, "")
	return result, nil
}

func (psm *PositionSwapMiddleware) run(ctx context.Context, state domain.State, runIndex int) (domain.State, error) {
	ctx, span := psm.startSpan(ctx, fmt.Sprintf("PositionSwapMiddleware.Run%d", runIndex),
		attribute.Int("run_index", runIndex))
	defer span.End()

	result, err := psm.next.Execute(ctx, state)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return result, err
	}
	span.SetStatus(codes.Ok, "")
	return result, nil
}

// combine maps the second run's scores back onto the original slots and
// averages them with the first run's.
func (psm *PositionSwapMiddleware) combine(first, second domain.State) (domain.Judgment, bool, error) {
	j1, ok1 := domain.Get(first, domain.KeyJudgment)
	j2, ok2 := domain.Get(second, domain.KeyJudgment)
	if !ok1 || !ok2 || j1 == nil || j2 == nil {
		return domain.Judgment{}, false, fmt.Errorf("position swap: judgment not found in execution results")
	}
	fb1, _ := domain.Get(first, domain.KeyJudgeFallback)
	fb2, _ := domain.Get(second, domain.KeyJudgeFallback)

	scoresA := meanScores(psm.rubric, j1.ScoresA, j2.ScoresB)
	scoresB := meanScores(psm.rubric, j1.ScoresB, j2.ScoresA)

	winner := domain.TieSentinel
	if j1.Winner == j2.Winner {
		winner = j1.Winner
	}

	verdict := j1.Verdict
	if j1.Winner != j2.Winner {
		verdict = fmt.Sprintf("Judges disagreed across slot orders (%s, then %s). %s", j1.Winner, j2.Winner, j1.Verdict)
	}

	return domain.NewJudgment(psm.rubric, j1.NameA, j1.NameB, scoresA, scoresB,
		j1.ReasoningA, j1.ReasoningB, winner, verdict), fb1 || fb2, nil
}

// meanScores averages two score maps per criterion, rounding half up.
func meanScores(r domain.Rubric, x, y map[string]int) map[string]int {
	out := make(map[string]int, len(r.Keys()))
	for _, key := range r.Keys() {
		out[key] = int(math.Round(float64(x[key]+y[key]) / 2))
	}
	return out
}

// Validate delegates to the wrapped stage.
func (psm *PositionSwapMiddleware) Validate() error {
	if len(psm.rubric.Criteria()) == 0 {
		return fmt.Errorf("position swap: rubric is required")
	}
	if err := psm.next.Validate(); err != nil {
		return fmt.Errorf("wrapped unit validation failed: %w", err)
	}
	return nil
}
