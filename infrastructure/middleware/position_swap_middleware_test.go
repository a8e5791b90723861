package middleware

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-versus/internal/domain"
	"github.com/ahrav/go-versus/internal/testutils"
)

// biasedMockJudge always prefers whichever verse sits in slot A, scoring
// it firstScore on every criterion and the other verse otherScore.
type biasedMockJudge struct {
	rubric     domain.Rubric
	firstScore int
	otherScore int
	err        error

	mu        sync.Mutex
	callCount int
	seenA     []string
}

func (b *biasedMockJudge) Name() string { return "judge" }

func (b *biasedMockJudge) Execute(_ context.Context, state domain.State) (domain.State, error) {
	b.mu.Lock()
	b.callCount++
	b.mu.Unlock()
	if b.err != nil {
		return state, b.err
	}

	pairing, _ := domain.Get(state, domain.KeyPairing)
	candidates, _ := domain.Get(state, domain.KeyCandidates)
	b.mu.Lock()
	b.seenA = append(b.seenA, candidates[domain.SlotA].Line)
	b.mu.Unlock()

	j := domain.NewJudgment(b.rubric, pairing.A.Name, pairing.B.Name,
		b.rubric.UniformScores(b.firstScore), b.rubric.UniformScores(b.otherScore),
		"first", "second", pairing.A.Name, "slot A is always better")
	next := domain.With(state, domain.KeyJudgment, &j)
	next = domain.With(next, domain.KeyJudgeFallback, false)
	return next.UpdateBudgetUsage(domain.Usage{Tokens: 10, Calls: 1}), nil
}

func (b *biasedMockJudge) Validate() error { return nil }

func swapState(t *testing.T) domain.State {
	t.Helper()
	aurora, echo := testutils.Personas()
	state := domain.NewRoundState(domain.RoundContext{
		Round:    1,
		Document: "doc",
		Pairing:  domain.Pairing{A: aurora, B: echo},
	})
	return domain.With(state, domain.KeyCandidates, []domain.Verse{
		{Line: "aurora line", Author: aurora},
		{Line: "echo line", Author: echo},
	})
}

func TestPositionSwapMiddleware_CancelsSlotBias(t *testing.T) {
	// Given a judge that always favors slot A
	rubric := testutils.Rubric(t)
	judge := &biasedMockJudge{rubric: rubric, firstScore: 9, otherScore: 5}
	psm := NewPositionSwapMiddleware(judge, rubric)

	// When the stage runs through the middleware
	result, err := psm.Execute(context.Background(), swapState(t))

	// Then both orders were judged and the bias averages out to a tie
	require.NoError(t, err)
	assert.Equal(t, 2, judge.callCount)
	assert.Equal(t, []string{"aurora line", "echo line"}, judge.seenA)

	j, ok := domain.Get(result, domain.KeyJudgment)
	require.True(t, ok)
	assert.Equal(t, "Aurora", j.NameA)
	assert.Equal(t, domain.TieSentinel, j.Winner)
	assert.Equal(t, 7, j.ScoresA["coherence"])
	assert.Equal(t, 7, j.ScoresB["coherence"])
	assert.InDelta(t, j.TotalA, j.TotalB, 1e-9)
	assert.Equal(t, domain.SlotA, j.AcceptedSlot(), "an exact tie keeps slot A")
	assert.Contains(t, j.Verdict, "disagreed")

	candidates, _ := domain.Get(result, domain.KeyCandidates)
	assert.Equal(t, "aurora line", candidates[domain.SlotA].Line, "original slot order is restored")
	pairing, _ := domain.Get(result, domain.KeyPairing)
	assert.Equal(t, "Aurora", pairing.A.Name)
	assert.Equal(t, domain.Usage{Tokens: 20, Calls: 2}, result.GetBudgetUsage())
}

func TestPositionSwapMiddleware_AgreeingRunsKeepWinner(t *testing.T) {
	rubric := testutils.Rubric(t)
	consistent := &consistentJudge{rubric: rubric, favorite: "Echo"}
	psm := NewPositionSwapMiddleware(consistent, rubric)

	result, err := psm.Execute(context.Background(), swapState(t))

	require.NoError(t, err)
	j, _ := domain.Get(result, domain.KeyJudgment)
	assert.Equal(t, "Echo", j.Winner)
	assert.Equal(t, domain.SlotB, j.AcceptedSlot())
	assert.InDelta(t, 8.0, j.TotalB, 1e-9)
	assert.InDelta(t, 4.0, j.TotalA, 1e-9)
}

// consistentJudge scores the favorite persona 8 and the other 4 regardless
// of slot.
type consistentJudge struct {
	rubric   domain.Rubric
	favorite string
}

func (c *consistentJudge) Name() string    { return "judge" }
func (c *consistentJudge) Validate() error { return nil }

func (c *consistentJudge) Execute(_ context.Context, state domain.State) (domain.State, error) {
	pairing, _ := domain.Get(state, domain.KeyPairing)
	score := func(name string) int {
		if name == c.favorite {
			return 8
		}
		return 4
	}
	j := domain.NewJudgment(c.rubric, pairing.A.Name, pairing.B.Name,
		c.rubric.UniformScores(score(pairing.A.Name)), c.rubric.UniformScores(score(pairing.B.Name)),
		"", "", c.favorite, "")
	return domain.With(state, domain.KeyJudgment, &j), nil
}

func TestPositionSwapMiddleware_Errors(t *testing.T) {
	rubric := testutils.Rubric(t)

	t.Run("wrapped_failure", func(t *testing.T) {
		boom := errors.New("judge down")
		psm := NewPositionSwapMiddleware(&biasedMockJudge{rubric: rubric, err: boom}, rubric)
		_, err := psm.Execute(context.Background(), swapState(t))
		assert.ErrorIs(t, err, boom)
		assert.ErrorContains(t, err, "first execution failed")
	})

	t.Run("missing_candidates", func(t *testing.T) {
		psm := NewPositionSwapMiddleware(&biasedMockJudge{rubric: rubric}, rubric)
		_, err := psm.Execute(context.Background(), domain.NewState())
		assert.ErrorContains(t, err, "expected 2 candidates")
	})

	t.Run("nil_next_panics", func(t *testing.T) {
		assert.Panics(t, func() { NewPositionSwapMiddleware(nil, rubric) })
	})

	t.Run("validate", func(t *testing.T) {
		assert.NoError(t, NewPositionSwapMiddleware(&biasedMockJudge{}, rubric).Validate())
		assert.ErrorContains(t, NewPositionSwapMiddleware(&biasedMockJudge{}, domain.Rubric{}).Validate(), "rubric is required")
	})
}

func TestMeanScores(t *testing.T) {
	rubric := testutils.Rubric(t)
	x := rubric.UniformScores(8)
	y := rubric.UniformScores(5)

	got := meanScores(rubric, x, y)

	for _, k := range rubric.Keys() {
		assert.Equal(t, 7, got[k], "6.5 rounds half up to 7 for %s", k)
	}
}
