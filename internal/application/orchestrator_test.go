package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-versus/internal/domain"
	"github.com/ahrav/go-versus/internal/ports"
	"github.com/ahrav/go-versus/internal/testutils"
)

const testDocument = "The river rose four meters in a single night and the town rebuilt the bridge in spring."

// harness bundles an orchestrator with its scripted client and recorder.
type harness struct {
	client   *testutils.MockLLMClient
	recorder *testutils.RecordingObserver
	orch     *Orchestrator
}

func newHarness(t *testing.T, yaml string) *harness {
	t.Helper()
	loader := newTestLoader(t, nil)
	loaded, err := loader.Load([]byte(yaml))
	require.NoError(t, err)

	client := testutils.NewMockLLMClient("mock-model")
	agents, err := NewAgentFactory(client, loaded, nil, nil)
	require.NoError(t, err)

	recorder := &testutils.RecordingObserver{}
	var seq int
	var mu sync.Mutex
	orch, err := NewOrchestrator(loaded, agents,
		WithObserver(recorder),
		WithIDGenerator(func() string {
			mu.Lock()
			defer mu.Unlock()
			seq++
			return fmt.Sprintf("duel-%d", seq)
		}),
	)
	require.NoError(t, err)
	return &harness{client: client, recorder: recorder, orch: orch}
}

const fixedPairing = "duel:\n  pairing: fixed\n"

func auroraVsEcho(rounds int) DuelRequest {
	return DuelRequest{PersonaA: "romantic", PersonaB: "modernist", Rounds: roundsOf(rounds), Document: testDocument}
}

func roundsOf(n int) *int { return &n }

// roundOf extracts the round number from a poet prompt, or 0.
func roundOf(prompt string) int {
	var round int
	if i := strings.Index(prompt, testutils.PoetPromptMarker); i >= 0 {
		fmt.Sscanf(prompt[i+len(testutils.PoetPromptMarker):], " %d", &round)
	}
	return round
}

func TestOrchestrator_NewDuelRejectsBeforeAnyCall(t *testing.T) {
	tests := []struct {
		name    string
		req     DuelRequest
		wantErr error
	}{
		{
			name:    "identical_personas",
			req:     DuelRequest{PersonaA: "romantic", PersonaB: "romantic", Rounds: roundsOf(2), Document: testDocument},
			wantErr: domain.ErrIdenticalPersonas,
		},
		{
			name:    "unknown_persona_a",
			req:     DuelRequest{PersonaA: "baroque", PersonaB: "romantic", Rounds: roundsOf(2), Document: testDocument},
			wantErr: domain.ErrUnknownPersona,
		},
		{
			name:    "unknown_persona_b",
			req:     DuelRequest{PersonaA: "romantic", PersonaB: "", Rounds: roundsOf(2), Document: testDocument},
			wantErr: domain.ErrUnknownPersona,
		},
		{
			name:    "too_many_rounds",
			req:     auroraVsEcho(13),
			wantErr: domain.ErrRoundsOutOfRange,
		},
		{
			name:    "zero_rounds",
			req:     auroraVsEcho(0),
			wantErr: domain.ErrRoundsOutOfRange,
		},
		{
			name:    "negative_rounds",
			req:     auroraVsEcho(-1),
			wantErr: domain.ErrRoundsOutOfRange,
		},
		{
			name:    "blank_document",
			req:     DuelRequest{PersonaA: "romantic", PersonaB: "modernist", Rounds: roundsOf(2), Document: " \n\t"},
			wantErr: domain.ErrEmptyDocument,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, "")

			duel, err := h.orch.NewDuel(tt.req)

			require.Error(t, err)
			assert.Nil(t, duel)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
			assert.Zero(t, h.client.CallCount(), "validation must not reach the model")
		})
	}
}

func TestOrchestrator_NewDuelDefaults(t *testing.T) {
	h := newHarness(t, "")

	req := auroraVsEcho(1)
	req.Rounds = nil
	duel, err := h.orch.NewDuel(req)

	require.NoError(t, err)
	assert.Equal(t, "duel-1", duel.ID())
	assert.Equal(t, 2, duel.Rounds(), "unset rounds means the configured default")
	assert.Equal(t, "Aurora", duel.Personas().A.Name)
	assert.Equal(t, domain.DuelRunning, duel.Snapshot().Status)
	assert.Nil(t, duel.Statistics())
	assert.Zero(t, h.client.CallCount())
}

func TestDuel_TwoRoundsWhereAAlwaysWins(t *testing.T) {
	// Given a fixed pairing and a judge that always picks slot A
	h := newHarness(t, fixedPairing)
	duel, err := h.orch.NewDuel(auroraVsEcho(2))
	require.NoError(t, err)

	// When the duel runs to the end
	snapshot, err := duel.Run(context.Background())

	// Then Aurora wrote every line and won every round
	require.NoError(t, err)
	assert.Equal(t, domain.DuelCompleted, snapshot.Status)
	assert.Equal(t, 2, snapshot.RoundsAttempted)
	assert.Equal(t, []string{"Aurora", "Aurora"}, snapshot.Speakers())
	assert.Len(t, snapshot.Judgments, 2)

	require.NotNil(t, snapshot.Statistics)
	assert.Equal(t, 2, snapshot.Statistics.Rounds)
	assert.Equal(t, map[string]int{"Aurora": 2, "Echo": 0}, snapshot.Statistics.Wins)
	assert.Equal(t, snapshot.Statistics, duel.Statistics())

	// Each round asked both poets and the judge once
	assert.Equal(t, 4, h.client.CallsMatching(testutils.PoetPromptMarker))
	assert.Equal(t, 2, h.client.CallsMatching(testutils.JudgePromptMarker))

	reports := h.recorder.Reports()
	require.Len(t, reports, 2)
	for i, r := range reports {
		assert.Equal(t, i+1, r.Round)
		assert.Equal(t, domain.RoundAccepted, r.Status)
		assert.Len(t, r.Candidates, 2)
		assert.Equal(t, []bool{false, false}, r.PoetFallbacks)
		assert.False(t, r.JudgeFallback)
	}
	snapshots := h.recorder.Snapshots()
	assert.Len(t, snapshots[0].Verses, 1, "observers see the poem as of their round")
	assert.Len(t, snapshots[1].Verses, 2)

	final, finalErr := h.recorder.Final()
	require.NotNil(t, final)
	assert.NoError(t, finalErr)
	assert.Equal(t, domain.DuelCompleted, final.Status)

	// And the second round's prompt carried the first accepted line
	var sawContext bool
	for _, c := range h.client.Calls() {
		if roundOf(c.Prompt) == 2 {
			sawContext = sawContext || strings.Contains(c.Prompt, "Line 1: The river keeps the ledger of the rain")
		}
	}
	assert.True(t, sawContext)
}

func TestDuel_NextAfterLastRound(t *testing.T) {
	h := newHarness(t, fixedPairing)
	duel, err := h.orch.NewDuel(auroraVsEcho(1))
	require.NoError(t, err)

	report, err := duel.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.RoundAccepted, report.Status)
	calls := h.client.CallCount()

	_, err = duel.Next(context.Background())
	assert.ErrorIs(t, err, domain.ErrDuelFinished)
	assert.Equal(t, calls, h.client.CallCount())
}

func TestDuel_AlternatePairingSwapsSlots(t *testing.T) {
	// Given the default alternate pairing and a judge that always picks slot A
	h := newHarness(t, "")
	duel, err := h.orch.NewDuel(auroraVsEcho(2))
	require.NoError(t, err)
	assert.Equal(t, "Echo", duel.PairingFor(2).A.Name)

	// When two rounds are played
	snapshot, err := duel.Run(context.Background())

	// Then each persona held slot A once and won that round
	require.NoError(t, err)
	assert.Equal(t, []string{"Aurora", "Echo"}, snapshot.Speakers())
	assert.Equal(t, map[string]int{"Aurora": 1, "Echo": 1}, snapshot.Statistics.Wins)

	reports := h.recorder.Reports()
	require.Len(t, reports, 2)
	assert.Equal(t, "Aurora", reports[0].Pairing.A.Name)
	assert.Equal(t, "Echo", reports[1].Pairing.A.Name)
	assert.Equal(t, "Echo", reports[1].Judgment.NameA)
}

func TestDuel_QuotaTerminatesAndKeepsCompletedRounds(t *testing.T) {
	// Given a provider whose quota runs out during round 2 of 4
	h := newHarness(t, fixedPairing)
	h.client.SetHandler(func(ctx context.Context, _ int, prompt string, _ map[string]any) (string, error) {
		if strings.Contains(prompt, testutils.JudgePromptMarker) {
			return testutils.ResolveWinnerPlaceholder(
				testutils.JudgeResponse(testutils.DefaultRubricKeys(), 8, 6, "A"), prompt), nil
		}
		if roundOf(prompt) >= 2 {
			return "", ports.NewLLMError("mock-model", "Complete", ports.ErrQuotaExceeded)
		}
		return testutils.PoetResponse("First light on the levee", "the river rose"), nil
	})
	duel, err := h.orch.NewDuel(auroraVsEcho(4))
	require.NoError(t, err)

	// When the duel runs
	snapshot, err := duel.Run(context.Background())

	// Then it stops with a quota termination and keeps round 1
	var term *domain.DuelTerminatedError
	require.ErrorAs(t, err, &term)
	assert.Equal(t, domain.TerminationQuota, term.Kind)
	assert.Equal(t, 2, term.Round)
	assert.ErrorIs(t, err, ports.ErrQuotaExceeded)
	assert.NotEmpty(t, term.Remediation())

	assert.Equal(t, domain.DuelTerminated, snapshot.Status)
	assert.Equal(t, []string{"First light on the levee"}, snapshot.Lines())
	assert.Contains(t, snapshot.TerminationReason, "quota")
	assert.Equal(t, 1, h.client.CallsMatching(testutils.JudgePromptMarker), "round 2 never reaches the judge")

	// And no further generation call is made
	calls := h.client.CallCount()
	_, err = duel.Next(context.Background())
	assert.ErrorIs(t, err, domain.ErrDuelFinished)
	_, err = duel.Run(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, calls, h.client.CallCount())

	final, finalErr := h.recorder.Final()
	require.NotNil(t, final)
	assert.ErrorAs(t, finalErr, &term)
	assert.Len(t, h.recorder.Reports(), 1, "the terminated round is not reported as completed")
}

func TestDuel_RateLimitTerminates(t *testing.T) {
	h := newHarness(t, fixedPairing)
	h.client.AddResponse(testutils.MockResponse{
		Pattern: testutils.JudgePromptMarker,
		Err:     fmt.Errorf("judge: %w", ports.ErrRateLimited),
	})
	duel, err := h.orch.NewDuel(auroraVsEcho(2))
	require.NoError(t, err)

	_, err = duel.Next(context.Background())

	var term *domain.DuelTerminatedError
	require.ErrorAs(t, err, &term)
	assert.Equal(t, domain.TerminationQuota, term.Kind)
	assert.Empty(t, duel.Snapshot().Verses)
}

func TestDuel_TransportFaultSkipsRound(t *testing.T) {
	// Given a connection failure for the poets of round 2 only
	h := newHarness(t, fixedPairing)
	h.client.SetHandler(func(ctx context.Context, _ int, prompt string, _ map[string]any) (string, error) {
		if strings.Contains(prompt, testutils.JudgePromptMarker) {
			return testutils.ResolveWinnerPlaceholder(
				testutils.JudgeResponse(testutils.DefaultRubricKeys(), 7, 5, "A"), prompt), nil
		}
		round := roundOf(prompt)
		if round == 2 {
			return "", errors.New("connection reset by peer")
		}
		return testutils.PoetResponse(fmt.Sprintf("line of round %d", round), "the bridge"), nil
	})
	duel, err := h.orch.NewDuel(auroraVsEcho(3))
	require.NoError(t, err)

	// When the duel runs
	snapshot, err := duel.Run(context.Background())

	// Then round 2 is skipped and the duel continues to completion
	require.NoError(t, err)
	assert.Equal(t, domain.DuelCompleted, snapshot.Status)
	assert.Equal(t, 3, snapshot.RoundsAttempted)
	assert.Equal(t, []string{"line of round 1", "line of round 3"}, snapshot.Lines())
	assert.Len(t, snapshot.Judgments, 2)

	reports := h.recorder.Reports()
	require.Len(t, reports, 3)
	assert.Equal(t, domain.RoundSkipped, reports[1].Status)
	assert.Nil(t, reports[1].Accepted)
	assert.Contains(t, reports[1].CauseText(), "connection reset")
	assert.Equal(t, domain.RoundAccepted, reports[2].Status)
}

func TestDuel_BudgetTerminates(t *testing.T) {
	// Given a budget of exactly one round of calls
	h := newHarness(t, fixedPairing+"budget:\n  max_calls: 3\n")
	duel, err := h.orch.NewDuel(auroraVsEcho(3))
	require.NoError(t, err)

	// When the duel runs
	snapshot, err := duel.Run(context.Background())

	// Then round 2 is refused before any call
	var term *domain.DuelTerminatedError
	require.ErrorAs(t, err, &term)
	assert.Equal(t, domain.TerminationBudget, term.Kind)
	assert.Equal(t, 2, term.Round)

	var budgetErr *domain.BudgetExceededError
	require.ErrorAs(t, err, &budgetErr)
	assert.Equal(t, "calls", budgetErr.LimitType)
	assert.Equal(t, StageContest, budgetErr.Unit)

	assert.Len(t, snapshot.Verses, 1)
	assert.Equal(t, 3, h.client.CallCount())
	assert.Equal(t, int64(3), duel.Usage().Calls)
}

func TestDuel_RoundThatOverspendsIsKept(t *testing.T) {
	// Given a swapped judge making two calls and a budget one call short
	h := newHarness(t, fixedPairing+"judge:\n  position_swap: true\nbudget:\n  max_calls: 3\n")
	duel, err := h.orch.NewDuel(auroraVsEcho(2))
	require.NoError(t, err)

	// When the duel runs
	snapshot, err := duel.Run(context.Background())

	// Then round 1 is accepted and round 2 is refused before any call
	var term *domain.DuelTerminatedError
	require.ErrorAs(t, err, &term)
	assert.Equal(t, domain.TerminationBudget, term.Kind)
	assert.Equal(t, 2, term.Round)

	require.Len(t, snapshot.Verses, 1)
	require.Len(t, snapshot.Judgments, 1)
	assert.Equal(t, 4, h.client.CallCount())
}

func TestDuel_UnparseableJudgeFallsBackAndKeepsSlotA(t *testing.T) {
	h := newHarness(t, fixedPairing)
	h.client.AddResponse(testutils.MockResponse{Pattern: testutils.JudgePromptMarker, Response: "I liked them both."})
	duel, err := h.orch.NewDuel(auroraVsEcho(1))
	require.NoError(t, err)

	report, err := duel.Next(context.Background())

	require.NoError(t, err)
	assert.Equal(t, domain.RoundAccepted, report.Status)
	assert.True(t, report.JudgeFallback)
	require.NotNil(t, report.Judgment)
	assert.Equal(t, domain.TieSentinel, report.Judgment.Winner)
	assert.Equal(t, domain.FallbackVerdict, report.Judgment.Verdict)
	assert.Equal(t, "Aurora", report.Accepted.Author.Name, "an exact tie keeps slot A")

	stats := duel.Statistics()
	require.NotNil(t, stats)
	assert.Equal(t, map[string]int{"Aurora": 0, "Echo": 0}, stats.Wins)
}

func TestDuel_DeclaredTieGoesToHigherTotal(t *testing.T) {
	h := newHarness(t, fixedPairing)
	h.client.AddResponse(testutils.MockResponse{
		Pattern:  testutils.JudgePromptMarker,
		Response: testutils.JudgeResponse(testutils.DefaultRubricKeys(), 5, 8, "tie"),
	})
	duel, err := h.orch.NewDuel(auroraVsEcho(1))
	require.NoError(t, err)

	report, err := duel.Next(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "Echo", report.Accepted.Author.Name)
	assert.InDelta(t, 8.0, report.Judgment.TotalB, 1e-9)
}

func TestDuel_CanceledContextTerminates(t *testing.T) {
	h := newHarness(t, fixedPairing)
	duel, err := h.orch.NewDuel(auroraVsEcho(2))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = duel.Next(ctx)

	var term *domain.DuelTerminatedError
	require.ErrorAs(t, err, &term)
	assert.Equal(t, domain.TerminationCanceled, term.Kind)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, domain.DuelTerminated, duel.Snapshot().Status)
	assert.Zero(t, h.client.CallCount())
}

func TestDuel_PositionSwapJudgesTwice(t *testing.T) {
	h := newHarness(t, fixedPairing+"judge:\n  position_swap: true\n")
	duel, err := h.orch.NewDuel(auroraVsEcho(1))
	require.NoError(t, err)

	report, err := duel.Next(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, h.client.CallsMatching(testutils.JudgePromptMarker))
	// The default judge favors slot A, so the two orders disagree.
	assert.Equal(t, domain.TieSentinel, report.Judgment.Winner)
	assert.Equal(t, "Aurora", report.Judgment.NameA)
	assert.Equal(t, "Aurora", report.Accepted.Author.Name)
}

func TestDuel_SnapshotDuringRun(t *testing.T) {
	h := newHarness(t, fixedPairing)
	release := make(chan struct{})
	h.client.SetHandler(func(ctx context.Context, _ int, prompt string, _ map[string]any) (string, error) {
		if strings.Contains(prompt, testutils.JudgePromptMarker) {
			return testutils.ResolveWinnerPlaceholder(
				testutils.JudgeResponse(testutils.DefaultRubricKeys(), 8, 6, "A"), prompt), nil
		}
		if roundOf(prompt) == 2 {
			select {
			case <-release:
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
		return testutils.PoetResponse("steady line", "source"), nil
	})
	duel, err := h.orch.NewDuel(auroraVsEcho(2))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := duel.Run(context.Background())
		done <- err
	}()

	require.Eventually(t, func() bool { return len(duel.Snapshot().Verses) == 1 }, 2*time.Second, 5*time.Millisecond)
	snapshot := duel.Snapshot()
	assert.Equal(t, domain.DuelRunning, snapshot.Status)
	assert.Len(t, snapshot.Judgments, len(snapshot.Verses))

	close(release)
	require.NoError(t, <-done)
	assert.Len(t, duel.Snapshot().Verses, 2)
}
