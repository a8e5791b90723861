package units

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-versus/internal/domain"
	"github.com/ahrav/go-versus/internal/ports"
	"github.com/ahrav/go-versus/internal/testutils"
)

func newTestJudge(t *testing.T, client ports.LLMClient, mutate ...func(*JudgeConfig)) *JudgeUnit {
	t.Helper()
	config := DefaultJudgeConfig()
	for _, m := range mutate {
		m(&config)
	}
	judge, err := NewJudgeUnit("judge", testutils.Rubric(t), client, config, nil)
	require.NoError(t, err)
	return judge
}

func TestNewJudgeUnit_Validation(t *testing.T) {
	client := testutils.NewMockLLMClient("gpt-4o")
	rubric := testutils.Rubric(t)

	tests := []struct {
		name    string
		unit    string
		client  ports.LLMClient
		rubric  domain.Rubric
		config  JudgeConfig
		wantErr string
	}{
		{"empty_name", "", client, rubric, DefaultJudgeConfig(), "unit name cannot be empty"},
		{"nil_client", "j", nil, rubric, DefaultJudgeConfig(), "LLM client cannot be nil"},
		{"empty_rubric", "j", client, domain.Rubric{}, DefaultJudgeConfig(), "rubric has no criteria"},
		{"bad_json_mode", "j", client, rubric, func() JudgeConfig {
			c := DefaultJudgeConfig()
			c.JSONMode = "sometimes"
			return c
		}(), "configuration validation failed"},
		{"bad_system_template", "j", client, rubric, func() JudgeConfig {
			c := DefaultJudgeConfig()
			c.SystemTemplate = "{{range .Criteria}}"
			return c
		}(), "failed to parse judgeSystem template"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewJudgeUnit(tt.unit, tt.rubric, tt.client, tt.config, nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestJudgeUnit_SystemPromptListsRubric(t *testing.T) {
	client := testutils.NewMockLLMClient("claude-3-5-sonnet")
	judge := newTestJudge(t, client)

	_, err := judge.JudgeVerses(context.Background(), "doc", "[Starting the poem]", "a", "b", "Aurora", "Echo")
	require.NoError(t, err)

	system, _ := client.Calls()[0].Options["system"].(string)
	assert.Contains(t, system, "You will score each verse on 5 dimensions (1-10 scale):")
	assert.Contains(t, system, "1. FACTUAL GROUNDING (25% weight): How well the verse connects to actual document content")
	assert.Contains(t, system, "5. EMOTIONAL IMPACT (15% weight)")

	prompt := client.Calls()[0].Prompt
	assert.Contains(t, prompt, "VERSE A - by Aurora:\na")
	assert.Contains(t, prompt, "VERSE B - by Echo:\nb")
	assert.Contains(t, prompt, `"factual_grounding": <1-10>`)
	assert.Contains(t, prompt, `"winner": "Aurora" or "Echo"`)
}

func TestJudgeUnit_JudgeVerses(t *testing.T) {
	client := testutils.NewMockLLMClient("gpt-4o")
	client.AddResponse(testutils.MockResponse{
		Pattern: testutils.JudgePromptMarker,
		Response: `{"verse_a_scores": {"factual_grounding": 9, "poetic_quality": 8, "coherence": 7, "originality": 7, "emotional_impact": 7},
 "verse_b_scores": {"factual_grounding": 6, "poetic_quality": "7", "coherence": 6.4, "originality": 8, "emotional_impact": 6},
 "verse_a_reasoning": "Grounded.", "verse_b_reasoning": "Vivid but loose.",
 "winner": "Aurora", "final_verdict": "A is closer to the text."}`,
	})
	judge := newTestJudge(t, client)

	out, err := judge.JudgeVerses(context.Background(), "doc", "[Starting the poem]", "a", "b", "Aurora", "Echo")

	require.NoError(t, err)
	assert.False(t, out.Fallback)
	got := out.Value
	assert.Equal(t, "Aurora", got.Winner)
	assert.Equal(t, 6, got.ScoresB["coherence"])
	assert.Equal(t, 7, got.ScoresB["poetic_quality"])
	// 9*.25 + 8*.2 + 7*.2 + 7*.2 + 7*.15
	assert.InDelta(t, 7.70, got.TotalA, 1e-9)
	// 6*.25 + 7*.2 + 6*.2 + 8*.2 + 6*.15
	assert.InDelta(t, 6.60, got.TotalB, 1e-9)
	assert.Equal(t, "A is closer to the text.", got.Verdict)
	assert.Equal(t, int64(1), out.Usage.Calls)

	require.Len(t, judge.Log(), 1)
	stats := judge.Statistics()
	require.NotNil(t, stats)
	assert.Equal(t, map[string]int{"Aurora": 1, "Echo": 0}, stats.Wins)
}

func TestJudgeUnit_TotalsIgnoreModelArithmetic(t *testing.T) {
	// Given a response whose scores are all integers and a rubric total that
	// must come from the weights alone.
	client := testutils.NewMockLLMClient("gpt-4o")
	client.AddResponse(testutils.MockResponse{
		Pattern: testutils.JudgePromptMarker,
		Response: `{"verse_a_scores": {"factual_grounding": 8, "poetic_quality": 7, "coherence": 9, "originality": 6, "emotional_impact": 8},
 "verse_b_scores": {"factual_grounding": 5, "poetic_quality": 5, "coherence": 5, "originality": 5, "emotional_impact": 5},
 "verse_a_reasoning": "r", "verse_b_reasoning": "r", "total_a": 99,
 "winner": "Aurora", "final_verdict": "v"}`,
	})
	judge := newTestJudge(t, client)

	// When the verses are judged
	out, err := judge.JudgeVerses(context.Background(), "doc", "", "a", "b", "Aurora", "Echo")

	// Then the total is 8*.25 + 7*.2 + 9*.2 + 6*.2 + 8*.15
	require.NoError(t, err)
	assert.InDelta(t, 7.60, out.Value.TotalA, 1e-9)
	assert.InDelta(t, 5.00, out.Value.TotalB, 1e-9)
}

func TestJudgeUnit_FallbackJudgments(t *testing.T) {
	valid := func(mutate string) string {
		return fmt.Sprintf(`{"verse_a_scores": {%s}, "verse_b_scores": {"factual_grounding": 5, "poetic_quality": 5, "coherence": 5, "originality": 5, "emotional_impact": 5},
 "verse_a_reasoning": "r", "verse_b_reasoning": "r", "winner": "Aurora", "final_verdict": "v"}`, mutate)
	}

	tests := []struct {
		name       string
		response   string
		wantReason string
	}{
		{"prose_only", "Verse A is better in every way.", ReasonNoJSON},
		{"truncated", `{"verse_a_scores": {"factual_grounding": 8`, ReasonNoJSON},
		{"wrong_types", `{"verse_a_scores": "high", "verse_b_scores": {}}`, ReasonInvalidJSON},
		{"missing_reasoning", `{"verse_a_scores": {}, "verse_b_scores": {}, "winner": "Aurora"}`, ReasonInvalidJSON},
		{"missing_criterion", valid(`"factual_grounding": 8`), ReasonInvalidScores},
		{"score_out_of_range", valid(`"factual_grounding": 11, "poetic_quality": 5, "coherence": 5, "originality": 5, "emotional_impact": 5`), ReasonInvalidScores},
		{"score_not_numeric", valid(`"factual_grounding": "great", "poetic_quality": 5, "coherence": 5, "originality": 5, "emotional_impact": 5`), ReasonInvalidJSON},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := testutils.NewMockLLMClient("gpt-4o")
			client.AddResponse(testutils.MockResponse{Pattern: testutils.JudgePromptMarker, Response: tt.response})
			judge := newTestJudge(t, client)

			out, err := judge.JudgeVerses(context.Background(), "doc", "", "a", "b", "Aurora", "Echo")

			require.NoError(t, err)
			assert.True(t, out.Fallback)
			assert.Equal(t, tt.wantReason, out.Reason)
			assert.Equal(t, domain.TieSentinel, out.Value.Winner)
			assert.InDelta(t, 5.0, out.Value.TotalA, 1e-9)
			assert.InDelta(t, 5.0, out.Value.TotalB, 1e-9)
			assert.Equal(t, domain.FallbackReasoning, out.Value.ReasoningA)
			assert.Equal(t, domain.FallbackVerdict, out.Value.Verdict)
			assert.Len(t, judge.Log(), 1, "fallback judgments are logged")
		})
	}
}

func TestJudgeUnit_TimeoutFallsBack(t *testing.T) {
	client := testutils.NewMockLLMClient("gpt-4o")
	client.SetHandler(func(ctx context.Context, _ int, _ string, _ map[string]any) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	judge := newTestJudge(t, client, func(c *JudgeConfig) { c.Timeout = 20 * time.Millisecond })

	out, err := judge.JudgeVerses(context.Background(), "doc", "", "a", "b", "Aurora", "Echo")

	require.NoError(t, err)
	assert.True(t, out.Fallback)
	assert.Equal(t, ReasonTimeout, out.Reason)
	assert.True(t, out.Value.IsTie())
}

func TestJudgeUnit_TransportError(t *testing.T) {
	client := testutils.NewMockLLMClient("gpt-4o")
	client.AddResponse(testutils.MockResponse{Pattern: testutils.JudgePromptMarker, Err: ports.ErrRateLimited})
	judge := newTestJudge(t, client)

	_, err := judge.JudgeVerses(context.Background(), "doc", "", "a", "b", "Aurora", "Echo")

	assert.ErrorIs(t, err, ports.ErrRateLimited)
	assert.Empty(t, judge.Log())
	assert.Nil(t, judge.Statistics())
}

func TestJudgeUnit_JSONMode(t *testing.T) {
	tests := []struct {
		name  string
		model string
		mode  string
		want  bool
	}{
		{"auto_openai", "gpt-4o", JSONModeAuto, true},
		{"auto_gemini", "gemini-1.5-pro", JSONModeAuto, true},
		{"auto_claude", "claude-3-5-sonnet", JSONModeAuto, false},
		{"always_claude", "claude-3-5-sonnet", JSONModeAlways, true},
		{"never_openai", "gpt-4o", JSONModeNever, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := testutils.NewMockLLMClient(tt.model)
			judge := newTestJudge(t, client, func(c *JudgeConfig) { c.JSONMode = tt.mode })

			_, err := judge.JudgeVerses(context.Background(), "doc", "", "a", "b", "Aurora", "Echo")

			require.NoError(t, err)
			opts := client.Calls()[0].Options
			_, has := opts["response_format"]
			assert.Equal(t, tt.want, has)
			assert.Equal(t, DefaultJudgeTemperature, opts["temperature"])
		})
	}
}

func TestJudgeUnit_Execute(t *testing.T) {
	aurora, echo := testutils.Personas()
	client := testutils.NewMockLLMClient("gpt-4o")
	client.AddResponse(testutils.MockResponse{
		Pattern:  testutils.JudgePromptMarker,
		Response: testutils.JudgeResponse(testutils.DefaultRubricKeys(), 6, 8, "B"),
	})
	judge := newTestJudge(t, client)

	state := domain.NewRoundState(domain.RoundContext{
		Round:         2,
		Document:      "doc",
		AcceptedLines: []string{"first"},
		Pairing:       domain.Pairing{A: echo, B: aurora},
	})
	state = domain.With(state, domain.KeyCandidates, []domain.Verse{
		{Line: "echo line", Source: "s1", Author: echo},
		{Line: "aurora line", Source: "s2", Author: aurora},
	})

	next, err := judge.Execute(context.Background(), state)

	require.NoError(t, err)
	judgment, ok := domain.Get(next, domain.KeyJudgment)
	require.True(t, ok)
	require.NotNil(t, judgment)
	assert.Equal(t, "Aurora", judgment.Winner)
	assert.Equal(t, "Echo", judgment.NameA)
	assert.Equal(t, domain.SlotB, judgment.AcceptedSlot())
	fallback, _ := domain.Get(next, domain.KeyJudgeFallback)
	assert.False(t, fallback)
	assert.Equal(t, int64(1), next.GetBudgetUsage().Calls)
	assert.Empty(t, judge.Log(), "Execute leaves recording to the caller")

	prompt := client.Calls()[0].Prompt
	assert.Contains(t, prompt, "Line 1: first")
	assert.Contains(t, prompt, "VERSE A - by Echo:\necho line\nSOURCE: s1")

	t.Run("missing_candidates", func(t *testing.T) {
		bare := domain.NewRoundState(domain.RoundContext{Round: 1, Document: "doc", Pairing: domain.Pairing{A: echo, B: aurora}})
		_, err := judge.Execute(context.Background(), bare)
		assert.ErrorContains(t, err, "expected 2 candidates")
	})
}

func TestJudgeUnit_RecordAndStatistics(t *testing.T) {
	rubric := testutils.Rubric(t)
	judge := newTestJudge(t, testutils.NewMockLLMClient("gpt-4o"))

	judge.Record(domain.NewJudgment(rubric, "Aurora", "Echo", rubric.UniformScores(8), rubric.UniformScores(6), "", "", "Aurora", ""))
	judge.Record(domain.NewJudgment(rubric, "Echo", "Aurora", rubric.UniformScores(7), rubric.UniformScores(7), "", "", domain.TieSentinel, ""))

	stats := judge.Statistics()
	require.NotNil(t, stats)
	assert.Equal(t, 2, stats.Rounds)
	assert.Equal(t, map[string]int{"Aurora": 1, "Echo": 0}, stats.Wins)
	assert.InDelta(t, 7.5, stats.AverageTotal["Aurora"], 1e-9)
	assert.InDelta(t, 6.5, stats.AverageTotal["Echo"], 1e-9)

	log := judge.Log()
	log[0].Winner = "mutated"
	assert.Equal(t, "Aurora", judge.Log()[0].Winner)
}

func TestResolveWinner(t *testing.T) {
	tests := []struct {
		token string
		want  string
	}{
		{"Aurora", "Aurora"},
		{"Echo", "Echo"},
		{"tie", domain.TieSentinel},
		{"  aurora. ", "Aurora"},
		{`"Echo"`, "Echo"},
		{"**Echo**", "Echo"},
		{"A", "Aurora"},
		{"verse b", "Echo"},
		{"Draw", domain.TieSentinel},
		{"", domain.TieSentinel},
		{"Aurora the Romantic", "Aurora"},
		{"Aurora and Echo", domain.TieSentinel},
		{"Arora", "Aurora"},
		{"Ecko", "Echo"},
		{"Sophocles", domain.TieSentinel},
	}

	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveWinner(tt.token, "Aurora", "Echo"))
		})
	}
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     string
	}{
		{"bare", `{"a": 1}`, `{"a": 1}`},
		{"fenced", "Here you go:\n```json\n{\"a\": 1}\n```\nThanks", `{"a": 1}`},
		{"fence_without_language", "```\n{\"a\": 1}\n```", `{"a": 1}`},
		{"embedded_in_prose", `The result is {"a": {"b": 2}} as requested.`, `{"a": {"b": 2}}`},
		{"braces_in_strings", `{"r": "uses } and { freely", "n": 1} trailing`, `{"r": "uses } and { freely", "n": 1}`},
		{"escaped_quote", `{"r": "say \"}\" once"}`, `{"r": "say \"}\" once"}`},
		{"first_of_two", `{"a": 1} {"b": 2}`, `{"a": 1}`},
		{"none", "no json here", ""},
		{"unbalanced", `{"a": {`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractJSON(tt.response))
		})
	}
}
