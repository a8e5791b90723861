package units

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-versus/internal/domain"
	"github.com/ahrav/go-versus/internal/ports"
	"github.com/ahrav/go-versus/internal/testutils"
)

func newTestPoet(t *testing.T, client ports.LLMClient, persona domain.Persona, mutate ...func(*PoetConfig)) *PoetUnit {
	t.Helper()
	config := DefaultPoetConfig()
	for _, m := range mutate {
		m(&config)
	}
	poet, err := NewPoetUnit("poet_"+persona.Key, persona, client, config, nil)
	require.NoError(t, err)
	return poet
}

func TestNewPoetUnit_Validation(t *testing.T) {
	aurora, _ := testutils.Personas()
	client := testutils.NewMockLLMClient("gpt-4o")

	tests := []struct {
		name    string
		unit    string
		client  ports.LLMClient
		persona domain.Persona
		config  PoetConfig
		wantErr string
	}{
		{"empty_name", "", client, aurora, DefaultPoetConfig(), "unit name cannot be empty"},
		{"nil_client", "p", nil, aurora, DefaultPoetConfig(), "LLM client cannot be nil"},
		{"no_persona_name", "p", client, domain.Persona{Key: "x"}, DefaultPoetConfig(), "persona name is required"},
		{"zero_timeout", "p", client, aurora, PoetConfig{Temperature: 0.7, MaxTokens: 100, DocumentLimit: 500}, "configuration validation failed"},
		{"bad_template", "p", client, aurora, func() PoetConfig {
			c := DefaultPoetConfig()
			c.UserTemplate = "{{.Missing"
			return c
		}(), "failed to parse poetUser template"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPoetUnit(tt.unit, tt.persona, tt.client, tt.config, nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestPoetUnit_CreateVerse(t *testing.T) {
	aurora, _ := testutils.Personas()
	client := testutils.NewMockLLMClient("gpt-4o")
	client.AddResponse(testutils.MockResponse{
		Pattern:  testutils.PoetPromptMarker,
		Response: "LINE: Copper bells remember every tide\nSOURCE: the harbor was founded in 1602",
	})
	poet := newTestPoet(t, client, aurora)

	out, err := poet.CreateVerse(context.Background(), "The harbor was founded in 1602.", []string{"First line"}, 2)

	require.NoError(t, err)
	assert.False(t, out.Fallback)
	assert.Equal(t, "Copper bells remember every tide", out.Value.Line)
	assert.Equal(t, "the harbor was founded in 1602", out.Value.Source)
	assert.Equal(t, aurora, out.Value.Author)
	assert.Equal(t, int64(1), out.Usage.Calls)
	assert.Positive(t, out.Usage.Tokens)

	calls := client.Calls()
	require.Len(t, calls, 1)
	prompt := calls[0].Prompt
	assert.Contains(t, prompt, "The harbor was founded in 1602....")
	assert.Contains(t, prompt, "Line 1: First line")
	assert.Contains(t, prompt, "YOUR TASK: Create line 2 of the poem.")
	assert.Contains(t, prompt, "LINE: [your poetic line here]")

	opts := calls[0].Options
	assert.Equal(t, DefaultPoetTemperature, opts["temperature"])
	assert.Equal(t, DefaultPoetMaxTokens, opts["max_tokens"])
	system, _ := opts["system"].(string)
	assert.Contains(t, system, "You are Aurora the Romantic")
	assert.Contains(t, system, "YOUR STYLE: Lush and passionate")
	assert.Contains(t, system, "Remember: You are Aurora")

	assert.Equal(t, []domain.Verse{out.Value}, poet.History())
}

func TestPoetUnit_EmptyPoemAndDocumentLimit(t *testing.T) {
	aurora, _ := testutils.Personas()
	client := testutils.NewMockLLMClient("gpt-4o")
	poet := newTestPoet(t, client, aurora, func(c *PoetConfig) { c.DocumentLimit = 100 })
	document := strings.Repeat("é", 150)

	_, err := poet.CreateVerse(context.Background(), document, nil, 1)

	require.NoError(t, err)
	prompt := client.Calls()[0].Prompt
	assert.Contains(t, prompt, "[Starting the poem]")
	assert.Contains(t, prompt, strings.Repeat("é", 100)+"...")
	assert.NotContains(t, prompt, strings.Repeat("é", 101))
}

func TestPoetUnit_MissingMarkersFallsBack(t *testing.T) {
	aurora, _ := testutils.Personas()
	client := testutils.NewMockLLMClient("gpt-4o")
	client.AddResponse(testutils.MockResponse{
		Pattern:  testutils.PoetPromptMarker,
		Response: "Here is a line of poetry about the harbor without any markers.",
	})
	poet := newTestPoet(t, client, aurora)

	out, err := poet.CreateVerse(context.Background(), "doc", nil, 1)

	require.NoError(t, err)
	assert.True(t, out.Fallback)
	assert.Equal(t, ReasonMissingMarkers, out.Reason)
	assert.Empty(t, out.Value.Line)
	assert.Empty(t, out.Value.Source)
	assert.Equal(t, "Aurora", out.Value.Author.Name)
}

func TestPoetUnit_TimeoutFallsBack(t *testing.T) {
	aurora, _ := testutils.Personas()
	client := testutils.NewMockLLMClient("gpt-4o")
	client.SetHandler(func(ctx context.Context, _ int, _ string, _ map[string]any) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	poet := newTestPoet(t, client, aurora, func(c *PoetConfig) { c.Timeout = 20 * time.Millisecond })

	out, err := poet.CreateVerse(context.Background(), "doc", nil, 1)

	require.NoError(t, err)
	assert.True(t, out.Fallback)
	assert.Equal(t, ReasonTimeout, out.Reason)
	assert.Empty(t, out.Value.Line)
}

func TestPoetUnit_ParentCancellationIsAnError(t *testing.T) {
	aurora, _ := testutils.Personas()
	client := testutils.NewMockLLMClient("gpt-4o")
	ctx, cancel := context.WithCancel(context.Background())
	client.SetHandler(func(ctx context.Context, _ int, _ string, _ map[string]any) (string, error) {
		cancel()
		return "", ctx.Err()
	})
	poet := newTestPoet(t, client, aurora)

	_, err := poet.CreateVerse(ctx, "doc", nil, 1)

	assert.ErrorIs(t, err, context.Canceled)
}

func TestPoetUnit_TransportErrorIsReturned(t *testing.T) {
	aurora, _ := testutils.Personas()
	client := testutils.NewMockLLMClient("gpt-4o")
	client.AddResponse(testutils.MockResponse{Pattern: testutils.PoetPromptMarker, Err: ports.ErrQuotaExceeded})
	poet := newTestPoet(t, client, aurora)

	out, err := poet.CreateVerse(context.Background(), "doc", nil, 1)

	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrQuotaExceeded)
	assert.Equal(t, int64(1), out.Usage.Calls)
	assert.Empty(t, poet.History())
}

func TestParseVerseResponse(t *testing.T) {
	tests := []struct {
		name       string
		response   string
		wantLine   string
		wantSource string
		wantOK     bool
	}{
		{
			name:       "exact_format",
			response:   "LINE: Salt wind carries the census of gulls\nSOURCE: 400 gulls counted",
			wantLine:   "Salt wind carries the census of gulls",
			wantSource: "400 gulls counted",
			wantOK:     true,
		},
		{
			name:       "markdown_bold_markers",
			response:   "**LINE:** Salt wind\n**SOURCE:** gulls",
			wantLine:   "Salt wind",
			wantSource: "gulls",
			wantOK:     true,
		},
		{
			name:       "lowercase_with_preamble",
			response:   "Sure! Here you go.\n\nline: Salt wind\nsource: gulls",
			wantLine:   "Salt wind",
			wantSource: "gulls",
			wantOK:     true,
		},
		{
			name:       "inline_pipe_source",
			response:   "LINE: Salt wind | SOURCE: gulls",
			wantLine:   "Salt wind",
			wantSource: "gulls",
			wantOK:     true,
		},
		{
			name:       "bracketed_placeholder_style",
			response:   "LINE: [Salt wind]\nSOURCE: [gulls]",
			wantLine:   "Salt wind",
			wantSource: "gulls",
			wantOK:     true,
		},
		{
			name:       "numbered_line_marker",
			response:   "Line 3: Salt wind\nSOURCE: gulls",
			wantLine:   "Salt wind",
			wantSource: "gulls",
			wantOK:     true,
		},
		{
			name:       "leading_quote_kept",
			response:   "LINE: \"Rebuild,\" the river whispered to the levee\nSOURCE: flood report",
			wantLine:   "\"Rebuild,\" the river whispered to the levee",
			wantSource: "flood report",
			wantOK:     true,
		},
		{
			name:       "leading_emphasis_kept",
			response:   "LINE: *Four meters* of night above the old town\nSOURCE: water levels",
			wantLine:   "*Four meters* of night above the old town",
			wantSource: "water levels",
			wantOK:     true,
		},
		{
			name:       "wrapped_in_quotes",
			response:   "LINE: \"Salt wind\"\nSOURCE: *gulls*",
			wantLine:   "Salt wind",
			wantSource: "gulls",
			wantOK:     true,
		},
		{
			name:       "quoted_phrases_at_both_ends",
			response:   "LINE: \"Go\" said the tide, \"stay\"\nSOURCE: gulls",
			wantLine:   "\"Go\" said the tide, \"stay\"",
			wantSource: "gulls",
			wantOK:     true,
		},
		{
			name:       "source_only",
			response:   "SOURCE: gulls",
			wantSource: "gulls",
			wantOK:     false,
		},
		{
			name:       "empty_line_marker",
			response:   "LINE:\nSOURCE: gulls",
			wantSource: "gulls",
			wantOK:     false,
		},
		{
			name:     "no_markers",
			response: "Salt wind carries the census of gulls",
			wantOK:   false,
		},
		{
			name:       "first_marker_wins",
			response:   "LINE: first\nLINE: second\nSOURCE: one\nSOURCE: two",
			wantLine:   "first",
			wantSource: "one",
			wantOK:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			line, source, ok := ParseVerseResponse(tt.response)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.wantLine, line)
			}
			assert.Equal(t, tt.wantSource, source)
		})
	}
}

func TestPoetUnit_Execute(t *testing.T) {
	aurora, echo := testutils.Personas()
	client := testutils.NewMockLLMClient("gpt-4o")
	poet := newTestPoet(t, client, echo)

	state := domain.NewRoundState(domain.RoundContext{
		Round:    1,
		Document: "doc",
		Pairing:  domain.Pairing{A: aurora, B: echo},
	})

	next, err := poet.Execute(context.Background(), state)

	require.NoError(t, err)
	candidates, ok := domain.Get(next, domain.KeyCandidates)
	require.True(t, ok)
	require.Len(t, candidates, 2)
	assert.Empty(t, candidates[domain.SlotA].Line)
	assert.Equal(t, "Echo", candidates[domain.SlotB].Author.Name)
	assert.Equal(t, int64(1), next.GetBudgetUsage().Calls)

	t.Run("persona_outside_pairing", func(t *testing.T) {
		other := newTestPoet(t, client, domain.Persona{Key: "haiku", Name: "Basho"})
		_, err := other.Execute(context.Background(), state)
		assert.ErrorContains(t, err, "not in the round pairing")
	})

	t.Run("missing_document", func(t *testing.T) {
		_, err := poet.Execute(context.Background(), domain.NewState())
		assert.ErrorContains(t, err, "document not found")
	})
}

func TestPoetUnit_Validate(t *testing.T) {
	aurora, _ := testutils.Personas()
	client := testutils.NewMockLLMClient("gpt-4o")
	poet := newTestPoet(t, client, aurora)
	require.NoError(t, poet.Validate())

	client.SetModel("")
	assert.ErrorContains(t, poet.Validate(), "model is not configured")
}

func TestComplete_PrefersReportedUsage(t *testing.T) {
	client := &usageReportingClient{MockLLMClient: testutils.NewMockLLMClient("gpt-4o")}

	_, usage, err := complete(context.Background(), client, "prompt", nil)

	require.NoError(t, err)
	assert.Equal(t, domain.Usage{Tokens: 42, Calls: 1}, usage)
}

type usageReportingClient struct {
	*testutils.MockLLMClient
}

func (c *usageReportingClient) CompleteWithUsage(ctx context.Context, prompt string, options map[string]any) (string, int, int, error) {
	response, err := c.Complete(ctx, prompt, options)
	if err != nil {
		return "", 0, 0, err
	}
	return response, 30, 12, nil
}
