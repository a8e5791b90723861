package units

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strconv"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/agnivade/levenshtein"

	"github.com/ahrav/go-versus/internal/domain"
	"github.com/ahrav/go-versus/internal/ports"
)

var (
	_ ports.Judge = (*JudgeUnit)(nil)
	_ ports.Unit  = (*JudgeUnit)(nil)
)

// Judge defaults.
const (
	DefaultJudgeTemperature   = 0.3
	DefaultJudgeMaxTokens     = 2000
	DefaultJudgeDocumentLimit = 2000
	DefaultJudgeTimeout       = 90 * time.Second

	// MaxWinnerDistance is the largest edit distance at which a misspelled
	// winner token still names an agent.
	MaxWinnerDistance = 2
)

// JSON mode policies.
const (
	JSONModeAuto   = "auto"
	JSONModeAlways = "always"
	JSONModeNever  = "never"
)

// JudgeConfig configures a JudgeUnit.
type JudgeConfig struct {
	Temperature   float64       `yaml:"temperature" json:"temperature" validate:"min=0,max=2"`
	MaxTokens     int           `yaml:"max_tokens" json:"max_tokens" validate:"required,min=64,max=8192"`
	DocumentLimit int           `yaml:"document_limit" json:"document_limit" validate:"required,min=100"`
	Timeout       time.Duration `yaml:"timeout" json:"timeout" validate:"required,min=10ms"`

	// JSONMode controls whether the request asks the provider for a JSON
	// object. "auto" asks only models known to support it.
	JSONMode string `yaml:"json_mode" json:"json_mode" validate:"omitempty,oneof=auto always never"`

	SystemTemplate string `yaml:"system_template,omitempty" json:"system_template,omitempty"`
	UserTemplate   string `yaml:"user_template,omitempty" json:"user_template,omitempty"`
}

// DefaultJudgeConfig returns the standard judge settings.
func DefaultJudgeConfig() JudgeConfig {
	return JudgeConfig{
		Temperature:   DefaultJudgeTemperature,
		MaxTokens:     DefaultJudgeMaxTokens,
		DocumentLimit: DefaultJudgeDocumentLimit,
		Timeout:       DefaultJudgeTimeout,
		JSONMode:      JSONModeAuto,
	}
}

// JudgeUnit scores two candidate verses against the rubric and keeps the
// ordered log of its judgments. It never fails on malformed model output:
// such rounds get the neutral fallback judgment.
type JudgeUnit struct {
	name   string
	rubric domain.Rubric
	config JudgeConfig
	client ports.LLMClient
	logger *slog.Logger

	systemPrompt string
	userTmpl     *template.Template

	mu  sync.Mutex
	log []domain.Judgment
}

type judgeSystemData struct {
	Criteria []domain.Criterion
}

type judgeUserData struct {
	Document      string
	DocumentLimit int
	PoemContext   string
	VerseA        string
	VerseB        string
	NameA         string
	NameB         string
	Criteria      []domain.Criterion
}

// NewJudgeUnit validates config and renders the system prompt once.
func NewJudgeUnit(name string, rubric domain.Rubric, client ports.LLMClient, config JudgeConfig, logger *slog.Logger) (*JudgeUnit, error) {
	if name == "" {
		return nil, ErrEmptyUnitName
	}
	if client == nil {
		return nil, ErrNilClient
	}
	if len(rubric.Criteria()) == 0 {
		return nil, fmt.Errorf("unit %s: rubric has no criteria", name)
	}
	if err := validate.Struct(config); err != nil {
		return nil, fmt.Errorf("unit %s: configuration validation failed: %w", name, err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	systemTmpl, err := parseTemplate("judgeSystem", cmp.Or(config.SystemTemplate, DefaultJudgeSystemTemplate))
	if err != nil {
		return nil, fmt.Errorf("unit %s: %w", name, err)
	}
	systemPrompt, err := render(systemTmpl, judgeSystemData{Criteria: rubric.Criteria()})
	if err != nil {
		return nil, fmt.Errorf("unit %s: %w", name, err)
	}
	userTmpl, err := parseTemplate("judgeUser", cmp.Or(config.UserTemplate, DefaultJudgeUserTemplate))
	if err != nil {
		return nil, fmt.Errorf("unit %s: %w", name, err)
	}

	return &JudgeUnit{
		name:         name,
		rubric:       rubric,
		config:       config,
		client:       client,
		logger:       logger.With("unit", name),
		systemPrompt: systemPrompt,
		userTmpl:     userTmpl,
	}, nil
}

// Name returns the unit identifier.
func (j *JudgeUnit) Name() string { return j.name }

// Rubric returns the rubric judgments are scored against.
func (j *JudgeUnit) Rubric() domain.Rubric { return j.rubric }

// JudgeVerses evaluates verseA (by nameA) against verseB (by nameB) and
// appends the judgment to the log. Only transport failures other than a
// per-call timeout are returned as errors.
func (j *JudgeUnit) JudgeVerses(ctx context.Context, document, poemContext, verseA, verseB, nameA, nameB string) (domain.Outcome[domain.Judgment], error) {
	out, err := j.evaluate(ctx, document, poemContext, verseA, verseB, nameA, nameB)
	if err != nil {
		return out, err
	}
	j.Record(out.Value)
	return out, nil
}

// Record appends a judgment to the log.
func (j *JudgeUnit) Record(judgment domain.Judgment) {
	j.mu.Lock()
	j.log = append(j.log, judgment)
	j.mu.Unlock()
}

// Log returns a copy of the judgment log.
func (j *JudgeUnit) Log() []domain.Judgment {
	j.mu.Lock()
	defer j.mu.Unlock()
	return slices.Clone(j.log)
}

// Statistics summarizes the log. It returns nil before the first judgment.
func (j *JudgeUnit) Statistics() *domain.DuelStatistics {
	return domain.ComputeStatistics(j.Log())
}

// Execute judges the round candidates in State without touching the log;
// the orchestrator records the judgment once the round is accepted.
func (j *JudgeUnit) Execute(ctx context.Context, state domain.State) (domain.State, error) {
	document, accepted, round, pairing, err := roundInputs(state)
	if err != nil {
		return state, fmt.Errorf("unit %s: %w", j.name, err)
	}
	candidates, ok := domain.Get(state, domain.KeyCandidates)
	if !ok || len(candidates) != 2 {
		return state, fmt.Errorf("unit %s: expected 2 candidates in state with key %s, got %d",
			j.name, domain.KeyCandidates.Name(), len(candidates))
	}

	out, err := j.evaluate(ctx, document, domain.FormatPoemContext(accepted),
		candidates[domain.SlotA].JudgeText(), candidates[domain.SlotB].JudgeText(),
		pairing.A.Name, pairing.B.Name)
	if err != nil {
		return state.UpdateBudgetUsage(out.Usage), fmt.Errorf("unit %s: round %d: %w", j.name, round, err)
	}

	judgment := out.Value
	next := domain.With(state, domain.KeyJudgment, &judgment)
	next = domain.With(next, domain.KeyJudgeFallback, out.Fallback)
	return next.UpdateBudgetUsage(out.Usage), nil
}

// Validate checks the unit is ready to run.
func (j *JudgeUnit) Validate() error {
	if j.client == nil {
		return fmt.Errorf("unit %s: LLM client is not configured", j.name)
	}
	if err := validate.Struct(j.config); err != nil {
		return fmt.Errorf("unit %s: configuration validation failed: %w", j.name, err)
	}
	if j.client.GetModel() == "" {
		return fmt.Errorf("unit %s: LLM client model is not configured", j.name)
	}
	return nil
}

func (j *JudgeUnit) evaluate(ctx context.Context, document, poemContext, verseA, verseB, nameA, nameB string) (domain.Outcome[domain.Judgment], error) {
	prompt, err := render(j.userTmpl, judgeUserData{
		Document:      document,
		DocumentLimit: j.config.DocumentLimit,
		PoemContext:   poemContext,
		VerseA:        verseA,
		VerseB:        verseB,
		NameA:         nameA,
		NameB:         nameB,
		Criteria:      j.rubric.Criteria(),
	})
	if err != nil {
		return domain.Outcome[domain.Judgment]{}, fmt.Errorf("unit %s: %w", j.name, err)
	}

	options := map[string]any{
		"system":      j.systemPrompt,
		"temperature": j.config.Temperature,
		"max_tokens":  j.config.MaxTokens,
	}
	if j.jsonMode() {
		options["response_format"] = "json_object"
	}

	callCtx, cancel := context.WithTimeout(ctx, j.config.Timeout)
	defer cancel()

	response, usage, err := complete(callCtx, j.client, prompt, options)
	if err != nil {
		if timedOut(ctx, callCtx, err) {
			j.logger.WarnContext(ctx, "judge call timed out", "timeout", j.config.Timeout)
			return domain.Fallback(domain.FallbackJudgment(j.rubric, nameA, nameB), ReasonTimeout, usage), nil
		}
		return domain.Outcome[domain.Judgment]{Usage: usage}, err
	}

	judgment, reason := j.parseJudgment(response, nameA, nameB)
	if reason != "" {
		j.logger.WarnContext(ctx, "judge response unusable, using neutral judgment",
			"reason", reason, "response_length", len(response))
		return domain.Fallback(domain.FallbackJudgment(j.rubric, nameA, nameB), reason, usage), nil
	}
	return domain.Parsed(judgment, usage), nil
}

func (j *JudgeUnit) jsonMode() bool {
	switch j.config.JSONMode {
	case JSONModeAlways:
		return true
	case JSONModeNever:
		return false
	}
	return supportsJSONMode(j.client)
}

// supportsJSONMode reports whether the client's model accepts a JSON
// response format. Anthropic models do not; the prompt carries the schema.
func supportsJSONMode(client ports.LLMClient) bool {
	model := strings.ToLower(client.GetModel())
	return strings.Contains(model, "gpt") || strings.Contains(model, "gemini")
}

// score accepts a JSON number or a numeric string.
type score float64

func (s *score) UnmarshalJSON(b []byte) error {
	var f float64
	if err := json.Unmarshal(b, &f); err == nil {
		*s = score(f)
		return nil
	}
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return fmt.Errorf("score must be a number: %s", b)
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(str), 64)
	if err != nil {
		return fmt.Errorf("score must be a number: %q", str)
	}
	*s = score(f)
	return nil
}

// judgeResponse is the JSON object the judge prompt asks for.
type judgeResponse struct {
	VerseAScores    map[string]score `json:"verse_a_scores" validate:"required"`
	VerseBScores    map[string]score `json:"verse_b_scores" validate:"required"`
	VerseAReasoning string           `json:"verse_a_reasoning" validate:"required"`
	VerseBReasoning string           `json:"verse_b_reasoning" validate:"required"`
	Winner          string           `json:"winner"`
	FinalVerdict    string           `json:"final_verdict"`
}

// parseJudgment decodes and validates a judge response. A non-empty reason
// means the response is unusable.
func (j *JudgeUnit) parseJudgment(response, nameA, nameB string) (domain.Judgment, string) {
	raw := extractJSON(response)
	if raw == "" {
		return domain.Judgment{}, ReasonNoJSON
	}

	var resp judgeResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return domain.Judgment{}, ReasonInvalidJSON
	}
	resp.VerseAReasoning = strings.TrimSpace(resp.VerseAReasoning)
	resp.VerseBReasoning = strings.TrimSpace(resp.VerseBReasoning)
	if err := validate.Struct(resp); err != nil {
		return domain.Judgment{}, ReasonInvalidJSON
	}

	scoresA, err := j.normalizeScores(resp.VerseAScores)
	if err != nil {
		return domain.Judgment{}, ReasonInvalidScores
	}
	scoresB, err := j.normalizeScores(resp.VerseBScores)
	if err != nil {
		return domain.Judgment{}, ReasonInvalidScores
	}

	winner := ResolveWinner(resp.Winner, nameA, nameB)
	return domain.NewJudgment(j.rubric, nameA, nameB, scoresA, scoresB,
		resp.VerseAReasoning, resp.VerseBReasoning, winner, strings.TrimSpace(resp.FinalVerdict)), ""
}

// normalizeScores rounds every rubric criterion to an integer and checks it
// lies on the 1-10 scale. Criteria outside the rubric are ignored.
func (j *JudgeUnit) normalizeScores(raw map[string]score) (map[string]int, error) {
	out := make(map[string]int, len(raw))
	for _, key := range j.rubric.Keys() {
		v, ok := raw[key]
		if !ok {
			return nil, fmt.Errorf("missing score for %s", key)
		}
		rounded := int(math.Round(float64(v)))
		if rounded < domain.MinScore || rounded > domain.MaxScore {
			return nil, fmt.Errorf("score %v for %s outside [%d, %d]", float64(v), key, domain.MinScore, domain.MaxScore)
		}
		out[key] = rounded
	}
	return out, nil
}

// ResolveWinner maps the judge's winner token onto nameA, nameB or the tie
// sentinel. Exact matches win; then case-insensitive matches, slot labels
// ("A", "Verse B"), tokens that contain exactly one of the names, and
// finally the closest name within MaxWinnerDistance edits. Anything else is
// a tie.
func ResolveWinner(token, nameA, nameB string) string {
	token = strings.TrimSpace(strings.Trim(strings.TrimSpace(token), `"'*.`))
	switch token {
	case nameA, nameB, domain.TieSentinel:
		return token
	}

	lower := strings.ToLower(token)
	switch {
	case lower == "" || domain.IsTieWord(lower):
		return domain.TieSentinel
	case lower == strings.ToLower(nameA):
		return nameA
	case lower == strings.ToLower(nameB):
		return nameB
	}
	if slot, ok := domain.SlotWord(lower); ok {
		if slot == domain.SlotA {
			return nameA
		}
		return nameB
	}

	hasA := strings.Contains(lower, strings.ToLower(nameA))
	hasB := strings.Contains(lower, strings.ToLower(nameB))
	switch {
	case hasA && !hasB:
		return nameA
	case hasB && !hasA:
		return nameB
	case hasA && hasB:
		return domain.TieSentinel
	}

	distA := levenshtein.ComputeDistance(lower, strings.ToLower(nameA))
	distB := levenshtein.ComputeDistance(lower, strings.ToLower(nameB))
	switch {
	case distA <= MaxWinnerDistance && distA < distB:
		return nameA
	case distB <= MaxWinnerDistance && distB < distA:
		return nameB
	}
	return domain.TieSentinel
}

// extractJSON returns the first complete JSON object in response, looking
// inside markdown code fences first. It returns "" when there is none.
func extractJSON(response string) string {
	response = strings.TrimSpace(response)

	if start := strings.Index(response, "```"); start != -1 {
		body := response[start+3:]
		if nl := strings.IndexByte(body, '\n'); nl != -1 {
			body = body[nl+1:]
		}
		if end := strings.Index(body, "```"); end != -1 {
			if candidate := strings.TrimSpace(body[:end]); strings.HasPrefix(candidate, "{") {
				if obj := firstObject(candidate); obj != "" {
					return obj
				}
			}
		}
	}
	return firstObject(response)
}

// firstObject scans for the first balanced {...} span, ignoring braces
// inside JSON strings.
func firstObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start == -1 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
