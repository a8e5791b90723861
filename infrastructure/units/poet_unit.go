package units

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/ahrav/go-versus/internal/domain"
	"github.com/ahrav/go-versus/internal/ports"
)

var (
	_ ports.Poet = (*PoetUnit)(nil)
	_ ports.Unit = (*PoetUnit)(nil)
)

// Poet defaults, matching the generation settings the duel was tuned with.
const (
	DefaultPoetTemperature   = 0.7
	DefaultPoetMaxTokens     = 2000
	DefaultPoetDocumentLimit = 3000
	DefaultPoetTimeout       = 60 * time.Second
)

// PoetConfig configures a PoetUnit.
type PoetConfig struct {
	Temperature   float64       `yaml:"temperature" json:"temperature" validate:"min=0,max=2"`
	MaxTokens     int           `yaml:"max_tokens" json:"max_tokens" validate:"required,min=16,max=8192"`
	DocumentLimit int           `yaml:"document_limit" json:"document_limit" validate:"required,min=100"`
	Timeout       time.Duration `yaml:"timeout" json:"timeout" validate:"required,min=10ms"`

	// SystemTemplate and UserTemplate override the default prompts.
	SystemTemplate string `yaml:"system_template,omitempty" json:"system_template,omitempty"`
	UserTemplate   string `yaml:"user_template,omitempty" json:"user_template,omitempty"`
}

// DefaultPoetConfig returns the standard poet settings.
func DefaultPoetConfig() PoetConfig {
	return PoetConfig{
		Temperature:   DefaultPoetTemperature,
		MaxTokens:     DefaultPoetMaxTokens,
		DocumentLimit: DefaultPoetDocumentLimit,
		Timeout:       DefaultPoetTimeout,
	}
}

// PoetUnit writes one verse per call in a fixed persona voice.
// It is safe for concurrent use.
type PoetUnit struct {
	name    string
	persona domain.Persona
	config  PoetConfig
	client  ports.LLMClient
	logger  *slog.Logger

	systemTmpl *template.Template
	userTmpl   *template.Template

	mu      sync.Mutex
	history []domain.Verse
}

type poetSystemData struct {
	Persona domain.Persona
}

type poetUserData struct {
	Document      string
	DocumentLimit int
	Accepted      []string
	Round         int
}

// NewPoetUnit validates config and compiles the prompt templates.
func NewPoetUnit(name string, persona domain.Persona, client ports.LLMClient, config PoetConfig, logger *slog.Logger) (*PoetUnit, error) {
	if name == "" {
		return nil, ErrEmptyUnitName
	}
	if client == nil {
		return nil, ErrNilClient
	}
	if persona.Name == "" {
		return nil, fmt.Errorf("unit %s: persona name is required", name)
	}
	if err := validate.Struct(config); err != nil {
		return nil, fmt.Errorf("unit %s: configuration validation failed: %w", name, err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	systemText := cmp.Or(config.SystemTemplate, DefaultPoetSystemTemplate)
	userText := cmp.Or(config.UserTemplate, DefaultPoetUserTemplate)
	systemTmpl, err := parseTemplate("poetSystem", systemText)
	if err != nil {
		return nil, fmt.Errorf("unit %s: %w", name, err)
	}
	userTmpl, err := parseTemplate("poetUser", userText)
	if err != nil {
		return nil, fmt.Errorf("unit %s: %w", name, err)
	}

	return &PoetUnit{
		name:       name,
		persona:    persona,
		config:     config,
		client:     client,
		logger:     logger.With("unit", name, "poet", persona.Name),
		systemTmpl: systemTmpl,
		userTmpl:   userTmpl,
	}, nil
}

// Name returns the unit identifier.
func (p *PoetUnit) Name() string { return p.name }

// Persona returns the voice this poet writes in.
func (p *PoetUnit) Persona() domain.Persona { return p.persona }

// CreateVerse asks the model for line round of the poem. Output without
// LINE/SOURCE markers and per-call timeouts produce a fallback verse with
// empty fields. Transport failures are returned as errors.
func (p *PoetUnit) CreateVerse(ctx context.Context, document string, accepted []string, round int) (domain.Outcome[domain.Verse], error) {
	system, err := render(p.systemTmpl, poetSystemData{Persona: p.persona})
	if err != nil {
		return domain.Outcome[domain.Verse]{}, fmt.Errorf("unit %s: %w", p.name, err)
	}
	prompt, err := render(p.userTmpl, poetUserData{
		Document:      document,
		DocumentLimit: p.config.DocumentLimit,
		Accepted:      accepted,
		Round:         round,
	})
	if err != nil {
		return domain.Outcome[domain.Verse]{}, fmt.Errorf("unit %s: %w", p.name, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	response, usage, err := complete(callCtx, p.client, prompt, map[string]any{
		"system":      system,
		"temperature": p.config.Temperature,
		"max_tokens":  p.config.MaxTokens,
	})
	if err != nil {
		if timedOut(ctx, callCtx, err) {
			p.logger.WarnContext(ctx, "poet call timed out", "round", round, "timeout", p.config.Timeout)
			out := domain.Fallback(domain.Verse{Author: p.persona}, ReasonTimeout, usage)
			p.remember(out.Value)
			return out, nil
		}
		return domain.Outcome[domain.Verse]{Usage: usage}, fmt.Errorf("unit %s: round %d: %w", p.name, round, err)
	}

	line, source, ok := ParseVerseResponse(response)
	if !ok {
		p.logger.WarnContext(ctx, "poet response missing markers", "round", round, "response_length", len(response))
		verse := domain.Verse{Author: p.persona}
		p.remember(verse)
		return domain.Fallback(verse, ReasonMissingMarkers, usage), nil
	}
	verse := domain.Verse{Line: line, Source: source, Author: p.persona}
	p.remember(verse)
	return domain.Parsed(verse, usage), nil
}

// History returns a copy of every verse this poet has produced.
func (p *PoetUnit) History() []domain.Verse {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.history)
}

func (p *PoetUnit) remember(v domain.Verse) {
	p.mu.Lock()
	p.history = append(p.history, v)
	p.mu.Unlock()
}

// Execute runs CreateVerse for the persona in the slot this poet occupies
// and writes the verse into that slot of the round candidates.
func (p *PoetUnit) Execute(ctx context.Context, state domain.State) (domain.State, error) {
	document, accepted, round, pairing, err := roundInputs(state)
	if err != nil {
		return state, fmt.Errorf("unit %s: %w", p.name, err)
	}

	slot := domain.SlotA
	switch p.persona.Key {
	case pairing.A.Key:
	case pairing.B.Key:
		slot = domain.SlotB
	default:
		return state, fmt.Errorf("unit %s: persona %q is not in the round pairing", p.name, p.persona.Key)
	}

	out, err := p.CreateVerse(ctx, document, accepted, round)
	if err != nil {
		return state.UpdateBudgetUsage(out.Usage), err
	}

	candidates, _ := domain.Get(state, domain.KeyCandidates)
	fallbacks, _ := domain.Get(state, domain.KeyPoetFallbacks)
	candidates = grow(candidates, 2)
	fallbacks = grow(fallbacks, 2)
	candidates[slot] = out.Value
	fallbacks[slot] = out.Fallback

	next := domain.With(state, domain.KeyCandidates, candidates)
	next = domain.With(next, domain.KeyPoetFallbacks, fallbacks)
	return next.UpdateBudgetUsage(out.Usage), nil
}

// Validate checks the unit is ready to run.
func (p *PoetUnit) Validate() error {
	if p.client == nil {
		return fmt.Errorf("unit %s: LLM client is not configured", p.name)
	}
	if err := validate.Struct(p.config); err != nil {
		return fmt.Errorf("unit %s: configuration validation failed: %w", p.name, err)
	}
	if p.client.GetModel() == "" {
		return fmt.Errorf("unit %s: LLM client model is not configured", p.name)
	}
	return nil
}

var (
	markdownNoise = regexp.MustCompile(`^[\s>*_#\-\x60]+`)
	lineMarker    = regexp.MustCompile(`(?i)^line\s*(?:\d+\s*)?:\s*`)
	sourceMarker  = regexp.MustCompile(`(?i)^source\s*:\s*`)
	inlineSource  = regexp.MustCompile(`(?i)\s*\|\s*source\s*:\s*`)
)

// ParseVerseResponse extracts the verse and its cited source from a poet
// response. Markers are matched case-insensitively after stripping markdown
// emphasis, and "LINE: x | SOURCE: y" on one line is split. ok is false
// when no non-empty LINE is present.
func ParseVerseResponse(response string) (line, source string, ok bool) {
	for raw := range strings.Lines(response) {
		text := strings.TrimSpace(raw)
		text = markdownNoise.ReplaceAllString(text, "")

		if loc := lineMarker.FindStringIndex(text); loc != nil {
			body := text[loc[1]:]
			if parts := inlineSource.Split(body, 2); len(parts) == 2 {
				body = parts[0]
				if source == "" {
					source = cleanMarkup(parts[1])
				}
			}
			if !ok {
				line = cleanMarkup(body)
				ok = true
			}
			continue
		}
		if loc := sourceMarker.FindStringIndex(text); loc != nil && source == "" {
			source = cleanMarkup(text[loc[1]:])
		}
	}
	return line, source, ok && line != ""
}

var (
	labelCloser = regexp.MustCompile(`^[*_]+\s+`)
	wrappers    = [][2]string{{"**", "**"}, {"__", "__"}, {"*", "*"}, {"_", "_"}, {"`", "`"}, {`"`, `"`}, {"[", "]"}}
)

// cleanMarkup drops the emphasis closing a bold label ("**LINE:** x") and
// unwraps text enclosed in one matching pair of quotes, emphasis or
// brackets. A delimiter that also occurs inside the text belongs to the
// verse and is kept.
func cleanMarkup(s string) string {
	s = strings.TrimSpace(labelCloser.ReplaceAllString(strings.TrimSpace(s), ""))
	for {
		inner, ok := unwrap(s)
		if !ok {
			return s
		}
		s = strings.TrimSpace(inner)
	}
}

func unwrap(s string) (string, bool) {
	for _, w := range wrappers {
		open, closing := w[0], w[1]
		if len(s) <= len(open)+len(closing) || !strings.HasPrefix(s, open) || !strings.HasSuffix(s, closing) {
			continue
		}
		inner := s[len(open) : len(s)-len(closing)]
		if strings.Contains(inner, open) || strings.Contains(inner, closing) {
			continue
		}
		return inner, true
	}
	return "", false
}

func grow[T any](s []T, n int) []T {
	if len(s) >= n {
		return s
	}
	return append(s, make([]T, n-len(s))...)
}

func roundInputs(state domain.State) (document string, accepted []string, round int, pairing domain.Pairing, err error) {
	document, ok := domain.Get(state, domain.KeyDocument)
	if !ok {
		return "", nil, 0, pairing, fmt.Errorf("document not found in state with key %s", domain.KeyDocument.Name())
	}
	pairing, ok = domain.Get(state, domain.KeyPairing)
	if !ok {
		return "", nil, 0, pairing, fmt.Errorf("pairing not found in state with key %s", domain.KeyPairing.Name())
	}
	round, ok = domain.Get(state, domain.KeyRoundIndex)
	if !ok {
		return "", nil, 0, pairing, fmt.Errorf("round index not found in state with key %s", domain.KeyRoundIndex.Name())
	}
	accepted, _ = domain.Get(state, domain.KeyAcceptedLines)
	return document, accepted, round, pairing, nil
}
