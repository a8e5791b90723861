package testutils

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"testing"

	"github.com/ahrav/go-versus/internal/domain"
)

// Placeholders JudgeResponse writes for the slot winners. The mock client
// swaps them for the author names found in the judge prompt.
const (
	WinnerPlaceholderA = "@@VERSE_A@@"
	WinnerPlaceholderB = "@@VERSE_B@@"
)

// DefaultCriteria is the five-criterion poetry rubric.
func DefaultCriteria() []domain.Criterion {
	return []domain.Criterion{
		{Key: "factual_grounding", Weight: 0.25, Description: "How well the verse connects to actual document content"},
		{Key: "poetic_quality", Weight: 0.20, Description: "Literary merit: imagery, metaphor, rhythm, word choice"},
		{Key: "coherence", Weight: 0.20, Description: "How well the verse fits with previous lines"},
		{Key: "originality", Weight: 0.20, Description: "Creative interpretation and fresh perspective"},
		{Key: "emotional_impact", Weight: 0.15, Description: "Ability to evoke feeling or insight"},
	}
}

// DefaultRubricKeys lists the keys of DefaultCriteria in order.
func DefaultRubricKeys() []string {
	criteria := DefaultCriteria()
	keys := make([]string, len(criteria))
	for i, c := range criteria {
		keys[i] = c.Key
	}
	return keys
}

// Rubric builds the default rubric, failing the test on error.
func Rubric(tb testing.TB) domain.Rubric {
	tb.Helper()
	r, err := domain.NewRubric(DefaultCriteria())
	if err != nil {
		tb.Fatalf("default rubric: %v", err)
	}
	return r
}

// Personas returns two test personas.
func Personas() (domain.Persona, domain.Persona) {
	return domain.Persona{
			Key: "romantic", Name: "Aurora", Title: "Aurora the Romantic",
			Style: "Lush and passionate", Approach: "Finds beauty in facts", Color: "#ff69b4",
		}, domain.Persona{
			Key: "modernist", Name: "Echo", Title: "Echo the Modernist",
			Style: "Sparse and fragmented", Approach: "Distills facts to images", Color: "#4169e1",
		}
}

// Catalog builds a catalog from Personas.
func Catalog(tb testing.TB) domain.PersonaCatalog {
	tb.Helper()
	a, b := Personas()
	c, err := domain.NewPersonaCatalog([]domain.Persona{a, b})
	if err != nil {
		tb.Fatalf("catalog: %v", err)
	}
	return c
}

// PoetResponse formats a well-formed poet reply.
func PoetResponse(line, source string) string {
	return fmt.Sprintf("LINE: %s\nSOURCE: %s", line, source)
}

// JudgeResponse builds a judge reply scoring every key with scoreA and
// scoreB. winner "A" or "B" becomes the matching author name; any other
// value is used verbatim.
func JudgeResponse(keys []string, scoreA, scoreB int, winner string) string {
	a := make(map[string]int, len(keys))
	b := make(map[string]int, len(keys))
	for _, k := range keys {
		a[k] = scoreA
		b[k] = scoreB
	}
	switch winner {
	case "A":
		winner = WinnerPlaceholderA
	case "B":
		winner = WinnerPlaceholderB
	}
	raw, _ := json.Marshal(map[string]any{
		"verse_a_scores":    a,
		"verse_b_scores":    b,
		"verse_a_reasoning": "Verse A grounds its image in the text.",
		"verse_b_reasoning": "Verse B drifts from the document.",
		"winner":            winner,
		"final_verdict":     "A closer reading of the source wins.",
	})
	return string(raw)
}

var verseAuthor = regexp.MustCompile(`(?m)^VERSE ([AB]) - by (.+):$`)

// ResolveWinnerPlaceholder replaces the winner placeholders in response
// with the author names declared in a judge prompt.
func ResolveWinnerPlaceholder(response, prompt string) string {
	if !strings.Contains(response, "@@VERSE_") {
		return response
	}
	for _, m := range verseAuthor.FindAllStringSubmatch(prompt, -1) {
		placeholder := WinnerPlaceholderA
		if m[1] == "B" {
			placeholder = WinnerPlaceholderB
		}
		response = strings.ReplaceAll(response, placeholder, m[2])
	}
	return response
}
