package domain

import (
	"maps"
	"slices"
	"strings"
)

// TieSentinel is the winner value meaning "no strict winner".
const TieSentinel = "tie"

// Winner tokens a judge may use instead of a persona name. Persona names
// must not collide with them.
var (
	tieWords   = []string{TieSentinel, "draw", "none", "neither", "equal", "both"}
	slotAWords = []string{"a", "verse a", "poet a"}
	slotBWords = []string{"b", "verse b", "poet b"}
)

// IsTieWord reports whether the lower-cased token declares a tie.
func IsTieWord(lower string) bool { return slices.Contains(tieWords, lower) }

// SlotWord maps a lower-cased slot label such as "verse b" to its slot.
func SlotWord(lower string) (Slot, bool) {
	switch {
	case slices.Contains(slotAWords, lower):
		return SlotA, true
	case slices.Contains(slotBWords, lower):
		return SlotB, true
	}
	return SlotA, false
}

// IsReservedName reports whether name would be read as a tie or a slot
// label in a judge's winner field.
func IsReservedName(name string) bool {
	lower := strings.ToLower(strings.TrimSpace(name))
	_, slot := SlotWord(lower)
	return slot || IsTieWord(lower)
}

// Fallback texts used when the judge response cannot be decoded.
const (
	FallbackReasoning = "Error parsing judgment"
	FallbackVerdict   = "Unable to parse judgment"
)

// Judgment is the judge's evaluation of one round. Totals are derived from
// the scores with Rubric.WeightedTotal, never taken from the model.
type Judgment struct {
	NameA      string         `json:"name_a"`
	NameB      string         `json:"name_b"`
	ScoresA    map[string]int `json:"scores_a"`
	ScoresB    map[string]int `json:"scores_b"`
	ReasoningA string         `json:"reasoning_a"`
	ReasoningB string         `json:"reasoning_b"`
	Winner     string         `json:"winner"`
	Verdict    string         `json:"verdict"`
	TotalA     float64        `json:"total_a"`
	TotalB     float64        `json:"total_b"`
}

// NewJudgment derives both totals from the rubric.
func NewJudgment(r Rubric, nameA, nameB string, scoresA, scoresB map[string]int,
	reasoningA, reasoningB, winner, verdict string) Judgment {
	return Judgment{
		NameA:      nameA,
		NameB:      nameB,
		ScoresA:    maps.Clone(scoresA),
		ScoresB:    maps.Clone(scoresB),
		ReasoningA: reasoningA,
		ReasoningB: reasoningB,
		Winner:     winner,
		Verdict:    verdict,
		TotalA:     r.WeightedTotal(scoresA),
		TotalB:     r.WeightedTotal(scoresB),
	}
}

// FallbackJudgment is the neutral judgment substituted for an undecodable
// response: every criterion at the midpoint and a declared tie.
func FallbackJudgment(r Rubric, nameA, nameB string) Judgment {
	return NewJudgment(r, nameA, nameB,
		r.UniformScores(NeutralScore), r.UniformScores(NeutralScore),
		FallbackReasoning, FallbackReasoning, TieSentinel, FallbackVerdict)
}

// IsTie reports whether the judge declared no strict winner.
func (j Judgment) IsTie() bool { return j.Winner == TieSentinel }

// AcceptedSlot resolves which candidate wins the round. A named winner
// takes its slot. On a declared tie the strictly higher total wins and an
// exact tie goes to slot A.
func (j Judgment) AcceptedSlot() Slot {
	switch j.Winner {
	case j.NameA:
		return SlotA
	case j.NameB:
		return SlotB
	}
	if j.TotalB > j.TotalA {
		return SlotB
	}
	return SlotA
}

// AcceptedName returns the persona name of the accepted slot.
func (j Judgment) AcceptedName() string {
	if j.AcceptedSlot() == SlotB {
		return j.NameB
	}
	return j.NameA
}

// TotalFor returns the weighted total the named agent received.
func (j Judgment) TotalFor(name string) (float64, bool) {
	switch name {
	case j.NameA:
		return j.TotalA, true
	case j.NameB:
		return j.TotalB, true
	}
	return 0, false
}
