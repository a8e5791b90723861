package domain

import (
	"fmt"
	"slices"
	"strings"
)

// PoemState is the accumulated poem: accepted verses and the judgments that
// accepted them, index-aligned. Append is the only mutator.
type PoemState struct {
	verses    []Verse
	judgments []Judgment
}

// Append adds one accepted verse together with its judgment.
func (p *PoemState) Append(v Verse, j Judgment) {
	p.verses = append(p.verses, v)
	p.judgments = append(p.judgments, j)
}

// Len returns the number of accepted verses.
func (p *PoemState) Len() int { return len(p.verses) }

// Verses returns a copy of the accepted verses.
func (p *PoemState) Verses() []Verse { return slices.Clone(p.verses) }

// Judgments returns a copy of the judgments, aligned with Verses.
func (p *PoemState) Judgments() []Judgment { return slices.Clone(p.judgments) }

// Lines returns the accepted lines of text in order.
func (p *PoemState) Lines() []string {
	lines := make([]string, len(p.verses))
	for i, v := range p.verses {
		lines[i] = v.Line
	}
	return lines
}

// FormatPoemContext renders accepted lines as numbered "Line i: text"
// entries, or a starting marker when the poem is empty.
func FormatPoemContext(lines []string) string {
	if len(lines) == 0 {
		return "[Starting the poem]"
	}
	var b strings.Builder
	for i, l := range lines {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "Line %d: %s", i+1, l)
	}
	return b.String()
}

// DuelStatus is the lifecycle state reported in a Snapshot.
type DuelStatus string

const (
	DuelRunning    DuelStatus = "running"
	DuelCompleted  DuelStatus = "completed"
	DuelTerminated DuelStatus = "terminated"
)

// Snapshot is a prefix-consistent copy of a duel for presenters.
type Snapshot struct {
	DuelID            string          `json:"duel_id"`
	PersonaA          Persona         `json:"persona_a"`
	PersonaB          Persona         `json:"persona_b"`
	RequestedRounds   int             `json:"requested_rounds"`
	RoundsAttempted   int             `json:"rounds_attempted"`
	Verses            []Verse         `json:"verses"`
	Judgments         []Judgment      `json:"judgments"`
	Statistics        *DuelStatistics `json:"statistics,omitempty"`
	Status            DuelStatus      `json:"status"`
	TerminationReason string          `json:"termination_reason,omitempty"`
}

// Lines returns the poem text of the snapshot.
func (s Snapshot) Lines() []string {
	lines := make([]string, len(s.Verses))
	for i, v := range s.Verses {
		lines[i] = v.Line
	}
	return lines
}

// Speakers returns the author name of every accepted verse.
func (s Snapshot) Speakers() []string {
	names := make([]string, len(s.Verses))
	for i, v := range s.Verses {
		names[i] = v.Author.Name
	}
	return names
}

// RoundStatus says whether a round added a verse to the poem.
type RoundStatus string

const (
	RoundAccepted RoundStatus = "accepted"
	RoundSkipped  RoundStatus = "skipped"
)

// RoundReport describes the outcome of one round.
type RoundReport struct {
	Round         int         `json:"round"`
	Status        RoundStatus `json:"status"`
	Pairing       Pairing     `json:"pairing"`
	Accepted      *Verse      `json:"accepted,omitempty"`
	Judgment      *Judgment   `json:"judgment,omitempty"`
	Candidates    []Verse     `json:"candidates,omitempty"`
	PoetFallbacks []bool      `json:"poet_fallbacks,omitempty"`
	JudgeFallback bool        `json:"judge_fallback"`
	Cause         error       `json:"-"`
}

// CauseText returns the skip cause as a string, empty when accepted.
func (r RoundReport) CauseText() string {
	if r.Cause == nil {
		return ""
	}
	return r.Cause.Error()
}
