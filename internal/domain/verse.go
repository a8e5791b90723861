package domain

import "fmt"

// Verse is one candidate or accepted line of the poem together with the
// document snippet that motivated it.
type Verse struct {
	Line   string  `json:"line"`
	Source string  `json:"source"`
	Author Persona `json:"author"`
}

// JudgeText renders the verse the way it is presented to the judge.
func (v Verse) JudgeText() string {
	return fmt.Sprintf("%s\nSOURCE: %s", v.Line, v.Source)
}

// Outcome carries the result of a generation call that may have degraded to
// a fallback payload. Fallback results are never errors: the caller's
// recovery is the same either way.
type Outcome[T any] struct {
	Value    T
	Fallback bool
	Reason   string
	Usage    Usage
}

// Parsed wraps a successfully decoded value.
func Parsed[T any](v T, usage Usage) Outcome[T] {
	return Outcome[T]{Value: v, Usage: usage}
}

// Fallback wraps a substitute value and the reason it was used.
func Fallback[T any](v T, reason string, usage Usage) Outcome[T] {
	return Outcome[T]{Value: v, Fallback: true, Reason: reason, Usage: usage}
}

// Slot is a candidate position presented to the judge.
type Slot int

const (
	SlotA Slot = iota
	SlotB
)

func (s Slot) String() string {
	if s == SlotB {
		return "B"
	}
	return "A"
}

// Pairing assigns the two contestants of a round to judge slots.
type Pairing struct {
	A Persona `json:"a"`
	B Persona `json:"b"`
}

// Swapped returns the pairing with the slots exchanged.
func (p Pairing) Swapped() Pairing { return Pairing{A: p.B, B: p.A} }

// At returns the persona in the given slot.
func (p Pairing) At(s Slot) Persona {
	if s == SlotB {
		return p.B
	}
	return p.A
}
