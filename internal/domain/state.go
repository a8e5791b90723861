// Package domain contains the dependency-free model of a poetry duel:
// personas, rubric, verses, judgments, the accumulated poem and the
// immutable State that flows through round units.
package domain

import (
	"fmt"
	"maps"
	"reflect"
	"slices"
	"time"
)

// Key is a typed handle into State. The type parameter removes the need
// for runtime assertions at every read site.
type Key[T any] struct{ name string }

// NewKey creates a Key outside of this package.
func NewKey[T any](name string) Key[T] { return Key[T]{name: name} }

// Name returns the string the key is stored under.
func (k Key[T]) Name() string { return k.name }

// Keys shared by the round units.
var (
	// KeyDocument holds the extracted source document text.
	KeyDocument = Key[string]{"document"}

	// KeyAcceptedLines holds the lines accepted so far, in round order.
	KeyAcceptedLines = Key[[]string]{"poem.accepted_lines"}

	// KeyRoundIndex is the 1-based index of the round being played.
	KeyRoundIndex = Key[int]{"round.index"}

	// KeyPairing records which persona occupies slot A and slot B.
	KeyPairing = Key[Pairing]{"round.pairing"}

	// KeyCandidates holds the two candidate verses, slot A first.
	KeyCandidates = Key[[]Verse]{"round.candidates"}

	// KeyPoetFallbacks mirrors KeyCandidates and flags soft-failed verses.
	KeyPoetFallbacks = Key[[]bool]{"round.poet_fallbacks"}

	// KeyJudgment holds the judgment produced for the candidates.
	KeyJudgment = Key[*Judgment]{"round.judgment"}

	// KeyJudgeFallback is true when the judgment is the neutral fallback.
	KeyJudgeFallback = Key[bool]{"round.judge_fallback"}

	// KeyDuelID identifies the duel the state belongs to.
	KeyDuelID = Key[string]{"execution.duel_id"}

	// KeyBudgetTokensUsed is the cumulative token spend of the duel.
	KeyBudgetTokensUsed = Key[int64]{"execution.budget.tokens_used"}

	// KeyBudgetCallsMade is the cumulative number of LLM calls of the duel.
	KeyBudgetCallsMade = Key[int64]{"execution.budget.calls_made"}
)

// deepCopyValue copies slices, maps, pointers and exported struct fields so
// values read from or written to State never alias caller memory.
func deepCopyValue(value any) any {
	if value == nil {
		return nil
	}
	if t, ok := value.(time.Time); ok {
		return t
	}

	v := reflect.ValueOf(value)
	switch v.Kind() {
	case reflect.Slice:
		if v.IsNil() {
			return value
		}
		out := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
		for i := 0; i < v.Len(); i++ {
			copyInto(out.Index(i), v.Index(i))
		}
		return out.Interface()

	case reflect.Map:
		if v.IsNil() {
			return value
		}
		out := reflect.MakeMapWithSize(v.Type(), v.Len())
		iter := v.MapRange()
		for iter.Next() {
			elem := reflect.New(v.Type().Elem()).Elem()
			copyInto(elem, iter.Value())
			out.SetMapIndex(iter.Key(), elem)
		}
		return out.Interface()

	case reflect.Ptr:
		if v.IsNil() {
			return value
		}
		out := reflect.New(v.Elem().Type())
		copyInto(out.Elem(), v.Elem())
		return out.Interface()

	case reflect.Struct:
		out := reflect.New(v.Type()).Elem()
		out.Set(v)
		for i := 0; i < v.NumField(); i++ {
			if out.Field(i).CanSet() {
				copyInto(out.Field(i), v.Field(i))
			}
		}
		return out.Interface()

	default:
		return value
	}
}

// copyInto deep-copies src into dst, tolerating nil interface values.
func copyInto(dst, src reflect.Value) {
	if !src.IsValid() {
		return
	}
	if src.Kind() == reflect.Interface && src.IsNil() {
		return
	}
	if !src.CanInterface() {
		dst.Set(src)
		return
	}
	copied := deepCopyValue(src.Interface())
	if copied == nil {
		return
	}
	dst.Set(reflect.ValueOf(copied))
}

// State is an immutable bag of round data. Every write returns a new State,
// so a State can be handed to concurrent readers without locking.
type State struct {
	data map[string]any
}

// NewState returns an empty State.
func NewState() State { return State{data: make(map[string]any)} }

// Get reads a typed value. The returned value is a deep copy.
func Get[T any](s State, key Key[T]) (T, bool) {
	var zero T
	raw, ok := s.data[key.name]
	if !ok {
		return zero, false
	}
	val, ok := deepCopyValue(raw).(T)
	return val, ok
}

// With returns a copy of s with key set to value.
func With[T any](s State, key Key[T], value T) State {
	data := maps.Clone(s.data)
	if data == nil {
		data = make(map[string]any)
	}
	data[key.name] = deepCopyValue(value)
	return State{data: data}
}

// WithMultiple applies several raw updates with a single clone.
func (s State) WithMultiple(updates map[string]any) State {
	data := maps.Clone(s.data)
	if data == nil {
		data = make(map[string]any, len(updates))
	}
	for k, v := range updates {
		data[k] = deepCopyValue(v)
	}
	return State{data: data}
}

// Keys returns the stored key names in sorted order.
func (s State) Keys() []string {
	keys := slices.Collect(maps.Keys(s.data))
	slices.Sort(keys)
	return keys
}

// String is for debugging only.
func (s State) String() string { return fmt.Sprintf("State%v", s.data) }

// RoundContext seeds a State for one round of a duel.
type RoundContext struct {
	DuelID        string
	Round         int
	Document      string
	AcceptedLines []string
	Pairing       Pairing
	Usage         Usage
}

// NewRoundState builds the State a round's units start from.
func NewRoundState(rc RoundContext) State {
	lines := rc.AcceptedLines
	if lines == nil {
		lines = []string{}
	}
	return NewState().WithMultiple(map[string]any{
		KeyDuelID.name:           rc.DuelID,
		KeyRoundIndex.name:       rc.Round,
		KeyDocument.name:         rc.Document,
		KeyAcceptedLines.name:    lines,
		KeyPairing.name:          rc.Pairing,
		KeyBudgetTokensUsed.name: rc.Usage.Tokens,
		KeyBudgetCallsMade.name:  rc.Usage.Calls,
	})
}

// Usage is the resource consumption attributed to a duel or a single call.
type Usage struct {
	Tokens int64 `json:"tokens"`
	Calls  int64 `json:"calls"`
}

// Add returns the sum of two usages.
func (u Usage) Add(o Usage) Usage {
	return Usage{Tokens: u.Tokens + o.Tokens, Calls: u.Calls + o.Calls}
}

// UpdateBudgetUsage increments the budget counters carried in State.
func (s State) UpdateBudgetUsage(u Usage) State {
	tokens, _ := Get(s, KeyBudgetTokensUsed)
	calls, _ := Get(s, KeyBudgetCallsMade)
	return s.WithMultiple(map[string]any{
		KeyBudgetTokensUsed.name: tokens + u.Tokens,
		KeyBudgetCallsMade.name:  calls + u.Calls,
	})
}

// GetBudgetUsage returns the budget counters carried in State.
func (s State) GetBudgetUsage() Usage {
	tokens, _ := Get(s, KeyBudgetTokensUsed)
	calls, _ := Get(s, KeyBudgetCallsMade)
	return Usage{Tokens: tokens, Calls: calls}
}
