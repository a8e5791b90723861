// Package ports defines the core interfaces that form the contract between
// the domain/application layers and the infrastructure layer.
package ports

import (
	"context"

	"github.com/ahrav/go-versus/internal/domain"
)

// Unit is one stage of a round. Each Unit reads what it needs from State
// and returns a new State with its results.
// Units must be safe for concurrent use across duels.
type Unit interface {
	// Name returns a unique identifier for this unit.
	Name() string

	// Execute performs the unit's transformation on the provided State.
	// The original State is never modified.
	Execute(ctx context.Context, state domain.State) (domain.State, error)

	// Validate checks if the unit is properly configured.
	Validate() error
}

// Poet produces exactly one candidate verse per call in a fixed persona
// voice. Malformed output and per-call timeouts degrade to a fallback
// Outcome; only transport faults are returned as errors.
type Poet interface {
	Persona() domain.Persona
	CreateVerse(ctx context.Context, document string, accepted []string, round int) (domain.Outcome[domain.Verse], error)
}

// Judge scores a pair of candidate verses against the rubric and keeps an
// ordered log of its judgments.
type Judge interface {
	// JudgeVerses evaluates both verses and appends the result to the log.
	JudgeVerses(ctx context.Context, document, poemContext, verseA, verseB, nameA, nameB string) (domain.Outcome[domain.Judgment], error)

	// Record appends a judgment produced outside JudgeVerses.
	Record(j domain.Judgment)

	// Log returns a copy of the judgment log in round order.
	Log() []domain.Judgment

	// Statistics summarizes the log; nil when it is empty.
	Statistics() *domain.DuelStatistics
}

// DuelObserver receives incremental duel state. Calls happen between
// rounds, so snapshots are always prefix-consistent.
type DuelObserver interface {
	RoundCompleted(ctx context.Context, report domain.RoundReport, snapshot domain.Snapshot)
	DuelFinished(ctx context.Context, snapshot domain.Snapshot, err error)
}
