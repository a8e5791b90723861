// Package events distributes duel progress to in-process subscribers and
// to a NATS broker.
package events

import (
	"time"

	"github.com/ahrav/go-versus/internal/domain"
)

// Kind discriminates events.
type Kind string

const (
	KindSnapshot Kind = "snapshot"
	KindRound    Kind = "round"
	KindFinished Kind = "finished"
)

// Event is the wire form of a duel notification.
type Event struct {
	Kind     Kind                `json:"kind"`
	DuelID   string              `json:"duel_id"`
	At       time.Time           `json:"at"`
	Report   *domain.RoundReport `json:"report,omitempty"`
	Cause    string              `json:"cause,omitempty"`
	Snapshot domain.Snapshot     `json:"snapshot"`
	Error    string              `json:"error,omitempty"`
}

// RoundEvent describes a completed round.
func RoundEvent(report domain.RoundReport, snapshot domain.Snapshot, at time.Time) Event {
	return Event{
		Kind:     KindRound,
		DuelID:   snapshot.DuelID,
		At:       at,
		Report:   &report,
		Cause:    report.CauseText(),
		Snapshot: snapshot,
	}
}

// SnapshotEvent carries the current state of a duel, sent to subscribers
// that join late.
func SnapshotEvent(snapshot domain.Snapshot, at time.Time) Event {
	return Event{Kind: KindSnapshot, DuelID: snapshot.DuelID, At: at, Snapshot: snapshot}
}

// FinishedEvent describes the end of a duel. err is nil for a duel that ran
// every requested round.
func FinishedEvent(snapshot domain.Snapshot, err error, at time.Time) Event {
	ev := Event{Kind: KindFinished, DuelID: snapshot.DuelID, At: at, Snapshot: snapshot}
	if err != nil {
		ev.Error = err.Error()
	}
	return ev
}
