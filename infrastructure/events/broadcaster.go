package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ahrav/go-versus/internal/domain"
	"github.com/ahrav/go-versus/internal/ports"
)

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 32

var _ ports.DuelObserver = (*Broadcaster)(nil)

type subscriber struct {
	ch chan Event
}

// Broadcaster fans duel events out to in-process subscribers keyed by duel
// id. A subscriber that falls a full buffer behind loses events rather than
// stalling the duel. Subscriptions close after the finished event.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[string]map[*subscriber]struct{}
	buffer int
	now    func() time.Time
	logger *slog.Logger
}

// NewBroadcaster creates an empty Broadcaster.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subs:   make(map[string]map[*subscriber]struct{}),
		buffer: DefaultBuffer,
		now:    time.Now,
		logger: logger,
	}
}

// Subscribe returns a channel of events for duelID and a function that
// ends the subscription. The channel is closed by either.
func (b *Broadcaster) Subscribe(duelID string) (<-chan Event, func()) {
	sub := &subscriber{ch: make(chan Event, b.buffer)}

	b.mu.Lock()
	set, ok := b.subs[duelID]
	if !ok {
		set = make(map[*subscriber]struct{})
		b.subs[duelID] = set
	}
	set[sub] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() { b.remove(duelID, sub) })
	}
}

func (b *Broadcaster) remove(duelID string, sub *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.subs[duelID]
	if !ok {
		return
	}
	if _, ok := set[sub]; !ok {
		return
	}
	delete(set, sub)
	close(sub.ch)
	if len(set) == 0 {
		delete(b.subs, duelID)
	}
}

// Subscribers reports the number of live subscriptions for duelID.
func (b *Broadcaster) Subscribers(duelID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[duelID])
}

// Publish delivers ev to every subscriber of its duel. A finished event
// closes the subscriptions after delivery.
func (b *Broadcaster) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	set := b.subs[ev.DuelID]
	for sub := range set {
		select {
		case sub.ch <- ev:
		default:
			b.logger.Warn("subscriber too slow, event dropped",
				"duel_id", ev.DuelID, "kind", string(ev.Kind))
		}
	}
	if ev.Kind == KindFinished {
		for sub := range set {
			close(sub.ch)
		}
		delete(b.subs, ev.DuelID)
	}
}

// RoundCompleted implements ports.DuelObserver.
func (b *Broadcaster) RoundCompleted(_ context.Context, report domain.RoundReport, snapshot domain.Snapshot) {
	b.Publish(RoundEvent(report, snapshot, b.now()))
}

// DuelFinished implements ports.DuelObserver.
func (b *Broadcaster) DuelFinished(_ context.Context, snapshot domain.Snapshot, err error) {
	b.Publish(FinishedEvent(snapshot, err, b.now()))
}
