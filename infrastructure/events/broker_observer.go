package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/ahrav/go-versus/internal/domain"
	"github.com/ahrav/go-versus/internal/ports"
)

var _ ports.DuelObserver = (*BrokerObserver)(nil)

// BrokerObserver publishes every duel event as JSON on
// "<prefix>.<duel id>". Publish failures are logged and never reach the
// duel.
type BrokerObserver struct {
	publisher ports.EventPublisher
	prefix    string
	now       func() time.Time
	logger    *slog.Logger
}

// NewBrokerObserver returns an observer publishing through publisher.
func NewBrokerObserver(publisher ports.EventPublisher, prefix string, logger *slog.Logger) *BrokerObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return &BrokerObserver{publisher: publisher, prefix: prefix, now: time.Now, logger: logger}
}

// Subject returns the subject events for duelID are published on.
func (o *BrokerObserver) Subject(duelID string) string {
	return o.prefix + "." + duelID
}

// RoundCompleted implements ports.DuelObserver.
func (o *BrokerObserver) RoundCompleted(ctx context.Context, report domain.RoundReport, snapshot domain.Snapshot) {
	o.send(ctx, RoundEvent(report, snapshot, o.now()))
}

// DuelFinished implements ports.DuelObserver.
func (o *BrokerObserver) DuelFinished(ctx context.Context, snapshot domain.Snapshot, err error) {
	o.send(ctx, FinishedEvent(snapshot, err, o.now()))
}

func (o *BrokerObserver) send(ctx context.Context, ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		o.logger.ErrorContext(ctx, "encode duel event", "duel_id", ev.DuelID, "error", err)
		return
	}
	subject := o.Subject(ev.DuelID)
	if err := o.publisher.Publish(ctx, subject, payload); err != nil {
		o.logger.WarnContext(ctx, "publish duel event",
			"subject", subject,
			"kind", string(ev.Kind),
			"error", err)
	}
}
