package web

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/ahrav/go-versus/infrastructure/events"
	"github.com/ahrav/go-versus/internal/domain"
)

const localSession = "versus.session"

// upgradeOnly resolves the duel before the upgrade so unknown ids get a
// plain 404.
func (s *Server) upgradeOnly(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	sess, err := s.lookup(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	c.Locals(localSession, sess)
	return c.Next()
}

// streamDuel sends the current snapshot followed by every round event until
// the duel finishes or the client goes away.
func (s *Server) streamDuel(conn *websocket.Conn) {
	defer conn.Close()

	sess, ok := conn.Locals(localSession).(*session)
	if !ok {
		return
	}
	id := sess.duel.ID()

	// Subscribe before reading the snapshot so no event falls between them.
	stream, cancel := s.hub.Subscribe(id)
	defer cancel()

	snap := sess.duel.Snapshot()
	if err := conn.WriteJSON(events.SnapshotEvent(snap, time.Now())); err != nil {
		s.logger.Debug("websocket write failed", "duel_id", id, "error", err)
		return
	}
	if snap.Status != domain.DuelRunning {
		return
	}

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev, open := <-stream:
			if !open {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				s.logger.Debug("websocket write failed", "duel_id", id, "error", err)
				return
			}
		case <-gone:
			return
		case <-s.runCtx.Done():
			return
		}
	}
}
