package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/ahrav/go-versus/internal/ports"
)

const defaultFlushTimeout = 2 * time.Second

var _ ports.EventPublisher = (*NATSPublisher)(nil)

// natsConn is the part of *nats.Conn the publisher uses.
type natsConn interface {
	Publish(subject string, data []byte) error
	FlushWithContext(ctx context.Context) error
	Drain() error
}

// NATSPublisher implements ports.EventPublisher on a NATS connection.
// Every publish is flushed so a returned nil means the server has it.
type NATSPublisher struct {
	conn         natsConn
	flushTimeout time.Duration
}

// ConnectNATS dials url and returns a publisher that reconnects on its own.
func ConnectNATS(url, clientName string, logger *slog.Logger) (*NATSPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := nats.Connect(url,
		nats.Name(clientName),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats at %s: %w", url, err)
	}
	return newNATSPublisher(conn), nil
}

func newNATSPublisher(conn natsConn) *NATSPublisher {
	return &NATSPublisher{conn: conn, flushTimeout: defaultFlushTimeout}
}

// Publish sends payload on subject and waits for the server to acknowledge
// the flush.
func (p *NATSPublisher) Publish(ctx context.Context, subject string, payload []byte) error {
	if subject == "" {
		return errors.New("nats: empty subject")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.conn.Publish(subject, payload); err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}

	flushCtx, cancel := context.WithTimeout(ctx, p.flushTimeout)
	defer cancel()
	if err := p.conn.FlushWithContext(flushCtx); err != nil {
		return fmt.Errorf("nats flush %s: %w", subject, err)
	}
	return nil
}

// Close drains pending messages and closes the connection.
func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}
