package bus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NATSBus implements Bus on a NATS connection. Request uses the NATS reply
// inbox, which gives each in-flight negotiation its own correlation subject
// and unsubscribes on every exit path.
type NATSBus struct {
	nc  *nats.Conn
	log *zap.Logger
}

// ConnectNATS connects with retry; the registry tolerates the bus coming up
// after it (e.g. container start ordering).
func ConnectNATS(url, name string, log *zap.Logger) (*NATSBus, error) {
	var nc *nats.Conn
	var err error
	for attempt := 1; attempt <= 15; attempt++ {
		nc, err = nats.Connect(url,
			nats.Name(name),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second),
		)
		if err == nil {
			break
		}
		log.Info("waiting for NATS", zap.Int("attempt", attempt), zap.Error(err))
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}
	log.Info("connected to NATS", zap.String("url", nc.ConnectedUrl()))
	return &NATSBus{nc: nc, log: log}, nil
}

// Conn exposes the underlying connection (for the JetStream KV presence backend).
func (b *NATSBus) Conn() *nats.Conn { return b.nc }

// Publish implements Bus.Publish.
func (b *NATSBus) Publish(subject string, data []byte) error {
	return b.nc.Publish(subject, data)
}

// Subscribe implements Bus.Subscribe.
func (b *NATSBus) Subscribe(subject string, h Handler) (Subscription, error) {
	sub, err := b.nc.Subscribe(subject, func(m *nats.Msg) {
		h(&Message{
			Subject: m.Subject,
			Data:    m.Data,
			reply: func(data []byte) error {
				return m.Respond(data)
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// Request implements Bus.Request.
func (b *NATSBus) Request(ctx context.Context, subject string, data []byte) ([]byte, error) {
	msg, err := b.nc.RequestWithContext(ctx, subject, data)
	if err != nil {
		if errors.Is(err, nats.ErrNoResponders) {
			return nil, ErrNoResponders
		}
		return nil, err
	}
	return msg.Data, nil
}

// Close drains the connection so in-flight handlers finish first.
func (b *NATSBus) Close() {
	if err := b.nc.Drain(); err != nil {
		b.log.Warn("NATS drain failed", zap.Error(err))
	}
}
