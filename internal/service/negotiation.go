package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/psds-microservice/stream-registry-service/internal/bus"
	"github.com/psds-microservice/stream-registry-service/internal/errs"
	"github.com/psds-microservice/stream-registry-service/internal/model"
	"github.com/psds-microservice/stream-registry-service/internal/presence"
)

// Broker executes the timeout-bounded request/reply exchange between a
// consumer and the current publisher of a stream. The publisher makes the
// admission decision; the broker's only synchronization duty is the timeout
// and the at-most-one-reply contract, which the bus reply inbox provides per
// request so concurrent negotiations cannot cross-wire.
type Broker struct {
	presence presence.Store
	bus      bus.Bus
	tracker  *Tracker
	timeout  time.Duration
	log      *zap.Logger
}

// NewBroker creates the negotiation broker.
func NewBroker(p presence.Store, b bus.Bus, tracker *Tracker, timeout time.Duration, log *zap.Logger) *Broker {
	return &Broker{
		presence: p,
		bus:      b,
		tracker:  tracker,
		timeout:  timeout,
		log:      log,
	}
}

// RequestStream negotiates consumption of a stream and, on acceptance,
// materializes a session via the tracker. Outcomes map to the error taxonomy:
// ErrStreamNotFound (advertisement absent or expired), ErrNegotiationTimeout
// (no reply within the window, or nothing listening), ErrNegotiationRejected
// (publisher declined, malformed reply, or bus relay failure).
func (b *Broker) RequestStream(ctx context.Context, streamID string, consumer model.ConsumerDescriptor) (*model.StreamOffer, error) {
	data, err := b.presence.Get(presence.StreamKey(streamID))
	if err != nil {
		if errors.Is(err, presence.ErrNotFound) {
			return nil, errs.ErrStreamNotFound
		}
		return nil, fmt.Errorf("lookup stream %s: %w", streamID, err)
	}
	var ad model.Advertisement
	if err := json.Unmarshal(data, &ad); err != nil {
		return nil, fmt.Errorf("decode advertisement %s: %w", streamID, err)
	}

	payload, err := json.Marshal(model.NegotiationRequest{
		ConsumerID:      consumer.ConsumerID,
		ConsumerAddress: consumer.ConsumerAddress,
		ConsumerPort:    consumer.ConsumerPort,
		Config:          consumer.Config,
	})
	if err != nil {
		return nil, fmt.Errorf("encode negotiation request: %w", err)
	}

	// The negotiation is deliberately detached from the caller's context: if
	// the caller disconnects mid-handshake the exchange still runs to
	// completion so the publisher never ends up in a "replied but nobody
	// listened" state. The result is simply discarded with the request.
	reqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.timeout)
	defer cancel()

	reply, err := b.bus.Request(reqCtx, bus.StreamRequestSubject(streamID), payload)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, bus.ErrNoResponders) {
			b.log.Info("negotiation timed out",
				zap.String("stream_id", streamID),
				zap.String("consumer_id", consumer.ConsumerID),
				zap.Duration("timeout", b.timeout))
			return nil, errs.ErrNegotiationTimeout
		}
		return nil, fmt.Errorf("%w: relay failed: %v", errs.ErrNegotiationRejected, err)
	}

	var answer model.NegotiationReply
	if err := json.Unmarshal(reply, &answer); err != nil {
		return nil, fmt.Errorf("%w: malformed reply", errs.ErrNegotiationRejected)
	}
	if !answer.Accepted {
		reason := answer.Reason
		if reason == "" {
			reason = "publisher declined"
		}
		b.log.Info("negotiation rejected",
			zap.String("stream_id", streamID),
			zap.String("consumer_id", consumer.ConsumerID),
			zap.String("reason", reason))
		return nil, fmt.Errorf("%w: %s", errs.ErrNegotiationRejected, reason)
	}

	s, err := b.tracker.CreateSession(&ad, consumer, answer.TransportConfig)
	if err != nil {
		return nil, err
	}
	b.log.Info("negotiation accepted",
		zap.String("stream_id", streamID),
		zap.String("session_id", s.ID),
		zap.String("consumer_id", consumer.ConsumerID))
	return &model.StreamOffer{
		SessionID:        s.ID,
		StreamID:         ad.ID,
		StreamName:       ad.Name,
		StreamType:       ad.StreamType,
		Protocol:         ad.Protocol,
		PublisherAddress: ad.Address,
		PublisherPort:    ad.Port,
		TransportConfig:  answer.TransportConfig,
	}, nil
}
