// Package bus abstracts the pub/sub message bus carrying negotiation traffic.
// Production runs on NATS; the in-process MemoryBus serves tests and
// single-node deployments. Only negotiation messages cross the bus — stream
// payload never does.
package bus

import (
	"context"
	"errors"
)

// ErrNoResponders is returned by Request when the bus can tell up front that
// nothing is listening on the subject. Not all implementations can detect
// this; absence of a reply otherwise surfaces as the context deadline.
var ErrNoResponders = errors.New("bus: no responders on subject")

// Message is a delivered bus message. Respond sends a reply when the message
// was published as a request; for plain publishes it returns an error.
type Message struct {
	Subject string
	Data    []byte
	reply   func(data []byte) error
}

// Respond replies to the requester.
func (m *Message) Respond(data []byte) error {
	if m.reply == nil {
		return errors.New("bus: message has no reply subject")
	}
	return m.reply(data)
}

// Handler processes a delivered message.
type Handler func(msg *Message)

// Subscription is an active subscription handle.
type Subscription interface {
	Unsubscribe() error
}

// Bus is the pub/sub abstraction.
type Bus interface {
	// Publish sends a fire-and-forget message.
	Publish(subject string, data []byte) error
	// Subscribe registers a handler for a subject.
	Subscribe(subject string, h Handler) (Subscription, error)
	// Request publishes data on subject and waits for exactly one reply,
	// bounded by ctx. Replies arriving after ctx is done are discarded.
	Request(ctx context.Context, subject string, data []byte) ([]byte, error)
	// Close releases the bus connection.
	Close()
}

// StreamRequestSubject is the negotiation subject scoped to one stream. A
// publisher subscribes here after advertising; consumers request on it.
func StreamRequestSubject(streamID string) string {
	return "stream.request." + streamID
}
