package model

import "time"

// SessionStatus represents the state of a consumption session.
type SessionStatus string

const (
	SessionStatusActive SessionStatus = "active"
	SessionStatusEnded  SessionStatus = "ended"
	SessionStatusFailed SessionStatus = "failed"
)

// Session is a negotiated consumption relationship between one publisher and
// one consumer for one stream. While active it is TTL-tracked in the presence
// store, independently of the parent stream's own TTL. Stream name and type are
// denormalized so history survives stream withdrawal.
type Session struct {
	ID               string         `json:"id"`
	StreamID         string         `json:"stream_id"`
	StreamName       string         `json:"stream_name"`
	StreamType       string         `json:"stream_type"`
	PublisherID      string         `json:"publisher_id"`
	PublisherAddress string         `json:"publisher_address"`
	ConsumerID       string         `json:"consumer_id"`
	ConsumerAddress  string         `json:"consumer_address"`
	Protocol         string         `json:"protocol"`
	TransportConfig  map[string]any `json:"transport_config,omitempty"`
	Status           SessionStatus  `json:"status"`
	StartedAt        time.Time      `json:"started_at"`
}

// ConsumerDescriptor identifies the requesting consumer in a negotiation.
type ConsumerDescriptor struct {
	ConsumerID      string         `json:"consumer_id"`
	ConsumerAddress string         `json:"consumer_address"`
	ConsumerPort    int            `json:"consumer_port,omitempty"`
	Config          map[string]any `json:"config,omitempty"`
}

// StreamOffer is the successful result of a negotiation: everything the
// consumer needs to open the direct transport, plus the tracked session id.
type StreamOffer struct {
	SessionID        string         `json:"session_id"`
	StreamID         string         `json:"stream_id"`
	StreamName       string         `json:"stream_name"`
	StreamType       string         `json:"stream_type"`
	Protocol         string         `json:"protocol"`
	PublisherAddress string         `json:"publisher_address"`
	PublisherPort    int            `json:"publisher_port"`
	TransportConfig  map[string]any `json:"transport_config,omitempty"`
}

// StopReason describes why a session is being stopped. Failed selects the
// terminal history status "failed" instead of "ended"; Reason, when set, is
// recorded as the history row's error message.
type StopReason struct {
	Reason string `json:"reason,omitempty"`
	Failed bool   `json:"failed,omitempty"`
}

// Synthetic stop reasons used by the registry itself.
var (
	StopReasonWithdrawn = StopReason{Reason: "stream withdrawn"}
	StopReasonTimedOut  = StopReason{Reason: "session timed out"}
)

// NegotiationRequest is the bus message published on stream.request.<streamId>.
type NegotiationRequest struct {
	ConsumerID      string         `json:"consumer_id"`
	ConsumerAddress string         `json:"consumer_address"`
	ConsumerPort    int            `json:"consumer_port,omitempty"`
	Config          map[string]any `json:"config,omitempty"`
}

// NegotiationReply is the publisher's answer to a NegotiationRequest.
type NegotiationReply struct {
	Accepted        bool           `json:"accepted"`
	Reason          string         `json:"reason,omitempty"`
	TransportConfig map[string]any `json:"transport_config,omitempty"`
}

// HistoryFilter narrows a durable history query. Zero fields are ignored.
// Limit is clamped to 1..500; 0 means the default of 50.
type HistoryFilter struct {
	StreamID    string
	PublisherID string
	ConsumerID  string
	Status      string
	Limit       int
}
