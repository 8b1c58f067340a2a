package model

import "time"

// StreamType is a named category of stream (ndi, srt, audio, ...). Created
// administratively, extensible at runtime; DefaultConfig pre-fills advertisements.
type StreamType struct {
	Name          string         `json:"name"`
	DisplayName   string         `json:"display_name"`
	Description   string         `json:"description,omitempty"`
	DefaultConfig map[string]any `json:"default_config,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// Advertisement is a publisher's live claim that a stream exists and is
// reachable. Liveness is owned by the presence store: the record is live only
// while now - last_heartbeat < the stream TTL.
type Advertisement struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	StreamType     string         `json:"stream_type"`
	PublisherID    string         `json:"publisher_id"`
	Protocol       string         `json:"protocol"`
	Address        string         `json:"address"`
	Port           int            `json:"port"`
	EntityID       string         `json:"entity_id,omitempty"`
	DeviceID       string         `json:"device_id,omitempty"`
	Config         map[string]any `json:"config,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	TypeRegistered bool           `json:"type_registered"`
	AdvertisedAt   time.Time      `json:"advertised_at"`
	LastHeartbeat  time.Time      `json:"last_heartbeat"`

	// Derived at read time from live sessions; never stored.
	ActiveSessions int `json:"active_sessions"`
}

// AdvertiseRequest is the request body for POST /streams/advertise.
type AdvertiseRequest struct {
	Name        string         `json:"name"`
	StreamType  string         `json:"stream_type"`
	PublisherID string         `json:"publisher_id"`
	Protocol    string         `json:"protocol"`
	Address     string         `json:"address"`
	Port        int            `json:"port"`
	EntityID    string         `json:"entity_id,omitempty"`
	DeviceID    string         `json:"device_id,omitempty"`
	Config      map[string]any `json:"config,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// CreateStreamTypeRequest is the request body for POST /streams/types.
type CreateStreamTypeRequest struct {
	Name          string         `json:"name"`
	DisplayName   string         `json:"display_name"`
	Description   string         `json:"description,omitempty"`
	DefaultConfig map[string]any `json:"default_config,omitempty"`
}

// StateSnapshot is the response for GET /streams/state.
type StateSnapshot struct {
	Streams  []Advertisement `json:"streams"`
	Sessions []Session       `json:"sessions"`
	Types    []StreamType    `json:"types"`
}
