// Package presence is the ephemeral, TTL-expiring key/value store backing
// liveness of stream advertisements and active sessions. It is the sole owner
// of liveness truth: a record that has expired must be treated as absent even
// if the backend has not physically reaped it yet, so every implementation
// re-checks expiry on read.
package presence

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a key is absent or already expired. Callers
// must interpret it as "the holder must re-advertise / re-negotiate", not as a
// transient fault.
var ErrNotFound = errors.New("presence: key not found")

// Store holds TTL-bound records keyed by identifier.
type Store interface {
	// Put inserts or replaces a value with an absolute expiry of now+ttl.
	Put(key string, value []byte, ttl time.Duration) error
	// Refresh extends the expiry of an existing key without altering its
	// value. Returns ErrNotFound if the key is absent or expired.
	Refresh(key string, ttl time.Duration) error
	// Get returns the value, or ErrNotFound if absent or expired.
	Get(key string) ([]byte, error)
	// Remove deletes a key. Idempotent: missing keys are not an error.
	Remove(key string) error
	// Scan returns all live values whose key starts with prefix. Entries that
	// have expired but not yet been reaped are excluded.
	Scan(prefix string) ([][]byte, error)
}

// Key layout: one key per advertised stream, one per active session.
const (
	StreamKeyPrefix  = "stream."
	SessionKeyPrefix = "session."
)

// StreamKey returns the presence key for a stream advertisement.
func StreamKey(streamID string) string { return StreamKeyPrefix + streamID }

// SessionKey returns the presence key for an active session.
func SessionKey(sessionID string) string { return SessionKeyPrefix + sessionID }
