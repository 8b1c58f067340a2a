package presence

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// kvEnvelope wraps stored values with an explicit expiry. The bucket TTL only
// bounds the coarse upper lifetime; the precise per-key expiry is re-checked
// here on every read because bucket-level reaping can lag.
type kvEnvelope struct {
	Value     json.RawMessage `json:"value"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// NATSKVStore implements Store on a NATS JetStream key/value bucket, so
// multiple registry instances can share liveness state.
type NATSKVStore struct {
	kv  nats.KeyValue
	now func() time.Time
}

// NewNATSKVStore creates (or binds to) a memory-storage KV bucket. maxTTL is
// the bucket-level lifetime and should exceed every per-key TTL used with it.
func NewNATSKVStore(js nats.JetStreamContext, bucket string, maxTTL time.Duration) (*NATSKVStore, error) {
	kv, err := js.CreateKeyValue(&nats.KeyValueConfig{
		Bucket:  bucket,
		History: 1,
		Storage: nats.MemoryStorage,
		TTL:     maxTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("create kv bucket %q: %w", bucket, err)
	}
	return &NATSKVStore{kv: kv, now: time.Now}, nil
}

// Put implements Store.Put.
func (s *NATSKVStore) Put(key string, value []byte, ttl time.Duration) error {
	data, err := json.Marshal(kvEnvelope{Value: value, ExpiresAt: s.now().Add(ttl)})
	if err != nil {
		return err
	}
	_, err = s.kv.Put(key, data)
	return err
}

// Refresh implements Store.Refresh.
func (s *NATSKVStore) Refresh(key string, ttl time.Duration) error {
	env, err := s.getLive(key)
	if err != nil {
		return err
	}
	env.ExpiresAt = s.now().Add(ttl)
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	_, err = s.kv.Put(key, data)
	return err
}

// Get implements Store.Get.
func (s *NATSKVStore) Get(key string) ([]byte, error) {
	env, err := s.getLive(key)
	if err != nil {
		return nil, err
	}
	return env.Value, nil
}

// Remove implements Store.Remove.
func (s *NATSKVStore) Remove(key string) error {
	err := s.kv.Delete(key)
	if err != nil && !errors.Is(err, nats.ErrKeyNotFound) {
		return err
	}
	return nil
}

// Scan implements Store.Scan.
func (s *NATSKVStore) Scan(prefix string) ([][]byte, error) {
	keys, err := s.kv.Keys()
	if err != nil {
		if errors.Is(err, nats.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, err
	}
	var out [][]byte
	for _, k := range keys {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		env, err := s.getLive(k)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, env.Value)
	}
	return out, nil
}

func (s *NATSKVStore) getLive(key string) (*kvEnvelope, error) {
	entry, err := s.kv.Get(key)
	if err != nil {
		if errors.Is(err, nats.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var env kvEnvelope
	if err := json.Unmarshal(entry.Value(), &env); err != nil {
		return nil, fmt.Errorf("decode kv entry %q: %w", key, err)
	}
	if !s.now().Before(env.ExpiresAt) {
		_ = s.kv.Delete(key)
		return nil, ErrNotFound
	}
	return &env, nil
}
