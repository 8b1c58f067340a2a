package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/psds-microservice/stream-registry-service/internal/errs"
	"github.com/psds-microservice/stream-registry-service/internal/metrics"
	"github.com/psds-microservice/stream-registry-service/internal/model"
	"github.com/psds-microservice/stream-registry-service/internal/presence"
	"github.com/psds-microservice/stream-registry-service/internal/repository"
)

// Registry is the externally-facing operation set: discovery, advertisement
// lifecycle, negotiation entry point, session control, and history queries.
// All liveness truth lives in the presence store and durable storage; the
// only local state is the last sweep snapshot used to detect silent expiry
// for event notifications, which nothing else reads.
type Registry struct {
	presence presence.Store
	broker   *Broker
	tracker  *Tracker
	types    repository.TypeRepo
	events   *EventHub
	metrics  *metrics.Metrics
	ttl      time.Duration
	log      *zap.Logger
	now      func() time.Time

	sweepMu   sync.Mutex
	lastLive  map[string]model.Advertisement
	withdrawn map[string]struct{}
}

// NewRegistry creates the registry facade.
func NewRegistry(
	p presence.Store,
	broker *Broker,
	tracker *Tracker,
	types repository.TypeRepo,
	events *EventHub,
	m *metrics.Metrics,
	streamTTL time.Duration,
	log *zap.Logger,
) *Registry {
	return &Registry{
		presence:  p,
		broker:    broker,
		tracker:   tracker,
		types:     types,
		events:    events,
		metrics:   m,
		ttl:       streamTTL,
		log:       log,
		now:       time.Now,
		lastLive:  make(map[string]model.Advertisement),
		withdrawn: make(map[string]struct{}),
	}
}

// Advertise registers (or, for the same publisher and name, refreshes) a
// stream advertisement. Unknown stream types are accepted but flagged so
// operators can spot them.
func (r *Registry) Advertise(req model.AdvertiseRequest) (*model.Advertisement, error) {
	if err := validateAdvertise(req); err != nil {
		return nil, err
	}

	known, err := r.types.Exists(req.StreamType)
	if err != nil {
		// Type lookup is advisory only; never block an advertise on it.
		r.log.Warn("stream type lookup failed", zap.String("stream_type", req.StreamType), zap.Error(err))
		known = false
	}
	if !known {
		r.log.Warn("advertisement with unregistered stream type",
			zap.String("stream_type", req.StreamType),
			zap.String("publisher_id", req.PublisherID),
			zap.String("name", req.Name))
	}

	now := r.now().UTC()
	ad := &model.Advertisement{
		ID:             uuid.New().String(),
		Name:           req.Name,
		StreamType:     req.StreamType,
		PublisherID:    req.PublisherID,
		Protocol:       req.Protocol,
		Address:        req.Address,
		Port:           req.Port,
		EntityID:       req.EntityID,
		DeviceID:       req.DeviceID,
		Config:         req.Config,
		Metadata:       req.Metadata,
		TypeRegistered: known,
		AdvertisedAt:   now,
		LastHeartbeat:  now,
	}

	// Re-advertising a still-live stream keeps its identity; only heartbeat
	// and mutable parameters move.
	if existing := r.findByPublisherAndName(req.PublisherID, req.Name); existing != nil {
		ad.ID = existing.ID
		ad.AdvertisedAt = existing.AdvertisedAt
	}

	if err := r.putAdvertisement(ad); err != nil {
		return nil, err
	}
	r.metrics.IncAdvertisements()
	r.events.BroadcastStream(EventStreamAdvertised, ad)
	r.log.Info("stream advertised",
		zap.String("stream_id", ad.ID),
		zap.String("name", ad.Name),
		zap.String("stream_type", ad.StreamType),
		zap.String("publisher_id", ad.PublisherID))
	return ad, nil
}

// Heartbeat extends the advertisement TTL. Identity never changes: this is a
// refresh of the existing record, not a re-advertise.
func (r *Registry) Heartbeat(streamID string) error {
	data, err := r.presence.Get(presence.StreamKey(streamID))
	if err != nil {
		if errors.Is(err, presence.ErrNotFound) {
			return errs.ErrStreamNotFound
		}
		return err
	}
	var ad model.Advertisement
	if err := json.Unmarshal(data, &ad); err != nil {
		return fmt.Errorf("decode advertisement %s: %w", streamID, err)
	}
	ad.LastHeartbeat = r.now().UTC()
	if err := r.putAdvertisement(&ad); err != nil {
		return err
	}
	r.metrics.IncHeartbeats()
	return nil
}

// HeartbeatSession extends a session TTL.
func (r *Registry) HeartbeatSession(sessionID string) error {
	if err := r.tracker.HeartbeatSession(sessionID); err != nil {
		return err
	}
	r.metrics.IncHeartbeats()
	return nil
}

// Withdraw removes an advertisement and cascades: every session on the stream
// is force-ended with reason "stream withdrawn" even though its own TTL has
// not lapsed.
func (r *Registry) Withdraw(streamID string) error {
	ad, err := r.GetStream(streamID)
	if err != nil {
		return err
	}
	sessions, err := r.tracker.ListSessions(streamID)
	if err != nil {
		return err
	}
	for _, s := range sessions {
		if err := r.tracker.StopSession(s.ID, model.StopReasonWithdrawn); err != nil {
			r.log.Warn("cascade stop failed",
				zap.String("stream_id", streamID),
				zap.String("session_id", s.ID),
				zap.Error(err))
			continue
		}
		r.metrics.IncSessionsEnded()
	}
	if err := r.presence.Remove(presence.StreamKey(streamID)); err != nil {
		return err
	}
	r.metrics.IncWithdrawals()
	r.sweepMu.Lock()
	r.withdrawn[streamID] = struct{}{}
	r.sweepMu.Unlock()
	r.events.BroadcastStream(EventStreamWithdrawn, ad)
	r.log.Info("stream withdrawn",
		zap.String("stream_id", streamID),
		zap.Int("sessions_ended", len(sessions)))
	return nil
}

// ListStreams returns live advertisements, optionally filtered by stream
// type, with the derived active session count filled in.
func (r *Registry) ListStreams(streamType string) ([]model.Advertisement, error) {
	blobs, err := r.presence.Scan(presence.StreamKeyPrefix)
	if err != nil {
		return nil, err
	}
	counts, err := r.sessionCounts()
	if err != nil {
		return nil, err
	}
	out := make([]model.Advertisement, 0, len(blobs))
	for _, data := range blobs {
		var ad model.Advertisement
		if err := json.Unmarshal(data, &ad); err != nil {
			r.log.Warn("skipping undecodable advertisement entry", zap.Error(err))
			continue
		}
		if streamType != "" && ad.StreamType != streamType {
			continue
		}
		ad.ActiveSessions = counts[ad.ID]
		out = append(out, ad)
	}
	return out, nil
}

// GetStream returns one live advertisement.
func (r *Registry) GetStream(streamID string) (*model.Advertisement, error) {
	data, err := r.presence.Get(presence.StreamKey(streamID))
	if err != nil {
		if errors.Is(err, presence.ErrNotFound) {
			return nil, errs.ErrStreamNotFound
		}
		return nil, err
	}
	var ad model.Advertisement
	if err := json.Unmarshal(data, &ad); err != nil {
		return nil, fmt.Errorf("decode advertisement %s: %w", streamID, err)
	}
	counts, err := r.sessionCounts()
	if err != nil {
		return nil, err
	}
	ad.ActiveSessions = counts[ad.ID]
	return &ad, nil
}

// RequestStream negotiates consumption of a stream on behalf of a consumer.
func (r *Registry) RequestStream(ctx context.Context, streamID string, consumer model.ConsumerDescriptor) (*model.StreamOffer, error) {
	if consumer.ConsumerID == "" {
		return nil, errs.Validationf("consumer_id is required")
	}
	if consumer.ConsumerAddress == "" {
		return nil, errs.Validationf("consumer_address is required")
	}
	offer, err := r.broker.RequestStream(ctx, streamID, consumer)
	switch {
	case err == nil:
		r.metrics.IncNegotiations(metrics.OutcomeAccepted)
		r.metrics.IncSessionsStarted()
	case errors.Is(err, errs.ErrStreamNotFound):
		r.metrics.IncNegotiations(metrics.OutcomeNotFound)
	case errors.Is(err, errs.ErrNegotiationTimeout):
		r.metrics.IncNegotiations(metrics.OutcomeTimeout)
	case errors.Is(err, errs.ErrNegotiationRejected):
		r.metrics.IncNegotiations(metrics.OutcomeRejected)
	}
	return offer, err
}

// ListSessions returns live sessions, optionally filtered by stream id.
func (r *Registry) ListSessions(streamID string) ([]model.Session, error) {
	return r.tracker.ListSessions(streamID)
}

// StopSession stops one session.
func (r *Registry) StopSession(sessionID string, reason model.StopReason) error {
	if err := r.tracker.StopSession(sessionID, reason); err != nil {
		return err
	}
	r.metrics.IncSessionsEnded()
	return nil
}

// ListHistory queries durable session history.
func (r *Registry) ListHistory(f model.HistoryFilter) ([]model.SessionRecord, error) {
	return r.tracker.ListHistory(f)
}

// ListTypes returns all stream type definitions.
func (r *Registry) ListTypes() ([]model.StreamType, error) {
	return r.types.List()
}

// CreateType registers a new stream type definition.
func (r *Registry) CreateType(req model.CreateStreamTypeRequest) (*model.StreamType, error) {
	if req.Name == "" {
		return nil, errs.Validationf("name is required")
	}
	t := &model.StreamType{
		Name:          req.Name,
		DisplayName:   req.DisplayName,
		Description:   req.Description,
		DefaultConfig: req.DefaultConfig,
	}
	if t.DisplayName == "" {
		t.DisplayName = t.Name
	}
	if err := r.types.Create(t); err != nil {
		if errors.Is(err, repository.ErrTypeExists) {
			return nil, errs.Validationf("stream type %q already exists", req.Name)
		}
		return nil, err
	}
	return t, nil
}

// State returns the full live snapshot: streams, sessions, and types.
func (r *Registry) State() (*model.StateSnapshot, error) {
	streams, err := r.ListStreams("")
	if err != nil {
		return nil, err
	}
	sessions, err := r.tracker.ListSessions("")
	if err != nil {
		return nil, err
	}
	types, err := r.types.List()
	if err != nil {
		return nil, err
	}
	return &model.StateSnapshot{Streams: streams, Sessions: sessions, Types: types}, nil
}

// LiveCounts reports live stream and session counts (for metric gauges).
func (r *Registry) LiveCounts() (streams, sessions int) {
	if blobs, err := r.presence.Scan(presence.StreamKeyPrefix); err == nil {
		streams = len(blobs)
	}
	if blobs, err := r.presence.Scan(presence.SessionKeyPrefix); err == nil {
		sessions = len(blobs)
	}
	return streams, sessions
}

// NotifyExpired diffs the live stream set against the previous call and emits
// stream.expired events for advertisements that vanished without an explicit
// withdraw. Invoked from the housekeeping sweep; purely advisory, so a missed
// diff costs nothing but a dashboard notification.
func (r *Registry) NotifyExpired() {
	blobs, err := r.presence.Scan(presence.StreamKeyPrefix)
	if err != nil {
		r.log.Warn("expiry scan failed", zap.Error(err))
		return
	}
	current := make(map[string]model.Advertisement, len(blobs))
	for _, data := range blobs {
		var ad model.Advertisement
		if err := json.Unmarshal(data, &ad); err != nil {
			continue
		}
		current[ad.ID] = ad
	}

	r.sweepMu.Lock()
	var expired []model.Advertisement
	for id, ad := range r.lastLive {
		if _, live := current[id]; live {
			continue
		}
		if _, wd := r.withdrawn[id]; wd {
			continue
		}
		expired = append(expired, ad)
	}
	r.lastLive = current
	r.withdrawn = make(map[string]struct{})
	r.sweepMu.Unlock()

	for i := range expired {
		r.log.Info("stream expired",
			zap.String("stream_id", expired[i].ID),
			zap.String("name", expired[i].Name))
		r.events.BroadcastStream(EventStreamExpired, &expired[i])
	}
}

func (r *Registry) putAdvertisement(ad *model.Advertisement) error {
	data, err := json.Marshal(ad)
	if err != nil {
		return fmt.Errorf("encode advertisement: %w", err)
	}
	return r.presence.Put(presence.StreamKey(ad.ID), data, r.ttl)
}

func (r *Registry) findByPublisherAndName(publisherID, name string) *model.Advertisement {
	blobs, err := r.presence.Scan(presence.StreamKeyPrefix)
	if err != nil {
		return nil
	}
	for _, data := range blobs {
		var ad model.Advertisement
		if err := json.Unmarshal(data, &ad); err != nil {
			continue
		}
		if ad.PublisherID == publisherID && ad.Name == name {
			return &ad
		}
	}
	return nil
}

func (r *Registry) sessionCounts() (map[string]int, error) {
	sessions, err := r.tracker.ListSessions("")
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int, len(sessions))
	for _, s := range sessions {
		counts[s.StreamID]++
	}
	return counts, nil
}

func validateAdvertise(req model.AdvertiseRequest) error {
	switch {
	case req.Name == "":
		return errs.Validationf("name is required")
	case req.StreamType == "":
		return errs.Validationf("stream_type is required")
	case req.PublisherID == "":
		return errs.Validationf("publisher_id is required")
	case req.Protocol == "":
		return errs.Validationf("protocol is required")
	case req.Address == "":
		return errs.Validationf("address is required")
	case req.Port <= 0 || req.Port > 65535:
		return errs.Validationf("port must be between 1 and 65535")
	}
	return nil
}
