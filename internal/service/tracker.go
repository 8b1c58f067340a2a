package service

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/psds-microservice/stream-registry-service/internal/errs"
	"github.com/psds-microservice/stream-registry-service/internal/model"
	"github.com/psds-microservice/stream-registry-service/internal/presence"
	"github.com/psds-microservice/stream-registry-service/internal/repository"
)

const (
	historyLimitDefault = 50
	historyLimitMax     = 500
)

// Tracker turns successful negotiations into TTL-bound live state plus an
// immutable audit trail. The presence store owns liveness, durable storage
// owns history; the tracker is the only writer of history rows.
type Tracker struct {
	presence presence.Store
	history  repository.HistoryRepo
	events   *EventHub
	ttl      time.Duration
	log      *zap.Logger
	now      func() time.Time
}

// NewTracker creates the session tracker. events may be nil.
func NewTracker(p presence.Store, h repository.HistoryRepo, events *EventHub, ttl time.Duration, log *zap.Logger) *Tracker {
	return &Tracker{
		presence: p,
		history:  h,
		events:   events,
		ttl:      ttl,
		log:      log,
		now:      time.Now,
	}
}

// CreateSession materializes a session from an accepted negotiation. The
// presence write must succeed before a session id is returned; the history
// append is best-effort logging and never fails the negotiation.
func (t *Tracker) CreateSession(ad *model.Advertisement, consumer model.ConsumerDescriptor, transport map[string]any) (*model.Session, error) {
	s := &model.Session{
		ID:               uuid.New().String(),
		StreamID:         ad.ID,
		StreamName:       ad.Name,
		StreamType:       ad.StreamType,
		PublisherID:      ad.PublisherID,
		PublisherAddress: ad.Address,
		ConsumerID:       consumer.ConsumerID,
		ConsumerAddress:  consumer.ConsumerAddress,
		Protocol:         ad.Protocol,
		TransportConfig:  transport,
		Status:           model.SessionStatusActive,
		StartedAt:        t.now().UTC(),
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode session: %w", err)
	}
	if err := t.presence.Put(presence.SessionKey(s.ID), data, t.ttl); err != nil {
		return nil, fmt.Errorf("track session: %w", err)
	}
	if err := t.history.Append(repository.RecordFromSession(s)); err != nil {
		t.log.Warn("history append failed",
			zap.String("session_id", s.ID),
			zap.String("stream_id", s.StreamID),
			zap.Error(err))
	}
	t.events.BroadcastSession(EventSessionStarted, s)
	return s, nil
}

// HeartbeatSession refreshes the session TTL. ErrSessionNotFound means the
// caller must treat the session as dead and re-negotiate.
func (t *Tracker) HeartbeatSession(sessionID string) error {
	if err := t.presence.Refresh(presence.SessionKey(sessionID), t.ttl); err != nil {
		if err == presence.ErrNotFound {
			return errs.ErrSessionNotFound
		}
		return err
	}
	return nil
}

// GetSession returns a live session.
func (t *Tracker) GetSession(sessionID string) (*model.Session, error) {
	data, err := t.presence.Get(presence.SessionKey(sessionID))
	if err != nil {
		if err == presence.ErrNotFound {
			return nil, errs.ErrSessionNotFound
		}
		return nil, err
	}
	var s model.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", sessionID, err)
	}
	return &s, nil
}

// StopSession removes the live session and writes its terminal history state.
func (t *Tracker) StopSession(sessionID string, reason model.StopReason) error {
	s, err := t.GetSession(sessionID)
	if err != nil {
		return err
	}
	if err := t.presence.Remove(presence.SessionKey(sessionID)); err != nil {
		return err
	}
	t.finishHistory(sessionID, reason)
	s.Status = terminalStatus(reason)
	t.events.BroadcastSession(EventSessionEnded, s)
	return nil
}

// ExpireSession force-ends a session whose TTL lapsed without a heartbeat.
// The presence entry is usually already gone, so this only settles history.
func (t *Tracker) ExpireSession(sessionID string) {
	_ = t.presence.Remove(presence.SessionKey(sessionID))
	t.finishHistory(sessionID, model.StopReasonTimedOut)
}

// ExpireStale reconciles history against the presence store: rows still
// marked active whose presence key is gone are force-ended. Invoked
// periodically; discovery never reads history, so lag here is harmless.
func (t *Tracker) ExpireStale() {
	ids, err := t.history.ListActiveIDs()
	if err != nil {
		t.log.Warn("stale session scan failed", zap.Error(err))
		return
	}
	for _, id := range ids {
		if _, err := t.presence.Get(presence.SessionKey(id)); err == nil {
			continue
		}
		t.log.Info("expiring stale session", zap.String("session_id", id))
		t.ExpireSession(id)
	}
}

// ListSessions returns live sessions, optionally filtered by stream id.
func (t *Tracker) ListSessions(streamID string) ([]model.Session, error) {
	blobs, err := t.presence.Scan(presence.SessionKeyPrefix)
	if err != nil {
		return nil, err
	}
	out := make([]model.Session, 0, len(blobs))
	for _, data := range blobs {
		var s model.Session
		if err := json.Unmarshal(data, &s); err != nil {
			t.log.Warn("skipping undecodable session entry", zap.Error(err))
			continue
		}
		if streamID != "" && s.StreamID != streamID {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

// ListHistory queries durable history, most-recent-first. Limit is clamped to
// 1..500 with a default of 50.
func (t *Tracker) ListHistory(f model.HistoryFilter) ([]model.SessionRecord, error) {
	if f.Limit <= 0 {
		f.Limit = historyLimitDefault
	}
	if f.Limit > historyLimitMax {
		f.Limit = historyLimitMax
	}
	return t.history.List(f)
}

// PurgeHistory deletes rows older than the retention window.
func (t *Tracker) PurgeHistory(retention time.Duration) {
	cutoff := t.now().Add(-retention)
	removed, err := t.history.PurgeOlderThan(cutoff)
	if err != nil {
		t.log.Warn("history purge failed", zap.Error(err))
		return
	}
	if removed > 0 {
		t.log.Info("history purged", zap.Int64("rows", removed), zap.Time("cutoff", cutoff))
	}
}

func (t *Tracker) finishHistory(sessionID string, reason model.StopReason) {
	status := terminalStatus(reason)
	if err := t.history.Finish(sessionID, string(status), reason.Reason, t.now().UTC()); err != nil {
		t.log.Warn("history finish failed",
			zap.String("session_id", sessionID),
			zap.Error(err))
	}
}

func terminalStatus(reason model.StopReason) model.SessionStatus {
	if reason.Failed {
		return model.SessionStatusFailed
	}
	return model.SessionStatusEnded
}
