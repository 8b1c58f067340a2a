// Package repository holds the durable-storage access layer. Only the session
// tracker writes history rows; everything else reads.
package repository

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"

	"github.com/psds-microservice/stream-registry-service/internal/model"
)

// HistoryRepo persists immutable per-session audit rows.
type HistoryRepo interface {
	// Append inserts the row for a freshly negotiated session (status active).
	Append(rec *model.SessionRecord) error
	// Finish writes the terminal state exactly once: it only touches rows
	// still in status active, so ended rows are never rewritten.
	Finish(sessionID, status, errorMessage string, endedAt time.Time) error
	// ListActiveIDs returns ids of rows still marked active (for the stale
	// session sweep).
	ListActiveIDs() ([]string, error)
	// List queries history most-recent-first. The filter's limit must already
	// be clamped by the caller.
	List(f model.HistoryFilter) ([]model.SessionRecord, error)
	// PurgeOlderThan deletes rows whose session started before cutoff and
	// returns how many were removed.
	PurgeOlderThan(cutoff time.Time) (int64, error)
}

// GormHistoryRepo is the PostgreSQL implementation.
type GormHistoryRepo struct {
	db *gorm.DB
}

// NewHistoryRepo creates the gorm-backed history repository.
func NewHistoryRepo(db *gorm.DB) *GormHistoryRepo {
	return &GormHistoryRepo{db: db}
}

// Append implements HistoryRepo.Append.
func (r *GormHistoryRepo) Append(rec *model.SessionRecord) error {
	return r.db.Create(rec).Error
}

// Finish implements HistoryRepo.Finish. Duration is derived from the stored
// started_at so the row stays self-consistent.
func (r *GormHistoryRepo) Finish(sessionID, status, errorMessage string, endedAt time.Time) error {
	var rec model.SessionRecord
	err := r.db.Where("id = ? AND status = ?", sessionID, string(model.SessionStatusActive)).
		First(&rec).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil
		}
		return err
	}
	duration := endedAt.Sub(rec.StartedAt).Milliseconds()
	return r.db.Model(&rec).
		Where("status = ?", string(model.SessionStatusActive)).
		Updates(map[string]interface{}{
			"status":        status,
			"error_message": errorMessage,
			"ended_at":      endedAt,
			"duration_ms":   duration,
		}).Error
}

// ListActiveIDs implements HistoryRepo.ListActiveIDs.
func (r *GormHistoryRepo) ListActiveIDs() ([]string, error) {
	var ids []string
	err := r.db.Model(&model.SessionRecord{}).
		Where("status = ?", string(model.SessionStatusActive)).
		Pluck("id", &ids).Error
	return ids, err
}

// List implements HistoryRepo.List.
func (r *GormHistoryRepo) List(f model.HistoryFilter) ([]model.SessionRecord, error) {
	q := r.db.Model(&model.SessionRecord{})
	if f.StreamID != "" {
		q = q.Where("stream_id = ?", f.StreamID)
	}
	if f.PublisherID != "" {
		q = q.Where("publisher_id = ?", f.PublisherID)
	}
	if f.ConsumerID != "" {
		q = q.Where("consumer_id = ?", f.ConsumerID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	var recs []model.SessionRecord
	err := q.Order("started_at DESC").Limit(f.Limit).Find(&recs).Error
	return recs, err
}

// PurgeOlderThan implements HistoryRepo.PurgeOlderThan.
func (r *GormHistoryRepo) PurgeOlderThan(cutoff time.Time) (int64, error) {
	res := r.db.Where("started_at < ?", cutoff).Delete(&model.SessionRecord{})
	return res.RowsAffected, res.Error
}

// RecordFromSession builds the history row for a new session.
func RecordFromSession(s *model.Session) *model.SessionRecord {
	transport := ""
	if len(s.TransportConfig) > 0 {
		if data, err := json.Marshal(s.TransportConfig); err == nil {
			transport = string(data)
		}
	}
	return &model.SessionRecord{
		ID:               s.ID,
		StreamID:         s.StreamID,
		StreamName:       s.StreamName,
		StreamType:       s.StreamType,
		PublisherID:      s.PublisherID,
		PublisherAddress: s.PublisherAddress,
		ConsumerID:       s.ConsumerID,
		ConsumerAddress:  s.ConsumerAddress,
		Protocol:         s.Protocol,
		TransportConfig:  transport,
		Status:           string(model.SessionStatusActive),
		StartedAt:        s.StartedAt,
	}
}
