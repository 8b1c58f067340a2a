package model

import "time"

// SessionRecord — историческая запись сессии (GORM). Append-only: terminal
// fields are written once when the session ends and never mutated afterwards.
type SessionRecord struct {
	ID               string     `gorm:"type:uuid;primaryKey"`
	StreamID         string     `gorm:"type:uuid;not null;index"`
	StreamName       string     `gorm:"size:255;not null"`
	StreamType       string     `gorm:"size:64;not null"`
	PublisherID      string     `gorm:"size:255;not null;index"`
	PublisherAddress string     `gorm:"size:255;not null"`
	ConsumerID       string     `gorm:"size:255;not null;index"`
	ConsumerAddress  string     `gorm:"size:255;not null"`
	Protocol         string     `gorm:"size:32;not null"`
	TransportConfig  string     `gorm:"type:jsonb"`
	Status           string     `gorm:"size:20;not null;default:active;index"`
	ErrorMessage     string     `gorm:"column:error_message"`
	StartedAt        time.Time  `gorm:"not null;index"`
	EndedAt          *time.Time `gorm:"column:ended_at"`
	DurationMs       *int64     `gorm:"column:duration_ms"`
	BytesTransferred *int64     `gorm:"column:bytes_transferred"`
}

func (SessionRecord) TableName() string { return "stream_session_history" }

// StreamTypeRecord — определение типа стрима (GORM).
type StreamTypeRecord struct {
	Name          string    `gorm:"size:64;primaryKey"`
	DisplayName   string    `gorm:"size:255;not null"`
	Description   string    `gorm:"column:description"`
	DefaultConfig string    `gorm:"type:jsonb"`
	CreatedAt     time.Time `gorm:"autoCreateTime"`
}

func (StreamTypeRecord) TableName() string { return "stream_types" }
