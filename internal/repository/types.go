package repository

import (
	"encoding/json"
	"errors"

	"gorm.io/gorm"

	"github.com/psds-microservice/stream-registry-service/internal/model"
)

// ErrTypeExists is returned when creating a stream type whose name is taken.
var ErrTypeExists = errors.New("stream type already exists")

// TypeRepo persists stream type definitions.
type TypeRepo interface {
	List() ([]model.StreamType, error)
	Exists(name string) (bool, error)
	Create(t *model.StreamType) error
}

// GormTypeRepo is the PostgreSQL implementation.
type GormTypeRepo struct {
	db *gorm.DB
}

// NewTypeRepo creates the gorm-backed stream type repository.
func NewTypeRepo(db *gorm.DB) *GormTypeRepo {
	return &GormTypeRepo{db: db}
}

// List implements TypeRepo.List.
func (r *GormTypeRepo) List() ([]model.StreamType, error) {
	var recs []model.StreamTypeRecord
	if err := r.db.Order("name").Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]model.StreamType, 0, len(recs))
	for i := range recs {
		out = append(out, typeFromRecord(&recs[i]))
	}
	return out, nil
}

// Exists implements TypeRepo.Exists.
func (r *GormTypeRepo) Exists(name string) (bool, error) {
	var count int64
	err := r.db.Model(&model.StreamTypeRecord{}).Where("name = ?", name).Count(&count).Error
	return count > 0, err
}

// Create implements TypeRepo.Create.
func (r *GormTypeRepo) Create(t *model.StreamType) error {
	exists, err := r.Exists(t.Name)
	if err != nil {
		return err
	}
	if exists {
		return ErrTypeExists
	}
	config := ""
	if len(t.DefaultConfig) > 0 {
		if data, err := json.Marshal(t.DefaultConfig); err == nil {
			config = string(data)
		}
	}
	rec := &model.StreamTypeRecord{
		Name:          t.Name,
		DisplayName:   t.DisplayName,
		Description:   t.Description,
		DefaultConfig: config,
	}
	if err := r.db.Create(rec).Error; err != nil {
		return err
	}
	t.CreatedAt = rec.CreatedAt
	return nil
}

func typeFromRecord(rec *model.StreamTypeRecord) model.StreamType {
	t := model.StreamType{
		Name:        rec.Name,
		DisplayName: rec.DisplayName,
		Description: rec.Description,
		CreatedAt:   rec.CreatedAt,
	}
	if rec.DefaultConfig != "" {
		_ = json.Unmarshal([]byte(rec.DefaultConfig), &t.DefaultConfig)
	}
	return t
}
