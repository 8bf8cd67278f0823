package repository

import (
	"context"
	"errors"

	"featuregate/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PreferenceInterface interface {
	ListByUser(ctx context.Context, userID uuid.UUID) ([]model.UserFeaturePreference, error)
	Get(ctx context.Context, userID, flagID uuid.UUID) (*model.UserFeaturePreference, error)
	Upsert(ctx context.Context, pref *model.UserFeaturePreference) error
}

type PreferenceRepository struct {
	db *gorm.DB
}

func NewPreferenceRepository(db *gorm.DB) *PreferenceRepository {
	return &PreferenceRepository{db: db}
}

func (r *PreferenceRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]model.UserFeaturePreference, error) {
	var rows []model.UserFeaturePreference
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Find(&rows).Error
	return rows, err
}

func (r *PreferenceRepository) Get(ctx context.Context, userID, flagID uuid.UUID) (*model.UserFeaturePreference, error) {
	var pref model.UserFeaturePreference
	err := r.db.WithContext(ctx).Where("user_id = ? AND flag_id = ?", userID, flagID).First(&pref).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &pref, nil
}

// Upsert is last-writer-wins on (user, flag).
func (r *PreferenceRepository) Upsert(ctx context.Context, pref *model.UserFeaturePreference) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "flag_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"is_enabled", "updated_at"}),
	}).Create(pref).Error
}
