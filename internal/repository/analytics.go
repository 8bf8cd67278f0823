package repository

import (
	"context"

	"featuregate/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type AnalyticsInterface interface {
	Create(ctx context.Context, event *model.FeatureEvent) error
	// CountByType returns the number of events per event type for one flag.
	CountByType(ctx context.Context, flagID uuid.UUID) (map[string]int64, error)
}

type AnalyticsRepository struct {
	db *gorm.DB
}

func NewAnalyticsRepository(db *gorm.DB) *AnalyticsRepository {
	return &AnalyticsRepository{db: db}
}

func (r *AnalyticsRepository) Create(ctx context.Context, event *model.FeatureEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *AnalyticsRepository) CountByType(ctx context.Context, flagID uuid.UUID) (map[string]int64, error) {
	var rows []struct {
		EventType string
		Total     int64
	}
	err := r.db.WithContext(ctx).Model(&model.FeatureEvent{}).
		Select("event_type, COUNT(*) AS total").
		Where("flag_id = ?", flagID).
		Group("event_type").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		out[row.EventType] = row.Total
	}
	return out, nil
}
