package repository

import (
	"context"
	"errors"

	"featuregate/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type DescriptorInterface interface {
	Get(ctx context.Context, flagID uuid.UUID) (*model.FeatureDescriptor, error)
	GetAll(ctx context.Context) ([]model.FeatureDescriptor, error)
	Upsert(ctx context.Context, d *model.FeatureDescriptor) error
	WithTx(tx *gorm.DB) any
}

type DescriptorRepository struct {
	db *gorm.DB
}

func NewDescriptorRepository(db *gorm.DB) *DescriptorRepository {
	return &DescriptorRepository{db: db}
}

func (r *DescriptorRepository) Get(ctx context.Context, flagID uuid.UUID) (*model.FeatureDescriptor, error) {
	var d model.FeatureDescriptor
	if err := r.db.WithContext(ctx).Where("flag_id = ?", flagID).First(&d).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &d, nil
}

func (r *DescriptorRepository) GetAll(ctx context.Context) ([]model.FeatureDescriptor, error) {
	var rows []model.FeatureDescriptor
	err := r.db.WithContext(ctx).Find(&rows).Error
	return rows, err
}

func (r *DescriptorRepository) Upsert(ctx context.Context, d *model.FeatureDescriptor) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "flag_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"category", "display_name", "icon", "badge", "short_description", "sort_order", "updated_at",
		}),
	}).Create(d).Error
}

func (r *DescriptorRepository) WithTx(tx *gorm.DB) any {
	return &DescriptorRepository{db: tx}
}
