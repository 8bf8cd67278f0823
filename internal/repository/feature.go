package repository

import (
	"context"
	"errors"

	"featuregate/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// keyColumn is quoted by the dialect; key is reserved in MySQL.
var keyColumn = clause.Column{Name: "key"}

// FlagInterface defines the interface for flag definition persistence
type FlagInterface interface {
	GetByKey(ctx context.Context, key string) (*model.FeatureFlag, error)
	GetByID(ctx context.Context, id uuid.UUID) (*model.FeatureFlag, error)
	GetAll(ctx context.Context) ([]model.FeatureFlag, error)
	List(ctx context.Context, search string) ([]model.FeatureFlag, error)
	Create(ctx context.Context, flag *model.FeatureFlag) error
	Save(ctx context.Context, flag *model.FeatureFlag) error
	WithTx(tx *gorm.DB) any
}

// FlagRepository implementation of FlagInterface on gorm
type FlagRepository struct {
	db *gorm.DB
}

func NewFlagRepository(db *gorm.DB) *FlagRepository {
	return &FlagRepository{db: db}
}

// GetByKey returns nil, nil when no flag has the key.
func (r *FlagRepository) GetByKey(ctx context.Context, key string) (*model.FeatureFlag, error) {
	var flag model.FeatureFlag
	if err := r.db.WithContext(ctx).Where(clause.Eq{Column: keyColumn, Value: key}).First(&flag).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &flag, nil
}

func (r *FlagRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.FeatureFlag, error) {
	var flag model.FeatureFlag
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&flag).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &flag, nil
}

func (r *FlagRepository) GetAll(ctx context.Context) ([]model.FeatureFlag, error) {
	var flags []model.FeatureFlag
	err := r.db.WithContext(ctx).Order(clause.OrderByColumn{Column: keyColumn}).Find(&flags).Error
	return flags, err
}

func (r *FlagRepository) List(ctx context.Context, search string) ([]model.FeatureFlag, error) {
	var flags []model.FeatureFlag
	query := r.db.WithContext(ctx)
	if search != "" {
		pattern := "%" + search + "%"
		query = query.Where(clause.Or(
			clause.Like{Column: keyColumn, Value: pattern},
			clause.Like{Column: clause.Column{Name: "name"}, Value: pattern},
		))
	}
	err := query.Order("updated_at DESC").Find(&flags).Error
	return flags, err
}

func (r *FlagRepository) Create(ctx context.Context, flag *model.FeatureFlag) error {
	return r.db.WithContext(ctx).Create(flag).Error
}

func (r *FlagRepository) Save(ctx context.Context, flag *model.FeatureFlag) error {
	return r.db.WithContext(ctx).Save(flag).Error
}

func (r *FlagRepository) WithTx(tx *gorm.DB) any {
	return &FlagRepository{db: tx}
}
