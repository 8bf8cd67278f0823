package repository

import (
	"context"
	"errors"

	"featuregate/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AccessInterface persists user-type access rules
type AccessInterface interface {
	Get(ctx context.Context, flagID uuid.UUID, userType string) (*model.UserTypeAccess, error)
	ListByUserType(ctx context.Context, userType string) ([]model.UserTypeAccess, error)
	ListByFlag(ctx context.Context, flagID uuid.UUID) ([]model.UserTypeAccess, error)
	Upsert(ctx context.Context, access *model.UserTypeAccess) error
	WithTx(tx *gorm.DB) any
}

type AccessRepository struct {
	db *gorm.DB
}

func NewAccessRepository(db *gorm.DB) *AccessRepository {
	return &AccessRepository{db: db}
}

func (r *AccessRepository) Get(ctx context.Context, flagID uuid.UUID, userType string) (*model.UserTypeAccess, error) {
	var access model.UserTypeAccess
	err := r.db.WithContext(ctx).
		Where("flag_id = ? AND user_type = ?", flagID, userType).
		First(&access).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &access, nil
}

func (r *AccessRepository) ListByUserType(ctx context.Context, userType string) ([]model.UserTypeAccess, error) {
	var rows []model.UserTypeAccess
	err := r.db.WithContext(ctx).Where("user_type = ?", userType).Find(&rows).Error
	return rows, err
}

func (r *AccessRepository) ListByFlag(ctx context.Context, flagID uuid.UUID) ([]model.UserTypeAccess, error) {
	var rows []model.UserTypeAccess
	err := r.db.WithContext(ctx).Where("flag_id = ?", flagID).Order("user_type ASC").Find(&rows).Error
	return rows, err
}

// Upsert inserts the rule or replaces state and default of the existing (flag, user type) row.
func (r *AccessRepository) Upsert(ctx context.Context, access *model.UserTypeAccess) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "flag_id"}, {Name: "user_type"}},
		DoUpdates: clause.AssignmentColumns([]string{"access_state", "default_enabled", "updated_at"}),
	}).Create(access).Error
}

func (r *AccessRepository) WithTx(tx *gorm.DB) any {
	return &AccessRepository{db: tx}
}
