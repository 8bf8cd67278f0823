package repository

import (
	"context"
	"strings"

	"featuregate/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// OverrideInterface persists scoped flag overrides
type OverrideInterface interface {
	// ListForScopes returns the overrides of every flag that target one of scopes.
	ListForScopes(ctx context.Context, scopes []model.OverrideScope) ([]model.FeatureFlagOverride, error)
	// ListForFlag is ListForScopes restricted to one flag, in a single query.
	ListForFlag(ctx context.Context, flagID uuid.UUID, scopes []model.OverrideScope) ([]model.FeatureFlagOverride, error)
	ListByFlag(ctx context.Context, flagID uuid.UUID) ([]model.FeatureFlagOverride, error)
	Has(ctx context.Context, flagID uuid.UUID, scopeType string, scopeID uuid.UUID) (bool, error)
	Set(ctx context.Context, o *model.FeatureFlagOverride) error
	Clear(ctx context.Context, flagID uuid.UUID, scopeType string, scopeID uuid.UUID) (bool, error)
	WithTx(tx *gorm.DB) any
}

type OverrideRepository struct {
	db *gorm.DB
}

func NewOverrideRepository(db *gorm.DB) *OverrideRepository {
	return &OverrideRepository{db: db}
}

func scopeCondition(scopes []model.OverrideScope) (string, []any) {
	conds := make([]string, 0, len(scopes))
	args := make([]any, 0, len(scopes)*2)
	for _, s := range scopes {
		conds = append(conds, "(scope_type = ? AND scope_id = ?)")
		args = append(args, s.Type, s.ID)
	}
	return "(" + strings.Join(conds, " OR ") + ")", args
}

func (r *OverrideRepository) ListForScopes(ctx context.Context, scopes []model.OverrideScope) ([]model.FeatureFlagOverride, error) {
	if len(scopes) == 0 {
		return nil, nil
	}
	var rows []model.FeatureFlagOverride
	cond, args := scopeCondition(scopes)
	err := r.db.WithContext(ctx).Where(cond, args...).Find(&rows).Error
	return rows, err
}

func (r *OverrideRepository) ListForFlag(ctx context.Context, flagID uuid.UUID, scopes []model.OverrideScope) ([]model.FeatureFlagOverride, error) {
	if len(scopes) == 0 {
		return nil, nil
	}
	var rows []model.FeatureFlagOverride
	cond, args := scopeCondition(scopes)
	err := r.db.WithContext(ctx).
		Where("flag_id = ?", flagID).
		Where(cond, args...).
		Find(&rows).Error
	return rows, err
}

func (r *OverrideRepository) ListByFlag(ctx context.Context, flagID uuid.UUID) ([]model.FeatureFlagOverride, error) {
	var rows []model.FeatureFlagOverride
	err := r.db.WithContext(ctx).
		Where("flag_id = ?", flagID).
		Order("scope_type ASC, scope_id ASC").
		Find(&rows).Error
	return rows, err
}

func (r *OverrideRepository) Has(ctx context.Context, flagID uuid.UUID, scopeType string, scopeID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.FeatureFlagOverride{}).
		Where("flag_id = ? AND scope_type = ? AND scope_id = ?", flagID, scopeType, scopeID).
		Count(&count).Error
	return count > 0, err
}

// Set inserts the override or replaces the value of the existing one for the same scope.
func (r *OverrideRepository) Set(ctx context.Context, o *model.FeatureFlagOverride) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "flag_id"}, {Name: "scope_type"}, {Name: "scope_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"is_enabled", "created_by", "updated_at"}),
	}).Create(o).Error
}

func (r *OverrideRepository) Clear(ctx context.Context, flagID uuid.UUID, scopeType string, scopeID uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).
		Where("flag_id = ? AND scope_type = ? AND scope_id = ?", flagID, scopeType, scopeID).
		Delete(&model.FeatureFlagOverride{})
	return res.RowsAffected > 0, res.Error
}

func (r *OverrideRepository) WithTx(tx *gorm.DB) any {
	return &OverrideRepository{db: tx}
}
