package repository

import (
	"context"
	"errors"
	"time"

	"featuregate/internal/model"
	"featuregate/pkg/constraints"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CatalogInterface persists packages, their flags and organization subscriptions
type CatalogInterface interface {
	CreatePackage(ctx context.Context, pkg *model.FeaturePackage) error
	GetPackageByKey(ctx context.Context, key string) (*model.FeaturePackage, error)
	ListPackages(ctx context.Context) ([]model.FeaturePackage, error)
	AddFlag(ctx context.Context, packageID, flagID uuid.UUID) error
	RemoveFlag(ctx context.Context, packageID, flagID uuid.UUID) (bool, error)
	PackageFlagKeys(ctx context.Context, packageID uuid.UUID) ([]string, error)
	PackagesForFlag(ctx context.Context, flagID uuid.UUID) ([]model.FeaturePackage, error)

	// ActivePackageFlagIDs returns the flags granted to orgID by subscriptions active at now.
	ActivePackageFlagIDs(ctx context.Context, orgID uuid.UUID, now time.Time) ([]uuid.UUID, error)
	ActivePackageIDs(ctx context.Context, orgID uuid.UUID, now time.Time) ([]uuid.UUID, error)
	FlagInActivePackage(ctx context.Context, orgID, flagID uuid.UUID, now time.Time) (bool, error)

	Subscribe(ctx context.Context, sub *model.OrganizationPackageSubscription) error
	GetSubscription(ctx context.Context, id uuid.UUID) (*model.OrganizationPackageSubscription, error)
	CancelSubscription(ctx context.Context, id uuid.UUID) (bool, error)
	ListSubscriptions(ctx context.Context, orgID uuid.UUID) ([]model.OrganizationPackageSubscription, error)
	ExpireElapsed(ctx context.Context, now time.Time) (int64, error)
	WithTx(tx *gorm.DB) any
}

type CatalogRepository struct {
	db *gorm.DB
}

func NewCatalogRepository(db *gorm.DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

func (r *CatalogRepository) CreatePackage(ctx context.Context, pkg *model.FeaturePackage) error {
	return r.db.WithContext(ctx).Create(pkg).Error
}

func (r *CatalogRepository) GetPackageByKey(ctx context.Context, key string) (*model.FeaturePackage, error) {
	var pkg model.FeaturePackage
	if err := r.db.WithContext(ctx).Where(clause.Eq{Column: keyColumn, Value: key}).First(&pkg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &pkg, nil
}

func (r *CatalogRepository) ListPackages(ctx context.Context) ([]model.FeaturePackage, error) {
	var pkgs []model.FeaturePackage
	err := r.db.WithContext(ctx).
		Order("sort_order ASC").
		Order(clause.OrderByColumn{Column: keyColumn}).
		Find(&pkgs).Error
	return pkgs, err
}

// AddFlag is a no-op when the flag is already part of the package.
func (r *CatalogRepository) AddFlag(ctx context.Context, packageID, flagID uuid.UUID) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model.PackageFeature{PackageID: packageID, FlagID: flagID}).Error
}

func (r *CatalogRepository) RemoveFlag(ctx context.Context, packageID, flagID uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).
		Where("package_id = ? AND flag_id = ?", packageID, flagID).
		Delete(&model.PackageFeature{})
	return res.RowsAffected > 0, res.Error
}

func (r *CatalogRepository) PackageFlagKeys(ctx context.Context, packageID uuid.UUID) ([]string, error) {
	var keys []string
	err := r.db.WithContext(ctx).Model(&model.FeatureFlag{}).
		Joins("JOIN package_features pf ON pf.flag_id = feature_flags.id").
		Where("pf.package_id = ?", packageID).
		Order(clause.OrderByColumn{Column: clause.Column{Table: "feature_flags", Name: "key"}}).
		Pluck("feature_flags.key", &keys).Error
	return keys, err
}

func (r *CatalogRepository) PackagesForFlag(ctx context.Context, flagID uuid.UUID) ([]model.FeaturePackage, error) {
	var pkgs []model.FeaturePackage
	err := r.db.WithContext(ctx).
		Joins("JOIN package_features pf ON pf.package_id = feature_packages.id").
		Where("pf.flag_id = ?", flagID).
		Order("feature_packages.sort_order ASC").
		Find(&pkgs).Error
	return pkgs, err
}

// activeSubscriptions scopes a query on organization_package_subscriptions to
// the rows granting their package at now. Window bounds are stored in UTC and
// sqlite compares them as text, so now is converted before binding.
func activeSubscriptions(db *gorm.DB, orgID uuid.UUID, now time.Time) *gorm.DB {
	now = now.UTC()
	return db.
		Where("s.organization_id = ? AND s.status = ?", orgID, constraints.SubscriptionActive).
		Where("s.started_at <= ?", now).
		Where("(s.expires_at IS NULL OR s.expires_at > ?)", now)
}

func (r *CatalogRepository) ActivePackageFlagIDs(ctx context.Context, orgID uuid.UUID, now time.Time) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	q := r.db.WithContext(ctx).Table("package_features pf").
		Joins("JOIN organization_package_subscriptions s ON s.package_id = pf.package_id")
	err := activeSubscriptions(q, orgID, now).Distinct().Pluck("pf.flag_id", &ids).Error
	return ids, err
}

func (r *CatalogRepository) ActivePackageIDs(ctx context.Context, orgID uuid.UUID, now time.Time) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	q := r.db.WithContext(ctx).Table("organization_package_subscriptions s")
	err := activeSubscriptions(q, orgID, now).Distinct().Pluck("s.package_id", &ids).Error
	return ids, err
}

func (r *CatalogRepository) FlagInActivePackage(ctx context.Context, orgID, flagID uuid.UUID, now time.Time) (bool, error) {
	var count int64
	q := r.db.WithContext(ctx).Table("package_features pf").
		Joins("JOIN organization_package_subscriptions s ON s.package_id = pf.package_id").
		Where("pf.flag_id = ?", flagID)
	err := activeSubscriptions(q, orgID, now).Count(&count).Error
	return count > 0, err
}

func (r *CatalogRepository) Subscribe(ctx context.Context, sub *model.OrganizationPackageSubscription) error {
	sub.StartedAt = sub.StartedAt.UTC()
	if sub.ExpiresAt != nil {
		exp := sub.ExpiresAt.UTC()
		sub.ExpiresAt = &exp
	}
	return r.db.WithContext(ctx).Create(sub).Error
}

// GetSubscription returns nil when id is unknown.
func (r *CatalogRepository) GetSubscription(ctx context.Context, id uuid.UUID) (*model.OrganizationPackageSubscription, error) {
	var sub model.OrganizationPackageSubscription
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *CatalogRepository) CancelSubscription(ctx context.Context, id uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.OrganizationPackageSubscription{}).
		Where("id = ? AND status = ?", id, constraints.SubscriptionActive).
		Update("status", constraints.SubscriptionCancelled)
	return res.RowsAffected > 0, res.Error
}

func (r *CatalogRepository) ListSubscriptions(ctx context.Context, orgID uuid.UUID) ([]model.OrganizationPackageSubscription, error) {
	var subs []model.OrganizationPackageSubscription
	err := r.db.WithContext(ctx).
		Where("organization_id = ?", orgID).
		Order("started_at DESC").
		Find(&subs).Error
	return subs, err
}

// ExpireElapsed marks active subscriptions whose expiry has passed as expired.
func (r *CatalogRepository) ExpireElapsed(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&model.OrganizationPackageSubscription{}).
		Where("status = ? AND expires_at IS NOT NULL AND expires_at <= ?", constraints.SubscriptionActive, now.UTC()).
		Update("status", constraints.SubscriptionExpired)
	return res.RowsAffected, res.Error
}

func (r *CatalogRepository) WithTx(tx *gorm.DB) any {
	return &CatalogRepository{db: tx}
}
