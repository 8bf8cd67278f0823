package model

import (
	"time"

	"featuregate/pkg/constraints"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// FeaturePackage is a purchasable bundle of flags.
type FeaturePackage struct {
	ID          uuid.UUID `gorm:"primaryKey;size:36" json:"id"`
	Key         string    `gorm:"uniqueIndex;size:128;not null" json:"key"`
	Name        string    `gorm:"size:255;not null" json:"name"`
	Description string    `gorm:"type:text" json:"description"`
	PriceLabel  string    `gorm:"size:64" json:"price_label"`
	SortOrder   int       `gorm:"not null" json:"sort_order"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (p *FeaturePackage) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

type PackageFeature struct {
	PackageID uuid.UUID `gorm:"primaryKey;size:36"`
	FlagID    uuid.UUID `gorm:"primaryKey;size:36;index"`
	CreatedAt time.Time
}

func (PackageFeature) TableName() string {
	return "package_features"
}

type OrganizationPackageSubscription struct {
	ID             uuid.UUID  `gorm:"primaryKey;size:36" json:"id"`
	OrganizationID uuid.UUID  `gorm:"size:36;not null;index" json:"organization_id"`
	PackageID      uuid.UUID  `gorm:"size:36;not null;index" json:"package_id"`
	Status         string     `gorm:"size:16;not null;index" json:"status"`
	StartedAt      time.Time  `gorm:"not null" json:"started_at"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func (OrganizationPackageSubscription) TableName() string {
	return "organization_package_subscriptions"
}

func (s *OrganizationPackageSubscription) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// ActiveAt reports whether the subscription grants its package at t.
func (s *OrganizationPackageSubscription) ActiveAt(t time.Time) bool {
	if s.Status != constraints.SubscriptionActive || s.StartedAt.After(t) {
		return false
	}
	return s.ExpiresAt == nil || t.Before(*s.ExpiresAt)
}
