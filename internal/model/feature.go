package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type FeatureFlag struct {
	ID          uuid.UUID `gorm:"primaryKey;size:36" json:"id"`
	Key         string    `gorm:"uniqueIndex;size:128;not null" json:"key"`
	Name        string    `gorm:"size:255;not null" json:"name"`
	Description string    `gorm:"type:text" json:"description"`
	IsEnabled   bool      `gorm:"not null" json:"is_enabled"`
	Version     int       `gorm:"not null" json:"version"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	UpdatedBy   string    `gorm:"size:64" json:"updated_by"`
}

func (f *FeatureFlag) BeforeCreate(tx *gorm.DB) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	return nil
}

// UserTypeAccess classifies a flag for one user type. At most one row exists per (flag, user type).
type UserTypeAccess struct {
	ID             uint64    `gorm:"primaryKey" json:"id"`
	FlagID         uuid.UUID `gorm:"size:36;not null;uniqueIndex:uk_access_flag_user_type,priority:1" json:"flag_id"`
	UserType       string    `gorm:"size:32;not null;uniqueIndex:uk_access_flag_user_type,priority:2;index" json:"user_type"`
	AccessState    string    `gorm:"size:16;not null" json:"access_state"`
	DefaultEnabled bool      `gorm:"not null" json:"default_enabled"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (UserTypeAccess) TableName() string {
	return "feature_flag_user_type_access"
}

// FeatureFlagOverride forces a value for one scope. At most one row exists per (flag, scope type, scope id).
type FeatureFlagOverride struct {
	ID        uint64    `gorm:"primaryKey" json:"id"`
	FlagID    uuid.UUID `gorm:"size:36;not null;uniqueIndex:uk_override_flag_scope,priority:1" json:"flag_id"`
	ScopeType string    `gorm:"size:16;not null;uniqueIndex:uk_override_flag_scope,priority:2;index:idx_override_scope,priority:1" json:"scope_type"`
	ScopeID   uuid.UUID `gorm:"size:36;not null;uniqueIndex:uk_override_flag_scope,priority:3;index:idx_override_scope,priority:2" json:"scope_id"`
	IsEnabled bool      `gorm:"not null" json:"is_enabled"`
	CreatedBy string    `gorm:"size:64" json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// OverrideScope addresses one override row set: a scope type plus the id inside it.
type OverrideScope struct {
	Type string
	ID   uuid.UUID
}

// FeatureDescriptor carries the UI metadata for a flag.
type FeatureDescriptor struct {
	FlagID           uuid.UUID `gorm:"primaryKey;size:36" json:"flag_id"`
	Category         string    `gorm:"size:64;not null;index" json:"category"`
	DisplayName      string    `gorm:"size:255;not null" json:"display_name"`
	Icon             string    `gorm:"size:64" json:"icon"`
	Badge            string    `gorm:"size:32" json:"badge"`
	ShortDescription string    `gorm:"size:512" json:"short_description"`
	SortOrder        int       `gorm:"not null" json:"sort_order"`
	UpdatedAt        time.Time `json:"updated_at"`
}
