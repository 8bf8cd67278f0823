package model

import (
	"time"

	"github.com/google/uuid"
)

// UserFeaturePreference is a user's opt-in or opt-out for an optional flag.
type UserFeaturePreference struct {
	ID        uint64    `gorm:"primaryKey" json:"id"`
	UserID    uuid.UUID `gorm:"size:36;not null;uniqueIndex:uk_preference_user_flag,priority:1" json:"user_id"`
	FlagID    uuid.UUID `gorm:"size:36;not null;uniqueIndex:uk_preference_user_flag,priority:2" json:"flag_id"`
	IsEnabled bool      `gorm:"not null" json:"is_enabled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
