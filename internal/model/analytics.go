package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type FeatureEvent struct {
	ID             uint64            `gorm:"primaryKey" json:"id"`
	FlagID         uuid.UUID         `gorm:"size:36;not null;index" json:"flag_id"`
	UserID         uuid.UUID         `gorm:"size:36;not null;index" json:"user_id"`
	OrganizationID uuid.UUID         `gorm:"size:36;not null;index" json:"organization_id"`
	EventType      string            `gorm:"size:32;not null;index" json:"event_type"`
	Properties     datatypes.JSONMap `json:"properties"`
	CreatedAt      time.Time         `gorm:"index" json:"created_at"`
}
