package model

import (
	"time"

	"gorm.io/datatypes"
)

type FeatureAudit struct {
	ID        int64          `json:"id" gorm:"primaryKey"`
	FlagKey   string         `json:"flag_key" gorm:"size:128;index"`
	Entity    string         `json:"entity" gorm:"size:32"`
	Action    string         `json:"action" gorm:"size:32"`
	OldValue  datatypes.JSON `json:"old_value"`
	NewValue  datatypes.JSON `json:"new_value"`
	Version   int            `json:"version"`
	Operator  string         `json:"operator" gorm:"size:64"`
	TraceID   string         `json:"trace_id" gorm:"size:36;index"`
	IP        string         `json:"ip" gorm:"size:45"`
	CreatedAt time.Time      `json:"created_at" gorm:"index"`
}

// Audited entities.
const (
	EntityFlag         = "flag"
	EntityAccess       = "access"
	EntityOverride     = "override"
	EntityPackage      = "package"
	EntityDescriptor   = "descriptor"
	EntitySubscription = "subscription"
)
