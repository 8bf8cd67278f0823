package resp

import (
	"encoding/json"
	"time"

	v1 "featuregate/pkg/api/v1"
)

type FlagItem struct {
	ID          string    `json:"id"`
	Key         string    `json:"key"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	IsEnabled   bool      `json:"is_enabled"`
	Version     int       `json:"version"`
	UpdatedAt   time.Time `json:"updated_at"`
	UpdatedBy   string    `json:"updated_by"`
}

type AccessItem struct {
	UserType       string `json:"user_type"`
	AccessState    string `json:"access_state"`
	DefaultEnabled bool   `json:"default_enabled"`
}

type OverrideItem struct {
	ScopeType string    `json:"scope_type"`
	ScopeID   string    `json:"scope_id"`
	IsEnabled bool      `json:"is_enabled"`
	CreatedBy string    `json:"created_by"`
	UpdatedAt time.Time `json:"updated_at"`
}

type FlagDetail struct {
	FlagItem
	Access     []AccessItem   `json:"access"`
	Overrides  []OverrideItem `json:"overrides"`
	Descriptor *v1.Descriptor `json:"descriptor,omitempty"`
	Packages   []string       `json:"packages"`
}

type MutationResponse struct {
	Version int `json:"version"`
}

type AuditLogItem struct {
	ID        int64           `json:"id"`
	FlagKey   string          `json:"flag_key"`
	Entity    string          `json:"entity"`
	Action    string          `json:"action"`
	OldValue  json.RawMessage `json:"old_value,omitempty"`
	NewValue  json.RawMessage `json:"new_value,omitempty"`
	Version   int             `json:"version"`
	Operator  string          `json:"operator"`
	TraceID   string          `json:"trace_id,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

type SubscriptionItem struct {
	ID             string     `json:"id"`
	OrganizationID string     `json:"organization_id"`
	PackageID      string     `json:"package_id"`
	Status         string     `json:"status"`
	StartedAt      time.Time  `json:"started_at"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
}

type StatsResponse struct {
	Key    string           `json:"key"`
	Counts map[string]int64 `json:"counts"`
}
