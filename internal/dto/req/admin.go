package req

import "time"

type ListFlagsQuery struct {
	Search string `form:"search" binding:"max=128"`
}

type CreateFlagRequest struct {
	Key         string `json:"key" binding:"required,featurekey"`
	Name        string `json:"name" binding:"required,max=255"`
	Description string `json:"description"`
	IsEnabled   bool   `json:"is_enabled"`
}

// UpdateFlagRequest changes only the fields that are present.
type UpdateFlagRequest struct {
	Name        *string `json:"name" binding:"omitempty,min=1,max=255"`
	Description *string `json:"description"`
	IsEnabled   *bool   `json:"is_enabled"`
}

type UpsertAccessRequest struct {
	UserType       string `json:"user_type" binding:"required,max=32"`
	AccessState    string `json:"access_state" binding:"required,accessstate"`
	DefaultEnabled bool   `json:"default_enabled"`
}

type SetOverrideRequest struct {
	ScopeType string `json:"scope_type" binding:"required,oneof=user organization role"`
	ScopeID   string `json:"scope_id" binding:"required,uuid"`
	IsEnabled *bool  `json:"is_enabled" binding:"required"`
}

type ClearOverrideQuery struct {
	ScopeType string `form:"scope_type" binding:"required,oneof=user organization role"`
	ScopeID   string `form:"scope_id" binding:"required,uuid"`
}

type DescriptorRequest struct {
	Category         string `json:"category" binding:"required,max=64"`
	DisplayName      string `json:"display_name" binding:"required,max=255"`
	Icon             string `json:"icon" binding:"max=64"`
	Badge            string `json:"badge" binding:"max=32"`
	ShortDescription string `json:"short_description" binding:"max=512"`
	SortOrder        int    `json:"sort_order"`
}

type RollbackFlagRequest struct {
	AuditID int64 `json:"audit_id" binding:"required"`
}

type CreatePackageRequest struct {
	Key         string `json:"key" binding:"required,featurekey"`
	Name        string `json:"name" binding:"required,max=255"`
	Description string `json:"description"`
	PriceLabel  string `json:"price_label" binding:"max=64"`
	SortOrder   int    `json:"sort_order"`
}

type PackageFlagURI struct {
	Package string `uri:"pkg" binding:"required,featurekey"`
	Key     string `uri:"key" binding:"required,featurekey"`
}

type SubscribeRequest struct {
	OrganizationID string `json:"organization_id" binding:"required,uuid"`
	PackageKey     string `json:"package_key" binding:"required,featurekey"`
	// StartedAt defaults to now.
	StartedAt *time.Time `json:"started_at"`
	ExpiresAt *time.Time `json:"expires_at"`
}

type SubscriptionURI struct {
	ID string `uri:"id" binding:"required,uuid"`
}

type OrganizationURI struct {
	OrgID string `uri:"org" binding:"required,uuid"`
}
