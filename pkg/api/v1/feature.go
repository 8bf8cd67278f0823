package v1

import (
	"encoding/json"

	"featuregate/pkg/constraints"
)

// FlagDocument is the published form of a flag kept under the change-feed prefix.
type FlagDocument struct {
	Key       string `json:"key"`
	Enabled   bool   `json:"is_enabled"`
	Version   int    `json:"version"`  // flag version
	Revision  int64  `json:"revision"` // overall etcd revision
	ScopeType string `json:"scope_type,omitempty"`
	ScopeID   string `json:"scope_id,omitempty"`
	UpdatedAt int64  `json:"updated_at"`
}

type Message struct {
	Key       string             `json:"key"`
	Enabled   bool               `json:"is_enabled"`
	Version   int                `json:"version"`
	Revision  int64              `json:"revision"`
	Action    constraints.Action `json:"action"`
	ScopeType string             `json:"scope_type,omitempty"`
	ScopeID   string             `json:"scope_id,omitempty"`
	Type      string             `json:"type,omitempty"`
}

// Descriptor is the UI metadata attached to a resolved feature.
type Descriptor struct {
	Category         string `json:"category"`
	DisplayName      string `json:"display_name"`
	Icon             string `json:"icon,omitempty"`
	Badge            string `json:"badge,omitempty"`
	ShortDescription string `json:"short_description,omitempty"`
	SortOrder        int    `json:"sort_order"`
}

type ResolvedFeature struct {
	Key         string      `json:"key"`
	Enabled     bool        `json:"enabled"`
	AccessState string      `json:"access_state"`
	CanToggle   bool        `json:"can_toggle"`
	Source      string      `json:"source"`
	Descriptor  *Descriptor `json:"descriptor,omitempty"`
}

// FeatureCheck is the answer for a single key. Source is empty when the
// feature is unknown or hidden for the caller.
type FeatureCheck struct {
	Key     string `json:"key"`
	Enabled bool   `json:"enabled"`
	Source  string `json:"source,omitempty"`
}

func (d *FlagDocument) ToJSON() string {
	b, err := json.Marshal(d)
	if err != nil {
		panic("featuregate serialization failed" + err.Error())
	}
	return string(b)
}
