package resp

import (
	v1 "featuregate/pkg/api/v1"
)

type ResolvedResponse struct {
	Data []v1.ResolvedFeature `json:"data"`
}

type PreferenceResponse struct {
	Key     string `json:"key"`
	Enabled bool   `json:"enabled"`
}

type PackageItem struct {
	Key         string   `json:"key"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	PriceLabel  string   `json:"price_label,omitempty"`
	SortOrder   int      `json:"sort_order"`
	Features    []string `json:"features,omitempty"`
}

type UpgradeOptionsResponse struct {
	Key      string        `json:"key"`
	Packages []PackageItem `json:"packages"`
}

type SnapshotResponse struct {
	Data     []v1.FlagDocument `json:"data"`
	Revision int64             `json:"revision"`
}
