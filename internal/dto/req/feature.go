package req

type FeatureKeyURI struct {
	Key string `uri:"key" binding:"required,featurekey"`
}

type ResolveQuery struct {
	Category    string `form:"category" binding:"max=64"`
	EnabledOnly bool   `form:"enabled_only"`
}

type SetPreferenceRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

type RecordEventRequest struct {
	EventType  string         `json:"event_type" binding:"required,oneof=viewed used upgrade_clicked dismissed"`
	Properties map[string]any `json:"properties"`
}

type WatchQuery struct {
	LastRev int64 `form:"last_rev" binding:"min=0"`
}
