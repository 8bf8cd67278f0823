package model

type SDKClient struct {
	ID     uint64 `gorm:"primaryKey"`
	AppID  string `gorm:"size:64;not null"`
	APIKey string `gorm:"size:64;not null;uniqueIndex"`
	Status int    `gorm:"default:1"`
}

// All lists every persisted model, in migration order.
func All() []any {
	return []any{
		&FeatureFlag{},
		&UserTypeAccess{},
		&FeatureFlagOverride{},
		&FeatureDescriptor{},
		&FeaturePackage{},
		&PackageFeature{},
		&OrganizationPackageSubscription{},
		&UserFeaturePreference{},
		&FeatureEvent{},
		&FeatureAudit{},
		&OutboxTask{},
		&SDKClient{},
	}
}
