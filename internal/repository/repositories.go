package repository

import "gorm.io/gorm"

// Repositories bundles the SQL-backed stores sharing one connection pool.
type Repositories struct {
	Flags       FlagInterface
	Access      AccessInterface
	Overrides   OverrideInterface
	Descriptors DescriptorInterface
	Catalog     CatalogInterface
	Preferences PreferenceInterface
	Events      AnalyticsInterface
	Audits      AuditInterface
	Outbox      OutboxInterface
	SDK         SDKRepository
}

func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Flags:       NewFlagRepository(db),
		Access:      NewAccessRepository(db),
		Overrides:   NewOverrideRepository(db),
		Descriptors: NewDescriptorRepository(db),
		Catalog:     NewCatalogRepository(db),
		Preferences: NewPreferenceRepository(db),
		Events:      NewAnalyticsRepository(db),
		Audits:      NewAuditRepository(db),
		Outbox:      NewOutboxRepository(db),
		SDK:         NewSDKKeyRepository(db),
	}
}
