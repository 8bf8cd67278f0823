package service

import "errors"

var (
	ErrNotToggleable        = errors.New("feature cannot be toggled by this user")
	ErrFlagNotFound         = errors.New("feature flag not found")
	ErrPackageNotFound      = errors.New("feature package not found")
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrOverrideNotFound     = errors.New("override not found")
	ErrAuditNotFound        = errors.New("audit record not found")
	ErrAuditNotMatch        = errors.New("audit record does not belong to this flag")
	ErrDuplicateKey         = errors.New("key already exists")
	ErrNotInPackage         = errors.New("flag is not part of the package")
	ErrNothingToRollback    = errors.New("audit record has no previous state")
	ErrInvalidSubject       = errors.New("request subject is incomplete")
	ErrInvalidWindow        = errors.New("expires_at must be after started_at")

	ErrEtcdUnhealthy     = errors.New("etcd unhealthy")
	ErrDatabaseUnhealthy = errors.New("database unhealthy")
)
