// Package resolver computes the effective state of feature flags for a
// request subject. It only reads the snapshots handed to it and keeps no
// state between calls.
package resolver

import (
	"featuregate/internal/model"
	"featuregate/pkg/constraints"

	"github.com/google/uuid"
)

// Source names the rung of the precedence ladder that decided a value.
type Source string

const (
	SourceOverride Source = "override"
	SourcePackage  Source = "package"
	SourceDefault  Source = "default"
	SourceGlobal   Source = "global"
)

// Subject is who a flag is resolved for. RoleID is uuid.Nil when the caller has no role.
type Subject struct {
	UserID   uuid.UUID
	OrgID    uuid.UUID
	RoleID   uuid.UUID
	UserType string
}

// Scopes returns the override scopes that apply to s, highest priority first.
func (s Subject) Scopes() []model.OverrideScope {
	scopes := []model.OverrideScope{
		{Type: constraints.ScopeUser, ID: s.UserID},
		{Type: constraints.ScopeOrganization, ID: s.OrgID},
	}
	if s.RoleID != uuid.Nil {
		scopes = append(scopes, model.OverrideScope{Type: constraints.ScopeRole, ID: s.RoleID})
	}
	return scopes
}

// Access is the user-type classification of a flag.
type Access struct {
	State          string
	DefaultEnabled bool
}

// Input is everything known about one flag for one subject.
type Input struct {
	GlobalEnabled bool
	// Access is nil when the flag has no row for the subject's user type.
	Access *Access
	// Overrides maps scope type to forced value, restricted to the subject's own scopes.
	Overrides       map[string]bool
	InActivePackage bool
	// Preference is nil when the user never toggled the flag.
	Preference *bool
}

// Result is the effective state of a visible flag and the rung that decided it.
type Result struct {
	Enabled     bool
	Source      Source
	AccessState string
	CanToggle   bool
}

// Resolve applies the precedence ladder. The second return is false when the
// flag is hidden from the subject, in which case Result is zero.
func Resolve(in Input) (Result, bool) {
	if in.Access == nil || in.Access.State == constraints.AccessExcluded {
		return Result{}, false
	}
	for _, rung := range ladder {
		enabled, src, ok := rung.apply(in)
		if !ok {
			continue
		}
		return Result{
			Enabled:     enabled,
			Source:      src,
			AccessState: in.Access.State,
			CanToggle:   in.Access.State == constraints.AccessOptional,
		}, true
	}
	// the global rung always matches
	return Result{}, false
}
