package resolver

import "featuregate/pkg/constraints"

type strategy int

const (
	byOverride strategy = iota
	byPackage
	byOptionalDefault
	byIncludedDefault
	byGlobal
)

// ladder is evaluated in order; the first rung that matches decides.
var ladder = []strategy{
	byOverride,
	byPackage,
	byOptionalDefault,
	byIncludedDefault,
	byGlobal,
}

var overridePriority = []string{
	constraints.ScopeUser,
	constraints.ScopeOrganization,
	constraints.ScopeRole,
}

func (s strategy) apply(in Input) (bool, Source, bool) {
	switch s {
	case byOverride:
		for _, scope := range overridePriority {
			if v, ok := in.Overrides[scope]; ok {
				return v, SourceOverride, true
			}
		}
	case byPackage:
		if in.InActivePackage {
			return true, SourcePackage, true
		}
	case byOptionalDefault:
		if in.Access.State == constraints.AccessOptional {
			if in.Preference != nil {
				return *in.Preference, SourceDefault, true
			}
			return in.Access.DefaultEnabled, SourceDefault, true
		}
	case byIncludedDefault:
		if in.Access.State == constraints.AccessIncluded {
			return in.Access.DefaultEnabled, SourceDefault, true
		}
	case byGlobal:
		return in.GlobalEnabled, SourceGlobal, true
	}
	return false, "", false
}
