package resolver

import (
	"sort"

	"featuregate/internal/model"
	v1 "featuregate/pkg/api/v1"

	"github.com/google/uuid"
)

// Snapshot holds the rows needed to resolve every flag for one subject.
type Snapshot struct {
	Flags []model.FeatureFlag
	// Access rows for the subject's user type, keyed by flag id.
	Access map[uuid.UUID]model.UserTypeAccess
	// Overrides restricted to the subject's scopes.
	Overrides    []model.FeatureFlagOverride
	PackageFlags map[uuid.UUID]struct{}
	Preferences  map[uuid.UUID]bool
	Descriptors  map[uuid.UUID]model.FeatureDescriptor
}

// Filter narrows ResolveAll. Zero values keep every visible flag.
type Filter struct {
	Category    string
	EnabledOnly bool
}

// Input assembles the resolver input for one flag of the snapshot.
func (s *Snapshot) Input(sub Subject, flag model.FeatureFlag) Input {
	in := Input{GlobalEnabled: flag.IsEnabled}
	if a, ok := s.Access[flag.ID]; ok {
		in.Access = &Access{State: a.AccessState, DefaultEnabled: a.DefaultEnabled}
	}
	in.Overrides = OverridesFor(sub, flag.ID, s.Overrides)
	_, in.InActivePackage = s.PackageFlags[flag.ID]
	if v, ok := s.Preferences[flag.ID]; ok {
		in.Preference = &v
	}
	return in
}

// OverridesFor keeps the rows of flagID that target one of the subject's scopes.
func OverridesFor(sub Subject, flagID uuid.UUID, rows []model.FeatureFlagOverride) map[string]bool {
	var out map[string]bool
	scopes := sub.Scopes()
	for _, o := range rows {
		if o.FlagID != flagID {
			continue
		}
		for _, sc := range scopes {
			if o.ScopeType == sc.Type && o.ScopeID == sc.ID {
				if out == nil {
					out = make(map[string]bool, len(scopes))
				}
				out[o.ScopeType] = o.IsEnabled
			}
		}
	}
	return out
}

// ResolveAll resolves every visible flag, applies the filter and orders the
// result by descriptor sort order, then key.
func (s *Snapshot) ResolveAll(sub Subject, f Filter) []v1.ResolvedFeature {
	out := make([]v1.ResolvedFeature, 0, len(s.Flags))
	order := make(map[string]int, len(s.Flags))

	for _, flag := range s.Flags {
		res, visible := Resolve(s.Input(sub, flag))
		if !visible {
			continue
		}
		if f.EnabledOnly && !res.Enabled {
			continue
		}

		item := v1.ResolvedFeature{
			Key:         flag.Key,
			Enabled:     res.Enabled,
			AccessState: res.AccessState,
			CanToggle:   res.CanToggle,
			Source:      string(res.Source),
		}
		d, hasDescriptor := s.Descriptors[flag.ID]
		if f.Category != "" && (!hasDescriptor || d.Category != f.Category) {
			continue
		}
		if hasDescriptor {
			item.Descriptor = &v1.Descriptor{
				Category:         d.Category,
				DisplayName:      d.DisplayName,
				Icon:             d.Icon,
				Badge:            d.Badge,
				ShortDescription: d.ShortDescription,
				SortOrder:        d.SortOrder,
			}
			order[flag.Key] = d.SortOrder
		}
		out = append(out, item)
	}

	sort.SliceStable(out, func(i, j int) bool {
		oi, oj := order[out[i].Key], order[out[j].Key]
		if oi != oj {
			return oi < oj
		}
		return out[i].Key < out[j].Key
	})
	return out
}
