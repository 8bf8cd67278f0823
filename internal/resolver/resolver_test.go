package resolver

import (
	"reflect"
	"testing"

	"featuregate/internal/model"
	"featuregate/pkg/constraints"

	"github.com/google/uuid"
)

func boolPtr(b bool) *bool { return &b }

func TestResolve_Ladder(t *testing.T) {
	optional := &Access{State: constraints.AccessOptional, DefaultEnabled: false}
	included := &Access{State: constraints.AccessIncluded, DefaultEnabled: true}

	tests := []struct {
		name        string
		in          Input
		wantVisible bool
		wantEnabled bool
		wantSource  Source
	}{
		{
			name:        "No access row hides the flag",
			in:          Input{GlobalEnabled: true},
			wantVisible: false,
		},
		{
			name: "Excluded hides the flag even with a user override",
			in: Input{
				Access:    &Access{State: constraints.AccessExcluded},
				Overrides: map[string]bool{constraints.ScopeUser: true},
			},
			wantVisible: false,
		},
		{
			name: "User override beats package",
			in: Input{
				Access:          included,
				Overrides:       map[string]bool{constraints.ScopeUser: false},
				InActivePackage: true,
			},
			wantVisible: true, wantEnabled: false, wantSource: SourceOverride,
		},
		{
			name: "User override beats organization override",
			in: Input{
				Access: optional,
				Overrides: map[string]bool{
					constraints.ScopeUser:         true,
					constraints.ScopeOrganization: false,
				},
			},
			wantVisible: true, wantEnabled: true, wantSource: SourceOverride,
		},
		{
			name: "Organization override beats role override",
			in: Input{
				Access: included,
				Overrides: map[string]bool{
					constraints.ScopeOrganization: false,
					constraints.ScopeRole:         true,
				},
			},
			wantVisible: true, wantEnabled: false, wantSource: SourceOverride,
		},
		{
			name: "Role override alone applies",
			in: Input{
				Access:    optional,
				Overrides: map[string]bool{constraints.ScopeRole: true},
			},
			wantVisible: true, wantEnabled: true, wantSource: SourceOverride,
		},
		{
			name:        "Package enables",
			in:          Input{Access: optional, InActivePackage: true, Preference: boolPtr(false)},
			wantVisible: true, wantEnabled: true, wantSource: SourcePackage,
		},
		{
			name:        "Optional uses preference",
			in:          Input{Access: optional, Preference: boolPtr(true)},
			wantVisible: true, wantEnabled: true, wantSource: SourceDefault,
		},
		{
			name:        "Optional falls back to default",
			in:          Input{Access: optional},
			wantVisible: true, wantEnabled: false, wantSource: SourceDefault,
		},
		{
			name:        "Included ignores preference",
			in:          Input{Access: &Access{State: constraints.AccessIncluded}, Preference: boolPtr(true)},
			wantVisible: true, wantEnabled: false, wantSource: SourceDefault,
		},
		{
			name:        "Unrecognised state falls to global",
			in:          Input{Access: &Access{State: "legacy"}, GlobalEnabled: true},
			wantVisible: true, wantEnabled: true, wantSource: SourceGlobal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, visible := Resolve(tt.in)
			if visible != tt.wantVisible {
				t.Fatalf("visible = %v, want %v", visible, tt.wantVisible)
			}
			if !visible {
				return
			}
			if res.Enabled != tt.wantEnabled || res.Source != tt.wantSource {
				t.Errorf("got (%v, %s), want (%v, %s)", res.Enabled, res.Source, tt.wantEnabled, tt.wantSource)
			}
		})
	}
}

func TestResolve_CanToggleOnlyForOptional(t *testing.T) {
	res, _ := Resolve(Input{Access: &Access{State: constraints.AccessOptional}})
	if !res.CanToggle {
		t.Error("optional flag should be toggleable")
	}
	res, _ = Resolve(Input{Access: &Access{State: constraints.AccessIncluded}})
	if res.CanToggle {
		t.Error("included flag should not be toggleable")
	}
}

func TestSubjectScopes_RoleOnlyWhenPresent(t *testing.T) {
	sub := Subject{UserID: uuid.New(), OrgID: uuid.New()}
	if got := len(sub.Scopes()); got != 2 {
		t.Fatalf("expected 2 scopes without role, got %d", got)
	}
	sub.RoleID = uuid.New()
	scopes := sub.Scopes()
	if len(scopes) != 3 || scopes[2].Type != constraints.ScopeRole {
		t.Fatalf("expected role scope last, got %+v", scopes)
	}
}

type fixture struct {
	sub  Subject
	snap *Snapshot
	ids  map[string]uuid.UUID
}

func newFixture() *fixture {
	f := &fixture{
		sub: Subject{UserID: uuid.New(), OrgID: uuid.New(), RoleID: uuid.New(), UserType: "tenant"},
		snap: &Snapshot{
			Access:       map[uuid.UUID]model.UserTypeAccess{},
			PackageFlags: map[uuid.UUID]struct{}{},
			Preferences:  map[uuid.UUID]bool{},
			Descriptors:  map[uuid.UUID]model.FeatureDescriptor{},
		},
		ids: map[string]uuid.UUID{},
	}
	return f
}

func (f *fixture) flag(key string, state string, def bool) uuid.UUID {
	id := uuid.New()
	f.ids[key] = id
	f.snap.Flags = append(f.snap.Flags, model.FeatureFlag{ID: id, Key: key, IsEnabled: true})
	if state != "" {
		f.snap.Access[id] = model.UserTypeAccess{FlagID: id, UserType: f.sub.UserType, AccessState: state, DefaultEnabled: def}
	}
	return id
}

func (f *fixture) override(key, scope string, scopeID uuid.UUID, v bool) {
	f.snap.Overrides = append(f.snap.Overrides, model.FeatureFlagOverride{
		FlagID: f.ids[key], ScopeType: scope, ScopeID: scopeID, IsEnabled: v,
	})
}

func TestResolveAll_ExcludedNeverListed(t *testing.T) {
	f := newFixture()
	f.flag("beta_features", constraints.AccessExcluded, true)
	f.flag("no_row", "", false)
	f.flag("maintenance_requests", constraints.AccessIncluded, true)
	f.override("beta_features", constraints.ScopeUser, f.sub.UserID, true)
	f.override("no_row", constraints.ScopeUser, f.sub.UserID, true)

	got := f.snap.ResolveAll(f.sub, Filter{})
	if len(got) != 1 || got[0].Key != "maintenance_requests" {
		t.Fatalf("expected only maintenance_requests, got %+v", got)
	}
}

func TestResolveAll_IgnoresOtherSubjectsOverrides(t *testing.T) {
	f := newFixture()
	f.flag("ai_suggestions", constraints.AccessOptional, false)
	f.override("ai_suggestions", constraints.ScopeUser, uuid.New(), true)
	f.override("ai_suggestions", constraints.ScopeOrganization, uuid.New(), true)

	got := f.snap.ResolveAll(f.sub, Filter{})
	if len(got) != 1 || got[0].Enabled || got[0].Source != string(SourceDefault) {
		t.Fatalf("foreign overrides leaked into resolution: %+v", got)
	}
}

func TestResolveAll_RoleOverrideIgnoredWithoutRole(t *testing.T) {
	f := newFixture()
	roleID := f.sub.RoleID
	f.sub.RoleID = uuid.Nil
	f.flag("bulk_export", constraints.AccessIncluded, false)
	f.override("bulk_export", constraints.ScopeRole, roleID, true)

	got := f.snap.ResolveAll(f.sub, Filter{})
	if got[0].Enabled {
		t.Fatalf("role override applied to subject without role: %+v", got[0])
	}
}

func TestResolveAll_FiltersAndOrder(t *testing.T) {
	f := newFixture()
	a := f.flag("zeta", constraints.AccessIncluded, true)
	b := f.flag("alpha", constraints.AccessIncluded, false)
	c := f.flag("middle", constraints.AccessIncluded, true)
	f.flag("undescribed", constraints.AccessIncluded, true)
	f.snap.Descriptors[a] = model.FeatureDescriptor{FlagID: a, Category: "ai", SortOrder: 1, DisplayName: "Zeta"}
	f.snap.Descriptors[b] = model.FeatureDescriptor{FlagID: b, Category: "ai", SortOrder: 1, DisplayName: "Alpha"}
	f.snap.Descriptors[c] = model.FeatureDescriptor{FlagID: c, Category: "billing", SortOrder: 0, DisplayName: "Middle"}

	var keys []string
	for _, r := range f.snap.ResolveAll(f.sub, Filter{Category: "ai"}) {
		keys = append(keys, r.Key)
	}
	if !reflect.DeepEqual(keys, []string{"alpha", "zeta"}) {
		t.Errorf("category filter/order: got %v", keys)
	}

	keys = nil
	for _, r := range f.snap.ResolveAll(f.sub, Filter{EnabledOnly: true}) {
		keys = append(keys, r.Key)
	}
	if !reflect.DeepEqual(keys, []string{"middle", "undescribed", "zeta"}) {
		t.Errorf("enabled-only filter/order: got %v", keys)
	}
}

func TestResolveAll_Idempotent(t *testing.T) {
	f := newFixture()
	id := f.flag("ai_suggestions", constraints.AccessOptional, false)
	f.flag("document_vault", constraints.AccessIncluded, true)
	f.snap.PackageFlags[id] = struct{}{}

	first := f.snap.ResolveAll(f.sub, Filter{})
	second := f.snap.ResolveAll(f.sub, Filter{})
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("resolution changed between identical calls:\n%+v\n%+v", first, second)
	}
}
