package service

import (
	"context"
	"time"

	"featuregate/internal/dto/resp"
	"featuregate/internal/metrics"
	"featuregate/internal/model"
	"featuregate/internal/repository"
	"featuregate/internal/resolver"
	v1 "featuregate/pkg/api/v1"
	"featuregate/pkg/constraints"
	"featuregate/pkg/logger"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("featuregate/service")

// FeatureService answers flag questions for a request subject. It reads fresh
// rows on every call and keeps no resolution state.
type FeatureService struct {
	repos    *repository.Repositories
	observer metrics.ResolutionObserver
	now      func() time.Time
}

func NewFeatureService(repos *repository.Repositories, observer metrics.ResolutionObserver) *FeatureService {
	if observer == nil {
		observer = metrics.Nop{}
	}
	return &FeatureService{
		repos:    repos,
		observer: observer,
		now:      time.Now,
	}
}

func startSpan(ctx context.Context, name string, sub resolver.Subject) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("subject.user_id", sub.UserID.String()),
		attribute.String("subject.org_id", sub.OrgID.String()),
		attribute.String("subject.user_type", sub.UserType),
	))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Resolve returns the effective state of one flag. Unknown and hidden flags
// resolve to disabled with an empty source.
func (s *FeatureService) Resolve(ctx context.Context, sub resolver.Subject, key string) (check v1.FeatureCheck, err error) {
	ctx, span := startSpan(ctx, "FeatureService.Resolve", sub)
	span.SetAttributes(attribute.String("flag.key", key))
	defer func() { endSpan(span, err) }()

	check = v1.FeatureCheck{Key: key}

	flag, err := s.repos.Flags.GetByKey(ctx, key)
	if err != nil {
		return check, err
	}
	if flag == nil {
		return check, nil
	}

	in := resolver.Input{GlobalEnabled: flag.IsEnabled}
	access, err := s.repos.Access.Get(ctx, flag.ID, sub.UserType)
	if err != nil {
		return check, err
	}
	if access == nil || access.AccessState == constraints.AccessExcluded {
		return check, nil
	}
	in.Access = &resolver.Access{State: access.AccessState, DefaultEnabled: access.DefaultEnabled}

	overrides, err := s.repos.Overrides.ListForFlag(ctx, flag.ID, sub.Scopes())
	if err != nil {
		return check, err
	}
	in.Overrides = resolver.OverridesFor(sub, flag.ID, overrides)

	if in.InActivePackage, err = s.repos.Catalog.FlagInActivePackage(ctx, sub.OrgID, flag.ID, s.now()); err != nil {
		return check, err
	}

	if access.AccessState == constraints.AccessOptional {
		pref, err := s.repos.Preferences.Get(ctx, sub.UserID, flag.ID)
		if err != nil {
			return check, err
		}
		if pref != nil {
			in.Preference = &pref.IsEnabled
		}
	}

	res, visible := resolver.Resolve(in)
	if !visible {
		return check, nil
	}
	check.Enabled = res.Enabled
	check.Source = string(res.Source)
	s.observer.RecordResolution(check.Source)
	return check, nil
}

// loadSnapshot reads every table the resolver needs for sub concurrently.
func (s *FeatureService) loadSnapshot(ctx context.Context, sub resolver.Subject) (*resolver.Snapshot, error) {
	snap := &resolver.Snapshot{
		Access:       make(map[uuid.UUID]model.UserTypeAccess),
		PackageFlags: make(map[uuid.UUID]struct{}),
		Preferences:  make(map[uuid.UUID]bool),
		Descriptors:  make(map[uuid.UUID]model.FeatureDescriptor),
	}
	now := s.now()

	var (
		access      []model.UserTypeAccess
		pkgFlags    []uuid.UUID
		prefs       []model.UserFeaturePreference
		descriptors []model.FeatureDescriptor
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		snap.Flags, err = s.repos.Flags.GetAll(gctx)
		return err
	})
	g.Go(func() (err error) {
		access, err = s.repos.Access.ListByUserType(gctx, sub.UserType)
		return err
	})
	g.Go(func() (err error) {
		snap.Overrides, err = s.repos.Overrides.ListForScopes(gctx, sub.Scopes())
		return err
	})
	g.Go(func() (err error) {
		pkgFlags, err = s.repos.Catalog.ActivePackageFlagIDs(gctx, sub.OrgID, now)
		return err
	})
	g.Go(func() (err error) {
		prefs, err = s.repos.Preferences.ListByUser(gctx, sub.UserID)
		return err
	})
	g.Go(func() (err error) {
		descriptors, err = s.repos.Descriptors.GetAll(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, a := range access {
		snap.Access[a.FlagID] = a
	}
	for _, id := range pkgFlags {
		snap.PackageFlags[id] = struct{}{}
	}
	for _, p := range prefs {
		snap.Preferences[p.FlagID] = p.IsEnabled
	}
	for _, d := range descriptors {
		snap.Descriptors[d.FlagID] = d
	}
	return snap, nil
}

// ResolveAll resolves every flag visible to sub.
func (s *FeatureService) ResolveAll(ctx context.Context, sub resolver.Subject, filter resolver.Filter) (out []v1.ResolvedFeature, err error) {
	ctx, span := startSpan(ctx, "FeatureService.ResolveAll", sub)
	defer func() { endSpan(span, err) }()

	snap, err := s.loadSnapshot(ctx, sub)
	if err != nil {
		logger.Error("failed to load resolution snapshot", zap.String("user_id", sub.UserID.String()), zap.Error(err))
		return nil, err
	}

	out = snap.ResolveAll(sub, filter)
	for _, f := range out {
		s.observer.RecordResolution(f.Source)
	}
	span.SetAttributes(attribute.Int("flags.visible", len(out)))
	return out, nil
}

// SetPreference stores the user's choice for a flag that is optional for
// their user type. Any other flag, including unknown keys, is ErrNotToggleable.
func (s *FeatureService) SetPreference(ctx context.Context, sub resolver.Subject, key string, enabled bool) (err error) {
	ctx, span := startSpan(ctx, "FeatureService.SetPreference", sub)
	span.SetAttributes(attribute.String("flag.key", key), attribute.Bool("enabled", enabled))
	defer func() { endSpan(span, err) }()

	flag, err := s.repos.Flags.GetByKey(ctx, key)
	if err != nil {
		return err
	}
	if flag == nil {
		return ErrNotToggleable
	}
	access, err := s.repos.Access.Get(ctx, flag.ID, sub.UserType)
	if err != nil {
		return err
	}
	if access == nil || access.AccessState != constraints.AccessOptional {
		return ErrNotToggleable
	}

	if err := s.repos.Preferences.Upsert(ctx, &model.UserFeaturePreference{
		UserID:    sub.UserID,
		FlagID:    flag.ID,
		IsEnabled: enabled,
	}); err != nil {
		logger.Error("failed to save preference", zap.String("key", key), zap.Error(err))
		return err
	}
	s.observer.RecordPreferenceWrite()
	logger.Debug("preference saved", zap.String("key", key), zap.String("user_id", sub.UserID.String()), zap.Bool("enabled", enabled))
	return nil
}

// UpgradeOptions lists the packages containing key that the subject's
// organization does not hold yet.
func (s *FeatureService) UpgradeOptions(ctx context.Context, sub resolver.Subject, key string) ([]resp.PackageItem, error) {
	flag, err := s.repos.Flags.GetByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if flag == nil {
		return nil, ErrFlagNotFound
	}

	pkgs, err := s.repos.Catalog.PackagesForFlag(ctx, flag.ID)
	if err != nil {
		return nil, err
	}
	held, err := s.repos.Catalog.ActivePackageIDs(ctx, sub.OrgID, s.now())
	if err != nil {
		return nil, err
	}
	owned := make(map[uuid.UUID]struct{}, len(held))
	for _, id := range held {
		owned[id] = struct{}{}
	}

	items := make([]resp.PackageItem, 0, len(pkgs))
	for _, p := range pkgs {
		if _, ok := owned[p.ID]; ok {
			continue
		}
		items = append(items, packageItem(p, nil))
	}
	return items, nil
}

// RecordEvent stores an analytics event for key on behalf of sub.
func (s *FeatureService) RecordEvent(ctx context.Context, sub resolver.Subject, key, eventType string, props map[string]any) error {
	flag, err := s.repos.Flags.GetByKey(ctx, key)
	if err != nil {
		return err
	}
	if flag == nil {
		return ErrFlagNotFound
	}
	return s.repos.Events.Create(ctx, &model.FeatureEvent{
		FlagID:         flag.ID,
		UserID:         sub.UserID,
		OrganizationID: sub.OrgID,
		EventType:      eventType,
		Properties:     props,
	})
}

func packageItem(p model.FeaturePackage, features []string) resp.PackageItem {
	return resp.PackageItem{
		Key:         p.Key,
		Name:        p.Name,
		Description: p.Description,
		PriceLabel:  p.PriceLabel,
		SortOrder:   p.SortOrder,
		Features:    features,
	}
}
