package service

import (
	"context"
	"errors"
	"time"

	"featuregate/internal/dto/req"
	"featuregate/internal/dto/resp"
	"featuregate/internal/model"
	v1 "featuregate/pkg/api/v1"
	"featuregate/pkg/constraints"
	"featuregate/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func (s *AdminService) CreatePackage(ctx context.Context, in req.CreatePackageRequest) (*resp.PackageItem, error) {
	pkg := &model.FeaturePackage{
		Key:         in.Key,
		Name:        in.Name,
		Description: in.Description,
		PriceLabel:  in.PriceLabel,
		SortOrder:   in.SortOrder,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		r := s.bind(tx)
		existing, err := r.catalog.GetPackageByKey(ctx, in.Key)
		if err != nil {
			return err
		}
		if existing != nil {
			return ErrDuplicateKey
		}
		if err := r.catalog.CreatePackage(ctx, pkg); err != nil {
			return err
		}
		return s.audit(ctx, r, "", 0, &flagChange{
			entity: model.EntityPackage,
			action: ActionCreate,
			new:    packageItem(*pkg, nil),
		})
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, ErrDuplicateKey
	}
	if err != nil {
		return nil, err
	}
	item := packageItem(*pkg, []string{})
	return &item, nil
}

func (s *AdminService) ListPackages(ctx context.Context) ([]resp.PackageItem, error) {
	pkgs, err := s.repos.Catalog.ListPackages(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]resp.PackageItem, 0, len(pkgs))
	for _, p := range pkgs {
		keys, err := s.repos.Catalog.PackageFlagKeys(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		items = append(items, packageItem(p, keys))
	}
	return items, nil
}

// AddFlagToPackage is audited and published as a change of the flag.
func (s *AdminService) AddFlagToPackage(ctx context.Context, pkgKey, flagKey string) (int, error) {
	return s.mutateFlag(ctx, flagKey, func(r txRepos, flag *model.FeatureFlag) (*flagChange, error) {
		pkg, err := r.catalog.GetPackageByKey(ctx, pkgKey)
		if err != nil {
			return nil, err
		}
		if pkg == nil {
			return nil, ErrPackageNotFound
		}
		if err := r.catalog.AddFlag(ctx, pkg.ID, flag.ID); err != nil {
			return nil, err
		}
		return &flagChange{entity: model.EntityPackage, action: ActionAdd, new: map[string]string{"package": pkg.Key}}, nil
	})
}

func (s *AdminService) RemoveFlagFromPackage(ctx context.Context, pkgKey, flagKey string) (int, error) {
	return s.mutateFlag(ctx, flagKey, func(r txRepos, flag *model.FeatureFlag) (*flagChange, error) {
		pkg, err := r.catalog.GetPackageByKey(ctx, pkgKey)
		if err != nil {
			return nil, err
		}
		if pkg == nil {
			return nil, ErrPackageNotFound
		}
		removed, err := r.catalog.RemoveFlag(ctx, pkg.ID, flag.ID)
		if err != nil {
			return nil, err
		}
		if !removed {
			return nil, ErrNotInPackage
		}
		return &flagChange{entity: model.EntityPackage, action: ActionRemove, old: map[string]string{"package": pkg.Key}}, nil
	})
}

func (s *AdminService) Subscribe(ctx context.Context, in req.SubscribeRequest) (*resp.SubscriptionItem, error) {
	orgID, err := uuid.Parse(in.OrganizationID)
	if err != nil {
		return nil, ErrInvalidSubject
	}
	startedAt := s.now().UTC()
	if in.StartedAt != nil {
		startedAt = in.StartedAt.UTC()
	}
	var expiresAt *time.Time
	if in.ExpiresAt != nil {
		t := in.ExpiresAt.UTC()
		if !t.After(startedAt) {
			return nil, ErrInvalidWindow
		}
		expiresAt = &t
	}

	var (
		sub     *model.OrganizationPackageSubscription
		pending []pendingPublish
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		r := s.bind(tx)
		pkg, err := r.catalog.GetPackageByKey(ctx, in.PackageKey)
		if err != nil {
			return err
		}
		if pkg == nil {
			return ErrPackageNotFound
		}
		sub = &model.OrganizationPackageSubscription{
			OrganizationID: orgID,
			PackageID:      pkg.ID,
			Status:         constraints.SubscriptionActive,
			StartedAt:      startedAt,
			ExpiresAt:      expiresAt,
		}
		if err := r.catalog.Subscribe(ctx, sub); err != nil {
			return err
		}
		item := subscriptionItem(*sub)
		if err := s.audit(ctx, r, "", 0, &flagChange{
			entity: model.EntitySubscription,
			action: ActionCreate,
			new:    item,
		}); err != nil {
			return err
		}
		pending, err = s.touchPackageFlags(ctx, r, pkg.ID, orgID, &flagChange{
			entity: model.EntitySubscription,
			action: ActionCreate,
			new:    item,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	s.publishAll(pending)

	logger.Info("organization subscribed to package",
		zap.String("org_id", orgID.String()),
		zap.String("package", in.PackageKey),
		zap.String("operator", GetOperator(ctx)))
	item := subscriptionItem(*sub)
	return &item, nil
}

func (s *AdminService) CancelSubscription(ctx context.Context, id uuid.UUID) error {
	var pending []pendingPublish
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		r := s.bind(tx)
		sub, err := r.catalog.GetSubscription(ctx, id)
		if err != nil {
			return err
		}
		if sub == nil {
			return ErrSubscriptionNotFound
		}
		ok, err := r.catalog.CancelSubscription(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			return ErrSubscriptionNotFound
		}
		change := &flagChange{
			entity: model.EntitySubscription,
			action: ActionCancel,
			old:    subscriptionItem(*sub),
		}
		if err := s.audit(ctx, r, "", 0, change); err != nil {
			return err
		}
		pending, err = s.touchPackageFlags(ctx, r, sub.PackageID, sub.OrganizationID, change)
		return err
	})
	if err != nil {
		return err
	}
	s.publishAll(pending)
	return nil
}

type pendingPublish struct {
	outboxID int64
	doc      v1.FlagDocument
}

// touchPackageFlags bumps every flag of the package and queues a document
// scoped to orgID, so members of that organization are told to refetch.
func (s *AdminService) touchPackageFlags(ctx context.Context, r txRepos, pkgID, orgID uuid.UUID, c *flagChange) ([]pendingPublish, error) {
	keys, err := r.catalog.PackageFlagKeys(ctx, pkgID)
	if err != nil {
		return nil, err
	}
	scoped := *c
	scoped.scopeType = constraints.ScopeOrganization
	scoped.scopeID = orgID.String()

	out := make([]pendingPublish, 0, len(keys))
	for _, key := range keys {
		flag, err := r.flags.GetByKey(ctx, key)
		if err != nil {
			return nil, err
		}
		if flag == nil {
			continue
		}
		flag.Version++
		doc, outboxID, err := s.commitFlag(ctx, r, flag, &scoped)
		if err != nil {
			return nil, err
		}
		out = append(out, pendingPublish{outboxID: outboxID, doc: doc})
	}
	return out, nil
}

func (s *AdminService) publishAll(pending []pendingPublish) {
	if len(pending) == 0 {
		return
	}
	go func() {
		for _, p := range pending {
			s.publish(p.outboxID, p.doc)
		}
	}()
}

func (s *AdminService) ListSubscriptions(ctx context.Context, orgID uuid.UUID) ([]resp.SubscriptionItem, error) {
	subs, err := s.repos.Catalog.ListSubscriptions(ctx, orgID)
	if err != nil {
		return nil, err
	}
	items := make([]resp.SubscriptionItem, 0, len(subs))
	for _, sub := range subs {
		items = append(items, subscriptionItem(sub))
	}
	return items, nil
}

func subscriptionItem(sub model.OrganizationPackageSubscription) resp.SubscriptionItem {
	return resp.SubscriptionItem{
		ID:             sub.ID.String(),
		OrganizationID: sub.OrganizationID.String(),
		PackageID:      sub.PackageID.String(),
		Status:         sub.Status,
		StartedAt:      sub.StartedAt,
		ExpiresAt:      sub.ExpiresAt,
	}
}
