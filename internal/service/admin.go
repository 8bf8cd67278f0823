package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"featuregate/internal/dto/req"
	"featuregate/internal/dto/resp"
	"featuregate/internal/model"
	"featuregate/internal/repository"
	v1 "featuregate/pkg/api/v1"
	"featuregate/pkg/constraints"
	"featuregate/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Audit actions.
const (
	ActionCreate   = "create"
	ActionUpdate   = "update"
	ActionUpsert   = "upsert"
	ActionSet      = "set"
	ActionClear    = "clear"
	ActionAdd      = "add"
	ActionRemove   = "remove"
	ActionRollback = "rollback"
	ActionCancel   = "cancel"
)

// Publisher writes flag documents to the change feed.
type Publisher interface {
	SaveIfNewer(ctx context.Context, doc v1.FlagDocument) (int64, error)
	Health(ctx context.Context) error
}

type AdminService struct {
	db        *gorm.DB
	repos     *repository.Repositories
	publisher Publisher
	now       func() time.Time
}

func NewAdminService(db *gorm.DB, repos *repository.Repositories, publisher Publisher) *AdminService {
	return &AdminService{
		db:        db,
		repos:     repos,
		publisher: publisher,
		now:       time.Now,
	}
}

// txRepos are the repositories bound to one transaction.
type txRepos struct {
	flags       repository.FlagInterface
	access      repository.AccessInterface
	overrides   repository.OverrideInterface
	descriptors repository.DescriptorInterface
	catalog     repository.CatalogInterface
	audits      repository.AuditInterface
	outbox      repository.OutboxInterface
}

func (s *AdminService) bind(tx *gorm.DB) txRepos {
	return txRepos{
		flags:       s.repos.Flags.WithTx(tx).(repository.FlagInterface),
		access:      s.repos.Access.WithTx(tx).(repository.AccessInterface),
		overrides:   s.repos.Overrides.WithTx(tx).(repository.OverrideInterface),
		descriptors: s.repos.Descriptors.WithTx(tx).(repository.DescriptorInterface),
		catalog:     s.repos.Catalog.WithTx(tx).(repository.CatalogInterface),
		audits:      s.repos.Audits.WithTx(tx).(repository.AuditInterface),
		outbox:      s.repos.Outbox.WithTx(tx).(repository.OutboxInterface),
	}
}

// flagChange describes one audited mutation of a flag or its rules.
type flagChange struct {
	entity    string
	action    string
	old       any
	new       any
	scopeType string
	scopeID   string
}

// flagState is the audited form of the flag row itself.
type flagState struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	IsEnabled   bool   `json:"is_enabled"`
}

func stateOf(f *model.FeatureFlag) flagState {
	return flagState{Name: f.Name, Description: f.Description, IsEnabled: f.IsEnabled}
}

func jsonValue(v any) datatypes.JSON {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return datatypes.JSON(b)
}

func (s *AdminService) audit(ctx context.Context, r txRepos, flagKey string, version int, c *flagChange) error {
	a := &model.FeatureAudit{
		FlagKey:  flagKey,
		Entity:   c.entity,
		Action:   c.action,
		OldValue: jsonValue(c.old),
		NewValue: jsonValue(c.new),
		Version:  version,
		Operator: GetOperator(ctx),
		TraceID:  GetTraceID(ctx),
	}
	if id := GetIdentity(ctx); id != nil {
		a.IP = id.IP
	}
	if err := r.audits.Create(ctx, a); err != nil {
		logger.Error("failed to create feature audit", zap.String("key", flagKey), zap.Error(err))
		return err
	}
	return nil
}

// commitFlag bumps the flag version and records audit and outbox rows in the
// caller's transaction. It returns the document to publish and its outbox id.
func (s *AdminService) commitFlag(ctx context.Context, r txRepos, flag *model.FeatureFlag, c *flagChange) (v1.FlagDocument, int64, error) {
	flag.UpdatedBy = GetOperator(ctx)
	if err := r.flags.Save(ctx, flag); err != nil {
		return v1.FlagDocument{}, 0, err
	}
	if err := s.audit(ctx, r, flag.Key, flag.Version, c); err != nil {
		return v1.FlagDocument{}, 0, err
	}

	doc := v1.FlagDocument{
		Key:       flag.Key,
		Enabled:   flag.IsEnabled,
		Version:   flag.Version,
		ScopeType: c.scopeType,
		ScopeID:   c.scopeID,
		UpdatedAt: s.now().Unix(),
	}
	task := &model.OutboxTask{
		FlagKey: flag.Key,
		Payload: doc.ToJSON(),
		Status:  model.StatusPending,
		TraceID: GetTraceID(ctx),
	}
	if err := r.outbox.Create(ctx, task); err != nil {
		logger.Error("failed to create outbox event", zap.String("key", flag.Key), zap.Error(err))
		return v1.FlagDocument{}, 0, err
	}
	return doc, task.ID, nil
}

// mutateFlag runs fn on the flag named key inside one transaction, then
// bumps its version and records the change. Publication happens after commit.
func (s *AdminService) mutateFlag(ctx context.Context, key string, fn func(r txRepos, flag *model.FeatureFlag) (*flagChange, error)) (int, error) {
	var (
		doc      v1.FlagDocument
		outboxID int64
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		r := s.bind(tx)
		flag, err := r.flags.GetByKey(ctx, key)
		if err != nil {
			return err
		}
		if flag == nil {
			return ErrFlagNotFound
		}
		change, err := fn(r, flag)
		if err != nil {
			return err
		}
		flag.Version++
		doc, outboxID, err = s.commitFlag(ctx, r, flag, change)
		return err
	})
	if err != nil {
		return 0, err
	}

	go s.publish(outboxID, doc)
	return doc.Version, nil
}

// publish is a best-effort fast path; the outbox worker retries what fails here.
func (s *AdminService) publish(outboxID int64, doc v1.FlagDocument) {
	if s.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := s.publisher.SaveIfNewer(ctx, doc); err != nil {
		logger.Warn("failed to publish flag document", zap.String("key", doc.Key), zap.Error(err))
		return
	}
	if err := s.repos.Outbox.UpdateStatus(ctx, outboxID, model.StatusCompleted, 0); err != nil {
		logger.Warn("failed to complete outbox task", zap.Int64("id", outboxID), zap.Error(err))
	}
}

func (s *AdminService) CreateFlag(ctx context.Context, in req.CreateFlagRequest) (*resp.FlagItem, error) {
	flag := &model.FeatureFlag{
		Key:         in.Key,
		Name:        in.Name,
		Description: in.Description,
		IsEnabled:   in.IsEnabled,
		Version:     1,
		UpdatedBy:   GetOperator(ctx),
	}
	var (
		doc      v1.FlagDocument
		outboxID int64
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		r := s.bind(tx)
		existing, err := r.flags.GetByKey(ctx, in.Key)
		if err != nil {
			return err
		}
		if existing != nil {
			return ErrDuplicateKey
		}
		if err := r.flags.Create(ctx, flag); err != nil {
			return err
		}
		doc, outboxID, err = s.commitFlag(ctx, r, flag, &flagChange{
			entity: model.EntityFlag,
			action: ActionCreate,
			new:    stateOf(flag),
		})
		return err
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, ErrDuplicateKey
	}
	if err != nil {
		return nil, err
	}

	go s.publish(outboxID, doc)
	logger.Info("feature flag created", zap.String("key", flag.Key), zap.String("operator", flag.UpdatedBy))
	item := flagItem(flag)
	return &item, nil
}

func (s *AdminService) UpdateFlag(ctx context.Context, key string, in req.UpdateFlagRequest) (int, error) {
	return s.mutateFlag(ctx, key, func(_ txRepos, flag *model.FeatureFlag) (*flagChange, error) {
		old := stateOf(flag)
		if in.Name != nil {
			flag.Name = *in.Name
		}
		if in.Description != nil {
			flag.Description = *in.Description
		}
		if in.IsEnabled != nil {
			flag.IsEnabled = *in.IsEnabled
		}
		return &flagChange{entity: model.EntityFlag, action: ActionUpdate, old: old, new: stateOf(flag)}, nil
	})
}

// RollbackFlag restores the flag fields recorded as the previous state of auditID.
func (s *AdminService) RollbackFlag(ctx context.Context, key string, auditID int64) (int, error) {
	record, err := s.repos.Audits.FindByID(ctx, auditID)
	if err != nil {
		return 0, err
	}
	if record == nil {
		return 0, ErrAuditNotFound
	}
	if record.FlagKey != key || record.Entity != model.EntityFlag {
		return 0, ErrAuditNotMatch
	}
	if len(record.OldValue) == 0 {
		return 0, ErrNothingToRollback
	}
	var target flagState
	if err := json.Unmarshal(record.OldValue, &target); err != nil {
		return 0, err
	}

	logger.Info("rolling back feature flag", zap.String("key", key), zap.Int64("audit_id", auditID))
	return s.mutateFlag(ctx, key, func(_ txRepos, flag *model.FeatureFlag) (*flagChange, error) {
		old := stateOf(flag)
		flag.Name = target.Name
		flag.Description = target.Description
		flag.IsEnabled = target.IsEnabled
		return &flagChange{entity: model.EntityFlag, action: ActionRollback, old: old, new: target}, nil
	})
}

func (s *AdminService) UpsertAccess(ctx context.Context, key string, in req.UpsertAccessRequest) (int, error) {
	return s.mutateFlag(ctx, key, func(r txRepos, flag *model.FeatureFlag) (*flagChange, error) {
		change := &flagChange{entity: model.EntityAccess, action: ActionUpsert}
		current, err := r.access.Get(ctx, flag.ID, in.UserType)
		if err != nil {
			return nil, err
		}
		if current != nil {
			change.old = accessItem(*current)
		}
		row := &model.UserTypeAccess{
			FlagID:         flag.ID,
			UserType:       in.UserType,
			AccessState:    in.AccessState,
			DefaultEnabled: in.DefaultEnabled,
		}
		if err := r.access.Upsert(ctx, row); err != nil {
			return nil, err
		}
		change.new = accessItem(*row)
		return change, nil
	})
}

func (s *AdminService) SetOverride(ctx context.Context, key, scopeType string, scopeID uuid.UUID, enabled bool) (int, error) {
	return s.mutateFlag(ctx, key, func(r txRepos, flag *model.FeatureFlag) (*flagChange, error) {
		change := &flagChange{
			entity:    model.EntityOverride,
			action:    ActionSet,
			scopeType: scopeType,
			scopeID:   scopeID.String(),
		}
		rows, err := r.overrides.ListForFlag(ctx, flag.ID, []model.OverrideScope{{Type: scopeType, ID: scopeID}})
		if err != nil {
			return nil, err
		}
		if len(rows) > 0 {
			change.old = overrideItem(rows[0])
		}
		row := &model.FeatureFlagOverride{
			FlagID:    flag.ID,
			ScopeType: scopeType,
			ScopeID:   scopeID,
			IsEnabled: enabled,
			CreatedBy: GetOperator(ctx),
		}
		if err := r.overrides.Set(ctx, row); err != nil {
			return nil, err
		}
		change.new = overrideItem(*row)
		return change, nil
	})
}

func (s *AdminService) ClearOverride(ctx context.Context, key, scopeType string, scopeID uuid.UUID) (int, error) {
	return s.mutateFlag(ctx, key, func(r txRepos, flag *model.FeatureFlag) (*flagChange, error) {
		rows, err := r.overrides.ListForFlag(ctx, flag.ID, []model.OverrideScope{{Type: scopeType, ID: scopeID}})
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			return nil, ErrOverrideNotFound
		}
		if _, err := r.overrides.Clear(ctx, flag.ID, scopeType, scopeID); err != nil {
			return nil, err
		}
		return &flagChange{
			entity:    model.EntityOverride,
			action:    ActionClear,
			old:       overrideItem(rows[0]),
			scopeType: scopeType,
			scopeID:   scopeID.String(),
		}, nil
	})
}

func (s *AdminService) UpsertDescriptor(ctx context.Context, key string, in req.DescriptorRequest) (int, error) {
	return s.mutateFlag(ctx, key, func(r txRepos, flag *model.FeatureFlag) (*flagChange, error) {
		change := &flagChange{entity: model.EntityDescriptor, action: ActionUpsert}
		current, err := r.descriptors.Get(ctx, flag.ID)
		if err != nil {
			return nil, err
		}
		if current != nil {
			change.old = descriptorOf(*current)
		}
		row := &model.FeatureDescriptor{
			FlagID:           flag.ID,
			Category:         in.Category,
			DisplayName:      in.DisplayName,
			Icon:             in.Icon,
			Badge:            in.Badge,
			ShortDescription: in.ShortDescription,
			SortOrder:        in.SortOrder,
		}
		if err := r.descriptors.Upsert(ctx, row); err != nil {
			return nil, err
		}
		change.new = descriptorOf(*row)
		return change, nil
	})
}

func (s *AdminService) ListFlags(ctx context.Context, search string) ([]resp.FlagItem, error) {
	flags, err := s.repos.Flags.List(ctx, search)
	if err != nil {
		return nil, err
	}
	items := make([]resp.FlagItem, 0, len(flags))
	for i := range flags {
		items = append(items, flagItem(&flags[i]))
	}
	return items, nil
}

func (s *AdminService) GetFlag(ctx context.Context, key string) (*resp.FlagDetail, error) {
	flag, err := s.repos.Flags.GetByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if flag == nil {
		return nil, ErrFlagNotFound
	}

	access, err := s.repos.Access.ListByFlag(ctx, flag.ID)
	if err != nil {
		return nil, err
	}
	overrides, err := s.repos.Overrides.ListByFlag(ctx, flag.ID)
	if err != nil {
		return nil, err
	}
	descriptor, err := s.repos.Descriptors.Get(ctx, flag.ID)
	if err != nil {
		return nil, err
	}
	pkgs, err := s.repos.Catalog.PackagesForFlag(ctx, flag.ID)
	if err != nil {
		return nil, err
	}

	detail := &resp.FlagDetail{
		FlagItem:  flagItem(flag),
		Access:    make([]resp.AccessItem, 0, len(access)),
		Overrides: make([]resp.OverrideItem, 0, len(overrides)),
		Packages:  make([]string, 0, len(pkgs)),
	}
	for _, a := range access {
		detail.Access = append(detail.Access, accessItem(a))
	}
	for _, o := range overrides {
		detail.Overrides = append(detail.Overrides, overrideItem(o))
	}
	if descriptor != nil {
		d := descriptorOf(*descriptor)
		detail.Descriptor = &d
	}
	for _, p := range pkgs {
		detail.Packages = append(detail.Packages, p.Key)
	}
	return detail, nil
}

func (s *AdminService) ListAudits(ctx context.Context, key string) ([]resp.AuditLogItem, error) {
	audits, err := s.repos.Audits.ListByFlagKey(ctx, key)
	if err != nil {
		return nil, err
	}
	items := make([]resp.AuditLogItem, 0, len(audits))
	for _, a := range audits {
		items = append(items, resp.AuditLogItem{
			ID:        a.ID,
			FlagKey:   a.FlagKey,
			Entity:    a.Entity,
			Action:    a.Action,
			OldValue:  json.RawMessage(a.OldValue),
			NewValue:  json.RawMessage(a.NewValue),
			Version:   a.Version,
			Operator:  a.Operator,
			TraceID:   a.TraceID,
			CreatedAt: a.CreatedAt,
		})
	}
	return items, nil
}

func (s *AdminService) Stats(ctx context.Context, key string) (*resp.StatsResponse, error) {
	flag, err := s.repos.Flags.GetByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if flag == nil {
		return nil, ErrFlagNotFound
	}
	counts, err := s.repos.Events.CountByType(ctx, flag.ID)
	if err != nil {
		return nil, err
	}
	for _, t := range []string{constraints.EventViewed, constraints.EventUsed, constraints.EventUpgradeClicked, constraints.EventDismissed} {
		if _, ok := counts[t]; !ok {
			counts[t] = 0
		}
	}
	return &resp.StatsResponse{Key: key, Counts: counts}, nil
}

func (s *AdminService) Health(ctx context.Context) error {
	if s.repos.Audits.PingContext(ctx) != nil {
		return ErrDatabaseUnhealthy
	}
	if s.publisher != nil && s.publisher.Health(ctx) != nil {
		return ErrEtcdUnhealthy
	}
	return nil
}

func flagItem(f *model.FeatureFlag) resp.FlagItem {
	return resp.FlagItem{
		ID:          f.ID.String(),
		Key:         f.Key,
		Name:        f.Name,
		Description: f.Description,
		IsEnabled:   f.IsEnabled,
		Version:     f.Version,
		UpdatedAt:   f.UpdatedAt,
		UpdatedBy:   f.UpdatedBy,
	}
}

func accessItem(a model.UserTypeAccess) resp.AccessItem {
	return resp.AccessItem{UserType: a.UserType, AccessState: a.AccessState, DefaultEnabled: a.DefaultEnabled}
}

func overrideItem(o model.FeatureFlagOverride) resp.OverrideItem {
	return resp.OverrideItem{
		ScopeType: o.ScopeType,
		ScopeID:   o.ScopeID.String(),
		IsEnabled: o.IsEnabled,
		CreatedBy: o.CreatedBy,
		UpdatedAt: o.UpdatedAt,
	}
}

func descriptorOf(d model.FeatureDescriptor) v1.Descriptor {
	return v1.Descriptor{
		Category:         d.Category,
		DisplayName:      d.DisplayName,
		Icon:             d.Icon,
		Badge:            d.Badge,
		ShortDescription: d.ShortDescription,
		SortOrder:        d.SortOrder,
	}
}
