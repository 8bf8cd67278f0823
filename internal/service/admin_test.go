package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"featuregate/internal/dto/req"
	"featuregate/internal/model"
	"featuregate/internal/repository"
	v1 "featuregate/pkg/api/v1"
	"featuregate/pkg/constraints"

	"github.com/google/uuid"
)

// fakePublisher records published documents. With fail set every publish errors.
type fakePublisher struct {
	mu   sync.Mutex
	fail bool
	docs []v1.FlagDocument
	sent chan v1.FlagDocument
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{sent: make(chan v1.FlagDocument, 32)}
}

func (p *fakePublisher) SaveIfNewer(ctx context.Context, doc v1.FlagDocument) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return 0, errors.New("etcd unavailable")
	}
	p.docs = append(p.docs, doc)
	select {
	case p.sent <- doc:
	default:
	}
	return int64(len(p.docs)), nil
}

func (p *fakePublisher) Health(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("etcd unavailable")
	}
	return nil
}

func (p *fakePublisher) wait(t *testing.T) v1.FlagDocument {
	t.Helper()
	select {
	case doc := <-p.sent:
		return doc
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for publish")
		return v1.FlagDocument{}
	}
}

func newAdmin(t *testing.T, pub *fakePublisher) (*AdminService, *repository.Repositories, context.Context) {
	db, repos := newTestRepos(t)
	ctx := WithIdentity(context.Background(), &Identity{Name: "ops", Role: "admin", IP: "10.0.0.1"})
	ctx = WithTraceID(ctx, "trace-1")
	return NewAdminService(db, repos, pub), repos, ctx
}

func TestAdmin_CreateFlagAuditsAndQueuesOutbox(t *testing.T) {
	pub := newFakePublisher()
	pub.fail = true
	svc, repos, ctx := newAdmin(t, pub)

	item, err := svc.CreateFlag(ctx, req.CreateFlagRequest{Key: "ai_suggestions", Name: "AI suggestions"})
	if err != nil {
		t.Fatalf("CreateFlag: %v", err)
	}
	if item.Version != 1 || item.UpdatedBy != "ops" {
		t.Errorf("unexpected item %+v", item)
	}

	if _, err := svc.CreateFlag(ctx, req.CreateFlagRequest{Key: "ai_suggestions", Name: "again"}); !errors.Is(err, ErrDuplicateKey) {
		t.Errorf("duplicate create: got %v, want ErrDuplicateKey", err)
	}

	audits, err := repos.Audits.ListByFlagKey(ctx, "ai_suggestions")
	if err != nil || len(audits) != 1 {
		t.Fatalf("audits = %v, %v", audits, err)
	}
	a := audits[0]
	if a.Entity != model.EntityFlag || a.Action != ActionCreate || a.Operator != "ops" || a.TraceID != "trace-1" || a.IP != "10.0.0.1" {
		t.Errorf("unexpected audit %+v", a)
	}

	// the publish failed, so the task stays for the worker
	tasks, err := repos.Outbox.FetchPending(ctx, 10)
	if err != nil || len(tasks) != 1 || tasks[0].FlagKey != "ai_suggestions" {
		t.Fatalf("pending tasks = %+v, %v", tasks, err)
	}
}

func TestAdmin_MutationsBumpVersionAndPublish(t *testing.T) {
	pub := newFakePublisher()
	svc, repos, ctx := newAdmin(t, pub)

	if _, err := svc.CreateFlag(ctx, req.CreateFlagRequest{Key: "bulk_export", Name: "Bulk export"}); err != nil {
		t.Fatal(err)
	}
	if doc := pub.wait(t); doc.Version != 1 {
		t.Fatalf("create published version %d", doc.Version)
	}

	enabled := true
	v, err := svc.UpdateFlag(ctx, "bulk_export", req.UpdateFlagRequest{IsEnabled: &enabled})
	if err != nil || v != 2 {
		t.Fatalf("UpdateFlag = %d, %v", v, err)
	}
	if doc := pub.wait(t); doc.Version != 2 || !doc.Enabled {
		t.Errorf("update published %+v", doc)
	}

	v, err = svc.UpsertAccess(ctx, "bulk_export", req.UpsertAccessRequest{UserType: "landlord", AccessState: constraints.AccessOptional})
	if err != nil || v != 3 {
		t.Fatalf("UpsertAccess = %d, %v", v, err)
	}
	pub.wait(t)

	org := uuid.New()
	v, err = svc.SetOverride(ctx, "bulk_export", constraints.ScopeOrganization, org, false)
	if err != nil || v != 4 {
		t.Fatalf("SetOverride = %d, %v", v, err)
	}
	doc := pub.wait(t)
	if doc.ScopeType != constraints.ScopeOrganization || doc.ScopeID != org.String() {
		t.Errorf("override document not scoped: %+v", doc)
	}

	if _, err := svc.ClearOverride(ctx, "bulk_export", constraints.ScopeUser, uuid.New()); !errors.Is(err, ErrOverrideNotFound) {
		t.Errorf("clearing a missing override: got %v", err)
	}
	if _, err := svc.ClearOverride(ctx, "bulk_export", constraints.ScopeOrganization, org); err != nil {
		t.Fatalf("ClearOverride: %v", err)
	}
	pub.wait(t)

	if _, err := svc.UpsertDescriptor(ctx, "bulk_export", req.DescriptorRequest{Category: "tools", DisplayName: "Bulk export"}); err != nil {
		t.Fatalf("UpsertDescriptor: %v", err)
	}
	pub.wait(t)

	if _, err := svc.UpdateFlag(ctx, "missing", req.UpdateFlagRequest{}); !errors.Is(err, ErrFlagNotFound) {
		t.Errorf("unknown flag: got %v", err)
	}

	detail, err := svc.GetFlag(ctx, "bulk_export")
	if err != nil {
		t.Fatalf("GetFlag: %v", err)
	}
	if detail.Version != 6 || len(detail.Access) != 1 || len(detail.Overrides) != 0 || detail.Descriptor == nil {
		t.Errorf("unexpected detail %+v", detail)
	}

	audits, _ := repos.Audits.ListByFlagKey(ctx, "bulk_export")
	if len(audits) != 6 {
		t.Errorf("expected 6 audit rows, got %d", len(audits))
	}
}

func TestAdmin_RollbackFlag(t *testing.T) {
	pub := newFakePublisher()
	pub.fail = true
	svc, repos, ctx := newAdmin(t, pub)

	if _, err := svc.CreateFlag(ctx, req.CreateFlagRequest{Key: "document_vault", Name: "Vault"}); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.CreateFlag(ctx, req.CreateFlagRequest{Key: "other", Name: "Other"}); err != nil {
		t.Fatal(err)
	}
	enabled := true
	if _, err := svc.UpdateFlag(ctx, "document_vault", req.UpdateFlagRequest{IsEnabled: &enabled}); err != nil {
		t.Fatal(err)
	}

	audits, _ := repos.Audits.ListByFlagKey(ctx, "document_vault")
	update, create := audits[0], audits[1]

	if _, err := svc.RollbackFlag(ctx, "other", update.ID); !errors.Is(err, ErrAuditNotMatch) {
		t.Errorf("foreign audit: got %v", err)
	}
	if _, err := svc.RollbackFlag(ctx, "document_vault", create.ID); !errors.Is(err, ErrNothingToRollback) {
		t.Errorf("create audit: got %v", err)
	}
	if _, err := svc.RollbackFlag(ctx, "document_vault", 9999); !errors.Is(err, ErrAuditNotFound) {
		t.Errorf("missing audit: got %v", err)
	}

	v, err := svc.RollbackFlag(ctx, "document_vault", update.ID)
	if err != nil || v != 3 {
		t.Fatalf("RollbackFlag = %d, %v", v, err)
	}
	flag, _ := repos.Flags.GetByKey(ctx, "document_vault")
	if flag.IsEnabled {
		t.Error("rollback did not restore the previous state")
	}
}

func TestAdmin_CatalogAndSubscriptions(t *testing.T) {
	pub := newFakePublisher()
	pub.fail = true
	svc, repos, ctx := newAdmin(t, pub)

	if _, err := svc.CreateFlag(ctx, req.CreateFlagRequest{Key: "rent_reports", Name: "Rent reports"}); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.CreatePackage(ctx, req.CreatePackageRequest{Key: "premium", Name: "Premium"}); err != nil {
		t.Fatalf("CreatePackage: %v", err)
	}
	if _, err := svc.CreatePackage(ctx, req.CreatePackageRequest{Key: "premium", Name: "Premium"}); !errors.Is(err, ErrDuplicateKey) {
		t.Errorf("duplicate package: got %v", err)
	}

	if _, err := svc.AddFlagToPackage(ctx, "nope", "rent_reports"); !errors.Is(err, ErrPackageNotFound) {
		t.Errorf("unknown package: got %v", err)
	}
	if _, err := svc.AddFlagToPackage(ctx, "premium", "rent_reports"); err != nil {
		t.Fatalf("AddFlagToPackage: %v", err)
	}
	pkgs, err := svc.ListPackages(ctx)
	if err != nil || len(pkgs) != 1 || len(pkgs[0].Features) != 1 || pkgs[0].Features[0] != "rent_reports" {
		t.Fatalf("ListPackages = %+v, %v", pkgs, err)
	}

	org := uuid.New()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	before := start.Add(-time.Hour)
	if _, err := svc.Subscribe(ctx, req.SubscribeRequest{OrganizationID: org.String(), PackageKey: "premium", StartedAt: &start, ExpiresAt: &before}); !errors.Is(err, ErrInvalidWindow) {
		t.Errorf("inverted window: got %v", err)
	}
	if _, err := svc.Subscribe(ctx, req.SubscribeRequest{OrganizationID: org.String(), PackageKey: "nope"}); !errors.Is(err, ErrPackageNotFound) {
		t.Errorf("unknown package: got %v", err)
	}
	sub, err := svc.Subscribe(ctx, req.SubscribeRequest{OrganizationID: org.String(), PackageKey: "premium"})
	if err != nil || sub.Status != constraints.SubscriptionActive {
		t.Fatalf("Subscribe = %+v, %v", sub, err)
	}

	id := uuid.MustParse(sub.ID)
	if err := svc.CancelSubscription(ctx, id); err != nil {
		t.Fatalf("CancelSubscription: %v", err)
	}
	if err := svc.CancelSubscription(ctx, id); !errors.Is(err, ErrSubscriptionNotFound) {
		t.Errorf("second cancel: got %v", err)
	}
	subs, _ := svc.ListSubscriptions(ctx, org)
	if len(subs) != 1 || subs[0].Status != constraints.SubscriptionCancelled {
		t.Errorf("subscriptions = %+v", subs)
	}

	if _, err := svc.RemoveFlagFromPackage(ctx, "premium", "rent_reports"); err != nil {
		t.Fatalf("RemoveFlagFromPackage: %v", err)
	}
	if _, err := svc.RemoveFlagFromPackage(ctx, "premium", "rent_reports"); !errors.Is(err, ErrNotInPackage) {
		t.Errorf("second remove: got %v", err)
	}

	flag, _ := repos.Flags.GetByKey(ctx, "rent_reports")
	// add, subscribe, cancel and remove each bump the version once
	if flag.Version != 5 {
		t.Errorf("package and subscription changes should bump the flag version, got %d", flag.Version)
	}
}

func TestAdmin_SubscriptionChangesPublishOrgScopedDocuments(t *testing.T) {
	pub := newFakePublisher()
	svc, repos, ctx := newAdmin(t, pub)

	for _, key := range []string{"rent_reports", "owner_portal"} {
		if _, err := svc.CreateFlag(ctx, req.CreateFlagRequest{Key: key, Name: key}); err != nil {
			t.Fatal(err)
		}
		pub.wait(t)
	}
	if _, err := svc.CreatePackage(ctx, req.CreatePackageRequest{Key: "premium", Name: "Premium"}); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"rent_reports", "owner_portal"} {
		if _, err := svc.AddFlagToPackage(ctx, "premium", key); err != nil {
			t.Fatal(err)
		}
		pub.wait(t)
	}

	// collects one document per flag, publish order is not fixed
	collect := func() map[string]v1.FlagDocument {
		got := make(map[string]v1.FlagDocument)
		for range 2 {
			doc := pub.wait(t)
			got[doc.Key] = doc
		}
		return got
	}

	org := uuid.New()
	sub, err := svc.Subscribe(ctx, req.SubscribeRequest{OrganizationID: org.String(), PackageKey: "premium"})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	for key, doc := range collect() {
		if doc.ScopeType != constraints.ScopeOrganization || doc.ScopeID != org.String() || doc.Version != 3 {
			t.Errorf("subscribe published %s as %+v", key, doc)
		}
	}

	if err := svc.CancelSubscription(ctx, uuid.MustParse(sub.ID)); err != nil {
		t.Fatalf("CancelSubscription: %v", err)
	}
	got := collect()
	if len(got) != 2 {
		t.Fatalf("cancel published %+v", got)
	}
	for key, doc := range got {
		if doc.ScopeID != org.String() || doc.Version != 4 {
			t.Errorf("cancel published %s as %+v", key, doc)
		}
	}

	if err := svc.CancelSubscription(ctx, uuid.New()); !errors.Is(err, ErrSubscriptionNotFound) {
		t.Errorf("unknown subscription: got %v", err)
	}
	audits, _ := repos.Audits.ListByFlagKey(ctx, "owner_portal")
	if len(audits) != 4 {
		t.Errorf("expected create, add, subscribe and cancel audits, got %d", len(audits))
	}
}

func TestAdmin_StatsAndHealth(t *testing.T) {
	pub := newFakePublisher()
	svc, repos, ctx := newAdmin(t, pub)

	if _, err := svc.CreateFlag(ctx, req.CreateFlagRequest{Key: "ai_suggestions", Name: "AI"}); err != nil {
		t.Fatal(err)
	}
	pub.wait(t)
	flag, _ := repos.Flags.GetByKey(ctx, "ai_suggestions")
	if err := repos.Events.Create(ctx, &model.FeatureEvent{FlagID: flag.ID, UserID: uuid.New(), OrganizationID: uuid.New(), EventType: constraints.EventUsed}); err != nil {
		t.Fatal(err)
	}

	stats, err := svc.Stats(ctx, "ai_suggestions")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if len(stats.Counts) != 4 || stats.Counts[constraints.EventUsed] != 1 || stats.Counts[constraints.EventDismissed] != 0 {
		t.Errorf("counts = %v", stats.Counts)
	}
	if _, err := svc.Stats(ctx, "missing"); !errors.Is(err, ErrFlagNotFound) {
		t.Errorf("unknown flag: got %v", err)
	}

	if err := svc.Health(ctx); err != nil {
		t.Errorf("Health: %v", err)
	}
	pub.mu.Lock()
	pub.fail = true
	pub.mu.Unlock()
	if err := svc.Health(ctx); !errors.Is(err, ErrEtcdUnhealthy) {
		t.Errorf("Health with failing publisher: got %v", err)
	}
}
