package service

import (
	"context"
	"testing"
	"time"

	"featuregate/internal/model"
	"featuregate/internal/repository"
	v1 "featuregate/pkg/api/v1"
	"featuregate/pkg/constraints"

	clientv3 "go.etcd.io/etcd/client/v3"
)

func queueTask(t *testing.T, repos *repository.Repositories, doc v1.FlagDocument, payload string) int64 {
	t.Helper()
	if payload == "" {
		payload = doc.ToJSON()
	}
	task := &model.OutboxTask{FlagKey: doc.Key, Payload: payload, Status: model.StatusPending}
	if err := repos.Outbox.Create(context.Background(), task); err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task.ID
}

// taskByID returns the pending task with id, or a zero task once it left the queue.
func taskByID(t *testing.T, repos *repository.Repositories, id int64) model.OutboxTask {
	t.Helper()
	var found model.OutboxTask
	tasks, err := repos.Outbox.FetchPending(context.Background(), 100)
	if err != nil {
		t.Fatal(err)
	}
	for _, task := range tasks {
		if task.ID == id {
			found = task
		}
	}
	return found
}

func TestOutboxWorker_PublishesPendingTasks(t *testing.T) {
	_, repos := newTestRepos(t)
	pub := newFakePublisher()
	queueTask(t, repos, v1.FlagDocument{Key: "a", Version: 2, Enabled: true}, "")
	queueTask(t, repos, v1.FlagDocument{Key: "b", Version: 1}, "")
	queueTask(t, repos, v1.FlagDocument{Key: "corrupt"}, "{not json")

	w := NewOutboxWorker(repos.Outbox, pub, time.Hour, 10)
	w.processPending(context.Background())

	if len(pub.docs) != 2 || pub.docs[0].Key != "a" || pub.docs[0].Version != 2 {
		t.Fatalf("published %+v", pub.docs)
	}
	pending, _ := repos.Outbox.FetchPending(context.Background(), 10)
	if len(pending) != 0 {
		t.Errorf("expected no pending tasks, got %+v", pending)
	}
}

func TestOutboxWorker_RetriesThenFails(t *testing.T) {
	_, repos := newTestRepos(t)
	pub := newFakePublisher()
	pub.fail = true
	id := queueTask(t, repos, v1.FlagDocument{Key: "a", Version: 1}, "")

	w := NewOutboxWorker(repos.Outbox, pub, time.Hour, 10)
	for i := 1; i < maxOutboxRetries; i++ {
		w.processPending(context.Background())
		task := taskByID(t, repos, id)
		if task.ID != id || task.RetryCount != i {
			t.Fatalf("after attempt %d task = %+v", i, task)
		}
	}
	w.processPending(context.Background())
	if task := taskByID(t, repos, id); task.ID != 0 {
		t.Errorf("task should have left the pending queue, got %+v", task)
	}
}

// fakeFeed is an in-memory change feed for reconciliation and feed tests.
type fakeFeed struct {
	*fakePublisher
	prefix  string
	docs    []v1.FlagDocument
	rev     int64
	watches chan clientv3.WatchChan
}

func (f *fakeFeed) Prefix() string { return f.prefix }

func (f *fakeFeed) GetWithRevision(ctx context.Context) ([]v1.FlagDocument, int64, error) {
	return f.docs, f.rev, nil
}

func (f *fakeFeed) WatchFrom(ctx context.Context, startRev int64) clientv3.WatchChan {
	select {
	case ch := <-f.watches:
		return ch
	case <-ctx.Done():
		ch := make(chan clientv3.WatchResponse)
		close(ch)
		return ch
	}
}

func TestReconciler_RepublishesMissingAndStale(t *testing.T) {
	_, repos := newTestRepos(t)
	ctx := context.Background()
	for key, version := range map[string]int{"in_sync": 2, "stale": 5, "missing": 1} {
		if err := repos.Flags.Create(ctx, &model.FeatureFlag{Key: key, Name: key, Version: version}); err != nil {
			t.Fatal(err)
		}
	}
	feed := &fakeFeed{
		fakePublisher: newFakePublisher(),
		docs: []v1.FlagDocument{
			{Key: "in_sync", Version: 2},
			{Key: "stale", Version: 4},
			{Key: "orphan", Version: 1},
		},
	}

	r := NewReconciler(nil, feed, repos.Flags, time.Minute)
	if fixed := r.reconcile(ctx); fixed != 2 {
		t.Fatalf("fixed = %d, want 2", fixed)
	}
	got := map[string]int{}
	for _, d := range feed.fakePublisher.docs {
		got[d.Key] = d.Version
	}
	if got["stale"] != 5 || got["missing"] != 1 || len(got) != 2 {
		t.Errorf("republished %v", got)
	}
}

func TestSubscriptionSweeper_Sweep(t *testing.T) {
	_, repos := newTestRepos(t)
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	pkg := &model.FeaturePackage{Key: "premium", Name: "Premium"}
	if err := repos.Catalog.CreatePackage(ctx, pkg); err != nil {
		t.Fatal(err)
	}
	elapsed := now.Add(-time.Minute)
	later := now.Add(time.Hour)
	for _, exp := range []*time.Time{&elapsed, &later, nil} {
		if err := repos.Catalog.Subscribe(ctx, &model.OrganizationPackageSubscription{
			OrganizationID: pkg.ID, PackageID: pkg.ID, Status: constraints.SubscriptionActive,
			StartedAt: now.Add(-24 * time.Hour), ExpiresAt: exp,
		}); err != nil {
			t.Fatal(err)
		}
	}

	s := NewSubscriptionSweeper(repos.Catalog, "@every 1h")
	s.now = func() time.Time { return now }
	if n := s.Sweep(ctx); n != 1 {
		t.Fatalf("first sweep expired %d, want 1", n)
	}
	if n := s.Sweep(ctx); n != 0 {
		t.Errorf("second sweep expired %d, want 0", n)
	}
}

func TestSubscriptionSweeper_InvalidSchedule(t *testing.T) {
	_, repos := newTestRepos(t)
	s := NewSubscriptionSweeper(repos.Catalog, "not a schedule")
	if err := s.Run(context.Background()); err == nil {
		t.Fatal("expected an error for an invalid schedule")
	}
}
