package service

import (
	"context"
	"errors"
	"time"

	"featuregate/internal/repository"
	v1 "featuregate/pkg/api/v1"
	"featuregate/pkg/logger"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
	"go.uber.org/zap"
)

const reconcilerLock = "/featuregate/locks/reconciler"

// FeedReadWriter is both sides of the change feed.
type FeedReadWriter interface {
	FeedStore
	Publisher
}

// Reconciler republishes flags whose etcd document is missing or behind the
// database. Only the instance holding the etcd lock does the work.
type Reconciler struct {
	etcdClient *clientv3.Client
	feed       FeedReadWriter
	flags      repository.FlagInterface
	interval   time.Duration
}

func NewReconciler(client *clientv3.Client, feed FeedReadWriter, flags repository.FlagInterface, interval time.Duration) *Reconciler {
	return &Reconciler{
		etcdClient: client,
		feed:       feed,
		flags:      flags,
		interval:   interval,
	}
}

func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	// the lock dies with the session lease if this instance crashes
	session, err := concurrency.NewSession(r.etcdClient, concurrency.WithTTL(10))
	if err != nil {
		logger.Error("failed to create etcd concurrency session", zap.Error(err))
		return
	}
	defer session.Close()

	mutex := concurrency.NewMutex(session, reconcilerLock)
	logger.Info("reconciler started", zap.Duration("interval", r.interval))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			lockCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := mutex.TryLock(lockCtx)
			cancel()
			if err != nil {
				if errors.Is(err, concurrency.ErrLocked) {
					logger.Debug("reconciliation skipped, another instance holds the lock")
				} else {
					logger.Error("failed to acquire reconciliation lock", zap.Error(err))
				}
				continue
			}

			r.reconcile(ctx)

			if err := mutex.Unlock(context.Background()); err != nil {
				logger.Warn("failed to release reconciliation lock", zap.Error(err))
			}
		}
	}
}

// reconcile returns the number of documents it republished.
func (r *Reconciler) reconcile(ctx context.Context) int {
	flags, err := r.flags.GetAll(ctx)
	if err != nil {
		logger.Error("recon: failed to fetch flags from db", zap.Error(err))
		return 0
	}
	docs, _, err := r.feed.GetWithRevision(ctx)
	if err != nil {
		logger.Error("recon: failed to fetch documents from etcd", zap.Error(err))
		return 0
	}

	published := make(map[string]v1.FlagDocument, len(docs))
	for _, d := range docs {
		published[d.Key] = d
	}

	fixed := 0
	known := make(map[string]struct{}, len(flags))
	for _, f := range flags {
		known[f.Key] = struct{}{}

		doc, exists := published[f.Key]
		reason := ""
		switch {
		case !exists:
			reason = "missing_in_etcd"
		case doc.Version < f.Version:
			reason = "stale_version"
		default:
			continue
		}

		logger.Warn("recon: fixing inconsistency", zap.String("key", f.Key), zap.String("reason", reason))
		_, err := r.feed.SaveIfNewer(ctx, v1.FlagDocument{
			Key:       f.Key,
			Enabled:   f.IsEnabled,
			Version:   f.Version,
			UpdatedAt: f.UpdatedAt.Unix(),
		})
		if err != nil {
			logger.Error("recon: failed to fix etcd", zap.String("key", f.Key), zap.Error(err))
			continue
		}
		fixed++
	}

	for key := range published {
		if _, ok := known[key]; !ok {
			logger.Warn("recon: orphan document in etcd", zap.String("key", key))
		}
	}

	logger.Info("reconciliation finished", zap.Int("db_count", len(flags)), zap.Int("etcd_count", len(docs)), zap.Int("fixed", fixed))
	return fixed
}
