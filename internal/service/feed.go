package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"featuregate/internal/buffer"
	v1 "featuregate/pkg/api/v1"
	"featuregate/pkg/constraints"
	"featuregate/pkg/logger"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

var errWatchClosed = errors.New("watch channel closed")

// FeedStore is the read side of the published flag documents.
type FeedStore interface {
	Prefix() string
	GetWithRevision(ctx context.Context) ([]v1.FlagDocument, int64, error)
	WatchFrom(ctx context.Context, startRev int64) clientv3.WatchChan
}

// FeedService follows the etcd prefix and turns every event into a change
// message kept in the revision buffer and broadcast through the hub.
type FeedService struct {
	store      FeedStore
	buffer     *buffer.RevisionBuffer
	cache      *DocumentCache
	hub        *Hub
	retryDelay time.Duration
}

func NewFeedService(store FeedStore, hub *Hub, bufferSize int) *FeedService {
	return &FeedService{
		store:      store,
		buffer:     buffer.NewRevisionBuffer(bufferSize),
		cache:      NewDocumentCache(),
		hub:        hub,
		retryDelay: time.Second,
	}
}

func (s *FeedService) GetCompensation(lastRev int64) ([]v1.Message, bool) {
	return s.buffer.GetSince(lastRev)
}

func (s *FeedService) Snapshot() ([]v1.FlagDocument, int64) {
	return s.cache.GetSnapshot()
}

// Run keeps the watch alive until ctx is done, resyncing from a fresh
// snapshot whenever the watch breaks.
func (s *FeedService) Run(ctx context.Context) {
	for {
		err := s.follow(ctx)
		if ctx.Err() != nil {
			return
		}
		logger.Warn("change feed watch interrupted, resyncing", zap.Error(err))
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.retryDelay):
		}
	}
}

func (s *FeedService) follow(ctx context.Context) error {
	docs, rev0, err := s.store.GetWithRevision(ctx)
	if err != nil {
		return err
	}
	s.cache.Reset(docs, rev0)
	s.buffer.Reset(rev0)
	logger.Info("feature snapshot initialized", zap.Int64("rev", rev0), zap.Int("count", len(docs)))

	// watch from the snapshot revision so nothing between Get and Watch is lost
	watchChan := s.store.WatchFrom(ctx, rev0+1)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case wresp, ok := <-watchChan:
			if !ok {
				return errWatchClosed
			}
			if err := wresp.Err(); err != nil {
				return err
			}
			for _, ev := range wresp.Events {
				s.apply(ev)
			}
		}
	}
}

func (s *FeedService) apply(ev *clientv3.Event) {
	var msg v1.Message
	if ev.Type == clientv3.EventTypeDelete {
		key := strings.TrimPrefix(string(ev.Kv.Key), s.store.Prefix())
		msg = v1.Message{
			Key:      key,
			Revision: ev.Kv.ModRevision,
			Action:   constraints.DELETE,
		}
		s.cache.Delete(key, ev.Kv.ModRevision)
	} else {
		var doc v1.FlagDocument
		if err := json.Unmarshal(ev.Kv.Value, &doc); err != nil {
			logger.Error("failed to unmarshal flag document", zap.ByteString("key", ev.Kv.Key), zap.ByteString("raw_value", ev.Kv.Value))
			return
		}
		doc.Revision = ev.Kv.ModRevision
		msg = v1.Message{
			Key:       doc.Key,
			Enabled:   doc.Enabled,
			Version:   doc.Version,
			Revision:  doc.Revision,
			Action:    constraints.PUT,
			ScopeType: doc.ScopeType,
			ScopeID:   doc.ScopeID,
		}
		s.cache.Update(doc)
	}
	s.buffer.AddMessage(msg)
	s.hub.Publish(msg)
}
