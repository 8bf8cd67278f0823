package repository

import (
	"context"
	"encoding/json"
	"errors"

	v1 "featuregate/pkg/api/v1"

	clientv3 "go.etcd.io/etcd/client/v3"
)

var ErrMaxRetries = errors.New("max retries exceeded for SaveIfNewer")

type EtcdInterface interface {
	clientv3.KV
	clientv3.Watcher
	Close() error
}

// FeedRepository stores published flag documents in etcd, one key per flag.
type FeedRepository struct {
	client EtcdInterface
	prefix string
}

func NewFeedRepository(client EtcdInterface, prefix string) *FeedRepository {
	return &FeedRepository{client: client, prefix: prefix}
}

func (r *FeedRepository) Prefix() string {
	return r.prefix
}

// KeyFor returns the etcd key holding the document of flagKey.
func (r *FeedRepository) KeyFor(flagKey string) string {
	return r.prefix + flagKey
}

// SaveIfNewer writes doc only if the stored document has a lower version (CAS).
// It returns the etcd revision that holds the newest document.
func (r *FeedRepository) SaveIfNewer(ctx context.Context, doc v1.FlagDocument) (int64, error) {
	const maxRetries = 3
	var retries int
	key := r.KeyFor(doc.Key)
	val := doc.ToJSON()

	for {
		resp, err := r.client.Get(ctx, key)
		if err != nil {
			return 0, err
		}

		var txn clientv3.Txn
		if len(resp.Kvs) == 0 {
			txn = r.client.Txn(ctx).
				If(clientv3.Compare(clientv3.CreateRevision(key), "=", 0)).
				Then(clientv3.OpPut(key, val))
		} else {
			kv := resp.Kvs[0]
			var current v1.FlagDocument
			if err := json.Unmarshal(kv.Value, &current); err != nil {
				return 0, err
			}
			// stale or replayed publish
			if current.Version >= doc.Version {
				return kv.ModRevision, nil
			}
			txn = r.client.Txn(ctx).
				If(clientv3.Compare(clientv3.ModRevision(key), "=", kv.ModRevision)).
				Then(clientv3.OpPut(key, val))
		}

		tResp, err := txn.Commit()
		if err != nil {
			return 0, err
		}
		if tResp.Succeeded {
			return tResp.Header.Revision, nil
		}
		retries++
		if retries > maxRetries {
			return 0, ErrMaxRetries
		}
	}
}

// Delete removes the document of flagKey.
func (r *FeedRepository) Delete(ctx context.Context, flagKey string) (int64, error) {
	resp, err := r.client.Delete(ctx, r.KeyFor(flagKey))
	if err != nil {
		return 0, err
	}
	return resp.Header.Revision, nil
}

// GetWithRevision loads every document under the prefix together with the
// revision the read was served at.
func (r *FeedRepository) GetWithRevision(ctx context.Context) ([]v1.FlagDocument, int64, error) {
	resp, err := r.client.Get(ctx, r.prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, 0, err
	}
	docs := make([]v1.FlagDocument, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var doc v1.FlagDocument
		if err := json.Unmarshal(kv.Value, &doc); err != nil {
			continue
		}
		doc.Revision = kv.ModRevision
		docs = append(docs, doc)
	}
	return docs, resp.Header.Revision, nil
}

func (r *FeedRepository) WatchFrom(ctx context.Context, startRev int64) clientv3.WatchChan {
	return r.client.Watch(ctx, r.prefix, clientv3.WithPrefix(), clientv3.WithRev(startRev), clientv3.WithPrevKV())
}

func (r *FeedRepository) Health(ctx context.Context) error {
	_, err := r.client.Get(ctx, "health_check")
	return err
}
