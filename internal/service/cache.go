package service

import (
	"sort"
	"sync"

	v1 "featuregate/pkg/api/v1"
)

// DocumentCache mirrors the published flag documents at the last seen revision.
type DocumentCache struct {
	mu       sync.RWMutex
	data     map[string]v1.FlagDocument
	revision int64
}

func NewDocumentCache() *DocumentCache {
	return &DocumentCache{
		data: make(map[string]v1.FlagDocument),
	}
}

func (c *DocumentCache) Update(doc v1.FlagDocument) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.data[doc.Key] = doc
	if doc.Revision > c.revision {
		c.revision = doc.Revision
	}
}

func (c *DocumentCache) Delete(key string, rev int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	if rev > c.revision {
		c.revision = rev
	}
}

// Reset replaces the whole content with a fresh snapshot taken at rev.
func (c *DocumentCache) Reset(docs []v1.FlagDocument, rev int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = make(map[string]v1.FlagDocument, len(docs))
	for _, d := range docs {
		c.data[d.Key] = d
	}
	c.revision = rev
}

// GetSnapshot returns the documents ordered by key and the cache revision.
func (c *DocumentCache) GetSnapshot() ([]v1.FlagDocument, int64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	res := make([]v1.FlagDocument, 0, len(c.data))
	for _, d := range c.data {
		res = append(res, d)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Key < res[j].Key })
	return res, c.revision
}
