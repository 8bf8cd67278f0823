package buffer

import (
	"sort"
	"sync"

	v1 "featuregate/pkg/api/v1"
)

// RevisionBuffer is a ring of the most recent change messages in revision
// order. Every message after floor is still held, so a client that has seen
// floor or later can be caught up from the buffer alone.
type RevisionBuffer struct {
	mu       sync.RWMutex
	messages []v1.Message
	size     int
	head     int
	isFull   bool
	floor    int64
}

func NewRevisionBuffer(size int) *RevisionBuffer {
	if size <= 0 {
		size = 1000
	}
	return &RevisionBuffer{
		messages: make([]v1.Message, size),
		size:     size,
	}
}

// Reset drops every message and marks the buffer complete from rev on.
func (b *RevisionBuffer) Reset(rev int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.head = 0
	b.isFull = false
	b.floor = rev
	clear(b.messages)
}

func (b *RevisionBuffer) AddMessage(msg v1.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.isFull {
		b.floor = b.messages[b.head].Revision
	}
	b.messages[b.head] = msg
	b.head = (b.head + 1) % b.size
	if b.head == 0 {
		b.isFull = true
	}
}

// GetSince returns the messages newer than lastRev. The second return is
// false when some of them were already evicted and the client must resync.
func (b *RevisionBuffer) GetSince(lastRev int64) ([]v1.Message, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if lastRev < b.floor {
		return nil, false
	}

	count := b.head
	start := 0
	if b.isFull {
		count = b.size
		start = b.head
	}
	at := func(i int) v1.Message {
		return b.messages[(start+i)%b.size]
	}

	idx := sort.Search(count, func(i int) bool {
		return at(i).Revision > lastRev
	})
	if idx == count {
		return nil, true
	}

	result := make([]v1.Message, 0, count-idx)
	for i := idx; i < count; i++ {
		result = append(result, at(i))
	}
	return result, true
}
