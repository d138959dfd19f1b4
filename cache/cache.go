// Package cache provides the client-side content-addressed frame cache.
//
// Frames are keyed by a BLAKE2b fingerprint of their bytes, so identical
// frames share one entry. The cache is bounded by entry count and evicts in
// insertion order: the oldest inserted frame goes first regardless of how
// recently it was read.
package cache

import (
	"container/list"
	"encoding/hex"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/blake2b"
)

// FingerprintSize is the digest length in bytes. Rendered as hex it is a
// 16 character key.
const FingerprintSize = 8

// DefaultCapacity is used when a non-positive capacity is requested.
const DefaultCapacity = 128

// Fingerprint returns the deterministic cache key for frame.
func Fingerprint(frame []byte) string {
	h, err := blake2b.New(FingerprintSize, nil)
	if err != nil {
		// Only possible for an invalid size or key, both fixed here.
		panic(err)
	}
	h.Write(frame)
	return hex.EncodeToString(h.Sum(nil))
}

// Stats holds cache counters.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Entries   int
	Capacity  int
}

// HitRate returns hits/(hits+misses), or 0 before any lookup.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

type entry struct {
	fingerprint string
	data        []byte
}

// FrameCache is a bounded fingerprint to frame map. It is safe for
// concurrent use.
type FrameCache struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*list.Element
	order    *list.List // front is oldest

	hits      uint64
	misses    uint64
	evictions uint64
}

// New creates a cache holding at most capacity frames.
func New(capacity int) *FrameCache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &FrameCache{
		capacity: capacity,
		entries:  make(map[string]*list.Element, capacity),
		order:    list.New(),
	}
}

// Lookup returns the cached frame for fingerprint. The returned slice must
// not be modified.
func (c *FrameCache) Lookup(fingerprint string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[fingerprint]
	if !ok {
		c.misses++
		return nil, false
	}
	c.hits++
	return elem.Value.(*entry).data, true
}

// Insert stores a copy of frame under fingerprint. Inserting a fingerprint
// that is already present is a no-op and counts as a hit; a new entry counts
// as a miss.
func (c *FrameCache) Insert(fingerprint string, frame []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[fingerprint]; ok {
		c.hits++
		return
	}
	c.misses++

	data := make([]byte, len(frame))
	copy(data, frame)
	c.entries[fingerprint] = c.order.PushBack(&entry{fingerprint: fingerprint, data: data})

	for c.order.Len() > c.capacity {
		oldest := c.order.Front()
		c.order.Remove(oldest)
		evicted := oldest.Value.(*entry)
		delete(c.entries, evicted.fingerprint)
		c.evictions++

		logrus.WithFields(logrus.Fields{
			"function":    "FrameCache.Insert",
			"fingerprint": evicted.fingerprint,
			"entries":     c.order.Len(),
		}).Debug("Evicted oldest cache entry")
	}
}

// Contains reports whether fingerprint is cached without touching counters.
func (c *FrameCache) Contains(fingerprint string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[fingerprint]
	return ok
}

// Len returns the number of cached frames.
func (c *FrameCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Stats returns a snapshot of the counters.
func (c *FrameCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Entries:   c.order.Len(),
		Capacity:  c.capacity,
	}
}

// HitRate returns hits/(hits+misses).
func (c *FrameCache) HitRate() float64 {
	return c.Stats().HitRate()
}
