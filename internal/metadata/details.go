package metadata

import (
	"sync"
	"time"
)

// EntryState is the outcome of a DetailCache lookup.
type EntryState int

const (
	EntryMissing EntryState = iota // never resolved in this generation
	EntryExpired                   // resolved, but past its TTL
	EntryFresh                     // resolved and within its TTL
)

// DetailCache maps normalized table names to resolved TableDetail.
// Expiry is evaluated lazily at access time; there is no background
// sweep, which matters when the index holds tens of thousands of names.
//
// Entries are written only by the single resolved-fetch writer for their
// key (the coordinator guarantees one writer per key) and treated as
// immutable once stored.
type DetailCache struct {
	mu      sync.RWMutex
	entries map[string]*TableDetail
}

// NewDetailCache creates an empty cache.
func NewDetailCache() *DetailCache {
	return &DetailCache{entries: make(map[string]*TableDetail)}
}

// Get returns the entry for name and its freshness state. An expired
// entry is returned alongside EntryExpired so the caller can count the
// eviction, but must be treated as a miss.
func (dc *DetailCache) Get(name string, policy TTLPolicy, now time.Time) (*TableDetail, EntryState) {
	dc.mu.RLock()
	d, ok := dc.entries[Normalize(name)]
	dc.mu.RUnlock()

	if !ok {
		return nil, EntryMissing
	}
	if d.Expired(policy, now) {
		return d, EntryExpired
	}
	return d, EntryFresh
}

// Put stores a freshly resolved entry.
func (dc *DetailCache) Put(d *TableDetail) {
	dc.mu.Lock()
	dc.entries[d.Name] = d
	dc.mu.Unlock()
}

// Len returns the number of stored entries, fresh or not.
func (dc *DetailCache) Len() int {
	dc.mu.RLock()
	defer dc.mu.RUnlock()
	return len(dc.entries)
}

// FreshCount returns how many entries are currently within their TTL.
func (dc *DetailCache) FreshCount(policy TTLPolicy, now time.Time) int {
	dc.mu.RLock()
	defer dc.mu.RUnlock()

	n := 0
	for _, d := range dc.entries {
		if !d.Expired(policy, now) {
			n++
		}
	}
	return n
}

// All returns every stored entry, in no particular order.
func (dc *DetailCache) All() []*TableDetail {
	dc.mu.RLock()
	defer dc.mu.RUnlock()

	out := make([]*TableDetail, 0, len(dc.entries))
	for _, d := range dc.entries {
		out = append(out, d)
	}
	return out
}
