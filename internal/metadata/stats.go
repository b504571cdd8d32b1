package metadata

import "sync/atomic"

// StatsRecorder keeps the cache's hit/miss/eviction counters. Counters
// are atomic so recording never takes a lock; they persist across TTL
// expirations and reset to zero on rebuild (each generation carries its
// own recorder).
type StatsRecorder struct {
	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

func (s *StatsRecorder) Hit()      { s.hits.Add(1) }
func (s *StatsRecorder) Miss()     { s.misses.Add(1) }
func (s *StatsRecorder) Eviction() { s.evictions.Add(1) }

// Snapshot returns an immutable point-in-time view of the counters,
// combined with the supplied cache sizes and generation stamp.
func (s *StatsRecorder) Snapshot(cached, total int, generation uint64) CacheStats {
	return CacheStats{
		Hits:             s.hits.Load(),
		Misses:           s.misses.Load(),
		Evictions:        s.evictions.Load(),
		CachedTableCount: cached,
		TotalTableCount:  total,
		Generation:       generation,
	}
}
