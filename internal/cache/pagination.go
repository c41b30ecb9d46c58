package cache

import (
	"sync"
	"time"

	"github.com/rbatllet/private-blockchain-search/pkg/ledger"
)

// PaginationCache is a bounded, TTL-guarded snapshot of the most recent
// encrypted blocks, used to accelerate the first page of the parallel
// query-time decryption scan. It holds a compound invariant (blocks +
// populated-at timestamp + hit/miss/refresh counters), so unlike the
// per-key TTLCache it is guarded by a single mutex.
type PaginationCache struct {
	mu          sync.Mutex
	blocks      []ledger.Block
	populatedAt time.Time
	capacity    int
	ttl         time.Duration

	hits      int
	misses    int
	refreshes int
}

// NewPaginationCache builds an empty PaginationCache with the given
// capacity and TTL.
func NewPaginationCache(capacity int, ttl time.Duration) *PaginationCache {
	return &PaginationCache{capacity: capacity, ttl: ttl}
}

// Snapshot returns the cached blocks if populated and not expired. ok is
// false on a miss (never populated, or past its TTL), in which case the
// caller is expected to refresh via Populate.
func (p *PaginationCache) Snapshot() (blocks []ledger.Block, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.blocks == nil || time.Since(p.populatedAt) > p.ttl {
		p.misses++
		return nil, false
	}
	p.hits++
	out := make([]ledger.Block, len(p.blocks))
	copy(out, p.blocks)
	return out, true
}

// Populate replaces the cached blocks, truncating to capacity, and resets
// the populated-at timestamp.
func (p *PaginationCache) Populate(blocks []ledger.Block) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(blocks) > p.capacity {
		blocks = blocks[:p.capacity]
	}
	p.blocks = blocks
	p.populatedAt = time.Now()
	p.refreshes++
}

// Invalidate drops the cached snapshot, forcing the next Snapshot to miss.
// Called whenever a block is indexed and on explicit clear.
func (p *PaginationCache) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.blocks = nil
}

// Stats is a point-in-time view of the pagination cache's counters.
type Stats struct {
	Hits      int
	Misses    int
	Refreshes int
	Size      int
}

// Stats returns the current counters.
func (p *PaginationCache) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Hits: p.hits, Misses: p.misses, Refreshes: p.refreshes, Size: len(p.blocks)}
}
