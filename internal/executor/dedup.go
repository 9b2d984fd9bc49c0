package executor

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// dedup prevents the same target pool from being attempted more than once
// within a TTL window. Consecutive scan cycles often rediscover the same
// divergence before the first bundle lands; hammering one pool with
// overlapping bundles just bids against ourselves.
type dedup struct {
	mu   sync.Mutex
	seen map[common.Address]time.Time
	ttl  time.Duration
}

func newDedup(ttl time.Duration) *dedup {
	return &dedup{seen: make(map[common.Address]time.Time), ttl: ttl}
}

// isDuplicate reports whether target was attempted within the TTL; if not,
// the attempt is recorded.
func (d *dedup) isDuplicate(target common.Address) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := time.Now()
	if last, ok := d.seen[target]; ok && now.Sub(last) < d.ttl {
		return true
	}
	d.seen[target] = now
	return false
}

// cleanup drops expired entries. Called opportunistically from the
// execution path to bound memory.
func (d *dedup) cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := time.Now()
	for t, ts := range d.seen {
		if now.Sub(ts) >= d.ttl {
			delete(d.seen, t)
		}
	}
}
