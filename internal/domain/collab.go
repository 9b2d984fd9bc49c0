package domain

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// PoolSource produces a fresh snapshot of every tracked pool.
type PoolSource interface {
	FetchSnapshot(ctx context.Context) (*Snapshot, error)
}

// QuoteSource prices a swap on an external aggregator, used by cross-venue
// detection as the off-pool reference price.
type QuoteSource interface {
	Quote(ctx context.Context, in, out common.Address, amount float64) (Quote, error)
}

// Builder assembles and dry-runs atomic bundles for an opportunity.
type Builder interface {
	BuildBundle(ctx context.Context, opp *Opportunity, tradeSize, tip float64) (*Bundle, error)
	Simulate(ctx context.Context, b *Bundle) (SimulationResult, error)
}

// Relay submits bundles to a block builder and reports their fate.
type Relay interface {
	Submit(ctx context.Context, b *Bundle) (bundleID string, err error)
	Status(ctx context.Context, bundleID string) (BundleStatus, error)
}

// LedgerStore is the append-only execution ledger plus the persisted
// blacklist and per-target failure counters.
type LedgerStore interface {
	Append(ctx context.Context, rec ExecutionRecord) error
	Records() []ExecutionRecord
	Blacklisted(target common.Address) bool
	Failures(target common.Address) int
	RecordFailure(ctx context.Context, target common.Address) (int, error)
	ClearFailures(ctx context.Context, target common.Address) error
	Blacklist(ctx context.Context, target common.Address) error
	ResetBlacklist(ctx context.Context) error
}

// SnapshotCache persists the latest snapshot outside the process so a
// restart can warm-start before the first live fetch completes.
type SnapshotCache interface {
	Put(ctx context.Context, s *Snapshot) error
	Get(ctx context.Context) (*Snapshot, error)
}

// RecordArchive mirrors execution records into durable storage for
// offline analysis. Failures here never block the trading path.
type RecordArchive interface {
	Insert(ctx context.Context, rec ExecutionRecord) error
	SumProfit(ctx context.Context, since int64) (float64, error)
}
