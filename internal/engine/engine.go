// Package engine owns the run loops: snapshot refresh, detection scans,
// execution dispatch and ledger rotation. The current snapshot is held in
// an atomic pointer and swapped whole; readers never see a half-updated
// view.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/caldre/arbot/internal/detector"
	"github.com/caldre/arbot/internal/domain"
	"github.com/caldre/arbot/internal/executor"
	"github.com/caldre/arbot/internal/ledger"
	"github.com/caldre/arbot/internal/liquidity"
	"github.com/caldre/arbot/internal/metrics"
	"github.com/caldre/arbot/internal/notify"
)

// Config bounds the engine loops.
type Config struct {
	ScanInterval  time.Duration
	SnapshotEvery time.Duration
	RotateEvery   time.Duration
	TopK          int  // max executions per scan cycle
	Trading       bool // false: detect and log only, never submit
}

// Deps bundles the engine's collaborators. Cache, Archive, Blob, Notifier
// and Metrics are optional; the engine skips the corresponding work when
// they are nil.
type Deps struct {
	Source   domain.PoolSource
	Detector *detector.Detector
	Filter   *liquidity.Filter
	Executor *executor.Controller
	Ledger   *ledger.Store
	Cache    domain.SnapshotCache
	Archive  domain.RecordArchive
	Blob     domain.BlobWriter
	Notifier *notify.Notifier
	Metrics  *metrics.Metrics
}

// Engine runs the detection and execution pipeline over live snapshots.
type Engine struct {
	cfg  Config
	deps Deps
	log  *slog.Logger

	// seq is the engine's own monotonic snapshot sequence. Full fetches,
	// warm starts and feed deltas all advance it, so an opportunity
	// detected on any older view is refused as stale.
	seq  atomic.Uint64
	snap atomic.Pointer[domain.Snapshot]
}

func New(cfg Config, deps Deps, logger *slog.Logger) *Engine {
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = 5 * time.Second
	}
	if cfg.SnapshotEvery <= 0 {
		cfg.SnapshotEvery = 15 * time.Second
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 3
	}
	return &Engine{
		cfg:  cfg,
		deps: deps,
		log:  logger.With(slog.String("component", "engine")),
	}
}

// Current returns the snapshot the engine is scanning, or nil before the
// first refresh.
func (e *Engine) Current() *domain.Snapshot {
	return e.snap.Load()
}

// Run starts the refresh, scan and rotation loops and blocks until ctx is
// cancelled or a loop fails.
func (e *Engine) Run(ctx context.Context) error {
	e.warmStart(ctx)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.refreshLoop(ctx) })
	g.Go(func() error { return e.scanLoop(ctx) })
	if e.deps.Blob != nil && e.cfg.RotateEvery > 0 {
		g.Go(func() error { return e.rotateLoop(ctx) })
	}
	return g.Wait()
}

// warmStart seeds the snapshot from the external cache so scanning can
// begin before the first live fetch completes.
func (e *Engine) warmStart(ctx context.Context) {
	if e.deps.Cache == nil {
		return
	}
	snap, err := e.deps.Cache.Get(ctx)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			e.log.Warn("warm start failed", slog.Any("error", err))
		}
		return
	}
	e.install(ctx, snap, false)
	e.log.Info("warm start from cached snapshot",
		slog.Int("pools", len(snap.Pools)),
		slog.Time("taken", snap.Taken))
}

func (e *Engine) refreshLoop(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.SnapshotEvery)
	defer ticker.Stop()

	e.refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.refresh(ctx)
		}
	}
}

func (e *Engine) refresh(ctx context.Context) {
	fetchCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	snap, err := e.deps.Source.FetchSnapshot(fetchCtx)
	if err != nil {
		e.log.Warn("snapshot fetch failed", slog.Any("error", err))
		return
	}
	e.install(ctx, snap, true)
}

// install assigns the engine sequence and swaps the snapshot in. Feed
// deltas skip the cache write; full fetches persist for warm starts.
func (e *Engine) install(ctx context.Context, snap *domain.Snapshot, persist bool) {
	snap.Seq = e.seq.Add(1)
	e.snap.Store(snap)
	if e.deps.Metrics != nil {
		e.deps.Metrics.SnapshotSeq.Set(float64(snap.Seq))
	}
	if persist && e.deps.Cache != nil {
		putCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := e.deps.Cache.Put(putCtx, snap); err != nil {
			e.log.Warn("snapshot cache put failed", slog.Any("error", err))
		}
	}
}

// ApplyReserves folds a live reserve update into the current view as a
// fresh snapshot. Unknown pools are ignored; the full fetch will pick
// them up.
func (e *Engine) ApplyReserves(ctx context.Context, pool common.Address, reserveA, reserveB *big.Int) {
	cur := e.snap.Load()
	if cur == nil {
		return
	}
	old, ok := cur.Pools[pool]
	if !ok {
		return
	}

	pools := make(map[common.Address]*domain.Pool, len(cur.Pools))
	for addr, p := range cur.Pools {
		pools[addr] = p
	}
	updated := *old
	updated.ReserveA = reserveA
	updated.ReserveB = reserveB
	pools[pool] = &updated

	e.install(ctx, &domain.Snapshot{
		Taken: time.Now().UTC(),
		Pools: pools,
	}, false)
}

func (e *Engine) scanLoop(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.scan(ctx)
		}
	}
}

func (e *Engine) scan(ctx context.Context) {
	snap := e.snap.Load()
	if snap == nil {
		return
	}

	start := time.Now()
	opps := e.deps.Detector.Scan(ctx, snap)
	sized := e.deps.Filter.Apply(opps)
	if e.deps.Metrics != nil {
		e.deps.Metrics.ScansTotal.Inc()
		e.deps.Metrics.ScanDuration.Observe(time.Since(start).Seconds())
		for _, opp := range sized {
			e.deps.Metrics.OpportunitiesTotal.WithLabelValues(string(opp.Kind)).Inc()
		}
	}
	if len(sized) == 0 {
		return
	}

	if !e.cfg.Trading {
		for _, opp := range sized {
			e.log.Info("opportunity found",
				slog.String("id", opp.ID),
				slog.String("kind", string(opp.Kind)),
				slog.Float64("profit_pct", opp.ProfitPct),
				slog.Float64("effective_profit", opp.EffectiveProfit),
				slog.Float64("trade_size", opp.TradeSize))
		}
		return
	}
	e.dispatch(ctx, sized)
}

// dispatch executes the best candidates, at most TopK per cycle and one
// per target. The ranked order from the filter is preserved.
func (e *Engine) dispatch(ctx context.Context, sized []*domain.Opportunity) {
	executed := 0
	seen := make(map[common.Address]bool, e.cfg.TopK)
	for _, opp := range sized {
		if executed >= e.cfg.TopK {
			return
		}
		target := opp.Target()
		if seen[target] {
			continue
		}
		seen[target] = true

		rec, err := e.deps.Executor.Execute(ctx, opp, e.seq.Load())
		if rec == nil {
			if errors.Is(err, domain.ErrBreakerTripped) && e.deps.Notifier != nil {
				e.deps.Notifier.NotifyBreaker(ctx, err.Error())
			}
			continue
		}
		executed++
		e.record(ctx, rec)
	}
}

// record fans a terminal outcome out to metrics, the archive mirror and
// notifications. None of these block the trading path on failure.
func (e *Engine) record(ctx context.Context, rec *domain.ExecutionRecord) {
	if e.deps.Metrics != nil {
		e.deps.Metrics.ObserveExecution(rec.Success, rec.TipPaid, rec.Profit)
	}
	if e.deps.Archive != nil {
		if err := e.deps.Archive.Insert(ctx, *rec); err != nil {
			e.log.Warn("archive insert failed", slog.Any("error", err))
		}
	}
	if e.deps.Notifier != nil {
		e.deps.Notifier.NotifyExecution(ctx, *rec)
		if !rec.Success && e.deps.Ledger != nil && e.deps.Ledger.Blacklisted(rec.Target) {
			e.deps.Notifier.NotifyBlacklist(ctx, rec.Target.Hex())
		}
	}
}

func (e *Engine) rotateLoop(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.RotateEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := e.rotate(ctx); err != nil {
				e.log.Warn("ledger rotation failed", slog.Any("error", err))
			}
		}
	}
}

// rotate closes out the current ledger segment and uploads it to object
// storage. The local segment stays on disk; the upload is the copy.
func (e *Engine) rotate(ctx context.Context) error {
	segment, err := e.deps.Ledger.Rotate(ctx)
	if err != nil {
		return fmt.Errorf("engine: rotate ledger: %w", err)
	}
	if segment == "" {
		return nil
	}

	f, err := os.Open(segment)
	if err != nil {
		return fmt.Errorf("engine: open segment: %w", err)
	}
	defer f.Close()

	key := "ledger/" + filepath.Base(segment)
	putCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := e.deps.Blob.Put(putCtx, key, f, "application/x-ndjson"); err != nil {
		return fmt.Errorf("engine: archive segment: %w", err)
	}
	e.log.Info("ledger segment archived", slog.String("key", key))
	return nil
}
