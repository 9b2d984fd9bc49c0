package engine

import (
	"context"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/caldre/arbot/internal/bidding"
	"github.com/caldre/arbot/internal/detector"
	"github.com/caldre/arbot/internal/domain"
	"github.com/caldre/arbot/internal/executor"
	"github.com/caldre/arbot/internal/ledger"
	"github.com/caldre/arbot/internal/liquidity"
)

func addr(b byte) common.Address {
	var a common.Address
	a[19] = b
	return a
}

func token(b byte) domain.Token {
	return domain.Token{Address: addr(b), Symbol: string(rune('A' + b)), Decimals: 0}
}

func pool(id byte, ta, tb domain.Token, ra, rb int64, feeBps uint32) *domain.Pool {
	return &domain.Pool{
		Address:  addr(id),
		Venue:    "testvenue",
		TokenA:   ta,
		TokenB:   tb,
		ReserveA: big.NewInt(ra),
		ReserveB: big.NewInt(rb),
		FeeBps:   feeBps,
	}
}

// arbSnapshot holds a clean 2.5% two-pool edge deep enough to survive the
// liquidity filter.
func arbSnapshot() *domain.Snapshot {
	x, y := token(1), token(2)
	pools := map[common.Address]*domain.Pool{
		addr(10): pool(10, x, y, 1_000_000, 2_000_000, 25),
		addr(11): pool(11, x, y, 1_000_000, 2_050_000, 25),
	}
	return &domain.Snapshot{Taken: time.Now(), Pools: pools}
}

type fakeBuilder struct {
	sim domain.SimulationResult
}

func (f *fakeBuilder) BuildBundle(_ context.Context, opp *domain.Opportunity, size, tip float64) (*domain.Bundle, error) {
	return &domain.Bundle{OpportunityID: opp.ID, Target: opp.Target(), TradeSize: size, Tip: tip}, nil
}

func (f *fakeBuilder) Simulate(context.Context, *domain.Bundle) (domain.SimulationResult, error) {
	return f.sim, nil
}

type fakeRelay struct {
	submits int
}

func (f *fakeRelay) Submit(context.Context, *domain.Bundle) (string, error) {
	f.submits++
	return "bundle-1", nil
}

func (f *fakeRelay) Status(context.Context, string) (domain.BundleStatus, error) {
	return domain.BundleIncluded, nil
}

func testEngine(t *testing.T, trading bool, relay *fakeRelay) *Engine {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)

	led, err := ledger.Open(t.TempDir(), logger)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { led.Close() })

	execCfg := executor.DefaultConfig()
	execCfg.DedupTTL = 0
	bids := bidding.New(bidding.DefaultConfig(), logger)
	ctrl := executor.New(execCfg, bids,
		&fakeBuilder{sim: domain.SimulationResult{Success: true, ExpectedProfit: 1.0}},
		relay, led, logger)

	det := detector.New(detector.DefaultConfig(), nil, logger)
	filt := liquidity.New(liquidity.DefaultConfig(), logger)
	return New(Config{TopK: 3, Trading: trading}, Deps{
		Detector: det,
		Filter:   filt,
		Executor: ctrl,
		Ledger:   led,
	}, logger)
}

func TestInstallAdvancesSeq(t *testing.T) {
	e := testEngine(t, false, &fakeRelay{})
	ctx := context.Background()

	e.install(ctx, arbSnapshot(), false)
	first := e.Current()
	if first.Seq != 1 {
		t.Fatalf("seq = %d, want 1", first.Seq)
	}
	e.install(ctx, arbSnapshot(), false)
	if got := e.Current().Seq; got != 2 {
		t.Errorf("seq = %d, want 2", got)
	}
}

func TestApplyReservesCreatesFreshSnapshot(t *testing.T) {
	e := testEngine(t, false, &fakeRelay{})
	ctx := context.Background()
	e.install(ctx, arbSnapshot(), false)
	old := e.Current()

	e.ApplyReserves(ctx, addr(10), big.NewInt(999_000), big.NewInt(2_002_000))
	cur := e.Current()
	if cur.Seq != old.Seq+1 {
		t.Fatalf("seq = %d, want %d", cur.Seq, old.Seq+1)
	}
	if cur.Pools[addr(10)].ReserveA.Int64() != 999_000 {
		t.Errorf("reserve not applied: %v", cur.Pools[addr(10)].ReserveA)
	}
	// The previous snapshot is untouched.
	if old.Pools[addr(10)].ReserveA.Int64() != 1_000_000 {
		t.Errorf("old snapshot mutated: %v", old.Pools[addr(10)].ReserveA)
	}
	// Unknown pools are ignored without a new snapshot.
	e.ApplyReserves(ctx, addr(99), big.NewInt(1), big.NewInt(1))
	if e.Current().Seq != cur.Seq {
		t.Error("unknown pool advanced the sequence")
	}
}

func TestScanModeNeverSubmits(t *testing.T) {
	relay := &fakeRelay{}
	e := testEngine(t, false, relay)
	ctx := context.Background()
	e.install(ctx, arbSnapshot(), false)

	e.scan(ctx)
	if relay.submits != 0 {
		t.Errorf("scan mode submitted %d bundles", relay.submits)
	}
}

func TestTradeModeExecutesDetectedOpportunity(t *testing.T) {
	relay := &fakeRelay{}
	e := testEngine(t, true, relay)
	ctx := context.Background()
	e.install(ctx, arbSnapshot(), false)

	e.scan(ctx)
	if relay.submits != 1 {
		t.Fatalf("submits = %d, want 1", relay.submits)
	}
	recs := e.deps.Ledger.Records()
	if len(recs) != 1 || !recs[0].Success {
		t.Errorf("ledger records = %+v", recs)
	}
}

func TestStaleOpportunityDropped(t *testing.T) {
	relay := &fakeRelay{}
	e := testEngine(t, true, relay)
	ctx := context.Background()
	e.install(ctx, arbSnapshot(), false)

	snap := e.Current()
	opps := e.deps.Detector.Scan(ctx, snap)
	sized := e.deps.Filter.Apply(opps)
	if len(sized) == 0 {
		t.Fatal("expected a sized opportunity")
	}

	// A newer snapshot arrives between detection and dispatch.
	e.install(ctx, arbSnapshot(), false)
	e.dispatch(ctx, sized)
	if relay.submits != 0 {
		t.Errorf("stale opportunity submitted %d bundles", relay.submits)
	}
	if recs := e.deps.Ledger.Records(); len(recs) != 0 {
		t.Errorf("stale rejection persisted: %+v", recs)
	}
}

func TestDispatchOnePerTarget(t *testing.T) {
	relay := &fakeRelay{}
	e := testEngine(t, true, relay)
	ctx := context.Background()
	e.install(ctx, arbSnapshot(), false)
	seq := e.Current().Seq

	mk := func(id string) *domain.Opportunity {
		return &domain.Opportunity{
			ID:              id,
			Kind:            domain.OppPair,
			Pools:           []*domain.Pool{e.Current().Pools[addr(10)]},
			SnapshotSeq:     seq,
			TradeSize:       1000,
			ProfitPct:       2.5,
			EffectiveProfit: 25,
		}
	}
	e.dispatch(ctx, []*domain.Opportunity{mk("a"), mk("b")})
	if relay.submits != 1 {
		t.Errorf("submits = %d, want 1 (same target)", relay.submits)
	}
}
