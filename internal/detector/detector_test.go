package detector

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/caldre/arbot/internal/domain"
)

func addr(b byte) common.Address {
	var a common.Address
	a[19] = b
	return a
}

func token(b byte, dec uint8) domain.Token {
	return domain.Token{Address: addr(b), Symbol: string(rune('A' + b)), Decimals: dec}
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

func snapshot(seq uint64, pools ...*domain.Pool) *domain.Snapshot {
	m := make(map[common.Address]*domain.Pool, len(pools))
	for _, p := range pools {
		m[p.Address] = p
	}
	return &domain.Snapshot{Seq: seq, Taken: time.Now(), Pools: m}
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func only(cfg Config, kind domain.OppKind) Config {
	cfg.EnablePair = kind == domain.OppPair
	cfg.EnableTriangular = kind == domain.OppTriangular
	cfg.EnableCrossVenue = kind == domain.OppCrossVenue
	cfg.EnableFlashLoan = kind == domain.OppFlashLoan
	return cfg
}

func TestPairDetection(t *testing.T) {
	x, y := token(1, 6), token(2, 6)
	snap := snapshot(7,
		pool(10, x, y, 1_000_000, 2_000_000, 25),
		pool(11, x, y, 1_000_000, 2_050_000, 25),
	)
	d := New(only(DefaultConfig(), domain.OppPair), nil, testLogger())
	opps := d.Scan(context.Background(), snap)
	if len(opps) != 1 {
		t.Fatalf("got %d opportunities, want 1", len(opps))
	}
	opp := opps[0]
	if opp.Kind != domain.OppPair {
		t.Errorf("kind = %s, want pair", opp.Kind)
	}
	// ratio 2.05/2.00 = 1.025 -> 2.5% edge
	if math.Abs(opp.ProfitPct-2.5) > 1e-9 {
		t.Errorf("profit pct = %v, want 2.5", opp.ProfitPct)
	}
	if opp.SnapshotSeq != 7 {
		t.Errorf("snapshot seq = %d, want 7", opp.SnapshotSeq)
	}
	// cheap pool first: it is the buy side of the route
	if opp.Pools[0].Address != addr(10) || opp.Pools[1].Address != addr(11) {
		t.Errorf("pool order = %v, %v", opp.Pools[0].Address, opp.Pools[1].Address)
	}
}

func TestPairBelowThreshold(t *testing.T) {
	x, y := token(1, 6), token(2, 6)
	snap := snapshot(1,
		pool(10, x, y, 1_000_000, 2_000_000, 25),
		pool(11, x, y, 1_000_000, 2_008_000, 25), // ratio 1.004
	)
	d := New(only(DefaultConfig(), domain.OppPair), nil, testLogger())
	if opps := d.Scan(context.Background(), snap); len(opps) != 0 {
		t.Fatalf("got %d opportunities, want 0", len(opps))
	}
}

func TestPairIgnoresReversedSides(t *testing.T) {
	// Same pair, sides flipped in the second pool. Rates must still be
	// compared in a common direction.
	x, y := token(1, 6), token(2, 6)
	snap := snapshot(1,
		pool(10, x, y, 1_000_000, 2_000_000, 25),
		pool(11, y, x, 2_050_000, 1_000_000, 25),
	)
	d := New(only(DefaultConfig(), domain.OppPair), nil, testLogger())
	opps := d.Scan(context.Background(), snap)
	if len(opps) != 1 {
		t.Fatalf("got %d opportunities, want 1", len(opps))
	}
	if math.Abs(opps[0].ProfitPct-2.5) > 1e-9 {
		t.Errorf("profit pct = %v, want 2.5", opps[0].ProfitPct)
	}
}

func TestTriangularDetection(t *testing.T) {
	a, b, c := token(1, 6), token(2, 6), token(3, 6)
	// A->B 1.02, B->C 1.01, C->A 0.98; product 1.009596 > 1.003.
	snap := snapshot(3,
		pool(10, a, b, 1_000_000, 1_020_000, 0),
		pool(11, b, c, 1_000_000, 1_010_000, 0),
		pool(12, c, a, 1_000_000, 980_000, 0),
	)
	d := New(only(DefaultConfig(), domain.OppTriangular), nil, testLogger())
	opps := d.Scan(context.Background(), snap)
	if len(opps) != 1 {
		t.Fatalf("got %d opportunities, want 1 (deduplicated triangle)", len(opps))
	}
	opp := opps[0]
	if opp.Kind != domain.OppTriangular {
		t.Errorf("kind = %s, want triangular", opp.Kind)
	}
	if math.Abs(opp.ProfitPct-0.9596) > 1e-6 {
		t.Errorf("profit pct = %v, want ~0.9596", opp.ProfitPct)
	}
	if len(opp.Path) != 4 || opp.Path[0] != opp.Path[3] {
		t.Errorf("path %v is not a closed cycle", opp.Path)
	}
	if len(opp.Pools) != 3 {
		t.Errorf("got %d pools, want 3 distinct legs", len(opp.Pools))
	}
}

func TestTriangularUnitRateNotEmitted(t *testing.T) {
	a, b, c := token(1, 6), token(2, 6), token(3, 6)
	// Product exactly 1.0: 1.02 * 1.01 * 1/1.0302.
	snap := snapshot(1,
		pool(10, a, b, 1_000_000, 1_020_000, 0),
		pool(11, b, c, 1_000_000, 1_010_000, 0),
		pool(12, c, a, 1_030_200, 1_000_000, 0),
	)
	cfg := only(DefaultConfig(), domain.OppTriangular)
	cfg.TriangularRate = 1.0 // threshold at break-even: rate must exceed it strictly
	d := New(cfg, nil, testLogger())
	if opps := d.Scan(context.Background(), snap); len(opps) != 0 {
		t.Fatalf("got %d opportunities at break-even rate, want 0", len(opps))
	}
}

type stubQuotes struct {
	rate float64
	err  error
}

func (s stubQuotes) Quote(_ context.Context, in, out common.Address, amount float64) (domain.Quote, error) {
	if s.err != nil {
		return domain.Quote{}, s.err
	}
	return domain.Quote{In: in, Out: out, Rate: s.rate, Source: "stub", Taken: time.Now()}, nil
}

func TestCrossVenueDetection(t *testing.T) {
	x, y := token(1, 6), token(2, 6)
	snap := snapshot(1, pool(10, x, y, 1_000_000, 2_000_000, 25))

	// Pool rate 1.995 (fee-adjusted) vs aggregator 2.05: ratio ~1.0276.
	d := New(only(DefaultConfig(), domain.OppCrossVenue), stubQuotes{rate: 2.05}, testLogger())
	opps := d.Scan(context.Background(), snap)
	if len(opps) != 1 {
		t.Fatalf("got %d opportunities, want 1", len(opps))
	}
	if opps[0].Kind != domain.OppCrossVenue {
		t.Errorf("kind = %s, want cross_venue", opps[0].Kind)
	}

	// Quote close to the pool price: no edge.
	d = New(only(DefaultConfig(), domain.OppCrossVenue), stubQuotes{rate: 1.999}, testLogger())
	if opps := d.Scan(context.Background(), snap); len(opps) != 0 {
		t.Fatalf("got %d opportunities near parity, want 0", len(opps))
	}

	// Aggregator down: skip, never error out of the scan.
	d = New(only(DefaultConfig(), domain.OppCrossVenue), stubQuotes{err: errors.New("502")}, testLogger())
	if opps := d.Scan(context.Background(), snap); len(opps) != 0 {
		t.Fatalf("got %d opportunities with failing quotes, want 0", len(opps))
	}
}

func TestFlashLoanDetection(t *testing.T) {
	x, y := token(1, 6), token(2, 6)
	snap := snapshot(1,
		pool(10, x, y, 1_000_000, 2_000_000, 25),
		pool(11, x, y, 1_000_000, 2_050_000, 25),
	)
	d := New(only(DefaultConfig(), domain.OppFlashLoan), nil, testLogger())
	opps := d.Scan(context.Background(), snap)
	if len(opps) != 1 {
		t.Fatalf("got %d opportunities, want 1", len(opps))
	}
	opp := opps[0]
	// Loan capped at 30% of the 1.0-unit constraining reserve.
	if math.Abs(opp.LoanAmount-0.3) > 1e-9 {
		t.Errorf("loan = %v, want 0.3", opp.LoanAmount)
	}
	// (1.025-1)*0.3 - 0.003*0.3 = 0.0066
	if math.Abs(opp.RawProfit-0.0066) > 1e-9 {
		t.Errorf("raw profit = %v, want 0.0066", opp.RawProfit)
	}
}

func TestFlashLoanBelowThreshold(t *testing.T) {
	x, y := token(1, 6), token(2, 6)
	// Ratio 1.008: enough for a pair trade, not for a flash loan.
	snap := snapshot(1,
		pool(10, x, y, 1_000_000, 2_000_000, 25),
		pool(11, x, y, 1_000_000, 2_016_000, 25),
	)
	d := New(only(DefaultConfig(), domain.OppFlashLoan), nil, testLogger())
	if opps := d.Scan(context.Background(), snap); len(opps) != 0 {
		t.Fatalf("got %d opportunities, want 0", len(opps))
	}
}

func TestUntradeablePoolsSkipped(t *testing.T) {
	x, y := token(1, 6), token(2, 6)
	drained := pool(11, x, y, 0, 2_050_000, 25)
	snap := snapshot(1, pool(10, x, y, 1_000_000, 2_000_000, 25), drained)
	cfg := DefaultConfig()
	cfg.EnableCrossVenue = false
	d := New(cfg, nil, testLogger())
	if opps := d.Scan(context.Background(), snap); len(opps) != 0 {
		t.Fatalf("got %d opportunities against a drained pool, want 0", len(opps))
	}
}
