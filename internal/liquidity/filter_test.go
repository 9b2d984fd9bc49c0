package liquidity

import (
	"log/slog"
	"math"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/caldre/arbot/internal/domain"
)

func addr(b byte) common.Address {
	var a common.Address
	a[19] = b
	return a
}

func pool(id byte, ra, rb int64) *domain.Pool {
	return &domain.Pool{
		Address:  addr(id),
		TokenA:   domain.Token{Address: addr(1), Symbol: "X"},
		TokenB:   domain.Token{Address: addr(2), Symbol: "Y"},
		ReserveA: big.NewInt(ra),
		ReserveB: big.NewInt(rb),
		FeeBps:   25,
	}
}

func newFilter(cfg Config) *Filter {
	return New(cfg, slog.New(slog.DiscardHandler))
}

func TestApplySizesAndKeepsProfitable(t *testing.T) {
	// Two 1M/2M pools with a 2.5% edge: depth would allow 100k but the
	// configured cap holds the trade to 10k, keeping impact small.
	opp := &domain.Opportunity{
		ID:        "opp-1",
		Kind:      domain.OppPair,
		ProfitPct: 2.5,
		Pools:     []*domain.Pool{pool(10, 1_000_000, 2_000_000), pool(11, 1_000_000, 2_050_000)},
	}
	kept := newFilter(DefaultConfig()).Apply([]*domain.Opportunity{opp})
	if len(kept) != 1 {
		t.Fatalf("kept %d, want 1", len(kept))
	}
	if opp.TradeSize != 10_000 {
		t.Errorf("trade size = %v, want capped at 10000", opp.TradeSize)
	}
	// max impact: 10000/(3_000_000+10000)*100 * 1.2
	wantImpact := 10_000.0 / 3_010_000 * 100 * 1.2
	if math.Abs(opp.ImpactPct-wantImpact) > 1e-9 {
		t.Errorf("impact = %v, want %v", opp.ImpactPct, wantImpact)
	}
	if opp.RawProfit != 10_000*2.5/100 {
		t.Errorf("raw profit = %v, want 250", opp.RawProfit)
	}
	if opp.EffectiveProfit <= 0 || opp.EffectiveProfit >= opp.RawProfit {
		t.Errorf("effective profit = %v, want in (0, %v)", opp.EffectiveProfit, opp.RawProfit)
	}
}

func TestApplyRejectsWhenImpactEatsEdge(t *testing.T) {
	// Same pools but a thin 0.5% edge: impact (~0.4%) exceeds half the
	// profit, so the opportunity must be dropped unannotated.
	opp := &domain.Opportunity{
		ID:        "opp-2",
		Kind:      domain.OppPair,
		ProfitPct: 0.5,
		Pools:     []*domain.Pool{pool(10, 1_000_000, 2_000_000), pool(11, 1_000_000, 2_050_000)},
	}
	kept := newFilter(DefaultConfig()).Apply([]*domain.Opportunity{opp})
	if len(kept) != 0 {
		t.Fatalf("kept %d, want 0", len(kept))
	}
	if opp.Sized() {
		t.Error("rejected opportunity must not be annotated with a trade size")
	}
}

func TestApplyRejectsBelowMinimumSize(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinTradeSize = 20_000 // above the 10k cap
	opp := &domain.Opportunity{
		ID:        "opp-3",
		Kind:      domain.OppPair,
		ProfitPct: 2.5,
		Pools:     []*domain.Pool{pool(10, 1_000_000, 2_000_000), pool(11, 1_000_000, 2_050_000)},
	}
	if kept := newFilter(cfg).Apply([]*domain.Opportunity{opp}); len(kept) != 0 {
		t.Fatalf("kept %d, want 0", len(kept))
	}
}

func TestTypeFactors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxTradeSize = 1_000_000 // let depth, not the cap, decide
	f := newFilter(cfg)

	tri := &domain.Opportunity{Kind: domain.OppTriangular,
		Pools: []*domain.Pool{pool(10, 1_000_000, 2_000_000)}}
	if got := f.tradeSize(tri); math.Abs(got-70_000) > 1e-9 {
		t.Errorf("triangular size = %v, want 70000", got)
	}
	cross := &domain.Opportunity{Kind: domain.OppCrossVenue,
		Pools: []*domain.Pool{pool(10, 1_000_000, 2_000_000)}}
	if got := f.tradeSize(cross); math.Abs(got-120_000) > 1e-9 {
		t.Errorf("cross-venue size = %v, want 120000", got)
	}
}

func TestFlashLoanKeepsLoanAmount(t *testing.T) {
	opp := &domain.Opportunity{
		ID:         "opp-4",
		Kind:       domain.OppFlashLoan,
		ProfitPct:  2.5,
		LoanAmount: 3000,
		RawProfit:  66, // sized by detection
		Pools:      []*domain.Pool{pool(10, 1_000_000, 2_000_000), pool(11, 1_000_000, 2_050_000)},
	}
	kept := newFilter(DefaultConfig()).Apply([]*domain.Opportunity{opp})
	if len(kept) != 1 {
		t.Fatalf("kept %d, want 1", len(kept))
	}
	if opp.TradeSize != 3000 {
		t.Errorf("trade size = %v, want the 3000 loan", opp.TradeSize)
	}
	if opp.RawProfit != 66 {
		t.Errorf("raw profit = %v, detection estimate must be kept", opp.RawProfit)
	}
}

func TestApplyRanksByEffectiveProfit(t *testing.T) {
	mk := func(id string, pct float64) *domain.Opportunity {
		return &domain.Opportunity{
			ID:        id,
			Kind:      domain.OppPair,
			ProfitPct: pct,
			Pools:     []*domain.Pool{pool(10, 1_000_000, 2_000_000), pool(11, 1_000_000, 2_050_000)},
		}
	}
	kept := newFilter(DefaultConfig()).Apply([]*domain.Opportunity{
		mk("low", 1.5), mk("high", 3.0), mk("mid", 2.0),
	})
	if len(kept) != 3 {
		t.Fatalf("kept %d, want 3", len(kept))
	}
	if kept[0].ID != "high" || kept[1].ID != "mid" || kept[2].ID != "low" {
		t.Errorf("order = %s, %s, %s; want high, mid, low", kept[0].ID, kept[1].ID, kept[2].ID)
	}
}

func TestTinyTradeMinimumImpact(t *testing.T) {
	f := newFilter(DefaultConfig())
	opp := &domain.Opportunity{Kind: domain.OppFlashLoan,
		Pools: []*domain.Pool{pool(10, 1_000_000, 2_000_000)}}
	if got := f.priceImpact(opp, 5); got != minImpactPct {
		t.Errorf("tiny trade impact = %v, want %v", got, minImpactPct)
	}
}
