// Package detector scans immutable pool snapshots for four arbitrage
// pattern families: pair, triangular, cross-venue and flash-loan. All
// price estimates go through the pricing package so pool fees are always
// accounted for, and threshold comparisons are exact rationals.
package detector

import (
	"context"
	"log/slog"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/caldre/arbot/internal/domain"
	"github.com/caldre/arbot/internal/pricing"
)

// Config holds the per-family profit thresholds and enable flags.
// Ratio thresholds are expressed as the minimum max/min price ratio.
type Config struct {
	EnablePair       bool
	EnableTriangular bool
	EnableCrossVenue bool
	EnableFlashLoan  bool

	PairRatio       float64 // e.g. 1.005
	TriangularRate  float64 // min product of cycle rates, e.g. 1.003
	CrossVenueRatio float64 // e.g. 1.005
	FlashLoanRatio  float64 // higher bar, e.g. 1.01
	FlashLoanFee    float64 // flat flash-loan fee, e.g. 0.003
	FlashLoanCap    float64 // max share of constraining reserve, e.g. 0.30
	QuoteAmount     float64 // notional priced against the aggregator
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		EnablePair:       true,
		EnableTriangular: true,
		EnableCrossVenue: true,
		EnableFlashLoan:  true,
		PairRatio:        1.005,
		TriangularRate:   1.003,
		CrossVenueRatio:  1.005,
		FlashLoanRatio:   1.01,
		FlashLoanFee:     0.003,
		FlashLoanCap:     0.30,
		QuoteAmount:      100,
	}
}

// Detection confidence by family. Multi-leg routes and off-venue prices
// carry more execution uncertainty than a two-pool swap.
const (
	confPair       = 0.90
	confTriangular = 0.70
	confCrossVenue = 0.80
	confFlashLoan  = 0.75
)

// Detector enumerates opportunities over one snapshot at a time.
type Detector struct {
	cfg    Config
	quotes domain.QuoteSource
	log    *slog.Logger

	pairRatio  *big.Rat
	triRate    *big.Rat
	crossRatio *big.Rat
	flashRatio *big.Rat
}

// New builds a Detector. quotes may be nil, which disables cross-venue
// detection regardless of the config flag.
func New(cfg Config, quotes domain.QuoteSource, logger *slog.Logger) *Detector {
	return &Detector{
		cfg:        cfg,
		quotes:     quotes,
		log:        logger.With(slog.String("component", "detector")),
		pairRatio:  ratFromFloat(cfg.PairRatio),
		triRate:    ratFromFloat(cfg.TriangularRate),
		crossRatio: ratFromFloat(cfg.CrossVenueRatio),
		flashRatio: ratFromFloat(cfg.FlashLoanRatio),
	}
}

// Scan enumerates all enabled pattern families over snap. The snapshot is
// never mutated; every emitted opportunity carries snap.Seq so the engine
// can discard results that outlived their snapshot.
func (d *Detector) Scan(ctx context.Context, snap *domain.Snapshot) []*domain.Opportunity {
	byPair := snap.ByPair()
	var opps []*domain.Opportunity
	if d.cfg.EnablePair {
		opps = append(opps, d.findPair(snap, byPair)...)
	}
	if d.cfg.EnableTriangular {
		opps = append(opps, d.findTriangular(snap, byPair)...)
	}
	if d.cfg.EnableCrossVenue && d.quotes != nil {
		opps = append(opps, d.findCrossVenue(ctx, snap)...)
	}
	if d.cfg.EnableFlashLoan {
		opps = append(opps, d.findFlashLoan(snap, byPair)...)
	}
	d.log.Debug("scan complete",
		slog.Uint64("seq", snap.Seq),
		slog.Int("pools", len(snap.Pools)),
		slog.Int("opportunities", len(opps)))
	return opps
}

// findPair compares every two pools holding the same unordered token pair.
func (d *Detector) findPair(snap *domain.Snapshot, byPair map[domain.PairKey][]*domain.Pool) []*domain.Opportunity {
	var opps []*domain.Opportunity
	for key, pools := range byPair {
		if len(pools) < 2 {
			continue
		}
		var lo, hi *domain.Pool
		var loRate, hiRate *big.Rat
		for _, p := range pools {
			r := directionalRate(p, key[0])
			if r.Sign() <= 0 {
				continue
			}
			if loRate == nil || r.Cmp(loRate) < 0 {
				lo, loRate = p, r
			}
			if hiRate == nil || r.Cmp(hiRate) > 0 {
				hi, hiRate = p, r
			}
		}
		if lo == nil || hi == nil || lo == hi {
			continue
		}
		ratio := new(big.Rat).Quo(hiRate, loRate)
		if ratio.Cmp(d.pairRatio) <= 0 {
			continue
		}
		opps = append(opps, d.emit(domain.OppPair, snap,
			[]common.Address{key[0], key[1]},
			[]*domain.Pool{lo, hi},
			ratioPct(ratio), confPair))
	}
	return opps
}

// findTriangular enumerates 3-cycles over the token adjacency graph.
// Iterating ordered triples a < b < c dedupes each triangle to a single
// evaluation per scan; both traversal directions are tried and the better
// one kept.
func (d *Detector) findTriangular(snap *domain.Snapshot, byPair map[domain.PairKey][]*domain.Pool) []*domain.Opportunity {
	tokens := tokenSet(byPair)
	var opps []*domain.Opportunity
	for i := 0; i < len(tokens); i++ {
		for j := i + 1; j < len(tokens); j++ {
			ab := byPair[domain.NewPairKey(tokens[i], tokens[j])]
			if len(ab) == 0 {
				continue
			}
			for k := j + 1; k < len(tokens); k++ {
				bc := byPair[domain.NewPairKey(tokens[j], tokens[k])]
				ca := byPair[domain.NewPairKey(tokens[k], tokens[i])]
				if len(bc) == 0 || len(ca) == 0 {
					continue
				}
				a, b, c := tokens[i], tokens[j], tokens[k]
				fwdRate, fwdPools := cycleRate(a, b, c, ab, bc, ca)
				revRate, revPools := cycleRate(a, c, b, ca, bc, ab)
				rate, pools, path := fwdRate, fwdPools, []common.Address{a, b, c, a}
				if revRate.Cmp(fwdRate) > 0 {
					rate, pools, path = revRate, revPools, []common.Address{a, c, b, a}
				}
				if rate.Cmp(d.triRate) <= 0 {
					continue
				}
				opps = append(opps, d.emit(domain.OppTriangular, snap, path, pools, ratioPct(rate), confTriangular))
			}
		}
	}
	return opps
}

// findCrossVenue compares each pool's price against an independent
// aggregator quote for the same pair.
func (d *Detector) findCrossVenue(ctx context.Context, snap *domain.Snapshot) []*domain.Opportunity {
	var opps []*domain.Opportunity
	for _, p := range snap.Pools {
		if !p.Tradeable() {
			continue
		}
		q, err := d.quotes.Quote(ctx, p.TokenA.Address, p.TokenB.Address, d.cfg.QuoteAmount)
		if err != nil {
			d.log.Debug("quote unavailable",
				slog.String("pool", p.Address.Hex()), slog.Any("error", err))
			continue
		}
		if q.Rate <= 0 {
			continue
		}
		poolRate := directionalRate(p, p.TokenA.Address)
		if poolRate.Sign() <= 0 {
			continue
		}
		quoteRate := ratFromFloat(q.Rate)
		ratio := new(big.Rat).Quo(poolRate, quoteRate)
		if ratio.Cmp(ratOne) < 0 {
			ratio.Inv(ratio)
		}
		if ratio.Cmp(d.crossRatio) <= 0 {
			continue
		}
		opps = append(opps, d.emit(domain.OppCrossVenue, snap,
			[]common.Address{p.TokenA.Address, p.TokenB.Address},
			[]*domain.Pool{p},
			ratioPct(ratio), confCrossVenue))
	}
	return opps
}

// findFlashLoan looks for same-pair pool divergence wide enough to cover
// the flat flash-loan fee, and sizes the loan against the constraining
// reserve of whichever pool is thinner.
func (d *Detector) findFlashLoan(snap *domain.Snapshot, byPair map[domain.PairKey][]*domain.Pool) []*domain.Opportunity {
	var opps []*domain.Opportunity
	for key, pools := range byPair {
		for i := 0; i < len(pools); i++ {
			for j := i + 1; j < len(pools); j++ {
				p1, p2 := pools[i], pools[j]
				r1 := directionalRate(p1, key[0])
				r2 := directionalRate(p2, key[0])
				if r1.Sign() <= 0 || r2.Sign() <= 0 {
					continue
				}
				cheap, rich := p1, p2
				ratio := new(big.Rat).Quo(r2, r1)
				if r1.Cmp(r2) > 0 {
					cheap, rich = p2, p1
					ratio.Inv(ratio)
				}
				if ratio.Cmp(d.flashRatio) <= 0 {
					continue
				}
				loan := d.cfg.FlashLoanCap * minF(
					reserveUnits(cheap, key[0]),
					reserveUnits(rich, key[0]),
				)
				if loan <= 0 {
					continue
				}
				edge, _ := new(big.Rat).Sub(ratio, ratOne).Float64()
				profit := edge*loan - d.cfg.FlashLoanFee*loan
				if profit <= 0 {
					continue
				}
				opp := d.emit(domain.OppFlashLoan, snap,
					[]common.Address{key[0], key[1]},
					[]*domain.Pool{cheap, rich},
					ratioPct(ratio), confFlashLoan)
				opp.LoanAmount = loan
				opp.RawProfit = profit
				opps = append(opps, opp)
			}
		}
	}
	return opps
}

func (d *Detector) emit(kind domain.OppKind, snap *domain.Snapshot, path []common.Address, pools []*domain.Pool, profitPct, conf float64) *domain.Opportunity {
	return &domain.Opportunity{
		ID:          uuid.NewString(),
		Kind:        kind,
		Path:        path,
		Pools:       pools,
		ProfitPct:   profitPct,
		Confidence:  conf,
		SnapshotSeq: snap.Seq,
		Detected:    time.Now().UTC(),
	}
}

var ratOne = big.NewRat(1, 1)

// cycleRate computes the best fee-adjusted rate product for the directed
// cycle a -> b -> c -> a, picking the best pool on each leg.
func cycleRate(a, b, c common.Address, ab, bc, ca []*domain.Pool) (*big.Rat, []*domain.Pool) {
	r1, p1 := bestLeg(ab, a)
	r2, p2 := bestLeg(bc, b)
	r3, p3 := bestLeg(ca, c)
	if p1 == nil || p2 == nil || p3 == nil {
		return new(big.Rat), nil
	}
	rate := new(big.Rat).Mul(r1, r2)
	rate.Mul(rate, r3)
	return rate, []*domain.Pool{p1, p2, p3}
}

// bestLeg returns the pool with the highest directional rate entering
// with from.
func bestLeg(pools []*domain.Pool, from common.Address) (*big.Rat, *domain.Pool) {
	var best *big.Rat
	var bestPool *domain.Pool
	for _, p := range pools {
		r := directionalRate(p, from)
		if r.Sign() <= 0 {
			continue
		}
		if best == nil || r.Cmp(best) > 0 {
			best, bestPool = r, p
		}
	}
	if best == nil {
		return new(big.Rat), nil
	}
	return best, bestPool
}

// directionalRate is the pool's fee-adjusted, decimal-adjusted rate for a
// trade entering with from. Zero when from is not in the pool.
func directionalRate(p *domain.Pool, from common.Address) *big.Rat {
	in, out, ok := p.Reserves(from)
	if !ok {
		return new(big.Rat)
	}
	to, _ := p.Other(from)
	var decIn uint8
	if from == p.TokenA.Address {
		decIn = p.TokenA.Decimals
	} else {
		decIn = p.TokenB.Decimals
	}
	return pricing.EffectiveRate(in, out, decIn, to.Decimals, p.FeeBps)
}

// reserveUnits is a pool's decimal-adjusted reserve of tok as a float,
// used only for loan sizing where exactness is not load-bearing.
func reserveUnits(p *domain.Pool, tok common.Address) float64 {
	in, _, ok := p.Reserves(tok)
	if !ok {
		return 0
	}
	var dec uint8
	if tok == p.TokenA.Address {
		dec = p.TokenA.Decimals
	} else {
		dec = p.TokenB.Decimals
	}
	f, _ := new(big.Rat).SetFrac(in, pow10(dec)).Float64()
	return f
}

func tokenSet(byPair map[domain.PairKey][]*domain.Pool) []common.Address {
	seen := make(map[common.Address]struct{})
	for key := range byPair {
		seen[key[0]] = struct{}{}
		seen[key[1]] = struct{}{}
	}
	tokens := make([]common.Address, 0, len(seen))
	for a := range seen {
		tokens = append(tokens, a)
	}
	sort.Slice(tokens, func(i, j int) bool { return tokens[i].Cmp(tokens[j]) < 0 })
	return tokens
}

// ratioPct converts a max/min price ratio to an edge percentage.
func ratioPct(ratio *big.Rat) float64 {
	f, _ := new(big.Rat).Sub(ratio, ratOne).Float64()
	return f * 100
}

func ratFromFloat(f float64) *big.Rat {
	r := new(big.Rat).SetFloat64(f)
	if r == nil {
		return new(big.Rat)
	}
	return r
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func pow10(d uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(d)), nil)
}
