// Package liquidity sizes detected opportunities against available pool
// depth and discards those whose own price impact would eat the edge.
package liquidity

import (
	"log/slog"
	"math/big"
	"sort"

	"github.com/caldre/arbot/internal/domain"
)

// Config bounds trade sizing.
type Config struct {
	MinTradeSize float64 // reject below this
	MaxTradeSize float64 // hard cap regardless of depth
	SizeFraction float64 // share of the thinnest pool used, e.g. 0.10
	SafetyMargin float64 // impact multiplier, e.g. 1.2
	ImpactRatio  float64 // max impact as share of profit pct, e.g. 0.5
}

// DefaultConfig returns the standard sizing bounds.
func DefaultConfig() Config {
	return Config{
		MinTradeSize: 100,
		MaxTradeSize: 10_000,
		SizeFraction: 0.10,
		SafetyMargin: 1.2,
		ImpactRatio:  0.5,
	}
}

// Type factors: triangular routes have more legs and more risk, cross-venue
// trades draw on independent liquidity.
const (
	factorTriangular = 0.7
	factorCrossVenue = 1.2
)

// Trades below this size get a flat minimum impact instead of the
// depth-proportional estimate.
const (
	tinyTradeSize = 10
	minImpactPct  = 0.1
)

// Filter annotates opportunities with trade size, impact and effective
// profit, dropping those that cannot be executed profitably.
type Filter struct {
	cfg Config
	log *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Filter {
	return &Filter{cfg: cfg, log: logger.With(slog.String("component", "liquidity"))}
}

// Apply sizes and filters opps, returning survivors ranked by effective
// profit, best first. Each surviving opportunity is annotated exactly once
// with TradeSize, ImpactPct, RawProfit and EffectiveProfit.
func (f *Filter) Apply(opps []*domain.Opportunity) []*domain.Opportunity {
	kept := make([]*domain.Opportunity, 0, len(opps))
	for _, opp := range opps {
		if len(opp.Pools) == 0 {
			continue
		}
		size := f.tradeSize(opp)
		if size <= 0 {
			f.log.Debug("rejected: trade size below minimum",
				slog.String("id", opp.ID),
				slog.String("kind", string(opp.Kind)),
				slog.Float64("min", f.cfg.MinTradeSize))
			continue
		}
		impact := f.priceImpact(opp, size)
		if impact >= f.cfg.ImpactRatio*opp.ProfitPct {
			f.log.Debug("rejected: impact consumes the edge",
				slog.String("id", opp.ID),
				slog.String("kind", string(opp.Kind)),
				slog.Float64("impact_pct", impact),
				slog.Float64("profit_pct", opp.ProfitPct))
			continue
		}
		raw := opp.RawProfit
		if opp.Kind != domain.OppFlashLoan {
			raw = size * opp.ProfitPct / 100
		}
		effective := raw * (1 - impact/100)
		if effective <= 0 {
			continue
		}
		opp.TradeSize = size
		opp.ImpactPct = impact
		opp.RawProfit = raw
		opp.EffectiveProfit = effective
		kept = append(kept, opp)
	}
	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].EffectiveProfit > kept[j].EffectiveProfit
	})
	return kept
}

// tradeSize picks the capital to commit: a fraction of the thinnest
// participating pool, adjusted by pattern type and clamped to the
// configured bounds. Flash loans keep the loan already sized by detection.
func (f *Filter) tradeSize(opp *domain.Opportunity) float64 {
	if opp.Kind == domain.OppFlashLoan {
		return opp.LoanAmount
	}
	smallest := -1.0
	for _, p := range opp.Pools {
		liq := constrainingLiquidity(p)
		if smallest < 0 || liq < smallest {
			smallest = liq
		}
	}
	if smallest <= 0 {
		return 0
	}
	size := smallest * f.cfg.SizeFraction
	switch opp.Kind {
	case domain.OppTriangular:
		size *= factorTriangular
	case domain.OppCrossVenue:
		size *= factorCrossVenue
	}
	if size > f.cfg.MaxTradeSize {
		size = f.cfg.MaxTradeSize
	}
	if size < f.cfg.MinTradeSize {
		return 0
	}
	return size
}

// priceImpact estimates the worst-case impact percentage across the
// participating pools for a trade of the given size, with a safety margin.
func (f *Filter) priceImpact(opp *domain.Opportunity, size float64) float64 {
	if size < tinyTradeSize {
		return minImpactPct
	}
	max := 0.0
	for _, p := range opp.Pools {
		total := poolUnits(p)
		if total <= 0 {
			return 100
		}
		impact := size / (total + size) * 100
		if impact > max {
			max = impact
		}
	}
	return max * f.cfg.SafetyMargin
}

// constrainingLiquidity is the smaller of the two decimal-adjusted
// reserves, the side a trade would actually exhaust first.
func constrainingLiquidity(p *domain.Pool) float64 {
	a := units(p.ReserveA, p.TokenA.Decimals)
	b := units(p.ReserveB, p.TokenB.Decimals)
	if a < b {
		return a
	}
	return b
}

// poolUnits is the total decimal-adjusted size of both sides.
func poolUnits(p *domain.Pool) float64 {
	return units(p.ReserveA, p.TokenA.Decimals) + units(p.ReserveB, p.TokenB.Decimals)
}

func units(v *big.Int, dec uint8) float64 {
	if v == nil {
		return 0
	}
	den := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(dec)), nil)
	f, _ := new(big.Rat).SetFrac(v, den).Float64()
	return f
}
