package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// OppKind classifies the arbitrage pattern an opportunity belongs to.
type OppKind string

const (
	OppPair       OppKind = "pair"
	OppTriangular OppKind = "triangular"
	OppCrossVenue OppKind = "cross_venue"
	OppFlashLoan  OppKind = "flash_loan"
)

// Opportunity is one detected arbitrage candidate. Detection fills the
// identity, path and profit fields; liquidity filtering writes TradeSize,
// ImpactPct and EffectiveProfit exactly once before execution.
type Opportunity struct {
	ID          string
	Kind        OppKind
	Path        []common.Address // token route, first == last for cycles
	Pools       []*Pool          // pools traversed, in path order
	ProfitPct   float64          // fee-adjusted edge, percent
	RawProfit   float64          // estimated gross profit, quote units
	LoanAmount  float64          // flash-loan size, set only for OppFlashLoan
	Confidence  float64          // 0..1, detection confidence
	SnapshotSeq uint64
	Detected    time.Time

	// Set by the liquidity filter.
	TradeSize       float64
	ImpactPct       float64
	EffectiveProfit float64
}

// Target is the pool address execution is keyed on for blacklisting and
// failure accounting: the first pool in the route.
func (o *Opportunity) Target() common.Address {
	if len(o.Pools) == 0 {
		return common.Address{}
	}
	return o.Pools[0].Address
}

// Sized reports whether the liquidity filter has accepted and annotated
// this opportunity.
func (o *Opportunity) Sized() bool {
	return o.TradeSize > 0
}
