package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ExecutionRecord is one terminal execution outcome, appended to the trade
// ledger after every build/simulate/submit attempt chain finishes. Records
// are the source of truth for the circuit breaker's daily windows.
type ExecutionRecord struct {
	ID        string         `json:"id"`
	Time      time.Time      `json:"time"`
	Target    common.Address `json:"target"`
	Kind      OppKind        `json:"kind"`
	Success   bool           `json:"success"`
	TradeSize float64        `json:"trade_size"`
	TipPaid   float64        `json:"tip_paid"`
	Profit    float64        `json:"profit"` // realized, negative on loss
	Attempts  int            `json:"attempts"`
	BundleID  string         `json:"bundle_id,omitempty"`
	Err       string         `json:"err,omitempty"`
}

// BundleStatus is the relay-side lifecycle of a submitted bundle.
type BundleStatus string

const (
	BundlePending  BundleStatus = "pending"
	BundleIncluded BundleStatus = "included"
	BundleDropped  BundleStatus = "dropped"
)

// Bundle is an atomic transaction bundle ready for relay submission.
// Payload is opaque to the engine; the builder produces it and the relay
// consumes it.
type Bundle struct {
	OpportunityID string
	Target        common.Address
	TradeSize     float64
	Tip           float64
	Payload       []byte
}

// SimulationResult is the builder's dry-run verdict on a bundle.
type SimulationResult struct {
	Success        bool
	ExpectedProfit float64
	GasUsed        uint64
	RevertReason   string
}

// Quote is an external aggregator's price for swapping In to Out.
type Quote struct {
	In     common.Address
	Out    common.Address
	Rate   float64 // out units per in unit, decimal-adjusted
	Source string
	Taken  time.Time
}
