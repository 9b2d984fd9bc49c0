// Package bidding computes the inclusion tip offered to the relay. The tip
// is a bid in a continuous blind first-price auction: it balances keeping
// most of the edge against outbidding unseen competitors, informed by a
// rolling history of recently paid tips.
package bidding

import (
	"log/slog"
	"math/rand/v2"
	"sort"
	"sync"

	"github.com/caldre/arbot/internal/domain"
)

// Config bounds the tip computation.
type Config struct {
	MinTipThreshold float64 // absolute floor
	MaxTipFraction  float64 // ceiling as share of expected profit, e.g. 0.70
	TipMultiplier   float64 // scales the competitive (median) estimate
	// SubmitBelowBreakeven keeps the historical policy of bidding the
	// floor even when the trade cannot cover it. When false such trades
	// return ErrUnprofitable instead.
	SubmitBelowBreakeven bool
}

// DefaultConfig returns the standard bidding bounds.
func DefaultConfig() Config {
	return Config{
		MinTipThreshold:      0.0001,
		MaxTipFraction:       0.70,
		TipMultiplier:        1.1,
		SubmitBelowBreakeven: true,
	}
}

const (
	baseProfitShare = 0.4  // opening bid as share of expected profit
	maxJitter       = 0.05 // uniform upward jitter to avoid tie-losses
	tipHistoryMax   = 50
	resultHistoryMax = 100
)

// Result is one submission outcome kept for failure-streak statistics.
type Result struct {
	Success bool
	Tip     float64
	Profit  float64
}

// Strategy computes tips and tracks bounded tip/result histories. Safe for
// concurrent use, though writes normally arrive from the single execution
// path only.
type Strategy struct {
	cfg Config
	log *slog.Logger

	mu      sync.Mutex
	tips    []float64
	results []Result
	jitter  func() float64 // uniform in [0,1)
}

func New(cfg Config, logger *slog.Logger) *Strategy {
	return &Strategy{
		cfg:    cfg,
		log:    logger.With(slog.String("component", "bidding")),
		jitter: rand.Float64,
	}
}

// Tip computes the inclusion fee for a trade with the given expected
// profit. Returns ErrUnprofitable only when the floor exceeds the
// affordable maximum and below-breakeven submission is disabled.
func (s *Strategy) Tip(expectedProfit float64) (float64, error) {
	maxTip := expectedProfit * s.cfg.MaxTipFraction
	if s.cfg.MinTipThreshold > maxTip {
		if !s.cfg.SubmitBelowBreakeven {
			return 0, domain.ErrUnprofitable
		}
		s.log.Debug("bidding the floor on a marginal trade",
			slog.Float64("expected_profit", expectedProfit),
			slog.Float64("floor", s.cfg.MinTipThreshold))
		return s.cfg.MinTipThreshold, nil
	}

	base := baseProfitShare * expectedProfit
	competitive := s.competitiveEstimate() * s.cfg.TipMultiplier
	tip := base
	if competitive > tip {
		tip = competitive
	}
	tip = clamp(tip, s.cfg.MinTipThreshold, maxTip)
	tip *= 1 + s.jitter()*maxJitter
	return clamp(tip, s.cfg.MinTipThreshold, maxTip*(1+maxJitter)), nil
}

// RecordTip appends a paid tip to the bounded history, evicting the oldest
// entry past capacity. Called after every submission regardless of outcome.
func (s *Strategy) RecordTip(tip float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tips = append(s.tips, tip)
	if len(s.tips) > tipHistoryMax {
		s.tips = s.tips[len(s.tips)-tipHistoryMax:]
	}
}

// RecordResult appends a submission outcome to the bounded result history.
func (s *Strategy) RecordResult(success bool, tip, profit float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, Result{Success: success, Tip: tip, Profit: profit})
	if len(s.results) > resultHistoryMax {
		s.results = s.results[len(s.results)-resultHistoryMax:]
	}
}

// FailureStreak returns the length of the trailing run of failed results.
func (s *Strategy) FailureStreak() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for i := len(s.results) - 1; i >= 0; i-- {
		if s.results[i].Success {
			break
		}
		n++
	}
	return n
}

// competitiveEstimate is the median of recently paid tips, falling back to
// the configured floor when there is no history yet.
func (s *Strategy) competitiveEstimate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.tips) == 0 {
		return s.cfg.MinTipThreshold
	}
	sorted := make([]float64, len(s.tips))
	copy(sorted, s.tips)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
