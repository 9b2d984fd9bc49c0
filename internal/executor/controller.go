// Package executor drives one opportunity through validation, bidding,
// bundle construction, simulation and relay submission, and owns the
// failure-containment machinery around that path: circuit breaker,
// per-target blacklist, duplicate suppression and submission retries.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/caldre/arbot/internal/bidding"
	"github.com/caldre/arbot/internal/domain"
)

// Config bounds the execution path.
type Config struct {
	MaxPriceImpact      float64 // hard impact ceiling, percent
	BlacklistAfterFails int
	DedupTTL            time.Duration
	Breaker             BreakerConfig
	Retry               RetryPolicy
}

// DefaultConfig returns the standard execution limits.
func DefaultConfig() Config {
	return Config{
		MaxPriceImpact:      2.0,
		BlacklistAfterFails: 2,
		DedupTTL:            30 * time.Second,
		Breaker:             DefaultBreakerConfig(),
		Retry:               DefaultRetryPolicy(),
	}
}

// Controller executes sized opportunities. One instance serves the whole
// process; the ledger and bid histories behind it are mutated only through
// this path.
type Controller struct {
	cfg     Config
	bids    *bidding.Strategy
	builder domain.Builder
	relay   domain.Relay
	ledger  domain.LedgerStore
	log     *slog.Logger

	dedup   *dedup
	tripped atomic.Bool
	now     func() time.Time
}

func New(cfg Config, bids *bidding.Strategy, builder domain.Builder, relay domain.Relay, ledger domain.LedgerStore, logger *slog.Logger) *Controller {
	return &Controller{
		cfg:     cfg,
		bids:    bids,
		builder: builder,
		relay:   relay,
		ledger:  ledger,
		log:     logger.With(slog.String("component", "executor")),
		dedup:   newDedup(cfg.DedupTTL),
		now:     time.Now,
	}
}

// TripBreaker halts all trading until ResetBreaker. Intended for operator
// intervention; the automatic limits need no manual trip.
func (c *Controller) TripBreaker() { c.tripped.Store(true) }

// ResetBreaker clears a manual trip.
func (c *Controller) ResetBreaker() { c.tripped.Store(false) }

// Execute runs the full state machine for opp. currentSeq is the sequence
// of the snapshot the engine currently holds; an opportunity detected on
// an older snapshot is dropped unexecuted.
//
// The returned record is nil exactly when the rejection happened before
// anything was at stake (stale data, duplicates, breaker, blacklist,
// unprofitable); those outcomes are logged but not persisted.
func (c *Controller) Execute(ctx context.Context, opp *domain.Opportunity, currentSeq uint64) (*domain.ExecutionRecord, error) {
	target := opp.Target()

	if opp.SnapshotSeq != currentSeq {
		return nil, c.reject(opp, fmt.Errorf("%w: opportunity from snapshot %d, current %d",
			domain.ErrStaleData, opp.SnapshotSeq, currentSeq))
	}
	if !opp.Sized() {
		return nil, c.reject(opp, fmt.Errorf("%w: opportunity was never sized", domain.ErrUnprofitable))
	}
	if c.dedup.isDuplicate(target) {
		return nil, c.reject(opp, fmt.Errorf("%w: target %s attempted within dedup window",
			domain.ErrStaleData, target.Hex()))
	}
	c.dedup.cleanup()

	if c.tripped.Load() {
		return nil, c.reject(opp, fmt.Errorf("%w: manual trip", domain.ErrBreakerTripped))
	}
	if _, err := evalBreaker(c.cfg.Breaker, c.ledger.Records(), target, c.now()); err != nil {
		return nil, c.reject(opp, err)
	}
	if c.ledger.Blacklisted(target) {
		return nil, c.reject(opp, fmt.Errorf("%w: %s", domain.ErrBlacklisted, target.Hex()))
	}

	c.capImpact(opp)

	tip, err := c.bids.Tip(opp.EffectiveProfit)
	if err != nil {
		return nil, c.reject(opp, err)
	}

	bundle, err := c.builder.BuildBundle(ctx, opp, opp.TradeSize, tip)
	if err != nil {
		return c.finish(ctx, opp, tip, 0, "", 0,
			fmt.Errorf("%w: %v", domain.ErrBuildFailed, err))
	}
	sim, err := c.builder.Simulate(ctx, bundle)
	if err != nil {
		return c.finish(ctx, opp, tip, 0, "", 0,
			fmt.Errorf("%w: %v", domain.ErrSimulationFailed, err))
	}
	if !sim.Success {
		return c.finish(ctx, opp, tip, 0, "", 0,
			fmt.Errorf("%w: %s", domain.ErrSimulationFailed, sim.RevertReason))
	}

	bundleID, finalTip, attempts, err := c.submit(ctx, bundle, tip)
	if err != nil {
		return c.finish(ctx, opp, finalTip, attempts, bundleID, 0, err)
	}
	return c.finish(ctx, opp, finalTip, attempts, bundleID, sim.ExpectedProfit-finalTip, nil)
}

// capImpact scales trade size and profit down when estimated impact
// exceeds the configured ceiling, pinning impact to the ceiling rather
// than silently exceeding it.
func (c *Controller) capImpact(opp *domain.Opportunity) {
	if c.cfg.MaxPriceImpact <= 0 || opp.ImpactPct <= c.cfg.MaxPriceImpact {
		return
	}
	scale := c.cfg.MaxPriceImpact / opp.ImpactPct
	c.log.Info("capping trade to impact ceiling",
		slog.String("id", opp.ID),
		slog.Float64("impact_pct", opp.ImpactPct),
		slog.Float64("ceiling_pct", c.cfg.MaxPriceImpact),
		slog.Float64("scale", scale))
	opp.TradeSize *= scale
	opp.RawProfit *= scale
	opp.EffectiveProfit *= scale
	opp.ImpactPct = c.cfg.MaxPriceImpact
}

// submit pushes the already-built bundle at most MaxAttempts times,
// escalating the tip between attempts. The opportunity is deliberately not
// re-validated here: the bundle is reused as built.
func (c *Controller) submit(ctx context.Context, bundle *domain.Bundle, baseTip float64) (bundleID string, finalTip float64, attempts int, err error) {
	finalTip = baseTip
	for attempt := 1; attempt <= c.cfg.Retry.MaxAttempts; attempt++ {
		attempts = attempt
		finalTip = c.cfg.Retry.EscalateFee(baseTip, attempt)
		bundle.Tip = finalTip

		bundleID, err = c.relay.Submit(ctx, bundle)
		if err == nil {
			return bundleID, finalTip, attempts, nil
		}
		err = fmt.Errorf("%w: attempt %d: %v", domain.ErrSubmissionFailed, attempt, err)
		c.log.Warn("bundle submission failed",
			slog.String("opportunity", bundle.OpportunityID),
			slog.Int("attempt", attempt),
			slog.Float64("tip", finalTip),
			slog.Any("error", err))
		if attempt == c.cfg.Retry.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return "", finalTip, attempts, fmt.Errorf("%w: %v", domain.ErrSubmissionFailed, ctx.Err())
		case <-time.After(c.cfg.Retry.Backoff(attempt)):
		}
	}
	return "", finalTip, attempts, err
}

// finish records the terminal outcome: bid histories, the ledger append,
// failure counting and blacklisting. execErr nil means success.
func (c *Controller) finish(ctx context.Context, opp *domain.Opportunity, tip float64, attempts int, bundleID string, profit float64, execErr error) (*domain.ExecutionRecord, error) {
	success := execErr == nil
	c.bids.RecordTip(tip)
	c.bids.RecordResult(success, tip, profit)

	rec := &domain.ExecutionRecord{
		ID:        opp.ID,
		Time:      c.now().UTC(),
		Target:    opp.Target(),
		Kind:      opp.Kind,
		Success:   success,
		TradeSize: opp.TradeSize,
		TipPaid:   tip,
		Profit:    profit,
		Attempts:  attempts,
		BundleID:  bundleID,
	}
	if execErr != nil {
		rec.Err = execErr.Error()
	}
	if err := c.ledger.Append(ctx, *rec); err != nil {
		c.log.Error("ledger append failed", slog.Any("error", err))
	}

	if success {
		if err := c.ledger.ClearFailures(ctx, rec.Target); err != nil {
			c.log.Error("clearing failure counter failed", slog.Any("error", err))
		}
		c.log.Info("bundle submitted",
			slog.String("id", opp.ID),
			slog.String("kind", string(opp.Kind)),
			slog.String("bundle", bundleID),
			slog.Float64("tip", tip),
			slog.Int("attempts", attempts))
		return rec, nil
	}

	n, err := c.ledger.RecordFailure(ctx, rec.Target)
	if err != nil {
		c.log.Error("recording failure failed", slog.Any("error", err))
	} else if n >= c.cfg.BlacklistAfterFails {
		if err := c.ledger.Blacklist(ctx, rec.Target); err != nil {
			c.log.Error("blacklisting failed", slog.Any("error", err))
		}
	}
	c.log.Warn("execution failed",
		slog.String("id", opp.ID),
		slog.String("kind", string(opp.Kind)),
		slog.String("target", rec.Target.Hex()),
		slog.Int("attempts", attempts),
		slog.Any("error", execErr))
	return rec, execErr
}

// reject logs a pre-execution rejection with the taxonomy kind and the
// thresholds involved; nothing is persisted for these.
func (c *Controller) reject(opp *domain.Opportunity, err error) error {
	c.log.Info("opportunity rejected",
		slog.String("id", opp.ID),
		slog.String("kind", string(opp.Kind)),
		slog.Float64("profit_pct", opp.ProfitPct),
		slog.Float64("impact_pct", opp.ImpactPct),
		slog.String("reason", reason(err)),
		slog.Any("error", err))
	return err
}

func reason(err error) string {
	switch {
	case errors.Is(err, domain.ErrStaleData):
		return "stale_data"
	case errors.Is(err, domain.ErrUnprofitable):
		return "unprofitable"
	case errors.Is(err, domain.ErrBuildFailed):
		return "build_failed"
	case errors.Is(err, domain.ErrSimulationFailed):
		return "simulation_failed"
	case errors.Is(err, domain.ErrSubmissionFailed):
		return "submission_failed"
	case errors.Is(err, domain.ErrBreakerTripped):
		return "breaker_tripped"
	case errors.Is(err, domain.ErrBlacklisted):
		return "blacklisted"
	default:
		return "error"
	}
}
