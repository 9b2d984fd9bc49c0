package executor

import "time"

// RetryPolicy governs resubmission of failed bundles: how many attempts,
// how long to wait between them, and how the tip escalates. The same
// policy object is reused by every retry site so backoff behavior cannot
// drift between call paths.
type RetryPolicy struct {
	MaxAttempts   int
	BackoffBase   time.Duration
	FeeEscalation float64 // per-attempt tip multiplier, e.g. 1.25
	MaxFee        float64 // absolute tip cap during escalation
}

// DefaultRetryPolicy returns the standard submission policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:   3,
		BackoffBase:   2 * time.Second,
		FeeEscalation: 1.25,
		MaxFee:        1.0,
	}
}

// Backoff returns the wait before the given attempt (1-based). The delay
// is fixed rather than exponential: the bundle goes stale within a few
// blocks anyway, so there is no point backing off further.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	return p.BackoffBase
}

// EscalateFee returns the tip for the given attempt (1-based), compounding
// the escalation factor and clamping at MaxFee.
func (p RetryPolicy) EscalateFee(baseTip float64, attempt int) float64 {
	tip := baseTip
	for i := 1; i < attempt; i++ {
		tip *= p.FeeEscalation
	}
	if tip > p.MaxFee {
		return p.MaxFee
	}
	return tip
}
