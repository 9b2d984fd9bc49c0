package executor

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/caldre/arbot/internal/domain"
)

// BreakerConfig bounds how much damage one day of trading can do. The
// breaker is stateless: every check replays the ledger's recent records,
// so it cannot drift from the durable truth and un-trips by itself as
// records age out of the lookback window.
type BreakerConfig struct {
	MaxDailyLoss   float64
	MaxDailyTrades int
	FailureStreak  int // consecutive failures per target that trip it
	Lookback       time.Duration
}

// DefaultBreakerConfig returns the standard limits.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxDailyLoss:   100,
		MaxDailyTrades: 50,
		FailureStreak:  3,
		Lookback:       24 * time.Hour,
	}
}

// BreakerState is the derived view of the breaker for one check.
type BreakerState struct {
	DailyLoss    float64
	DailyTrades  int
	TargetStreak int
}

// evalBreaker replays records within the lookback window and decides
// whether trading (for target, or at all) must stop. Loss and trade-count
// limits refuse every target; a failure streak refuses only its target.
func evalBreaker(cfg BreakerConfig, records []domain.ExecutionRecord, target common.Address, now time.Time) (BreakerState, error) {
	cutoff := now.Add(-cfg.Lookback)
	var st BreakerState
	streaks := make(map[common.Address]int)
	for _, r := range records {
		if r.Time.Before(cutoff) {
			continue
		}
		st.DailyTrades++
		if r.Profit < 0 {
			st.DailyLoss += -r.Profit
		}
		if r.Success {
			streaks[r.Target] = 0
		} else {
			streaks[r.Target]++
		}
	}
	st.TargetStreak = streaks[target]

	if st.DailyLoss > cfg.MaxDailyLoss {
		return st, fmt.Errorf("%w: daily loss %.4f exceeds %.4f",
			domain.ErrBreakerTripped, st.DailyLoss, cfg.MaxDailyLoss)
	}
	if st.DailyTrades >= cfg.MaxDailyTrades {
		return st, fmt.Errorf("%w: daily trade count %d reached %d",
			domain.ErrBreakerTripped, st.DailyTrades, cfg.MaxDailyTrades)
	}
	if cfg.FailureStreak > 0 && st.TargetStreak >= cfg.FailureStreak {
		return st, fmt.Errorf("%w: %d consecutive failures for %s",
			domain.ErrBreakerTripped, st.TargetStreak, target.Hex())
	}
	return st, nil
}
