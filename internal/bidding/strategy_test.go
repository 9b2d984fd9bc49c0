package bidding

import (
	"errors"
	"log/slog"
	"math"
	"testing"

	"github.com/caldre/arbot/internal/domain"
)

func newStrategy(cfg Config, jitter float64) *Strategy {
	s := New(cfg, slog.New(slog.DiscardHandler))
	s.jitter = func() float64 { return jitter }
	return s
}

func scenarioConfig() Config {
	return Config{
		MinTipThreshold:      0.005,
		MaxTipFraction:       0.70,
		TipMultiplier:        1.1,
		SubmitBelowBreakeven: true,
	}
}

func TestTipBounds(t *testing.T) {
	// expected_profit 0.02, floor 0.005, fraction 0.70: max_tip 0.014,
	// jittered ceiling 0.0147.
	for _, jitter := range []float64{0, 0.25, 0.5, 0.999} {
		s := newStrategy(scenarioConfig(), jitter)
		tip, err := s.Tip(0.02)
		if err != nil {
			t.Fatalf("Tip: %v", err)
		}
		if tip < 0.005 || tip > 0.0147+1e-12 {
			t.Errorf("jitter %v: tip %v outside [0.005, 0.0147]", jitter, tip)
		}
	}
}

func TestTipNoHistoryUsesProfitShare(t *testing.T) {
	s := newStrategy(scenarioConfig(), 0)
	tip, err := s.Tip(0.02)
	if err != nil {
		t.Fatalf("Tip: %v", err)
	}
	// base 0.4*0.02 = 0.008 beats the floor-backed competitive estimate.
	if math.Abs(tip-0.008) > 1e-12 {
		t.Errorf("tip = %v, want 0.008", tip)
	}
}

func TestTipFollowsCompetitiveMedian(t *testing.T) {
	s := newStrategy(scenarioConfig(), 0)
	for _, paid := range []float64{0.010, 0.011, 0.012} {
		s.RecordTip(paid)
	}
	tip, err := s.Tip(0.02)
	if err != nil {
		t.Fatalf("Tip: %v", err)
	}
	// median 0.011 * 1.1 = 0.0121, above base 0.008, below max 0.014.
	if math.Abs(tip-0.0121) > 1e-12 {
		t.Errorf("tip = %v, want 0.0121", tip)
	}
}

func TestTipClampedToMax(t *testing.T) {
	s := newStrategy(scenarioConfig(), 0)
	for i := 0; i < 10; i++ {
		s.RecordTip(0.05) // history far above what this trade affords
	}
	tip, err := s.Tip(0.02)
	if err != nil {
		t.Fatalf("Tip: %v", err)
	}
	if math.Abs(tip-0.014) > 1e-12 {
		t.Errorf("tip = %v, want clamped to 0.014", tip)
	}
}

func TestMarginalTradeBidsFloor(t *testing.T) {
	s := newStrategy(scenarioConfig(), 0.5)
	// profit 0.001 -> max_tip 0.0007 < floor 0.005
	tip, err := s.Tip(0.001)
	if err != nil {
		t.Fatalf("Tip: %v", err)
	}
	if tip != 0.005 {
		t.Errorf("tip = %v, want the 0.005 floor", tip)
	}
}

func TestMarginalTradeRejectedWhenPolicyDisabled(t *testing.T) {
	cfg := scenarioConfig()
	cfg.SubmitBelowBreakeven = false
	s := newStrategy(cfg, 0)
	if _, err := s.Tip(0.001); !errors.Is(err, domain.ErrUnprofitable) {
		t.Fatalf("err = %v, want ErrUnprofitable", err)
	}
}

func TestTipHistoryEviction(t *testing.T) {
	s := newStrategy(scenarioConfig(), 0)
	for i := 0; i < 120; i++ {
		s.RecordTip(float64(i))
	}
	s.mu.Lock()
	n, oldest := len(s.tips), s.tips[0]
	s.mu.Unlock()
	if n != tipHistoryMax {
		t.Errorf("history length = %d, want %d", n, tipHistoryMax)
	}
	if oldest != 70 {
		t.Errorf("oldest entry = %v, want 70 (eviction order)", oldest)
	}
}

func TestResultHistoryAndFailureStreak(t *testing.T) {
	s := newStrategy(scenarioConfig(), 0)
	for i := 0; i < 150; i++ {
		s.RecordResult(true, 0.01, 0.02)
	}
	s.mu.Lock()
	n := len(s.results)
	s.mu.Unlock()
	if n != resultHistoryMax {
		t.Errorf("result history length = %d, want %d", n, resultHistoryMax)
	}
	if got := s.FailureStreak(); got != 0 {
		t.Errorf("streak after successes = %d, want 0", got)
	}
	s.RecordResult(false, 0.01, -0.01)
	s.RecordResult(false, 0.01, -0.01)
	s.RecordResult(false, 0.01, -0.01)
	if got := s.FailureStreak(); got != 3 {
		t.Errorf("streak = %d, want 3", got)
	}
	s.RecordResult(true, 0.01, 0.02)
	if got := s.FailureStreak(); got != 0 {
		t.Errorf("streak after recovery = %d, want 0", got)
	}
}
