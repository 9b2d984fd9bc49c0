package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
	if cfg.Mode != "scan" {
		t.Errorf("default mode = %q, want scan", cfg.Mode)
	}
}

func TestLoadMergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
mode = "trade"
log_level = "debug"

[bidding]
max_tip_fraction = 0.5
submit_below_breakeven = false

[execution]
scan_interval = "2s"

[relay]
url = "http://relay.local"
signing_key = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Mode != "trade" || cfg.LogLevel != "debug" {
		t.Errorf("mode/log_level = %q/%q", cfg.Mode, cfg.LogLevel)
	}
	if cfg.Bidding.MaxTipFraction != 0.5 || cfg.Bidding.SubmitBelowBreakeven {
		t.Errorf("bidding = %+v", cfg.Bidding)
	}
	if cfg.Execution.ScanInterval.Duration != 2*time.Second {
		t.Errorf("scan_interval = %v", cfg.Execution.ScanInterval.Duration)
	}
	// Untouched sections keep their defaults.
	if cfg.Liquidity.MaxTradeSize != 10_000 {
		t.Errorf("liquidity defaults lost: %+v", cfg.Liquidity)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ARBOT_MODE", "trade")
	t.Setenv("ARBOT_RELAY_SIGNING_KEY", "deadbeef")
	t.Setenv("ARBOT_RISK_MAX_DAILY_LOSS", "250")
	t.Setenv("ARBOT_REDIS_ENABLED", "true")
	t.Setenv("ARBOT_NOTIFY_EVENTS", "fill, breaker")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	if cfg.Mode != "trade" {
		t.Errorf("mode = %q", cfg.Mode)
	}
	if cfg.Relay.SigningKey != "deadbeef" {
		t.Errorf("signing key not overridden")
	}
	if cfg.Risk.MaxDailyLoss != 250 {
		t.Errorf("max_daily_loss = %v", cfg.Risk.MaxDailyLoss)
	}
	if !cfg.Redis.Enabled {
		t.Error("redis.enabled not overridden")
	}
	if len(cfg.Notify.Events) != 2 || cfg.Notify.Events[1] != "breaker" {
		t.Errorf("events = %v", cfg.Notify.Events)
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade" // requires relay signer
	cfg.Relay.SigningKey = ""
	cfg.Liquidity.MinTradeSize = 0
	cfg.Bidding.MaxTipFraction = 1.5

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"signing_key", "min_trade_size", "max_tip_fraction"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error missing %q:\n%v", want, err)
		}
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Relay.SigningKey = "secret"
	cfg.S3.SecretKey = "secret"

	red := RedactedConfig(&cfg)
	if red.Relay.SigningKey != "***" || red.S3.SecretKey != "***" {
		t.Errorf("secrets not redacted: %+v", red.Relay)
	}
	if cfg.Relay.SigningKey != "secret" {
		t.Error("original mutated")
	}
	// Empty secrets stay empty rather than becoming "***".
	if red.Redis.Password != "" {
		t.Errorf("empty password redacted to %q", red.Redis.Password)
	}
}
