package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies ARBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated;
// the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known ARBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Venue ──
	setStr(&cfg.Venue.IndexerURL, "ARBOT_VENUE_INDEXER_URL")
	setStr(&cfg.Venue.AggregatorURL, "ARBOT_VENUE_AGGREGATOR_URL")
	setStr(&cfg.Venue.BuilderURL, "ARBOT_VENUE_BUILDER_URL")
	setDuration(&cfg.Venue.Timeout, "ARBOT_VENUE_TIMEOUT")
	setDuration(&cfg.Venue.SnapshotEvery, "ARBOT_VENUE_SNAPSHOT_EVERY")

	// ── Relay ──
	setStr(&cfg.Relay.URL, "ARBOT_RELAY_URL")
	setStr(&cfg.Relay.SigningKey, "ARBOT_RELAY_SIGNING_KEY")
	setDuration(&cfg.Relay.Timeout, "ARBOT_RELAY_TIMEOUT")

	// ── Feed ──
	setBool(&cfg.Feed.Enabled, "ARBOT_FEED_ENABLED")
	setStr(&cfg.Feed.WsURL, "ARBOT_FEED_WS_URL")

	// ── Detector ──
	setBool(&cfg.Detector.EnablePair, "ARBOT_DETECTOR_ENABLE_PAIR")
	setBool(&cfg.Detector.EnableTriangular, "ARBOT_DETECTOR_ENABLE_TRIANGULAR")
	setBool(&cfg.Detector.EnableCrossVenue, "ARBOT_DETECTOR_ENABLE_CROSS_VENUE")
	setBool(&cfg.Detector.EnableFlashLoan, "ARBOT_DETECTOR_ENABLE_FLASH_LOAN")
	setFloat64(&cfg.Detector.PairRatio, "ARBOT_DETECTOR_PAIR_RATIO")
	setFloat64(&cfg.Detector.TriangularRate, "ARBOT_DETECTOR_TRIANGULAR_RATE")
	setFloat64(&cfg.Detector.CrossVenueRatio, "ARBOT_DETECTOR_CROSS_VENUE_RATIO")
	setFloat64(&cfg.Detector.FlashLoanRatio, "ARBOT_DETECTOR_FLASH_LOAN_RATIO")

	// ── Liquidity ──
	setFloat64(&cfg.Liquidity.MinTradeSize, "ARBOT_LIQUIDITY_MIN_TRADE_SIZE")
	setFloat64(&cfg.Liquidity.MaxTradeSize, "ARBOT_LIQUIDITY_MAX_TRADE_SIZE")
	setFloat64(&cfg.Liquidity.SizeFraction, "ARBOT_LIQUIDITY_SIZE_FRACTION")

	// ── Bidding ──
	setFloat64(&cfg.Bidding.MinTipThreshold, "ARBOT_BIDDING_MIN_TIP_THRESHOLD")
	setFloat64(&cfg.Bidding.MaxTipFraction, "ARBOT_BIDDING_MAX_TIP_FRACTION")
	setFloat64(&cfg.Bidding.TipMultiplier, "ARBOT_BIDDING_TIP_MULTIPLIER")
	setBool(&cfg.Bidding.SubmitBelowBreakeven, "ARBOT_BIDDING_SUBMIT_BELOW_BREAKEVEN")

	// ── Risk ──
	setFloat64(&cfg.Risk.MaxDailyLoss, "ARBOT_RISK_MAX_DAILY_LOSS")
	setInt(&cfg.Risk.MaxDailyTrades, "ARBOT_RISK_MAX_DAILY_TRADES")
	setInt(&cfg.Risk.FailureStreak, "ARBOT_RISK_FAILURE_STREAK")
	setFloat64(&cfg.Risk.MaxPriceImpact, "ARBOT_RISK_MAX_PRICE_IMPACT")
	setInt(&cfg.Risk.BlacklistAfterFails, "ARBOT_RISK_BLACKLIST_AFTER_FAILS")

	// ── Execution ──
	setInt(&cfg.Execution.MaxAttempts, "ARBOT_EXECUTION_MAX_ATTEMPTS")
	setFloat64(&cfg.Execution.FeeEscalation, "ARBOT_EXECUTION_FEE_ESCALATION")
	setFloat64(&cfg.Execution.MaxFee, "ARBOT_EXECUTION_MAX_FEE")
	setDuration(&cfg.Execution.ScanInterval, "ARBOT_EXECUTION_SCAN_INTERVAL")
	setInt(&cfg.Execution.TopK, "ARBOT_EXECUTION_TOP_K")

	// ── Ledger ──
	setStr(&cfg.Ledger.Dir, "ARBOT_LEDGER_DIR")
	setDuration(&cfg.Ledger.RotateInterval, "ARBOT_LEDGER_ROTATE_INTERVAL")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "ARBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "ARBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ARBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ARBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "ARBOT_REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "ARBOT_REDIS_TLS_ENABLED")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "ARBOT_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "ARBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "ARBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "ARBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "ARBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "ARBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "ARBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "ARBOT_POSTGRES_SSLMODE")
	setBool(&cfg.Postgres.RunMigrations, "ARBOT_POSTGRES_RUN_MIGRATIONS")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "ARBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "ARBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "ARBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "ARBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "ARBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "ARBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "ARBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "ARBOT_S3_FORCE_PATH_STYLE")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "ARBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "ARBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "ARBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "ARBOT_NOTIFY_EVENTS")

	// ── Metrics ──
	setBool(&cfg.Metrics.Enabled, "ARBOT_METRICS_ENABLED")
	setStr(&cfg.Metrics.Addr, "ARBOT_METRICS_ADDR")

	// ── Top-level ──
	setStr(&cfg.Mode, "ARBOT_MODE")
	setStr(&cfg.LogLevel, "ARBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
