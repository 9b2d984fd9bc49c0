// Package config defines the top-level configuration for the arbitrage
// engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by ARBOT_* environment variables.
type Config struct {
	Detector  DetectorConfig  `toml:"detector"`
	Liquidity LiquidityConfig `toml:"liquidity"`
	Bidding   BiddingConfig   `toml:"bidding"`
	Risk      RiskConfig      `toml:"risk"`
	Execution ExecutionConfig `toml:"execution"`
	Ledger    LedgerConfig    `toml:"ledger"`
	Venue     VenueConfig     `toml:"venue"`
	Relay     RelayConfig     `toml:"relay"`
	Feed      FeedConfig      `toml:"feed"`
	Redis     RedisConfig     `toml:"redis"`
	Postgres  PostgresConfig  `toml:"postgres"`
	S3        S3Config        `toml:"s3"`
	Notify    NotifyConfig    `toml:"notify"`
	Metrics   MetricsConfig   `toml:"metrics"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// DetectorConfig holds opportunity detection thresholds.
type DetectorConfig struct {
	EnablePair       bool    `toml:"enable_pair"`
	EnableTriangular bool    `toml:"enable_triangular"`
	EnableCrossVenue bool    `toml:"enable_cross_venue"`
	EnableFlashLoan  bool    `toml:"enable_flash_loan"`
	PairRatio        float64 `toml:"pair_ratio"`
	TriangularRate   float64 `toml:"triangular_rate"`
	CrossVenueRatio  float64 `toml:"cross_venue_ratio"`
	FlashLoanRatio   float64 `toml:"flash_loan_ratio"`
	FlashLoanFee     float64 `toml:"flash_loan_fee"`
	FlashLoanCap     float64 `toml:"flash_loan_cap"`
	QuoteAmount      float64 `toml:"quote_amount"`
}

// LiquidityConfig holds trade sizing bounds.
type LiquidityConfig struct {
	MinTradeSize float64 `toml:"min_trade_size"`
	MaxTradeSize float64 `toml:"max_trade_size"`
	SizeFraction float64 `toml:"size_fraction"`
	SafetyMargin float64 `toml:"safety_margin"`
	ImpactRatio  float64 `toml:"impact_ratio"`
}

// BiddingConfig holds tip calculation parameters.
type BiddingConfig struct {
	MinTipThreshold      float64 `toml:"min_tip_threshold"`
	MaxTipFraction       float64 `toml:"max_tip_fraction"`
	TipMultiplier        float64 `toml:"tip_multiplier"`
	SubmitBelowBreakeven bool    `toml:"submit_below_breakeven"`
}

// RiskConfig holds circuit breaker and blacklist limits.
type RiskConfig struct {
	MaxDailyLoss        float64  `toml:"max_daily_loss"`
	MaxDailyTrades      int      `toml:"max_daily_trades"`
	FailureStreak       int      `toml:"failure_streak"`
	Lookback            duration `toml:"lookback"`
	MaxPriceImpact      float64  `toml:"max_price_impact"`
	BlacklistAfterFails int      `toml:"blacklist_after_fails"`
}

// ExecutionConfig holds submission retry and scan loop parameters.
type ExecutionConfig struct {
	MaxAttempts   int      `toml:"max_attempts"`
	BackoffBase   duration `toml:"backoff_base"`
	FeeEscalation float64  `toml:"fee_escalation"`
	MaxFee        float64  `toml:"max_fee"`
	DedupTTL      duration `toml:"dedup_ttl"`
	ScanInterval  duration `toml:"scan_interval"`
	TopK          int      `toml:"top_k"`
}

// LedgerConfig holds the on-disk execution ledger parameters.
type LedgerConfig struct {
	Dir            string   `toml:"dir"`
	RotateInterval duration `toml:"rotate_interval"`
}

// VenueConfig holds the external market-data and builder endpoints.
type VenueConfig struct {
	IndexerURL     string   `toml:"indexer_url"`
	AggregatorURL  string   `toml:"aggregator_url"`
	BuilderURL     string   `toml:"builder_url"`
	Timeout        duration `toml:"timeout"`
	QuoteCacheTTL  duration `toml:"quote_cache_ttl"`
	QuoteCacheSize int      `toml:"quote_cache_size"`
	SnapshotEvery  duration `toml:"snapshot_every"`
}

// RelayConfig holds the bundle relay endpoint and signer.
type RelayConfig struct {
	URL        string   `toml:"url"`
	SigningKey string   `toml:"signing_key"`
	Timeout    duration `toml:"timeout"`
}

// FeedConfig holds the reserve update websocket parameters.
type FeedConfig struct {
	Enabled bool   `toml:"enabled"`
	WsURL   string `toml:"ws_url"`
}

// RedisConfig holds Redis connection parameters for the snapshot cache.
type RedisConfig struct {
	Enabled     bool     `toml:"enabled"`
	Addr        string   `toml:"addr"`
	Password    string   `toml:"password"`
	DB          int      `toml:"db"`
	PoolSize    int      `toml:"pool_size"`
	MaxRetries  int      `toml:"max_retries"`
	TLSEnabled  bool     `toml:"tls_enabled"`
	SnapshotTTL duration `toml:"snapshot_ttl"`
}

// PostgresConfig holds the execution archive database parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// S3Config holds S3-compatible object storage parameters for ledger
// segment archival.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// MetricsConfig holds the Prometheus scrape listener parameters.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
}

// duration wraps time.Duration so the TOML decoder accepts strings like
// "5m" or "30s".
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with the standard thresholds and
// limits. These match config.example.toml.
func Defaults() Config {
	return Config{
		Detector: DetectorConfig{
			EnablePair:       true,
			EnableTriangular: true,
			EnableCrossVenue: true,
			EnableFlashLoan:  true,
			PairRatio:        1.005,
			TriangularRate:   1.003,
			CrossVenueRatio:  1.005,
			FlashLoanRatio:   1.01,
			FlashLoanFee:     0.003,
			FlashLoanCap:     0.30,
			QuoteAmount:      100,
		},
		Liquidity: LiquidityConfig{
			MinTradeSize: 100,
			MaxTradeSize: 10_000,
			SizeFraction: 0.10,
			SafetyMargin: 1.2,
			ImpactRatio:  0.5,
		},
		Bidding: BiddingConfig{
			MinTipThreshold:      0.0001,
			MaxTipFraction:       0.70,
			TipMultiplier:        1.1,
			SubmitBelowBreakeven: true,
		},
		Risk: RiskConfig{
			MaxDailyLoss:        100,
			MaxDailyTrades:      50,
			FailureStreak:       3,
			Lookback:            duration{24 * time.Hour},
			MaxPriceImpact:      2.0,
			BlacklistAfterFails: 2,
		},
		Execution: ExecutionConfig{
			MaxAttempts:   3,
			BackoffBase:   duration{2 * time.Second},
			FeeEscalation: 1.25,
			MaxFee:        1.0,
			DedupTTL:      duration{30 * time.Second},
			ScanInterval:  duration{5 * time.Second},
			TopK:          3,
		},
		Ledger: LedgerConfig{
			Dir:            "data/ledger",
			RotateInterval: duration{24 * time.Hour},
		},
		Venue: VenueConfig{
			IndexerURL:     "http://localhost:8545",
			AggregatorURL:  "http://localhost:8546",
			BuilderURL:     "http://localhost:8547",
			Timeout:        duration{10 * time.Second},
			QuoteCacheTTL:  duration{10 * time.Second},
			QuoteCacheSize: 1024,
			SnapshotEvery:  duration{15 * time.Second},
		},
		Relay: RelayConfig{
			URL:     "http://localhost:8548",
			Timeout: duration{10 * time.Second},
		},
		Feed: FeedConfig{
			Enabled: false,
			WsURL:   "ws://localhost:8545/ws",
		},
		Redis: RedisConfig{
			Enabled:     false,
			Addr:        "localhost:6379",
			PoolSize:    20,
			MaxRetries:  3,
			SnapshotTTL: duration{5 * time.Minute},
		},
		Postgres: PostgresConfig{
			Enabled:       false,
			Host:          "localhost",
			Port:          5432,
			Database:      "arbot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "arbot-data",
			ForcePathStyle: true,
		},
		Notify: NotifyConfig{
			Events: []string{"fill", "loss", "breaker", "blacklist"},
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    ":9090",
		},
		Mode:     "scan",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"scan":  true,
	"trade": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and
// returns a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: scan, trade)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Detector
	if c.Detector.PairRatio <= 1 {
		errs = append(errs, "detector: pair_ratio must be > 1")
	}
	if c.Detector.TriangularRate <= 1 {
		errs = append(errs, "detector: triangular_rate must be > 1")
	}
	if c.Detector.FlashLoanCap <= 0 || c.Detector.FlashLoanCap > 1 {
		errs = append(errs, "detector: flash_loan_cap must be in (0, 1]")
	}

	// Liquidity
	if c.Liquidity.MinTradeSize <= 0 {
		errs = append(errs, "liquidity: min_trade_size must be > 0")
	}
	if c.Liquidity.MaxTradeSize < c.Liquidity.MinTradeSize {
		errs = append(errs, "liquidity: max_trade_size must be >= min_trade_size")
	}
	if c.Liquidity.SizeFraction <= 0 || c.Liquidity.SizeFraction > 1 {
		errs = append(errs, "liquidity: size_fraction must be in (0, 1]")
	}

	// Bidding
	if c.Bidding.MaxTipFraction <= 0 || c.Bidding.MaxTipFraction > 1 {
		errs = append(errs, "bidding: max_tip_fraction must be in (0, 1]")
	}
	if c.Bidding.MinTipThreshold < 0 {
		errs = append(errs, "bidding: min_tip_threshold must be >= 0")
	}

	// Risk
	if c.Risk.MaxDailyLoss <= 0 {
		errs = append(errs, "risk: max_daily_loss must be > 0")
	}
	if c.Risk.MaxDailyTrades < 1 {
		errs = append(errs, "risk: max_daily_trades must be >= 1")
	}
	if c.Risk.FailureStreak < 1 {
		errs = append(errs, "risk: failure_streak must be >= 1")
	}
	if c.Risk.MaxPriceImpact <= 0 {
		errs = append(errs, "risk: max_price_impact must be > 0")
	}

	// Execution
	if c.Execution.MaxAttempts < 1 {
		errs = append(errs, "execution: max_attempts must be >= 1")
	}
	if c.Execution.FeeEscalation < 1 {
		errs = append(errs, "execution: fee_escalation must be >= 1")
	}
	if c.Execution.TopK < 1 {
		errs = append(errs, "execution: top_k must be >= 1")
	}

	// Ledger
	if c.Ledger.Dir == "" {
		errs = append(errs, "ledger: dir must not be empty")
	}

	// Venue
	if c.Venue.IndexerURL == "" {
		errs = append(errs, "venue: indexer_url must not be empty")
	}
	if c.Detector.EnableCrossVenue && c.Venue.AggregatorURL == "" {
		errs = append(errs, "venue: aggregator_url is required when cross-venue detection is enabled")
	}

	// Trading mode needs the builder, relay and a signer.
	if strings.ToLower(c.Mode) == "trade" {
		if c.Venue.BuilderURL == "" {
			errs = append(errs, "venue: builder_url is required for mode trade")
		}
		if c.Relay.URL == "" {
			errs = append(errs, "relay: url is required for mode trade")
		}
		if c.Relay.SigningKey == "" {
			errs = append(errs, "relay: signing_key is required for mode trade")
		}
	}

	// Feed
	if c.Feed.Enabled && c.Feed.WsURL == "" {
		errs = append(errs, "feed: ws_url must not be empty when enabled")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty when enabled")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty when enabled")
		}
	}

	// Metrics
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		errs = append(errs, "metrics: addr must not be empty when enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
