package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caldre/arbot/internal/bidding"
	s3blob "github.com/caldre/arbot/internal/blob/s3"
	"github.com/caldre/arbot/internal/cache/redis"
	"github.com/caldre/arbot/internal/config"
	"github.com/caldre/arbot/internal/detector"
	"github.com/caldre/arbot/internal/domain"
	"github.com/caldre/arbot/internal/engine"
	"github.com/caldre/arbot/internal/executor"
	"github.com/caldre/arbot/internal/feed"
	"github.com/caldre/arbot/internal/ledger"
	"github.com/caldre/arbot/internal/liquidity"
	"github.com/caldre/arbot/internal/metrics"
	"github.com/caldre/arbot/internal/notify"
	"github.com/caldre/arbot/internal/relay"
	"github.com/caldre/arbot/internal/store/postgres"
	"github.com/caldre/arbot/internal/venue"
)

// Dependencies bundles everything the run modes need. Stream and Metrics
// are nil when the corresponding feature is disabled.
type Dependencies struct {
	Engine  *engine.Engine
	Stream  *feed.ReserveStream
	Metrics *metrics.Metrics
}

// Wire constructs the full dependency graph from the configuration. The
// returned cleanup function releases every acquired resource in reverse
// order and is safe to call exactly once.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, func() {}, err
	}

	trading := strings.ToLower(cfg.Mode) == "trade"

	// Market data clients.
	source := venue.NewPoolSource(cfg.Venue.IndexerURL, cfg.Venue.Timeout.Duration)
	var quotes domain.QuoteSource
	if cfg.Detector.EnableCrossVenue && cfg.Venue.AggregatorURL != "" {
		quotes = venue.NewQuoteClient(
			cfg.Venue.AggregatorURL,
			cfg.Venue.Timeout.Duration,
			cfg.Venue.QuoteCacheTTL.Duration,
			cfg.Venue.QuoteCacheSize,
		)
	}

	// Execution ledger.
	led, err := ledger.Open(cfg.Ledger.Dir, logger)
	if err != nil {
		return fail(fmt.Errorf("app: open ledger: %w", err))
	}
	closers = append(closers, func() { led.Close() })

	// Optional snapshot cache.
	var snapCache domain.SnapshotCache
	if cfg.Redis.Enabled {
		rdb, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail(fmt.Errorf("app: connect redis: %w", err))
		}
		closers = append(closers, func() { rdb.Close() })
		snapCache = redis.NewSnapshotCache(rdb, cfg.Redis.SnapshotTTL.Duration)
		logger.Info("snapshot cache enabled", slog.String("addr", cfg.Redis.Addr))
	}

	// Optional execution archive.
	var archive domain.RecordArchive
	if cfg.Postgres.Enabled {
		db, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("app: connect postgres: %w", err))
		}
		closers = append(closers, db.Close)
		if cfg.Postgres.RunMigrations {
			if err := db.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("app: run migrations: %w", err))
			}
		}
		archive = postgres.NewExecutionStore(db.Pool())
		logger.Info("execution archive enabled", slog.String("database", cfg.Postgres.Database))
	}

	// Optional ledger segment archival.
	var blob domain.BlobWriter
	if cfg.S3.Enabled {
		s3c, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("app: connect object storage: %w", err))
		}
		healthCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err = s3c.Health(healthCtx)
		cancel()
		if err != nil {
			return fail(fmt.Errorf("app: object storage health: %w", err))
		}
		blob = s3blob.NewWriter(s3c)
		logger.Info("ledger archival enabled", slog.String("bucket", cfg.S3.Bucket))
	}

	notifier := buildNotifier(cfg, logger)

	var mets *metrics.Metrics
	if cfg.Metrics.Enabled {
		mets = metrics.New()
	}

	// Pipeline stages.
	det := detector.New(detector.Config{
		EnablePair:       cfg.Detector.EnablePair,
		EnableTriangular: cfg.Detector.EnableTriangular,
		EnableCrossVenue: cfg.Detector.EnableCrossVenue,
		EnableFlashLoan:  cfg.Detector.EnableFlashLoan,
		PairRatio:        cfg.Detector.PairRatio,
		TriangularRate:   cfg.Detector.TriangularRate,
		CrossVenueRatio:  cfg.Detector.CrossVenueRatio,
		FlashLoanRatio:   cfg.Detector.FlashLoanRatio,
		FlashLoanFee:     cfg.Detector.FlashLoanFee,
		FlashLoanCap:     cfg.Detector.FlashLoanCap,
		QuoteAmount:      cfg.Detector.QuoteAmount,
	}, quotes, logger)

	filter := liquidity.New(liquidity.Config{
		MinTradeSize: cfg.Liquidity.MinTradeSize,
		MaxTradeSize: cfg.Liquidity.MaxTradeSize,
		SizeFraction: cfg.Liquidity.SizeFraction,
		SafetyMargin: cfg.Liquidity.SafetyMargin,
		ImpactRatio:  cfg.Liquidity.ImpactRatio,
	}, logger)

	// The executor only exists in trade mode; it needs the builder and a
	// funded relay signer, neither of which scan deployments carry.
	var ctrl *executor.Controller
	if trading {
		builder := venue.NewBuilderClient(cfg.Venue.BuilderURL, cfg.Venue.Timeout.Duration)
		rly, err := relay.New(relay.Config{
			URL:        cfg.Relay.URL,
			SigningKey: cfg.Relay.SigningKey,
			Timeout:    cfg.Relay.Timeout.Duration,
		}, logger)
		if err != nil {
			return fail(fmt.Errorf("app: build relay client: %w", err))
		}

		bids := bidding.New(bidding.Config{
			MinTipThreshold:      cfg.Bidding.MinTipThreshold,
			MaxTipFraction:       cfg.Bidding.MaxTipFraction,
			TipMultiplier:        cfg.Bidding.TipMultiplier,
			SubmitBelowBreakeven: cfg.Bidding.SubmitBelowBreakeven,
		}, logger)

		ctrl = executor.New(executor.Config{
			MaxPriceImpact:      cfg.Risk.MaxPriceImpact,
			BlacklistAfterFails: cfg.Risk.BlacklistAfterFails,
			DedupTTL:            cfg.Execution.DedupTTL.Duration,
			Breaker: executor.BreakerConfig{
				MaxDailyLoss:   cfg.Risk.MaxDailyLoss,
				MaxDailyTrades: cfg.Risk.MaxDailyTrades,
				FailureStreak:  cfg.Risk.FailureStreak,
				Lookback:       cfg.Risk.Lookback.Duration,
			},
			Retry: executor.RetryPolicy{
				MaxAttempts:   cfg.Execution.MaxAttempts,
				BackoffBase:   cfg.Execution.BackoffBase.Duration,
				FeeEscalation: cfg.Execution.FeeEscalation,
				MaxFee:        cfg.Execution.MaxFee,
			},
		}, bids, builder, rly, led, logger)
	}

	eng := engine.New(engine.Config{
		ScanInterval:  cfg.Execution.ScanInterval.Duration,
		SnapshotEvery: cfg.Venue.SnapshotEvery.Duration,
		RotateEvery:   cfg.Ledger.RotateInterval.Duration,
		TopK:          cfg.Execution.TopK,
		Trading:       trading,
	}, engine.Deps{
		Source:   source,
		Detector: det,
		Filter:   filter,
		Executor: ctrl,
		Ledger:   led,
		Cache:    snapCache,
		Archive:  archive,
		Blob:     blob,
		Notifier: notifier,
		Metrics:  mets,
	}, logger)

	var stream *feed.ReserveStream
	if cfg.Feed.Enabled {
		stream = feed.NewReserveStream(cfg.Feed.WsURL, func(ctx context.Context, u feed.ReserveUpdate) {
			eng.ApplyReserves(ctx, u.Pool, u.ReserveA, u.ReserveB)
		}, logger)
		closers = append(closers, stream.Close)
	}

	return &Dependencies{
		Engine:  eng,
		Stream:  stream,
		Metrics: mets,
	}, cleanup, nil
}

// buildNotifier assembles the configured notification channels, or returns
// nil when none are configured.
func buildNotifier(cfg *config.Config, logger *slog.Logger) *notify.Notifier {
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	if len(senders) == 0 {
		return nil
	}
	return notify.NewNotifier(senders, cfg.Notify.Events, logger)
}
