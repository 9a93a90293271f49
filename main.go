// QuantumX is a real-time market-intelligence pipeline. It ingests ticks
// from exchange websocket streams with an HTTP fallback, scores every tick
// for anomalies, schedules per-symbol attention adaptively, and turns
// significant moves into directional signals through a strategy bank, a
// consensus selector, and a reputation feedback loop.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Subthedev/QuantumX-sub000/config"
	"github.com/Subthedev/QuantumX-sub000/internal/api"
	"github.com/Subthedev/QuantumX-sub000/internal/cache"
	"github.com/Subthedev/QuantumX-sub000/internal/database"
	"github.com/Subthedev/QuantumX-sub000/internal/detect"
	"github.com/Subthedev/QuantumX-sub000/internal/engine"
	"github.com/Subthedev/QuantumX-sub000/internal/enrich"
	"github.com/Subthedev/QuantumX-sub000/internal/events"
	"github.com/Subthedev/QuantumX-sub000/internal/feed"
	"github.com/Subthedev/QuantumX-sub000/internal/indicators"
	"github.com/Subthedev/QuantumX-sub000/internal/logging"
	"github.com/Subthedev/QuantumX-sub000/internal/market"
	"github.com/Subthedev/QuantumX-sub000/internal/metrics"
	"github.com/Subthedev/QuantumX-sub000/internal/selector"
	"github.com/Subthedev/QuantumX-sub000/internal/strategy"
	"github.com/Subthedev/QuantumX-sub000/internal/stream"
	"github.com/Subthedev/QuantumX-sub000/internal/tier"
	"github.com/Subthedev/QuantumX-sub000/internal/vault"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Default().Fatal("Failed to load configuration", "error", err)
	}

	logger := logging.New(&logging.Config{
		Level:     cfg.LoggingConfig.Level,
		Output:    cfg.LoggingConfig.Output,
		Console:   cfg.LoggingConfig.Console,
		Component: "main",
	})
	logging.SetDefault(logger)
	logger.Info("Starting QuantumX market intelligence pipeline")

	symbolMap, err := market.NewSymbolMap(market.DefaultMappings())
	if err != nil {
		logger.Fatal("Invalid symbol map", "error", err)
	}
	monitored := cfg.EngineConfig.MonitoredSymbols
	if len(monitored) == 0 {
		monitored = symbolMap.CanonicalIDs()
	}

	bus := events.NewBus()

	memo := cache.NewMemo(cache.Config{
		Enabled:  cfg.RedisConfig.Enabled,
		Address:  cfg.RedisConfig.Address,
		Password: cfg.RedisConfig.Password,
		DB:       cfg.RedisConfig.DB,
		PoolSize: cfg.RedisConfig.PoolSize,
	}, logger)
	defer memo.Close()

	vaultClient, err := vault.NewClient(vault.Config{
		Enabled:    cfg.VaultConfig.Enabled,
		Address:    cfg.VaultConfig.Address,
		Token:      cfg.VaultConfig.Token,
		SecretPath: cfg.VaultConfig.SecretPath,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to create vault client", "error", err)
	}

	// Persistence is optional; without it the pipeline runs on a no-op sink
	var sink engine.Sink = engine.NopSink{}
	var repo *database.Repository
	if cfg.DatabaseConfig.Enabled {
		db, err := database.NewDB(database.Config{
			Host:     cfg.DatabaseConfig.Host,
			Port:     cfg.DatabaseConfig.Port,
			User:     cfg.DatabaseConfig.User,
			Password: cfg.DatabaseConfig.Password,
			Database: cfg.DatabaseConfig.Database,
			SSLMode:  cfg.DatabaseConfig.SSLMode,
		}, logger)
		if err != nil {
			logger.Fatal("Failed to connect to database", "error", err)
		}
		migrateCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err = db.RunMigrations(migrateCtx)
		cancel()
		if err != nil {
			logger.Fatal("Failed to run migrations", "error", err)
		}
		repo = database.NewRepository(db)
		sink = repo
	} else {
		logger.Warn("Persistence disabled, signals will not survive restarts")
	}
	defer sink.Close()

	// Detection and scheduling layers
	indicatorCache := indicators.NewCacheAt(cfg.IndicatorConfig.CacheSoftCap, time.Now)
	detector := detect.NewAnomalyDetector(logger)
	regimes := detect.NewRegimeTracker(detect.Thresholds{
		PriceChangePct:      cfg.EngineConfig.PriceChangePct,
		VelocityPctPerSec:   cfg.EngineConfig.VelocityPctPerSec,
		SpreadWideningRatio: cfg.EngineConfig.SpreadWideningRatio,
		VolumeSurgeRatio:    cfg.EngineConfig.VolumeSurgeRatio,
	})
	tiers := tier.NewManager(tier.Config{
		Intervals: [3]time.Duration{
			time.Duration(cfg.EngineConfig.TierIntervalsMs[0]) * time.Millisecond,
			time.Duration(cfg.EngineConfig.TierIntervalsMs[1]) * time.Millisecond,
			time.Duration(cfg.EngineConfig.TierIntervalsMs[2]) * time.Millisecond,
		},
		Timeouts: [2]time.Duration{
			time.Duration(cfg.EngineConfig.TierTimeoutsMs[0]) * time.Millisecond,
			time.Duration(cfg.EngineConfig.TierTimeoutsMs[1]) * time.Millisecond,
		},
	}, bus, logger)
	filter := detect.NewSignificanceFilter(nil)

	// Enrichment providers
	candles := enrich.NewCandleStore(cfg.ProviderConfig.OHLCURL, logger)
	sentiment := enrich.NewSentimentClient(cfg.ProviderConfig.SentimentURL, memo, logger)
	intelKey := cfg.ProviderConfig.IntelAPIKey
	if intelKey == "" {
		keyCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		intelKey = vaultClient.ProviderKey(keyCtx, "intel")
		cancel()
	}
	intel := enrich.NewIntelClient(cfg.ProviderConfig.IntelURL, intelKey, memo, logger)
	enricher := enrich.NewEnricher(indicatorCache, candles, sentiment, intel,
		cfg.IndicatorConfig.MinCandles, logger)

	precompute := indicators.NewPrecomputer(indicators.PrecomputerConfig{
		Interval:     time.Duration(cfg.IndicatorConfig.PrecomputeMs) * time.Millisecond,
		BatchSize:    cfg.IndicatorConfig.PrecomputeBatch,
		InterBatch:   time.Duration(cfg.IndicatorConfig.InterBatchMs) * time.Millisecond,
		HotSymbolCap: cfg.IndicatorConfig.HotSymbolCap,
		MinCandles:   cfg.IndicatorConfig.MinCandles,
		TTL:          time.Duration(cfg.IndicatorConfig.CacheTTLMs) * time.Millisecond,
	}, indicatorCache, candles, tiers, logger)

	// Strategy bank, selection, and the reputation loop
	reputation := selector.NewReputation(logger)
	sel := selector.NewSelector(reputation, logger)
	dispatcher := strategy.NewDispatcher([]strategy.Strategy{
		strategy.NewMomentumStrategy(0),
		strategy.NewReversionStrategy(0),
	}, 0, logger)

	eng := engine.New(engine.Config{
		Cooldown:         time.Duration(cfg.EngineConfig.CooldownMs) * time.Millisecond,
		SignalDedup:      time.Duration(cfg.EngineConfig.SignalDedupMs) * time.Millisecond,
		PendingBound:     cfg.EngineConfig.PendingQueueBound,
		NoiseLogThrottle: time.Duration(cfg.EngineConfig.NoiseLogThrottleMs) * time.Millisecond,
	}, engine.Deps{
		Bus:        bus,
		Normalizer: market.NewNormalizer(),
		Detector:   detector,
		Regimes:    regimes,
		Tiers:      tiers,
		Filter:     filter,
		Enricher:   enricher,
		Dispatcher: dispatcher,
		Selector:   sel,
		Reputation: reputation,
		Precompute: precompute,
		Sink:       sink,
	}, logger)

	// Feed: two websocket sources plus the HTTP fallback behind one aggregator
	aggregator := feed.NewAggregator(feed.Config{
		DedupWindow: time.Duration(cfg.EngineConfig.AggregatorDedupMs) * time.Millisecond,
	}, bus, logger, eng.HandleTick)

	policy := stream.ReconnectPolicy{
		BaseDelay:   time.Duration(cfg.StreamConfig.ReconnectBaseDelayMs) * time.Millisecond,
		MaxDelay:    30 * time.Second,
		MaxAttempts: cfg.StreamConfig.MaxReconnectAttempts,
	}
	callbacks := stream.Callbacks{
		OnTick:   aggregator.Ingest,
		OnStatus: aggregator.SetSourceStatus,
		OnExhausted: func(source market.Exchange) {
			logger.Error("Stream source exhausted reconnect attempts, relying on fallback",
				"source", string(source))
		},
	}
	aggregator.AddSource(stream.NewBinanceSource(
		cfg.StreamConfig.BinanceURL,
		symbolMap.ExchangeSymbols(market.ExchangeBinance),
		symbolMap, policy, callbacks, logger))
	aggregator.AddSource(stream.NewCoinbaseSource(
		cfg.StreamConfig.CoinbaseURL,
		symbolMap.ExchangeSymbols(market.ExchangeCoinbase),
		symbolMap, policy, callbacks, logger))

	fallback := feed.NewFallbackPoller(feed.FallbackConfig{
		ListingURL:    cfg.ProviderConfig.ListingURL,
		PollInterval:  time.Duration(cfg.FallbackConfig.PollIntervalMs) * time.Millisecond,
		StaleAfter:    time.Duration(cfg.FallbackConfig.StaleAfterMs) * time.Millisecond,
		RequestGap:    time.Duration(cfg.FallbackConfig.PerRequestGapMs) * time.Millisecond,
		BootstrapTopN: cfg.FallbackConfig.BootstrapTopN,
	}, monitored, aggregator.StaleSymbols, aggregator.Ingest, logger)

	// Engine starts first so no accepted tick is dropped on the floor
	runCtx, stopRun := context.WithCancel(context.Background())
	eng.Start()
	if err := aggregator.Start(); err != nil {
		logger.Fatal("Failed to start aggregator", "error", err)
	}
	fallback.Start()
	precompute.Start(runCtx)

	var server *api.Server
	if cfg.ServerConfig.Enabled {
		prom := metrics.New(eng, aggregator, indicatorCache)
		server = api.NewServer(api.Config{
			Host: cfg.ServerConfig.Host,
			Port: cfg.ServerConfig.Port,
		}, api.Deps{
			Bus:        bus,
			Engine:     eng,
			Aggregator: aggregator,
			Tiers:      tiers,
			Cache:      indicatorCache,
			Reputation: reputation,
			Repo:       repo,
			Metrics:    prom.Handler(),
		}, logger)
		server.Start()
	}

	logger.Info("Pipeline running",
		"symbols", len(monitored),
		"persistence", cfg.DatabaseConfig.Enabled,
		"api", cfg.ServerConfig.Enabled)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down")
	if server != nil {
		server.Stop()
	}
	fallback.Stop()
	precompute.Stop()
	aggregator.Stop()
	eng.Stop()
	stopRun()
	logger.Info("Shutdown complete")
}
