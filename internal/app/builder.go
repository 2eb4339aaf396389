package app

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"candlevault/internal/backfill"
	"candlevault/internal/candlestore"
	"candlevault/internal/config"
	"candlevault/internal/gateway/binance"
	"candlevault/internal/market"
	"candlevault/internal/realtime"
	"candlevault/internal/strategy"
	"candlevault/internal/trader"
)

// Components is the fully wired object graph. Everything is constructed
// explicitly here so tests can assemble partial graphs with fakes.
type Components struct {
	Redis      *redis.Client
	Store      *candlestore.Store
	Meta       *candlestore.MetadataManager
	Fetcher    *candlestore.Fetcher
	Source     market.Source
	Writer     *backfill.Writer
	Backfill   *backfill.Service
	Reconciler *realtime.Reconciler
	Aggregator *realtime.Aggregator
	Registry   *strategy.Registry
	Ledger     *trader.Ledger
	Trader     *trader.Orchestrator

	Pairs         []string
	Granularities []market.Granularity
}

func build(ctx context.Context, cfg *config.Config) (*Components, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        cfg.Redis.Addr,
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.DB,
		DialTimeout: time.Duration(cfg.Redis.DialTimeoutSec) * time.Second,
		ReadTimeout: time.Duration(cfg.Redis.ReadTimeoutSec) * time.Second,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed (%s): %w", cfg.Redis.Addr, err)
	}

	store, err := candlestore.NewStore(rdb)
	if err != nil {
		return nil, err
	}
	meta, err := candlestore.NewMetadataManager(rdb, store)
	if err != nil {
		return nil, err
	}
	fetcher := candlestore.NewFetcher(store, meta)

	source, err := binance.New(binance.Config{
		RESTBaseURL:  cfg.Binance.RESTBaseURL,
		HTTPTimeout:  time.Duration(cfg.Binance.HTTPTimeoutSec) * time.Second,
		ProxyEnabled: cfg.Binance.ProxyEnabled,
		RESTProxyURL: cfg.Binance.RESTProxyURL,
		WSProxyURL:   cfg.Binance.WSProxyURL,
	})
	if err != nil {
		return nil, fmt.Errorf("building binance source: %w", err)
	}

	writer := backfill.NewWriter(store, meta)
	backfillSvc := backfill.NewService(source, writer, store, meta, backfill.ServiceConfig{})

	reconciler := realtime.NewReconciler(source, writer, fetcher, realtime.ReconcilerConfig{
		InitialDelay: time.Duration(cfg.Realtime.ReconcileDelaySec) * time.Second,
		MaxAttempts:  cfg.Realtime.ReconcileMaxAttempts,
	})
	aggregator := realtime.NewAggregator(writer, reconciler, realtime.AggregatorConfig{
		BoundaryBuffer: time.Duration(cfg.Realtime.BoundaryBufferSec) * time.Second,
		EventBuffer:    cfg.Realtime.EventBuffer,
	})
	reconciler.OnCorrection = func(pair string, c market.Candle) {
		aggregator.EmitCorrection(pair, c)
	}

	granularities := make([]market.Granularity, 0, len(cfg.Candles.Granularities))
	for _, raw := range cfg.Candles.Granularities {
		g, err := market.ParseGranularity(raw)
		if err != nil {
			return nil, err
		}
		granularities = append(granularities, g)
	}

	comps := &Components{
		Redis:         rdb,
		Store:         store,
		Meta:          meta,
		Fetcher:       fetcher,
		Source:        source,
		Writer:        writer,
		Backfill:      backfillSvc,
		Reconciler:    reconciler,
		Aggregator:    aggregator,
		Pairs:         cfg.Candles.Pairs,
		Granularities: granularities,
	}

	if cfg.Trading.Enabled {
		registry, err := strategy.NewRegistry(cfg.Strategy.ProfilesPath)
		if err != nil {
			return nil, fmt.Errorf("loading strategy profiles: %w", err)
		}
		ledger, err := trader.NewLedger(cfg.Trading.LedgerPath)
		if err != nil {
			return nil, fmt.Errorf("opening trade ledger: %w", err)
		}
		comps.Registry = registry
		comps.Ledger = ledger
		comps.Trader = trader.NewOrchestrator(fetcher, backfillSvc, aggregator, registry, ledger, trader.OrchestratorConfig{
			StartingBalance: cfg.Trading.StartingBalance,
			HistoryCandles:  cfg.Trading.HistoryCandles,
		})
	}
	return comps, nil
}
