// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

// Package main runs the binary options indexer: it follows the market,
// vault and oracle contracts, reconciles their aggregates and serves them.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/luxfi/binaryindexer/api"
	"github.com/luxfi/binaryindexer/chain"
	"github.com/luxfi/binaryindexer/config"
	"github.com/luxfi/binaryindexer/contracts"
	"github.com/luxfi/binaryindexer/decoder"
	"github.com/luxfi/binaryindexer/ledger"
	"github.com/luxfi/binaryindexer/observability"
	"github.com/luxfi/binaryindexer/storage"
	"github.com/luxfi/binaryindexer/storage/kv"
)

var version = "dev"

func main() {
	var (
		configPath  = flag.String("config", "config.yaml", "Path to the YAML configuration file")
		logLevel    = flag.String("log-level", "", "Override the configured log level")
		showVersion = flag.Bool("version", false, "Show version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("binaryindexer %s\n", version)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	log := observability.NewLoggerWithLevel("indexer", observability.ParseLevel(cfg.LogLevel))
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info().Msg("shutdown signal received")
		cancel()
	}()

	if err := run(ctx, cfg); err != nil && ctx.Err() == nil {
		log.Fatal().Err(err).Msg("indexer stopped")
	}
	log.Info().Msg("indexer stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	log := observability.NewLoggerWithLevel("indexer", observability.ParseLevel(cfg.LogLevel))

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(reg)

	sc, err := cfg.StorageConfig()
	if err != nil {
		return err
	}
	repo, err := openRepository(ctx, sc)
	if err != nil {
		return fmt.Errorf("open %s storage: %w", sc.Backend, err)
	}
	defer repo.Close()

	client, err := ethclient.DialContext(ctx, cfg.RPC)
	if err != nil {
		return fmt.Errorf("dial %s: %w", cfg.RPC, err)
	}
	defer client.Close()

	dec, err := decoder.New()
	if err != nil {
		return err
	}

	sub := chain.NewSubscriber(observability.NewLoggerWithLevel("stream", observability.ParseLevel(cfg.LogLevel)))
	engine := ledger.New(repo, contracts.NewChainReader(client),
		ledger.WithTimeframes(cfg.Timeframes),
		ledger.WithBlacklist(cfg.BlacklistedMarkets(), cfg.BlacklistedVaults()),
		ledger.WithLogger(observability.NewLoggerWithLevel("ledger", observability.ParseLevel(cfg.LogLevel))),
		ledger.WithMetrics(metrics),
		ledger.WithNotifier(sub.Publish),
	)

	market, vault, oracle := cfg.Managers()
	follower := chain.NewFollower(chain.Config{
		MarketManager: market,
		VaultManager:  vault,
		OracleManager: oracle,
		StartBlock:    cfg.Follower.StartBlock,
		BatchSize:     cfg.Follower.BatchSize,
		PollInterval:  cfg.Follower.PollInterval,
		Confirmations: cfg.Follower.Confirmations,
	}, client, dec, engine, repo, observability.NewLoggerWithLevel("follower", observability.ParseLevel(cfg.LogLevel)), metrics)

	server := api.New(api.Config{
		Port:     cfg.HTTPPort,
		Stream:   sub.HandleWebSocket,
		Status:   func() interface{} { return follower.Cursor() },
		Gatherer: reg,
	}, repo, observability.NewLoggerWithLevel("api", observability.ParseLevel(cfg.LogLevel)), metrics)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sub.Run(ctx)
		return nil
	})
	g.Go(func() error { return server.Run(ctx) })
	g.Go(func() error { return follower.Run(ctx) })

	log.Info().
		Str("rpc", cfg.RPC).
		Str("storage", string(sc.Backend)).
		Int("port", cfg.HTTPPort).
		Msg("indexer started")

	return g.Wait()
}

func openRepository(ctx context.Context, sc storage.Config) (storage.Repository, error) {
	switch sc.Backend {
	case storage.BackendMemory:
		return kv.NewMemory(), nil
	case storage.BackendBadger:
		return kv.New(kv.Config{Path: filepath.Join(sc.DataDir, "badger")})
	case storage.BackendPostgres:
		return storage.NewPostgres(ctx, sc)
	case storage.BackendSQLite:
		return storage.NewSQLite(ctx, sc)
	default:
		return nil, fmt.Errorf("unsupported backend %q", sc.Backend)
	}
}
