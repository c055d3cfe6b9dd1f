package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/teller-protocol/teller-protocol-v2/internal/aggregates"
	"github.com/teller-protocol/teller-protocol-v2/internal/common"
	"github.com/teller-protocol/teller-protocol-v2/internal/config"
	"github.com/teller-protocol/teller-protocol-v2/internal/db"
	"github.com/teller-protocol/teller-protocol-v2/internal/downloader"
	"github.com/teller-protocol/teller-protocol-v2/internal/enrich"
	"github.com/teller-protocol/teller-protocol-v2/internal/events"
	"github.com/teller-protocol/teller-protocol-v2/internal/logger"
	"github.com/teller-protocol/teller-protocol-v2/internal/metrics"
	"github.com/teller-protocol/teller-protocol-v2/internal/migrations"
	"github.com/teller-protocol/teller-protocol-v2/internal/pipeline"
	"github.com/teller-protocol/teller-protocol-v2/internal/projector"
	"github.com/teller-protocol/teller-protocol-v2/internal/registry"
	"github.com/teller-protocol/teller-protocol-v2/internal/rpc"
	"github.com/teller-protocol/teller-protocol-v2/internal/sink"
	"github.com/teller-protocol/teller-protocol-v2/pkg/store"
)

const version = "1.0.0"

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "indexer",
	Short: "Lender group accounting indexer",
	Long: `Indexes the lender group protocol contracts into SQLite: per-pool and
per-user running totals, bid collateral attribution, and block, daily and
weekly snapshots of every pool's metrics.`,
	Version: version,
	RunE:    runIndexer,
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to configuration file")
}

func runIndexer(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nShutting down gracefully...")
		cancel()
	}()

	log := logger.NewComponentLoggerFromConfig(common.ComponentIndexer, cfg.Logging)
	defer log.Close()

	log.Infof("connecting to Ethereum node %s", cfg.Indexer.RPCURL)
	ethClient, err := rpc.NewClient(ctx, cfg.Indexer.RPCURL, cfg.Indexer.Retry)
	if err != nil {
		return fmt.Errorf("failed to create RPC client: %w", err)
	}
	defer ethClient.Close()

	log.Info("running database migrations")
	if err := migrations.RunMigrations(cfg.Indexer.DB); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	database, err := db.NewSQLiteDBFromConfig(cfg.Indexer.DB)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer database.Close()

	// Aggregate stores and their persistence engine
	stores := aggregates.NewStores()
	engine, err := store.NewEngine(stores.All()...)
	if err != nil {
		return err
	}
	if err := engine.Load(database); err != nil {
		return fmt.Errorf("failed to load store state: %w", err)
	}

	reg := registry.New(stores.Registered,
		logger.NewComponentLoggerFromConfig(common.ComponentRegistry, cfg.Logging))

	reader := enrich.NewReader(ethClient,
		logger.NewComponentLoggerFromConfig(common.ComponentEnrichment, cfg.Logging))

	extractor := events.NewExtractor(
		logger.NewComponentLoggerFromConfig(common.ComponentExtractor, cfg.Logging),
		cfg.Indexer.Contracts.FactoryAddress(),
		cfg.Indexer.Contracts.CollateralManagerAddress(),
		reg,
		reader,
	)

	applier := aggregates.NewApplier(stores,
		logger.NewComponentLoggerFromConfig(common.ComponentStore, cfg.Logging))

	proj := projector.New(stores, reader,
		logger.NewComponentLoggerFromConfig(common.ComponentProjector, cfg.Logging))

	processor := pipeline.NewProcessor(
		logger.NewComponentLoggerFromConfig(common.ComponentPipeline, cfg.Logging),
		extractor,
		applier,
		proj,
		engine,
	)

	snk := sink.New(logger.NewComponentLoggerFromConfig(common.ComponentSink, cfg.Logging))

	dl := downloader.New(
		cfg.Indexer,
		ethClient,
		database,
		logger.NewComponentLoggerFromConfig(common.ComponentDownloader, cfg.Logging),
		processor,
		reg,
		snk,
	)

	group, groupCtx := errgroup.WithContext(ctx)

	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		metricsServer := metrics.NewServer(cfg.Metrics, log)
		if err := metricsServer.Start(groupCtx); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		defer func() {
			if err := metricsServer.Stop(context.Background()); err != nil {
				log.Warnf("failed to stop metrics server: %v", err)
			}
		}()
	}

	group.Go(func() error {
		return dl.Run(groupCtx)
	})

	log.Info("indexer started")
	metrics.ComponentHealthSet(common.ComponentIndexer, true)

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		metrics.ComponentHealthSet(common.ComponentIndexer, false)
		return fmt.Errorf("indexer failed: %w", err)
	}

	log.Info("indexer stopped")
	return nil
}
