// Package main runs the feature pipeline: account histories → feature engine →
// feature store → train/test CSV files.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"

	"lending-risk-lab/internal/config"
	"lending-risk-lab/internal/corpus"
	"lending-risk-lab/internal/dataset"
	"lending-risk-lab/internal/observability"
	"lending-risk-lab/internal/orchestrator"
	"lending-risk-lab/internal/storage"
	chstore "lending-risk-lab/internal/storage/clickhouse"
	"lending-risk-lab/internal/storage/memory"
	"lending-risk-lab/internal/storage/migrations"
	pgstore "lending-risk-lab/internal/storage/postgres"
	"lending-risk-lab/internal/verification"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	// Parse flags (env vars as defaults)
	dataDir := flag.String("data-dir", cfg.DataDir, "Directory holding all_user_mapping.json")
	mappingPath := flag.String("mapping", "", "User mapping JSON (default <data-dir>/all_user_mapping.json)")
	postgresDSN := flag.String("postgres-dsn", "", "Read events from PostgreSQL instead of the mapping file")
	clickhouseDSN := flag.String("clickhouse-dsn", cfg.ClickhouseDSN, "Store feature records in ClickHouse (empty to skip)")
	migrate := flag.Bool("migrate", false, "Apply database migrations before running")
	workers := flag.Int("workers", cfg.Workers, "Accounts processed concurrently")
	outputDir := flag.String("output-dir", "", "Directory for train.csv and test.csv (default <data-dir>)")
	splitMode := flag.String("split", string(orchestrator.SplitByAccount), "Split mode: account or time")
	seed := flag.Uint64("seed", dataset.DefaultSeed, "Account split seed")
	trainFrac := flag.Float64("train-frac", dataset.DefaultTrainFraction, "Fraction of accounts used for training")
	requireHorizon := flag.Bool("require-label-horizon", false, "Drop anchors without a full 90 day label window")
	verify := flag.Bool("verify", false, "Recompute the stored records from the event source after the run")
	logLevel := flag.String("log-level", cfg.LogLevel, "Log level")
	verbose := flag.Bool("verbose", false, "Development logging")
	flag.Parse()

	logger, err := observability.NewLogger(*logLevel, *verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	logger = logger.Named("features")

	mode := orchestrator.SplitMode(*splitMode)
	if mode != orchestrator.SplitByAccount && mode != orchestrator.SplitByTime {
		logger.Fatal("invalid --split", zap.String("split", *splitMode))
	}
	if *mappingPath == "" {
		*mappingPath = filepath.Join(*dataDir, corpus.MappingFile)
	}
	if *outputDir == "" {
		*outputDir = *dataDir
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := orchestrator.Options{
		Workers:             *workers,
		OutputDir:           *outputDir,
		SplitMode:           mode,
		Split:               dataset.SplitOptions{Seed: *seed, TrainFraction: *trainFrac},
		RequireLabelHorizon: *requireHorizon,
		Logger:              logger,
	}

	// Event source
	if *postgresDSN != "" {
		pool, err := pgstore.NewPool(ctx, *postgresDSN, int32(max(*workers, 4)))
		if err != nil {
			logger.Fatal("connect to postgres", zap.Error(err))
		}
		defer pool.Close()
		if *migrate {
			if err := migrations.RunPostgres(ctx, pool, logger); err != nil {
				logger.Fatal("postgres migrations", zap.Error(err))
			}
		}
		opts.EventStore = pgstore.NewEventStore(pool)
	} else {
		mapping, err := corpus.LoadMapping(*mappingPath)
		if err != nil {
			logger.Fatal("load mapping", zap.Error(err))
		}
		c, err := corpus.Parse(mapping)
		if err != nil {
			logger.Fatal("parse mapping", zap.Error(err))
		}
		opts.Corpus = c
	}

	// Record sink
	featureStore, cleanup, err := createFeatureStore(ctx, *clickhouseDSN, *migrate, logger)
	if err != nil {
		logger.Fatal("create feature store", zap.Error(err))
	}
	defer cleanup()
	opts.FeatureStore = featureStore

	result, err := orchestrator.New(opts).Run(ctx)
	if err != nil {
		logger.Fatal("feature pipeline", zap.Error(err))
	}

	fmt.Printf("Feature pipeline completed:\n")
	fmt.Printf("  Run:        %s\n", result.RunID)
	fmt.Printf("  Accounts:   %d\n", result.Accounts)
	fmt.Printf("  Events:     %d\n", result.Events)
	fmt.Printf("  Records:    %d (%d liquidated)\n", result.Records, result.Liquidated)
	fmt.Printf("  Train/Test: %d/%d\n", result.TrainRows, result.TestRows)
	for _, f := range result.Files {
		fmt.Printf("  - %s\n", f)
	}

	if !*verify || result.RunID == "" {
		return
	}
	var histories verification.Histories = opts.Corpus
	if opts.EventStore != nil {
		histories = opts.EventStore
	}
	report, err := verification.NewVerifier(featureStore, histories).VerifyRun(ctx, result.RunID)
	if err != nil {
		logger.Fatal("verify run", zap.Error(err))
	}
	fmt.Printf("  Verified:   %d/%d matched, %d divergent, %d failed\n",
		report.Matched, report.Total, report.Divergent, report.Failed)
	for _, r := range report.Results {
		logger.Warn("record mismatch",
			zap.String("record_id", r.RecordID),
			zap.String("account", r.Account),
			zap.Int64("anchor", r.Anchor),
			zap.Any("divergences", r.Divergences),
			zap.Error(r.Err))
	}
	if !report.OK() {
		os.Exit(1)
	}
}

// createFeatureStore returns a ClickHouse store when dsn is set, otherwise an
// in-memory store that lives for this run only.
func createFeatureStore(ctx context.Context, dsn string, migrate bool, logger *zap.Logger) (storage.FeatureRecordStore, func(), error) {
	if dsn == "" {
		return memory.NewFeatureRecordStore(), func() {}, nil
	}

	var (
		conn *chstore.Conn
		err  error
	)
	if migrate {
		conn, err = migrations.RunClickhouse(ctx, dsn, logger)
	} else {
		conn, err = chstore.NewConn(ctx, dsn)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("connect to clickhouse: %w", err)
	}
	return chstore.NewFeatureRecordStore(conn), func() { conn.Close() }, nil
}
