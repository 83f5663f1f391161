// Package main fetches one page of lending transactions from the subgraph and
// writes the flat event list and the per-account mapping to the data directory.
// Events are optionally stored in PostgreSQL.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"lending-risk-lab/internal/config"
	"lending-risk-lab/internal/corpus"
	"lending-risk-lab/internal/ingestion"
	"lending-risk-lab/internal/observability"
	"lending-risk-lab/internal/storage/migrations"
	pgstore "lending-risk-lab/internal/storage/postgres"
	"lending-risk-lab/internal/subgraph"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	// Parse flags (env vars as defaults)
	endpoint := flag.String("endpoint", cfg.SubgraphURL, "Subgraph GraphQL HTTP endpoint")
	before := flag.Int64("before", time.Now().Unix(), "Fetch transactions with timestamp < before (unix seconds)")
	pageSize := flag.Int("page-size", cfg.PageSize, "Transactions per page")
	timeout := flag.Duration("timeout", cfg.FetchTimeout, "HTTP request timeout")
	dataDir := flag.String("data-dir", cfg.DataDir, "Directory for all_events.json and all_user_mapping.json")
	postgresDSN := flag.String("postgres-dsn", cfg.PostgresDSN, "PostgreSQL connection string (empty to skip)")
	migrate := flag.Bool("migrate", false, "Apply PostgreSQL migrations before storing")
	logLevel := flag.String("log-level", cfg.LogLevel, "Log level")
	verbose := flag.Bool("verbose", false, "Development logging")
	flag.Parse()

	logger, err := observability.NewLogger(*logLevel, *verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	logger = logger.Named("fetch")

	if *endpoint == "" {
		logger.Fatal("--endpoint is required (or set SUBGRAPH_URL)")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := subgraph.NewClient(*endpoint, subgraph.WithTimeout(*timeout), subgraph.WithLogger(logger))
	flat, err := client.FetchPage(ctx, subgraph.Page{Before: *before, First: *pageSize})
	if err != nil {
		logger.Fatal("fetch page", zap.Error(err))
	}
	logger.Info("page fetched", zap.Int("transactions", len(flat)), zap.Int64("before", *before))

	mapping, err := corpus.GroupByAccount(flat)
	if err != nil {
		logger.Fatal("group by account", zap.Error(err))
	}

	if err := os.MkdirAll(*dataDir, 0o755); err != nil {
		logger.Fatal("create data dir", zap.Error(err))
	}
	eventsPath := filepath.Join(*dataDir, corpus.EventsFile)
	mappingPath := filepath.Join(*dataDir, corpus.MappingFile)
	if err := corpus.SaveEvents(eventsPath, flat); err != nil {
		logger.Fatal("save events", zap.Error(err))
	}
	if err := corpus.SaveMapping(mappingPath, mapping); err != nil {
		logger.Fatal("save mapping", zap.Error(err))
	}
	logger.Info("corpus written",
		zap.String("events", eventsPath),
		zap.String("mapping", mappingPath),
		zap.Int("accounts", len(mapping)))

	if *postgresDSN == "" {
		return
	}
	stats, err := storeEvents(ctx, *postgresDSN, *migrate, flat, logger)
	if err != nil {
		logger.Fatal("store events", zap.Error(err))
	}
	logger.Info("events stored",
		zap.Int("stored", stats.Stored),
		zap.Int("already_present", stats.Skipped),
		zap.Int("malformed", stats.Malformed))
}

// storeEvents inserts the page through an ingestion sink, so re-fetching an
// overlapping page only skips the rows already present.
func storeEvents(ctx context.Context, dsn string, migrate bool, flat []map[string]any, logger *zap.Logger) (ingestion.Stats, error) {
	events, err := subgraph.ToEvents(flat)
	if err != nil {
		return ingestion.Stats{}, fmt.Errorf("parse events: %w", err)
	}

	pool, err := pgstore.NewPool(ctx, dsn, 4)
	if err != nil {
		return ingestion.Stats{}, fmt.Errorf("connect to postgres: %w", err)
	}
	defer pool.Close()

	if migrate {
		if err := migrations.RunPostgres(ctx, pool, logger); err != nil {
			return ingestion.Stats{}, err
		}
	}

	sink := ingestion.NewSink(pgstore.NewEventStore(pool), nil, logger)
	return sink.Store(ctx, events)
}
