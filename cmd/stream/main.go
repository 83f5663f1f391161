// Package main streams new lending transactions from the subgraph websocket
// into the event store. The cursor is kept in PostgreSQL so a restart resumes
// where the previous run stopped; the process exits when the subscription
// fails and is expected to be restarted by its supervisor.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"lending-risk-lab/internal/config"
	"lending-risk-lab/internal/ingestion"
	"lending-risk-lab/internal/observability"
	"lending-risk-lab/internal/storage"
	"lending-risk-lab/internal/storage/memory"
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
	wsEndpoint := flag.String("ws-endpoint", cfg.SubgraphWSURL, "Subgraph GraphQL websocket endpoint")
	from := flag.Int64("from", 0, "Stream transactions newer than this unix timestamp when no cursor is saved")
	pageSize := flag.Int("page-size", cfg.PageSize, "Transactions per pushed result set")
	postgresDSN := flag.String("postgres-dsn", cfg.PostgresDSN, "PostgreSQL connection string")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL")
	migrate := flag.Bool("migrate", false, "Apply PostgreSQL migrations before streaming")
	metricsAddr := flag.String("metrics-addr", cfg.MetricsAddr, "Prometheus metrics HTTP address (empty to disable)")
	logLevel := flag.String("log-level", cfg.LogLevel, "Log level")
	verbose := flag.Bool("verbose", false, "Development logging")
	flag.Parse()

	logger, err := observability.NewLogger(*logLevel, *verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	logger = logger.Named("stream")

	if *wsEndpoint == "" {
		logger.Fatal("--ws-endpoint is required (or set SUBGRAPH_WS_URL)")
	}
	if !*useMemory && *postgresDSN == "" {
		logger.Fatal("--postgres-dsn is required (use --use-memory for in-memory storage)")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start metrics server if enabled
	if *metricsAddr != "" {
		metricsServer := startMetricsServer(*metricsAddr, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsServer.Shutdown(shutdownCtx)
		}()
	}

	events, progress, cleanup, err := createStores(ctx, *postgresDSN, *useMemory, *migrate, logger)
	if err != nil {
		logger.Fatal("create stores", zap.Error(err))
	}
	defer cleanup()

	subCfg := subgraph.DefaultSubscriberConfig()
	subCfg.PageSize = *pageSize

	runner := ingestion.NewRunner(ingestion.RunnerOptions{
		Source: subgraph.NewSubscriber(*wsEndpoint, &subCfg, logger),
		Sink:   ingestion.NewSink(events, progress, logger),
		Start:  *from,
		Logger: logger,
	})

	err = runner.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("stream", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func startMetricsServer(addr string, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		logger.Info("metrics server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", zap.Error(err))
		}
	}()
	return srv
}

// createStores returns the event and cursor stores.
func createStores(ctx context.Context, dsn string, useMemory, migrate bool, logger *zap.Logger) (storage.EventStore, storage.IngestProgressStore, func(), error) {
	if useMemory {
		logger.Info("using in-memory storage, events are lost on exit")
		return memory.NewEventStore(), memory.NewIngestProgressStore(), func() {}, nil
	}

	pool, err := pgstore.NewPool(ctx, dsn, 4)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if migrate {
		if err := migrations.RunPostgres(ctx, pool, logger); err != nil {
			pool.Close()
			return nil, nil, nil, err
		}
	}
	return pgstore.NewEventStore(pool), pgstore.NewIngestProgressStore(pool), pool.Close, nil
}
