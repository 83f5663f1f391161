// Package main runs the HTTP service:
// - API: stored feature records, account histories, on-demand evaluation
// - Refresh (scheduled): event store → feature engine → feature store
// - Metrics: Prometheus /metrics on the same listener
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"lending-risk-lab/internal/api"
	"lending-risk-lab/internal/config"
	"lending-risk-lab/internal/corpus"
	"lending-risk-lab/internal/observability"
	"lending-risk-lab/internal/orchestrator"
	"lending-risk-lab/internal/storage"
	chstore "lending-risk-lab/internal/storage/clickhouse"
	"lending-risk-lab/internal/storage/memory"
	"lending-risk-lab/internal/storage/migrations"
	pgstore "lending-risk-lab/internal/storage/postgres"
)

// Server holds the stores and the refresh scheduler state.
type Server struct {
	events  storage.EventStore
	records storage.FeatureRecordStore
	health  func(ctx context.Context) error

	workers         int
	refreshInterval time.Duration
	logger          *zap.Logger

	mu          sync.Mutex
	started     time.Time
	refreshing  bool
	lastRefresh time.Time
	lastRunID   string
	lastError   string
	refreshRuns int
}

// status is the /status payload.
type status struct {
	Uptime      string    `json:"uptime"`
	Refreshing  bool      `json:"refreshing"`
	RefreshRuns int       `json:"refresh_runs"`
	LastRefresh time.Time `json:"last_refresh,omitzero"`
	LastRunID   string    `json:"last_run_id,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	// Parse flags (env vars as defaults)
	addr := flag.String("addr", cfg.HTTPAddr, "HTTP listen address")
	postgresDSN := flag.String("postgres-dsn", cfg.PostgresDSN, "PostgreSQL connection string (events)")
	clickhouseDSN := flag.String("clickhouse-dsn", cfg.ClickhouseDSN, "ClickHouse connection string (feature records)")
	useMemory := flag.Bool("use-memory", false, "Serve the mapping file from in-memory stores")
	dataDir := flag.String("data-dir", cfg.DataDir, "Directory holding all_user_mapping.json (memory mode)")
	migrate := flag.Bool("migrate", false, "Apply database migrations on start")
	refreshInterval := flag.Duration("refresh-interval", time.Hour, "Feature refresh interval (0 runs once on start)")
	workers := flag.Int("workers", cfg.Workers, "Accounts processed concurrently during refresh")
	logLevel := flag.String("log-level", cfg.LogLevel, "Log level")
	verbose := flag.Bool("verbose", false, "Development logging")
	flag.Parse()

	logger, err := observability.NewLogger(*logLevel, *verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	logger = logger.Named("server")

	if !*useMemory && (*postgresDSN == "" || *clickhouseDSN == "") {
		logger.Fatal("--postgres-dsn and --clickhouse-dsn are required (use --use-memory for in-memory storage)")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := &Server{
		workers:         *workers,
		refreshInterval: *refreshInterval,
		logger:          logger,
		started:         time.Now(),
	}

	var cleanup func()
	if *useMemory {
		err = server.useMemoryStores(ctx, filepath.Join(*dataDir, corpus.MappingFile))
		cleanup = func() {}
	} else {
		cleanup, err = server.useDatabaseStores(ctx, *postgresDSN, *clickhouseDSN, *migrate)
	}
	if err != nil {
		logger.Fatal("create stores", zap.Error(err))
	}
	defer cleanup()

	httpServer := &http.Server{
		Addr: *addr,
		Handler: api.NewRouter(api.Options{
			Records: server.records,
			Events:  server.events,
			Health:  server.health,
			Status:  server.status,
			Logger:  logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("http server listening", zap.String("addr", *addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", zap.Error(err))
			stop()
		}
	}()

	server.runRefreshScheduler(ctx)

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

// useMemoryStores loads the mapping file into in-memory stores.
func (s *Server) useMemoryStores(ctx context.Context, mappingPath string) error {
	mapping, err := corpus.LoadMapping(mappingPath)
	if err != nil {
		return err
	}
	c, err := corpus.Parse(mapping)
	if err != nil {
		return err
	}

	events := memory.NewEventStore()
	for account, history := range c {
		if err := events.InsertBulk(ctx, history); err != nil {
			return fmt.Errorf("load events of %s: %w", account, err)
		}
	}
	s.logger.Info("loaded mapping", zap.String("path", mappingPath),
		zap.Int("accounts", len(c)), zap.Int("events", c.Events()))

	s.events = events
	s.records = memory.NewFeatureRecordStore()
	return nil
}

// useDatabaseStores connects PostgreSQL for events and ClickHouse for records.
func (s *Server) useDatabaseStores(ctx context.Context, postgresDSN, clickhouseDSN string, migrate bool) (func(), error) {
	pool, err := pgstore.NewPool(ctx, postgresDSN, int32(max(s.workers, 4)))
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if migrate {
		if err := migrations.RunPostgres(ctx, pool, s.logger); err != nil {
			pool.Close()
			return nil, fmt.Errorf("postgres migrations: %w", err)
		}
	}

	var conn *chstore.Conn
	if migrate {
		conn, err = migrations.RunClickhouse(ctx, clickhouseDSN, s.logger)
	} else {
		conn, err = chstore.NewConn(ctx, clickhouseDSN)
	}
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect to clickhouse: %w", err)
	}

	s.events = pgstore.NewEventStore(pool)
	s.records = chstore.NewFeatureRecordStore(conn)
	s.health = func(ctx context.Context) error {
		if err := pool.Healthy(ctx); err != nil {
			return err
		}
		return conn.Healthy(ctx)
	}

	return func() {
		conn.Close()
		pool.Close()
	}, nil
}

// runRefreshScheduler recomputes feature records on schedule until ctx is done.
func (s *Server) runRefreshScheduler(ctx context.Context) {
	// Run immediately on start
	s.refresh(ctx)

	if s.refreshInterval <= 0 {
		<-ctx.Done()
		return
	}

	s.logger.Info("refresh scheduler started", zap.Duration("interval", s.refreshInterval))
	ticker := time.NewTicker(s.refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.refresh(ctx)
		}
	}
}

// refresh runs the feature engine over the event store and stores the records
// under a new run id.
func (s *Server) refresh(ctx context.Context) {
	s.mu.Lock()
	if s.refreshing {
		s.mu.Unlock()
		s.logger.Info("refresh already running, skipping")
		return
	}
	s.refreshing = true
	s.mu.Unlock()

	start := time.Now()
	result, err := orchestrator.New(orchestrator.Options{
		EventStore:   s.events,
		FeatureStore: s.records,
		Workers:      s.workers,
		Logger:       s.logger,
	}).Run(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshing = false
	s.lastRefresh = time.Now()
	s.refreshRuns++

	if err != nil {
		s.lastError = err.Error()
		s.logger.Error("refresh failed", zap.Error(err))
		return
	}
	s.lastError = ""
	if result.RunID != "" {
		s.lastRunID = result.RunID
	}
	s.logger.Info("refresh completed",
		zap.Duration("elapsed", time.Since(start)),
		zap.String("run_id", result.RunID),
		zap.Int("accounts", result.Accounts),
		zap.Int("records", result.Records))
}

func (s *Server) status() any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return status{
		Uptime:      time.Since(s.started).Round(time.Second).String(),
		Refreshing:  s.refreshing,
		RefreshRuns: s.refreshRuns,
		LastRefresh: s.lastRefresh,
		LastRunID:   s.lastRunID,
		LastError:   s.lastError,
	}
}
