// Package orchestrator provides end-to-end feature pipeline orchestration.
// It coordinates: event store → feature engine → feature store → dataset files
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"lending-risk-lab/internal/corpus"
	"lending-risk-lab/internal/dataset"
	"lending-risk-lab/internal/domain"
	"lending-risk-lab/internal/features"
	"lending-risk-lab/internal/storage"
)

// Dataset file names written to OutputDir.
const (
	TrainFile = "train.csv"
	TestFile  = "test.csv"
)

// ErrNoEventStore is returned when neither Options.EventStore nor Options.Corpus is set.
var ErrNoEventStore = errors.New("event store or corpus is required")

// SplitMode selects how records are divided into train and test sets.
type SplitMode string

// Split modes.
const (
	SplitByAccount SplitMode = "account" // seeded random split of whole accounts
	SplitByTime    SplitMode = "time"    // anchors before/after fixed cutoffs
)

// Options for creating an Orchestrator.
type Options struct {
	// Source: Corpus is used as-is when set, otherwise histories are loaded
	// from EventStore.
	EventStore storage.EventStore
	Corpus     corpus.Corpus

	// Optional: records are not persisted when nil
	FeatureStore storage.FeatureRecordStore

	// Engine
	Workers int

	// Dataset
	OutputDir           string // no files are written when empty
	SplitMode           SplitMode
	Split               dataset.SplitOptions
	TrainBefore         int64 // SplitByTime only
	TestFrom            int64 // SplitByTime only
	RequireLabelHorizon bool  // drop anchors whose label window runs past the newest event

	Logger *zap.Logger
}

// Orchestrator coordinates one feature pipeline run.
type Orchestrator struct {
	eventStore   storage.EventStore
	corpus       corpus.Corpus
	featureStore storage.FeatureRecordStore
	engine       *features.Engine
	opts         Options
	logger       *zap.Logger
}

// New creates a new Orchestrator with defaults filled in.
func New(opts Options) *Orchestrator {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.SplitMode == "" {
		opts.SplitMode = SplitByAccount
	}
	if opts.Split == (dataset.SplitOptions{}) {
		opts.Split = dataset.DefaultSplitOptions()
	}
	if opts.TrainBefore == 0 {
		opts.TrainBefore = dataset.DefaultTrainBefore
	}
	if opts.TestFrom == 0 {
		opts.TestFrom = dataset.DefaultTestFrom
	}

	return &Orchestrator{
		eventStore:   opts.EventStore,
		corpus:       opts.Corpus,
		featureStore: opts.FeatureStore,
		engine:       features.NewEngine(features.EngineOptions{Workers: opts.Workers, Logger: opts.Logger}),
		opts:         opts,
		logger:       opts.Logger.Named("orchestrator"),
	}
}

// RunResult contains results from orchestrator execution.
type RunResult struct {
	RunID      string
	Accounts   int
	Events     int
	Records    int
	Liquidated int
	TrainRows  int
	TestRows   int
	Files      []string
}

// Run executes the full pipeline.
// Phases:
//  1. Load account histories from the event store
//  2. Run the feature engine
//  3. Persist records to the feature store
//  4. Split into train/test and write CSV files
func (o *Orchestrator) Run(ctx context.Context) (*RunResult, error) {
	result := &RunResult{}

	// Phase 1: Load corpus
	o.logger.Info("phase 1: loading account histories")
	c, err := o.loadCorpus(ctx)
	if err != nil {
		return nil, fmt.Errorf("phase 1 (load corpus) failed: %w", err)
	}
	result.Accounts = len(c)
	result.Events = c.Events()
	o.logger.Info("corpus loaded", zap.Int("accounts", result.Accounts), zap.Int("events", result.Events))

	// Phase 2: Feature engine
	o.logger.Info("phase 2: running feature engine")
	records, err := o.engine.Run(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("phase 2 (feature engine) failed: %w", err)
	}
	result.Records = len(records)
	for _, r := range records {
		if r.Label == domain.LabelLiquidated {
			result.Liquidated++
		}
	}
	if len(records) > 0 {
		result.RunID = records[0].RunID
	}

	if len(records) == 0 {
		o.logger.Info("no borrow anchors, nothing to persist")
		return result, nil
	}

	// Phase 3: Persist
	if o.featureStore != nil {
		o.logger.Info("phase 3: storing feature records", zap.Int("records", len(records)))
		if err := o.featureStore.InsertBulk(ctx, records); err != nil {
			return nil, fmt.Errorf("phase 3 (store records) failed: %w", err)
		}
	} else {
		o.logger.Info("phase 3: skipping record storage (no feature store)")
	}

	// Phase 4: Dataset
	if o.opts.OutputDir == "" {
		o.logger.Info("phase 4: skipping dataset export (no output dir)")
		return result, nil
	}
	o.logger.Info("phase 4: writing datasets", zap.String("dir", o.opts.OutputDir))
	train, test := o.split(dataset.Assemble(records), dataset.LatestTimestamp(c))
	result.TrainRows = train.Len()
	result.TestRows = test.Len()

	for name, table := range map[string]*dataset.Table{TrainFile: train, TestFile: test} {
		path := filepath.Join(o.opts.OutputDir, name)
		if err := dataset.SaveCSV(path, table); err != nil {
			return nil, fmt.Errorf("phase 4 (write %s) failed: %w", name, err)
		}
	}
	result.Files = []string{
		filepath.Join(o.opts.OutputDir, TrainFile),
		filepath.Join(o.opts.OutputDir, TestFile),
	}

	o.logger.Info("pipeline completed",
		zap.String("run_id", result.RunID),
		zap.Int("records", result.Records),
		zap.Int("liquidated", result.Liquidated),
		zap.Int("train_rows", result.TrainRows),
		zap.Int("test_rows", result.TestRows))

	return result, nil
}

func (o *Orchestrator) loadCorpus(ctx context.Context) (corpus.Corpus, error) {
	switch {
	case o.corpus != nil:
		return o.corpus, nil
	case o.eventStore != nil:
		return corpus.FromStore(ctx, o.eventStore)
	default:
		return nil, ErrNoEventStore
	}
}

func (o *Orchestrator) split(table *dataset.Table, dataEnd int64) (train, test *dataset.Table) {
	if o.opts.RequireLabelHorizon {
		before := table.Len()
		table = dataset.RequireLabelHorizon(table, dataEnd)
		o.logger.Info("dropped anchors without a full label window",
			zap.Int("dropped", before-table.Len()), zap.Int64("data_end", dataEnd))
	}

	if o.opts.SplitMode == SplitByTime {
		return dataset.OutOfTimeSplit(table, o.opts.TrainBefore, o.opts.TestFrom)
	}
	return dataset.Split(table, o.opts.Split)
}
