package features

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"lending-risk-lab/internal/domain"
	"lending-risk-lab/internal/idhash"
	"lending-risk-lab/internal/observability"
)

// EngineOptions configures an Engine.
type EngineOptions struct {
	Workers int // accounts processed concurrently. Default: 1
	Logger  *zap.Logger
}

// Engine turns account histories into feature records, one per borrow event.
type Engine struct {
	workers int
	logger  *zap.Logger
}

// NewEngine creates a new feature engineering engine.
func NewEngine(opts EngineOptions) *Engine {
	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Engine{
		workers: workers,
		logger:  logger,
	}
}

// Evaluate computes the feature vector and label for one anchor timestamp.
func Evaluate(history []*domain.Event, anchor int64) (domain.FeatureVector, domain.Label, error) {
	w := SelectWindows(history, anchor)

	fv, err := Aggregate(w.History)
	if err != nil {
		return domain.FeatureVector{}, 0, err
	}
	return fv, DeriveLabel(w.Label), nil
}

// SortHistory returns a copy of history stably sorted by timestamp. Events
// sharing a timestamp keep their input order; history is not modified.
func SortHistory(history []*domain.Event) []*domain.Event {
	sorted := make([]*domain.Event, len(history))
	copy(sorted, history)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp < sorted[j].Timestamp
	})
	return sorted
}

// ProcessAccount produces the records of a single account.
// Every event is validated first; any malformed event fails the whole account.
func (e *Engine) ProcessAccount(account string, history []*domain.Event) ([]*domain.FeatureRecord, error) {
	for _, ev := range history {
		if err := ev.Validate(); err != nil {
			return nil, err
		}
	}

	sorted := SortHistory(history)

	var records []*domain.FeatureRecord
	for _, ev := range sorted {
		if ev.Type != domain.EventTypeBorrow {
			continue
		}

		fv, label, err := Evaluate(sorted, ev.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("anchor %d: %w", ev.Timestamp, err)
		}

		records = append(records, &domain.FeatureRecord{
			RecordID:        idhash.ComputeRecordID(account, ev.Timestamp, ev.TxID),
			Account:         account,
			AnchorTimestamp: ev.Timestamp,
			AnchorTxID:      ev.TxID,
			Label:           label,
			Features:        fv,
		})
	}

	return records, nil
}

// Run processes every account of the corpus. Accounts are independent and are
// spread over the worker pool; results keep account id order. A failing
// account aborts the run and no records are returned. Cancellation is checked
// between accounts.
func (e *Engine) Run(ctx context.Context, corpus map[string][]*domain.Event) ([]*domain.FeatureRecord, error) {
	accounts := make([]string, 0, len(corpus))
	for account := range corpus {
		accounts = append(accounts, account)
	}
	sort.Strings(accounts)

	runID := uuid.NewString()
	logger := e.logger.With(zap.String("run_id", runID))
	logger.Info("feature engine started",
		zap.Int("accounts", len(accounts)),
		zap.Int("workers", e.workers))

	results := make([][]*domain.FeatureRecord, len(accounts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)

	for i, account := range accounts {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			start := time.Now()
			records, err := e.ProcessAccount(account, corpus[account])
			if err != nil {
				if errors.Is(err, domain.ErrMalformedEvent) {
					observability.RecordMalformedEvent()
				}
				return fmt.Errorf("account %s: %w", account, err)
			}
			observability.RecordAccountProcessed(time.Since(start).Seconds())

			for _, r := range records {
				r.RunID = runID
			}
			results[i] = records

			logger.Debug("account processed",
				zap.String("account", account),
				zap.Int("events", len(corpus[account])),
				zap.Int("records", len(records)))
			return nil
		})
	}

	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		observability.RecordEngineRun("failed")
		logger.Error("feature engine failed", zap.Error(err))
		return nil, err
	}

	var out []*domain.FeatureRecord
	for _, records := range results {
		for _, r := range records {
			observability.RecordRecordEmitted(strconv.Itoa(int(r.Label)))
		}
		out = append(out, records...)
	}

	observability.RecordEngineRun("succeeded")
	logger.Info("feature engine finished", zap.Int("records", len(out)))
	return out, nil
}
