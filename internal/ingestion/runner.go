package ingestion

import (
	"context"

	"go.uber.org/zap"

	"lending-risk-lab/internal/subgraph"
)

// Source streams flattened transactions newer than after into handle until
// the stream ends. *subgraph.Subscriber implements it.
type Source interface {
	Subscribe(ctx context.Context, after int64, handle subgraph.Handler) error
}

// RunnerOptions contains configuration for creating a Runner.
type RunnerOptions struct {
	Source Source
	Sink   *Sink

	// Start is the timestamp to stream from when no cursor is saved.
	Start int64

	Logger *zap.Logger
}

// Runner feeds one live subscription into the sink, starting from the saved
// cursor. A failed subscription is not retried; running again resumes from
// the cursor the failed run left behind.
type Runner struct {
	source Source
	sink   *Sink
	start  int64
	logger *zap.Logger
}

// NewRunner creates a new ingestion runner.
func NewRunner(opts RunnerOptions) *Runner {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{source: opts.Source, sink: opts.Sink, start: opts.Start, logger: logger}
}

// From returns the timestamp the next subscription starts after.
func (r *Runner) From(ctx context.Context) (int64, error) {
	cursor, err := r.sink.Cursor(ctx)
	if err != nil {
		return 0, err
	}
	// Re-read the cursor's second; duplicates are skipped.
	if cursor.Timestamp > 0 {
		return max(r.start, cursor.Timestamp-1), nil
	}
	return r.start, nil
}

// Run streams until ctx is cancelled, the server completes the subscription
// or the sink fails. It blocks until then.
func (r *Runner) Run(ctx context.Context) error {
	after, err := r.From(ctx)
	if err != nil {
		return err
	}

	r.logger.Info("subscribing", zap.Int64("after", after))
	var stats Stats
	err = r.source.Subscribe(ctx, after, func(ctx context.Context, flat []map[string]any) error {
		batch, err := r.sink.Handle(ctx, flat)
		stats.Add(batch)
		return err
	})

	cursor, _ := r.sink.Cursor(ctx)
	r.logger.Info("stream stopped",
		zap.Int("stored", stats.Stored),
		zap.Int("skipped", stats.Skipped),
		zap.Int("malformed", stats.Malformed),
		zap.Int64("cursor", cursor.Timestamp))
	return err
}
