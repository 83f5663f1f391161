package scoring

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"lending-risk-lab/internal/dataset"
)

// ImportanceFile is the default output file name.
const ImportanceFile = "importance.json"

// RankerOptions configures a Ranker.
type RankerOptions struct {
	Trainer Trainer
	Workers int // ablation runs in flight; <= 0 means 1
	Logger  *zap.Logger
}

// Ranker measures feature importance by ablation: each feature column is
// zeroed in the training set only, the model is retrained, and the drop in
// test AUC against the baseline is that feature's importance.
type Ranker struct {
	trainer Trainer
	workers int
	logger  *zap.Logger
}

// NewRanker creates a Ranker.
func NewRanker(opts RankerOptions) *Ranker {
	if opts.Trainer == nil {
		opts.Trainer = DefaultLogisticTrainer()
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Ranker{trainer: opts.Trainer, workers: opts.Workers, logger: opts.Logger}
}

// Result holds the baseline score and per-feature AUC drops.
type Result struct {
	BaselineAUC float64
	Importance  map[string]float64
}

// FeatureImportance is one entry of a ranked result.
type FeatureImportance struct {
	Feature    string
	Importance float64
}

// Ranked returns features by descending importance, ties by name.
func (r *Result) Ranked() []FeatureImportance {
	out := make([]FeatureImportance, 0, len(r.Importance))
	for name, v := range r.Importance {
		out = append(out, FeatureImportance{Feature: name, Importance: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Importance != out[j].Importance {
			return out[i].Importance > out[j].Importance
		}
		return out[i].Feature < out[j].Feature
	})
	return out
}

// Evaluate trains on train and returns the test AUC.
func (r *Ranker) Evaluate(ctx context.Context, train, test *dataset.Table) (float64, error) {
	model, err := r.trainer.Train(ctx, train.Features(), train.Labels())
	if err != nil {
		return 0, fmt.Errorf("train: %w", err)
	}
	preds, err := model.Predict(test.Features())
	if err != nil {
		return 0, fmt.Errorf("predict: %w", err)
	}
	return ROCAUC(test.Labels(), preds)
}

// Rank computes the baseline AUC and the importance of every feature column.
func (r *Ranker) Rank(ctx context.Context, train, test *dataset.Table) (*Result, error) {
	baseline, err := r.Evaluate(ctx, train, test)
	if err != nil {
		return nil, fmt.Errorf("baseline: %w", err)
	}
	r.logger.Info("baseline roc auc", zap.Float64("auc", baseline),
		zap.Int("train_rows", train.Len()), zap.Int("test_rows", test.Len()))

	names := train.FeatureNames()
	scores := make([]float64, len(names))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for i, name := range names {
		g.Go(func() error {
			ablated, err := train.ZeroColumn(name)
			if err != nil {
				return err
			}
			auc, err := r.Evaluate(gctx, ablated, test)
			if err != nil {
				return fmt.Errorf("ablate %s: %w", name, err)
			}
			scores[i] = auc
			r.logger.Debug("ablation", zap.String("feature", name), zap.Float64("auc", auc))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := &Result{BaselineAUC: baseline, Importance: make(map[string]float64, len(names))}
	for i, name := range names {
		result.Importance[name] = baseline - scores[i]
	}
	return result, nil
}

// ImportanceFromScores derives importance from externally produced
// predictions: baseline is the unablated test prediction and ablated holds
// the test predictions of a model retrained without each feature.
func ImportanceFromScores(labels, baseline []float64, ablated map[string][]float64) (*Result, error) {
	base, err := ROCAUC(labels, baseline)
	if err != nil {
		return nil, fmt.Errorf("baseline: %w", err)
	}
	result := &Result{BaselineAUC: base, Importance: make(map[string]float64, len(ablated))}
	for name, preds := range ablated {
		auc, err := ROCAUC(labels, preds)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		result.Importance[name] = base - auc
	}
	return result, nil
}

// WriteImportanceJSON writes the importance map as two-space indented JSON
// with keys sorted.
func WriteImportanceJSON(path string, importance map[string]float64) error {
	data, err := json.MarshalIndent(importance, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal importance: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

// ReadImportanceJSON reads a file written by WriteImportanceJSON.
func ReadImportanceJSON(path string) (map[string]float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var out map[string]float64
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return out, nil
}
