// Package main scores a train/test dataset and ranks features by ablation:
// each feature is zeroed in the training set, the model is retrained and the
// AUC drop against the baseline is written to importance.json.
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
	"lending-risk-lab/internal/dataset"
	"lending-risk-lab/internal/observability"
	"lending-risk-lab/internal/orchestrator"
	"lending-risk-lab/internal/scoring"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	// Parse flags (env vars as defaults)
	dataDir := flag.String("data-dir", cfg.DataDir, "Directory holding train.csv and test.csv")
	trainPath := flag.String("train", "", "Training CSV (default <data-dir>/train.csv)")
	testPath := flag.String("test", "", "Test CSV (default <data-dir>/test.csv)")
	output := flag.String("output", "", "Importance JSON (default <data-dir>/importance.json)")
	scoresPath := flag.String("scores", "", "External test-set predictions; report their AUC and exit")
	workers := flag.Int("workers", cfg.Workers, "Ablation runs in parallel")
	iterations := flag.Int("iterations", scoring.DefaultLogisticTrainer().Iterations, "Gradient descent iterations")
	learningRate := flag.Float64("learning-rate", scoring.DefaultLogisticTrainer().LearningRate, "Gradient descent step size")
	logLevel := flag.String("log-level", cfg.LogLevel, "Log level")
	verbose := flag.Bool("verbose", false, "Development logging")
	flag.Parse()

	logger, err := observability.NewLogger(*logLevel, *verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	logger = logger.Named("importance")

	if *trainPath == "" {
		*trainPath = filepath.Join(*dataDir, orchestrator.TrainFile)
	}
	if *testPath == "" {
		*testPath = filepath.Join(*dataDir, orchestrator.TestFile)
	}
	if *output == "" {
		*output = filepath.Join(*dataDir, scoring.ImportanceFile)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	test, err := dataset.LoadCSV(*testPath)
	if err != nil {
		logger.Fatal("load test set", zap.Error(err))
	}

	if *scoresPath != "" {
		scores, err := scoring.LoadScores(*scoresPath)
		if err != nil {
			logger.Fatal("load scores", zap.Error(err))
		}
		auc, err := scoring.ROCAUC(test.Labels(), scores)
		if err != nil {
			logger.Fatal("roc auc", zap.Error(err))
		}
		fmt.Printf("roc auc score %v\n", auc)
		return
	}

	train, err := dataset.LoadCSV(*trainPath)
	if err != nil {
		logger.Fatal("load train set", zap.Error(err))
	}

	ranker := scoring.NewRanker(scoring.RankerOptions{
		Trainer: &scoring.LogisticTrainer{
			Iterations:   *iterations,
			LearningRate: *learningRate,
			L2:           scoring.DefaultLogisticTrainer().L2,
		},
		Workers: *workers,
		Logger:  logger,
	})

	result, err := ranker.Rank(ctx, train, test)
	if err != nil {
		logger.Fatal("rank features", zap.Error(err))
	}
	if err := scoring.WriteImportanceJSON(*output, result.Importance); err != nil {
		logger.Fatal("write importance", zap.Error(err))
	}

	fmt.Printf("roc auc score %v\n", result.BaselineAUC)
	for _, fi := range result.Ranked() {
		fmt.Printf("  %-22s %+.6f\n", fi.Feature, fi.Importance)
	}
	fmt.Printf("wrote %s\n", *output)
}
