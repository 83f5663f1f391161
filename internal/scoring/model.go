package scoring

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// ErrEmptyDataset is returned when a model is trained on no rows.
var ErrEmptyDataset = errors.New("empty dataset")

// Model predicts a score per feature row. Higher means more likely label 1.
type Model interface {
	Predict(features [][]float64) ([]float64, error)
}

// Trainer fits a Model on a feature matrix and 0/1 labels.
type Trainer interface {
	Train(ctx context.Context, features [][]float64, labels []float64) (Model, error)
}

// LogisticTrainer fits an L2-regularised logistic regression with full-batch
// gradient descent on standardised features. Training is deterministic.
type LogisticTrainer struct {
	Iterations   int
	LearningRate float64
	L2           float64
}

// DefaultLogisticTrainer returns the trainer used by the importance binary.
func DefaultLogisticTrainer() *LogisticTrainer {
	return &LogisticTrainer{Iterations: 200, LearningRate: 0.5, L2: 1e-3}
}

// LogisticModel is a fitted logistic regression.
type LogisticModel struct {
	Mean    []float64
	Scale   []float64
	Weights []float64
	Bias    float64
}

// Train implements Trainer.
func (t *LogisticTrainer) Train(ctx context.Context, features [][]float64, labels []float64) (Model, error) {
	n := len(features)
	if n == 0 {
		return nil, ErrEmptyDataset
	}
	if len(labels) != n {
		return nil, fmt.Errorf("%w: %d rows, %d labels", ErrLengthMismatch, n, len(labels))
	}
	d := len(features[0])
	for i, row := range features {
		if len(row) != d {
			return nil, fmt.Errorf("row %d has %d features, want %d", i, len(row), d)
		}
	}

	m := &LogisticModel{
		Mean:    make([]float64, d),
		Scale:   make([]float64, d),
		Weights: make([]float64, d),
	}
	m.fitScaler(features)

	x := make([][]float64, n)
	for i, row := range features {
		x[i] = m.standardise(row)
	}

	grad := make([]float64, d)
	for iter := 0; iter < t.Iterations; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		clear(grad)
		var gradBias float64
		for i, row := range x {
			diff := sigmoid(m.linear(row)) - labels[i]
			for j, v := range row {
				grad[j] += diff * v
			}
			gradBias += diff
		}

		for j := range m.Weights {
			m.Weights[j] -= t.LearningRate * (grad[j]/float64(n) + t.L2*m.Weights[j])
		}
		m.Bias -= t.LearningRate * gradBias / float64(n)
	}
	return m, nil
}

// Predict implements Model.
func (m *LogisticModel) Predict(features [][]float64) ([]float64, error) {
	out := make([]float64, len(features))
	for i, row := range features {
		if len(row) != len(m.Weights) {
			return nil, fmt.Errorf("row %d has %d features, want %d", i, len(row), len(m.Weights))
		}
		out[i] = sigmoid(m.linear(m.standardise(row)))
	}
	return out, nil
}

// fitScaler stores per-column mean and standard deviation. Columns with no
// spread (including zeroed columns) get scale 1 so they standardise to 0.
func (m *LogisticModel) fitScaler(features [][]float64) {
	n := float64(len(features))
	for _, row := range features {
		for j, v := range row {
			m.Mean[j] += v
		}
	}
	for j := range m.Mean {
		m.Mean[j] /= n
	}
	for _, row := range features {
		for j, v := range row {
			d := v - m.Mean[j]
			m.Scale[j] += d * d
		}
	}
	for j, ss := range m.Scale {
		if ss <= 0 || math.IsNaN(ss) || math.IsInf(ss, 0) {
			m.Scale[j] = 1
			continue
		}
		m.Scale[j] = math.Sqrt(ss / n)
	}
}

func (m *LogisticModel) standardise(row []float64) []float64 {
	out := make([]float64, len(row))
	for j, v := range row {
		out[j] = (v - m.Mean[j]) / m.Scale[j]
	}
	return out
}

func (m *LogisticModel) linear(x []float64) float64 {
	z := m.Bias
	for j, v := range x {
		z += m.Weights[j] * v
	}
	return z
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}
