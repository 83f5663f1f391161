package scoring

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lending-risk-lab/internal/dataset"
	"lending-risk-lab/internal/domain"
)

func TestROCAUC(t *testing.T) {
	tests := []struct {
		name   string
		labels []float64
		scores []float64
		want   float64
	}{
		{"perfect", []float64{0, 0, 1, 1}, []float64{0.1, 0.2, 0.8, 0.9}, 1},
		{"inverted", []float64{1, 1, 0, 0}, []float64{0.1, 0.2, 0.8, 0.9}, 0},
		{"all tied", []float64{0, 1, 0, 1}, []float64{0.5, 0.5, 0.5, 0.5}, 0.5},
		{"one misordered pair", []float64{0, 0, 1, 1}, []float64{0.1, 0.4, 0.35, 0.8}, 0.75},
		{"partial tie", []float64{0, 1, 0, 1}, []float64{0.5, 0.5, 0.2, 0.9}, 0.875},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ROCAUC(tt.labels, tt.scores)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-12)
		})
	}
}

func TestROCAUC_Errors(t *testing.T) {
	_, err := ROCAUC([]float64{0, 1}, []float64{0.3})
	assert.ErrorIs(t, err, ErrLengthMismatch)

	_, err = ROCAUC([]float64{1, 1}, []float64{0.3, 0.4})
	assert.ErrorIs(t, err, ErrSingleClass)

	_, err = ROCAUC([]float64{0, 2}, []float64{0.3, 0.4})
	assert.ErrorIs(t, err, ErrInvalidLabel)
}

// separableTable builds rows where deposit_sum alone decides the label and
// repay_num carries no signal.
func separableTable(n int, offset int) *dataset.Table {
	records := make([]*domain.FeatureRecord, 0, n)
	for i := 0; i < n; i++ {
		label := domain.Label(i % 2)
		depositSum := 10.0
		if label == domain.LabelCreditOK {
			depositSum = 100
		}
		records = append(records, &domain.FeatureRecord{
			Account:         fmt.Sprintf("0x%040x", offset+i),
			AnchorTimestamp: int64(1_600_000_000 + i),
			Label:           label,
			Features: domain.FeatureVector{
				Deposit:  domain.TypeStats{Num: 1, Sum: depositSum, Avg: 1},
				Repay:    domain.TypeStats{Num: float64(i % 3)},
				NumPools: 1,
			},
		})
	}
	return dataset.Assemble(records)
}

func TestLogisticTrainer_Separable(t *testing.T) {
	train := separableTable(60, 0)
	test := separableTable(18, 1000)

	model, err := DefaultLogisticTrainer().Train(context.Background(), train.Features(), train.Labels())
	require.NoError(t, err)

	preds, err := model.Predict(test.Features())
	require.NoError(t, err)
	require.Len(t, preds, test.Len())
	for _, p := range preds {
		assert.True(t, p > 0 && p < 1)
	}

	auc, err := ROCAUC(test.Labels(), preds)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, auc, 1e-9)
}

func TestLogisticTrainer_Errors(t *testing.T) {
	trainer := DefaultLogisticTrainer()

	_, err := trainer.Train(context.Background(), nil, nil)
	assert.ErrorIs(t, err, ErrEmptyDataset)

	_, err = trainer.Train(context.Background(), [][]float64{{1}, {2}}, []float64{1})
	assert.ErrorIs(t, err, ErrLengthMismatch)

	_, err = trainer.Train(context.Background(), [][]float64{{1, 2}, {2}}, []float64{1, 0})
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = trainer.Train(ctx, [][]float64{{1}, {2}}, []float64{1, 0})
	assert.ErrorIs(t, err, context.Canceled)

	model, err := trainer.Train(context.Background(), [][]float64{{1}, {2}}, []float64{1, 0})
	require.NoError(t, err)
	_, err = model.Predict([][]float64{{1, 2}})
	assert.Error(t, err)
}

func TestRanker_Rank(t *testing.T) {
	train := separableTable(60, 0)
	test := separableTable(18, 1000)

	result, err := NewRanker(RankerOptions{Workers: 4}).Rank(context.Background(), train, test)
	require.NoError(t, err)

	assert.InDelta(t, 1.0, result.BaselineAUC, 1e-9)
	assert.Len(t, result.Importance, len(domain.FeatureNames()))
	assert.NotContains(t, result.Importance, domain.ColLabel)

	assert.Greater(t, result.Importance[domain.ColDepositSum], 0.3)
	assert.Equal(t, 0.0, result.Importance[domain.ColNumPools])

	ranked := result.Ranked()
	assert.Equal(t, domain.ColDepositSum, ranked[0].Feature)

	// The training table passed in is not modified by ablation.
	sums, err := train.Column(domain.ColDepositSum)
	require.NoError(t, err)
	assert.Contains(t, sums, 100.0)
}

func TestRanker_ParallelMatchesSequential(t *testing.T) {
	train := separableTable(40, 0)
	test := separableTable(12, 500)

	seq, err := NewRanker(RankerOptions{Workers: 1}).Rank(context.Background(), train, test)
	require.NoError(t, err)
	par, err := NewRanker(RankerOptions{Workers: 8}).Rank(context.Background(), train, test)
	require.NoError(t, err)

	assert.Equal(t, seq, par)
}

func TestRanker_SingleClassTest(t *testing.T) {
	train := separableTable(20, 0)
	test := train.Filter(func(r dataset.Row) bool { return r.Values[0] == 1 })

	_, err := NewRanker(RankerOptions{}).Rank(context.Background(), train, test)
	assert.ErrorIs(t, err, ErrSingleClass)
}

type fixedModel struct{ scores []float64 }

func (m fixedModel) Predict([][]float64) ([]float64, error) { return m.scores, nil }

type fixedTrainer struct{ scores []float64 }

func (t fixedTrainer) Train(context.Context, [][]float64, []float64) (Model, error) {
	return fixedModel(t), nil
}

func TestRanker_CustomTrainer(t *testing.T) {
	table := separableTable(4, 0) // labels 0,1,0,1
	r := NewRanker(RankerOptions{Trainer: fixedTrainer{scores: []float64{0.1, 0.9, 0.2, 0.8}}})

	auc, err := r.Evaluate(context.Background(), table, table)
	require.NoError(t, err)
	assert.Equal(t, 1.0, auc)
}

func TestImportanceFromScores(t *testing.T) {
	labels := []float64{0, 0, 1, 1}
	result, err := ImportanceFromScores(labels, []float64{0.1, 0.2, 0.8, 0.9}, map[string][]float64{
		domain.ColBorrowSum:  {0.1, 0.4, 0.35, 0.8},
		domain.ColNumSymbols: {0.1, 0.2, 0.8, 0.9},
	})
	require.NoError(t, err)

	assert.Equal(t, 1.0, result.BaselineAUC)
	assert.InDelta(t, 0.25, result.Importance[domain.ColBorrowSum], 1e-12)
	assert.Equal(t, 0.0, result.Importance[domain.ColNumSymbols])

	_, err = ImportanceFromScores(labels, []float64{1}, nil)
	assert.ErrorIs(t, err, ErrLengthMismatch)
}

func TestWriteImportanceJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", ImportanceFile)
	importance := map[string]float64{"repay_num": 0.01, "borrow_avg": -0.5, "deposit_sum": 0.25}

	require.NoError(t, WriteImportanceJSON(path, importance))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	want := "{\n  \"borrow_avg\": -0.5,\n  \"deposit_sum\": 0.25,\n  \"repay_num\": 0.01\n}\n"
	assert.Equal(t, want, string(data))

	got, err := ReadImportanceJSON(path)
	require.NoError(t, err)
	assert.Equal(t, importance, got)
}

func TestReadScores(t *testing.T) {
	scores, err := ReadScores(strings.NewReader("score\n0.25\n1e-3\n1\n"))
	require.NoError(t, err)
	assert.Equal(t, []float64{0.25, 0.001, 1}, scores)

	_, err = ReadScores(strings.NewReader("prob\n0.1\n"))
	assert.Error(t, err)

	_, err = ReadScores(strings.NewReader("score\nabc\n"))
	assert.Error(t, err)

	_, err = LoadScores(filepath.Join(t.TempDir(), "missing.csv"))
	assert.Error(t, err)
}
