// Package dataset assembles feature records into tabular train/test sets
// with a stable column schema.
package dataset

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"time"

	"lending-risk-lab/internal/domain"
	"lending-risk-lab/internal/features"
)

// ErrUnknownColumn is returned when a column name is not part of the schema.
var ErrUnknownColumn = errors.New("unknown column")

// Split defaults.
const (
	DefaultSeed          uint64  = 1234
	DefaultTrainFraction float64 = 0.66
)

// Out-of-time cutoffs (UTC). Rows anchored between them are held out of both sets.
var (
	DefaultTrainBefore = time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC).Unix()
	DefaultTestFrom    = time.Date(2021, 4, 15, 0, 0, 0, 0, time.UTC).Unix()
)

// Row is one feature record flattened in Columns order.
type Row struct {
	Account         string
	AnchorTimestamp int64
	AnchorTxID      string
	Values          []float64
}

// Table is an ordered set of rows sharing one schema. Columns always equals
// domain.ColumnNames(), label first.
type Table struct {
	Columns []string
	Rows    []Row
}

// New returns an empty table with the record schema.
func New() *Table {
	return &Table{Columns: domain.ColumnNames()}
}

// Assemble flattens records into a table, preserving record order.
func Assemble(records []*domain.FeatureRecord) *Table {
	t := New()
	t.Rows = make([]Row, 0, len(records))
	for _, r := range records {
		cols := r.Columns()
		values := make([]float64, len(cols))
		for i, c := range cols {
			values[i] = c.Value
		}
		t.Rows = append(t.Rows, Row{
			Account:         r.Account,
			AnchorTimestamp: r.AnchorTimestamp,
			AnchorTxID:      r.AnchorTxID,
			Values:          values,
		})
	}
	return t
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.Rows)
}

// ColumnIndex returns the position of name in Columns.
func (t *Table) ColumnIndex(name string) (int, error) {
	for i, c := range t.Columns {
		if c == name {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrUnknownColumn, name)
}

// Column returns a copy of one column's values.
func (t *Table) Column(name string) ([]float64, error) {
	idx, err := t.ColumnIndex(name)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(t.Rows))
	for i, r := range t.Rows {
		out[i] = r.Values[idx]
	}
	return out, nil
}

// Labels returns the target vector.
func (t *Table) Labels() []float64 {
	labels, _ := t.Column(domain.ColLabel)
	return labels
}

// FeatureNames returns the model input columns, label excluded.
func (t *Table) FeatureNames() []string {
	names := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		if c != domain.ColLabel {
			names = append(names, c)
		}
	}
	return names
}

// Features returns the feature matrix with the label column dropped.
// Row i matches Labels()[i]; column j matches FeatureNames()[j].
func (t *Table) Features() [][]float64 {
	labelIdx, _ := t.ColumnIndex(domain.ColLabel)
	out := make([][]float64, len(t.Rows))
	for i, r := range t.Rows {
		row := make([]float64, 0, len(r.Values)-1)
		for j, v := range r.Values {
			if j != labelIdx {
				row = append(row, v)
			}
		}
		out[i] = row
	}
	return out
}

// Accounts returns the distinct accounts in the table, sorted.
func (t *Table) Accounts() []string {
	seen := make(map[string]struct{})
	for _, r := range t.Rows {
		seen[r.Account] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for a := range seen {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// Clone returns a deep copy.
func (t *Table) Clone() *Table {
	out := &Table{
		Columns: append([]string(nil), t.Columns...),
		Rows:    make([]Row, len(t.Rows)),
	}
	for i, r := range t.Rows {
		r.Values = append([]float64(nil), r.Values...)
		out.Rows[i] = r
	}
	return out
}

// ZeroColumn returns a copy of t with every value of name set to 0.
// The label column cannot be zeroed.
func (t *Table) ZeroColumn(name string) (*Table, error) {
	if name == domain.ColLabel {
		return nil, fmt.Errorf("%w: %s is the target", ErrUnknownColumn, name)
	}
	idx, err := t.ColumnIndex(name)
	if err != nil {
		return nil, err
	}
	out := t.Clone()
	for i := range out.Rows {
		out.Rows[i].Values[idx] = 0
	}
	return out, nil
}

// Filter returns the rows for which keep is true, in order.
func (t *Table) Filter(keep func(Row) bool) *Table {
	out := &Table{Columns: append([]string(nil), t.Columns...)}
	for _, r := range t.Rows {
		if keep(r) {
			out.Rows = append(out.Rows, r)
		}
	}
	return out
}

// SplitOptions controls the account-level random split.
type SplitOptions struct {
	Seed          uint64
	TrainFraction float64
}

// DefaultSplitOptions returns seed 1234 and a 0.66 train fraction.
func DefaultSplitOptions() SplitOptions {
	return SplitOptions{Seed: DefaultSeed, TrainFraction: DefaultTrainFraction}
}

// Split assigns whole accounts to train or test so no account contributes
// rows to both. Accounts are drawn in sorted order from a PCG source seeded
// with opts.Seed; the same table and options always yield the same split.
func Split(t *Table, opts SplitOptions) (train, test *Table) {
	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed))

	inTrain := make(map[string]bool)
	for _, account := range t.Accounts() {
		inTrain[account] = rng.Float64() < opts.TrainFraction
	}

	train = t.Filter(func(r Row) bool { return inTrain[r.Account] })
	test = t.Filter(func(r Row) bool { return !inTrain[r.Account] })
	return train, test
}

// OutOfTimeSplit puts rows anchored before trainBefore in train and rows
// anchored at or after testFrom in test. Rows in between are dropped.
func OutOfTimeSplit(t *Table, trainBefore, testFrom int64) (train, test *Table) {
	train = t.Filter(func(r Row) bool { return r.AnchorTimestamp < trainBefore })
	test = t.Filter(func(r Row) bool { return r.AnchorTimestamp >= testFrom })
	return train, test
}

// RequireLabelHorizon drops rows whose label window extends past dataEnd,
// the newest timestamp observed in the corpus. Those rows would be labelled
// as not liquidated only because their future has not happened yet.
func RequireLabelHorizon(t *Table, dataEnd int64) *Table {
	return t.Filter(func(r Row) bool { return r.AnchorTimestamp+features.LabelHorizon <= dataEnd })
}

// LatestTimestamp returns the newest event timestamp in a corpus, or 0 when empty.
func LatestTimestamp(corpus map[string][]*domain.Event) int64 {
	var latest int64
	for _, events := range corpus {
		for _, e := range events {
			if e.Timestamp > latest {
				latest = e.Timestamp
			}
		}
	}
	return latest
}
