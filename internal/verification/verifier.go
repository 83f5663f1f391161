// Package verification recomputes stored feature records from the event
// history and reports every column that no longer matches.
package verification

import (
	"context"
	"errors"
	"fmt"
	"math"

	"lending-risk-lab/internal/domain"
	"lending-risk-lab/internal/features"
	"lending-risk-lab/internal/observability"
	"lending-risk-lab/internal/storage"
)

// FloatTolerance is the relative tolerance for column comparisons.
const FloatTolerance = 1e-7

// ErrRunNotFound is returned when a run has no stored records.
var ErrRunNotFound = errors.New("run not found")

// Histories supplies account event histories. storage.EventStore and
// corpus.Corpus implement it.
type Histories interface {
	GetByAccount(ctx context.Context, account string) ([]*domain.Event, error)
}

// ColumnDivergence is a column whose stored and recomputed values differ.
type ColumnDivergence struct {
	Column   string  `json:"column"`
	Expected float64 `json:"expected"` // stored
	Actual   float64 `json:"actual"`   // recomputed
}

// Result is the verification of one record.
type Result struct {
	RecordID    string
	Account     string
	Anchor      int64
	Match       bool
	Divergences []ColumnDivergence
	Err         error // set when the record could not be recomputed
}

// Report summarizes one verified run.
type Report struct {
	RunID     string
	Total     int
	Matched   int
	Divergent int
	Failed    int
	Results   []Result // divergent and failed records only
}

// OK reports whether every record matched.
func (r *Report) OK() bool {
	return r.Divergent == 0 && r.Failed == 0
}

// Verifier checks stored records against a fresh evaluation.
type Verifier struct {
	records   storage.FeatureRecordStore
	histories Histories
}

// NewVerifier creates a verifier.
func NewVerifier(records storage.FeatureRecordStore, histories Histories) *Verifier {
	return &Verifier{records: records, histories: histories}
}

// VerifyRun recomputes every record of runID.
func (v *Verifier) VerifyRun(ctx context.Context, runID string) (*Report, error) {
	records, err := v.records.GetByRunID(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("get records of run %s: %w", runID, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}

	report := &Report{RunID: runID, Total: len(records)}
	cache := make(map[string][]*domain.Event)

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		history, ok := cache[rec.Account]
		if !ok {
			history, err = v.histories.GetByAccount(ctx, rec.Account)
			if err != nil {
				return nil, fmt.Errorf("load account %s: %w", rec.Account, err)
			}
			cache[rec.Account] = history
		}

		res := VerifyRecord(rec, history)
		switch {
		case res.Err != nil:
			report.Failed++
			report.Results = append(report.Results, res)
		case !res.Match:
			report.Divergent++
			report.Results = append(report.Results, res)
		default:
			report.Matched++
		}
	}
	observability.RecordVerification(report.Matched, report.Divergent, report.Failed)
	return report, nil
}

// VerifyRecord recomputes one record from the account history, in any order.
// The history is sorted the way the engine sorts it so sums accumulate in
// the same order.
func VerifyRecord(stored *domain.FeatureRecord, history []*domain.Event) Result {
	res := Result{RecordID: stored.RecordID, Account: stored.Account, Anchor: stored.AnchorTimestamp}

	fv, label, err := features.Evaluate(features.SortHistory(history), stored.AnchorTimestamp)
	if err != nil {
		res.Err = err
		return res
	}

	replayed := &domain.FeatureRecord{AnchorTimestamp: stored.AnchorTimestamp, Label: label, Features: fv}
	res.Divergences = CompareRecords(stored, replayed)
	res.Match = len(res.Divergences) == 0
	return res
}

// CompareRecords compares two records column by column.
func CompareRecords(stored, replayed *domain.FeatureRecord) []ColumnDivergence {
	want, got := stored.Columns(), replayed.Columns()

	var out []ColumnDivergence
	for i := range want {
		if !floatEquals(want[i].Value, got[i].Value) {
			out = append(out, ColumnDivergence{Column: want[i].Name, Expected: want[i].Value, Actual: got[i].Value})
		}
	}
	return out
}

func floatEquals(a, b float64) bool {
	return math.Abs(a-b) <= FloatTolerance*max(1, math.Abs(a), math.Abs(b))
}
