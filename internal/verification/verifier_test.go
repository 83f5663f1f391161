package verification

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lending-risk-lab/internal/corpus"
	"lending-risk-lab/internal/domain"
	"lending-risk-lab/internal/features"
	"lending-risk-lab/internal/storage/memory"
)

const (
	day int64 = 24 * 60 * 60
	t0  int64 = 1_600_000_000
)

func history(account string) []*domain.Event {
	amt := func(v int64) *decimal.Decimal { d := decimal.NewFromInt(v); return &d }
	rate := "30000000000000000000000000"
	return []*domain.Event{
		{Account: account, TxID: account + "-dep", Timestamp: t0, Type: domain.EventTypeDeposit, Amount: amt(500)},
		{Account: account, TxID: account + "-bor1", Timestamp: t0 + day, Type: domain.EventTypeBorrow, Amount: amt(100), BorrowRate: &rate},
		{Account: account, TxID: account + "-rep", Timestamp: t0 + 2*day, Type: domain.EventTypeRepay, AmountAfterFee: amt(40)},
		{Account: account, TxID: account + "-bor2", Timestamp: t0 + 3*day, Type: domain.EventTypeBorrow, Amount: amt(60), BorrowRate: &rate},
	}
}

func setup(t *testing.T) (*memory.FeatureRecordStore, corpus.Corpus, string) {
	t.Helper()
	c := corpus.Corpus{
		"0x00000000000000000000000000000000000000a1": history("0x00000000000000000000000000000000000000a1"),
		"0x00000000000000000000000000000000000000b2": history("0x00000000000000000000000000000000000000b2"),
	}
	records, err := features.NewEngine(features.EngineOptions{}).Run(context.Background(), c)
	require.NoError(t, err)
	require.Len(t, records, 4)

	store := memory.NewFeatureRecordStore()
	require.NoError(t, store.InsertBulk(context.Background(), records))
	return store, c, records[0].RunID
}

func TestVerifyRun_Matches(t *testing.T) {
	store, c, runID := setup(t)

	report, err := NewVerifier(store, c).VerifyRun(context.Background(), runID)
	require.NoError(t, err)
	assert.True(t, report.OK())
	assert.Equal(t, 4, report.Total)
	assert.Equal(t, 4, report.Matched)
	assert.Empty(t, report.Results)
}

func TestVerifyRun_DetectsDrift(t *testing.T) {
	store, c, runID := setup(t)

	// A repay that arrived after the run changes the later anchor of b2.
	b2 := "0x00000000000000000000000000000000000000b2"
	extra := decimal.NewFromInt(25)
	c[b2] = append(c[b2], &domain.Event{
		Account: b2, TxID: "late", Timestamp: t0 + 2*day + 60, Type: domain.EventTypeRepay, AmountAfterFee: &extra,
	})

	report, err := NewVerifier(store, c).VerifyRun(context.Background(), runID)
	require.NoError(t, err)
	assert.False(t, report.OK())
	assert.Equal(t, 3, report.Matched)
	assert.Equal(t, 1, report.Divergent)

	require.Len(t, report.Results, 1)
	res := report.Results[0]
	assert.Equal(t, b2, res.Account)
	assert.Equal(t, t0+3*day, res.Anchor)

	cols := make(map[string]ColumnDivergence)
	for _, d := range res.Divergences {
		cols[d.Column] = d
	}
	assert.Equal(t, ColumnDivergence{Column: domain.ColRepayNum, Expected: 1, Actual: 2}, cols[domain.ColRepayNum])
	assert.Equal(t, ColumnDivergence{Column: domain.ColRepaySum, Expected: 40, Actual: 65}, cols[domain.ColRepaySum])
	assert.NotContains(t, cols, domain.ColDepositSum)
}

func TestVerifyRun_Failures(t *testing.T) {
	store, c, runID := setup(t)

	_, err := NewVerifier(store, c).VerifyRun(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)

	// A borrow that lost its rate can no longer be aggregated.
	a1 := "0x00000000000000000000000000000000000000a1"
	c[a1][1].BorrowRate = nil
	report, err := NewVerifier(store, c).VerifyRun(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Results, 1)
	assert.True(t, errors.Is(report.Results[0].Err, domain.ErrMalformedEvent))
}

func TestVerifyRecord_UnorderedHistory(t *testing.T) {
	store, c, runID := setup(t)
	records, err := store.GetByRunID(context.Background(), runID)
	require.NoError(t, err)

	a1 := "0x00000000000000000000000000000000000000a1"
	reversed := make([]*domain.Event, 0, len(c[a1]))
	for i := len(c[a1]) - 1; i >= 0; i-- {
		reversed = append(reversed, c[a1][i])
	}

	for _, rec := range records {
		if rec.Account != a1 {
			continue
		}
		res := VerifyRecord(rec, reversed)
		require.NoError(t, res.Err)
		assert.True(t, res.Match)

		fv, label, err := features.Evaluate(features.SortHistory(reversed), rec.AnchorTimestamp)
		require.NoError(t, err)
		assert.Equal(t, rec.Features, fv)
		assert.Equal(t, rec.Label, label)
	}
	assert.Equal(t, a1+"-bor2", reversed[0].TxID, "input order is untouched")
}

func TestCompareRecords_Tolerance(t *testing.T) {
	a := &domain.FeatureRecord{Features: domain.FeatureVector{Deposit: domain.TypeStats{Sum: 1e12}}}
	b := &domain.FeatureRecord{Features: domain.FeatureVector{Deposit: domain.TypeStats{Sum: 1e12 + 1}}}
	assert.Empty(t, CompareRecords(a, b))

	b.Features.Deposit.Sum = 1.001e12
	assert.Len(t, CompareRecords(a, b), 1)
}
