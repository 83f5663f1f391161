package features

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lending-risk-lab/internal/domain"
)

func timestamps(events []*domain.Event) []int64 {
	var out []int64
	for _, e := range events {
		out = append(out, e.Timestamp)
	}
	return out
}

func TestSelectWindows_Boundaries(t *testing.T) {
	anchor := t0 + 365*day
	history := []*domain.Event{
		deposit(anchor-HistoryHorizon-1, 1), // too old
		deposit(anchor-HistoryHorizon, 1),   // inclusive lower bound
		deposit(anchor-1, 1),
		deposit(anchor, 1), // anchor: neither window
		deposit(anchor+1, 1),
		deposit(anchor+LabelHorizon, 1),   // inclusive upper bound
		deposit(anchor+LabelHorizon+1, 1), // too far ahead
	}

	w := SelectWindows(history, anchor)

	assert.Equal(t, []int64{anchor - HistoryHorizon, anchor - 1}, timestamps(w.History))
	assert.Equal(t, []int64{anchor + 1, anchor + LabelHorizon}, timestamps(w.Label))
}

func TestSelectWindows_DisjointAndAnchorExcluded(t *testing.T) {
	var history []*domain.Event
	for i := int64(-200); i <= 200; i += 7 {
		history = append(history, deposit(t0+i*day, 1))
	}

	for _, anchorEvent := range history {
		anchor := anchorEvent.Timestamp
		w := SelectWindows(history, anchor)

		seen := make(map[*domain.Event]bool)
		for _, e := range w.History {
			require.Less(t, e.Timestamp, anchor)
			require.GreaterOrEqual(t, e.Timestamp, anchor-HistoryHorizon)
			seen[e] = true
		}
		for _, e := range w.Label {
			require.Greater(t, e.Timestamp, anchor)
			require.LessOrEqual(t, e.Timestamp, anchor+LabelHorizon)
			require.False(t, seen[e], "event in both windows")
		}
	}
}

func TestSelectWindows_DoesNotMutateInput(t *testing.T) {
	history := []*domain.Event{deposit(t0+2*day, 1), deposit(t0, 1), deposit(t0+day, 1)}
	before := timestamps(history)

	_ = SelectWindows(history, t0+day)

	assert.Equal(t, before, timestamps(history))
}

func TestSelectWindows_Empty(t *testing.T) {
	w := SelectWindows(nil, t0)
	assert.Empty(t, w.History)
	assert.Empty(t, w.Label)
}

func TestDeriveLabel(t *testing.T) {
	assert.Equal(t, domain.LabelCreditOK, DeriveLabel(nil))
	assert.Equal(t, domain.LabelCreditOK, DeriveLabel([]*domain.Event{deposit(t0, 1), repay(t0, 1)}))
	assert.Equal(t, domain.LabelLiquidated, DeriveLabel([]*domain.Event{deposit(t0, 1), liquidation(t0+1, 5)}))
	assert.Equal(t, domain.LabelLiquidated, DeriveLabel([]*domain.Event{liquidation(t0, 5), liquidation(t0+1, 5)}))
}
