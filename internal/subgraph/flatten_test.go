package subgraph

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lending-risk-lab/internal/domain"
)

func TestDenest(t *testing.T) {
	obj := map[string]any{
		"id":     "tx1",
		"amount": "100",
		"pool": map[string]any{
			"id":          "pool-1",
			"lendingPool": "0xpool",
		},
		"reserve": map[string]any{
			"id":     "res-1",
			"symbol": "DAI",
			"meta": map[string]any{
				"deep": true,
			},
		},
	}

	flat := Denest(obj, 2)

	assert.Equal(t, "tx1", flat["id"])
	assert.Equal(t, "100", flat["amount"])
	assert.Equal(t, "pool-1", flat["pool_id"])
	assert.Equal(t, "0xpool", flat["pool_lendingPool"])
	assert.Equal(t, "res-1", flat["reserve_id"])
	assert.Equal(t, "DAI", flat["reserve_symbol"])
	// Third level is kept as a value.
	assert.Equal(t, map[string]any{"deep": true}, flat["reserve_meta"])
	assert.NotContains(t, flat, "pool")
}

func TestDenest_Lists(t *testing.T) {
	obj := map[string]any{
		"tags": []any{"a", map[string]any{"x": map[string]any{"y": 1}}},
	}

	flat := Denest(obj, 3)

	require.IsType(t, []any{}, flat["tags"])
	items := flat["tags"].([]any)
	assert.Equal(t, "a", items[0])
	assert.Equal(t, map[string]any{"x_y": 1}, items[1])
}

func TestFlattenTransaction_EventTypes(t *testing.T) {
	tests := []struct {
		name string
		tx   map[string]any
		want domain.EventType
	}{
		{
			name: "repay",
			tx:   map[string]any{"id": "1", "amountAfterFee": "10", "fee": "1"},
			want: domain.EventTypeRepay,
		},
		{
			name: "liquidation",
			tx:   map[string]any{"id": "2", "liquidator": "0xliq", "collateralAmount": "5"},
			want: domain.EventTypeLiquidationCall,
		},
		{
			name: "borrow",
			tx:   map[string]any{"id": "3", "amount": "10", "borrowRate": "5"},
			want: domain.EventTypeBorrow,
		},
		{
			name: "deposit",
			tx:   map[string]any{"id": "4", "amount": "10"},
			want: domain.EventTypeDeposit,
		},
		{
			name: "unknown",
			tx:   map[string]any{"id": "5", "fee": "1"},
			want: domain.EventTypeUnknown,
		},
		{
			name: "null field is absent",
			tx:   map[string]any{"id": "6", "amount": "10", "borrowRate": nil},
			want: domain.EventTypeDeposit,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flat, err := FlattenTransaction(tt.tx)
			require.NoError(t, err)
			assert.Equal(t, string(tt.want), flat[domain.FieldEventType])
		})
	}
}

func TestFlattenTransaction_RenamesID(t *testing.T) {
	flat, err := FlattenTransaction(map[string]any{
		"id":        "0xabc:7",
		"timestamp": json.Number("1600000000"),
		"user":      map[string]any{"id": "0x00000000000000000000000000000000000000a1"},
	})
	require.NoError(t, err)

	assert.Equal(t, "0xabc:7", flat[domain.FieldTxnID])
	assert.NotContains(t, flat, "id")
	assert.Equal(t, "0x00000000000000000000000000000000000000a1", flat[domain.FieldUserID])
}

func TestFlattenTransaction_MissingID(t *testing.T) {
	_, err := FlattenTransaction(map[string]any{"amount": "1"})
	assert.ErrorIs(t, err, ErrMalformedResponse)

	_, err = FlattenTransactions([]map[string]any{{"id": "1"}, {"amount": "1"}})
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestToEvents(t *testing.T) {
	flat, err := FlattenTransactions([]map[string]any{
		{
			"id":         "tx1",
			"timestamp":  json.Number("1600000000"),
			"user":       map[string]any{"id": "0x00000000000000000000000000000000000000A1"},
			"amount":     "6427407312330356777",
			"borrowRate": "50000000000000000000000000",
			"pool":       map[string]any{"id": "pool-1"},
			"reserve":    map[string]any{"id": "res-1", "symbol": "DAI"},
		},
	})
	require.NoError(t, err)

	events, err := ToEvents(flat)
	require.NoError(t, err)
	require.Len(t, events, 1)

	e := events[0]
	assert.Equal(t, "0x00000000000000000000000000000000000000a1", e.Account)
	assert.Equal(t, "tx1", e.TxID)
	assert.Equal(t, int64(1600000000), e.Timestamp)
	assert.Equal(t, domain.EventTypeBorrow, e.Type)
	assert.Equal(t, "6427407312330356777", e.Amount.String())
	assert.Equal(t, "pool-1", *e.PoolID)
	assert.Equal(t, "DAI", *e.ReserveSymbol)
}

func TestToEvents_Malformed(t *testing.T) {
	_, err := ToEvents([]map[string]any{
		{domain.FieldTxnID: "tx1", domain.FieldEventType: "deposit"},
	})
	assert.ErrorIs(t, err, domain.ErrMalformedEvent)
}
