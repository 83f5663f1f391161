package domain

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAccount = "0x00000000000000000000000000000000000000a1"

func hasFields(fields ...string) func(string) bool {
	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		set[f] = true
	}
	return func(f string) bool { return set[f] }
}

func TestInferEventType_Precedence(t *testing.T) {
	tests := []struct {
		name   string
		fields []string
		want   EventType
	}{
		{"repay wins over everything", []string{FieldAmountAfterFee, FieldLiquidator, FieldBorrowRate, FieldAmount}, EventTypeRepay},
		{"liquidator over borrow rate", []string{FieldLiquidator, FieldBorrowRate, FieldAmount}, EventTypeLiquidationCall},
		{"borrow carries amount too", []string{FieldBorrowRate, FieldAmount}, EventTypeBorrow},
		{"plain amount is deposit", []string{FieldAmount, FieldPoolID}, EventTypeDeposit},
		{"collateral only is unknown", []string{FieldCollateralAmount}, EventTypeUnknown},
		{"nothing", nil, EventTypeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, InferEventType(hasFields(tt.fields...)))
		})
	}
}

func TestEventFromFields(t *testing.T) {
	fields := map[string]any{
		FieldTimestamp:     json.Number("1600000000"),
		FieldEventType:     "borrow",
		FieldUserID:        "0x00000000000000000000000000000000000000A1",
		FieldTxnID:         "tx-1",
		FieldAmount:        "6427407312330356777",
		FieldBorrowRate:    "50000000000000000000000000",
		FieldPoolID:        "pool-1",
		FieldReserveID:     "reserve-1",
		FieldReserveSymbol: "DAI",
	}

	e, err := EventFromFields("", fields)
	require.NoError(t, err)

	assert.Equal(t, testAccount, e.Account)
	assert.Equal(t, int64(1600000000), e.Timestamp)
	assert.Equal(t, EventTypeBorrow, e.Type)
	require.NotNil(t, e.Amount)
	assert.Equal(t, "6427407312330356777", e.Amount.String())
	require.NotNil(t, e.BorrowRate)
	assert.Equal(t, "50000000000000000000000000", *e.BorrowRate)
	assert.Nil(t, e.Liquidator)
	assert.True(t, e.HasField(FieldPoolID))
	assert.False(t, e.HasField(FieldLiquidator))
}

func TestEventFromFields_Malformed(t *testing.T) {
	tests := []struct {
		name   string
		fields map[string]any
	}{
		{"missing timestamp", map[string]any{FieldEventType: "deposit"}},
		{"missing event_type", map[string]any{FieldTimestamp: 10}},
		{"bad event_type", map[string]any{FieldTimestamp: 10, FieldEventType: "swap"}},
		{"fractional timestamp", map[string]any{FieldTimestamp: 10.5, FieldEventType: "deposit"}},
		{"bad amount", map[string]any{FieldTimestamp: 10, FieldEventType: "deposit", FieldAmount: "lots"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := EventFromFields(testAccount, tt.fields)
			assert.ErrorIs(t, err, ErrMalformedEvent)
		})
	}
}

func TestEventFromFields_InvalidAccount(t *testing.T) {
	_, err := EventFromFields("not-an-address", map[string]any{FieldTimestamp: 10, FieldEventType: "deposit"})
	assert.ErrorIs(t, err, ErrInvalidAccount)
}

func TestEvent_FieldsRoundTrip(t *testing.T) {
	amount := decimal.RequireFromString("123456789012345678901234567890")
	sym := "USDC"
	in := &Event{
		Account:       testAccount,
		TxID:          "tx-9",
		Timestamp:     1700000000,
		Type:          EventTypeDeposit,
		Amount:        &amount,
		ReserveSymbol: &sym,
	}

	out, err := EventFromFields("", in.Fields())
	require.NoError(t, err)
	assert.Equal(t, in.Account, out.Account)
	assert.Equal(t, in.TxID, out.TxID)
	assert.Equal(t, in.Timestamp, out.Timestamp)
	assert.Equal(t, in.Type, out.Type)
	assert.True(t, amount.Equal(*out.Amount))
	assert.Equal(t, "USDC", *out.ReserveSymbol)
}

func TestEvent_ResolveAmountPriority(t *testing.T) {
	a := decimal.NewFromInt(1)
	b := decimal.NewFromInt(2)
	c := decimal.NewFromInt(3)

	e := &Event{AmountAfterFee: &b, CollateralAmount: &c}
	got, ok := e.ResolveAmount()
	require.True(t, ok)
	assert.True(t, got.Equal(b))

	e.Amount = &a
	got, ok = e.ResolveAmount()
	require.True(t, ok)
	assert.True(t, got.Equal(a))

	_, ok = (&Event{}).ResolveAmount()
	assert.False(t, ok)
}

func TestEvent_Validate(t *testing.T) {
	assert.NoError(t, (&Event{Timestamp: 1, Type: EventTypeRepay}).Validate())
	assert.NoError(t, (&Event{Timestamp: 0, Type: EventTypeRepay}).Validate(), "epoch zero is a valid timestamp")
	assert.ErrorIs(t, (&Event{Timestamp: -1, Type: EventTypeRepay}).Validate(), ErrMalformedEvent)
	assert.ErrorIs(t, (&Event{Timestamp: 1}).Validate(), ErrMalformedEvent)
	assert.ErrorIs(t, (&Event{Timestamp: 1, Type: "swap"}).Validate(), ErrMalformedEvent)

	var nilEvent *Event
	assert.ErrorIs(t, nilEvent.Validate(), ErrMalformedEvent)
}

func TestFeatureRecord_ColumnsMatchSchema(t *testing.T) {
	r := &FeatureRecord{Label: LabelCreditOK}
	cols := r.Columns()
	names := ColumnNames()

	require.Len(t, cols, len(names))
	for i, c := range cols {
		assert.Equal(t, names[i], c.Name)
	}
	assert.Equal(t, 1.0, r.ColumnMap()[ColLabel])
	assert.NotContains(t, FeatureNames(), ColLabel)
	assert.NotContains(t, names, "unknown_sum")
	assert.NotContains(t, names, "unknown_avg")
}
