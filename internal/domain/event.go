package domain

import (
	"github.com/shopspring/decimal"
)

// EventType classifies a lending-protocol transaction.
type EventType string

// Event type constants. The set is closed.
const (
	EventTypeUnknown         EventType = "unknown"
	EventTypeDeposit         EventType = "deposit"
	EventTypeLiquidationCall EventType = "liquidation_call"
	EventTypeRepay           EventType = "repay"
	EventTypeBorrow          EventType = "borrow"
)

// Valid reports whether t is one of the known event types.
func (t EventType) Valid() bool {
	switch t {
	case EventTypeUnknown, EventTypeDeposit, EventTypeLiquidationCall, EventTypeRepay, EventTypeBorrow:
		return true
	}
	return false
}

// Flattened field names, as produced by the subgraph flattener and
// persisted in the user mapping file.
const (
	FieldTimestamp        = "timestamp"
	FieldEventType        = "event_type"
	FieldUserID           = "user_id"
	FieldTxnID            = "txn_id"
	FieldAmount           = "amount"
	FieldAmountAfterFee   = "amountAfterFee"
	FieldCollateralAmount = "collateralAmount"
	FieldBorrowRate       = "borrowRate"
	FieldLiquidator       = "liquidator"
	FieldPoolID           = "pool_id"
	FieldReserveID        = "reserve_id"
	FieldReserveSymbol    = "reserve_symbol"
)

// AmountFields lists the amount-like fields in resolution priority.
// The first one present on an event is its amount.
var AmountFields = []string{FieldAmount, FieldAmountAfterFee, FieldCollateralAmount}

// Event is a single lending-protocol transaction belonging to one account.
type Event struct {
	Account   string    // lower-case hex address of the user
	TxID      string    // subgraph transaction id
	Timestamp int64     // Unix timestamp in seconds
	Type      EventType // inferred from present fields

	Amount           *decimal.Decimal // deposit, borrow
	AmountAfterFee   *decimal.Decimal // repay
	CollateralAmount *decimal.Decimal // liquidation_call
	BorrowRate       *string          // 27-decimal fixed point, borrow only
	Liquidator       *string          // liquidation_call only

	PoolID        *string
	ReserveID     *string
	ReserveSymbol *string
}

// ResolveAmount returns the first present amount-like value in AmountFields order.
func (e *Event) ResolveAmount() (decimal.Decimal, bool) {
	for _, field := range AmountFields {
		if v := e.amountField(field); v != nil {
			return *v, true
		}
	}
	return decimal.Zero, false
}

func (e *Event) amountField(field string) *decimal.Decimal {
	switch field {
	case FieldAmount:
		return e.Amount
	case FieldAmountAfterFee:
		return e.AmountAfterFee
	case FieldCollateralAmount:
		return e.CollateralAmount
	}
	return nil
}

// HasField reports whether the flattened field is present on the event.
func (e *Event) HasField(field string) bool {
	switch field {
	case FieldAmount, FieldAmountAfterFee, FieldCollateralAmount:
		return e.amountField(field) != nil
	case FieldBorrowRate:
		return e.BorrowRate != nil
	case FieldLiquidator:
		return e.Liquidator != nil
	case FieldPoolID:
		return e.PoolID != nil
	case FieldReserveID:
		return e.ReserveID != nil
	case FieldReserveSymbol:
		return e.ReserveSymbol != nil
	}
	return false
}

// InferEventType classifies an event by which distinguishing fields are present.
// Order matters: a borrow also carries an amount, a repay carries no liquidator, etc.
func InferEventType(has func(field string) bool) EventType {
	switch {
	case has(FieldAmountAfterFee):
		return EventTypeRepay
	case has(FieldLiquidator):
		return EventTypeLiquidationCall
	case has(FieldBorrowRate):
		return EventTypeBorrow
	case has(FieldAmount):
		return EventTypeDeposit
	default:
		return EventTypeUnknown
	}
}

// Validate checks the fields the feature engine cannot work without.
func (e *Event) Validate() error {
	if e == nil {
		return malformed("", "nil event")
	}
	if e.Timestamp < 0 {
		return malformed(e.TxID, "negative timestamp")
	}
	if e.Type == "" {
		return malformed(e.TxID, "missing event_type")
	}
	if !e.Type.Valid() {
		return malformed(e.TxID, "unknown event_type "+string(e.Type))
	}
	return nil
}
