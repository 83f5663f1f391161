package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/shopspring/decimal"
)

// EventFromFields builds an Event from a flattened record.
// timestamp and event_type are required. account overrides user_id when set.
func EventFromFields(account string, fields map[string]any) (*Event, error) {
	txID, _ := stringValue(fields[FieldTxnID])

	rawTS, ok := fields[FieldTimestamp]
	if !ok || rawTS == nil {
		return nil, malformed(txID, "missing timestamp")
	}
	ts, err := int64Value(rawTS)
	if err != nil {
		return nil, malformed(txID, "timestamp: "+err.Error())
	}

	rawType, ok := fields[FieldEventType]
	if !ok || rawType == nil {
		return nil, malformed(txID, "missing event_type")
	}
	typ, ok := rawType.(string)
	if !ok || !EventType(typ).Valid() {
		return nil, malformed(txID, fmt.Sprintf("unknown event_type %v", rawType))
	}

	if account == "" {
		account, _ = stringValue(fields[FieldUserID])
	}
	account, err = NormalizeAccount(account)
	if err != nil {
		return nil, fmt.Errorf("txn %s: %w", txID, err)
	}

	e := &Event{
		Account:   account,
		TxID:      txID,
		Timestamp: ts,
		Type:      EventType(typ),
	}

	amounts := []struct {
		field string
		dst   **decimal.Decimal
	}{
		{FieldAmount, &e.Amount},
		{FieldAmountAfterFee, &e.AmountAfterFee},
		{FieldCollateralAmount, &e.CollateralAmount},
	}
	for _, a := range amounts {
		raw, ok := fields[a.field]
		if !ok || raw == nil {
			continue
		}
		d, err := decimalValue(raw)
		if err != nil {
			return nil, malformed(txID, a.field+": "+err.Error())
		}
		*a.dst = &d
	}

	strs := []struct {
		field string
		dst   **string
	}{
		{FieldBorrowRate, &e.BorrowRate},
		{FieldLiquidator, &e.Liquidator},
		{FieldPoolID, &e.PoolID},
		{FieldReserveID, &e.ReserveID},
		{FieldReserveSymbol, &e.ReserveSymbol},
	}
	for _, s := range strs {
		raw, ok := fields[s.field]
		if !ok || raw == nil {
			continue
		}
		v, ok := stringValue(raw)
		if !ok {
			return nil, malformed(txID, fmt.Sprintf("%s: unexpected %T", s.field, raw))
		}
		*s.dst = &v
	}

	return e, nil
}

// Fields renders the event back into its flattened form.
// Amounts are written as decimal strings to keep full precision.
func (e *Event) Fields() map[string]any {
	out := map[string]any{
		FieldTimestamp: e.Timestamp,
		FieldEventType: string(e.Type),
		FieldUserID:    e.Account,
	}
	if e.TxID != "" {
		out[FieldTxnID] = e.TxID
	}
	for _, field := range AmountFields {
		if v := e.amountField(field); v != nil {
			out[field] = v.String()
		}
	}
	optional := map[string]*string{
		FieldBorrowRate:    e.BorrowRate,
		FieldLiquidator:    e.Liquidator,
		FieldPoolID:        e.PoolID,
		FieldReserveID:     e.ReserveID,
		FieldReserveSymbol: e.ReserveSymbol,
	}
	for field, v := range optional {
		if v != nil {
			out[field] = *v
		}
	}
	return out
}

func int64Value(v any) (int64, error) {
	switch x := v.(type) {
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n, nil
		}
		f, err := x.Float64()
		if err != nil {
			return 0, err
		}
		return integralFloat(f)
	case float64:
		return integralFloat(x)
	case int:
		return int64(x), nil
	case int64:
		return x, nil
	case string:
		return strconv.ParseInt(x, 10, 64)
	}
	return 0, fmt.Errorf("unexpected %T", v)
}

func integralFloat(f float64) (int64, error) {
	if f != math.Trunc(f) || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, fmt.Errorf("not an integer: %v", f)
	}
	return int64(f), nil
}

func decimalValue(v any) (decimal.Decimal, error) {
	switch x := v.(type) {
	case string:
		return decimal.NewFromString(x)
	case json.Number:
		return decimal.NewFromString(x.String())
	case float64:
		return decimal.NewFromFloat(x), nil
	case int:
		return decimal.NewFromInt(int64(x)), nil
	case int64:
		return decimal.NewFromInt(x), nil
	}
	return decimal.Zero, fmt.Errorf("unexpected %T", v)
}

func stringValue(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case json.Number:
		return x.String(), true
	}
	return "", false
}
