package domain

// Label is the supervised target for one anchor.
type Label int

// Label values. CreditOK means no liquidation in the label window.
const (
	LabelLiquidated Label = 0
	LabelCreditOK   Label = 1
)

// TypeStats holds count, sum and floored average of one event type.
type TypeStats struct {
	Num float64
	Sum float64
	Avg float64
}

// FeatureVector is the fixed-shape aggregate of a history window.
// Unknown events only contribute a count.
type FeatureVector struct {
	UnknownNum      float64
	Deposit         TypeStats
	LiquidationCall TypeStats
	Repay           TypeStats
	Borrow          TypeStats

	WeightedInterest float64

	NumPools    int
	NumReserves int
	NumSymbols  int
}

// FeatureRecord is one labelled snapshot anchored at a borrow event.
// Corresponds to feature_records table in ClickHouse.
type FeatureRecord struct {
	RecordID        string // deterministic hash of (account, anchor, anchor txn)
	RunID           string // engine run that produced the record
	Account         string
	AnchorTimestamp int64 // borrow event timestamp (seconds)
	AnchorTxID      string
	Label           Label
	Features        FeatureVector
}

// Column is one named value of a flattened feature record.
type Column struct {
	Name  string
	Value float64
}

// Column names of the flattened feature record, in schema order.
const (
	ColLabel              = "label"
	ColUnknownNum         = "unknown_num"
	ColDepositNum         = "deposit_num"
	ColDepositSum         = "deposit_sum"
	ColDepositAvg         = "deposit_avg"
	ColLiquidationCallNum = "liquidation_call_num"
	ColLiquidationCallSum = "liquidation_call_sum"
	ColLiquidationCallAvg = "liquidation_call_avg"
	ColRepayNum           = "repay_num"
	ColRepaySum           = "repay_sum"
	ColRepayAvg           = "repay_avg"
	ColBorrowNum          = "borrow_num"
	ColBorrowSum          = "borrow_sum"
	ColBorrowAvg          = "borrow_avg"
	ColWeightedInterest   = "weighted_interest"
	ColNumPools           = "num_pools"
	ColNumReserves        = "num_reserves"
	ColNumSymbols         = "num_symbols"
)

// ColumnNames returns every column of the flattened record, label first.
func ColumnNames() []string {
	return []string{
		ColLabel,
		ColUnknownNum,
		ColDepositNum, ColDepositSum, ColDepositAvg,
		ColLiquidationCallNum, ColLiquidationCallSum, ColLiquidationCallAvg,
		ColRepayNum, ColRepaySum, ColRepayAvg,
		ColBorrowNum, ColBorrowSum, ColBorrowAvg,
		ColWeightedInterest,
		ColNumPools, ColNumReserves, ColNumSymbols,
	}
}

// FeatureNames returns the model input columns (ColumnNames without label).
func FeatureNames() []string {
	return ColumnNames()[1:]
}

// Columns flattens the record in ColumnNames order.
func (r *FeatureRecord) Columns() []Column {
	f := r.Features
	return []Column{
		{ColLabel, float64(r.Label)},
		{ColUnknownNum, f.UnknownNum},
		{ColDepositNum, f.Deposit.Num},
		{ColDepositSum, f.Deposit.Sum},
		{ColDepositAvg, f.Deposit.Avg},
		{ColLiquidationCallNum, f.LiquidationCall.Num},
		{ColLiquidationCallSum, f.LiquidationCall.Sum},
		{ColLiquidationCallAvg, f.LiquidationCall.Avg},
		{ColRepayNum, f.Repay.Num},
		{ColRepaySum, f.Repay.Sum},
		{ColRepayAvg, f.Repay.Avg},
		{ColBorrowNum, f.Borrow.Num},
		{ColBorrowSum, f.Borrow.Sum},
		{ColBorrowAvg, f.Borrow.Avg},
		{ColWeightedInterest, f.WeightedInterest},
		{ColNumPools, float64(f.NumPools)},
		{ColNumReserves, float64(f.NumReserves)},
		{ColNumSymbols, float64(f.NumSymbols)},
	}
}

// ColumnMap returns the flattened record keyed by column name.
func (r *FeatureRecord) ColumnMap() map[string]float64 {
	cols := r.Columns()
	out := make(map[string]float64, len(cols))
	for _, c := range cols {
		out[c.Name] = c.Value
	}
	return out
}
