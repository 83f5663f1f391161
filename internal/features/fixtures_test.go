package features

import (
	"fmt"

	"github.com/shopspring/decimal"

	"lending-risk-lab/internal/domain"
)

const (
	day      int64 = 24 * 60 * 60
	t0       int64 = 1_600_000_000
	account        = "0x00000000000000000000000000000000000000a1"
	rate5pct       = "50000000000000000000000000"   // 0.05 in ray
	rate100        = "1000000000000000000000000000" // 1.0 in ray
)

var txCounter int

func nextTx() string {
	txCounter++
	return fmt.Sprintf("tx-%d", txCounter)
}

func dec(v int64) *decimal.Decimal {
	d := decimal.NewFromInt(v)
	return &d
}

func str(s string) *string {
	return &s
}

func deposit(ts, amount int64) *domain.Event {
	return &domain.Event{Account: account, TxID: nextTx(), Timestamp: ts, Type: domain.EventTypeDeposit, Amount: dec(amount)}
}

func borrow(ts, amount int64, rate string) *domain.Event {
	return &domain.Event{Account: account, TxID: nextTx(), Timestamp: ts, Type: domain.EventTypeBorrow, Amount: dec(amount), BorrowRate: str(rate)}
}

func repay(ts, amountAfterFee int64) *domain.Event {
	return &domain.Event{Account: account, TxID: nextTx(), Timestamp: ts, Type: domain.EventTypeRepay, AmountAfterFee: dec(amountAfterFee)}
}

func liquidation(ts, collateral int64) *domain.Event {
	return &domain.Event{
		Account: account, TxID: nextTx(), Timestamp: ts, Type: domain.EventTypeLiquidationCall,
		CollateralAmount: dec(collateral), Liquidator: str("0x00000000000000000000000000000000000000ff"),
	}
}

func unknown(ts int64) *domain.Event {
	return &domain.Event{Account: account, TxID: nextTx(), Timestamp: ts, Type: domain.EventTypeUnknown}
}

func withEntities(e *domain.Event, pool, reserve, symbol string) *domain.Event {
	e.PoolID = str(pool)
	e.ReserveID = str(reserve)
	e.ReserveSymbol = str(symbol)
	return e
}
