package features

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"lending-risk-lab/internal/domain"
)

// typeAccumulator counts and sums one event type. Sums stay exact until the
// final conversion so the result does not depend on summation order.
type typeAccumulator struct {
	num int
	sum decimal.Decimal
}

func (a *typeAccumulator) add(e *domain.Event) {
	a.num++
	if amount, ok := e.ResolveAmount(); ok {
		a.sum = a.sum.Add(amount)
	}
}

// stats applies the max(1, num) floor: an absent type averages to 0.
func (a *typeAccumulator) stats() domain.TypeStats {
	sum := a.sum.InexactFloat64()
	return domain.TypeStats{
		Num: float64(a.num),
		Sum: sum,
		Avg: sum / math.Max(1, float64(a.num)),
	}
}

// Aggregate reduces a history window into the fixed feature schema.
// All accumulators are local to the call.
func Aggregate(window []*domain.Event) (domain.FeatureVector, error) {
	var (
		unknownNum                          int
		deposit, liquidation, repay, borrow typeAccumulator
		weightedRateSum, weightSum          float64
	)
	pools := make(map[string]struct{})
	reserves := make(map[string]struct{})
	symbols := make(map[string]struct{})

	for _, e := range window {
		if e.PoolID != nil {
			pools[*e.PoolID] = struct{}{}
		}
		if e.ReserveID != nil {
			reserves[*e.ReserveID] = struct{}{}
		}
		if e.ReserveSymbol != nil {
			symbols[*e.ReserveSymbol] = struct{}{}
		}

		switch e.Type {
		case domain.EventTypeUnknown:
			unknownNum++
		case domain.EventTypeDeposit:
			deposit.add(e)
		case domain.EventTypeLiquidationCall:
			liquidation.add(e)
		case domain.EventTypeRepay:
			repay.add(e)
		case domain.EventTypeBorrow:
			borrow.add(e)
			rate, amount, err := borrowTerms(e)
			if err != nil {
				return domain.FeatureVector{}, err
			}
			weightedRateSum += float64(rate) * amount
			weightSum += amount
		default:
			return domain.FeatureVector{}, fmt.Errorf("%w: txn %s: unknown event_type %q",
				domain.ErrMalformedEvent, e.TxID, e.Type)
		}
	}

	return domain.FeatureVector{
		UnknownNum:       float64(unknownNum),
		Deposit:          deposit.stats(),
		LiquidationCall:  liquidation.stats(),
		Repay:            repay.stats(),
		Borrow:           borrow.stats(),
		WeightedInterest: weightedRateSum / math.Max(1, weightSum),
		NumPools:         len(pools),
		NumReserves:      len(reserves),
		NumSymbols:       len(symbols),
	}, nil
}

// borrowTerms returns the normalized rate and the plain amount of a borrow.
func borrowTerms(e *domain.Event) (int64, float64, error) {
	if e.BorrowRate == nil {
		return 0, 0, fmt.Errorf("%w: txn %s: borrow without borrowRate", domain.ErrMalformedEvent, e.TxID)
	}
	if e.Amount == nil {
		return 0, 0, fmt.Errorf("%w: txn %s: borrow without amount", domain.ErrMalformedEvent, e.TxID)
	}
	rate, err := ParseBorrowRate(*e.BorrowRate)
	if err != nil {
		return 0, 0, fmt.Errorf("txn %s: %w", e.TxID, err)
	}
	return rate, e.Amount.InexactFloat64(), nil
}
