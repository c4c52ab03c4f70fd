package services

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/vsinha/fxalloc/pkg/domain/entities"
)

// LotState derives the status and fill percentage of a lot from its quantities.
// It is a pure function: the same lot always yields the same result.
func LotState(lot *entities.Lot) (entities.LotStatus, decimal.Decimal) {
	status := entities.LotOpen
	if lot.TotalQty.IsPositive() && lot.AllocatedQty.Equal(lot.TotalQty) {
		status = entities.LotClosed
	}
	return status, lot.ComputeFillPercentage()
}

// DeriveBatchStatus computes the aggregate status of a batch from its lots.
// Ended is terminal and always preserved.
//
//	Closed: every lot is closed
//	Open:   no lot carries any allocation
//	Deal:   anything in between
func DeriveBatchStatus(current entities.BatchStatus, lots []*entities.Lot) entities.BatchStatus {
	if current == entities.BatchEnded {
		return entities.BatchEnded
	}
	if len(lots) == 0 {
		return entities.BatchOpen
	}

	closed, touched := 0, 0
	for _, lot := range lots {
		status, _ := LotState(lot)
		if status == entities.LotClosed {
			closed++
		}
		if lot.AllocatedQty.IsPositive() {
			touched++
		}
	}

	switch {
	case closed == len(lots):
		return entities.BatchClosed
	case touched == 0:
		return entities.BatchOpen
	default:
		return entities.BatchDeal
	}
}

// CrossedThresholds returns, in ascending order, every threshold t with prev < t <= next.
// Downward moves never cross anything.
func CrossedThresholds(prev, next decimal.Decimal, thresholds []decimal.Decimal) []decimal.Decimal {
	if !next.GreaterThan(prev) {
		return nil
	}
	var crossed []decimal.Decimal
	for _, t := range thresholds {
		if prev.LessThan(t) && next.GreaterThanOrEqual(t) {
			crossed = append(crossed, t)
		}
	}
	sort.Slice(crossed, func(i, j int) bool { return crossed[i].LessThan(crossed[j]) })
	return crossed
}
