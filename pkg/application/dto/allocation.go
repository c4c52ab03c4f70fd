package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/vsinha/fxalloc/pkg/domain/entities"
)

// SupplyResult is the outcome of submitting a supply batch
type SupplyResult struct {
	Batch            *entities.Batch       `json:"batch"`
	QueueAllocations []entities.Allocation `json:"queue_allocations"`
}

// DemandResult is the outcome of submitting a demand
type DemandResult struct {
	Demand      *entities.Demand      `json:"demand"`
	Allocations []entities.Allocation `json:"allocations"`
	UnmetQty    decimal.Decimal       `json:"unmet_qty"`
	QueueEntry  *entities.QueueEntry  `json:"queue_entry,omitempty"`
	// NoEligibleLots is set when nothing matched the demand at submission time
	NoEligibleLots bool `json:"no_eligible_lots"`
}

// CancelResult is the outcome of cancelling a demand
type CancelResult struct {
	Demand        *entities.Demand       `json:"demand"`
	Reversed      []entities.Allocation  `json:"reversed"`
	ClosedEntries []*entities.QueueEntry `json:"closed_entries"`
	RestoredQty   decimal.Decimal        `json:"restored_qty"`
}

// EndOfDayResult lists the batches forced to Ended
type EndOfDayResult struct {
	At    time.Time `json:"at"`
	Ended []string  `json:"ended"`
}

// LotReport is a point-in-time view of a lot
type LotReport struct {
	ID             string                `json:"id"`
	Currency       entities.CurrencyCode `json:"currency"`
	TotalQty       decimal.Decimal       `json:"total_qty"`
	AllocatedQty   decimal.Decimal       `json:"allocated_qty"`
	AvailableQty   decimal.Decimal       `json:"available_qty"`
	Rate           decimal.Decimal       `json:"rate"`
	FillPercentage decimal.Decimal       `json:"fill_percentage"`
	Status         string                `json:"status"`
}

// BatchReport is a point-in-time view of a batch and its lots
type BatchReport struct {
	ID          string      `json:"id"`
	Kind        string      `json:"kind"`
	Purpose     string      `json:"purpose"`
	Status      string      `json:"status"`
	Available   bool        `json:"available"`
	SubmittedAt time.Time   `json:"submitted_at"`
	EndedAt     *time.Time  `json:"ended_at,omitempty"`
	Lots        []LotReport `json:"lots"`
}

// NewBatchReport builds a report from a batch snapshot
func NewBatchReport(batch *entities.Batch) *BatchReport {
	report := &BatchReport{
		ID:          batch.ID,
		Kind:        batch.Kind.String(),
		Purpose:     batch.Purpose.String(),
		Status:      batch.Status.String(),
		Available:   batch.Available,
		SubmittedAt: batch.SubmittedAt,
		Lots:        make([]LotReport, 0, len(batch.Lots)),
	}
	if !batch.EndedAt.IsZero() {
		ended := batch.EndedAt
		report.EndedAt = &ended
	}
	for _, lot := range batch.Lots {
		report.Lots = append(report.Lots, LotReport{
			ID:             lot.ID,
			Currency:       lot.Currency,
			TotalQty:       lot.TotalQty,
			AllocatedQty:   lot.AllocatedQty,
			AvailableQty:   lot.Available(),
			Rate:           lot.Rate,
			FillPercentage: lot.FillPercentage,
			Status:         lot.Status.String(),
		})
	}
	return report
}

// QueueSnapshot lists the open entries of one FIFO line, oldest first
type QueueSnapshot struct {
	Currency    entities.CurrencyCode  `json:"currency"`
	Purpose     string                 `json:"purpose"`
	Depth       int                    `json:"depth"`
	Outstanding decimal.Decimal        `json:"outstanding"`
	Entries     []*entities.QueueEntry `json:"entries"`
}
