package services

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/vsinha/fxalloc/pkg/domain/entities"
)

// AllocationAuditor cross-checks lots, demands and allocation records for consistency
type AllocationAuditor struct{}

// NewAllocationAuditor creates a new allocation auditor
func NewAllocationAuditor() *AllocationAuditor {
	return &AllocationAuditor{}
}

// AuditResult contains the findings of an audit run
type AuditResult struct {
	LotsChecked    int
	DemandsChecked int
	Errors         []string
}

// OK reports whether the audit found no inconsistency
func (r *AuditResult) OK() bool {
	return len(r.Errors) == 0
}

// Audit verifies that
//   - every lot satisfies 0 <= allocated <= total and its status matches its fill
//   - every lot's allocated quantity equals the sum of its live allocations
//   - every demand's remaining quantity equals requested minus its live allocations
//     (a closed demand keeps the allocations it could not reverse)
func (a *AllocationAuditor) Audit(lots []*entities.Lot, demands []*entities.Demand, allocations []entities.Allocation) *AuditResult {
	result := &AuditResult{
		LotsChecked:    len(lots),
		DemandsChecked: len(demands),
		Errors:         make([]string, 0),
	}

	byLot := make(map[string]decimal.Decimal)
	byDemand := make(map[string]decimal.Decimal)
	for _, alloc := range allocations {
		if !alloc.Live() {
			continue
		}
		if !alloc.Qty.IsPositive() {
			result.Errors = append(result.Errors, fmt.Sprintf("allocation %s has non-positive quantity %s", alloc.ID, alloc.Qty))
		}
		byLot[alloc.LotID] = byLot[alloc.LotID].Add(alloc.Qty)
		byDemand[alloc.DemandID] = byDemand[alloc.DemandID].Add(alloc.Qty)
	}

	for _, lot := range lots {
		if lot.AllocatedQty.IsNegative() || lot.AllocatedQty.GreaterThan(lot.TotalQty) {
			result.Errors = append(result.Errors, fmt.Sprintf("lot %s allocated %s outside [0, %s]", lot.ID, lot.AllocatedQty, lot.TotalQty))
		}
		if status, _ := LotState(lot); status != lot.Status {
			result.Errors = append(result.Errors, fmt.Sprintf("lot %s status %v, expected %v", lot.ID, lot.Status, status))
		}
		if sum := byLot[lot.ID]; !sum.Equal(lot.AllocatedQty) {
			result.Errors = append(result.Errors, fmt.Sprintf("lot %s allocated %s but live allocations sum to %s", lot.ID, lot.AllocatedQty, sum))
		}
	}

	for _, demand := range demands {
		sum := byDemand[demand.ID]
		if expected := demand.RequestedQty.Sub(sum); !expected.Equal(demand.RemainingQty) {
			result.Errors = append(result.Errors, fmt.Sprintf("demand %s remaining %s, expected %s", demand.ID, demand.RemainingQty, expected))
		}
	}

	return result
}
