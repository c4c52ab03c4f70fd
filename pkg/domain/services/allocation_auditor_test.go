package services

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vsinha/fxalloc/pkg/domain/entities"
)

func TestAllocationAuditor_Consistent(t *testing.T) {
	lot := lotWith(t, 1000, 1000)
	demand, _ := entities.NewDemand("D1", "USD", entities.Purchase, entities.AnyKind, decimal.NewFromInt(1500), "", time.Now())
	_ = demand.ApplyAllocated(decimal.NewFromInt(1000))

	allocations := []entities.Allocation{
		{ID: "A1", DemandID: "D1", LotID: lot.ID, Qty: decimal.NewFromInt(600)},
		{ID: "A2", DemandID: "D1", LotID: lot.ID, Qty: decimal.NewFromInt(400)},
		{ID: "A3", DemandID: "D1", LotID: lot.ID, Qty: decimal.NewFromInt(50), Status: entities.AllocationReversed},
	}

	result := NewAllocationAuditor().Audit([]*entities.Lot{lot}, []*entities.Demand{demand}, allocations)
	if !result.OK() {
		t.Fatalf("Expected clean audit, got %v", result.Errors)
	}
	if result.LotsChecked != 1 || result.DemandsChecked != 1 {
		t.Errorf("Unexpected counters: %+v", result)
	}
}

func TestAllocationAuditor_DetectsDrift(t *testing.T) {
	lot := lotWith(t, 1000, 500)
	lot.Status = entities.LotClosed
	demand, _ := entities.NewDemand("D1", "USD", entities.Purchase, entities.AnyKind, decimal.NewFromInt(500), "", time.Now())

	allocations := []entities.Allocation{
		{ID: "A1", DemandID: "D1", LotID: lot.ID, Qty: decimal.NewFromInt(400)},
	}

	result := NewAllocationAuditor().Audit([]*entities.Lot{lot}, []*entities.Demand{demand}, allocations)
	if result.OK() {
		t.Fatalf("Expected audit errors")
	}

	joined := strings.Join(result.Errors, "\n")
	for _, fragment := range []string{"status Closed", "live allocations sum to 400", "demand D1 remaining 500, expected 100"} {
		if !strings.Contains(joined, fragment) {
			t.Errorf("Expected audit error containing %q, got:\n%s", fragment, joined)
		}
	}
}

func TestAllocationAuditor_ClosedDemandKeepsUnreversedAllocations(t *testing.T) {
	lot := lotWith(t, 1000, 1000)
	demand, _ := entities.NewDemand("D1", "USD", entities.Purchase, entities.AnyKind, decimal.NewFromInt(1100), "", time.Now())
	_ = demand.ApplyAllocated(decimal.NewFromInt(1000))
	if err := demand.Close(decimal.Zero); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	allocations := []entities.Allocation{{ID: "A1", DemandID: "D1", LotID: lot.ID, Qty: decimal.NewFromInt(1000)}}
	result := NewAllocationAuditor().Audit([]*entities.Lot{lot}, []*entities.Demand{demand}, allocations)
	if !result.OK() {
		t.Fatalf("Expected clean audit, got %v", result.Errors)
	}

	// a closed demand that restored quantity it still holds is drift
	drifted := demand.Clone()
	drifted.RemainingQty = drifted.RequestedQty
	result = NewAllocationAuditor().Audit([]*entities.Lot{lot}, []*entities.Demand{drifted}, allocations)
	if !strings.Contains(strings.Join(result.Errors, "\n"), "demand D1 remaining 1100, expected 100") {
		t.Errorf("Expected remaining drift, got %v", result.Errors)
	}
}
