package entities

import (
	"time"

	"github.com/shopspring/decimal"
)

// AllocationStatus marks whether an allocation still counts against its lot
type AllocationStatus int

const (
	AllocationActive AllocationStatus = iota
	AllocationReversed
)

// String method for AllocationStatus enum
func (s AllocationStatus) String() string {
	switch s {
	case AllocationActive:
		return "Active"
	case AllocationReversed:
		return "Reversed"
	default:
		return "Unknown"
	}
}

// AllocationSource records which flow produced an allocation
type AllocationSource int

const (
	SourceDirect AllocationSource = iota // Allocate against available lots
	SourceQueue                          // CloseAgainstQueue draining queued demand
)

// String method for AllocationSource enum
func (s AllocationSource) String() string {
	switch s {
	case SourceDirect:
		return "Direct"
	case SourceQueue:
		return "Queue"
	default:
		return "Unknown"
	}
}

// Allocation links one demand to one lot for a positive quantity
type Allocation struct {
	ID         string
	DemandID   string
	LotID      string
	BatchID    string
	Currency   CurrencyCode
	Qty        decimal.Decimal
	Rate       decimal.Decimal
	Source     AllocationSource
	Status     AllocationStatus
	CreatedAt  time.Time
	ReversedAt time.Time
}

// Live reports whether the allocation still counts against its lot
func (a Allocation) Live() bool {
	return a.Status == AllocationActive
}

// AllocationResult is the outcome of allocating one demand against eligible lots
type AllocationResult struct {
	DemandID     string
	Currency     CurrencyCode
	Purpose      Purpose
	RequestedQty decimal.Decimal
	AllocatedQty decimal.Decimal
	UnmetQty     decimal.Decimal
	Allocations  []Allocation
}

// SumQty totals the quantity of the given allocations
func SumQty(allocations []Allocation) decimal.Decimal {
	total := decimal.Zero
	for _, a := range allocations {
		total = total.Add(a.Qty)
	}
	return total
}
