package entities

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// DemandStatus represents the fulfilment state of a demand
type DemandStatus int

const (
	DemandPending DemandStatus = iota
	DemandPartiallyQueued
	DemandFulfilled
	DemandQueued
	DemandClosed
)

// String method for DemandStatus enum
func (s DemandStatus) String() string {
	switch s {
	case DemandPending:
		return "Pending"
	case DemandPartiallyQueued:
		return "PartiallyQueued"
	case DemandFulfilled:
		return "Fulfilled"
	case DemandQueued:
		return "Queued"
	case DemandClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Demand is a request to acquire a quantity of currency for a purpose
type Demand struct {
	ID           string
	Currency     CurrencyCode
	Purpose      Purpose
	Kind         BatchKind // AnyKind unless the demand is pinned to one batch kind
	Source       string    // requesting branch or aggregation reference
	RequestedQty decimal.Decimal
	RemainingQty decimal.Decimal
	Status       DemandStatus
	CreatedAt    time.Time
}

// NewDemand creates a validated pending Demand
func NewDemand(id string, currency CurrencyCode, purpose Purpose, kind BatchKind, qty decimal.Decimal, source string, createdAt time.Time) (*Demand, error) {
	if id == "" {
		id = NewID()
	}
	if !currency.Valid() {
		return nil, fmt.Errorf("%w: invalid currency %q", ErrInvalidInput, currency)
	}
	if !purpose.Valid() {
		return nil, fmt.Errorf("%w: invalid purpose %v", ErrInvalidInput, purpose)
	}
	if kind > Interbank || kind < AnyKind {
		return nil, fmt.Errorf("%w: invalid batch kind %v", ErrInvalidInput, kind)
	}
	if !qty.IsPositive() {
		return nil, fmt.Errorf("%w: requested quantity must be positive, got %s", ErrInvalidInput, qty)
	}

	return &Demand{
		ID:           id,
		Currency:     currency,
		Purpose:      purpose,
		Kind:         kind,
		Source:       source,
		RequestedQty: qty,
		RemainingQty: qty,
		Status:       DemandPending,
		CreatedAt:    createdAt,
	}, nil
}

// Key returns the queue key the demand waits on
func (d *Demand) Key() QueueKey {
	return QueueKey{Currency: d.Currency, Purpose: d.Purpose}
}

// AllocatedQty returns requested minus remaining
func (d *Demand) AllocatedQty() decimal.Decimal {
	return d.RequestedQty.Sub(d.RemainingQty)
}

// Finished reports whether the demand can no longer change status
func (d *Demand) Finished() bool {
	return d.Status == DemandFulfilled || d.Status == DemandClosed
}

// ApplyAllocated records qty as allocated against the demand
func (d *Demand) ApplyAllocated(qty decimal.Decimal) error {
	if d.Status == DemandClosed {
		return fmt.Errorf("%w: demand %s", ErrDemandClosed, d.ID)
	}
	if qty.GreaterThan(d.RemainingQty) {
		return fmt.Errorf("%w: demand %s allocation %s exceeds remaining %s", ErrInvariantViolation, d.ID, qty, d.RemainingQty)
	}
	d.RemainingQty = d.RemainingQty.Sub(qty)
	return nil
}

// Settle moves the status forward according to the remaining quantity.
// Fulfilled and Closed demands never move.
func (d *Demand) Settle() {
	if d.Finished() {
		return
	}
	switch {
	case d.RemainingQty.IsZero():
		d.Status = DemandFulfilled
	case d.RemainingQty.Equal(d.RequestedQty):
		if d.Status == DemandPending {
			d.Status = DemandQueued
		}
	default:
		d.Status = DemandPartiallyQueued
	}
}

// Close cancels the demand, restoring the quantity returned by reversed allocations
func (d *Demand) Close(restored decimal.Decimal) error {
	if d.Status == DemandClosed {
		return fmt.Errorf("%w: demand %s already closed", ErrDemandClosed, d.ID)
	}
	next := d.RemainingQty.Add(restored)
	if next.GreaterThan(d.RequestedQty) {
		return fmt.Errorf("%w: demand %s restored quantity %s exceeds requested %s", ErrInvariantViolation, d.ID, next, d.RequestedQty)
	}
	d.RemainingQty = next
	d.Status = DemandClosed
	return nil
}

// Clone returns a detached copy
func (d *Demand) Clone() *Demand {
	c := *d
	return &c
}
