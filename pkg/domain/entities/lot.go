package entities

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// LotStatus represents the status of a currency lot
type LotStatus int

const (
	LotOpen LotStatus = iota
	LotClosed
)

// String method for LotStatus enum
func (s LotStatus) String() string {
	switch s {
	case LotOpen:
		return "Open"
	case LotClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Lot is an indivisible supply unit of one currency within a batch
type Lot struct {
	ID             string
	BatchID        string
	Currency       CurrencyCode
	TotalQty       decimal.Decimal
	AllocatedQty   decimal.Decimal
	Rate           decimal.Decimal
	FillPercentage decimal.Decimal
	CreatedAt      time.Time
	Status         LotStatus
}

// NewLot creates a validated, unallocated Lot. An empty id is replaced by a generated one.
func NewLot(id string, currency CurrencyCode, totalQty, rate decimal.Decimal, createdAt time.Time) (*Lot, error) {
	if id == "" {
		id = NewID()
	}
	if !currency.Valid() {
		return nil, fmt.Errorf("%w: invalid currency %q", ErrInvalidInput, currency)
	}
	if !totalQty.IsPositive() {
		return nil, fmt.Errorf("%w: lot quantity must be positive, got %s", ErrInvalidInput, totalQty)
	}
	if rate.IsNegative() {
		return nil, fmt.Errorf("%w: lot rate cannot be negative, got %s", ErrInvalidInput, rate)
	}
	if createdAt.IsZero() {
		return nil, fmt.Errorf("%w: lot creation time is required", ErrInvalidInput)
	}

	return &Lot{
		ID:             id,
		Currency:       currency,
		TotalQty:       totalQty,
		AllocatedQty:   decimal.Zero,
		Rate:           rate,
		FillPercentage: decimal.Zero,
		CreatedAt:      createdAt,
		Status:         LotOpen,
	}, nil
}

// Available returns the unallocated quantity of the lot
func (l *Lot) Available() decimal.Decimal {
	return l.TotalQty.Sub(l.AllocatedQty)
}

// Apply adds delta (negative for reversals) to the allocated quantity and
// re-derives the status. The lot is left untouched when the result would
// leave the [0, TotalQty] range.
func (l *Lot) Apply(delta decimal.Decimal) error {
	next := l.AllocatedQty.Add(delta)
	if next.IsNegative() {
		return fmt.Errorf("%w: lot %s allocated quantity would drop to %s", ErrInvariantViolation, l.ID, next)
	}
	if next.GreaterThan(l.TotalQty) {
		return fmt.Errorf("%w: lot %s allocated quantity %s would exceed total %s", ErrInvariantViolation, l.ID, next, l.TotalQty)
	}
	l.AllocatedQty = next
	if next.Equal(l.TotalQty) {
		l.Status = LotClosed
	} else {
		l.Status = LotOpen
	}
	return nil
}

// ComputeFillPercentage returns allocated/total*100 rounded to 4 places, or 0 for an empty lot
func (l *Lot) ComputeFillPercentage() decimal.Decimal {
	if !l.TotalQty.IsPositive() {
		return decimal.Zero
	}
	return l.AllocatedQty.Div(l.TotalQty).Mul(hundred).Round(4)
}

// PartiallyAllocated reports 0 < allocated < total
func (l *Lot) PartiallyAllocated() bool {
	return l.AllocatedQty.IsPositive() && l.AllocatedQty.LessThan(l.TotalQty)
}

// Clone returns a detached copy of the lot
func (l *Lot) Clone() *Lot {
	c := *l
	return &c
}
