package entities

import (
	"fmt"
	"time"
)

// BatchStatus represents the aggregate status of a batch
type BatchStatus int

const (
	BatchOpen BatchStatus = iota
	BatchDeal
	BatchClosed
	BatchEnded
)

// String method for BatchStatus enum
func (s BatchStatus) String() string {
	switch s {
	case BatchOpen:
		return "Open"
	case BatchDeal:
		return "Deal"
	case BatchClosed:
		return "Closed"
	case BatchEnded:
		return "Ended"
	default:
		return "Unknown"
	}
}

// Batch is a group of lots submitted together
type Batch struct {
	ID          string
	Kind        BatchKind
	Purpose     Purpose
	Status      BatchStatus
	Available   bool // set once queued demand has been drained against the batch
	SubmittedAt time.Time
	EndedAt     time.Time // set by end of day, also on batches already Closed
	Lots        []*Lot
}

// NewBatch creates a validated Batch and binds every lot to it
func NewBatch(id string, kind BatchKind, purpose Purpose, submittedAt time.Time, lots []*Lot) (*Batch, error) {
	if id == "" {
		id = NewID()
	}
	if kind == AnyKind || kind > Interbank {
		return nil, fmt.Errorf("%w: invalid batch kind %v", ErrInvalidInput, kind)
	}
	if !purpose.Valid() {
		return nil, fmt.Errorf("%w: invalid batch purpose %v", ErrInvalidInput, purpose)
	}
	if len(lots) == 0 {
		return nil, fmt.Errorf("%w: batch %s has no lots", ErrInvalidInput, id)
	}

	seen := make(map[string]bool, len(lots))
	for _, lot := range lots {
		if lot == nil {
			return nil, fmt.Errorf("%w: batch %s contains a nil lot", ErrInvalidInput, id)
		}
		if seen[lot.ID] {
			return nil, fmt.Errorf("%w: duplicate lot %s in batch %s", ErrInvalidInput, lot.ID, id)
		}
		seen[lot.ID] = true
		lot.BatchID = id
	}

	return &Batch{
		ID:          id,
		Kind:        kind,
		Purpose:     purpose,
		Status:      BatchOpen,
		SubmittedAt: submittedAt,
		Lots:        lots,
	}, nil
}

// Terminal reports whether end of day has passed over the batch. A batch
// that was Closed at end of day keeps its status but is terminal all the same,
// so its allocations can no longer be reversed.
func (b *Batch) Terminal() bool {
	return b.Status == BatchEnded || !b.EndedAt.IsZero()
}

// AcceptsAllocation reports whether new allocations may be made against the batch
func (b *Batch) AcceptsAllocation() bool {
	return !b.Terminal() && b.Status != BatchClosed
}

// Clone returns a deep copy of the batch and its lots
func (b *Batch) Clone() *Batch {
	c := *b
	c.Lots = make([]*Lot, len(b.Lots))
	for i, lot := range b.Lots {
		c.Lots[i] = lot.Clone()
	}
	return &c
}
