package entities

import (
	"time"

	"github.com/shopspring/decimal"
)

// QueueStatus represents the state of a parked demand remainder
type QueueStatus int

const (
	QueueQueued QueueStatus = iota
	QueueClosed
)

// String method for QueueStatus enum
func (s QueueStatus) String() string {
	switch s {
	case QueueQueued:
		return "Queued"
	case QueueClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// QueueEntry is the unmet portion of a demand waiting for new supply
type QueueEntry struct {
	ID          string
	DemandID    string
	Currency    CurrencyCode
	Purpose     Purpose
	Kind        BatchKind
	Qty         decimal.Decimal // outstanding
	OriginalQty decimal.Decimal
	Seq         uint64
	EnqueuedAt  time.Time
	Status      QueueStatus
}

// Key returns the FIFO line of the entry
func (e *QueueEntry) Key() QueueKey {
	return QueueKey{Currency: e.Currency, Purpose: e.Purpose}
}

// Before orders entries by enqueue time, then insertion sequence
func (e *QueueEntry) Before(other *QueueEntry) bool {
	if !e.EnqueuedAt.Equal(other.EnqueuedAt) {
		return e.EnqueuedAt.Before(other.EnqueuedAt)
	}
	return e.Seq < other.Seq
}

// Clone returns a detached copy
func (e *QueueEntry) Clone() *QueueEntry {
	c := *e
	return &c
}

// ThresholdCrossed is emitted when a lot's fill percentage rises past a configured threshold
type ThresholdCrossed struct {
	LotID          string          `json:"lot_id"`
	BatchID        string          `json:"batch_id"`
	Currency       CurrencyCode    `json:"currency"`
	FillPercentage decimal.Decimal `json:"fill_percentage"`
	Threshold      decimal.Decimal `json:"threshold"`
	At             time.Time       `json:"at"`
}
