package events

import (
	"github.com/shopspring/decimal"

	"github.com/vsinha/fxalloc/pkg/domain/entities"
)

const (
	AllocationCreatedEvent  = "allocation.created"
	AllocationReversedEvent = "allocation.reversed"
	AllocationPostedEvent   = "allocation.posted"

	DemandSubmittedEvent = "demand.submitted"
	DemandQueuedEvent    = "demand.queued"
	DemandCancelledEvent = "demand.cancelled"

	QueueConsumedEvent = "queue.consumed"

	SupplySubmittedEvent     = "supply.submitted"
	BatchStatusChangedEvent  = "batch.status_changed"
	BatchEndedEvent          = "batch.ended"
	LotThresholdCrossedEvent = "lot.threshold_crossed"

	InvariantViolatedEvent = "invariant.violated"
)

type AllocationCreated struct {
	Allocation entities.Allocation `json:"allocation"`
}

type AllocationReversed struct {
	Allocation entities.Allocation `json:"allocation"`
	Reason     string              `json:"reason"`
}

type AllocationPosted struct {
	Allocations []entities.Allocation `json:"allocations"`
}

type DemandSubmitted struct {
	Demand entities.Demand `json:"demand"`
}

type DemandQueued struct {
	Entry entities.QueueEntry `json:"entry"`
}

type DemandCancelled struct {
	Demand   entities.Demand `json:"demand"`
	Restored decimal.Decimal `json:"restored"`
}

type QueueConsumed struct {
	EntryID  string          `json:"entry_id"`
	DemandID string          `json:"demand_id"`
	LotID    string          `json:"lot_id"`
	Qty      decimal.Decimal `json:"qty"`
}

type SupplySubmitted struct {
	BatchID string             `json:"batch_id"`
	Kind    entities.BatchKind `json:"kind"`
	Lots    int                `json:"lots"`
}

type BatchStatusChanged struct {
	BatchID string               `json:"batch_id"`
	From    entities.BatchStatus `json:"from"`
	To      entities.BatchStatus `json:"to"`
}

type LotThresholdCrossed struct {
	Notification entities.ThresholdCrossed `json:"notification"`
}

type InvariantViolated struct {
	Operation string `json:"operation"`
	Subject   string `json:"subject"`
	Error     string `json:"error"`
}

func NewAllocationCreatedEvent(allocation entities.Allocation) Event {
	return NewEvent(AllocationCreatedEvent, allocation.DemandID, AllocationCreated{Allocation: allocation})
}

func NewAllocationReversedEvent(allocation entities.Allocation, reason string) Event {
	return NewEvent(AllocationReversedEvent, allocation.DemandID, AllocationReversed{
		Allocation: allocation,
		Reason:     reason,
	})
}

func NewAllocationPostedEvent(streamID string, allocations []entities.Allocation) Event {
	return NewEvent(AllocationPostedEvent, streamID, AllocationPosted{Allocations: allocations})
}

func NewDemandSubmittedEvent(demand entities.Demand) Event {
	return NewEvent(DemandSubmittedEvent, demand.ID, DemandSubmitted{Demand: demand})
}

func NewDemandQueuedEvent(entry entities.QueueEntry) Event {
	return NewEvent(DemandQueuedEvent, entry.DemandID, DemandQueued{Entry: entry})
}

func NewDemandCancelledEvent(demand entities.Demand, restored decimal.Decimal) Event {
	return NewEvent(DemandCancelledEvent, demand.ID, DemandCancelled{Demand: demand, Restored: restored})
}

func NewQueueConsumedEvent(entry entities.QueueEntry, allocation entities.Allocation) Event {
	return NewEvent(QueueConsumedEvent, entry.DemandID, QueueConsumed{
		EntryID:  entry.ID,
		DemandID: entry.DemandID,
		LotID:    allocation.LotID,
		Qty:      allocation.Qty,
	})
}

func NewSupplySubmittedEvent(batch entities.Batch) Event {
	return NewEvent(SupplySubmittedEvent, batch.ID, SupplySubmitted{
		BatchID: batch.ID,
		Kind:    batch.Kind,
		Lots:    len(batch.Lots),
	})
}

func NewBatchStatusChangedEvent(batchID string, from, to entities.BatchStatus) Event {
	eventType := BatchStatusChangedEvent
	if to == entities.BatchEnded {
		eventType = BatchEndedEvent
	}
	return NewEvent(eventType, batchID, BatchStatusChanged{BatchID: batchID, From: from, To: to})
}

func NewLotThresholdCrossedEvent(notification entities.ThresholdCrossed) Event {
	return NewEvent(LotThresholdCrossedEvent, notification.LotID, LotThresholdCrossed{Notification: notification})
}

func NewInvariantViolatedEvent(operation, subject string, err error) Event {
	return NewEvent(InvariantViolatedEvent, subject, InvariantViolated{
		Operation: operation,
		Subject:   subject,
		Error:     err.Error(),
	})
}
