package allocation

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/vsinha/fxalloc/pkg/domain/entities"
	"github.com/vsinha/fxalloc/pkg/domain/repositories"
	"github.com/vsinha/fxalloc/pkg/infrastructure/events"
)

// BatchCloser drains queued demand against the lots of a newly submitted batch
type BatchCloser struct {
	mu      sync.Mutex
	store   repositories.LotStore
	queue   repositories.DemandQueue
	demands repositories.DemandRepository
	recalc  *Recalculator
	reporter
}

// NewBatchCloser creates a batch closer
func NewBatchCloser(
	store repositories.LotStore,
	queue repositories.DemandQueue,
	demands repositories.DemandRepository,
	recalc *Recalculator,
	opts Options,
) *BatchCloser {
	opts = opts.withDefaults()
	return &BatchCloser{
		store:    store,
		queue:    queue,
		demands:  demands,
		recalc:   recalc,
		reporter: newReporter(opts),
	}
}

// CloseAgainstQueue walks the batch's lots in their internal order and, for
// each, the eligible queue entries oldest first, taking
// min(lot available, entry outstanding) until one side runs out.
//
// Each step reserves the lot, consumes the entry and credits the demand; a
// step that fails part way is compensated and aborts the drain. Steps
// completed before the failure stay committed and are returned.
func (c *BatchCloser) CloseAgainstQueue(ctx context.Context, batchID string) ([]entities.Allocation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	batch, err := c.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if !batch.AcceptsAllocation() {
		return nil, fmt.Errorf("%w: batch %s is %s", entities.ErrBatchTerminated, batch.ID, batch.Status)
	}

	var made []entities.Allocation
	defer func() { c.refresh(ctx, made) }()

	for _, lot := range batch.Lots {
		entries, err := c.queue.DequeueEligible(ctx, repositories.QueueQuery{
			Currency: lot.Currency,
			Purpose:  batch.Purpose,
			Kind:     batch.Kind,
		})
		if err != nil {
			return made, fmt.Errorf("failed to read queue for lot %s: %w", lot.ID, err)
		}

		for _, entry := range entries {
			alloc, err := c.serve(ctx, lot.ID, entry)
			if err != nil {
				return made, err
			}
			if alloc == nil {
				break
			}
			made = append(made, *alloc)
		}
	}

	if len(made) > 0 {
		c.logger.Info("queue drained against batch",
			zap.String("batch_id", batch.ID),
			zap.Int("allocations", len(made)),
			zap.String("allocated_qty", entities.SumQty(made).String()))
	}
	return made, nil
}

// serve allocates one lot against one queue entry. It returns a nil
// allocation when the lot has nothing left.
func (c *BatchCloser) serve(ctx context.Context, lotID string, entry *entities.QueueEntry) (*entities.Allocation, error) {
	demand, err := c.demands.GetDemand(ctx, entry.DemandID)
	if err != nil {
		return nil, fmt.Errorf("failed to load queued demand %s: %w", entry.DemandID, err)
	}
	if demand.Status == entities.DemandClosed || demand.RemainingQty.LessThan(entry.Qty) {
		return nil, c.check("close_against_queue", entry.ID, fmt.Errorf(
			"%w: queue entry %s outstanding %s does not match demand %s (%s, remaining %s)",
			entities.ErrInvariantViolation, entry.ID, entry.Qty, demand.ID, demand.Status, demand.RemainingQty))
	}

	alloc, err := c.store.Reserve(ctx, repositories.ReserveRequest{
		LotID:    lotID,
		DemandID: entry.DemandID,
		Want:     entry.Qty,
		Source:   entities.SourceQueue,
	})
	if err != nil {
		return nil, c.check("close_against_queue", lotID, fmt.Errorf("failed to reserve lot %s: %w", lotID, err))
	}
	if alloc == nil {
		return nil, nil
	}

	consumed, err := c.queue.MarkConsumed(ctx, entry.ID, alloc.Qty)
	if err != nil {
		c.release(ctx, *alloc)
		return nil, c.check("close_against_queue", entry.ID, fmt.Errorf("failed to consume queue entry %s: %w", entry.ID, err))
	}

	_, err = c.demands.UpdateDemand(ctx, entry.DemandID, func(d *entities.Demand) error {
		if err := d.ApplyAllocated(alloc.Qty); err != nil {
			return err
		}
		d.Settle()
		return nil
	})
	if err != nil {
		// the entry is already reduced; surface it rather than guess a repair
		c.release(ctx, *alloc)
		return nil, c.check("close_against_queue", entry.DemandID, fmt.Errorf(
			"%w: queue entry %s consumed but demand %s not credited: %v",
			entities.ErrInvariantViolation, entry.ID, entry.DemandID, err))
	}

	c.metrics.AddAllocated(alloc.Currency, alloc.Qty)
	c.publish(events.NewAllocationCreatedEvent(*alloc))
	c.publish(events.NewQueueConsumedEvent(*consumed, *alloc))
	return alloc, nil
}

func (c *BatchCloser) release(ctx context.Context, alloc entities.Allocation) {
	if _, err := c.store.Release(ctx, alloc.ID); err != nil {
		_ = c.check("close_against_queue_rollback", alloc.ID, err)
		c.logger.Error("failed to release allocation", zap.String("allocation_id", alloc.ID), zap.Error(err))
	}
}

func (c *BatchCloser) refresh(ctx context.Context, allocations []entities.Allocation) {
	if c.recalc == nil || len(allocations) == 0 {
		return
	}
	if err := c.recalc.RecalculateAll(ctx, lotIDs(allocations)); err != nil {
		c.logger.Error("recalculation failed", zap.Error(err))
	}
}
