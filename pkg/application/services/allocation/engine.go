package allocation

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vsinha/fxalloc/pkg/domain/entities"
	"github.com/vsinha/fxalloc/pkg/domain/repositories"
	"github.com/vsinha/fxalloc/pkg/infrastructure/events"
)

// AllocateRequest asks for qty of a currency for one demand
type AllocateRequest struct {
	DemandID string
	Currency entities.CurrencyCode
	Purpose  entities.Purpose
	Kind     entities.BatchKind // AnyKind accepts lots of every batch kind
	Qty      decimal.Decimal
}

func (r AllocateRequest) validate() error {
	if r.DemandID == "" {
		return fmt.Errorf("%w: demand id is required", entities.ErrInvalidInput)
	}
	if !r.Currency.Valid() {
		return fmt.Errorf("%w: invalid currency %q", entities.ErrInvalidInput, r.Currency)
	}
	if !r.Purpose.Valid() {
		return fmt.Errorf("%w: invalid purpose %v", entities.ErrInvalidInput, r.Purpose)
	}
	if !r.Qty.IsPositive() {
		return fmt.Errorf("%w: requested quantity must be positive, got %s", entities.ErrInvalidInput, r.Qty)
	}
	return nil
}

// Engine allocates demand against eligible lots, oldest lot first
type Engine struct {
	store  repositories.LotStore
	recalc *Recalculator
	reporter
}

// NewEngine creates an allocation engine
func NewEngine(store repositories.LotStore, recalc *Recalculator, opts Options) *Engine {
	opts = opts.withDefaults()
	return &Engine{store: store, recalc: recalc, reporter: newReporter(opts)}
}

// Allocate takes min(available, remaining) from each eligible lot in FIFO
// order until the request is met or the lots run out.
//
// When no lot is eligible the result carries the full quantity as unmet and
// the returned error wraps ErrNotFound; callers treat that as insufficient
// supply rather than failure. Any other error leaves no allocation behind.
func (e *Engine) Allocate(ctx context.Context, req AllocateRequest) (*entities.AllocationResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	lots, err := e.store.EligibleLots(ctx, repositories.LotQuery{
		Currency: req.Currency,
		Purpose:  req.Purpose,
		Kind:     req.Kind,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load eligible lots: %w", err)
	}

	result := &entities.AllocationResult{
		DemandID:     req.DemandID,
		Currency:     req.Currency,
		Purpose:      req.Purpose,
		RequestedQty: req.Qty,
		AllocatedQty: decimal.Zero,
		UnmetQty:     req.Qty,
	}
	if len(lots) == 0 {
		return result, fmt.Errorf("%w: no eligible %s %s lots", entities.ErrNotFound, req.Currency, req.Purpose)
	}

	remaining := req.Qty
	for _, lot := range lots {
		if !remaining.IsPositive() {
			break
		}
		alloc, err := e.store.Reserve(ctx, repositories.ReserveRequest{
			LotID:    lot.ID,
			DemandID: req.DemandID,
			Want:     remaining,
			Source:   entities.SourceDirect,
		})
		if errors.Is(err, entities.ErrBatchTerminated) {
			// ended between the eligibility scan and the reservation
			e.logger.Debug("skipping lot of terminated batch", zap.String("lot_id", lot.ID))
			continue
		}
		if err != nil {
			e.rollback(ctx, result.Allocations)
			return nil, e.check("allocate", lot.ID, fmt.Errorf("failed to reserve lot %s: %w", lot.ID, err))
		}
		if alloc == nil {
			continue
		}
		result.Allocations = append(result.Allocations, *alloc)
		remaining = remaining.Sub(alloc.Qty)
	}

	result.AllocatedQty = req.Qty.Sub(remaining)
	result.UnmetQty = remaining

	e.refresh(ctx, result.Allocations)
	for _, alloc := range result.Allocations {
		e.metrics.AddAllocated(alloc.Currency, alloc.Qty)
		e.publish(events.NewAllocationCreatedEvent(alloc))
	}
	return result, nil
}

// rollback releases allocations made earlier in a failed call
func (e *Engine) rollback(ctx context.Context, allocations []entities.Allocation) {
	for _, alloc := range allocations {
		if _, err := e.store.Release(ctx, alloc.ID); err != nil {
			_ = e.check("allocate_rollback", alloc.ID, err)
			e.logger.Error("failed to roll back allocation",
				zap.String("allocation_id", alloc.ID),
				zap.Error(err))
		}
	}
	e.refresh(ctx, allocations)
}

func (e *Engine) refresh(ctx context.Context, allocations []entities.Allocation) {
	if e.recalc == nil || len(allocations) == 0 {
		return
	}
	if err := e.recalc.RecalculateAll(ctx, lotIDs(allocations)); err != nil {
		e.logger.Error("recalculation failed", zap.Error(err))
	}
}

func lotIDs(allocations []entities.Allocation) []string {
	ids := make([]string, len(allocations))
	for i, alloc := range allocations {
		ids[i] = alloc.LotID
	}
	return ids
}
