package allocation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/vsinha/fxalloc/pkg/application/dto"
	"github.com/vsinha/fxalloc/pkg/domain/entities"
	"github.com/vsinha/fxalloc/pkg/domain/repositories"
	"github.com/vsinha/fxalloc/pkg/domain/services"
	"github.com/vsinha/fxalloc/pkg/infrastructure/events"
)

const tracerName = "github.com/vsinha/fxalloc/allocation"

// DemandRequest is a demand submitted by a branch booking or request flow
type DemandRequest struct {
	ID        string // generated when empty
	Currency  entities.CurrencyCode
	Purpose   entities.Purpose
	Kind      entities.BatchKind
	Qty       decimal.Decimal
	Source    string
	CreatedAt time.Time // defaults to the service clock
}

// Service exposes the boundary flows of the allocation engine.
//
// Demand submissions run concurrently with each other; per-lot atomicity is
// provided by the LotStore. Supply submission, cancellation and end of day
// are exclusive so a queue drain never interleaves with a queue write.
type Service struct {
	mu sync.RWMutex

	store   repositories.LotStore
	demands repositories.DemandRepository
	queue   repositories.DemandQueue

	recalc *Recalculator
	engine *Engine
	closer *BatchCloser

	ledger        LedgerPoster
	endOfDayKinds []entities.BatchKind
	clock         func() time.Time
	tracer        trace.Tracer
	reporter
}

// NewService wires the engine, closer and recalculator over the given stores
func NewService(
	store repositories.LotStore,
	demands repositories.DemandRepository,
	queue repositories.DemandQueue,
	opts Options,
) *Service {
	opts = opts.withDefaults()
	recalc := NewRecalculator(store, opts)
	return &Service{
		store:         store,
		demands:       demands,
		queue:         queue,
		recalc:        recalc,
		engine:        NewEngine(store, recalc, opts),
		closer:        NewBatchCloser(store, queue, demands, recalc, opts),
		ledger:        opts.Ledger,
		endOfDayKinds: opts.EndOfDayKinds,
		clock:         opts.Clock,
		tracer:        otel.Tracer(tracerName),
		reporter:      newReporter(opts),
	}
}

func (s *Service) Recalculator() *Recalculator { return s.recalc }
func (s *Service) Engine() *Engine             { return s.engine }
func (s *Service) Closer() *BatchCloser        { return s.closer }

// SubmitSupply stores a new batch, drains queued demand against it and only
// then opens it for direct allocation. When the drain aborts the batch is
// still opened and the drain error is returned with the partial result.
func (s *Service) SubmitSupply(ctx context.Context, batch *entities.Batch) (result *dto.SupplyResult, err error) {
	if batch == nil {
		return nil, fmt.Errorf("%w: batch is required", entities.ErrInvalidInput)
	}
	ctx, done := s.begin(ctx, "submit_supply",
		attribute.String("batch.id", batch.ID),
		attribute.String("batch.kind", batch.Kind.String()),
		attribute.String("purpose", batch.Purpose.String()))
	defer func() { done(err) }()

	if err := validateSupply(batch); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.SaveBatch(ctx, batch); err != nil {
		return nil, fmt.Errorf("failed to save batch %s: %w", batch.ID, err)
	}
	s.publish(events.NewSupplySubmittedEvent(*batch))

	made, drainErr := s.closer.CloseAgainstQueue(ctx, batch.ID)
	s.post(ctx, made)
	// an aborted drain keeps its completed steps; the residual capacity is
	// opened anyway so it is not stranded behind the failing entry
	if err := s.store.MarkBatchAvailable(ctx, batch.ID); err != nil {
		return nil, err
	}
	if drainErr != nil {
		stored, getErr := s.store.GetBatch(ctx, batch.ID)
		if getErr != nil {
			stored = batch
		}
		s.observeQueues(ctx, supplyKeys(stored)...)
		return &dto.SupplyResult{Batch: stored, QueueAllocations: made}, fmt.Errorf("failed to close batch %s against queue: %w", batch.ID, drainErr)
	}

	stored, err := s.store.GetBatch(ctx, batch.ID)
	if err != nil {
		return nil, err
	}
	s.observeQueues(ctx, supplyKeys(stored)...)

	s.logger.Info("supply submitted",
		zap.String("batch_id", stored.ID),
		zap.Stringer("kind", stored.Kind),
		zap.Int("lots", len(stored.Lots)),
		zap.Int("queue_allocations", len(made)),
		zap.Stringer("status", stored.Status))
	return &dto.SupplyResult{Batch: stored, QueueAllocations: made}, nil
}

// SubmitDemand allocates a demand against eligible lots and queues whatever
// remains unmet. Finding no eligible lot is not an error: the whole quantity
// is queued and NoEligibleLots is set on the result.
func (s *Service) SubmitDemand(ctx context.Context, req DemandRequest) (result *dto.DemandResult, err error) {
	ctx, done := s.begin(ctx, "submit_demand",
		attribute.String("currency", string(req.Currency)),
		attribute.String("purpose", req.Purpose.String()),
		attribute.String("demand.qty", req.Qty.String()))
	defer func() { done(err) }()

	createdAt := req.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.clock()
	}
	demand, err := entities.NewDemand(req.ID, req.Currency, req.Purpose, req.Kind, req.Qty, req.Source, createdAt)
	if err != nil {
		return nil, err
	}
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("demand.id", demand.ID))

	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.demands.SaveDemand(ctx, demand); err != nil {
		return nil, fmt.Errorf("failed to save demand %s: %w", demand.ID, err)
	}
	s.publish(events.NewDemandSubmittedEvent(*demand))

	allocated, err := s.engine.Allocate(ctx, AllocateRequest{
		DemandID: demand.ID,
		Currency: demand.Currency,
		Purpose:  demand.Purpose,
		Kind:     demand.Kind,
		Qty:      demand.RequestedQty,
	})
	noLots := errors.Is(err, entities.ErrNotFound)
	if err != nil && !noLots {
		s.abandon(ctx, demand.ID)
		return nil, err
	}

	var entry *entities.QueueEntry
	if allocated.UnmetQty.IsPositive() {
		entry, err = s.queue.Enqueue(ctx, &entities.QueueEntry{
			DemandID: demand.ID,
			Currency: demand.Currency,
			Purpose:  demand.Purpose,
			Kind:     demand.Kind,
			Qty:      allocated.UnmetQty,
		})
		if err != nil {
			s.engine.rollback(ctx, allocated.Allocations)
			s.abandon(ctx, demand.ID)
			return nil, fmt.Errorf("failed to queue demand %s: %w", demand.ID, err)
		}
	}

	updated, err := s.demands.UpdateDemand(ctx, demand.ID, func(d *entities.Demand) error {
		if err := d.ApplyAllocated(allocated.AllocatedQty); err != nil {
			return err
		}
		d.Settle()
		return nil
	})
	if err != nil {
		return nil, s.check("submit_demand", demand.ID, fmt.Errorf("failed to settle demand %s: %w", demand.ID, err))
	}

	if entry != nil {
		s.publish(events.NewDemandQueuedEvent(*entry))
		s.observeQueues(ctx, entry.Key())
	}
	s.post(ctx, allocated.Allocations)

	s.logger.Info("demand submitted",
		zap.String("demand_id", updated.ID),
		zap.String("currency", string(updated.Currency)),
		zap.String("requested", updated.RequestedQty.String()),
		zap.String("allocated", allocated.AllocatedQty.String()),
		zap.String("unmet", allocated.UnmetQty.String()),
		zap.Stringer("status", updated.Status))

	return &dto.DemandResult{
		Demand:         updated,
		Allocations:    allocated.Allocations,
		UnmetQty:       allocated.UnmetQty,
		QueueEntry:     entry,
		NoEligibleLots: noLots,
	}, nil
}

// CancelDemand reverses every live allocation of a demand, zeroes its queued
// remainder and closes it. Allocations on batches past end of day cannot be
// reversed: no allocation is touched, only the queued remainder is withdrawn.
func (s *Service) CancelDemand(ctx context.Context, demandID string) (result *dto.CancelResult, err error) {
	ctx, done := s.begin(ctx, "cancel_demand", attribute.String("demand.id", demandID))
	defer func() { done(err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	demand, err := s.demands.GetDemand(ctx, demandID)
	if err != nil {
		return nil, err
	}
	if demand.Status == entities.DemandClosed {
		return nil, fmt.Errorf("%w: demand %s", entities.ErrDemandClosed, demandID)
	}

	all, err := s.store.AllocationsForDemand(ctx, demandID)
	if err != nil {
		return nil, err
	}
	var live []entities.Allocation
	for _, alloc := range all {
		if !alloc.Live() {
			continue
		}
		batch, err := s.store.GetBatch(ctx, alloc.BatchID)
		if err != nil {
			return nil, err
		}
		if batch.Terminal() {
			terminated := fmt.Errorf("%w: allocation %s belongs to batch %s past end of day", entities.ErrBatchTerminated, alloc.ID, batch.ID)
			return s.withdraw(ctx, demand, terminated)
		}
		live = append(live, alloc)
	}

	closed, err := s.queue.CloseForDemand(ctx, demandID)
	if err != nil {
		return nil, fmt.Errorf("failed to close queue entries of demand %s: %w", demandID, err)
	}

	reversed := make([]entities.Allocation, 0, len(live))
	for _, alloc := range live {
		rel, err := s.store.Release(ctx, alloc.ID)
		if err != nil {
			_ = s.recalc.RecalculateAll(ctx, lotIDs(reversed))
			return nil, s.check("cancel_demand", alloc.ID, fmt.Errorf("failed to reverse allocation %s: %w", alloc.ID, err))
		}
		reversed = append(reversed, *rel)
	}
	if err := s.recalc.RecalculateAll(ctx, lotIDs(reversed)); err != nil {
		s.logger.Error("recalculation failed", zap.Error(err))
	}

	restored := entities.SumQty(reversed)
	updated, err := s.demands.UpdateDemand(ctx, demandID, func(d *entities.Demand) error {
		return d.Close(restored)
	})
	if err != nil {
		return nil, s.check("cancel_demand", demandID, fmt.Errorf("failed to close demand %s: %w", demandID, err))
	}

	for _, alloc := range reversed {
		s.publish(events.NewAllocationReversedEvent(alloc, "demand cancelled"))
	}
	s.publish(events.NewDemandCancelledEvent(*updated, restored))
	s.post(ctx, reversed)
	s.observeQueues(ctx, updated.Key())

	s.logger.Info("demand cancelled",
		zap.String("demand_id", demandID),
		zap.Int("reversed", len(reversed)),
		zap.String("restored", restored.String()),
		zap.Int("queue_entries_closed", len(closed)))

	return &dto.CancelResult{
		Demand:        updated,
		Reversed:      reversed,
		ClosedEntries: closed,
		RestoredQty:   restored,
	}, nil
}

// withdraw handles a cancellation whose allocations can no longer be
// reversed. The booked allocations stay, but any queued remainder is closed
// and the demand with it, so later supply is not drained into it. The result
// is returned together with the terminated error; with nothing queued the
// cancellation is rejected without effect.
func (s *Service) withdraw(ctx context.Context, demand *entities.Demand, terminated error) (*dto.CancelResult, error) {
	closed, err := s.queue.CloseForDemand(ctx, demand.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to close queue entries of demand %s: %w", demand.ID, err)
	}
	if len(closed) == 0 {
		return nil, terminated
	}

	updated, err := s.demands.UpdateDemand(ctx, demand.ID, func(d *entities.Demand) error {
		return d.Close(decimal.Zero)
	})
	if err != nil {
		return nil, s.check("cancel_demand", demand.ID, fmt.Errorf("failed to close demand %s: %w", demand.ID, err))
	}
	s.publish(events.NewDemandCancelledEvent(*updated, decimal.Zero))
	s.observeQueues(ctx, updated.Key())

	s.logger.Warn("queued remainder withdrawn, allocations stay booked",
		zap.String("demand_id", demand.ID),
		zap.Int("queue_entries_closed", len(closed)),
		zap.Error(terminated))

	return &dto.CancelResult{
		Demand:        updated,
		Reversed:      []entities.Allocation{},
		ClosedEntries: closed,
		RestoredQty:   decimal.Zero,
	}, terminated
}

// EndOfDay forces every Open or Deal batch of an end-of-day kind submitted at
// or before at to Ended. Closed batches of those kinds are stamped so their
// allocations can no longer be reversed.
func (s *Service) EndOfDay(ctx context.Context, at time.Time) (result *dto.EndOfDayResult, err error) {
	ctx, done := s.begin(ctx, "end_of_day", attribute.String("at", at.Format(time.RFC3339)))
	defer func() { done(err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	batches, err := s.store.ListBatches(ctx)
	if err != nil {
		return nil, err
	}

	result = &dto.EndOfDayResult{At: at, Ended: []string{}}
	for _, batch := range batches {
		if !s.endsAtEndOfDay(batch.Kind) || batch.SubmittedAt.After(at) {
			continue
		}
		ended, err := s.store.EndBatch(ctx, batch.ID, at)
		if err != nil {
			return result, fmt.Errorf("failed to end batch %s: %w", batch.ID, err)
		}
		if !ended {
			continue
		}
		result.Ended = append(result.Ended, batch.ID)
		s.publish(events.NewBatchStatusChangedEvent(batch.ID, batch.Status, entities.BatchEnded))
		s.logger.Info("batch ended",
			zap.String("batch_id", batch.ID),
			zap.Stringer("kind", batch.Kind),
			zap.Stringer("previous_status", batch.Status))
	}
	return result, nil
}

// QueueSnapshot lists the open entries of a line, oldest first
func (s *Service) QueueSnapshot(ctx context.Context, key entities.QueueKey) (*dto.QueueSnapshot, error) {
	entries, err := s.queue.Entries(ctx, key)
	if err != nil {
		return nil, err
	}
	outstanding := decimal.Zero
	for _, entry := range entries {
		outstanding = outstanding.Add(entry.Qty)
	}
	return &dto.QueueSnapshot{
		Currency:    key.Currency,
		Purpose:     key.Purpose.String(),
		Depth:       len(entries),
		Outstanding: outstanding,
		Entries:     entries,
	}, nil
}

// BatchReport returns the current state of a batch and its lots
func (s *Service) BatchReport(ctx context.Context, batchID string) (*dto.BatchReport, error) {
	batch, err := s.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	return dto.NewBatchReport(batch), nil
}

// Demand returns the current state of a demand
func (s *Service) Demand(ctx context.Context, demandID string) (*entities.Demand, error) {
	return s.demands.GetDemand(ctx, demandID)
}

// Audit cross-checks lots, demands and allocation records under an
// exclusive lock. Failures are surfaced as invariant violations.
func (s *Service) Audit(ctx context.Context) (*services.AuditResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	batches, err := s.store.ListBatches(ctx)
	if err != nil {
		return nil, err
	}
	var lots []*entities.Lot
	var allocations []entities.Allocation
	for _, batch := range batches {
		for _, lot := range batch.Lots {
			lots = append(lots, lot)
			forLot, err := s.store.AllocationsForLot(ctx, lot.ID)
			if err != nil {
				return nil, err
			}
			allocations = append(allocations, forLot...)
		}
	}
	demands, err := s.demands.ListDemands(ctx)
	if err != nil {
		return nil, err
	}

	result := services.NewAllocationAuditor().Audit(lots, demands, allocations)
	for _, problem := range result.Errors {
		_ = s.check("audit", "", fmt.Errorf("%w: %s", entities.ErrInvariantViolation, problem))
	}
	return result, nil
}

// abandon closes a demand whose submission failed after it was saved
func (s *Service) abandon(ctx context.Context, demandID string) {
	if _, err := s.demands.UpdateDemand(ctx, demandID, func(d *entities.Demand) error {
		return d.Close(decimal.Zero)
	}); err != nil {
		s.logger.Error("failed to close abandoned demand", zap.String("demand_id", demandID), zap.Error(err))
	}
}

// post hands allocations to the ledger collaborator; failures are logged only
func (s *Service) post(ctx context.Context, allocations []entities.Allocation) {
	if s.ledger == nil || len(allocations) == 0 {
		return
	}
	if err := s.ledger.PostAllocations(ctx, allocations); err != nil {
		s.logger.Warn("ledger posting failed",
			zap.Int("allocations", len(allocations)),
			zap.Error(err))
	}
}

func (s *Service) observeQueues(ctx context.Context, keys ...entities.QueueKey) {
	if s.metrics == nil {
		return
	}
	for _, key := range keys {
		depth, _, err := s.queue.Depth(ctx, key)
		if err != nil {
			s.logger.Warn("queue depth unavailable", zap.Stringer("queue", key), zap.Error(err))
			continue
		}
		s.metrics.SetQueueDepth(key, depth)
	}
}

func (s *Service) endsAtEndOfDay(kind entities.BatchKind) bool {
	for _, k := range s.endOfDayKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// begin starts a span and returns the function that ends it and records metrics
func (s *Service) begin(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "allocation."+operation, trace.WithAttributes(attrs...))
	return ctx, func(err error) {
		if err != nil {
			span.SetStatus(codes.Error, operation+": "+err.Error())
			span.RecordError(err)
		}
		span.End()
		s.metrics.Observe(operation, time.Since(start), err)
	}
}

func validateSupply(batch *entities.Batch) error {
	for _, lot := range batch.Lots {
		if lot.BatchID != batch.ID {
			return fmt.Errorf("%w: lot %s is bound to batch %q", entities.ErrInvalidInput, lot.ID, lot.BatchID)
		}
		if !lot.AllocatedQty.IsZero() {
			return fmt.Errorf("%w: lot %s arrives with allocated quantity %s", entities.ErrInvalidInput, lot.ID, lot.AllocatedQty)
		}
	}
	return nil
}

func supplyKeys(batch *entities.Batch) []entities.QueueKey {
	seen := make(map[entities.QueueKey]bool)
	var keys []entities.QueueKey
	for _, lot := range batch.Lots {
		key := entities.QueueKey{Currency: lot.Currency, Purpose: batch.Purpose}
		if !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
	}
	return keys
}
