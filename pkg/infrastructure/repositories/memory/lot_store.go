package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vsinha/fxalloc/pkg/domain/entities"
	"github.com/vsinha/fxalloc/pkg/domain/repositories"
)

// lotRecord pairs a lot with the mutex that serializes its mutations
type lotRecord struct {
	mu  sync.Mutex
	lot entities.Lot
}

// LotStore provides in-memory batch, lot and allocation storage.
//
// Lock order: lot record mutexes (in batch lot order) -> mu -> allocMu.
// Lot quantities are only read or written while holding the lot's mutex.
type LotStore struct {
	mu      sync.RWMutex
	batches map[string]*entities.Batch // Lots slices are not used; see batchLots
	order   []string
	lots    map[string]*lotRecord
	// batchLots keeps each batch's lot ids in submission order
	batchLots map[string][]string

	allocMu     sync.RWMutex
	allocations map[string]*entities.Allocation
	byDemand    map[string][]string
	byLot       map[string][]string

	clock func() time.Time
}

// NewLotStore creates a new in-memory lot store
func NewLotStore() *LotStore {
	return &LotStore{
		batches:     make(map[string]*entities.Batch),
		lots:        make(map[string]*lotRecord),
		batchLots:   make(map[string][]string),
		allocations: make(map[string]*entities.Allocation),
		byDemand:    make(map[string][]string),
		byLot:       make(map[string][]string),
		clock:       time.Now,
	}
}

// Verify interface compliance
var _ repositories.LotStore = (*LotStore)(nil)

// WithClock overrides the clock used to stamp allocations
func (s *LotStore) WithClock(clock func() time.Time) *LotStore {
	s.clock = clock
	return s
}

// SaveBatch stores a new batch and its lots
func (s *LotStore) SaveBatch(_ context.Context, batch *entities.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.batches[batch.ID]; exists {
		return fmt.Errorf("%w: batch %s already exists", entities.ErrInvalidInput, batch.ID)
	}
	for _, lot := range batch.Lots {
		if _, exists := s.lots[lot.ID]; exists {
			return fmt.Errorf("%w: lot %s already exists", entities.ErrInvalidInput, lot.ID)
		}
	}

	header := *batch
	header.Lots = nil
	s.batches[batch.ID] = &header
	s.order = append(s.order, batch.ID)

	ids := make([]string, 0, len(batch.Lots))
	for _, lot := range batch.Lots {
		s.lots[lot.ID] = &lotRecord{lot: *lot}
		ids = append(ids, lot.ID)
	}
	s.batchLots[batch.ID] = ids
	return nil
}

// GetBatch returns a snapshot of a batch and its lots
func (s *LotStore) GetBatch(_ context.Context, batchID string) (*entities.Batch, error) {
	s.mu.RLock()
	header, ok := s.batches[batchID]
	if !ok {
		s.mu.RUnlock()
		return nil, fmt.Errorf("%w: batch %s", entities.ErrNotFound, batchID)
	}
	snapshot := *header
	records := s.recordsLocked(batchID)
	s.mu.RUnlock()

	snapshot.Lots = make([]*entities.Lot, 0, len(records))
	for _, rec := range records {
		snapshot.Lots = append(snapshot.Lots, rec.snapshot())
	}
	return &snapshot, nil
}

// ListBatches returns snapshots of every batch in submission order
func (s *LotStore) ListBatches(ctx context.Context) ([]*entities.Batch, error) {
	s.mu.RLock()
	ids := append([]string(nil), s.order...)
	s.mu.RUnlock()

	batches := make([]*entities.Batch, 0, len(ids))
	for _, id := range ids {
		batch, err := s.GetBatch(ctx, id)
		if err != nil {
			return nil, err
		}
		batches = append(batches, batch)
	}
	return batches, nil
}

// GetLot returns a snapshot of a lot
func (s *LotStore) GetLot(_ context.Context, lotID string) (*entities.Lot, error) {
	rec, err := s.record(lotID)
	if err != nil {
		return nil, err
	}
	return rec.snapshot(), nil
}

// EligibleLots returns open lots of available, non-terminated batches ordered FIFO
func (s *LotStore) EligibleLots(_ context.Context, query repositories.LotQuery) ([]*entities.Lot, error) {
	var candidates []*lotRecord

	s.mu.RLock()
	for _, batchID := range s.order {
		batch := s.batches[batchID]
		if !batch.Available || !batch.AcceptsAllocation() {
			continue
		}
		if batch.Purpose != query.Purpose || !query.Kind.Matches(batch.Kind) {
			continue
		}
		candidates = append(candidates, s.recordsLocked(batchID)...)
	}
	s.mu.RUnlock()

	var eligible []*entities.Lot
	for _, rec := range candidates {
		lot := rec.snapshot()
		if lot.Currency != query.Currency || lot.Status != entities.LotOpen || !lot.Available().IsPositive() {
			continue
		}
		eligible = append(eligible, lot)
	}

	SortFIFO(eligible)
	return eligible, nil
}

// SortFIFO orders lots oldest first, breaking ties by id
func SortFIFO(lots []*entities.Lot) {
	sort.SliceStable(lots, func(i, j int) bool {
		if !lots[i].CreatedAt.Equal(lots[j].CreatedAt) {
			return lots[i].CreatedAt.Before(lots[j].CreatedAt)
		}
		return lots[i].ID < lots[j].ID
	})
}

// Reserve allocates min(available, want) of a lot as one atomic unit
func (s *LotStore) Reserve(_ context.Context, req repositories.ReserveRequest) (*entities.Allocation, error) {
	if !req.Want.IsPositive() {
		return nil, fmt.Errorf("%w: reserve quantity must be positive, got %s", entities.ErrInvalidInput, req.Want)
	}
	rec, err := s.record(req.LotID)
	if err != nil {
		return nil, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	s.mu.RLock()
	batch, ok := s.batches[rec.lot.BatchID]
	var accepts, available bool
	if ok {
		accepts, available = batch.AcceptsAllocation(), batch.Available
	}
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: batch %s of lot %s", entities.ErrNotFound, rec.lot.BatchID, rec.lot.ID)
	}
	if !accepts {
		return nil, fmt.Errorf("%w: batch %s of lot %s", entities.ErrBatchTerminated, rec.lot.BatchID, rec.lot.ID)
	}
	if req.Source == entities.SourceDirect && !available {
		return nil, fmt.Errorf("%w: batch %s is not yet available", entities.ErrBatchTerminated, rec.lot.BatchID)
	}

	take := rec.lot.Available()
	if req.Want.LessThan(take) {
		take = req.Want
	}
	if !take.IsPositive() {
		return nil, nil
	}

	if err := rec.lot.Apply(take); err != nil {
		return nil, err
	}

	alloc := &entities.Allocation{
		ID:        entities.NewID(),
		DemandID:  req.DemandID,
		LotID:     rec.lot.ID,
		BatchID:   rec.lot.BatchID,
		Currency:  rec.lot.Currency,
		Qty:       take,
		Rate:      rec.lot.Rate,
		Source:    req.Source,
		Status:    entities.AllocationActive,
		CreatedAt: s.clock(),
	}

	s.allocMu.Lock()
	s.allocations[alloc.ID] = alloc
	s.byDemand[alloc.DemandID] = append(s.byDemand[alloc.DemandID], alloc.ID)
	s.byLot[alloc.LotID] = append(s.byLot[alloc.LotID], alloc.ID)
	s.allocMu.Unlock()

	return cloneAllocation(alloc), nil
}

// Release reverses a live allocation, returning its quantity to the lot
func (s *LotStore) Release(_ context.Context, allocationID string) (*entities.Allocation, error) {
	s.allocMu.RLock()
	alloc, ok := s.allocations[allocationID]
	var lotID string
	if ok {
		lotID = alloc.LotID
	}
	s.allocMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: allocation %s", entities.ErrNotFound, allocationID)
	}

	rec, err := s.record(lotID)
	if err != nil {
		return nil, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	s.allocMu.Lock()
	defer s.allocMu.Unlock()

	if !alloc.Live() {
		return nil, fmt.Errorf("%w: allocation %s already reversed", entities.ErrInvariantViolation, allocationID)
	}
	if err := rec.lot.Apply(alloc.Qty.Neg()); err != nil {
		return nil, err
	}
	alloc.Status = entities.AllocationReversed
	alloc.ReversedAt = s.clock()
	return cloneAllocation(alloc), nil
}

// RefreshLot applies fn to a lot under its lock
func (s *LotStore) RefreshLot(_ context.Context, lotID string, fn func(lot *entities.Lot)) (*entities.Lot, *entities.Lot, error) {
	rec, err := s.record(lotID)
	if err != nil {
		return nil, nil, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	before := rec.lot.Clone()
	fn(&rec.lot)
	return before, rec.lot.Clone(), nil
}

// RefreshBatchStatus re-derives a batch status while holding every lot of the batch
func (s *LotStore) RefreshBatchStatus(_ context.Context, batchID string, derive repositories.BatchStatusFunc) (entities.BatchStatus, entities.BatchStatus, error) {
	records, err := s.batchRecords(batchID)
	if err != nil {
		return 0, 0, err
	}
	unlock := lockAll(records)
	defer unlock()

	lots := make([]*entities.Lot, len(records))
	for i, rec := range records {
		lots[i] = rec.lot.Clone()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	batch := s.batches[batchID]
	before := batch.Status
	batch.Status = derive(before, lots)
	return before, batch.Status, nil
}

// MarkBatchAvailable opens a batch for direct allocation
func (s *LotStore) MarkBatchAvailable(_ context.Context, batchID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch, ok := s.batches[batchID]
	if !ok {
		return fmt.Errorf("%w: batch %s", entities.ErrNotFound, batchID)
	}
	batch.Available = true
	return nil
}

// EndBatch forces an Open or Deal batch to Ended and stamps a Closed one
func (s *LotStore) EndBatch(_ context.Context, batchID string, at time.Time) (bool, error) {
	records, err := s.batchRecords(batchID)
	if err != nil {
		return false, err
	}
	unlock := lockAll(records)
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	batch := s.batches[batchID]
	switch batch.Status {
	case entities.BatchOpen, entities.BatchDeal:
	case entities.BatchClosed:
		if batch.EndedAt.IsZero() {
			batch.EndedAt = at
		}
		return false, nil
	default:
		return false, nil
	}
	batch.Status = entities.BatchEnded
	batch.EndedAt = at
	return true, nil
}

// AllocationsForDemand returns every allocation made for a demand, in creation order
func (s *LotStore) AllocationsForDemand(_ context.Context, demandID string) ([]entities.Allocation, error) {
	s.allocMu.RLock()
	defer s.allocMu.RUnlock()
	return s.collectLocked(s.byDemand[demandID]), nil
}

// AllocationsForLot returns every allocation made against a lot, in creation order
func (s *LotStore) AllocationsForLot(_ context.Context, lotID string) ([]entities.Allocation, error) {
	s.allocMu.RLock()
	defer s.allocMu.RUnlock()
	return s.collectLocked(s.byLot[lotID]), nil
}

// AllAllocations returns every allocation record, used by audits
func (s *LotStore) AllAllocations() []entities.Allocation {
	s.allocMu.RLock()
	defer s.allocMu.RUnlock()

	all := make([]entities.Allocation, 0, len(s.allocations))
	for _, alloc := range s.allocations {
		all = append(all, *alloc)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })
	return all
}

func (s *LotStore) collectLocked(ids []string) []entities.Allocation {
	out := make([]entities.Allocation, 0, len(ids))
	for _, id := range ids {
		out = append(out, *s.allocations[id])
	}
	return out
}

func (s *LotStore) record(lotID string) (*lotRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.lots[lotID]
	if !ok {
		return nil, fmt.Errorf("%w: lot %s", entities.ErrNotFound, lotID)
	}
	return rec, nil
}

func (s *LotStore) batchRecords(batchID string) ([]*lotRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.batches[batchID]; !ok {
		return nil, fmt.Errorf("%w: batch %s", entities.ErrNotFound, batchID)
	}
	return s.recordsLocked(batchID), nil
}

func (s *LotStore) recordsLocked(batchID string) []*lotRecord {
	ids := s.batchLots[batchID]
	records := make([]*lotRecord, 0, len(ids))
	for _, id := range ids {
		records = append(records, s.lots[id])
	}
	return records
}

func (r *lotRecord) snapshot() *entities.Lot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lot.Clone()
}

func lockAll(records []*lotRecord) func() {
	for _, rec := range records {
		rec.mu.Lock()
	}
	return func() {
		for i := len(records) - 1; i >= 0; i-- {
			records[i].mu.Unlock()
		}
	}
}

func cloneAllocation(a *entities.Allocation) *entities.Allocation {
	c := *a
	return &c
}
