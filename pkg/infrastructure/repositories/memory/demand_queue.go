package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vsinha/fxalloc/pkg/domain/entities"
	"github.com/vsinha/fxalloc/pkg/domain/repositories"
)

// DemandQueue provides an in-memory FIFO wait queue per (currency, purpose)
type DemandQueue struct {
	mu      sync.Mutex
	seq     uint64
	last    time.Time
	entries map[string]*entities.QueueEntry
	lines   map[entities.QueueKey][]*entities.QueueEntry
	clock   func() time.Time
}

// NewDemandQueue creates a new in-memory demand queue
func NewDemandQueue() *DemandQueue {
	return &DemandQueue{
		entries: make(map[string]*entities.QueueEntry),
		lines:   make(map[entities.QueueKey][]*entities.QueueEntry),
		clock:   time.Now,
	}
}

// Verify interface compliance
var _ repositories.DemandQueue = (*DemandQueue)(nil)

// WithClock overrides the clock used to stamp entries
func (q *DemandQueue) WithClock(clock func() time.Time) *DemandQueue {
	q.clock = clock
	return q
}

// Enqueue appends an entry to the tail of its line
func (q *DemandQueue) Enqueue(_ context.Context, entry *entities.QueueEntry) (*entities.QueueEntry, error) {
	if entry == nil || entry.DemandID == "" {
		return nil, fmt.Errorf("%w: queue entry requires a demand", entities.ErrInvalidInput)
	}
	if !entry.Qty.IsPositive() {
		return nil, fmt.Errorf("%w: queue quantity must be positive, got %s", entities.ErrInvalidInput, entry.Qty)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	stored := entry.Clone()
	if stored.ID == "" {
		stored.ID = entities.NewID()
	}
	if _, exists := q.entries[stored.ID]; exists {
		return nil, fmt.Errorf("%w: queue entry %s already exists", entities.ErrInvalidInput, stored.ID)
	}

	// enqueuedAt never goes backwards so insertion order and time order agree
	now := q.clock()
	if now.Before(q.last) {
		now = q.last
	}
	q.last = now
	q.seq++

	stored.Seq = q.seq
	stored.EnqueuedAt = now
	stored.OriginalQty = stored.Qty
	stored.Status = entities.QueueQueued

	q.entries[stored.ID] = stored
	key := stored.Key()
	q.lines[key] = append(q.lines[key], stored)
	return stored.Clone(), nil
}

// DequeueEligible returns open entries of a line, oldest first
func (q *DemandQueue) DequeueEligible(_ context.Context, query repositories.QueueQuery) ([]*entities.QueueEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	line := q.lines[entities.QueueKey{Currency: query.Currency, Purpose: query.Purpose}]
	var eligible []*entities.QueueEntry
	for _, entry := range line {
		if entry.Status != entities.QueueQueued {
			continue
		}
		if !entry.Kind.Matches(query.Kind) {
			continue
		}
		eligible = append(eligible, entry.Clone())
	}
	sort.SliceStable(eligible, func(i, j int) bool { return eligible[i].Before(eligible[j]) })
	return eligible, nil
}

// MarkConsumed reduces an entry's outstanding quantity
func (q *DemandQueue) MarkConsumed(_ context.Context, entryID string, qty decimal.Decimal) (*entities.QueueEntry, error) {
	if !qty.IsPositive() {
		return nil, fmt.Errorf("%w: consumed quantity must be positive, got %s", entities.ErrInvalidInput, qty)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	entry, ok := q.entries[entryID]
	if !ok {
		return nil, fmt.Errorf("%w: queue entry %s", entities.ErrNotFound, entryID)
	}
	if entry.Status != entities.QueueQueued {
		return nil, fmt.Errorf("%w: queue entry %s is closed", entities.ErrInvariantViolation, entryID)
	}
	if qty.GreaterThan(entry.Qty) {
		return nil, fmt.Errorf("%w: consuming %s from queue entry %s with %s outstanding", entities.ErrInvariantViolation, qty, entryID, entry.Qty)
	}

	entry.Qty = entry.Qty.Sub(qty)
	if entry.Qty.IsZero() {
		entry.Status = entities.QueueClosed
		q.compactLocked(entry.Key())
	}
	return entry.Clone(), nil
}

// CloseForDemand zeroes and closes every open entry of a demand
func (q *DemandQueue) CloseForDemand(_ context.Context, demandID string) ([]*entities.QueueEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var closed []*entities.QueueEntry
	keys := make(map[entities.QueueKey]bool)
	for _, entry := range q.entries {
		if entry.DemandID != demandID || entry.Status != entities.QueueQueued {
			continue
		}
		entry.Qty = decimal.Zero
		entry.Status = entities.QueueClosed
		keys[entry.Key()] = true
		closed = append(closed, entry.Clone())
	}
	for key := range keys {
		q.compactLocked(key)
	}
	sort.Slice(closed, func(i, j int) bool { return closed[i].Before(closed[j]) })
	return closed, nil
}

// GetEntry returns a snapshot of an entry, open or closed
func (q *DemandQueue) GetEntry(_ context.Context, entryID string) (*entities.QueueEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	entry, ok := q.entries[entryID]
	if !ok {
		return nil, fmt.Errorf("%w: queue entry %s", entities.ErrNotFound, entryID)
	}
	return entry.Clone(), nil
}

// Entries lists every open entry of a line, oldest first
func (q *DemandQueue) Entries(_ context.Context, key entities.QueueKey) ([]*entities.QueueEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var open []*entities.QueueEntry
	for _, entry := range q.lines[key] {
		if entry.Status == entities.QueueQueued {
			open = append(open, entry.Clone())
		}
	}
	sort.SliceStable(open, func(i, j int) bool { return open[i].Before(open[j]) })
	return open, nil
}

// Depth returns the number of open entries on a line and their outstanding total
func (q *DemandQueue) Depth(_ context.Context, key entities.QueueKey) (int, decimal.Decimal, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	count, total := 0, decimal.Zero
	for _, entry := range q.lines[key] {
		if entry.Status == entities.QueueQueued {
			count++
			total = total.Add(entry.Qty)
		}
	}
	return count, total, nil
}

// compactLocked drops closed entries from a line; they stay reachable by id
func (q *DemandQueue) compactLocked(key entities.QueueKey) {
	line := q.lines[key]
	open := line[:0]
	for _, entry := range line {
		if entry.Status == entities.QueueQueued {
			open = append(open, entry)
		}
	}
	for i := len(open); i < len(line); i++ {
		line[i] = nil
	}
	if len(open) == 0 {
		delete(q.lines, key)
		return
	}
	q.lines[key] = open
}
