package allocation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/vsinha/fxalloc/pkg/domain/entities"
	"github.com/vsinha/fxalloc/pkg/infrastructure/events"
	fixtures "github.com/vsinha/fxalloc/pkg/infrastructure/testing"
)

func TestBatchCloser_OverflowThenNewSupply(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.supply(t, usdBatch("B1", 0, usdLot("L1", "1000", 1)))

	result, err := h.svc.SubmitDemand(ctx, DemandRequest{ID: "D1", Currency: "USD", Purpose: entities.Purchase, Qty: fixtures.Qty("1500")})
	require.NoError(t, err)
	require.Len(t, result.Allocations, 1)
	assert.Equal(t, "L1", result.Allocations[0].LotID)
	decEqual(t, "1000", result.Allocations[0].Qty)
	decEqual(t, "500", result.UnmetQty)
	require.NotNil(t, result.QueueEntry)
	decEqual(t, "500", result.QueueEntry.Qty)
	assert.Equal(t, entities.LotClosed, h.lot(t, "L1").Status)
	assert.Equal(t, entities.DemandPartiallyQueued, result.Demand.Status)

	supply, err := h.svc.SubmitSupply(ctx, usdBatch("B2", 120, usdLot("L2", "300", 120)))
	require.NoError(t, err)
	require.Len(t, supply.QueueAllocations, 1)
	alloc := supply.QueueAllocations[0]
	assert.Equal(t, "D1", alloc.DemandID)
	assert.Equal(t, "L2", alloc.LotID)
	assert.Equal(t, entities.SourceQueue, alloc.Source)
	decEqual(t, "300", alloc.Qty)

	entry, err := h.stores.Queue.GetEntry(ctx, result.QueueEntry.ID)
	require.NoError(t, err)
	decEqual(t, "200", entry.Qty)
	assert.Equal(t, entities.QueueQueued, entry.Status)

	assert.Equal(t, entities.LotClosed, h.lot(t, "L2").Status)
	assert.Equal(t, entities.BatchClosed, supply.Batch.Status)
	assert.True(t, supply.Batch.Available)

	demand, err := h.svc.Demand(ctx, "D1")
	require.NoError(t, err)
	decEqual(t, "200", demand.RemainingQty)
	assert.Equal(t, entities.DemandPartiallyQueued, demand.Status)
	h.audit(t)
}

func TestBatchCloser_DrainsEntriesAcrossLots(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	d1 := h.demand(t, "D1", "USD", "300")
	d2 := h.demand(t, "D2", "USD", "500")
	assert.Equal(t, entities.DemandQueued, d1.Status)
	assert.Equal(t, entities.DemandQueued, d2.Status)

	supply, err := h.svc.SubmitSupply(ctx, usdBatch("B1", 120,
		usdLot("L1", "400", 120),
		usdLot("L2", "600", 120),
	))
	require.NoError(t, err)

	require.Len(t, supply.QueueAllocations, 3)
	got := make([][3]string, len(supply.QueueAllocations))
	for i, a := range supply.QueueAllocations {
		got[i] = [3]string{a.DemandID, a.LotID, a.Qty.String()}
	}
	assert.Equal(t, [][3]string{
		{"D1", "L1", "300"},
		{"D2", "L1", "100"},
		{"D2", "L2", "400"},
	}, got)

	depth, outstanding, err := h.stores.Queue.Depth(ctx, entities.QueueKey{Currency: "USD", Purpose: entities.Purchase})
	require.NoError(t, err)
	assert.Zero(t, depth)
	decEqual(t, "0", outstanding)

	for _, id := range []string{"D1", "D2"} {
		d, err := h.svc.Demand(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, entities.DemandFulfilled, d.Status, id)
	}

	direct, err := h.svc.SubmitDemand(ctx, DemandRequest{ID: "D3", Currency: "USD", Purpose: entities.Purchase, Qty: fixtures.Qty("150")})
	require.NoError(t, err)
	require.Len(t, direct.Allocations, 1)
	assert.Equal(t, "L2", direct.Allocations[0].LotID)
	assert.Equal(t, entities.SourceDirect, direct.Allocations[0].Source)
	h.audit(t)

	h.events.Drain()
	assert.Len(t, h.events.ReadEventsByType(events.QueueConsumedEvent), 3)
}

func TestBatchCloser_RespectsKindPin(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	pinned, err := h.svc.SubmitDemand(ctx, DemandRequest{
		ID: "D-IB", Currency: "USD", Purpose: entities.Purchase, Kind: entities.Interbank, Qty: fixtures.Qty("100"),
	})
	require.NoError(t, err)
	assert.True(t, pinned.NoEligibleLots)

	daily, err := h.svc.SubmitSupply(ctx, usdBatch("B-DAILY", 120, usdLot("L1", "1000", 120)))
	require.NoError(t, err)
	assert.Empty(t, daily.QueueAllocations)

	ib, err := h.svc.SubmitSupply(ctx, fixtures.MustBatch("B-IB", entities.Interbank, entities.Purchase, 130, usdLot("L2", "1000", 130)))
	require.NoError(t, err)
	require.Len(t, ib.QueueAllocations, 1)
	assert.Equal(t, "D-IB", ib.QueueAllocations[0].DemandID)
}

func TestBatchCloser_RejectsEndedBatch(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.supply(t, usdBatch("B1", 0, usdLot("L1", "1000", 1)))
	h.demand(t, "D1", "EUR", "10")

	_, err := h.svc.EndOfDay(ctx, fixtures.At(480))
	require.NoError(t, err)

	_, err = h.svc.Closer().CloseAgainstQueue(ctx, "B1")
	require.ErrorIs(t, err, entities.ErrBatchTerminated)
	decEqual(t, "0", h.lot(t, "L1").AllocatedQty)
}

func TestBatchCloser_InvariantViolationAbortsDrain(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	demand, err := entities.NewDemand("D1", "USD", entities.Purchase, entities.AnyKind, fixtures.Qty("100"), "BR-9", fixtures.At(0))
	require.NoError(t, err)
	require.NoError(t, h.stores.Demands.SaveDemand(ctx, demand))
	_, err = h.stores.Queue.Enqueue(ctx, &entities.QueueEntry{
		DemandID: "D1", Currency: "USD", Purpose: entities.Purchase, Qty: fixtures.Qty("500"),
	})
	require.NoError(t, err)

	supply, err := h.svc.SubmitSupply(ctx, usdBatch("B1", 120, usdLot("L1", "1000", 120)))
	require.ErrorIs(t, err, entities.ErrInvariantViolation)
	require.NotNil(t, supply)
	assert.Empty(t, supply.QueueAllocations)

	decEqual(t, "0", h.lot(t, "L1").AllocatedQty)
	assert.True(t, h.batch(t, "B1").Available, "residual capacity is not stranded")

	d2 := h.demand(t, "D2", "USD", "200")
	assert.Equal(t, entities.DemandFulfilled, d2.Status)
	decEqual(t, "200", h.lot(t, "L1").AllocatedQty)

	logged := h.logs.FilterMessage("invariant violation").All()
	require.Len(t, logged, 1)
	assert.Equal(t, zapcore.ErrorLevel, logged[0].Level)

	h.events.Drain()
	assert.Len(t, h.events.ReadEventsByType(events.InvariantViolatedEvent), 1)
}

func TestBatchCloser_ServesOldestEntryFirst(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	for _, id := range []string{"D-A", "D-B", "D-C"} {
		h.demand(t, id, "USD", "100")
	}

	supply, err := h.svc.SubmitSupply(ctx, usdBatch("B1", 120, usdLot("L1", "150", 120)))
	require.NoError(t, err)
	require.Len(t, supply.QueueAllocations, 2)
	assert.Equal(t, "D-A", supply.QueueAllocations[0].DemandID)
	decEqual(t, "100", supply.QueueAllocations[0].Qty)
	assert.Equal(t, "D-B", supply.QueueAllocations[1].DemandID)
	decEqual(t, "50", supply.QueueAllocations[1].Qty)

	snapshot, err := h.svc.QueueSnapshot(ctx, entities.QueueKey{Currency: "USD", Purpose: entities.Purchase})
	require.NoError(t, err)
	assert.Equal(t, 2, snapshot.Depth)
	decEqual(t, "150", snapshot.Outstanding)
	assert.Equal(t, "D-B", snapshot.Entries[0].DemandID)
	assert.Equal(t, "D-C", snapshot.Entries[1].DemandID)
}
