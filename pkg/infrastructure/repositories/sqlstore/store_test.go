package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vsinha/fxalloc/pkg/application/services/allocation"
	"github.com/vsinha/fxalloc/pkg/domain/entities"
	"github.com/vsinha/fxalloc/pkg/domain/repositories"
	"github.com/vsinha/fxalloc/pkg/domain/services"
	fixtures "github.com/vsinha/fxalloc/pkg/infrastructure/testing"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "fx.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	clock := fixtures.NewClock(fixtures.At(60), time.Second)
	return store.WithClock(clock.Now)
}

func saveAvailable(t *testing.T, store *Store, batches ...*entities.Batch) {
	t.Helper()
	ctx := context.Background()
	for _, batch := range batches {
		require.NoError(t, store.SaveBatch(ctx, batch))
		require.NoError(t, store.MarkBatchAvailable(ctx, batch.ID))
	}
}

func usd(id, qty string, minute int) fixtures.LotSpec {
	return fixtures.LotSpec{ID: id, Currency: "USD", Qty: qty, Minute: minute}
}

func TestStore_SaveAndGetBatch(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	batch := fixtures.MustBatch("B1", entities.Daily, entities.Purchase, 0,
		fixtures.LotSpec{ID: "L2", Currency: "USD", Qty: "500", Rate: "83.125", Minute: 1},
		usd("L1", "1000", 0),
	)
	require.NoError(t, store.SaveBatch(ctx, batch))

	got, err := store.GetBatch(ctx, "B1")
	require.NoError(t, err)
	assert.Equal(t, entities.Daily, got.Kind)
	assert.Equal(t, entities.BatchOpen, got.Status)
	assert.False(t, got.Available)
	assert.True(t, got.SubmittedAt.Equal(fixtures.At(0)))
	require.Len(t, got.Lots, 2)
	assert.Equal(t, "L2", got.Lots[0].ID, "lots keep submission order")
	assert.Equal(t, "83.125", got.Lots[0].Rate.String())
	assert.Equal(t, "B1", got.Lots[1].BatchID)

	err = store.SaveBatch(ctx, fixtures.MustBatch("B1", entities.Daily, entities.Purchase, 5, usd("L9", "1", 5)))
	require.ErrorIs(t, err, entities.ErrInvalidInput)
	err = store.SaveBatch(ctx, fixtures.MustBatch("B2", entities.Daily, entities.Purchase, 5, usd("L1", "1", 5)))
	require.ErrorIs(t, err, entities.ErrInvalidInput)

	_, err = store.GetBatch(ctx, "missing")
	require.ErrorIs(t, err, entities.ErrNotFound)
	_, err = store.GetLot(ctx, "missing")
	require.ErrorIs(t, err, entities.ErrNotFound)
	require.ErrorIs(t, store.MarkBatchAvailable(ctx, "missing"), entities.ErrNotFound)

	batches, err := store.ListBatches(ctx)
	require.NoError(t, err)
	require.Len(t, batches, 1)
}

func TestStore_EligibleLotsFIFO(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	require.NoError(t, store.SaveBatch(ctx, fixtures.MustBatch("B1", entities.Daily, entities.Purchase, 0,
		usd("L3", "100", 120),
		usd("L2", "100", 60),
		fixtures.LotSpec{ID: "L9", Currency: "EUR", Qty: "100"},
	)))
	require.NoError(t, store.SaveBatch(ctx, fixtures.MustBatch("B2", entities.Holiday, entities.Purchase, 0,
		usd("L1", "100", 60),
	)))

	query := repositories.LotQuery{Currency: "USD", Purpose: entities.Purchase}
	lots, err := store.EligibleLots(ctx, query)
	require.NoError(t, err)
	assert.Empty(t, lots, "batches are not eligible before they are made available")

	require.NoError(t, store.MarkBatchAvailable(ctx, "B1"))
	require.NoError(t, store.MarkBatchAvailable(ctx, "B2"))

	lots, err = store.EligibleLots(ctx, query)
	require.NoError(t, err)
	require.Len(t, lots, 3)
	assert.Equal(t, []string{"L1", "L2", "L3"}, []string{lots[0].ID, lots[1].ID, lots[2].ID})

	query.Kind = entities.Holiday
	lots, err = store.EligibleLots(ctx, query)
	require.NoError(t, err)
	require.Len(t, lots, 1)
	assert.Equal(t, "L1", lots[0].ID)

	query.Purpose = entities.Sale
	lots, err = store.EligibleLots(ctx, query)
	require.NoError(t, err)
	assert.Empty(t, lots)
}

func TestStore_ReserveAndRelease(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	saveAvailable(t, store, fixtures.MustBatch("B1", entities.Daily, entities.Purchase, 0, usd("L1", "1000", 0)))

	alloc, err := store.Reserve(ctx, repositories.ReserveRequest{LotID: "L1", DemandID: "D1", Want: fixtures.Qty("1500")})
	require.NoError(t, err)
	require.NotNil(t, alloc)
	assert.Equal(t, "1000", alloc.Qty.String())
	assert.Equal(t, "B1", alloc.BatchID)
	assert.Equal(t, entities.AllocationActive, alloc.Status)

	lot, err := store.GetLot(ctx, "L1")
	require.NoError(t, err)
	assert.Equal(t, entities.LotClosed, lot.Status)

	none, err := store.Reserve(ctx, repositories.ReserveRequest{LotID: "L1", DemandID: "D2", Want: fixtures.Qty("1")})
	require.NoError(t, err)
	assert.Nil(t, none, "an exhausted lot yields no allocation")

	_, err = store.Reserve(ctx, repositories.ReserveRequest{LotID: "L1", DemandID: "D2", Want: fixtures.Qty("0")})
	require.ErrorIs(t, err, entities.ErrInvalidInput)

	released, err := store.Release(ctx, alloc.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.AllocationReversed, released.Status)
	assert.False(t, released.ReversedAt.IsZero())

	_, err = store.Release(ctx, alloc.ID)
	require.ErrorIs(t, err, entities.ErrInvariantViolation)
	_, err = store.Release(ctx, "missing")
	require.ErrorIs(t, err, entities.ErrNotFound)

	lot, err = store.GetLot(ctx, "L1")
	require.NoError(t, err)
	assert.True(t, lot.AllocatedQty.IsZero())
	assert.Equal(t, entities.LotOpen, lot.Status)

	history, err := store.AllocationsForLot(ctx, "L1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.False(t, history[0].Live())
}

func TestStore_ReserveRespectsBatchState(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	require.NoError(t, store.SaveBatch(ctx, fixtures.MustBatch("B1", entities.Daily, entities.Purchase, 0, usd("L1", "1000", 0))))

	_, err := store.Reserve(ctx, repositories.ReserveRequest{LotID: "L1", DemandID: "D1", Want: fixtures.Qty("10")})
	require.ErrorIs(t, err, entities.ErrBatchTerminated, "direct allocation waits for availability")

	queued, err := store.Reserve(ctx, repositories.ReserveRequest{LotID: "L1", DemandID: "D1", Want: fixtures.Qty("10"), Source: entities.SourceQueue})
	require.NoError(t, err)
	require.NotNil(t, queued)

	ended, err := store.EndBatch(ctx, "B1", fixtures.At(480))
	require.NoError(t, err)
	assert.True(t, ended)
	again, err := store.EndBatch(ctx, "B1", fixtures.At(481))
	require.NoError(t, err)
	assert.False(t, again)

	batch, err := store.GetBatch(ctx, "B1")
	require.NoError(t, err)
	assert.Equal(t, entities.BatchEnded, batch.Status)
	assert.True(t, batch.EndedAt.Equal(fixtures.At(480)))

	_, err = store.Reserve(ctx, repositories.ReserveRequest{LotID: "L1", DemandID: "D1", Want: fixtures.Qty("10"), Source: entities.SourceQueue})
	require.ErrorIs(t, err, entities.ErrBatchTerminated)
}

func TestStore_EndBatchStampsClosedBatch(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	saveAvailable(t, store, fixtures.MustBatch("B1", entities.Daily, entities.Purchase, 0, usd("L1", "100", 0)))

	alloc, err := store.Reserve(ctx, repositories.ReserveRequest{LotID: "L1", DemandID: "D1", Want: fixtures.Qty("100")})
	require.NoError(t, err)
	_, after, err := store.RefreshBatchStatus(ctx, "B1", services.DeriveBatchStatus)
	require.NoError(t, err)
	require.Equal(t, entities.BatchClosed, after)

	ended, err := store.EndBatch(ctx, "B1", fixtures.At(480))
	require.NoError(t, err)
	assert.False(t, ended)
	_, err = store.EndBatch(ctx, "B1", fixtures.At(900))
	require.NoError(t, err)

	batch, err := store.GetBatch(ctx, "B1")
	require.NoError(t, err)
	assert.Equal(t, entities.BatchClosed, batch.Status)
	assert.True(t, batch.EndedAt.Equal(fixtures.At(480)), "first stamp wins")
	assert.True(t, batch.Terminal())

	_, err = store.Release(ctx, alloc.ID)
	require.NoError(t, err)
	_, _, err = store.RefreshBatchStatus(ctx, "B1", services.DeriveBatchStatus)
	require.NoError(t, err)

	lots, err := store.EligibleLots(ctx, repositories.LotQuery{Currency: "USD", Purpose: entities.Purchase})
	require.NoError(t, err)
	assert.Empty(t, lots)
	_, err = store.Reserve(ctx, repositories.ReserveRequest{LotID: "L1", DemandID: "D2", Want: fixtures.Qty("1")})
	require.ErrorIs(t, err, entities.ErrBatchTerminated)
}

func TestStore_RefreshLotAndBatchStatus(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	saveAvailable(t, store, fixtures.MustBatch("B1", entities.Daily, entities.Purchase, 0,
		usd("L1", "1000", 0),
		usd("L2", "1000", 0),
	))
	_, err := store.Reserve(ctx, repositories.ReserveRequest{LotID: "L1", DemandID: "D1", Want: fixtures.Qty("850")})
	require.NoError(t, err)

	before, after, err := store.RefreshLot(ctx, "L1", func(lot *entities.Lot) {
		lot.Status, lot.FillPercentage = services.LotState(lot)
	})
	require.NoError(t, err)
	assert.True(t, before.FillPercentage.IsZero())
	assert.Equal(t, "85", after.FillPercentage.String())

	lot, err := store.GetLot(ctx, "L1")
	require.NoError(t, err)
	assert.Equal(t, "85", lot.FillPercentage.String())

	from, to, err := store.RefreshBatchStatus(ctx, "B1", services.DeriveBatchStatus)
	require.NoError(t, err)
	assert.Equal(t, entities.BatchOpen, from)
	assert.Equal(t, entities.BatchDeal, to)

	batch, err := store.GetBatch(ctx, "B1")
	require.NoError(t, err)
	assert.Equal(t, entities.BatchDeal, batch.Status)
}

func TestStore_ConcurrentReserveNeverOverAllocates(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	saveAvailable(t, store, fixtures.MustBatch("B1", entities.Daily, entities.Purchase, 0, usd("L1", "1000", 0)))

	var wg sync.WaitGroup
	for i := 0; i < 24; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.Reserve(ctx, repositories.ReserveRequest{LotID: "L1", DemandID: fmt.Sprintf("D%d", i), Want: fixtures.Qty("75")})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	lot, err := store.GetLot(ctx, "L1")
	require.NoError(t, err)
	assert.Equal(t, "1000", lot.AllocatedQty.String())

	allocations, err := store.AllocationsForLot(ctx, "L1")
	require.NoError(t, err)
	assert.Equal(t, "1000", entities.SumQty(allocations).String())
}

func TestStore_Demands(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	demand, err := entities.NewDemand("D1", "USD", entities.Purchase, entities.Interbank, fixtures.Qty("1500"), "BR-1", fixtures.At(0))
	require.NoError(t, err)
	require.NoError(t, store.SaveDemand(ctx, demand))
	require.ErrorIs(t, store.SaveDemand(ctx, demand), entities.ErrInvalidInput)

	got, err := store.GetDemand(ctx, "D1")
	require.NoError(t, err)
	assert.Equal(t, entities.Interbank, got.Kind)
	assert.Equal(t, "BR-1", got.Source)

	updated, err := store.UpdateDemand(ctx, "D1", func(d *entities.Demand) error {
		return d.ApplyAllocated(fixtures.Qty("1000"))
	})
	require.NoError(t, err)
	assert.Equal(t, "500", updated.RemainingQty.String())

	_, err = store.UpdateDemand(ctx, "D1", func(d *entities.Demand) error {
		d.RemainingQty = fixtures.Qty("1")
		return errors.New("refused")
	})
	require.Error(t, err)

	got, err = store.GetDemand(ctx, "D1")
	require.NoError(t, err)
	assert.Equal(t, "500", got.RemainingQty.String(), "a failed update is rolled back")

	_, err = store.UpdateDemand(ctx, "missing", func(*entities.Demand) error { return nil })
	require.ErrorIs(t, err, entities.ErrNotFound)

	demand2, err := entities.NewDemand("D0", "EUR", entities.Sale, entities.AnyKind, fixtures.Qty("5"), "", fixtures.At(1))
	require.NoError(t, err)
	require.NoError(t, store.SaveDemand(ctx, demand2))

	all, err := store.ListDemands(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "D1", all[0].ID, "listing follows submission order")
}

func TestStore_QueueFIFO(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	key := entities.QueueKey{Currency: "USD", Purpose: entities.Purchase}

	enqueue := func(demandID, qty string, kind entities.BatchKind) *entities.QueueEntry {
		entry, err := store.Enqueue(ctx, &entities.QueueEntry{
			DemandID: demandID, Currency: "USD", Purpose: entities.Purchase, Kind: kind, Qty: fixtures.Qty(qty),
		})
		require.NoError(t, err)
		return entry
	}
	first := enqueue("D1", "300", entities.AnyKind)
	pinned := enqueue("D2", "200", entities.Interbank)
	third := enqueue("D3", "100", entities.AnyKind)
	assert.Less(t, first.Seq, pinned.Seq)
	assert.False(t, third.EnqueuedAt.Before(first.EnqueuedAt))
	assert.Equal(t, "300", first.OriginalQty.String())

	_, err := store.Enqueue(ctx, &entities.QueueEntry{DemandID: "D4", Currency: "USD", Purpose: entities.Purchase})
	require.ErrorIs(t, err, entities.ErrInvalidInput)

	daily, err := store.DequeueEligible(ctx, repositories.QueueQuery{Currency: "USD", Purpose: entities.Purchase, Kind: entities.Daily})
	require.NoError(t, err)
	require.Len(t, daily, 2)
	assert.Equal(t, []string{"D1", "D3"}, []string{daily[0].DemandID, daily[1].DemandID})

	interbank, err := store.DequeueEligible(ctx, repositories.QueueQuery{Currency: "USD", Purpose: entities.Purchase, Kind: entities.Interbank})
	require.NoError(t, err)
	assert.Len(t, interbank, 3)

	consumed, err := store.MarkConsumed(ctx, first.ID, fixtures.Qty("100"))
	require.NoError(t, err)
	assert.Equal(t, "200", consumed.Qty.String())
	assert.Equal(t, entities.QueueQueued, consumed.Status)

	_, err = store.MarkConsumed(ctx, first.ID, fixtures.Qty("201"))
	require.ErrorIs(t, err, entities.ErrInvariantViolation)

	consumed, err = store.MarkConsumed(ctx, first.ID, fixtures.Qty("200"))
	require.NoError(t, err)
	assert.Equal(t, entities.QueueClosed, consumed.Status)

	_, err = store.MarkConsumed(ctx, first.ID, fixtures.Qty("1"))
	require.ErrorIs(t, err, entities.ErrInvariantViolation)
	_, err = store.MarkConsumed(ctx, "missing", fixtures.Qty("1"))
	require.ErrorIs(t, err, entities.ErrNotFound)

	depth, outstanding, err := store.Depth(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 2, depth)
	assert.Equal(t, "300", outstanding.String())

	closed, err := store.CloseForDemand(ctx, "D2")
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.True(t, closed[0].Qty.IsZero())

	entries, err := store.Entries(ctx, key)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, third.ID, entries[0].ID)

	entry, err := store.GetEntry(ctx, pinned.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.QueueClosed, entry.Status)
}

func TestStore_ServiceOverflowThenNewSupply(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	svc := allocation.NewService(store, store, store, allocation.Options{})

	_, err := svc.SubmitSupply(ctx, fixtures.MustBatch("B1", entities.Daily, entities.Purchase, 0, usd("L1", "1000", 1)))
	require.NoError(t, err)

	submitted, err := svc.SubmitDemand(ctx, allocation.DemandRequest{ID: "D1", Currency: "USD", Purpose: entities.Purchase, Qty: fixtures.Qty("1500")})
	require.NoError(t, err)
	require.NotNil(t, submitted.QueueEntry)
	assert.Equal(t, "500", submitted.UnmetQty.String())

	supply, err := svc.SubmitSupply(ctx, fixtures.MustBatch("B2", entities.Daily, entities.Purchase, 120, usd("L2", "300", 120)))
	require.NoError(t, err)
	require.Len(t, supply.QueueAllocations, 1)
	assert.Equal(t, "300", supply.QueueAllocations[0].Qty.String())
	assert.Equal(t, entities.BatchClosed, supply.Batch.Status)

	entry, err := store.GetEntry(ctx, submitted.QueueEntry.ID)
	require.NoError(t, err)
	assert.Equal(t, "200", entry.Qty.String())

	cancelled, err := svc.CancelDemand(ctx, "D1")
	require.NoError(t, err)
	assert.Equal(t, "1300", cancelled.RestoredQty.String())

	audit, err := svc.Audit(ctx)
	require.NoError(t, err)
	assert.True(t, audit.OK(), "%v", audit.Errors)
}
