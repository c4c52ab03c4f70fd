package allocation

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vsinha/fxalloc/pkg/domain/entities"
	fixtures "github.com/vsinha/fxalloc/pkg/infrastructure/testing"
)

func allocate(t *testing.T, h *harness, demandID, qty string) *entities.AllocationResult {
	t.Helper()
	result, err := h.svc.Engine().Allocate(context.Background(), AllocateRequest{
		DemandID: demandID,
		Currency: "USD",
		Purpose:  entities.Purchase,
		Qty:      fixtures.Qty(qty),
	})
	require.NoError(t, err)
	return result
}

func TestEngine_FIFOSingleLot(t *testing.T) {
	h := newHarness(t)
	h.supply(t, usdBatch("B1", 0, usdLot("L1", "1000", 1), usdLot("L2", "1000", 2)))

	result := allocate(t, h, "D1", "600")

	require.Len(t, result.Allocations, 1)
	assert.Equal(t, "L1", result.Allocations[0].LotID)
	decEqual(t, "600", result.Allocations[0].Qty)
	decEqual(t, "0", result.UnmetQty)
	decEqual(t, "0", h.lot(t, "L2").AllocatedQty)
}

func TestEngine_PartialFillAcrossLots(t *testing.T) {
	h := newHarness(t)
	h.supply(t, usdBatch("B1", 0, usdLot("L1", "1000", 1), usdLot("L2", "1000", 2)))

	result := allocate(t, h, "D1", "1300")

	require.Len(t, result.Allocations, 2)
	assert.Equal(t, "L1", result.Allocations[0].LotID)
	decEqual(t, "1000", result.Allocations[0].Qty)
	assert.Equal(t, "L2", result.Allocations[1].LotID)
	decEqual(t, "300", result.Allocations[1].Qty)
	decEqual(t, "1300", result.AllocatedQty)

	l1, l2 := h.lot(t, "L1"), h.lot(t, "L2")
	assert.Equal(t, entities.LotClosed, l1.Status)
	decEqual(t, "100", l1.FillPercentage)
	assert.Equal(t, entities.LotOpen, l2.Status)
	decEqual(t, "30", l2.FillPercentage)
	assert.Equal(t, entities.BatchDeal, h.batch(t, "B1").Status)
}

func TestEngine_TieBreakByLotID(t *testing.T) {
	h := newHarness(t)
	h.supply(t, usdBatch("B1", 0, usdLot("L-B", "100", 1), usdLot("L-A", "100", 1)))

	result := allocate(t, h, "D1", "150")

	require.Len(t, result.Allocations, 2)
	assert.Equal(t, "L-A", result.Allocations[0].LotID)
	assert.Equal(t, "L-B", result.Allocations[1].LotID)
}

func TestEngine_NoEligibleLots(t *testing.T) {
	h := newHarness(t)
	h.supply(t, fixtures.MustBatch("S1", entities.Daily, entities.Sale, 0, usdLot("L-SALE", "1000", 1)))

	result, err := h.svc.Engine().Allocate(context.Background(), AllocateRequest{
		DemandID: "D1",
		Currency: "USD",
		Purpose:  entities.Purchase,
		Qty:      fixtures.Qty("250"),
	})

	require.ErrorIs(t, err, entities.ErrNotFound)
	require.NotNil(t, result)
	assert.Empty(t, result.Allocations)
	decEqual(t, "250", result.UnmetQty)
	decEqual(t, "0", h.lot(t, "L-SALE").AllocatedQty)
}

func TestEngine_InvalidInput(t *testing.T) {
	h := newHarness(t)
	h.supply(t, usdBatch("B1", 0, usdLot("L1", "1000", 1)))

	tests := []struct {
		name string
		req  AllocateRequest
	}{
		{"zero quantity", AllocateRequest{DemandID: "D1", Currency: "USD", Purpose: entities.Purchase, Qty: decimal.Zero}},
		{"negative quantity", AllocateRequest{DemandID: "D1", Currency: "USD", Purpose: entities.Purchase, Qty: fixtures.Qty("-5")}},
		{"bad currency", AllocateRequest{DemandID: "D1", Currency: "usd", Purpose: entities.Purchase, Qty: fixtures.Qty("5")}},
		{"bad purpose", AllocateRequest{DemandID: "D1", Currency: "USD", Purpose: 0, Qty: fixtures.Qty("5")}},
		{"missing demand", AllocateRequest{Currency: "USD", Purpose: entities.Purchase, Qty: fixtures.Qty("5")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.svc.Engine().Allocate(context.Background(), tt.req)
			require.ErrorIs(t, err, entities.ErrInvalidInput)
		})
	}
	decEqual(t, "0", h.lot(t, "L1").AllocatedQty)
}

func TestEngine_KindPinnedDemand(t *testing.T) {
	h := newHarness(t)
	h.supply(t, usdBatch("B-DAILY", 0, usdLot("L1", "1000", 1)))
	h.supply(t, fixtures.MustBatch("B-IB", entities.Interbank, entities.Purchase, 10, usdLot("L2", "1000", 10)))

	result, err := h.svc.Engine().Allocate(context.Background(), AllocateRequest{
		DemandID: "D1",
		Currency: "USD",
		Purpose:  entities.Purchase,
		Kind:     entities.Interbank,
		Qty:      fixtures.Qty("400"),
	})
	require.NoError(t, err)
	require.Len(t, result.Allocations, 1)
	assert.Equal(t, "L2", result.Allocations[0].LotID)
}

func TestEngine_EndedBatchIsNotEligible(t *testing.T) {
	h := newHarness(t)
	h.supply(t, usdBatch("B1", 0, usdLot("L1", "1000", 1)))

	_, err := h.svc.EndOfDay(context.Background(), fixtures.At(600))
	require.NoError(t, err)

	result, err := h.svc.Engine().Allocate(context.Background(), AllocateRequest{
		DemandID: "D1",
		Currency: "USD",
		Purpose:  entities.Purchase,
		Qty:      fixtures.Qty("10"),
	})
	require.ErrorIs(t, err, entities.ErrNotFound)
	decEqual(t, "10", result.UnmetQty)
	decEqual(t, "0", h.lot(t, "L1").AllocatedQty)
}

func TestEngine_ConcurrentAllocationsNeverOverAllocate(t *testing.T) {
	h := newHarness(t)
	h.supply(t, usdBatch("B1", 0, usdLot("L1", "1000", 1), usdLot("L2", "250", 2)))

	const workers = 64
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total = decimal.Zero
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := h.svc.Engine().Allocate(context.Background(), AllocateRequest{
				DemandID: fmt.Sprintf("D%02d", i),
				Currency: "USD",
				Purpose:  entities.Purchase,
				Qty:      fixtures.Qty("37"),
			})
			if err != nil {
				assert.ErrorIs(t, err, entities.ErrNotFound)
				return
			}
			mu.Lock()
			total = total.Add(result.AllocatedQty)
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	decEqual(t, "1250", total)
	for _, id := range []string{"L1", "L2"} {
		lot := h.lot(t, id)
		assert.True(t, lot.AllocatedQty.Equal(lot.TotalQty), "lot %s allocated %s", id, lot.AllocatedQty)
		assert.Equal(t, entities.LotClosed, lot.Status)

		allocs, err := h.stores.Lots.AllocationsForLot(context.Background(), id)
		require.NoError(t, err)
		decEqual(t, lot.TotalQty.String(), entities.SumQty(allocs))
	}
	assert.Equal(t, entities.BatchClosed, h.batch(t, "B1").Status)
}
