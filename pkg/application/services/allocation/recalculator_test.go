package allocation

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/vsinha/fxalloc/pkg/domain/entities"
	"github.com/vsinha/fxalloc/pkg/infrastructure/events"
)

func TestRecalculator_ThresholdFiresOnceWhenCrossed(t *testing.T) {
	h := newHarness(t, 80)
	h.supply(t, usdBatch("B1", 0, usdLot("L1", "1000", 1)))

	allocate(t, h, "D1", "750")
	assert.Empty(t, h.sink.received(), "75 percent is below the threshold")

	allocate(t, h, "D2", "100")
	got := h.sink.received()
	require.Len(t, got, 1)
	assert.Equal(t, "L1", got[0].LotID)
	assert.Equal(t, "B1", got[0].BatchID)
	decEqual(t, "85", got[0].FillPercentage)
	decEqual(t, "80", got[0].Threshold)

	allocate(t, h, "D3", "50")
	assert.Len(t, h.sink.received(), 1, "already above the threshold")
}

func TestRecalculator_Idempotent(t *testing.T) {
	h := newHarness(t, 50)
	h.supply(t, usdBatch("B1", 0, usdLot("L1", "1000", 1)))
	allocate(t, h, "D1", "600")
	require.Len(t, h.sink.received(), 1)

	first, err := h.svc.Recalculator().Recalculate(context.Background(), "L1")
	require.NoError(t, err)
	second, err := h.svc.Recalculator().Recalculate(context.Background(), "L1")
	require.NoError(t, err)

	assert.Equal(t, first.Lot.Status, second.Lot.Status)
	assert.True(t, first.Lot.FillPercentage.Equal(second.Lot.FillPercentage))
	assert.Equal(t, first.BatchAfter, second.BatchAfter)
	assert.Equal(t, second.BatchBefore, second.BatchAfter)
	assert.Empty(t, first.Crossed)
	assert.Empty(t, second.Crossed)
	assert.Len(t, h.sink.received(), 1)
}

func TestRecalculator_DuplicateThresholdsFireOnce(t *testing.T) {
	h := newHarness(t, 80, 80)
	h.supply(t, usdBatch("B1", 0, usdLot("L1", "1000", 1)))

	allocate(t, h, "D1", "900")
	got := h.sink.received()
	require.Len(t, got, 1)
	decEqual(t, "80", got[0].Threshold)
}

func TestRecalculator_MultipleThresholdsInOneStep(t *testing.T) {
	h := newHarness(t, 90, 50, 80)
	h.supply(t, usdBatch("B1", 0, usdLot("L1", "200", 1)))

	allocate(t, h, "D1", "190")

	got := h.sink.received()
	require.Len(t, got, 3)
	decEqual(t, "50", got[0].Threshold)
	decEqual(t, "80", got[1].Threshold)
	decEqual(t, "90", got[2].Threshold)
}

func TestRecalculator_SinkFailureIsIsolated(t *testing.T) {
	h := newHarness(t, 80)
	h.sink.fail = errors.New("smtp relay unavailable")
	h.supply(t, usdBatch("B1", 0, usdLot("L1", "1000", 1)))

	result := allocate(t, h, "D1", "900")

	decEqual(t, "900", result.AllocatedQty)
	assert.Len(t, h.sink.received(), 1)
	warnings := h.logs.FilterMessage("threshold notification failed").All()
	require.Len(t, warnings, 1)
	assert.Equal(t, zapcore.WarnLevel, warnings[0].Level)
}

func TestRecalculator_SinkPanicIsIsolated(t *testing.T) {
	h := newHarness(t, 80)
	h.svc.recalc.sink = panickingSink{}
	h.supply(t, usdBatch("B1", 0, usdLot("L1", "1000", 1)))

	result := allocate(t, h, "D1", "1000")

	decEqual(t, "1000", result.AllocatedQty)
	assert.Equal(t, entities.LotClosed, h.lot(t, "L1").Status)
	assert.NotEmpty(t, h.logs.FilterMessage("threshold notification failed").All())
}

func TestRecalculator_BatchStatusEvents(t *testing.T) {
	h := newHarness(t)
	h.supply(t, usdBatch("B1", 0, usdLot("L1", "100", 1), usdLot("L2", "100", 2)))

	allocate(t, h, "D1", "50")
	assert.Equal(t, entities.BatchDeal, h.batch(t, "B1").Status)
	allocate(t, h, "D2", "150")
	assert.Equal(t, entities.BatchClosed, h.batch(t, "B1").Status)

	h.events.Drain()
	changes := h.events.ReadEventsByType(events.BatchStatusChangedEvent)
	require.Len(t, changes, 2)
	first := changes[0].Data().(events.BatchStatusChanged)
	assert.Equal(t, entities.BatchOpen, first.From)
	assert.Equal(t, entities.BatchDeal, first.To)
}

func TestRecalculator_UnknownLot(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Recalculator().Recalculate(context.Background(), "missing")
	require.ErrorIs(t, err, entities.ErrNotFound)
}

type panickingSink struct{}

func (panickingSink) Notify(context.Context, entities.ThresholdCrossed) error {
	panic("sink exploded")
}
