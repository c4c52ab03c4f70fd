package allocation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/vsinha/fxalloc/pkg/domain/entities"
	"github.com/vsinha/fxalloc/pkg/infrastructure/events"
	"github.com/vsinha/fxalloc/pkg/infrastructure/metrics"
	fixtures "github.com/vsinha/fxalloc/pkg/infrastructure/testing"
)

type recordingSink struct {
	mu   sync.Mutex
	got  []entities.ThresholdCrossed
	fail error
}

func (s *recordingSink) Notify(_ context.Context, n entities.ThresholdCrossed) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, n)
	return s.fail
}

func (s *recordingSink) received() []entities.ThresholdCrossed {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]entities.ThresholdCrossed(nil), s.got...)
}

type recordingLedger struct {
	mu     sync.Mutex
	posted []entities.Allocation
	fail   error
}

func (l *recordingLedger) PostAllocations(_ context.Context, allocations []entities.Allocation) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fail != nil {
		return l.fail
	}
	l.posted = append(l.posted, allocations...)
	return nil
}

type harness struct {
	stores  *fixtures.Stores
	svc     *Service
	sink    *recordingSink
	ledger  *recordingLedger
	events  *events.InMemoryEventStore
	metrics *metrics.AllocationMetrics
	logs    *observer.ObservedLogs
}

func newHarness(t *testing.T, thresholds ...int64) *harness {
	t.Helper()

	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)
	clock := fixtures.NewClock(fixtures.At(60), time.Second)

	h := &harness{
		stores:  fixtures.BuildStores(clock),
		sink:    &recordingSink{},
		ledger:  &recordingLedger{},
		events:  events.NewInMemoryEventStore(logger),
		metrics: metrics.NewAllocationMetrics(prometheus.NewRegistry()),
		logs:    logs,
	}

	opts := Options{
		Sink:    h.sink,
		Ledger:  h.ledger,
		Events:  h.events,
		Metrics: h.metrics,
		Logger:  logger,
		Clock:   clock.Now,
	}
	for _, threshold := range thresholds {
		opts.Thresholds = append(opts.Thresholds, decimal.NewFromInt(threshold))
	}
	h.svc = NewService(h.stores.Lots, h.stores.Demands, h.stores.Queue, opts)
	return h
}

func (h *harness) supply(t *testing.T, batch *entities.Batch) {
	t.Helper()
	_, err := h.svc.SubmitSupply(context.Background(), batch)
	require.NoError(t, err)
}

func (h *harness) demand(t *testing.T, id string, currency entities.CurrencyCode, qty string) *entities.Demand {
	t.Helper()
	result, err := h.svc.SubmitDemand(context.Background(), DemandRequest{
		ID:       id,
		Currency: currency,
		Purpose:  entities.Purchase,
		Qty:      fixtures.Qty(qty),
		Source:   "BR-001",
	})
	require.NoError(t, err)
	return result.Demand
}

func (h *harness) lot(t *testing.T, id string) *entities.Lot {
	t.Helper()
	lot, err := h.stores.Lots.GetLot(context.Background(), id)
	require.NoError(t, err)
	return lot
}

func (h *harness) batch(t *testing.T, id string) *entities.Batch {
	t.Helper()
	batch, err := h.stores.Lots.GetBatch(context.Background(), id)
	require.NoError(t, err)
	return batch
}

func (h *harness) audit(t *testing.T) {
	t.Helper()
	result, err := h.svc.Audit(context.Background())
	require.NoError(t, err)
	require.True(t, result.OK(), "audit failed: %v", result.Errors)
}

func usdBatch(id string, minute int, lots ...fixtures.LotSpec) *entities.Batch {
	return fixtures.MustBatch(id, entities.Daily, entities.Purchase, minute, lots...)
}

func usdLot(id, qty string, minute int) fixtures.LotSpec {
	return fixtures.LotSpec{ID: id, Currency: "USD", Qty: qty, Rate: "83.10", Minute: minute}
}

func decEqual(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.True(t, fixtures.Qty(want).Equal(got), "want %s, got %s", want, got)
}
