package testing

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vsinha/fxalloc/pkg/domain/entities"
	"github.com/vsinha/fxalloc/pkg/infrastructure/repositories/memory"
)

// Day0 is the trading day every fixture is anchored on
var Day0 = time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)

// At returns Day0 shifted by the given number of minutes
func At(minutes int) time.Time {
	return Day0.Add(time.Duration(minutes) * time.Minute)
}

// Qty parses a decimal literal, panicking on malformed fixtures
func Qty(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

// Clock is a deterministic clock advancing by Step on every call
type Clock struct {
	mu   sync.Mutex
	now  time.Time
	Step time.Duration
}

// NewClock creates a clock starting at start
func NewClock(start time.Time, step time.Duration) *Clock {
	return &Clock{now: start, Step: step}
}

// Now returns the current instant and advances the clock
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now
	c.now = c.now.Add(c.Step)
	return now
}

// LotSpec describes a fixture lot
type LotSpec struct {
	ID       string
	Currency entities.CurrencyCode
	Qty      string
	Rate     string
	Minute   int
}

// MustLot builds a lot from a LotSpec
func MustLot(spec LotSpec) *entities.Lot {
	rate := spec.Rate
	if rate == "" {
		rate = "1"
	}
	lot, err := entities.NewLot(spec.ID, spec.Currency, Qty(spec.Qty), Qty(rate), At(spec.Minute))
	if err != nil {
		panic(fmt.Sprintf("fixture lot %s: %v", spec.ID, err))
	}
	return lot
}

// MustBatch builds a batch of the given kind and purpose from lot specs
func MustBatch(id string, kind entities.BatchKind, purpose entities.Purpose, minute int, lots ...LotSpec) *entities.Batch {
	built := make([]*entities.Lot, len(lots))
	for i, spec := range lots {
		built[i] = MustLot(spec)
	}
	batch, err := entities.NewBatch(id, kind, purpose, At(minute), built)
	if err != nil {
		panic(fmt.Sprintf("fixture batch %s: %v", id, err))
	}
	return batch
}

// Stores bundles the in-memory stores used by most tests
type Stores struct {
	Lots    *memory.LotStore
	Demands *memory.DemandRepository
	Queue   *memory.DemandQueue
}

// BuildStores creates empty in-memory stores sharing one deterministic clock
func BuildStores(clock *Clock) *Stores {
	if clock == nil {
		clock = NewClock(Day0, time.Second)
	}
	return &Stores{
		Lots:    memory.NewLotStore().WithClock(clock.Now),
		Demands: memory.NewDemandRepository(),
		Queue:   memory.NewDemandQueue().WithClock(clock.Now),
	}
}

// BuildTradingDayData returns the supply of a small trading day: two USD
// purchase batches of different kinds, a EUR purchase batch and a USD sale
// batch. Lots are listed in submission order.
func BuildTradingDayData() []*entities.Batch {
	return []*entities.Batch{
		MustBatch("B-DAILY-1", entities.Daily, entities.Purchase, 0,
			LotSpec{ID: "L-USD-1", Currency: "USD", Qty: "1000", Rate: "83.10", Minute: 0},
			LotSpec{ID: "L-USD-2", Currency: "USD", Qty: "500", Rate: "83.12", Minute: 5},
			LotSpec{ID: "L-EUR-1", Currency: "EUR", Qty: "800", Rate: "90.45", Minute: 5},
		),
		MustBatch("B-INTERBANK-1", entities.Interbank, entities.Purchase, 30,
			LotSpec{ID: "L-USD-3", Currency: "USD", Qty: "2500", Rate: "83.05", Minute: 30},
		),
		MustBatch("B-SALE-1", entities.BranchDeal, entities.Sale, 45,
			LotSpec{ID: "L-USD-S1", Currency: "USD", Qty: "300", Rate: "83.40", Minute: 45},
		),
	}
}
