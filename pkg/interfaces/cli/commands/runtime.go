package commands

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vsinha/fxalloc/pkg/application/services/allocation"
	"github.com/vsinha/fxalloc/pkg/domain/entities"
	"github.com/vsinha/fxalloc/pkg/domain/repositories"
	"github.com/vsinha/fxalloc/pkg/infrastructure/config"
	"github.com/vsinha/fxalloc/pkg/infrastructure/events"
	"github.com/vsinha/fxalloc/pkg/infrastructure/ledger"
	"github.com/vsinha/fxalloc/pkg/infrastructure/logging"
	"github.com/vsinha/fxalloc/pkg/infrastructure/metrics"
	"github.com/vsinha/fxalloc/pkg/infrastructure/notification"
	"github.com/vsinha/fxalloc/pkg/infrastructure/repositories/memory"
	"github.com/vsinha/fxalloc/pkg/infrastructure/repositories/sqlstore"
)

// Runtime is a fully wired allocation service together with its collaborators
type Runtime struct {
	Config  config.Config
	Logger  *zap.Logger
	Events  *events.InMemoryEventStore
	Service *allocation.Service
	Clock   *ReplayClock
	Store   string

	closers []func() error
}

// ReplayClock is a settable clock; scenario replays move it to each input's timestamp
type ReplayClock struct {
	mu  sync.Mutex
	now time.Time
}

// Set moves the clock; it never moves backwards
func (c *ReplayClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.After(c.now) {
		c.now = t
	}
}

// Now returns the current replay instant, or wall time before the first Set
func (c *ReplayClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.now.IsZero() {
		return time.Now().UTC()
	}
	return c.now
}

// LoadConfig reads path, or returns defaults when path is empty
func LoadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// NewRuntime builds the logger, stores, sinks and allocation service described by cfg.
// A non-nil logger overrides the configured one.
func NewRuntime(cfg config.Config, logger *zap.Logger) (*Runtime, error) {
	if logger == nil {
		built, err := logging.New(logging.Options{
			Service: cfg.Service,
			Env:     cfg.Env,
			Level:   cfg.Log.Level,
			Format:  cfg.Log.Format,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to build logger: %w", err)
		}
		logger = built
	}

	kinds, err := cfg.EndOfDayKinds()
	if err != nil {
		return nil, err
	}

	rt := &Runtime{
		Config: cfg,
		Logger: logger,
		Events: events.NewInMemoryEventStore(logger),
		Clock:  &ReplayClock{},
		Store:  cfg.Store.Driver,
	}

	var (
		lots    repositories.LotStore
		demands repositories.DemandRepository
		queue   repositories.DemandQueue
	)
	switch cfg.Store.Driver {
	case "sqlite":
		store, err := sqlstore.Open(cfg.Store.DSN)
		if err != nil {
			return nil, err
		}
		store.WithClock(rt.Clock.Now)
		lots, demands, queue = store, store, store
		rt.closers = append(rt.closers, store.Close)
	default:
		lots = memory.NewLotStore().WithClock(rt.Clock.Now)
		demands = memory.NewDemandRepository()
		queue = memory.NewDemandQueue().WithClock(rt.Clock.Now)
	}

	rt.Service = allocation.NewService(lots, demands, queue, allocation.Options{
		Thresholds:    cfg.ThresholdDecimals(),
		EndOfDayKinds: kinds,
		Sink: notification.MultiSink{
			notification.NewEventSink(rt.Events),
			notification.NewLogSink(logger),
		},
		Ledger:  ledger.NewEventPoster(rt.Events),
		Events:  rt.Events,
		Metrics: metrics.Allocation(),
		Logger:  logger,
		Clock:   rt.Clock.Now,
	})
	return rt, nil
}

// Notifications returns every threshold notification published so far
func (rt *Runtime) Notifications() []entities.ThresholdCrossed {
	rt.Events.Drain()
	var out []entities.ThresholdCrossed
	for _, ev := range rt.Events.ReadEventsByType(events.LotThresholdCrossedEvent) {
		if data, ok := ev.Data().(events.LotThresholdCrossed); ok {
			out = append(out, data.Notification)
		}
	}
	return out
}

// Close releases the store and flushes the logger
func (rt *Runtime) Close() error {
	var firstErr error
	for _, closeFn := range rt.closers {
		if err := closeFn(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	rt.Events.Drain()
	_ = rt.Logger.Sync()
	return firstErr
}
