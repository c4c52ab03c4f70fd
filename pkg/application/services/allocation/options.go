// Package allocation implements the lot allocation engine: direct FIFO
// allocation of demands against lots, draining of queued demand when new
// supply arrives, status and fill-percentage recalculation, and the
// boundary flows (supply, demand, cancellation, end of day) built on them.
package allocation

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vsinha/fxalloc/pkg/domain/entities"
	"github.com/vsinha/fxalloc/pkg/infrastructure/events"
	"github.com/vsinha/fxalloc/pkg/infrastructure/metrics"
	"github.com/vsinha/fxalloc/pkg/infrastructure/notification"
)

// LedgerPoster is informed of finalized allocations for accounting
type LedgerPoster interface {
	PostAllocations(ctx context.Context, allocations []entities.Allocation) error
}

// Options holds the collaborators and tuning shared by the allocation services.
// Every field is optional.
type Options struct {
	// Thresholds are fill percentages that trigger a notification when crossed upward
	Thresholds []decimal.Decimal
	// EndOfDayKinds are the batch kinds forced to Ended by EndOfDay
	EndOfDayKinds []entities.BatchKind

	Sink    notification.Sink
	Ledger  LedgerPoster
	Events  events.EventStore
	Metrics *metrics.AllocationMetrics
	Logger  *zap.Logger
	Clock   func() time.Time
}

// DefaultThreshold is used when no thresholds are configured
var DefaultThreshold = decimal.NewFromInt(80)

func (o Options) withDefaults() Options {
	if o.Thresholds == nil {
		o.Thresholds = []decimal.Decimal{DefaultThreshold}
	}
	if o.EndOfDayKinds == nil {
		o.EndOfDayKinds = []entities.BatchKind{entities.Daily}
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	return o
}

// reporter routes side-channel output: events, invariant violations and
// best-effort collaborator failures. None of its methods return errors.
type reporter struct {
	events  events.EventStore
	metrics *metrics.AllocationMetrics
	logger  *zap.Logger
}

func newReporter(opts Options) reporter {
	return reporter{events: opts.Events, metrics: opts.Metrics, logger: opts.Logger}
}

func (r reporter) publish(event events.Event) {
	if r.events == nil {
		return
	}
	if err := r.events.AppendEvent(event.StreamID(), event); err != nil {
		r.logger.Warn("event publish failed",
			zap.String("event_type", event.Type()),
			zap.String("stream_id", event.StreamID()),
			zap.Error(err))
	}
}

// check surfaces err on the operator channel when it is an invariant violation
// and returns it unchanged.
func (r reporter) check(operation, subject string, err error) error {
	if err == nil || !errors.Is(err, entities.ErrInvariantViolation) {
		return err
	}
	r.logger.Error("invariant violation",
		zap.String("operation", operation),
		zap.String("subject", subject),
		zap.Error(err))
	r.metrics.InvariantViolation(operation)
	r.publish(events.NewInvariantViolatedEvent(operation, subject, err))
	return err
}
