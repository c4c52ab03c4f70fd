// Package notification delivers lot fill-threshold events to external collaborators.
package notification

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/vsinha/fxalloc/pkg/domain/entities"
	"github.com/vsinha/fxalloc/pkg/infrastructure/events"
)

// Sink receives threshold-crossed notifications
type Sink interface {
	Notify(ctx context.Context, n entities.ThresholdCrossed) error
}

// SinkFunc adapts a function to Sink
type SinkFunc func(ctx context.Context, n entities.ThresholdCrossed) error

func (f SinkFunc) Notify(ctx context.Context, n entities.ThresholdCrossed) error {
	return f(ctx, n)
}

// EventSink publishes notifications to an event store stream keyed by lot
type EventSink struct {
	store events.EventStore
}

func NewEventSink(store events.EventStore) *EventSink {
	return &EventSink{store: store}
}

func (s *EventSink) Notify(_ context.Context, n entities.ThresholdCrossed) error {
	return s.store.AppendEvent(n.LotID, events.NewLotThresholdCrossedEvent(n))
}

// LogSink writes notifications to a structured logger
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Notify(_ context.Context, n entities.ThresholdCrossed) error {
	s.logger.Info("lot fill threshold crossed",
		zap.String("lot_id", n.LotID),
		zap.String("batch_id", n.BatchID),
		zap.String("currency", string(n.Currency)),
		zap.String("fill_percentage", n.FillPercentage.String()),
		zap.String("threshold", n.Threshold.String()))
	return nil
}

// MultiSink fans out to every sink and joins their errors
type MultiSink []Sink

func (m MultiSink) Notify(ctx context.Context, n entities.ThresholdCrossed) error {
	var errs []error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
