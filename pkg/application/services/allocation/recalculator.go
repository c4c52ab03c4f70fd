package allocation

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vsinha/fxalloc/pkg/domain/entities"
	"github.com/vsinha/fxalloc/pkg/domain/repositories"
	"github.com/vsinha/fxalloc/pkg/domain/services"
	"github.com/vsinha/fxalloc/pkg/infrastructure/events"
	"github.com/vsinha/fxalloc/pkg/infrastructure/notification"
)

// RecalcResult describes the effect of one recalculation
type RecalcResult struct {
	Lot         *entities.Lot
	BatchBefore entities.BatchStatus
	BatchAfter  entities.BatchStatus
	Crossed     []entities.ThresholdCrossed
}

// Recalculator is the single entry point that refreshes a lot's status and
// fill percentage, re-derives its batch status and emits threshold events.
// Recalculating an unchanged lot is a no-op.
type Recalculator struct {
	store      repositories.LotStore
	sink       notification.Sink
	thresholds []decimal.Decimal
	clock      func() time.Time
	reporter
}

// NewRecalculator creates a recalculator over store
func NewRecalculator(store repositories.LotStore, opts Options) *Recalculator {
	opts = opts.withDefaults()
	sorted := append([]decimal.Decimal(nil), opts.Thresholds...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LessThan(sorted[j]) })
	// a threshold listed twice still fires once
	thresholds := make([]decimal.Decimal, 0, len(sorted))
	for _, t := range sorted {
		if n := len(thresholds); n > 0 && thresholds[n-1].Equal(t) {
			continue
		}
		thresholds = append(thresholds, t)
	}
	return &Recalculator{
		store:      store,
		sink:       opts.Sink,
		thresholds: thresholds,
		clock:      opts.Clock,
		reporter:   newReporter(opts),
	}
}

// Recalculate refreshes lot lotID and its batch.
//
// The previous fill percentage is the one stored by the last recalculation,
// so a threshold fires exactly once no matter how many allocations landed
// in between or how often Recalculate is called.
func (r *Recalculator) Recalculate(ctx context.Context, lotID string) (*RecalcResult, error) {
	before, after, err := r.store.RefreshLot(ctx, lotID, func(lot *entities.Lot) {
		lot.Status, lot.FillPercentage = services.LotState(lot)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to refresh lot %s: %w", lotID, err)
	}

	from, to, err := r.store.RefreshBatchStatus(ctx, after.BatchID, services.DeriveBatchStatus)
	if err != nil {
		return nil, fmt.Errorf("failed to refresh batch %s: %w", after.BatchID, err)
	}
	if from != to {
		r.logger.Debug("batch status changed",
			zap.String("batch_id", after.BatchID),
			zap.Stringer("from", from),
			zap.Stringer("to", to))
		r.publish(events.NewBatchStatusChangedEvent(after.BatchID, from, to))
	}

	result := &RecalcResult{Lot: after, BatchBefore: from, BatchAfter: to}
	for _, threshold := range services.CrossedThresholds(before.FillPercentage, after.FillPercentage, r.thresholds) {
		n := entities.ThresholdCrossed{
			LotID:          after.ID,
			BatchID:        after.BatchID,
			Currency:       after.Currency,
			FillPercentage: after.FillPercentage,
			Threshold:      threshold,
			At:             r.clock(),
		}
		r.notify(ctx, n)
		result.Crossed = append(result.Crossed, n)
	}
	return result, nil
}

// RecalculateAll refreshes every lot in lotIDs, skipping duplicates. It
// returns the first error after attempting every lot.
func (r *Recalculator) RecalculateAll(ctx context.Context, lotIDs []string) error {
	var firstErr error
	seen := make(map[string]bool, len(lotIDs))
	for _, id := range lotIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		if _, err := r.Recalculate(ctx, id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// notify delivers n to the sink. Failures and panics are logged and counted.
func (r *Recalculator) notify(ctx context.Context, n entities.ThresholdCrossed) {
	if r.sink == nil {
		return
	}
	err := func() (err error) {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("notification sink panicked: %v", p)
			}
		}()
		return r.sink.Notify(ctx, n)
	}()
	r.metrics.Notification(err)
	if err != nil {
		r.logger.Warn("threshold notification failed",
			zap.String("lot_id", n.LotID),
			zap.String("threshold", n.Threshold.String()),
			zap.Error(err))
	}
}
