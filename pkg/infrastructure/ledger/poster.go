// Package ledger informs the accounting collaborator of finalized allocations.
package ledger

import (
	"context"
	"fmt"

	"github.com/vsinha/fxalloc/pkg/domain/entities"
	"github.com/vsinha/fxalloc/pkg/infrastructure/events"
)

// EventPoster hands finalized allocations to the ledger by publishing them on
// the event store. No financial entries are computed here.
type EventPoster struct {
	store events.EventStore
}

func NewEventPoster(store events.EventStore) *EventPoster {
	return &EventPoster{store: store}
}

// PostAllocations publishes one posting event per demand stream
func (p *EventPoster) PostAllocations(_ context.Context, allocations []entities.Allocation) error {
	byDemand := make(map[string][]entities.Allocation)
	var order []string
	for _, alloc := range allocations {
		if _, seen := byDemand[alloc.DemandID]; !seen {
			order = append(order, alloc.DemandID)
		}
		byDemand[alloc.DemandID] = append(byDemand[alloc.DemandID], alloc)
	}
	for _, demandID := range order {
		if err := p.store.AppendEvent(demandID, events.NewAllocationPostedEvent(demandID, byDemand[demandID])); err != nil {
			return fmt.Errorf("post allocations for demand %s: %w", demandID, err)
		}
	}
	return nil
}
