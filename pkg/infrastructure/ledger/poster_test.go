package ledger

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vsinha/fxalloc/pkg/domain/entities"
	"github.com/vsinha/fxalloc/pkg/infrastructure/events"
)

func TestEventPoster_GroupsByDemand(t *testing.T) {
	store := events.NewInMemoryEventStore(nil)
	poster := NewEventPoster(store)

	err := poster.PostAllocations(context.Background(), []entities.Allocation{
		{ID: "A1", DemandID: "D1", Qty: decimal.NewFromInt(300)},
		{ID: "A2", DemandID: "D2", Qty: decimal.NewFromInt(100)},
		{ID: "A3", DemandID: "D1", Qty: decimal.NewFromInt(200)},
	})
	require.NoError(t, err)

	posted := store.ReadEventsByType(events.AllocationPostedEvent)
	require.Len(t, posted, 2)
	assert.Equal(t, "D1", posted[0].StreamID())
	assert.Len(t, posted[0].Data().(events.AllocationPosted).Allocations, 2)
	assert.Equal(t, "D2", posted[1].StreamID())
}
