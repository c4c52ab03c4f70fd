package repositories

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/vsinha/fxalloc/pkg/domain/entities"
)

// QueueQuery selects queued entries a batch of the given kind may serve
type QueueQuery struct {
	Currency entities.CurrencyCode
	Purpose  entities.Purpose
	Kind     entities.BatchKind
}

// DemandQueue holds unmet demand in strict FIFO order per (currency, purpose)
type DemandQueue interface {
	// Enqueue parks qty of a demand; ID, Seq, EnqueuedAt and Status are assigned by the queue.
	Enqueue(ctx context.Context, entry *entities.QueueEntry) (*entities.QueueEntry, error)

	// DequeueEligible returns open entries oldest first. Entries pinned to a
	// batch kind are only returned when the query kind matches.
	DequeueEligible(ctx context.Context, query QueueQuery) ([]*entities.QueueEntry, error)

	// MarkConsumed reduces the outstanding quantity of an entry, closing it at zero.
	// Consuming more than outstanding fails with ErrInvariantViolation.
	MarkConsumed(ctx context.Context, entryID string, qty decimal.Decimal) (*entities.QueueEntry, error)

	// CloseForDemand zeroes and closes every open entry of the demand.
	CloseForDemand(ctx context.Context, demandID string) ([]*entities.QueueEntry, error)

	GetEntry(ctx context.Context, entryID string) (*entities.QueueEntry, error)
	// Entries lists every open entry of a line, pinned or not, oldest first.
	Entries(ctx context.Context, key entities.QueueKey) ([]*entities.QueueEntry, error)
	Depth(ctx context.Context, key entities.QueueKey) (int, decimal.Decimal, error)
}
