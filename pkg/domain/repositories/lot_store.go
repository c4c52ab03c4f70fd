package repositories

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vsinha/fxalloc/pkg/domain/entities"
)

// LotQuery selects lots eligible for direct allocation
type LotQuery struct {
	Currency entities.CurrencyCode
	Purpose  entities.Purpose
	Kind     entities.BatchKind // AnyKind matches every batch kind
}

// ReserveRequest asks for up to Want units of a single lot
type ReserveRequest struct {
	LotID    string
	DemandID string
	Want     decimal.Decimal
	Source   entities.AllocationSource
}

// BatchStatusFunc derives the next batch status from the current one and the batch's lots
type BatchStatusFunc func(current entities.BatchStatus, lots []*entities.Lot) entities.BatchStatus

// LotStore holds supply batches and their lots together with the allocation
// records made against them. Implementations serialize every mutation of a
// single lot so the allocated quantity increment and the paired allocation
// record are committed as one unit.
type LotStore interface {
	SaveBatch(ctx context.Context, batch *entities.Batch) error
	GetBatch(ctx context.Context, batchID string) (*entities.Batch, error)
	ListBatches(ctx context.Context) ([]*entities.Batch, error)
	GetLot(ctx context.Context, lotID string) (*entities.Lot, error)

	// EligibleLots returns snapshots of open lots of available, non-terminated
	// batches matching the query, ordered by CreatedAt then ID.
	EligibleLots(ctx context.Context, query LotQuery) ([]*entities.Lot, error)

	// Reserve atomically allocates min(available, Want) of the lot. It returns
	// a nil allocation when the lot has no capacity left and
	// ErrBatchTerminated when the lot's batch no longer accepts allocation.
	Reserve(ctx context.Context, req ReserveRequest) (*entities.Allocation, error)

	// Release atomically reverses a live allocation and returns it marked Reversed.
	Release(ctx context.Context, allocationID string) (*entities.Allocation, error)

	// RefreshLot applies fn to the lot under its lock and returns the lot
	// state before and after.
	RefreshLot(ctx context.Context, lotID string, fn func(lot *entities.Lot)) (before, after *entities.Lot, err error)

	// RefreshBatchStatus re-derives the status of a batch under the lots' locks.
	RefreshBatchStatus(ctx context.Context, batchID string, derive BatchStatusFunc) (before, after entities.BatchStatus, err error)

	MarkBatchAvailable(ctx context.Context, batchID string) error

	// EndBatch forces an Open or Deal batch to Ended. A Closed batch keeps
	// its status but has EndedAt stamped so it stays terminal; it reports
	// false for Closed and already Ended batches.
	EndBatch(ctx context.Context, batchID string, at time.Time) (bool, error)

	AllocationsForDemand(ctx context.Context, demandID string) ([]entities.Allocation, error)
	AllocationsForLot(ctx context.Context, lotID string) ([]entities.Allocation, error)
}
