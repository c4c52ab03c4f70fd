package repositories

import (
	"context"

	"github.com/vsinha/fxalloc/pkg/domain/entities"
)

// DemandRepository provides access to demand records
type DemandRepository interface {
	SaveDemand(ctx context.Context, demand *entities.Demand) error
	GetDemand(ctx context.Context, demandID string) (*entities.Demand, error)
	// UpdateDemand applies fn atomically; the demand is not saved when fn fails.
	UpdateDemand(ctx context.Context, demandID string, fn func(d *entities.Demand) error) (*entities.Demand, error)
	ListDemands(ctx context.Context) ([]*entities.Demand, error)
}
