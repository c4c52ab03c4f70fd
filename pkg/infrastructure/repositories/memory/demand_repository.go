package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/vsinha/fxalloc/pkg/domain/entities"
	"github.com/vsinha/fxalloc/pkg/domain/repositories"
)

// DemandRepository provides in-memory demand storage
type DemandRepository struct {
	mu      sync.Mutex
	demands map[string]*entities.Demand
	order   []string
}

// NewDemandRepository creates a new in-memory demand repository
func NewDemandRepository() *DemandRepository {
	return &DemandRepository{
		demands: make(map[string]*entities.Demand),
	}
}

// Verify interface compliance
var _ repositories.DemandRepository = (*DemandRepository)(nil)

// SaveDemand stores a new demand
func (r *DemandRepository) SaveDemand(_ context.Context, demand *entities.Demand) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.demands[demand.ID]; exists {
		return fmt.Errorf("%w: demand %s already exists", entities.ErrInvalidInput, demand.ID)
	}
	r.demands[demand.ID] = demand.Clone()
	r.order = append(r.order, demand.ID)
	return nil
}

// GetDemand returns a snapshot of a demand
func (r *DemandRepository) GetDemand(_ context.Context, demandID string) (*entities.Demand, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	demand, ok := r.demands[demandID]
	if !ok {
		return nil, fmt.Errorf("%w: demand %s", entities.ErrNotFound, demandID)
	}
	return demand.Clone(), nil
}

// UpdateDemand applies fn to a working copy and stores it only when fn succeeds
func (r *DemandRepository) UpdateDemand(_ context.Context, demandID string, fn func(d *entities.Demand) error) (*entities.Demand, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	demand, ok := r.demands[demandID]
	if !ok {
		return nil, fmt.Errorf("%w: demand %s", entities.ErrNotFound, demandID)
	}
	working := demand.Clone()
	if err := fn(working); err != nil {
		return nil, err
	}
	r.demands[demandID] = working
	return working.Clone(), nil
}

// ListDemands returns every demand in submission order
func (r *DemandRepository) ListDemands(_ context.Context) ([]*entities.Demand, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	demands := make([]*entities.Demand, 0, len(r.order))
	for _, id := range r.order {
		demands = append(demands, r.demands[id].Clone())
	}
	return demands, nil
}
