package sqlstore

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/vsinha/fxalloc/pkg/domain/entities"
)

// SaveDemand stores a new demand
func (s *Store) SaveDemand(ctx context.Context, demand *entities.Demand) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&demandModel{}).Where("id = ?", demand.ID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("%w: demand %s already exists", entities.ErrInvalidInput, demand.ID)
		}
		seq, err := nextSeq(tx, &demandModel{}, "seq")
		if err != nil {
			return err
		}
		record := toDemandModel(demand, seq)
		return tx.Create(&record).Error
	})
}

// GetDemand returns a demand
func (s *Store) GetDemand(ctx context.Context, demandID string) (*entities.Demand, error) {
	var record demandModel
	if err := s.db.WithContext(ctx).First(&record, "id = ?", demandID).Error; err != nil {
		return nil, notFound(err, "demand %s", demandID)
	}
	return record.toEntity(), nil
}

// UpdateDemand applies fn inside a transaction and rolls back when fn fails
func (s *Store) UpdateDemand(ctx context.Context, demandID string, fn func(d *entities.Demand) error) (*entities.Demand, error) {
	var out *entities.Demand
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var record demandModel
		if err := forUpdate(tx).First(&record, "id = ?", demandID).Error; err != nil {
			return notFound(err, "demand %s", demandID)
		}
		working := record.toEntity()
		if err := fn(working); err != nil {
			return err
		}
		updated := toDemandModel(working, record.Seq)
		if err := tx.Save(&updated).Error; err != nil {
			return err
		}
		out = working
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListDemands returns every demand in submission order
func (s *Store) ListDemands(ctx context.Context) ([]*entities.Demand, error) {
	var records []demandModel
	if err := s.db.WithContext(ctx).Order("seq ASC").Find(&records).Error; err != nil {
		return nil, err
	}
	demands := make([]*entities.Demand, len(records))
	for i, record := range records {
		demands[i] = record.toEntity()
	}
	return demands, nil
}
