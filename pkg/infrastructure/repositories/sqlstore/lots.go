package sqlstore

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/vsinha/fxalloc/pkg/domain/entities"
	"github.com/vsinha/fxalloc/pkg/domain/repositories"
)

// SaveBatch stores a new batch and its lots
func (s *Store) SaveBatch(ctx context.Context, batch *entities.Batch) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&batchModel{}).Where("id = ?", batch.ID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("%w: batch %s already exists", entities.ErrInvalidInput, batch.ID)
		}

		ids := make([]string, len(batch.Lots))
		for i, lot := range batch.Lots {
			ids[i] = lot.ID
		}
		if err := tx.Model(&lotModel{}).Where("id IN ?", ids).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("%w: batch %s reuses an existing lot id", entities.ErrInvalidInput, batch.ID)
		}

		position, err := nextSeq(tx, &batchModel{}, "position")
		if err != nil {
			return err
		}
		header := toBatchModel(batch, position)
		if err := tx.Create(&header).Error; err != nil {
			return err
		}
		lots := make([]lotModel, len(batch.Lots))
		for i, lot := range batch.Lots {
			lots[i] = toLotModel(lot, i)
			lots[i].BatchID = batch.ID
		}
		return tx.Create(&lots).Error
	})
}

// GetBatch returns a batch and its lots in submission order
func (s *Store) GetBatch(ctx context.Context, batchID string) (*entities.Batch, error) {
	return s.loadBatch(s.db.WithContext(ctx), batchID)
}

func (s *Store) loadBatch(tx *gorm.DB, batchID string) (*entities.Batch, error) {
	var header batchModel
	if err := tx.First(&header, "id = ?", batchID).Error; err != nil {
		return nil, notFound(err, "batch %s", batchID)
	}
	lots, err := batchLots(tx, batchID)
	if err != nil {
		return nil, err
	}
	return header.toEntity(lots), nil
}

func batchLots(tx *gorm.DB, batchID string) ([]lotModel, error) {
	var lots []lotModel
	if err := tx.Where("batch_id = ?", batchID).Order("position ASC").Find(&lots).Error; err != nil {
		return nil, err
	}
	return lots, nil
}

// ListBatches returns every batch in submission order
func (s *Store) ListBatches(ctx context.Context) ([]*entities.Batch, error) {
	db := s.db.WithContext(ctx)
	var headers []batchModel
	if err := db.Order("position ASC").Find(&headers).Error; err != nil {
		return nil, err
	}
	batches := make([]*entities.Batch, 0, len(headers))
	for _, header := range headers {
		lots, err := batchLots(db, header.ID)
		if err != nil {
			return nil, err
		}
		batches = append(batches, header.toEntity(lots))
	}
	return batches, nil
}

// GetLot returns a lot
func (s *Store) GetLot(ctx context.Context, lotID string) (*entities.Lot, error) {
	var lot lotModel
	if err := s.db.WithContext(ctx).First(&lot, "id = ?", lotID).Error; err != nil {
		return nil, notFound(err, "lot %s", lotID)
	}
	return lot.toEntity(), nil
}

// EligibleLots returns open lots of available, non-terminated batches ordered FIFO
func (s *Store) EligibleLots(ctx context.Context, query repositories.LotQuery) ([]*entities.Lot, error) {
	q := s.db.WithContext(ctx).
		Model(&lotModel{}).
		Select("lots.*").
		Joins("JOIN batches ON batches.id = lots.batch_id").
		Where("batches.available = ?", true).
		Where("batches.status IN ?", []int{int(entities.BatchOpen), int(entities.BatchDeal)}).
		Where("batches.ended_at IS NULL").
		Where("batches.purpose = ?", int(query.Purpose)).
		Where("lots.currency = ? AND lots.status = ?", string(query.Currency), int(entities.LotOpen))
	if query.Kind != entities.AnyKind {
		q = q.Where("batches.kind = ?", int(query.Kind))
	}

	var rows []lotModel
	if err := q.Order("lots.created_at ASC, lots.id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	lots := make([]*entities.Lot, 0, len(rows))
	for _, row := range rows {
		lot := row.toEntity()
		if lot.Available().IsPositive() {
			lots = append(lots, lot)
		}
	}
	return lots, nil
}

// Reserve allocates min(available, want) of a lot in one transaction
func (s *Store) Reserve(ctx context.Context, req repositories.ReserveRequest) (*entities.Allocation, error) {
	if !req.Want.IsPositive() {
		return nil, fmt.Errorf("%w: reserve quantity must be positive, got %s", entities.ErrInvalidInput, req.Want)
	}

	var out *entities.Allocation
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, err := lockLot(tx, req.LotID)
		if err != nil {
			return err
		}
		var batch batchModel
		if err := tx.First(&batch, "id = ?", row.BatchID).Error; err != nil {
			return notFound(err, "batch %s of lot %s", row.BatchID, row.ID)
		}
		if !batch.toEntity(nil).AcceptsAllocation() {
			return fmt.Errorf("%w: batch %s of lot %s", entities.ErrBatchTerminated, batch.ID, row.ID)
		}
		if req.Source == entities.SourceDirect && !batch.Available {
			return fmt.Errorf("%w: batch %s is not yet available", entities.ErrBatchTerminated, batch.ID)
		}

		lot := row.toEntity()
		take := lot.Available()
		if req.Want.LessThan(take) {
			take = req.Want
		}
		if !take.IsPositive() {
			return nil
		}
		if err := lot.Apply(take); err != nil {
			return err
		}
		if err := saveLotQuantities(tx, lot); err != nil {
			return err
		}

		seq, err := nextSeq(tx, &allocationModel{}, "seq")
		if err != nil {
			return err
		}
		alloc := &entities.Allocation{
			ID:        entities.NewID(),
			DemandID:  req.DemandID,
			LotID:     lot.ID,
			BatchID:   lot.BatchID,
			Currency:  lot.Currency,
			Qty:       take,
			Rate:      lot.Rate,
			Source:    req.Source,
			Status:    entities.AllocationActive,
			CreatedAt: s.clock(),
		}
		record := toAllocationModel(alloc, seq)
		if err := tx.Create(&record).Error; err != nil {
			return err
		}
		out = alloc
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Release reverses a live allocation in one transaction
func (s *Store) Release(ctx context.Context, allocationID string) (*entities.Allocation, error) {
	var out entities.Allocation
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var record allocationModel
		if err := forUpdate(tx).First(&record, "id = ?", allocationID).Error; err != nil {
			return notFound(err, "allocation %s", allocationID)
		}
		if entities.AllocationStatus(record.Status) != entities.AllocationActive {
			return fmt.Errorf("%w: allocation %s already reversed", entities.ErrInvariantViolation, allocationID)
		}

		row, err := lockLot(tx, record.LotID)
		if err != nil {
			return err
		}
		lot := row.toEntity()
		if err := lot.Apply(record.Qty.Neg()); err != nil {
			return err
		}
		if err := saveLotQuantities(tx, lot); err != nil {
			return err
		}

		reversedAt := utc(s.clock())
		if err := tx.Model(&allocationModel{}).Where("id = ?", allocationID).Updates(map[string]any{
			"status":      int(entities.AllocationReversed),
			"reversed_at": reversedAt,
		}).Error; err != nil {
			return err
		}
		record.Status = int(entities.AllocationReversed)
		record.ReversedAt = &reversedAt
		out = record.toEntity()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// RefreshLot applies fn to a lot inside a transaction
func (s *Store) RefreshLot(ctx context.Context, lotID string, fn func(lot *entities.Lot)) (*entities.Lot, *entities.Lot, error) {
	var before, after *entities.Lot
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, err := lockLot(tx, lotID)
		if err != nil {
			return err
		}
		before = row.toEntity()
		after = before.Clone()
		fn(after)
		return tx.Model(&lotModel{}).Where("id = ?", lotID).Updates(map[string]any{
			"status":          int(after.Status),
			"fill_percentage": after.FillPercentage,
		}).Error
	})
	if err != nil {
		return nil, nil, err
	}
	return before, after, nil
}

// RefreshBatchStatus re-derives a batch status from its lots inside a transaction
func (s *Store) RefreshBatchStatus(ctx context.Context, batchID string, derive repositories.BatchStatusFunc) (entities.BatchStatus, entities.BatchStatus, error) {
	var before, after entities.BatchStatus
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var header batchModel
		if err := forUpdate(tx).First(&header, "id = ?", batchID).Error; err != nil {
			return notFound(err, "batch %s", batchID)
		}
		var rows []lotModel
		if err := forUpdate(tx).Where("batch_id = ?", batchID).Order("position ASC").Find(&rows).Error; err != nil {
			return err
		}
		lots := make([]*entities.Lot, len(rows))
		for i, row := range rows {
			lots[i] = row.toEntity()
		}

		before = entities.BatchStatus(header.Status)
		after = derive(before, lots)
		if after == before {
			return nil
		}
		return tx.Model(&batchModel{}).Where("id = ?", batchID).Update("status", int(after)).Error
	})
	return before, after, err
}

// MarkBatchAvailable opens a batch for direct allocation
func (s *Store) MarkBatchAvailable(ctx context.Context, batchID string) error {
	res := s.db.WithContext(ctx).Model(&batchModel{}).Where("id = ?", batchID).Update("available", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: batch %s", entities.ErrNotFound, batchID)
	}
	return nil
}

// EndBatch forces an Open or Deal batch to Ended and stamps a Closed one
func (s *Store) EndBatch(ctx context.Context, batchID string, at time.Time) (bool, error) {
	ended := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var header batchModel
		if err := forUpdate(tx).First(&header, "id = ?", batchID).Error; err != nil {
			return notFound(err, "batch %s", batchID)
		}
		switch entities.BatchStatus(header.Status) {
		case entities.BatchOpen, entities.BatchDeal:
		case entities.BatchClosed:
			if header.EndedAt != nil {
				return nil
			}
			return tx.Model(&batchModel{}).Where("id = ?", batchID).Update("ended_at", utc(at)).Error
		default:
			return nil
		}
		ended = true
		return tx.Model(&batchModel{}).Where("id = ?", batchID).Updates(map[string]any{
			"status":   int(entities.BatchEnded),
			"ended_at": utc(at),
		}).Error
	})
	return ended, err
}

// AllocationsForDemand returns every allocation made for a demand, in creation order
func (s *Store) AllocationsForDemand(ctx context.Context, demandID string) ([]entities.Allocation, error) {
	return s.allocationsWhere(ctx, "demand_id = ?", demandID)
}

// AllocationsForLot returns every allocation made against a lot, in creation order
func (s *Store) AllocationsForLot(ctx context.Context, lotID string) ([]entities.Allocation, error) {
	return s.allocationsWhere(ctx, "lot_id = ?", lotID)
}

func (s *Store) allocationsWhere(ctx context.Context, cond string, arg string) ([]entities.Allocation, error) {
	var rows []allocationModel
	if err := s.db.WithContext(ctx).Where(cond, arg).Order("seq ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]entities.Allocation, len(rows))
	for i, row := range rows {
		out[i] = row.toEntity()
	}
	return out, nil
}

func lockLot(tx *gorm.DB, lotID string) (*lotModel, error) {
	var row lotModel
	if err := forUpdate(tx).First(&row, "id = ?", lotID).Error; err != nil {
		return nil, notFound(err, "lot %s", lotID)
	}
	return &row, nil
}

func saveLotQuantities(tx *gorm.DB, lot *entities.Lot) error {
	return tx.Model(&lotModel{}).Where("id = ?", lot.ID).Updates(map[string]any{
		"allocated_qty": lot.AllocatedQty,
		"status":        int(lot.Status),
	}).Error
}
