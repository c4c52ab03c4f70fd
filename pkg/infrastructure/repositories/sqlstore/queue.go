package sqlstore

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/vsinha/fxalloc/pkg/domain/entities"
	"github.com/vsinha/fxalloc/pkg/domain/repositories"
)

// Enqueue appends an entry to the tail of its line
func (s *Store) Enqueue(ctx context.Context, entry *entities.QueueEntry) (*entities.QueueEntry, error) {
	if entry == nil || entry.DemandID == "" {
		return nil, fmt.Errorf("%w: queue entry requires a demand", entities.ErrInvalidInput)
	}
	if !entry.Qty.IsPositive() {
		return nil, fmt.Errorf("%w: queue quantity must be positive, got %s", entities.ErrInvalidInput, entry.Qty)
	}

	stored := entry.Clone()
	if stored.ID == "" {
		stored.ID = entities.NewID()
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&queueEntryModel{}).Where("id = ?", stored.ID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("%w: queue entry %s already exists", entities.ErrInvalidInput, stored.ID)
		}

		var tail queueEntryModel
		res := tx.Order("seq DESC").Limit(1).Find(&tail)
		if res.Error != nil {
			return res.Error
		}
		// enqueuedAt never goes backwards so insertion order and time order agree
		now := s.clock()
		if res.RowsAffected > 0 && now.Before(tail.EnqueuedAt) {
			now = tail.EnqueuedAt
		}

		stored.Seq = uint64(tail.Seq + 1)
		stored.EnqueuedAt = utc(now)
		stored.OriginalQty = stored.Qty
		stored.Status = entities.QueueQueued
		record := toQueueEntryModel(stored)
		return tx.Create(&record).Error
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// DequeueEligible returns open entries of a line, oldest first
func (s *Store) DequeueEligible(ctx context.Context, query repositories.QueueQuery) ([]*entities.QueueEntry, error) {
	q := s.openLine(s.db.WithContext(ctx), entities.QueueKey{Currency: query.Currency, Purpose: query.Purpose})
	// unpinned entries match every batch kind
	q = q.Where("kind IN ?", []int{int(entities.AnyKind), int(query.Kind)})
	return findEntries(q)
}

// MarkConsumed reduces an entry's outstanding quantity
func (s *Store) MarkConsumed(ctx context.Context, entryID string, qty decimal.Decimal) (*entities.QueueEntry, error) {
	if !qty.IsPositive() {
		return nil, fmt.Errorf("%w: consumed quantity must be positive, got %s", entities.ErrInvalidInput, qty)
	}

	var out *entities.QueueEntry
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var record queueEntryModel
		if err := forUpdate(tx).First(&record, "id = ?", entryID).Error; err != nil {
			return notFound(err, "queue entry %s", entryID)
		}
		if entities.QueueStatus(record.Status) != entities.QueueQueued {
			return fmt.Errorf("%w: queue entry %s is closed", entities.ErrInvariantViolation, entryID)
		}
		if qty.GreaterThan(record.Qty) {
			return fmt.Errorf("%w: consuming %s from queue entry %s with %s outstanding", entities.ErrInvariantViolation, qty, entryID, record.Qty)
		}

		record.Qty = record.Qty.Sub(qty)
		if record.Qty.IsZero() {
			record.Status = int(entities.QueueClosed)
		}
		if err := tx.Model(&queueEntryModel{}).Where("id = ?", entryID).Updates(map[string]any{
			"qty":    record.Qty,
			"status": record.Status,
		}).Error; err != nil {
			return err
		}
		out = record.toEntity()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CloseForDemand zeroes and closes every open entry of a demand
func (s *Store) CloseForDemand(ctx context.Context, demandID string) ([]*entities.QueueEntry, error) {
	var closed []*entities.QueueEntry
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var records []queueEntryModel
		if err := forUpdate(tx).
			Where("demand_id = ? AND status = ?", demandID, int(entities.QueueQueued)).
			Order("seq ASC").
			Find(&records).Error; err != nil {
			return err
		}
		if len(records) == 0 {
			return nil
		}
		if err := tx.Model(&queueEntryModel{}).
			Where("demand_id = ? AND status = ?", demandID, int(entities.QueueQueued)).
			Updates(map[string]any{
				"qty":    decimal.Zero,
				"status": int(entities.QueueClosed),
			}).Error; err != nil {
			return err
		}
		for _, record := range records {
			record.Qty = decimal.Zero
			record.Status = int(entities.QueueClosed)
			closed = append(closed, record.toEntity())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return closed, nil
}

// GetEntry returns an entry, open or closed
func (s *Store) GetEntry(ctx context.Context, entryID string) (*entities.QueueEntry, error) {
	var record queueEntryModel
	if err := s.db.WithContext(ctx).First(&record, "id = ?", entryID).Error; err != nil {
		return nil, notFound(err, "queue entry %s", entryID)
	}
	return record.toEntity(), nil
}

// Entries lists every open entry of a line, oldest first
func (s *Store) Entries(ctx context.Context, key entities.QueueKey) ([]*entities.QueueEntry, error) {
	return findEntries(s.openLine(s.db.WithContext(ctx), key))
}

// Depth returns the number of open entries on a line and their outstanding total
func (s *Store) Depth(ctx context.Context, key entities.QueueKey) (int, decimal.Decimal, error) {
	entries, err := s.Entries(ctx, key)
	if err != nil {
		return 0, decimal.Zero, err
	}
	total := decimal.Zero
	for _, entry := range entries {
		total = total.Add(entry.Qty)
	}
	return len(entries), total, nil
}

func (s *Store) openLine(db *gorm.DB, key entities.QueueKey) *gorm.DB {
	return db.Model(&queueEntryModel{}).
		Where("currency = ? AND purpose = ? AND status = ?", string(key.Currency), int(key.Purpose), int(entities.QueueQueued))
}

func findEntries(q *gorm.DB) ([]*entities.QueueEntry, error) {
	var records []queueEntryModel
	// seq follows enqueue time because enqueuedAt never goes backwards
	if err := q.Order("seq ASC").Find(&records).Error; err != nil {
		return nil, err
	}
	entries := make([]*entities.QueueEntry, len(records))
	for i, record := range records {
		entries[i] = record.toEntity()
	}
	return entries, nil
}
