package sqlstore

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/vsinha/fxalloc/pkg/domain/entities"
)

// Quantities are stored as text so no driver ever rounds them through a float.

type batchModel struct {
	ID          string `gorm:"primaryKey;size:64"`
	Position    int64  `gorm:"index;not null"`
	Kind        int    `gorm:"index;not null"`
	Purpose     int    `gorm:"index;not null"`
	Status      int    `gorm:"index;not null"`
	Available   bool   `gorm:"not null"`
	SubmittedAt time.Time
	EndedAt     *time.Time
}

func (batchModel) TableName() string { return "batches" }

type lotModel struct {
	ID             string          `gorm:"primaryKey;size:64"`
	BatchID        string          `gorm:"size:64;index;not null"`
	Position       int             `gorm:"not null"`
	Currency       string          `gorm:"size:3;index;not null"`
	TotalQty       decimal.Decimal `gorm:"type:text;not null"`
	AllocatedQty   decimal.Decimal `gorm:"type:text;not null"`
	Rate           decimal.Decimal `gorm:"type:text;not null"`
	FillPercentage decimal.Decimal `gorm:"type:text;not null"`
	CreatedAt      time.Time       `gorm:"index"`
	Status         int             `gorm:"index;not null"`
}

func (lotModel) TableName() string { return "lots" }

type allocationModel struct {
	ID         string          `gorm:"primaryKey;size:64"`
	Seq        int64           `gorm:"index;not null"`
	DemandID   string          `gorm:"size:64;index;not null"`
	LotID      string          `gorm:"size:64;index;not null"`
	BatchID    string          `gorm:"size:64;not null"`
	Currency   string          `gorm:"size:3;not null"`
	Qty        decimal.Decimal `gorm:"type:text;not null"`
	Rate       decimal.Decimal `gorm:"type:text;not null"`
	Source     int             `gorm:"not null"`
	Status     int             `gorm:"index;not null"`
	CreatedAt  time.Time
	ReversedAt *time.Time
}

func (allocationModel) TableName() string { return "allocations" }

type demandModel struct {
	ID           string          `gorm:"primaryKey;size:64"`
	Seq          int64           `gorm:"index;not null"`
	Currency     string          `gorm:"size:3;not null"`
	Purpose      int             `gorm:"not null"`
	Kind         int             `gorm:"not null"`
	Source       string          `gorm:"size:128"`
	RequestedQty decimal.Decimal `gorm:"type:text;not null"`
	RemainingQty decimal.Decimal `gorm:"type:text;not null"`
	Status       int             `gorm:"index;not null"`
	CreatedAt    time.Time
}

func (demandModel) TableName() string { return "demands" }

type queueEntryModel struct {
	ID          string          `gorm:"primaryKey;size:64"`
	Seq         int64           `gorm:"uniqueIndex;not null"`
	DemandID    string          `gorm:"size:64;index;not null"`
	Currency    string          `gorm:"size:3;index:idx_queue_line;not null"`
	Purpose     int             `gorm:"index:idx_queue_line;not null"`
	Kind        int             `gorm:"not null"`
	Qty         decimal.Decimal `gorm:"type:text;not null"`
	OriginalQty decimal.Decimal `gorm:"type:text;not null"`
	EnqueuedAt  time.Time
	Status      int `gorm:"index;not null"`
}

func (queueEntryModel) TableName() string { return "queue_entries" }

// AutoMigrate performs all schema migrations for the store.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&batchModel{},
		&lotModel{},
		&allocationModel{},
		&demandModel{},
		&queueEntryModel{},
	)
}

func utc(t time.Time) time.Time {
	return t.UTC()
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	v := t.UTC()
	return &v
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.UTC()
}

func toBatchModel(b *entities.Batch, position int64) batchModel {
	return batchModel{
		ID:          b.ID,
		Position:    position,
		Kind:        int(b.Kind),
		Purpose:     int(b.Purpose),
		Status:      int(b.Status),
		Available:   b.Available,
		SubmittedAt: utc(b.SubmittedAt),
		EndedAt:     optionalTime(b.EndedAt),
	}
}

func (m batchModel) toEntity(lots []lotModel) *entities.Batch {
	b := &entities.Batch{
		ID:          m.ID,
		Kind:        entities.BatchKind(m.Kind),
		Purpose:     entities.Purpose(m.Purpose),
		Status:      entities.BatchStatus(m.Status),
		Available:   m.Available,
		SubmittedAt: utc(m.SubmittedAt),
		EndedAt:     derefTime(m.EndedAt),
		Lots:        make([]*entities.Lot, len(lots)),
	}
	for i, lot := range lots {
		b.Lots[i] = lot.toEntity()
	}
	return b
}

func toLotModel(l *entities.Lot, position int) lotModel {
	return lotModel{
		ID:             l.ID,
		BatchID:        l.BatchID,
		Position:       position,
		Currency:       string(l.Currency),
		TotalQty:       l.TotalQty,
		AllocatedQty:   l.AllocatedQty,
		Rate:           l.Rate,
		FillPercentage: l.FillPercentage,
		CreatedAt:      utc(l.CreatedAt),
		Status:         int(l.Status),
	}
}

func (m lotModel) toEntity() *entities.Lot {
	return &entities.Lot{
		ID:             m.ID,
		BatchID:        m.BatchID,
		Currency:       entities.CurrencyCode(m.Currency),
		TotalQty:       m.TotalQty,
		AllocatedQty:   m.AllocatedQty,
		Rate:           m.Rate,
		FillPercentage: m.FillPercentage,
		CreatedAt:      utc(m.CreatedAt),
		Status:         entities.LotStatus(m.Status),
	}
}

func toAllocationModel(a *entities.Allocation, seq int64) allocationModel {
	return allocationModel{
		ID:         a.ID,
		Seq:        seq,
		DemandID:   a.DemandID,
		LotID:      a.LotID,
		BatchID:    a.BatchID,
		Currency:   string(a.Currency),
		Qty:        a.Qty,
		Rate:       a.Rate,
		Source:     int(a.Source),
		Status:     int(a.Status),
		CreatedAt:  utc(a.CreatedAt),
		ReversedAt: optionalTime(a.ReversedAt),
	}
}

func (m allocationModel) toEntity() entities.Allocation {
	return entities.Allocation{
		ID:         m.ID,
		DemandID:   m.DemandID,
		LotID:      m.LotID,
		BatchID:    m.BatchID,
		Currency:   entities.CurrencyCode(m.Currency),
		Qty:        m.Qty,
		Rate:       m.Rate,
		Source:     entities.AllocationSource(m.Source),
		Status:     entities.AllocationStatus(m.Status),
		CreatedAt:  utc(m.CreatedAt),
		ReversedAt: derefTime(m.ReversedAt),
	}
}

func toDemandModel(d *entities.Demand, seq int64) demandModel {
	return demandModel{
		ID:           d.ID,
		Seq:          seq,
		Currency:     string(d.Currency),
		Purpose:      int(d.Purpose),
		Kind:         int(d.Kind),
		Source:       d.Source,
		RequestedQty: d.RequestedQty,
		RemainingQty: d.RemainingQty,
		Status:       int(d.Status),
		CreatedAt:    utc(d.CreatedAt),
	}
}

func (m demandModel) toEntity() *entities.Demand {
	return &entities.Demand{
		ID:           m.ID,
		Currency:     entities.CurrencyCode(m.Currency),
		Purpose:      entities.Purpose(m.Purpose),
		Kind:         entities.BatchKind(m.Kind),
		Source:       m.Source,
		RequestedQty: m.RequestedQty,
		RemainingQty: m.RemainingQty,
		Status:       entities.DemandStatus(m.Status),
		CreatedAt:    utc(m.CreatedAt),
	}
}

func toQueueEntryModel(e *entities.QueueEntry) queueEntryModel {
	return queueEntryModel{
		ID:          e.ID,
		Seq:         int64(e.Seq),
		DemandID:    e.DemandID,
		Currency:    string(e.Currency),
		Purpose:     int(e.Purpose),
		Kind:        int(e.Kind),
		Qty:         e.Qty,
		OriginalQty: e.OriginalQty,
		EnqueuedAt:  utc(e.EnqueuedAt),
		Status:      int(e.Status),
	}
}

func (m queueEntryModel) toEntity() *entities.QueueEntry {
	return &entities.QueueEntry{
		ID:          m.ID,
		DemandID:    m.DemandID,
		Currency:    entities.CurrencyCode(m.Currency),
		Purpose:     entities.Purpose(m.Purpose),
		Kind:        entities.BatchKind(m.Kind),
		Qty:         m.Qty,
		OriginalQty: m.OriginalQty,
		Seq:         uint64(m.Seq),
		EnqueuedAt:  utc(m.EnqueuedAt),
		Status:      entities.QueueStatus(m.Status),
	}
}
