// Package sqlstore persists lots, demands and the demand queue through gorm.
// Every mutation runs in one transaction that locks the rows it reads.
package sqlstore

import (
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/vsinha/fxalloc/pkg/domain/entities"
	"github.com/vsinha/fxalloc/pkg/domain/repositories"
)

// Store implements LotStore, DemandRepository and DemandQueue on one database
type Store struct {
	db    *gorm.DB
	clock func() time.Time
}

// Verify interface compliance
var (
	_ repositories.LotStore         = (*Store)(nil)
	_ repositories.DemandRepository = (*Store)(nil)
	_ repositories.DemandQueue      = (*Store)(nil)
)

// Open connects to the sqlite database at dsn and migrates the schema.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite %q: %w", dsn, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// sqlite has a single writer; one connection also keeps :memory: databases alive
	sqlDB.SetMaxOpenConns(1)
	return New(db)
}

// New wraps an existing gorm connection and migrates the schema.
func New(db *gorm.DB) (*Store, error) {
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}
	return &Store{db: db, clock: time.Now}, nil
}

// WithClock overrides the clock used to stamp allocations and queue entries
func (s *Store) WithClock(clock func() time.Time) *Store {
	s.clock = clock
	return s
}

// Close releases the underlying connection pool
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// forUpdate locks selected rows on databases that support it; sqlite ignores it
func forUpdate(tx *gorm.DB) *gorm.DB {
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

func nextSeq(tx *gorm.DB, model any, column string) (int64, error) {
	var last int64
	if err := tx.Model(model).Select("COALESCE(MAX(" + column + "), 0)").Scan(&last).Error; err != nil {
		return 0, err
	}
	return last + 1, nil
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s", entities.ErrNotFound, fmt.Sprintf(format, args...))
	}
	return err
}
