package csv

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vsinha/fxalloc/pkg/domain/entities"
)

// Scenario file names inside a scenario directory
const (
	SupplyFile  = "supply.csv"
	DemandsFile = "demands.csv"
)

var (
	supplyHeader = []string{"batch_id", "kind", "purpose", "submitted_at", "lot_id", "currency", "total_qty", "rate", "created_at"}
	demandHeader = []string{"demand_id", "currency", "purpose", "batch_kind", "requested_qty", "created_at", "source"}
)

// Scenario is a replayable trading day: supply batches and demands in file order
type Scenario struct {
	Batches []*entities.Batch
	Demands []*entities.Demand
}

// Loader handles loading allocation scenarios from CSV files
type Loader struct{}

// NewLoader creates a new CSV loader
func NewLoader() *Loader {
	return &Loader{}
}

// LoadScenario loads supply.csv and demands.csv from dir
func (l *Loader) LoadScenario(dir string) (*Scenario, error) {
	batches, err := l.LoadSupply(filepath.Join(dir, SupplyFile))
	if err != nil {
		return nil, err
	}
	demands, err := l.LoadDemands(filepath.Join(dir, DemandsFile))
	if err != nil {
		return nil, err
	}
	return &Scenario{Batches: batches, Demands: demands}, nil
}

// LoadSupply loads supply batches from a CSV file with one row per lot.
// Rows of the same batch must agree on kind, purpose and submitted_at.
func (l *Loader) LoadSupply(filename string) ([]*entities.Batch, error) {
	records, err := readRecords(filename, "supply", supplyHeader)
	if err != nil {
		return nil, err
	}

	type pending struct {
		kind        entities.BatchKind
		purpose     entities.Purpose
		submittedAt time.Time
		lots        []*entities.Lot
	}
	var order []string
	groups := make(map[string]*pending)

	for i, record := range records {
		row := i + 2
		batchID := strings.TrimSpace(record[0])

		kind, err := entities.ParseBatchKind(record[1])
		if err != nil {
			return nil, fmt.Errorf("supply CSV row %d: %w", row, err)
		}
		purpose, err := entities.ParsePurpose(record[2])
		if err != nil {
			return nil, fmt.Errorf("supply CSV row %d: %w", row, err)
		}
		submittedAt, err := parseTime(record[3], "submitted_at")
		if err != nil {
			return nil, fmt.Errorf("supply CSV row %d: %w", row, err)
		}
		lot, err := parseLot(record[4:])
		if err != nil {
			return nil, fmt.Errorf("supply CSV row %d: %w", row, err)
		}

		group, ok := groups[batchID]
		if !ok {
			group = &pending{kind: kind, purpose: purpose, submittedAt: submittedAt}
			groups[batchID] = group
			order = append(order, batchID)
		} else if group.kind != kind || group.purpose != purpose || !group.submittedAt.Equal(submittedAt) {
			return nil, fmt.Errorf("supply CSV row %d: %w: batch %s header differs from its first row", row, entities.ErrInvalidInput, batchID)
		}
		group.lots = append(group.lots, lot)
	}

	batches := make([]*entities.Batch, 0, len(order))
	for _, id := range order {
		group := groups[id]
		batch, err := entities.NewBatch(id, group.kind, group.purpose, group.submittedAt, group.lots)
		if err != nil {
			return nil, fmt.Errorf("supply CSV batch %s: %w", id, err)
		}
		batches = append(batches, batch)
	}
	return batches, nil
}

// LoadDemands loads allocation demands from a CSV file
func (l *Loader) LoadDemands(filename string) ([]*entities.Demand, error) {
	records, err := readRecords(filename, "demands", demandHeader)
	if err != nil {
		return nil, err
	}

	demands := make([]*entities.Demand, 0, len(records))
	for i, record := range records {
		demand, err := parseDemand(record)
		if err != nil {
			return nil, fmt.Errorf("demands CSV row %d: %w", i+2, err)
		}
		demands = append(demands, demand)
	}
	return demands, nil
}

// Helper functions for parsing CSV records

// readRecords returns the data rows of a CSV file after validating its header.
// A header-only file yields no rows.
func readRecords(filename, name string, expectedHeader []string) ([][]string, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s file %s: %w", name, filename, err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.Comment = '#'
	reader.FieldsPerRecord = len(expectedHeader)
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s CSV: %w", name, err)
	}

	if len(records) < 1 {
		return nil, fmt.Errorf("%s CSV must have a header row", name)
	}
	header := records[0]
	if !validateHeader(header, expectedHeader) {
		return nil, fmt.Errorf("%s CSV header mismatch. Expected: %v, Got: %v", name, expectedHeader, header)
	}
	return records[1:], nil
}

func validateHeader(actual, expected []string) bool {
	if len(actual) != len(expected) {
		return false
	}

	for i, col := range expected {
		if strings.ToLower(strings.TrimSpace(actual[i])) != col {
			return false
		}
	}

	return true
}

// parseLot parses lot_id, currency, total_qty, rate, created_at
func parseLot(record []string) (*entities.Lot, error) {
	currency, err := entities.ParseCurrency(record[1])
	if err != nil {
		return nil, err
	}
	totalQty, err := parseDecimal(record[2], "total_qty")
	if err != nil {
		return nil, err
	}
	rate, err := parseDecimal(record[3], "rate")
	if err != nil {
		return nil, err
	}
	createdAt, err := parseTime(record[4], "created_at")
	if err != nil {
		return nil, err
	}
	return entities.NewLot(strings.TrimSpace(record[0]), currency, totalQty, rate, createdAt)
}

func parseDemand(record []string) (*entities.Demand, error) {
	currency, err := entities.ParseCurrency(record[1])
	if err != nil {
		return nil, err
	}
	purpose, err := entities.ParsePurpose(record[2])
	if err != nil {
		return nil, err
	}
	kind, err := entities.ParseBatchKind(record[3])
	if err != nil {
		return nil, err
	}
	qty, err := parseDecimal(record[4], "requested_qty")
	if err != nil {
		return nil, err
	}
	createdAt, err := parseTime(record[5], "created_at")
	if err != nil {
		return nil, err
	}
	return entities.NewDemand(strings.TrimSpace(record[0]), currency, purpose, kind, qty, strings.TrimSpace(record[6]), createdAt)
}

func parseDecimal(raw, field string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: invalid %s: %s", entities.ErrInvalidInput, field, raw)
	}
	return d, nil
}

func parseTime(raw, field string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid %s format: %s (expected RFC 3339)", entities.ErrInvalidInput, field, raw)
	}
	return t.UTC(), nil
}
