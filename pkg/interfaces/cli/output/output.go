package output

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/vsinha/fxalloc/pkg/application/dto"
)

// Config holds configuration for output generation
type Config struct {
	Format    string
	OutputDir string
	Verbose   bool
	Writer    io.Writer // defaults to stdout
}

func (c Config) writer() io.Writer {
	if c.Writer == nil {
		return os.Stdout
	}
	return c.Writer
}

// Generate creates output in the specified format
func Generate(report *dto.SimulationReport, config Config) error {
	switch config.Format {
	case "text", "":
		return generateTextOutput(report, config)
	case "json":
		return generateJSONOutput(report, config)
	case "csv":
		return generateCSVOutput(report, config)
	case "svg":
		return generateSVGOutput(report, config)
	default:
		return fmt.Errorf("unsupported output format: %s", config.Format)
	}
}

// generateTextOutput creates human-readable text output
func generateTextOutput(report *dto.SimulationReport, config Config) error {
	w := config.writer()
	allocations := report.Allocations()

	fmt.Fprintf(w, "📊 FX Allocation Summary\n")
	fmt.Fprintf(w, "========================\n\n")

	fmt.Fprintf(w, "Scenario: %s\n", report.Scenario)
	fmt.Fprintf(w, "Store: %s\n", report.Store)
	fmt.Fprintf(w, "Steps: %d\n", len(report.Steps))
	fmt.Fprintf(w, "Allocations: %d\n", len(allocations))
	fmt.Fprintf(w, "Notifications: %d\n", len(report.Notifications))
	fmt.Fprintf(w, "Replay Time: %v\n\n", report.Duration)

	if len(allocations) > 0 {
		fmt.Fprintf(w, "📋 Allocations:\n")
		fmt.Fprintf(w, "%-14s %-12s %-14s %-4s %12s %10s %-7s\n",
			"Demand", "Lot", "Batch", "Ccy", "Qty", "Rate", "Source")
		fmt.Fprintf(w, "%-14s %-12s %-14s %-4s %12s %10s %-7s\n",
			"--------------", "------------", "--------------", "----", "------------", "----------", "-------")
		for _, alloc := range allocations {
			fmt.Fprintf(w, "%-14s %-12s %-14s %-4s %12s %10s %-7s\n",
				alloc.DemandID,
				alloc.LotID,
				alloc.BatchID,
				alloc.Currency,
				alloc.Qty.String(),
				alloc.Rate.String(),
				alloc.Source.String())
		}
		fmt.Fprintln(w)
	}

	if len(report.Batches) > 0 {
		fmt.Fprintf(w, "📦 Batches:\n")
		for _, batch := range report.Batches {
			fmt.Fprintf(w, "%-14s %-10s %-8s %-6s available=%t\n",
				batch.ID, batch.Kind, batch.Purpose, batch.Status, batch.Available)
			for _, lot := range batch.Lots {
				fmt.Fprintf(w, "  %-12s %-4s %12s / %-12s %8s%% %-6s\n",
					lot.ID,
					lot.Currency,
					lot.AllocatedQty.String(),
					lot.TotalQty.String(),
					lot.FillPercentage.StringFixed(2),
					lot.Status)
			}
		}
		fmt.Fprintln(w)
	}

	if len(report.Queues) > 0 {
		fmt.Fprintf(w, "⏳ Queues:\n")
		fmt.Fprintf(w, "%-4s %-8s %6s %12s\n", "Ccy", "Purpose", "Depth", "Outstanding")
		for _, queue := range report.Queues {
			fmt.Fprintf(w, "%-4s %-8s %6d %12s\n",
				queue.Currency, queue.Purpose, queue.Depth, queue.Outstanding.String())
			for _, entry := range queue.Entries {
				fmt.Fprintf(w, "  #%-4d %-14s %12s of %-12s %s\n",
					entry.Seq, entry.DemandID, entry.Qty.String(), entry.OriginalQty.String(), entry.Kind)
			}
		}
		fmt.Fprintln(w)
	}

	if len(report.Notifications) > 0 {
		fmt.Fprintf(w, "🔔 Threshold Notifications:\n")
		for _, n := range report.Notifications {
			fmt.Fprintf(w, "  %-12s %-4s crossed %s%% at %s%%\n",
				n.LotID, n.Currency, n.Threshold.String(), n.FillPercentage.StringFixed(2))
		}
		fmt.Fprintln(w)
	}

	if report.EndOfDay != nil {
		ended := "none"
		if len(report.EndOfDay.Ended) > 0 {
			ended = strings.Join(report.EndOfDay.Ended, ", ")
		}
		fmt.Fprintf(w, "🌙 End of day at %s: ended %s\n\n", report.EndOfDay.At.Format("2006-01-02 15:04"), ended)
	}

	if len(report.AuditErrors) > 0 {
		fmt.Fprintf(w, "⚠️  Audit Errors:\n")
		for _, problem := range report.AuditErrors {
			fmt.Fprintf(w, "  %s\n", problem)
		}
		fmt.Fprintln(w)
	}

	return nil
}

// generateJSONOutput creates JSON output
func generateJSONOutput(report *dto.SimulationReport, config Config) error {
	jsonData, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if config.OutputDir == "" {
		fmt.Fprintln(config.writer(), string(jsonData))
		return nil
	}

	filename, err := outputPath(config, "fxalloc_results.json")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filename, jsonData, 0644); err != nil {
		return fmt.Errorf("failed to write JSON file: %w", err)
	}
	if config.Verbose {
		fmt.Fprintf(config.writer(), "💾 JSON results saved to: %s\n", filename)
	}
	return nil
}

// generateCSVOutput writes allocations, lots and queue entries as CSV files
func generateCSVOutput(report *dto.SimulationReport, config Config) error {
	if config.OutputDir == "" {
		return fmt.Errorf("output directory required for CSV format")
	}

	allocFile, err := outputPath(config, "allocations.csv")
	if err != nil {
		return err
	}
	if err := writeAllocationsCSV(report, allocFile); err != nil {
		return fmt.Errorf("failed to write allocations CSV: %w", err)
	}

	lotsFile, err := outputPath(config, "lots.csv")
	if err != nil {
		return err
	}
	if err := writeLotsCSV(report, lotsFile); err != nil {
		return fmt.Errorf("failed to write lots CSV: %w", err)
	}

	queueFile, err := outputPath(config, "queue.csv")
	if err != nil {
		return err
	}
	if err := writeQueueCSV(report, queueFile); err != nil {
		return fmt.Errorf("failed to write queue CSV: %w", err)
	}

	if config.Verbose {
		w := config.writer()
		fmt.Fprintf(w, "💾 CSV results saved to:\n")
		fmt.Fprintf(w, "  Allocations: %s\n", allocFile)
		fmt.Fprintf(w, "  Lots: %s\n", lotsFile)
		fmt.Fprintf(w, "  Queue: %s\n", queueFile)
	}
	return nil
}

// generateSVGOutput renders the lot fill chart
func generateSVGOutput(report *dto.SimulationReport, config Config) error {
	svg := NewFillChart(report.Batches).GenerateSVG(report.Batches)
	if config.OutputDir == "" {
		fmt.Fprintln(config.writer(), svg)
		return nil
	}

	filename, err := outputPath(config, "fill_chart.svg")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filename, []byte(svg), 0644); err != nil {
		return fmt.Errorf("failed to write SVG file: %w", err)
	}
	if config.Verbose {
		fmt.Fprintf(config.writer(), "💾 Fill chart saved to: %s\n", filename)
	}
	return nil
}

func outputPath(config Config, name string) (string, error) {
	if err := os.MkdirAll(config.OutputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	return filepath.Join(config.OutputDir, name), nil
}

func writeAllocationsCSV(report *dto.SimulationReport, filename string) error {
	rows := [][]string{{"allocation_id", "demand_id", "lot_id", "batch_id", "currency", "qty", "rate", "source", "created_at"}}
	for _, alloc := range report.Allocations() {
		rows = append(rows, []string{
			alloc.ID,
			alloc.DemandID,
			alloc.LotID,
			alloc.BatchID,
			string(alloc.Currency),
			alloc.Qty.String(),
			alloc.Rate.String(),
			alloc.Source.String(),
			alloc.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	return writeCSV(filename, rows)
}

func writeLotsCSV(report *dto.SimulationReport, filename string) error {
	rows := [][]string{{"batch_id", "batch_status", "lot_id", "currency", "total_qty", "allocated_qty", "fill_percentage", "lot_status"}}
	for _, batch := range report.Batches {
		for _, lot := range batch.Lots {
			rows = append(rows, []string{
				batch.ID,
				batch.Status,
				lot.ID,
				string(lot.Currency),
				lot.TotalQty.String(),
				lot.AllocatedQty.String(),
				lot.FillPercentage.String(),
				lot.Status,
			})
		}
	}
	return writeCSV(filename, rows)
}

func writeQueueCSV(report *dto.SimulationReport, filename string) error {
	rows := [][]string{{"seq", "demand_id", "currency", "purpose", "kind", "qty", "original_qty"}}
	for _, queue := range report.Queues {
		for _, entry := range queue.Entries {
			rows = append(rows, []string{
				fmt.Sprint(entry.Seq),
				entry.DemandID,
				string(entry.Currency),
				entry.Purpose.String(),
				entry.Kind.String(),
				entry.Qty.String(),
				entry.OriginalQty.String(),
			})
		}
	}
	return writeCSV(filename, rows)
}

func writeCSV(filename string, rows [][]string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.WriteAll(rows); err != nil {
		return err
	}
	return file.Close()
}
