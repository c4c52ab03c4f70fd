package commands

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"

	fxcsv "github.com/vsinha/fxalloc/pkg/infrastructure/repositories/csv"
)

// GenerateConfig holds configuration for scenario generation
type GenerateConfig struct {
	Batches   int     // Number of supply batches
	Lots      int     // Lots per batch
	Demands   int     // Number of branch demands
	Coverage  float64 // Supply multiplier (e.g., 0.5 = half of demand covered, 2.0 = twice)
	OutputDir string  // Output directory for generated files
	Seed      int64   // Random seed for reproducible generation
	Help      bool    // Show help
	Verbose   bool    // Verbose output

	Out io.Writer // defaults to stdout
}

// GenerateCommand handles scenario generation
type GenerateCommand struct {
	config GenerateConfig
	rand   *rand.Rand
	out    io.Writer
}

// NewGenerateCommand creates a new generate command
func NewGenerateCommand(config GenerateConfig) *GenerateCommand {
	seed := config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	out := config.Out
	if out == nil {
		out = os.Stdout
	}

	return &GenerateCommand{
		config: config,
		rand:   rand.New(rand.NewSource(seed)),
		out:    out,
	}
}

// currencyProfile is a tradable currency with a reference rate and typical ticket size
type currencyProfile struct {
	Code   string
	Rate   float64
	Ticket int64
}

var generatedCurrencies = []currencyProfile{
	{Code: "USD", Rate: 83.10, Ticket: 500},
	{Code: "EUR", Rate: 90.45, Ticket: 400},
	{Code: "GBP", Rate: 105.20, Ticket: 300},
	{Code: "AED", Rate: 22.63, Ticket: 2000},
	{Code: "SGD", Rate: 61.80, Ticket: 600},
}

var generatedKinds = []string{"Daily", "Daily", "Daily", "Holiday", "BranchDeal", "Interbank"}

// generatedDemand is one demand line before it is written
type generatedDemand struct {
	ID        string
	Currency  currencyProfile
	Purpose   string
	Kind      string
	Qty       int64
	CreatedAt time.Time
	Source    string
}

// Execute runs the generate command
func (cmd *GenerateCommand) Execute(ctx context.Context) error {
	if cmd.config.Help {
		cmd.printHelp()
		return nil
	}
	if err := cmd.validate(); err != nil {
		return fmt.Errorf("validation error: %w", err)
	}

	if cmd.config.Verbose {
		fmt.Fprintf(cmd.out,
			"🔧 Generating scenario with %d batches of %d lots, %d demands, %.1fx coverage\n",
			cmd.config.Batches,
			cmd.config.Lots,
			cmd.config.Demands,
			cmd.config.Coverage,
		)
		fmt.Fprintf(cmd.out, "📁 Output directory: %s\n", cmd.config.OutputDir)
		fmt.Fprintf(cmd.out, "🎲 Random seed: %d\n", cmd.config.Seed)
	}

	if err := os.MkdirAll(cmd.config.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	day := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)
	demands := cmd.generateDemandLines(day)

	if cmd.config.Verbose {
		fmt.Fprintln(cmd.out, "📦 Generating supply.csv...")
	}
	if err := cmd.generateSupply(day, demands); err != nil {
		return fmt.Errorf("failed to generate supply: %w", err)
	}

	if cmd.config.Verbose {
		fmt.Fprintln(cmd.out, "📋 Generating demands.csv...")
	}
	if err := cmd.generateDemands(demands); err != nil {
		return fmt.Errorf("failed to generate demands: %w", err)
	}

	if cmd.config.Verbose {
		fmt.Fprintf(cmd.out, "✅ Scenario generated successfully in %s\n", cmd.config.OutputDir)
	}
	return nil
}

func (cmd *GenerateCommand) validate() error {
	switch {
	case cmd.config.OutputDir == "":
		return fmt.Errorf("must specify an -output directory")
	case cmd.config.Batches <= 0:
		return fmt.Errorf("batches must be positive, got %d", cmd.config.Batches)
	case cmd.config.Lots <= 0:
		return fmt.Errorf("lots must be positive, got %d", cmd.config.Lots)
	case cmd.config.Demands < 0:
		return fmt.Errorf("demands cannot be negative, got %d", cmd.config.Demands)
	case cmd.config.Coverage <= 0:
		return fmt.Errorf("coverage must be positive, got %.2f", cmd.config.Coverage)
	}
	return nil
}

// generateDemandLines spreads demands over the trading day, one every few minutes
func (cmd *GenerateCommand) generateDemandLines(day time.Time) []generatedDemand {
	demands := make([]generatedDemand, 0, cmd.config.Demands)
	at := day.Add(15 * time.Minute)
	for i := 0; i < cmd.config.Demands; i++ {
		profile := generatedCurrencies[cmd.rand.Intn(len(generatedCurrencies))]

		// One in five demands is pinned to the batch kind it was booked against
		kind := ""
		if cmd.rand.Intn(5) == 0 {
			kind = generatedKinds[cmd.rand.Intn(len(generatedKinds))]
		}

		purpose := "Purchase"
		if cmd.rand.Intn(4) == 0 {
			purpose = "Sale"
		}

		demands = append(demands, generatedDemand{
			ID:        fmt.Sprintf("D-%04d", i+1),
			Currency:  profile,
			Purpose:   purpose,
			Kind:      kind,
			Qty:       profile.Ticket/2 + cmd.rand.Int63n(profile.Ticket*2),
			CreatedAt: at,
			Source:    fmt.Sprintf("BR-%03d", 1+cmd.rand.Intn(40)),
		})
		at = at.Add(time.Duration(1+cmd.rand.Intn(6)) * time.Minute)
	}
	return demands
}

// batchPurpose makes every fourth batch a sale batch
func batchPurpose(b int) string {
	if b%4 == 3 {
		return "Sale"
	}
	return "Purchase"
}

// generateSupply sizes lots so total supply per FIFO line is coverage times its demand
func (cmd *GenerateCommand) generateSupply(day time.Time, demands []generatedDemand) error {
	need := make(map[string]int64)
	for _, d := range demands {
		need[d.Currency.Code+"|"+d.Purpose] += d.Qty
	}

	lotsPerLine := make(map[string]int)
	lotIndex := 0
	for b := 0; b < cmd.config.Batches; b++ {
		for l := 0; l < cmd.config.Lots; l++ {
			profile := generatedCurrencies[lotIndex%len(generatedCurrencies)]
			lotsPerLine[profile.Code+"|"+batchPurpose(b)]++
			lotIndex++
		}
	}

	rows := [][]string{{"batch_id", "kind", "purpose", "submitted_at", "lot_id", "currency", "total_qty", "rate", "created_at"}}
	lotIndex = 0
	span := 8 * time.Hour / time.Duration(cmd.config.Batches)
	for b := 0; b < cmd.config.Batches; b++ {
		batchID := fmt.Sprintf("B-%03d", b+1)
		kind := generatedKinds[cmd.rand.Intn(len(generatedKinds))]
		purpose := batchPurpose(b)
		submitted := day.Add(time.Duration(b) * span)

		for l := 0; l < cmd.config.Lots; l++ {
			profile := generatedCurrencies[lotIndex%len(generatedCurrencies)]
			lotIndex++

			line := profile.Code + "|" + purpose
			qty := cmd.lotQuantity(profile, need[line], lotsPerLine[line])
			rate := decimal.NewFromFloat(profile.Rate * (0.99 + cmd.rand.Float64()*0.02)).Round(4)

			rows = append(rows, []string{
				batchID,
				kind,
				purpose,
				submitted.Format(time.RFC3339),
				fmt.Sprintf("L-%05d", lotIndex),
				profile.Code,
				decimal.NewFromInt(qty).String(),
				rate.String(),
				submitted.Add(time.Duration(l) * time.Second).Format(time.RFC3339),
			})
		}
	}

	return cmd.writeCSV(fxcsv.SupplyFile, rows)
}

func (cmd *GenerateCommand) lotQuantity(profile currencyProfile, needed int64, lots int) int64 {
	if lots == 0 || needed == 0 {
		return profile.Ticket
	}
	target := int64(float64(needed) * cmd.config.Coverage / float64(lots))
	// Jitter lots by up to 20 percent either way
	jitter := float64(target) * (0.8 + cmd.rand.Float64()*0.4)
	qty := int64(jitter)
	if qty < 1 {
		qty = profile.Ticket
	}
	return qty
}

func (cmd *GenerateCommand) generateDemands(demands []generatedDemand) error {
	rows := [][]string{{"demand_id", "currency", "purpose", "batch_kind", "requested_qty", "created_at", "source"}}
	for _, d := range demands {
		rows = append(rows, []string{
			d.ID,
			d.Currency.Code,
			d.Purpose,
			d.Kind,
			decimal.NewFromInt(d.Qty).String(),
			d.CreatedAt.Format(time.RFC3339),
			d.Source,
		})
	}
	return cmd.writeCSV(fxcsv.DemandsFile, rows)
}

func (cmd *GenerateCommand) writeCSV(name string, rows [][]string) error {
	file, err := os.Create(filepath.Join(cmd.config.OutputDir, name))
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

// printHelp shows usage information
func (cmd *GenerateCommand) printHelp() {
	fmt.Fprintln(cmd.out, `FX Scenario Generator

USAGE:
    fxalloc generate [OPTIONS]

OPTIONS:
    -batches <N>        Number of supply batches (default: 4)
    -lots <N>           Lots per batch (default: 5)
    -demands <N>        Number of branch demands (default: 50)
    -coverage <F>       Supply multiplier (e.g., 0.5 = half of demand covered, 2.0 = twice) (default: 1.0)
    -output <DIR>       Output directory for generated files (required)
    -seed <N>           Random seed for reproducible generation (optional)
    -verbose            Enable verbose output
    -help               Show this help message

EXAMPLES:
    # Generate a small undersupplied day
    fxalloc generate -batches 2 -lots 3 -demands 20 -coverage 0.5 -output ./short_day

    # Generate a reproducible busy day
    fxalloc generate -batches 12 -lots 10 -demands 500 -coverage 1.2 -output ./busy_day -seed 12345`)
}
