package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/vsinha/fxalloc/pkg/application/dto"
	"github.com/vsinha/fxalloc/pkg/application/services/allocation"
	"github.com/vsinha/fxalloc/pkg/domain/entities"
	"github.com/vsinha/fxalloc/pkg/infrastructure/repositories/csv"
	"github.com/vsinha/fxalloc/pkg/interfaces/cli/output"
)

// Config holds configuration for the simulate command
type Config struct {
	ConfigFile  string
	ScenarioDir string
	OutputDir   string
	Format      string
	EndOfDay    bool
	Verbose     bool
	Help        bool

	// Logger overrides the logger built from the config file
	Logger *zap.Logger
	// Out receives the report and progress messages; defaults to stdout
	Out io.Writer
}

// SimulateCommand replays a scenario directory through the allocation service
type SimulateCommand struct {
	config Config
	out    io.Writer
}

// NewSimulateCommand creates a new simulate command with the given configuration
func NewSimulateCommand(config Config) *SimulateCommand {
	out := config.Out
	if out == nil {
		out = os.Stdout
	}
	return &SimulateCommand{
		config: config,
		out:    out,
	}
}

// replayStep is one scenario input positioned on the replay timeline
type replayStep struct {
	at     time.Time
	supply *entities.Batch
	demand *entities.Demand
}

// Execute runs the simulate command
func (c *SimulateCommand) Execute(ctx context.Context) error {
	if c.config.Help {
		c.showHelp()
		return nil
	}

	if err := c.validateInputs(); err != nil {
		return fmt.Errorf("validation error: %w", err)
	}

	cfg, err := LoadConfig(c.config.ConfigFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if c.config.Verbose {
		c.printHeader(cfg.Store.Driver)
		fmt.Fprintln(c.out, "📂 Loading scenario from CSV files...")
	}

	scenario, err := csv.NewLoader().LoadScenario(c.config.ScenarioDir)
	if err != nil {
		return fmt.Errorf("error loading scenario: %w", err)
	}

	if c.config.Verbose {
		fmt.Fprintf(c.out, "✅ Scenario loaded successfully:\n")
		fmt.Fprintf(c.out, "  Batches: %d\n", len(scenario.Batches))
		fmt.Fprintf(c.out, "  Demands: %d\n", len(scenario.Demands))
		fmt.Fprintln(c.out)
	}

	rt, err := NewRuntime(cfg, c.config.Logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	if c.config.Verbose {
		fmt.Fprintln(c.out, "🔄 Replaying scenario...")
	}

	startTime := time.Now()
	report, err := c.replay(ctx, rt, scenario)
	if err != nil {
		return err
	}
	report.Duration = time.Since(startTime)

	if c.config.Verbose {
		fmt.Fprintf(c.out, "✅ Replay completed in %v\n\n", report.Duration)
	}

	err = output.Generate(report, output.Config{
		Format:    c.config.Format,
		OutputDir: c.config.OutputDir,
		Verbose:   c.config.Verbose,
		Writer:    c.out,
	})
	if err != nil {
		return fmt.Errorf("error generating output: %w", err)
	}

	if c.config.Verbose {
		fmt.Fprintln(c.out, "🏁 Simulation complete!")
	}
	return nil
}

// replay feeds the scenario to the service in chronological order, supply
// before demand on equal timestamps, and collects the final state.
func (c *SimulateCommand) replay(ctx context.Context, rt *Runtime, scenario *csv.Scenario) (*dto.SimulationReport, error) {
	report := &dto.SimulationReport{
		Scenario: filepath.Base(c.config.ScenarioDir),
		Store:    rt.Store,
	}

	steps := timeline(scenario)
	var last time.Time
	for _, step := range steps {
		rt.Clock.Set(step.at)
		last = step.at

		switch {
		case step.supply != nil:
			result, err := rt.Service.SubmitSupply(ctx, step.supply)
			if err != nil {
				return nil, fmt.Errorf("supply batch %s: %w", step.supply.ID, err)
			}
			report.Steps = append(report.Steps, dto.SimulationStep{At: step.at, Kind: dto.StepSupply, Supply: result})
		case step.demand != nil:
			d := step.demand
			result, err := rt.Service.SubmitDemand(ctx, allocation.DemandRequest{
				ID:        d.ID,
				Currency:  d.Currency,
				Purpose:   d.Purpose,
				Kind:      d.Kind,
				Qty:       d.RequestedQty,
				Source:    d.Source,
				CreatedAt: d.CreatedAt,
			})
			if err != nil {
				return nil, fmt.Errorf("demand %s: %w", d.ID, err)
			}
			report.Steps = append(report.Steps, dto.SimulationStep{At: step.at, Kind: dto.StepDemand, Demand: result})
		}
	}

	if c.config.EndOfDay && !last.IsZero() {
		at := rt.Config.CutoffOn(last)
		if at.Before(last) {
			at = last
		}
		rt.Clock.Set(at)
		ended, err := rt.Service.EndOfDay(ctx, at)
		if err != nil {
			return nil, fmt.Errorf("end of day: %w", err)
		}
		report.EndOfDay = ended
	}

	for _, batch := range scenario.Batches {
		batchReport, err := rt.Service.BatchReport(ctx, batch.ID)
		if err != nil {
			return nil, err
		}
		report.Batches = append(report.Batches, batchReport)
	}
	for _, key := range queueKeys(scenario) {
		snapshot, err := rt.Service.QueueSnapshot(ctx, key)
		if err != nil {
			return nil, err
		}
		report.Queues = append(report.Queues, snapshot)
	}

	audit, err := rt.Service.Audit(ctx)
	if err != nil {
		return nil, err
	}
	report.AuditErrors = audit.Errors
	report.Notifications = rt.Notifications()
	return report, nil
}

func timeline(scenario *csv.Scenario) []replayStep {
	steps := make([]replayStep, 0, len(scenario.Batches)+len(scenario.Demands))
	for _, batch := range scenario.Batches {
		steps = append(steps, replayStep{at: batch.SubmittedAt, supply: batch})
	}
	for _, demand := range scenario.Demands {
		steps = append(steps, replayStep{at: demand.CreatedAt, demand: demand})
	}
	sort.SliceStable(steps, func(i, j int) bool {
		if !steps[i].at.Equal(steps[j].at) {
			return steps[i].at.Before(steps[j].at)
		}
		return steps[i].supply != nil && steps[j].supply == nil
	})
	return steps
}

// queueKeys lists every FIFO line the scenario touches, sorted by currency then purpose
func queueKeys(scenario *csv.Scenario) []entities.QueueKey {
	seen := make(map[entities.QueueKey]bool)
	var keys []entities.QueueKey
	add := func(key entities.QueueKey) {
		if !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
	}
	for _, batch := range scenario.Batches {
		for _, lot := range batch.Lots {
			add(entities.QueueKey{Currency: lot.Currency, Purpose: batch.Purpose})
		}
	}
	for _, demand := range scenario.Demands {
		add(demand.Key())
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Currency != keys[j].Currency {
			return keys[i].Currency < keys[j].Currency
		}
		return keys[i].Purpose < keys[j].Purpose
	})
	return keys
}

// validateInputs validates the command configuration
func (c *SimulateCommand) validateInputs() error {
	if c.config.ScenarioDir == "" {
		return fmt.Errorf("must specify a -scenario directory")
	}
	for _, name := range []string{csv.SupplyFile, csv.DemandsFile} {
		path := filepath.Join(c.config.ScenarioDir, name)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return fmt.Errorf("%s not found in %s", name, c.config.ScenarioDir)
		}
	}
	return nil
}

// printHeader prints the command header information
func (c *SimulateCommand) printHeader(store string) {
	fmt.Fprintf(c.out, "💱 FX Allocation Engine CLI\n")
	fmt.Fprintf(c.out, "Scenario: %s\n", c.config.ScenarioDir)
	if c.config.ConfigFile != "" {
		fmt.Fprintf(c.out, "Config: %s\n", c.config.ConfigFile)
	}
	fmt.Fprintf(c.out, "Store: %s\n", store)
	fmt.Fprintf(c.out, "Output format: %s\n", c.config.Format)
	if c.config.OutputDir != "" {
		fmt.Fprintf(c.out, "Output directory: %s\n", c.config.OutputDir)
	}
	fmt.Fprintln(c.out)
}

// showHelp displays the help message
func (c *SimulateCommand) showHelp() {
	fmt.Fprintf(c.out, `FX Allocation Engine CLI - Currency lot allocation for branch demand

USAGE:
    fxalloc -scenario <directory> [options]

OPTIONS:
    -scenario <dir>     Path to scenario directory containing supply.csv and demands.csv
    -config <file>      YAML or TOML configuration file (optional)
    -output <dir>       Output directory for results (optional)
    -format <fmt>       Output format: text, json, csv, svg (default: text)
    -end-of-day         Run the end-of-day control after the replay
    -verbose            Enable verbose output
    -help               Show this help message

SCENARIO DIRECTORY STRUCTURE:
    scenario_name/
    ├── supply.csv      # Supply batches, one row per lot
    └── demands.csv     # Branch demands

CSV FILE FORMATS:

supply.csv:
    batch_id,kind,purpose,submitted_at,lot_id,currency,total_qty,rate,created_at
    B-DAILY-1,Daily,Purchase,2025-03-03T09:00:00Z,L-USD-1,USD,1000,83.10,2025-03-03T09:00:00Z

demands.csv:
    demand_id,currency,purpose,batch_kind,requested_qty,created_at,source
    D-1,USD,Purchase,,1500,2025-03-03T10:00:00Z,BR-001

EXAMPLES:
    # Replay a trading day
    fxalloc -scenario scenarios/trading_day -verbose

    # Replay against sqlite and close the day
    fxalloc -config fxalloc.yaml -scenario scenarios/trading_day -end-of-day

    # Write CSV results
    fxalloc -scenario scenarios/trading_day -format csv -output results/
`)
}
