package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vsinha/fxalloc/pkg/application/services/allocation"
	"github.com/vsinha/fxalloc/pkg/domain/entities"
	"github.com/vsinha/fxalloc/pkg/infrastructure/repositories/csv"
)

// SessionConfig holds configuration for the interactive allocation session
type SessionConfig struct {
	ConfigFile  string
	ScenarioDir string // optional scenario replayed before the prompt opens
	Verbose     bool
	Help        bool

	Logger *zap.Logger
	In     io.Reader // defaults to stdin
	Out    io.Writer // defaults to stdout
}

// SessionCommand handles the interactive allocation session
type SessionCommand struct {
	config  SessionConfig
	runtime *Runtime
	scanner *bufio.Scanner
	out     io.Writer
}

// NewSessionCommand creates a new session command with the given configuration
func NewSessionCommand(config SessionConfig) *SessionCommand {
	in := config.In
	if in == nil {
		in = os.Stdin
	}
	out := config.Out
	if out == nil {
		out = os.Stdout
	}
	return &SessionCommand{
		config:  config,
		scanner: bufio.NewScanner(in),
		out:     out,
	}
}

// errQuit ends the session loop
var errQuit = errors.New("quit")

// Execute runs the session command
func (c *SessionCommand) Execute(ctx context.Context) error {
	if c.config.Help {
		c.printHelp()
		return nil
	}

	cfg, err := LoadConfig(c.config.ConfigFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	rt, err := NewRuntime(cfg, c.config.Logger)
	if err != nil {
		return err
	}
	defer rt.Close()
	c.runtime = rt

	if c.config.ScenarioDir != "" {
		if err := c.preload(ctx); err != nil {
			return err
		}
	}

	return c.runInteractiveSession(ctx)
}

func (c *SessionCommand) preload(ctx context.Context) error {
	scenario, err := csv.NewLoader().LoadScenario(c.config.ScenarioDir)
	if err != nil {
		return fmt.Errorf("failed to load scenario: %w", err)
	}
	sim := &SimulateCommand{config: Config{ScenarioDir: c.config.ScenarioDir}, out: c.out}
	report, err := sim.replay(ctx, c.runtime, scenario)
	if err != nil {
		return fmt.Errorf("failed to replay scenario: %w", err)
	}
	fmt.Fprintf(c.out, "Replayed %d steps from %s (%d allocations)\n",
		len(report.Steps), c.config.ScenarioDir, len(report.Allocations()))
	return nil
}

func (c *SessionCommand) runInteractiveSession(ctx context.Context) error {
	fmt.Fprintln(c.out, "=== FX Allocation Session ===")
	fmt.Fprintln(c.out, "Type 'help' for available commands")
	fmt.Fprintln(c.out)

	for {
		fmt.Fprint(c.out, "fx> ")
		if !c.scanner.Scan() {
			break
		}

		line := strings.TrimSpace(c.scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		err := c.processCommand(ctx, line)
		if errors.Is(err, errQuit) {
			fmt.Fprintln(c.out, "Goodbye!")
			return nil
		}
		if err != nil {
			fmt.Fprintf(c.out, "Error: %v\n", err)
		}
		fmt.Fprintln(c.out)
	}

	return c.scanner.Err()
}

func (c *SessionCommand) processCommand(ctx context.Context, line string) error {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return nil
	}

	command := strings.ToLower(parts[0])
	args := parts[1:]

	switch command {
	case "help", "h":
		c.printInteractiveHelp()
	case "supply":
		return c.handleSupply(ctx, args)
	case "demand":
		return c.handleDemand(ctx, args)
	case "cancel":
		return c.handleCancel(ctx, args)
	case "eod", "end-of-day":
		return c.handleEndOfDay(ctx, args)
	case "queue":
		return c.handleQueue(ctx, args)
	case "batch":
		return c.handleBatch(ctx, args)
	case "events":
		return c.handleShowEvents(args)
	case "audit":
		return c.handleAudit(ctx)
	case "quit", "q", "exit":
		return errQuit
	default:
		return fmt.Errorf("unknown command: %s (type 'help' for available commands)", command)
	}

	return nil
}

// handleSupply parses: supply <batch-id> <kind> <purpose> <lot-id>:<ccy>:<qty>:<rate> ...
func (c *SessionCommand) handleSupply(ctx context.Context, args []string) error {
	if len(args) < 4 {
		return fmt.Errorf("usage: supply <batch-id> <kind> <purpose> <lot-id>:<ccy>:<qty>:<rate> [...]")
	}

	kind, err := entities.ParseBatchKind(args[1])
	if err != nil {
		return err
	}
	purpose, err := entities.ParsePurpose(args[2])
	if err != nil {
		return err
	}

	now := c.runtime.Clock.Now()
	lots := make([]*entities.Lot, 0, len(args)-3)
	for _, spec := range args[3:] {
		lot, err := parseLotSpec(spec, now)
		if err != nil {
			return err
		}
		lots = append(lots, lot)
	}

	batch, err := entities.NewBatch(args[0], kind, purpose, now, lots)
	if err != nil {
		return err
	}
	result, err := c.runtime.Service.SubmitSupply(ctx, batch)
	if err != nil {
		return err
	}

	fmt.Fprintf(c.out, "Submitted batch %s (%s %s) with %d lots\n",
		result.Batch.ID, result.Batch.Kind, result.Batch.Purpose, len(result.Batch.Lots))
	for _, alloc := range result.QueueAllocations {
		fmt.Fprintf(c.out, "  queued demand %s <- %s %s from lot %s\n",
			alloc.DemandID, alloc.Qty, alloc.Currency, alloc.LotID)
	}
	return nil
}

func parseLotSpec(spec string, createdAt time.Time) (*entities.Lot, error) {
	fields := strings.Split(spec, ":")
	if len(fields) != 4 {
		return nil, fmt.Errorf("%w: lot %q must be <lot-id>:<ccy>:<qty>:<rate>", entities.ErrInvalidInput, spec)
	}
	currency, err := entities.ParseCurrency(fields[1])
	if err != nil {
		return nil, err
	}
	qty, err := decimal.NewFromString(fields[2])
	if err != nil {
		return nil, fmt.Errorf("%w: invalid quantity %q", entities.ErrInvalidInput, fields[2])
	}
	rate, err := decimal.NewFromString(fields[3])
	if err != nil {
		return nil, fmt.Errorf("%w: invalid rate %q", entities.ErrInvalidInput, fields[3])
	}
	return entities.NewLot(fields[0], currency, qty, rate, createdAt)
}

// handleDemand parses: demand <id> <ccy> <purpose> <qty> [kind] [source]
func (c *SessionCommand) handleDemand(ctx context.Context, args []string) error {
	if len(args) < 4 {
		return fmt.Errorf("usage: demand <id> <ccy> <purpose> <qty> [kind] [source]")
	}

	currency, err := entities.ParseCurrency(args[1])
	if err != nil {
		return err
	}
	purpose, err := entities.ParsePurpose(args[2])
	if err != nil {
		return err
	}
	qty, err := decimal.NewFromString(args[3])
	if err != nil {
		return fmt.Errorf("invalid quantity: %s", args[3])
	}

	kind := entities.AnyKind
	if len(args) > 4 {
		if kind, err = entities.ParseBatchKind(args[4]); err != nil {
			return err
		}
	}
	source := "CLI"
	if len(args) > 5 {
		source = args[5]
	}

	result, err := c.runtime.Service.SubmitDemand(ctx, allocation.DemandRequest{
		ID:       args[0],
		Currency: currency,
		Purpose:  purpose,
		Kind:     kind,
		Qty:      qty,
		Source:   source,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(c.out, "Demand %s: %s\n", result.Demand.ID, result.Demand.Status)
	for _, alloc := range result.Allocations {
		fmt.Fprintf(c.out, "  allocated %s %s from lot %s (batch %s) at %s\n",
			alloc.Qty, alloc.Currency, alloc.LotID, alloc.BatchID, alloc.Rate)
	}
	if result.QueueEntry != nil {
		fmt.Fprintf(c.out, "  queued %s at position #%d\n", result.QueueEntry.Qty, result.QueueEntry.Seq)
	}
	if result.NoEligibleLots {
		fmt.Fprintln(c.out, "  no eligible lots")
	}
	return nil
}

func (c *SessionCommand) handleCancel(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: cancel <demand-id>")
	}
	result, err := c.runtime.Service.CancelDemand(ctx, args[0])
	if result != nil && err != nil {
		fmt.Fprintf(c.out, "Withdrew queued remainder of demand %s: closed %d queue entries, allocations stay booked\n",
			result.Demand.ID, len(result.ClosedEntries))
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Cancelled demand %s: reversed %d allocations, restored %s, closed %d queue entries\n",
		result.Demand.ID, len(result.Reversed), result.RestoredQty, len(result.ClosedEntries))
	return nil
}

// handleEndOfDay parses: eod [HH:MM]; the configured cutoff applies by default
func (c *SessionCommand) handleEndOfDay(ctx context.Context, args []string) error {
	now := c.runtime.Clock.Now()
	at := c.runtime.Config.CutoffOn(now)
	if len(args) > 0 {
		clock, err := time.Parse("15:04", args[0])
		if err != nil {
			return fmt.Errorf("invalid time format (use HH:MM): %s", args[0])
		}
		y, m, d := now.Date()
		at = time.Date(y, m, d, clock.Hour(), clock.Minute(), 0, 0, now.Location())
	}

	result, err := c.runtime.Service.EndOfDay(ctx, at)
	if err != nil {
		return err
	}
	if len(result.Ended) == 0 {
		fmt.Fprintf(c.out, "End of day at %s: no batches ended\n", at.Format("2006-01-02 15:04"))
		return nil
	}
	fmt.Fprintf(c.out, "End of day at %s: ended %s\n", at.Format("2006-01-02 15:04"), strings.Join(result.Ended, ", "))
	return nil
}

func (c *SessionCommand) handleQueue(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: queue <ccy> <purpose>")
	}
	currency, err := entities.ParseCurrency(args[0])
	if err != nil {
		return err
	}
	purpose, err := entities.ParsePurpose(args[1])
	if err != nil {
		return err
	}

	snapshot, err := c.runtime.Service.QueueSnapshot(ctx, entities.QueueKey{Currency: currency, Purpose: purpose})
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "=== Queue %s %s: depth %d, outstanding %s ===\n",
		snapshot.Currency, snapshot.Purpose, snapshot.Depth, snapshot.Outstanding)
	for _, entry := range snapshot.Entries {
		fmt.Fprintf(c.out, "#%d %s %s of %s (%s) since %s\n",
			entry.Seq, entry.DemandID, entry.Qty, entry.OriginalQty, entry.Kind, entry.EnqueuedAt.Format("15:04:05"))
	}
	return nil
}

func (c *SessionCommand) handleBatch(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: batch <batch-id>")
	}
	report, err := c.runtime.Service.BatchReport(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "=== Batch %s (%s %s) status %s available=%t ===\n",
		report.ID, report.Kind, report.Purpose, report.Status, report.Available)
	for _, lot := range report.Lots {
		fmt.Fprintf(c.out, "%s %s %s/%s fill %s%% %s\n",
			lot.ID, lot.Currency, lot.AllocatedQty, lot.TotalQty, lot.FillPercentage.StringFixed(2), lot.Status)
	}
	return nil
}

func (c *SessionCommand) handleShowEvents(args []string) error {
	limit := 10
	if len(args) > 0 {
		if l, err := strconv.Atoi(args[0]); err == nil {
			limit = l
		}
	}

	c.runtime.Events.Drain()
	allEvents, err := c.runtime.Events.ReadAllEvents(0)
	if err != nil {
		return fmt.Errorf("failed to read events: %w", err)
	}

	fmt.Fprintf(c.out, "=== Recent Events (last %d) ===\n", limit)
	start := len(allEvents) - limit
	if start < 0 {
		start = 0
	}
	for i := start; i < len(allEvents); i++ {
		event := allEvents[i]
		fmt.Fprintf(c.out, "[%s] %s -> %s\n",
			event.Timestamp().Format("15:04:05"),
			event.Type(),
			event.StreamID())
	}
	return nil
}

func (c *SessionCommand) handleAudit(ctx context.Context) error {
	result, err := c.runtime.Service.Audit(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Audited %d lots and %d demands\n", result.LotsChecked, result.DemandsChecked)
	if result.OK() {
		fmt.Fprintln(c.out, "✅ No violations")
		return nil
	}
	for _, problem := range result.Errors {
		fmt.Fprintf(c.out, "⚠️  %s\n", problem)
	}
	return nil
}

func (c *SessionCommand) printHelp() {
	fmt.Fprintln(c.out, `FX Allocation Session

USAGE:
    fxalloc session [OPTIONS]

OPTIONS:
    -config <file>      YAML or TOML configuration file (optional)
    -scenario <dir>     Scenario to replay before the prompt opens (optional)
    -verbose            Enable verbose output
    -help               Show this help message

DESCRIPTION:
    Starts an interactive session where you can submit supply and demand,
    cancel demands, run end of day and inspect batches and queues.`)
}

func (c *SessionCommand) printInteractiveHelp() {
	fmt.Fprintln(c.out, `Available commands:

  supply <batch-id> <kind> <purpose> <lot-id>:<ccy>:<qty>:<rate> [...]
      Submit a supply batch
      Example: supply B1 daily purchase L1:USD:1000:83.10 L2:EUR:500:90.45

  demand <id> <ccy> <purpose> <qty> [kind] [source]
      Submit a demand
      Example: demand D1 USD purchase 1500 any BR-001

  cancel <demand-id>
      Cancel a demand and reverse its allocations

  eod [HH:MM]
      Run the end-of-day control (default: configured cutoff)

  queue <ccy> <purpose>
      Show the FIFO queue for a currency and purpose

  batch <batch-id>
      Show a batch and its lots

  events [limit]
      Show recent events (default: 10)

  audit
      Check allocation invariants

  help, h
      Show this help message

  quit, q, exit
      Exit the session`)
}
