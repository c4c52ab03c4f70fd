package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/vsinha/fxalloc/pkg/interfaces/cli/commands"
)

type command interface {
	Execute(ctx context.Context) error
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, err := parse(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	if err := cmd.Execute(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// parse picks the subcommand; without one the arguments configure a scenario replay
func parse(args []string) (command, error) {
	if len(args) > 0 {
		switch args[0] {
		case "session":
			return parseSession(args[1:])
		case "generate":
			return parseGenerate(args[1:])
		case "simulate":
			args = args[1:]
		}
	}
	return parseSimulate(args)
}

func parseSimulate(args []string) (command, error) {
	fs := flag.NewFlagSet("fxalloc", flag.ContinueOnError)
	var (
		configFile  = fs.String("config", "", "YAML or TOML configuration file")
		scenarioDir = fs.String("scenario", "", "Path to scenario directory containing supply.csv and demands.csv")
		outputDir   = fs.String("output", "", "Output directory for results (optional)")
		format      = fs.String("format", "text", "Output format: text, json, csv, svg")
		endOfDay    = fs.Bool("end-of-day", false, "Run the end-of-day control after the replay")
		verbose     = fs.Bool("verbose", false, "Enable verbose output")
		help        = fs.Bool("help", false, "Show help message")
	)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	return commands.NewSimulateCommand(commands.Config{
		ConfigFile:  *configFile,
		ScenarioDir: *scenarioDir,
		OutputDir:   *outputDir,
		Format:      *format,
		EndOfDay:    *endOfDay,
		Verbose:     *verbose,
		Help:        *help,
	}), nil
}

func parseSession(args []string) (command, error) {
	fs := flag.NewFlagSet("fxalloc session", flag.ContinueOnError)
	var (
		configFile  = fs.String("config", "", "YAML or TOML configuration file")
		scenarioDir = fs.String("scenario", "", "Scenario to replay before the prompt opens (optional)")
		verbose     = fs.Bool("verbose", false, "Enable verbose output")
		help        = fs.Bool("help", false, "Show help message")
	)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	return commands.NewSessionCommand(commands.SessionConfig{
		ConfigFile:  *configFile,
		ScenarioDir: *scenarioDir,
		Verbose:     *verbose,
		Help:        *help,
	}), nil
}

func parseGenerate(args []string) (command, error) {
	fs := flag.NewFlagSet("fxalloc generate", flag.ContinueOnError)
	var (
		batches   = fs.Int("batches", 4, "Number of supply batches")
		lots      = fs.Int("lots", 5, "Lots per batch")
		demands   = fs.Int("demands", 50, "Number of branch demands")
		coverage  = fs.Float64("coverage", 1.0, "Supply multiplier relative to demand")
		outputDir = fs.String("output", "", "Output directory for generated files")
		seed      = fs.Int64("seed", 0, "Random seed for reproducible generation")
		verbose   = fs.Bool("verbose", false, "Enable verbose output")
		help      = fs.Bool("help", false, "Show help message")
	)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	return commands.NewGenerateCommand(commands.GenerateConfig{
		Batches:   *batches,
		Lots:      *lots,
		Demands:   *demands,
		Coverage:  *coverage,
		OutputDir: *outputDir,
		Seed:      *seed,
		Verbose:   *verbose,
		Help:      *help,
	}), nil
}
