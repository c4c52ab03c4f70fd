// Package config loads runtime configuration for the allocation engine.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/vsinha/fxalloc/pkg/domain/entities"
)

// Duration wraps time.Duration to support YAML and TOML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	return d.UnmarshalText([]byte(value.Value))
}

// UnmarshalText parses human readable duration strings.
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures runtime configuration for fxalloc.
type Config struct {
	Service    string         `yaml:"service" toml:"service"`
	Env        string         `yaml:"env" toml:"env"`
	Log        LogConfig      `yaml:"log" toml:"log"`
	Store      StoreConfig    `yaml:"store" toml:"store"`
	Thresholds []float64      `yaml:"thresholds" toml:"thresholds"`
	EndOfDay   EndOfDayConfig `yaml:"end_of_day" toml:"end_of_day"`
}

// LogConfig selects the logger level and encoding.
type LogConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Driver string `yaml:"driver" toml:"driver"` // memory|sqlite
	DSN    string `yaml:"dsn" toml:"dsn"`
}

// EndOfDayConfig controls the external end-of-day trigger.
type EndOfDayConfig struct {
	Kinds  []string  `yaml:"kinds" toml:"kinds"`
	Cutoff *Duration `yaml:"cutoff" toml:"cutoff"` // offset from midnight; nil until defaulted
}

// Default returns the configuration used when no file is supplied.
func Default() Config {
	cfg := Config{}
	applyDefaults(&cfg)
	return cfg
}

// Load reads configuration from the supplied path; .toml files are decoded as
// TOML, everything else as YAML.
func Load(path string) (Config, error) {
	cfg := Config{}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.NewDecoder(file).Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("decode config: %w", err)
		}
	default:
		dec := yaml.NewDecoder(file)
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("decode config: %w", err)
		}
	}

	applyDefaults(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Service == "" {
		cfg.Service = "fxalloc"
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "memory"
	}
	if len(cfg.Thresholds) == 0 {
		cfg.Thresholds = []float64{80}
	}
	if len(cfg.EndOfDay.Kinds) == 0 {
		cfg.EndOfDay.Kinds = []string{entities.Daily.String()}
	}
	if cfg.EndOfDay.Cutoff == nil {
		cfg.EndOfDay.Cutoff = &Duration{17 * time.Hour}
	}
}

func validate(cfg Config) error {
	switch cfg.Store.Driver {
	case "memory":
	case "sqlite":
		if strings.TrimSpace(cfg.Store.DSN) == "" {
			return fmt.Errorf("store.dsn is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("unsupported store driver %q", cfg.Store.Driver)
	}
	for _, t := range cfg.Thresholds {
		if t <= 0 || t > 100 {
			return fmt.Errorf("threshold %v must be within (0, 100]", t)
		}
	}
	if _, err := cfg.EndOfDayKinds(); err != nil {
		return err
	}
	if cutoff := cfg.Cutoff(); cutoff < 0 || cutoff >= 24*time.Hour {
		return fmt.Errorf("end_of_day.cutoff must be within a day, got %s", cutoff)
	}
	return nil
}

// ThresholdDecimals returns the configured fill-percentage thresholds as decimals.
func (c Config) ThresholdDecimals() []decimal.Decimal {
	out := make([]decimal.Decimal, 0, len(c.Thresholds))
	for _, t := range c.Thresholds {
		out = append(out, decimal.NewFromFloat(t))
	}
	return out
}

// EndOfDayKinds parses the batch kinds forced to Ended at end of day.
func (c Config) EndOfDayKinds() ([]entities.BatchKind, error) {
	kinds := make([]entities.BatchKind, 0, len(c.EndOfDay.Kinds))
	for _, raw := range c.EndOfDay.Kinds {
		kind, err := entities.ParseBatchKind(raw)
		if err != nil {
			return nil, fmt.Errorf("end_of_day.kinds: %w", err)
		}
		if kind == entities.AnyKind {
			return nil, fmt.Errorf("end_of_day.kinds: %q is not a batch kind", raw)
		}
		kinds = append(kinds, kind)
	}
	return kinds, nil
}

// Cutoff returns the end-of-day offset from midnight.
func (c Config) Cutoff() time.Duration {
	if c.EndOfDay.Cutoff == nil {
		return 0
	}
	return c.EndOfDay.Cutoff.Duration
}

// CutoffOn returns the end-of-day instant for the calendar day of t.
func (c Config) CutoffOn(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location()).Add(c.Cutoff())
}
