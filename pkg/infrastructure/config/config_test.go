package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vsinha/fxalloc/pkg/domain/entities"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, "fxalloc.yaml", `
service: fx-branch
log:
  level: warn
  format: json
store:
  driver: sqlite
  dsn: /tmp/fx.db
thresholds: [80, 95.5]
end_of_day:
  kinds: [Daily, holiday]
  cutoff: 16h30m
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "fx-branch", cfg.Service)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, 16*time.Hour+30*time.Minute, cfg.Cutoff())

	thresholds := cfg.ThresholdDecimals()
	require.Len(t, thresholds, 2)
	assert.True(t, thresholds[1].Equal(decimal.RequireFromString("95.5")))

	kinds, err := cfg.EndOfDayKinds()
	require.NoError(t, err)
	assert.Equal(t, []entities.BatchKind{entities.Daily, entities.Holiday}, kinds)

	day := time.Date(2025, 6, 2, 9, 15, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 6, 2, 16, 30, 0, 0, time.UTC), cfg.CutoffOn(day))
}

func TestLoad_TOMLDefaults(t *testing.T) {
	path := writeFile(t, "fxalloc.toml", `
env = "production"

[end_of_day]
cutoff = "18h"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "fxalloc", cfg.Service)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, []float64{80}, cfg.Thresholds)
	assert.Equal(t, []string{"Daily"}, cfg.EndOfDay.Kinds)
	assert.Equal(t, 18*time.Hour, cfg.Cutoff())
}

func TestLoad_MidnightCutoff(t *testing.T) {
	cfg, err := Load(writeFile(t, "fxalloc.yaml", "end_of_day:\n  cutoff: 0s\n"))
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), cfg.Cutoff())

	day := time.Date(2025, 6, 2, 9, 15, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC), cfg.CutoffOn(day))

	cfg, err = Load(writeFile(t, "fxalloc.toml", "[end_of_day]\ncutoff = \"0h\"\n"))
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), cfg.Cutoff())

	assert.Equal(t, 17*time.Hour, Default().Cutoff())
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown driver", "store:\n  driver: mongo\n"},
		{"sqlite without dsn", "store:\n  driver: sqlite\n"},
		{"threshold out of range", "thresholds: [120]\n"},
		{"unknown kind", "end_of_day:\n  kinds: [weekly]\n"},
		{"any kind", "end_of_day:\n  kinds: [any]\n"},
		{"bad cutoff", "end_of_day:\n  cutoff: soon\n"},
		{"unknown field", "thresholdz: [1]\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, "cfg.yaml", tt.content))
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.NoError(t, validate(cfg))
}
