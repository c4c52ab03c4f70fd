package csv

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vsinha/fxalloc/pkg/domain/entities"
)

func TestLoader_LoadScenario(t *testing.T) {
	scenario, err := NewLoader().LoadScenario(filepath.Join("testdata", "trading_day"))
	require.NoError(t, err)

	require.Len(t, scenario.Batches, 2)
	daily := scenario.Batches[0]
	assert.Equal(t, "B-DAILY-1", daily.ID)
	assert.Equal(t, entities.Daily, daily.Kind)
	assert.Equal(t, entities.Purchase, daily.Purpose)
	require.Len(t, daily.Lots, 2)
	assert.Equal(t, "L-EUR-1", daily.Lots[1].ID)
	assert.Equal(t, "B-DAILY-1", daily.Lots[1].BatchID)
	assert.Equal(t, "90.45", daily.Lots[1].Rate.String())
	assert.True(t, daily.Lots[1].CreatedAt.Equal(time.Date(2025, 3, 3, 9, 5, 0, 0, time.UTC)))

	assert.Equal(t, entities.Interbank, scenario.Batches[1].Kind)

	require.Len(t, scenario.Demands, 2)
	assert.Equal(t, entities.AnyKind, scenario.Demands[0].Kind)
	assert.Equal(t, "BR-001", scenario.Demands[0].Source)
	assert.Equal(t, entities.CurrencyCode("EUR"), scenario.Demands[1].Currency)
	assert.Equal(t, entities.Daily, scenario.Demands[1].Kind)
	assert.Equal(t, "250.5", scenario.Demands[1].RequestedQty.String())
}

func TestLoader_RejectsInconsistentBatchRows(t *testing.T) {
	_, err := NewLoader().LoadScenario(filepath.Join("testdata", "bad_batch"))
	require.ErrorIs(t, err, entities.ErrInvalidInput)
	assert.Contains(t, err.Error(), "row 3")
}

func TestLoader_RejectsMalformedFiles(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "header mismatch",
			content: "id,currency,purpose,kind,qty,created_at,source\nD1,USD,Purchase,,10,2025-03-03T10:00:00Z,\n",
			want:    "header mismatch",
		},
		{
			name:    "bad quantity",
			content: "demand_id,currency,purpose,batch_kind,requested_qty,created_at,source\nD1,USD,Purchase,,lots,2025-03-03T10:00:00Z,\n",
			want:    "invalid requested_qty",
		},
		{
			name:    "bad timestamp",
			content: "demand_id,currency,purpose,batch_kind,requested_qty,created_at,source\nD1,USD,Purchase,,10,2025-03-03,\n",
			want:    "invalid created_at",
		},
		{
			name:    "non-positive quantity",
			content: "demand_id,currency,purpose,batch_kind,requested_qty,created_at,source\nD1,USD,Purchase,,0,2025-03-03T10:00:00Z,\n",
			want:    "row 2",
		},
		{
			name:    "empty file",
			content: "",
			want:    "header row",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), DemandsFile)
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o600))

			_, err := NewLoader().LoadDemands(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoader_MissingFile(t *testing.T) {
	_, err := NewLoader().LoadSupply(filepath.Join(t.TempDir(), SupplyFile))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open supply file")
}
