package datasource

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steadyq-io/steadyq/internal/scenario"
)

func writeCSV(t *testing.T, content string) string {
	dir := t.TempDir()
	path := filepath.Join(dir, "rows.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadCSVSequentialStopsAtEnd(t *testing.T) {
	path := writeCSV(t, "id,name\n1,alice\n2,bob\n")
	src, err := Load(scenario.DataFileConfig{Path: path, Format: scenario.DataFormatCSV, Strategy: scenario.DataStrategySequential})
	require.NoError(t, err)
	assert.Equal(t, 2, src.Len())

	r1, err := src.Next()
	require.NoError(t, err)
	assert.Equal(t, "alice", r1["name"])

	r2, err := src.Next()
	require.NoError(t, err)
	assert.Equal(t, "bob", r2["name"])

	_, err = src.Next()
	assert.ErrorIs(t, err, ErrExhausted)
}

func TestLoadCSVCycleWrapsAround(t *testing.T) {
	path := writeCSV(t, "id\n1\n2\n")
	src, err := Load(scenario.DataFileConfig{Path: path, Format: scenario.DataFormatCSV, Strategy: scenario.DataStrategyCycle})
	require.NoError(t, err)

	var ids []string
	for i := 0; i < 4; i++ {
		r, err := src.Next()
		require.NoError(t, err)
		ids = append(ids, r["id"])
	}
	assert.Equal(t, []string{"1", "2", "1", "2"}, ids)
}

func TestLoadJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rows.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"id":1,"name":"alice"},{"id":2,"name":"bob"}]`), 0o644))

	src, err := Load(scenario.DataFileConfig{Path: path, Format: scenario.DataFormatJSON, Strategy: scenario.DataStrategyRandom})
	require.NoError(t, err)
	assert.Equal(t, 2, src.Len())

	r, err := src.Next()
	require.NoError(t, err)
	assert.Contains(t, []string{"alice", "bob"}, r["name"])
}
