package csvio

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/lychee-technology/flattab"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTempWriterPoolAndFinalizerRoundTrip(t *testing.T) {
	dir := t.TempDir()
	tmp := filepath.Join(dir, "tmp")
	require.NoError(t, os.MkdirAll(tmp, 0o755))

	reg := flattab.NewRegistry()
	pool := NewTempWriterPool(tmp, reg)

	reg.ObserveTyped("main", "id", "1")
	reg.ObserveTyped("main", "name", "alice")
	require.NoError(t, pool.WriteRow("main", flattab.Row{"id": "1", "name": "alice"}))

	reg.ObserveTyped("main", "id", "2")
	reg.ObserveTyped("main", "extra", "z")
	require.NoError(t, pool.WriteRow("main", flattab.Row{"id": "2", "name": "", "extra": "z"}))

	opts := flattab.DefaultOptions()
	opts.OutputDir = dir
	fz := NewFinalizer(opts, reg, pool, nil)
	require.NoError(t, fz.Run())

	body, err := os.ReadFile(filepath.Join(dir, "csv", "main.csv"))
	require.NoError(t, err)
	assert.Contains(t, string(body), "id,name,extra")
	assert.Contains(t, string(body), "1,alice,")
	assert.Contains(t, string(body), "2,,z")

	_, err = os.Stat(filepath.Join(dir, "data_package.json"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "fields.csv"))
	require.NoError(t, err)
}

func TestFinalizerPreSeededTableWithNoRowsGetsHeaderOnlyCSV(t *testing.T) {
	dir := t.TempDir()
	tmp := filepath.Join(dir, "tmp")
	require.NoError(t, os.MkdirAll(tmp, 0o755))

	reg := flattab.NewRegistry()
	reg.PreSeedFields("empty_table", []string{"id", "name"})
	pool := NewTempWriterPool(tmp, reg)

	opts := flattab.DefaultOptions()
	opts.OutputDir = dir
	fz := NewFinalizer(opts, reg, pool, nil)
	require.NoError(t, fz.Run())

	body, err := os.ReadFile(filepath.Join(dir, "csv", "empty_table.csv"))
	require.NoError(t, err)
	assert.Equal(t, "id,name\n", string(body))
}
