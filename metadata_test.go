package flattab

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildDataPackageSkipsIgnoredTables(t *testing.T) {
	r := NewRegistry()
	r.ObserveTyped("main", "id", "1")
	r.ObserveTyped("main", "name", "a")
	r.ObserveTyped("e", "ea", float64(1))
	t1, _ := r.Table("e")
	t1.Ignore = true

	dp := BuildDataPackage("pkg", r)
	require.Len(t, dp.Resources, 1)
	assert.Equal(t, "main", dp.Resources[0].Name)
	assert.Equal(t, "main.csv", dp.Resources[0].Path)
	require.Len(t, dp.Resources[0].Schema.Fields, 2)
	assert.Equal(t, "id", dp.Resources[0].Schema.Fields[0].Name)
}

func TestWriteDataPackageJSONAndFieldsCSV(t *testing.T) {
	r := NewRegistry()
	r.ObserveTyped("main", "id", "1")
	r.IncRowCount("main")

	dir := t.TempDir()
	dp := BuildDataPackage("pkg", r)
	require.NoError(t, WriteDataPackageJSON(filepath.Join(dir, "data_package.json"), dp))
	require.NoError(t, WriteFieldsCSV(filepath.Join(dir, "fields.csv"), r))

	body, err := os.ReadFile(filepath.Join(dir, "fields.csv"))
	require.NoError(t, err)
	assert.Contains(t, string(body), "main,id,")
}
