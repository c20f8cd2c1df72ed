package flattab

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultOptionsValidates(t *testing.T) {
	o := DefaultOptions()
	o.OutputDir = "/tmp/out"
	require.NoError(t, o.Validate())
}

func TestValidateRejectsMissingOutputDir(t *testing.T) {
	o := DefaultOptions()
	err := o.Validate()
	require.Error(t, err)
	var fe *FlattenError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, ErrConfig, fe.Kind)
}

func TestValidateRejectsNoEncoders(t *testing.T) {
	o := DefaultOptions()
	o.OutputDir = "/tmp/out"
	o.CSV = false
	require.Error(t, o.Validate())
}

func TestValidateRejectsXLSXWithThreads(t *testing.T) {
	o := DefaultOptions()
	o.OutputDir = "/tmp/out"
	o.XLSX = true
	o.Threads = 4
	require.Error(t, o.Validate())
}

func TestValidateRejectsOnlyFieldsWithoutFieldsCSV(t *testing.T) {
	o := DefaultOptions()
	o.OutputDir = "/tmp/out"
	o.OnlyFields = true
	require.Error(t, o.Validate())
}

func TestValidateRejectsSchemaTitlesWithoutSchema(t *testing.T) {
	o := DefaultOptions()
	o.OutputDir = "/tmp/out"
	o.SchemaTitles = true
	require.Error(t, o.Validate())
}
