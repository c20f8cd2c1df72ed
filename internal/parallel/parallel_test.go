package parallel

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lychee-technology/flattab"
	"github.com/stretchr/testify/require"
)

func testOptions(t *testing.T, threads int) *flattab.Options {
	opts := flattab.DefaultOptions()
	opts.OutputDir = filepath.Join(t.TempDir(), "out")
	opts.InputMode = flattab.InputNDJSON
	opts.Threads = threads
	return opts
}

func TestRunMergesPartsIntoOneCSV(t *testing.T) {
	opts := testOptions(t, 2)
	input := strings.NewReader(`{"id":"1","name":"a"}` + "\n" +
		`{"id":"2","name":"b"}` + "\n" +
		`{"id":"3","name":"c"}` + "\n")

	res, err := Run(context.Background(), input, opts)
	require.NoError(t, err)
	require.Contains(t, res.Tables, "main")

	f, err := os.Open(filepath.Join(opts.OutputDir, "csv", "main.csv"))
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	// header + 3 data rows
	require.Len(t, records, 4)

	_, err = os.Stat(filepath.Join(opts.OutputDir, "parts"))
	require.True(t, os.IsNotExist(err))

	_, err = os.Stat(filepath.Join(opts.OutputDir, "data_package.json"))
	require.NoError(t, err)
}

func TestRunAssignsDisjointLinkPrefixesAcrossWorkers(t *testing.T) {
	opts := testOptions(t, 3)
	input := strings.NewReader(`{"id":"1"}` + "\n" +
		`{"id":"2"}` + "\n" +
		`{"id":"3"}` + "\n" +
		`{"id":"4"}` + "\n")

	_, err := Run(context.Background(), input, opts)
	require.NoError(t, err)

	f, err := os.Open(filepath.Join(opts.OutputDir, "csv", "main.csv"))
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 5)

	header := records[0]
	linkCol := -1
	for i, h := range header {
		if h == flattab.LinkColumn {
			linkCol = i
		}
	}
	require.GreaterOrEqual(t, linkCol, 0)

	seen := map[string]bool{}
	for _, row := range records[1:] {
		link := row[linkCol]
		require.False(t, seen[link], "duplicate link value %q", link)
		seen[link] = true
	}
}
