package verify

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/lychee-technology/flattab"
	"github.com/stretchr/testify/require"
)

func writeCSV(t *testing.T, dir, table string, lines []string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, table+".csv"), []byte(content), 0o644))
}

func TestRoundTripJoinsChildToMain(t *testing.T) {
	out := t.TempDir()
	csvDir := filepath.Join(out, "csv")
	writeCSV(t, csvDir, "main", []string{
		"_link,_link_main,a",
		"1,1,a",
		"2,2,b",
	})
	writeCSV(t, csvDir, "e", []string{
		"_link,_link_main,ea",
		"1.e.0,1,1",
		"2.e.0,2,2",
	})

	opts := &flattab.Options{OutputDir: out, MainTableName: "main"}
	counts, err := RoundTrip(context.Background(), opts, "main")
	require.NoError(t, err)

	require.Equal(t, 2, counts["main"].Rows)
	require.Equal(t, 2, counts["e"].Rows)
	require.Equal(t, 2, counts["e"].Children["main"])
}

func TestRoundTripDetectsOrphanedLink(t *testing.T) {
	out := t.TempDir()
	csvDir := filepath.Join(out, "csv")
	writeCSV(t, csvDir, "main", []string{
		"_link,_link_main,a",
		"1,1,a",
	})
	writeCSV(t, csvDir, "e", []string{
		"_link,_link_main,ea",
		"1.e.0,1,1",
		"9.e.0,9,9",
	})

	opts := &flattab.Options{OutputDir: out, MainTableName: "main"}
	counts, err := RoundTrip(context.Background(), opts, "main")
	require.NoError(t, err)

	require.Equal(t, 2, counts["e"].Rows)
	require.Equal(t, 1, counts["e"].Children["main"])
}

func TestRoundTripSkipsTablesWithoutLinkColumn(t *testing.T) {
	out := t.TempDir()
	csvDir := filepath.Join(out, "csv")
	writeCSV(t, csvDir, "main", []string{
		"_link,_link_main,a",
		"1,1,a",
	})
	writeCSV(t, csvDir, "standalone", []string{
		"x",
		"z",
	})

	opts := &flattab.Options{OutputDir: out, MainTableName: "main"}
	counts, err := RoundTrip(context.Background(), opts, "main")
	require.NoError(t, err)
	require.Len(t, counts, 2)
	require.Nil(t, counts["standalone"].Children)
}

func TestRoundTripRequiresMainTableCSV(t *testing.T) {
	out := t.TempDir()
	csvDir := filepath.Join(out, "csv")
	writeCSV(t, csvDir, "e", []string{"_link,_link_main,ea", "1.e.0,1,1"})

	opts := &flattab.Options{OutputDir: out, MainTableName: "main"}
	_, err := RoundTrip(context.Background(), opts, "main")
	require.Error(t, err)
}
