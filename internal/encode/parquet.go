package encode

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"

	"github.com/lychee-technology/flattab"
	pq "github.com/parquet-go/parquet-go"
)

// WriteParquet writes one <table>.parquet file per non-ignored table under
// output_dir/parquet, reading each table's finalized CSV back in. Every
// column is typed as an optional UTF8 string: the finalized CSV already
// lost the original JSON types, and re-deriving number/boolean columns from
// their accreted FieldType would let a single malformed row fail the whole
// table's write.
func WriteParquet(opts *flattab.Options, reg *flattab.Registry) error {
	dir := filepath.Join(opts.OutputDir, "parquet")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return flattab.IOErrorf(dir, "creating parquet dir: %v", err)
	}

	for _, table := range reg.Tables() {
		t, ok := reg.Table(table)
		if !ok || t.Ignore {
			continue
		}
		if err := writeParquetTable(dir, csvPath(opts, table), t); err != nil {
			return err
		}
	}
	return nil
}

func writeParquetTable(dir, srcCSV string, t *flattab.TableSchema) error {
	fields := t.NonIgnoredFields()
	schema := allStringSchema(t.Name, fields)

	outPath := filepath.Join(dir, t.Name+".parquet")
	out, err := os.Create(outPath)
	if err != nil {
		return flattab.IOErrorf(outPath, "creating parquet file: %v", err)
	}
	defer out.Close()

	writer := pq.NewGenericWriter[map[string]any](out, schema)

	in, err := os.Open(srcCSV)
	if err != nil {
		return flattab.IOErrorf(srcCSV, "opening finalized csv: %v", err)
	}
	defer in.Close()

	r := csv.NewReader(in)
	if _, err := r.Read(); err != nil && err != io.EOF {
		return flattab.ParseErrorf(srcCSV, "reading csv header: %v", err)
	}

	batch := make([]map[string]any, 0, 1024)
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return flattab.ParseErrorf(srcCSV, "reading finalized csv: %v", err)
		}
		row := make(map[string]any, len(fields))
		for i, f := range fields {
			if i < len(record) && record[i] != "" {
				row[f] = record[i]
			}
		}
		batch = append(batch, row)
		if len(batch) == cap(batch) {
			if _, err := writer.Write(batch); err != nil {
				return flattab.IOErrorf(outPath, "writing parquet rows: %v", err)
			}
			batch = batch[:0]
		}
	}
	if len(batch) > 0 {
		if _, err := writer.Write(batch); err != nil {
			return flattab.IOErrorf(outPath, "writing parquet rows: %v", err)
		}
	}

	if err := writer.Close(); err != nil {
		return flattab.IOErrorf(outPath, "closing parquet writer: %v", err)
	}
	return nil
}

func allStringSchema(name string, fields []string) *pq.Schema {
	group := make(pq.Group, len(fields))
	for _, f := range fields {
		group[f] = pq.Optional(pq.String())
	}
	return pq.NewSchema(name, group)
}
