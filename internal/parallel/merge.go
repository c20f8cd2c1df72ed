package parallel

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"

	"github.com/lychee-technology/flattab"
)

// mergeParts combines every worker's Registry into one merged schema, then
// rewrites each non-ignored table's final CSV by projecting every part's
// temp CSV (each still in that part's own field-discovery order) onto the
// merged field order. Schema-driven field ordering is applied once here,
// against the merged schema, rather than per part.
func mergeParts(opts *flattab.Options, parts []*part) (*flattab.Registry, error) {
	merged := flattab.NewRegistry()
	for _, p := range parts {
		merged.MergeFrom(p.reg)
	}
	merged.ApplyIgnoreRules(opts.PathSeparator)

	var orders map[string]*flattab.FieldOrder
	if opts.Schema != "" {
		var err error
		orders, err = flattab.LoadFieldOrder(opts.Schema, opts.MainTableName, opts.PathSeparator)
		if err != nil {
			return nil, err
		}
	}

	csvDir := filepath.Join(opts.OutputDir, "csv")
	if err := os.MkdirAll(csvDir, 0o755); err != nil {
		return nil, flattab.IOErrorf(csvDir, "creating csv dir: %v", err)
	}

	for _, table := range merged.Tables() {
		t, ok := merged.Table(table)
		if !ok || t.Ignore {
			continue
		}
		if err := mergeTable(csvDir, t, parts, orders, opts); err != nil {
			return nil, err
		}
	}

	dp := flattab.BuildDataPackage(opts.MainTableName, merged)
	if err := flattab.WriteDataPackageJSON(filepath.Join(opts.OutputDir, "data_package.json"), dp); err != nil {
		return nil, err
	}
	if err := flattab.WriteFieldsCSV(filepath.Join(opts.OutputDir, "fields.csv"), merged); err != nil {
		return nil, err
	}
	return merged, nil
}

func mergeTable(csvDir string, t *flattab.TableSchema, parts []*part, orders map[string]*flattab.FieldOrder, opts *flattab.Options) error {
	finalFields := t.NonIgnoredFields()
	var fo *flattab.FieldOrder
	if orders != nil {
		fo = orders[t.Name]
	}
	if fo != nil {
		finalFields = fo.OrderFields(finalFields)
	}

	header := make([]string, len(finalFields))
	for i, f := range finalFields {
		header[i] = fo.Header(f, opts.SchemaTitles)
	}

	outPath := filepath.Join(csvDir, t.Name+".csv")
	out, err := os.Create(outPath)
	if err != nil {
		return flattab.IOErrorf(outPath, "creating merged csv: %v", err)
	}
	defer out.Close()

	w := csv.NewWriter(out)
	if err := w.Write(header); err != nil {
		return flattab.IOErrorf(outPath, "writing merged header: %v", err)
	}

	for _, p := range parts {
		if err := appendPartRows(w, p, t.Name, finalFields); err != nil {
			return err
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return flattab.IOErrorf(outPath, "flushing merged csv: %v", err)
	}
	return nil
}

func appendPartRows(w *csv.Writer, p *part, table string, finalFields []string) error {
	tempPath := filepath.Join(p.dir, table+".csv")
	if _, err := os.Stat(tempPath); os.IsNotExist(err) {
		return nil
	}

	partTable, ok := p.reg.Table(table)
	if !ok {
		return nil
	}
	fullFields := partTable.Fields()
	fullIndex := make(map[string]int, len(fullFields))
	for i, f := range fullFields {
		fullIndex[f] = i
	}
	positions := make([]int, len(finalFields))
	present := make([]bool, len(finalFields))
	for i, f := range finalFields {
		pos, ok := fullIndex[f]
		positions[i] = pos
		present[i] = ok
	}

	in, err := os.Open(tempPath)
	if err != nil {
		return flattab.IOErrorf(tempPath, "opening part temp csv: %v", err)
	}
	defer in.Close()

	r := csv.NewReader(in)
	r.FieldsPerRecord = -1
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return flattab.ParseErrorf(tempPath, "reading part temp csv: %v", err)
		}
		row := make([]string, len(finalFields))
		for i, pos := range positions {
			if present[i] && pos < len(record) {
				row[i] = record[pos]
			}
		}
		if err := w.Write(row); err != nil {
			return flattab.IOErrorf(table, "writing merged row: %v", err)
		}
	}
	return nil
}
