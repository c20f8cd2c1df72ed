// Package encode implements the finalizer's alternate output encoders:
// XLSX, SQLite, Parquet, Postgres, and an S3 publish step, every one
// reading the already-finalized per-table CSV files rather than
// re-shredding.
package encode

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/lychee-technology/flattab"
	"github.com/xuri/excelize/v2"
)

// maxSheetName is excelize's (and Excel's) sheet-name length limit.
const maxSheetName = 31

// WriteXLSX builds output.xlsx with one worksheet per non-ignored table,
// reading each table's finalized CSV back in.
func WriteXLSX(opts *flattab.Options, reg *flattab.Registry) error {
	f := excelize.NewFile()
	defer f.Close()

	first := true
	for _, table := range reg.Tables() {
		t, ok := reg.Table(table)
		if !ok || t.Ignore {
			continue
		}

		sheet := sheetName(table)
		idx, err := f.NewSheet(sheet)
		if err != nil {
			return flattab.IOErrorf(table, "creating xlsx sheet: %v", err)
		}
		if first {
			f.SetActiveSheet(idx)
			first = false
		}

		if err := writeSheet(f, sheet, csvPath(opts, table), t); err != nil {
			return err
		}
	}

	f.DeleteSheet("Sheet1")

	outPath := filepath.Join(opts.OutputDir, "output.xlsx")
	if err := f.SaveAs(outPath); err != nil {
		return flattab.IOErrorf(outPath, "saving xlsx: %v", err)
	}
	return nil
}

func writeSheet(f *excelize.File, sheet, path string, t *flattab.TableSchema) error {
	in, err := os.Open(path)
	if err != nil {
		return flattab.IOErrorf(path, "opening finalized csv: %v", err)
	}
	defer in.Close()

	r := csv.NewReader(in)
	row := 1
	var header []string
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return flattab.ParseErrorf(path, "reading finalized csv: %v", err)
		}
		if row == 1 {
			header = record
		}
		for col, v := range record {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			value := any(v)
			if row > 1 && col < len(header) && t.FieldType(header[col]) == flattab.FieldTypeNumber {
				if n, err := strconv.ParseFloat(v, 64); err == nil {
					value = n
				}
			}
			if err := f.SetCellValue(sheet, cell, value); err != nil {
				return flattab.IOErrorf(path, "writing xlsx cell: %v", err)
			}
		}
		row++
	}
	return nil
}

func sheetName(table string) string {
	if len(table) <= maxSheetName {
		return table
	}
	return table[:maxSheetName]
}

func csvPath(opts *flattab.Options, table string) string {
	return filepath.Join(opts.OutputDir, "csv", table+".csv")
}
