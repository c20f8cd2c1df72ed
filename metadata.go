package flattab

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"strconv"

	"github.com/google/uuid"
)

// FieldDescriptor is one frictionless-datapackage field entry: a name, the
// accreted type it settled on, and its non-null observation count.
type FieldDescriptor struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Count int    `json:"count"`
}

func fieldDescriptorType(ft FieldType) string {
	switch ft {
	case FieldTypeBoolean:
		return "boolean"
	case FieldTypeNumber:
		return "number"
	case FieldTypeDate:
		return "date"
	case FieldTypeNull, FieldTypeUnset:
		return "string"
	default:
		return "string"
	}
}

// TableResource is one frictionless "resource": a table's path plus its
// ordered field schema.
type TableResource struct {
	Name   string `json:"name"`
	Path   string `json:"path"`
	Schema struct {
		Fields     []FieldDescriptor `json:"fields"`
		PrimaryKey string            `json:"primaryKey"`
	} `json:"schema"`
}

// DataPackage is the root of data_package.json: the run's resource list, one
// per emitted table, in table-emission order. ID is a fresh identifier
// minted per finalize so separate CSV/XLSX/SQLite/Postgres artifacts from
// the same run can be correlated in logs.
type DataPackage struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Resources []TableResource `json:"resources"`
}

// BuildDataPackage assembles the datapackage descriptor from a finished
// registry: one resource per non-ignored table, in first-seen order, each
// carrying its non-ignored fields with their final accreted types.
func BuildDataPackage(name string, r *Registry) *DataPackage {
	dp := &DataPackage{ID: uuid.New().String(), Name: name}
	for _, tableName := range r.Tables() {
		t, ok := r.Table(tableName)
		if !ok || t.Ignore {
			continue
		}
		res := TableResource{Name: tableName, Path: tableName + ".csv"}
		res.Schema.PrimaryKey = LinkColumn
		for _, f := range t.NonIgnoredFields() {
			res.Schema.Fields = append(res.Schema.Fields, FieldDescriptor{
				Name:  f,
				Type:  fieldDescriptorType(t.FieldType(f)),
				Count: t.FieldCount(f),
			})
		}
		dp.Resources = append(dp.Resources, res)
	}
	return dp
}

// WriteDataPackageJSON writes dp as pretty-printed JSON to path.
func WriteDataPackageJSON(path string, dp *DataPackage) error {
	f, err := os.Create(path)
	if err != nil {
		return IOErrorf(path, "creating data package: %v", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(dp); err != nil {
		return IOErrorf(path, "writing data package: %v", err)
	}
	return nil
}

// WriteFieldsCSV writes the fields.csv sidecar: one row per table/field pair
// with its accreted type and non-null observation count, the flat summary
// a fields_csv option reads tables and fields back from.
func WriteFieldsCSV(path string, r *Registry) error {
	f, err := os.Create(path)
	if err != nil {
		return IOErrorf(path, "creating fields.csv: %v", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	if err := w.Write([]string{"table_name", "field_name", "field_type", "count", "ignore"}); err != nil {
		return IOErrorf(path, "writing fields.csv header: %v", err)
	}
	for _, tableName := range r.Tables() {
		t, ok := r.Table(tableName)
		if !ok {
			continue
		}
		for _, f := range t.Fields() {
			row := []string{
				tableName,
				f,
				string(t.FieldType(f)),
				strconv.Itoa(t.FieldCount(f)),
				boolToCSV(t.IsIgnored(f)),
			}
			if err := w.Write(row); err != nil {
				return IOErrorf(path, "writing fields.csv row: %v", err)
			}
		}
	}
	return nil
}

func boolToCSV(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
