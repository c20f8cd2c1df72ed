package flattab

import (
	"encoding/csv"
	"io"
	"os"
)

// validFieldType reports whether s is one of the FieldType labels a
// fields_csv row is allowed to declare. An empty string is FieldTypeUnset
// and is valid: it means "no type declared yet, infer from data."
func validFieldType(s string) bool {
	switch FieldType(s) {
	case FieldTypeUnset, FieldTypeNull, FieldTypeBoolean, FieldTypeNumber, FieldTypeDate, FieldTypeText:
		return true
	default:
		return false
	}
}

// LoadFieldsCSV reads a fields_csv file (table_name,field_name,field_type
// per row, header required) into a per-table ordered field list, the shape
// ApplyFieldsCSV pre-seeds a Registry with. A field_type outside the
// FieldType lattice is a TypeError: fields_csv declares an impossible type.
func LoadFieldsCSV(path string) (map[string][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, IOErrorf(path, "opening fields_csv: %v", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err == io.EOF {
		return map[string][]string{}, nil
	}
	if err != nil {
		return nil, ParseErrorf(path, "reading fields_csv header: %v", err)
	}
	col := headerIndex(header)
	tableIdx, fieldIdx, typeIdx := col["table_name"], col["field_name"], col["field_type"]
	if _, ok := col["table_name"]; !ok {
		return nil, ConfigErrorf(path, "fields_csv missing table_name column")
	}
	if _, ok := col["field_name"]; !ok {
		return nil, ConfigErrorf(path, "fields_csv missing field_name column")
	}

	out := make(map[string][]string)
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, ParseErrorf(path, "reading fields_csv row: %v", err)
		}
		table := recordAt(record, tableIdx)
		field := recordAt(record, fieldIdx)
		if _, hasTypeCol := col["field_type"]; hasTypeCol {
			ft := recordAt(record, typeIdx)
			if ft != "" && !validFieldType(ft) {
				return nil, TypeErrorf(table+"."+field, "fields_csv declares an impossible type %q", ft)
			}
		}
		out[table] = append(out[table], field)
	}
	return out, nil
}

// LoadTablesCSV reads a tables_csv file (a single table_name column, header
// required) into the ordered list of table names it names, analogous to
// LoadFieldsCSV.
func LoadTablesCSV(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, IOErrorf(path, "opening tables_csv: %v", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, ParseErrorf(path, "reading tables_csv header: %v", err)
	}
	col := headerIndex(header)
	tableIdx, ok := col["table_name"]
	if !ok {
		return nil, ConfigErrorf(path, "tables_csv missing table_name column")
	}

	var out []string
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, ParseErrorf(path, "reading tables_csv row: %v", err)
		}
		out = append(out, recordAt(record, tableIdx))
	}
	return out, nil
}

// ApplyFieldsCSV pre-seeds reg's tables and field order from an already
// loaded fields_csv map, and, when onlyFields is true, restricts every
// seeded table to exactly that field set.
func ApplyFieldsCSV(reg *Registry, seeded map[string][]string, onlyFields bool) {
	for table, fields := range seeded {
		reg.PreSeedFields(table, fields)
	}
	if onlyFields {
		reg.EnableOnlyFields(seeded)
	}
}

// ApplyTablesCSV pre-seeds reg's table order from an already loaded
// tables_csv list, and, when onlyTables is true, restricts the run to
// exactly those tables.
func ApplyTablesCSV(reg *Registry, tables []string, onlyTables bool) {
	reg.PreSeedTables(tables)
	if onlyTables {
		reg.EnableOnlyTables(tables)
	}
}

func headerIndex(header []string) map[string]int {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[h] = i
	}
	return idx
}

func recordAt(record []string, i int) string {
	if i < 0 || i >= len(record) {
		return ""
	}
	return record[i]
}
