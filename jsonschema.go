package flattab

import (
	"encoding/json"
	"os"
	"strings"

	omap "github.com/wk8/go-ordered-map/v2"
	"github.com/google/jsonschema-go/jsonschema"
)

// orderedSchema is a local mirror of jsonschema.Schema that keeps "properties"
// in declaration order, which jsonschema.Schema's own map-typed Properties
// field cannot: field ordering is the entire point of loading this document.
type orderedSchema struct {
	Type       string                                     `json:"type"`
	Title      string                                     `json:"title"`
	Ref        string                                      `json:"$ref"`
	Properties *omap.OrderedMap[string, *orderedSchema]    `json:"properties"`
	Items      *orderedSchema                             `json:"items"`
}

// FieldOrder is the per-table result of loading a schema: the ordered field
// names present in the schema, and an optional field -> title map for
// SchemaTitles header renaming.
type FieldOrder struct {
	Fields []string
	Titles map[string]string
}

// LoadFieldOrder reads a JSON Schema document describing the main object's
// shape and derives, for every table the shredder would produce from data
// matching that shape, the field order the schema declares.
// Table names are derived with the same no-index-path-join rule the shredder
// itself uses, so a table's order here lines up with its finalized columns.
// Options.TablePrefix is not applied to these names, so with a table prefix
// set no table finds its order here.
//
// $ref is not dereferenced. A $ref on any property the walk visits is a
// ConfigError, as is one the schema library cannot resolve; a resolvable
// $ref elsewhere (as array items, at the root, or under definitions) is not
// examined, and such a property is treated as a plain scalar column.
func LoadFieldOrder(schemaPath, mainTable, sep string) (map[string]*FieldOrder, error) {
	raw, err := os.ReadFile(schemaPath)
	if err != nil {
		return nil, IOErrorf(schemaPath, "reading schema: %v", err)
	}

	// Validate with the real schema package first: catches malformed schemas
	// and any $ref the library itself would need to resolve against another
	// document, which this tool does not support.
	var validated jsonschema.Schema
	if err := json.Unmarshal(raw, &validated); err != nil {
		return nil, ConfigErrorf(schemaPath, "invalid JSON schema: %v", err)
	}
	if _, err := validated.Resolve(&jsonschema.ResolveOptions{}); err != nil {
		return nil, ConfigErrorf(schemaPath, "resolving schema: %v", err)
	}

	var root orderedSchema
	if err := json.Unmarshal(raw, &root); err != nil {
		return nil, ConfigErrorf(schemaPath, "invalid JSON schema: %v", err)
	}

	out := make(map[string]*FieldOrder)
	if err := walkSchemaOrder(&root, nil, "", mainTable, sep, out); err != nil {
		return nil, err
	}
	return out, nil
}

func tableNameForPath(path []string, mainTable, sep string) string {
	if len(path) == 0 {
		return mainTable
	}
	return strings.Join(path, sep)
}

func orderFor(out map[string]*FieldOrder, table string) *FieldOrder {
	fo, ok := out[table]
	if !ok {
		fo = &FieldOrder{Titles: make(map[string]string)}
		out[table] = fo
	}
	return fo
}

// walkSchemaOrder recursively mirrors the shredder's own object/array
// classification, but over a schema document instead of data: inline objects
// contribute prefixed columns to the current table, object arrays open a new
// child table, and every other property is a scalar column of the current
// table.
func walkSchemaOrder(s *orderedSchema, path []string, colPrefix, mainTable, sep string, out map[string]*FieldOrder) error {
	if s == nil || s.Properties == nil {
		return nil
	}
	table := tableNameForPath(path, mainTable, sep)
	for pair := s.Properties.Oldest(); pair != nil; pair = pair.Next() {
		name, prop := pair.Key, pair.Value
		if prop == nil {
			continue
		}
		if prop.Ref != "" {
			return ConfigErrorf(name, "$ref is not supported in field-ordering schemas")
		}
		col := colPrefix + name

		switch {
		case prop.Type == "object" && prop.Properties != nil:
			if err := walkSchemaOrder(prop, path, col+sep, mainTable, sep, out); err != nil {
				return err
			}
		case prop.Type == "array" && prop.Items != nil && prop.Items.Type == "object" && prop.Items.Properties != nil:
			childPath := append(append([]string{}, path...), name)
			if err := walkSchemaOrder(prop.Items, childPath, "", mainTable, sep, out); err != nil {
				return err
			}
		default:
			fo := orderFor(out, table)
			fo.Fields = append(fo.Fields, col)
			if prop.Title != "" {
				fo.Titles[col] = prop.Title
			}
		}
	}
	return nil
}

// OrderFields reorders fields (already the table's known non-ignored field
// set) to match the schema's declared order where known, appending any field
// the schema didn't mention at the end in its original order.
func (fo *FieldOrder) OrderFields(fields []string) []string {
	if fo == nil {
		return fields
	}
	known := make(map[string]bool, len(fields))
	for _, f := range fields {
		known[f] = true
	}
	out := make([]string, 0, len(fields))
	seen := make(map[string]bool, len(fields))
	for _, f := range fo.Fields {
		if known[f] && !seen[f] {
			out = append(out, f)
			seen[f] = true
		}
	}
	for _, f := range fields {
		if !seen[f] {
			out = append(out, f)
			seen[f] = true
		}
	}
	return out
}

// Header returns the display header for field: its schema title when
// SchemaTitles is requested and known, else the field name itself.
func (fo *FieldOrder) Header(field string, useTitles bool) string {
	if fo == nil || !useTitles {
		return field
	}
	if t, ok := fo.Titles[field]; ok && t != "" {
		return t
	}
	return field
}
