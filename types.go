package flattab

import (
	"strconv"
	"strings"
)

// PathItem is one segment of a location inside a parsed JSON document:
// either an object key or an array index.
type PathItem struct {
	Key     string
	Index   int
	IsIndex bool
}

// Key builds a key-valued PathItem.
func Key(k string) PathItem { return PathItem{Key: k} }

// Idx builds an index-valued PathItem.
func Idx(i int) PathItem { return PathItem{Index: i, IsIndex: true} }

// String renders the segment the way it is joined into link keys: the key
// string, or the decimal index.
func (p PathItem) String() string {
	if p.IsIndex {
		return strconv.Itoa(p.Index)
	}
	return p.Key
}

// FullPath is the ordered sequence of PathItems from the document root to a
// value, mirroring the traversal that produced it.
type FullPath []PathItem

// NoIndexPath is a FullPath with array indices elided; it identifies a table.
type NoIndexPath []string

// Join renders the no-index path as a table or column name using sep
// (the engine's path_separator option, default "_").
func (p NoIndexPath) Join(sep string) string {
	return strings.Join([]string(p), sep)
}

// String renders the no-index path joined with "_", as used in internal set
// keys and log messages.
func (p NoIndexPath) String() string {
	return p.Join("_")
}

// Equal reports whether two no-index paths have identical segments.
func (p NoIndexPath) Equal(other NoIndexPath) bool {
	if len(p) != len(other) {
		return false
	}
	for i := range p {
		if p[i] != other[i] {
			return false
		}
	}
	return true
}

// HasPrefix reports whether p starts with every segment of prefix.
func (p NoIndexPath) HasPrefix(prefix NoIndexPath) bool {
	if len(prefix) > len(p) {
		return false
	}
	for i := range prefix {
		if p[i] != prefix[i] {
			return false
		}
	}
	return true
}

// noIndexOf strips indices from a full path.
func noIndexOf(fp FullPath) NoIndexPath {
	out := make(NoIndexPath, 0, len(fp))
	for _, seg := range fp {
		if !seg.IsIndex {
			out = append(out, seg.Key)
		}
	}
	return out
}

// linkSuffix renders the (key, index) pairs of a full path as the
// '.'-joined suffix used in _link values, e.g. "e.0" or "e.0.f.1".
func linkSuffix(fp FullPath) string {
	var b strings.Builder
	for i, seg := range fp {
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(seg.String())
	}
	return b.String()
}

// FieldType is the accreted type label for a (table, field) pair.
type FieldType string

const (
	FieldTypeUnset   FieldType = ""
	FieldTypeNull    FieldType = "null"
	FieldTypeBoolean FieldType = "boolean"
	FieldTypeNumber  FieldType = "number"
	FieldTypeDate    FieldType = "date"
	FieldTypeText    FieldType = "text"
)

// Row is one emitted record: field name -> scalar string value. Field order
// on disk is carried by the table's schema, not by this map.
type Row map[string]string

// LinkColumn is the name of the primary join key column.
const LinkColumn = "_link"

// LinkPrefix prefixes every ancestor join column: "_link_<ancestor>".
const LinkPrefix = "_link_"

// TableRow pairs a row with the table it belongs to. The shredder itself
// hands rows on as separate (table, row) arguments to Sink.WriteRow.
type TableRow struct {
	Table string
	Row   Row
}
