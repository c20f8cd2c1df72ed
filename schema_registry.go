package flattab

import (
	"encoding/json"
	"regexp"
	"strings"
	"sync"
)

// dateRegexp matches spec's date/datetime grammar: a bare date, or a date
// with a time-of-day that always includes seconds.
var dateRegexp = regexp.MustCompile(
	`^([1-3]\d{3})-(\d{2})-(\d{2})([T ](\d{2}):(\d{2}):(\d{2}(\.\d*)?)((-\d{2}:\d{2}|Z)?))?$`,
)

// InferType accretes the type label for one observed scalar against the
// field's current label. Unset -> first observation; text is sticky; a
// string is "date" only when it matches dateRegexp, else "text"; number and
// boolean are untyped further; arrays/objects reach here only as already
// stringified text.
func InferType(current FieldType, value any) FieldType {
	if current == FieldTypeText {
		return FieldTypeText
	}
	switch v := value.(type) {
	case nil:
		if current == FieldTypeUnset {
			return FieldTypeNull
		}
		return current
	case bool:
		_ = v
		if current == FieldTypeUnset || current == FieldTypeNull {
			return FieldTypeBoolean
		}
		if current == FieldTypeBoolean {
			return current
		}
		return FieldTypeText
	case float64, int, int64, json.Number:
		if current == FieldTypeUnset || current == FieldTypeNull {
			return FieldTypeNumber
		}
		if current == FieldTypeNumber {
			return current
		}
		return FieldTypeText
	case string:
		observed := FieldTypeText
		if dateRegexp.MatchString(v) {
			observed = FieldTypeDate
		}
		if current == FieldTypeUnset || current == FieldTypeNull {
			return observed
		}
		if current == observed {
			return current
		}
		return FieldTypeText
	default:
		return FieldTypeText
	}
}

// TableSchema is the per-table accreted schema: an append-only, ordered
// field list with parallel type and non-null-count vectors and an ignore
// flag per field, plus a table-level ignore flag and row count.
type TableSchema struct {
	Name string

	fields     []string
	fieldIndex map[string]int
	types      []FieldType
	counts     []int
	ignore     []bool

	RowCount int
	Ignore   bool
}

func newTableSchema(name string) *TableSchema {
	return &TableSchema{Name: name, fieldIndex: make(map[string]int)}
}

// Fields returns the table's field names in insertion order.
func (t *TableSchema) Fields() []string {
	out := make([]string, len(t.fields))
	copy(out, t.fields)
	return out
}

// NonIgnoredFields returns the field names not flagged ignore, in original
// insertion order. This is the set that becomes the final CSV header.
func (t *TableSchema) NonIgnoredFields() []string {
	out := make([]string, 0, len(t.fields))
	for i, f := range t.fields {
		if !t.ignore[i] {
			out = append(out, f)
		}
	}
	return out
}

// FieldType returns the accreted type of a field, or FieldTypeUnset if the
// field has never been observed.
func (t *TableSchema) FieldType(field string) FieldType {
	if i, ok := t.fieldIndex[field]; ok {
		return t.types[i]
	}
	return FieldTypeUnset
}

// FieldCount returns the non-null observation count for a field.
func (t *TableSchema) FieldCount(field string) int {
	if i, ok := t.fieldIndex[field]; ok {
		return t.counts[i]
	}
	return 0
}

// IsIgnored reports whether field is flagged ignore.
func (t *TableSchema) IsIgnored(field string) bool {
	if i, ok := t.fieldIndex[field]; ok {
		return t.ignore[i]
	}
	return false
}

// SetIgnored flags field (adding it first if unseen) as ignore=value.
func (t *TableSchema) SetIgnored(field string, value bool) {
	i, ok := t.fieldIndex[field]
	if !ok {
		i = t.addField(field)
	}
	t.ignore[i] = value
}

// ensureField appends field if new and returns its stable index.
func (t *TableSchema) ensureField(field string) int {
	if i, ok := t.fieldIndex[field]; ok {
		return i
	}
	return t.addField(field)
}

func (t *TableSchema) addField(field string) int {
	i := len(t.fields)
	t.fields = append(t.fields, field)
	t.types = append(t.types, FieldTypeUnset)
	t.counts = append(t.counts, 0)
	t.ignore = append(t.ignore, false)
	t.fieldIndex[field] = i
	return i
}

// observe records one scalar value for field: accretes its type and, for
// non-null values, increments its observation count.
func (t *TableSchema) observe(field string, value any) {
	i := t.ensureField(field)
	t.types[i] = InferType(t.types[i], value)
	if value != nil {
		t.counts[i]++
	}
}

// Registry owns every table's schema plus the one-to-many / one-to-one
// no-index path sets that the finalizer consults to decide which inlined
// columns and child tables to ignore.
type Registry struct {
	mu        sync.Mutex
	tables    map[string]*TableSchema
	order     []string
	oneToMany map[string]bool
	oneToOne  map[string]bool

	onlyFieldsEnabled bool
	onlyFields        map[string]map[string]bool
	onlyTablesEnabled bool
	onlyTables        map[string]bool
}

// NewRegistry creates an empty schema registry.
func NewRegistry() *Registry {
	return &Registry{
		tables:    make(map[string]*TableSchema),
		oneToMany: make(map[string]bool),
		oneToOne:  make(map[string]bool),
	}
}

// PreSeedFields appends fields to table's field list up front, in the given
// order, ahead of anything the shredder observes.
func (r *Registry) PreSeedFields(table string, fields []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, _ := r.tableLocked(table)
	for _, f := range fields {
		t.ensureField(f)
	}
}

// EnableOnlyFields restricts every table to precisely its preseeded field
// set: a field first observed outside that set is marked ignore the moment
// it is created.
func (r *Registry) EnableOnlyFields(seeded map[string][]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onlyFieldsEnabled = true
	r.onlyFields = make(map[string]map[string]bool, len(seeded))
	for table, fields := range seeded {
		allowed := make(map[string]bool, len(fields))
		for _, f := range fields {
			allowed[f] = true
		}
		r.onlyFields[table] = allowed
	}
}

// PreSeedTables registers table names up front so the finalizer's table
// ordering includes them even if a given run never observes a single row
// for one.
func (r *Registry) PreSeedTables(names []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range names {
		r.tableLocked(n)
	}
}

// EnableOnlyTables restricts the run to precisely the named tables: any
// other table first observed is marked ignore wholesale the moment it is
// created.
func (r *Registry) EnableOnlyTables(names []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onlyTablesEnabled = true
	r.onlyTables = make(map[string]bool, len(names))
	for _, n := range names {
		r.onlyTables[n] = true
	}
}

// Table returns (creating if needed) the schema for name, and whether it
// already existed.
func (r *Registry) Table(name string) (*TableSchema, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tableLocked(name)
}

func (r *Registry) tableLocked(name string) (*TableSchema, bool) {
	if t, ok := r.tables[name]; ok {
		return t, true
	}
	t := newTableSchema(name)
	if r.onlyTablesEnabled && !r.onlyTables[name] {
		t.Ignore = true
	}
	r.tables[name] = t
	r.order = append(r.order, name)
	return t, false
}

// Observe records one row into table's schema from already-stringified
// values, as read back from CSV text. Every value is treated as a string
// observation; the shredder uses ObserveTyped instead, which sees the
// original JSON scalar, and the parallel merge combines schemas with
// MergeFrom.
func (r *Registry) Observe(table string, row Row) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, _ := r.tableLocked(table)
	t.RowCount++
	for field, raw := range row {
		t.observe(field, raw)
	}
}

// ObserveTyped records one field's original JSON-typed scalar directly,
// used by the shredder where the pre-stringification value is on hand.
func (r *Registry) ObserveTyped(table, field string, value any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, _ := r.tableLocked(table)
	t.observe(field, value)
	if r.onlyFieldsEnabled && !isLinkField(field) {
		allowed := r.onlyFields[table]
		if !allowed[field] {
			t.SetIgnored(field, true)
		}
	}
}

func isLinkField(field string) bool {
	return field == LinkColumn || strings.HasPrefix(field, LinkPrefix)
}

// IncRowCount increments table's row count without observing any fields
// (used when a row's fields were already observed via ObserveTyped).
func (r *Registry) IncRowCount(table string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, _ := r.tableLocked(table)
	t.RowCount++
}

// Tables returns every known table name in first-seen order.
func (r *Registry) Tables() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// MarkArrayObservation updates the one-to-many / one-to-one sets for a
// no-index path given the length of the array just shredded, honoring
// inline_one_to_one: a path seen only at length 1 is a one-to-one
// candidate; once any sibling array has length > 1 it is promoted to
// one-to-many and never demoted back.
func (r *Registry) MarkArrayObservation(path NoIndexPath, length int, inlineOneToOne bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := path.String()
	if length > 1 {
		r.oneToMany[key] = true
		delete(r.oneToOne, key)
		return
	}
	if inlineOneToOne && !r.oneToMany[key] {
		r.oneToOne[key] = true
	}
}

// IsOneToMany reports whether path has ever been observed with more than
// one sibling element.
func (r *Registry) IsOneToMany(path NoIndexPath) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.oneToMany[path.String()]
}

// IsOneToOne reports whether path is still a standing one-to-one candidate.
func (r *Registry) IsOneToOne(path NoIndexPath) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.oneToOne[path.String()]
}

// OneToManyPaths returns every no-index path (as its joined string key)
// ever promoted to one-to-many.
func (r *Registry) OneToManyPaths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.oneToMany))
	for k := range r.oneToMany {
		out = append(out, k)
	}
	return out
}

// OneToOnePaths returns every no-index path still a one-to-one candidate.
func (r *Registry) OneToOnePaths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.oneToOne))
	for k := range r.oneToOne {
		out = append(out, k)
	}
	return out
}

// ApplyIgnoreRules marks the columns a finalized CSV should drop: every
// no-index path in the one-to-many set gets its inlined parent columns
// marked ignore (columns whose qualified name begins with the path prefix,
// excluding the path's own table), and every no-index path still in the
// one-to-one set gets its child table marked ignore wholesale.
func (r *Registry) ApplyIgnoreRules(sep string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for pathKey := range r.oneToMany {
		prefix := pathKey + sep
		for _, t := range r.tables {
			if t.Name == pathKey {
				continue
			}
			for i, f := range t.fields {
				if len(f) > len(prefix) && f[:len(prefix)] == prefix {
					t.ignore[i] = true
				}
			}
		}
	}

	for pathKey := range r.oneToOne {
		if t, ok := r.tables[pathKey]; ok {
			t.Ignore = true
		}
	}
}

// mergeFieldType combines two independently-accreted type labels under the
// same unset < null < {boolean, number, date} < text lattice InferType uses,
// without re-examining any value: text absorbs everything, an unset side
// defers to the other, and two non-equal typed sides fall back to text.
func mergeFieldType(a, b FieldType) FieldType {
	if a == b {
		return a
	}
	if a == FieldTypeText || b == FieldTypeText {
		return FieldTypeText
	}
	if a == FieldTypeUnset {
		return b
	}
	if b == FieldTypeUnset {
		return a
	}
	if a == FieldTypeNull {
		return b
	}
	if b == FieldTypeNull {
		return a
	}
	return FieldTypeText
}

// MergeFrom folds other's accreted schema into r: per-table field order is
// extended (new fields appended after r's existing ones), types merge via
// mergeFieldType, counts and row counts sum, ignore/Ignore flags OR together,
// and the one-to-many/one-to-one path sets union (one-to-many always wins
// over one-to-one on conflict, matching MarkArrayObservation's own rule).
// Used by the parts/<i> parallel orchestrator to combine each worker's
// independent Registry into one merged schema before the merge CSV pass.
func (r *Registry) MergeFrom(other *Registry) {
	other.mu.Lock()
	otherOrder := append([]string{}, other.order...)
	otherTables := make(map[string]*TableSchema, len(other.tables))
	for k, v := range other.tables {
		otherTables[k] = v
	}
	otherOneToMany := make(map[string]bool, len(other.oneToMany))
	for k, v := range other.oneToMany {
		otherOneToMany[k] = v
	}
	otherOneToOne := make(map[string]bool, len(other.oneToOne))
	for k, v := range other.oneToOne {
		otherOneToOne[k] = v
	}
	other.mu.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, name := range otherOrder {
		src := otherTables[name]
		dst, _ := r.tableLocked(name)
		dst.RowCount += src.RowCount
		dst.Ignore = dst.Ignore || src.Ignore
		for i, f := range src.fields {
			di := dst.ensureField(f)
			dst.types[di] = mergeFieldType(dst.types[di], src.types[i])
			dst.counts[di] += src.counts[i]
			if src.ignore[i] {
				dst.ignore[di] = true
			}
		}
	}

	for k := range otherOneToMany {
		r.oneToMany[k] = true
		delete(r.oneToOne, k)
	}
	for k := range otherOneToOne {
		if !r.oneToMany[k] {
			r.oneToOne[k] = true
		}
	}
}
