package shred

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/lychee-technology/flattab"
	omap "github.com/wk8/go-ordered-map/v2"
)

// Sink receives one (table, row) tuple at a time as the shredder produces
// them. The temp-writer pool is the production Sink; tests can use an
// in-memory one.
type Sink interface {
	WriteRow(table string, row flattab.Row) error
}

// ancestorLink records one emitted ancestor row this row descends from: its
// table name and the length of the full path at the point that ancestor was
// itself emitted, so a descendant can recompute the ancestor's own _link
// value by truncating its own full path.
type ancestorLink struct {
	table     string
	prefixLen int
}

// Shredder walks parsed documents and feeds rows to a Sink, accreting field
// observations and one-to-many/one-to-one classifications into a Registry
// as it goes.
type Shredder struct {
	opts     *flattab.Options
	reg      *flattab.Registry
	sink     Sink
	docIndex int

	emitObj map[string]bool
}

// New creates a Shredder bound to one Registry/Sink pair. A single Shredder
// owns its document-index counter; the parallel orchestrator gives each
// worker its own Shredder (and Registry) so they never share state.
func New(opts *flattab.Options, reg *flattab.Registry, sink Sink) *Shredder {
	s := &Shredder{opts: opts, reg: reg, sink: sink, emitObj: make(map[string]bool)}
	for _, p := range opts.EmitObj {
		s.emitObj[p] = true
	}
	return s
}

// ShredDocument shreds one top-level parsed document, advancing the
// shredder's document index. Non-object roots are silently skipped.
func (s *Shredder) ShredDocument(doc any) error {
	s.docIndex++
	obj, ok := doc.(Object)
	if !ok {
		return nil
	}
	_, err := s.shredObject(obj, nil, nil, nil, true)
	return err
}

func (s *Shredder) docIndexStr() string {
	return s.opts.IDPrefix + strconv.Itoa(s.docIndex)
}

func (s *Shredder) tableName(noIndexPath flattab.NoIndexPath) string {
	base := s.opts.MainTableName
	if len(noIndexPath) > 0 {
		base = strings.Join(noIndexPath, s.opts.PathSeparator)
	}
	return s.opts.TablePrefix + base
}

func (s *Shredder) inEmitObj(p flattab.NoIndexPath) bool {
	return s.emitObj[p.Join(s.opts.PathSeparator)]
}

func (s *Shredder) buildLink(fullPath flattab.FullPath) string {
	if len(fullPath) == 0 {
		return s.docIndexStr()
	}
	return s.docIndexStr() + "." + linkSuffixOf(fullPath)
}

// linkSuffixOf mirrors flattab.linkSuffix (unexported in the root package)
// using the exported PathItem.String method.
func linkSuffixOf(fp flattab.FullPath) string {
	parts := make([]string, len(fp))
	for i, p := range fp {
		parts[i] = p.String()
	}
	return strings.Join(parts, ".")
}

// shredObject is the recursive flattening algorithm. emit=false calls
// return the (possibly rewritten) object for the caller to inline under a
// composite key; emit=true calls finalize and write a row, returning the
// rewritten object only so the recursive structure is uniform (the return
// value of a top-level or emit_obj call is unused by its caller).
func (s *Shredder) shredObject(obj Object, fullPath flattab.FullPath, noIndexPath flattab.NoIndexPath, ancestors []ancestorLink, emit bool) (Object, error) {
	var tableName, linkValue string
	childAncestors := ancestors
	if emit {
		tableName = s.tableName(noIndexPath)
		linkValue = s.buildLink(fullPath)
		childAncestors = append(append([]ancestorLink{}, ancestors...), ancestorLink{table: tableName, prefixLen: len(fullPath)})
	}

	result := newObject()

	for pair := obj.Oldest(); pair != nil; pair = pair.Next() {
		k, v := pair.Key, pair.Value

		switch val := v.(type) {
		case []any:
			if err := s.shredArray(k, val, fullPath, noIndexPath, childAncestors, result); err != nil {
				return nil, err
			}
		case Object:
			childNoIndex := appendNoIndex(noIndexPath, k)
			if s.inEmitObj(childNoIndex) {
				childFullPath := appendFull(fullPath, flattab.Key(k))
				if _, err := s.shredObject(val, childFullPath, childNoIndex, childAncestors, true); err != nil {
					return nil, err
				}
				continue
			}
			childResult, err := s.shredObject(val, fullPath, childNoIndex, childAncestors, false)
			if err != nil {
				return nil, err
			}
			for p := childResult.Oldest(); p != nil; p = p.Next() {
				result.Set(k+s.opts.PathSeparator+p.Key, p.Value)
			}
		default:
			result.Set(k, val)
		}
	}

	if !emit {
		return result, nil
	}
	return result, s.emitRow(tableName, linkValue, ancestors, fullPath, result)
}

// shredArray classifies an array value, writing scalar outcomes
// (joined-string or stringified-mixed) into result and recursing into
// object-array elements as independent child rows.
func (s *Shredder) shredArray(k string, arr []any, fullPath flattab.FullPath, noIndexPath flattab.NoIndexPath, ancestors []ancestorLink, result Object) error {
	if len(arr) == 0 {
		return nil
	}

	allStrings, allObjects := classifyArray(arr)

	switch {
	case allStrings:
		parts := make([]string, len(arr))
		for i, v := range arr {
			parts[i], _ = v.(string)
		}
		result.Set(k, strings.Join(parts, ","))
		return nil

	case allObjects:
		childNoIndex := appendNoIndex(noIndexPath, k)
		s.reg.MarkArrayObservation(childNoIndex, len(arr), s.opts.InlineOneToOne)
		for i, elem := range arr {
			elemObj, ok := elem.(Object)
			if !ok {
				continue
			}
			childFullPath := appendFull(appendFull(fullPath, flattab.Key(k)), flattab.Idx(i))
			if _, err := s.shredObject(elemObj, childFullPath, childNoIndex, ancestors, true); err != nil {
				return err
			}
		}
		// A length-1 object array is a standing one-to-one candidate: also
		// speculatively inline its single element's fields into the parent
		// row under k<sep>field, same as a plain nested object (step 2).
		// The finalizer later keeps exactly one of the two copies: these
		// inlined columns if the path never grows past one element, or the
		// child table otherwise (schema_registry.go
		// ApplyIgnoreRules).
		if s.opts.InlineOneToOne && len(arr) == 1 {
			if elemObj, ok := arr[0].(Object); ok {
				inlineResult, err := s.shredObject(elemObj, fullPath, childNoIndex, ancestors, false)
				if err != nil {
					return err
				}
				for p := inlineResult.Oldest(); p != nil; p = p.Next() {
					result.Set(k+s.opts.PathSeparator+p.Key, p.Value)
				}
			}
		}
		return nil

	default:
		raw, err := json.Marshal(arr)
		if err != nil {
			return flattab.ParseErrorf(k, "stringifying mixed array: %v", err)
		}
		result.Set(k, string(raw))
		return nil
	}
}

func classifyArray(arr []any) (allStrings, allObjects bool) {
	allStrings, allObjects = true, true
	for _, v := range arr {
		switch v.(type) {
		case string:
			allObjects = false
		case Object:
			allStrings = false
		default:
			allStrings, allObjects = false, false
		}
	}
	return
}

func (s *Shredder) emitRow(tableName, linkValue string, ancestors []ancestorLink, fullPath flattab.FullPath, result Object) error {
	if limited := s.previewLimited(tableName); limited {
		return nil
	}

	row := flattab.Row{}
	for pair := result.Oldest(); pair != nil; pair = pair.Next() {
		str, observeVal := stringifyScalar(pair.Value)
		row[pair.Key] = str
		s.reg.ObserveTyped(tableName, pair.Key, observeVal)
	}

	row[flattab.LinkColumn] = linkValue
	s.reg.ObserveTyped(tableName, flattab.LinkColumn, linkValue)

	mainLinkField := flattab.LinkPrefix + s.opts.MainTableName
	row[mainLinkField] = s.docIndexStr()
	s.reg.ObserveTyped(tableName, mainLinkField, row[mainLinkField])

	for _, a := range ancestors {
		field := flattab.LinkPrefix + a.table
		row[field] = s.buildLink(truncateFull(fullPath, a.prefixLen))
		s.reg.ObserveTyped(tableName, field, row[field])
	}

	s.reg.IncRowCount(tableName)
	return s.sink.WriteRow(tableName, row)
}

func (s *Shredder) previewLimited(table string) bool {
	if s.opts.Preview <= 0 {
		return false
	}
	t, ok := s.reg.Table(table)
	return ok && t.RowCount >= s.opts.Preview
}

func stringifyScalar(v any) (str string, observeVal any) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return t, t
	case bool:
		if t {
			return "true", t
		}
		return "false", t
	case json.Number:
		return t.String(), t
	default:
		return "", nil
	}
}

func newObject() Object {
	return omap.New[string, any]()
}

func appendNoIndex(p flattab.NoIndexPath, k string) flattab.NoIndexPath {
	out := make(flattab.NoIndexPath, len(p), len(p)+1)
	copy(out, p)
	return append(out, k)
}

func appendFull(p flattab.FullPath, item flattab.PathItem) flattab.FullPath {
	out := make(flattab.FullPath, len(p), len(p)+1)
	copy(out, p)
	return append(out, item)
}

func truncateFull(p flattab.FullPath, n int) flattab.FullPath {
	if n > len(p) {
		n = len(p)
	}
	return p[:n]
}
