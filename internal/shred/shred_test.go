package shred

import (
	"strings"
	"testing"

	"github.com/lychee-technology/flattab"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memSink struct {
	rows map[string][]flattab.Row
}

func newMemSink() *memSink { return &memSink{rows: make(map[string][]flattab.Row)} }

func (m *memSink) WriteRow(table string, row flattab.Row) error {
	m.rows[table] = append(m.rows[table], row)
	return nil
}

func parseDoc(t *testing.T, body string) any {
	t.Helper()
	dec := NewDecoder(strings.NewReader(body))
	v, err := DecodeValue(dec)
	require.NoError(t, err)
	return v
}

func newTestShredder(opts *flattab.Options) (*Shredder, *flattab.Registry, *memSink) {
	reg := flattab.NewRegistry()
	sink := newMemSink()
	return New(opts, reg, sink), reg, sink
}

func TestShredConcreteScenarioOne(t *testing.T) {
	opts := flattab.DefaultOptions()
	opts.OutputDir = "/tmp/x"
	s, reg, sink := newTestShredder(opts)

	doc := parseDoc(t, `{"a":"a","c":["a","b","c"],"d":{"da":"da","db":"2005-01-01"},"e":[{"ea":1,"eb":"eb2"},{"ea":2,"eb":"eb2"}]}`)
	require.NoError(t, s.ShredDocument(doc))

	require.Len(t, sink.rows["main"], 1)
	main := sink.rows["main"][0]
	assert.Equal(t, "1", main["_link"])
	assert.Equal(t, "1", main["_link_main"])
	assert.Equal(t, "a", main["a"])
	assert.Equal(t, "a,b,c", main["c"])
	assert.Equal(t, "da", main["d_da"])
	assert.Equal(t, "2005-01-01", main["d_db"])

	require.Len(t, sink.rows["e"], 2)
	assert.Equal(t, "1.e.0", sink.rows["e"][0]["_link"])
	assert.Equal(t, "1", sink.rows["e"][0]["_link_main"])
	assert.Equal(t, "1", sink.rows["e"][0]["ea"])
	assert.Equal(t, "1.e.1", sink.rows["e"][1]["_link"])
	assert.Equal(t, "2", sink.rows["e"][1]["ea"])

	dTable, _ := reg.Table("main")
	assert.Equal(t, flattab.FieldTypeDate, dTable.FieldType("d_db"))
	eTable, _ := reg.Table("e")
	assert.Equal(t, flattab.FieldTypeNumber, eTable.FieldType("ea"))
	assert.Equal(t, flattab.FieldTypeText, eTable.FieldType("eb"))
}

func TestShredInlineOneToOnePromotion(t *testing.T) {
	opts := flattab.DefaultOptions()
	opts.OutputDir = "/tmp/x"
	opts.InlineOneToOne = true
	s, reg, sink := newTestShredder(opts)

	require.NoError(t, s.ShredDocument(parseDoc(t, `{"id":"1","e":[{"ea":1,"eb":"eb2"}]}`)))
	require.NoError(t, s.ShredDocument(parseDoc(t, `{"id":"2","e":[{"ea":2,"eb":"eb2"}]}`)))

	reg.ApplyIgnoreRules(opts.PathSeparator)

	main, _ := reg.Table("main")
	assert.ElementsMatch(t, []string{"id", "e_ea", "e_eb", "_link", "_link_main"}, main.NonIgnoredFields())
	e, _ := reg.Table("e")
	assert.True(t, e.Ignore)
	require.Len(t, sink.rows["e"], 2)
}

func TestShredPromotesToOneToManyAndIgnoresParentColumns(t *testing.T) {
	opts := flattab.DefaultOptions()
	opts.OutputDir = "/tmp/x"
	opts.InlineOneToOne = true
	s, reg, _ := newTestShredder(opts)

	require.NoError(t, s.ShredDocument(parseDoc(t, `{"id":"1","e":[{"ea":1,"eb":"eb2"}]}`)))
	require.NoError(t, s.ShredDocument(parseDoc(t, `{"id":"2","e":[{"ea":2,"eb":"x"},{"ea":3,"eb":"y"}]}`)))

	reg.ApplyIgnoreRules(opts.PathSeparator)

	e, _ := reg.Table("e")
	assert.False(t, e.Ignore)
	main, _ := reg.Table("main")
	assert.False(t, main.IsIgnored("id"))
	assert.True(t, main.IsIgnored("e_ea"))
	assert.True(t, main.IsIgnored("e_eb"))
}

func TestShredEmptyArrayDropsKey(t *testing.T) {
	opts := flattab.DefaultOptions()
	opts.OutputDir = "/tmp/x"
	s, _, sink := newTestShredder(opts)

	require.NoError(t, s.ShredDocument(parseDoc(t, `{"x":[]}`)))
	_, ok := sink.rows["main"][0]["x"]
	assert.False(t, ok)
}

func TestShredMixedArrayStringifies(t *testing.T) {
	opts := flattab.DefaultOptions()
	opts.OutputDir = "/tmp/x"
	s, _, sink := newTestShredder(opts)

	require.NoError(t, s.ShredDocument(parseDoc(t, `{"x":[1,"a"]}`)))
	assert.Equal(t, `[1,"a"]`, sink.rows["main"][0]["x"])
}

func TestShredScalarOnlyDocumentProducesOneMainRowNoChildTables(t *testing.T) {
	opts := flattab.DefaultOptions()
	opts.OutputDir = "/tmp/x"
	s, _, sink := newTestShredder(opts)

	require.NoError(t, s.ShredDocument(parseDoc(t, `{"a":"x","b":1}`)))
	assert.Len(t, sink.rows, 1)
	assert.Len(t, sink.rows["main"], 1)
}

func TestShredDocumentIndexIncrementsAcrossDocuments(t *testing.T) {
	opts := flattab.DefaultOptions()
	opts.OutputDir = "/tmp/x"
	s, _, sink := newTestShredder(opts)

	require.NoError(t, s.ShredDocument(parseDoc(t, `{"a":"x"}`)))
	require.NoError(t, s.ShredDocument(parseDoc(t, `{"a":"y"}`)))
	assert.Equal(t, "1", sink.rows["main"][0]["_link"])
	assert.Equal(t, "2", sink.rows["main"][1]["_link"])
}

func TestShredIDPrefixAppliesToAllLinks(t *testing.T) {
	opts := flattab.DefaultOptions()
	opts.OutputDir = "/tmp/x"
	opts.IDPrefix = "w1."
	s, _, sink := newTestShredder(opts)

	require.NoError(t, s.ShredDocument(parseDoc(t, `{"e":[{"ea":1}]}`)))
	assert.Equal(t, "w1.1", sink.rows["main"][0]["_link"])
	assert.Equal(t, "w1.1.e.0", sink.rows["e"][0]["_link"])
	assert.Equal(t, "w1.1", sink.rows["e"][0]["_link_main"])
}
