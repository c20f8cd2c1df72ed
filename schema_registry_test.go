package flattab

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInferTypeAccretion(t *testing.T) {
	ft := FieldTypeUnset
	ft = InferType(ft, nil)
	assert.Equal(t, FieldTypeNull, ft)

	ft = InferType(ft, float64(2))
	assert.Equal(t, FieldTypeNumber, ft)

	// once text, stays text
	ft = InferType(ft, "hello")
	assert.Equal(t, FieldTypeText, ft)
	ft = InferType(ft, float64(3))
	assert.Equal(t, FieldTypeText, ft)
}

func TestInferTypeDateVsText(t *testing.T) {
	assert.Equal(t, FieldTypeDate, InferType(FieldTypeUnset, "2005-01-01"))
	assert.Equal(t, FieldTypeDate, InferType(FieldTypeUnset, "2005-01-01T10:11:12Z"))
	assert.Equal(t, FieldTypeText, InferType(FieldTypeUnset, "2005-01-01 10:11"))
	assert.Equal(t, FieldTypeText, InferType(FieldTypeUnset, "hello"))
}

func TestRegistryObserveTypedAccretesFieldOrder(t *testing.T) {
	r := NewRegistry()
	r.ObserveTyped("main", "a", "a")
	r.ObserveTyped("main", "c", "a,b,c")
	r.ObserveTyped("main", "d_da", "da")
	r.ObserveTyped("main", "d_db", "2005-01-01")
	r.IncRowCount("main")

	tbl, ok := r.Table("main")
	require.True(t, ok)
	assert.Equal(t, []string{"a", "c", "d_da", "d_db"}, tbl.Fields())
	assert.Equal(t, FieldTypeDate, tbl.FieldType("d_db"))
	assert.Equal(t, 1, tbl.RowCount)
}

func TestRegistryOneToManyPromotionNeverDemotes(t *testing.T) {
	r := NewRegistry()
	path := NoIndexPath{"e"}

	r.MarkArrayObservation(path, 1, true)
	assert.True(t, r.IsOneToOne(path))
	assert.False(t, r.IsOneToMany(path))

	r.MarkArrayObservation(path, 2, true)
	assert.True(t, r.IsOneToMany(path))
	assert.False(t, r.IsOneToOne(path))

	// a later single-element array must not demote it back
	r.MarkArrayObservation(path, 1, true)
	assert.True(t, r.IsOneToMany(path))
	assert.False(t, r.IsOneToOne(path))
}

func TestApplyIgnoreRulesMarksInlinedColumnsAndChildTables(t *testing.T) {
	r := NewRegistry()
	r.ObserveTyped("main", "id", "1")
	r.ObserveTyped("main", "e_ea", float64(1))
	r.ObserveTyped("main", "e_eb", "eb2")
	r.ObserveTyped("e", "ea", float64(1))
	r.ObserveTyped("e", "eb", "eb2")
	r.MarkArrayObservation(NoIndexPath{"e"}, 2, true)

	r.ApplyIgnoreRules("_")

	main, _ := r.Table("main")
	assert.True(t, main.IsIgnored("e_ea"))
	assert.True(t, main.IsIgnored("e_eb"))
	assert.False(t, main.IsIgnored("id"))

	e, _ := r.Table("e")
	assert.False(t, e.Ignore)
}

func TestApplyIgnoreRulesIgnoresOneToOneChildTable(t *testing.T) {
	r := NewRegistry()
	r.ObserveTyped("main", "id", "1")
	r.ObserveTyped("e", "ea", float64(1))
	r.MarkArrayObservation(NoIndexPath{"e"}, 1, true)

	r.ApplyIgnoreRules("_")

	e, _ := r.Table("e")
	assert.True(t, e.Ignore)
}
