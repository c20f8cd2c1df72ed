package flattab

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSchema(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "schema.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadFieldOrderMainTableAndInlineObject(t *testing.T) {
	path := writeSchema(t, `{
		"type": "object",
		"properties": {
			"id": {"type": "string", "title": "ID"},
			"name": {"type": "string"},
			"addr": {
				"type": "object",
				"properties": {
					"city": {"type": "string"},
					"zip": {"type": "string"}
				}
			}
		}
	}`)

	out, err := LoadFieldOrder(path, "main", "_")
	require.NoError(t, err)

	main := out["main"]
	require.NotNil(t, main)
	assert.Equal(t, []string{"id", "name", "addr_city", "addr_zip"}, main.Fields)
	assert.Equal(t, "ID", main.Header("id", true))
	assert.Equal(t, "id", main.Header("id", false))
}

func TestLoadFieldOrderObjectArrayBecomesChildTable(t *testing.T) {
	path := writeSchema(t, `{
		"type": "object",
		"properties": {
			"id": {"type": "string"},
			"e": {
				"type": "array",
				"items": {
					"type": "object",
					"properties": {
						"ea": {"type": "number"},
						"eb": {"type": "string"}
					}
				}
			}
		}
	}`)

	out, err := LoadFieldOrder(path, "main", "_")
	require.NoError(t, err)

	assert.Equal(t, []string{"id"}, out["main"].Fields)
	require.NotNil(t, out["e"])
	assert.Equal(t, []string{"ea", "eb"}, out["e"].Fields)
}

func TestLoadFieldOrderRejectsRef(t *testing.T) {
	path := writeSchema(t, `{
		"type": "object",
		"properties": {
			"id": {"$ref": "#/definitions/id"}
		}
	}`)

	_, err := LoadFieldOrder(path, "main", "_")
	require.Error(t, err)
	var fe *FlattenError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, ErrConfig, fe.Kind)
}

func TestOrderFieldsAppendsUnknownAtEnd(t *testing.T) {
	fo := &FieldOrder{Fields: []string{"b", "a"}}
	got := fo.OrderFields([]string{"a", "b", "c"})
	assert.Equal(t, []string{"b", "a", "c"}, got)
}
