package document

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCloneDeep(t *testing.T) {
	orig := Document{
		"name": "Alice",
		"tags": []any{"a", "b"},
		"address": map[string]any{
			"city": "Berlin",
		},
	}

	cp := Clone(orig)
	require.Equal(t, orig, cp)

	// Mutations of the original must not leak into the clone.
	orig["name"] = "Bob"
	orig["tags"].([]any)[0] = "z"
	orig["address"].(map[string]any)["city"] = "Hamburg"

	assert.Equal(t, "Alice", cp["name"])
	assert.Equal(t, "a", cp["tags"].([]any)[0])
	assert.Equal(t, "Berlin", cp["address"].(map[string]any)["city"])
}

func TestCloneNil(t *testing.T) {
	assert.Nil(t, Clone(nil))
}

func TestCloneNestedDocument(t *testing.T) {
	orig := Document{"inner": Document{"x": 1}}
	cp := Clone(orig)

	inner, ok := cp["inner"].(map[string]any)
	require.True(t, ok, "nested Documents normalize to map[string]any")
	assert.Equal(t, 1, inner["x"])
}

func TestField(t *testing.T) {
	d := Document{"age": 30}

	v, ok := d.Field("age")
	require.True(t, ok)
	assert.Equal(t, 30, v)

	_, ok = d.Field("missing")
	assert.False(t, ok)
}
