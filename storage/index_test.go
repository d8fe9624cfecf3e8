package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/docgo/document"
)

func TestIndexKeyNormalization(t *testing.T) {
	// All integer representations of the same number share one key.
	assert.Equal(t, indexKey(int(30)), indexKey(int64(30)))
	assert.Equal(t, indexKey(int(30)), indexKey(uint32(30)))
	assert.Equal(t, indexKey(int(30)), indexKey(float64(30)))
	assert.Equal(t, indexKey(int(-7)), indexKey(float64(-7)))

	// Distinct numbers stay distinct.
	assert.NotEqual(t, indexKey(30), indexKey(31))
	assert.NotEqual(t, indexKey(1.5), indexKey(1))

	// Types never collide.
	assert.NotEqual(t, indexKey("1"), indexKey(1))
	assert.NotEqual(t, indexKey(true), indexKey("true"))
	assert.NotEqual(t, indexKey(nil), indexKey(""))
	assert.NotEqual(t, indexKey(false), indexKey(0))

	// Very large uints do not wrap into the signed key space.
	assert.NotEqual(t, indexKey(uint64(1)<<63), indexKey(int64(-1)<<63))
}

func TestFieldIndexAddRemove(t *testing.T) {
	fi := newFieldIndex("city")

	fi.add(1, document.Document{"city": "Berlin"})
	fi.add(2, document.Document{"city": "Berlin"})
	fi.add(3, document.Document{"city": "Hamburg"})
	fi.add(4, document.Document{"name": "no city"})

	bm := fi.lookup("Berlin")
	require.NotNil(t, bm)
	assert.Equal(t, uint64(2), bm.GetCardinality())
	assert.Equal(t, uint64(3), fi.cardinality())

	// Documents without the field never appear in a posting list.
	assert.Nil(t, fi.lookup(nil))

	fi.remove(1, document.Document{"city": "Berlin"})
	fi.remove(3, document.Document{"city": "Hamburg"})

	bm = fi.lookup("Berlin")
	require.NotNil(t, bm)
	assert.True(t, bm.Contains(2))

	// Empty posting lists are pruned.
	assert.Nil(t, fi.lookup("Hamburg"))
}

func TestCollectionPutReindexes(t *testing.T) {
	c := newCollection("users")
	c.ensureIndex("city")

	c.put(1, document.Document{"city": "Berlin"})
	require.NotNil(t, c.indexes["city"].lookup("Berlin"))

	// Replacing the document moves its posting.
	c.put(1, document.Document{"city": "Hamburg"})
	assert.Nil(t, c.indexes["city"].lookup("Berlin"))
	require.NotNil(t, c.indexes["city"].lookup("Hamburg"))

	c.delete(1)
	assert.Nil(t, c.indexes["city"].lookup("Hamburg"))
	assert.Empty(t, c.docs)

	// lastID survives the delete.
	assert.Equal(t, uint64(1), c.lastID)
}
