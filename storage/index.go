package storage

import (
	"fmt"
	"math"
	"strconv"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/hupe1980/docgo/document"
)

// fieldIndex is an inverted index over one top-level document field.
// Posting lists are Roaring Bitmaps keyed by the normalized field value, so
// equality lookups cost a map access plus a bitmap iteration.
//
// All methods require the owning store's lock.
type fieldIndex struct {
	field    string
	postings map[string]*roaring64.Bitmap
}

func newFieldIndex(field string) *fieldIndex {
	return &fieldIndex{
		field:    field,
		postings: make(map[string]*roaring64.Bitmap),
	}
}

// add indexes doc's field value for id. Documents without the field are
// simply absent from every posting list.
func (fi *fieldIndex) add(id uint64, doc document.Document) {
	value, ok := doc.Field(fi.field)
	if !ok {
		return
	}

	key := indexKey(value)
	bm, ok := fi.postings[key]
	if !ok {
		bm = roaring64.New()
		fi.postings[key] = bm
	}
	bm.Add(id)
}

// remove drops id from the posting list of doc's field value and prunes
// empty bitmaps.
func (fi *fieldIndex) remove(id uint64, doc document.Document) {
	value, ok := doc.Field(fi.field)
	if !ok {
		return
	}

	key := indexKey(value)
	bm, ok := fi.postings[key]
	if !ok {
		return
	}

	bm.Remove(id)
	if bm.IsEmpty() {
		delete(fi.postings, key)
	}
}

// lookup returns the posting list for value, or nil when nothing matches.
// The returned bitmap is shared; callers must not mutate it.
func (fi *fieldIndex) lookup(value any) *roaring64.Bitmap {
	return fi.postings[indexKey(value)]
}

func (fi *fieldIndex) cardinality() uint64 {
	var total uint64
	for _, bm := range fi.postings {
		total += bm.GetCardinality()
	}
	return total
}

// indexKey normalizes a field value into a posting-list key. Numeric values
// collapse onto one key space: documents decoded from JSON carry float64
// where the original write carried an int, and both must hit the same
// posting list. The single-byte prefix keeps types from colliding, so the
// string "1" and the number 1 stay distinct.
func indexKey(v any) string {
	switch x := v.(type) {
	case nil:
		return "n"
	case bool:
		if x {
			return "b1"
		}
		return "b0"
	case string:
		return "s" + x
	case int:
		return "i" + strconv.FormatInt(int64(x), 10)
	case int8:
		return "i" + strconv.FormatInt(int64(x), 10)
	case int16:
		return "i" + strconv.FormatInt(int64(x), 10)
	case int32:
		return "i" + strconv.FormatInt(int64(x), 10)
	case int64:
		return "i" + strconv.FormatInt(x, 10)
	case uint:
		return uintKey(uint64(x))
	case uint8:
		return "i" + strconv.FormatInt(int64(x), 10)
	case uint16:
		return "i" + strconv.FormatInt(int64(x), 10)
	case uint32:
		return "i" + strconv.FormatInt(int64(x), 10)
	case uint64:
		return uintKey(x)
	case float32:
		return floatKey(float64(x))
	case float64:
		return floatKey(x)
	default:
		return fmt.Sprintf("x%v", x)
	}
}

func uintKey(x uint64) string {
	if x <= math.MaxInt64 {
		return "i" + strconv.FormatInt(int64(x), 10) //nolint:gosec // bounds checked above
	}
	return "u" + strconv.FormatUint(x, 10)
}

// floatKey maps integral floats onto the integer key space. 2^53 is the
// largest magnitude where float64 still represents every integer exactly.
func floatKey(x float64) string {
	if x == math.Trunc(x) && math.Abs(x) <= 1<<53 {
		return "i" + strconv.FormatInt(int64(x), 10)
	}
	return "f" + strconv.FormatFloat(x, 'g', -1, 64)
}
