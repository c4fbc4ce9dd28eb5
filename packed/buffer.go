package packed

import (
	"fmt"

	"github.com/hupe1980/annogo/model"
)

// Buffer is the packed geometry buffer for one chunk (or the temporary
// overlay): per annotation kind, a densely packed columnar region of
// serialized instances, plus an insertion-ordered id list and an id→index
// map per kind.
//
// Ownership rule: the current byte array is exclusively owned by the Buffer
// until Snapshot hands it out, at which point the array becomes immutable
// and the next mutation swaps in a fresh copy. Resizing mutations always
// allocate a new array. A snapshot taken for GPU upload therefore never
// observes a concurrent mutation.
//
// A bad kind, index or rank is a programmer error and panics; only absent
// ids are reported (Delete returns false).
type Buffer struct {
	serializers Serializers

	data   []byte
	shared bool

	// valid is the GPU upload flag: false means the packed data changed
	// since the last upload snapshot.
	valid bool

	ids     [model.KindCount][]string
	index   [model.KindCount]map[string]int
	offsets [model.KindCount]int
}

// NewBuffer returns an empty buffer using the given schema serializers.
func NewBuffer(serializers Serializers) *Buffer {
	b := &Buffer{serializers: serializers}
	for k := range b.index {
		b.index[k] = make(map[string]int)
	}
	return b
}

// Serializers returns the schema serializers the buffer was built with.
func (b *Buffer) Serializers() Serializers { return b.serializers }

// Count returns the number of resident instances of the kind.
func (b *Buffer) Count(kind model.Kind) int { return len(b.ids[kind]) }

// Len returns the total packed byte length.
func (b *Buffer) Len() int { return len(b.data) }

// Offset returns the byte offset of the kind's region within the data.
func (b *Buffer) Offset(kind model.Kind) int { return b.offsets[kind] }

// IDs returns the insertion-ordered id list of the kind. The returned slice
// must not be modified.
func (b *Buffer) IDs(kind model.Kind) []string { return b.ids[kind] }

// Contains reports whether the id is resident under the kind.
func (b *Buffer) Contains(kind model.Kind, id string) bool {
	_, ok := b.index[kind][id]
	return ok
}

// IndexOf returns the columnar position of the id within its kind's region.
func (b *Buffer) IndexOf(kind model.Kind, id string) (int, bool) {
	i, ok := b.index[kind][id]
	return i, ok
}

// Valid reports the GPU upload flag.
func (b *Buffer) Valid() bool { return b.valid }

// MarkValid is called by the upload path after copying a snapshot.
func (b *Buffer) MarkValid() { b.valid = true }

// Snapshot returns the current packed bytes for upload. The returned slice
// is immutable: the buffer clones before the next in-place mutation.
func (b *Buffer) Snapshot() []byte {
	b.shared = true
	return b.data
}

// regionBytes returns the current byte length of the kind's region.
func (b *Buffer) regionBytes(kind model.Kind) int {
	return len(b.ids[kind]) * b.serializers[kind].SerializedBytes()
}

// Update inserts the annotation if its id is new to its kind, growing that
// kind's region by one record, or overwrites the existing record in place.
func (b *Buffer) Update(ann model.Annotation) {
	kind := ann.Kind()
	ser := &b.serializers[kind]
	id := ann.Meta().ID

	if idx, ok := b.index[kind][id]; ok {
		b.ensureOwned()
		ser.Serialize(b.data, b.offsets[kind], idx, len(b.ids[kind]), ann)
		b.valid = false
		return
	}

	oldCount := len(b.ids[kind])
	newCount := oldCount + 1
	recBytes := ser.SerializedBytes()

	newData := make([]byte, len(b.data)+recBytes)
	b.copyOtherAnnotations(newData, kind, recBytes)
	b.copyAnnotationSlice(newData, kind, oldCount, newCount, oldCount)
	b.data = newData
	b.shared = false

	b.ids[kind] = append(b.ids[kind], id)
	b.index[kind][id] = oldCount
	ser.Serialize(b.data, b.offsets[kind], oldCount, newCount, ann)
	b.valid = false
}

// Delete removes the id from the kind's region, compacting the columns and
// re-indexing every subsequent id. It returns false, leaving the buffer
// untouched, if the id is not resident.
func (b *Buffer) Delete(kind model.Kind, id string) bool {
	idx, ok := b.index[kind][id]
	if !ok {
		return false
	}
	ser := &b.serializers[kind]
	oldCount := len(b.ids[kind])
	newCount := oldCount - 1
	recBytes := ser.SerializedBytes()

	newData := make([]byte, len(b.data)-recBytes)
	b.copyOtherAnnotations(newData, kind, -recBytes)
	b.copyAnnotationSlice(newData, kind, oldCount, newCount, idx)
	b.data = newData
	b.shared = false

	ids := b.ids[kind]
	copy(ids[idx:], ids[idx+1:])
	b.ids[kind] = ids[:newCount]
	delete(b.index[kind], id)
	for i := idx; i < newCount; i++ {
		b.index[kind][b.ids[kind][i]] = i
	}
	b.valid = false
	return true
}

// Rename re-keys a resident instance without touching its packed bytes.
func (b *Buffer) Rename(kind model.Kind, oldID, newID string) {
	idx, ok := b.index[kind][oldID]
	if !ok {
		panic(fmt.Sprintf("packed: rename of non-resident id %q", oldID))
	}
	delete(b.index[kind], oldID)
	b.index[kind][newID] = idx
	b.ids[kind][idx] = newID
}

// Get decodes the resident instance back into an annotation carrying its
// geometry and properties. Description and related segments are not part of
// the packed representation and are absent from the result.
func (b *Buffer) Get(kind model.Kind, id string) (model.Annotation, bool) {
	idx, ok := b.index[kind][id]
	if !ok {
		return nil, false
	}
	ser := &b.serializers[kind]
	count := len(b.ids[kind])
	geom := ser.DecodeGeometry(b.data, b.offsets[kind], idx, count)
	props := ser.DecodeProperties(b.data, b.offsets[kind], idx, count)
	return ser.annotationFromParts(id, geom, props), true
}

// copyOtherAnnotations copies every other kind's region verbatim into
// newData and rewrites the recorded offsets, shifting the regions that sit
// after the resized kind by delta bytes.
func (b *Buffer) copyOtherAnnotations(newData []byte, resized model.Kind, delta int) {
	newOffsets := b.offsets
	for k := resized + 1; k < model.KindCount; k++ {
		newOffsets[k] += delta
	}
	for k := model.Kind(0); k < model.KindCount; k++ {
		if k == resized {
			continue
		}
		region := b.data[b.offsets[k] : b.offsets[k]+b.regionBytes(k)]
		copy(newData[newOffsets[k]:], region)
	}
	b.offsets = newOffsets
}

// copyAnnotationSlice copies the resized kind's columns from the old data
// into newData, group by group, leaving a one-record gap at hole when
// growing (newCount > oldCount) or compacting the record at hole away when
// shrinking. Offsets must already be rewritten for the new layout.
func (b *Buffer) copyAnnotationSlice(newData []byte, kind model.Kind, oldCount, newCount, hole int) {
	ser := &b.serializers[kind]
	oldBase := 0
	newBase := 0
	// The region start for the resized kind is unchanged by the offset
	// rewrite (only later regions move), so read it after the rewrite.
	regionOld := b.offsets[kind]
	regionNew := b.offsets[kind]
	for _, g := range ser.GroupBytes() {
		oldCol := regionOld + oldBase
		newCol := regionNew + newBase
		if newCount > oldCount {
			// Grow: instances [0,hole) keep their slot, [hole,oldCount)
			// shift one slot up, slot hole is left for the caller.
			copy(newData[newCol:], b.data[oldCol:oldCol+hole*g])
			copy(newData[newCol+(hole+1)*g:], b.data[oldCol+hole*g:oldCol+oldCount*g])
		} else {
			// Shrink: drop instance hole, close the gap.
			copy(newData[newCol:], b.data[oldCol:oldCol+hole*g])
			copy(newData[newCol+hole*g:], b.data[oldCol+(hole+1)*g:oldCol+oldCount*g])
		}
		oldBase += oldCount * g
		newBase += newCount * g
	}
}

// ensureOwned clones the data array if a snapshot of it is outstanding, so
// that in-place writes never reach bytes already handed to an uploader.
func (b *Buffer) ensureOwned() {
	if !b.shared {
		return
	}
	b.data = append([]byte(nil), b.data...)
	b.shared = false
}
