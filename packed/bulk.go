package packed

import "github.com/hupe1980/annogo/model"

// FromAnnotations serializes the annotations from scratch in one pass,
// preserving the given order within each kind. It produces the same layout
// an equivalent sequence of incremental Update calls would.
func FromAnnotations(serializers Serializers, anns []model.Annotation) *Buffer {
	b := NewBuffer(serializers)

	var perKind [model.KindCount][]model.Annotation
	for _, ann := range anns {
		perKind[ann.Kind()] = append(perKind[ann.Kind()], ann)
	}

	total := 0
	for k := model.Kind(0); k < model.KindCount; k++ {
		b.offsets[k] = total
		total += len(perKind[k]) * serializers[k].SerializedBytes()
	}
	b.data = make([]byte, total)

	for k := model.Kind(0); k < model.KindCount; k++ {
		count := len(perKind[k])
		for i, ann := range perKind[k] {
			id := ann.Meta().ID
			b.ids[k] = append(b.ids[k], id)
			b.index[k][id] = i
			serializers[k].Serialize(b.data, b.offsets[k], i, count, ann)
		}
	}
	return b
}

// FromParts reconstructs a buffer from a decoded wire payload: per-kind id
// lists in columnar order plus the raw packed bytes. The caller must have
// verified that len(data) matches the id counts under the schema.
func FromParts(serializers Serializers, ids [model.KindCount][]string, data []byte) *Buffer {
	b := NewBuffer(serializers)
	total := 0
	for k := model.Kind(0); k < model.KindCount; k++ {
		b.offsets[k] = total
		total += len(ids[k]) * serializers[k].SerializedBytes()
		b.ids[k] = append([]string(nil), ids[k]...)
		for i, id := range ids[k] {
			b.index[k][id] = i
		}
	}
	b.data = append([]byte(nil), data...)
	return b
}

// Equal reports whether the two buffers hold byte-identical packed data and
// identical id bookkeeping. Used by tests to compare an incrementally
// mutated buffer against a from-scratch serialization.
func Equal(a, b *Buffer) bool {
	if len(a.data) != len(b.data) {
		return false
	}
	for i := range a.data {
		if a.data[i] != b.data[i] {
			return false
		}
	}
	for k := model.Kind(0); k < model.KindCount; k++ {
		if a.offsets[k] != b.offsets[k] || len(a.ids[k]) != len(b.ids[k]) {
			return false
		}
		for i := range a.ids[k] {
			if a.ids[k][i] != b.ids[k][i] {
				return false
			}
		}
	}
	return true
}
