// Package packed implements the densely packed, GPU-uploadable binary
// representation of annotation geometry and properties.
//
// Within a buffer the data of each annotation kind occupies one contiguous
// region, in kind-enum order. A region is further partitioned into property
// groups (geometry first, then one group per schema property), and each
// group is laid out columnar across instances: all instances' bytes for one
// group are contiguous. A grouped column can therefore be grown or compacted
// with plain copies, without touching unrelated bytes, which is what makes
// incremental insert and delete cheap.
package packed

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/hupe1980/annogo/model"
)

// geometryFloats returns the number of float32 coordinates one instance of
// the kind stores.
func geometryFloats(kind model.Kind, rank int) int {
	if kind == model.KindPoint {
		return rank
	}
	// Line, bounding box and ellipsoid all store two rank-length tuples.
	return 2 * rank
}

// Serializer encodes and decodes single instances of one annotation kind
// into their columnar position within a packed region.
type Serializer struct {
	kind model.Kind
	rank int

	// groupBytes[0] is the per-instance geometry width; groupBytes[1+i]
	// is the width of schema property i.
	groupBytes []int

	// serializedBytes is the total per-instance width across all groups.
	serializedBytes int

	properties []model.PropertySpec
}

// Serializers holds one Serializer per annotation kind for a fixed schema.
type Serializers [model.KindCount]Serializer

// NewSerializers computes the per-kind byte layout for the given schema.
func NewSerializers(schema model.Schema) (Serializers, error) {
	var out Serializers
	if err := schema.Validate(); err != nil {
		return out, err
	}
	for k := 0; k < model.KindCount; k++ {
		kind := model.Kind(k)
		groups := make([]int, 1+len(schema.Properties))
		groups[0] = geometryFloats(kind, schema.Rank) * 4
		total := groups[0]
		for i, p := range schema.Properties {
			groups[1+i] = p.Type.Bytes()
			total += groups[1+i]
		}
		out[k] = Serializer{
			kind:            kind,
			rank:            schema.Rank,
			groupBytes:      groups,
			serializedBytes: total,
			properties:      schema.Properties,
		}
	}
	return out, nil
}

// Rank returns the coordinate dimensionality.
func (s *Serializer) Rank() int { return s.rank }

// SerializedBytes returns the per-instance width across all groups.
func (s *Serializer) SerializedBytes() int { return s.serializedBytes }

// GroupBytes returns the per-instance width of each property group.
// Index 0 is the geometry group.
func (s *Serializer) GroupBytes() []int { return s.groupBytes }

// groupOffset returns the byte offset of instance index within group g,
// relative to the start of the kind's region, assuming count instances.
func (s *Serializer) groupOffset(g, index, count int) int {
	off := 0
	for i := 0; i < g; i++ {
		off += s.groupBytes[i] * count
	}
	return off + index*s.groupBytes[g]
}

// Serialize writes one instance's geometry and properties into data at its
// columnar position, assuming the kind's region starts at baseOffset and
// currently holds count instances.
func (s *Serializer) Serialize(data []byte, baseOffset, index, count int, ann model.Annotation) {
	if ann.Kind() != s.kind {
		panic(fmt.Sprintf("packed: kind mismatch: serializer %v, annotation %v", s.kind, ann.Kind()))
	}
	geom := s.flattenGeometry(ann)
	off := baseOffset + s.groupOffset(0, index, count)
	for _, v := range geom {
		binary.LittleEndian.PutUint32(data[off:], math.Float32bits(v))
		off += 4
	}
	props := ann.Meta().Properties
	for i, spec := range s.properties {
		var val model.PropertyValue
		if i < len(props) {
			val = props[i]
		}
		off := baseOffset + s.groupOffset(1+i, index, count)
		putProperty(data[off:], spec.Type, val)
	}
}

// DecodeGeometry reads back one instance's geometry coordinates.
func (s *Serializer) DecodeGeometry(data []byte, baseOffset, index, count int) []float32 {
	n := geometryFloats(s.kind, s.rank)
	out := make([]float32, n)
	off := baseOffset + s.groupOffset(0, index, count)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[off:]))
		off += 4
	}
	return out
}

// DecodeProperties reads back one instance's property values.
func (s *Serializer) DecodeProperties(data []byte, baseOffset, index, count int) []model.PropertyValue {
	out := make([]model.PropertyValue, len(s.properties))
	for i, spec := range s.properties {
		off := baseOffset + s.groupOffset(1+i, index, count)
		out[i] = getProperty(data[off:], spec.Type)
	}
	return out
}

func (s *Serializer) flattenGeometry(ann model.Annotation) []float32 {
	switch a := ann.(type) {
	case *model.Point:
		s.checkRank(len(a.Point))
		return a.Point
	case *model.Line:
		s.checkRank(len(a.PointA))
		s.checkRank(len(a.PointB))
		return append(append(make([]float32, 0, 2*s.rank), a.PointA...), a.PointB...)
	case *model.AxisAlignedBoundingBox:
		s.checkRank(len(a.PointA))
		s.checkRank(len(a.PointB))
		return append(append(make([]float32, 0, 2*s.rank), a.PointA...), a.PointB...)
	case *model.Ellipsoid:
		s.checkRank(len(a.Center))
		s.checkRank(len(a.Radii))
		return append(append(make([]float32, 0, 2*s.rank), a.Center...), a.Radii...)
	default:
		panic(fmt.Sprintf("packed: unknown annotation type %T", ann))
	}
}

func (s *Serializer) checkRank(n int) {
	if n != s.rank {
		panic(fmt.Sprintf("packed: geometry rank %d does not match schema rank %d", n, s.rank))
	}
}

// annotationFromParts rebuilds an annotation of the serializer's kind from
// decoded geometry and properties. Description and related segments are not
// part of the packed representation.
func (s *Serializer) annotationFromParts(id string, geom []float32, props []model.PropertyValue) model.Annotation {
	base := model.Base{ID: id, Properties: props}
	switch s.kind {
	case model.KindPoint:
		return &model.Point{Base: base, Point: geom}
	case model.KindLine:
		return &model.Line{Base: base, PointA: geom[:s.rank], PointB: geom[s.rank:]}
	case model.KindAxisAlignedBoundingBox:
		return &model.AxisAlignedBoundingBox{Base: base, PointA: geom[:s.rank], PointB: geom[s.rank:]}
	case model.KindEllipsoid:
		return &model.Ellipsoid{Base: base, Center: geom[:s.rank], Radii: geom[s.rank:]}
	default:
		panic(fmt.Sprintf("packed: unknown kind %v", s.kind))
	}
}

func putProperty(dst []byte, t model.PropertyType, val model.PropertyValue) {
	for lane := 0; lane < t.Lanes; lane++ {
		var v float64
		if lane < len(val) {
			v = val[lane]
		}
		off := lane * t.Kind.Bytes()
		switch t.Kind {
		case model.Float32:
			binary.LittleEndian.PutUint32(dst[off:], math.Float32bits(float32(v)))
		case model.Uint32:
			binary.LittleEndian.PutUint32(dst[off:], uint32(v))
		case model.Int32:
			binary.LittleEndian.PutUint32(dst[off:], uint32(int32(v)))
		case model.Uint16:
			binary.LittleEndian.PutUint16(dst[off:], uint16(v))
		case model.Int16:
			binary.LittleEndian.PutUint16(dst[off:], uint16(int16(v)))
		case model.Uint8:
			dst[off] = uint8(v)
		case model.Int8:
			dst[off] = uint8(int8(v))
		}
	}
}

func getProperty(src []byte, t model.PropertyType) model.PropertyValue {
	out := make(model.PropertyValue, t.Lanes)
	for lane := 0; lane < t.Lanes; lane++ {
		off := lane * t.Kind.Bytes()
		switch t.Kind {
		case model.Float32:
			out[lane] = float64(math.Float32frombits(binary.LittleEndian.Uint32(src[off:])))
		case model.Uint32:
			out[lane] = float64(binary.LittleEndian.Uint32(src[off:]))
		case model.Int32:
			out[lane] = float64(int32(binary.LittleEndian.Uint32(src[off:])))
		case model.Uint16:
			out[lane] = float64(binary.LittleEndian.Uint16(src[off:]))
		case model.Int16:
			out[lane] = float64(int16(binary.LittleEndian.Uint16(src[off:])))
		case model.Uint8:
			out[lane] = float64(src[off])
		case model.Int8:
			out[lane] = float64(int8(src[off]))
		}
	}
	return out
}
