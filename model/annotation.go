package model

import (
	"fmt"

	"github.com/google/uuid"
)

// SegmentID identifies a segment in an external segmentation volume.
type SegmentID uint64

// Kind enumerates the geometric annotation variants. The numeric values
// define the wire order of the packed buffer regions and must not change.
type Kind uint8

const (
	KindPoint Kind = iota
	KindLine
	KindAxisAlignedBoundingBox
	KindEllipsoid

	// KindCount is the number of annotation kinds.
	KindCount = 4
)

// String returns the canonical name of the kind.
func (k Kind) String() string {
	switch k {
	case KindPoint:
		return "point"
	case KindLine:
		return "line"
	case KindAxisAlignedBoundingBox:
		return "axis_aligned_bounding_box"
	case KindEllipsoid:
		return "ellipsoid"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Base carries the fields common to every annotation variant.
type Base struct {
	// ID is globally unique. Before the first successful commit it is a
	// client-generated placeholder that the backend may replace.
	ID string

	// Properties holds one value per schema property, in schema order.
	// Each value has as many lanes as the property type declares.
	Properties []PropertyValue

	// Description is optional free-form text.
	Description string

	// RelatedSegments holds one segment list per declared relationship,
	// in declaration order. May be nil if the source declares none.
	RelatedSegments [][]SegmentID
}

// Annotation is the sum type over the four geometric variants.
//
// Implementations are *Point, *Line, *AxisAlignedBoundingBox and *Ellipsoid.
type Annotation interface {
	// Kind reports the variant.
	Kind() Kind
	// Meta returns the shared non-geometric fields.
	Meta() *Base
	// DefiningPoints returns the points that bound the annotation in the
	// source coordinate space. For an ellipsoid these are center-radii and
	// center+radii.
	DefiningPoints() [][]float32
	// Clone returns a deep copy.
	Clone() Annotation
}

// Point is a single marked position.
type Point struct {
	Base
	Point []float32
}

// Line is a segment between two endpoints.
type Line struct {
	Base
	PointA []float32
	PointB []float32
}

// AxisAlignedBoundingBox is the box spanned by two opposite corners.
type AxisAlignedBoundingBox struct {
	Base
	PointA []float32
	PointB []float32
}

// Ellipsoid is an axis-aligned ellipsoid given by center and per-axis radii.
type Ellipsoid struct {
	Base
	Center []float32
	Radii  []float32
}

// Kind implements Annotation.
func (p *Point) Kind() Kind { return KindPoint }

// Kind implements Annotation.
func (l *Line) Kind() Kind { return KindLine }

// Kind implements Annotation.
func (b *AxisAlignedBoundingBox) Kind() Kind { return KindAxisAlignedBoundingBox }

// Kind implements Annotation.
func (e *Ellipsoid) Kind() Kind { return KindEllipsoid }

// Meta implements Annotation.
func (p *Point) Meta() *Base { return &p.Base }

// Meta implements Annotation.
func (l *Line) Meta() *Base { return &l.Base }

// Meta implements Annotation.
func (b *AxisAlignedBoundingBox) Meta() *Base { return &b.Base }

// Meta implements Annotation.
func (e *Ellipsoid) Meta() *Base { return &e.Base }

// DefiningPoints implements Annotation.
func (p *Point) DefiningPoints() [][]float32 { return [][]float32{p.Point} }

// DefiningPoints implements Annotation.
func (l *Line) DefiningPoints() [][]float32 { return [][]float32{l.PointA, l.PointB} }

// DefiningPoints implements Annotation.
func (b *AxisAlignedBoundingBox) DefiningPoints() [][]float32 {
	return [][]float32{b.PointA, b.PointB}
}

// DefiningPoints implements Annotation.
func (e *Ellipsoid) DefiningPoints() [][]float32 {
	rank := len(e.Center)
	lower := make([]float32, rank)
	upper := make([]float32, rank)
	for i := 0; i < rank; i++ {
		lower[i] = e.Center[i] - e.Radii[i]
		upper[i] = e.Center[i] + e.Radii[i]
	}
	return [][]float32{lower, upper}
}

// Clone implements Annotation.
func (p *Point) Clone() Annotation {
	c := *p
	c.Base = p.Base.clone()
	c.Point = cloneFloats(p.Point)
	return &c
}

// Clone implements Annotation.
func (l *Line) Clone() Annotation {
	c := *l
	c.Base = l.Base.clone()
	c.PointA = cloneFloats(l.PointA)
	c.PointB = cloneFloats(l.PointB)
	return &c
}

// Clone implements Annotation.
func (b *AxisAlignedBoundingBox) Clone() Annotation {
	c := *b
	c.Base = b.Base.clone()
	c.PointA = cloneFloats(b.PointA)
	c.PointB = cloneFloats(b.PointB)
	return &c
}

// Clone implements Annotation.
func (e *Ellipsoid) Clone() Annotation {
	c := *e
	c.Base = e.Base.clone()
	c.Center = cloneFloats(e.Center)
	c.Radii = cloneFloats(e.Radii)
	return &c
}

func (b Base) clone() Base {
	c := b
	if b.Properties != nil {
		c.Properties = make([]PropertyValue, len(b.Properties))
		for i, v := range b.Properties {
			c.Properties[i] = append(PropertyValue(nil), v...)
		}
	}
	if b.RelatedSegments != nil {
		c.RelatedSegments = make([][]SegmentID, len(b.RelatedSegments))
		for i, segs := range b.RelatedSegments {
			c.RelatedSegments[i] = append([]SegmentID(nil), segs...)
		}
	}
	return c
}

func cloneFloats(v []float32) []float32 {
	return append([]float32(nil), v...)
}

// NewID returns a fresh client-side placeholder annotation id.
func NewID() string {
	return uuid.NewString()
}
