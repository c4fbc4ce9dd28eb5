// Package testutil provides deterministic random annotation generators for
// tests and benchmarks.
package testutil

import (
	"fmt"
	"math"
	"math/rand"
	"sync"

	"github.com/hupe1980/annogo/model"
)

// RNG encapsulates a seeded random source. Thread-safe.
type RNG struct {
	mu   sync.Mutex
	rand *rand.Rand
	seed int64
}

// NewRNG creates an RNG with the given seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset rewinds the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand = rand.New(rand.NewSource(r.seed))
}

// Point returns a random point with coordinates in [0, extent).
func (r *RNG) Point(rank int, extent float32) []float32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pointLocked(rank, extent)
}

func (r *RNG) pointLocked(rank int, extent float32) []float32 {
	p := make([]float32, rank)
	for i := range p {
		p[i] = r.rand.Float32() * extent
	}
	return p
}

// PropertyValue returns a random value representable by the property type.
func (r *RNG) PropertyValue(t model.PropertyType) model.PropertyValue {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.propertyValueLocked(t)
}

func (r *RNG) propertyValueLocked(t model.PropertyType) model.PropertyValue {
	v := make(model.PropertyValue, t.Lanes)
	for i := range v {
		switch t.Kind {
		case model.Float32:
			v[i] = float64(r.rand.Float32())
		case model.Uint32:
			v[i] = float64(r.rand.Uint32())
		case model.Int32:
			v[i] = float64(r.rand.Int31() - math.MaxInt32/2)
		case model.Uint16:
			v[i] = float64(r.rand.Intn(math.MaxUint16 + 1))
		case model.Int16:
			v[i] = float64(r.rand.Intn(math.MaxUint16+1) + math.MinInt16)
		case model.Uint8:
			v[i] = float64(r.rand.Intn(math.MaxUint8 + 1))
		case model.Int8:
			v[i] = float64(r.rand.Intn(math.MaxUint8+1) + math.MinInt8)
		default:
			panic(fmt.Sprintf("testutil: unknown numeric kind %d", t.Kind))
		}
	}
	return v
}

// Annotation returns a random annotation of the given kind conforming to the
// schema, with geometry inside [0, extent) per axis.
func (r *RNG) Annotation(schema model.Schema, kind model.Kind, extent float32) model.Annotation {
	r.mu.Lock()
	defer r.mu.Unlock()

	base := model.Base{ID: model.NewID()}
	for _, spec := range schema.Properties {
		base.Properties = append(base.Properties, r.propertyValueLocked(spec.Type))
	}
	for range schema.Relationships {
		segs := make([]model.SegmentID, 1+r.rand.Intn(3))
		for i := range segs {
			segs[i] = model.SegmentID(r.rand.Uint64())
		}
		base.RelatedSegments = append(base.RelatedSegments, segs)
	}

	switch kind {
	case model.KindPoint:
		return &model.Point{Base: base, Point: r.pointLocked(schema.Rank, extent)}
	case model.KindLine:
		return &model.Line{
			Base:   base,
			PointA: r.pointLocked(schema.Rank, extent),
			PointB: r.pointLocked(schema.Rank, extent),
		}
	case model.KindAxisAlignedBoundingBox:
		return &model.AxisAlignedBoundingBox{
			Base:   base,
			PointA: r.pointLocked(schema.Rank, extent),
			PointB: r.pointLocked(schema.Rank, extent),
		}
	case model.KindEllipsoid:
		center := r.pointLocked(schema.Rank, extent)
		radii := make([]float32, schema.Rank)
		for i := range radii {
			radii[i] = 1 + r.rand.Float32()*extent/8
		}
		return &model.Ellipsoid{Base: base, Center: center, Radii: radii}
	default:
		panic(fmt.Sprintf("testutil: unknown annotation kind %d", kind))
	}
}

// Annotations returns n random annotations with kinds cycling through all
// four variants.
func (r *RNG) Annotations(schema model.Schema, n int, extent float32) []model.Annotation {
	out := make([]model.Annotation, n)
	for i := range out {
		out[i] = r.Annotation(schema, model.Kind(i%model.KindCount), extent)
	}
	return out
}
