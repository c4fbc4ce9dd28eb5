package annogo

import (
	"github.com/hupe1980/annogo/chunk"
	"github.com/hupe1980/annogo/model"
	"github.com/hupe1980/annogo/spatial"
)

// forEachPossibleChunk routes a logical annotation to every resident real
// chunk that might hold it: relationship-filtered chunks keyed by the
// annotation's related segments, and for each spatial scale every grid cell
// the annotation's defining points may fall into. This is the only place
// that knows the grid geometry. Caller holds s.mu.
func (s *MultiscaleSource) forEachPossibleChunk(ann model.Annotation, fn func(c *chunk.Chunk)) {
	related := ann.Meta().RelatedSegments
	for i, rel := range s.relationships {
		if i >= len(related) {
			break
		}
		for _, segment := range related[i] {
			if c, ok := rel.Get(segment); ok {
				fn(c)
			}
		}
	}

	points := ann.DefiningPoints()
	for _, src := range s.spatial {
		lower, upper := src.Grid().CellRange(points)
		spatial.ForEachCell(lower, upper, func(cell []int64) {
			if c, ok := src.Get(spatial.CellKey(cell)); ok {
				fn(c)
			}
		})
	}
}
