// Package chunk holds the resident-chunk bookkeeping of an annotation
// source: spatially indexed chunks (one source per scale), relationship
// filtered chunks (one source per declared relationship) and the per-id
// metadata cache. Freshly downloaded wire payloads enter the engine through
// the Receive methods; eviction is driven by the external chunk manager.
package chunk

import (
	"fmt"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/hupe1980/annogo/codec"
	"github.com/hupe1980/annogo/model"
	"github.com/hupe1980/annogo/packed"
	"github.com/hupe1980/annogo/spatial"
)

// Chunk is one resident unit of packed annotation data, as handed to the
// rendering layer: the packed buffer plus its GPU validity flag.
type Chunk struct {
	// Cell is the grid cell, nil for relationship chunks and the
	// temporary pseudo-chunk.
	Cell []int64
	// Buffer holds the packed annotation data.
	Buffer *packed.Buffer
}

// SpatialSource tracks the resident chunks of one spatially indexed scale.
type SpatialSource struct {
	grid        *spatial.Grid
	serializers packed.Serializers
	codec       codec.Codec
	chunks      map[string]*Chunk
}

// NewSpatialSource creates an empty source over the given grid.
func NewSpatialSource(grid *spatial.Grid, serializers packed.Serializers, c codec.Codec) *SpatialSource {
	if c == nil {
		c = codec.Default
	}
	return &SpatialSource{
		grid:        grid,
		serializers: serializers,
		codec:       c,
		chunks:      make(map[string]*Chunk),
	}
}

// Grid returns the source's grid geometry.
func (s *SpatialSource) Grid() *spatial.Grid { return s.grid }

// Receive decodes a freshly downloaded payload and registers it under its
// cell. An already resident chunk for the cell is replaced. The new chunk's
// GPU flag starts invalid.
func (s *SpatialSource) Receive(cell []int64, payload []byte) (*Chunk, error) {
	buf, err := s.codec.Decode(payload, s.serializers)
	if err != nil {
		return nil, fmt.Errorf("chunk: cell %s: %w", spatial.CellKey(cell), err)
	}
	c := &Chunk{Cell: append([]int64(nil), cell...), Buffer: buf}
	s.chunks[spatial.CellKey(cell)] = c
	return c, nil
}

// Get returns the resident chunk for the cell key, if any.
func (s *SpatialSource) Get(key string) (*Chunk, bool) {
	c, ok := s.chunks[key]
	return c, ok
}

// Evict drops the resident chunk for the cell key.
func (s *SpatialSource) Evict(key string) bool {
	if _, ok := s.chunks[key]; !ok {
		return false
	}
	delete(s.chunks, key)
	return true
}

// Len returns the number of resident chunks.
func (s *SpatialSource) Len() int { return len(s.chunks) }

// ForEach visits every resident chunk.
func (s *SpatialSource) ForEach(fn func(key string, c *Chunk)) {
	for k, c := range s.chunks {
		fn(k, c)
	}
}

// RelationshipSource tracks the resident segment-filtered chunks of one
// declared relationship. Residency is additionally mirrored in a roaring
// bitmap so membership of a candidate segment set can be tested without
// touching the chunk map.
type RelationshipSource struct {
	name        string
	serializers packed.Serializers
	codec       codec.Codec
	chunks      map[model.SegmentID]*Chunk
	resident    *roaring64.Bitmap
}

// NewRelationshipSource creates an empty source for the named relationship.
func NewRelationshipSource(name string, serializers packed.Serializers, c codec.Codec) *RelationshipSource {
	if c == nil {
		c = codec.Default
	}
	return &RelationshipSource{
		name:        name,
		serializers: serializers,
		codec:       c,
		chunks:      make(map[model.SegmentID]*Chunk),
		resident:    roaring64.New(),
	}
}

// Name returns the relationship name.
func (s *RelationshipSource) Name() string { return s.name }

// Receive decodes a freshly downloaded payload and registers it under the
// segment key.
func (s *RelationshipSource) Receive(segment model.SegmentID, payload []byte) (*Chunk, error) {
	buf, err := s.codec.Decode(payload, s.serializers)
	if err != nil {
		return nil, fmt.Errorf("chunk: relationship %q segment %d: %w", s.name, segment, err)
	}
	c := &Chunk{Buffer: buf}
	s.chunks[segment] = c
	s.resident.Add(uint64(segment))
	return c, nil
}

// Get returns the resident chunk for the segment, if any.
func (s *RelationshipSource) Get(segment model.SegmentID) (*Chunk, bool) {
	c, ok := s.chunks[segment]
	return c, ok
}

// Evict drops the resident chunk for the segment.
func (s *RelationshipSource) Evict(segment model.SegmentID) bool {
	if _, ok := s.chunks[segment]; !ok {
		return false
	}
	delete(s.chunks, segment)
	s.resident.Remove(uint64(segment))
	return true
}

// Resident reports whether a chunk for the segment is resident.
func (s *RelationshipSource) Resident(segment model.SegmentID) bool {
	return s.resident.Contains(uint64(segment))
}

// MissingSegments returns the candidate segments that have no resident
// chunk, deduplicated and in ascending order. The chunk manager feeds it the
// related-segment lists of the annotations it wants visible and downloads
// exactly the returned chunks.
func (s *RelationshipSource) MissingSegments(candidates ...[]model.SegmentID) []model.SegmentID {
	want := roaring64.New()
	for _, list := range candidates {
		for _, segment := range list {
			want.Add(uint64(segment))
		}
	}
	want.AndNot(s.resident)
	out := make([]model.SegmentID, 0, want.GetCardinality())
	it := want.Iterator()
	for it.HasNext() {
		out = append(out, model.SegmentID(it.Next()))
	}
	return out
}

// ResidentSegments returns a copy of the resident segment set.
func (s *RelationshipSource) ResidentSegments() *roaring64.Bitmap {
	return s.resident.Clone()
}

// Len returns the number of resident chunks.
func (s *RelationshipSource) Len() int { return len(s.chunks) }

// ForEach visits every resident chunk.
func (s *RelationshipSource) ForEach(fn func(segment model.SegmentID, c *Chunk)) {
	for seg, c := range s.chunks {
		fn(seg, c)
	}
}
