package backend

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/annogo/codec"
	"github.com/hupe1980/annogo/model"
	"github.com/hupe1980/annogo/packed"
	"github.com/hupe1980/annogo/spatial"
)

// Memory is a complete in-process Backend. It keeps the authoritative
// annotation set in a map, assigns server ids on create, and serializes
// requested cells on demand. It serves tests and single-process use.
type Memory struct {
	mu          sync.Mutex
	schema      model.Schema
	serializers packed.Serializers
	codec       codec.Codec
	grids       []*spatial.Grid

	annotations map[string]model.Annotation
	nextID      int

	failMessage string
}

// NewMemory creates an in-process backend for the schema and grids. A nil
// codec selects codec.Default.
func NewMemory(schema model.Schema, grids []*spatial.Grid, c codec.Codec) (*Memory, error) {
	serializers, err := packed.NewSerializers(schema)
	if err != nil {
		return nil, err
	}
	if c == nil {
		c = codec.Default
	}
	return &Memory{
		schema:      schema,
		serializers: serializers,
		codec:       c,
		grids:       grids,
		annotations: make(map[string]model.Annotation),
	}, nil
}

// FailNextCommit makes the next CommitUpdate fail with the given message.
func (m *Memory) FailNextCommit(message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failMessage = message
}

// Len returns the number of stored annotations.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.annotations)
}

// Get returns the stored annotation, if any.
func (m *Memory) Get(id string) (model.Annotation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ann, ok := m.annotations[id]
	if !ok {
		return nil, false
	}
	return ann.Clone(), true
}

// DownloadGeometry implements Backend.
func (m *Memory) DownloadGeometry(ctx context.Context, req GeometryRequest) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if req.Scale < 0 || req.Scale >= len(m.grids) {
		return nil, fmt.Errorf("backend: scale %d out of range", req.Scale)
	}
	grid := m.grids[req.Scale]
	key := spatial.CellKey(req.Cell)

	var members []model.Annotation
	for _, ann := range m.annotations {
		if m.filedUnder(grid, ann, key) {
			members = append(members, ann)
		}
	}
	return m.codec.Encode(packed.FromAnnotations(m.serializers, members))
}

// filedUnder reports whether the backend files ann under the cell key: the
// cell of each defining point, by truncation. Boundary points are filed
// under exactly one side here; the engine's over-inclusive cell enumeration
// covers the ambiguity.
func (m *Memory) filedUnder(grid *spatial.Grid, ann model.Annotation, key string) bool {
	for _, p := range ann.DefiningPoints() {
		if spatial.CellKey(spatial.FloorCell(grid.ToCell(p))) == key {
			return true
		}
	}
	return false
}

// DownloadSegmentGeometry implements Backend.
func (m *Memory) DownloadSegmentGeometry(ctx context.Context, relationship int, segment model.SegmentID) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if relationship < 0 || relationship >= len(m.schema.Relationships) {
		return nil, fmt.Errorf("backend: relationship %d out of range", relationship)
	}
	var members []model.Annotation
	for _, ann := range m.annotations {
		segs := ann.Meta().RelatedSegments
		if relationship >= len(segs) {
			continue
		}
		for _, s := range segs[relationship] {
			if s == segment {
				members = append(members, ann)
				break
			}
		}
	}
	return m.codec.Encode(packed.FromAnnotations(m.serializers, members))
}

// DownloadMetadata implements Backend.
func (m *Memory) DownloadMetadata(ctx context.Context, id string) (model.Annotation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	ann, ok := m.annotations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return ann.Clone(), nil
}

// CommitUpdate implements Backend.
func (m *Memory) CommitUpdate(ctx context.Context, existingID string, ann model.Annotation) (model.Annotation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failMessage != "" {
		msg := m.failMessage
		m.failMessage = ""
		return nil, fmt.Errorf("backend: %s", msg)
	}

	switch {
	case existingID == "" && ann != nil:
		m.nextID++
		stored := ann.Clone()
		stored.Meta().ID = fmt.Sprintf("srv-%d", m.nextID)
		m.annotations[stored.Meta().ID] = stored
		return stored.Clone(), nil
	case existingID != "" && ann != nil:
		if _, ok := m.annotations[existingID]; !ok {
			return nil, fmt.Errorf("backend: update of unknown id %q", existingID)
		}
		stored := ann.Clone()
		stored.Meta().ID = existingID
		m.annotations[existingID] = stored
		return stored.Clone(), nil
	case existingID != "" && ann == nil:
		if _, ok := m.annotations[existingID]; !ok {
			return nil, fmt.Errorf("backend: delete of unknown id %q", existingID)
		}
		delete(m.annotations, existingID)
		return nil, nil
	default:
		return nil, fmt.Errorf("backend: commit with neither id nor annotation")
	}
}
