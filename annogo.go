package annogo

import (
	"context"
	"sync"

	"github.com/hupe1980/annogo/backend"
	"github.com/hupe1980/annogo/chunk"
	"github.com/hupe1980/annogo/codec"
	"github.com/hupe1980/annogo/internal/signal"
	"github.com/hupe1980/annogo/model"
	"github.com/hupe1980/annogo/packed"
	"github.com/hupe1980/annogo/spatial"
)

// committingStatus is the user-visible status shown while commits are
// outstanding.
const committingStatus = "Committing annotations…"

// MultiscaleSource is the root of one annotation dataset connection. It
// owns the reference table, the local update records, the always-resident
// temporary overlay buffer, the spatially indexed chunk sources (one per
// scale), the relationship-filtered chunk sources (one per declared
// relationship) and the per-id metadata cache.
//
// All state is guarded by one mutex; asynchronous backend completions
// re-enter through it, giving the same serialization guarantees as a
// single-threaded event loop. Change signals fire after the mutation
// completes, on the goroutine that performed it.
type MultiscaleSource struct {
	mu     sync.Mutex
	closed bool
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	schema      model.Schema
	serializers packed.Serializers
	backend     backend.Backend
	codec       codec.Codec
	logger      *Logger
	metrics     MetricsCollector
	statusFunc  func(string)
	errorFunc   func(error)

	references map[string]*Reference
	updates    map[string]*updateRecord

	temporary     *chunk.Chunk
	spatial       []*chunk.SpatialSource
	relationships []*chunk.RelationshipSource
	metadata      *chunk.MetadataSource

	commitsInFlight int
	changed         signal.Signal
	notifications   []func()
}

// NewMultiscaleSource connects an annotation engine to a backend: one grid
// per spatial scale, one relationship source per schema relationship.
func NewMultiscaleSource(schema model.Schema, grids []*spatial.Grid, be backend.Backend, optFns ...Option) (*MultiscaleSource, error) {
	opts := options{
		logger:  NoopLogger(),
		codec:   codec.Default,
		metrics: NoopMetricsCollector{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	serializers, err := packed.NewSerializers(schema)
	if err != nil {
		return nil, err
	}
	metadata, err := chunk.NewMetadataSource(be, opts.metadataCacheSize)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &MultiscaleSource{
		ctx:         ctx,
		cancel:      cancel,
		schema:      schema,
		serializers: serializers,
		backend:     be,
		codec:       opts.codec,
		logger:      opts.logger,
		metrics:     opts.metrics,
		statusFunc:  opts.statusFunc,
		errorFunc:   opts.errorFunc,
		references:  make(map[string]*Reference),
		updates:     make(map[string]*updateRecord),
		temporary:   &chunk.Chunk{Buffer: packed.NewBuffer(serializers)},
		metadata:    metadata,
	}
	for _, g := range grids {
		s.spatial = append(s.spatial, chunk.NewSpatialSource(g, serializers, opts.codec))
	}
	for _, name := range schema.Relationships {
		s.relationships = append(s.relationships, chunk.NewRelationshipSource(name, serializers, opts.codec))
	}
	return s, nil
}

// locked acquires the state mutex and returns the unlock function, which
// additionally dispatches the change notifications queued during the
// critical section. Use as: defer s.locked()().
func (s *MultiscaleSource) locked() func() {
	s.mu.Lock()
	return func() {
		pending := s.notifications
		s.notifications = nil
		s.mu.Unlock()
		for _, fn := range pending {
			fn()
		}
	}
}

func (s *MultiscaleSource) queueChanged() {
	s.notifications = append(s.notifications, s.changed.Dispatch)
}

func (s *MultiscaleSource) queueReferenceChanged(ref *Reference) {
	s.notifications = append(s.notifications, ref.changed.Dispatch)
}

func (s *MultiscaleSource) surfaceError(err error) {
	if s.errorFunc != nil {
		fn := s.errorFunc
		s.notifications = append(s.notifications, func() { fn(err) })
		return
	}
	s.logger.Error("annotation error", "error", err)
}

// Schema returns the source's fixed schema.
func (s *MultiscaleSource) Schema() model.Schema { return s.schema }

// Serializers returns the schema serializers shared by every buffer of the
// source.
func (s *MultiscaleSource) Serializers() packed.Serializers { return s.serializers }

// OnChanged registers fn to run after any mutation affecting visible
// content. It returns a removal function.
func (s *MultiscaleSource) OnChanged(fn func()) (remove func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.changed.Add(fn)
}

// Temporary returns the always-resident pseudo-chunk holding speculative
// local edits. Rendering composites it over the confirmed chunks without
// special-casing.
func (s *MultiscaleSource) Temporary() *chunk.Chunk { return s.temporary }

// SpatialSources returns the per-scale spatially indexed chunk sources.
func (s *MultiscaleSource) SpatialSources() []*chunk.SpatialSource { return s.spatial }

// RelationshipSources returns the per-relationship chunk sources.
func (s *MultiscaleSource) RelationshipSources() []*chunk.RelationshipSource {
	return s.relationships
}

// GetReference returns a ref-counted handle for the id, fetching its
// metadata from the backend if it is not cached. The caller must Release
// the handle.
func (s *MultiscaleSource) GetReference(id string) *Reference {
	defer s.locked()()
	return s.getReferenceLocked(id, true)
}

// ReceiveSpatialChunk registers freshly downloaded geometry for a grid cell
// of the given scale. Annotations with a local edit in progress are removed
// from the incoming chunk; their speculative value lives in the temporary
// overlay until the edit resolves.
func (s *MultiscaleSource) ReceiveSpatialChunk(scale int, cell []int64, payload []byte) error {
	defer s.locked()()
	if s.closed {
		return ErrClosed
	}
	if scale < 0 || scale >= len(s.spatial) {
		return ErrUnknownScale
	}
	c, err := s.spatial[scale].Receive(cell, payload)
	if err != nil {
		return err
	}
	s.suppressLocalEdits(c)
	s.metrics.RecordChunkReceived(c.Buffer.Len())
	s.logger.LogChunkReceived(spatial.CellKey(cell), c.Buffer.Len())
	s.queueChanged()
	return nil
}

// ReceiveRelationshipChunk registers freshly downloaded segment-filtered
// geometry for the given relationship index.
func (s *MultiscaleSource) ReceiveRelationshipChunk(relationship int, segment model.SegmentID, payload []byte) error {
	defer s.locked()()
	if s.closed {
		return ErrClosed
	}
	if relationship < 0 || relationship >= len(s.relationships) {
		return ErrUnknownRelationship
	}
	c, err := s.relationships[relationship].Receive(segment, payload)
	if err != nil {
		return err
	}
	s.suppressLocalEdits(c)
	s.metrics.RecordChunkReceived(c.Buffer.Len())
	s.queueChanged()
	return nil
}

// MissingRelationshipSegments returns the candidate segments of the given
// relationship that have no resident chunk, deduplicated and in ascending
// order. The external chunk manager feeds it the related-segment lists of
// the annotations it wants visible and fetches exactly the returned chunks
// before delivering them via ReceiveRelationshipChunk.
func (s *MultiscaleSource) MissingRelationshipSegments(relationship int, candidates ...[]model.SegmentID) []model.SegmentID {
	defer s.locked()()
	if relationship < 0 || relationship >= len(s.relationships) {
		return nil
	}
	return s.relationships[relationship].MissingSegments(candidates...)
}

// suppressLocalEdits removes locally edited ids from a freshly received
// chunk so the temporary overlay stays the single speculative copy.
func (s *MultiscaleSource) suppressLocalEdits(c *chunk.Chunk) {
	for id, rec := range s.updates {
		c.Buffer.Delete(rec.kind, id)
	}
}

// EvictSpatialChunk drops a resident spatial chunk, driven by the external
// chunk manager's cache policy.
func (s *MultiscaleSource) EvictSpatialChunk(scale int, cellKey string) bool {
	defer s.locked()()
	if scale < 0 || scale >= len(s.spatial) {
		return false
	}
	if !s.spatial[scale].Evict(cellKey) {
		return false
	}
	s.queueChanged()
	return true
}

// EvictRelationshipChunk drops a resident relationship chunk.
func (s *MultiscaleSource) EvictRelationshipChunk(relationship int, segment model.SegmentID) bool {
	defer s.locked()()
	if relationship < 0 || relationship >= len(s.relationships) {
		return false
	}
	if !s.relationships[relationship].Evict(segment) {
		return false
	}
	s.queueChanged()
	return true
}

// Close tears down the source: cancels outstanding backend requests, waits
// for their completions and clears any outstanding status indicator.
func (s *MultiscaleSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()

	if s.statusFunc != nil {
		s.statusFunc("")
	}
	return nil
}
