// Package blob implements backend.Backend on top of a blobstore.Store: the
// durable annotation set lives as encoded payload blobs (one per spatial
// cell per scale, one per related segment per relationship, one metadata
// blob per annotation), with commits serialized through a CommitLog.
package blob

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"github.com/hupe1980/annogo/backend"
	"github.com/hupe1980/annogo/blobstore"
	"github.com/hupe1980/annogo/codec"
	"github.com/hupe1980/annogo/model"
	"github.com/hupe1980/annogo/packed"
	"github.com/hupe1980/annogo/spatial"
)

// CommitLog serializes commits across writers and assigns durable ids to
// newly created annotations (op "create" with empty id). Implementations:
// MemoryCommitLog here, s3.CommitLog on DynamoDB.
type CommitLog interface {
	Append(ctx context.Context, op, id string) (string, error)
}

// MemoryCommitLog is an in-process CommitLog for tests and single-writer
// setups.
type MemoryCommitLog struct {
	mu  sync.Mutex
	seq uint64
}

// Append implements CommitLog.
func (l *MemoryCommitLog) Append(_ context.Context, op, id string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	if id == "" {
		id = fmt.Sprintf("a%d", l.seq)
	}
	return id, nil
}

// Option configures a Source.
type Option func(*options)

type options struct {
	codec         codec.Codec
	limiter       *rate.Limiter
	warmupWorkers int
}

// WithCodec selects the payload codec. Defaults to codec.Default.
func WithCodec(c codec.Codec) Option {
	return func(o *options) { o.codec = c }
}

// WithDownloadLimit throttles downloads to bytesPerSecond, with a burst of
// the same size.
func WithDownloadLimit(bytesPerSecond int) Option {
	return func(o *options) {
		o.limiter = rate.NewLimiter(rate.Limit(bytesPerSecond), bytesPerSecond)
	}
}

// WithWarmupWorkers bounds the concurrency of Warmup prefetches. Defaults to
// 8.
func WithWarmupWorkers(n int) Option {
	return func(o *options) { o.warmupWorkers = n }
}

// Source is a backend.Backend whose annotation set lives in object storage.
//
// Key layout under the store:
//
//	spatial/<scale>/<cellKey>     encoded cell payload
//	rel/<relationship>/<segment>  encoded segment-filtered payload
//	metadata/<id>                 encoded single-annotation payload
//
// Commits within one process are serialized by a mutex; across processes by
// the CommitLog.
type Source struct {
	mu          sync.Mutex
	store       blobstore.Store
	log         CommitLog
	schema      model.Schema
	serializers packed.Serializers
	codec       codec.Codec
	grids       []*spatial.Grid

	limiter       *rate.Limiter
	warmupWorkers int
}

// NewSource creates a blob-backed annotation backend.
func NewSource(store blobstore.Store, log CommitLog, schema model.Schema, grids []*spatial.Grid, optFns ...Option) (*Source, error) {
	opts := options{
		codec:         codec.Default,
		warmupWorkers: 8,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	serializers, err := packed.NewSerializers(schema)
	if err != nil {
		return nil, err
	}
	return &Source{
		store:         store,
		log:           log,
		schema:        schema,
		serializers:   serializers,
		codec:         opts.codec,
		grids:         grids,
		limiter:       opts.limiter,
		warmupWorkers: opts.warmupWorkers,
	}, nil
}

func spatialKey(scale int, cell []int64) string {
	return fmt.Sprintf("spatial/%d/%s", scale, spatial.CellKey(cell))
}

func (s *Source) relationshipKey(relationship int, segment model.SegmentID) string {
	return fmt.Sprintf("rel/%s/%d", s.schema.Relationships[relationship], segment)
}

func metadataKey(id string) string {
	return "metadata/" + id
}

// throttle charges n bytes against the download limiter.
func (s *Source) throttle(ctx context.Context, n int) error {
	if s.limiter == nil || n == 0 {
		return nil
	}
	burst := s.limiter.Burst()
	for n > 0 {
		step := n
		if step > burst {
			step = burst
		}
		if err := s.limiter.WaitN(ctx, step); err != nil {
			return err
		}
		n -= step
	}
	return nil
}

// getPayload fetches a blob, counting its bytes against the limiter. A
// missing blob resolves to an encoded empty annotation set.
func (s *Source) getPayload(ctx context.Context, key string) ([]byte, error) {
	payload, err := s.store.Get(ctx, key)
	if errors.Is(err, blobstore.ErrNotFound) {
		return s.codec.Encode(packed.NewBuffer(s.serializers))
	}
	if err != nil {
		return nil, err
	}
	if err := s.throttle(ctx, len(payload)); err != nil {
		return nil, err
	}
	return payload, nil
}

// DownloadGeometry implements backend.Backend. A cell with no stored blob
// resolves to an empty payload, not an error.
func (s *Source) DownloadGeometry(ctx context.Context, req backend.GeometryRequest) ([]byte, error) {
	if req.Scale < 0 || req.Scale >= len(s.grids) {
		return nil, fmt.Errorf("blob: scale %d out of range", req.Scale)
	}
	return s.getPayload(ctx, spatialKey(req.Scale, req.Cell))
}

// DownloadSegmentGeometry implements backend.Backend.
func (s *Source) DownloadSegmentGeometry(ctx context.Context, relationship int, segment model.SegmentID) ([]byte, error) {
	if relationship < 0 || relationship >= len(s.schema.Relationships) {
		return nil, fmt.Errorf("blob: relationship %d out of range", relationship)
	}
	return s.getPayload(ctx, s.relationshipKey(relationship, segment))
}

// DownloadMetadata implements backend.Backend.
func (s *Source) DownloadMetadata(ctx context.Context, id string) (model.Annotation, error) {
	payload, err := s.store.Get(ctx, metadataKey(id))
	if errors.Is(err, blobstore.ErrNotFound) {
		return nil, backend.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := s.throttle(ctx, len(payload)); err != nil {
		return nil, err
	}
	buf, err := s.codec.Decode(payload, s.serializers)
	if err != nil {
		return nil, err
	}
	for k := model.Kind(0); k < model.KindCount; k++ {
		for _, storedID := range buf.IDs(k) {
			ann, ok := buf.Get(k, storedID)
			if !ok {
				continue
			}
			return ann, nil
		}
	}
	return nil, backend.ErrNotFound
}

// CommitUpdate implements backend.Backend.
func (s *Source) CommitUpdate(ctx context.Context, existingID string, ann model.Annotation) (model.Annotation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case existingID == "" && ann != nil:
		id, err := s.log.Append(ctx, "create", "")
		if err != nil {
			return nil, err
		}
		stored := ann.Clone()
		stored.Meta().ID = id
		if err := s.writeAnnotation(ctx, nil, stored); err != nil {
			return nil, err
		}
		return stored.Clone(), nil

	case existingID != "" && ann != nil:
		old, err := s.DownloadMetadata(ctx, existingID)
		if err != nil {
			return nil, fmt.Errorf("blob: update of unknown id %q: %w", existingID, err)
		}
		if _, err := s.log.Append(ctx, "update", existingID); err != nil {
			return nil, err
		}
		stored := ann.Clone()
		stored.Meta().ID = existingID
		if err := s.writeAnnotation(ctx, old, stored); err != nil {
			return nil, err
		}
		return stored.Clone(), nil

	case existingID != "" && ann == nil:
		old, err := s.DownloadMetadata(ctx, existingID)
		if err != nil {
			return nil, fmt.Errorf("blob: delete of unknown id %q: %w", existingID, err)
		}
		if _, err := s.log.Append(ctx, "delete", existingID); err != nil {
			return nil, err
		}
		return nil, s.writeAnnotation(ctx, old, nil)

	default:
		return nil, errors.New("blob: commit with neither id nor annotation")
	}
}

// payloadKeys returns every blob key the annotation is filed under: the
// floor cell of each defining point per scale, plus one relationship blob
// per related segment.
func (s *Source) payloadKeys(ann model.Annotation) map[string]struct{} {
	keys := make(map[string]struct{})
	for scale, grid := range s.grids {
		for _, p := range ann.DefiningPoints() {
			cell := spatial.FloorCell(grid.ToCell(p))
			keys[spatialKey(scale, cell)] = struct{}{}
		}
	}
	related := ann.Meta().RelatedSegments
	for i := range s.schema.Relationships {
		if i >= len(related) {
			break
		}
		for _, segment := range related[i] {
			keys[s.relationshipKey(i, segment)] = struct{}{}
		}
	}
	return keys
}

// writeAnnotation applies one confirmed transition old -> new across every
// affected payload blob and the metadata blob. Either value may be nil.
func (s *Source) writeAnnotation(ctx context.Context, old, ann model.Annotation) error {
	keys := make(map[string]struct{})
	var oldKeys, newKeys map[string]struct{}
	if old != nil {
		oldKeys = s.payloadKeys(old)
		for k := range oldKeys {
			keys[k] = struct{}{}
		}
	}
	if ann != nil {
		newKeys = s.payloadKeys(ann)
		for k := range newKeys {
			keys[k] = struct{}{}
		}
	}

	for key := range keys {
		err := s.mutateBlob(ctx, key, func(buf *packed.Buffer) {
			if old != nil {
				buf.Delete(old.Kind(), old.Meta().ID)
			}
			if ann != nil {
				if _, inNew := newKeys[key]; inNew {
					buf.Update(ann)
				}
			}
		})
		if err != nil {
			return err
		}
	}

	if ann != nil {
		payload, err := s.codec.Encode(packed.FromAnnotations(s.serializers, []model.Annotation{ann}))
		if err != nil {
			return err
		}
		return s.store.Put(ctx, metadataKey(ann.Meta().ID), payload)
	}
	return s.store.Delete(ctx, metadataKey(old.Meta().ID))
}

// mutateBlob is the read-modify-write cycle for one payload blob.
func (s *Source) mutateBlob(ctx context.Context, key string, fn func(buf *packed.Buffer)) error {
	var buf *packed.Buffer
	payload, err := s.store.Get(ctx, key)
	switch {
	case errors.Is(err, blobstore.ErrNotFound):
		buf = packed.NewBuffer(s.serializers)
	case err != nil:
		return err
	default:
		buf, err = s.codec.Decode(payload, s.serializers)
		if err != nil {
			return err
		}
	}

	fn(buf)

	total := 0
	for k := model.Kind(0); k < model.KindCount; k++ {
		total += buf.Count(k)
	}
	if total == 0 {
		return s.store.Delete(ctx, key)
	}
	out, err := s.codec.Encode(buf)
	if err != nil {
		return err
	}
	return s.store.Put(ctx, key, out)
}
