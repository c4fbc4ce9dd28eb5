package chunk

import (
	"context"
	"errors"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/hupe1980/annogo/backend"
	"github.com/hupe1980/annogo/model"
)

// DefaultMetadataCacheSize bounds the per-id metadata cache when no size is
// configured.
const DefaultMetadataCacheSize = 4096

// MetadataSource is the per-id on-demand metadata fetch/cache. Concurrent
// fetches of the same id are collapsed into one backend request.
type MetadataSource struct {
	backend backend.Backend
	cache   *lru.Cache[string, model.Annotation]
	group   singleflight.Group
}

// NewMetadataSource creates a metadata source with an LRU cache of the
// given size (DefaultMetadataCacheSize if size <= 0).
func NewMetadataSource(b backend.Backend, size int) (*MetadataSource, error) {
	if size <= 0 {
		size = DefaultMetadataCacheSize
	}
	cache, err := lru.New[string, model.Annotation](size)
	if err != nil {
		return nil, err
	}
	return &MetadataSource{backend: b, cache: cache}, nil
}

// Cached returns the cached annotation for the id, if any.
func (m *MetadataSource) Cached(id string) (model.Annotation, bool) {
	return m.cache.Get(id)
}

// Store records a confirmed annotation value in the cache.
func (m *MetadataSource) Store(ann model.Annotation) {
	m.cache.Add(ann.Meta().ID, ann)
}

// Invalidate drops the cached value for the id.
func (m *MetadataSource) Invalidate(id string) {
	m.cache.Remove(id)
}

// Rename migrates a cached entry from a placeholder id to the
// backend-assigned one.
func (m *MetadataSource) Rename(oldID, newID string) {
	if ann, ok := m.cache.Get(oldID); ok {
		m.cache.Remove(oldID)
		m.cache.Add(newID, ann)
	}
}

// Fetch resolves the annotation for the id, from cache if possible,
// otherwise from the backend. A backend not-found resolves to (nil, nil):
// "confirmed absent". Transport failures are returned as errors; retry
// policy belongs to the caller's chunk manager.
func (m *MetadataSource) Fetch(ctx context.Context, id string) (model.Annotation, error) {
	if ann, ok := m.cache.Get(id); ok {
		return ann, nil
	}
	v, err, _ := m.group.Do(id, func() (any, error) {
		ann, err := m.backend.DownloadMetadata(ctx, id)
		if errors.Is(err, backend.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		m.cache.Add(id, ann)
		return ann, nil
	})
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	return v.(model.Annotation), nil
}
