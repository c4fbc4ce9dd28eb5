package blobstore

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// Caching wraps a Store with an LRU read-through cache. Concurrent misses of
// the same key collapse into one fetch from the inner store. Writes and
// deletes invalidate the cached entry before reaching the inner store.
//
// Annotation payloads are replaced wholesale on commit, so entry-level
// invalidation is sufficient.
type Caching struct {
	inner Store
	cache *lru.Cache[string, []byte]
	group singleflight.Group
}

// NewCaching creates a caching wrapper holding up to size blobs.
func NewCaching(inner Store, size int) (*Caching, error) {
	cache, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, err
	}
	return &Caching{inner: inner, cache: cache}, nil
}

// Get implements Store.
func (s *Caching) Get(ctx context.Context, key string) ([]byte, error) {
	if data, ok := s.cache.Get(key); ok {
		return data, nil
	}
	v, err, _ := s.group.Do(key, func() (any, error) {
		data, err := s.inner.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		s.cache.Add(key, data)
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// Put implements Store.
func (s *Caching) Put(ctx context.Context, key string, data []byte) error {
	s.cache.Remove(key)
	return s.inner.Put(ctx, key, data)
}

// Delete implements Store.
func (s *Caching) Delete(ctx context.Context, key string) error {
	s.cache.Remove(key)
	return s.inner.Delete(ctx, key)
}

// List implements Store.
func (s *Caching) List(ctx context.Context, prefix string) ([]string, error) {
	return s.inner.List(ctx, prefix)
}
