package annogo

import (
	"context"
	"errors"

	"github.com/hupe1980/annogo/internal/signal"
	"github.com/hupe1980/annogo/model"
)

// Reference is a ref-counted handle to one annotation id, shared by every
// consumer currently interested in that id. Its value is the current
// authoritative or speculative annotation, nil once the annotation is
// confirmed deleted or not found.
//
// References are handed out by MultiscaleSource.GetReference and Add. Each
// holder must call Release exactly once; releasing the last holder cancels
// the backend metadata subscription and drops the table entry.
type Reference struct {
	source *MultiscaleSource

	id       string
	value    model.Annotation
	loaded   bool
	count    int
	changed  signal.Signal
	cancelFn context.CancelFunc
}

// ID returns the current annotation id. It changes when the backend assigns
// a durable id to a newly created annotation.
func (r *Reference) ID() string {
	r.source.mu.Lock()
	defer r.source.mu.Unlock()
	return r.id
}

// Value returns the current annotation value, or nil if the annotation is
// confirmed deleted, not found, or not yet loaded (see Loaded).
func (r *Reference) Value() model.Annotation {
	r.source.mu.Lock()
	defer r.source.mu.Unlock()
	return r.value
}

// Loaded reports whether the value has been resolved at least once.
func (r *Reference) Loaded() bool {
	r.source.mu.Lock()
	defer r.source.mu.Unlock()
	return r.loaded
}

// OnChanged registers fn to run after every change to the reference's value
// or id. It returns a removal function.
func (r *Reference) OnChanged(fn func()) (remove func()) {
	r.source.mu.Lock()
	defer r.source.mu.Unlock()
	return r.changed.Add(fn)
}

// Release drops one holder. The last Release unsubscribes from backend
// metadata updates and removes the table entry.
func (r *Reference) Release() {
	s := r.source
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseLocked(r)
}

// retainLocked increments the ref-count. Caller holds s.mu.
func (s *MultiscaleSource) retainLocked(r *Reference) *Reference {
	r.count++
	return r
}

// releaseLocked decrements the ref-count and tears the handle down at zero.
// Caller holds s.mu.
func (s *MultiscaleSource) releaseLocked(r *Reference) {
	if r.count <= 0 {
		panic("annogo: release of already released reference")
	}
	r.count--
	if r.count > 0 {
		return
	}
	if r.cancelFn != nil {
		r.cancelFn()
		r.cancelFn = nil
	}
	if s.references[r.id] == r {
		delete(s.references, r.id)
	}
}

// getReferenceLocked returns the resident handle with an incremented count,
// or creates one. A newly created handle is pre-populated from the metadata
// cache; on a miss a backend metadata fetch is started unless fetch is
// false (locally created ids have no backend state to subscribe to).
// Caller holds s.mu.
func (s *MultiscaleSource) getReferenceLocked(id string, fetch bool) *Reference {
	if ref, ok := s.references[id]; ok {
		return s.retainLocked(ref)
	}
	ref := &Reference{source: s, id: id, count: 1}
	s.references[id] = ref

	if ann, ok := s.metadata.Cached(id); ok {
		ref.value = ann.Clone()
		ref.loaded = true
		return ref
	}
	if !fetch || s.closed {
		return ref
	}

	fetchCtx, cancel := context.WithCancel(s.ctx)
	ref.cancelFn = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ann, err := s.metadata.Fetch(fetchCtx, id)
		s.completeMetadataFetch(id, ann, err)
	}()
	return ref
}

// completeMetadataFetch delivers an asynchronous metadata result into the
// reference table. A local update in progress for the id takes precedence
// over the fetched value.
func (s *MultiscaleSource) completeMetadataFetch(id string, ann model.Annotation, err error) {
	defer s.locked()()

	ref, ok := s.references[id]
	if !ok {
		// Last holder released while the fetch was in flight.
		return
	}
	if _, editing := s.updates[id]; editing {
		return
	}
	if errors.Is(err, context.Canceled) {
		return
	}
	if err != nil {
		if s.ctx.Err() == nil {
			s.surfaceError(&MetadataError{ID: id, cause: err})
		}
		ref.value = nil
		ref.loaded = true
	} else {
		if ann != nil {
			ref.value = ann.Clone()
		} else {
			ref.value = nil
		}
		ref.loaded = true
	}
	s.queueReferenceChanged(ref)
}
