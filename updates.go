package annogo

import (
	"time"

	"github.com/hupe1980/annogo/chunk"
	"github.com/hupe1980/annogo/model"
)

// staged is one queued or in-flight commit value; a nil annotation is an
// explicit delete.
type staged struct {
	ann model.Annotation
}

// updateRecord tracks one annotation id from its first local edit until the
// edit chain fully resolves.
type updateRecord struct {
	kind model.Kind

	// ref is the record's own owned handle, released on disposal.
	ref *Reference

	// existing is the last backend-confirmed value, nil if the id was
	// created locally and never confirmed.
	existing model.Annotation

	// pending is the edit queued while a commit is in flight; at most one,
	// last write wins.
	pending *staged

	// inFlight is the value of the outstanding commit request, nil when
	// none is outstanding. At most one commit is outstanding per id.
	inFlight *staged
}

// Add creates a new annotation with a fresh placeholder id (unless the
// caller supplied one), applies it optimistically and, if commit is true,
// dispatches a create request. The returned Reference is owned by the
// caller. Add returns nil if the source has been closed.
func (s *MultiscaleSource) Add(ann model.Annotation, commit bool) *Reference {
	defer s.locked()()
	if s.closed {
		return nil
	}

	ann = ann.Clone()
	if ann.Meta().ID == "" {
		ann.Meta().ID = model.NewID()
	}
	ref := s.getReferenceLocked(ann.Meta().ID, false)
	s.applyLocalUpdate(ref, false, commit, ann)
	return ref
}

// Update stages a new value for the annotation without committing it.
func (s *MultiscaleSource) Update(ref *Reference, ann model.Annotation) {
	defer s.locked()()
	if s.closed {
		return
	}
	ann = ann.Clone()
	ann.Meta().ID = ref.id
	s.applyLocalUpdate(ref, true, false, ann)
}

// Commit dispatches whatever value is currently staged for the annotation.
func (s *MultiscaleSource) Commit(ref *Reference) {
	defer s.locked()()
	if s.closed {
		return
	}
	var ann model.Annotation
	if ref.value != nil {
		ann = ref.value.Clone()
	}
	s.applyLocalUpdate(ref, true, true, ann)
}

// Delete deletes the annotation, optimistically locally and with a commit
// request to the backend. Deleting a locally created annotation whose
// creation never reached the backend is a pure client-side undo.
func (s *MultiscaleSource) Delete(ref *Reference) {
	defer s.locked()()
	if s.closed {
		return
	}
	s.applyLocalUpdate(ref, true, true, nil)
}

// applyLocalUpdate is the single entry point for every local mutation.
// hasExisting marks ids that already had backend-confirmed state before
// this edit chain began; newAnn nil means delete. Caller holds s.mu.
func (s *MultiscaleSource) applyLocalUpdate(ref *Reference, hasExisting, commit bool, newAnn model.Annotation) {
	rec, ok := s.updates[ref.id]
	if !ok {
		kind, kindOK := s.updateKind(ref, newAnn)
		if !kindOK {
			panic("annogo: local update of reference with no value")
		}
		rec = &updateRecord{kind: kind, ref: s.retainLocked(ref)}
		if hasExisting {
			if ref.value == nil {
				panic("annogo: local update of reference with no value")
			}
			rec.existing = ref.value.Clone()
			// The pre-edit value determined which chunks the annotation
			// was filed under; remove it from every resident one.
			s.forEachPossibleChunk(rec.existing, func(c *chunk.Chunk) {
				c.Buffer.Delete(rec.kind, ref.id)
			})
		}
		s.updates[ref.id] = rec
		if newAnn != nil {
			s.temporary.Buffer.Update(newAnn)
		}
	} else {
		if newAnn == nil {
			// A second edit superseding the first as a delete.
			s.temporary.Buffer.Delete(rec.kind, ref.id)
		} else {
			if newAnn.Kind() != rec.kind {
				panic("annogo: annotation kind changed within one edit chain")
			}
			s.temporary.Buffer.Update(newAnn)
		}
	}

	if newAnn != nil {
		ref.value = newAnn.Clone()
	} else {
		ref.value = nil
	}
	ref.loaded = true
	s.metrics.RecordLocalUpdate()

	if commit {
		switch {
		case rec.inFlight != nil:
			// At most one commit in flight per id: queue, last write wins.
			rec.pending = &staged{ann: cloneOrNil(newAnn)}
			s.metrics.RecordCommitQueued()
		case newAnn == nil && rec.existing == nil:
			// Deleting a creation the backend never saw: client-side undo,
			// no request is sent.
			s.disposeRecord(rec)
		default:
			s.sendCommitRequest(rec, cloneOrNil(newAnn))
		}
	}

	s.queueReferenceChanged(ref)
	s.queueChanged()
}

// updateKind determines the annotation kind of a new update record.
func (s *MultiscaleSource) updateKind(ref *Reference, newAnn model.Annotation) (model.Kind, bool) {
	if newAnn != nil {
		return newAnn.Kind(), true
	}
	if ref.value != nil {
		return ref.value.Kind(), true
	}
	return 0, false
}

// sendCommitRequest dispatches one commit for the record. Caller holds s.mu
// and has verified no commit is in flight for the id.
func (s *MultiscaleSource) sendCommitRequest(rec *updateRecord, ann model.Annotation) {
	rec.inFlight = &staged{ann: ann}
	s.commitsInFlight++
	s.updateCommitStatus()

	existingID := ""
	if rec.existing != nil {
		existingID = rec.existing.Meta().ID
	}
	id := rec.ref.id

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		start := time.Now()
		result, err := s.backend.CommitUpdate(s.ctx, existingID, ann)
		s.metrics.RecordCommit(time.Since(start), err)
		if err != nil {
			s.handleFailedUpdate(id, err)
		} else {
			s.handleSuccessfulUpdate(id, result)
		}
	}()
}

// handleSuccessfulUpdate reconciles a confirmed commit: migrates
// bookkeeping if the backend assigned a new id, records the confirmed
// value, dispatches a queued pending commit, or resolves the edit chain.
func (s *MultiscaleSource) handleSuccessfulUpdate(id string, result model.Annotation) {
	defer s.locked()()

	rec, ok := s.updates[id]
	if !ok || rec.inFlight == nil {
		panic("annogo: successful update notification for id with no commit in flight")
	}
	s.commitsInFlight--
	s.updateCommitStatus()
	rec.inFlight = nil
	s.logger.LogCommit(id, result == nil, nil)

	ref := rec.ref
	newID := id
	if result != nil && result.Meta().ID != id {
		// First commit of a newly created annotation: the backend assigned
		// the durable id. Re-key every piece of bookkeeping.
		newID = result.Meta().ID
		delete(s.references, id)
		s.references[newID] = ref
		ref.id = newID
		delete(s.updates, id)
		s.updates[newID] = rec
		if s.temporary.Buffer.Contains(rec.kind, id) {
			s.temporary.Buffer.Rename(rec.kind, id, newID)
		}
		s.metadata.Rename(id, newID)
		if ref.value != nil {
			ref.value.Meta().ID = newID
		}
	}

	if result != nil {
		rec.existing = result.Clone()
		s.metadata.Store(result.Clone())
	} else {
		rec.existing = nil
		s.metadata.Invalidate(newID)
	}

	if rec.pending != nil {
		p := rec.pending
		rec.pending = nil
		if p.ann != nil {
			// Propagate a freshly assigned id into the queued value.
			p.ann = p.ann.Clone()
			p.ann.Meta().ID = newID
		}
		if p.ann == nil && rec.existing == nil {
			// The queued edit deletes an annotation the in-flight commit
			// just confirmed deleted: nothing left to send.
			s.resolveRecord(rec)
		} else {
			s.sendCommitRequest(rec, p.ann)
		}
	} else {
		s.resolveRecord(rec)
	}

	s.queueReferenceChanged(ref)
	s.queueChanged()
}

// handleFailedUpdate reconciles a rejected commit: rolls back to the last
// confirmed state, discarding staged edits, and surfaces the message.
func (s *MultiscaleSource) handleFailedUpdate(id string, cause error) {
	defer s.locked()()

	rec, ok := s.updates[id]
	if !ok || rec.inFlight == nil {
		panic("annogo: failed update notification for id with no commit in flight")
	}
	wasDelete := rec.inFlight.ann == nil
	s.commitsInFlight--
	s.updateCommitStatus()
	rec.inFlight = nil
	s.logger.LogCommit(id, wasDelete, cause)

	if s.ctx.Err() == nil {
		s.surfaceError(&CommitError{ID: id, Message: cause.Error(), cause: cause})
	}

	// The conservative path: never retry a possibly stale pending value;
	// fall back to the last state the backend confirmed.
	rec.pending = nil
	ref := rec.ref
	s.resolveRecord(rec)

	s.queueReferenceChanged(ref)
	s.queueChanged()
}

// resolveRecord ends an edit chain: removes the speculative copy from the
// temporary overlay, restores the confirmed value (if any) into every
// resident chunk and into the reference, and disposes the record. Shared by
// terminal success and failure. Caller holds s.mu.
func (s *MultiscaleSource) resolveRecord(rec *updateRecord) {
	ref := rec.ref
	s.temporary.Buffer.Delete(rec.kind, ref.id)

	if rec.existing != nil {
		confirmed := rec.existing.Clone()
		s.forEachPossibleChunk(confirmed, func(c *chunk.Chunk) {
			c.Buffer.Update(confirmed)
		})
		ref.value = rec.existing.Clone()
	} else {
		ref.value = nil
	}
	ref.loaded = true
	s.disposeRecord(rec)
}

// disposeRecord drops the record and its owned reference. Caller holds s.mu.
func (s *MultiscaleSource) disposeRecord(rec *updateRecord) {
	delete(s.updates, rec.ref.id)
	s.releaseLocked(rec.ref)
}

// updateCommitStatus drives the user-visible commit indicator. Caller holds
// s.mu.
func (s *MultiscaleSource) updateCommitStatus() {
	s.metrics.SetCommitsInFlight(s.commitsInFlight)
	if s.statusFunc == nil {
		return
	}
	fn := s.statusFunc
	msg := ""
	if s.commitsInFlight > 0 {
		msg = committingStatus
	}
	s.notifications = append(s.notifications, func() { fn(msg) })
}

func cloneOrNil(ann model.Annotation) model.Annotation {
	if ann == nil {
		return nil
	}
	return ann.Clone()
}
