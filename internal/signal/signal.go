// Package signal provides a minimal synchronous observer list used for
// change notification. Dispatch runs handlers inline on the calling
// goroutine, preserving the single-threaded delivery semantics the
// annotation engine relies on.
package signal

// Signal is an ordered list of nullary handlers. It is not safe for
// concurrent use; the owner must serialize Add, remove and Dispatch.
type Signal struct {
	handlers map[int]func()
	order    []int
	next     int
}

// Add registers fn and returns a function that removes it again. Removal is
// idempotent.
func (s *Signal) Add(fn func()) (remove func()) {
	if s.handlers == nil {
		s.handlers = make(map[int]func())
	}
	id := s.next
	s.next++
	s.handlers[id] = fn
	s.order = append(s.order, id)
	return func() {
		delete(s.handlers, id)
	}
}

// Dispatch invokes every registered handler in registration order. Handlers
// added during a dispatch do not fire until the next one; handlers removed
// during a dispatch no longer fire in it.
func (s *Signal) Dispatch() {
	// Handlers may Add or remove re-entrantly, so iterate over a snapshot
	// and leave s.order alone until they have all run.
	ids := append([]int(nil), s.order...)
	for _, id := range ids {
		if fn, ok := s.handlers[id]; ok {
			fn()
		}
	}

	// Compact removed entries lazily.
	kept := s.order[:0]
	for _, id := range s.order {
		if _, ok := s.handlers[id]; ok {
			kept = append(kept, id)
		}
	}
	s.order = kept
}

// Len returns the number of registered handlers.
func (s *Signal) Len() int { return len(s.handlers) }
