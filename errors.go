package annogo

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned when an operation is attempted on a closed
	// MultiscaleSource.
	ErrClosed = errors.New("annogo: source is closed")

	// ErrUnknownScale is returned for a chunk delivery addressed to a
	// scale index the source does not declare.
	ErrUnknownScale = errors.New("annogo: unknown scale index")

	// ErrUnknownRelationship is returned for a chunk delivery addressed to
	// a relationship index the schema does not declare.
	ErrUnknownRelationship = errors.New("annogo: unknown relationship index")
)

// CommitError reports a backend-rejected commit. It is surfaced through the
// error callback after the local state has been rolled back to the last
// confirmed value; it is never returned from the mutation API.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type CommitError struct {
	// ID is the annotation id the commit targeted.
	ID string
	// Message is the user-visible failure description.
	Message string
	cause   error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("annogo: commit of annotation %q failed: %s", e.ID, e.Message)
}

func (e *CommitError) Unwrap() error { return e.cause }

// MetadataError reports a failed single-annotation metadata fetch. The
// affected Reference resolves to "not found"; the fetch is not retried.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type MetadataError struct {
	// ID is the annotation id whose fetch failed.
	ID    string
	cause error
}

func (e *MetadataError) Error() string {
	return fmt.Sprintf("annogo: metadata fetch for annotation %q failed: %v", e.ID, e.cause)
}

func (e *MetadataError) Unwrap() error { return e.cause }
