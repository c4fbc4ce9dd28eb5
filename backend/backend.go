// Package backend defines the transport-facing interface the annotation
// engine consumes, together with an in-process implementation. Concrete
// services (DVID, precomputed sources, blob stores) adapt to this interface;
// the engine itself is backend-agnostic.
package backend

import (
	"context"
	"errors"

	"github.com/hupe1980/annogo/model"
)

// ErrNotFound is returned by DownloadMetadata when the id does not exist on
// the backend.
var ErrNotFound = errors.New("backend: annotation not found")

// GeometryRequest identifies one spatially indexed chunk: a grid cell of
// one scale.
type GeometryRequest struct {
	Scale int
	Cell  []int64
}

// Backend is the set of asynchronous operations the engine issues. All
// calls may run concurrently and may be cancelled through their context;
// the engine never issues two concurrent CommitUpdate calls for the same
// annotation id.
type Backend interface {
	// DownloadGeometry bulk-fetches the encoded annotation set of a grid
	// cell. The payload is a codec frame.
	DownloadGeometry(ctx context.Context, req GeometryRequest) ([]byte, error)

	// DownloadSegmentGeometry bulk-fetches the encoded annotation set
	// filtered to annotations related to segment under the given
	// relationship index.
	DownloadSegmentGeometry(ctx context.Context, relationship int, segment model.SegmentID) ([]byte, error)

	// DownloadMetadata fetches a single annotation by id. Returns
	// ErrNotFound if the id does not exist.
	DownloadMetadata(ctx context.Context, id string) (model.Annotation, error)

	// CommitUpdate is the sole mutating call. Semantics:
	//
	//	existingID == "" and ann != nil: create; the result carries the
	//	    backend-assigned id, which may differ from ann's placeholder.
	//	existingID != "" and ann != nil: update.
	//	existingID != "" and ann == nil:  delete; the result is nil.
	CommitUpdate(ctx context.Context, existingID string, ann model.Annotation) (model.Annotation, error)
}
