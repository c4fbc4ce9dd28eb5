// Package annogo provides the annotation synchronization engine used by
// viewers of large volumetric datasets: an in-memory, GPU-uploadable packed
// representation of point, line, bounding-box and ellipsoid annotations that
// stays consistent across optimistic local edits, asynchronous backend
// commits and incrementally arriving chunks.
//
// # Quick start
//
//	schema := model.Schema{Rank: 3, Relationships: []string{"segments"}}
//	grid, _ := spatial.NewGrid(3, chunkSize, chunkToMultiscale)
//	src, _ := annogo.NewMultiscaleSource(schema, []*spatial.Grid{grid}, be)
//	defer src.Close()
//
//	ref := src.Add(&model.Point{Point: []float32{10, 20, 30}}, true)
//	defer ref.Release()
//
// Edits are fire-and-forget: Add, Update, Delete and Commit apply
// immediately to the temporary overlay buffer and are reconciled with the
// backend asynchronously. Commit failures roll the annotation back to its
// last confirmed state and are surfaced through the error callback, never
// as errors from the mutation API.
//
// # Consistency model
//
// Per annotation id, at most one commit request is outstanding at any time;
// a superseding edit is queued and dispatched once the outstanding request
// resolves. A newly created annotation carries a client-side placeholder id
// until the backend assigns the durable one, at which point all bookkeeping
// migrates to the new id and existing References remain valid.
package annogo
