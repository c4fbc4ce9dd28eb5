package annogo

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/annogo/backend"
	"github.com/hupe1980/annogo/codec"
	"github.com/hupe1980/annogo/model"
	"github.com/hupe1980/annogo/packed"
	"github.com/hupe1980/annogo/spatial"
)

type commitReq struct {
	existingID string
	ann        model.Annotation
	resp       chan commitResp
}

type commitResp struct {
	ann model.Annotation
	err error
}

// fakeBackend hands every commit request to the test through a channel so
// tests control exactly when and how requests resolve.
type fakeBackend struct {
	mu       sync.Mutex
	metadata map[string]model.Annotation
	metaErr  map[string]error
	geometry map[string][]byte

	// metaGate, when set, blocks metadata downloads until closed.
	metaGate chan struct{}

	reqs chan commitReq
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		metadata: make(map[string]model.Annotation),
		metaErr:  make(map[string]error),
		geometry: make(map[string][]byte),
		reqs:     make(chan commitReq, 16),
	}
}

func (b *fakeBackend) DownloadGeometry(ctx context.Context, req backend.GeometryRequest) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	payload, ok := b.geometry[spatial.CellKey(req.Cell)]
	if !ok {
		return nil, fmt.Errorf("no geometry for cell %s", spatial.CellKey(req.Cell))
	}
	return payload, nil
}

func (b *fakeBackend) DownloadSegmentGeometry(ctx context.Context, relationship int, segment model.SegmentID) ([]byte, error) {
	return nil, fmt.Errorf("not supported")
}

func (b *fakeBackend) DownloadMetadata(ctx context.Context, id string) (model.Annotation, error) {
	if b.metaGate != nil {
		select {
		case <-b.metaGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err, ok := b.metaErr[id]; ok {
		return nil, err
	}
	ann, ok := b.metadata[id]
	if !ok {
		return nil, backend.ErrNotFound
	}
	return ann.Clone(), nil
}

func (b *fakeBackend) CommitUpdate(ctx context.Context, existingID string, ann model.Annotation) (model.Annotation, error) {
	req := commitReq{existingID: existingID, ann: ann, resp: make(chan commitResp, 1)}
	select {
	case b.reqs <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case r := <-req.resp:
		return r.ann, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// expectCommit receives the next commit request or fails the test.
func (b *fakeBackend) expectCommit(t *testing.T) commitReq {
	t.Helper()
	select {
	case req := <-b.reqs:
		return req
	case <-time.After(2 * time.Second):
		t.Fatal("expected a commit request, got none")
		return commitReq{}
	}
}

// expectNoCommit asserts that no commit request is dispatched.
func (b *fakeBackend) expectNoCommit(t *testing.T) {
	t.Helper()
	select {
	case req := <-b.reqs:
		t.Fatalf("unexpected commit request for %q", req.existingID)
	case <-time.After(50 * time.Millisecond):
	}
}

func testGrid(t *testing.T) *spatial.Grid {
	t.Helper()
	g, err := spatial.NewGrid(2, []float64{1, 1}, []float64{
		10, 0, 0,
		0, 10, 0,
		0, 0, 1,
	})
	require.NoError(t, err)
	return g
}

func newTestSource(t *testing.T, be backend.Backend, optFns ...Option) *MultiscaleSource {
	t.Helper()
	schema := model.Schema{Rank: 2, Relationships: []string{"segments"}}
	src, err := NewMultiscaleSource(schema, []*spatial.Grid{testGrid(t)}, be, optFns...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = src.Close() })
	return src
}

func pointAnn(id string, coords ...float32) *model.Point {
	return &model.Point{Base: model.Base{ID: id}, Point: coords}
}

// encodeCell builds a codec frame holding the given annotations.
func encodeCell(t *testing.T, src *MultiscaleSource, anns ...model.Annotation) []byte {
	t.Helper()
	payload, err := codec.Default.Encode(packed.FromAnnotations(src.Serializers(), anns))
	require.NoError(t, err)
	return payload
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, time.Millisecond)
}

func TestAddAppliesOptimistically(t *testing.T) {
	be := newFakeBackend()
	src := newTestSource(t, be)

	ref := src.Add(pointAnn("", 1, 2), false)
	defer ref.Release()

	require.NotNil(t, ref.Value())
	assert.Equal(t, []float32{1, 2}, ref.Value().(*model.Point).Point)
	assert.True(t, src.Temporary().Buffer.Contains(model.KindPoint, ref.ID()))
	be.expectNoCommit(t)
}

func TestIDReassignmentOnFirstCommit(t *testing.T) {
	be := newFakeBackend()
	src := newTestSource(t, be)

	ref := src.Add(pointAnn("", 3, 4), true)
	defer ref.Release()
	placeholder := ref.ID()

	req := be.expectCommit(t)
	assert.Empty(t, req.existingID)

	confirmed := pointAnn("server7", 3, 4)
	req.resp <- commitResp{ann: confirmed}

	eventually(t, func() bool { return ref.ID() == "server7" })

	// The renamed id resolves to the very same handle.
	ref2 := src.GetReference("server7")
	defer ref2.Release()
	assert.Same(t, ref, ref2)

	// The old placeholder is unrelated now.
	be.mu.Lock()
	be.metaErr[placeholder] = backend.ErrNotFound
	be.mu.Unlock()
	ref3 := src.GetReference(placeholder)
	defer ref3.Release()
	assert.NotSame(t, ref, ref3)
}

func TestAtMostOneCommitInFlight(t *testing.T) {
	be := newFakeBackend()
	src := newTestSource(t, be)

	ref := src.Add(pointAnn("", 1, 1), true)
	defer ref.Release()

	first := be.expectCommit(t)

	// Two superseding edits while the first commit is outstanding: only
	// the last survives as the single queued commit.
	src.Update(ref, pointAnn("", 2, 2))
	src.Commit(ref)
	src.Update(ref, pointAnn("", 5, 5))
	src.Commit(ref)
	be.expectNoCommit(t)

	first.resp <- commitResp{ann: pointAnn("server1", 1, 1)}

	second := be.expectCommit(t)
	assert.Equal(t, "server1", second.existingID)
	require.NotNil(t, second.ann)
	assert.Equal(t, []float32{5, 5}, second.ann.(*model.Point).Point)
	assert.Equal(t, "server1", second.ann.Meta().ID)

	second.resp <- commitResp{ann: pointAnn("server1", 5, 5)}
	eventually(t, func() bool {
		v := ref.Value()
		return v != nil && v.(*model.Point).Point[0] == 5
	})
}

func TestRollbackOnCommitFailure(t *testing.T) {
	be := newFakeBackend()
	confirmed := pointAnn("a", 1, 2)
	be.metadata["a"] = confirmed

	var mu sync.Mutex
	var surfaced []error
	src := newTestSource(t, be, WithErrorFunc(func(err error) {
		mu.Lock()
		surfaced = append(surfaced, err)
		mu.Unlock()
	}))

	// Make the annotation resident in a real chunk at cell 0_0
	// (point (1,2) / chunk size 10).
	require.NoError(t, src.ReceiveSpatialChunk(0, []int64{0, 0}, encodeCell(t, src, confirmed)))

	ref := src.GetReference("a")
	defer ref.Release()
	eventually(t, func() bool { return ref.Loaded() })

	src.Update(ref, pointAnn("a", 9, 9))
	src.Commit(ref)

	// The optimistic edit moved the annotation into the overlay.
	sp := src.SpatialSources()[0]
	c, ok := sp.Get("0_0")
	require.True(t, ok)
	assert.False(t, c.Buffer.Contains(model.KindPoint, "a"))
	assert.True(t, src.Temporary().Buffer.Contains(model.KindPoint, "a"))

	req := be.expectCommit(t)
	assert.Equal(t, "a", req.existingID)
	req.resp <- commitResp{err: fmt.Errorf("rejected by server")}

	// Failure rolls everything back to the confirmed state.
	eventually(t, func() bool {
		v := ref.Value()
		return v != nil && v.(*model.Point).Point[0] == 1 && v.(*model.Point).Point[1] == 2
	})
	assert.False(t, src.Temporary().Buffer.Contains(model.KindPoint, "a"))
	got, ok := c.Buffer.Get(model.KindPoint, "a")
	require.True(t, ok)
	assert.Equal(t, []float32{1, 2}, got.(*model.Point).Point)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, surfaced)
	var cerr *CommitError
	require.ErrorAs(t, surfaced[0], &cerr)
	assert.Equal(t, "a", cerr.ID)
}

func TestLocalDeleteOfUncommittedCreation(t *testing.T) {
	be := newFakeBackend()
	src := newTestSource(t, be)

	ref := src.Add(pointAnn("", 1, 1), false)
	defer ref.Release()
	id := ref.ID()
	require.True(t, src.Temporary().Buffer.Contains(model.KindPoint, id))

	src.Delete(ref)

	// Purely client-side undo: nothing was or will be sent.
	be.expectNoCommit(t)
	assert.False(t, src.Temporary().Buffer.Contains(model.KindPoint, id))
	assert.Nil(t, ref.Value())
}

func TestPendingDeleteAfterCreateInFlight(t *testing.T) {
	be := newFakeBackend()
	src := newTestSource(t, be)

	ref := src.Add(pointAnn("", 4, 4), true)
	defer ref.Release()

	create := be.expectCommit(t)

	// Delete while the creation is still in flight: queued, not sent.
	src.Delete(ref)
	be.expectNoCommit(t)

	create.resp <- commitResp{ann: pointAnn("server9", 4, 4)}

	// The queued delete goes out under the freshly assigned id.
	del := be.expectCommit(t)
	assert.Equal(t, "server9", del.existingID)
	assert.Nil(t, del.ann)
	del.resp <- commitResp{}

	eventually(t, func() bool { return ref.Value() == nil })
	assert.False(t, src.Temporary().Buffer.Contains(model.KindPoint, "server9"))
}

func TestCommitStatusIndicator(t *testing.T) {
	be := newFakeBackend()

	var mu sync.Mutex
	var statuses []string
	src := newTestSource(t, be, WithStatusFunc(func(st string) {
		mu.Lock()
		statuses = append(statuses, st)
		mu.Unlock()
	}))

	ref := src.Add(pointAnn("", 1, 1), true)
	defer ref.Release()

	req := be.expectCommit(t)
	mu.Lock()
	require.NotEmpty(t, statuses)
	assert.Equal(t, committingStatus, statuses[0])
	mu.Unlock()

	req.resp <- commitResp{ann: pointAnn("s1", 1, 1)}
	eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(statuses) >= 2 && statuses[len(statuses)-1] == ""
	})
}

func TestReceiveChunkSuppressesLocalEdits(t *testing.T) {
	be := newFakeBackend()
	confirmed := pointAnn("a", 1, 2)
	be.metadata["a"] = confirmed
	src := newTestSource(t, be)

	ref := src.GetReference("a")
	defer ref.Release()
	eventually(t, func() bool { return ref.Loaded() })

	// Stage an edit; no chunk is resident yet.
	src.Update(ref, pointAnn("a", 9, 9))
	require.True(t, src.Temporary().Buffer.Contains(model.KindPoint, "a"))

	// The confirmed copy arriving later must not shadow the local edit.
	require.NoError(t, src.ReceiveSpatialChunk(0, []int64{0, 0}, encodeCell(t, src, confirmed)))
	c, ok := src.SpatialSources()[0].Get("0_0")
	require.True(t, ok)
	assert.False(t, c.Buffer.Contains(model.KindPoint, "a"))
	assert.True(t, src.Temporary().Buffer.Contains(model.KindPoint, "a"))
}

func TestEditRemovedFromBothBoundaryChunks(t *testing.T) {
	be := newFakeBackend()
	// Point (10, 5) sits exactly on the boundary between cells 0_0 and
	// 1_0 (chunk size 10): both sides may hold it.
	confirmed := pointAnn("b", 10, 5)
	be.metadata["b"] = confirmed
	src := newTestSource(t, be)

	require.NoError(t, src.ReceiveSpatialChunk(0, []int64{0, 0}, encodeCell(t, src, confirmed)))
	require.NoError(t, src.ReceiveSpatialChunk(0, []int64{1, 0}, encodeCell(t, src, confirmed)))

	ref := src.GetReference("b")
	defer ref.Release()
	eventually(t, func() bool { return ref.Loaded() })

	src.Update(ref, pointAnn("b", 10, 6))

	sp := src.SpatialSources()[0]
	for _, key := range []string{"0_0", "1_0"} {
		c, ok := sp.Get(key)
		require.True(t, ok)
		assert.False(t, c.Buffer.Contains(model.KindPoint, "b"), "chunk %s still holds the pre-edit copy", key)
	}
}

func TestChangedSignalFires(t *testing.T) {
	be := newFakeBackend()
	src := newTestSource(t, be)

	fired := make(chan struct{}, 16)
	remove := src.OnChanged(func() { fired <- struct{}{} })
	defer remove()

	ref := src.Add(pointAnn("", 2, 2), false)
	defer ref.Release()

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("changed signal did not fire")
	}
}

func TestMissingRelationshipSegments(t *testing.T) {
	be := newFakeBackend()
	src := newTestSource(t, be)

	payload := encodeCell(t, src, &model.Point{
		Base:  model.Base{ID: "a", RelatedSegments: [][]model.SegmentID{{7}}},
		Point: []float32{2, 2},
	})
	require.NoError(t, src.ReceiveRelationshipChunk(0, 7, payload))

	missing := src.MissingRelationshipSegments(0,
		[]model.SegmentID{7, 9},
		[]model.SegmentID{9, 8},
	)
	assert.Equal(t, []model.SegmentID{8, 9}, missing)

	assert.Nil(t, src.MissingRelationshipSegments(1, []model.SegmentID{7}))

	require.True(t, src.EvictRelationshipChunk(0, 7))
	assert.Equal(t, []model.SegmentID{7},
		src.MissingRelationshipSegments(0, []model.SegmentID{7}))
}

func TestHandlerAddedDuringChangedNotification(t *testing.T) {
	be := newFakeBackend()
	src := newTestSource(t, be)

	lateFired := make(chan struct{}, 16)
	var once sync.Once
	remove := src.OnChanged(func() {
		once.Do(func() {
			src.OnChanged(func() { lateFired <- struct{}{} })
		})
	})
	defer remove()

	ref := src.Add(pointAnn("", 2, 2), false)
	defer ref.Release()

	// The handler registered during the first notification must fire on the
	// next mutation.
	src.Update(ref, pointAnn("", 3, 3))

	select {
	case <-lateFired:
	case <-time.After(time.Second):
		t.Fatal("handler registered during notification never fired")
	}
}

func TestSuccessfulUpdateWithoutInFlightPanics(t *testing.T) {
	be := newFakeBackend()
	src := newTestSource(t, be)

	assert.Panics(t, func() {
		src.handleSuccessfulUpdate("nope", nil)
	})
}

func TestUpdateOfUnloadedReferencePanics(t *testing.T) {
	be := newFakeBackend()
	be.metaErr["x"] = backend.ErrNotFound
	src := newTestSource(t, be)

	ref := src.GetReference("x")
	defer ref.Release()
	eventually(t, func() bool { return ref.Loaded() })
	require.Nil(t, ref.Value())

	assert.Panics(t, func() {
		src.Update(ref, pointAnn("x", 1, 1))
	})
}

func TestAddAfterCloseReturnsNil(t *testing.T) {
	be := newFakeBackend()
	src := newTestSource(t, be)
	require.NoError(t, src.Close())

	assert.Nil(t, src.Add(pointAnn("", 2, 2), true))
}

func TestMemoryBackendEndToEnd(t *testing.T) {
	schema := model.Schema{Rank: 2, Relationships: []string{"segments"}}
	grid := testGrid(t)
	be, err := backend.NewMemory(schema, []*spatial.Grid{grid}, nil)
	require.NoError(t, err)

	src, err := NewMultiscaleSource(schema, []*spatial.Grid{grid}, be)
	require.NoError(t, err)
	defer src.Close()

	ref := src.Add(&model.Point{
		Base:  model.Base{RelatedSegments: [][]model.SegmentID{{42}}},
		Point: []float32{3, 4},
	}, true)
	defer ref.Release()

	eventually(t, func() bool { return be.Len() == 1 })
	eventually(t, func() bool {
		src.mu.Lock()
		defer src.mu.Unlock()
		return len(src.updates) == 0
	})

	// The confirmed annotation is served back through bulk geometry.
	payload, err := be.DownloadGeometry(context.Background(), backend.GeometryRequest{Scale: 0, Cell: []int64{0, 0}})
	require.NoError(t, err)
	require.NoError(t, src.ReceiveSpatialChunk(0, []int64{0, 0}, payload))

	c, ok := src.SpatialSources()[0].Get("0_0")
	require.True(t, ok)
	assert.Equal(t, 1, c.Buffer.Count(model.KindPoint))
	assert.Equal(t, "srv-1", ref.ID())
}
