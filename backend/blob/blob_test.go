package blob

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/annogo/backend"
	"github.com/hupe1980/annogo/blobstore"
	"github.com/hupe1980/annogo/codec"
	"github.com/hupe1980/annogo/model"
	"github.com/hupe1980/annogo/packed"
	"github.com/hupe1980/annogo/spatial"
)

func testSource(t *testing.T, optFns ...Option) (*Source, *blobstore.Memory) {
	t.Helper()
	schema := model.Schema{Rank: 3, Relationships: []string{"segments"}}
	grid, err := spatial.NewGrid(3, []float64{10, 10, 10}, []float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	})
	require.NoError(t, err)
	store := blobstore.NewMemory()
	src, err := NewSource(store, &MemoryCommitLog{}, schema, []*spatial.Grid{grid}, optFns...)
	require.NoError(t, err)
	return src, store
}

func decode(t *testing.T, src *Source, payload []byte) *packed.Buffer {
	t.Helper()
	buf, err := codec.Default.Decode(payload, src.serializers)
	require.NoError(t, err)
	return buf
}

func TestCreateUpdateDeleteRoundTrip(t *testing.T) {
	ctx := context.Background()
	src, store := testSource(t)

	created, err := src.CommitUpdate(ctx, "", &model.Point{
		Base:  model.Base{RelatedSegments: [][]model.SegmentID{{7}}},
		Point: []float32{12, 3, 4},
	})
	require.NoError(t, err)
	require.NotNil(t, created)
	id := created.Meta().ID
	assert.Equal(t, "a1", id)

	// Filed under its cell, its segment, and its metadata key.
	payload, err := src.DownloadGeometry(ctx, backend.GeometryRequest{Scale: 0, Cell: []int64{1, 0, 0}})
	require.NoError(t, err)
	assert.True(t, decode(t, src, payload).Contains(model.KindPoint, id))

	payload, err = src.DownloadSegmentGeometry(ctx, 0, 7)
	require.NoError(t, err)
	assert.True(t, decode(t, src, payload).Contains(model.KindPoint, id))

	got, err := src.DownloadMetadata(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []float32{12, 3, 4}, got.(*model.Point).Point)

	// Move to another cell and segment: old blobs are cleaned up.
	updated, err := src.CommitUpdate(ctx, id, &model.Point{
		Base:  model.Base{RelatedSegments: [][]model.SegmentID{{9}}},
		Point: []float32{25, 3, 4},
	})
	require.NoError(t, err)
	assert.Equal(t, id, updated.Meta().ID)

	payload, err = src.DownloadGeometry(ctx, backend.GeometryRequest{Scale: 0, Cell: []int64{1, 0, 0}})
	require.NoError(t, err)
	assert.False(t, decode(t, src, payload).Contains(model.KindPoint, id))
	payload, err = src.DownloadGeometry(ctx, backend.GeometryRequest{Scale: 0, Cell: []int64{2, 0, 0}})
	require.NoError(t, err)
	assert.True(t, decode(t, src, payload).Contains(model.KindPoint, id))
	payload, err = src.DownloadSegmentGeometry(ctx, 0, 9)
	require.NoError(t, err)
	assert.True(t, decode(t, src, payload).Contains(model.KindPoint, id))

	// Delete removes every trace.
	result, err := src.CommitUpdate(ctx, id, nil)
	require.NoError(t, err)
	assert.Nil(t, result)

	_, err = src.DownloadMetadata(ctx, id)
	require.ErrorIs(t, err, backend.ErrNotFound)
	keys, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestMissingCellResolvesToEmptyPayload(t *testing.T) {
	ctx := context.Background()
	src, _ := testSource(t)

	payload, err := src.DownloadGeometry(ctx, backend.GeometryRequest{Scale: 0, Cell: []int64{5, 5, 5}})
	require.NoError(t, err)
	buf := decode(t, src, payload)
	for k := model.Kind(0); k < model.KindCount; k++ {
		assert.Zero(t, buf.Count(k))
	}
}

func TestUpdateOfUnknownIDFails(t *testing.T) {
	ctx := context.Background()
	src, _ := testSource(t)

	_, err := src.CommitUpdate(ctx, "ghost", &model.Point{Point: []float32{1, 2, 3}})
	require.Error(t, err)
	_, err = src.CommitUpdate(ctx, "ghost", nil)
	require.Error(t, err)
}

func TestLineSpanningCellsIsFiledUnderBoth(t *testing.T) {
	ctx := context.Background()
	src, _ := testSource(t)

	created, err := src.CommitUpdate(ctx, "", &model.Line{
		PointA: []float32{2, 2, 2},
		PointB: []float32{27, 2, 2},
	})
	require.NoError(t, err)
	id := created.Meta().ID

	for _, cell := range [][]int64{{0, 0, 0}, {2, 0, 0}} {
		payload, err := src.DownloadGeometry(ctx, backend.GeometryRequest{Scale: 0, Cell: cell})
		require.NoError(t, err)
		assert.True(t, decode(t, src, payload).Contains(model.KindLine, id))
	}
}

func TestWarmupVisitsEveryCell(t *testing.T) {
	ctx := context.Background()
	src, _ := testSource(t)

	_, err := src.CommitUpdate(ctx, "", &model.Point{Point: []float32{5, 5, 5}})
	require.NoError(t, err)

	var mu sync.Mutex
	seen := make(map[string]int)
	err = src.Warmup(ctx, 0, []int64{0, 0, 0}, []int64{2, 2, 1}, func(cell []int64, payload []byte) error {
		buf := decode(t, src, payload)
		mu.Lock()
		seen[spatial.CellKey(cell)] = buf.Count(model.KindPoint)
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)

	require.Len(t, seen, 4)
	assert.Equal(t, 1, seen["0_0_0"])
	assert.Equal(t, 0, seen["1_1_0"])
}

func TestDownloadLimitStillServes(t *testing.T) {
	ctx := context.Background()
	src, _ := testSource(t, WithDownloadLimit(1 << 20))

	created, err := src.CommitUpdate(ctx, "", &model.Point{Point: []float32{1, 1, 1}})
	require.NoError(t, err)

	got, err := src.DownloadMetadata(ctx, created.Meta().ID)
	require.NoError(t, err)
	assert.Equal(t, created.Meta().ID, got.Meta().ID)
}
