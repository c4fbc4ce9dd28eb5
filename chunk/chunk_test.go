package chunk_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/annogo/chunk"
	"github.com/hupe1980/annogo/codec"
	"github.com/hupe1980/annogo/model"
	"github.com/hupe1980/annogo/packed"
	"github.com/hupe1980/annogo/spatial"
)

func testSchema() model.Schema {
	return model.Schema{Rank: 3, Relationships: []string{"segments"}}
}

func testSerializers(t *testing.T) packed.Serializers {
	t.Helper()
	s, err := packed.NewSerializers(testSchema())
	require.NoError(t, err)
	return s
}

func testGrid(t *testing.T) *spatial.Grid {
	t.Helper()
	g, err := spatial.NewGrid(3, []float64{10, 10, 10}, []float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	})
	require.NoError(t, err)
	return g
}

func encode(t *testing.T, serializers packed.Serializers, anns ...model.Annotation) []byte {
	t.Helper()
	payload, err := codec.Default.Encode(packed.FromAnnotations(serializers, anns))
	require.NoError(t, err)
	return payload
}

func point(id string, x, y, z float32) *model.Point {
	return &model.Point{
		Base: model.Base{
			ID:              id,
			RelatedSegments: [][]model.SegmentID{{7}},
		},
		Point: []float32{x, y, z},
	}
}

func TestSpatialSourceReceiveAndEvict(t *testing.T) {
	serializers := testSerializers(t)
	src := chunk.NewSpatialSource(testGrid(t), serializers, nil)

	payload := encode(t, serializers, point("a", 1, 2, 3), point("b", 4, 5, 6))
	c, err := src.Receive([]int64{0, 0, 0}, payload)
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 0, 0}, c.Cell)
	assert.Equal(t, 2, c.Buffer.Count(model.KindPoint))
	assert.False(t, c.Buffer.Valid())

	got, ok := src.Get("0_0_0")
	require.True(t, ok)
	assert.Same(t, c, got)
	assert.Equal(t, 1, src.Len())

	// A re-delivery for the same cell replaces the resident chunk.
	replacement, err := src.Receive([]int64{0, 0, 0}, encode(t, serializers, point("a", 1, 2, 3)))
	require.NoError(t, err)
	got, ok = src.Get("0_0_0")
	require.True(t, ok)
	assert.Same(t, replacement, got)
	assert.Equal(t, 1, src.Len())

	assert.True(t, src.Evict("0_0_0"))
	assert.False(t, src.Evict("0_0_0"))
	assert.Equal(t, 0, src.Len())
}

func TestSpatialSourceRejectsMalformedPayload(t *testing.T) {
	serializers := testSerializers(t)
	src := chunk.NewSpatialSource(testGrid(t), serializers, nil)

	payload := encode(t, serializers, point("a", 1, 2, 3))
	payload[len(payload)-1] ^= 0xff

	_, err := src.Receive([]int64{0, 0, 0}, payload)
	require.Error(t, err)

	var malformed *codec.MalformedError
	require.ErrorAs(t, err, &malformed)
	assert.Equal(t, 0, src.Len())
}

func TestSpatialSourceReceiveCopiesCell(t *testing.T) {
	serializers := testSerializers(t)
	src := chunk.NewSpatialSource(testGrid(t), serializers, nil)

	cell := []int64{1, 2, 3}
	c, err := src.Receive(cell, encode(t, serializers))
	require.NoError(t, err)

	cell[0] = 99
	assert.Equal(t, []int64{1, 2, 3}, c.Cell)
}

func TestRelationshipSourceResidency(t *testing.T) {
	serializers := testSerializers(t)
	src := chunk.NewRelationshipSource("segments", serializers, nil)
	assert.Equal(t, "segments", src.Name())

	_, err := src.Receive(7, encode(t, serializers, point("a", 1, 2, 3)))
	require.NoError(t, err)
	_, err = src.Receive(9, encode(t, serializers))
	require.NoError(t, err)

	assert.True(t, src.Resident(7))
	assert.True(t, src.Resident(9))
	assert.False(t, src.Resident(8))
	assert.Equal(t, 2, src.Len())

	resident := src.ResidentSegments()
	assert.Equal(t, uint64(2), resident.GetCardinality())

	// The returned bitmap is a copy; mutating it leaves residency intact.
	resident.Remove(7)
	assert.True(t, src.Resident(7))

	assert.True(t, src.Evict(7))
	assert.False(t, src.Evict(7))
	assert.False(t, src.Resident(7))
	assert.Equal(t, 1, src.Len())
}

func TestRelationshipSourceMissingSegments(t *testing.T) {
	serializers := testSerializers(t)
	src := chunk.NewRelationshipSource("segments", serializers, nil)

	_, err := src.Receive(7, encode(t, serializers, point("a", 1, 2, 3)))
	require.NoError(t, err)

	// Candidate lists overlap; resident segments are filtered out and the
	// rest comes back deduplicated in ascending order.
	missing := src.MissingSegments(
		[]model.SegmentID{9, 7, 8},
		[]model.SegmentID{8, 12},
	)
	assert.Equal(t, []model.SegmentID{8, 9, 12}, missing)

	assert.Empty(t, src.MissingSegments([]model.SegmentID{7}))
	assert.Empty(t, src.MissingSegments())

	require.True(t, src.Evict(7))
	assert.Equal(t, []model.SegmentID{7}, src.MissingSegments([]model.SegmentID{7}))
}
