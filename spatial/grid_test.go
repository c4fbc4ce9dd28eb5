package spatial

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// identity2 is a rank-2 identity transform with unit chunk size.
func identity2(t *testing.T) *Grid {
	t.Helper()
	g, err := NewGrid(2, []float64{1, 1}, []float64{
		1, 0, 0,
		0, 1, 0,
		0, 0, 1,
	})
	require.NoError(t, err)
	return g
}

func collectCells(lower, upper []int64) [][]int64 {
	var out [][]int64
	ForEachCell(lower, upper, func(cell []int64) {
		out = append(out, append([]int64(nil), cell...))
	})
	return out
}

func TestInteriorPointVisitsSingleCell(t *testing.T) {
	g := identity2(t)
	lower, upper := g.CellRange([][]float32{{2.5, 3.5}})
	cells := collectCells(lower, upper)
	assert.Equal(t, [][]int64{{2, 3}}, cells)
}

func TestBoundaryPointVisitsBothNeighbors(t *testing.T) {
	g := identity2(t)
	// x lies exactly on the boundary between cells 1 and 2.
	lower, upper := g.CellRange([][]float32{{2.0, 3.5}})
	cells := collectCells(lower, upper)
	assert.Equal(t, [][]int64{{1, 3}, {2, 3}}, cells)
}

func TestCornerPointVisitsFourCells(t *testing.T) {
	g := identity2(t)
	lower, upper := g.CellRange([][]float32{{2.0, 3.0}})
	cells := collectCells(lower, upper)
	assert.Len(t, cells, 4)
	assert.Contains(t, cells, []int64{1, 2})
	assert.Contains(t, cells, []int64{1, 3})
	assert.Contains(t, cells, []int64{2, 2})
	assert.Contains(t, cells, []int64{2, 3})
}

func TestCellRangeSpansAllPoints(t *testing.T) {
	g := identity2(t)
	lower, upper := g.CellRange([][]float32{{0.5, 0.5}, {3.5, 1.5}})
	cells := collectCells(lower, upper)
	assert.Contains(t, cells, []int64{0, 0})
	assert.Contains(t, cells, []int64{3, 1})
}

func TestScaledTransform(t *testing.T) {
	// Chunks of 16 multiscale units per axis: chunkToMultiscale scales by
	// 16 and chunkDataSize is 1 chunk unit.
	g, err := NewGrid(2, []float64{1, 1}, []float64{
		16, 0, 0,
		0, 16, 0,
		0, 0, 1,
	})
	require.NoError(t, err)

	cell := g.ToCell([]float32{40, 8})
	assert.InDelta(t, 2.5, cell[0], 1e-9)
	assert.InDelta(t, 0.5, cell[1], 1e-9)

	lower, upper := g.CellRange([][]float32{{40, 8}})
	assert.Equal(t, [][]int64{{2, 0}}, collectCells(lower, upper))
}

func TestTranslatedTransformWithChunkDataSize(t *testing.T) {
	// Voxel size 4 with an offset of 8, chunks of 64 voxels.
	g, err := NewGrid(1, []float64{64}, []float64{
		4, 8,
		0, 1,
	})
	require.NoError(t, err)

	// Multiscale 8 -> voxel 0 -> cell 0.0 (boundary).
	lower, upper := g.CellRange([][]float32{{8}})
	assert.Equal(t, [][]int64{{-1}, {0}}, collectCells(lower, upper))

	// Multiscale 136 -> voxel 32 -> cell 0.5 (interior).
	lower, upper = g.CellRange([][]float32{{136}})
	assert.Equal(t, [][]int64{{0}}, collectCells(lower, upper))
}

func TestSingularTransformRejected(t *testing.T) {
	_, err := NewGrid(2, []float64{1, 1}, []float64{
		1, 1, 0,
		1, 1, 0,
		0, 0, 1,
	})
	assert.Error(t, err)
}

func TestCellKeyRoundTrip(t *testing.T) {
	key := CellKey([]int64{-1, 0, 42})
	assert.Equal(t, "-1_0_42", key)
	cell, err := ParseCellKey(key)
	require.NoError(t, err)
	assert.Equal(t, []int64{-1, 0, 42}, cell)

	_, err = ParseCellKey("1_x")
	assert.Error(t, err)
}
