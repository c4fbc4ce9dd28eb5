// Package spatial implements the grid-cell geometry used to decide which
// spatially indexed chunks may contain a given annotation. It is the only
// package that knows about grid transforms; the packed buffers and the
// update state machine are agnostic to them.
package spatial

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// Grid describes one spatially indexed scale: a regular lattice over the
// multiscale coordinate space, given by a homogeneous chunk-to-multiscale
// affine transform and a per-axis chunk size in chunk-space units.
type Grid struct {
	rank          int
	chunkDataSize []float64

	// multiscaleToChunk is the inverse transform, precomputed at
	// construction and already divided by chunkDataSize per axis, so that
	// applying it to a multiscale point yields fractional cell coordinates.
	multiscaleToChunk *mat.Dense
}

// NewGrid builds a grid from the rank, the per-axis chunk size and the
// homogeneous (rank+1)x(rank+1) chunk-to-multiscale transform given in
// row-major order. The transform must be invertible.
func NewGrid(rank int, chunkDataSize []float64, chunkToMultiscale []float64) (*Grid, error) {
	if rank < 1 {
		return nil, fmt.Errorf("spatial: rank must be positive, got %d", rank)
	}
	if len(chunkDataSize) != rank {
		return nil, fmt.Errorf("spatial: chunkDataSize has %d axes, want %d", len(chunkDataSize), rank)
	}
	n := rank + 1
	if len(chunkToMultiscale) != n*n {
		return nil, fmt.Errorf("spatial: transform has %d entries, want %d", len(chunkToMultiscale), n*n)
	}
	for i, size := range chunkDataSize {
		if size <= 0 {
			return nil, fmt.Errorf("spatial: chunkDataSize[%d] = %v, must be positive", i, size)
		}
	}

	fwd := mat.NewDense(n, n, append([]float64(nil), chunkToMultiscale...))
	inv := mat.NewDense(n, n, nil)
	if err := inv.Inverse(fwd); err != nil {
		return nil, fmt.Errorf("spatial: chunk-to-multiscale transform is singular: %w", err)
	}
	// Fold the per-axis division by chunkDataSize into the inverse so one
	// matrix application maps a multiscale point to cell coordinates.
	for r := 0; r < rank; r++ {
		for c := 0; c < n; c++ {
			inv.Set(r, c, inv.At(r, c)/chunkDataSize[r])
		}
	}

	return &Grid{
		rank:              rank,
		chunkDataSize:     append([]float64(nil), chunkDataSize...),
		multiscaleToChunk: inv,
	}, nil
}

// Rank returns the grid dimensionality.
func (g *Grid) Rank() int { return g.rank }

// ToCell maps a multiscale-space point to fractional cell coordinates.
func (g *Grid) ToCell(point []float32) []float64 {
	if len(point) != g.rank {
		panic(fmt.Sprintf("spatial: point rank %d, grid rank %d", len(point), g.rank))
	}
	out := make([]float64, g.rank)
	for r := 0; r < g.rank; r++ {
		v := g.multiscaleToChunk.At(r, g.rank) // translation column
		for c := 0; c < g.rank; c++ {
			v += g.multiscaleToChunk.At(r, c) * float64(point[c])
		}
		out[r] = v
	}
	return out
}

// CellRange returns the half-open integer cell range covering the points,
// expanded so that a point lying exactly on a cell boundary is included in
// both neighboring cells: per axis the range is
// [ceil(lower-1), floor(upper+1)). Which side of a boundary the backend
// files such an annotation under is not guaranteed, so both are visited.
func (g *Grid) CellRange(points [][]float32) (lower, upper []int64) {
	lo := make([]float64, g.rank)
	hi := make([]float64, g.rank)
	for i := range lo {
		lo[i] = math.Inf(1)
		hi[i] = math.Inf(-1)
	}
	for _, p := range points {
		cell := g.ToCell(p)
		for i, v := range cell {
			lo[i] = math.Min(lo[i], v)
			hi[i] = math.Max(hi[i], v)
		}
	}
	lower = make([]int64, g.rank)
	upper = make([]int64, g.rank)
	for i := 0; i < g.rank; i++ {
		lower[i] = int64(math.Ceil(lo[i] - 1))
		upper[i] = int64(math.Floor(hi[i] + 1))
	}
	return lower, upper
}

// ForEachCell enumerates every cell of the half-open box [lower, upper),
// in row-major order. The cell slice passed to fn is reused between calls.
func ForEachCell(lower, upper []int64, fn func(cell []int64)) {
	rank := len(lower)
	for i := 0; i < rank; i++ {
		if lower[i] >= upper[i] {
			return
		}
	}
	cell := append([]int64(nil), lower...)
	for {
		fn(cell)
		axis := rank - 1
		for ; axis >= 0; axis-- {
			cell[axis]++
			if cell[axis] < upper[axis] {
				break
			}
			cell[axis] = lower[axis]
		}
		if axis < 0 {
			return
		}
	}
}

// FloorCell truncates fractional cell coordinates to the containing cell.
func FloorCell(frac []float64) []int64 {
	cell := make([]int64, len(frac))
	for i, v := range frac {
		cell[i] = int64(math.Floor(v))
	}
	return cell
}

// CellKey returns the canonical string key of a grid cell.
func CellKey(cell []int64) string {
	parts := make([]string, len(cell))
	for i, v := range cell {
		parts[i] = strconv.FormatInt(v, 10)
	}
	return strings.Join(parts, "_")
}

// ParseCellKey parses a key produced by CellKey.
func ParseCellKey(key string) ([]int64, error) {
	parts := strings.Split(key, "_")
	out := make([]int64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("spatial: malformed cell key %q: %w", key, err)
		}
		out[i] = v
	}
	return out, nil
}
