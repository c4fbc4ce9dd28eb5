package blob

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/annogo/backend"
	"github.com/hupe1980/annogo/spatial"
)

// Warmup concurrently prefetches every cell of the half-open box
// [lower, upper) at the given scale and delivers the payloads through fn.
// fn is called from multiple goroutines; the first error cancels the
// remaining fetches.
func (s *Source) Warmup(ctx context.Context, scale int, lower, upper []int64, fn func(cell []int64, payload []byte) error) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.warmupWorkers)

	spatial.ForEachCell(lower, upper, func(cell []int64) {
		cell = append([]int64(nil), cell...)
		g.Go(func() error {
			payload, err := s.DownloadGeometry(ctx, backend.GeometryRequest{Scale: scale, Cell: cell})
			if err != nil {
				return err
			}
			return fn(cell, payload)
		})
	})

	return g.Wait()
}
