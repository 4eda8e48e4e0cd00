// Package pool provides the bounded fork-join worker pool used by the
// data-parallel discovery stages.
package pool

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

const (
	// chunksPerWorker controls how finely ForEach splits its index
	// range. More chunks balance uneven traces at the cost of
	// scheduling overhead.
	chunksPerWorker = 4

	// minChunk is the smallest range handed to a single goroutine.
	minChunk = 64
)

// Pool runs index-parallel work on a bounded number of goroutines.
// A Pool holds no goroutines between calls and is safe for concurrent use.
type Pool struct {
	workers int
}

// New creates a pool with the given worker bound. Non-positive values
// select runtime.NumCPU().
func New(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Pool{workers: workers}
}

// Workers returns the worker bound.
func (p *Pool) Workers() int {
	return p.workers
}

// Range is a half-open index interval [Lo, Hi).
type Range struct {
	Lo, Hi int
}

// Split divides [0, n) into at most parts contiguous ranges of near-equal
// size. Empty ranges are never returned.
func Split(n, parts int) []Range {
	if n <= 0 {
		return nil
	}
	if parts <= 0 {
		parts = 1
	}
	if parts > n {
		parts = n
	}
	ranges := make([]Range, 0, parts)
	size := n / parts
	rem := n % parts
	lo := 0
	for i := 0; i < parts; i++ {
		hi := lo + size
		if i < rem {
			hi++
		}
		ranges = append(ranges, Range{Lo: lo, Hi: hi})
		lo = hi
	}
	return ranges
}

// ForEachRange calls fn once per range of Split(n, p.Workers()). The
// chunk index passed to fn is stable, so callers can write results into
// a per-chunk slot without locking.
func (p *Pool) ForEachRange(ctx context.Context, n int, fn func(chunk int, r Range) error) error {
	return p.run(ctx, Split(n, p.workers), fn)
}

// ForEach calls fn(i) for every i in [0, n). Work is scheduled in
// chunks; the first error cancels scheduling of the remaining chunks
// and is returned.
func (p *Pool) ForEach(ctx context.Context, n int, fn func(i int) error) error {
	parts := p.workers * chunksPerWorker
	if n/parts < minChunk {
		parts = n / minChunk
	}
	return p.run(ctx, Split(n, parts), func(_ int, r Range) error {
		for i := r.Lo; i < r.Hi; i++ {
			if err := fn(i); err != nil {
				return err
			}
		}
		return nil
	})
}

func (p *Pool) run(ctx context.Context, ranges []Range, fn func(chunk int, r Range) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)

	for chunk, r := range ranges {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return fn(chunk, r)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// Map applies fn to every element of in and returns the results in input
// order.
func Map[T, R any](ctx context.Context, p *Pool, in []T, fn func(T) (R, error)) ([]R, error) {
	out := make([]R, len(in))
	err := p.ForEach(ctx, len(in), func(i int) error {
		r, err := fn(in[i])
		if err != nil {
			return err
		}
		out[i] = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
