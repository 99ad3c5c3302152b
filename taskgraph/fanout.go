package taskgraph

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// FanOut runs worker once per item concurrently (bounded by maxConcurrency
// if positive), and joins on every result before returning. Results are
// returned in the same order as items regardless of completion order. The
// first error cancels the group context, aborting the remaining pending
// children.
func FanOut[I any, O any](ctx context.Context, items []I, maxConcurrency int, worker func(ctx context.Context, item I, index int) (O, error)) ([]O, error) {
	results := make([]O, len(items))
	g, gctx := errgroup.WithContext(ctx)
	if maxConcurrency > 0 {
		g.SetLimit(maxConcurrency)
	}

	for i, item := range items {
		i, item := i, item
		g.Go(func() error {
			out, err := worker(gctx, item, i)
			if err != nil {
				return err
			}
			results[i] = out
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
