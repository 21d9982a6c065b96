package codec

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// mapOrdered runs fn over items with at most limit calls in flight and
// returns the kept results in input order, regardless of completion order.
// It waits for every call before returning.
func mapOrdered[T, R any](ctx context.Context, items []T, limit int, fn func(context.Context, T) (R, bool)) []R {
	if len(items) == 0 {
		return nil
	}
	if limit <= 0 {
		limit = 1
	}

	type slot struct {
		value R
		ok    bool
	}
	slots := make([]slot, len(items))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, item := range items {
		g.Go(func() error {
			value, ok := fn(gctx, item)
			slots[i] = slot{value: value, ok: ok}
			return nil
		})
	}
	_ = g.Wait() // fn reports failures through ok, never an error

	out := make([]R, 0, len(items))
	for _, s := range slots {
		if s.ok {
			out = append(out, s.value)
		}
	}
	return out
}
