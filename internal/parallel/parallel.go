// Package parallel fans independent callables out over a bounded worker
// group. It exists for bursts of model calls and probes that do not depend
// on each other; failures stay inside their own slot.
package parallel

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// DefaultLimit bounds concurrent callables when the caller does not pick one.
const DefaultLimit = 4

// Result pairs one callable's output with its error. Index is the position
// of the callable that produced it.
type Result[T any] struct {
	Index int
	Value T
	Err   error
}

// Map runs every fn, at most limit at a time, and returns one Result per
// callable in input order. limit <= 0 means DefaultLimit; limit == 1 runs a
// plain sequential loop in input order. A failing callable only marks its
// own Result; peers keep running. Context cancellation marks the slots that
// never got to run.
func Map[T any](ctx context.Context, limit int, fns []func(context.Context) (T, error)) []Result[T] {
	if limit <= 0 {
		limit = DefaultLimit
	}

	results := make([]Result[T], len(fns))
	for i := range results {
		results[i].Index = i
	}

	if limit == 1 {
		for i, fn := range fns {
			if err := ctx.Err(); err != nil {
				results[i].Err = err
				continue
			}
			results[i].Value, results[i].Err = fn(ctx)
		}
		return results
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(limit)
	for i, fn := range fns {
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				results[i].Err = err
				return nil
			}
			results[i].Value, results[i].Err = fn(egCtx)
			return nil
		})
	}
	_ = eg.Wait() // closures never return errors; failures live in results
	return results
}

// Errs collects the non-nil errors from a result set, in input order.
func Errs[T any](results []Result[T]) []error {
	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, r.Err)
		}
	}
	return errs
}
