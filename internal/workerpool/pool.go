// Package workerpool runs independent units of work under a concurrency
// ceiling with optional early stop.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"
)

// ErrNoResult is returned by a worker whose item produced nothing usable
// (for example a quality rejection). It is counted as skipped, not failed.
var ErrNoResult = errors.New("workerpool: no result")

// Options configures a pool run.
type Options struct {
	// Concurrency is the maximum number of workers in flight. Default: 1.
	Concurrency int
	// EarlyStop stops scheduling new items once this many values have been
	// collected. Zero collects everything.
	EarlyStop int
}

// Failure records an item whose worker returned an error or panicked.
type Failure[In any] struct {
	Item In
	Err  error
}

// Outcome is the result of a pool run. Values arrive in completion order.
type Outcome[In, Out any] struct {
	Values []Out
	Failed []Failure[In]
	// Skipped counts workers that returned ErrNoResult.
	Skipped int
	// Abandoned counts items never started because the early-stop target
	// was met or the context ended.
	Abandoned int
	// Discarded counts successful results that finished after the target
	// was already met.
	Discarded int
}

// FailedItems returns the items whose workers failed.
func (o Outcome[In, Out]) FailedItems() []In {
	out := make([]In, len(o.Failed))
	for i, f := range o.Failed {
		out[i] = f.Item
	}
	return out
}

// RunAll executes worker for each item with at most opts.Concurrency in
// flight. Worker errors never abort the pool. In-flight work is allowed to
// finish after the early-stop target is met, but its result is discarded.
// RunAll may be called from inside another pool's worker.
func RunAll[In, Out any](ctx context.Context, items []In, worker func(ctx context.Context, item In) (Out, error), opts Options) Outcome[In, Out] {
	limit := opts.Concurrency
	if limit <= 0 {
		limit = 1
	}

	var (
		mu  sync.Mutex
		out Outcome[In, Out]
	)
	reached := func() bool {
		return opts.EarlyStop > 0 && len(out.Values) >= opts.EarlyStop
	}

	var g errgroup.Group
	g.SetLimit(limit)

	for i, item := range items {
		mu.Lock()
		stop := reached() || ctx.Err() != nil
		if stop {
			out.Abandoned += len(items) - i
		}
		mu.Unlock()
		if stop {
			break
		}

		g.Go(func() error {
			// The target may have been met while this goroutine waited for a slot.
			mu.Lock()
			if reached() || ctx.Err() != nil {
				out.Abandoned++
				mu.Unlock()
				return nil
			}
			mu.Unlock()

			val, err := call(ctx, worker, item)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case errors.Is(err, ErrNoResult):
				out.Skipped++
			case err != nil:
				out.Failed = append(out.Failed, Failure[In]{Item: item, Err: err})
			case reached():
				out.Discarded++
			default:
				out.Values = append(out.Values, val)
			}
			return nil
		})
	}

	_ = g.Wait()
	return out
}

// call runs worker, converting a panic into an error.
func call[In, Out any](ctx context.Context, worker func(context.Context, In) (Out, error), item In) (val Out, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = eris.New(fmt.Sprintf("workerpool: worker panic: %v", r))
		}
	}()
	return worker(ctx, item)
}
