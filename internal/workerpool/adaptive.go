package workerpool

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Adaptive is a concurrency ceiling that shrinks when waves are slow or
// failing and grows when they are fast and clean.
type Adaptive struct {
	mu      sync.Mutex
	current int

	Min          int
	Max          int
	ChunkTimeout time.Duration
	// SlowFraction of ChunkTimeout above which a wave counts as slow.
	SlowFraction float64
	// FastFraction of ChunkTimeout at or below which a wave counts as fast.
	FastFraction float64
}

// NewAdaptive returns a ceiling starting at initial and bounded by [1, maxC].
func NewAdaptive(initial, maxC int, chunkTimeout time.Duration) *Adaptive {
	maxC = max(1, maxC)
	return &Adaptive{
		current:      min(max(1, initial), maxC),
		Min:          1,
		Max:          maxC,
		ChunkTimeout: chunkTimeout,
		SlowFraction: 0.8,
		FastFraction: 0.5,
	}
}

// Limit returns the current ceiling.
func (a *Adaptive) Limit() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

// Wave summarizes one batch of chunk executions.
type Wave struct {
	Durations []time.Duration
	Errors    int
}

func (w Wave) average() time.Duration {
	if len(w.Durations) == 0 {
		return 0
	}
	var total time.Duration
	for _, d := range w.Durations {
		total += d
	}
	return total / time.Duration(len(w.Durations))
}

// Observe adjusts the ceiling from a finished wave and returns the new value.
func (a *Adaptive) Observe(w Wave) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	floor := max(1, a.Min)
	avg := w.average()
	slow := a.ChunkTimeout > 0 && float64(avg) > a.SlowFraction*float64(a.ChunkTimeout)
	fast := a.ChunkTimeout <= 0 || float64(avg) <= a.FastFraction*float64(a.ChunkTimeout)

	prev := a.current
	switch {
	case w.Errors > 0 || slow:
		a.current = max(floor, a.current-1)
	case fast:
		a.current = min(a.Max, a.current+1)
	}
	if a.current != prev {
		zap.L().Debug("adaptive concurrency adjusted",
			zap.Int("from", prev),
			zap.Int("to", a.current),
			zap.Duration("avg", avg),
			zap.Int("errors", w.Errors),
		)
	}
	return a.current
}

// RunAdaptive processes items in waves sized by the ceiling, observing each
// wave before starting the next. Early stop applies across waves.
func RunAdaptive[In, Out any](ctx context.Context, a *Adaptive, items []In, worker func(ctx context.Context, item In) (Out, error), earlyStop int) Outcome[In, Out] {
	var total Outcome[In, Out]
	for start := 0; start < len(items); {
		if ctx.Err() != nil || (earlyStop > 0 && len(total.Values) >= earlyStop) {
			total.Abandoned += len(items) - start
			break
		}

		limit := a.Limit()
		end := min(len(items), start+limit)
		wave := items[start:end]

		var (
			mu        sync.Mutex
			durations []time.Duration
		)
		timed := func(ctx context.Context, item In) (Out, error) {
			began := time.Now()
			v, err := worker(ctx, item)
			mu.Lock()
			durations = append(durations, time.Since(began))
			mu.Unlock()
			return v, err
		}

		remaining := 0
		if earlyStop > 0 {
			remaining = earlyStop - len(total.Values)
		}
		res := RunAll(ctx, wave, timed, Options{Concurrency: limit, EarlyStop: remaining})

		total.Values = append(total.Values, res.Values...)
		total.Failed = append(total.Failed, res.Failed...)
		total.Skipped += res.Skipped
		total.Abandoned += res.Abandoned
		total.Discarded += res.Discarded

		a.Observe(Wave{Durations: durations, Errors: len(res.Failed)})
		start = end
	}
	return total
}
