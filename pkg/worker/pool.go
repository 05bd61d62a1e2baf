// Package worker runs per-match work over a bounded number of goroutines.
package worker

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/ChrisMcGann/psvalidate/pkg/progress"
)

// ErrCancelled is returned when the waiting handler or the context asked the
// pool to stop before every item was processed.
var ErrCancelled = errors.New("processing cancelled")

// ErrorPolicy decides what a failed item means for the whole run. It returns
// true when the run must stop with that error.
type ErrorPolicy func(key string, err error) (abort bool)

// Pool fans out work over keys with at most Workers goroutines in flight.
type Pool struct {
	workers int
	waiting progress.WaitingHandler
	policy  ErrorPolicy
}

// NewPool creates a pool. Non-positive workers means one. A nil waiting
// handler never cancels and a nil policy aborts on every error.
func NewPool(workers int, waiting progress.WaitingHandler, policy ErrorPolicy) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if waiting == nil {
		waiting = progress.Nop{}
	}
	if policy == nil {
		policy = func(string, error) bool { return true }
	}
	return &Pool{
		workers: workers,
		waiting: waiting,
		policy:  policy,
	}
}

// Workers returns the concurrency limit.
func (p *Pool) Workers() int {
	return p.workers
}

// Run calls fn once per key. Progress is increased per finished key.
// Cancellation is polled before every key.
func (p *Pool) Run(ctx context.Context, keys []string, fn func(ctx context.Context, key string) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)

	for _, key := range keys {
		if err := p.checkCancelled(gctx); err != nil {
			// Surface a worker failure over the cancellation it caused.
			if werr := g.Wait(); werr != nil {
				return werr
			}
			return err
		}

		g.Go(func() error {
			if err := p.checkCancelled(gctx); err != nil {
				return err
			}
			if err := fn(gctx, key); err != nil {
				if p.policy(key, err) {
					return err
				}
			}
			p.waiting.IncreaseProgress()
			return nil
		})
	}

	return g.Wait()
}

func (p *Pool) checkCancelled(ctx context.Context) error {
	if p.waiting.IsCancelled() {
		return ErrCancelled
	}
	if ctx.Err() != nil {
		return ErrCancelled
	}
	return nil
}
