// Package dispatcher fans consumer loops out over a fixed pool.
package dispatcher

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Runner is one blocking loop, typically a consumer.Consumer.
type Runner interface {
	Run(ctx context.Context) error
}

// Dispatcher runs several independent loops and waits for all of them.
type Dispatcher struct {
	runners []Runner
}

// New creates a Dispatcher.
func New(runners ...Runner) *Dispatcher {
	return &Dispatcher{runners: runners}
}

// Run starts every runner and blocks until all return. The first failure
// cancels the others; the failure is returned once they have drained.
func (d *Dispatcher) Run(ctx context.Context) error {
	if len(d.runners) == 0 {
		return fmt.Errorf("dispatcher has no runners")
	}
	g, gctx := errgroup.WithContext(ctx)
	for i, r := range d.runners {
		i, r := i, r
		g.Go(func() error {
			if err := r.Run(gctx); err != nil {
				return fmt.Errorf("runner %d: %w", i, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("dispatcher: %w", err)
	}
	return nil
}
