package worker

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"
)

// DefaultPoolSize is the number of generator calls allowed in flight.
const DefaultPoolSize = 8

// Pool bounds the generator calls of one process. Do takes a slot; Go starts
// detached background work that is drained by Wait.
type Pool struct {
	sem    *semaphore.Weighted
	wg     sync.WaitGroup
	logger *slog.Logger
}

func NewPool(size int, logger *slog.Logger) *Pool {
	if size <= 0 {
		size = DefaultPoolSize
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size)), logger: logger}
}

// Do runs fn once a slot is free.
func (p *Pool) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)
	return fn(ctx)
}

// Go runs fn in the background, outliving the caller's request. Errors are
// logged under name. fn should call Do for anything that talks to a
// generator.
func (p *Pool) Go(ctx context.Context, name string, fn func(ctx context.Context) error) {
	ctx = context.WithoutCancel(ctx)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := fn(ctx); err != nil {
			p.logger.Error("Background task failed", "task", name, "error", err)
		}
	}()
}

// Wait blocks until every task started with Go has returned.
func (p *Pool) Wait() {
	p.wg.Wait()
}
