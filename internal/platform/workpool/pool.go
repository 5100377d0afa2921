// Package workpool provides a generic fixed-size worker pool draining a
// bounded queue. Producers block once the queue is full (backpressure) and
// shutdown drains every queued item before the workers exit
package workpool

import (
	"context"
	"sync"
	"sync/atomic"

	perr "gitrank/internal/platform/errors"
	"gitrank/internal/platform/logger"
)

// Handler processes one work item. A returned error is logged and the pool
// moves on; it never halts sibling items
type Handler[T any] func(ctx context.Context, item T) error

// Options configures a Pool
type Options struct {
	// Name tags log lines from this pool
	Name string

	// Workers is the number of concurrent workers; <=0 -> 1
	Workers int

	// Depth is the queue capacity; <=0 -> Workers
	Depth int
}

// Pool is a bounded queue with N persistent workers draining it.
// Cross-item ordering is unspecified; workers race for items
type Pool[T any] struct {
	queue   chan T
	handler Handler[T]
	log     logger.Logger
	wg      sync.WaitGroup
	closed  atomic.Bool

	name    string
	workers int
}

// New constructs a Pool; call Start before Submit
func New[T any](opts Options, h Handler[T]) *Pool[T] {
	w := opts.Workers
	if w <= 0 {
		w = 1
	}
	d := opts.Depth
	if d <= 0 {
		d = w
	}
	name := opts.Name
	if name == "" {
		name = "workpool"
	}
	return &Pool[T]{
		queue:   make(chan T, d),
		handler: h,
		log:     *logger.Named(name),
		name:    name,
		workers: w,
	}
}

// Start launches the workers. ctx is handed to the handler for each item;
// cancellation does not abandon items already queued (no mid-unit cancel)
func (p *Pool[T]) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

func (p *Pool[T]) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for item := range p.queue {
		p.runOne(ctx, id, item)
	}
}

// runOne executes the handler with panic containment so that one failing
// item never halts the pool
func (p *Pool[T]) runOne(ctx context.Context, id int, item T) {
	defer func() {
		if r := recover(); r != nil {
			err := perr.Newf(perr.ErrorCodePanic, "worker panic: %v", r)
			p.log.Error().Err(err).Int("worker", id).Msg("work item panicked")
		}
	}()
	if err := p.handler(ctx, item); err != nil {
		p.log.Warn().Err(err).Int("worker", id).Msg("work item failed")
	}
}

// Submit enqueues one item, blocking while the queue is full.
// Returns ctx.Err() if the context expires while blocked.
// Submit must not race with Close: the pool assumes a single producer that
// stops submitting before it closes, which is how every driver uses it
func (p *Pool[T]) Submit(ctx context.Context, item T) error {
	if p.closed.Load() {
		return perr.New(perr.ErrorCodeInvalidArgument, "pool closed")
	}
	select {
	case p.queue <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops intake. Already queued items are still drained.
// Call only after the producer has stopped submitting (see Submit)
func (p *Pool[T]) Close() {
	if p.closed.CompareAndSwap(false, true) {
		close(p.queue)
	}
}

// Wait blocks until all workers have exited; call after Close
func (p *Pool[T]) Wait() { p.wg.Wait() }

// Drain is Close followed by Wait
func (p *Pool[T]) Drain() {
	p.Close()
	p.Wait()
}
