package worker

import (
	"context"
	"errors"
	"sync"
)

var ErrStopped = errors.New("worker pool stopped")

type task struct {
	ctx context.Context
	run func(context.Context)
}

// Pool runs blocking broker calls on a fixed number of goroutines so a
// burst of requests cannot open an unbounded number of broker connections.
type Pool struct {
	tasks    chan task
	stop     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	p := &Pool{
		tasks: make(chan task),
		stop:  make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stop:
			return
		case t := <-p.tasks:
			t.run(t.ctx)
		}
	}
}

// Stop waits for running tasks to finish. Tasks submitted afterwards fail
// with ErrStopped.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		close(p.stop)
	})
	p.wg.Wait()
}

// Do runs fn on a worker of p and waits for its result. It returns early
// with ctx.Err() when ctx is done, fn is expected to observe ctx as well.
func Do[T any](ctx context.Context, p *Pool, fn func(context.Context) (T, error)) (T, error) {
	type result struct {
		val T
		err error
	}
	var zero T

	done := make(chan result, 1)
	t := task{
		ctx: ctx,
		run: func(ctx context.Context) {
			if err := ctx.Err(); err != nil {
				done <- result{err: err}
				return
			}
			val, err := fn(ctx)
			done <- result{val, err}
		},
	}

	select {
	case <-p.stop:
		return zero, ErrStopped
	default:
	}

	select {
	case p.tasks <- t:
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-p.stop:
		return zero, ErrStopped
	}

	select {
	case r := <-done:
		return r.val, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
