package clip

import (
	"context"
	"errors"
	"sync"
)

var ErrPoolClosed = errors.New("inference pool is closed")

type job struct {
	ctx    context.Context
	fn     func(context.Context) error
	result chan error
}

// Pool runs model calls on a fixed set of worker goroutines so that the number of
// concurrent inferences never exceeds the worker count.
type Pool struct {
	jobs      chan job
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewPool starts workers goroutines. workers below 1 is treated as 1.
func NewPool(workers int) *Pool {
	if workers < 1 {
		workers = 1
	}
	p := &Pool{
		jobs: make(chan job),
		done: make(chan struct{}),
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.work()
	}
	return p
}

func (p *Pool) work() {
	defer p.wg.Done()
	for {
		select {
		case <-p.done:
			return
		case j := <-p.jobs:
			if err := j.ctx.Err(); err != nil {
				j.result <- err
				continue
			}
			j.result <- j.fn(j.ctx)
		}
	}
}

// Do runs fn on a worker and waits for it. It returns early if ctx is done before a worker
// picks the job up.
func (p *Pool) Do(ctx context.Context, fn func(context.Context) error) error {
	j := job{ctx: ctx, fn: fn, result: make(chan error, 1)}

	select {
	case p.jobs <- j:
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return ErrPoolClosed
	}

	return <-j.result
}

// Close stops the workers after in-flight jobs finish. Later calls to Do fail with
// ErrPoolClosed.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		close(p.done)
	})
	p.wg.Wait()
}

// run is Do for functions that return a value.
func run[T any](ctx context.Context, p *Pool, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := p.Do(ctx, func(ctx context.Context) error {
		var err error
		out, err = fn(ctx)
		return err
	})
	return out, err
}
