package session

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Pool runs long jobs (downloads, cold ontology parses, imports) on at
// most a fixed number of goroutines at a time.
type Pool struct {
	sem *semaphore.Weighted
	wg  sync.WaitGroup
}

func NewPool(workers int) *Pool {
	return &Pool{sem: semaphore.NewWeighted(int64(max(workers, 1)))}
}

// Job is the handle of a submitted function.
type Job struct {
	done chan struct{}
	err  error
}

// Go runs fn once a worker is free. A job canceled while waiting for a
// worker finishes with the context error without running fn.
func (p *Pool) Go(ctx context.Context, fn func(context.Context) error) *Job {
	j := &Job{done: make(chan struct{})}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer close(j.done)
		if err := p.sem.Acquire(ctx, 1); err != nil {
			j.err = err
			return
		}
		defer p.sem.Release(1)
		j.err = fn(ctx)
	}()
	return j
}

// Done is closed when the job finished.
func (j *Job) Done() <-chan struct{} { return j.done }

// Wait blocks until the job finished or ctx is done.
func (j *Job) Wait(ctx context.Context) error {
	select {
	case <-j.done:
		return j.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until every submitted job finished.
func (p *Pool) Wait() { p.wg.Wait() }

// Run submits fn and waits for its result.
func Run[T any](ctx context.Context, p *Pool, fn func(context.Context) (T, error)) (T, error) {
	var out T
	job := p.Go(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		out = v
		return err
	})
	if err := job.Wait(ctx); err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}
