// Package workpool runs blocking calls on a bounded set of goroutines and
// hands their outcome back as a Future.
package workpool

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// DefaultSize is the number of blocking calls a Pool runs at once when
// New is given a non-positive size.
const DefaultSize = 4

// Pool bounds the number of concurrently executing blocking calls.
// Submitting never blocks the caller; queued work waits for a free slot on
// its own goroutine.
type Pool struct {
	sem *semaphore.Weighted
}

// New returns a Pool that runs at most size calls at a time.
func New(size int) *Pool {
	if size <= 0 {
		size = DefaultSize
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size))}
}

// Future is the settled-once result of a submitted call.
type Future[T any] struct {
	done  chan struct{}
	value T
	err   error
}

// Done is closed once the result is available.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the call completes and returns its result.
func (f *Future[T]) Wait() (T, error) {
	<-f.done
	return f.value, f.err
}

// Await is Wait bounded by ctx. Giving up on ctx does not stop the call.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func (f *Future[T]) settle(value T, err error) {
	f.value = value
	f.err = err
	close(f.done)
}

// Submit schedules fn on p and returns its Future immediately.
func Submit[T any](p *Pool, fn func() (T, error)) *Future[T] {
	f := &Future[T]{done: make(chan struct{})}
	go func() {
		// Acquire with a background context cannot fail.
		_ = p.sem.Acquire(context.Background(), 1)
		defer p.sem.Release(1)
		f.settle(fn())
	}()
	return f
}

// Settled returns a Future that is already complete.
func Settled[T any](value T, err error) *Future[T] {
	f := &Future[T]{done: make(chan struct{})}
	f.settle(value, err)
	return f
}
