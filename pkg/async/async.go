package async

import (
	"context"
	"sync"
	"time"
)

// Future represents the result of an asynchronous computation.
// A Future is completed exactly once; later completion attempts are ignored.
type Future[U any] struct {
	result U
	err    error
	once   sync.Once
	done   chan struct{}
}

func newFuture[U any]() *Future[U] {
	return &Future[U]{done: make(chan struct{})}
}

// complete settles the future and reports whether this call was the one that settled it.
func (f *Future[U]) complete(res U, err error) bool {
	settled := false
	f.once.Do(func() {
		f.result = res
		f.err = err
		close(f.done)
		settled = true
	})
	return settled
}

// Await waits for the future to complete and returns its result and error.
func (f *Future[U]) Await() (U, error) {
	<-f.done
	return f.result, f.err
}

// AwaitContext waits for completion or for ctx to be done, whichever happens first.
// The future itself is not affected by ctx cancellation.
func (f *Future[U]) AwaitContext(ctx context.Context) (U, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		var zero U
		return zero, ctx.Err()
	}
}

// AwaitWithTimeout waits for the future to complete with a timeout.
// If the timeout occurs before completion, returns ErrTimeout.
func (f *Future[U]) AwaitWithTimeout(timeout time.Duration) (U, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-f.done:
		return f.result, f.err
	case <-timer.C:
		var zero U
		return zero, ErrTimeout
	}
}

// Done returns a channel closed when the future completes.
func (f *Future[U]) Done() <-chan struct{} {
	return f.done
}

// IsComplete checks if the future is complete without blocking.
func (f *Future[U]) IsComplete() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Promise is the write side of a Future. It adapts callback-style completion
// (event listeners, timers) to a value the caller can wait on.
type Promise[U any] struct {
	future *Future[U]
}

// NewPromise creates an unresolved promise.
func NewPromise[U any]() *Promise[U] {
	return &Promise[U]{future: newFuture[U]()}
}

// Future returns the read side of the promise.
func (p *Promise[U]) Future() *Future[U] {
	return p.future
}

// Resolve completes the promise with a value.
// Returns false if the promise was already settled.
func (p *Promise[U]) Resolve(v U) bool {
	return p.future.complete(v, nil)
}

// Reject completes the promise with an error.
// Returns false if the promise was already settled.
func (p *Promise[U]) Reject(err error) bool {
	var zero U
	return p.future.complete(zero, err)
}

// Settled reports whether the promise has been resolved or rejected.
func (p *Promise[U]) Settled() bool {
	return p.future.IsComplete()
}

// Async executes a function asynchronously and returns a Future.
// The function accepts a context.Context and a parameter of any type T, and returns (U, error).
func Async[T any, U any](ctx context.Context, param T, fn func(context.Context, T) (U, error)) *Future[U] {
	f := newFuture[U]()

	go func() {
		// Early exit prevents running work for an already cancelled caller
		select {
		case <-ctx.Done():
			var zero U
			f.complete(zero, ctx.Err())
			return
		default:
		}

		res, err := fn(ctx, param)
		f.complete(res, err)
	}()

	return f
}
