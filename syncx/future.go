package syncx

import (
	"context"
	"sync"
	"time"
)

// Awaitable is satisfied by every future type in this package.
// It allows code that doesn't know a future's type parameter to block on its result.
type Awaitable interface {
	// AwaitAny blocks until the value is resolved or ctx is done, and returns the value untyped along with any resolution error.
	AwaitAny(ctx context.Context) (any, error)
}

// Future is a value that is resolved asynchronously at a later time.
// Once Await returns, the value is cached for other calls to Await.
type Future[T any] interface {
	Awaitable
	// Resolve sets the value of the [Future] so it can be resolved by consumers.
	// Only the first call to Resolve will set the result. Subsequent calls do nothing.
	Resolve(T)
	// Await blocks until the value is made available with [Future.Resolve], or until the timeout elapses if specified.
	// If the timeout limit is reached, then the [Future] type's zero value is returned.
	// If no timeout is given, then the function will wait indefinitely.
	Await(...time.Duration) T
}

// FutureErr is the same as [Future], but it returns a value and an error.
type FutureErr[T any] interface {
	Awaitable
	// ResolveErr sets the value (and possibly an error) of the [FutureErr] so it can be resolved by consumers.
	// Only the first call to ResolveErr will set the result. Subsequent calls do nothing.
	ResolveErr(T, error)
	// AwaitErr blocks until the value is made available with [FutureErr.ResolveErr], or until the timeout elapses if specified.
	// If the timeout limit is reached, then the zero value is returned along with the context error.
	AwaitErr(...time.Duration) (T, error)
	// AwaitCtx is the same as AwaitErr, but stops waiting when ctx is done.
	AwaitCtx(ctx context.Context) (T, error)
}

func NewFuture[T any]() Future[T] {
	return newFuture[T]()
}

func NewFutureErr[T any]() FutureErr[T] {
	return newFuture[T]()
}

// StaticFuture returns a [Future] that is already resolved with val.
func StaticFuture[T any](val T) Future[T] {
	f := newFuture[T]()
	f.Resolve(val)
	return f
}

// Go runs fn in a new goroutine and returns a [FutureErr] resolved with its result.
// A panic in fn is not recovered.
func Go[T any](fn func() (T, error)) FutureErr[T] {
	f := newFuture[T]()
	go func() {
		f.ResolveErr(fn())
	}()
	return f
}

type future[T any] struct {
	done    chan struct{}
	resolve sync.Once
	val     T
	err     error
}

func newFuture[T any]() *future[T] {
	return &future[T]{
		done: make(chan struct{}),
	}
}

func (f *future[T]) Resolve(val T) {
	f.ResolveErr(val, nil)
}

func (f *future[T]) ResolveErr(val T, err error) {
	f.resolve.Do(func() {
		f.val = val
		f.err = err
		close(f.done)
	})
}

func (f *future[T]) Await(timeout ...time.Duration) T {
	val, _ := f.AwaitErr(timeout...)
	return val
}

func (f *future[T]) AwaitErr(timeout ...time.Duration) (T, error) {
	ctx := context.Background()
	if len(timeout) > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout[0])
		defer cancel()
	}
	return f.AwaitCtx(ctx)
}

func (f *future[T]) AwaitCtx(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func (f *future[T]) AwaitAny(ctx context.Context) (any, error) {
	return f.AwaitCtx(ctx)
}
