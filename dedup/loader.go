// Package dedup collapses concurrent loads of the same key into one call.
package dedup

import (
	"context"
	"sync"
)

type call[T any] struct {
	done   chan struct{}
	result T
	err    error
}

// Loader shares the result of an in-flight load with every caller asking for
// the same key. Nothing is cached once the load returns.
type Loader[K comparable, T any] struct {
	load     func(context.Context, K) (T, error)
	inflight sync.Map // map[K]*call[T]
}

func NewLoader[K comparable, T any](load func(context.Context, K) (T, error)) *Loader[K, T] {
	return &Loader[K, T]{load: load}
}

// Load runs the load function for key unless another goroutine is already
// running it, in which case it waits for that result. A waiting caller whose
// ctx ends returns ctx.Err() without affecting the in-flight load.
func (l *Loader[K, T]) Load(ctx context.Context, key K) (T, error) {
	c := &call[T]{done: make(chan struct{})}
	if existing, loaded := l.inflight.LoadOrStore(key, c); loaded {
		other := existing.(*call[T])
		select {
		case <-other.done:
			return other.result, other.err
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}

	c.result, c.err = l.load(ctx, key)
	l.inflight.Delete(key)
	close(c.done)
	return c.result, c.err
}
