// Waiter is the single-completion cell callers block on after push/flush/
// lock (§5 Suspension points). It is resolved exactly once. Waiters for
// codes, flushes and locks that need firmware work are resolved from the
// Processor task; Channel resolves a waiter at the call itself for
// Unlock, for an M99 that ends a macro frame, for a Flush with nothing
// pending, and for a Push or Lock on an aborted channel. Grounded on the teacher's reactor.Completion, made
// generic and stripped of its reactor-timer dependency since channel
// waiters don't need scheduled wakeups, only a blocking receive.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.
package channel

import (
	"context"
	"sync"
)

// Waiter carries one eventual result of type T to exactly one caller.
type Waiter[T any] struct {
	done   chan struct{}
	once   sync.Once
	result T
}

// NewWaiter creates an unresolved Waiter.
func NewWaiter[T any]() *Waiter[T] {
	return &Waiter[T]{done: make(chan struct{})}
}

// Resolve completes the waiter with result. Only the first call has any
// effect; later calls (e.g. a duplicate resolve after cancellation) are
// silently ignored.
func (w *Waiter[T]) Resolve(result T) {
	w.once.Do(func() {
		w.result = result
		close(w.done)
	})
}

// Test reports whether Resolve has been called, without blocking.
func (w *Waiter[T]) Test() bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}

// Wait blocks until Resolve is called or ctx is done, in which case it
// returns the zero value of T and ctx.Err(). Waiters never resolve the
// caller's context for it — cancellation is the caller's own ctx.
func (w *Waiter[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-w.done:
		return w.result, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
