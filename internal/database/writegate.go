// Package database holds pieces shared by the strike store backends: the
// single-writer gate and a function-field mock of strikes.Store for tests.
package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"strikekeeper/internal/strikes"

	"golang.org/x/sync/semaphore"
)

// DefaultLockTimeout bounds how long a mutation waits for the write gate.
const DefaultLockTimeout = 10 * time.Second

// ErrWriteTimeout is wrapped in the StoreError returned when the gate
// could not be acquired in time.
var ErrWriteTimeout = errors.New("timed out waiting for write lock")

// WriteGate admits one writer at a time across a whole store and fails
// waiters that do not get in within the timeout.
type WriteGate struct {
	sem     *semaphore.Weighted
	timeout time.Duration
}

// NewWriteGate creates a gate. A non-positive timeout means DefaultLockTimeout.
func NewWriteGate(timeout time.Duration) *WriteGate {
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}
	return &WriteGate{
		sem:     semaphore.NewWeighted(1),
		timeout: timeout,
	}
}

// Timeout returns the bounded wait of the gate.
func (g *WriteGate) Timeout() time.Duration {
	return g.timeout
}

// Do runs fn while holding the gate. Failing to acquire the gate returns a
// StoreError for op and fn is not run.
func (g *WriteGate) Do(ctx context.Context, op string, fn func() error) error {
	acquireCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	if err := g.sem.Acquire(acquireCtx, 1); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return strikes.NewStoreError(op, ctxErr)
		}
		return strikes.NewStoreError(op, fmt.Errorf("%w after %s", ErrWriteTimeout, g.timeout))
	}
	defer g.sem.Release(1)

	return fn()
}
