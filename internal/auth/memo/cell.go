// Package memo provides a lazily loaded, single-flight value cell shared by
// concurrent callers.
package memo

import (
	"context"
	"sync"
	"time"
)

// State is the lifecycle state of a Cell.
type State int

// Cell states.
const (
	// StateEmpty means no value has been loaded and no load is running.
	StateEmpty State = iota
	// StatePending means a load is in flight.
	StatePending
	// StateReady means a value is cached.
	StateReady
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StatePending:
		return "pending"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// LoadFunc produces the value held by a Cell.
type LoadFunc[T any] func(ctx context.Context) (T, error)

type flight[T any] struct {
	done  chan struct{}
	value T
	err   error
}

// Cell holds a value that is loaded on first use. Concurrent callers that
// arrive while a load is pending share it instead of starting their own.
// A failed load leaves the previously cached value (if any) in place.
type Cell[T any] struct {
	load LoadFunc[T]
	now  func() time.Time

	mu          sync.Mutex
	value       T
	ready       bool
	pending     *flight[T]
	fetchedAt   time.Time
	attemptedAt time.Time
}

// Option configures a Cell.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the wall clock used for fetch timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// New creates an empty Cell backed by load.
func New[T any](load LoadFunc[T], opts ...Option) *Cell[T] {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &Cell[T]{load: load, now: o.now}
}

// Get returns the cached value, loading it if the cell is empty. A caller
// whose context ends stops waiting; the load itself keeps running for the
// benefit of other callers.
func (c *Cell[T]) Get(ctx context.Context) (T, error) {
	c.mu.Lock()
	if c.ready {
		v := c.value
		c.mu.Unlock()
		return v, nil
	}
	f := c.startLocked(ctx)
	c.mu.Unlock()

	return wait(ctx, f)
}

// Refresh reloads the value unless the last completed load attempt is younger
// than minAge. If a load is already pending the caller joins it. The boolean
// result reports whether the returned value comes from a load that ran (or
// was joined) during this call; when false the cached value is returned
// unchanged.
func (c *Cell[T]) Refresh(ctx context.Context, minAge time.Duration) (T, bool, error) {
	c.mu.Lock()
	if c.pending == nil && c.ready && c.now().Sub(c.attemptedAt) < minAge {
		v := c.value
		c.mu.Unlock()
		return v, false, nil
	}
	f := c.startLocked(ctx)
	c.mu.Unlock()

	v, err := wait(ctx, f)
	return v, true, err
}

// State returns the current state of the cell.
func (c *Cell[T]) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.pending != nil:
		return StatePending
	case c.ready:
		return StateReady
	default:
		return StateEmpty
	}
}

// FetchedAt returns the time of the last successful load, or the zero time.
func (c *Cell[T]) FetchedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fetchedAt
}

// startLocked returns the pending flight, installing a new one first if none
// is running. c.mu must be held.
func (c *Cell[T]) startLocked(ctx context.Context) *flight[T] {
	if c.pending != nil {
		return c.pending
	}

	f := &flight[T]{done: make(chan struct{})}
	c.pending = f

	go c.run(context.WithoutCancel(ctx), f)
	return f
}

func (c *Cell[T]) run(ctx context.Context, f *flight[T]) {
	v, err := c.load(ctx)

	c.mu.Lock()
	now := c.now()
	c.attemptedAt = now
	if err == nil {
		c.value = v
		c.ready = true
		c.fetchedAt = now
	}
	c.pending = nil
	c.mu.Unlock()

	f.value, f.err = v, err
	close(f.done)
}

func wait[T any](ctx context.Context, f *flight[T]) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
