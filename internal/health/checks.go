package health

import (
	"context"
	"errors"
)

// ErrNotReady is returned by ReadyCheck when its predicate is false.
var ErrNotReady = errors.New("not ready")

// CheckFunc adapts a function to HealthCheck.
type CheckFunc struct {
	name string
	fn   func(ctx context.Context) error
}

// NewCheckFunc returns a HealthCheck named name that calls fn.
func NewCheckFunc(name string, fn func(ctx context.Context) error) *CheckFunc {
	return &CheckFunc{name: name, fn: fn}
}

// Name returns the check name.
func (c *CheckFunc) Name() string { return c.name }

// Check runs the function.
func (c *CheckFunc) Check(ctx context.Context) error { return c.fn(ctx) }

// Pinger is implemented by dependencies that can be probed, such as the
// replay store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck probes p.
func PingCheck(name string, p Pinger) *CheckFunc {
	return NewCheckFunc(name, p.Ping)
}

// ReadyCheck fails with ErrNotReady while ready returns false.
func ReadyCheck(name string, ready func() bool) *CheckFunc {
	return NewCheckFunc(name, func(context.Context) error {
		if !ready() {
			return ErrNotReady
		}
		return nil
	})
}
