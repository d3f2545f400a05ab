package publish

import (
	"context"
	"time"
)

// Waiter blocks between polls. Implementations must return early with ctx.Err() on cancellation.
type Waiter interface {
	Wait(ctx context.Context, d time.Duration) error
}

// TimerWaiter waits on a real timer.
type TimerWaiter struct{}

// Wait blocks for d or until ctx is done.
func (TimerWaiter) Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	select {
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// WaiterFunc adapts a function to the Waiter interface.
type WaiterFunc func(ctx context.Context, d time.Duration) error

// Wait calls f(ctx, d).
func (f WaiterFunc) Wait(ctx context.Context, d time.Duration) error { return f(ctx, d) }
