package resilience

import (
	"context"
	"fmt"
	"time"
)

// WithTimeout runs fn with a deadline and returns once either fn finishes
// or the deadline passes. fn keeps running in the background in the latter
// case, so it must honour ctx.
func WithTimeout(ctx context.Context, timeout time.Duration, name string, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn(ctx) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("%s: gave up after %v: %w", name, timeout, ctx.Err())
	}
}
