package common

import (
	"context"
	"time"
)

// WithStorageTimeout adds a default timeout to a context if one doesn't
// already exist, so no storage operation can hang indefinitely.
func WithStorageTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	// If context already has a deadline, use it
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}

	return context.WithTimeout(ctx, timeout)
}
