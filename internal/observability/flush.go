package observability

import (
	"context"
	"errors"
	"fmt"
	"syscall"

	"go.uber.org/zap"
)

// FlushTelemetry flushes log buffers before process exit. Prometheus is pull based so
// there is nothing to push. Returns ctx.Err() if the flush outlives ctx.
func FlushTelemetry(ctx context.Context, logger *zap.Logger) error {
	if logger == nil {
		return nil
	}
	done := make(chan error, 1)
	go func() { done <- logger.Sync() }()

	select {
	case err := <-done:
		// stderr attached to a terminal or pipe cannot be fsynced.
		if err != nil && !errors.Is(err, syscall.EINVAL) && !errors.Is(err, syscall.ENOTTY) {
			return fmt.Errorf("flush logs: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
