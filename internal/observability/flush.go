package observability

import (
	"context"
	"errors"
	"fmt"
	"syscall"

	"go.uber.org/zap"
)

// FlushTelemetry flushes buffered logs before process exit. Prometheus is
// pull-based, so there is nothing to push. Call after in-flight requests drain.
func FlushTelemetry(ctx context.Context, logger *zap.Logger) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if logger == nil {
		return nil
	}
	if err := logger.Sync(); err != nil && !isIgnorableSyncError(err) {
		return fmt.Errorf("flush logs: %w", err)
	}
	return nil
}

// Sync on a terminal or pipe stderr returns EINVAL/ENOTTY; nothing was lost.
func isIgnorableSyncError(err error) bool {
	return errors.Is(err, syscall.EINVAL) || errors.Is(err, syscall.ENOTTY)
}
