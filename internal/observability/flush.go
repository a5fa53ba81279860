package observability

import (
	"fmt"

	"go.uber.org/zap"
)

// FlushTelemetry flushes telemetry buffers before process exit. Prometheus is
// pull-based, so this mainly flushes buffered log entries. Call during
// graceful shutdown after in-flight requests have drained.
func FlushTelemetry(logger *zap.Logger) error {
	if logger != nil {
		if err := logger.Sync(); err != nil {
			return fmt.Errorf("flush logs: %w", err)
		}
	}
	return nil
}
