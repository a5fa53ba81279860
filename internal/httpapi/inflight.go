package httpapi

import (
	"context"
	"sync/atomic"
	"time"
)

// inFlight tracks requests currently being served, so graceful shutdown can
// drain before closing the store.
var inFlight atomic.Int64

// InFlightCount returns the current number of in-flight requests.
func InFlightCount() int64 {
	return inFlight.Load()
}

// WaitForInFlight blocks until in-flight requests reach zero or ctx is done.
// checkInterval is the interval between count checks.
func WaitForInFlight(ctx context.Context, checkInterval time.Duration) error {
	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()
	for {
		if inFlight.Load() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
