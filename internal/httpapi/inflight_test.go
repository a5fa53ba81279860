package httpapi

import (
	"context"
	"errors"
	"testing"
	"time"
)

// TestWaitForInFlight_ReturnsWhenDrained verifies that the wait resolves once
// the counter reaches zero.
func TestWaitForInFlight_ReturnsWhenDrained(t *testing.T) {
	inFlight.Add(1)
	go func() {
		time.Sleep(30 * time.Millisecond)
		inFlight.Add(-1)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := WaitForInFlight(ctx, 5*time.Millisecond); err != nil {
		t.Fatalf("WaitForInFlight() error = %v, want nil", err)
	}
	if InFlightCount() != 0 {
		t.Errorf("InFlightCount() = %d, want 0", InFlightCount())
	}
}

// TestWaitForInFlight_Timeout verifies that a stuck request surfaces the
// context error instead of blocking shutdown forever.
func TestWaitForInFlight_Timeout(t *testing.T) {
	inFlight.Add(1)
	defer inFlight.Add(-1)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := WaitForInFlight(ctx, 5*time.Millisecond)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("WaitForInFlight() error = %v, want DeadlineExceeded", err)
	}
}

// TestWaitForInFlight_AlreadyZero verifies the immediate-return path.
func TestWaitForInFlight_AlreadyZero(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := WaitForInFlight(ctx, time.Millisecond); err != nil {
		t.Fatalf("WaitForInFlight() error = %v, want nil", err)
	}
}
