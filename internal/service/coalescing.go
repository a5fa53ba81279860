package service

import (
	"context"
	"sync"
)

// inFlightFetch is one upstream fetch that multiple callers share. Its result
// fields are written before done is closed and read only after.
type inFlightFetch struct {
	done   chan struct{}
	result Result
	err    error
}

// fetchCoalescer shares a single live fetch among concurrent requests for the
// same key, so two users opening the same city cost one upstream call.
type fetchCoalescer struct {
	mu       sync.Mutex
	inFlight map[string]*inFlightFetch
}

func newFetchCoalescer() *fetchCoalescer {
	return &fetchCoalescer{inFlight: make(map[string]*inFlightFetch)}
}

// do executes fn for key, or joins the in-flight execution when one exists.
// The second return reports whether this caller joined rather than led.
// Joiners inherit the leader's outcome; a joiner whose context ends first
// returns its own context error.
func (c *fetchCoalescer) do(ctx context.Context, key string, fn func() (Result, error)) (Result, bool, error) {
	c.mu.Lock()
	if req, ok := c.inFlight[key]; ok {
		c.mu.Unlock()
		select {
		case <-req.done:
			return req.result, true, req.err
		case <-ctx.Done():
			return Result{}, true, ctx.Err()
		}
	}
	req := &inFlightFetch{done: make(chan struct{})}
	c.inFlight[key] = req
	c.mu.Unlock()

	req.result, req.err = fn()

	// Unregister before signaling so a caller arriving after completion
	// starts a fresh fetch instead of reading a settled one.
	c.mu.Lock()
	delete(c.inFlight, key)
	c.mu.Unlock()
	close(req.done)

	return req.result, false, req.err
}
