package http

import (
	"context"
	"sync/atomic"
	"time"
)

// InFlightTracker counts work graceful shutdown waits on. The zero value is
// ready to use.
type InFlightTracker struct {
	n atomic.Int64
}

func (t *InFlightTracker) Increment() { t.n.Add(1) }

func (t *InFlightTracker) Decrement() { t.n.Add(-1) }

func (t *InFlightTracker) Count() int64 { return t.n.Load() }

// Track counts one unit of work until done is closed.
func (t *InFlightTracker) Track(done <-chan struct{}) {
	t.Increment()
	go func() {
		<-done
		t.Decrement()
	}()
}

// WaitForZero polls every checkInterval until the count is zero or ctx ends.
func (t *InFlightTracker) WaitForZero(ctx context.Context, checkInterval time.Duration) error {
	if t.Count() == 0 {
		return nil
	}
	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if t.Count() == 0 {
				return nil
			}
		}
	}
}

// requests counts HTTP requests between MetricsMiddleware entry and exit,
// open event streams included.
var requests InFlightTracker

// InFlightCount returns the number of HTTP requests being served.
func InFlightCount() int64 {
	return requests.Count()
}

// WaitForInFlight blocks until no HTTP request is being served or ctx ends.
func WaitForInFlight(ctx context.Context, checkInterval time.Duration) error {
	return requests.WaitForZero(ctx, checkInterval)
}
