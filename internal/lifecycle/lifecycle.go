package lifecycle

import (
	"sync/atomic"
	"time"
)

// Lifecycle tracks process start time and the draining flag read by /health.
type Lifecycle struct {
	start        time.Time
	shuttingDown atomic.Bool
}

// New returns a Lifecycle started now.
func New() *Lifecycle {
	return &Lifecycle{start: time.Now()}
}

// SetShuttingDown sets the shutdown flag. Call when SIGTERM/SIGINT received.
func (l *Lifecycle) SetShuttingDown(v bool) {
	l.shuttingDown.Store(v)
}

// IsShuttingDown reports whether the process is draining.
func (l *Lifecycle) IsShuttingDown() bool {
	return l.shuttingDown.Load()
}

// Uptime returns the time elapsed since New.
func (l *Lifecycle) Uptime() time.Duration {
	return time.Since(l.start)
}
