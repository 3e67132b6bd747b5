// Package lifecycle tracks whether the gateway is serving readings or draining.
package lifecycle

import (
	"sync/atomic"
	"time"
)

// Readiness statuses reported by /ready.
const (
	StatusReady        = "ready"
	StatusShuttingDown = "shutting-down"
)

// drainStarted is the unix-nano time shutdown began; zero while serving.
var drainStarted atomic.Int64

// SetShuttingDown marks the process as draining (true) or serving (false).
// Repeated true calls keep the first drain start time.
func SetShuttingDown(v bool) {
	if !v {
		drainStarted.Store(0)
		return
	}
	drainStarted.CompareAndSwap(0, time.Now().UnixNano())
}

// IsShuttingDown reports whether the process is draining.
func IsShuttingDown() bool {
	return drainStarted.Load() != 0
}

// Status returns StatusShuttingDown while draining, otherwise StatusReady.
func Status() string {
	if IsShuttingDown() {
		return StatusShuttingDown
	}
	return StatusReady
}

// DrainingFor returns how long shutdown has been in progress, or zero while serving.
func DrainingFor() time.Duration {
	started := drainStarted.Load()
	if started == 0 {
		return 0
	}
	return time.Since(time.Unix(0, started))
}
