package service

import (
	"sync"
)

// refreshTracker counts outside temperature refreshes in flight per cache key.
// Duplicate refreshes are allowed; the count only feeds the concurrency histogram.
type refreshTracker struct {
	mu       sync.Mutex
	inFlight map[string]int
}

func newRefreshTracker() *refreshTracker {
	return &refreshTracker{
		inFlight: make(map[string]int),
	}
}

// Start records a refresh for key and returns the number now in flight.
// Callers must call Done(key) when the refresh completes.
func (rt *refreshTracker) Start(key string) int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.inFlight[key]++
	return rt.inFlight[key]
}

// Done records completion of a refresh for key.
func (rt *refreshTracker) Done(key string) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if count, ok := rt.inFlight[key]; ok && count > 0 {
		rt.inFlight[key]--
		if rt.inFlight[key] == 0 {
			delete(rt.inFlight, key)
		}
	}
}
