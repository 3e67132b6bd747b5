package traffic

import (
	"sync"
	"time"
)

// retention bounds how far back any window can look.
const retention = 30 * time.Minute

var defaultTracker Tracker

// RecordGenerated records a description produced by the language model.
func RecordGenerated() {
	defaultTracker.RecordGenerated()
}

// RecordFallback records a description composed locally after a model failure.
func RecordFallback() {
	defaultTracker.RecordFallback()
}

// RecordDenied records a rate-limit denial (429).
func RecordDenied() {
	defaultTracker.RecordDenied()
}

// RequestCount returns the number of outcomes (generated + fallback + denied) within the window.
func RequestCount(window time.Duration) int {
	return defaultTracker.RequestCount(window)
}

// DenialCount returns the number of denials within the window.
func DenialCount(window time.Duration) int {
	return defaultTracker.DenialCount(window)
}

// FallbackRate returns (fallbackCount, totalCount) within the window. totalCount = generated + fallbacks.
func FallbackRate(window time.Duration) (fallbacks, total int) {
	return defaultTracker.FallbackRate(window)
}

// Reset clears all recorded outcomes. For tests only.
func Reset() {
	defaultTracker.Reset()
}

// Tracker maintains sliding windows of describe outcome timestamps.
// Single source of truth for /ready model status and the window gauges.
type Tracker struct {
	mu             sync.Mutex
	generatedTimes []time.Time
	fallbackTimes  []time.Time
	deniedTimes    []time.Time
}

// RecordGenerated records a model-generated description.
func (t *Tracker) RecordGenerated() {
	t.recordOutcome(&t.generatedTimes)
}

// RecordFallback records a fallback description.
func (t *Tracker) RecordFallback() {
	t.recordOutcome(&t.fallbackTimes)
}

// RecordDenied records a rate-limit denial.
func (t *Tracker) RecordDenied() {
	t.recordOutcome(&t.deniedTimes)
}

func (t *Tracker) recordOutcome(slice *[]time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	*slice = append(*slice, now)
	t.pruneLocked(now)
}

// RequestCount returns the total number of outcomes within the window.
func (t *Tracker) RequestCount(window time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := time.Now().Add(-window)
	return countInWindow(t.generatedTimes, cutoff) +
		countInWindow(t.fallbackTimes, cutoff) +
		countInWindow(t.deniedTimes, cutoff)
}

// DenialCount returns the number of rate-limit denials within the window.
func (t *Tracker) DenialCount(window time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return countInWindow(t.deniedTimes, time.Now().Add(-window))
}

// FallbackRate returns (fallbackCount, totalCount) within the window.
// Denials never reached the model and are excluded.
func (t *Tracker) FallbackRate(window time.Duration) (fallbacks, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := time.Now().Add(-window)
	fallbacks = countInWindow(t.fallbackTimes, cutoff)
	return fallbacks, fallbacks + countInWindow(t.generatedTimes, cutoff)
}

// Reset clears all recorded outcomes.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.generatedTimes = nil
	t.fallbackTimes = nil
	t.deniedTimes = nil
}

func countInWindow(times []time.Time, cutoff time.Time) int {
	n := 0
	for _, ts := range times {
		if !ts.Before(cutoff) {
			n++
		}
	}
	return n
}

// pruneLocked drops timestamps older than retention. Must be called with mu held.
func (t *Tracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-retention)
	prune := func(slice *[]time.Time) {
		times := *slice
		i := 0
		for ; i < len(times) && times[i].Before(cutoff); i++ {
		}
		if i > 0 {
			*slice = append(times[:0], times[i:]...)
		}
	}
	prune(&t.generatedTimes)
	prune(&t.fallbackTimes)
	prune(&t.deniedTimes)
}
