// Package degraded reports whether the language model backend is failing often
// enough that most descriptions are fallbacks. It never changes request handling;
// /describe keeps answering, and /ready reports the model as degraded.
package degraded

import (
	"time"

	"github.com/kjstillabower/ambient-gateway/internal/traffic"
)

// RecordSuccess records a description generated by the model.
func RecordSuccess() {
	traffic.RecordGenerated()
}

// RecordFallback records a description composed after a model failure.
func RecordFallback() {
	traffic.RecordFallback()
}

// FallbackRate returns (fallbackCount, totalCount) within the window.
func FallbackRate(window time.Duration) (fallbacks, total int) {
	return traffic.FallbackRate(window)
}

// IsDegraded reports whether fallbacks make up at least thresholdPct percent of
// describe outcomes within the window. No traffic is not degraded.
func IsDegraded(window time.Duration, thresholdPct int) bool {
	if window <= 0 || thresholdPct <= 0 {
		return false
	}
	fallbacks, total := traffic.FallbackRate(window)
	if total == 0 {
		return false
	}
	return float64(fallbacks)*100/float64(total) >= float64(thresholdPct)
}

// Reset clears all recorded data. For tests only.
func Reset() {
	traffic.Reset()
}
