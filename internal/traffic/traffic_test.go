package traffic

import (
	"sync"
	"testing"
	"time"
)

func TestRequestCount_Empty(t *testing.T) {
	Reset()
	if n := RequestCount(1 * time.Minute); n != 0 {
		t.Errorf("RequestCount() = %d, want 0", n)
	}
}

// TestRequestCount_AllOutcomes verifies that generated, fallback and denied
// outcomes all count toward RequestCount.
func TestRequestCount_AllOutcomes(t *testing.T) {
	Reset()
	RecordGenerated()
	RecordFallback()
	RecordDenied()
	if n := RequestCount(1 * time.Minute); n != 3 {
		t.Errorf("RequestCount() = %d, want 3", n)
	}
}

func TestDenialCount(t *testing.T) {
	Reset()
	RecordDenied()
	RecordDenied()
	RecordGenerated()
	if n := DenialCount(1 * time.Minute); n != 2 {
		t.Errorf("DenialCount() = %d, want 2", n)
	}
}

// TestFallbackRate_DeniedExcluded verifies that denials do not dilute the
// fallback ratio since they never reached the model.
func TestFallbackRate_DeniedExcluded(t *testing.T) {
	Reset()
	RecordGenerated()
	RecordGenerated()
	RecordFallback()
	RecordDenied()
	fallbacks, total := FallbackRate(1 * time.Minute)
	if fallbacks != 1 || total != 3 {
		t.Errorf("FallbackRate() = (%d, %d), want (1, 3)", fallbacks, total)
	}
}

// TestFallbackRate_OutsideWindow verifies that events older than the window are not counted.
func TestFallbackRate_OutsideWindow(t *testing.T) {
	Reset()
	RecordFallback()
	RecordGenerated()
	time.Sleep(time.Millisecond)
	fallbacks, total := FallbackRate(1 * time.Nanosecond)
	if fallbacks != 0 || total != 0 {
		t.Errorf("FallbackRate(1ns) = (%d, %d), want (0, 0)", fallbacks, total)
	}
}

func TestReset(t *testing.T) {
	Reset()
	RecordFallback()
	RecordDenied()
	Reset()
	if n := RequestCount(1 * time.Minute); n != 0 {
		t.Errorf("After Reset, RequestCount() = %d, want 0", n)
	}
}

// TestTracker_ConcurrentRecord verifies the tracker is safe under concurrent writers.
func TestTracker_ConcurrentRecord(t *testing.T) {
	var tr Tracker
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				tr.RecordGenerated()
			} else {
				tr.RecordFallback()
			}
		}(i)
	}
	wg.Wait()
	fallbacks, total := tr.FallbackRate(time.Minute)
	if fallbacks != 25 || total != 50 {
		t.Errorf("FallbackRate() = (%d, %d), want (25, 50)", fallbacks, total)
	}
}
