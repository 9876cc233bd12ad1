package hof

import (
	"testing"
	"time"
)

// TestRateLimitGateBounds pins testable property 7: the sleep duration is
// always in [1, 100) seconds.
func TestRateLimitGateBounds(t *testing.T) {
	for sec := int64(0); sec < 600; sec++ {
		now := time.Unix(sec, 0).UTC()
		d := Duration(now)
		if d < time.Second || d >= 100*time.Second {
			t.Fatalf("Duration(%v) = %v, want in [1s, 100s)", now, d)
		}
	}
}

// TestRateLimitGateNeverLandsOnBoundary checks the thundering-herd guard:
// a raw 0 or 59 second-remaining value is never used un-adjusted. A raw
// 59 (one second into the minute) is replaced by 1, so with jitter below
// 40 the result stays under 41s; used un-adjusted it would be at least 60s.
func TestRateLimitGateNeverLandsOnBoundary(t *testing.T) {
	for _, sec := range []int64{0, 1, 59, 60, 61, 119, 120, 121} {
		now := time.Unix(sec, 0).UTC()
		secIntoMinute := now.Unix() % 60
		raw := 60 - secIntoMinute
		d := Duration(now)
		if (raw == 0 || raw == 59) && d >= 41*time.Second {
			t.Fatalf("boundary case sec=%d produced unadjusted duration %v", sec, d)
		}
	}
}
