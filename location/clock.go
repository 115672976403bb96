package location

import (
	"math"
	"time"
)

// Timer is a pending callback scheduled on a Clock.
type Timer interface {
	// Stop prevents the callback from firing. It reports whether the call
	// stopped the timer; false means the callback already fired or is running.
	Stop() bool
}

// Clock is the timer facility the simulator schedules ticks on.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// secondsToDuration converts a float number of seconds, as used by the
// SecondLength setting, to a time.Duration.
func secondsToDuration(s float64) time.Duration {
	return scaleDuration(time.Second, s)
}

// scaleDuration returns d*f, saturating at the largest time.Duration.
func scaleDuration(d time.Duration, f float64) time.Duration {
	v := float64(d) * f
	if v >= float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(v)
}
