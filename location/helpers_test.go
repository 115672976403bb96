package location

import (
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// manualClock is a Clock that only moves when a test calls Advance. Due
// callbacks run on the goroutine calling Advance.
type manualClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*manualTimer
}

type manualTimer struct {
	clock   *manualClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

// Advance moves the clock forward by d, firing every callback that falls due
// in order of its deadline.
func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		c.timers = slices.DeleteFunc(c.timers, func(t *manualTimer) bool { return t.stopped || t.fired })
		var next *manualTimer
		for _, t := range c.timers {
			if !t.at.After(target) && (next == nil || t.at.Before(next.at)) {
				next = t
			}
		}
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		c.now = next.at
		next.fired = true
		c.mu.Unlock()

		next.f()
	}
}

// Pending returns the number of armed callbacks.
func (c *manualClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// recorder is a delegate that keeps everything it receives.
type recorder struct {
	mu        sync.Mutex
	locations []PositionSample
	headings  []HeadingSample
	entered   []string
	exited    []string
	errs      []error

	onLocation func(Control, PositionSample)
}

func (r *recorder) OnLocationUpdate(ctl Control, s PositionSample) {
	r.mu.Lock()
	r.locations = append(r.locations, s)
	hook := r.onLocation
	r.mu.Unlock()
	if hook != nil {
		hook(ctl, s)
	}
}

func (r *recorder) OnHeadingUpdate(_ Control, h HeadingSample) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.headings = append(r.headings, h)
}

func (r *recorder) OnEnterRegion(_ Control, region Region) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entered = append(r.entered, region.ID)
}

func (r *recorder) OnExitRegion(_ Control, region Region) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exited = append(r.exited, region.ID)
}

func (r *recorder) OnError(_ Control, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *recorder) Locations() []PositionSample {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.locations)
}

func (r *recorder) Headings() []HeadingSample {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.headings)
}

func (r *recorder) Errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.errs)
}

var trackStart = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

// equatorTrack is three samples along the equator: the origin, a point about
// 111 m east and a point about 111 km east, one second apart.
func equatorTrack() []PositionSample {
	return []PositionSample{
		{Latitude: 0, Longitude: 0, Timestamp: trackStart},
		{Latitude: 0, Longitude: 0.001, Timestamp: trackStart.Add(time.Second)},
		{Latitude: 0, Longitude: 1, Timestamp: trackStart.Add(2 * time.Second)},
	}
}

func newTestSimulator(t *testing.T, samples []PositionSample, cfg Config) (*Simulator, *manualClock, *recorder) {
	t.Helper()
	clock := newManualClock()
	sim, err := NewSimulator(NewTrack(samples, nil), WithClock(clock), WithConfig(cfg))
	require.NoError(t, err)
	rec := &recorder{}
	sim.SetDelegate(Strong(rec))
	return sim, clock, rec
}

func longitudes(samples []PositionSample) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = s.Longitude
	}
	return out
}
