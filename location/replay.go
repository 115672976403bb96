package location

import "time"

// tickEvent is what one tick has to deliver once the lock is released.
type tickEvent struct {
	location *PositionSample
	heading  *HeadingSample
	entered  []Region
	exited   []Region
}

func (e tickEvent) empty() bool {
	return e.location == nil && e.heading == nil
}

// scheduleLocked arms the timer for the sample at the cursor.
func (s *Simulator) scheduleLocked() {
	gen := s.gen
	s.timer = s.clock.AfterFunc(s.nextDelayLocked(), func() { s.tick(gen) })
}

func (s *Simulator) cancelLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// nextDelayLocked returns how long to wait before playing the sample at the
// cursor. Without timestamp pacing every tick lasts one second length; with it,
// the recorded gap to the previous sample is scaled by the second length.
func (s *Simulator) nextDelayLocked() time.Duration {
	tick := secondsToDuration(s.config.SecondLength)
	if !s.config.PaceByTimestamps || !s.sequential || s.cursor == 0 {
		return tick
	}
	gap := s.track.Position(s.cursor).Timestamp.Sub(s.track.Position(s.cursor - 1).Timestamp)
	return scaleDuration(gap, s.config.SecondLength)
}

// tick plays one sample. Ticks scheduled before the last Stop, Kill or track
// change carry a stale generation and are dropped.
func (s *Simulator) tick(gen uint64) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	s.mu.Lock()
	if s.state != StateRunning || gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.timer = nil

	ev := s.advanceLocked()
	if s.cursor < s.track.Len() {
		s.scheduleLocked()
	} else {
		s.logger.Info("track complete", "points", s.track.Len(), "emitted", s.emitted, "suppressed", s.suppressed)
	}

	var d Delegate
	if !ev.empty() {
		d = s.delegate.Resolve()
	}
	s.mu.Unlock()

	if d != nil {
		s.deliver(d, gen, ev)
	}
}

// advanceLocked consumes the sample at the cursor and decides what to emit.
// The cursor always moves. A tick suppressed by the distance filter emits
// nothing, heading included.
func (s *Simulator) advanceLocked() tickEvent {
	var ev tickEvent

	idx := s.cursor
	sample := s.track.Position(idx)
	s.cursor++

	if f := s.config.DistanceFilter; f > 0 && s.anchor != nil && s.anchor.DistanceTo(sample) < f {
		s.suppressed++
		return ev
	}
	s.anchor = &sample
	s.last = &sample
	s.emitted++
	ev.location = &sample
	ev.entered, ev.exited = s.regions.update(sample)

	if s.headingActive {
		if h, ok := s.track.Heading(idx); ok {
			s.lastHeading = &h
			ev.heading = &h
		}
	}
	return ev
}

// deliver invokes the delegate. Before each callback after the first it
// checks that the callback before it did not stop playback.
func (s *Simulator) deliver(d Delegate, gen uint64, ev tickEvent) {
	ctl := tickControl{s: s}

	if ev.location != nil {
		d.OnLocationUpdate(ctl, *ev.location)
		if rd, ok := d.(RegionDelegate); ok {
			for _, r := range ev.exited {
				if !s.live(gen) {
					return
				}
				rd.OnExitRegion(ctl, r)
			}
			for _, r := range ev.entered {
				if !s.live(gen) {
					return
				}
				rd.OnEnterRegion(ctl, r)
			}
		}
	}
	if ev.heading != nil && s.live(gen) {
		d.OnHeadingUpdate(ctl, *ev.heading)
	}
}

func (s *Simulator) live(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateRunning && s.gen == gen
}

// tickControl is the Control passed to callbacks. It changes state without
// waiting for the delivery it is called from.
type tickControl struct {
	s *Simulator
}

func (c tickControl) Stop() {
	if c.s.halt(StateIdle) {
		c.s.logger.Debug("playback stopped from callback")
	}
}

func (c tickControl) Kill() {
	if c.s.halt(StateKilled) {
		c.s.logger.Info("playback killed from callback")
	}
}
