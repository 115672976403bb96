package location

import (
	"log/slog"
	"sync"
)

// Simulator replays a Track as a timed stream of location and heading
// events. It is the backend of a Manager in simulation mode and can also be
// used on its own.
//
// Start, Stop and Kill return immediately; events are delivered on the clock's
// callback goroutine. Stop and Kill guarantee that no callback begins after
// they return.
type Simulator struct {
	mu     sync.Mutex
	clock  Clock
	logger *slog.Logger
	config Config

	track      Track
	sequential bool // track timestamps allow timestamp pacing
	cursor     int  // index of the next sample to play
	state      State
	gen        uint64 // bumped whenever pending ticks must be discarded
	timer      Timer

	headingActive bool
	last          *PositionSample // last emitted fix
	anchor        *PositionSample // distance filter reference for the current track
	lastHeading   *HeadingSample
	emitted       int
	suppressed    int

	delegate DelegateRef
	regions  *regionSet

	// deliverMu is held while delegate callbacks run, which serializes ticks
	// and lets Stop and Kill wait out an in-flight delivery.
	deliverMu sync.Mutex
}

// NewSimulator creates a simulator positioned at the start of track.
func NewSimulator(track Track, opts ...Option) (*Simulator, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.config.Validate(); err != nil {
		return nil, err
	}

	s := &Simulator{
		clock:   o.clock,
		logger:  o.logger.With("component", "simulator"),
		config:  o.config,
		state:   StateIdle,
		regions: newRegionSet(),
	}
	s.setTrackLocked(track)
	return s, nil
}

// LoadSimulator creates a simulator for the GPX file at path.
func LoadSimulator(path string, opts ...Option) (*Simulator, error) {
	track, err := LoadTrackFile(path)
	if err != nil {
		return nil, err
	}
	return NewSimulator(track, opts...)
}

// SetDelegate registers the receiver of events, replacing any previous one.
func (s *Simulator) SetDelegate(ref DelegateRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delegate = ref
}

// Delegate returns the registered delegate, or nil.
func (s *Simulator) Delegate() Delegate {
	s.mu.Lock()
	ref := s.delegate
	s.mu.Unlock()
	return ref.Resolve()
}

// Start arms periodic ticking. It is a no-op when already running or killed.
func (s *Simulator) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateIdle {
		return
	}
	s.state = StateRunning
	s.gen++
	s.logger.Debug("playback started", "cursor", s.cursor, "total", s.track.Len())
	if s.cursor < s.track.Len() {
		s.scheduleLocked()
	}
}

// Stop halts ticking. The cursor is kept, so a later Start resumes with the
// next unplayed sample.
func (s *Simulator) Stop() {
	if s.halt(StateIdle) {
		s.logger.Debug("playback stopped", "cursor", s.Cursor())
	}
	s.waitDelivery()
}

// Kill permanently stops the simulator. Later calls to Start are no-ops.
func (s *Simulator) Kill() {
	if s.halt(StateKilled) {
		s.logger.Info("playback killed")
	}
	s.waitDelivery()
}

// halt moves a live session to the given state and cancels the pending tick.
// It does not wait for a delivery in progress, which makes it safe to call
// from a delegate callback.
func (s *Simulator) halt(to State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.state == StateKilled:
		return false
	case to == StateIdle && s.state != StateRunning:
		return false
	}
	s.state = to
	s.gen++
	s.cancelLocked()
	return true
}

// waitDelivery blocks until a callback running on another goroutine returns.
func (s *Simulator) waitDelivery() {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()
}

// SetTrack replaces the track and rewinds to its first sample. A pending tick
// of the old track is discarded; if the simulator is running, playback of the
// new track starts one tick later.
func (s *Simulator) SetTrack(t Track) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setTrackLocked(t)
}

// SetLocations replaces the track with an explicit list of samples.
func (s *Simulator) SetLocations(samples []PositionSample) {
	s.SetTrack(NewTrack(samples, nil))
}

// SetGPXFile replaces the track with the contents of a GPX file. On error the
// current track is left untouched.
func (s *Simulator) SetGPXFile(path string) error {
	t, err := LoadTrackFile(path)
	if err != nil {
		return err
	}
	s.SetTrack(t)
	return nil
}

func (s *Simulator) setTrackLocked(t Track) {
	s.track = t
	s.sequential = t.sequentialTimestamps()
	s.cursor = 0
	s.anchor = nil
	s.logger.Debug("track loaded", "points", t.Len(), "headings", t.HasHeadings())

	if s.state == StateRunning {
		s.gen++
		s.cancelLocked()
		if !t.Empty() {
			s.scheduleLocked()
		}
	}
}

// Track returns the current track.
func (s *Simulator) Track() Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.track
}

// State returns the lifecycle state.
func (s *Simulator) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Cursor returns the index of the next sample to be played.
func (s *Simulator) Cursor() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// Location returns the most recently emitted fix.
func (s *Simulator) Location() (PositionSample, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return PositionSample{}, false
	}
	return *s.last, true
}

// Heading returns the most recently emitted heading.
func (s *Simulator) Heading() (HeadingSample, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastHeading == nil {
		return HeadingSample{}, false
	}
	return *s.lastHeading, true
}

// StartUpdatingHeading enables heading events on ticks while running.
func (s *Simulator) StartUpdatingHeading() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.headingActive = true
}

// StopUpdatingHeading disables heading events.
func (s *Simulator) StopUpdatingHeading() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.headingActive = false
}

// Config returns the current configuration.
func (s *Simulator) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config
}

// UpdateConfig replaces the configuration. Timing changes apply from the next
// scheduled tick.
func (s *Simulator) UpdateConfig(c Config) error {
	if err := c.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config = c
	return nil
}

// modifyConfig applies f to the configuration under the lock. The change is
// discarded if the result does not validate.
func (s *Simulator) modifyConfig(f func(*Config)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.config
	f(&c)
	if err := c.Validate(); err != nil {
		return err
	}
	s.config = c
	return nil
}

// SecondLength returns the wall-clock seconds per simulated second.
func (s *Simulator) SecondLength() float64 {
	return s.Config().SecondLength
}

// SetSecondLength sets the wall-clock seconds per simulated second.
func (s *Simulator) SetSecondLength(v float64) error {
	if err := validSecondLength(v); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config.SecondLength = v
	return nil
}

// SetDistanceFilter sets the minimum distance in meters between emitted
// fixes. Zero or negative disables filtering.
func (s *Simulator) SetDistanceFilter(meters float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config.DistanceFilter = meters
}

// SetDesiredAccuracy records the accuracy hint. It has no effect on playback.
func (s *Simulator) SetDesiredAccuracy(meters float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config.DesiredAccuracy = meters
}

// Status returns a snapshot of the playback session.
func (s *Simulator) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		State:          s.state,
		Cursor:         s.cursor,
		Total:          s.track.Len(),
		Completed:      s.cursor >= s.track.Len(),
		SecondLength:   s.config.SecondLength,
		DistanceFilter: s.config.DistanceFilter,
		Emitted:        s.emitted,
		Suppressed:     s.suppressed,
	}
	if s.last != nil {
		loc := *s.last
		st.Location = &loc
	}
	return st
}

func (s *Simulator) monitor(r Region) { s.regions.add(r) }

func (s *Simulator) unmonitor(r Region) { s.regions.remove(r) }

func (s *Simulator) monitored() []Region { return s.regions.list() }
