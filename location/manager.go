package location

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// backend is implemented by the two things a Manager can drive: the playback
// simulator and a real sensor.
type backend interface {
	StartUpdatingLocation()
	StopUpdatingLocation()
	StartUpdatingHeading()
	StopUpdatingHeading()
	Location() (PositionSample, bool)
	Heading() (HeadingSample, bool)
	SetDelegate(DelegateRef)
	Delegate() Delegate
	Config() Config
	UpdateConfig(Config) error
	modifyConfig(func(*Config)) error
	Close() error

	monitor(Region)
	unmonitor(Region)
	monitored() []Region
}

// simBackend adapts Simulator to backend.
type simBackend struct {
	*Simulator
}

func (b simBackend) StartUpdatingLocation() { b.Start() }

func (b simBackend) StopUpdatingLocation() { b.Stop() }

func (b simBackend) Close() error {
	b.Kill()
	return nil
}

// Manager is the location-manager facade. Its backend is chosen once, by the
// Mode passed to NewManager, and never changes.
type Manager struct {
	mode    Mode
	backend backend
	sim     *Simulator // nil unless simulating
	logger  *slog.Logger

	mu   sync.Mutex
	auth AuthorizationStatus
}

// NewManager creates a manager for mode. A GPXFile mode fails with a
// *ParseError when the file cannot be loaded.
func NewManager(mode Mode, opts ...Option) (*Manager, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	m := &Manager{
		mode:   mode,
		logger: o.logger.With("mode", mode.String()),
		auth:   o.config.Authorization,
	}

	switch md := mode.(type) {
	case GPXFile:
		track, err := LoadTrackFile(md.Path)
		if err != nil {
			return nil, err
		}
		sim, err := NewSimulator(track, opts...)
		if err != nil {
			return nil, err
		}
		m.sim, m.backend = sim, simBackend{sim}
	case Locations:
		sim, err := NewSimulator(NewTrack(md.Samples, md.Headings), opts...)
		if err != nil {
			return nil, err
		}
		m.sim, m.backend = sim, simBackend{sim}
	case Sensor:
		sensor, err := NewNMEASensor(md.Source, opts...)
		if err != nil {
			return nil, err
		}
		m.backend = sensor
		m.auth = AuthorizedAlways
	default:
		return nil, fmt.Errorf("unsupported manager mode %T", mode)
	}

	m.logger.Debug("location manager created")
	return m, nil
}

// Mode returns the mode the manager was constructed with.
func (m *Manager) Mode() Mode { return m.mode }

// Simulating reports whether the manager replays recorded positions.
func (m *Manager) Simulating() bool { return m.sim != nil }

// Simulator returns the playback engine in simulation mode.
func (m *Manager) Simulator() (*Simulator, bool) { return m.sim, m.sim != nil }

// AuthorizationStatus returns the stub status of the simulated backend, or
// AuthorizedAlways for an open sensor.
func (m *Manager) AuthorizationStatus() AuthorizationStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.auth
}

// RequestAlwaysAuthorization grants always authorization.
func (m *Manager) RequestAlwaysAuthorization() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.auth = AuthorizedAlways
}

// RequestWhenInUseAuthorization grants when-in-use authorization unless
// always authorization is already held.
func (m *Manager) RequestWhenInUseAuthorization() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.auth != AuthorizedAlways {
		m.auth = AuthorizedWhenInUse
	}
}

// Location returns the most recent fix.
func (m *Manager) Location() (PositionSample, bool) { return m.backend.Location() }

// Heading returns the most recent heading.
func (m *Manager) Heading() (HeadingSample, bool) { return m.backend.Heading() }

// SetDelegate registers the receiver of events.
func (m *Manager) SetDelegate(ref DelegateRef) { m.backend.SetDelegate(ref) }

// Delegate returns the registered delegate, or nil.
func (m *Manager) Delegate() Delegate { return m.backend.Delegate() }

func (m *Manager) updateConfig(f func(*Config)) {
	if err := m.backend.modifyConfig(f); err != nil {
		m.logger.Warn("config update rejected", "error", err)
	}
}

// DesiredAccuracy returns the accuracy hint in meters.
func (m *Manager) DesiredAccuracy() float64 { return m.backend.Config().DesiredAccuracy }

// SetDesiredAccuracy sets the accuracy hint.
func (m *Manager) SetDesiredAccuracy(v float64) {
	m.updateConfig(func(c *Config) { c.DesiredAccuracy = v })
}

// ActivityType returns the activity hint.
func (m *Manager) ActivityType() ActivityType { return m.backend.Config().ActivityType }

// SetActivityType sets the activity hint.
func (m *Manager) SetActivityType(v ActivityType) {
	m.updateConfig(func(c *Config) { c.ActivityType = v })
}

// DistanceFilter returns the minimum meters between emitted fixes.
func (m *Manager) DistanceFilter() float64 { return m.backend.Config().DistanceFilter }

// SetDistanceFilter sets the minimum meters between emitted fixes.
func (m *Manager) SetDistanceFilter(v float64) {
	m.updateConfig(func(c *Config) { c.DistanceFilter = v })
}

func (m *Manager) PausesLocationUpdatesAutomatically() bool {
	return m.backend.Config().PausesLocationUpdatesAutomatically
}

func (m *Manager) SetPausesLocationUpdatesAutomatically(v bool) {
	m.updateConfig(func(c *Config) { c.PausesLocationUpdatesAutomatically = v })
}

func (m *Manager) AllowsBackgroundLocationUpdates() bool {
	return m.backend.Config().AllowsBackgroundLocationUpdates
}

func (m *Manager) SetAllowsBackgroundLocationUpdates(v bool) {
	m.updateConfig(func(c *Config) { c.AllowsBackgroundLocationUpdates = v })
}

// SecondLength returns the wall-clock seconds per simulated second. A sensor
// runs in real time, so it reports 1.0.
func (m *Manager) SecondLength() float64 {
	if m.sim == nil {
		return 1.0
	}
	return m.sim.SecondLength()
}

// SetSecondLength sets the wall-clock seconds per simulated second. It is
// ignored for a sensor.
func (m *Manager) SetSecondLength(v float64) error {
	if m.sim == nil {
		m.logger.Debug("second length ignored for a real sensor")
		return nil
	}
	return m.sim.SetSecondLength(v)
}

// Kill permanently stops playback. It is ignored for a sensor, which the
// application cannot disable for good.
func (m *Manager) Kill() {
	if m.sim == nil {
		m.logger.Debug("kill ignored for a real sensor")
		return
	}
	m.sim.Kill()
}

// SetLocations replaces the track with samples and rewinds playback. It fails
// with a *ModeViolationError for a sensor.
func (m *Manager) SetLocations(samples []PositionSample) error {
	if m.sim == nil {
		return &ModeViolationError{Op: "set locations", Mode: m.mode}
	}
	m.sim.SetLocations(samples)
	return nil
}

// MustSetLocations is like SetLocations but panics on a mode violation.
func (m *Manager) MustSetLocations(samples []PositionSample) {
	if err := m.SetLocations(samples); err != nil {
		panic(err)
	}
}

// SetGPXFile replaces the track with a GPX file and rewinds playback. It is
// only valid for a manager constructed in GPXFile mode; other modes fail with
// a *ModeViolationError. A file that cannot be parsed fails with a
// *ParseError and leaves the current track in place.
func (m *Manager) SetGPXFile(path string) error {
	if _, ok := m.mode.(GPXFile); !ok {
		return &ModeViolationError{Op: "set gpx file", Mode: m.mode}
	}
	return m.sim.SetGPXFile(path)
}

// StartUpdatingLocation starts location events.
func (m *Manager) StartUpdatingLocation() { m.backend.StartUpdatingLocation() }

// StopUpdatingLocation stops location events. In simulation mode the playback
// position is kept.
func (m *Manager) StopUpdatingLocation() { m.backend.StopUpdatingLocation() }

// StartMonitoringSignificantLocationChanges behaves like StartUpdatingLocation.
func (m *Manager) StartMonitoringSignificantLocationChanges() {
	m.backend.StartUpdatingLocation()
}

// AllowDeferredLocationUpdates is accepted for compatibility; events are
// never deferred.
func (m *Manager) AllowDeferredLocationUpdates(distance float64, timeout time.Duration) {
	m.logger.Debug("deferred updates requested", "distance", distance, "timeout", timeout)
}

// DisallowDeferredLocationUpdates is accepted for compatibility.
func (m *Manager) DisallowDeferredLocationUpdates() {
	m.logger.Debug("deferred updates disallowed")
}

// StartUpdatingHeading starts heading events.
func (m *Manager) StartUpdatingHeading() { m.backend.StartUpdatingHeading() }

// StopUpdatingHeading stops heading events.
func (m *Manager) StopUpdatingHeading() { m.backend.StopUpdatingHeading() }

// MonitoredRegions returns the monitored regions sorted by ID.
func (m *Manager) MonitoredRegions() []Region { return m.backend.monitored() }

// StartMonitoring adds r to the monitored regions. Delegates implementing
// RegionDelegate are told when emitted fixes enter or leave it.
func (m *Manager) StartMonitoring(r Region) { m.backend.monitor(r) }

// StopMonitoring removes r from the monitored regions.
func (m *Manager) StopMonitoring(r Region) { m.backend.unmonitor(r) }

// Close releases the backend. A simulator is killed; a sensor's stream is
// closed.
func (m *Manager) Close() error { return m.backend.Close() }
