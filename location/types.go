package location

import (
	"fmt"
	"time"
)

// PositionSample is a single recorded position fix.
//
// Accuracy, Course and Speed follow the platform convention of using a
// negative value for "unknown".
type PositionSample struct {
	Latitude           float64   `json:"latitude" yaml:"latitude"`
	Longitude          float64   `json:"longitude" yaml:"longitude"`
	Altitude           float64   `json:"altitude" yaml:"altitude"`                       // meters
	HorizontalAccuracy float64   `json:"horizontal_accuracy" yaml:"horizontal_accuracy"` // meters
	VerticalAccuracy   float64   `json:"vertical_accuracy" yaml:"vertical_accuracy"`     // meters
	Course             float64   `json:"course" yaml:"course"`                           // degrees true
	Speed              float64   `json:"speed" yaml:"speed"`                             // m/s
	Timestamp          time.Time `json:"timestamp" yaml:"timestamp"`
}

// Offset returns the time of the sample relative to start.
func (p PositionSample) Offset(start time.Time) time.Duration {
	if p.Timestamp.IsZero() || start.IsZero() {
		return 0
	}
	return p.Timestamp.Sub(start)
}

// DistanceTo returns the great-circle distance to other in meters.
func (p PositionSample) DistanceTo(other PositionSample) float64 {
	return Distance(p.Latitude, p.Longitude, other.Latitude, other.Longitude)
}

// Validate checks that the coordinates are in range.
func (p PositionSample) Validate() error {
	return validCoordinate(p.Latitude, p.Longitude)
}

func (p PositionSample) String() string {
	return fmt.Sprintf("%.6f,%.6f", p.Latitude, p.Longitude)
}

// HeadingSample is a single recorded compass reading.
type HeadingSample struct {
	MagneticHeading float64   `json:"magnetic_heading"` // degrees
	TrueHeading     float64   `json:"true_heading"`     // degrees
	Accuracy        float64   `json:"accuracy"`         // degrees
	Timestamp       time.Time `json:"timestamp"`
}

// State is the lifecycle state of a playback session.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateKilled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateKilled:
		return "killed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText lets State appear by name in JSON status payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	switch string(text) {
	case "idle":
		*s = StateIdle
	case "running":
		*s = StateRunning
	case "killed":
		*s = StateKilled
	default:
		return fmt.Errorf("unknown state %q", text)
	}
	return nil
}

// Status is a point-in-time snapshot of a simulator.
type Status struct {
	State          State           `json:"state"`
	Cursor         int             `json:"cursor"`
	Total          int             `json:"total"`
	Completed      bool            `json:"completed"`
	SecondLength   float64         `json:"second_length"`
	DistanceFilter float64         `json:"distance_filter"`
	Emitted        int             `json:"emitted"`
	Suppressed     int             `json:"suppressed"`
	Location       *PositionSample `json:"location,omitempty"`
}

// AuthorizationStatus mirrors the platform's location permission levels.
type AuthorizationStatus int

const (
	AuthorizationNotDetermined AuthorizationStatus = iota
	AuthorizationRestricted
	AuthorizationDenied
	AuthorizedAlways
	AuthorizedWhenInUse
)

func (a AuthorizationStatus) String() string {
	switch a {
	case AuthorizationNotDetermined:
		return "not_determined"
	case AuthorizationRestricted:
		return "restricted"
	case AuthorizationDenied:
		return "denied"
	case AuthorizedAlways:
		return "authorized_always"
	case AuthorizedWhenInUse:
		return "authorized_when_in_use"
	default:
		return fmt.Sprintf("AuthorizationStatus(%d)", int(a))
	}
}

// ActivityType is a pass-through hint describing how the device moves.
type ActivityType int

const (
	ActivityOther ActivityType = iota
	ActivityAutomotiveNavigation
	ActivityFitness
	ActivityOtherNavigation
	ActivityAirborne
)

// Desired accuracy hints, in meters. They are stored and reported but never
// change what the simulator emits.
const (
	AccuracyBestForNavigation float64 = -2
	AccuracyBest              float64 = -1
	AccuracyNearestTenMeters  float64 = 10
	AccuracyHundredMeters     float64 = 100
	AccuracyKilometer         float64 = 1000
	AccuracyThreeKilometers   float64 = 3000
)

// DistanceFilterNone disables distance filtering.
const DistanceFilterNone float64 = 0
