package location

import (
	"fmt"
	"io"
)

// Mode selects a Manager's backend at construction. It is one of GPXFile,
// Locations or Sensor.
type Mode interface {
	fmt.Stringer
	isMode()
}

// GPXFile replays the track recorded in a GPX file.
type GPXFile struct {
	Path string
}

// Locations replays an explicit list of samples.
type Locations struct {
	Samples  []PositionSample
	Headings []HeadingSample
}

// Sensor passes through a real GPS receiver streaming NMEA 0183.
type Sensor struct {
	Source io.ReadCloser
	Name   string // device name, for logs
}

func (GPXFile) isMode()   {}
func (Locations) isMode() {}
func (Sensor) isMode()    {}

func (m GPXFile) String() string { return fmt.Sprintf("gpx file %q", m.Path) }

func (m Locations) String() string { return fmt.Sprintf("%d locations", len(m.Samples)) }

func (m Sensor) String() string {
	if m.Name == "" {
		return "sensor"
	}
	return fmt.Sprintf("sensor %s", m.Name)
}
