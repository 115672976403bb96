package location

import (
	"fmt"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// Track is an ordered recording of position samples, optionally paired one to
// one with heading samples. A Track is never modified after construction.
type Track struct {
	positions []PositionSample
	headings  []HeadingSample
}

// NewTrack builds a track from an explicit list of samples. headings may be
// nil; when given, heading i is emitted together with position i.
func NewTrack(positions []PositionSample, headings []HeadingSample) Track {
	return Track{
		positions: slices.Clone(positions),
		headings:  slices.Clone(headings),
	}
}

// Len returns the number of position samples.
func (t Track) Len() int { return len(t.positions) }

// Empty reports whether the track has no positions.
func (t Track) Empty() bool { return len(t.positions) == 0 }

// HasHeadings reports whether heading samples are present.
func (t Track) HasHeadings() bool { return len(t.headings) > 0 }

// Position returns the i'th position sample.
func (t Track) Position(i int) PositionSample { return t.positions[i] }

// Heading returns the heading paired with position i, if any.
func (t Track) Heading(i int) (HeadingSample, bool) {
	if i < 0 || i >= len(t.headings) {
		return HeadingSample{}, false
	}
	return t.headings[i], true
}

// Positions returns a copy of the position samples.
func (t Track) Positions() []PositionSample { return slices.Clone(t.positions) }

// Start returns the timestamp of the first sample.
func (t Track) Start() time.Time {
	if len(t.positions) == 0 {
		return time.Time{}
	}
	return t.positions[0].Timestamp
}

// Duration returns the recorded time spanned by the track.
func (t Track) Duration() time.Duration {
	if len(t.positions) < 2 {
		return 0
	}
	return t.positions[len(t.positions)-1].Offset(t.Start())
}

// Length returns the summed great-circle length of the track in meters.
func (t Track) Length() float64 {
	var total float64
	for i := 1; i < len(t.positions); i++ {
		total += t.positions[i-1].DistanceTo(t.positions[i])
	}
	return total
}

// sequentialTimestamps reports whether every sample is timed and the times
// never go backwards.
func (t Track) sequentialTimestamps() bool {
	if len(t.positions) < 2 {
		return false
	}
	for i := range t.positions {
		if t.positions[i].Timestamp.IsZero() {
			return false
		}
		if i > 0 && t.positions[i].Timestamp.Before(t.positions[i-1].Timestamp) {
			return false
		}
	}
	return true
}

// samplesFile is the on-disk layout of an explicit location list. Optional
// fields are pointers so that an absent value can be told apart from zero.
type samplesFile struct {
	Locations []sampleEntry `yaml:"locations"`
}

type sampleEntry struct {
	Latitude           float64   `yaml:"latitude"`
	Longitude          float64   `yaml:"longitude"`
	Altitude           *float64  `yaml:"altitude"`
	HorizontalAccuracy *float64  `yaml:"horizontal_accuracy"`
	VerticalAccuracy   *float64  `yaml:"vertical_accuracy"`
	Course             *float64  `yaml:"course"`
	Speed              *float64  `yaml:"speed"`
	Timestamp          time.Time `yaml:"timestamp"`
}

// sample converts the entry, marking absent course, speed and vertical
// accuracy as unknown (-1) the way GPX points are.
func (e sampleEntry) sample() PositionSample {
	s := PositionSample{
		Latitude:           e.Latitude,
		Longitude:          e.Longitude,
		HorizontalAccuracy: defaultAccuracyMeters,
		VerticalAccuracy:   -1,
		Course:             -1,
		Speed:              -1,
		Timestamp:          e.Timestamp,
	}
	if e.Altitude != nil {
		s.Altitude = *e.Altitude
		s.VerticalAccuracy = defaultAccuracyMeters
	}
	if e.HorizontalAccuracy != nil {
		s.HorizontalAccuracy = *e.HorizontalAccuracy
	}
	if e.VerticalAccuracy != nil {
		s.VerticalAccuracy = *e.VerticalAccuracy
	}
	if e.Course != nil {
		s.Course = normalizeDegrees(*e.Course)
	}
	if e.Speed != nil {
		s.Speed = *e.Speed
	}
	return s
}

// LoadSamplesFile reads an explicit location list from a YAML file:
//
//	locations:
//	  - latitude: 37.7749
//	    longitude: -122.4194
//	    timestamp: 2024-01-15T10:30:00Z
//
// Missing course and speed are derived from the following point, as for GPX
// tracks.
func LoadSamplesFile(filename string) ([]PositionSample, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, &ParseError{Source: filename, Reason: "cannot read file", Err: err}
	}
	var f samplesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, &ParseError{Source: filename, Reason: "invalid location list", Err: err}
	}
	if len(f.Locations) == 0 {
		return nil, &ParseError{Source: filename, Reason: "no locations found"}
	}

	samples := make([]PositionSample, len(f.Locations))
	haveSpeed := make([]bool, len(f.Locations))
	haveCourse := make([]bool, len(f.Locations))
	for i, e := range f.Locations {
		if err := validCoordinate(e.Latitude, e.Longitude); err != nil {
			return nil, &ParseError{Source: filename, Reason: fmt.Sprintf("location %d", i), Err: err}
		}
		samples[i] = e.sample()
		haveSpeed[i] = e.Speed != nil
		haveCourse[i] = e.Course != nil
	}
	deriveMotion(samples, haveSpeed, haveCourse)
	return samples, nil
}
