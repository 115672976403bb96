package location

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// gpxDocument represents the root GPX document structure
type gpxDocument struct {
	XMLName xml.Name   `xml:"gpx"`
	Version string     `xml:"version,attr"`
	Creator string     `xml:"creator,attr"`
	Xmlns   string     `xml:"xmlns,attr"`
	Tracks  []gpxTrack `xml:"trk"`
	Routes  []gpxRoute `xml:"rte"`
}

// gpxTrack represents a GPX track
type gpxTrack struct {
	Name     string       `xml:"name,omitempty"`
	Segments []gpxSegment `xml:"trkseg"`
}

// gpxSegment represents a segment of a GPX track
type gpxSegment struct {
	Points []gpxPoint `xml:"trkpt"`
}

// gpxRoute represents a GPX route
type gpxRoute struct {
	Name   string     `xml:"name,omitempty"`
	Points []gpxPoint `xml:"rtept"`
}

// gpxPoint is a trkpt or rtept. Coordinates and time are kept as text so
// malformed values can be reported precisely.
type gpxPoint struct {
	Lat       string   `xml:"lat,attr"`
	Lon       string   `xml:"lon,attr"`
	Elevation *float64 `xml:"ele,omitempty"`
	Time      string   `xml:"time,omitempty"`
	MagVar    *float64 `xml:"magvar,omitempty"`
	Course    *float64 `xml:"course,omitempty"`
	Speed     *float64 `xml:"speed,omitempty"`
	HDOP      *float64 `xml:"hdop,omitempty"`
	VDOP      *float64 `xml:"vdop,omitempty"`
}

// User equivalent range error used to turn dilution of precision into meters.
const uereMeters = 5.0

const defaultAccuracyMeters = 5.0

// LoadTrackFile reads and parses a GPX file.
func LoadTrackFile(filename string) (Track, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return Track{}, &ParseError{Source: filename, Reason: "cannot read file", Err: err}
	}
	return parseGPX(filename, data)
}

// ParseGPX parses GPX data into a Track. Track points from every track and
// segment are used in document order; when there are none, the points of the
// first route are used instead.
func ParseGPX(data []byte) (Track, error) {
	return parseGPX("<bytes>", data)
}

func parseGPX(source string, data []byte) (Track, error) {
	var doc gpxDocument
	decoder := xml.NewDecoder(bytes.NewReader(data))
	if err := decoder.Decode(&doc); err != nil {
		return Track{}, &ParseError{Source: source, Reason: "invalid GPX document", Err: err}
	}

	var raw []gpxPoint
	for _, trk := range doc.Tracks {
		for _, seg := range trk.Segments {
			raw = append(raw, seg.Points...)
		}
	}
	timeRequired := true
	if len(raw) == 0 {
		// Route points may be untimed.
		for _, rte := range doc.Routes {
			if len(rte.Points) > 0 {
				raw = rte.Points
				timeRequired = false
				break
			}
		}
	}
	if len(raw) == 0 {
		return Track{}, &ParseError{Source: source, Reason: "no track points or route points found"}
	}

	positions := make([]PositionSample, 0, len(raw))
	var headings []HeadingSample
	haveSpeed := make([]bool, len(raw))
	haveCourse := make([]bool, len(raw))

	for i, pt := range raw {
		sample, err := pt.sample(timeRequired)
		if err != nil {
			return Track{}, &ParseError{Source: source, Reason: fmt.Sprintf("point %d", i), Err: err}
		}
		haveSpeed[i] = pt.Speed != nil
		haveCourse[i] = pt.Course != nil
		positions = append(positions, sample)

		if pt.Course != nil {
			h := HeadingSample{
				TrueHeading:     normalizeDegrees(*pt.Course),
				MagneticHeading: normalizeDegrees(*pt.Course),
				Accuracy:        defaultHeadingAccuracy,
				Timestamp:       sample.Timestamp,
			}
			if pt.MagVar != nil {
				h.MagneticHeading = normalizeDegrees(*pt.Course - *pt.MagVar)
			}
			headings = append(headings, h)
		}
	}

	deriveMotion(positions, haveSpeed, haveCourse)

	// Headings are kept only when every point has one.
	if len(headings) != len(positions) {
		headings = nil
	}

	return Track{positions: positions, headings: headings}, nil
}

const defaultHeadingAccuracy = 5.0

func (pt gpxPoint) sample(timeRequired bool) (PositionSample, error) {
	lat, err := strconv.ParseFloat(strings.TrimSpace(pt.Lat), 64)
	if err != nil {
		return PositionSample{}, fmt.Errorf("latitude %q: %w", pt.Lat, err)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(pt.Lon), 64)
	if err != nil {
		return PositionSample{}, fmt.Errorf("longitude %q: %w", pt.Lon, err)
	}
	if err := validCoordinate(lat, lon); err != nil {
		return PositionSample{}, err
	}

	s := PositionSample{
		Latitude:           lat,
		Longitude:          lon,
		HorizontalAccuracy: defaultAccuracyMeters,
		VerticalAccuracy:   -1,
		Course:             -1,
		Speed:              -1,
	}
	if pt.Elevation != nil {
		s.Altitude = *pt.Elevation
		s.VerticalAccuracy = defaultAccuracyMeters
	}
	if pt.HDOP != nil {
		s.HorizontalAccuracy = *pt.HDOP * uereMeters
	}
	if pt.VDOP != nil && pt.Elevation != nil {
		s.VerticalAccuracy = *pt.VDOP * uereMeters
	}
	if pt.Course != nil {
		s.Course = normalizeDegrees(*pt.Course)
	}
	if pt.Speed != nil {
		s.Speed = *pt.Speed
	}

	ts := strings.TrimSpace(pt.Time)
	switch {
	case ts != "":
		t, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return PositionSample{}, fmt.Errorf("time %q: %w", pt.Time, err)
		}
		s.Timestamp = t
	case timeRequired:
		return PositionSample{}, fmt.Errorf("missing time")
	}
	return s, nil
}

// deriveMotion fills in speed and course that the source did not record,
// using the next point. The last point inherits from its predecessor.
func deriveMotion(points []PositionSample, haveSpeed, haveCourse []bool) {
	n := len(points)
	for i := 0; i < n-1; i++ {
		cur, next := points[i], points[i+1]
		if !haveCourse[i] && (cur.Latitude != next.Latitude || cur.Longitude != next.Longitude) {
			points[i].Course = Bearing(cur.Latitude, cur.Longitude, next.Latitude, next.Longitude)
		}
		if !haveSpeed[i] && !cur.Timestamp.IsZero() && !next.Timestamp.IsZero() {
			if dt := next.Timestamp.Sub(cur.Timestamp).Seconds(); dt > 0 {
				points[i].Speed = cur.DistanceTo(next) / dt
			}
		}
	}
	if n >= 2 {
		if !haveCourse[n-1] {
			points[n-1].Course = points[n-2].Course
		}
		if !haveSpeed[n-1] {
			points[n-1].Speed = points[n-2].Speed
		}
	}
}

// GPXWriter records emitted fixes to a GPX file. It implements Delegate, so
// it can be registered directly on a manager.
type GPXWriter struct {
	mu       sync.Mutex
	filename string
	doc      *gpxDocument
	file     *os.File
}

// NewGPXWriter creates a new GPX writer
func NewGPXWriter(filename string) (*GPXWriter, error) {
	file, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create GPX file %s: %w", filename, err)
	}

	doc := &gpxDocument{
		Version: "1.1",
		Creator: "go-gpx-location",
		Xmlns:   "http://www.topografix.com/GPX/1/1",
		Tracks: []gpxTrack{{
			Name:     "Replayed Track",
			Segments: []gpxSegment{{}},
		}},
	}

	return &GPXWriter{filename: filename, doc: doc, file: file}, nil
}

// AddSample appends a fix to the track.
func (w *GPXWriter) AddSample(s PositionSample) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.addLocked(s)
}

func (w *GPXWriter) addLocked(s PositionSample) {
	ele := s.Altitude
	pt := gpxPoint{
		Lat:       strconv.FormatFloat(s.Latitude, 'f', -1, 64),
		Lon:       strconv.FormatFloat(s.Longitude, 'f', -1, 64),
		Elevation: &ele,
	}
	if !s.Timestamp.IsZero() {
		pt.Time = s.Timestamp.UTC().Format(time.RFC3339)
	}
	seg := &w.doc.Tracks[0].Segments[0]
	seg.Points = append(seg.Points, pt)
}

// OnLocationUpdate records the fix and flushes the file every ten points.
func (w *GPXWriter) OnLocationUpdate(_ Control, s PositionSample) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.addLocked(s)
	if w.countLocked()%10 == 0 {
		// A failed periodic flush is retried on the next one and on Close.
		_ = w.writeLocked()
	}
}

// OnHeadingUpdate is a no-op; GPX has no heading element.
func (w *GPXWriter) OnHeadingUpdate(Control, HeadingSample) {}

// WriteToFile writes the current GPX data to the file
func (w *GPXWriter) WriteToFile() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writeLocked()
}

func (w *GPXWriter) writeLocked() error {
	if w.file == nil {
		return fmt.Errorf("GPX file %s is closed", w.filename)
	}
	if _, err := w.file.Seek(0, 0); err != nil {
		return fmt.Errorf("failed to seek to beginning of file: %w", err)
	}
	if err := w.file.Truncate(0); err != nil {
		return fmt.Errorf("failed to truncate file: %w", err)
	}
	if _, err := w.file.WriteString(xml.Header); err != nil {
		return fmt.Errorf("failed to write XML header: %w", err)
	}

	encoder := xml.NewEncoder(w.file)
	encoder.Indent("", "  ")
	if err := encoder.Encode(w.doc); err != nil {
		return fmt.Errorf("failed to encode GPX data: %w", err)
	}

	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync file: %w", err)
	}
	return nil
}

// Close writes any pending points and closes the GPX file
func (w *GPXWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.writeLocked()
	if cerr := w.file.Close(); err == nil {
		err = cerr
	}
	w.file = nil
	return err
}

// Count returns the number of points recorded so far
func (w *GPXWriter) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.countLocked()
}

func (w *GPXWriter) countLocked() int {
	return len(w.doc.Tracks[0].Segments[0].Points)
}
