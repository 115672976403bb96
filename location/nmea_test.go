package location

import (
	"bytes"
	"fmt"
	"math"
	"strings"
	"testing"
	"time"
)

func TestCalculateChecksum(t *testing.T) {
	tests := []struct {
		name     string
		sentence string
		expected string
	}{
		{
			name:     "Simple GGA sentence",
			sentence: "$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,",
			expected: "47",
		},
		{
			name:     "Simple RMC sentence",
			sentence: "$GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W",
			expected: "6A",
		},
		{
			name:     "Single character after $",
			sentence: "$A",
			expected: "41",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := calculateChecksum(tt.sentence)
			if result != tt.expected {
				t.Errorf("calculateChecksum(%q) = %q, want %q", tt.sentence, result, tt.expected)
			}
		})
	}
}

func TestFormatNMEA(t *testing.T) {
	sentence := "$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,"
	expected := sentence + "*47\r\n"
	if result := formatNMEA(sentence); result != expected {
		t.Errorf("formatNMEA(%q) = %q, want %q", sentence, result, expected)
	}
}

var sanFrancisco = PositionSample{
	Latitude:           37.7749,
	Longitude:          -122.4194,
	Altitude:           45.0,
	HorizontalAccuracy: 10,
	Course:             90,
	Speed:              5.5 / metersPerSecondToKnots,
}

var testTime = time.Date(2024, 1, 15, 10, 30, 45, 0, time.UTC)

func TestGenerateGGA(t *testing.T) {
	result := GenerateGGA(sanFrancisco, testTime)

	if !strings.HasPrefix(result, "$GPGGA,103045,") {
		t.Errorf("GGA should start with '$GPGGA,103045,', got: %s", result)
	}
	if !strings.Contains(result, "3746.4940,N,12225.1640,W") {
		t.Errorf("GGA should contain coordinates, got: %s", result)
	}
	if !strings.Contains(result, ",2.0,45.0,M,") {
		t.Errorf("GGA should contain hdop 2.0 and altitude 45.0, got: %s", result)
	}
	if !strings.HasSuffix(result, "\r\n") {
		t.Errorf("GGA should end with CRLF, got: %q", result)
	}
}

func TestGenerateRMC(t *testing.T) {
	result := GenerateRMC(sanFrancisco, testTime)

	parts := strings.Split(result, ",")
	if parts[0] != "$GPRMC" || parts[1] != "103045" || parts[2] != "A" {
		t.Errorf("Unexpected RMC header: %s", result)
	}
	if parts[7] != "5.5" {
		t.Errorf("RMC should contain speed '5.5', got: %s", parts[7])
	}
	if parts[8] != "90.0" {
		t.Errorf("RMC should contain course '90.0', got: %s", parts[8])
	}
	if parts[9] != "150124" {
		t.Errorf("RMC should contain date '150124', got: %s", parts[9])
	}
}

func TestGenerateRMCUnknownMotion(t *testing.T) {
	s := sanFrancisco
	s.Speed, s.Course = -1, -1
	parts := strings.Split(GenerateRMC(s, testTime), ",")
	if parts[7] != "0.0" || parts[8] != "" {
		t.Errorf("Unknown speed and course should render as 0.0 and empty, got %q %q", parts[7], parts[8])
	}
}

func TestGenerateGLL(t *testing.T) {
	result := GenerateGLL(sanFrancisco, testTime)
	if !strings.HasPrefix(result, "$GPGLL,3746.4940,N,12225.1640,W,103045.00,A") {
		t.Errorf("Unexpected GLL: %s", result)
	}
}

func TestGenerateVTG(t *testing.T) {
	result := GenerateVTG(sanFrancisco)

	if !strings.HasPrefix(result, "$GPVTG,90.0,T,") {
		t.Errorf("VTG should contain course '90.0,T', got: %s", result)
	}
	if !strings.Contains(result, "5.5,N") {
		t.Errorf("VTG should contain speed '5.5,N', got: %s", result)
	}
	expectedKmh := fmt.Sprintf("%.1f,K", 5.5*1.852)
	if !strings.Contains(result, expectedKmh) {
		t.Errorf("VTG should contain speed '%s', got: %s", expectedKmh, result)
	}
}

func TestGenerateZDA(t *testing.T) {
	result := GenerateZDA(testTime)
	if !strings.HasPrefix(result, "$GPZDA,103045.00,15,01,2024,") {
		t.Errorf("Unexpected ZDA: %s", result)
	}
}

func TestGenerateHDT(t *testing.T) {
	result := GenerateHDT(HeadingSample{TrueHeading: 274.25})
	if !strings.HasPrefix(result, "$GPHDT,274.2,T*") && !strings.HasPrefix(result, "$GPHDT,274.3,T*") {
		t.Errorf("Unexpected HDT: %s", result)
	}
}

func TestNMEAChecksumValidation(t *testing.T) {
	sentences := []string{
		GenerateGGA(sanFrancisco, testTime),
		GenerateRMC(sanFrancisco, testTime),
		GenerateGLL(sanFrancisco, testTime),
		GenerateVTG(sanFrancisco),
		GenerateZDA(testTime),
		GenerateHDT(HeadingSample{TrueHeading: 12}),
	}
	for _, s := range sentences {
		if _, err := parseNMEASentence(s); err != nil {
			t.Errorf("Generated sentence %q does not validate: %v", s, err)
		}
	}
}

func TestParseNMEASentenceErrors(t *testing.T) {
	tests := []string{
		"GPGGA,123519*47",
		"$GPGGA,123519",
		"$GPGGA,123519*4",
		"$GPGGA,123519*ZZ",
		"$GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W*00",
		"$AB*03",
	}
	for _, line := range tests {
		if _, err := parseNMEASentence(line); err == nil {
			t.Errorf("Expected error parsing %q", line)
		}
	}
}

func TestParseNMEASentenceTalker(t *testing.T) {
	line := strings.TrimSpace(formatNMEA("$GNRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W"))
	s, err := parseNMEASentence(line)
	if err != nil {
		t.Fatalf("parseNMEASentence failed: %v", err)
	}
	if s.Type != "RMC" {
		t.Errorf("Expected type RMC, got %s", s.Type)
	}
}

func TestRMCRoundTrip(t *testing.T) {
	var st nmeaState
	gga, _ := parseNMEASentence(GenerateGGA(sanFrancisco, testTime))
	st.applyGGA(gga.Fields)
	rmc, _ := parseNMEASentence(GenerateRMC(sanFrancisco, testTime))

	fix, ok := st.applyRMC(rmc.Fields, time.Time{})
	if !ok {
		t.Fatal("Expected a fix from an active RMC")
	}
	if math.Abs(fix.Latitude-sanFrancisco.Latitude) > 1e-5 || math.Abs(fix.Longitude-sanFrancisco.Longitude) > 1e-5 {
		t.Errorf("Coordinates did not survive the round trip: %v", fix)
	}
	if !fix.Timestamp.Equal(testTime) {
		t.Errorf("Expected timestamp %v, got %v", testTime, fix.Timestamp)
	}
	if fix.Altitude != 45.0 {
		t.Errorf("Expected altitude from GGA, got %f", fix.Altitude)
	}
	if fix.HorizontalAccuracy != 10 {
		t.Errorf("Expected accuracy 10 from hdop 2.0, got %f", fix.HorizontalAccuracy)
	}
	if math.Abs(fix.Speed-sanFrancisco.Speed) > 0.05 || fix.Course != 90 {
		t.Errorf("Unexpected motion: speed %f course %f", fix.Speed, fix.Course)
	}
}

func TestRMCVoidIsIgnored(t *testing.T) {
	var st nmeaState
	s, _ := parseNMEASentence(formatNMEA("$GPRMC,123519,V,,,,,,,230394,,"))
	if _, ok := st.applyRMC(s.Fields, testTime); ok {
		t.Error("A void RMC must not produce a fix")
	}
}

func TestHDTUsesMagneticVariation(t *testing.T) {
	var st nmeaState
	rmc, _ := parseNMEASentence(formatNMEA("$GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W"))
	st.applyRMC(rmc.Fields, testTime)

	hdt, _ := parseNMEASentence(GenerateHDT(HeadingSample{TrueHeading: 100}))
	h, ok := st.applyHDT(hdt.Fields, testTime)
	if !ok {
		t.Fatal("Expected a heading")
	}
	if h.TrueHeading != 100 || math.Abs(h.MagneticHeading-103.1) > 1e-9 {
		t.Errorf("Expected true 100 / magnetic 103.1, got %f / %f", h.TrueHeading, h.MagneticHeading)
	}
}

func TestParseNMEALatLon(t *testing.T) {
	tests := []struct {
		v, hemi string
		want    float64
		ok      bool
	}{
		{"3746.4940", "N", 37.7749, true},
		{"12225.1640", "W", -122.4194, true},
		{"3352.1280", "S", -33.8688, true},
		{"", "N", 0, false},
		{"3746.4940", "X", 0, false},
		{"12", "N", 0, false},
	}
	for _, tt := range tests {
		got, ok := parseNMEALatLon(tt.v, tt.hemi)
		if ok != tt.ok || math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("parseNMEALatLon(%q, %q) = %f, %v; want %f, %v", tt.v, tt.hemi, got, ok, tt.want, tt.ok)
		}
	}
}

func TestCoordinateConversion(t *testing.T) {
	tests := []struct {
		name     string
		lat, lon float64
		expected string
	}{
		{"San Francisco", 37.7749, -122.4194, "3746.4940,N,12225.1640,W"},
		{"Sydney", -33.8688, 151.2093, "3352.1280,S,15112.5580,E"},
		{"London", 51.5074, -0.1278, "5130.4440,N,00007.6680,W"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := nmeaCoordinates(tt.lat, tt.lon); got != tt.expected {
				t.Errorf("nmeaCoordinates(%f, %f) = %s, want %s", tt.lat, tt.lon, got, tt.expected)
			}
		})
	}
}

func TestNMEAWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewNMEAWriter(&buf)
	w.RecordedTime = true

	s := sanFrancisco
	s.Timestamp = testTime
	w.OnLocationUpdate(nil, s)
	w.OnHeadingUpdate(nil, HeadingSample{TrueHeading: 45})

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\r\n"), "\r\n")
	if len(lines) != 6 {
		t.Fatalf("Expected 6 sentences, got %d: %q", len(lines), buf.String())
	}
	for i, prefix := range []string{"$GPGGA,103045", "$GPRMC,103045", "$GPGLL", "$GPVTG", "$GPZDA,103045", "$GPHDT"} {
		if !strings.HasPrefix(lines[i], prefix) {
			t.Errorf("Sentence %d should start with %s, got %s", i, prefix, lines[i])
		}
	}
	if w.Err() != nil {
		t.Errorf("Unexpected write error: %v", w.Err())
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, fmt.Errorf("device unplugged") }

func TestNMEAWriterKeepsFirstError(t *testing.T) {
	w := NewNMEAWriter(failingWriter{})
	w.OnLocationUpdate(nil, sanFrancisco)
	if w.Err() == nil || !strings.Contains(w.Err().Error(), "unplugged") {
		t.Errorf("Expected write error, got %v", w.Err())
	}
}
