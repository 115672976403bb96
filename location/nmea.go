package location

import (
	"encoding/hex"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"
)

// calculateChecksum calculates the NMEA checksum for a sentence
func calculateChecksum(sentence string) string {
	var checksum byte
	for i := 1; i < len(sentence); i++ { // Skip the '$' character
		checksum ^= sentence[i]
	}
	return fmt.Sprintf("%02X", checksum)
}

// formatNMEA formats a complete NMEA sentence with checksum
func formatNMEA(sentence string) string {
	checksum := calculateChecksum(sentence)
	return fmt.Sprintf("%s*%s\r\n", sentence, checksum)
}

// nmeaCoordinates converts decimal degrees to the DDMM.MMMM / DDDMM.MMMM
// fields used by GGA, RMC and GLL.
func nmeaCoordinates(lat, lon float64) string {
	latDeg := int(math.Abs(lat))
	latMin := (math.Abs(lat) - float64(latDeg)) * 60
	latHem := "N"
	if lat < 0 {
		latHem = "S"
	}

	lonDeg := int(math.Abs(lon))
	lonMin := (math.Abs(lon) - float64(lonDeg)) * 60
	lonHem := "E"
	if lon < 0 {
		lonHem = "W"
	}

	return fmt.Sprintf("%02d%07.4f,%s,%03d%07.4f,%s", latDeg, latMin, latHem, lonDeg, lonMin, lonHem)
}

func knots(s PositionSample) float64 {
	if s.Speed < 0 {
		return 0
	}
	return s.Speed * metersPerSecondToKnots
}

func course(s PositionSample) string {
	if s.Course < 0 {
		return ""
	}
	return fmt.Sprintf("%.1f", s.Course)
}

func hdop(s PositionSample) string {
	if s.HorizontalAccuracy <= 0 {
		return "1.0"
	}
	return fmt.Sprintf("%.1f", s.HorizontalAccuracy/uereMeters)
}

// GenerateGGA generates a GGA (Global Positioning System Fix Data) sentence
func GenerateGGA(s PositionSample, timestamp time.Time) string {
	timeStr := timestamp.UTC().Format("150405")

	sentence := fmt.Sprintf("$GPGGA,%s,%s,1,08,%s,%.1f,M,0.0,M,,",
		timeStr,
		nmeaCoordinates(s.Latitude, s.Longitude),
		hdop(s),
		s.Altitude)

	return formatNMEA(sentence)
}

// GenerateRMC generates an RMC (Recommended Minimum) sentence
func GenerateRMC(s PositionSample, timestamp time.Time) string {
	timeStr := timestamp.UTC().Format("150405")
	dateStr := timestamp.UTC().Format("020106")

	sentence := fmt.Sprintf("$GPRMC,%s,A,%s,%.1f,%s,%s,,,A",
		timeStr,
		nmeaCoordinates(s.Latitude, s.Longitude),
		knots(s), course(s), dateStr)

	return formatNMEA(sentence)
}

// GenerateGLL generates a GLL (Geographic Position - Latitude/Longitude) sentence
func GenerateGLL(s PositionSample, timestamp time.Time) string {
	utcTime := timestamp.UTC()
	timeStr := fmt.Sprintf("%02d%02d%02d.%02d",
		utcTime.Hour(), utcTime.Minute(), utcTime.Second(), utcTime.Nanosecond()/10000000)

	sentence := fmt.Sprintf("$GPGLL,%s,%s,A,A", nmeaCoordinates(s.Latitude, s.Longitude), timeStr)
	return formatNMEA(sentence)
}

// GenerateVTG generates a VTG (Track Made Good and Ground Speed) sentence
func GenerateVTG(s PositionSample) string {
	kt := knots(s)
	sentence := fmt.Sprintf("$GPVTG,%s,T,,M,%.1f,N,%.1f,K,A", course(s), kt, kt*knotsToKmh)
	return formatNMEA(sentence)
}

// GenerateZDA generates a ZDA (UTC Date and Time) sentence
func GenerateZDA(timestamp time.Time) string {
	utcTime := timestamp.UTC()
	timeStr := fmt.Sprintf("%02d%02d%02d.%02d",
		utcTime.Hour(), utcTime.Minute(), utcTime.Second(), utcTime.Nanosecond()/10000000)

	sentence := fmt.Sprintf("$GPZDA,%s,%02d,%02d,%04d,00,00",
		timeStr, utcTime.Day(), int(utcTime.Month()), utcTime.Year())
	return formatNMEA(sentence)
}

// GenerateHDT generates an HDT (Heading, True) sentence
func GenerateHDT(h HeadingSample) string {
	return formatNMEA(fmt.Sprintf("$GPHDT,%.1f,T", h.TrueHeading))
}

// NMEAWriter renders events as NMEA 0183 sentences. It implements Delegate.
type NMEAWriter struct {
	mu sync.Mutex
	w  io.Writer
	// RecordedTime stamps sentences with the sample's recorded time instead of
	// the current time.
	RecordedTime bool
	now          func() time.Time
	err          error
}

// NewNMEAWriter creates a writer emitting sentences to w.
func NewNMEAWriter(w io.Writer) *NMEAWriter {
	return &NMEAWriter{w: w, now: time.Now}
}

// Sentences returns the sentences written for one fix.
func (n *NMEAWriter) Sentences(s PositionSample) []string {
	ts := n.now()
	if n.RecordedTime && !s.Timestamp.IsZero() {
		ts = s.Timestamp
	}
	return []string{
		GenerateGGA(s, ts),
		GenerateRMC(s, ts),
		GenerateGLL(s, ts),
		GenerateVTG(s),
		GenerateZDA(ts),
	}
}

func (n *NMEAWriter) OnLocationUpdate(_ Control, s PositionSample) {
	n.write(n.Sentences(s)...)
}

func (n *NMEAWriter) OnHeadingUpdate(_ Control, h HeadingSample) {
	n.write(GenerateHDT(h))
}

func (n *NMEAWriter) write(sentences ...string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, sentence := range sentences {
		if _, err := io.WriteString(n.w, sentence); err != nil {
			n.err = err
			return
		}
	}
}

// Err returns the first write error, if any.
func (n *NMEAWriter) Err() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.err
}

type nmeaSentence struct {
	Type string
	// Fields is the comma-split NMEA payload (excluding $ and checksum).
	Fields []string
}

func parseNMEASentence(line string) (nmeaSentence, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "$") {
		return nmeaSentence{}, fmt.Errorf("nmea: missing '$'")
	}
	star := strings.LastIndexByte(line, '*')
	if star == -1 {
		return nmeaSentence{}, fmt.Errorf("nmea: missing checksum")
	}
	payload := line[1:star]
	ck := strings.TrimSpace(line[star+1:])
	if len(ck) < 2 {
		return nmeaSentence{}, fmt.Errorf("nmea: short checksum")
	}
	want, err := hex.DecodeString(ck[:2])
	if err != nil || len(want) != 1 {
		return nmeaSentence{}, fmt.Errorf("nmea: bad checksum")
	}
	got := byte(0)
	for i := 0; i < len(payload); i++ {
		got ^= payload[i]
	}
	if got != want[0] {
		return nmeaSentence{}, fmt.Errorf("nmea: checksum mismatch")
	}

	parts := strings.Split(payload, ",")
	if len(parts[0]) < 3 {
		return nmeaSentence{}, fmt.Errorf("nmea: short type")
	}
	// Accept GNxxx/GPxxx, etc; normalize to last 3 chars.
	t := parts[0][len(parts[0])-3:]
	return nmeaSentence{Type: strings.ToUpper(t), Fields: parts}, nil
}

// nmeaState accumulates sentences into fixes. RMC completes a fix; GGA
// contributes altitude and accuracy.
type nmeaState struct {
	altitude float64
	altOK    bool
	hdop     float64
	hdopOK   bool
	magVar   float64
	magVarOK bool
}

// applyRMC returns a fix for an active RMC sentence.
//
//	0: talker+type
//	1: time (hhmmss.sss)
//	2: status (A=active, V=void)
//	3: latitude (ddmm.mmmm)
//	4: N/S
//	5: longitude (dddmm.mmmm)
//	6: E/W
//	7: speed over ground (knots)
//	8: course over ground (deg)
//	9: date (ddmmyy)
//	10: magnetic variation (deg)
//	11: E/W
func (st *nmeaState) applyRMC(f []string, now time.Time) (PositionSample, bool) {
	if len(f) < 10 || strings.TrimSpace(f[2]) != "A" {
		return PositionSample{}, false
	}
	lat, latOK := parseNMEALatLon(f[3], f[4])
	lon, lonOK := parseNMEALatLon(f[5], f[6])
	if !latOK || !lonOK {
		return PositionSample{}, false
	}

	s := PositionSample{
		Latitude:           lat,
		Longitude:          lon,
		HorizontalAccuracy: defaultAccuracyMeters,
		VerticalAccuracy:   -1,
		Course:             -1,
		Speed:              -1,
		Timestamp:          parseNMEATime(f[1], f[9], now),
	}
	if kt, ok := parseFloat(f[7]); ok {
		s.Speed = kt / metersPerSecondToKnots
	}
	if c, ok := parseFloat(f[8]); ok {
		s.Course = normalizeDegrees(c)
	}
	if st.altOK {
		s.Altitude = st.altitude
		s.VerticalAccuracy = defaultAccuracyMeters
	}
	if st.hdopOK {
		s.HorizontalAccuracy = st.hdop * uereMeters
	}
	if len(f) >= 12 {
		if mv, ok := parseFloat(f[10]); ok {
			if strings.TrimSpace(strings.ToUpper(f[11])) == "W" {
				mv = -mv
			}
			st.magVar = mv
			st.magVarOK = true
		}
	}
	return s, true
}

// applyGGA records altitude and HDOP from a GGA sentence with a valid fix.
//
//	6: fix quality (0=invalid)
//	8: HDOP
//	9: altitude (meters)
func (st *nmeaState) applyGGA(f []string) {
	if len(f) < 11 {
		return
	}
	q := strings.TrimSpace(f[6])
	if q == "" || q == "0" {
		return
	}
	if v, ok := parseFloat(f[8]); ok {
		st.hdop = v
		st.hdopOK = true
	}
	if v, ok := parseFloat(f[9]); ok {
		st.altitude = v
		st.altOK = true
	}
}

// applyHDT returns a heading for an HDT sentence.
func (st *nmeaState) applyHDT(f []string, now time.Time) (HeadingSample, bool) {
	if len(f) < 2 {
		return HeadingSample{}, false
	}
	v, ok := parseFloat(f[1])
	if !ok {
		return HeadingSample{}, false
	}
	h := HeadingSample{
		TrueHeading:     normalizeDegrees(v),
		MagneticHeading: normalizeDegrees(v),
		Accuracy:        defaultHeadingAccuracy,
		Timestamp:       now,
	}
	if st.magVarOK {
		h.MagneticHeading = normalizeDegrees(v - st.magVar)
	}
	return h, true
}

func parseFloat(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// parseNMEATime combines the hhmmss.sss and ddmmyy fields. It falls back to
// now when either is missing or malformed.
func parseNMEATime(hms, dmy string, now time.Time) time.Time {
	hms = strings.TrimSpace(hms)
	dmy = strings.TrimSpace(dmy)
	if len(hms) < 6 || len(dmy) != 6 {
		return now
	}
	t, err := time.Parse("020106 150405", dmy+" "+hms[:6])
	if err != nil {
		return now
	}
	if len(hms) > 7 && hms[6] == '.' {
		if frac, err := strconv.ParseFloat("0"+hms[6:], 64); err == nil {
			t = t.Add(time.Duration(frac * float64(time.Second)))
		}
	}
	return t
}

// parseNMEALatLon parses NMEA lat/lon in ddmm.mmmm or dddmm.mmmm plus hemisphere.
func parseNMEALatLon(v string, hemi string) (float64, bool) {
	v = strings.TrimSpace(v)
	hemi = strings.TrimSpace(strings.ToUpper(hemi))
	if v == "" || (hemi != "N" && hemi != "S" && hemi != "E" && hemi != "W") {
		return 0, false
	}

	// The last two digits of the integer part are minutes.
	dot := strings.IndexByte(v, '.')
	intPart := v
	if dot != -1 {
		intPart = v[:dot]
	}
	if len(intPart) < 3 {
		return 0, false
	}

	deg, err := strconv.Atoi(intPart[:len(intPart)-2])
	if err != nil {
		return 0, false
	}
	mins, err := strconv.ParseFloat(v[len(intPart)-2:], 64)
	if err != nil {
		return 0, false
	}

	dec := float64(deg) + (mins / 60.0)
	if hemi == "S" || hemi == "W" {
		dec = -dec
	}
	return dec, true
}
