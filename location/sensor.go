package location

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"go.bug.st/serial"
)

// OpenSerial opens a serial port for NMEA input or output (8N1).
func OpenSerial(port string, baudRate int) (serial.Port, error) {
	if baudRate <= 0 {
		return nil, ErrInvalidBaudRate
	}
	mode := &serial.Mode{
		BaudRate: baudRate,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}
	p, err := serial.Open(port, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", port, err)
	}
	return p, nil
}

// NMEASensor is the real-sensor backend: it reads NMEA 0183 sentences from a
// GPS receiver and turns RMC/GGA into location events and HDT into heading
// events. The stream is read from the first start until Close; events are
// only delivered while updates are enabled.
type NMEASensor struct {
	mu     sync.Mutex
	src    io.ReadCloser
	clock  Clock
	logger *slog.Logger
	config Config

	delegate        DelegateRef
	updatingLoc     bool
	updatingHeading bool
	reading         bool
	closed          bool
	gen             uint64

	parse       nmeaState
	last        *PositionSample
	anchor      *PositionSample
	lastHeading *HeadingSample
	regions     *regionSet
	done        chan struct{}

	deliverMu sync.Mutex
}

// NewNMEASensor creates a sensor reading from src.
func NewNMEASensor(src io.ReadCloser, opts ...Option) (*NMEASensor, error) {
	if src == nil {
		return nil, ErrNilSource
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.config.Validate(); err != nil {
		return nil, err
	}
	return &NMEASensor{
		src:     src,
		clock:   o.clock,
		logger:  o.logger.With("component", "sensor"),
		config:  o.config,
		regions: newRegionSet(),
		done:    make(chan struct{}),
	}, nil
}

// SetDelegate registers the receiver of events.
func (n *NMEASensor) SetDelegate(ref DelegateRef) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.delegate = ref
}

// Delegate returns the registered delegate, or nil.
func (n *NMEASensor) Delegate() Delegate {
	n.mu.Lock()
	ref := n.delegate
	n.mu.Unlock()
	return ref.Resolve()
}

// StartUpdatingLocation enables location events.
func (n *NMEASensor) StartUpdatingLocation() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.updatingLoc = true
	n.startReadingLocked()
}

// StopUpdatingLocation disables location events. No location callback begins
// after it returns.
func (n *NMEASensor) StopUpdatingLocation() {
	n.stopLocation()
	n.deliverMu.Lock()
	defer n.deliverMu.Unlock()
}

func (n *NMEASensor) stopLocation() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.updatingLoc = false
	n.gen++
}

// StartUpdatingHeading enables heading events.
func (n *NMEASensor) StartUpdatingHeading() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.updatingHeading = true
	n.startReadingLocked()
}

// StopUpdatingHeading disables heading events.
func (n *NMEASensor) StopUpdatingHeading() {
	n.mu.Lock()
	n.updatingHeading = false
	n.gen++
	n.mu.Unlock()
	n.deliverMu.Lock()
	defer n.deliverMu.Unlock()
}

func (n *NMEASensor) startReadingLocked() {
	if n.reading || n.closed {
		return
	}
	n.reading = true
	go n.read()
}

// Location returns the most recent fix.
func (n *NMEASensor) Location() (PositionSample, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.last == nil {
		return PositionSample{}, false
	}
	return *n.last, true
}

// Heading returns the most recent heading.
func (n *NMEASensor) Heading() (HeadingSample, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.lastHeading == nil {
		return HeadingSample{}, false
	}
	return *n.lastHeading, true
}

// Config returns the current configuration.
func (n *NMEASensor) Config() Config {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.config
}

// UpdateConfig replaces the configuration.
func (n *NMEASensor) UpdateConfig(c Config) error {
	if err := c.Validate(); err != nil {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.config = c
	return nil
}

func (n *NMEASensor) modifyConfig(f func(*Config)) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := n.config
	f(&c)
	if err := c.Validate(); err != nil {
		return err
	}
	n.config = c
	return nil
}

// Close stops reading and closes the source.
func (n *NMEASensor) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	n.updatingLoc = false
	n.updatingHeading = false
	n.gen++
	reading := n.reading
	n.mu.Unlock()

	err := n.src.Close()
	if reading {
		<-n.done
	}
	return err
}

// read consumes the stream line by line until it ends or the sensor closes.
func (n *NMEASensor) read() {
	defer close(n.done)

	scanner := bufio.NewScanner(n.src)
	for scanner.Scan() {
		n.handleLine(scanner.Text())
	}

	n.mu.Lock()
	closed := n.closed
	n.mu.Unlock()
	if closed {
		return
	}

	err := scanner.Err()
	if err == nil {
		n.logger.Info("sensor stream ended")
		return
	}
	if errors.Is(err, os.ErrClosed) {
		return
	}
	n.logger.Error("sensor read failed", "error", err)
	n.reportError(fmt.Errorf("read sensor: %w", err))
}

func (n *NMEASensor) handleLine(line string) {
	sent, err := parseNMEASentence(line)
	if err != nil {
		n.logger.Debug("skipping sentence", "line", line, "error", err)
		return
	}

	n.deliverMu.Lock()
	defer n.deliverMu.Unlock()

	now := n.clock.Now()
	var ev tickEvent

	n.mu.Lock()
	gen := n.gen
	switch sent.Type {
	case "GGA":
		n.parse.applyGGA(sent.Fields)
	case "RMC":
		if s, ok := n.parse.applyRMC(sent.Fields, now); ok {
			n.last = &s
			if f := n.config.DistanceFilter; n.updatingLoc && !(f > 0 && n.anchor != nil && n.anchor.DistanceTo(s) < f) {
				n.anchor = &s
				ev.location = &s
				ev.entered, ev.exited = n.regions.update(s)
			}
		}
	case "HDT":
		if h, ok := n.parse.applyHDT(sent.Fields, now); ok {
			n.lastHeading = &h
			if n.updatingHeading {
				ev.heading = &h
			}
		}
	}
	var d Delegate
	if !ev.empty() {
		d = n.delegate.Resolve()
	}
	n.mu.Unlock()

	if d == nil {
		return
	}
	ctl := sensorControl{n: n}
	if ev.location != nil {
		d.OnLocationUpdate(ctl, *ev.location)
		if rd, ok := d.(RegionDelegate); ok {
			for _, r := range ev.exited {
				rd.OnExitRegion(ctl, r)
			}
			for _, r := range ev.entered {
				rd.OnEnterRegion(ctl, r)
			}
		}
	}
	if ev.heading != nil && n.current(gen) {
		d.OnHeadingUpdate(ctl, *ev.heading)
	}
}

func (n *NMEASensor) current(gen uint64) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.gen == gen && n.updatingHeading
}

func (n *NMEASensor) reportError(err error) {
	d := n.Delegate()
	if ed, ok := d.(ErrorDelegate); ok {
		n.deliverMu.Lock()
		defer n.deliverMu.Unlock()
		ed.OnError(sensorControl{n: n}, err)
	}
}

func (n *NMEASensor) monitor(r Region) { n.regions.add(r) }

func (n *NMEASensor) unmonitor(r Region) { n.regions.remove(r) }

func (n *NMEASensor) monitored() []Region { return n.regions.list() }

// sensorControl lets callbacks stop location updates. A real receiver cannot
// be disabled for good, so Kill only logs.
type sensorControl struct {
	n *NMEASensor
}

func (c sensorControl) Stop() { c.n.stopLocation() }

func (c sensorControl) Kill() {
	c.n.logger.Debug("kill ignored for a real sensor")
}

// idleTimeout bounds how long a serial read blocks so Close is noticed.
const idleTimeout = 500 * time.Millisecond

// SerialSource opens port for use with NewNMEASensor.
func SerialSource(port string, baudRate int) (io.ReadCloser, error) {
	p, err := OpenSerial(port, baudRate)
	if err != nil {
		return nil, err
	}
	if err := p.SetReadTimeout(idleTimeout); err != nil {
		p.Close()
		return nil, fmt.Errorf("set read timeout on %s: %w", port, err)
	}
	return &serialReader{Port: p}, nil
}

// serialReader turns go.bug.st/serial's zero-byte timeout reads into retries
// so bufio.Scanner does not mistake them for EOF.
type serialReader struct {
	serial.Port
	mu     sync.Mutex
	closed bool
}

func (r *serialReader) Read(p []byte) (int, error) {
	for {
		n, err := r.Port.Read(p)
		if n > 0 || err != nil {
			return n, err
		}
		r.mu.Lock()
		closed := r.closed
		r.mu.Unlock()
		if closed {
			return 0, io.EOF
		}
	}
}

func (r *serialReader) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return r.Port.Close()
}
