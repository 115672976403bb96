package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Bucknalla/go-gpx-location/internal/config"
	"github.com/Bucknalla/go-gpx-location/internal/logging"
	"github.com/Bucknalla/go-gpx-location/location"
	"github.com/Bucknalla/go-gpx-location/web"
)

// Version information - populated at build time via ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// pollInterval is how often a finite playback is checked for completion.
const pollInterval = 50 * time.Millisecond

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "gpx-location: %v\n", err)
		os.Exit(1)
	}
}

// cliFlags holds the parsed command line. Settings flags are applied on top
// of the loaded configuration only when given explicitly.
type cliFlags struct {
	configFile  string
	showVersion bool
	duration    time.Duration

	fs  *flag.FlagSet
	cfg config.Config
}

func parseFlags(args []string, stderr io.Writer) (*cliFlags, error) {
	f := &cliFlags{fs: flag.NewFlagSet("gpx-location", flag.ContinueOnError)}
	fs := f.fs
	fs.SetOutput(stderr)

	c := &f.cfg
	fs.StringVar(&f.configFile, "config", "", "Configuration file (YAML or JSON)")
	fs.BoolVar(&f.showVersion, "version", false, "Show version information and exit")
	fs.DurationVar(&f.duration, "duration", 0, "How long to run (e.g. 30s, 5m). Default is until the track ends or a signal")

	fs.StringVar(&c.GPXFile, "gpx", "", "GPX file to play back")
	fs.StringVar(&c.LocationsFile, "locations", "", "YAML or JSON list of locations to play back")
	fs.StringVar(&c.Sensor.Port, "sensor", "", "Serial port of a real GPS receiver (e.g. /dev/ttyUSB0)")
	fs.IntVar(&c.Sensor.BaudRate, "sensor-baud", 9600, "Baud rate of the GPS receiver")

	fs.Float64Var(&c.Playback.SecondLength, "second-length", 1.0, "Seconds between emitted locations (0.5 = twice as fast)")
	fs.Float64Var(&c.Playback.DistanceFilter, "distance-filter", location.DistanceFilterNone, "Minimum metres between emitted locations (-1 disables)")
	fs.BoolVar(&c.Playback.PaceByTimestamps, "pace-timestamps", false, "Space locations by their recorded timestamps")
	fs.BoolVar(&c.Playback.Heading, "heading", false, "Emit heading updates")

	fs.StringVar(&c.Output.SerialPort, "serial", "", "Serial port for NMEA output instead of stdout (e.g. /dev/ttyUSB0, COM1)")
	fs.IntVar(&c.Output.BaudRate, "baud", 9600, "Serial output baud rate")
	fs.StringVar(&c.Output.RecordFile, "record", "", "Record emitted locations to this GPX file")
	fs.StringVar(&c.HTTP.Addr, "http", "", "Serve the control API on this address (e.g. :8080)")

	fs.StringVar(&c.Log.Level, "log-level", "info", "Log level (debug, info, warn, error)")
	fs.StringVar(&c.Log.File, "log-file", "", "Also write JSON logs to this rotated file")
	fs.BoolVar(&c.Log.Quiet, "quiet", false, "Suppress console logging (only output NMEA data)")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: gpx-location [options]\n")
		fmt.Fprintf(stderr, "\nGPX location playback\n")
		fmt.Fprintf(stderr, "Plays back a recorded track, or relays a real receiver, as a stream of location fixes.\n\n")
		fmt.Fprintf(stderr, "Options:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return f, nil
}

// apply copies the explicitly set flags onto cfg.
func (f *cliFlags) apply(cfg *config.Config) {
	f.fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "gpx":
			cfg.GPXFile = f.cfg.GPXFile
		case "locations":
			cfg.LocationsFile = f.cfg.LocationsFile
		case "sensor":
			cfg.Sensor.Port = f.cfg.Sensor.Port
		case "sensor-baud":
			cfg.Sensor.BaudRate = f.cfg.Sensor.BaudRate
		case "second-length":
			cfg.Playback.SecondLength = f.cfg.Playback.SecondLength
		case "distance-filter":
			cfg.Playback.DistanceFilter = f.cfg.Playback.DistanceFilter
		case "pace-timestamps":
			cfg.Playback.PaceByTimestamps = f.cfg.Playback.PaceByTimestamps
		case "heading":
			cfg.Playback.Heading = f.cfg.Playback.Heading
		case "serial":
			cfg.Output.SerialPort = f.cfg.Output.SerialPort
		case "baud":
			cfg.Output.BaudRate = f.cfg.Output.BaudRate
		case "record":
			cfg.Output.RecordFile = f.cfg.Output.RecordFile
		case "http":
			cfg.HTTP.Addr = f.cfg.HTTP.Addr
		case "log-level":
			cfg.Log.Level = f.cfg.Log.Level
		case "log-file":
			cfg.Log.File = f.cfg.Log.File
		case "quiet":
			cfg.Log.Quiet = f.cfg.Log.Quiet
		}
	})
}

func versionString() string {
	if Version != "dev" {
		return "v" + Version
	}
	return Commit
}

// loadConfig merges the config file, the environment and the flags.
func loadConfig(f *cliFlags) (config.Config, error) {
	cfg, err := config.Load(f.configFile)
	if err != nil {
		return config.Config{}, err
	}
	f.apply(&cfg)
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// buildMode turns the configured source into a manager mode.
func buildMode(cfg config.Config) (location.Mode, error) {
	switch {
	case cfg.GPXFile != "":
		return location.GPXFile{Path: cfg.GPXFile}, nil
	case cfg.LocationsFile != "":
		samples, err := location.LoadSamplesFile(cfg.LocationsFile)
		if err != nil {
			return nil, err
		}
		return location.Locations{Samples: samples}, nil
	default:
		src, err := location.SerialSource(cfg.Sensor.Port, cfg.Sensor.BaudRate)
		if err != nil {
			return nil, err
		}
		return location.Sensor{Source: src, Name: cfg.Sensor.Port}, nil
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	f, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}
	if f.showVersion {
		fmt.Fprintln(stdout, versionString())
		return nil
	}

	cfg, err := loadConfig(f)
	if err != nil {
		return err
	}

	logger, logCloser := logging.Setup(logging.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		Console:    stderr,
		Quiet:      cfg.Log.Quiet,
	})
	defer logCloser.Close()
	slog.SetDefault(logger)
	logger.Debug("starting", "version", versionString(), "commit", Commit, "built", BuildDate)

	mode, err := buildMode(cfg)
	if err != nil {
		return err
	}

	m, err := location.NewManager(mode, location.WithLogger(logger), location.WithConfig(cfg.Location()))
	if err != nil {
		if s, ok := mode.(location.Sensor); ok {
			s.Source.Close()
		}
		return err
	}
	defer m.Close()

	// NMEA goes to the serial port if one is configured, stdout otherwise.
	out := stdout
	if cfg.Output.SerialPort != "" {
		port, err := location.OpenSerial(cfg.Output.SerialPort, cfg.Output.BaudRate)
		if err != nil {
			return err
		}
		defer port.Close()
		out = port
		logger.Info("opened serial port", "port", cfg.Output.SerialPort, "baud", cfg.Output.BaudRate)
	}
	nmea := location.NewNMEAWriter(out)
	nmea.RecordedTime = !m.Simulating()

	delegates := []location.Delegate{nmea}

	if cfg.Output.RecordFile != "" {
		rec, err := location.NewGPXWriter(cfg.Output.RecordFile)
		if err != nil {
			return err
		}
		defer func() {
			if err := rec.Close(); err != nil {
				logger.Error("error writing GPX file", "file", cfg.Output.RecordFile, "error", err)
				return
			}
			logger.Info("GPX track saved", "file", cfg.Output.RecordFile, "points", rec.Count())
		}()
		delegates = append(delegates, rec)
	}

	var server *web.Server
	if cfg.HTTP.Addr != "" {
		server = web.NewServer(m, logger)
		delegates = append(delegates, server)
	}
	m.SetDelegate(location.Strong(location.Fanout(delegates...)))

	logger.Info("starting location updates",
		"mode", m.Mode().String(),
		"second_length", m.SecondLength(),
		"distance_filter", m.DistanceFilter())
	if cfg.Playback.Heading {
		m.StartUpdatingHeading()
	}
	m.StartUpdatingLocation()

	if f.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.duration)
		defer cancel()
	}

	g, gctx := errgroup.WithContext(ctx)
	if server != nil {
		g.Go(func() error { return server.Run(gctx) })
		g.Go(func() error { return server.ListenAndServe(gctx, cfg.HTTP.Addr) })
	} else if sim, ok := m.Simulator(); ok {
		g.Go(func() error { return waitComplete(gctx, sim, logger) })
	} else {
		g.Go(func() error {
			<-gctx.Done()
			return nil
		})
	}
	err = g.Wait()

	m.StopUpdatingLocation()
	m.StopUpdatingHeading()
	if err != nil {
		return err
	}
	if err := nmea.Err(); err != nil {
		return fmt.Errorf("writing NMEA: %w", err)
	}
	logger.Info("stopped")
	return nil
}

// waitComplete returns once sim has played its whole track, has been killed
// or ctx is done.
func waitComplete(ctx context.Context, sim *location.Simulator, logger *slog.Logger) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			st := sim.Status()
			if st.Completed || st.State == location.StateKilled {
				logger.Info("playback finished", "emitted", st.Emitted, "suppressed", st.Suppressed)
				return nil
			}
		}
	}
}
