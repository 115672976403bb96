// Package config loads gpx-location settings from defaults, an optional
// YAML or JSON file and GPXLOC_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/Bucknalla/go-gpx-location/location"
)

// EnvPrefix is the prefix of environment overrides, e.g.
// GPXLOC_PLAYBACK_SECONDLENGTH=0.5.
const EnvPrefix = "GPXLOC"

var (
	ErrNoSource        = errors.New("one of gpx file, locations file or sensor port is required")
	ErrMultipleSources = errors.New("only one of gpx file, locations file or sensor port may be set")
)

// Config is the complete application configuration.
type Config struct {
	GPXFile       string         `mapstructure:"gpxFile"`
	LocationsFile string         `mapstructure:"locationsFile"`
	Sensor        SensorConfig   `mapstructure:"sensor"`
	Playback      PlaybackConfig `mapstructure:"playback"`
	Output        OutputConfig   `mapstructure:"output"`
	HTTP          HTTPConfig     `mapstructure:"http"`
	Log           LogConfig      `mapstructure:"log"`
}

// SensorConfig selects a real GPS receiver as the location source.
type SensorConfig struct {
	Port     string `mapstructure:"port"`
	BaudRate int    `mapstructure:"baudRate"`
}

type PlaybackConfig struct {
	SecondLength     float64 `mapstructure:"secondLength"`
	DistanceFilter   float64 `mapstructure:"distanceFilter"`
	PaceByTimestamps bool    `mapstructure:"paceByTimestamps"`
	Heading          bool    `mapstructure:"heading"`
}

// OutputConfig controls where emitted fixes go.
type OutputConfig struct {
	SerialPort string `mapstructure:"serialPort"` // NMEA to a serial port instead of stdout
	BaudRate   int    `mapstructure:"baudRate"`
	RecordFile string `mapstructure:"recordFile"` // GPX recording of emitted fixes
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"` // empty disables the web server
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"maxSizeMB"`
	MaxBackups int    `mapstructure:"maxBackups"`
	Quiet      bool   `mapstructure:"quiet"` // no console logging, NMEA only
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("gpxFile", "")
	v.SetDefault("locationsFile", "")

	v.SetDefault("sensor.port", "")
	v.SetDefault("sensor.baudRate", 9600)

	v.SetDefault("playback.secondLength", 1.0)
	v.SetDefault("playback.distanceFilter", location.DistanceFilterNone)
	v.SetDefault("playback.paceByTimestamps", false)
	v.SetDefault("playback.heading", false)

	v.SetDefault("output.serialPort", "")
	v.SetDefault("output.baudRate", 9600)
	v.SetDefault("output.recordFile", "")

	v.SetDefault("http.addr", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.maxSizeMB", 32)
	v.SetDefault("log.maxBackups", 3)
	v.SetDefault("log.quiet", false)
}

// Load returns the defaults overlaid with the file at path, if path is not
// empty, and then with the environment. The result is not validated, so that
// command line flags can still be applied; call Validate afterwards.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("error decoding config: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	sources := 0
	for _, s := range []string{c.GPXFile, c.LocationsFile, c.Sensor.Port} {
		if s != "" {
			sources++
		}
	}
	switch {
	case sources == 0:
		return ErrNoSource
	case sources > 1:
		return ErrMultipleSources
	}

	lc := c.Location()
	if err := lc.Validate(); err != nil {
		return fmt.Errorf("playback.secondLength: %w", err)
	}
	if c.Sensor.Port != "" && c.Sensor.BaudRate <= 0 {
		return fmt.Errorf("sensor.baudRate %d: %w", c.Sensor.BaudRate, location.ErrInvalidBaudRate)
	}
	if c.Output.SerialPort != "" && c.Output.BaudRate <= 0 {
		return fmt.Errorf("output.baudRate %d: %w", c.Output.BaudRate, location.ErrInvalidBaudRate)
	}
	return nil
}

// Location returns the settings passed to the location manager.
func (c *Config) Location() location.Config {
	lc := location.DefaultConfig()
	lc.SecondLength = c.Playback.SecondLength
	lc.DistanceFilter = c.Playback.DistanceFilter
	lc.PaceByTimestamps = c.Playback.PaceByTimestamps
	return lc
}
