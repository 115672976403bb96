package config

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bucknalla/go-gpx-location/location"
)

func TestLoad_DefaultValues(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 1.0, cfg.Playback.SecondLength)
	assert.Equal(t, location.DistanceFilterNone, cfg.Playback.DistanceFilter)
	assert.False(t, cfg.Playback.PaceByTimestamps)
	assert.Equal(t, 9600, cfg.Sensor.BaudRate)
	assert.Equal(t, 9600, cfg.Output.BaudRate)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 32, cfg.Log.MaxSizeMB)
	assert.Empty(t, cfg.HTTP.Addr)
}

func TestLoad_WithValidConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gpx-location.yaml")
	data := `gpxFile: ride.gpx
playback:
  secondLength: 0.5
  distanceFilter: 25
  heading: true
output:
  serialPort: /dev/ttyUSB1
  baudRate: 4800
http:
  addr: ":8080"
log:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "ride.gpx", cfg.GPXFile)
	assert.Equal(t, 0.5, cfg.Playback.SecondLength)
	assert.Equal(t, 25.0, cfg.Playback.DistanceFilter)
	assert.True(t, cfg.Playback.Heading)
	assert.Equal(t, "/dev/ttyUSB1", cfg.Output.SerialPort)
	assert.Equal(t, 4800, cfg.Output.BaudRate)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 9600, cfg.Sensor.BaudRate, "unset keys keep their defaults")
	require.NoError(t, cfg.Validate())
}

func TestLoad_JSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gpx-location.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"locationsFile": "points.yaml", "playback": {"paceByTimestamps": true}}`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "points.yaml", cfg.LocationsFile)
	assert.True(t, cfg.Playback.PaceByTimestamps)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("GPXLOC_PLAYBACK_SECONDLENGTH", "0.25")
	t.Setenv("GPXLOC_SENSOR_PORT", "/dev/ttyACM0")
	t.Setenv("GPXLOC_LOG_LEVEL", "warn")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 0.25, cfg.Playback.SecondLength)
	assert.Equal(t, "/dev/ttyACM0", cfg.Sensor.Port)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/gpx-location.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error reading config file")
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		cfg, err := Load("")
		require.NoError(t, err)
		cfg.GPXFile = "track.gpx"
		return cfg
	}

	tests := []struct {
		name   string
		modify func(*Config)
		want   error
	}{
		{"valid", func(*Config) {}, nil},
		{"no source", func(c *Config) { c.GPXFile = "" }, ErrNoSource},
		{"two sources", func(c *Config) { c.Sensor.Port = "/dev/ttyUSB0" }, ErrMultipleSources},
		{"zero second length", func(c *Config) { c.Playback.SecondLength = 0 }, location.ErrInvalidSecondLength},
		{"infinite second length", func(c *Config) { c.Playback.SecondLength = math.Inf(1) }, location.ErrInvalidSecondLength},
		{"NaN second length", func(c *Config) { c.Playback.SecondLength = math.NaN() }, location.ErrInvalidSecondLength},
		{"bad output baud", func(c *Config) {
			c.Output.SerialPort = "/dev/ttyUSB0"
			c.Output.BaudRate = 0
		}, location.ErrInvalidBaudRate},
		{"bad sensor baud", func(c *Config) {
			c.GPXFile = ""
			c.Sensor.Port = "/dev/ttyUSB0"
			c.Sensor.BaudRate = -1
		}, location.ErrInvalidBaudRate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.modify(&cfg)
			err := cfg.Validate()
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestLocationConfig(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	cfg.Playback.SecondLength = 2
	cfg.Playback.DistanceFilter = 10
	cfg.Playback.PaceByTimestamps = true

	lc := cfg.Location()
	assert.Equal(t, 2.0, lc.SecondLength)
	assert.Equal(t, 10.0, lc.DistanceFilter)
	assert.True(t, lc.PaceByTimestamps)
	assert.Equal(t, location.AuthorizedAlways, lc.Authorization)
}
