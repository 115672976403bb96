package location

import (
	"fmt"
	"math"
	"time"
)

// Config holds the caller-visible settings of a location manager.
type Config struct {
	SecondLength    float64 // wall-clock seconds per simulated second (simulation only)
	DistanceFilter  float64 // minimum meters between emitted fixes, DistanceFilterNone to disable
	DesiredAccuracy float64 // hint only, see the Accuracy* constants
	ActivityType    ActivityType
	// Pass-through flags with no simulation-specific behavior.
	PausesLocationUpdatesAutomatically bool
	AllowsBackgroundLocationUpdates    bool
	// PaceByTimestamps spaces ticks by the recorded time between samples
	// instead of one sample per SecondLength.
	PaceByTimestamps bool
	// Authorization is the status the simulated backend reports.
	Authorization AuthorizationStatus
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() Config {
	return Config{
		SecondLength:                       1.0,
		DistanceFilter:                     DistanceFilterNone,
		DesiredAccuracy:                    AccuracyBest,
		ActivityType:                       ActivityOther,
		PausesLocationUpdatesAutomatically: true,
		AllowsBackgroundLocationUpdates:    false,
		PaceByTimestamps:                   false,
		Authorization:                      AuthorizedAlways,
	}
}

// Validate checks if the configuration is valid and returns an error if not
func (c *Config) Validate() error {
	return validSecondLength(c.SecondLength)
}

// maxSecondLength is the largest second length whose tick still fits in a
// time.Duration.
var maxSecondLength = float64(math.MaxInt64) / float64(time.Second)

func validSecondLength(v float64) error {
	if math.IsNaN(v) || v <= 0 || v >= maxSecondLength {
		return fmt.Errorf("second length %v: %w", v, ErrInvalidSecondLength)
	}
	return nil
}
