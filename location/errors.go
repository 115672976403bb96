package location

import (
	"errors"
	"fmt"
)

// Common errors returned by the location package
var (
	ErrParse               = errors.New("malformed track")
	ErrModeViolation       = errors.New("operation not valid for this manager mode")
	ErrInvalidSecondLength = errors.New("second length must be positive")
	ErrInvalidLatitude     = errors.New("latitude must be between -90 and 90 degrees")
	ErrInvalidLongitude    = errors.New("longitude must be between -180 and 180 degrees")
	ErrInvalidBaudRate     = errors.New("baud rate must be positive")
	ErrNilSource           = errors.New("sensor source is nil")
)

// ParseError reports a track source that could not be read or does not
// follow the track grammar.
type ParseError struct {
	Source string // file name, or "<bytes>" for in-memory input
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	msg := fmt.Sprintf("parse %s: %s", e.Source, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ParseError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrParse) hold for every *ParseError.
func (e *ParseError) Is(target error) bool { return target == ErrParse }

// ModeViolationError reports a simulation-only operation invoked on a manager
// constructed in a different mode. It indicates caller misuse rather than an
// environmental failure.
type ModeViolationError struct {
	Op   string
	Mode Mode
}

func (e *ModeViolationError) Error() string {
	return fmt.Sprintf("%s: manager mode is %s", e.Op, e.Mode)
}

func (e *ModeViolationError) Is(target error) bool { return target == ErrModeViolation }
