// Package logging builds the application's slog logger: human readable text
// on the console and, optionally, JSON lines in a rotating log file.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures Setup.
type Options struct {
	Level      string    // debug, info, warn or error
	File       string    // rotating JSON log file; empty disables it
	MaxSizeMB  int       // rotation size of File
	MaxBackups int       // rotated files kept
	Console    io.Writer // defaults to os.Stderr
	Quiet      bool      // no console output
}

// ParseLevel converts a level name to a slog.Level. Unknown names map to
// info.
func ParseLevel(level string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Setup creates the logger described by opts. The returned closer releases
// the log file and must be called on shutdown.
func Setup(opts Options) (*slog.Logger, io.Closer) {
	handlerOpts := &slog.HandlerOptions{
		Level: ParseLevel(opts.Level),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.UTC().Format(time.RFC3339Nano))
				}
			}
			return a
		},
	}

	var handlers []slog.Handler
	if !opts.Quiet {
		console := opts.Console
		if console == nil {
			console = os.Stderr
		}
		handlers = append(handlers, slog.NewTextHandler(console, handlerOpts))
	}

	var closer io.Closer = nopCloser{}
	if opts.File != "" {
		w := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			Compress:   true,
		}
		handlers = append(handlers, slog.NewJSONHandler(w, handlerOpts))
		closer = w
	}

	logger := slog.New(NewMultiHandler(handlers...))
	logger.Debug("logging initialized", "level", opts.Level, "file", opts.File)
	return logger, closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
