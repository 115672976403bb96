package location

import "log/slog"

type options struct {
	clock  Clock
	logger *slog.Logger
	config Config
}

func defaultOptions() options {
	return options{
		clock:  SystemClock{},
		logger: slog.Default(),
		config: DefaultConfig(),
	}
}

// Option configures a Manager or Simulator.
type Option func(*options)

// WithClock schedules ticks on c instead of the wall clock.
func WithClock(c Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithLogger sets the logger used for lifecycle messages.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithConfig replaces the default configuration.
func WithConfig(c Config) Option {
	return func(o *options) {
		o.config = c
	}
}
