package feather

import (
	"log/slog"
	"time"
)

// DefaultDimension is the dimension of the eagerly-created "text" modality
// when a store opens without persisted indices and no override is given.
const DefaultDimension = 768

type options struct {
	defaultDimension int
	logger           *Logger
	metricsCollector MetricsCollector
	clock            func() time.Time
	randomSeed       *int64
}

// Option configures Open behavior.
type Option func(*options)

// WithDefaultDimension sets the dimension of the default "text" modality
// created when the store opens empty.
func WithDefaultDimension(dim int) Option {
	return func(o *options) {
		o.defaultDimension = dim
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithMetricsCollector configures a metrics collector for monitoring operations.
// Pass nil to disable metrics collection.
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithClock injects the time source used for recall stamping and temporal
// decay. Defaults to time.Now. Primarily useful in tests.
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithRandomSeed pins the layer-assignment RNG of every modality index,
// making graph construction deterministic.
func WithRandomSeed(seed int64) Option {
	return func(o *options) {
		s := seed
		o.randomSeed = &s
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		defaultDimension: DefaultDimension,
		logger:           NoopLogger(),
		metricsCollector: NoopMetricsCollector{},
		clock:            time.Now,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
