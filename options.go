package rango

import (
	"log/slog"

	"github.com/hupe1980/rango/resource"
	"github.com/hupe1980/rango/snapshot"
)

type options struct {
	deviceIndex      int
	lanes            int
	resources        resource.Config
	epsilon          float32
	maxTrace         int
	leafSize         int
	snapshotOptions  []func(*snapshot.Options)
	metricsCollector MetricsCollector
	logger           *Logger
}

// Option configures engine construction behavior.
type Option func(*options)

// WithDeviceIndex selects the device from the enumerated registry.
// Defaults to 0.
func WithDeviceIndex(index int) Option {
	return func(o *options) {
		o.deviceIndex = index
	}
}

// WithLanes overrides the selected device's lane count. 0 keeps the
// device default.
func WithLanes(lanes int) Option {
	return func(o *options) {
		o.lanes = lanes
	}
}

// WithResources bounds the device memory pool, concurrent structure builds
// and copy throughput.
func WithResources(cfg resource.Config) Option {
	return func(o *options) {
		o.resources = cfg
	}
}

// WithEpsilon sets the probe admission slack. 0 keeps the launcher default.
func WithEpsilon(epsilon float32) Option {
	return func(o *options) {
		o.epsilon = epsilon
	}
}

// WithMaxTrace sets the link-time continuation budget. 0 keeps the
// pipeline default.
func WithMaxTrace(maxTrace int) Option {
	return func(o *options) {
		o.maxTrace = maxTrace
	}
}

// WithLeafSize caps the primitives per structure leaf. 0 keeps the builder
// default.
func WithLeafSize(leafSize int) Option {
	return func(o *options) {
		o.leafSize = leafSize
	}
}

// WithSnapshotOptions configures how SaveSnapshot and RestoreGeometry
// encode and compress payloads.
func WithSnapshotOptions(optFns ...func(*snapshot.Options)) Option {
	return func(o *options) {
		o.snapshotOptions = optFns
	}
}

// WithMetricsCollector configures a metrics collector for monitoring
// operations. Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &rango.BasicMetricsCollector{}
//	e, _ := rango.New(2.0, 50, rango.WithMetricsCollector(metrics))
//	// ... use e ...
//	stats := metrics.GetStats()
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := rango.NewJSONLogger(slog.LevelInfo)
//	e, _ := rango.New(2.0, 50, rango.WithLogger(logger))
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

func applyOptions(optFns []Option) options {
	o := options{
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
