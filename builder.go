// Package rango provides radius-bounded range search over point clouds.
//
// This file implements the fluent builder API for creating and configuring
// engines. The builder is immutable - each method returns a new builder with
// the updated configuration.
package rango

import (
	"log/slog"

	"github.com/hupe1980/rango/resource"
	"github.com/hupe1980/rango/snapshot"
)

// EngineBuilder is an immutable fluent builder for Engine construction.
// Each method returns a copy with the updated configuration, so partial
// builders can be shared safely.
//
// Example:
//
//	e, err := rango.Search(1.5).
//	    KNN(50).
//	    Device(0).
//	    Epsilon(1e-4).
//	    TextLogger(slog.LevelInfo).
//	    Build()
type EngineBuilder struct {
	radius float32
	k      int
	optFns []Option
}

// Search creates a new engine builder for the given search radius.
// The neighbor capacity defaults to DefaultKNN.
func Search(radius float32) *EngineBuilder {
	return &EngineBuilder{
		radius: radius,
		k:      DefaultKNN,
	}
}

// DefaultKNN is the per-query neighbor capacity used when none is
// configured.
const DefaultKNN = 50

// DefaultRadius is the search radius the CLI falls back to.
const DefaultRadius = 2.0

func (b *EngineBuilder) with(fn Option) *EngineBuilder {
	nb := *b
	nb.optFns = append(append([]Option(nil), b.optFns...), fn)
	return &nb
}

// KNN sets the per-query neighbor capacity.
func (b *EngineBuilder) KNN(k int) *EngineBuilder {
	nb := *b
	nb.k = k
	return &nb
}

// Device selects the device index from the enumerated registry.
func (b *EngineBuilder) Device(index int) *EngineBuilder {
	return b.with(WithDeviceIndex(index))
}

// Lanes overrides the device's lane count.
func (b *EngineBuilder) Lanes(lanes int) *EngineBuilder {
	return b.with(WithLanes(lanes))
}

// Resources bounds device memory, concurrent builds and copy throughput.
func (b *EngineBuilder) Resources(cfg resource.Config) *EngineBuilder {
	return b.with(WithResources(cfg))
}

// Epsilon sets the probe admission slack.
func (b *EngineBuilder) Epsilon(epsilon float32) *EngineBuilder {
	return b.with(WithEpsilon(epsilon))
}

// MaxTrace sets the link-time continuation budget.
func (b *EngineBuilder) MaxTrace(maxTrace int) *EngineBuilder {
	return b.with(WithMaxTrace(maxTrace))
}

// LeafSize caps the primitives per structure leaf.
func (b *EngineBuilder) LeafSize(leafSize int) *EngineBuilder {
	return b.with(WithLeafSize(leafSize))
}

// SnapshotOptions configures snapshot encoding and compression.
func (b *EngineBuilder) SnapshotOptions(optFns ...func(*snapshot.Options)) *EngineBuilder {
	return b.with(WithSnapshotOptions(optFns...))
}

// Logger configures structured logging.
func (b *EngineBuilder) Logger(logger *Logger) *EngineBuilder {
	return b.with(WithLogger(logger))
}

// TextLogger configures a text logger at the given level.
func (b *EngineBuilder) TextLogger(level slog.Level) *EngineBuilder {
	return b.with(WithLogLevel(level))
}

// Metrics configures a metrics collector.
func (b *EngineBuilder) Metrics(mc MetricsCollector) *EngineBuilder {
	return b.with(WithMetricsCollector(mc))
}

// Build constructs the engine, opening the device context.
func (b *EngineBuilder) Build() (*Engine, error) {
	return New(b.radius, b.k, b.optFns...)
}

// MustBuild is like Build but panics on error. Use in tests and examples
// where construction cannot fail.
func (b *EngineBuilder) MustBuild() *Engine {
	e, err := b.Build()
	if err != nil {
		panic(err)
	}
	return e
}
