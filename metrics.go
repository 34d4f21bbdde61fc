package rango

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
type MetricsCollector interface {
	// RecordContextCreate is called after the device context is created.
	// duration is the time taken, err is nil if successful.
	RecordContextCreate(duration time.Duration, err error)

	// RecordGeometryBuild is called after the acceleration structures for
	// all batches are built. batches is the number of batches attempted.
	RecordGeometryBuild(batches int, duration time.Duration, err error)

	// RecordPipelineLink is called after the pipeline is linked.
	RecordPipelineLink(duration time.Duration, err error)

	// RecordBindingTable is called after the binding table is built.
	RecordBindingTable(duration time.Duration, err error)

	// RecordDispatch is called after each batch dispatch has synchronized.
	RecordDispatch(batch int, duration time.Duration, err error)

	// RecordReadback is called after each device-to-host result copy.
	RecordReadback(duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordContextCreate(time.Duration, error)      {}
func (NoopMetricsCollector) RecordGeometryBuild(int, time.Duration, error) {}
func (NoopMetricsCollector) RecordPipelineLink(time.Duration, error)       {}
func (NoopMetricsCollector) RecordBindingTable(time.Duration, error)       {}
func (NoopMetricsCollector) RecordDispatch(int, time.Duration, error)      {}
func (NoopMetricsCollector) RecordReadback(time.Duration, error)           {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	ContextNanos       atomic.Int64
	GeometryBuildCount atomic.Int64
	GeometryBuildNanos atomic.Int64
	GeometryErrors     atomic.Int64
	PipelineLinkNanos  atomic.Int64
	BindingTableNanos  atomic.Int64
	DispatchCount      atomic.Int64
	DispatchErrors     atomic.Int64
	DispatchTotalNanos atomic.Int64
	ReadbackCount      atomic.Int64
	ReadbackErrors     atomic.Int64
	ReadbackTotalNanos atomic.Int64
}

// RecordContextCreate implements MetricsCollector.
func (b *BasicMetricsCollector) RecordContextCreate(duration time.Duration, err error) {
	b.ContextNanos.Store(duration.Nanoseconds())
}

// RecordGeometryBuild implements MetricsCollector.
func (b *BasicMetricsCollector) RecordGeometryBuild(batches int, duration time.Duration, err error) {
	b.GeometryBuildCount.Add(int64(batches))
	b.GeometryBuildNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.GeometryErrors.Add(1)
	}
}

// RecordPipelineLink implements MetricsCollector.
func (b *BasicMetricsCollector) RecordPipelineLink(duration time.Duration, err error) {
	b.PipelineLinkNanos.Store(duration.Nanoseconds())
}

// RecordBindingTable implements MetricsCollector.
func (b *BasicMetricsCollector) RecordBindingTable(duration time.Duration, err error) {
	b.BindingTableNanos.Store(duration.Nanoseconds())
}

// RecordDispatch implements MetricsCollector.
func (b *BasicMetricsCollector) RecordDispatch(batch int, duration time.Duration, err error) {
	b.DispatchCount.Add(1)
	b.DispatchTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.DispatchErrors.Add(1)
	}
}

// RecordReadback implements MetricsCollector.
func (b *BasicMetricsCollector) RecordReadback(duration time.Duration, err error) {
	b.ReadbackCount.Add(1)
	b.ReadbackTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.ReadbackErrors.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		ContextNanos:       b.ContextNanos.Load(),
		GeometryBuildCount: b.GeometryBuildCount.Load(),
		GeometryBuildNanos: b.GeometryBuildNanos.Load(),
		GeometryErrors:     b.GeometryErrors.Load(),
		PipelineLinkNanos:  b.PipelineLinkNanos.Load(),
		BindingTableNanos:  b.BindingTableNanos.Load(),
		DispatchCount:      b.DispatchCount.Load(),
		DispatchErrors:     b.DispatchErrors.Load(),
		DispatchAvgNanos:   b.getAvgDispatchNanos(),
		ReadbackCount:      b.ReadbackCount.Load(),
		ReadbackErrors:     b.ReadbackErrors.Load(),
	}
}

func (b *BasicMetricsCollector) getAvgDispatchNanos() int64 {
	count := b.DispatchCount.Load()
	if count == 0 {
		return 0
	}
	return b.DispatchTotalNanos.Load() / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	ContextNanos       int64
	GeometryBuildCount int64
	GeometryBuildNanos int64
	GeometryErrors     int64
	PipelineLinkNanos  int64
	BindingTableNanos  int64
	DispatchCount      int64
	DispatchErrors     int64
	DispatchAvgNanos   int64
	ReadbackCount      int64
	ReadbackErrors     int64
}
