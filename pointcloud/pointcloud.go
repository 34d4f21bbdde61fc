// Package pointcloud loads delimited point files and owns the per-batch
// host point arrays and their device mirrors.
//
// A cloud of dimensionality d is padded up to the next multiple of 3 and
// split into padded/3 independent 3-D projections, the batches. Every batch
// holds one Vec3 per input row; a point's identity is its row index.
package pointcloud

import (
	"context"
	"fmt"

	"github.com/hupe1980/rango/device"
	"github.com/hupe1980/rango/geom"
)

const (
	// Delimiter separates fields of an input row.
	Delimiter = ","

	// MaxDim bounds the padded dimensionality of an input cloud.
	MaxDim = 60
)

// RowError reports a malformed input row.
type RowError struct {
	Line int // 1-based line number
	Err  error
}

// Error implements the error interface.
func (e *RowError) Error() string {
	return fmt.Sprintf("pointcloud: row %d: %v", e.Line, e.Err)
}

// Unwrap returns the underlying cause.
func (e *RowError) Unwrap() error {
	return e.Err
}

// DimensionError reports a padded dimensionality outside (0, MaxDim].
type DimensionError struct {
	Dim int
}

// Error implements the error interface.
func (e *DimensionError) Error() string {
	return fmt.Sprintf("pointcloud: dimension %d outside (0, %d]", e.Dim, MaxDim)
}

// BatchStore holds a loaded point cloud: per batch, the host-resident point
// array and, after Upload, its device-resident mirror.
type BatchStore struct {
	rawDim    int
	paddedDim int
	numPoints int
	batches   [][]geom.Vec3
	mirrors   []*device.Buffer[geom.Vec3]
}

// FromBatches assembles a BatchStore from already-split projections, as when
// a snapshot restore brings batches back without re-reading the input file.
// Every batch must hold the same number of points.
func FromBatches(rawDim int, batches [][]geom.Vec3) (*BatchStore, error) {
	if len(batches) == 0 || len(batches[0]) == 0 {
		return nil, &DimensionError{Dim: 0}
	}

	paddedDim := len(batches) * 3
	if paddedDim > MaxDim {
		return nil, &DimensionError{Dim: paddedDim}
	}

	numPoints := len(batches[0])
	for i, b := range batches {
		if len(b) != numPoints {
			return nil, fmt.Errorf("pointcloud: batch %d holds %d points, batch 0 holds %d", i, len(b), numPoints)
		}
	}

	return &BatchStore{
		rawDim:    rawDim,
		paddedDim: paddedDim,
		numPoints: numPoints,
		batches:   batches,
	}, nil
}

// RawDim returns the field count of the first input row.
func (s *BatchStore) RawDim() int {
	return s.rawDim
}

// Dim returns the padded dimensionality.
func (s *BatchStore) Dim() int {
	return s.paddedDim
}

// Batches returns the number of 3-D projections.
func (s *BatchStore) Batches() int {
	return s.paddedDim / 3
}

// NumPoints returns the number of input rows.
func (s *BatchStore) NumPoints() int {
	return s.numPoints
}

// Batch returns the host point array of one projection.
func (s *BatchStore) Batch(i int) []geom.Vec3 {
	return s.batches[i]
}

// Upload mirrors every batch into device memory.
func (s *BatchStore) Upload(ctx context.Context, d *device.Device) error {
	if s.mirrors != nil {
		return fmt.Errorf("pointcloud: batches already uploaded")
	}

	mirrors := make([]*device.Buffer[geom.Vec3], 0, len(s.batches))
	for _, batch := range s.batches {
		buf, err := device.Alloc[geom.Vec3](d, len(batch))
		if err != nil {
			freeAll(mirrors)
			return err
		}
		if err := buf.Upload(ctx, batch); err != nil {
			buf.Free()
			freeAll(mirrors)
			return err
		}
		mirrors = append(mirrors, buf)
	}

	s.mirrors = mirrors
	return nil
}

// Mirror returns the device mirror of one batch, or nil before Upload.
func (s *BatchStore) Mirror(i int) *device.Buffer[geom.Vec3] {
	if s.mirrors == nil {
		return nil
	}
	return s.mirrors[i]
}

// Free releases all device mirrors. The host arrays stay valid.
func (s *BatchStore) Free() {
	freeAll(s.mirrors)
	s.mirrors = nil
}

func freeAll(bufs []*device.Buffer[geom.Vec3]) {
	for _, b := range bufs {
		b.Free()
	}
}
