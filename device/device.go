// Package device emulates the compute device the query pipeline dispatches
// to: an enumerable device registry, typed buffers carved from an accounted
// memory pool, throttled host/device copies, a constant slot for launch
// parameters, and a lane pool that executes wide dispatches.
//
// The emulation keeps the dispatch protocol of a hardware queue: allocate,
// upload, dispatch a width, synchronize, read back. Lanes are goroutines and
// device memory is host memory, but the accounting and ordering rules are
// enforced as if they were not.
package device

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"

	"github.com/hupe1980/rango/resource"
)

var (
	// ErrNoSuchDevice is returned when the selected device index is not in
	// the enumerated registry.
	ErrNoSuchDevice = errors.New("device: no such device")

	// ErrClosed is returned for operations on a closed device.
	ErrClosed = errors.New("device: closed")

	// ErrOutOfMemory is returned when an allocation does not fit the pool.
	ErrOutOfMemory = errors.New("device: out of memory")

	// ErrMapped is returned when a buffer is mapped twice without an
	// intervening unmap.
	ErrMapped = errors.New("device: buffer already mapped")

	// ErrNotMapped is returned when unmapping a buffer that is not mapped.
	ErrNotMapped = errors.New("device: buffer not mapped")
)

// Fault is the uniform error for a failed device-boundary operation. Every
// build, allocate, copy, dispatch or synchronize failure is reported as a
// Fault carrying the operation's name and underlying status.
type Fault struct {
	Op     string
	Status error
}

// Error implements the error interface.
func (f *Fault) Error() string {
	return fmt.Sprintf("device: %s: %v", f.Op, f.Status)
}

// Unwrap returns the underlying status.
func (f *Fault) Unwrap() error {
	return f.Status
}

// NewFault wraps status as a Fault for the named operation.
func NewFault(op string, status error) *Fault {
	return &Fault{Op: op, Status: status}
}

// Info describes one enumerable device.
type Info struct {
	Index       int
	Name        string
	Lanes       int
	MemoryBytes int64 // 0 means unbounded
}

// Enumerate lists the devices visible to this process. The emulation backs
// every entry with host lanes; there is exactly one.
func Enumerate() []Info {
	return []Info{
		{
			Index: 0,
			Name:  "host-cpu",
			Lanes: runtime.GOMAXPROCS(0),
		},
	}
}

// Config selects and sizes a device.
type Config struct {
	// Index picks a device from Enumerate.
	Index int

	// Lanes overrides the device's lane count. 0 keeps the default.
	Lanes int

	// Resources bounds the device memory pool, concurrent structure builds
	// and copy throughput.
	Resources resource.Config
}

// Device is an open emulated device.
type Device struct {
	info   Info
	rc     *resource.Controller
	pool   *lanePool
	params atomic.Value
	closed atomic.Bool
}

// Open selects the device at cfg.Index and brings up its lane pool.
func Open(cfg Config) (*Device, error) {
	devices := Enumerate()
	if cfg.Index < 0 || cfg.Index >= len(devices) {
		return nil, NewFault("open", fmt.Errorf("%w: index %d, %d visible", ErrNoSuchDevice, cfg.Index, len(devices)))
	}

	info := devices[cfg.Index]
	if cfg.Lanes > 0 {
		info.Lanes = cfg.Lanes
	}
	info.MemoryBytes = cfg.Resources.DeviceMemoryBytes

	return &Device{
		info: info,
		rc:   resource.NewController(cfg.Resources),
		pool: newLanePool(info.Lanes),
	}, nil
}

// Info returns the device's descriptor.
func (d *Device) Info() Info {
	return d.info
}

// Resources returns the device's resource controller.
func (d *Device) Resources() *resource.Controller {
	return d.rc
}

// paramsBlockBytes is the nominal copy cost of one launch-parameter upload.
const paramsBlockBytes = 64

// UploadParams copies a launch-parameter block into the device's constant
// slot, replacing the previous block. Kernels read it through Params.
func (d *Device) UploadParams(ctx context.Context, p any) error {
	if d.closed.Load() {
		return NewFault("params upload", ErrClosed)
	}
	if err := d.rc.AcquireCopy(ctx, paramsBlockBytes); err != nil {
		return NewFault("params upload", err)
	}
	d.params.Store(p)
	return nil
}

// Params returns the most recently uploaded parameter block, or nil.
func (d *Device) Params() any {
	return d.params.Load()
}

// Close tears down the lane pool. Buffers are released by their owners; a
// closed device rejects further uploads and dispatches.
func (d *Device) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	d.pool.Close()
	return nil
}
