package device

import (
	"context"
	"fmt"
	"sync/atomic"
	"unsafe"
)

// Buffer is a typed allocation carved from a device's memory pool.
//
// The host side of the protocol goes through Map/Unmap and Upload/Readback;
// dispatch kernels write through views handed to them by the launcher. A
// buffer has exactly one host owner at a time, which is what Map enforces.
type Buffer[T any] struct {
	dev    *Device
	data   []T
	bytes  int64
	mapped atomic.Bool
	freed  atomic.Bool
}

// Alloc reserves a buffer of count elements. A pool that cannot fit the
// reservation fails the allocation rather than waiting for space.
func Alloc[T any](d *Device, count int) (*Buffer[T], error) {
	if d.closed.Load() {
		return nil, NewFault("buffer alloc", ErrClosed)
	}
	if count < 0 {
		return nil, NewFault("buffer alloc", fmt.Errorf("negative count %d", count))
	}

	var zero T
	bytes := int64(unsafe.Sizeof(zero)) * int64(count)
	if !d.rc.TryAcquireDeviceMemory(bytes) {
		return nil, NewFault("buffer alloc", fmt.Errorf("%w: %d bytes", ErrOutOfMemory, bytes))
	}

	return &Buffer[T]{
		dev:   d,
		data:  make([]T, count),
		bytes: bytes,
	}, nil
}

// Len returns the element count.
func (b *Buffer[T]) Len() int {
	return len(b.data)
}

// SizeBytes returns the accounted size of the buffer.
func (b *Buffer[T]) SizeBytes() int64 {
	return b.bytes
}

// Upload copies src into the buffer, drawing the copy from the device's
// throughput budget.
func (b *Buffer[T]) Upload(ctx context.Context, src []T) error {
	if len(src) > len(b.data) {
		return NewFault("host to device copy", fmt.Errorf("copy of %d elements into buffer of %d", len(src), len(b.data)))
	}
	if err := b.dev.rc.AcquireCopy(ctx, int(b.elemBytes())*len(src)); err != nil {
		return NewFault("host to device copy", err)
	}
	copy(b.data, src)
	return nil
}

// Readback copies the buffer contents into a fresh host slice.
func (b *Buffer[T]) Readback(ctx context.Context) ([]T, error) {
	if err := b.dev.rc.AcquireCopy(ctx, int(b.bytes)); err != nil {
		return nil, NewFault("device to host copy", err)
	}
	out := make([]T, len(b.data))
	copy(out, b.data)
	return out, nil
}

// View returns the device-side view of the buffer, the memory kernels
// address during a dispatch. Host code goes through Map, Upload and
// Readback instead; mixing the two sides outside the dispatch protocol is
// a data race by construction.
func (b *Buffer[T]) View() []T {
	return b.data
}

// Map gives the host exclusive access to the buffer contents. Mapping twice
// without an intervening Unmap is a protocol violation.
func (b *Buffer[T]) Map() ([]T, error) {
	if !b.mapped.CompareAndSwap(false, true) {
		return nil, NewFault("buffer map", ErrMapped)
	}
	return b.data, nil
}

// Unmap releases the host mapping.
func (b *Buffer[T]) Unmap() error {
	if !b.mapped.CompareAndSwap(true, false) {
		return NewFault("buffer unmap", ErrNotMapped)
	}
	return nil
}

// Free returns the buffer's bytes to the pool. Free is idempotent.
func (b *Buffer[T]) Free() {
	if b == nil || !b.freed.CompareAndSwap(false, true) {
		return
	}
	b.dev.rc.ReleaseDeviceMemory(b.bytes)
	b.data = nil
}

func (b *Buffer[T]) elemBytes() int64 {
	var zero T
	return int64(unsafe.Sizeof(zero))
}
