package resource

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Config holds the limits of one emulated device.
type Config struct {
	// DeviceMemoryBytes is the size of the device memory pool. If 0, the
	// pool is unbounded and allocations are only tracked.
	DeviceMemoryBytes int64

	// MaxConcurrentBuilds is the number of acceleration-structure builds
	// allowed to run at once. If 0, defaults to 1.
	MaxConcurrentBuilds int64

	// CopyBytesPerSec throttles host to device and device to host copies.
	// If 0, copies run at full speed.
	CopyBytesPerSec int64
}

// Controller accounts for the resources of one emulated device: the memory
// pool buffers are carved from, the build concurrency slots, and the copy
// throughput budget.
type Controller struct {
	cfg Config

	memSem  *semaphore.Weighted // nil if unbounded
	memUsed atomic.Int64

	buildSem *semaphore.Weighted

	copyLimiter *rate.Limiter
}

// NewController creates a controller for the given limits.
func NewController(cfg Config) *Controller {
	if cfg.MaxConcurrentBuilds <= 0 {
		cfg.MaxConcurrentBuilds = 1
	}

	c := &Controller{
		cfg:      cfg,
		buildSem: semaphore.NewWeighted(cfg.MaxConcurrentBuilds),
	}

	if cfg.DeviceMemoryBytes > 0 {
		c.memSem = semaphore.NewWeighted(cfg.DeviceMemoryBytes)
	}

	if cfg.CopyBytesPerSec > 0 {
		c.copyLimiter = rate.NewLimiter(rate.Limit(cfg.CopyBytesPerSec), int(cfg.CopyBytesPerSec))
	}

	return c
}

// AcquireDeviceMemory reserves bytes from the pool, blocking until the
// reservation fits or ctx is canceled.
func (c *Controller) AcquireDeviceMemory(ctx context.Context, bytes int64) error {
	if c == nil || bytes <= 0 {
		return nil
	}

	if c.memSem != nil {
		if err := c.memSem.Acquire(ctx, bytes); err != nil {
			return err
		}
	}

	c.memUsed.Add(bytes)
	return nil
}

// TryAcquireDeviceMemory reserves bytes from the pool without blocking.
// Allocation paths use this form: a full pool is an allocation failure, not
// a wait.
func (c *Controller) TryAcquireDeviceMemory(bytes int64) bool {
	if c == nil || bytes <= 0 {
		return true
	}

	if c.memSem != nil {
		if !c.memSem.TryAcquire(bytes) {
			return false
		}
	}

	c.memUsed.Add(bytes)
	return true
}

// ReleaseDeviceMemory returns bytes to the pool.
func (c *Controller) ReleaseDeviceMemory(bytes int64) {
	if c == nil || bytes <= 0 {
		return
	}

	if c.memSem != nil {
		c.memSem.Release(bytes)
	}
	c.memUsed.Add(-bytes)
}

// DeviceMemoryInUse returns the currently reserved pool bytes.
func (c *Controller) DeviceMemoryInUse() int64 {
	return c.memUsed.Load()
}

// AcquireBuildSlot reserves one structure-build slot, blocking while all
// slots are busy.
func (c *Controller) AcquireBuildSlot(ctx context.Context) error {
	return c.buildSem.Acquire(ctx, 1)
}

// TryAcquireBuildSlot reserves a build slot without blocking.
func (c *Controller) TryAcquireBuildSlot() bool {
	return c.buildSem.TryAcquire(1)
}

// ReleaseBuildSlot releases a build slot.
func (c *Controller) ReleaseBuildSlot() {
	c.buildSem.Release(1)
}

// AcquireCopy waits until the copy budget admits the given number of bytes.
// Requests larger than one second's budget are drawn in burst-sized chunks.
func (c *Controller) AcquireCopy(ctx context.Context, bytes int) error {
	if c == nil || c.copyLimiter == nil {
		return nil
	}

	burst := c.copyLimiter.Burst()
	for bytes > 0 {
		n := bytes
		if n > burst {
			n = burst
		}
		if err := c.copyLimiter.WaitN(ctx, n); err != nil {
			return err
		}
		bytes -= n
	}

	return nil
}
