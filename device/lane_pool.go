package device

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
)

// lanePool is the fixed pool of goroutines backing a device's lanes. Reusing
// lanes across dispatches avoids spawning thousands of goroutines per run
// when many batches are launched back to back.
type lanePool struct {
	numLanes int
	workCh   chan func()
	stopCh   chan struct{}
	wg       sync.WaitGroup
	closed   atomic.Bool
	submitMu sync.RWMutex
}

func newLanePool(numLanes int) *lanePool {
	if numLanes <= 0 {
		numLanes = runtime.GOMAXPROCS(0)
	}

	lp := &lanePool{
		numLanes: numLanes,
		workCh:   make(chan func(), numLanes*2),
		stopCh:   make(chan struct{}),
	}

	lp.wg.Add(numLanes)
	for i := 0; i < numLanes; i++ {
		go lp.lane()
	}

	return lp
}

func (lp *lanePool) lane() {
	defer lp.wg.Done()

	for {
		select {
		case <-lp.stopCh:
			// Drain remaining work before exiting
			for {
				select {
				case task, ok := <-lp.workCh:
					if !ok {
						return
					}
					task()
				default:
					return
				}
			}
		case task, ok := <-lp.workCh:
			if !ok {
				return
			}
			task()
		}
	}
}

// Submit enqueues one task, blocking for backpressure. It fails when the
// pool is closed or ctx is canceled before the task is accepted.
func (lp *lanePool) Submit(ctx context.Context, task func()) error {
	lp.submitMu.RLock()
	defer lp.submitMu.RUnlock()

	if lp.closed.Load() {
		return ErrClosed
	}

	select {
	case lp.workCh <- task:
		return nil
	case <-lp.stopCh:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close shuts the pool down and waits for the lanes to drain.
func (lp *lanePool) Close() {
	if !lp.closed.CompareAndSwap(false, true) {
		return
	}

	lp.submitMu.Lock()
	close(lp.stopCh)
	close(lp.workCh)
	lp.submitMu.Unlock()

	lp.wg.Wait()
}
