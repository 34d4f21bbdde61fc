package device

import (
	"context"
	"fmt"
	"sync"
)

// Kernel is the function one dispatch invocation executes. idx identifies
// the invocation within the launch width. A non-nil error is a device fault
// and poisons the whole launch.
type Kernel func(idx int) error

// Launch tracks one in-flight dispatch.
type Launch struct {
	wg      sync.WaitGroup
	errOnce sync.Once
	err     error
}

func (l *Launch) fail(err error) {
	l.errOnce.Do(func() {
		l.err = err
	})
}

// Synchronize blocks until every invocation of the dispatch has completed
// and returns the first fault raised, if any. A dispatch runs to completion
// once issued; there is no cancellation of in-flight device work.
func (l *Launch) Synchronize() error {
	l.wg.Wait()
	if l.err != nil {
		return NewFault("synchronize", l.err)
	}
	return nil
}

// Dispatch issues one parallel launch of the kernel across [0, width),
// spread over the device's lanes in contiguous spans. It returns as soon as
// the work is queued; Synchronize on the returned Launch blocks until the
// device is idle again. ctx governs queueing only, not in-flight work.
func (d *Device) Dispatch(ctx context.Context, width int, k Kernel) (*Launch, error) {
	if d.closed.Load() {
		return nil, NewFault("dispatch", ErrClosed)
	}
	if width <= 0 {
		return nil, NewFault("dispatch", fmt.Errorf("launch width %d", width))
	}

	// Oversubscribe the lanes so uneven kernels still balance.
	numSpans := d.info.Lanes * 4
	if numSpans > width {
		numSpans = width
	}
	spanSize := (width + numSpans - 1) / numSpans

	l := &Launch{}
	for start := 0; start < width; start += spanSize {
		end := min(start+spanSize, width)

		l.wg.Add(1)
		task := func() {
			defer l.wg.Done()
			for idx := start; idx < end; idx++ {
				if err := k(idx); err != nil {
					l.fail(err)
					return
				}
			}
		}

		if err := d.pool.Submit(ctx, task); err != nil {
			// The span never ran; settle its accounting and poison the
			// launch so stragglers from earlier spans are still joinable.
			l.wg.Done()
			l.fail(err)
			return nil, NewFault("dispatch", err)
		}
	}

	return l, nil
}
