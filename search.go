package rango

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/rango/launch"
	"github.com/hupe1980/rango/validate"
)

// Dispatch runs the launch protocol for one batch and blocks until the
// device has synchronized. Valid from StateBindingTableReady, and again
// from StateResultsReady to drive further batches. The rows stay on the
// device until Results.
func (e *Engine) Dispatch(ctx context.Context, batch int) error {
	if e.state == StateDestroyed {
		return ErrDestroyed
	}
	if e.state != StateBindingTableReady && e.state != StateResultsReady {
		return &StateError{Op: "dispatch", State: e.state, Want: StateBindingTableReady}
	}

	if batch < 0 || batch >= e.store.Batches() {
		return fmt.Errorf("dispatch: batch %d outside [0, %d)", batch, e.store.Batches())
	}

	if e.launcher == nil {
		l, err := launch.NewLauncher(e.dev, e.pl, e.tbl, launch.Config{
			K:        e.k,
			Radius:   e.radius,
			Epsilon:  e.opts.epsilon,
			NumPrims: e.store.NumPoints(),
		})
		if err != nil {
			return translateError(err)
		}
		e.launcher = l
	}

	start := time.Now()
	err := e.launcher.Launch(ctx, batch, e.store.Mirror(batch), e.structures[batch])
	elapsed := time.Since(start)

	e.metrics.RecordDispatch(batch, elapsed, err)
	e.logger.LogDispatch(ctx, batch, e.store.NumPoints(), elapsed, err)
	if err != nil {
		return translateError(err)
	}

	e.state = StateDispatched
	return nil
}

// Results copies the last dispatch's neighbor rows from the device to the
// host and moves to StateResultsReady.
func (e *Engine) Results(ctx context.Context) (*launch.Result, error) {
	if err := e.require("readback", StateDispatched); err != nil {
		return nil, err
	}

	start := time.Now()
	res, err := e.launcher.Readback(ctx)
	elapsed := time.Since(start)

	e.metrics.RecordReadback(elapsed, err)
	e.logger.LogReadback(ctx, e.launcher.OutputBytes(), elapsed, err)
	if err != nil {
		return nil, translateError(err)
	}

	e.state = StateResultsReady
	return res, nil
}

// Run dispatches one batch and reads its rows back in one call.
func (e *Engine) Run(ctx context.Context, batch int) (*launch.Result, error) {
	if err := e.Dispatch(ctx, batch); err != nil {
		return nil, err
	}

	return e.Results(ctx)
}

// Validate recomputes every reported neighbor's distance for one batch's
// rows and totals the out-of-radius ids. It does not mutate results or the
// engine state; it is the acceptance check, not a runtime safety net.
func (e *Engine) Validate(ctx context.Context, res *launch.Result) (validate.Summary, error) {
	if e.state == StateDestroyed {
		return validate.Summary{}, ErrDestroyed
	}
	if e.store == nil {
		return validate.Summary{}, &StateError{Op: "validate", State: e.state, Want: StateResultsReady}
	}

	sum, err := validate.New(e.store.Batch(res.BatchID), e.radius).Check(res)
	e.logger.LogValidate(ctx, sum.TotalNeighbors, sum.WrongNeighbors, err)
	if err != nil {
		return validate.Summary{}, err
	}

	return sum, nil
}
