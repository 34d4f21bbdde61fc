package rango

import (
	"errors"
	"fmt"

	"github.com/hupe1980/rango/device"
	"github.com/hupe1980/rango/pointcloud"
)

var (
	// ErrInvalidK is returned when k is not positive.
	ErrInvalidK = errors.New("k must be positive")

	// ErrInvalidRadius is returned when the search radius is negative.
	ErrInvalidRadius = errors.New("radius must not be negative")

	// ErrDestroyed is returned for operations on a destroyed engine.
	ErrDestroyed = errors.New("engine destroyed")
)

// StateError indicates an operation invoked out of lifecycle order. This is
// a programming error on the caller's side, not a recoverable runtime
// condition.
type StateError struct {
	Op    string
	State State
	Want  State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s requires state %s, engine is %s", e.Op, e.Want, e.State)
}

// DriverError indicates a failed device-boundary operation: a build,
// compile, link, allocate, copy or dispatch step. Op names the failing
// operation; the underlying status can be accessed via errors.Unwrap.
type DriverError struct {
	Op     string
	Status error
}

func (e *DriverError) Error() string {
	return fmt.Sprintf("driver: %s: %v", e.Op, e.Status)
}

func (e *DriverError) Unwrap() error { return e.Status }

// ErrInvalidDimension indicates an input dimensionality outside the
// supported bound.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrInvalidDimension struct {
	Dimension int
	cause     error
}

func (e *ErrInvalidDimension) Error() string {
	return fmt.Sprintf("invalid dimension: %d", e.Dimension)
}

func (e *ErrInvalidDimension) Unwrap() error { return e.cause }

// ErrBadInput indicates a malformed point-cloud row.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrBadInput struct {
	Line  int
	cause error
}

func (e *ErrBadInput) Error() string {
	return fmt.Sprintf("bad input row %d", e.Line)
}

func (e *ErrBadInput) Unwrap() error { return e.cause }

func translateError(err error) error {
	if err == nil {
		return nil
	}

	// Device-boundary failures become the public driver taxonomy.
	var fault *device.Fault
	if errors.As(err, &fault) {
		return &DriverError{Op: fault.Op, Status: err}
	}

	// Input normalization.
	var de *pointcloud.DimensionError
	if errors.As(err, &de) {
		return &ErrInvalidDimension{Dimension: de.Dim, cause: err}
	}
	var re *pointcloud.RowError
	if errors.As(err, &re) {
		return &ErrBadInput{Line: re.Line, cause: err}
	}

	return err
}
