package resource

import (
	"context"
	"io"
)

// ThrottledWriter wraps an io.Writer so writes draw from the controller's
// copy budget.
type ThrottledWriter struct {
	w   io.Writer
	rc  *Controller
	ctx context.Context
}

// NewThrottledWriter creates a ThrottledWriter.
func NewThrottledWriter(w io.Writer, rc *Controller, ctx context.Context) *ThrottledWriter {
	return &ThrottledWriter{
		w:   w,
		rc:  rc,
		ctx: ctx,
	}
}

func (w *ThrottledWriter) Write(p []byte) (n int, err error) {
	if err := w.rc.AcquireCopy(w.ctx, len(p)); err != nil {
		return 0, err
	}
	return w.w.Write(p)
}

// ThrottledReader wraps an io.Reader so reads draw from the controller's
// copy budget.
type ThrottledReader struct {
	r   io.Reader
	rc  *Controller
	ctx context.Context
}

// NewThrottledReader creates a ThrottledReader.
func NewThrottledReader(r io.Reader, rc *Controller, ctx context.Context) *ThrottledReader {
	return &ThrottledReader{
		r:   r,
		rc:  rc,
		ctx: ctx,
	}
}

func (r *ThrottledReader) Read(p []byte) (n int, err error) {
	// The eventual read size is unknown up front; budget for the whole
	// buffer, which over-counts short reads at most once per call.
	if err := r.rc.AcquireCopy(r.ctx, len(p)); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}
