package blobstore

import (
	"context"
	"io"
	"os"
)

// ErrNotFound is returned when a blob does not exist.
//
// Implementations should return an error that satisfies
// `errors.Is(err, ErrNotFound)`. The default maps to `os.ErrNotExist`.
var ErrNotFound = os.ErrNotExist

// BlobStore is an abstraction for storing immutable data blobs (snapshot
// payloads and manifests). Implementations must be safe for concurrent use.
type BlobStore interface {
	// Open opens a blob for reading.
	Open(ctx context.Context, name string) (Blob, error)

	// Create creates a blob for streaming writes. The blob becomes visible
	// when its Close returns.
	Create(ctx context.Context, name string) (WritableBlob, error)

	// Put writes a blob in one shot, replacing any previous content.
	Put(ctx context.Context, name string, data []byte) error

	// Delete removes a blob. Deleting a missing blob is not an error.
	Delete(ctx context.Context, name string) error

	// List returns the names under the prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Blob is a read-only handle to a data blob.
type Blob interface {
	io.ReaderAt
	io.Closer

	// Size returns the size of the blob in bytes.
	Size() int64
}

// WritableBlob is a streaming write handle. Writes are not durable until
// Close returns.
type WritableBlob interface {
	io.Writer
	io.Closer

	// Sync flushes buffered bytes to stable storage where the backend
	// supports it; remote backends commit on Close and treat Sync as a
	// no-op.
	Sync() error
}

// Mappable is an optional interface for Blobs that expose their bytes
// without copying. The slice is valid until the Blob is closed.
type Mappable interface {
	Bytes() ([]byte, error)
}

// RangeReader is an optional interface for Blobs that can stream a byte
// range in one request. Remote backends implement it so a whole-blob read
// is a single round trip instead of per-chunk ReadAt calls.
type RangeReader interface {
	ReadRange(off, length int64) (io.ReadCloser, error)
}
