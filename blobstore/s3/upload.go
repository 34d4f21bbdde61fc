package s3

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// UploadConfig tunes streaming uploads.
type UploadConfig struct {
	// PartSize is the part size for multipart uploads.
	// Default: 8MB (larger than the SDK default of 5MB; snapshot payloads
	// are big sequential blobs)
	PartSize int64

	// Concurrency is the number of concurrent part uploads.
	// Default: 5 (matches the SDK default)
	Concurrency int

	// EnableChecksum enables CRC32C integrity validation.
	// Default: true
	EnableChecksum bool

	// LeavePartsOnError keeps already-uploaded parts of a failed multipart
	// upload instead of aborting it.
	// Default: false (abort on error)
	LeavePartsOnError bool
}

// DefaultUploadConfig returns the default upload settings.
func DefaultUploadConfig() UploadConfig {
	return UploadConfig{
		PartSize:          8 * 1024 * 1024,
		Concurrency:       5,
		EnableChecksum:    true,
		LeavePartsOnError: false,
	}
}

// newUploader creates a configured S3 uploader.
func newUploader(client Client, cfg UploadConfig) *manager.Uploader {
	return manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = cfg.PartSize
		u.Concurrency = cfg.Concurrency
		u.LeavePartsOnError = cfg.LeavePartsOnError
	})
}

// streamingWritableBlob implements blobstore.WritableBlob on a pipe feeding
// a background multipart upload.
type streamingWritableBlob struct {
	pw *io.PipeWriter
	pr *io.PipeReader

	done     chan error
	closed   atomic.Bool
	closeMu  sync.Mutex
	closeErr error
}

// newStreamingWritableBlob starts a background upload that consumes bytes
// as they are written.
func newStreamingWritableBlob(ctx context.Context, uploader *manager.Uploader, bucket, key string, enableChecksum bool) *streamingWritableBlob {
	pr, pw := io.Pipe()

	blob := &streamingWritableBlob{
		pw:   pw,
		pr:   pr,
		done: make(chan error, 1),
	}

	input := &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   pr,
	}

	if enableChecksum {
		input.ChecksumAlgorithm = types.ChecksumAlgorithmCrc32c
	}

	go func() {
		_, err := uploader.Upload(ctx, input)

		// Unblock any writer still holding the pipe
		_ = pr.CloseWithError(err)

		blob.done <- err
	}()

	return blob
}

func (b *streamingWritableBlob) Write(p []byte) (int, error) {
	if b.closed.Load() {
		return 0, io.ErrClosedPipe
	}

	return b.pw.Write(p)
}

// Close signals EOF to the uploader and waits for the upload to finish.
// Closing twice returns the first result.
func (b *streamingWritableBlob) Close() error {
	b.closeMu.Lock()
	defer b.closeMu.Unlock()

	if !b.closed.CompareAndSwap(false, true) {
		return b.closeErr
	}

	if err := b.pw.Close(); err != nil {
		b.closeErr = err

		return err
	}

	b.closeErr = <-b.done

	return b.closeErr
}

// Abort stops an in-progress upload and discards what was written. Parts
// already uploaded are removed by the uploader unless LeavePartsOnError is
// set. Abort after Close is a no-op.
func (b *streamingWritableBlob) Abort() {
	b.closeMu.Lock()
	defer b.closeMu.Unlock()

	if !b.closed.CompareAndSwap(false, true) {
		return
	}

	_ = b.pw.CloseWithError(context.Canceled)

	b.closeErr = <-b.done
}

// Sync is a no-op: bytes are only durable once Close returns.
func (b *streamingWritableBlob) Sync() error {
	return nil
}
