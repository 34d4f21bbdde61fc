// Package blobstore provides storage abstraction for Rango's immutable
// snapshot artifacts.
//
// BlobStore is the interface for reading and writing data blobs (point
// payloads, acceleration-structure payloads, manifests). Implementations
// must be safe for concurrent use.
//
// # Built-in Implementations
//
//   - LocalStore: local filesystem with mmap reads and atomic rename writes
//   - MemoryStore: in-memory store for tests
//   - s3.Store: Amazon S3 with range reads and parallel multipart uploads
//   - minio.Store: any S3-compatible endpoint via the MinIO client
//
// # Commit Protocol
//
// A snapshot save writes payload blobs first and publishes the manifest name
// last through a CommitStore. Readers resolve Current and only then open the
// manifest, so a crashed or concurrent save never exposes a half-written
// snapshot. FileCommitStore covers single-host setups; s3.DDBCommitStore
// adds cross-host compare-and-set semantics on DynamoDB.
package blobstore
