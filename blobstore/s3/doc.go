// Package s3 provides an S3 implementation of the blobstore.BlobStore
// interface, plus a DynamoDB-backed blobstore.CommitStore for coordinating
// snapshot publication across hosts.
//
// # Usage
//
//	cfg, err := config.LoadDefaultConfig(ctx)
//	if err != nil { ... }
//
//	store := s3.NewStore(s3.NewFromConfig(cfg), "my-bucket", "snapshots/")
//	commits := s3.NewDDBCommitStore(dynamodb.NewFromConfig(cfg), "rango-commits", "s3://my-bucket/snapshots")
//
// # Features
//
//   - Range reads for partial fetches of snapshot payloads
//   - Streaming multipart uploads with CRC32C checksums
//   - Automatic pagination for listing
//   - Configurable prefix for multi-tenant isolation
//   - Conditional commits via DynamoDB compare-and-set
package s3
