// Package blobstore provides storage abstraction for docgo's backup
// archives.
//
// BlobStore is the interface for writing and reading whole blobs.
// Implementations must be safe for concurrent use and must make Put atomic:
// a blob is visible under its final name only once it is complete.
//
// Implementations:
//   - LocalStore: local file system (temp file + rename)
//   - MemoryStore: in-memory, for testing
//   - s3.Store: Amazon S3 via aws-sdk-go-v2
//   - s3.DDBLatestStore: S3 plus DynamoDB conditional writes for the
//     LATEST pointer, safe with concurrent backup writers
//   - minio.Store: MinIO and other S3-compatible storage
package blobstore
