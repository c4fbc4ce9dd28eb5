// Package blobstore abstracts the object storage holding encoded annotation
// payloads: spatial cell blobs, segment-filtered relationship blobs and
// per-annotation metadata blobs.
//
// The Store interface models flat object storage (get, put, delete, list by
// prefix). Implementations:
//
//   - Memory: in-process map, for tests and single-process use
//   - Local: local filesystem, memory-mapped reads, atomic writes
//   - Caching: LRU read-through wrapper around any Store
//   - minio.Store: MinIO and other S3-compatible storage
//   - s3.Store: AWS S3, multipart uploads via the transfer manager
//
// Payloads are immutable once written; overwriting a key replaces the whole
// object.
package blobstore
