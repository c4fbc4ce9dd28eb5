// Package s3 implements blobstore.Store for AWS S3 and a DynamoDB-backed
// commit log.
//
// S3 alone cannot serialize concurrent annotation commits: it has no
// compare-and-swap. CommitLog pairs the S3 payload store with a DynamoDB
// table whose conditional writes provide the atomic id assignment and
// append-only commit record that concurrent writers need.
package s3
