// Package filestore defines the unified interface for object storage backends.
//
// All providers (MinIO, AWS S3, the in-memory store) implement Store.
// Callers depend only on this package, never on a specific provider package.
//
// Usage:
//
//	cfg := filestore.DefaultConfig("localhost:9000", "minioadmin", "minioadmin")
//	store, err := minio.New(ctx, cfg)
//	if err != nil { ... }
//	defer store.Close()
//
//	buckets, err := store.ListBuckets(ctx)
package filestore

import (
	"context"
	"io"
	"time"
)

// Limits every S3-compatible backend enforces on multipart sessions.
const (
	// MinPartSize is the smallest size allowed for any part except the last.
	MinPartSize int64 = 5 << 20

	// MaxParts is the highest part number a session accepts.
	MaxParts = 10000
)

// Store is the interface every file storage provider implements.
type Store interface {
	MultipartStore
	IncompleteUploads

	// Ping verifies the storage backend is reachable.
	Ping(ctx context.Context) error

	// Close releases any held resources (connections, goroutines, etc.).
	Close() error

	// CreateBucket creates a bucket in the configured region.
	CreateBucket(ctx context.Context, bucket string) error

	// ListBuckets returns all buckets accessible with the configured credentials.
	ListBuckets(ctx context.Context) ([]BucketInfo, error)

	// DeleteBucket removes an empty bucket.
	DeleteBucket(ctx context.Context, bucket string) error

	// ListObjects returns the objects in bucket that match opts.
	ListObjects(ctx context.Context, bucket string, opts ListOptions) ([]ObjectInfo, error)

	// PutObject writes size bytes from r in a single request.
	PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, opts PutOptions) (*ObjectInfo, error)

	// GetObject opens a streaming handle to the object at key inside bucket.
	// The caller MUST call Object.Close() after reading.
	GetObject(ctx context.Context, bucket, key string) (Object, error)

	// StatObject returns metadata for the object without downloading it.
	StatObject(ctx context.Context, bucket, key string) (*ObjectInfo, error)

	// DeleteObject removes the object. Deleting a missing key is not an error.
	DeleteObject(ctx context.Context, bucket, key string) error

	// CopyObject copies srcBucket/srcKey to dstBucket/dstKey server-side.
	CopyObject(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string) (*ObjectInfo, error)

	// PresignGetURL returns a time-limited URL to download the object.
	PresignGetURL(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)

	// PresignPutURL returns a time-limited URL to upload the object.
	PresignPutURL(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
}

// MultipartStore is the session protocol a backend offers for writing one
// object in numbered parts. A session is opened once, receives parts
// 1..N, and is then either completed with the ordered part list or aborted.
type MultipartStore interface {
	// CreateMultipartUpload opens a session and returns its upload ID.
	CreateMultipartUpload(ctx context.Context, bucket, key string, opts PutOptions) (string, error)

	// UploadPart stores size bytes from data as partNumber of the session
	// and returns the part's completion token.
	UploadPart(ctx context.Context, bucket, key, uploadID string, partNumber int, data io.Reader, size int64) (string, error)

	// CompleteMultipartUpload assembles the object from parts, which must be
	// in ascending part-number order.
	CompleteMultipartUpload(ctx context.Context, bucket, key, uploadID string, parts []CompletedPart) (*ObjectInfo, error)

	// AbortMultipartUpload discards the session and every part stored under it.
	AbortMultipartUpload(ctx context.Context, bucket, key, uploadID string) error
}

// IncompleteUploads lists sessions left open on the backend.
type IncompleteUploads interface {
	ListIncompleteUploads(ctx context.Context, bucket, prefix string) ([]IncompleteUpload, error)
}
