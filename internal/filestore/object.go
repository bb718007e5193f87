package filestore

import (
	"io"
	"time"
)

// BucketInfo describes a storage bucket / container.
type BucketInfo struct {
	// Name is the bucket name.
	Name string `json:"name"`

	// CreatedAt is when the bucket was created.
	// May be zero if the backend does not expose creation time.
	CreatedAt time.Time `json:"created_at"`
}

// ObjectInfo describes a single object stored in a bucket.
type ObjectInfo struct {
	// Bucket is the bucket holding the object. Set by write operations.
	Bucket string `json:"bucket,omitempty"`

	// Key is the full object path within the bucket (e.g. "images/photo.jpg").
	Key string `json:"key"`

	// Size is the byte size of the object. -1 if unknown.
	Size int64 `json:"size"`

	// ContentType is the MIME type (e.g. "image/jpeg").
	ContentType string `json:"content_type,omitempty"`

	// ETag is the object's entity tag, as returned by the backend.
	ETag string `json:"etag,omitempty"`

	// VersionID is set when the bucket is versioned.
	VersionID string `json:"version_id,omitempty"`

	// Location is the backend's URL for the object, when it reports one.
	Location string `json:"location,omitempty"`

	// LastModified is when the object was last written.
	LastModified time.Time `json:"last_modified,omitempty"`

	// Metadata holds user metadata (x-amz-meta-*), without the prefix.
	Metadata map[string]string `json:"metadata,omitempty"`

	// IsDir is true when the entry represents a virtual directory (prefix).
	IsDir bool `json:"is_dir,omitempty"`
}

// Object is a streaming handle to an object's content.
// The caller MUST call Close() after reading to avoid resource leaks.
type Object interface {
	io.ReadCloser

	// Info returns the metadata for this object.
	Info() *ObjectInfo
}

// ListOptions controls how ListObjects filters and paginates results.
type ListOptions struct {
	// Prefix restricts results to objects whose key starts with this string.
	Prefix string

	// Recursive, when true, lists all objects under the prefix without
	// grouping by virtual directories.
	Recursive bool

	// Limit caps the number of results returned. 0 means no cap.
	Limit int
}

// PutOptions carries the attributes applied to a newly written object.
type PutOptions struct {
	ContentType string
	Metadata    map[string]string
}

// CompletedPart pairs a part number with the completion token (ETag) the
// backend returned for it. The token must be presented verbatim at commit.
type CompletedPart struct {
	PartNumber int    `json:"part_number"`
	ETag       string `json:"etag"`
}

// IncompleteUpload is a multipart session that was opened and never
// committed or aborted.
type IncompleteUpload struct {
	Bucket    string    `json:"bucket"`
	Key       string    `json:"key"`
	UploadID  string    `json:"upload_id"`
	Initiated time.Time `json:"initiated"`
}
