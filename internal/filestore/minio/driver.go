// Package minio provides a MinIO implementation of filestore.Store.
//
// Usage:
//
//	cfg := filestore.DefaultConfig("localhost:9000", "minioadmin", "minioadmin")
//	store, err := minio.New(ctx, cfg)
//	if err != nil { ... }
//	defer store.Close()
//
//	buckets, err := store.ListBuckets(ctx)
package minio

import (
	"context"
	"io"
	"strings"
	"time"

	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/koustreak/objgate/internal/errs"
	"github.com/koustreak/objgate/internal/filestore"
)

var _ filestore.Store = (*Driver)(nil)

// Driver is a MinIO implementation of filestore.Store.
// It is safe for concurrent use by multiple goroutines.
//
// The low-level Core API is used for multipart sessions so that part
// numbering and commit stay under the caller's control; the high-level
// client methods are reached through Core's embedded *Client.
type Driver struct {
	core   *miniogo.Core
	region string
}

// New connects to MinIO using the provided Config and returns a Driver.
// It calls Ping to validate the connection before returning.
func New(ctx context.Context, cfg *filestore.Config) (*Driver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	core, err := miniogo.NewCore(cfg.Endpoint, &miniogo.Options{
		Creds:        credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:       cfg.UseSSL,
		Region:       cfg.Region,
		BucketLookup: lookup(cfg.PathStyle),
	})
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConnectionFailed, "failed to create minio client", err)
	}

	d := &Driver{core: core, region: cfg.Region}

	if err := d.Ping(ctx); err != nil {
		return nil, err
	}

	return d, nil
}

func lookup(pathStyle bool) miniogo.BucketLookupType {
	if pathStyle {
		return miniogo.BucketLookupPath
	}
	return miniogo.BucketLookupAuto
}

// Ping verifies the MinIO server is reachable by listing buckets.
func (d *Driver) Ping(ctx context.Context) error {
	_, err := d.core.Client.ListBuckets(ctx)
	if err != nil {
		return mapError(err, "ping failed")
	}
	return nil
}

// Close is a no-op for MinIO; the SDK client holds no persistent connections.
func (d *Driver) Close() error {
	return nil
}

// --- buckets ---

func (d *Driver) CreateBucket(ctx context.Context, bucket string) error {
	err := d.core.Client.MakeBucket(ctx, bucket, miniogo.MakeBucketOptions{Region: d.region})
	if err != nil {
		return mapError(err, "failed to create bucket")
	}
	return nil
}

// ListBuckets returns all buckets accessible with the configured credentials.
func (d *Driver) ListBuckets(ctx context.Context) ([]filestore.BucketInfo, error) {
	raw, err := d.core.Client.ListBuckets(ctx)
	if err != nil {
		return nil, mapError(err, "failed to list buckets")
	}

	buckets := make([]filestore.BucketInfo, len(raw))
	for i, b := range raw {
		buckets[i] = filestore.BucketInfo{
			Name:      b.Name,
			CreatedAt: b.CreationDate,
		}
	}
	return buckets, nil
}

func (d *Driver) DeleteBucket(ctx context.Context, bucket string) error {
	if err := d.core.Client.RemoveBucket(ctx, bucket); err != nil {
		return mapError(err, "failed to delete bucket")
	}
	return nil
}

// --- objects ---

// ListObjects returns objects in bucket that match opts.
func (d *Driver) ListObjects(ctx context.Context, bucket string, opts filestore.ListOptions) ([]filestore.ObjectInfo, error) {
	listOpts := miniogo.ListObjectsOptions{
		Prefix:    opts.Prefix,
		Recursive: opts.Recursive,
	}

	// Cancelling stops the listing goroutine when Limit cuts the range short.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var results []filestore.ObjectInfo
	for obj := range d.core.Client.ListObjects(ctx, bucket, listOpts) {
		if obj.Err != nil {
			return nil, mapError(obj.Err, "failed to list objects")
		}

		info := toObjectInfo(bucket, obj)
		info.IsDir = strings.HasSuffix(obj.Key, "/")
		results = append(results, info)

		if opts.Limit > 0 && len(results) >= opts.Limit {
			break
		}
	}

	return results, nil
}

func (d *Driver) PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, opts filestore.PutOptions) (*filestore.ObjectInfo, error) {
	up, err := d.core.Client.PutObject(ctx, bucket, key, r, size, putOptions(opts))
	if err != nil {
		return nil, mapError(err, "failed to put object")
	}
	info := fromUploadInfo(up)
	info.ContentType = opts.ContentType
	return info, nil
}

// GetObject opens a streaming handle to the object at key inside bucket.
// The caller MUST call Object.Close() after reading.
func (d *Driver) GetObject(ctx context.Context, bucket, key string) (filestore.Object, error) {
	obj, err := d.core.Client.GetObject(ctx, bucket, key, miniogo.GetObjectOptions{})
	if err != nil {
		return nil, mapError(err, "failed to get object")
	}

	// GetObject is lazy; Stat forces the request so a missing key fails here.
	stat, err := obj.Stat()
	if err != nil {
		obj.Close()
		return nil, mapError(err, "failed to stat object after get")
	}

	info := toObjectInfo(bucket, stat)
	info.Key = key
	return &object{ReadCloser: obj, info: &info}, nil
}

// StatObject returns metadata for the object at key inside bucket
// without downloading its content.
func (d *Driver) StatObject(ctx context.Context, bucket, key string) (*filestore.ObjectInfo, error) {
	stat, err := d.core.Client.StatObject(ctx, bucket, key, miniogo.StatObjectOptions{})
	if err != nil {
		return nil, mapError(err, "failed to stat object")
	}

	info := toObjectInfo(bucket, stat)
	return &info, nil
}

func (d *Driver) DeleteObject(ctx context.Context, bucket, key string) error {
	if err := d.core.Client.RemoveObject(ctx, bucket, key, miniogo.RemoveObjectOptions{}); err != nil {
		return mapError(err, "failed to delete object")
	}
	return nil
}

func (d *Driver) CopyObject(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string) (*filestore.ObjectInfo, error) {
	up, err := d.core.Client.CopyObject(ctx,
		miniogo.CopyDestOptions{Bucket: dstBucket, Object: dstKey},
		miniogo.CopySrcOptions{Bucket: srcBucket, Object: srcKey},
	)
	if err != nil {
		return nil, mapError(err, "failed to copy object")
	}
	return fromUploadInfo(up), nil
}

// PresignGetURL returns a time-limited public download URL for the object.
func (d *Driver) PresignGetURL(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
	u, err := d.core.Client.PresignedGetObject(ctx, bucket, key, ttl, nil)
	if err != nil {
		return "", mapError(err, "failed to generate presigned URL")
	}
	return u.String(), nil
}

func (d *Driver) PresignPutURL(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
	u, err := d.core.Client.PresignedPutObject(ctx, bucket, key, ttl)
	if err != nil {
		return "", mapError(err, "failed to generate presigned upload URL")
	}
	return u.String(), nil
}

// --- multipart ---

func (d *Driver) CreateMultipartUpload(ctx context.Context, bucket, key string, opts filestore.PutOptions) (string, error) {
	id, err := d.core.NewMultipartUpload(ctx, bucket, key, putOptions(opts))
	if err != nil {
		return "", mapError(err, "failed to open multipart upload")
	}
	return id, nil
}

func (d *Driver) UploadPart(ctx context.Context, bucket, key, uploadID string, partNumber int, data io.Reader, size int64) (string, error) {
	part, err := d.core.PutObjectPart(ctx, bucket, key, uploadID, partNumber, data, size, miniogo.PutObjectPartOptions{})
	if err != nil {
		return "", mapError(err, "failed to upload part")
	}
	return part.ETag, nil
}

func (d *Driver) CompleteMultipartUpload(ctx context.Context, bucket, key, uploadID string, parts []filestore.CompletedPart) (*filestore.ObjectInfo, error) {
	complete := make([]miniogo.CompletePart, len(parts))
	for i, p := range parts {
		complete[i] = miniogo.CompletePart{PartNumber: p.PartNumber, ETag: p.ETag}
	}

	up, err := d.core.CompleteMultipartUpload(ctx, bucket, key, uploadID, complete, miniogo.PutObjectOptions{})
	if err != nil {
		return nil, mapError(err, "failed to complete multipart upload")
	}
	return fromUploadInfo(up), nil
}

func (d *Driver) AbortMultipartUpload(ctx context.Context, bucket, key, uploadID string) error {
	if err := d.core.AbortMultipartUpload(ctx, bucket, key, uploadID); err != nil {
		return mapError(err, "failed to abort multipart upload")
	}
	return nil
}

// ListIncompleteUploads returns every open session under prefix.
func (d *Driver) ListIncompleteUploads(ctx context.Context, bucket, prefix string) ([]filestore.IncompleteUpload, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var out []filestore.IncompleteUpload
	for u := range d.core.Client.ListIncompleteUploads(ctx, bucket, prefix, true) {
		if u.Err != nil {
			return nil, mapError(u.Err, "failed to list incomplete uploads")
		}
		out = append(out, filestore.IncompleteUpload{
			Bucket:    bucket,
			Key:       u.Key,
			UploadID:  u.UploadID,
			Initiated: u.Initiated,
		})
	}
	return out, nil
}

// --- internal types ---

// object wraps a MinIO GetObject response and exposes filestore.Object.
type object struct {
	io.ReadCloser
	info *filestore.ObjectInfo
}

func (o *object) Info() *filestore.ObjectInfo {
	return o.info
}

func putOptions(opts filestore.PutOptions) miniogo.PutObjectOptions {
	return miniogo.PutObjectOptions{
		ContentType:  opts.ContentType,
		UserMetadata: opts.Metadata,
	}
}

func toObjectInfo(bucket string, o miniogo.ObjectInfo) filestore.ObjectInfo {
	info := filestore.ObjectInfo{
		Bucket:       bucket,
		Key:          o.Key,
		Size:         o.Size,
		ContentType:  o.ContentType,
		ETag:         o.ETag,
		VersionID:    o.VersionID,
		LastModified: o.LastModified,
	}
	if len(o.UserMetadata) > 0 {
		info.Metadata = make(map[string]string, len(o.UserMetadata))
		for k, v := range o.UserMetadata {
			info.Metadata[k] = v
		}
	}
	return info
}

func fromUploadInfo(up miniogo.UploadInfo) *filestore.ObjectInfo {
	return &filestore.ObjectInfo{
		Bucket:       up.Bucket,
		Key:          up.Key,
		Size:         up.Size,
		ETag:         up.ETag,
		VersionID:    up.VersionID,
		Location:     up.Location,
		LastModified: up.LastModified,
	}
}
