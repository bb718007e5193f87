// Package s3 provides an AWS S3 implementation of filestore.Store built on
// aws-sdk-go-v2. Any S3-compatible endpoint (LocalStack, Ceph, MinIO) can be
// targeted with an endpoint override.
//
// Usage:
//
//	cfg := &filestore.Config{Provider: filestore.ProviderS3, Region: "eu-west-1", ...}
//	store, err := s3.New(ctx, cfg)
package s3

import (
	"context"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/koustreak/objgate/internal/errs"
	"github.com/koustreak/objgate/internal/filestore"
)

var _ filestore.Store = (*Driver)(nil)

// Driver is an S3 implementation of filestore.Store.
// It is safe for concurrent use by multiple goroutines.
type Driver struct {
	api     API
	presign Presigner
	region  string
}

// New builds an S3 client from cfg with static credentials and returns a
// Driver. It calls Ping to validate the connection before returning.
func New(ctx context.Context, cfg *filestore.Config) (*Driver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConnectionFailed, "failed to load aws config", err)
	}

	client := awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
		if cfg.PathStyle {
			o.UsePathStyle = true
		}
	})

	d := NewWithClient(client, awss3.NewPresignClient(client), cfg.Region)

	if err := d.Ping(ctx); err != nil {
		return nil, err
	}

	return d, nil
}

// NewWithClient wraps an existing client. It performs no I/O.
func NewWithClient(api API, presign Presigner, region string) *Driver {
	return &Driver{api: api, presign: presign, region: region}
}

// Ping verifies S3 is reachable and the credentials are accepted.
func (d *Driver) Ping(ctx context.Context) error {
	if _, err := d.api.ListBuckets(ctx, &awss3.ListBucketsInput{}); err != nil {
		return mapError(err, "ping failed")
	}
	return nil
}

// Close is a no-op; the SDK's HTTP client needs no explicit shutdown.
func (d *Driver) Close() error {
	return nil
}

// --- buckets ---

func (d *Driver) CreateBucket(ctx context.Context, bucket string) error {
	in := &awss3.CreateBucketInput{Bucket: aws.String(bucket)}
	// us-east-1 is the one region that rejects an explicit constraint.
	if d.region != "" && d.region != "us-east-1" {
		in.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(d.region),
		}
	}
	if _, err := d.api.CreateBucket(ctx, in); err != nil {
		return mapError(err, "failed to create bucket")
	}
	return nil
}

func (d *Driver) ListBuckets(ctx context.Context) ([]filestore.BucketInfo, error) {
	out, err := d.api.ListBuckets(ctx, &awss3.ListBucketsInput{})
	if err != nil {
		return nil, mapError(err, "failed to list buckets")
	}

	buckets := make([]filestore.BucketInfo, len(out.Buckets))
	for i, b := range out.Buckets {
		buckets[i] = filestore.BucketInfo{
			Name:      aws.ToString(b.Name),
			CreatedAt: aws.ToTime(b.CreationDate),
		}
	}
	return buckets, nil
}

func (d *Driver) DeleteBucket(ctx context.Context, bucket string) error {
	if _, err := d.api.DeleteBucket(ctx, &awss3.DeleteBucketInput{Bucket: aws.String(bucket)}); err != nil {
		return mapError(err, "failed to delete bucket")
	}
	return nil
}

// --- objects ---

// ListObjects pages through ListObjectsV2 until opts.Limit entries are
// collected or the listing ends. Without Recursive, common prefixes are
// returned as directory entries.
func (d *Driver) ListObjects(ctx context.Context, bucket string, opts filestore.ListOptions) ([]filestore.ObjectInfo, error) {
	in := &awss3.ListObjectsV2Input{Bucket: aws.String(bucket)}
	if opts.Prefix != "" {
		in.Prefix = aws.String(opts.Prefix)
	}
	if !opts.Recursive {
		in.Delimiter = aws.String("/")
	}

	var results []filestore.ObjectInfo
	full := func() bool { return opts.Limit > 0 && len(results) >= opts.Limit }

	pages := awss3.NewListObjectsV2Paginator(d.api, in)
	for pages.HasMorePages() && !full() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, mapError(err, "failed to list objects")
		}
		for _, p := range page.CommonPrefixes {
			if full() {
				break
			}
			results = append(results, filestore.ObjectInfo{Bucket: bucket, Key: aws.ToString(p.Prefix), IsDir: true})
		}
		for _, o := range page.Contents {
			if full() {
				break
			}
			results = append(results, filestore.ObjectInfo{
				Bucket:       bucket,
				Key:          aws.ToString(o.Key),
				Size:         aws.ToInt64(o.Size),
				ETag:         aws.ToString(o.ETag),
				LastModified: aws.ToTime(o.LastModified),
			})
		}
	}
	return results, nil
}

func (d *Driver) PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, opts filestore.PutOptions) (*filestore.ObjectInfo, error) {
	in := &awss3.PutObjectInput{
		Bucket:   aws.String(bucket),
		Key:      aws.String(key),
		Body:     r,
		Metadata: opts.Metadata,
	}
	if size >= 0 {
		in.ContentLength = aws.Int64(size)
	}
	if opts.ContentType != "" {
		in.ContentType = aws.String(opts.ContentType)
	}

	out, err := d.api.PutObject(ctx, in)
	if err != nil {
		return nil, mapError(err, "failed to put object")
	}
	return &filestore.ObjectInfo{
		Bucket:      bucket,
		Key:         key,
		Size:        size,
		ContentType: opts.ContentType,
		ETag:        aws.ToString(out.ETag),
		VersionID:   aws.ToString(out.VersionId),
	}, nil
}

// GetObject opens a streaming handle to the object at key inside bucket.
// The caller MUST call Object.Close() after reading.
func (d *Driver) GetObject(ctx context.Context, bucket, key string) (filestore.Object, error) {
	out, err := d.api.GetObject(ctx, &awss3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		return nil, mapError(err, "failed to get object")
	}
	return &object{
		ReadCloser: out.Body,
		info: &filestore.ObjectInfo{
			Bucket:       bucket,
			Key:          key,
			Size:         aws.ToInt64(out.ContentLength),
			ContentType:  aws.ToString(out.ContentType),
			ETag:         aws.ToString(out.ETag),
			VersionID:    aws.ToString(out.VersionId),
			LastModified: aws.ToTime(out.LastModified),
			Metadata:     out.Metadata,
		},
	}, nil
}

func (d *Driver) StatObject(ctx context.Context, bucket, key string) (*filestore.ObjectInfo, error) {
	out, err := d.api.HeadObject(ctx, &awss3.HeadObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		return nil, mapError(err, "failed to stat object")
	}
	return &filestore.ObjectInfo{
		Bucket:       bucket,
		Key:          key,
		Size:         aws.ToInt64(out.ContentLength),
		ContentType:  aws.ToString(out.ContentType),
		ETag:         aws.ToString(out.ETag),
		VersionID:    aws.ToString(out.VersionId),
		LastModified: aws.ToTime(out.LastModified),
		Metadata:     out.Metadata,
	}, nil
}

func (d *Driver) DeleteObject(ctx context.Context, bucket, key string) error {
	if _, err := d.api.DeleteObject(ctx, &awss3.DeleteObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)}); err != nil {
		return mapError(err, "failed to delete object")
	}
	return nil
}

func (d *Driver) CopyObject(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string) (*filestore.ObjectInfo, error) {
	out, err := d.api.CopyObject(ctx, &awss3.CopyObjectInput{
		Bucket:     aws.String(dstBucket),
		Key:        aws.String(dstKey),
		CopySource: aws.String(copySource(srcBucket, srcKey)),
	})
	if err != nil {
		return nil, mapError(err, "failed to copy object")
	}

	info := &filestore.ObjectInfo{Bucket: dstBucket, Key: dstKey, Size: -1, VersionID: aws.ToString(out.VersionId)}
	if r := out.CopyObjectResult; r != nil {
		info.ETag = aws.ToString(r.ETag)
		info.LastModified = aws.ToTime(r.LastModified)
	}
	return info, nil
}

// copySource is "bucket/key" with the key URL-encoded segment by segment.
func copySource(bucket, key string) string {
	segs := strings.Split(key, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return bucket + "/" + strings.Join(segs, "/")
}

func (d *Driver) PresignGetURL(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
	req, err := d.presign.PresignGetObject(ctx,
		&awss3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)},
		awss3.WithPresignExpires(ttl),
	)
	if err != nil {
		return "", mapError(err, "failed to generate presigned URL")
	}
	return req.URL, nil
}

func (d *Driver) PresignPutURL(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
	req, err := d.presign.PresignPutObject(ctx,
		&awss3.PutObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)},
		awss3.WithPresignExpires(ttl),
	)
	if err != nil {
		return "", mapError(err, "failed to generate presigned upload URL")
	}
	return req.URL, nil
}

// --- multipart ---

func (d *Driver) CreateMultipartUpload(ctx context.Context, bucket, key string, opts filestore.PutOptions) (string, error) {
	in := &awss3.CreateMultipartUploadInput{
		Bucket:   aws.String(bucket),
		Key:      aws.String(key),
		Metadata: opts.Metadata,
	}
	if opts.ContentType != "" {
		in.ContentType = aws.String(opts.ContentType)
	}

	out, err := d.api.CreateMultipartUpload(ctx, in)
	if err != nil {
		return "", mapError(err, "failed to open multipart upload")
	}
	return aws.ToString(out.UploadId), nil
}

func (d *Driver) UploadPart(ctx context.Context, bucket, key, uploadID string, partNumber int, data io.Reader, size int64) (string, error) {
	out, err := d.api.UploadPart(ctx, &awss3.UploadPartInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		UploadId:      aws.String(uploadID),
		PartNumber:    aws.Int32(int32(partNumber)),
		Body:          data,
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return "", mapError(err, "failed to upload part")
	}
	return aws.ToString(out.ETag), nil
}

func (d *Driver) CompleteMultipartUpload(ctx context.Context, bucket, key, uploadID string, parts []filestore.CompletedPart) (*filestore.ObjectInfo, error) {
	completed := make([]types.CompletedPart, len(parts))
	for i, p := range parts {
		completed[i] = types.CompletedPart{
			PartNumber: aws.Int32(int32(p.PartNumber)),
			ETag:       aws.String(p.ETag),
		}
	}

	out, err := d.api.CompleteMultipartUpload(ctx, &awss3.CompleteMultipartUploadInput{
		Bucket:          aws.String(bucket),
		Key:             aws.String(key),
		UploadId:        aws.String(uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: completed},
	})
	if err != nil {
		return nil, mapError(err, "failed to complete multipart upload")
	}
	return &filestore.ObjectInfo{
		Bucket:    bucket,
		Key:       key,
		Size:      -1,
		ETag:      aws.ToString(out.ETag),
		VersionID: aws.ToString(out.VersionId),
		Location:  aws.ToString(out.Location),
	}, nil
}

func (d *Driver) AbortMultipartUpload(ctx context.Context, bucket, key, uploadID string) error {
	_, err := d.api.AbortMultipartUpload(ctx, &awss3.AbortMultipartUploadInput{
		Bucket:   aws.String(bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
	})
	if err != nil {
		return mapError(err, "failed to abort multipart upload")
	}
	return nil
}

// ListIncompleteUploads follows the key and upload-ID markers until the
// listing is no longer truncated.
func (d *Driver) ListIncompleteUploads(ctx context.Context, bucket, prefix string) ([]filestore.IncompleteUpload, error) {
	in := &awss3.ListMultipartUploadsInput{Bucket: aws.String(bucket)}
	if prefix != "" {
		in.Prefix = aws.String(prefix)
	}

	var out []filestore.IncompleteUpload
	for {
		page, err := d.api.ListMultipartUploads(ctx, in)
		if err != nil {
			return nil, mapError(err, "failed to list incomplete uploads")
		}
		for _, u := range page.Uploads {
			out = append(out, filestore.IncompleteUpload{
				Bucket:    bucket,
				Key:       aws.ToString(u.Key),
				UploadID:  aws.ToString(u.UploadId),
				Initiated: aws.ToTime(u.Initiated),
			})
		}
		if !aws.ToBool(page.IsTruncated) {
			return out, nil
		}
		in.KeyMarker = page.NextKeyMarker
		in.UploadIdMarker = page.NextUploadIdMarker
	}
}

type object struct {
	io.ReadCloser
	info *filestore.ObjectInfo
}

func (o *object) Info() *filestore.ObjectInfo { return o.info }
