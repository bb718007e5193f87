package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koustreak/objgate/internal/errs"
	"github.com/koustreak/objgate/internal/filestore"
)

// fakeAPI implements API; any call without a hook fails the test.
type fakeAPI struct {
	t *testing.T

	createBucket func(*awss3.CreateBucketInput) (*awss3.CreateBucketOutput, error)
	listObjects  func(*awss3.ListObjectsV2Input) (*awss3.ListObjectsV2Output, error)
	putObject    func(*awss3.PutObjectInput) (*awss3.PutObjectOutput, error)
	headObject   func(*awss3.HeadObjectInput) (*awss3.HeadObjectOutput, error)
	copyObject   func(*awss3.CopyObjectInput) (*awss3.CopyObjectOutput, error)
	create       func(*awss3.CreateMultipartUploadInput) (*awss3.CreateMultipartUploadOutput, error)
	uploadPart   func(*awss3.UploadPartInput) (*awss3.UploadPartOutput, error)
	complete     func(*awss3.CompleteMultipartUploadInput) (*awss3.CompleteMultipartUploadOutput, error)
	abort        func(*awss3.AbortMultipartUploadInput) (*awss3.AbortMultipartUploadOutput, error)
	listUploads  func(*awss3.ListMultipartUploadsInput) (*awss3.ListMultipartUploadsOutput, error)
}

func (f *fakeAPI) unexpected(name string) error {
	f.t.Helper()
	f.t.Fatalf("unexpected call to %s", name)
	return nil
}

func (f *fakeAPI) ListBuckets(context.Context, *awss3.ListBucketsInput, ...func(*awss3.Options)) (*awss3.ListBucketsOutput, error) {
	return &awss3.ListBucketsOutput{Buckets: []types.Bucket{{Name: aws.String("media")}}}, nil
}

func (f *fakeAPI) CreateBucket(_ context.Context, in *awss3.CreateBucketInput, _ ...func(*awss3.Options)) (*awss3.CreateBucketOutput, error) {
	if f.createBucket == nil {
		return nil, f.unexpected("CreateBucket")
	}
	return f.createBucket(in)
}

func (f *fakeAPI) DeleteBucket(context.Context, *awss3.DeleteBucketInput, ...func(*awss3.Options)) (*awss3.DeleteBucketOutput, error) {
	return nil, f.unexpected("DeleteBucket")
}

func (f *fakeAPI) ListObjectsV2(_ context.Context, in *awss3.ListObjectsV2Input, _ ...func(*awss3.Options)) (*awss3.ListObjectsV2Output, error) {
	if f.listObjects == nil {
		return nil, f.unexpected("ListObjectsV2")
	}
	return f.listObjects(in)
}

func (f *fakeAPI) PutObject(_ context.Context, in *awss3.PutObjectInput, _ ...func(*awss3.Options)) (*awss3.PutObjectOutput, error) {
	if f.putObject == nil {
		return nil, f.unexpected("PutObject")
	}
	return f.putObject(in)
}

func (f *fakeAPI) GetObject(context.Context, *awss3.GetObjectInput, ...func(*awss3.Options)) (*awss3.GetObjectOutput, error) {
	return &awss3.GetObjectOutput{
		Body:          io.NopCloser(strings.NewReader("hello")),
		ContentLength: aws.Int64(5),
		ContentType:   aws.String("text/plain"),
		ETag:          aws.String(`"e1"`),
	}, nil
}

func (f *fakeAPI) HeadObject(_ context.Context, in *awss3.HeadObjectInput, _ ...func(*awss3.Options)) (*awss3.HeadObjectOutput, error) {
	if f.headObject == nil {
		return nil, f.unexpected("HeadObject")
	}
	return f.headObject(in)
}

func (f *fakeAPI) DeleteObject(context.Context, *awss3.DeleteObjectInput, ...func(*awss3.Options)) (*awss3.DeleteObjectOutput, error) {
	return &awss3.DeleteObjectOutput{}, nil
}

func (f *fakeAPI) CopyObject(_ context.Context, in *awss3.CopyObjectInput, _ ...func(*awss3.Options)) (*awss3.CopyObjectOutput, error) {
	if f.copyObject == nil {
		return nil, f.unexpected("CopyObject")
	}
	return f.copyObject(in)
}

func (f *fakeAPI) CreateMultipartUpload(_ context.Context, in *awss3.CreateMultipartUploadInput, _ ...func(*awss3.Options)) (*awss3.CreateMultipartUploadOutput, error) {
	if f.create == nil {
		return nil, f.unexpected("CreateMultipartUpload")
	}
	return f.create(in)
}

func (f *fakeAPI) UploadPart(_ context.Context, in *awss3.UploadPartInput, _ ...func(*awss3.Options)) (*awss3.UploadPartOutput, error) {
	if f.uploadPart == nil {
		return nil, f.unexpected("UploadPart")
	}
	return f.uploadPart(in)
}

func (f *fakeAPI) CompleteMultipartUpload(_ context.Context, in *awss3.CompleteMultipartUploadInput, _ ...func(*awss3.Options)) (*awss3.CompleteMultipartUploadOutput, error) {
	if f.complete == nil {
		return nil, f.unexpected("CompleteMultipartUpload")
	}
	return f.complete(in)
}

func (f *fakeAPI) AbortMultipartUpload(_ context.Context, in *awss3.AbortMultipartUploadInput, _ ...func(*awss3.Options)) (*awss3.AbortMultipartUploadOutput, error) {
	if f.abort == nil {
		return nil, f.unexpected("AbortMultipartUpload")
	}
	return f.abort(in)
}

func (f *fakeAPI) ListMultipartUploads(_ context.Context, in *awss3.ListMultipartUploadsInput, _ ...func(*awss3.Options)) (*awss3.ListMultipartUploadsOutput, error) {
	if f.listUploads == nil {
		return nil, f.unexpected("ListMultipartUploads")
	}
	return f.listUploads(in)
}

type fakePresigner struct {
	ttl time.Duration
}

func (p *fakePresigner) apply(optFns []func(*awss3.PresignOptions)) {
	var o awss3.PresignOptions
	for _, fn := range optFns {
		fn(&o)
	}
	p.ttl = o.Expires
}

func (p *fakePresigner) PresignGetObject(_ context.Context, in *awss3.GetObjectInput, optFns ...func(*awss3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	p.apply(optFns)
	return &v4.PresignedHTTPRequest{URL: "https://s3.test/" + aws.ToString(in.Bucket) + "/" + aws.ToString(in.Key), Method: http.MethodGet}, nil
}

func (p *fakePresigner) PresignPutObject(_ context.Context, in *awss3.PutObjectInput, optFns ...func(*awss3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	p.apply(optFns)
	return &v4.PresignedHTTPRequest{URL: "https://s3.test/put/" + aws.ToString(in.Key), Method: http.MethodPut}, nil
}

func newDriver(t *testing.T, api *fakeAPI) (*Driver, *fakePresigner) {
	api.t = t
	p := &fakePresigner{}
	return NewWithClient(api, p, "eu-west-1"), p
}

func TestDriver_MultipartRoundTrip(t *testing.T) {
	var (
		gotParts   []types.CompletedPart
		gotPartNum int32
		gotLength  int64
	)
	api := &fakeAPI{
		create: func(in *awss3.CreateMultipartUploadInput) (*awss3.CreateMultipartUploadOutput, error) {
			assert.Equal(t, "video/mp4", aws.ToString(in.ContentType))
			assert.Equal(t, map[string]string{"uploaded-by": "alice"}, in.Metadata)
			return &awss3.CreateMultipartUploadOutput{UploadId: aws.String("u-1")}, nil
		},
		uploadPart: func(in *awss3.UploadPartInput) (*awss3.UploadPartOutput, error) {
			gotPartNum = aws.ToInt32(in.PartNumber)
			gotLength = aws.ToInt64(in.ContentLength)
			assert.Equal(t, "u-1", aws.ToString(in.UploadId))
			return &awss3.UploadPartOutput{ETag: aws.String(`"p3"`)}, nil
		},
		complete: func(in *awss3.CompleteMultipartUploadInput) (*awss3.CompleteMultipartUploadOutput, error) {
			gotParts = in.MultipartUpload.Parts
			return &awss3.CompleteMultipartUploadOutput{
				ETag:     aws.String(`"final-2"`),
				Location: aws.String("https://s3.test/media/obj"),
			}, nil
		},
	}
	d, _ := newDriver(t, api)
	ctx := context.Background()

	id, err := d.CreateMultipartUpload(ctx, "media", "obj", filestore.PutOptions{
		ContentType: "video/mp4",
		Metadata:    map[string]string{"uploaded-by": "alice"},
	})
	require.NoError(t, err)
	assert.Equal(t, "u-1", id)

	etag, err := d.UploadPart(ctx, "media", "obj", id, 3, strings.NewReader("abc"), 3)
	require.NoError(t, err)
	assert.Equal(t, `"p3"`, etag)
	assert.Equal(t, int32(3), gotPartNum)
	assert.Equal(t, int64(3), gotLength)

	info, err := d.CompleteMultipartUpload(ctx, "media", "obj", id, []filestore.CompletedPart{
		{PartNumber: 1, ETag: `"p1"`},
		{PartNumber: 2, ETag: `"p2"`},
	})
	require.NoError(t, err)
	assert.Equal(t, `"final-2"`, info.ETag)
	assert.Equal(t, "https://s3.test/media/obj", info.Location)

	require.Len(t, gotParts, 2)
	assert.Equal(t, int32(1), aws.ToInt32(gotParts[0].PartNumber))
	assert.Equal(t, `"p2"`, aws.ToString(gotParts[1].ETag))
}

func TestDriver_AbortMapsNoSuchUpload(t *testing.T) {
	api := &fakeAPI{
		abort: func(*awss3.AbortMultipartUploadInput) (*awss3.AbortMultipartUploadOutput, error) {
			return nil, &types.NoSuchUpload{Message: aws.String("gone")}
		},
	}
	d, _ := newDriver(t, api)

	err := d.AbortMultipartUpload(context.Background(), "media", "obj", "u-1")
	assert.True(t, errs.IsNotFound(err))
}

func TestDriver_ListIncompleteUploadsFollowsMarkers(t *testing.T) {
	started := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	calls := 0
	api := &fakeAPI{
		listUploads: func(in *awss3.ListMultipartUploadsInput) (*awss3.ListMultipartUploadsOutput, error) {
			calls++
			assert.Equal(t, "tmp/", aws.ToString(in.Prefix))
			if calls == 1 {
				assert.Nil(t, in.KeyMarker)
				return &awss3.ListMultipartUploadsOutput{
					Uploads:            []types.MultipartUpload{{Key: aws.String("tmp/a"), UploadId: aws.String("u-a"), Initiated: aws.Time(started)}},
					IsTruncated:        aws.Bool(true),
					NextKeyMarker:      aws.String("tmp/a"),
					NextUploadIdMarker: aws.String("u-a"),
				}, nil
			}
			assert.Equal(t, "tmp/a", aws.ToString(in.KeyMarker))
			assert.Equal(t, "u-a", aws.ToString(in.UploadIdMarker))
			return &awss3.ListMultipartUploadsOutput{
				Uploads: []types.MultipartUpload{{Key: aws.String("tmp/b"), UploadId: aws.String("u-b")}},
			}, nil
		},
	}
	d, _ := newDriver(t, api)

	got, err := d.ListIncompleteUploads(context.Background(), "media", "tmp/")
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, []filestore.IncompleteUpload{
		{Bucket: "media", Key: "tmp/a", UploadID: "u-a", Initiated: started},
		{Bucket: "media", Key: "tmp/b", UploadID: "u-b"},
	}, got)
}

func TestDriver_ListObjects(t *testing.T) {
	api := &fakeAPI{
		listObjects: func(in *awss3.ListObjectsV2Input) (*awss3.ListObjectsV2Output, error) {
			assert.Equal(t, "/", aws.ToString(in.Delimiter))
			if in.ContinuationToken == nil {
				return &awss3.ListObjectsV2Output{
					CommonPrefixes:        []types.CommonPrefix{{Prefix: aws.String("dir/")}},
					Contents:              []types.Object{{Key: aws.String("a.txt"), Size: aws.Int64(3)}},
					IsTruncated:           aws.Bool(true),
					NextContinuationToken: aws.String("next"),
				}, nil
			}
			return &awss3.ListObjectsV2Output{
				Contents: []types.Object{{Key: aws.String("b.txt")}, {Key: aws.String("c.txt")}},
			}, nil
		},
	}
	d, _ := newDriver(t, api)

	got, err := d.ListObjects(context.Background(), "media", filestore.ListOptions{Limit: 3})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.True(t, got[0].IsDir)
	assert.Equal(t, "dir/", got[0].Key)
	assert.Equal(t, int64(3), got[1].Size)
	assert.Equal(t, "b.txt", got[2].Key)
}

func TestDriver_CreateBucketRegionConstraint(t *testing.T) {
	var got *awss3.CreateBucketInput
	api := &fakeAPI{
		createBucket: func(in *awss3.CreateBucketInput) (*awss3.CreateBucketOutput, error) {
			got = in
			return &awss3.CreateBucketOutput{}, nil
		},
	}
	d, _ := newDriver(t, api)

	require.NoError(t, d.CreateBucket(context.Background(), "media"))
	require.NotNil(t, got.CreateBucketConfiguration)
	assert.Equal(t, types.BucketLocationConstraint("eu-west-1"), got.CreateBucketConfiguration.LocationConstraint)

	d.region = "us-east-1"
	require.NoError(t, d.CreateBucket(context.Background(), "media"))
	assert.Nil(t, got.CreateBucketConfiguration)
}

func TestDriver_CopyObjectEncodesSource(t *testing.T) {
	api := &fakeAPI{
		copyObject: func(in *awss3.CopyObjectInput) (*awss3.CopyObjectOutput, error) {
			assert.Equal(t, "src/dir/my%20file.txt", aws.ToString(in.CopySource))
			return &awss3.CopyObjectOutput{CopyObjectResult: &types.CopyObjectResult{ETag: aws.String(`"c"`)}}, nil
		},
	}
	d, _ := newDriver(t, api)

	info, err := d.CopyObject(context.Background(), "src", "dir/my file.txt", "dst", "copy.txt")
	require.NoError(t, err)
	assert.Equal(t, `"c"`, info.ETag)
	assert.Equal(t, "dst", info.Bucket)
}

func TestDriver_GetAndStat(t *testing.T) {
	api := &fakeAPI{
		headObject: func(*awss3.HeadObjectInput) (*awss3.HeadObjectOutput, error) {
			return nil, &smithy.GenericAPIError{Code: "NotFound"}
		},
	}
	d, _ := newDriver(t, api)

	obj, err := d.GetObject(context.Background(), "media", "hello.txt")
	require.NoError(t, err)
	defer obj.Close()
	body, err := io.ReadAll(obj)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(body))
	assert.Equal(t, "text/plain", obj.Info().ContentType)

	_, err = d.StatObject(context.Background(), "media", "missing")
	assert.True(t, errs.IsNotFound(err))
}

func TestDriver_Presign(t *testing.T) {
	d, p := newDriver(t, &fakeAPI{})

	u, err := d.PresignGetURL(context.Background(), "media", "a.txt", 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "https://s3.test/media/a.txt", u)
	assert.Equal(t, 5*time.Minute, p.ttl)

	u, err = d.PresignPutURL(context.Background(), "media", "b.txt", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "https://s3.test/put/b.txt", u)
	assert.Equal(t, time.Hour, p.ttl)
}

func TestMapError(t *testing.T) {
	status := func(code int) error {
		return &smithyhttp.ResponseError{
			Response: &smithyhttp.Response{Response: &http.Response{StatusCode: code}},
			Err:      errors.New("boom"),
		}
	}

	tests := []struct {
		name string
		err  error
		want errs.ErrKind
	}{
		{"deadline", fmt.Errorf("op: %w", context.DeadlineExceeded), errs.ErrKindTimeout},
		{"no such key", &types.NoSuchKey{}, errs.ErrKindNotFound},
		{"no such bucket", &types.NoSuchBucket{}, errs.ErrKindNotFound},
		{"bucket owned", &types.BucketAlreadyOwnedByYou{}, errs.ErrKindConflict},
		{"access denied", &smithy.GenericAPIError{Code: "AccessDenied"}, errs.ErrKindPermissionDenied},
		{"entity too small", &smithy.GenericAPIError{Code: "EntityTooSmall"}, errs.ErrKindInvalidInput},
		{"slow down", &smithy.GenericAPIError{Code: "SlowDown"}, errs.ErrKindTimeout},
		{"server fault", &smithy.GenericAPIError{Code: "InternalError", Fault: smithy.FaultServer}, errs.ErrKindQueryFailed},
		{"http 404", status(http.StatusNotFound), errs.ErrKindNotFound},
		{"http 403", status(http.StatusForbidden), errs.ErrKindPermissionDenied},
		{"http 500", status(http.StatusInternalServerError), errs.ErrKindQueryFailed},
		{"network", errors.New("dial tcp: connection refused"), errs.ErrKindConnectionFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mapError(tt.err, "op")
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got.Kind)
			assert.ErrorIs(t, got, tt.err)
		})
	}
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	_, err := New(context.Background(), &filestore.Config{Provider: filestore.ProviderS3})
	assert.True(t, errs.IsInvalidInput(err))
}
