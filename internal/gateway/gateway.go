// Package gateway is the storage façade shared by the HTTP server and the
// CLI. It adds the behaviour callers expect on top of a filestore.Store:
// uploader metadata, content-type detection, default presign lifetimes,
// journaled multipart uploads and cleanup of abandoned sessions.
package gateway

import (
	"bytes"
	"context"
	"errors"
	"io"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/koustreak/objgate/internal/errs"
	"github.com/koustreak/objgate/internal/filestore"
	"github.com/koustreak/objgate/internal/journal"
	"github.com/koustreak/objgate/internal/logger"
	"github.com/koustreak/objgate/internal/multipart"
)

// MetaUploadedBy is the user-metadata key naming who wrote an object.
const MetaUploadedBy = "uploaded-by"

// DefaultPresignTTL applies when a caller asks for a presigned URL without
// a lifetime.
const DefaultPresignTTL = 10 * time.Minute

// sniffLen is how much of a body is inspected to detect its content type.
const sniffLen = 3072

// Options tunes a Service. Zero values take the defaults.
type Options struct {
	PresignTTL time.Duration
	UploadedBy string
}

// Service is safe for concurrent use.
type Service struct {
	store   filestore.Store
	mp      *multipart.Manager
	journal journal.Journal
	log     *logger.Logger
	opts    Options
	now     func() time.Time
}

// New returns a Service. A nil journal records nothing and a nil log
// discards output.
func New(store filestore.Store, mp *multipart.Manager, j journal.Journal, log *logger.Logger, opts Options) *Service {
	if j == nil {
		j = journal.Nop{}
	}
	if log == nil {
		log = logger.Nop()
	}
	if opts.PresignTTL <= 0 {
		opts.PresignTTL = DefaultPresignTTL
	}
	if opts.UploadedBy == "" {
		opts.UploadedBy = "objgate"
	}
	return &Service{store: store, mp: mp, journal: j, log: log, opts: opts, now: time.Now}
}

// Ping checks the storage backend.
func (s *Service) Ping(ctx context.Context) error { return s.store.Ping(ctx) }

// --- buckets ---

func (s *Service) CreateBucket(ctx context.Context, name string) error {
	if name == "" {
		return errs.New(errs.ErrKindInvalidInput, "bucket name is required")
	}
	if err := s.store.CreateBucket(ctx, name); err != nil {
		return err
	}
	s.log.With().Str("bucket", name).Logger().Info("bucket created")
	return nil
}

// ListBuckets returns bucket names.
func (s *Service) ListBuckets(ctx context.Context) ([]string, error) {
	buckets, err := s.store.ListBuckets(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(buckets))
	for i, b := range buckets {
		names[i] = b.Name
	}
	return names, nil
}

func (s *Service) DeleteBucket(ctx context.Context, name string) error {
	if name == "" {
		return errs.New(errs.ErrKindInvalidInput, "bucket name is required")
	}
	if err := s.store.DeleteBucket(ctx, name); err != nil {
		return err
	}
	s.log.With().Str("bucket", name).Logger().Info("bucket deleted")
	return nil
}

// --- objects ---

// ListObjects lists every key under prefix.
func (s *Service) ListObjects(ctx context.Context, bucket, prefix string) ([]filestore.ObjectInfo, error) {
	if bucket == "" {
		return nil, errs.New(errs.ErrKindInvalidInput, "bucket is required")
	}
	return s.store.ListObjects(ctx, bucket, filestore.ListOptions{Prefix: prefix, Recursive: true})
}

// Upload describes an object write.
type Upload struct {
	Bucket      string
	Key         string
	Body        io.Reader
	Size        int64  // -1 when unknown; single-shot uploads require it
	ContentType string // detected from the body when empty
	UploadedBy  string // Options.UploadedBy when empty
}

func (u *Upload) validate() error {
	if u.Bucket == "" || u.Key == "" {
		return errs.New(errs.ErrKindInvalidInput, "bucket and key are required")
	}
	if u.Body == nil {
		return errs.New(errs.ErrKindInvalidInput, "body is required")
	}
	return nil
}

// PutObject writes u in a single request.
func (s *Service) PutObject(ctx context.Context, u Upload) (*filestore.ObjectInfo, error) {
	if err := u.validate(); err != nil {
		return nil, err
	}
	if u.Size < 0 {
		return nil, errs.New(errs.ErrKindInvalidInput, "single-shot upload needs a known size")
	}

	body, opts, err := s.prepare(u)
	if err != nil {
		return nil, err
	}

	info, err := s.store.PutObject(ctx, u.Bucket, u.Key, body, u.Size, opts)
	if err != nil {
		return nil, err
	}
	s.log.InfoWith("object uploaded", map[string]any{
		"bucket":       u.Bucket,
		"key":          u.Key,
		"size":         u.Size,
		"content_type": opts.ContentType,
	})
	return info, nil
}

// prepare fills in the content type and uploader metadata. When the type
// has to be sniffed, the inspected prefix is stitched back onto the body.
func (s *Service) prepare(u Upload) (io.Reader, filestore.PutOptions, error) {
	by := u.UploadedBy
	if by == "" {
		by = s.opts.UploadedBy
	}
	opts := filestore.PutOptions{
		ContentType: u.ContentType,
		Metadata:    map[string]string{MetaUploadedBy: by},
	}
	if opts.ContentType != "" {
		return u.Body, opts, nil
	}

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(u.Body, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, opts, errs.Wrap(errs.ErrKindInvalidInput, "failed to read upload body", err)
	}
	head = head[:n]

	opts.ContentType = "application/octet-stream"
	if n > 0 {
		opts.ContentType = mimetype.Detect(head).String()
	}
	return io.MultiReader(bytes.NewReader(head), u.Body), opts, nil
}

// GetObject opens the object for reading. The caller closes it.
func (s *Service) GetObject(ctx context.Context, bucket, key string) (filestore.Object, error) {
	if bucket == "" || key == "" {
		return nil, errs.New(errs.ErrKindInvalidInput, "bucket and key are required")
	}
	return s.store.GetObject(ctx, bucket, key)
}

func (s *Service) DeleteObject(ctx context.Context, bucket, key string) error {
	if bucket == "" || key == "" {
		return errs.New(errs.ErrKindInvalidInput, "bucket and key are required")
	}
	return s.store.DeleteObject(ctx, bucket, key)
}

func (s *Service) CopyObject(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string) (*filestore.ObjectInfo, error) {
	if srcBucket == "" || srcKey == "" || dstBucket == "" || dstKey == "" {
		return nil, errs.New(errs.ErrKindInvalidInput, "source and destination bucket and key are required")
	}
	return s.store.CopyObject(ctx, srcBucket, srcKey, dstBucket, dstKey)
}

// PresignGet returns a download URL valid for ttl, or the default lifetime
// when ttl is zero.
func (s *Service) PresignGet(ctx context.Context, bucket, key string, ttl time.Duration) (string, time.Duration, error) {
	ttl, err := s.ttl(bucket, key, ttl)
	if err != nil {
		return "", 0, err
	}
	u, err := s.store.PresignGetURL(ctx, bucket, key, ttl)
	return u, ttl, err
}

// PresignPut returns an upload URL valid for ttl, or the default lifetime
// when ttl is zero.
func (s *Service) PresignPut(ctx context.Context, bucket, key string, ttl time.Duration) (string, time.Duration, error) {
	ttl, err := s.ttl(bucket, key, ttl)
	if err != nil {
		return "", 0, err
	}
	u, err := s.store.PresignPutURL(ctx, bucket, key, ttl)
	return u, ttl, err
}

// maxPresignTTL is the SigV4 ceiling.
const maxPresignTTL = 7 * 24 * time.Hour

func (s *Service) ttl(bucket, key string, ttl time.Duration) (time.Duration, error) {
	if bucket == "" || key == "" {
		return 0, errs.New(errs.ErrKindInvalidInput, "bucket and key are required")
	}
	switch {
	case ttl == 0:
		return s.opts.PresignTTL, nil
	case ttl < 0 || ttl > maxPresignTTL:
		return 0, errs.Invalidf("presign lifetime %s is outside (0, %s]", ttl, maxPresignTTL)
	}
	return ttl, nil
}
