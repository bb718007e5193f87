// Package memory provides an in-process implementation of filestore.Store.
//
// It enforces the same multipart rules an S3-compatible backend applies at
// commit time (ascending part numbers, matching ETags, minimum size for every
// part but the last), which makes it suitable for local development and for
// exercising the upload protocol in tests.
package memory

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/koustreak/objgate/internal/errs"
	"github.com/koustreak/objgate/internal/filestore"
)

type object struct {
	data        []byte
	contentType string
	etag        string
	metadata    map[string]string
	modified    time.Time
}

type upload struct {
	bucket    string
	key       string
	opts      filestore.PutOptions
	parts     map[int][]byte
	etags     map[int]string
	initiated time.Time
}

type bucket struct {
	created time.Time
	objects map[string]*object
}

// Store is an in-memory filestore.Store. It is safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	uploads map[string]*upload
	now     func() time.Time
}

var _ filestore.Store = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	return &Store{
		buckets: make(map[string]*bucket),
		uploads: make(map[string]*upload),
		now:     time.Now,
	}
}

func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

func (s *Store) Close() error { return nil }

func (s *Store) CreateBucket(_ context.Context, name string) error {
	if name == "" {
		return errs.New(errs.ErrKindInvalidInput, "bucket name is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.buckets[name]; ok {
		return errs.New(errs.ErrKindConflict, fmt.Sprintf("BucketAlreadyOwnedByYou: %q", name))
	}
	s.buckets[name] = &bucket{created: s.now(), objects: make(map[string]*object)}
	return nil
}

func (s *Store) ListBuckets(_ context.Context) ([]filestore.BucketInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]filestore.BucketInfo, 0, len(s.buckets))
	for name, b := range s.buckets {
		out = append(out, filestore.BucketInfo{Name: name, CreatedAt: b.created})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) DeleteBucket(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := s.bucketLocked(name)
	if err != nil {
		return err
	}
	if len(b.objects) > 0 {
		return errs.New(errs.ErrKindConflict, fmt.Sprintf("bucket %q is not empty", name))
	}
	delete(s.buckets, name)
	return nil
}

func (s *Store) ListObjects(_ context.Context, name string, opts filestore.ListOptions) ([]filestore.ObjectInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := s.bucketLocked(name)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(b.objects))
	for k := range b.objects {
		if strings.HasPrefix(k, opts.Prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var out []filestore.ObjectInfo
	seenDirs := make(map[string]bool)
	for _, k := range keys {
		if !opts.Recursive {
			rest := strings.TrimPrefix(k, opts.Prefix)
			if i := strings.Index(rest, "/"); i >= 0 {
				dir := opts.Prefix + rest[:i+1]
				if !seenDirs[dir] {
					seenDirs[dir] = true
					out = append(out, filestore.ObjectInfo{Key: dir, Size: -1, IsDir: true})
				}
				continue
			}
		}
		out = append(out, info(name, k, b.objects[k]))
		if opts.Limit > 0 && len(out) >= opts.Limit {
			break
		}
	}
	return out, nil
}

func (s *Store) PutObject(_ context.Context, name, key string, r io.Reader, size int64, opts filestore.PutOptions) (*filestore.ObjectInfo, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindQueryFailed, "failed to read object body", err)
	}
	if size >= 0 && int64(len(data)) != size {
		return nil, errs.Invalidf("body has %d bytes, declared %d", len(data), size)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := s.bucketLocked(name)
	if err != nil {
		return nil, err
	}
	obj := &object{
		data:        data,
		contentType: opts.ContentType,
		etag:        md5Hex(data),
		metadata:    copyMeta(opts.Metadata),
		modified:    s.now(),
	}
	b.objects[key] = obj
	i := info(name, key, obj)
	return &i, nil
}

func (s *Store) GetObject(_ context.Context, name, key string) (filestore.Object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	obj, err := s.objectLocked(name, key)
	if err != nil {
		return nil, err
	}
	i := info(name, key, obj)
	return &reader{Reader: bytes.NewReader(obj.data), info: &i}, nil
}

func (s *Store) StatObject(_ context.Context, name, key string) (*filestore.ObjectInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	obj, err := s.objectLocked(name, key)
	if err != nil {
		return nil, err
	}
	i := info(name, key, obj)
	return &i, nil
}

func (s *Store) DeleteObject(_ context.Context, name, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := s.bucketLocked(name)
	if err != nil {
		return err
	}
	delete(b.objects, key)
	return nil
}

func (s *Store) CopyObject(_ context.Context, srcBucket, srcKey, dstBucket, dstKey string) (*filestore.ObjectInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	src, err := s.objectLocked(srcBucket, srcKey)
	if err != nil {
		return nil, err
	}
	dst, err := s.bucketLocked(dstBucket)
	if err != nil {
		return nil, err
	}
	cp := *src
	cp.data = append([]byte(nil), src.data...)
	cp.metadata = copyMeta(src.metadata)
	cp.modified = s.now()
	dst.objects[dstKey] = &cp
	i := info(dstBucket, dstKey, &cp)
	return &i, nil
}

func (s *Store) PresignGetURL(_ context.Context, name, key string, ttl time.Duration) (string, error) {
	return s.presign("GET", name, key, ttl)
}

func (s *Store) PresignPutURL(_ context.Context, name, key string, ttl time.Duration) (string, error) {
	return s.presign("PUT", name, key, ttl)
}

func (s *Store) presign(method, name, key string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		return "", errs.Invalidf("presign ttl must be positive, got %s", ttl)
	}
	s.mu.Lock()
	_, err := s.bucketLocked(name)
	s.mu.Unlock()
	if err != nil {
		return "", err
	}

	u := url.URL{Scheme: "memory", Host: name, Path: "/" + key}
	q := u.Query()
	q.Set("method", method)
	q.Set("expires", s.now().Add(ttl).UTC().Format(time.RFC3339))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// --- multipart ---

func (s *Store) CreateMultipartUpload(_ context.Context, name, key string, opts filestore.PutOptions) (string, error) {
	if key == "" {
		return "", errs.New(errs.ErrKindInvalidInput, "object key is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.bucketLocked(name); err != nil {
		return "", err
	}
	id := uuid.NewString()
	s.uploads[id] = &upload{
		bucket:    name,
		key:       key,
		opts:      filestore.PutOptions{ContentType: opts.ContentType, Metadata: copyMeta(opts.Metadata)},
		parts:     make(map[int][]byte),
		etags:     make(map[int]string),
		initiated: s.now(),
	}
	return id, nil
}

func (s *Store) UploadPart(_ context.Context, name, key, uploadID string, partNumber int, data io.Reader, size int64) (string, error) {
	if partNumber < 1 || partNumber > filestore.MaxParts {
		return "", errs.Invalidf("part number %d outside 1..%d", partNumber, filestore.MaxParts)
	}
	body, err := io.ReadAll(data)
	if err != nil {
		return "", errs.Wrap(errs.ErrKindQueryFailed, "failed to read part body", err)
	}
	if int64(len(body)) != size {
		return "", errs.Invalidf("part %d has %d bytes, declared %d", partNumber, len(body), size)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, err := s.uploadLocked(name, key, uploadID)
	if err != nil {
		return "", err
	}
	etag := md5Hex(body)
	u.parts[partNumber] = body
	u.etags[partNumber] = etag
	return etag, nil
}

func (s *Store) CompleteMultipartUpload(_ context.Context, name, key, uploadID string, parts []filestore.CompletedPart) (*filestore.ObjectInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, err := s.uploadLocked(name, key, uploadID)
	if err != nil {
		return nil, err
	}
	b, err := s.bucketLocked(name)
	if err != nil {
		return nil, err
	}
	if len(parts) == 0 {
		return nil, errs.New(errs.ErrKindInvalidInput, "MalformedXML: no parts given")
	}

	var (
		buf  bytes.Buffer
		sums []byte
	)
	for i, p := range parts {
		if i > 0 && p.PartNumber <= parts[i-1].PartNumber {
			return nil, errs.Invalidf("InvalidPartOrder: part %d listed after part %d", p.PartNumber, parts[i-1].PartNumber)
		}
		data, ok := u.parts[p.PartNumber]
		if !ok || u.etags[p.PartNumber] != p.ETag {
			return nil, errs.Invalidf("InvalidPart: part %d not found or etag mismatch", p.PartNumber)
		}
		if i < len(parts)-1 && int64(len(data)) < filestore.MinPartSize {
			return nil, errs.Invalidf("EntityTooSmall: part %d is %d bytes", p.PartNumber, len(data))
		}
		buf.Write(data)
		raw, _ := hex.DecodeString(p.ETag)
		sums = append(sums, raw...)
	}

	obj := &object{
		data:        buf.Bytes(),
		contentType: u.opts.ContentType,
		etag:        fmt.Sprintf("%s-%d", md5Hex(sums), len(parts)),
		metadata:    u.opts.Metadata,
		modified:    s.now(),
	}
	b.objects[key] = obj
	delete(s.uploads, uploadID)

	i := info(name, key, obj)
	return &i, nil
}

func (s *Store) AbortMultipartUpload(_ context.Context, name, key, uploadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.uploadLocked(name, key, uploadID); err != nil {
		return err
	}
	delete(s.uploads, uploadID)
	return nil
}

func (s *Store) ListIncompleteUploads(_ context.Context, name, prefix string) ([]filestore.IncompleteUpload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.bucketLocked(name); err != nil {
		return nil, err
	}
	var out []filestore.IncompleteUpload
	for id, u := range s.uploads {
		if u.bucket == name && strings.HasPrefix(u.key, prefix) {
			out = append(out, filestore.IncompleteUpload{Bucket: name, Key: u.key, UploadID: id, Initiated: u.initiated})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Initiated.Before(out[j].Initiated) })
	return out, nil
}

// PartCount reports how many parts the open session holds. Sessions that
// are unknown, committed or aborted report -1.
func (s *Store) PartCount(uploadID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.uploads[uploadID]
	if !ok {
		return -1
	}
	return len(u.parts)
}

// --- helpers ---

func (s *Store) bucketLocked(name string) (*bucket, error) {
	b, ok := s.buckets[name]
	if !ok {
		return nil, errs.New(errs.ErrKindNotFound, fmt.Sprintf("NoSuchBucket: %q", name))
	}
	return b, nil
}

func (s *Store) objectLocked(name, key string) (*object, error) {
	b, err := s.bucketLocked(name)
	if err != nil {
		return nil, err
	}
	obj, ok := b.objects[key]
	if !ok {
		return nil, errs.New(errs.ErrKindNotFound, fmt.Sprintf("NoSuchKey: %s/%s", name, key))
	}
	return obj, nil
}

func (s *Store) uploadLocked(name, key, uploadID string) (*upload, error) {
	u, ok := s.uploads[uploadID]
	if !ok || u.bucket != name || u.key != key {
		return nil, errs.New(errs.ErrKindNotFound, fmt.Sprintf("NoSuchUpload: %s", uploadID))
	}
	return u, nil
}

func info(name, key string, obj *object) filestore.ObjectInfo {
	return filestore.ObjectInfo{
		Bucket:       name,
		Key:          key,
		Size:         int64(len(obj.data)),
		ContentType:  obj.contentType,
		ETag:         obj.etag,
		LastModified: obj.modified,
		Metadata:     copyMeta(obj.metadata),
	}
}

func md5Hex(b []byte) string {
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:])
}

func copyMeta(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

type reader struct {
	*bytes.Reader
	info *filestore.ObjectInfo
}

func (r *reader) Close() error { return nil }

func (r *reader) Info() *filestore.ObjectInfo { return r.info }
