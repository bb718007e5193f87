package multipart

import (
	"context"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/koustreak/objgate/internal/filestore"
	"github.com/koustreak/objgate/internal/filestore/memory"
)

// fakeStore delegates to an in-memory backend unless a hook overrides a
// call, and counts every call it sees.
type fakeStore struct {
	inner *memory.Store

	CreateFunc   func(ctx context.Context, bucket, key string) (string, error)
	UploadFunc   func(ctx context.Context, partNumber int, data io.Reader, size int64) (string, error)
	CompleteFunc func(ctx context.Context, parts []filestore.CompletedPart) (*filestore.ObjectInfo, error)
	AbortFunc    func(ctx context.Context, uploadID string) error

	mu          sync.Mutex
	creates     int
	uploads     int
	partSizes   map[int]int64
	completes   int
	aborts      int
	abortedIDs  []string
	committed   []filestore.CompletedPart
	openedID    string
	inFlight    int
	maxInFlight int
}

func newFakeStore(t *testing.T) *fakeStore {
	t.Helper()
	inner := memory.New()
	require.NoError(t, inner.CreateBucket(context.Background(), "bucket"))
	return &fakeStore{inner: inner, partSizes: make(map[int]int64)}
}

func (f *fakeStore) CreateMultipartUpload(ctx context.Context, bucket, key string, opts filestore.PutOptions) (string, error) {
	f.mu.Lock()
	f.creates++
	f.mu.Unlock()

	var (
		id  string
		err error
	)
	if f.CreateFunc != nil {
		id, err = f.CreateFunc(ctx, bucket, key)
	} else {
		id, err = f.inner.CreateMultipartUpload(ctx, bucket, key, opts)
	}

	f.mu.Lock()
	f.openedID = id
	f.mu.Unlock()
	return id, err
}

func (f *fakeStore) UploadPart(ctx context.Context, bucket, key, uploadID string, partNumber int, data io.Reader, size int64) (string, error) {
	f.mu.Lock()
	f.uploads++
	f.partSizes[partNumber] = size
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if f.UploadFunc != nil {
		return f.UploadFunc(ctx, partNumber, data, size)
	}
	return f.inner.UploadPart(ctx, bucket, key, uploadID, partNumber, data, size)
}

func (f *fakeStore) CompleteMultipartUpload(ctx context.Context, bucket, key, uploadID string, parts []filestore.CompletedPart) (*filestore.ObjectInfo, error) {
	f.mu.Lock()
	f.completes++
	f.committed = append([]filestore.CompletedPart(nil), parts...)
	f.mu.Unlock()

	if f.CompleteFunc != nil {
		return f.CompleteFunc(ctx, parts)
	}
	return f.inner.CompleteMultipartUpload(ctx, bucket, key, uploadID, parts)
}

func (f *fakeStore) AbortMultipartUpload(ctx context.Context, bucket, key, uploadID string) error {
	f.mu.Lock()
	f.aborts++
	f.abortedIDs = append(f.abortedIDs, uploadID)
	f.mu.Unlock()

	if f.AbortFunc != nil {
		return f.AbortFunc(ctx, uploadID)
	}
	return f.inner.AbortMultipartUpload(ctx, bucket, key, uploadID)
}

type counts struct {
	creates, uploads, completes, aborts int
}

func (f *fakeStore) counts() counts {
	f.mu.Lock()
	defer f.mu.Unlock()
	return counts{f.creates, f.uploads, f.completes, f.aborts}
}
