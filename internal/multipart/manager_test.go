package multipart

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"testing/iotest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koustreak/objgate/internal/errs"
	"github.com/koustreak/objgate/internal/filestore"
)

const MiB = 1 << 20

func payload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 251)
	}
	return b
}

func newManager(t *testing.T, store filestore.MultipartStore, concurrency int) *Manager {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Concurrency = concurrency
	cfg.AbortTimeout = time.Second
	m, err := New(store, cfg, nil)
	require.NoError(t, err)
	return m
}

// uploaders runs both entry points so every property is checked for the
// streaming and the in-memory path.
var uploaders = map[string]func(m *Manager, ctx context.Context, data []byte) (*Result, error){
	"stream": func(m *Manager, ctx context.Context, data []byte) (*Result, error) {
		return m.Upload(ctx, "bucket", "obj", iotest.HalfReader(bytes.NewReader(data)), filestore.PutOptions{})
	},
	"bytes": func(m *Manager, ctx context.Context, data []byte) (*Result, error) {
		return m.UploadBytes(ctx, "bucket", "obj", data, filestore.PutOptions{})
	},
}

func TestManager_Upload_TwelveMiB(t *testing.T) {
	for name, upload := range uploaders {
		for _, concurrency := range []int{1, 3} {
			t.Run(name, func(t *testing.T) {
				store := newFakeStore(t)
				m := newManager(t, store, concurrency)
				data := payload(12 * MiB)

				res, err := upload(m, context.Background(), data)
				require.NoError(t, err)

				assert.Equal(t, map[int]int64{1: 5 * MiB, 2: 5 * MiB, 3: 2 * MiB}, store.partSizes)
				require.Len(t, store.committed, 3)
				for i, p := range store.committed {
					assert.Equal(t, i+1, p.PartNumber)
					assert.NotEmpty(t, p.ETag)
				}
				assert.Equal(t, counts{creates: 1, uploads: 3, completes: 1, aborts: 0}, store.counts())

				assert.Equal(t, int64(12*MiB), res.Size)
				assert.Equal(t, store.openedID, res.UploadID)
				assert.Len(t, res.Parts, 3)

				obj, err := store.inner.GetObject(context.Background(), "bucket", "obj")
				require.NoError(t, err)
				got, err := io.ReadAll(obj)
				require.NoError(t, err)
				assert.True(t, bytes.Equal(data, got), "committed object differs from payload")
			})
		}
	}
}

func TestManager_Upload_SmallPayloadSinglePart(t *testing.T) {
	store := newFakeStore(t)
	m := newManager(t, store, 2)

	res, err := m.UploadBytes(context.Background(), "bucket", "obj", []byte("tiny"), filestore.PutOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(4), res.Size)
	assert.Equal(t, []filestore.CompletedPart{{PartNumber: 1, ETag: store.committed[0].ETag}}, store.committed)
}

func TestManager_Upload_EmptyPayload(t *testing.T) {
	for name, upload := range uploaders {
		t.Run(name, func(t *testing.T) {
			store := newFakeStore(t)
			m := newManager(t, store, 1)

			_, err := upload(m, context.Background(), nil)
			require.ErrorIs(t, err, ErrEmptyPayload)
			assert.True(t, errs.IsInvalidInput(err))
			assert.Equal(t, counts{}, store.counts())
		})
	}
}

func TestManager_Upload_MissingBucketOrKey(t *testing.T) {
	store := newFakeStore(t)
	m := newManager(t, store, 1)

	_, err := m.UploadBytes(context.Background(), "", "obj", []byte("x"), filestore.PutOptions{})
	assert.True(t, errs.IsInvalidInput(err))
	assert.Equal(t, counts{}, store.counts())
}

func TestManager_Upload_OpenFails(t *testing.T) {
	store := newFakeStore(t)
	store.CreateFunc = func(context.Context, string, string) (string, error) {
		return "", errs.New(errs.ErrKindPermissionDenied, "AccessDenied")
	}
	m := newManager(t, store, 2)

	_, err := m.UploadBytes(context.Background(), "bucket", "obj", payload(6*MiB), filestore.PutOptions{})
	require.ErrorIs(t, err, ErrSessionOpen)
	assert.True(t, errs.IsPermissionDenied(err))

	var merr *Error
	require.ErrorAs(t, err, &merr)
	assert.Empty(t, merr.UploadID)
	assert.Nil(t, merr.Abort)
	assert.Equal(t, counts{creates: 1}, store.counts())
}

func TestManager_Upload_EmptyUploadIDIsOpenFailure(t *testing.T) {
	store := newFakeStore(t)
	store.CreateFunc = func(context.Context, string, string) (string, error) { return "", nil }
	m := newManager(t, store, 1)

	_, err := m.UploadBytes(context.Background(), "bucket", "obj", []byte("x"), filestore.PutOptions{})
	require.ErrorIs(t, err, ErrSessionOpen)
	assert.Equal(t, counts{creates: 1}, store.counts())
}

func TestManager_Upload_SecondPartFails(t *testing.T) {
	for name, upload := range uploaders {
		for _, concurrency := range []int{1, 4} {
			t.Run(name, func(t *testing.T) {
				store := newFakeStore(t)
				partErr := errs.New(errs.ErrKindConnectionFailed, "connection reset")
				store.UploadFunc = func(ctx context.Context, n int, data io.Reader, size int64) (string, error) {
					if n == 2 {
						return "", partErr
					}
					return store.inner.UploadPart(ctx, "bucket", "obj", store.openedID, n, data, size)
				}
				m := newManager(t, store, concurrency)

				_, err := upload(m, context.Background(), payload(12*MiB))
				require.ErrorIs(t, err, ErrPartUpload)
				assert.NotErrorIs(t, err, ErrCommit)
				assert.ErrorIs(t, err, partErr)

				var merr *Error
				require.ErrorAs(t, err, &merr)
				assert.Equal(t, 2, merr.PartNumber)
				assert.Equal(t, store.openedID, merr.UploadID)
				assert.Nil(t, merr.Abort)

				c := store.counts()
				assert.Equal(t, 1, c.aborts)
				assert.Equal(t, 0, c.completes)
				assert.Equal(t, []string{store.openedID}, store.abortedIDs)
				assert.Equal(t, -1, store.inner.PartCount(store.openedID), "session must be gone after abort")
			})
		}
	}
}

func TestManager_Upload_CommitFails(t *testing.T) {
	store := newFakeStore(t)
	store.CompleteFunc = func(context.Context, []filestore.CompletedPart) (*filestore.ObjectInfo, error) {
		return nil, errs.Invalidf("InvalidPart: etag mismatch")
	}
	m := newManager(t, store, 2)

	_, err := m.UploadBytes(context.Background(), "bucket", "obj", payload(11*MiB), filestore.PutOptions{})
	require.ErrorIs(t, err, ErrCommit)
	assert.True(t, errs.IsInvalidInput(err))
	assert.Equal(t, StageCommit, StageOf(err))

	assert.Equal(t, counts{creates: 1, uploads: 3, completes: 1, aborts: 1}, store.counts())
	assert.Equal(t, []string{store.openedID}, store.abortedIDs)

	_, err = store.inner.StatObject(context.Background(), "bucket", "obj")
	assert.True(t, errs.IsNotFound(err), "no object may exist after a failed commit")
}

func TestManager_Upload_AbortFailureDoesNotMaskCause(t *testing.T) {
	store := newFakeStore(t)
	store.UploadFunc = func(context.Context, int, io.Reader, int64) (string, error) {
		return "", errors.New("part rejected")
	}
	abortErr := errors.New("abort timed out")
	store.AbortFunc = func(context.Context, string) error { return abortErr }
	m := newManager(t, store, 1)

	_, err := m.UploadBytes(context.Background(), "bucket", "obj", payload(MiB), filestore.PutOptions{})
	require.ErrorIs(t, err, ErrPartUpload)
	assert.NotErrorIs(t, err, ErrAbort)
	assert.NotErrorIs(t, err, abortErr)

	var merr *Error
	require.ErrorAs(t, err, &merr)
	require.NotNil(t, merr.Abort)
	assert.ErrorIs(t, merr.Abort, ErrAbort)
	assert.ErrorIs(t, merr.Abort, abortErr)
	assert.Contains(t, err.Error(), "part rejected")
	assert.Equal(t, 1, store.counts().aborts)
}

func TestManager_Upload_CancelledStillAborts(t *testing.T) {
	store := newFakeStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store.UploadFunc = func(ctx context.Context, n int, _ io.Reader, _ int64) (string, error) {
		cancel()
		return "", ctx.Err()
	}
	var abortCtxErr error
	store.AbortFunc = func(ctx context.Context, id string) error {
		abortCtxErr = ctx.Err()
		return store.inner.AbortMultipartUpload(ctx, "bucket", "obj", id)
	}
	m := newManager(t, store, 1)

	_, err := m.UploadBytes(ctx, "bucket", "obj", payload(7*MiB), filestore.PutOptions{})
	require.ErrorIs(t, err, ErrPartUpload)
	assert.Equal(t, 1, store.counts().aborts)
	assert.NoError(t, abortCtxErr, "abort must run on a live context")
	assert.Equal(t, 0, store.counts().completes)
}

func TestManager_Upload_SourceErrorMidStream(t *testing.T) {
	store := newFakeStore(t)
	m := newManager(t, store, 1)

	readErr := errors.New("client went away")
	src := io.MultiReader(bytes.NewReader(payload(5*MiB)), iotest.ErrReader(readErr))

	_, err := m.Upload(context.Background(), "bucket", "obj", src, filestore.PutOptions{})
	require.ErrorIs(t, err, ErrPartUpload)
	assert.ErrorIs(t, err, readErr)

	var merr *Error
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, 2, merr.PartNumber)
	assert.Equal(t, counts{creates: 1, uploads: 1, completes: 0, aborts: 1}, store.counts())
}

func TestManager_Upload_SourceErrorBeforeOpen(t *testing.T) {
	store := newFakeStore(t)
	m := newManager(t, store, 1)

	_, err := m.Upload(context.Background(), "bucket", "obj", iotest.ErrReader(errors.New("boom")), filestore.PutOptions{})
	require.Error(t, err)
	assert.Equal(t, Stage(0), StageOf(err))
	assert.Equal(t, counts{}, store.counts())
}

func TestManager_Upload_RespectsConcurrencyLimit(t *testing.T) {
	store := newFakeStore(t)
	store.UploadFunc = func(ctx context.Context, n int, data io.Reader, size int64) (string, error) {
		time.Sleep(20 * time.Millisecond)
		return store.inner.UploadPart(ctx, "bucket", "obj", store.openedID, n, data, size)
	}
	m := newManager(t, store, 2)

	_, err := m.UploadBytes(context.Background(), "bucket", "obj", payload(21*MiB), filestore.PutOptions{})
	require.NoError(t, err)

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.LessOrEqual(t, store.maxInFlight, 2)
	require.Len(t, store.committed, 5)
	for i, p := range store.committed {
		assert.Equal(t, i+1, p.PartNumber)
	}
}

func TestManager_UploadBytes_ExactMultipleOfPartSize(t *testing.T) {
	store := newFakeStore(t)
	m := newManager(t, store, 2)

	res, err := m.UploadBytes(context.Background(), "bucket", "obj", payload(10*MiB), filestore.PutOptions{ContentType: "video/mp4"})
	require.NoError(t, err)
	assert.Len(t, res.Parts, 2)

	info, err := store.inner.StatObject(context.Background(), "bucket", "obj")
	require.NoError(t, err)
	assert.Equal(t, "video/mp4", info.ContentType)
	assert.Equal(t, res.ETag, info.ETag)
}

func TestNew_ValidatesConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"part size below minimum", Config{PartSize: MinPartSize - 1, Concurrency: 1, AbortTimeout: time.Second}},
		{"zero concurrency", Config{PartSize: MinPartSize, Concurrency: 0, AbortTimeout: time.Second}},
		{"zero abort timeout", Config{PartSize: MinPartSize, Concurrency: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(newFakeStore(t), &tt.cfg, nil)
			assert.True(t, errs.IsInvalidInput(err))
		})
	}

	m, err := New(newFakeStore(t), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, *DefaultConfig(), m.Config())
}
