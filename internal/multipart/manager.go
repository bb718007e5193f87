// Package multipart writes one object as a sequence of parts under a single
// backend upload session, with all-or-nothing semantics: an Upload either
// returns a committed object or leaves no object behind, aborting the
// session on the backend after any failure.
//
// Usage:
//
//	m, err := multipart.New(store, multipart.DefaultConfig(), log)
//	res, err := m.Upload(ctx, "media", "videos/intro.mp4", file, filestore.PutOptions{})
//	switch {
//	case errors.Is(err, multipart.ErrPartUpload):
//	    // the session was aborted; see err.(*multipart.Error).Abort
//	}
package multipart

import (
	"bytes"
	"context"
	"errors"
	"io"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/koustreak/objgate/internal/errs"
	"github.com/koustreak/objgate/internal/filestore"
	"github.com/koustreak/objgate/internal/logger"
)

// MinPartSize is the backend minimum for every part but the last.
const MinPartSize = filestore.MinPartSize

// Config tunes the manager.
type Config struct {
	// PartSize is the size of every part but the last. Must be >= MinPartSize.
	PartSize int64 `yaml:"part_size"`

	// Concurrency is the number of parts uploaded in parallel. 1 uploads
	// strictly one part after another.
	Concurrency int `yaml:"concurrency"`

	// AbortTimeout bounds the cleanup request after a failure. It runs on a
	// context detached from the caller's, so a cancelled request still
	// releases its session.
	AbortTimeout time.Duration `yaml:"abort_timeout"`
}

// DefaultConfig returns 5 MiB parts, four workers and a 30s abort budget.
func DefaultConfig() *Config {
	return &Config{
		PartSize:     MinPartSize,
		Concurrency:  4,
		AbortTimeout: 30 * time.Second,
	}
}

// Validate checks the configuration against backend limits.
func (c *Config) Validate() error {
	if c.PartSize < MinPartSize {
		return errs.Invalidf("part size %d is below the %d byte minimum", c.PartSize, MinPartSize)
	}
	if c.Concurrency < 1 {
		return errs.Invalidf("concurrency must be at least 1, got %d", c.Concurrency)
	}
	if c.AbortTimeout <= 0 {
		return errs.Invalidf("abort timeout must be positive, got %s", c.AbortTimeout)
	}
	return nil
}

// Result references the committed object.
type Result struct {
	Bucket    string                    `json:"bucket"`
	Key       string                    `json:"key"`
	UploadID  string                    `json:"upload_id"`
	ETag      string                    `json:"etag"`
	VersionID string                    `json:"version_id,omitempty"`
	Location  string                    `json:"location,omitempty"`
	Size      int64                     `json:"size"`
	Parts     []filestore.CompletedPart `json:"parts"`
}

// Manager orchestrates multipart uploads against a MultipartStore. It holds
// no per-upload state and is safe for concurrent use; every Upload call owns
// its own session.
type Manager struct {
	store filestore.MultipartStore
	cfg   Config
	log   *logger.Logger
}

// New validates cfg and returns a Manager. A nil cfg means DefaultConfig and
// a nil log discards output.
func New(store filestore.MultipartStore, cfg *Config, log *logger.Logger) (*Manager, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Manager{store: store, cfg: *cfg, log: log}, nil
}

// Config returns the manager's settings.
func (m *Manager) Config() Config { return m.cfg }

// Upload streams r to bucket/key in parts of Config.PartSize. Parts are read
// lazily; at most Concurrency+1 part buffers are alive at once.
func (m *Manager) Upload(ctx context.Context, bucket, key string, r io.Reader, opts filestore.PutOptions) (*Result, error) {
	return m.run(ctx, bucket, key, NewPartitioner(r, m.cfg.PartSize), opts)
}

// UploadBytes uploads an in-memory payload. Parts alias payload, which must
// not be modified until UploadBytes returns.
func (m *Manager) UploadBytes(ctx context.Context, bucket, key string, payload []byte, opts filestore.PutOptions) (*Result, error) {
	parts, err := Split(payload, m.cfg.PartSize)
	if err != nil {
		return nil, err
	}
	return m.run(ctx, bucket, key, &slices{parts: parts}, opts)
}

func (m *Manager) run(ctx context.Context, bucket, key string, src source, opts filestore.PutOptions) (*Result, error) {
	if bucket == "" || key == "" {
		return nil, errs.New(errs.ErrKindInvalidInput, "bucket and key are required")
	}

	// The first part is read before the session opens so an empty payload
	// never creates one.
	first, err := src.Next()
	if errors.Is(err, io.EOF) {
		return nil, ErrEmptyPayload
	}
	if err != nil {
		return nil, sourceError(err)
	}

	log := m.log.With().Str("bucket", bucket).Str("key", key).Logger()

	uploadID, err := m.store.CreateMultipartUpload(ctx, bucket, key, opts)
	if err == nil && uploadID == "" {
		err = errs.New(errs.ErrKindQueryFailed, "backend returned an empty upload ID")
	}
	if err != nil {
		log.WarnWith("multipart session open failed", err, nil)
		return nil, &Error{Stage: StageOpen, Bucket: bucket, Key: key, Err: err}
	}

	sess := newSession(bucket, key, uploadID)
	log = log.With().Str("upload_id", uploadID).Logger()
	log.Debug("multipart session opened")

	if perr := m.uploadParts(ctx, sess, first, src, log); perr != nil {
		return nil, m.fail(ctx, sess, perr, log)
	}

	parts, err := sess.beginCommit()
	if err != nil {
		return nil, m.fail(ctx, sess, m.sessionError(sess, StageCommit, 0, err), log)
	}

	info, err := m.store.CompleteMultipartUpload(ctx, bucket, key, uploadID, parts)
	if err != nil {
		return nil, m.fail(ctx, sess, m.sessionError(sess, StageCommit, 0, err), log)
	}
	if err := sess.markCommitted(); err != nil {
		return nil, err
	}

	res := &Result{
		Bucket:   bucket,
		Key:      key,
		UploadID: uploadID,
		Size:     sess.Size(),
		Parts:    parts,
	}
	if info != nil {
		res.ETag = info.ETag
		res.VersionID = info.VersionID
		res.Location = info.Location
	}

	log.InfoWith("multipart upload committed", map[string]any{
		"parts": len(parts),
		"size":  res.Size,
	})
	return res, nil
}

// uploadParts dispatches every part from src to the worker group. Part
// numbers are fixed by the source before dispatch, so completion order does
// not matter. The first failure cancels the remaining workers.
func (m *Manager) uploadParts(ctx context.Context, sess *Session, first Part, src source, log *logger.Logger) *Error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.Concurrency)

	var readErr *Error
	part := first
	for gctx.Err() == nil {
		p := part
		g.Go(func() error {
			return m.uploadPart(gctx, sess, p, log)
		})

		next, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			readErr = m.sessionError(sess, StagePart, p.Number+1, sourceError(err))
			break
		}
		part = next
	}

	if err := g.Wait(); err != nil {
		var perr *Error
		if errors.As(err, &perr) {
			return perr
		}
		return m.sessionError(sess, StagePart, 0, err)
	}
	if readErr != nil {
		return readErr
	}
	if err := ctx.Err(); err != nil {
		return m.sessionError(sess, StagePart, 0, errs.Wrap(errs.ErrKindTimeout, "upload cancelled", err))
	}
	return nil
}

func (m *Manager) uploadPart(ctx context.Context, sess *Session, p Part, log *logger.Logger) error {
	if ctx.Err() != nil {
		// Another part already failed or the caller went away; the error
		// surfaced is the one that cancelled the group.
		return nil
	}

	etag, err := m.store.UploadPart(ctx, sess.Bucket, sess.Key, sess.UploadID, p.Number, bytes.NewReader(p.Data), p.Size())
	if err != nil {
		return m.sessionError(sess, StagePart, p.Number, err)
	}
	if err := sess.record(p.Number, etag, p.Size()); err != nil {
		return m.sessionError(sess, StagePart, p.Number, err)
	}

	log.DebugWith("part uploaded", map[string]any{
		"part_number": p.Number,
		"offset":      p.Offset,
		"size":        p.Size(),
	})
	return nil
}

// fail aborts the session once and returns cause, annotated with the abort
// error if cleanup failed too.
func (m *Manager) fail(ctx context.Context, sess *Session, cause *Error, log *logger.Logger) error {
	if !sess.markAborted() {
		return cause
	}

	abortCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.AbortTimeout)
	defer cancel()

	fields := map[string]any{
		"stage":          cause.Stage.String(),
		"parts_uploaded": sess.PartCount(),
	}
	if err := m.store.AbortMultipartUpload(abortCtx, sess.Bucket, sess.Key, sess.UploadID); err != nil {
		cause.Abort = &AbortError{UploadID: sess.UploadID, Err: err}
		fields["cause"] = cause.Err.Error()
		log.ErrorWith("multipart abort failed, session may still hold storage", err, fields)
		return cause
	}

	log.WarnWith("multipart upload aborted", cause.Err, fields)
	return cause
}

func (m *Manager) sessionError(sess *Session, stage Stage, part int, err error) *Error {
	return &Error{
		Stage:      stage,
		Bucket:     sess.Bucket,
		Key:        sess.Key,
		UploadID:   sess.UploadID,
		PartNumber: part,
		Err:        err,
	}
}

func sourceError(err error) error {
	var e *errs.Error
	if errors.As(err, &e) {
		return err
	}
	return errs.Wrap(errs.ErrKindInvalidInput, "failed to read payload", err)
}
