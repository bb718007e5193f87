package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/koustreak/objgate/internal/errs"
	"github.com/koustreak/objgate/internal/filestore"
	"github.com/koustreak/objgate/internal/journal"
	"github.com/koustreak/objgate/internal/multipart"
)

// MultipartUpload writes u through the multipart manager and journals the
// outcome. Journal failures are logged and never change the result.
func (s *Service) MultipartUpload(ctx context.Context, u Upload) (*multipart.Result, error) {
	started := s.now()

	res, err := s.multipartUpload(ctx, u)

	entry := journal.Entry{
		Bucket:     u.Bucket,
		Key:        u.Key,
		Outcome:    OutcomeOf(err),
		StartedAt:  started,
		FinishedAt: s.now(),
	}
	if res != nil {
		entry.UploadID = res.UploadID
		entry.Parts = len(res.Parts)
		entry.Size = res.Size
	}
	var merr *multipart.Error
	if errors.As(err, &merr) {
		entry.UploadID = merr.UploadID
	}
	if err != nil {
		entry.Error = err.Error()
	}
	s.record(ctx, entry)

	return res, err
}

func (s *Service) multipartUpload(ctx context.Context, u Upload) (*multipart.Result, error) {
	if err := u.validate(); err != nil {
		return nil, err
	}
	body, opts, err := s.prepare(u)
	if err != nil {
		return nil, err
	}
	return s.mp.Upload(ctx, u.Bucket, u.Key, body, opts)
}

// OutcomeOf classifies the error returned by a multipart upload.
func OutcomeOf(err error) journal.Outcome {
	if err == nil {
		return journal.OutcomeCommitted
	}
	var merr *multipart.Error
	if !errors.As(err, &merr) {
		return journal.OutcomeRejected
	}
	switch {
	case merr.Stage == multipart.StageOpen:
		return journal.OutcomeOpenFailed
	case merr.Abort != nil:
		return journal.OutcomeAbortFailed
	default:
		return journal.OutcomeAborted
	}
}

func (s *Service) record(ctx context.Context, e journal.Entry) {
	// The upload is finished; a cancelled request must not lose its entry.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := s.journal.Record(ctx, e); err != nil {
		s.log.WarnWith("journal write failed", err, map[string]any{
			"bucket":    e.Bucket,
			"key":       e.Key,
			"upload_id": e.UploadID,
			"outcome":   string(e.Outcome),
		})
	}
}

// Recent returns the latest journal entries, newest first.
func (s *Service) Recent(ctx context.Context, limit int) ([]journal.Entry, error) {
	return s.journal.Recent(ctx, limit)
}

// ReapReport lists what ReapIncomplete did.
type ReapReport struct {
	Aborted []filestore.IncompleteUpload `json:"aborted"`
	Failed  []ReapFailure                `json:"failed,omitempty"`
	Kept    int                          `json:"kept"`
}

// ReapFailure is a stale session whose abort failed.
type ReapFailure struct {
	filestore.IncompleteUpload
	Error string `json:"error"`
}

// ReapIncomplete aborts every session under bucket/prefix initiated more
// than olderThan ago. Younger sessions may still be in flight and are kept.
// A failed abort is reported and does not stop the sweep.
func (s *Service) ReapIncomplete(ctx context.Context, bucket, prefix string, olderThan time.Duration) (*ReapReport, error) {
	if bucket == "" {
		return nil, errs.New(errs.ErrKindInvalidInput, "bucket is required")
	}
	if olderThan <= 0 {
		return nil, errs.Invalidf("olderThan must be positive, got %s", olderThan)
	}

	uploads, err := s.store.ListIncompleteUploads(ctx, bucket, prefix)
	if err != nil {
		return nil, err
	}

	cutoff := s.now().Add(-olderThan)
	report := &ReapReport{Aborted: []filestore.IncompleteUpload{}}
	for _, u := range uploads {
		if u.Initiated.After(cutoff) {
			report.Kept++
			continue
		}

		log := s.log.With().Str("bucket", u.Bucket).Str("key", u.Key).Str("upload_id", u.UploadID).Logger()
		entry := journal.Entry{
			UploadID:   u.UploadID,
			Bucket:     u.Bucket,
			Key:        u.Key,
			Outcome:    journal.OutcomeAborted,
			Error:      "reaped: stale incomplete upload",
			StartedAt:  u.Initiated,
			FinishedAt: s.now(),
		}

		if err := s.store.AbortMultipartUpload(ctx, u.Bucket, u.Key, u.UploadID); err != nil {
			if errs.IsNotFound(err) {
				// Completed or aborted since the listing.
				continue
			}
			log.WarnWith("stale upload abort failed", err, nil)
			report.Failed = append(report.Failed, ReapFailure{IncompleteUpload: u, Error: err.Error()})
			entry.Outcome = journal.OutcomeAbortFailed
			entry.Error = err.Error()
			s.record(ctx, entry)
			continue
		}

		log.Info("stale upload aborted")
		report.Aborted = append(report.Aborted, u)
		s.record(ctx, entry)
	}
	return report, nil
}
