package multipart

import (
	"errors"
	"fmt"
	"strings"

	"github.com/koustreak/objgate/internal/errs"
)

// Stage names the step of the session protocol that failed.
type Stage int

const (
	StageOpen   Stage = iota + 1 // the backend refused to open a session
	StagePart                    // a part could not be read or uploaded
	StageCommit                  // the backend rejected the final assembly
)

func (s Stage) String() string {
	switch s {
	case StageOpen:
		return "session_open"
	case StagePart:
		return "part_upload"
	case StageCommit:
		return "commit"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is classification of a failed upload.
var (
	ErrSessionOpen = errors.New("multipart: session open failed")
	ErrPartUpload  = errors.New("multipart: part upload failed")
	ErrCommit      = errors.New("multipart: commit failed")
	ErrAbort       = errors.New("multipart: abort failed")

	// ErrEmptyPayload is returned before any session is opened when the
	// source yields no bytes.
	ErrEmptyPayload = errs.New(errs.ErrKindInvalidInput, "multipart: payload is empty")
)

// Error is the terminal error of a failed Upload. It carries the session
// context for diagnosis and, when cleanup also failed, the secondary abort
// error. Only the primary failure is part of the unwrap chain.
type Error struct {
	Stage      Stage
	Bucket     string
	Key        string
	UploadID   string // empty when the session never opened
	PartNumber int    // set for StagePart
	Err        error

	// Abort is non-nil when the abort that followed the failure itself failed.
	Abort *AbortError
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "multipart %s %s/%s", e.Stage, e.Bucket, e.Key)
	if e.UploadID != "" {
		fmt.Fprintf(&b, " upload %s", e.UploadID)
	}
	if e.PartNumber > 0 {
		fmt.Fprintf(&b, " part %d", e.PartNumber)
	}
	fmt.Fprintf(&b, ": %v", e.Err)
	if e.Abort != nil {
		fmt.Fprintf(&b, " (%v)", e.Abort)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the stage sentinel, so errors.Is(err, ErrCommit) holds for a
// commit failure independent of its cause.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrSessionOpen:
		return e.Stage == StageOpen
	case ErrPartUpload:
		return e.Stage == StagePart
	case ErrCommit:
		return e.Stage == StageCommit
	}
	return false
}

// AbortError reports a failed cleanup of an upload session.
type AbortError struct {
	UploadID string
	Err      error
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("abort of upload %s failed: %v", e.UploadID, e.Err)
}

func (e *AbortError) Unwrap() error { return e.Err }

func (e *AbortError) Is(target error) bool { return target == ErrAbort }

// StageOf returns the failed stage of err, or 0 when err is not an *Error.
func StageOf(err error) Stage {
	var e *Error
	if errors.As(err, &e) {
		return e.Stage
	}
	return 0
}
