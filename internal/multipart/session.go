package multipart

import (
	"fmt"
	"sort"
	"sync"

	"github.com/koustreak/objgate/internal/errs"
	"github.com/koustreak/objgate/internal/filestore"
)

// State is the lifecycle position of an upload session.
type State int

const (
	StateOpen       State = iota + 1 // accepting parts
	StateCommitting                  // part list sent to the backend
	StateCommitted                   // terminal, object exists
	StateAborted                     // terminal, session discarded
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateCommitting:
		return "committing"
	case StateCommitted:
		return "committed"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// transitions lists the allowed moves. Terminal states have none.
var transitions = map[State][]State{
	StateOpen:       {StateCommitting, StateAborted},
	StateCommitting: {StateCommitted, StateAborted},
}

// Session is one in-flight multipart write. It is owned by the Upload call
// that opened it; the mutex only serialises that call's part workers.
type Session struct {
	UploadID string
	Bucket   string
	Key      string

	mu    sync.Mutex
	state State
	etags map[int]string
	size  int64
}

func newSession(bucket, key, uploadID string) *Session {
	return &Session{
		UploadID: uploadID,
		Bucket:   bucket,
		Key:      key,
		state:    StateOpen,
		etags:    make(map[int]string),
	}
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Size returns the number of bytes accepted so far.
func (s *Session) Size() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

// PartCount returns the number of parts accepted so far.
func (s *Session) PartCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.etags)
}

func (s *Session) moveLocked(to State) error {
	for _, allowed := range transitions[s.state] {
		if allowed == to {
			s.state = to
			return nil
		}
	}
	return errs.New(errs.ErrKindInvalidInput, fmt.Sprintf("session %s: illegal transition %s -> %s", s.UploadID, s.state, to))
}

// record stores the completion token of an accepted part.
func (s *Session) record(number int, etag string, size int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateOpen {
		return errs.New(errs.ErrKindInvalidInput, fmt.Sprintf("session %s is %s, part %d rejected", s.UploadID, s.state, number))
	}
	if _, dup := s.etags[number]; dup {
		return errs.New(errs.ErrKindInvalidInput, fmt.Sprintf("session %s: part %d recorded twice", s.UploadID, number))
	}
	s.etags[number] = etag
	s.size += size
	return nil
}

// beginCommit moves the session to Committing and returns the part list in
// ascending order. The list must be exactly 1..N.
func (s *Session) beginCommit() ([]filestore.CompletedPart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.etags) == 0 {
		return nil, errs.New(errs.ErrKindInvalidInput, fmt.Sprintf("session %s has no parts", s.UploadID))
	}
	parts := make([]filestore.CompletedPart, 0, len(s.etags))
	for n, etag := range s.etags {
		parts = append(parts, filestore.CompletedPart{PartNumber: n, ETag: etag})
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].PartNumber < parts[j].PartNumber })
	for i, p := range parts {
		if p.PartNumber != i+1 {
			return nil, errs.New(errs.ErrKindInvalidInput, fmt.Sprintf("session %s: part %d missing", s.UploadID, i+1))
		}
	}

	if err := s.moveLocked(StateCommitting); err != nil {
		return nil, err
	}
	return parts, nil
}

func (s *Session) markCommitted() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.moveLocked(StateCommitted)
}

// markAborted reports whether the session moved to Aborted. It is false
// when the session is already terminal, which keeps abort to one attempt.
func (s *Session) markAborted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.moveLocked(StateAborted) == nil
}
