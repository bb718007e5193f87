// Package journal keeps a record of every multipart session outcome, so
// sessions that were aborted, or whose abort failed and may still hold
// backend storage, can be found after the fact.
//
// Usage:
//
//	j := journal.NewSQL(db, log)
//	if err := j.Migrate(ctx); err != nil { ... }
//	_ = j.Record(ctx, journal.Entry{UploadID: id, Outcome: journal.OutcomeCommitted, ...})
//	recent, err := j.Recent(ctx, 20)
package journal

import (
	"context"
	"sync"
	"time"
)

// Outcome is how a multipart session ended.
type Outcome string

const (
	OutcomeCommitted   Outcome = "committed"
	OutcomeAborted     Outcome = "aborted"
	OutcomeAbortFailed Outcome = "abort_failed" // session may still exist on the backend
	OutcomeOpenFailed  Outcome = "open_failed"  // no session was created
	OutcomeRejected    Outcome = "rejected"     // input refused before any backend call
)

// Entry is one finished multipart upload.
type Entry struct {
	ID         string    `json:"id"`
	UploadID   string    `json:"upload_id,omitempty"`
	Bucket     string    `json:"bucket"`
	Key        string    `json:"key"`
	Parts      int       `json:"parts"`
	Size       int64     `json:"size"`
	Outcome    Outcome   `json:"outcome"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Journal stores entries. Implementations are safe for concurrent use.
type Journal interface {
	Record(ctx context.Context, e Entry) error

	// Recent returns up to limit entries, newest first.
	Recent(ctx context.Context, limit int) ([]Entry, error)
}

// Nop discards every entry.
type Nop struct{}

func (Nop) Record(context.Context, Entry) error          { return nil }
func (Nop) Recent(context.Context, int) ([]Entry, error) { return nil, nil }

// Memory keeps the last capacity entries in process memory.
type Memory struct {
	mu       sync.Mutex
	entries  []Entry
	capacity int
}

// NewMemory returns a Memory journal holding at most capacity entries.
func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = 100
	}
	return &Memory{capacity: capacity}
}

func (m *Memory) Record(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = append(m.entries, e)
	if over := len(m.entries) - m.capacity; over > 0 {
		m.entries = append(m.entries[:0:0], m.entries[over:]...)
	}
	return nil
}

func (m *Memory) Recent(_ context.Context, limit int) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.entries)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Entry, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, m.entries[i])
	}
	return out, nil
}
