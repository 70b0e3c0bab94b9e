package queue

import (
	"context"
	"crypto/rand"
	"errors"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	ErrNotFound         = errors.New("note not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrStoreUnavailable = errors.New("queue store unavailable")
	ErrNotImplemented   = errors.New("not implemented")
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusInFlight Status = "in_flight"
	StatusFailed   Status = "failed"
	StatusDone     Status = "done"
)

// Note is one queued submission. Content and Target are immutable once
// enqueued; RetryCount only ever increases.
type Note struct {
	ID         string    `json:"id"`
	Content    string    `json:"content"`
	Target     string    `json:"target"`
	CreatedAt  time.Time `json:"createdAt"`
	Status     Status    `json:"status"`
	RetryCount int       `json:"retryCount"`
	LastError  string    `json:"lastError,omitempty"`
}

// Store is crash-durable storage for queued notes. Implementations order
// ListByStatus by CreatedAt ascending and reset any in_flight rows back to
// pending when (re)opened; in_flight is never meaningful across restarts.
//
// UpdateStatus with a non-empty lastErr records a failed delivery attempt:
// it increments RetryCount and stores the error. Updating to StatusDone
// deletes the record and returns its final state.
type Store interface {
	Enqueue(ctx context.Context, content, target string) (Note, error)
	ListByStatus(ctx context.Context, status Status) ([]Note, error)
	UpdateStatus(ctx context.Context, id string, status Status, lastErr string) (Note, error)
	Remove(ctx context.Context, id string) (bool, error)
	Count(ctx context.Context, status Status) (int, error)
	Close() error
}

var (
	idMu      sync.Mutex
	idEntropy = ulid.Monotonic(rand.Reader, 0)
)

// NewNoteID returns a ULID: lexically ordered by creation time, so note
// IDs break CreatedAt ties deterministically.
func NewNoteID(now time.Time) string {
	idMu.Lock()
	defer idMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(now.UTC()), idEntropy).String()
}

func validStatus(status Status) bool {
	switch status {
	case StatusPending, StatusInFlight, StatusFailed, StatusDone:
		return true
	}
	return false
}
