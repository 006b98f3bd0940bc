package store

import (
	"context"
	"time"
)

// Entry is one commit in the history of a path.
type Entry struct {
	Hash      string
	Timestamp time.Time // committer date
	Subject   string
}

// Message returns the entry in git's one-line form: "<hash> <subject>".
// Claim conventions are defined against this form.
func (e Entry) Message() string {
	return e.Hash + " " + e.Subject
}

// HistoryReader reads the change history of a single path.
type HistoryReader interface {
	// History returns up to limit entries for path, newest first. It fails
	// with errors.ErrHistoryUnavailable when the path has no history.
	History(ctx context.Context, path string, limit int) ([]Entry, error)
}

// Mutator relocates files inside the working copy.
type Mutator interface {
	Move(ctx context.Context, src, dst string) error
}

// Publisher turns staged relocations into one published change.
type Publisher interface {
	StatusShort(ctx context.Context) (string, error)
	CommitAll(ctx context.Context, message string) error
	Push(ctx context.Context, remote, branch string) error
	RemoteURL(ctx context.Context, remote string) (string, error)
}

// Store is the versioned file store holding the lock pools.
type Store interface {
	HistoryReader
	Mutator
	Publisher

	// Dir is the root of the local working copy.
	Dir() string
}

// Ensure Git implements all interfaces at compile time.
var (
	_ HistoryReader = (*Git)(nil)
	_ Mutator       = (*Git)(nil)
	_ Publisher     = (*Git)(nil)
	_ Store         = (*Git)(nil)
)
