// Package claim reconstructs claim records from a lock's history.
//
// Nothing here is persisted. A record is rebuilt from the newest history
// entry of the lock's path every time it is asked for.
package claim

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/Iron-Ham/poolboy/internal/errors"
	"github.com/Iron-Ham/poolboy/internal/store"
)

// Owner identifies the CI build that claimed a lock.
type Owner struct {
	Team     string `json:"team" yaml:"team"`
	Pipeline string `json:"pipeline" yaml:"pipeline"`
	Job      string `json:"job" yaml:"job"`
	Build    string `json:"build" yaml:"build"`
}

// String formats the owner as team/pipeline/job#build.
func (o Owner) String() string {
	return fmt.Sprintf("%s/%s/%s#%s", o.Team, o.Pipeline, o.Job, o.Build)
}

// OwnerResult is the outcome of parsing a claim message. The zero value is
// an absent owner.
type OwnerResult struct {
	owner   Owner
	present bool
}

// Present returns an OwnerResult carrying o.
func Present(o Owner) OwnerResult {
	return OwnerResult{owner: o, present: true}
}

// Absent returns an OwnerResult with no owner.
func Absent() OwnerResult {
	return OwnerResult{}
}

// Get returns the owner and whether one was identified.
func (r OwnerResult) Get() (Owner, bool) {
	return r.owner, r.present
}

// IsPresent reports whether an owner was identified.
func (r OwnerResult) IsPresent() bool {
	return r.present
}

func (r OwnerResult) String() string {
	if !r.present {
		return "absent"
	}
	return r.owner.String()
}

// ownerPattern matches "<hash> <team>/<pipeline>/<job> build <build> claiming: <description>"
// over the whole message.
var ownerPattern = regexp.MustCompile(
	`^[0-9a-fA-F]+\s+([^/\s]+)/([^/\s]+)/([^/\s]+)\s+build\s+(\S+)\s+claiming:\s+.*$`)

// ParseOwner extracts the owner from a one-line history message. Messages
// that do not follow the claim convention exactly yield Absent.
func ParseOwner(message string) OwnerResult {
	m := ownerPattern.FindStringSubmatch(message)
	if m == nil {
		return Absent()
	}
	return Present(Owner{Team: m[1], Pipeline: m[2], Job: m[3], Build: m[4]})
}

// Record is the claim state derived for one lock.
type Record struct {
	ClaimedAt time.Time
	Message   string
	Owner     OwnerResult
}

// Age returns how long the lock has been claimed as of now.
func (r Record) Age(now time.Time) time.Duration {
	return now.Sub(r.ClaimedAt)
}

// Extractor derives Records from a store's history.
type Extractor struct {
	history store.HistoryReader
}

// NewExtractor creates an Extractor reading from history.
func NewExtractor(history store.HistoryReader) *Extractor {
	return &Extractor{history: history}
}

// Extract returns the claim record for the lock at path. Errors from the
// store are returned unchanged, so a path without history surfaces as
// errors.ErrHistoryUnavailable.
func (e *Extractor) Extract(ctx context.Context, path string) (Record, error) {
	entries, err := e.history.History(ctx, path, 1)
	if err != nil {
		return Record{}, err
	}
	if len(entries) == 0 {
		return Record{}, errors.NewStoreError("no history for path", errors.ErrHistoryUnavailable).
			WithPath(path)
	}

	newest := entries[0]
	msg := newest.Message()
	return Record{
		ClaimedAt: newest.Timestamp,
		Message:   msg,
		Owner:     ParseOwner(msg),
	}, nil
}
