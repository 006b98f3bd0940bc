package reconcile

import (
	"time"

	"github.com/Iron-Ham/poolboy/internal/claim"
	"github.com/Iron-Ham/poolboy/internal/oracle"
	"github.com/Iron-Ham/poolboy/internal/staleness"
)

// Outcome is the evaluation of one claimed lock.
type Outcome struct {
	Pool string
	Lock string
	// Path is the lock's claimed path relative to the working copy.
	Path      string
	ClaimedAt time.Time
	Age       time.Duration
	Owner     claim.OwnerResult
	Liveness  oracle.Verdict
	Decision  staleness.Decision
	Reason    string
	// Applied is true once the lock has been moved to unclaimed.
	Applied bool
	// Err is set for locks that could not be dated.
	Err error
}

// Undatable reports whether the lock was kept because it had no usable history.
func (o Outcome) Undatable() bool {
	return o.Err != nil
}

// PoolSummary counts outcomes for one pool.
type PoolSummary struct {
	Name      string
	Timeout   time.Duration
	Claimed   int
	Released  int
	Undatable int
	// Missing is true when the run aborted because the pool directory was absent.
	Missing bool
}

// Report is the result of one reconciliation run.
type Report struct {
	RunID      string
	DryRun     bool
	StartedAt  time.Time
	FinishedAt time.Time

	Pools    []PoolSummary
	Outcomes []Outcome

	// Changes counts release decisions. In a dry run these are the releases
	// that would have been applied.
	Changes int

	Status    string
	RemoteURL string
	Committed bool
	Published bool
}

// Released returns the outcomes decided as releases.
func (r *Report) Released() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.Decision == staleness.Release {
			out = append(out, o)
		}
	}
	return out
}

// Mode is "status" for dry runs and "clean" otherwise.
func (r *Report) Mode() string {
	if r.DryRun {
		return ModeStatus
	}
	return ModeClean
}

// Run modes.
const (
	ModeStatus = "status"
	ModeClean  = "clean"
)
