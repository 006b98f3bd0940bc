// Package reconcile drives scan, decide, apply and publish across lock pools.
//
// A run evaluates pools one at a time and locks one at a time. Releases are
// staged as file moves in the working copy and published as a single commit
// at the end of the run, so a failed run never leaves a partial commit.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/Iron-Ham/poolboy/internal/claim"
	"github.com/Iron-Ham/poolboy/internal/config"
	"github.com/Iron-Ham/poolboy/internal/errors"
	"github.com/Iron-Ham/poolboy/internal/logging"
	"github.com/Iron-Ham/poolboy/internal/metrics"
	"github.com/Iron-Ham/poolboy/internal/oracle"
	"github.com/Iron-Ham/poolboy/internal/pool"
	"github.com/Iron-Ham/poolboy/internal/staleness"
	"github.com/Iron-Ham/poolboy/internal/store"
)

// Scanner lists the claimed locks of a pool.
type Scanner interface {
	ClaimedLocks(pool string) ([]pool.Lock, error)
}

// Options configures a Reconciler. Zero values are usable: no oracle, no
// metrics, a no-op logger and the wall clock.
type Options struct {
	// Remote and Branch are where the reconciliation commit is pushed.
	Remote string
	Branch string
	// RunID is recorded in the report and the commit message.
	RunID string

	// Scanner overrides the default scanner over the store's directory.
	Scanner Scanner
	Oracle  oracle.Oracle
	Metrics *metrics.Metrics
	Logger  *logging.Logger
	// Now overrides the clock.
	Now func() time.Time
}

// Reconciler returns stale claimed locks to their pools.
type Reconciler struct {
	store     store.Store
	scanner   Scanner
	extractor *claim.Extractor
	oracle    oracle.Oracle
	metrics   *metrics.Metrics
	logger    *logging.Logger
	now       func() time.Time

	remote string
	branch string
	runID  string
}

// New creates a Reconciler operating on st.
func New(st store.Store, opts Options) *Reconciler {
	r := &Reconciler{
		store:     st,
		scanner:   opts.Scanner,
		extractor: claim.NewExtractor(st),
		oracle:    opts.Oracle,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
		now:       opts.Now,
		remote:    opts.Remote,
		branch:    opts.Branch,
		runID:     opts.RunID,
	}
	if r.scanner == nil {
		r.scanner = pool.NewScanner(st.Dir())
	}
	if r.oracle == nil {
		r.oracle = oracle.Disabled{}
	}
	if r.logger == nil {
		r.logger = logging.NopLogger()
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.remote == "" {
		r.remote = "origin"
	}
	if r.branch == "" {
		r.branch = "master"
	}
	if r.runID != "" {
		r.logger = r.logger.WithRun(r.runID)
	}
	return r
}

// CommitMessage is the message of the reconciliation commit.
func CommitMessage(changes int, runID string) string {
	msg := fmt.Sprintf("Freshening up the pool with %d changes", changes)
	if runID != "" {
		msg += "\n\nRun-Id: " + runID
	}
	return msg
}

// Run reconciles pools. In a dry run the working copy is never modified and
// nothing is committed, but releases are still counted. The returned report
// is non-nil even when Run fails and describes the work done before the
// failure.
func (r *Reconciler) Run(ctx context.Context, pools []config.Pool, dryRun bool) (*Report, error) {
	rep := &Report{
		RunID:     r.runID,
		DryRun:    dryRun,
		StartedAt: r.now().UTC(),
	}
	defer func() { rep.FinishedAt = r.now().UTC() }()

	// Every pool is scanned before any lock is evaluated, so a missing pool
	// aborts the run before the working copy is touched.
	claimed := make([][]pool.Lock, len(pools))
	for i, p := range pools {
		locks, err := r.scanner.ClaimedLocks(p.Name)
		if err != nil {
			rep.Pools = append(rep.Pools, PoolSummary{
				Name:    p.Name,
				Timeout: p.Timeout,
				Missing: errors.Is(err, errors.ErrPoolNotFound),
			})
			r.logger.WithPool(p.Name).Error("failed to scan pool", "error", err)
			return rep, err
		}
		claimed[i] = locks
	}

	for i, p := range pools {
		if err := r.reconcilePool(ctx, rep, p, claimed[i], dryRun); err != nil {
			return rep, err
		}
	}

	r.logger.Info(fmt.Sprintf("Summary: detected %d changes", rep.Changes),
		"changes", rep.Changes,
		"dry_run", dryRun)

	if dryRun || rep.Changes == 0 {
		return rep, nil
	}
	return rep, r.publish(ctx, rep)
}

func (r *Reconciler) reconcilePool(ctx context.Context, rep *Report, p config.Pool, locks []pool.Lock, dryRun bool) error {
	log := r.logger.WithPool(p.Name)
	log.Info("cleaning pool", "timeout", p.Timeout.String())

	summary := PoolSummary{Name: p.Name, Timeout: p.Timeout, Claimed: len(locks)}

	if len(locks) == 0 {
		log.Info("No claimed locks")
		rep.Pools = append(rep.Pools, summary)
		return nil
	}

	// One reference time for every lock in the pool.
	now := r.now().UTC()

	for _, lock := range locks {
		if err := ctx.Err(); err != nil {
			rep.Pools = append(rep.Pools, summary)
			return err
		}

		outcome, err := r.evaluate(ctx, log.WithLock(lock.ClaimedPath()), lock, p.Timeout, now, dryRun)
		if err != nil {
			rep.Pools = append(rep.Pools, summary)
			return err
		}

		rep.Outcomes = append(rep.Outcomes, outcome)
		if outcome.Undatable() {
			summary.Undatable++
		}
		if outcome.Decision == staleness.Release {
			summary.Released++
			rep.Changes++
		}
	}

	rep.Pools = append(rep.Pools, summary)
	return nil
}

// evaluate decides one lock and, outside a dry run, applies a release.
func (r *Reconciler) evaluate(ctx context.Context, log *logging.Logger, lock pool.Lock, timeout time.Duration, now time.Time, dryRun bool) (Outcome, error) {
	outcome := Outcome{
		Pool:     lock.Pool,
		Lock:     lock.Name,
		Path:     lock.ClaimedPath(),
		Decision: staleness.Keep,
		Liveness: oracle.Unknown(),
	}

	rec, err := r.extractor.Extract(ctx, lock.ClaimedPath())
	if err != nil {
		if errors.IsFatal(err) {
			log.Error("failed to read lock history", "error", err)
			return outcome, err
		}
		outcome.Err = err
		outcome.Reason = "cannot date this lock"
		log.Warn("cannot date this lock, keeping it", "error", err)
		r.metrics.ObserveUndatable(lock.Pool)
		return outcome, nil
	}

	outcome.ClaimedAt = rec.ClaimedAt
	outcome.Age = rec.Age(now)
	outcome.Owner = rec.Owner
	outcome.Liveness = r.oracle.Query(ctx, rec.Owner)
	outcome.Decision, outcome.Reason = staleness.Decide(now, rec.ClaimedAt, timeout, outcome.Liveness)

	log.Info(outcome.Reason,
		"message", rec.Message,
		"claimed_at", rec.ClaimedAt.Format(time.RFC3339),
		"age", outcome.Age.String(),
		"owner", rec.Owner.String(),
		"liveness", outcome.Liveness.String(),
		"decision", outcome.Decision.String())
	r.metrics.ObserveLock(lock.Pool, outcome.Decision.String(), outcome.Liveness.Kind.String(), outcome.Age)

	if outcome.Decision != staleness.Release || dryRun {
		return outcome, nil
	}

	if err := r.store.Move(ctx, lock.ClaimedPath(), lock.UnclaimedPath()); err != nil {
		log.Error("failed to release lock", "error", err)
		return outcome, err
	}
	outcome.Applied = true
	r.metrics.ObserveRelease(lock.Pool)
	log.Debug("lock released", "to", lock.UnclaimedPath())
	return outcome, nil
}

// publish commits every staged release as one change and pushes it.
func (r *Reconciler) publish(ctx context.Context, rep *Report) error {
	status, err := r.store.StatusShort(ctx)
	if err != nil {
		return err
	}
	rep.Status = status
	r.logger.Info("committing changes", "status", status)

	if err := r.store.CommitAll(ctx, CommitMessage(rep.Changes, r.runID)); err != nil {
		return err
	}
	rep.Committed = true

	url, err := r.store.RemoteURL(ctx, r.remote)
	if err != nil {
		return err
	}
	rep.RemoteURL = url
	r.logger.Info("publishing changes", "remote", r.remote, "url", url, "branch", r.branch)

	if err := r.store.Push(ctx, r.remote, r.branch); err != nil {
		if errors.Is(err, errors.ErrPushRejected) {
			r.logger.Error("remote moved during the run, changes not published; the next run starts from a fresh clone",
				"error", err)
		}
		return err
	}
	rep.Published = true
	return nil
}
