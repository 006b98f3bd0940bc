// Package runner performs one complete poolboy run: prepare a fresh working
// copy, reconcile every configured pool, publish, and record metrics.
//
// Both the one-shot commands and the scheduled service go through Run, so a
// scheduled tick behaves exactly like `poolboy clean` or `poolboy status`.
package runner

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/Iron-Ham/poolboy/internal/config"
	"github.com/Iron-Ham/poolboy/internal/errors"
	"github.com/Iron-Ham/poolboy/internal/logging"
	"github.com/Iron-Ham/poolboy/internal/metrics"
	"github.com/Iron-Ham/poolboy/internal/oracle"
	"github.com/Iron-Ham/poolboy/internal/reconcile"
	"github.com/Iron-Ham/poolboy/internal/workdir"
)

// Options configures a run.
type Options struct {
	Config *config.Config
	DryRun bool

	Logger  *logging.Logger
	Metrics *metrics.Metrics
	// HTTPClient is used for oracle requests. Nil uses a client with
	// Config.Oracle.Timeout.
	HTTPClient *http.Client
	// RunID identifies the run in logs, the report and the commit. Empty
	// generates a random UUID.
	RunID string
	// Now overrides the clock.
	Now func() time.Time
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// Run executes one reconciliation run. The report is nil only when the
// working copy could not be prepared.
func Run(ctx context.Context, opts Options) (*reconcile.Report, error) {
	cfg := opts.Config
	runID := opts.RunID
	if runID == "" {
		runID = NewRunID()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	log := logger.WithRun(runID)

	mode := reconcile.ModeClean
	if opts.DryRun {
		mode = reconcile.ModeStatus
	}
	log.Info("starting run", "mode", mode, "repo", cfg.Repo.URL, "pools", len(cfg.Pools))

	wd, err := workdir.Prepare(ctx, cfg.Repo, log)
	if err != nil {
		if errors.GetSeverity(err) != errors.SeverityWarning {
			log.Error("failed to prepare working copy", "error", err)
		}
		finish(log, opts, mode, 0, err)
		return nil, err
	}
	defer func() {
		if err := wd.Release(); err != nil {
			log.Warn("failed to release work directory lock", "error", err)
		}
	}()

	rec := reconcile.New(wd.Store, reconcile.Options{
		Remote:  cfg.Repo.Remote,
		Branch:  cfg.Repo.Branch,
		RunID:   runID,
		Oracle:  newOracle(cfg.Oracle, opts.HTTPClient, log),
		Metrics: opts.Metrics,
		Logger:  logger,
		Now:     opts.Now,
	})

	rep, err := rec.Run(ctx, cfg.Pools, opts.DryRun)
	finish(log, opts, mode, rep.Changes, err)
	return rep, err
}

// newOracle picks the oracle for one run. The capability is decided here,
// once, and never probed again.
func newOracle(cfg config.OracleConfig, hc *http.Client, log *logging.Logger) oracle.Oracle {
	if !cfg.Enabled() {
		log.Info("liveness oracle not configured, deciding on claim age only")
		return oracle.Disabled{}
	}
	client := oracle.NewConcourse(oracle.Config{
		BaseURL:  cfg.BaseURL,
		Username: cfg.Username,
		Password: cfg.Password,
		Timeout:  cfg.Timeout,
	}, hc, log)
	return client.Session()
}

func finish(log *logging.Logger, opts Options, mode string, changes int, err error) {
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	opts.Metrics.ObserveRun(mode, changes, err, now())

	if path := opts.Config.Metrics.Textfile; path != "" {
		if werr := opts.Metrics.WriteTextfile(path); werr != nil {
			log.Warn("failed to write metrics textfile", "path", path, "error", werr)
		}
	}

	switch {
	case errors.GetSeverity(err) == errors.SeverityWarning:
		log.Warn("run skipped", "mode", mode, "error", err)
	case err != nil:
		log.Error("run failed", "mode", mode, "error", err)
	default:
		log.Info("run finished", "mode", mode, "changes", changes)
	}
}
