// Package logging provides structured logging for poolboy runs.
//
// It wraps Go's log/slog with persistent context attributes so that every
// line emitted while evaluating a lock carries the run, pool and lock it
// belongs to. That context is what makes the log an audit trail: an operator
// reading it before the next run can see why each claimed lock was kept or
// released.
//
// # Basic Usage
//
//	logger, err := logging.NewLogger(logging.Options{Level: logging.LevelInfo})
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	runLog := logger.WithRun(runID).WithPool("workers")
//	runLog.Info("lock released", "lock", path, "age", age)
//
// # Output
//
// Logs go to stderr unless Options.Path is set. Format "text" (the default)
// uses slog's key=value handler; "json" uses the JSON handler. File output
// rotates by size through [RotatingWriter] so a long-running schedule does
// not grow a single file without bound.
package logging
