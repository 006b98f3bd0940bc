package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/poolboy/internal/config"
	"github.com/Iron-Ham/poolboy/internal/logging"
	"github.com/Iron-Ham/poolboy/internal/metrics"
	"github.com/Iron-Ham/poolboy/internal/report"
	"github.com/Iron-Ham/poolboy/internal/runner"
)

// loadConfig reads and validates the effective configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// newLogger builds the process logger from cfg.Logging. --verbose wins over
// the configured level.
func newLogger(cmd *cobra.Command, cfg *config.Config) (*logging.Logger, error) {
	level := cfg.Logging.Level
	if cfg.Verbose {
		level = logging.LevelDebug
	}
	opts := logging.Options{
		Path:   cfg.Logging.File,
		Level:  level,
		Format: cfg.Logging.Format,
		Rotation: logging.RotationConfig{
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
		},
	}
	if opts.Path == "" {
		opts.Writer = cmd.ErrOrStderr()
	}
	return logging.NewLogger(opts)
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// runOnce performs one run and writes the report to the command's output.
// The report is rendered even when the run failed part-way, so the operator
// sees which locks were evaluated before the failure.
func runOnce(cmd *cobra.Command, dryRun bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cmd, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Close() }()

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	rep, runErr := runner.Run(ctx, runner.Options{
		Config:  cfg,
		DryRun:  dryRun,
		Logger:  logger,
		Metrics: metrics.New(),
	})
	if rep != nil {
		if err := report.Render(cmd.OutOrStdout(), rep, cfg.Report.Format); err != nil {
			return err
		}
	}
	return runErr
}
