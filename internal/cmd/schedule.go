package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/poolboy/internal/metrics"
	"github.com/Iron-Ham/poolboy/internal/schedule"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run clean on a schedule and serve health and metrics",
	Long: `Run a full clean (or status, with --dry-run) every time the cron schedule
fires. Runs never overlap: a tick that arrives while a run is still going is
skipped.

The HTTP server exposes:
  GET /healthz   liveness and the outcome of the last run
  GET /metrics   Prometheus metrics
  GET /report    the last run's report as JSON (204 before the first run)

Changes to the config file are picked up for the next run. SIGINT or SIGTERM
stops the schedule after any in-flight run finishes.`,
	Args: cobra.NoArgs,
	RunE: runSchedule,
}

var (
	scheduleCron   string
	scheduleListen string
	scheduleDryRun bool
)

func init() {
	scheduleCmd.Flags().StringVar(&scheduleCron, "cron", "", `cron expression or descriptor (default from schedule.cron, "@every 15m")`)
	scheduleCmd.Flags().StringVar(&scheduleListen, "listen", "", `HTTP listen address (default from schedule.listen, ":9102")`)
	scheduleCmd.Flags().BoolVar(&scheduleDryRun, "dry-run", false, "only report, never move or push")
	rootCmd.AddCommand(scheduleCmd)
}

func runSchedule(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cmd, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Close() }()

	svc, err := schedule.New(cfg, schedule.Options{
		Cron:    scheduleCron,
		Listen:  scheduleListen,
		DryRun:  scheduleDryRun,
		Logger:  logger,
		Metrics: metrics.New(),
	})
	if err != nil {
		return err
	}
	svc.Watch(viper.GetViper())

	ctx, stop := signalContext(cmd.Context())
	defer stop()
	return svc.Serve(ctx)
}
