// Package schedule runs poolboy as a long-lived service: a cron schedule
// triggers full runs, and a small HTTP server exposes health, metrics and the
// most recent report.
package schedule

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/robfig/cron/v3"

	"github.com/Iron-Ham/poolboy/internal/config"
	"github.com/Iron-Ham/poolboy/internal/errors"
	"github.com/Iron-Ham/poolboy/internal/logging"
	"github.com/Iron-Ham/poolboy/internal/metrics"
	"github.com/Iron-Ham/poolboy/internal/reconcile"
	"github.com/Iron-Ham/poolboy/internal/report"
	"github.com/Iron-Ham/poolboy/internal/runner"
)

// ShutdownTimeout bounds the HTTP server's graceful shutdown.
const ShutdownTimeout = 10 * time.Second

// RunFunc performs one run. runner.Run in production.
type RunFunc func(ctx context.Context, opts runner.Options) (*reconcile.Report, error)

// Options configures a Service.
type Options struct {
	// Cron overrides Config.Schedule.Cron.
	Cron string
	// Listen overrides Config.Schedule.Listen.
	Listen string
	DryRun bool

	Logger  *logging.Logger
	Metrics *metrics.Metrics
	Run     RunFunc
}

// Service owns the scheduler, the HTTP server and the state shared between
// them.
type Service struct {
	cronExpr string
	listen   string
	dryRun   bool
	logger   *logging.Logger
	metrics  *metrics.Metrics
	run      RunFunc

	mu       sync.RWMutex
	cfg      *config.Config
	last     *reconcile.Report
	lastErr  error
	lastRun  time.Time
	running  bool
	runCount int
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// New validates the cron expression and builds a Service. Nothing is started.
func New(cfg *config.Config, opts Options) (*Service, error) {
	s := &Service{
		cronExpr: cfg.Schedule.Cron,
		listen:   cfg.Schedule.Listen,
		dryRun:   opts.DryRun,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		run:      opts.Run,
		cfg:      cfg,
	}
	if opts.Cron != "" {
		s.cronExpr = opts.Cron
	}
	if opts.Listen != "" {
		s.listen = opts.Listen
	}
	if s.logger == nil {
		s.logger = logging.NopLogger()
	}
	if s.run == nil {
		s.run = runner.Run
	}

	if _, err := parser.Parse(s.cronExpr); err != nil {
		return nil, errors.NewConfigError("invalid cron expression", err).
			WithField("schedule.cron").
			WithValue(s.cronExpr)
	}
	return s, nil
}

// Config returns the configuration the next run will use.
func (s *Service) Config() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// LastReport returns the most recent report, or nil before the first run
// produced one.
func (s *Service) LastReport() *reconcile.Report {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

// Reload replaces the configuration for subsequent runs. A run already in
// flight keeps the configuration it started with. An invalid configuration is
// logged and the previous one stays in effect.
func (s *Service) Reload(event fsnotify.Event, load func() (*config.Config, error)) {
	log := s.logger.With("file", event.Name, "op", event.Op.String())

	cfg, err := load()
	if err != nil {
		log.Warn("ignoring invalid configuration change", "error", err)
		return
	}

	s.mu.Lock()
	prev := s.cfg
	s.cfg = cfg
	s.mu.Unlock()

	if cfg.Schedule.Cron != prev.Schedule.Cron || cfg.Schedule.Listen != prev.Schedule.Listen {
		log.Warn("schedule and listen address changes take effect after a restart")
	}
	log.Info("configuration reloaded", "pools", len(cfg.Pools), "repo", cfg.Repo.URL)
}

// RunOnce performs a single run with the current configuration and records
// its outcome. It is what every cron tick calls.
func (s *Service) RunOnce(ctx context.Context) {
	s.mu.Lock()
	cfg := s.cfg
	s.running = true
	s.mu.Unlock()

	rep, err := s.run(ctx, runner.Options{
		Config:  cfg,
		DryRun:  s.dryRun,
		Logger:  s.logger,
		Metrics: s.metrics,
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	s.runCount++
	s.lastRun = time.Now()
	s.lastErr = err
	if rep != nil {
		s.last = rep
	}
}

// Serve starts the scheduler and the HTTP server and blocks until ctx is
// done. On return the in-flight run, if any, has finished and the server
// has shut down.
func (s *Service) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.listen)
	if err != nil {
		return err
	}
	return s.serve(ctx, ln)
}

func (s *Service) serve(ctx context.Context, ln net.Listener) error {
	// Runs must not be torn down halfway through a publish when the
	// service is asked to stop, so they get a context without cancellation.
	runCtx := context.WithoutCancel(ctx)

	cl := cronLogger{s.logger}
	c := cron.New(
		cron.WithParser(parser),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := c.AddFunc(s.cronExpr, func() { s.RunOnce(runCtx) }); err != nil {
		_ = ln.Close()
		return err
	}

	srv := &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		s.logger.Info("poolboy schedule listening", "addr", ln.Addr().String(), "cron", s.cronExpr, "dry_run", s.dryRun)
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
		close(serveErr)
	}()

	c.Start()

	var result error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		result = err
	}

	s.logger.Info("shutting down scheduler")
	<-c.Stop().Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("server shutdown error", "error", err)
		if result == nil {
			result = err
		}
	}

	s.logger.Info("poolboy schedule stopped")
	return result
}

// Router returns the HTTP routes of the service.
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", s.health)
	r.Get("/report", s.report)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	return r
}

type healthResponse struct {
	Status    string     `json:"status"`
	Running   bool       `json:"running"`
	Runs      int        `json:"runs"`
	LastRun   *time.Time `json:"last_run,omitempty"`
	LastError string     `json:"last_error,omitempty"`
}

func (s *Service) health(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	resp := healthResponse{Status: "ok", Running: s.running, Runs: s.runCount}
	if !s.lastRun.IsZero() {
		at := s.lastRun
		resp.LastRun = &at
	}
	if s.lastErr != nil {
		resp.LastError = s.lastErr.Error()
	}
	s.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Service) report(w http.ResponseWriter, _ *http.Request) {
	rep := s.LastReport()
	if rep == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := report.Render(w, rep, report.FormatJSON); err != nil {
		s.logger.Error("failed to render report", "error", err)
	}
}

func (s *Service) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

// cronLogger adapts logging.Logger to cron.Logger.
type cronLogger struct {
	l *logging.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
