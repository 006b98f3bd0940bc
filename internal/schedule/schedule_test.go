package schedule

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Iron-Ham/poolboy/internal/config"
	"github.com/Iron-Ham/poolboy/internal/errors"
	"github.com/Iron-Ham/poolboy/internal/metrics"
	"github.com/Iron-Ham/poolboy/internal/reconcile"
	"github.com/Iron-Ham/poolboy/internal/report"
	"github.com/Iron-Ham/poolboy/internal/runner"
)

func baseConfig() *config.Config {
	cfg := config.Default()
	cfg.Repo.URL = "git@example.com:org/pools.git"
	cfg.Pools = []config.Pool{{Name: "workers", Timeout: time.Hour}}
	return cfg
}

type fakeRun struct {
	calls   int32
	changes int
	err     error
	seen    []*config.Config
}

func (f *fakeRun) run(_ context.Context, opts runner.Options) (*reconcile.Report, error) {
	atomic.AddInt32(&f.calls, 1)
	f.seen = append(f.seen, opts.Config)
	rep := &reconcile.Report{RunID: "run-1", DryRun: opts.DryRun, Changes: f.changes}
	return rep, f.err
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestNew_InvalidCron(t *testing.T) {
	_, err := New(baseConfig(), Options{Cron: "every now and then"})
	var cfgErr *errors.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("New() error = %v, want ConfigError", err)
	}
	if cfgErr.Field != "schedule.cron" {
		t.Errorf("Field = %q, want schedule.cron", cfgErr.Field)
	}
}

func TestNew_Defaults(t *testing.T) {
	s, err := New(baseConfig(), Options{})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if s.cronExpr != "@every 15m" || s.listen != ":9102" {
		t.Errorf("cron=%q listen=%q, want config defaults", s.cronExpr, s.listen)
	}

	s, err = New(baseConfig(), Options{Cron: "*/5 * * * *", Listen: "127.0.0.1:0"})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if s.cronExpr != "*/5 * * * *" || s.listen != "127.0.0.1:0" {
		t.Errorf("flags should override config: cron=%q listen=%q", s.cronExpr, s.listen)
	}
}

func TestRouter(t *testing.T) {
	fr := &fakeRun{changes: 2}
	s, err := New(baseConfig(), Options{DryRun: true, Metrics: metrics.New(), Run: fr.run})
	if err != nil {
		t.Fatal(err)
	}
	h := s.Router()

	if w := get(t, h, "/report"); w.Code != http.StatusNoContent {
		t.Errorf("/report before first run = %d, want 204", w.Code)
	}

	w := get(t, h, "/healthz")
	if w.Code != http.StatusOK {
		t.Fatalf("/healthz = %d", w.Code)
	}
	var health healthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &health); err != nil {
		t.Fatal(err)
	}
	if health.Status != "ok" || health.Runs != 0 || health.LastRun != nil {
		t.Errorf("health before run = %+v", health)
	}

	s.RunOnce(context.Background())

	w = get(t, h, "/report")
	if w.Code != http.StatusOK {
		t.Fatalf("/report after run = %d, want 200", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	var doc report.Document
	if err := json.Unmarshal(w.Body.Bytes(), &doc); err != nil {
		t.Fatalf("report is not JSON: %v", err)
	}
	if doc.Changes != 2 || !doc.DryRun || doc.Mode != "status" {
		t.Errorf("report = %+v", doc)
	}

	w = get(t, h, "/healthz")
	if err := json.Unmarshal(w.Body.Bytes(), &health); err != nil {
		t.Fatal(err)
	}
	if health.Runs != 1 || health.LastRun == nil || health.LastError != "" {
		t.Errorf("health after run = %+v", health)
	}

	w = get(t, h, "/metrics")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "poolboy_last_run_changes") {
		t.Errorf("/metrics = %d:\n%s", w.Code, w.Body.String())
	}

	if w := get(t, h, "/nope"); w.Code != http.StatusNotFound {
		t.Errorf("/nope = %d, want 404", w.Code)
	}
}

func TestRunOnce_KeepsLastReportOnFailure(t *testing.T) {
	fr := &fakeRun{changes: 1}
	s, err := New(baseConfig(), Options{Run: fr.run})
	if err != nil {
		t.Fatal(err)
	}

	s.RunOnce(context.Background())
	first := s.LastReport()

	// A failure before the working copy exists yields no report.
	s.run = func(context.Context, runner.Options) (*reconcile.Report, error) {
		return nil, errors.ErrWorkDirLocked
	}
	s.RunOnce(context.Background())

	if s.LastReport() != first {
		t.Error("a run without a report should not clear the previous one")
	}
	w := get(t, s.Router(), "/healthz")
	var health healthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &health); err != nil {
		t.Fatal(err)
	}
	if health.Runs != 2 || !strings.Contains(health.LastError, "locked") {
		t.Errorf("health = %+v", health)
	}
}

func TestReload(t *testing.T) {
	fr := &fakeRun{}
	s, err := New(baseConfig(), Options{Run: fr.run})
	if err != nil {
		t.Fatal(err)
	}
	event := fsnotify.Event{Name: "config.yaml", Op: fsnotify.Write}

	updated := baseConfig()
	updated.Pools = append(updated.Pools, config.Pool{Name: "testers", Timeout: time.Hour})
	s.Reload(event, func() (*config.Config, error) { return updated, nil })
	if s.Config() != updated {
		t.Fatal("valid reload should replace the configuration")
	}

	s.Reload(event, func() (*config.Config, error) {
		return nil, config.ValidationErrors{{Field: "repo.url", Message: "is required"}}
	})
	if s.Config() != updated {
		t.Error("invalid reload should keep the previous configuration")
	}

	s.RunOnce(context.Background())
	if len(fr.seen) != 1 || len(fr.seen[0].Pools) != 2 {
		t.Errorf("run should use the reloaded configuration, saw %+v", fr.seen)
	}
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	fr := &fakeRun{}
	s, err := New(baseConfig(), Options{Cron: "@every 1h", Run: fr.run})
	if err != nil {
		t.Fatal(err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.serve(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/healthz"
	var resp *http.Response
	for i := 0; i < 50; i++ {
		resp, err = http.Get(url)
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("server never answered: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"status":"ok"`) {
		t.Errorf("/healthz = %d %s", resp.StatusCode, body)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("serve() error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serve() did not return after cancel")
	}
	if n := atomic.LoadInt32(&fr.calls); n != 0 {
		t.Errorf("runs = %d, want 0 before the first tick", n)
	}
}

func TestServe_ListenError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	s, err := New(baseConfig(), Options{Listen: ln.Addr().String()})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Serve(context.Background()); err == nil {
		t.Error("Serve() should fail when the address is taken")
	}
}
