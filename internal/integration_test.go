// Package internal holds tests that exercise several packages together
// against a real git remote.
package internal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/Iron-Ham/poolboy/internal/config"
	"github.com/Iron-Ham/poolboy/internal/metrics"
	"github.com/Iron-Ham/poolboy/internal/report"
	"github.com/Iron-Ham/poolboy/internal/schedule"
	"github.com/Iron-Ham/poolboy/internal/testutil"
)

// TestScheduledRuns drives two scheduled ticks through the whole stack:
// working copy, reconciliation, publish, report endpoint.
func TestScheduledRuns(t *testing.T) {
	testutil.SkipIfNoGit(t)

	fixture := testutil.SetupPoolRemote(t, "workers", "testers")
	fixture.AddLock(t, "workers", "env-1")
	fixture.AddLock(t, "testers", "sim-1")
	fixture.ClaimLock(t, "workers", "env-1", testutil.ClaimMessage("main", "deploy", "smoke", "5", "env-1"),
		time.Now().Add(-2*time.Hour))
	fixture.ClaimLock(t, "testers", "sim-1", testutil.ClaimMessage("main", "test", "unit", "9", "sim-1"),
		time.Now().Add(-10*time.Minute))

	before := testutil.CommitCount(t, fixture.Seed, "HEAD")

	cfg := config.Default()
	cfg.Repo.URL = fixture.Remote
	cfg.Repo.WorkDir = filepath.Join(t.TempDir(), "dirty-pools")
	cfg.Pools = []config.Pool{
		{Name: "workers", Timeout: time.Hour},
		{Name: "testers", Timeout: time.Hour},
	}

	svc, err := schedule.New(cfg, schedule.Options{Metrics: metrics.New()})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	svc.RunOnce(ctx)
	first := svc.LastReport()
	if first == nil || first.Changes != 1 || !first.Published {
		t.Fatalf("first run report = %+v", first)
	}

	// The second tick starts from a fresh clone and finds nothing to do.
	svc.RunOnce(ctx)
	second := svc.LastReport()
	if second == nil || second.Changes != 0 || second.Committed {
		t.Fatalf("second run report = %+v", second)
	}
	if second.RunID == first.RunID {
		t.Error("each run should get its own id")
	}

	fixture.Sync(t)
	if got := testutil.ListLocks(t, fixture.Seed, "workers", "unclaimed"); len(got) != 1 || got[0] != "env-1" {
		t.Errorf("workers unclaimed = %v, want [env-1]", got)
	}
	if got := testutil.ListLocks(t, fixture.Seed, "testers", "claimed"); len(got) != 1 || got[0] != "sim-1" {
		t.Errorf("testers claimed = %v, want [sim-1]", got)
	}
	if n := testutil.CommitCount(t, fixture.Seed, "HEAD"); n != before+1 {
		t.Errorf("commits = %d, want exactly one reconciliation commit on top of %d", n, before)
	}

	req := httptest.NewRequest(http.MethodGet, "/report", nil)
	w := httptest.NewRecorder()
	svc.Router().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("/report = %d", w.Code)
	}
	var doc report.Document
	if err := json.Unmarshal(w.Body.Bytes(), &doc); err != nil {
		t.Fatal(err)
	}
	if doc.RunID != second.RunID || len(doc.Pools) != 2 {
		t.Errorf("/report = %+v, want the second run", doc)
	}
}
