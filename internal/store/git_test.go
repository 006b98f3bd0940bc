package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Iron-Ham/poolboy/internal/errors"
	"github.com/Iron-Ham/poolboy/internal/testutil"
)

// -----------------------------------------------------------------------------
// Mock Command Executor for Unit Tests
// -----------------------------------------------------------------------------

type mockCall struct {
	dir  string
	name string
	args []string
}

type mockExecutor struct {
	calls     []mockCall
	outputs   [][]byte
	errs      []error
	callIndex int
}

func newMockExecutor() *mockExecutor {
	return &mockExecutor{}
}

func (m *mockExecutor) addResponse(output string, err error) {
	m.outputs = append(m.outputs, []byte(output))
	m.errs = append(m.errs, err)
}

func (m *mockExecutor) Run(_ context.Context, dir string, name string, args ...string) ([]byte, error) {
	m.calls = append(m.calls, mockCall{dir: dir, name: name, args: args})
	idx := m.callIndex
	m.callIndex++
	if idx < len(m.outputs) {
		return m.outputs[idx], m.errs[idx]
	}
	return nil, nil
}

func (m *mockExecutor) lastCall() mockCall {
	if len(m.calls) == 0 {
		return mockCall{}
	}
	return m.calls[len(m.calls)-1]
}

// -----------------------------------------------------------------------------
// Unit Tests
// -----------------------------------------------------------------------------

func TestGit_History(t *testing.T) {
	ctx := context.Background()

	t.Run("parses newest entry", func(t *testing.T) {
		exec := newMockExecutor()
		exec.addResponse("abc123\x1f2018-10-04T12:39:47+02:00\x1fteam/pipe/job build 7 claiming: lock-a\n", nil)
		g := NewWithExecutor("/repo", exec)

		entries, err := g.History(ctx, "workers/claimed/lock-a", 1)
		if err != nil {
			t.Fatalf("History() error: %v", err)
		}
		if len(entries) != 1 {
			t.Fatalf("History() returned %d entries, want 1", len(entries))
		}

		want := time.Date(2018, 10, 4, 10, 39, 47, 0, time.UTC)
		if !entries[0].Timestamp.Equal(want) {
			t.Errorf("Timestamp = %v, want %v", entries[0].Timestamp, want)
		}
		if entries[0].Timestamp.Location() != time.UTC {
			t.Errorf("Timestamp location = %v, want UTC", entries[0].Timestamp.Location())
		}
		if got := entries[0].Message(); got != "abc123 team/pipe/job build 7 claiming: lock-a" {
			t.Errorf("Message() = %q", got)
		}

		call := exec.lastCall()
		if call.dir != "/repo" || call.name != "git" {
			t.Errorf("ran %s in %s, want git in /repo", call.name, call.dir)
		}
		args := strings.Join(call.args, " ")
		if !strings.Contains(args, "--max-count=1") || !strings.HasSuffix(args, "-- workers/claimed/lock-a") {
			t.Errorf("unexpected args: %v", call.args)
		}
	})

	t.Run("empty history", func(t *testing.T) {
		exec := newMockExecutor()
		exec.addResponse("", nil)
		g := NewWithExecutor("/repo", exec)

		_, err := g.History(ctx, "workers/claimed/ghost", 1)
		if !errors.Is(err, errors.ErrHistoryUnavailable) {
			t.Errorf("History() error = %v, want ErrHistoryUnavailable", err)
		}
	})

	t.Run("bad timestamp", func(t *testing.T) {
		exec := newMockExecutor()
		exec.addResponse("abc\x1fyesterday\x1fsubject\n", nil)
		g := NewWithExecutor("/repo", exec)

		_, err := g.History(ctx, "p", 1)
		if !errors.Is(err, errors.ErrHistoryUnavailable) {
			t.Errorf("History() error = %v, want ErrHistoryUnavailable", err)
		}
	})

	t.Run("git failure is fatal", func(t *testing.T) {
		exec := newMockExecutor()
		exec.addResponse("fatal: not a git repository", fmt.Errorf("exit status 128"))
		g := NewWithExecutor("/repo", exec)

		_, err := g.History(ctx, "p", 1)
		if !errors.IsFatal(err) {
			t.Errorf("History() error = %v, want fatal", err)
		}
		var storeErr *errors.StoreError
		if !errors.As(err, &storeErr) || storeErr.GitOutput == "" {
			t.Errorf("expected StoreError carrying git output, got %v", err)
		}
	})
}

func TestGit_Push(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name         string
		output       string
		err          error
		wantErr      bool
		wantRejected bool
	}{
		{name: "success", output: "To /remote\n   abc..def  master -> master\n"},
		{
			name:         "non fast forward",
			output:       " ! [rejected]        master -> master (fetch first)\n",
			err:          fmt.Errorf("exit status 1"),
			wantErr:      true,
			wantRejected: true,
		},
		{
			name:    "network failure",
			output:  "fatal: unable to access remote",
			err:     fmt.Errorf("exit status 128"),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := newMockExecutor()
			exec.addResponse(tt.output, tt.err)
			g := NewWithExecutor("/repo", exec)

			err := g.Push(ctx, "origin", "master")
			if (err != nil) != tt.wantErr {
				t.Fatalf("Push() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got := errors.Is(err, errors.ErrPushRejected); got != tt.wantRejected {
				t.Errorf("errors.Is(err, ErrPushRejected) = %v, want %v", got, tt.wantRejected)
			}
			if got := strings.Join(exec.lastCall().args, " "); got != "push origin master" {
				t.Errorf("args = %q, want %q", got, "push origin master")
			}
		})
	}
}

func TestGit_SimpleCommands(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		run      func(g *Git) error
		wantArgs string
	}{
		{"move", func(g *Git) error { return g.Move(ctx, "p/claimed/a", "p/unclaimed/a") }, "mv p/claimed/a p/unclaimed/a"},
		{"commit", func(g *Git) error { return g.CommitAll(ctx, "Freshening up") }, "commit --all --message=Freshening up"},
		{"status", func(g *Git) error { _, err := g.StatusShort(ctx); return err }, "status --short"},
		{"remote url", func(g *Git) error { _, err := g.RemoteURL(ctx, "origin"); return err }, "remote get-url --push origin"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := newMockExecutor()
			g := NewWithExecutor("/repo", exec)
			if err := tt.run(g); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := strings.Join(exec.lastCall().args, " "); got != tt.wantArgs {
				t.Errorf("args = %q, want %q", got, tt.wantArgs)
			}
		})
	}

	t.Run("move failure carries path", func(t *testing.T) {
		exec := newMockExecutor()
		exec.addResponse("fatal: bad source", fmt.Errorf("exit status 128"))
		g := NewWithExecutor("/repo", exec)

		err := g.Move(ctx, "p/claimed/a", "p/unclaimed/a")
		var storeErr *errors.StoreError
		if !errors.As(err, &storeErr) {
			t.Fatalf("Move() error = %v, want StoreError", err)
		}
		if storeErr.Path != "p/claimed/a" {
			t.Errorf("Path = %q, want %q", storeErr.Path, "p/claimed/a")
		}
	})
}

// -----------------------------------------------------------------------------
// Integration Tests (real git)
// -----------------------------------------------------------------------------

func TestGit_Integration(t *testing.T) {
	testutil.SkipIfNoGit(t)
	ctx := context.Background()

	fixture := testutil.SetupPoolRemote(t, "workers")
	fixture.AddLock(t, "workers", "lock-a")
	claimedAt := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	fixture.ClaimLock(t, "workers", "lock-a", testutil.ClaimMessage("main", "deploy", "smoke", "12", "lock-a"), claimedAt)

	dir := filepath.Join(t.TempDir(), "work", "pools")
	g := New(dir)
	if err := g.Clone(ctx, fixture.Remote); err != nil {
		t.Fatalf("Clone() error: %v", err)
	}
	if err := g.SetCommitter(ctx, "Pool Boy", "<pool-boy@localhost>"); err != nil {
		t.Fatalf("SetCommitter() error: %v", err)
	}

	entries, err := g.History(ctx, "workers/claimed/lock-a", 1)
	if err != nil {
		t.Fatalf("History() error: %v", err)
	}
	if !entries[0].Timestamp.Equal(claimedAt) {
		t.Errorf("Timestamp = %v, want %v", entries[0].Timestamp, claimedAt)
	}
	if !strings.HasSuffix(entries[0].Message(), " main/deploy/smoke build 12 claiming: lock-a") {
		t.Errorf("Message() = %q", entries[0].Message())
	}

	if _, err := g.History(ctx, "workers/claimed/missing", 1); !errors.Is(err, errors.ErrHistoryUnavailable) {
		t.Errorf("History(missing) error = %v, want ErrHistoryUnavailable", err)
	}

	if err := g.Move(ctx, "workers/claimed/lock-a", "workers/unclaimed/lock-a"); err != nil {
		t.Fatalf("Move() error: %v", err)
	}
	status, err := g.StatusShort(ctx)
	if err != nil {
		t.Fatalf("StatusShort() error: %v", err)
	}
	if !strings.Contains(status, "workers/unclaimed/lock-a") {
		t.Errorf("StatusShort() = %q, want rename entry", status)
	}
	if err := g.CommitAll(ctx, "Freshening up the pool with 1 changes"); err != nil {
		t.Fatalf("CommitAll() error: %v", err)
	}

	url, err := g.RemoteURL(ctx, "origin")
	if err != nil {
		t.Fatalf("RemoteURL() error: %v", err)
	}
	if url != fixture.Remote {
		t.Errorf("RemoteURL() = %q, want %q", url, fixture.Remote)
	}

	if err := g.Push(ctx, "origin", testutil.Branch); err != nil {
		t.Fatalf("Push() error: %v", err)
	}

	fixture.Sync(t)
	if _, err := os.Stat(filepath.Join(fixture.Seed, "workers", "unclaimed", "lock-a")); err != nil {
		t.Errorf("lock-a not unclaimed on remote: %v", err)
	}
}

func TestGit_PushRejected(t *testing.T) {
	testutil.SkipIfNoGit(t)
	ctx := context.Background()

	fixture := testutil.SetupPoolRemote(t, "workers")
	fixture.AddLock(t, "workers", "lock-a")

	dir := filepath.Join(t.TempDir(), "pools")
	g := New(dir)
	if err := g.Clone(ctx, fixture.Remote); err != nil {
		t.Fatalf("Clone() error: %v", err)
	}
	if err := g.SetCommitter(ctx, "Pool Boy", "<pool-boy@localhost>"); err != nil {
		t.Fatalf("SetCommitter() error: %v", err)
	}

	// Someone else publishes first.
	fixture.AddLock(t, "workers", "lock-b")

	if err := g.Move(ctx, "workers/unclaimed/lock-a", "workers/claimed/lock-a"); err != nil {
		t.Fatalf("Move() error: %v", err)
	}
	if err := g.CommitAll(ctx, "local change"); err != nil {
		t.Fatalf("CommitAll() error: %v", err)
	}

	err := g.Push(ctx, "origin", testutil.Branch)
	if !errors.Is(err, errors.ErrPushRejected) {
		t.Errorf("Push() error = %v, want ErrPushRejected", err)
	}
}
