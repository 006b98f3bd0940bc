package workdir

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Iron-Ham/poolboy/internal/config"
	"github.com/Iron-Ham/poolboy/internal/errors"
	"github.com/Iron-Ham/poolboy/internal/store"
	"github.com/Iron-Ham/poolboy/internal/testutil"
)

func repoConfig(t *testing.T, url string) config.RepoConfig {
	t.Helper()

	cfg := config.Default().Repo
	cfg.URL = url
	cfg.WorkDir = filepath.Join(t.TempDir(), "dirty-pools")
	return cfg
}

func TestPrepare(t *testing.T) {
	testutil.SkipIfNoGit(t)
	ctx := context.Background()

	fixture := testutil.SetupPoolRemote(t, "workers")
	fixture.AddLock(t, "workers", "lock-a")
	repo := repoConfig(t, fixture.Remote)

	wd, err := Prepare(ctx, repo, nil)
	if err != nil {
		t.Fatalf("Prepare() error: %v", err)
	}

	if want := filepath.Join(repo.WorkDir, "pools"); wd.Path() != want {
		t.Errorf("Path() = %s, want %s", wd.Path(), want)
	}
	if wd.Path() != repo.LocalRepoPath() {
		t.Errorf("Path() = %s, want LocalRepoPath() %s", wd.Path(), repo.LocalRepoPath())
	}
	if got := testutil.ListLocks(t, wd.Path(), "workers", "unclaimed"); len(got) != 1 || got[0] != "lock-a" {
		t.Errorf("unclaimed = %v, want [lock-a]", got)
	}
	name := strings.TrimSpace(testutil.Git(t, wd.Path(), time.Time{}, "config", "user.name"))
	if name != "Pool Boy" {
		t.Errorf("user.name = %q, want Pool Boy", name)
	}

	// Leftovers from this run are discarded by the next one.
	testutil.WriteFile(t, filepath.Join(wd.Path(), "workers", "claimed", "leftover"), "")
	if err := wd.Release(); err != nil {
		t.Fatalf("Release() error: %v", err)
	}

	wd2, err := Prepare(ctx, repo, nil)
	if err != nil {
		t.Fatalf("second Prepare() error: %v", err)
	}
	defer func() { _ = wd2.Release() }()
	if _, err := os.Stat(filepath.Join(wd2.Path(), "workers", "claimed", "leftover")); !os.IsNotExist(err) {
		t.Errorf("leftover survived the refresh: %v", err)
	}
}

func TestPrepare_Locked(t *testing.T) {
	testutil.SkipIfNoGit(t)
	ctx := context.Background()

	fixture := testutil.SetupPoolRemote(t, "workers")
	repo := repoConfig(t, fixture.Remote)

	first, err := Prepare(ctx, repo, nil)
	if err != nil {
		t.Fatalf("Prepare() error: %v", err)
	}

	_, err = Prepare(ctx, repo, nil)
	if !errors.Is(err, errors.ErrWorkDirLocked) {
		t.Errorf("concurrent Prepare() error = %v, want ErrWorkDirLocked", err)
	}

	if err := first.Release(); err != nil {
		t.Fatalf("Release() error: %v", err)
	}
	again, err := Prepare(ctx, repo, nil)
	if err != nil {
		t.Fatalf("Prepare() after Release error: %v", err)
	}
	_ = again.Release()
}

func TestPrepare_LocalNameErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("underivable name", func(t *testing.T) {
		repo := repoConfig(t, "https://git.example.com/.git")
		_, err := Prepare(ctx, repo, nil)
		if !errors.Is(err, errors.ErrInvalidLocalName) {
			t.Errorf("Prepare() error = %v, want ErrInvalidLocalName", err)
		}
	})

	t.Run("collides with a file", func(t *testing.T) {
		repo := repoConfig(t, "git@example.com:org/pools.git")
		testutil.WriteFile(t, filepath.Join(repo.WorkDir, "pools"), "not a clone")

		_, err := Prepare(ctx, repo, nil)
		if !errors.Is(err, errors.ErrLocalNameCollision) {
			t.Errorf("Prepare() error = %v, want ErrLocalNameCollision", err)
		}
		data, _ := os.ReadFile(filepath.Join(repo.WorkDir, "pools"))
		if string(data) != "not a clone" {
			t.Error("colliding file must not be touched")
		}
	})
}

func TestPrepare_CloneFailureReleasesLock(t *testing.T) {
	ctx := context.Background()
	repo := repoConfig(t, "git@example.com:org/pools.git")

	failing := func(context.Context, string, string) (*store.Git, error) {
		return nil, errors.NewStoreError("failed to clone", errors.ErrCommandFailed)
	}

	if _, err := PrepareWith(ctx, repo, nil, failing); !errors.Is(err, errors.ErrCommandFailed) {
		t.Fatalf("PrepareWith() error = %v, want ErrCommandFailed", err)
	}
	// A second attempt must be able to take the lock again.
	if _, err := PrepareWith(ctx, repo, nil, failing); errors.Is(err, errors.ErrWorkDirLocked) {
		t.Error("lock leaked after a failed clone")
	}
}
