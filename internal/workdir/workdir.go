// Package workdir owns the local working copy of the pool repository.
//
// Each run gets a fresh clone: whatever a previous run left behind is
// removed first, so no state leaks between runs. An advisory lock on the
// work directory keeps two poolboy processes from sharing a clone.
package workdir

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/Iron-Ham/poolboy/internal/config"
	"github.com/Iron-Ham/poolboy/internal/errors"
	"github.com/Iron-Ham/poolboy/internal/logging"
	"github.com/Iron-Ham/poolboy/internal/store"
)

// LockFile is the name of the advisory lock inside the work directory.
const LockFile = ".poolboy.lock"

// Cloner creates a store from a remote. The default clones with the git CLI.
type Cloner func(ctx context.Context, remote, dir string) (*store.Git, error)

// WorkDir is a prepared working copy held for the duration of one run.
type WorkDir struct {
	Store *store.Git
	lock  *flock.Flock
}

// Release unlocks the work directory. The clone is left on disk for
// inspection and is replaced by the next run.
func (w *WorkDir) Release() error {
	if w == nil || w.lock == nil {
		return nil
	}
	if err := w.lock.Unlock(); err != nil {
		return fmt.Errorf("release flock %s: %w", w.lock.Path(), err)
	}
	return nil
}

// Path returns the working copy root.
func (w *WorkDir) Path() string {
	return w.Store.Dir()
}

// Prepare locks repo.WorkDir, replaces any existing clone with a fresh one
// and sets the committer identity. The caller must Release the result.
func Prepare(ctx context.Context, repo config.RepoConfig, logger *logging.Logger) (*WorkDir, error) {
	return PrepareWith(ctx, repo, logger, cloneGit)
}

// PrepareWith is Prepare with a custom Cloner.
func PrepareWith(ctx context.Context, repo config.RepoConfig, logger *logging.Logger, clone Cloner) (*WorkDir, error) {
	if logger == nil {
		logger = logging.NopLogger()
	}

	dir, err := localPath(repo)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(repo.WorkDir, 0755); err != nil {
		return nil, errors.NewStoreError("failed to create work directory", err).
			WithRepository(repo.WorkDir)
	}

	fl := flock.New(filepath.Join(repo.WorkDir, LockFile))
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire flock %s: %w", fl.Path(), err)
	}
	if !locked {
		return nil, errors.NewStoreError("another poolboy run owns "+repo.WorkDir, errors.ErrWorkDirLocked).
			WithRepository(repo.WorkDir).
			WithSeverity(errors.SeverityWarning)
	}

	wd, err := refresh(ctx, repo, dir, logger, clone)
	if err != nil {
		_ = fl.Unlock()
		return nil, err
	}
	wd.lock = fl
	return wd, nil
}

// localPath resolves the clone directory and rejects names that would
// collide with something that is not a previous clone.
func localPath(repo config.RepoConfig) (string, error) {
	name := config.LocalRepoName(repo.URL)
	if name == "" || name == "." || name == ".." || name == LockFile {
		return "", errors.NewConfigError(fmt.Sprintf("cannot derive a local directory from %q", repo.URL), errors.ErrInvalidLocalName).
			WithField("repo.url").
			WithValue(repo.URL)
	}

	dir := repo.LocalRepoPath()
	info, err := os.Lstat(dir)
	switch {
	case err == nil && !info.IsDir():
		return "", errors.NewConfigError(fmt.Sprintf("%s exists and is not a directory", dir), errors.ErrLocalNameCollision).
			WithField("repo.url").
			WithValue(repo.URL)
	case err != nil && !os.IsNotExist(err):
		return "", errors.NewStoreError("failed to inspect working copy", err).WithRepository(dir)
	}
	return dir, nil
}

func refresh(ctx context.Context, repo config.RepoConfig, dir string, logger *logging.Logger, clone Cloner) (*WorkDir, error) {
	if _, err := os.Stat(dir); err == nil {
		logger.Debug("removing previous working copy", "path", dir)
		if err := os.RemoveAll(dir); err != nil {
			return nil, errors.NewStoreError("failed to remove previous working copy", err).WithRepository(dir)
		}
	}

	logger.Info("cloning pool repository", "url", repo.URL, "path", dir)
	g, err := clone(ctx, repo.URL, dir)
	if err != nil {
		return nil, err
	}

	if err := g.SetCommitter(ctx, repo.CommitterName, repo.CommitterEmail); err != nil {
		return nil, err
	}
	return &WorkDir{Store: g}, nil
}

func cloneGit(ctx context.Context, remote, dir string) (*store.Git, error) {
	g := store.New(dir)
	if err := g.Clone(ctx, remote); err != nil {
		return nil, err
	}
	return g, nil
}
