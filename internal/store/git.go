// Package store implements the versioned file store that holds lock pools.
//
// The store is a git working copy. Every operation shells out to the git CLI
// through a CommandExecutor so tests can substitute canned output instead of
// running git.
package store

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Iron-Ham/poolboy/internal/errors"
)

// -----------------------------------------------------------------------------
// Command Executor
// -----------------------------------------------------------------------------

// CommandExecutor abstracts command execution for testability.
type CommandExecutor interface {
	// Run executes a command in dir and returns combined output.
	Run(ctx context.Context, dir string, name string, args ...string) ([]byte, error)
}

// CLICommandExecutor executes commands using os/exec. Git is never allowed
// to prompt for credentials; an unattended run fails instead of hanging.
type CLICommandExecutor struct{}

// NewCLICommandExecutor creates a new CLI command executor.
func NewCLICommandExecutor() *CLICommandExecutor {
	return &CLICommandExecutor{}
}

// Run executes a command and returns combined output.
func (e *CLICommandExecutor) Run(ctx context.Context, dir string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	return cmd.CombinedOutput()
}

// -----------------------------------------------------------------------------
// Git
// -----------------------------------------------------------------------------

// fieldSep separates fields in the history format string.
const fieldSep = "\x1f"

// Git is a Store backed by a git working copy at dir.
type Git struct {
	dir      string
	executor CommandExecutor
}

// New creates a Git store for the working copy at dir.
func New(dir string) *Git {
	return &Git{dir: dir, executor: NewCLICommandExecutor()}
}

// NewWithExecutor creates a Git store with a custom executor.
// This is primarily useful for testing.
func NewWithExecutor(dir string, executor CommandExecutor) *Git {
	return &Git{dir: dir, executor: executor}
}

// Dir returns the working copy root.
func (g *Git) Dir() string {
	return g.dir
}

func (g *Git) git(ctx context.Context, args ...string) ([]byte, error) {
	return g.executor.Run(ctx, g.dir, "git", args...)
}

// Clone clones remote into the store's directory. The directory must not
// exist yet; its parent is created if needed.
func (g *Git) Clone(ctx context.Context, remote string) error {
	parent := filepath.Dir(g.dir)
	if err := os.MkdirAll(parent, 0755); err != nil {
		return errors.NewStoreError("failed to create working directory", err).
			WithRepository(parent)
	}

	output, err := g.executor.Run(ctx, parent, "git", "clone", remote, filepath.Base(g.dir))
	if err != nil {
		return errors.NewStoreError("failed to clone "+remote, errors.Join(errors.ErrCommandFailed, err)).
			WithRepository(g.dir).
			WithGitOutput(string(output))
	}
	return nil
}

// SetCommitter configures the identity used for reconciliation commits.
func (g *Git) SetCommitter(ctx context.Context, name, email string) error {
	for _, kv := range [][2]string{{"user.name", name}, {"user.email", email}} {
		if output, err := g.git(ctx, "config", kv[0], kv[1]); err != nil {
			return errors.NewStoreError("failed to set "+kv[0], errors.Join(errors.ErrCommandFailed, err)).
				WithRepository(g.dir).
				WithGitOutput(string(output))
		}
	}
	return nil
}

// History returns up to limit commits touching path, newest first.
func (g *Git) History(ctx context.Context, path string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 1
	}

	output, err := g.git(ctx, "log",
		"--max-count="+strconv.Itoa(limit),
		"--format=%H"+fieldSep+"%cI"+fieldSep+"%s",
		"--", path)
	if err != nil {
		return nil, errors.NewStoreError("failed to read history", errors.Join(errors.ErrCommandFailed, err)).
			WithRepository(g.dir).
			WithPath(path).
			WithGitOutput(string(output))
	}

	var entries []Entry
	for _, line := range strings.Split(strings.TrimSpace(string(output)), "\n") {
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, fieldSep, 3)
		if len(fields) != 3 {
			return nil, errors.NewStoreError("unparseable history line", errors.ErrHistoryUnavailable).
				WithPath(path).
				WithGitOutput(line)
		}
		ts, err := time.Parse(time.RFC3339, fields[1])
		if err != nil {
			return nil, errors.NewStoreError("unparseable commit timestamp", errors.Join(errors.ErrHistoryUnavailable, err)).
				WithPath(path).
				WithGitOutput(line)
		}
		entries = append(entries, Entry{Hash: fields[0], Timestamp: ts.UTC(), Subject: fields[2]})
	}

	if len(entries) == 0 {
		return nil, errors.NewStoreError("no history for path", errors.ErrHistoryUnavailable).
			WithRepository(g.dir).
			WithPath(path)
	}
	return entries, nil
}

// Move relocates src to dst and stages the change.
func (g *Git) Move(ctx context.Context, src, dst string) error {
	if output, err := g.git(ctx, "mv", src, dst); err != nil {
		return errors.NewStoreError("failed to move "+src+" to "+dst, errors.Join(errors.ErrCommandFailed, err)).
			WithRepository(g.dir).
			WithPath(src).
			WithGitOutput(string(output))
	}
	return nil
}

// StatusShort returns `git status --short`.
func (g *Git) StatusShort(ctx context.Context) (string, error) {
	output, err := g.git(ctx, "status", "--short")
	if err != nil {
		return "", errors.NewStoreError("failed to read status", errors.Join(errors.ErrCommandFailed, err)).
			WithRepository(g.dir).
			WithGitOutput(string(output))
	}
	return strings.TrimRight(string(output), "\n"), nil
}

// CommitAll commits every tracked change with message.
func (g *Git) CommitAll(ctx context.Context, message string) error {
	if output, err := g.git(ctx, "commit", "--all", "--message="+message); err != nil {
		return errors.NewStoreError("failed to commit", errors.Join(errors.ErrCommandFailed, err)).
			WithRepository(g.dir).
			WithGitOutput(string(output))
	}
	return nil
}

// Push publishes branch to remote. A rejected (non-fast-forward) push is
// reported as errors.ErrPushRejected and never retried.
func (g *Git) Push(ctx context.Context, remote, branch string) error {
	output, err := g.git(ctx, "push", remote, branch)
	if err == nil {
		return nil
	}

	cause := errors.Join(errors.ErrCommandFailed, err)
	if isRejection(string(output)) {
		cause = errors.Join(errors.ErrPushRejected, err)
	}
	return errors.NewStoreError("failed to push to "+remote+"/"+branch, cause).
		WithRepository(g.dir).
		WithGitOutput(string(output))
}

func isRejection(output string) bool {
	for _, marker := range []string{"[rejected]", "non-fast-forward", "fetch first"} {
		if strings.Contains(output, marker) {
			return true
		}
	}
	return false
}

// RemoteURL returns the push URL of remote.
func (g *Git) RemoteURL(ctx context.Context, remote string) (string, error) {
	output, err := g.git(ctx, "remote", "get-url", "--push", remote)
	if err != nil {
		return "", errors.NewStoreError("failed to read remote url", errors.Join(errors.ErrCommandFailed, err)).
			WithRepository(g.dir).
			WithGitOutput(string(output))
	}
	return strings.TrimSpace(string(output)), nil
}
