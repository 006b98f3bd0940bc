// Package testutil provides git fixtures for poolboy tests: a bare "remote"
// holding lock pools, and a seed working copy used to claim locks with
// controlled timestamps and messages.
package testutil

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"
)

// Branch is the branch fixtures are created on.
const Branch = "master"

// PoolRemote is a bare repository plus the seed clone that populates it.
type PoolRemote struct {
	// Remote is the bare repository path, usable as a clone URL.
	Remote string
	// Seed is a working copy pushing to Remote.
	Seed string
}

// SkipIfNoGit skips the test if git is not installed.
func SkipIfNoGit(t *testing.T) {
	t.Helper()

	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not found in PATH, skipping test")
	}
}

// SetupPoolRemote creates a bare remote whose master branch contains
// <pool>/claimed and <pool>/unclaimed for every pool. The repository is
// removed when the test completes.
func SetupPoolRemote(t *testing.T, pools ...string) *PoolRemote {
	t.Helper()

	root := t.TempDir()
	remote := filepath.Join(root, "pools.git")
	seed := filepath.Join(root, "seed")

	for _, dir := range []string{remote, seed} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatalf("failed to create %s: %v", dir, err)
		}
	}

	Git(t, remote, time.Time{}, "init", "--bare")
	Git(t, remote, time.Time{}, "symbolic-ref", "HEAD", "refs/heads/"+Branch)

	Git(t, seed, time.Time{}, "init")
	Git(t, seed, time.Time{}, "symbolic-ref", "HEAD", "refs/heads/"+Branch)

	for _, pool := range pools {
		for _, state := range []string{"claimed", "unclaimed"} {
			WriteFile(t, filepath.Join(seed, pool, state, ".gitkeep"), "")
		}
	}
	WriteFile(t, filepath.Join(seed, "README.md"), "# Lock pools\n")

	Git(t, seed, time.Time{}, "add", ".")
	Git(t, seed, time.Time{}, "commit", "-m", "Initial pools")
	Git(t, seed, time.Time{}, "remote", "add", "origin", remote)
	Git(t, seed, time.Time{}, "push", "origin", Branch)

	return &PoolRemote{Remote: remote, Seed: seed}
}

// AddLock commits a new unclaimed lock and pushes it.
func (p *PoolRemote) AddLock(t *testing.T, pool, name string) {
	t.Helper()

	WriteFile(t, filepath.Join(p.Seed, pool, "unclaimed", name), "")
	Git(t, p.Seed, time.Time{}, "add", filepath.Join(pool, "unclaimed", name))
	Git(t, p.Seed, time.Time{}, "commit", "-m", fmt.Sprintf("adding %s to %s", name, pool))
	Git(t, p.Seed, time.Time{}, "push", "origin", Branch)
}

// ClaimLock moves an unclaimed lock to claimed in a commit dated at and
// carrying message, then pushes it.
func (p *PoolRemote) ClaimLock(t *testing.T, pool, name, message string, at time.Time) {
	t.Helper()

	Git(t, p.Seed, time.Time{}, "mv",
		filepath.Join(pool, "unclaimed", name),
		filepath.Join(pool, "claimed", name))
	Git(t, p.Seed, at, "commit", "-m", message)
	Git(t, p.Seed, time.Time{}, "push", "origin", Branch)
}

// Sync fast-forwards the seed clone to the remote's branch.
func (p *PoolRemote) Sync(t *testing.T) {
	t.Helper()

	Git(t, p.Seed, time.Time{}, "pull", "--ff-only", "origin", Branch)
}

// ClaimMessage builds a claim commit subject in the CI resource's convention.
func ClaimMessage(team, pipeline, job, build, description string) string {
	return fmt.Sprintf("%s/%s/%s build %s claiming: %s", team, pipeline, job, build, description)
}

// ListLocks returns the lock names under <dir>/<pool>/<state>, skipping dotfiles.
func ListLocks(t *testing.T, dir, pool, state string) []string {
	t.Helper()

	entries, err := os.ReadDir(filepath.Join(dir, pool, state))
	if err != nil {
		t.Fatalf("failed to list %s/%s: %v", pool, state, err)
	}
	var names []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") || e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

// CommitCount returns the number of commits on the given ref in repoDir.
func CommitCount(t *testing.T, repoDir, ref string) int {
	t.Helper()

	out := strings.TrimSpace(Git(t, repoDir, time.Time{}, "rev-list", "--count", ref))
	var n int
	if _, err := fmt.Sscanf(out, "%d", &n); err != nil {
		t.Fatalf("failed to parse commit count %q: %v", out, err)
	}
	return n
}

// WriteFile writes content to path, creating parent directories.
func WriteFile(t *testing.T, path, content string) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("failed to create directory for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

// Git runs git in dir and returns its output. A non-zero committerDate sets
// both author and committer dates for the command.
func Git(t *testing.T, dir string, committerDate time.Time, args ...string) string {
	t.Helper()

	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=Poolboy Test",
		"GIT_AUTHOR_EMAIL=test@poolboy.dev",
		"GIT_COMMITTER_NAME=Poolboy Test",
		"GIT_COMMITTER_EMAIL=test@poolboy.dev",
		"GIT_CONFIG_NOSYSTEM=1",
	)
	if !committerDate.IsZero() {
		stamp := committerDate.UTC().Format(time.RFC3339)
		cmd.Env = append(cmd.Env, "GIT_AUTHOR_DATE="+stamp, "GIT_COMMITTER_DATE="+stamp)
	}

	output, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %s failed: %v\n%s", strings.Join(args, " "), err, output)
	}
	return string(output)
}
