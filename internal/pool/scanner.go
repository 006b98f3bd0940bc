// Package pool enumerates locks in the on-disk pool layout:
//
//	<pool>/claimed/<lock>
//	<pool>/unclaimed/<lock>
//
// A lock's state is the directory it sits in. Dotfiles such as .gitkeep hold
// the directories in git and are not locks.
package pool

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/Iron-Ham/poolboy/internal/errors"
)

// Lock state directories.
const (
	ClaimedDir   = "claimed"
	UnclaimedDir = "unclaimed"
)

// Lock is one lock file, addressed relative to the working copy root.
type Lock struct {
	Pool string
	Name string
}

// ClaimedPath is the lock's path while claimed.
func (l Lock) ClaimedPath() string {
	return filepath.Join(l.Pool, ClaimedDir, l.Name)
}

// UnclaimedPath is the lock's path once released.
func (l Lock) UnclaimedPath() string {
	return filepath.Join(l.Pool, UnclaimedDir, l.Name)
}

// Scanner reads pool directories beneath a working copy root.
type Scanner struct {
	fs afero.Fs
}

// NewScanner scans pools under root on the OS filesystem.
func NewScanner(root string) *Scanner {
	return NewScannerFs(afero.NewBasePathFs(afero.NewOsFs(), root))
}

// NewScannerFs scans pools in fs, whose root is the working copy root.
func NewScannerFs(fs afero.Fs) *Scanner {
	return &Scanner{fs: fs}
}

// ClaimedLocks returns the claimed locks of pool sorted by name. It fails
// with errors.ErrPoolNotFound when the pool directory is missing. A pool
// without a claimed directory has no claimed locks.
func (s *Scanner) ClaimedLocks(pool string) ([]Lock, error) {
	return s.locks(pool, ClaimedDir)
}

func (s *Scanner) locks(pool, state string) ([]Lock, error) {
	info, err := s.fs.Stat(pool)
	if err != nil || !info.IsDir() {
		if err == nil || os.IsNotExist(err) {
			return nil, errors.NewPoolError(pool, "pool directory does not exist", errors.ErrPoolNotFound)
		}
		return nil, errors.NewPoolError(pool, "failed to stat pool directory", err)
	}

	dir := filepath.Join(pool, state)
	entries, err := afero.ReadDir(s.fs, dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.NewPoolError(pool, "failed to read "+state+" directory", err)
	}

	var locks []Lock
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		locks = append(locks, Lock{Pool: pool, Name: e.Name()})
	}
	sort.Slice(locks, func(i, j int) bool { return locks[i].Name < locks[j].Name })
	return locks, nil
}
