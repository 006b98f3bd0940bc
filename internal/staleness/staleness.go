// Package staleness decides whether a claimed lock should be released.
package staleness

import (
	"fmt"
	"time"

	"github.com/Iron-Ham/poolboy/internal/oracle"
)

// Decision is the reconciliation verdict for one lock.
type Decision int

const (
	Keep Decision = iota
	Release
)

// String returns "keep" or "release".
func (d Decision) String() string {
	if d == Release {
		return "release"
	}
	return "keep"
}

// MarshalText renders the decision by name in JSON and YAML reports.
func (d Decision) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Decide applies the release rules in priority order:
//
//	alive          -> keep
//	terminated(s)  -> release
//	unknown, age > timeout  -> release
//	unknown, age <= timeout -> keep
//
// The returned reason is a human-readable audit line.
func Decide(now, claimedAt time.Time, timeout time.Duration, verdict oracle.Verdict) (Decision, string) {
	age := now.Sub(claimedAt)

	switch verdict.Kind {
	case oracle.KindAlive:
		return Keep, fmt.Sprintf("owning build is %s (lifetime: %s)", verdict.Status, age)
	case oracle.KindTerminated:
		return Release, fmt.Sprintf("owning build is terminated with status %q (lifetime: %s)", verdict.Status, age)
	}

	if age > timeout {
		return Release, fmt.Sprintf("couldn't check the build status and lock is stale (lifetime: %s, timeout: %s)", age, timeout)
	}
	return Keep, fmt.Sprintf("couldn't check the build status and lock is not stale yet (lifetime: %s, timeout: %s)", age, timeout)
}
