package staleness

import (
	"strings"
	"testing"
	"time"

	"github.com/Iron-Ham/poolboy/internal/oracle"
)

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// ages spans fresh, boundary and ancient claims, including a claim dated in
// the future (clock skew between committer and reconciler).
var ages = []time.Duration{
	-5 * time.Minute,
	0,
	time.Nanosecond,
	10 * time.Minute,
	59*time.Minute + 59*time.Second,
	time.Hour,
	time.Hour + time.Nanosecond,
	90 * time.Minute,
	72 * time.Hour,
	365 * 24 * time.Hour,
}

var timeouts = []time.Duration{time.Nanosecond, time.Minute, time.Hour, 24 * time.Hour}

func TestDecide_AliveAlwaysKeeps(t *testing.T) {
	for _, age := range ages {
		for _, timeout := range timeouts {
			got, _ := Decide(now, now.Add(-age), timeout, oracle.Alive("started"))
			if got != Keep {
				t.Errorf("Decide(age=%s, timeout=%s, alive) = %s, want keep", age, timeout, got)
			}
		}
	}
}

func TestDecide_TerminatedAlwaysReleases(t *testing.T) {
	for _, status := range []string{"succeeded", "failed", "errored", "aborted", ""} {
		for _, age := range ages {
			for _, timeout := range timeouts {
				got, _ := Decide(now, now.Add(-age), timeout, oracle.Terminated(status))
				if got != Release {
					t.Errorf("Decide(age=%s, timeout=%s, terminated(%q)) = %s, want release", age, timeout, status, got)
				}
			}
		}
	}
}

func TestDecide_UnknownUsesAge(t *testing.T) {
	for _, age := range ages {
		for _, timeout := range timeouts {
			want := Keep
			if age > timeout {
				want = Release
			}
			got, _ := Decide(now, now.Add(-age), timeout, oracle.Unknown())
			if got != want {
				t.Errorf("Decide(age=%s, timeout=%s, unknown) = %s, want %s", age, timeout, got, want)
			}
		}
	}
}

func TestDecide_Boundary(t *testing.T) {
	tests := []struct {
		name string
		age  time.Duration
		want Decision
	}{
		{"exactly at timeout", time.Hour, Keep},
		{"one nanosecond past", time.Hour + time.Nanosecond, Release},
		{"one nanosecond short", time.Hour - time.Nanosecond, Keep},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := Decide(now, now.Add(-tt.age), time.Hour, oracle.Unknown())
			if got != tt.want {
				t.Errorf("Decide() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestDecide_Reason(t *testing.T) {
	tests := []struct {
		name     string
		verdict  oracle.Verdict
		age      time.Duration
		contains string
	}{
		{"alive", oracle.Alive("started"), time.Minute, "owning build is started"},
		{"terminated", oracle.Terminated("failed"), time.Minute, `status "failed"`},
		{"stale", oracle.Unknown(), 90 * time.Minute, "lock is stale (lifetime: 1h30m0s, timeout: 1h0m0s)"},
		{"fresh", oracle.Unknown(), 10 * time.Minute, "not stale yet"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, reason := Decide(now, now.Add(-tt.age), time.Hour, tt.verdict)
			if !strings.Contains(reason, tt.contains) {
				t.Errorf("reason = %q, want it to contain %q", reason, tt.contains)
			}
		})
	}
}

func TestDecision_MarshalText(t *testing.T) {
	for d, want := range map[Decision]string{Keep: "keep", Release: "release"} {
		got, err := d.MarshalText()
		if err != nil || string(got) != want {
			t.Errorf("MarshalText(%d) = %q, %v; want %q", d, got, err, want)
		}
	}
}
