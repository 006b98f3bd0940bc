package config

import (
	"fmt"
	"math"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/Iron-Ham/poolboy/internal/errors"
)

// Pool is a named lock pool and the age after which an unconfirmed claim on
// one of its locks is considered abandoned.
type Pool struct {
	Name    string
	Timeout time.Duration
}

// String renders the pool in the same "name:timeout" form it is parsed from.
func (p Pool) String() string {
	return fmt.Sprintf("%s:%s", p.Name, p.Timeout)
}

// ParsePools parses a comma-separated list of "name[:timeout]" entries.
//
// A timeout is either an integer number of minutes ("workers:60") or a Go
// duration ("workers:90m", "workers:2h"). Entries without a timeout use
// defaultTimeout. Pool names are directory names in the repository root, so
// separators and "." / ".." are rejected.
func ParsePools(spec string, defaultTimeout time.Duration) ([]Pool, error) {
	if strings.TrimSpace(spec) == "" {
		return nil, nil
	}

	var pools []Pool
	seen := make(map[string]bool)

	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		name, rawTimeout, hasTimeout := strings.Cut(part, ":")
		name = strings.TrimSpace(name)

		if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) || path.Clean(name) != name {
			return nil, poolSpecError("invalid pool name", part)
		}
		if seen[name] {
			return nil, poolSpecError("duplicate pool", part)
		}
		seen[name] = true

		timeout := defaultTimeout
		if hasTimeout {
			d, err := parseTimeout(strings.TrimSpace(rawTimeout))
			if err != nil {
				return nil, poolSpecError(err.Error(), part)
			}
			timeout = d
		}
		if timeout <= 0 {
			return nil, poolSpecError("timeout must be positive", part)
		}

		pools = append(pools, Pool{Name: name, Timeout: timeout})
	}

	return pools, nil
}

func parseTimeout(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, fmt.Errorf("missing timeout")
	}
	if minutes, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if minutes > math.MaxInt64/int64(time.Minute) {
			return 0, fmt.Errorf("timeout too large: %d minutes", minutes)
		}
		return time.Duration(minutes) * time.Minute, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("timeout %q is neither minutes nor a duration", raw)
	}
	return d, nil
}

func poolSpecError(message, entry string) error {
	return errors.NewConfigError(message, errors.ErrInvalidPoolSpec).
		WithField("pools").
		WithValue(entry)
}
