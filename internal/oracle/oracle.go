// Package oracle answers whether the CI build that claimed a lock is still
// running.
//
// Oracle failures are never errors to callers. Every failure collapses to
// an Unknown verdict, and the staleness rules decide what Unknown means.
package oracle

import (
	"context"

	"github.com/Iron-Ham/poolboy/internal/claim"
)

// Kind classifies a Verdict.
type Kind int

const (
	// KindUnknown means liveness could not be established.
	KindUnknown Kind = iota
	// KindAlive means the owning build is running.
	KindAlive
	// KindTerminated means the owning build has finished.
	KindTerminated
)

// String returns the lowercase name of the kind.
func (k Kind) String() string {
	switch k {
	case KindAlive:
		return "alive"
	case KindTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Verdict is the liveness of a claim's owner.
type Verdict struct {
	Kind Kind
	// Status is the raw build status reported by the CI system. Set for
	// Alive and Terminated.
	Status string
}

// Alive returns the verdict for a running build.
func Alive(status string) Verdict { return Verdict{Kind: KindAlive, Status: status} }

// Terminated returns the verdict for a finished build.
func Terminated(status string) Verdict { return Verdict{Kind: KindTerminated, Status: status} }

// Unknown returns the verdict used when liveness cannot be established.
func Unknown() Verdict { return Verdict{Kind: KindUnknown} }

// String renders the verdict, including the status when known.
func (v Verdict) String() string {
	if v.Kind == KindTerminated {
		return "terminated(" + v.Status + ")"
	}
	return v.Kind.String()
}

// Oracle looks up owner liveness.
type Oracle interface {
	// Query returns the liveness of owner. Absent owners yield Unknown
	// without any lookup.
	Query(ctx context.Context, owner claim.OwnerResult) Verdict
}

// Disabled is the Oracle used when no CI endpoint is configured.
type Disabled struct{}

// Query always returns Unknown.
func (Disabled) Query(context.Context, claim.OwnerResult) Verdict {
	return Unknown()
}

var _ Oracle = Disabled{}
