// Package report renders reconciliation reports for people and machines.
//
// Three formats are supported: text (a styled table on a terminal, plain
// lines otherwise), json and yaml. The json and yaml documents share one
// schema, Document.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/x/ansi"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/poolboy/internal/claim"
	"github.com/Iron-Ham/poolboy/internal/reconcile"
)

// Output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// Document is the machine-readable form of a reconcile.Report.
type Document struct {
	RunID      string    `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	Mode       string    `json:"mode" yaml:"mode"`
	DryRun     bool      `json:"dry_run" yaml:"dry_run"`
	StartedAt  time.Time `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time `json:"finished_at" yaml:"finished_at"`
	Changes    int       `json:"changes" yaml:"changes"`
	Committed  bool      `json:"committed" yaml:"committed"`
	Published  bool      `json:"published" yaml:"published"`
	RemoteURL  string    `json:"remote_url,omitempty" yaml:"remote_url,omitempty"`

	Pools []PoolDocument `json:"pools" yaml:"pools"`
	Locks []LockDocument `json:"locks" yaml:"locks"`
}

// PoolDocument summarizes one pool.
type PoolDocument struct {
	Name      string `json:"name" yaml:"name"`
	Timeout   string `json:"timeout" yaml:"timeout"`
	Claimed   int    `json:"claimed" yaml:"claimed"`
	Released  int    `json:"released" yaml:"released"`
	Undatable int    `json:"undatable" yaml:"undatable"`
	Missing   bool   `json:"missing,omitempty" yaml:"missing,omitempty"`
}

// LockDocument is one evaluated lock.
type LockDocument struct {
	Pool       string       `json:"pool" yaml:"pool"`
	Lock       string       `json:"lock" yaml:"lock"`
	Path       string       `json:"path" yaml:"path"`
	ClaimedAt  *time.Time   `json:"claimed_at,omitempty" yaml:"claimed_at,omitempty"`
	Age        string       `json:"age,omitempty" yaml:"age,omitempty"`
	AgeSeconds float64      `json:"age_seconds" yaml:"age_seconds"`
	Owner      *claim.Owner `json:"owner,omitempty" yaml:"owner,omitempty"`
	Liveness   string       `json:"liveness" yaml:"liveness"`
	Decision   string       `json:"decision" yaml:"decision"`
	Reason     string       `json:"reason" yaml:"reason"`
	Applied    bool         `json:"applied" yaml:"applied"`
	Error      string       `json:"error,omitempty" yaml:"error,omitempty"`
}

// NewDocument converts rep.
func NewDocument(rep *reconcile.Report) Document {
	doc := Document{
		RunID:      rep.RunID,
		Mode:       rep.Mode(),
		DryRun:     rep.DryRun,
		StartedAt:  rep.StartedAt,
		FinishedAt: rep.FinishedAt,
		Changes:    rep.Changes,
		Committed:  rep.Committed,
		Published:  rep.Published,
		RemoteURL:  rep.RemoteURL,
		Pools:      make([]PoolDocument, 0, len(rep.Pools)),
		Locks:      make([]LockDocument, 0, len(rep.Outcomes)),
	}

	for _, p := range rep.Pools {
		doc.Pools = append(doc.Pools, PoolDocument{
			Name:      p.Name,
			Timeout:   p.Timeout.String(),
			Claimed:   p.Claimed,
			Released:  p.Released,
			Undatable: p.Undatable,
			Missing:   p.Missing,
		})
	}

	for _, o := range rep.Outcomes {
		lock := LockDocument{
			Pool:     o.Pool,
			Lock:     o.Lock,
			Path:     o.Path,
			Liveness: o.Liveness.String(),
			Decision: o.Decision.String(),
			Reason:   o.Reason,
			Applied:  o.Applied,
		}
		if !o.ClaimedAt.IsZero() {
			at := o.ClaimedAt
			lock.ClaimedAt = &at
			lock.Age = o.Age.String()
			lock.AgeSeconds = o.Age.Seconds()
		}
		if owner, ok := o.Owner.Get(); ok {
			lock.Owner = &owner
		}
		if o.Err != nil {
			lock.Error = o.Err.Error()
		}
		doc.Locks = append(doc.Locks, lock)
	}

	return doc
}

// Render writes rep to w in format. Text output is styled only when w is a
// terminal.
func Render(w io.Writer, rep *reconcile.Report, format string) error {
	switch strings.ToLower(format) {
	case "", FormatText:
		return RenderText(w, rep, IsTerminal(w))
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(NewDocument(rep))
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(NewDocument(rep)); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown report format %q (want text, json or yaml)", format)
	}
}

// IsTerminal reports whether w is a terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Summary is the final line of every text report.
func Summary(rep *reconcile.Report) string {
	return fmt.Sprintf("Summary: detected %d changes", rep.Changes)
}

// truncate shortens s to width visible columns, keeping escape sequences intact.
func truncate(s string, width int) string {
	if width <= 3 {
		return "..."
	}
	if ansi.StringWidth(s) <= width {
		return s
	}
	return ansi.Truncate(s, width, "...")
}
