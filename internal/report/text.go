package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/Iron-Ham/poolboy/internal/reconcile"
	"github.com/Iron-Ham/poolboy/internal/staleness"
)

// reasonWidth bounds the reason column of the styled table.
const reasonWidth = 72

var (
	releaseColor = lipgloss.Color("#F87171")
	keepColor    = lipgloss.Color("#10B981")
	mutedColor   = lipgloss.Color("#9CA3AF")
	borderColor  = lipgloss.Color("#6B7280")
	titleColor   = lipgloss.Color("#A78BFA")

	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(titleColor)
	headerStyle  = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle    = lipgloss.NewStyle().Padding(0, 1)
	mutedStyle   = lipgloss.NewStyle().Foreground(mutedColor)
	summaryStyle = lipgloss.NewStyle().Bold(true)
)

// RenderText writes a human-readable report. styled selects the lipgloss
// table; otherwise one plain line is written per pool and per lock.
func RenderText(w io.Writer, rep *reconcile.Report, styled bool) error {
	var b strings.Builder
	if styled {
		writeStyled(&b, rep)
	} else {
		writePlain(&b, rep)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func header(rep *reconcile.Report) string {
	h := fmt.Sprintf("poolboy %s", rep.Mode())
	if rep.RunID != "" {
		h += " (run " + rep.RunID + ")"
	}
	if rep.DryRun {
		h += ", dry run: nothing was changed"
	}
	return h
}

func poolLine(p reconcile.PoolSummary) string {
	if p.Missing {
		return fmt.Sprintf("pool %s: directory not found", p.Name)
	}
	if p.Claimed == 0 {
		return fmt.Sprintf("pool %s (timeout %s): no claimed locks", p.Name, p.Timeout)
	}
	line := fmt.Sprintf("pool %s (timeout %s): %d claimed, %d to release", p.Name, p.Timeout, p.Claimed, p.Released)
	if p.Undatable > 0 {
		line += fmt.Sprintf(", %d undatable", p.Undatable)
	}
	return line
}

func age(o reconcile.Outcome) string {
	if o.Undatable() {
		return "-"
	}
	return o.Age.Truncate(time.Second).String()
}

func publishLine(rep *reconcile.Report) string {
	switch {
	case rep.DryRun || rep.Changes == 0:
		return ""
	case rep.Published:
		return "published to " + rep.RemoteURL
	case rep.Committed:
		return "committed locally, push failed"
	default:
		return "not committed"
	}
}

func writePlain(b *strings.Builder, rep *reconcile.Report) {
	fmt.Fprintln(b, header(rep))
	for _, p := range rep.Pools {
		fmt.Fprintln(b, poolLine(p))
	}
	for _, o := range rep.Outcomes {
		fmt.Fprintf(b, "  %-7s %s  age=%s  owner=%s  liveness=%s  %s\n",
			o.Decision, o.Path, age(o), o.Owner, o.Liveness, o.Reason)
	}
	if line := publishLine(rep); line != "" {
		fmt.Fprintln(b, line)
	}
	fmt.Fprintln(b, Summary(rep))
}

func writeStyled(b *strings.Builder, rep *reconcile.Report) {
	fmt.Fprintln(b, titleStyle.Render(header(rep)))
	for _, p := range rep.Pools {
		fmt.Fprintln(b, mutedStyle.Render(poolLine(p)))
	}

	if len(rep.Outcomes) > 0 {
		rows := make([][]string, 0, len(rep.Outcomes))
		for _, o := range rep.Outcomes {
			rows = append(rows, []string{
				o.Decision.String(),
				o.Path,
				age(o),
				o.Owner.String(),
				o.Liveness.String(),
				truncate(o.Reason, reasonWidth),
			})
		}

		t := table.New().
			Border(lipgloss.RoundedBorder()).
			BorderStyle(lipgloss.NewStyle().Foreground(borderColor)).
			Headers("DECISION", "LOCK", "AGE", "OWNER", "LIVENESS", "REASON").
			Rows(rows...).
			StyleFunc(func(row, col int) lipgloss.Style {
				if row == table.HeaderRow {
					return headerStyle
				}
				if col == 0 && row >= 0 && row < len(rep.Outcomes) {
					if rep.Outcomes[row].Decision == staleness.Release {
						return cellStyle.Foreground(releaseColor).Bold(true)
					}
					return cellStyle.Foreground(keepColor)
				}
				return cellStyle
			})
		fmt.Fprintln(b, t.Render())
	}

	if line := publishLine(rep); line != "" {
		fmt.Fprintln(b, mutedStyle.Render(line))
	}
	fmt.Fprintln(b, summaryStyle.Render(Summary(rep)))
}
