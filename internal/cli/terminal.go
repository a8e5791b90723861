package cli

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/ahrav/go-versus/infrastructure/units"
	"github.com/ahrav/go-versus/internal/domain"
	"github.com/ahrav/go-versus/internal/ports"
)

var _ ports.DuelObserver = (*terminalObserver)(nil)

// styles binds lipgloss styles to one output so colour is only emitted on a
// terminal.
type styles struct {
	r       *lipgloss.Renderer
	heading lipgloss.Style
	muted   lipgloss.Style
	warn    lipgloss.Style
	box     lipgloss.Style
}

func newStyles(w io.Writer) styles {
	r := lipgloss.NewRenderer(w)
	return styles{
		r:       r,
		heading: r.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF")),
		muted:   r.NewStyle().Foreground(lipgloss.Color("#888888")),
		warn:    r.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF6B6B")),
		box: r.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#444444")).
			Padding(0, 1),
	}
}

func (s styles) persona(p domain.Persona) string {
	style := s.r.NewStyle().Bold(true)
	if p.Color != "" {
		style = style.Foreground(lipgloss.Color(p.Color))
	}
	name := p.Name
	if p.Icon != "" {
		name = p.Icon + " " + name
	}
	return style.Render(name)
}

// terminalObserver prints each round as it completes.
type terminalObserver struct {
	mu     sync.Mutex
	out    io.Writer
	styles styles
}

func newTerminalObserver(out io.Writer) *terminalObserver {
	return &terminalObserver{out: out, styles: newStyles(out)}
}

func (t *terminalObserver) RoundCompleted(_ context.Context, report domain.RoundReport, snapshot domain.Snapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.styles

	fmt.Fprintln(t.out, s.heading.Render(fmt.Sprintf("Round %d of %d", report.Round, snapshot.RequestedRounds)),
		s.muted.Render(fmt.Sprintf("(%s vs %s)", report.Pairing.A.Name, report.Pairing.B.Name)))

	if report.Status != domain.RoundAccepted || report.Accepted == nil {
		fmt.Fprintln(t.out, s.warn.Render("  skipped: "+report.CauseText()))
		return
	}

	v := report.Accepted
	fmt.Fprintf(t.out, "  %s: %q\n", s.persona(v.Author), v.Line)
	if v.Source != "" {
		fmt.Fprintln(t.out, s.muted.Render("    source: "+v.Source))
	}
	if j := report.Judgment; j != nil {
		fmt.Fprintln(t.out, s.muted.Render(fmt.Sprintf("    %s %.2f  %s %.2f  winner: %s",
			j.NameA, j.TotalA, j.NameB, j.TotalB, j.Winner)))
	}
	var notes []string
	for i, fb := range report.PoetFallbacks {
		if fb {
			notes = append(notes, report.Pairing.At(domain.Slot(i)).Name+" answered off-format")
		}
	}
	if report.JudgeFallback {
		notes = append(notes, "judge answer unreadable, scored as a tie")
	}
	if len(notes) > 0 {
		fmt.Fprintln(t.out, s.warn.Render("    note: "+strings.Join(notes, "; ")))
	}
}

func (t *terminalObserver) DuelFinished(_ context.Context, snapshot domain.Snapshot, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintln(t.out)
	fmt.Fprintln(t.out, renderPoem(t.styles, snapshot))
	if stats := renderStatistics(t.styles, snapshot.Statistics); stats != "" {
		fmt.Fprintln(t.out, stats)
	}
	if err != nil {
		fmt.Fprintln(t.out, t.styles.warn.Render("Duel stopped early: "+err.Error()))
	}
}

func renderPoem(s styles, snap domain.Snapshot) string {
	var b strings.Builder
	b.WriteString(s.heading.Render(fmt.Sprintf("%s vs %s", snap.PersonaA.Name, snap.PersonaB.Name)))
	b.WriteByte('\n')
	if len(snap.Verses) == 0 {
		b.WriteString(s.muted.Render("No verses were accepted."))
		return s.box.Render(b.String())
	}
	for _, v := range snap.Verses {
		b.WriteByte('\n')
		b.WriteString(v.Line)
		b.WriteString("  ")
		b.WriteString(s.muted.Render("- " + v.Author.Name))
	}
	return s.box.Render(b.String())
}

func renderStatistics(s styles, stats *domain.DuelStatistics) string {
	if stats == nil {
		return ""
	}
	names := make([]string, 0, len(stats.Wins))
	for name := range stats.Wins {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(s.heading.Render(fmt.Sprintf("Statistics over %d judged rounds", stats.Rounds)))
	for _, name := range names {
		fmt.Fprintf(&b, "\n  %-12s wins %d  average %.2f", name, stats.Wins[name], stats.AverageTotal[name])
	}
	return b.String()
}

func renderPersonas(w io.Writer, catalog domain.PersonaCatalog) {
	s := newStyles(w)
	for _, p := range catalog.All() {
		fmt.Fprintf(w, "%s  %s\n", s.persona(p), s.muted.Render("key: "+p.Key))
		if p.Title != "" {
			fmt.Fprintf(w, "  %s\n", p.Title)
		}
		fmt.Fprintf(w, "  style:    %s\n  approach: %s\n", p.Style, p.Approach)
	}
}

func renderRubric(w io.Writer, rubric domain.Rubric) {
	s := newStyles(w)
	for _, c := range rubric.Criteria() {
		fmt.Fprintf(w, "%s %s\n  %s\n",
			s.heading.Render(units.CriterionTitle(c.Key)),
			s.muted.Render(fmt.Sprintf("(%d%%)", int(c.Weight*100+0.5))),
			c.Description)
	}
}
