// Package tui prints discovery results and stage progress to a terminal.
package tui

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/schollz/progressbar/v3"

	"github.com/logflow/dfgflow/pkg/pipeline"
)

// Colors
var (
	accent  = lipgloss.Color("#FF0000")
	muted   = lipgloss.Color("#666666")
	success = lipgloss.Color("#00CC66")
	white   = lipgloss.Color("#FFFFFF")
)

// Styles
var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(white)
	accentStyle  = lipgloss.NewStyle().Foreground(accent).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(muted)
	successStyle = lipgloss.NewStyle().Foreground(success).Bold(true)
	codeStyle    = lipgloss.NewStyle().Background(lipgloss.Color("#1a1a1a")).Foreground(white).Padding(0, 1)
)

const rule = "  ─────────────────────────────────────"

// PrintHeader prints the program banner.
func PrintHeader(w io.Writer, version string) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, titleStyle.Render("  DFGFLOW")+mutedStyle.Render(" "+version))
	fmt.Fprintln(w, mutedStyle.Render("  Directly-follows graph discovery"))
	fmt.Fprintln(w)
}

// PrintResult prints the outcome of a discovery run.
func PrintResult(w io.Writer, res *pipeline.Result) {
	fmt.Fprintln(w)
	if res.Cached {
		fmt.Fprintln(w, successStyle.Render("  ✓ DISCOVERY COMPLETE")+mutedStyle.Render(" (cached)"))
	} else {
		fmt.Fprintln(w, successStyle.Render("  ✓ DISCOVERY COMPLETE"))
	}
	fmt.Fprintln(w)

	field(w, "Input:", codeStyle.Render(res.Source))
	if res.Output != "" {
		field(w, "Output:", codeStyle.Render(res.Output)+" "+mutedStyle.Render(string(res.Format)))
	}
	field(w, "Rows:", formatNumber(int64(res.Stats.Rows)))
	field(w, "Traces:", fmt.Sprintf("%s %s",
		formatNumber(int64(res.Stats.Traces)),
		mutedStyle.Render(fmt.Sprintf("(%s non-empty)", formatNumber(int64(res.Stats.NonEmptyTraces))))))
	if res.Summary != nil {
		field(w, "Activities:", formatNumber(int64(len(res.Summary.Activities))))
		field(w, "Edges:", fmt.Sprintf("%s %s",
			formatNumber(int64(len(res.Summary.Pairs))),
			mutedStyle.Render(fmt.Sprintf("(%d drawn)", res.Retained))))
	}
	if res.Stats.InvalidTimestamps > 0 {
		field(w, "Warnings:", accentStyle.Render(fmt.Sprintf("%d pairs with invalid timestamps", res.Stats.InvalidTimestamps)))
	}
	field(w, "Time:", titleStyle.Render(formatDuration(res.Total)))

	if len(res.Timings) > 0 {
		fmt.Fprintln(w, mutedStyle.Render(rule))
		for _, t := range res.Timings {
			fmt.Fprintf(w, "  %s %s\n", mutedStyle.Render(fmt.Sprintf("%-10s", t.Stage)), formatDuration(t.Duration))
		}
	}
	fmt.Fprintln(w)
}

// PrintInfo prints the activities and the most frequent edges of a
// summarized log. top limits the edge listing; zero lists every edge.
func PrintInfo(w io.Writer, res *pipeline.Result, top int) {
	s := res.Summary
	fmt.Fprintln(w)
	fmt.Fprintln(w, accentStyle.Render("▸ LOG"))
	field(w, "Input:", codeStyle.Render(res.Source))
	field(w, "Rows:", formatNumber(int64(res.Stats.Rows)))
	field(w, "Events:", formatNumber(int64(res.Stats.Events)))
	field(w, "Traces:", formatNumber(int64(res.Stats.Traces)))
	if s == nil {
		fmt.Fprintln(w)
		return
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, accentStyle.Render("▸ ACTIVITIES"))
	fmt.Fprintf(w, "  %s\n", mutedStyle.Render(fmt.Sprintf("%-30s %8s %8s", "activity", "start", "end")))
	for _, a := range s.Activities {
		fmt.Fprintf(w, "  %-30s %8d %8d\n", truncate(a, 30), s.Start[a], s.End[a])
	}

	edges := s.Edges()
	sort.SliceStable(edges, func(i, j int) bool { return edges[i].Count > edges[j].Count })
	if top > 0 && len(edges) > top {
		edges = edges[:top]
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, accentStyle.Render("▸ EDGES"))
	fmt.Fprintf(w, "  %s\n", mutedStyle.Render(fmt.Sprintf("%-40s %8s %10s", "pair", "count", "median")))
	for _, e := range edges {
		pair := truncate(e.Source, 18) + " → " + truncate(e.Target, 18)
		fmt.Fprintf(w, "  %-40s %8d %10s\n", pair, e.Count, formatSeconds(e.Median))
	}
	if len(edges) < len(s.Pairs) {
		fmt.Fprintln(w, mutedStyle.Render(fmt.Sprintf("  … %d more", len(s.Pairs)-len(edges))))
	}
	fmt.Fprintln(w)
}

func field(w io.Writer, label, value string) {
	fmt.Fprintf(w, "  %s %s\n", mutedStyle.Render(fmt.Sprintf("%-11s", label)), value)
}

// StageProgress shows one bar step per pipeline stage.
type StageProgress struct {
	bar *progressbar.ProgressBar
}

// NewStageProgress creates a progress bar over the pipeline stages.
func NewStageProgress(w io.Writer) *StageProgress {
	bar := progressbar.NewOptions(len(pipeline.Stages),
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription("starting"),
		progressbar.OptionSetWidth(30),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "",
			BarEnd:        "",
		}),
		progressbar.OptionThrottle(50*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
	return &StageProgress{bar: bar}
}

// Func returns the callback to hand to the orchestrator.
func (p *StageProgress) Func() pipeline.ProgressFunc {
	return func(ev pipeline.ProgressEvent) {
		if !ev.Done {
			p.bar.Describe(string(ev.Stage))
			return
		}
		_ = p.bar.Add(1)
	}
}

// Finish completes the bar. Stages skipped by a cache hit count as done.
func (p *StageProgress) Finish() {
	_ = p.bar.Finish()
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}

// formatSeconds formats an edge latency.
func formatSeconds(s int64) string {
	d := time.Duration(s) * time.Second
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", s)
	case d < time.Hour:
		return fmt.Sprintf("%dm%02ds", s/60, s%60)
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh%02dm", s/3600, (s%3600)/60)
	default:
		return fmt.Sprintf("%dd%02dh", s/86400, (s%86400)/3600)
	}
}

func formatNumber(n int64) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1000000 {
		return fmt.Sprintf("%.1fK", float64(n)/1000)
	}
	return fmt.Sprintf("%.1fM", float64(n)/1000000)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
