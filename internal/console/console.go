// Package console renders run progress and verdicts for a terminal.
package console

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"keytrace/internal/detector"

	"github.com/charmbracelet/lipgloss"
)

var (
	colorRed    = lipgloss.Color("#FF5555")
	colorYellow = lipgloss.Color("#F1FA8C")
	colorGreen  = lipgloss.Color("#50FA7B")
	colorCyan   = lipgloss.Color("#8BE9FD")
	colorGray   = lipgloss.Color("#6272A4")

	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(colorCyan)
	dimStyle    = lipgloss.NewStyle().Foreground(colorGray)
	warnStyle   = lipgloss.NewStyle().Foreground(colorYellow).Bold(true)
	critStyle   = lipgloss.NewStyle().Foreground(colorRed).Bold(true)
	okStyle     = lipgloss.NewStyle().Foreground(colorGreen)
	headerStyle = lipgloss.NewStyle().Bold(true).Underline(true)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorGray).
			Padding(0, 1)
)

func scoreStyle(r detector.DetectionResult) lipgloss.Style {
	switch {
	case r.Detected:
		return critStyle
	case r.Degenerate:
		return dimStyle
	case r.Correlation >= r.Threshold/2:
		return warnStyle
	default:
		return okStyle
	}
}

// Progress prints status text and a progress counter. It implements the
// injector's Observer.
type Progress struct {
	w     io.Writer
	total int
	mu    sync.Mutex
}

func NewProgress(w io.Writer, total int) *Progress {
	return &Progress{w: w, total: total}
}

func (p *Progress) OnStatus(message string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w, dimStyle.Render(message))
}

func (p *Progress) OnProgress(interval int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	done := interval + 1
	width := 30
	filled := width
	if p.total > 0 {
		filled = done * width / p.total
	}
	if filled > width {
		filled = width
	}
	bar := strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
	fmt.Fprintf(p.w, "%s %d/%d\n", titleStyle.Render(bar), done, p.total)
}

// RenderResults formats a verdict table.
func RenderResults(results []detector.DetectionResult, complete bool) string {
	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("%-8s %-20s %12s %8s %6s  %s", "PID", "PROCESS", "CORRELATION", "SAMPLES", "GAPS", "VERDICT")))
	b.WriteString("\n")

	detected := 0
	for _, r := range results {
		verdict := "clean"
		switch {
		case r.Detected:
			verdict = "KEYLOGGER"
			detected++
		case r.Degenerate:
			verdict = "undefined"
		}
		name := r.ProcessName
		if len(name) > 20 {
			name = name[:19] + "…"
		}
		line := fmt.Sprintf("%-8d %-20s %12.4f %8d %6d  %s", r.ProcessID, name, r.Correlation, r.Samples, r.Gaps, verdict)
		b.WriteString(scoreStyle(r).Render(line))
		b.WriteString("\n")
	}

	summary := fmt.Sprintf("%d of %d processes flagged", detected, len(results))
	if detected > 0 {
		summary = critStyle.Render(summary)
	} else {
		summary = okStyle.Render(summary)
	}
	b.WriteString(summary)
	if !complete {
		b.WriteString("\n")
		b.WriteString(warnStyle.Render("run incomplete: scores cover the completed intervals only"))
	}
	return panelStyle.Render(b.String())
}
