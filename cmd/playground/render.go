package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"playground-engine/internal/engine"
	"playground-engine/internal/history"
	"playground-engine/internal/language"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	logStyle     = lipgloss.NewStyle()
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	resultStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))

	statusCompleted = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("46"))
	statusFailed    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	statusTimedOut  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("208"))
	statusStopped   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("220"))
)

func kindStyle(kind engine.Kind) lipgloss.Style {
	switch kind {
	case engine.KindError:
		return errorStyle
	case engine.KindWarning:
		return warningStyle
	case engine.KindResult:
		return resultStyle
	default:
		return logStyle
	}
}

func statusStyle(state engine.State) lipgloss.Style {
	switch state {
	case engine.StateCompleted:
		return statusCompleted
	case engine.StateFailed:
		return statusFailed
	case engine.StateTimedOut:
		return statusTimedOut
	case engine.StateStopped:
		return statusStopped
	default:
		return dimStyle
	}
}

func renderEvent(event engine.OutputEvent) string {
	prefix := dimStyle.Render(fmt.Sprintf("%3d %s", event.Seq, event.Timestamp.Format("15:04:05.000")))
	return prefix + " " + kindStyle(event.Kind).Render(event.Content)
}

func renderSummary(s *engine.Summary) string {
	var b strings.Builder
	b.WriteString(statusStyle(s.Status).Render(string(s.Status)))
	fmt.Fprintf(&b, " %s in %dms, exit %d, memory %.2f/%dMB",
		s.Language, s.ExecutionTimeMs, s.ExitCode, s.MemoryUsageMB, s.MemoryLimitMB)
	if s.Simulated {
		b.WriteString(" " + warningStyle.Render("[simulated]"))
	}
	if s.Error != "" {
		b.WriteString("\n" + errorStyle.Render(s.Error))
	}
	return b.String()
}

func renderLanguages(specs []language.Spec) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Languages"))
	for _, spec := range specs {
		fmt.Fprintf(&b, "\n  %-12s %-10s %6dms %5dMB", spec.Name, spec.Runtime, spec.TimeoutMs, spec.MemoryLimitMB)
		if spec.IsSimulated() {
			b.WriteString(" " + warningStyle.Render(string(spec.Isolation)))
		} else {
			b.WriteString(" " + resultStyle.Render(string(spec.Isolation)))
		}
		if len(spec.Aliases) > 0 {
			b.WriteString(" " + dimStyle.Render("("+strings.Join(spec.Aliases, ", ")+")"))
		}
	}
	return b.String()
}

func renderHistory(records []history.Record) string {
	if len(records) == 0 {
		return dimStyle.Render("no runs recorded")
	}
	var b strings.Builder
	b.WriteString(titleStyle.Render("Recent runs"))
	for _, rec := range records {
		fmt.Fprintf(&b, "\n  %s %s %-10s %s %6dms",
			dimStyle.Render(rec.FinishedAt.Format("2006-01-02 15:04:05")),
			rec.RunID,
			rec.Language,
			statusStyle(rec.Status).Render(fmt.Sprintf("%-9s", rec.Status)),
			rec.ExecutionTimeMs,
		)
	}
	return b.String()
}
