package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/ShayCichocki/ccc/internal/orchestrator"
	"github.com/ShayCichocki/ccc/pkg/models"
)

// printStatus prints a colored symbol followed by message.
func printStatus(w io.Writer, symbol, message string, colorAttr color.Attribute) {
	c := color.New(colorAttr)
	fmt.Fprintf(w, "%s %s\n", c.Sprint(symbol), message)
}

func taskColor(s models.TaskStatus) *color.Color {
	switch s {
	case models.TaskStatusCompleted:
		return color.New(color.FgGreen)
	case models.TaskStatusFailed, models.TaskStatusTerminated:
		return color.New(color.FgRed)
	case models.TaskStatusSkipped:
		return color.New(color.FgYellow)
	case models.TaskStatusRunning, models.TaskStatusStarting:
		return color.New(color.FgCyan)
	default:
		return color.New(color.FgHiBlack)
	}
}

func runColor(s models.RunStatus) *color.Color {
	switch s {
	case models.RunStatusCompleted:
		return color.New(color.FgGreen, color.Bold)
	case models.RunStatusPartiallyCompleted:
		return color.New(color.FgYellow, color.Bold)
	case models.RunStatusHalted:
		return color.New(color.FgRed, color.Bold)
	default:
		return color.New(color.FgCyan, color.Bold)
	}
}

// printSnapshot prints a run's status and per-task breakdown.
func printSnapshot(w io.Writer, snap *models.RunSnapshot) {
	title := snap.ID
	if snap.Name != "" {
		title = fmt.Sprintf("%s (%s)", snap.Name, snap.ID)
	}
	fmt.Fprintf(w, "Run %s: %s\n", title, runColor(snap.Status).Sprint(snap.Status))
	if snap.Reason != "" {
		fmt.Fprintf(w, "  Reason: %s\n", snap.Reason)
	}
	fmt.Fprintf(w, "  Mode: %s, max parallel %d\n", snap.Mode, snap.MaxParallel)
	if !snap.StartedAt.IsZero() {
		end := snap.EndedAt
		if end.IsZero() {
			end = time.Now()
		}
		fmt.Fprintf(w, "  Elapsed: %s\n", formatDuration(end.Sub(snap.StartedAt)))
	}
	c := snap.Counters
	fmt.Fprintf(w, "  Sessions: %d launched, %d retries, %d failures, %d skipped\n",
		c.SessionsLaunched, c.Retries, c.Failures, c.Skipped)

	if len(snap.Tasks) == 0 {
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  %-24s %-12s %-8s %s\n", "TASK", "STATUS", "ATTEMPTS", "DETAIL")
	for _, t := range snap.Tasks {
		name := t.Name
		if t.Critical {
			name += " *"
		}
		detail := t.Reason
		if detail == "" {
			detail = t.LastProgress
		}
		fmt.Fprintf(w, "  %-24s %s %-8d %s\n",
			truncate(name, 24),
			taskColor(t.Status).Sprintf("%-12s", t.Status),
			t.Attempts,
			truncate(oneLine(detail), 80))
	}
}

// printRunList prints one line per run.
func printRunList(w io.Writer, runs []models.RunSnapshot) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded yet.")
		return
	}
	fmt.Fprintf(w, "%-10s %-20s %-20s %s\n", "ID", "STATUS", "CREATED", "NAME")
	for _, r := range runs {
		fmt.Fprintf(w, "%-10s %s %-20s %s\n",
			r.ID,
			runColor(r.Status).Sprintf("%-20s", r.Status),
			r.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			r.Name)
	}
}

// printEvent prints one live orchestrator event.
func printEvent(w io.Writer, ev orchestrator.Event) {
	ts := ev.Timestamp.Local().Format("15:04:05")
	prefix := color.New(color.FgHiBlack).Sprint(ts)

	switch ev.Type {
	case orchestrator.EventTaskStarted:
		fmt.Fprintf(w, "%s %s %s (attempt %d)\n", prefix, color.CyanString("▶"), ev.Task, ev.Attempt)
	case orchestrator.EventTaskCompleted:
		fmt.Fprintf(w, "%s %s %s in %s\n", prefix, color.GreenString("✓"), ev.Task, formatDuration(ev.Duration))
	case orchestrator.EventTaskRetry:
		fmt.Fprintf(w, "%s %s %s retrying: %s\n", prefix, color.YellowString("↻"), ev.Task, decisionText(ev))
	case orchestrator.EventTaskFailed:
		fmt.Fprintf(w, "%s %s %s failed: %s\n", prefix, color.RedString("✗"), ev.Task, decisionText(ev))
	case orchestrator.EventTaskTerminated:
		fmt.Fprintf(w, "%s %s %s terminated: %s\n", prefix, color.RedString("■"), ev.Task, ev.Message)
	case orchestrator.EventTaskSkipped:
		fmt.Fprintf(w, "%s %s %s skipped: %s\n", prefix, color.YellowString("-"), ev.Task, ev.Message)
	case orchestrator.EventRunHalted:
		fmt.Fprintf(w, "%s %s run halted: %s\n", prefix, color.RedString("!"), ev.Message)
	}
}

func decisionText(ev orchestrator.Event) string {
	if ev.Decision != nil {
		return fmt.Sprintf("%s (%s)", ev.Decision.Reason, ev.Decision.Tier)
	}
	return ev.Message
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
