package dashboard

import (
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/ShayCichocki/ccc/pkg/models"
)

// Status icons.
const (
	iconPending    = "[○]"
	iconStarting   = "[◐]"
	iconRunning    = "[●]"
	iconDone       = "[✓]"
	iconFailed     = "[✗]"
	iconTerminated = "[■]"
	iconSkipped    = "[-]"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Italic(true)

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	frameStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240"))

	runningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("34"))  // Green
	doneStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("28"))  // Dark green
	failedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196")) // Red
	partialStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214")) // Orange
	idleStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("244")) // Gray
)

func taskIcon(s models.TaskStatus) string {
	switch s {
	case models.TaskStatusStarting:
		return iconStarting
	case models.TaskStatusRunning:
		return iconRunning
	case models.TaskStatusCompleted:
		return iconDone
	case models.TaskStatusFailed:
		return iconFailed
	case models.TaskStatusTerminated:
		return iconTerminated
	case models.TaskStatusSkipped:
		return iconSkipped
	default:
		return iconPending
	}
}

func runStyle(s models.RunStatus) lipgloss.Style {
	switch s {
	case models.RunStatusRunning:
		return runningStyle
	case models.RunStatusCompleted:
		return doneStyle
	case models.RunStatusPartiallyCompleted:
		return partialStyle
	case models.RunStatusHalted:
		return failedStyle
	default:
		return idleStyle
	}
}

func tableStyles() table.Styles {
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(true)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("15")).
		Background(lipgloss.Color("236")).
		Bold(true)
	return s
}
