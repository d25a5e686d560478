// Package dashboard renders a live, read-only view of a run.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ShayCichocki/ccc/pkg/models"
)

// SnapshotMsg carries a new run snapshot.
type SnapshotMsg struct {
	Snapshot *models.RunSnapshot
}

// sourceClosedMsg is sent when the snapshot channel closes.
type sourceClosedMsg struct{}

// Model is the bubbletea model for the dashboard.
type Model struct {
	runID   string
	source  <-chan *models.RunSnapshot
	snap    *models.RunSnapshot
	table   table.Model
	spinner spinner.Model

	width  int
	height int

	closed   bool
	quitting bool
}

// New creates a dashboard for runID fed by source.
func New(runID string, source <-chan *models.RunSnapshot) *Model {
	t := table.New(
		table.WithColumns(columns(100)),
		table.WithFocused(true),
		table.WithHeight(10),
	)
	t.SetStyles(tableStyles())

	return &Model{
		runID:   runID,
		source:  source,
		table:   t,
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(runningStyle)),
		width:   100,
	}
}

// columns sizes the task table for the terminal width.
func columns(width int) []table.Column {
	name, component, status, attempts := 20, 12, 16, 8
	detail := width - name - component - status - attempts - 12
	if detail < 20 {
		detail = 20
	}
	return []table.Column{
		{Title: "Task", Width: name},
		{Title: "Component", Width: component},
		{Title: "Status", Width: status},
		{Title: "Attempts", Width: attempts},
		{Title: "Detail", Width: detail},
	}
}

func rows(snap *models.RunSnapshot) []table.Row {
	out := make([]table.Row, 0, len(snap.Tasks))
	for _, t := range snap.Tasks {
		detail := t.LastProgress
		if t.Status.Terminal() && t.Reason != "" {
			detail = t.Reason
		}
		name := t.Name
		if t.Critical {
			name += " *"
		}
		out = append(out, table.Row{
			name,
			t.Component,
			taskIcon(t.Status) + " " + string(t.Status),
			strconv.Itoa(t.Attempts),
			oneLine(detail),
		})
	}
	return out
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// waitForSnapshot reads the next snapshot from the source.
func waitForSnapshot(source <-chan *models.RunSnapshot) tea.Cmd {
	return func() tea.Msg {
		snap, ok := <-source
		if !ok {
			return sourceClosedMsg{}
		}
		return SnapshotMsg{Snapshot: snap}
	}
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForSnapshot(m.source))
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		}
		var cmd tea.Cmd
		m.table, cmd = m.table.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.table.SetColumns(columns(msg.Width))
		m.table.SetWidth(msg.Width - 2)
		if h := msg.Height - 8; h > 3 {
			m.table.SetHeight(h)
		}

	case SnapshotMsg:
		m.snap = msg.Snapshot
		m.table.SetRows(rows(msg.Snapshot))
		return m, waitForSnapshot(m.source)

	case sourceClosedMsg:
		m.closed = true

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View implements tea.Model.
func (m *Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(m.viewHeader())
	b.WriteString("\n")

	if m.snap == nil {
		b.WriteString(sectionStyle.Render(fmt.Sprintf(" %s waiting for run %s", m.spinner.View(), m.runID)))
	} else {
		b.WriteString(sectionStyle.Render(" " + summary(m.snap)))
		b.WriteString("\n")
		b.WriteString(frameStyle.Render(m.table.View()))
		if m.snap.Reason != "" {
			b.WriteString("\n")
			b.WriteString(runStyle(m.snap.Status).Render(" " + m.snap.Reason))
		}
	}

	b.WriteString("\n")
	b.WriteString(footerStyle.Render(" ↑/↓ scroll • q quit"))
	return b.String()
}

func (m *Model) viewHeader() string {
	title := titleStyle.Render("ccc · run " + m.runID)
	if m.snap == nil {
		return title
	}
	if m.snap.Name != "" {
		title = titleStyle.Render(fmt.Sprintf("ccc · %s (%s)", m.snap.Name, m.runID))
	}

	status := string(m.snap.Status)
	if !m.snap.Status.Terminal() && !m.closed {
		status = m.spinner.View() + " " + status
	}
	elapsed := ""
	if !m.snap.StartedAt.IsZero() {
		end := m.snap.EndedAt
		if end.IsZero() {
			end = time.Now()
		}
		elapsed = footerStyle.Render("  " + end.Sub(m.snap.StartedAt).Round(time.Second).String())
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, title, runStyle(m.snap.Status).Render(status), elapsed)
}

// summary is the one-line tally shown above the table.
func summary(snap *models.RunSnapshot) string {
	counts := snap.CountByStatus()
	c := snap.Counters
	return fmt.Sprintf("%d tasks: %d done, %d running, %d failed, %d skipped · %d sessions, %d retries",
		len(snap.Tasks),
		counts[models.TaskStatusCompleted],
		counts[models.TaskStatusRunning]+counts[models.TaskStatusStarting],
		counts[models.TaskStatusFailed]+counts[models.TaskStatusTerminated],
		counts[models.TaskStatusSkipped],
		c.SessionsLaunched, c.Retries)
}

// Run shows the dashboard until the user quits or ctx is done.
func Run(ctx context.Context, runID string, source <-chan *models.RunSnapshot) error {
	p := tea.NewProgram(New(runID, source), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("dashboard: %w", err)
	}
	return nil
}
