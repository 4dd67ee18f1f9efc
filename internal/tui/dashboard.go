// Package tui provides the live progress dashboard using Bubble Tea.
package tui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/joss/rawrsync/internal/orchestrator"
	strutil "github.com/joss/rawrsync/internal/strings"
)

// DefaultInterval is the snapshot refresh period.
const DefaultInterval = 5 * time.Second

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			MarginLeft(2)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	activeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			MarginTop(1)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(0, 1)
)

// Message types
type snapshotMsg struct {
	snap orchestrator.Snapshot
	err  error
}
type tickMsg time.Time

// Model is the dashboard model. It only reads snapshots.
type Model struct {
	ctx         context.Context
	src         orchestrator.SnapshotSource
	interval    time.Duration
	onInterrupt func()

	snap    orchestrator.Snapshot
	loaded  bool
	err     error
	spinner spinner.Model
	width   int
	height  int

	quitting    bool
	interrupted bool
}

// NewModel creates a dashboard model polling src every interval.
func NewModel(ctx context.Context, src orchestrator.SnapshotSource, interval time.Duration, onInterrupt func()) Model {
	if interval <= 0 {
		interval = DefaultInterval
	}
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return Model{
		ctx:         ctx,
		src:         src,
		interval:    interval,
		onInterrupt: onInterrupt,
		spinner:     s,
	}
}

// Init starts the spinner and the first fetch.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		m.fetch,
		m.tick(),
	)
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc":
			// Closes the dashboard only; the transfer keeps running.
			m.quitting = true
			return m, tea.Quit
		case "ctrl+c":
			m.quitting = true
			m.interrupted = true
			if m.onInterrupt != nil {
				m.onInterrupt()
			}
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case snapshotMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.snap = msg.snap
		m.loaded = true
		m.err = nil

	case tickMsg:
		return m, tea.Batch(m.fetch, m.tick())

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View renders the dashboard
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if !m.loaded && m.err == nil {
		return fmt.Sprintf("\n  %s Loading...", m.spinner.View())
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("rawrsync") + "\n\n")

	state := activeStyle.Render("● discovering")
	if !m.snap.Discovering {
		state = infoStyle.Render("○ discovery done")
	}
	updated := "never"
	if !m.snap.TakenAt.IsZero() {
		updated = m.snap.TakenAt.Format("15:04:05")
	}
	b.WriteString(fmt.Sprintf("  %s %s │ Update Time: [%s]\n\n", m.spinner.View(), state, updated))

	st := m.snap.Stats
	stats := fmt.Sprintf(
		"Total Tasks:      %d\nTotal Updates:    %d\nTotal Active:     %d\nTotal Remaining:  %d\nTotal Completed:  %d\nTotal Error:      %d",
		st.TaskCount, st.EventCount, len(m.snap.Active), st.RemainingCount, st.CompletedCount, st.ErrorCount)
	b.WriteString(boxStyle.Render(stats) + "\n\n")

	b.WriteString(activeStyle.Render("Active Transfers") + "\n")
	b.WriteString(infoStyle.Render(strings.Repeat("─", 16)) + "\n")
	active := m.snap.Active
	hidden := 0
	if limit := m.activeLimit(); limit > 0 && len(active) > limit {
		hidden = len(active) - limit
		active = active[:limit]
	}
	for _, dir := range active {
		if m.width > 4 {
			dir = strutil.TruncateLeft(dir, m.width-2)
		}
		b.WriteString(dir + "\n")
	}
	if hidden > 0 {
		b.WriteString(infoStyle.Render(fmt.Sprintf("… and %d more", hidden)) + "\n")
	}

	if m.err != nil {
		b.WriteString("\n" + errorStyle.Render("snapshot failed: "+m.err.Error()) + "\n")
	}
	b.WriteString(helpStyle.Render("  q: close dashboard │ ctrl+c: stop transfer"))
	return b.String()
}

// activeLimit is how many active rows fit below the header; 0 means no limit.
func (m Model) activeLimit() int {
	if m.height == 0 {
		return 0
	}
	const chrome = 18
	if n := m.height - chrome; n > 1 {
		return n
	}
	return 1
}

// Interrupted reports whether ctrl+c ended the dashboard.
func (m Model) Interrupted() bool {
	return m.interrupted
}

func (m Model) fetch() tea.Msg {
	snap, err := m.src.Snapshot(m.ctx)
	return snapshotMsg{snap: snap, err: err}
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Dashboard runs the Model as a full-screen program for the length of a transfer.
type Dashboard struct {
	Interval    time.Duration
	OnInterrupt func()

	// Input and Output override the terminal. Output alone disables both
	// keyboard input and the alternate screen.
	Input  io.Reader
	Output io.Writer
}

var _ orchestrator.Dashboard = (*Dashboard)(nil)

// Run shows the dashboard until ctx is cancelled or the user closes it.
func (d *Dashboard) Run(ctx context.Context, src orchestrator.SnapshotSource) error {
	opts := []tea.ProgramOption{tea.WithContext(ctx)}
	switch {
	case d.Input != nil:
		opts = append(opts, tea.WithInput(d.Input))
	case d.Output != nil:
		opts = append(opts, tea.WithInput(nil))
	}
	if d.Output != nil {
		opts = append(opts, tea.WithOutput(d.Output))
	} else {
		opts = append(opts, tea.WithAltScreen())
	}

	p := tea.NewProgram(NewModel(ctx, src, d.Interval, d.OnInterrupt), opts...)
	_, err := p.Run()
	if err != nil && (ctx.Err() != nil || errors.Is(err, tea.ErrProgramKilled)) {
		return ctx.Err()
	}
	return err
}
