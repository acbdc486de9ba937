// Package recorder is the interactive view shown while a trace is being
// captured. It shows elapsed time and recent log lines, and stops the
// capture on a key press or when the duration limit is reached.
package recorder

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/stopwatch"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/zjrosen/timeline/internal/log"
	"github.com/zjrosen/timeline/internal/ui/styles"
)

const (
	logLines      = 200
	logPaneHeight = 8
	minWidth      = 40
	maxWidth      = 100
)

// StopFunc ends the capture and returns the trace.
type StopFunc func() ([]byte, error)

// Config describes the capture being shown.
type Config struct {
	URL   string
	Path  string
	Limit time.Duration
	Stop  StopFunc
}

// StoppedMsg carries the result of the stop call.
type StoppedMsg struct {
	Data []byte
	Err  error
}

type limitReachedMsg struct{}

// Model is the recorder view state.
type Model struct {
	cfg       Config
	spinner   spinner.Model
	stopwatch stopwatch.Model
	viewport  viewport.Model
	width     int
	height    int
	ready     bool

	stopping bool
	done     bool
	result   StoppedMsg
}

// New creates a recorder view for cfg.
func New(cfg Config) Model {
	return Model{
		cfg: cfg,
		spinner: spinner.New(
			spinner.WithSpinner(spinner.Dot),
			spinner.WithStyle(lipgloss.NewStyle().Foreground(styles.RecordingColor)),
		),
		stopwatch: stopwatch.NewWithInterval(100 * time.Millisecond),
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.spinner.Tick, m.stopwatch.Init()}
	if m.cfg.Limit > 0 {
		cmds = append(cmds, tea.Tick(m.cfg.Limit, func(time.Time) tea.Msg {
			return limitReachedMsg{}
		}))
	}
	return tea.Batch(cmds...)
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "enter", "esc", "ctrl+c":
			return m.beginStop()
		}
		return m, nil

	case limitReachedMsg:
		log.Info(log.CatUI, "duration limit reached", "limit", m.cfg.Limit)
		return m.beginStop()

	case StoppedMsg:
		m.done = true
		m.result = msg
		return m, tea.Quit

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.initViewport()
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		m.refreshLogs()
		return m, cmd
	}

	var cmd tea.Cmd
	m.stopwatch, cmd = m.stopwatch.Update(msg)
	return m, cmd
}

// beginStop issues the stop call once; later requests are ignored.
func (m Model) beginStop() (tea.Model, tea.Cmd) {
	if m.stopping || m.done {
		return m, nil
	}
	m.stopping = true
	stop := m.cfg.Stop
	return m, func() tea.Msg {
		data, err := stop()
		return StoppedMsg{Data: data, Err: err}
	}
}

// Result returns the stop outcome once the view has finished.
func (m Model) Result() (StoppedMsg, bool) {
	return m.result, m.done
}

// Stopping reports whether a stop is in flight or done.
func (m Model) Stopping() bool {
	return m.stopping
}

func (m Model) boxWidth() int {
	return max(min(m.width-4, maxWidth), minWidth)
}

func (m *Model) initViewport() {
	if m.width == 0 || m.height == 0 {
		return
	}
	height := max(min(logPaneHeight, m.height-8), 1)
	m.viewport = viewport.New(m.boxWidth()-2, height)
	m.ready = true
	m.refreshLogs()
}

func (m *Model) refreshLogs() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(renderLogs(recentLogs(logLines, log.LevelInfo), m.viewport.Width))
	m.viewport.GotoBottom()
}

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder

	status := fmt.Sprintf("%s Recording", m.spinner.View())
	switch {
	case m.done && m.result.Err != nil:
		status = styles.ErrorStyle.Render("✗ Failed: " + m.result.Err.Error())
	case m.done:
		status = styles.OKStyle.Render(fmt.Sprintf("✓ Captured %d bytes", len(m.result.Data)))
	case m.stopping:
		status = fmt.Sprintf("%s Collecting trace...", m.spinner.View())
	}
	b.WriteString(styles.TitleStyle.Render("timeline"))
	b.WriteString("  ")
	b.WriteString(status)
	b.WriteString("  ")
	b.WriteString(m.elapsed())
	b.WriteString("\n")

	if m.cfg.URL != "" {
		b.WriteString(styles.MutedStyle.Render("page:  "))
		b.WriteString(m.cfg.URL)
		b.WriteString("\n")
	}
	if m.cfg.Path != "" {
		b.WriteString(styles.MutedStyle.Render("trace: "))
		b.WriteString(m.cfg.Path)
		b.WriteString("\n")
	}

	if m.ready {
		b.WriteString(lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(styles.BorderColor).
			Width(m.boxWidth()).
			Render(m.viewport.View()))
		b.WriteString("\n")
	}

	if !m.stopping && !m.done {
		b.WriteString(styles.MutedStyle.Render("enter/q stop and save"))
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) elapsed() string {
	e := m.stopwatch.Elapsed().Truncate(100 * time.Millisecond)
	if m.cfg.Limit > 0 {
		return styles.MutedStyle.Render(fmt.Sprintf("%s / %s", e, m.cfg.Limit))
	}
	return styles.MutedStyle.Render(e.String())
}
