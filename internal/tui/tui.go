// Package tui renders a running agent invocation in the terminal.
//
// It uses bubbletea: the orchestrator notifies a Host, the Host forwards every
// notification as a message to the program, and Update folds it into the
// Model. ctrl+c or esc cancels the job; the view stays until the outcome
// arrives.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Sris945/agentrunner/internal/model"
)

const recentLines = 8

type progressMsg string
type infoMsg string
type errorMsg string

// DoneMsg carries the terminal outcome and ends the program.
type DoneMsg struct {
	Outcome model.Outcome
	Err     error
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#DDDDDD"))
	lineStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#AAAAAA"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))
	okStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#50C878"))
	footerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")).MarginTop(1)
	boxStyle    = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#444444")).
			Padding(0, 1)
)

type Model struct {
	title      string
	spinner    spinner.Model
	status     string
	lines      []string
	errors     []string
	cancel     context.CancelFunc
	cancelling bool
	done       bool
	result     string
	failed     bool
	width      int
}

func New(title string, cancel context.CancelFunc) *Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF"))
	return &Model{
		title:   title,
		spinner: s,
		status:  "Starting...",
		cancel:  cancel,
	}
}

func (m *Model) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			if m.done || m.cancelling {
				return m, tea.Quit
			}
			m.cancelling = true
			m.status = "Cancelling..."
			if m.cancel != nil {
				m.cancel()
			}
			return m, nil
		case "q", "enter":
			if m.done {
				return m, tea.Quit
			}
		}
		return m, nil

	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case progressMsg:
		if !m.cancelling {
			m.status = string(msg)
		}
		m.push(string(msg))
		return m, nil

	case infoMsg:
		m.push(string(msg))
		return m, nil

	case errorMsg:
		m.errors = append(m.errors, string(msg))
		return m, nil

	case DoneMsg:
		m.done = true
		switch {
		case msg.Err != nil && msg.Outcome.Kind != model.Failed:
			m.failed = true
			m.result = msg.Err.Error()
		case msg.Outcome.Kind == model.Failed:
			m.failed = true
			m.result = fmt.Sprintf("%s (exit code %d)", msg.Outcome.Classification, msg.Outcome.Code)
		default:
			m.result = msg.Outcome.Message
		}
		return m, tea.Quit
	}
	return m, nil
}

func (m *Model) push(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	m.lines = append(m.lines, line)
	if len(m.lines) > recentLines {
		m.lines = m.lines[len(m.lines)-recentLines:]
	}
}

func (m *Model) View() string {
	width := m.width
	if width <= 0 {
		width = 100
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(m.title))
	b.WriteString("\n\n")

	switch {
	case m.done && m.failed:
		b.WriteString(errStyle.Render("✗ " + m.result))
	case m.done:
		b.WriteString(okStyle.Render("✓ " + m.result))
	default:
		b.WriteString(m.spinner.View() + " " + statusStyle.Render(m.status))
	}

	if len(m.lines) > 0 {
		body := lineStyle.Render(strings.Join(m.lines, "\n"))
		b.WriteString("\n")
		b.WriteString(boxStyle.Width(max(20, width-4)).Render(body))
	}
	for _, e := range m.errors {
		b.WriteString("\n")
		b.WriteString(errStyle.Render(e))
	}

	footer := "ctrl+c cancel"
	if m.done {
		footer = "q quit"
	}
	b.WriteString(footerStyle.Render(footer))
	b.WriteString("\n")
	return b.String()
}

// Done reports whether the terminal outcome was received.
func (m *Model) Done() bool {
	return m.done
}

// Sender is implemented by *tea.Program.
type Sender interface {
	Send(msg tea.Msg)
}

// Host forwards orchestrator notifications to a running program.
type Host struct {
	p Sender
}

func NewHost(p Sender) Host {
	return Host{p: p}
}

func (h Host) Progress(_ context.Context, msg string) { h.p.Send(progressMsg(msg)) }
func (h Host) Info(_ context.Context, msg string)     { h.p.Send(infoMsg(msg)) }
func (h Host) Error(_ context.Context, msg string)    { h.p.Send(errorMsg(msg)) }

// Finish delivers the terminal outcome.
func (h Host) Finish(out model.Outcome, err error) {
	h.p.Send(DoneMsg{Outcome: out, Err: err})
}
