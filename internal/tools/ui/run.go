package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// DefaultTimeout bounds a single tool action when the caller sets none.
const DefaultTimeout = 2 * time.Minute

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	errCanceled = errors.New("interrupted")
)

type doneMsg struct {
	details []string
	err     error
}

type tickMsg time.Time

type model struct {
	title   string
	action  func(context.Context) ([]string, error)
	ctx     context.Context
	cancel  context.CancelFunc
	started time.Time
	now     time.Time
	details []string
	err     error
	done    bool
}

func newModel(title string, timeout time.Duration, action func(context.Context) ([]string, error)) model {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	now := time.Now()
	return model{title: title, action: action, ctx: ctx, cancel: cancel, started: now, now: now}
}

func tick() tea.Cmd {
	return tea.Tick(250*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m model) Init() tea.Cmd {
	run := func() tea.Msg {
		details, err := m.action(m.ctx)
		return doneMsg{details: details, err: err}
	}
	return tea.Batch(run, tick())
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			m.cancel()
			m.err = errCanceled
			m.done = true
			return m, tea.Quit
		}
	case tickMsg:
		if m.done {
			return m, nil
		}
		m.now = time.Time(msg)
		return m, tick()
	case doneMsg:
		m.cancel()
		if !m.done {
			m.details, m.err, m.done = msg.details, msg.err, true
		}
		return m, tea.Quit
	}
	return m, nil
}

func (m model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(m.title))
	b.WriteString("\n")
	if !m.done {
		elapsed := m.now.Sub(m.started).Truncate(time.Second)
		fmt.Fprintf(&b, "\nRunning %s\n", mutedStyle.Render(elapsed.String()))
		return b.String()
	}
	if m.err != nil {
		fmt.Fprintf(&b, "%s: %v\n", failStyle.Render("FAILED"), m.err)
	} else {
		b.WriteString(okStyle.Render("OK"))
		b.WriteString("\n")
	}
	for _, d := range m.details {
		b.WriteString("- ")
		b.WriteString(d)
		b.WriteString("\n")
	}
	return b.String()
}

// Run executes action behind a progress view and returns its outcome.
func Run(title string, action func(context.Context) ([]string, error)) ([]string, error) {
	return RunWithTimeout(title, DefaultTimeout, action)
}

func RunWithTimeout(title string, timeout time.Duration, action func(context.Context) ([]string, error)) ([]string, error) {
	m := newModel(title, timeout, action)
	defer m.cancel()
	final, err := tea.NewProgram(m).Run()
	if err != nil {
		return nil, err
	}
	res := final.(model)
	return res.details, res.err
}
