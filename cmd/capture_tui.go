// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Thermoquad/testbench/pkg/analog"
	"github.com/Thermoquad/testbench/pkg/lts"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var errCaptureAborted = errors.New("capture aborted")

// Messages
type captureStartedMsg struct {
	session analog.Capture
	err     error
}
type capturePollMsg analog.Progress
type captureReconnectMsg struct{ err error }
type captureFetchedMsg struct {
	traces *analog.Traces
	err    error
}

// captureModel drives one acquisition: start, poll until complete, fetch
type captureModel struct {
	scope    *analog.Scope
	conn     *lts.Conn
	config   analog.CaptureConfig
	session  analog.Capture
	bar      progress.Model
	samples  int
	polls    int
	reconns  int
	started  time.Time
	fetching bool
	traces   *analog.Traces
	err      error
}

func newCaptureModel(scope *analog.Scope, conn *lts.Conn, config analog.CaptureConfig) captureModel {
	return captureModel{
		scope:  scope,
		conn:   conn,
		config: config,
		bar:    progress.New(progress.WithDefaultGradient()),
	}
}

func (m captureModel) Init() tea.Cmd {
	return m.startCmd()
}

func (m captureModel) startCmd() tea.Cmd {
	return func() tea.Msg {
		session, err := m.scope.StartCapture(m.config)
		return captureStartedMsg{session: session, err: err}
	}
}

// pollInterval is a tenth of the nominal acquisition time, at least 10 ms
func (m captureModel) pollInterval() time.Duration {
	interval := m.session.Duration() / 10
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	return interval
}

func (m captureModel) pollCmd() tea.Cmd {
	scope := m.scope
	return tea.Tick(m.pollInterval(), func(time.Time) tea.Msg {
		return capturePollMsg(scope.PollProgress())
	})
}

func (m captureModel) reconnectCmd() tea.Cmd {
	conn := m.conn
	return func() tea.Msg {
		return captureReconnectMsg{err: conn.Reconnect()}
	}
}

func (m captureModel) fetchCmd() tea.Cmd {
	scope := m.scope
	return func() tea.Msg {
		traces, err := scope.FetchTraces()
		return captureFetchedMsg{traces: traces, err: err}
	}
}

func (m captureModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.err = errCaptureAborted
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.bar.Width = msg.Width - 4

	case captureStartedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, tea.Quit
		}
		m.session = msg.session
		m.started = time.Now()
		return m, m.pollCmd()

	case capturePollMsg:
		m.polls++
		switch {
		case msg.Disconnected:
			m.reconns++
			return m, m.reconnectCmd()
		case msg.Complete:
			m.samples = m.session.Samples
			m.fetching = true
			return m, m.fetchCmd()
		}
		m.samples = msg.Samples
		return m, m.pollCmd()

	case captureReconnectMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, tea.Quit
		}
		return m, m.pollCmd()

	case captureFetchedMsg:
		m.traces, m.err = msg.traces, msg.err
		return m, tea.Quit
	}

	return m, nil
}

// fraction is the acquired share of the requested samples
func (m captureModel) fraction() float64 {
	if m.session.Samples == 0 {
		return 0
	}
	f := float64(m.samples) / float64(m.session.Samples)
	if f > 1 {
		f = 1
	}
	return f
}

func (m captureModel) View() string {
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	labelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	valueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	warningStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	var s strings.Builder
	s.WriteString(titleStyle.Render("TESTBENCH - CAPTURE"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("Traces: %d | Samples: %d | Interval: %g µs | Press 'q' to abort",
		m.session.Channels, m.session.Samples, m.session.TimegapMicros)))
	s.WriteString("\n\n")

	s.WriteString(m.bar.ViewAs(m.fraction()))
	s.WriteString("\n\n")

	s.WriteString(fmt.Sprintf("%s %s   %s %s",
		labelStyle.Render("Samples:"), valueStyle.Render(fmt.Sprintf("%d", m.samples)),
		labelStyle.Render("Polls:"), valueStyle.Render(fmt.Sprintf("%d", m.polls))))
	if !m.started.IsZero() {
		s.WriteString(fmt.Sprintf("   %s %s", labelStyle.Render("Elapsed:"),
			valueStyle.Render(time.Since(m.started).Round(time.Millisecond).String())))
	}
	s.WriteString("\n")

	if m.reconns > 0 {
		s.WriteString(warningStyle.Render(fmt.Sprintf("Reconnected %d time(s)", m.reconns)))
		s.WriteString("\n")
	}
	if m.fetching {
		s.WriteString(headerStyle.Render("Fetching traces..."))
		s.WriteString("\n")
	}
	return s.String()
}

// runCaptureTUI runs one capture behind the progress view
func runCaptureTUI(scope *analog.Scope, conn *lts.Conn, config analog.CaptureConfig) (*analog.Traces, error) {
	p := tea.NewProgram(newCaptureModel(scope, conn, config))
	final, err := p.Run()
	if err != nil {
		return nil, fmt.Errorf("TUI error: %v", err)
	}
	m := final.(captureModel)
	if m.err != nil {
		return nil, m.err
	}
	return m.traces, nil
}
