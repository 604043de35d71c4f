// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Thermoquad/testbench/pkg/digital"
	"github.com/Thermoquad/testbench/pkg/instrument"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

//////////////////////////////////////////////////////////////
// Constants
//////////////////////////////////////////////////////////////

const (
	focusOutputList = iota
	focusValueInput
	focusButton
)

//////////////////////////////////////////////////////////////
// Types
//////////////////////////////////////////////////////////////

// output is one settable output of the instrument
type output struct {
	name        string
	unit        string
	placeholder string
	apply       func(inst *instrument.Instrument, value float64) (float64, error)
}

// Implement list.Item interface
func (o output) Title() string       { return o.name }
func (o output) Description() string { return o.unit }
func (o output) FilterValue() string { return o.name }

var controlOutputs = []output{
	{"PVS1", "V", "0.0", func(i *instrument.Instrument, v float64) (float64, error) { return i.Sources.SetPVS1(v) }},
	{"PVS2", "V", "0.0", func(i *instrument.Instrument, v float64) (float64, error) { return i.Sources.SetPVS2(v) }},
	{"PVS3", "V", "0.0", func(i *instrument.Instrument, v float64) (float64, error) { return i.Sources.SetPVS3(v) }},
	{"PCS", "mA", "0.0", func(i *instrument.Instrument, v float64) (float64, error) { return i.Sources.SetPCS(v) }},
	{"WG1", "Hz", "1000", func(i *instrument.Instrument, v float64) (float64, error) { return i.Wavegen.SetSine(1, v, 0) }},
	{"WG2", "Hz", "1000", func(i *instrument.Instrument, v float64) (float64, error) { return i.Wavegen.SetSine(2, v, 0) }},
	{"SQR1", "Hz", "1000", func(i *instrument.Instrument, v float64) (float64, error) { return i.Wavegen.SetSquare(1, v, 50) }},
	{"SQR2", "Hz", "1000", func(i *instrument.Instrument, v float64) (float64, error) { return i.Wavegen.SetSquare(2, v, 50) }},
}

// controlModel is the Bubble Tea model for the control TUI
type controlModel struct {
	dm       *deviceManager
	connInfo string
	monitor  string
	interval time.Duration

	outputList list.Model
	valueInput textinput.Model

	// Last readout
	reading  readout
	hasRead  bool
	applying bool

	errorLog      []errorLogEntry
	maxLogEntries int
	focusedField  int

	width    int
	height   int
	quitting bool
}

type errorLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool // true for errors, false for info
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type controlTickMsg time.Time

type readoutMsg struct {
	reading     readout
	reconnected bool
	err         error
}

type appliedMsg struct {
	output      string
	unit        string
	value       float64
	reconnected bool
	err         error
}

//////////////////////////////////////////////////////////////
// Model Initialization
//////////////////////////////////////////////////////////////

func initialControlModel(dm *deviceManager, connInfo, monitor string, interval time.Duration) controlModel {
	ti := textinput.New()
	ti.Placeholder = controlOutputs[0].placeholder
	ti.CharLimit = 10
	ti.Width = 12

	items := make([]list.Item, len(controlOutputs))
	for i, o := range controlOutputs {
		items[i] = o
	}
	delegate := list.NewDefaultDelegate()
	delegate.ShowDescription = true
	delegate.SetHeight(2)
	outputList := list.New(items, delegate, 24, 12)
	outputList.Title = "Outputs"
	outputList.SetShowStatusBar(false)
	outputList.SetShowHelp(false)
	outputList.SetFilteringEnabled(false)

	if interval <= 0 {
		interval = time.Second
	}

	return controlModel{
		dm:            dm,
		connInfo:      connInfo,
		monitor:       strings.ToUpper(monitor),
		interval:      interval,
		outputList:    outputList,
		valueInput:    ti,
		errorLog:      make([]errorLogEntry, 0),
		maxLogEntries: 100,
		focusedField:  focusOutputList,
		width:         80,
		height:        24,
	}
}

//////////////////////////////////////////////////////////////
// Bubble Tea Interface
//////////////////////////////////////////////////////////////

func (m controlModel) Init() tea.Cmd {
	return m.readoutCmd()
}

func (m controlModel) tickCmd() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return controlTickMsg(t)
	})
}

func (m controlModel) readoutCmd() tea.Cmd {
	dm, channel := m.dm, m.monitor
	return func() tea.Msg {
		r, reconnected, err := dm.readout(channel)
		return readoutMsg{reading: r, reconnected: reconnected, err: err}
	}
}

func (m controlModel) applyCmd(o output, value float64) tea.Cmd {
	dm := m.dm
	return func() tea.Msg {
		var actual float64
		reconnected, err := dm.do(func(inst *instrument.Instrument) error {
			var err error
			actual, err = o.apply(inst, value)
			return err
		})
		return appliedMsg{output: o.name, unit: o.unit, value: actual, reconnected: reconnected, err: err}
	}
}

func (m controlModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case controlTickMsg:
		return m, m.readoutCmd()

	case readoutMsg:
		if msg.reconnected {
			m.addLogEntry("Connection lost - reconnected", true)
		}
		if msg.err != nil {
			m.addLogEntry(fmt.Sprintf("Readout failed: %v", msg.err), true)
		} else {
			m.reading = msg.reading
			m.hasRead = true
		}
		return m, m.tickCmd()

	case appliedMsg:
		m.applying = false
		if msg.reconnected {
			m.addLogEntry("Connection lost - reconnected", true)
		}
		if msg.err != nil {
			m.addLogEntry(fmt.Sprintf("%s: %v", msg.output, msg.err), true)
		} else {
			m.addLogEntry(fmt.Sprintf("%s set to %.3f %s", msg.output, msg.value, msg.unit), false)
		}
	}

	return m, nil
}

func (m *controlModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		if m.focusedField != focusValueInput || msg.String() == "ctrl+c" {
			m.quitting = true
			return *m, tea.Quit
		}

	case "tab":
		m.cycleFocus(1)
		return *m, nil

	case "shift+tab":
		m.cycleFocus(-1)
		return *m, nil

	case "enter":
		return m.handleEnter()
	}

	var cmd tea.Cmd
	switch m.focusedField {
	case focusOutputList:
		m.outputList, cmd = m.outputList.Update(msg)
		m.valueInput.Placeholder = m.selectedOutput().placeholder
	case focusValueInput:
		m.valueInput, cmd = m.valueInput.Update(msg)
	}
	return *m, cmd
}

func (m *controlModel) cycleFocus(delta int) {
	maxFocus := focusButton
	m.focusedField = (m.focusedField + delta + maxFocus + 1) % (maxFocus + 1)

	if m.focusedField == focusValueInput {
		m.valueInput.Focus()
	} else {
		m.valueInput.Blur()
	}
}

func (m *controlModel) handleEnter() (tea.Model, tea.Cmd) {
	if m.focusedField == focusOutputList {
		m.cycleFocus(1)
		return *m, nil
	}
	if m.applying {
		m.addLogEntry("Previous command still running", true)
		return *m, nil
	}

	o := m.selectedOutput()
	text := strings.TrimSpace(m.valueInput.Value())
	value, err := strconv.ParseFloat(text, 64)
	if err != nil {
		m.addLogEntry(fmt.Sprintf("Invalid value %q for %s", text, o.name), true)
		return *m, nil
	}

	m.applying = true
	return *m, m.applyCmd(o, value)
}

func (m controlModel) selectedOutput() output {
	if o, ok := m.outputList.SelectedItem().(output); ok {
		return o
	}
	return controlOutputs[0]
}

func (m *controlModel) addLogEntry(message string, isError bool) {
	entry := errorLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	}
	m.errorLog = append(m.errorLog, entry)

	if len(m.errorLog) > m.maxLogEntries {
		m.errorLog = m.errorLog[len(m.errorLog)-m.maxLogEntries:]
	}
}

//////////////////////////////////////////////////////////////
// View
//////////////////////////////////////////////////////////////

func (m controlModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	var s strings.Builder

	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	statsLabelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	statsValueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	warningStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	focusedBoxStyle := boxStyle.
		BorderForeground(lipgloss.Color("12"))

	buttonStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("0")).
		Background(lipgloss.Color("12")).
		Padding(0, 2)

	focusedButtonStyle := buttonStyle.
		Background(lipgloss.Color("10"))

	s.WriteString(titleStyle.Render("TESTBENCH CONTROL"))
	s.WriteString(" ")
	s.WriteString(headerStyle.Render(fmt.Sprintf("| %s | tab: focus  enter: apply  q: quit", m.connInfo)))
	s.WriteString("\n\n")

	// Output list and value panel side by side
	leftWidth := 28
	rightWidth := m.width - leftWidth - 6
	if rightWidth < 30 {
		rightWidth = 30
	}

	listStyle := boxStyle.Width(leftWidth)
	if m.focusedField == focusOutputList {
		listStyle = focusedBoxStyle.Width(leftWidth)
	}
	listPanel := listStyle.Render(m.outputList.View())

	var panel strings.Builder
	o := m.selectedOutput()
	panel.WriteString(fmt.Sprintf("%s %s\n\n", statsLabelStyle.Render("Selected:"), statsValueStyle.Render(o.name)))
	panel.WriteString(statsLabelStyle.Render(fmt.Sprintf("Value (%s): ", o.unit)))
	panel.WriteString(m.valueInput.View())
	panel.WriteString("\n\n")
	if m.focusedField == focusButton {
		panel.WriteString(focusedButtonStyle.Render("[ Apply ]"))
	} else {
		panel.WriteString(buttonStyle.Render("[ Apply ]"))
	}
	if m.applying {
		panel.WriteString(" ")
		panel.WriteString(warningStyle.Render("sending..."))
	}
	controlPanel := boxStyle.Width(rightWidth).Render(panel.String())

	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, listPanel, " ", controlPanel))
	s.WriteString("\n")

	s.WriteString(m.renderReadout(statsLabelStyle, statsValueStyle, headerStyle, boxStyle))
	s.WriteString("\n")
	s.WriteString(m.renderEventLog(statsLabelStyle, warningStyle, boxStyle))
	return s.String()
}

func (m controlModel) renderReadout(statsLabelStyle, statsValueStyle, headerStyle, boxStyle lipgloss.Style) string {
	var content strings.Builder
	content.WriteString(statsLabelStyle.Render("READOUT"))
	content.WriteString(" | ")

	if !m.hasRead {
		content.WriteString(headerStyle.Render("waiting for first reading"))
		return boxStyle.Width(m.width - 4).Render(content.String())
	}

	content.WriteString(fmt.Sprintf("%s %s  ",
		statsLabelStyle.Render(m.monitor+":"),
		statsValueStyle.Render(fmt.Sprintf("%.3f V", m.reading.volts))))
	for i, level := range m.reading.inputs {
		state := "0"
		if level {
			state = "1"
		}
		content.WriteString(fmt.Sprintf("%s %s  ", statsLabelStyle.Render(digital.ChannelNames[i]+":"), statsValueStyle.Render(state)))
	}

	stats := m.reading.stats
	stats.CalculateRates()
	content.WriteString(fmt.Sprintf("%s %s",
		statsLabelStyle.Render("Cmds:"),
		statsValueStyle.Render(fmt.Sprintf("%d (%.1f/s)", stats.Commands, stats.CommandRate))))

	return boxStyle.Width(m.width - 4).Render(content.String())
}

func (m controlModel) renderEventLog(statsLabelStyle, warningStyle, boxStyle lipgloss.Style) string {
	var s strings.Builder
	s.WriteString(statsLabelStyle.Render("EVENTS"))
	s.WriteString("\n")

	headerStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyleLocal := lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)

	logHeight := 8
	if len(m.errorLog) < logHeight {
		logHeight = len(m.errorLog)
	}
	startIdx := len(m.errorLog) - logHeight

	if len(m.errorLog) == 0 {
		s.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for i := startIdx; i < len(m.errorLog); i++ {
			entry := m.errorLog[i]
			timestamp := entry.timestamp.Format("15:04:05.000")
			icon := "i"
			style := warningStyle
			if entry.isError {
				icon = "x"
				style = errorStyleLocal
			}
			s.WriteString(fmt.Sprintf("%s %s %s\n",
				headerStyle.Render(timestamp),
				style.Render(icon),
				entry.message))
		}
	}

	return boxStyle.Width(m.width - 4).Render(s.String())
}
