// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/pinbus/pinbus/pkg/board"
	"github.com/pinbus/pinbus/pkg/canbus"
	"github.com/pinbus/pinbus/pkg/pinball"
	"github.com/pinbus/pinbus/pkg/pinball/coils"
	"github.com/pinbus/pinbus/pkg/pinball/switches"
)

//////////////////////////////////////////////////////////////
// Constants
//////////////////////////////////////////////////////////////

const (
	boardRefreshInterval = 100 * time.Millisecond
	boardCallTimeout     = time.Second
)

// Focus states
const (
	focusSwitchList = iota
	focusCommandInput
)

//////////////////////////////////////////////////////////////
// Types
//////////////////////////////////////////////////////////////

// boardTarget is the part of board.Board the TUI drives
type boardTarget interface {
	Address() uint8
	Snapshot(ctx context.Context) (board.Snapshot, error)
	ToggleSwitch(ctx context.Context, n int) error
	Send(ctx context.Context, m pinball.Message) error
	ResetStats(ctx context.Context) error
}

// switchItem is one switch channel in the list
type switchItem struct {
	n     int
	input bool
	ch    switches.ChannelState
}

// Implement list.Item interface
func (s switchItem) Title() string {
	level := "open"
	if s.input {
		level = "CLOSED"
	}
	return fmt.Sprintf("Switch %2d  %s", s.n, level)
}

func (s switchItem) Description() string {
	return describeChannel(s.ch)
}

func (s switchItem) FilterValue() string { return strconv.Itoa(s.n) }

// describeChannel summarises a channel's configuration
func describeChannel(ch switches.ChannelState) string {
	var parts []string
	if ch.TriggerMask&pinball.SwitchTriggerRising != 0 {
		parts = append(parts, "rise")
	}
	if ch.TriggerMask&pinball.SwitchTriggerFalling != 0 {
		parts = append(parts, "fall")
	}
	if ch.PollInterval > 0 {
		parts = append(parts, fmt.Sprintf("poll %d", ch.PollInterval))
	}
	if ch.DebounceLimit > 0 {
		parts = append(parts, fmt.Sprintf("db %d", ch.DebounceLimit))
	}
	if ch.RuleMask&pinball.SwitchRuleOpenArmed != 0 {
		parts = append(parts, fmt.Sprintf("open->%02X/%d", ch.OpenRule.BoardAddress, ch.OpenRule.CoilNum))
	}
	if ch.RuleMask&pinball.SwitchRuleCloseArmed != 0 {
		parts = append(parts, fmt.Sprintf("close->%02X/%d", ch.CloseRule.BoardAddress, ch.CloseRule.CoilNum))
	}
	if len(parts) == 0 {
		return "idle"
	}
	return strings.Join(parts, ", ")
}

// Event log entry
type eventLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool
}

type boardKeyMap struct {
	Toggle key.Binding
	Reset  key.Binding
	Focus  key.Binding
	Submit key.Binding
	Quit   key.Binding
}

var boardKeys = boardKeyMap{
	Toggle: key.NewBinding(key.WithKeys(" ", "enter"), key.WithHelp("space", "toggle switch")),
	Reset:  key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "reset stats")),
	Focus:  key.NewBinding(key.WithKeys("tab", "shift+tab"), key.WithHelp("tab", "switches/command")),
	Submit: key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "send command")),
	Quit:   key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
}

// boardModel is the Bubble Tea model for the board TUI
type boardModel struct {
	ctx      context.Context
	board    boardTarget
	connInfo string

	switchList   list.Model
	commandInput textinput.Model
	focusedField int

	snap    board.Snapshot
	hasSnap bool

	eventLog      []eventLogEntry
	maxLogEntries int

	width    int
	height   int
	quitting bool
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type boardTickMsg time.Time

type snapshotMsg struct {
	snap board.Snapshot
	err  error
}

type trafficMsg struct {
	at  time.Time
	dir canbus.Direction
	msg pinball.Message
}

type coilMsg struct {
	at   time.Time
	coil int
	env  coils.Envelope
}

type actionResultMsg struct {
	what string
	err  error
}

//////////////////////////////////////////////////////////////
// Model Initialization
//////////////////////////////////////////////////////////////

func initialBoardModel(ctx context.Context, b boardTarget, connInfo string) boardModel {
	ti := textinput.New()
	ti.Placeholder = "[req] <address> <feature> <num> <function> [data...]"
	ti.CharLimit = 80
	ti.Width = 56

	delegate := list.NewDefaultDelegate()
	delegate.ShowDescription = true
	delegate.SetHeight(2)
	switchList := list.New([]list.Item{}, delegate, 34, 20)
	switchList.Title = "Switches"
	switchList.SetShowStatusBar(false)
	switchList.SetShowHelp(false)
	switchList.SetFilteringEnabled(false)

	return boardModel{
		ctx:           ctx,
		board:         b,
		connInfo:      connInfo,
		switchList:    switchList,
		commandInput:  ti,
		focusedField:  focusSwitchList,
		eventLog:      make([]eventLogEntry, 0),
		maxLogEntries: 200,
		width:         100,
		height:        30,
	}
}

//////////////////////////////////////////////////////////////
// Bubble Tea Interface
//////////////////////////////////////////////////////////////

func (m boardModel) Init() tea.Cmd {
	return tea.Batch(boardTickCmd(), m.snapshotCmd())
}

func boardTickCmd() tea.Cmd {
	return tea.Tick(boardRefreshInterval, func(t time.Time) tea.Msg {
		return boardTickMsg(t)
	})
}

// snapshotCmd reads the board state off the UI goroutine
func (m boardModel) snapshotCmd() tea.Cmd {
	b, ctx := m.board, m.ctx
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(ctx, boardCallTimeout)
		defer cancel()
		snap, err := b.Snapshot(ctx)
		return snapshotMsg{snap: snap, err: err}
	}
}

func (m boardModel) actionCmd(what string, fn func(ctx context.Context) error) tea.Cmd {
	parent := m.ctx
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(parent, boardCallTimeout)
		defer cancel()
		return actionResultMsg{what: what, err: fn(ctx)}
	}
}

func (m boardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.switchList.SetSize(34, max(msg.Height-8, 6))

	case boardTickMsg:
		return m, tea.Batch(boardTickCmd(), m.snapshotCmd())

	case snapshotMsg:
		if msg.err != nil {
			return m, nil
		}
		m.snap = msg.snap
		m.hasSnap = true
		items := make([]list.Item, len(msg.snap.Switches))
		for i, ch := range msg.snap.Switches {
			items[i] = switchItem{n: i, input: msg.snap.Inputs[i], ch: ch}
		}
		cmd := m.switchList.SetItems(items)
		return m, cmd

	case trafficMsg:
		m.addLogEntry(fmt.Sprintf("%s %s", msg.dir, pinball.FormatMessage(msg.msg)), false, msg.at)

	case coilMsg:
		if msg.env.Active() {
			m.addLogEntry(fmt.Sprintf("COIL %d fired: attack %d/%d sustain %d/%d", msg.coil,
				msg.env.AttackLevel, msg.env.AttackDuration, msg.env.SustainLevel, msg.env.SustainDuration), false, msg.at)
		} else {
			m.addLogEntry(fmt.Sprintf("COIL %d off", msg.coil), false, msg.at)
		}

	case actionResultMsg:
		if msg.err != nil {
			m.addLogEntry(fmt.Sprintf("%s failed: %v", msg.what, msg.err), true, time.Now())
		}
		return m, m.snapshotCmd()
	}

	var cmd tea.Cmd
	if m.focusedField == focusCommandInput {
		m.commandInput, cmd = m.commandInput.Update(msg)
	} else {
		m.switchList, cmd = m.switchList.Update(msg)
	}
	return m, cmd
}

func (m boardModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	// While typing a command only ctrl+c quits
	if msg.String() == "ctrl+c" || (m.focusedField == focusSwitchList && key.Matches(msg, boardKeys.Quit)) {
		m.quitting = true
		return m, tea.Quit
	}

	if key.Matches(msg, boardKeys.Focus) {
		if m.focusedField == focusSwitchList {
			m.focusedField = focusCommandInput
			cmd := m.commandInput.Focus()
			return m, cmd
		}
		m.focusedField = focusSwitchList
		m.commandInput.Blur()
		return m, nil
	}

	if m.focusedField == focusCommandInput {
		if key.Matches(msg, boardKeys.Submit) {
			return m.submitCommand()
		}
		var cmd tea.Cmd
		m.commandInput, cmd = m.commandInput.Update(msg)
		return m, cmd
	}

	switch {
	case key.Matches(msg, boardKeys.Toggle):
		item, ok := m.switchList.SelectedItem().(switchItem)
		if !ok {
			return m, nil
		}
		b, n := m.board, item.n
		return m, m.actionCmd(fmt.Sprintf("toggle switch %d", n), func(ctx context.Context) error {
			return b.ToggleSwitch(ctx, n)
		})

	case key.Matches(msg, boardKeys.Reset):
		b := m.board
		m.addLogEntry("Statistics reset", false, time.Now())
		return m, m.actionCmd("reset stats", b.ResetStats)
	}

	var cmd tea.Cmd
	m.switchList, cmd = m.switchList.Update(msg)
	return m, cmd
}

// submitCommand parses the command line and sends it from the board
func (m boardModel) submitCommand() (tea.Model, tea.Cmd) {
	line := strings.TrimSpace(m.commandInput.Value())
	if line == "" {
		return m, nil
	}
	m.commandInput.SetValue("")

	fields := strings.Fields(line)
	request := false
	if fields[0] == "req" {
		request = true
		fields = fields[1:]
	}
	if len(fields) < 4 {
		m.addLogEntry("usage: [req] <address> <feature> <num> <function> [data...]", true, time.Now())
		return m, nil
	}
	msg, err := parseMessage(fields, request)
	if err != nil {
		m.addLogEntry(err.Error(), true, time.Now())
		return m, nil
	}

	b := m.board
	return m, m.actionCmd("send", func(ctx context.Context) error {
		return b.Send(ctx, msg)
	})
}

func (m *boardModel) addLogEntry(message string, isError bool, at time.Time) {
	m.eventLog = append(m.eventLog, eventLogEntry{
		timestamp: at,
		message:   message,
		isError:   isError,
	})

	// Keep only last N entries
	if len(m.eventLog) > m.maxLogEntries {
		m.eventLog = m.eventLog[len(m.eventLog)-m.maxLogEntries:]
	}
}

func (m boardModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	// Styles
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

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	focusedBoxStyle := boxStyle.
		BorderForeground(lipgloss.Color("12"))

	var s strings.Builder
	s.WriteString(titleStyle.Render(fmt.Sprintf("PINBUS - BOARD 0x%02X", m.board.Address())))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(m.connInfo))
	s.WriteString("\n\n")

	// Left panel: switch list
	listBox := boxStyle
	if m.focusedField == focusSwitchList {
		listBox = focusedBoxStyle
	}
	left := listBox.Render(m.switchList.View())

	// Right panel: board status and event log
	var right strings.Builder
	if m.hasSnap {
		st := m.snap.Stats
		st.CalculateRates()
		right.WriteString(fmt.Sprintf("%s %s   %s %s\n",
			statsLabelStyle.Render("Tick:"), statsValueStyle.Render(strconv.FormatUint(uint64(m.snap.Tick), 10)),
			statsLabelStyle.Render("Features:"), statsValueStyle.Render(fmt.Sprintf("0x%04X", m.snap.FeatureBitmap))))
		right.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s   %s %s\n",
			statsLabelStyle.Render("RX:"), statsValueStyle.Render(strconv.FormatUint(st.TotalFrames, 10)),
			statsLabelStyle.Render("TX:"), statsValueStyle.Render(strconv.FormatUint(st.SentFrames, 10)),
			statsLabelStyle.Render("Dropped:"), statsValueStyle.Render(strconv.FormatUint(st.DroppedFrames, 10)),
			statsLabelStyle.Render("Send errors:"), func() string {
				if st.SendErrors > 0 {
					return errorStyle.Render(strconv.FormatUint(st.SendErrors, 10))
				}
				return statsValueStyle.Render("0")
			}()))
		for n, env := range m.snap.Coils {
			if env.Active() {
				right.WriteString(fmt.Sprintf("%s attack %d/%d sustain %d/%d\n",
					statsLabelStyle.Render(fmt.Sprintf("Coil %d:", n)),
					env.AttackLevel, env.AttackDuration, env.SustainLevel, env.SustainDuration))
			}
		}
	} else {
		right.WriteString(headerStyle.Render("Waiting for board..."))
		right.WriteString("\n")
	}
	right.WriteString("\n")

	logWidth := max(m.width-42, 40)
	logLines := max(m.height-14, 4)
	start := max(len(m.eventLog)-logLines, 0)
	for _, e := range m.eventLog[start:] {
		line := fmt.Sprintf("%s %s", e.timestamp.Format("15:04:05.000"), e.message)
		if len(line) > logWidth {
			line = line[:logWidth]
		}
		if e.isError {
			right.WriteString(errorStyle.Render(line))
		} else {
			right.WriteString(line)
		}
		right.WriteString("\n")
	}

	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, left, boxStyle.Width(logWidth).Render(right.String())))
	s.WriteString("\n")

	// Command line
	inputBox := boxStyle
	if m.focusedField == focusCommandInput {
		inputBox = focusedBoxStyle
	}
	s.WriteString(inputBox.Render(m.commandInput.View()))
	s.WriteString("\n")

	help := []key.Binding{boardKeys.Toggle, boardKeys.Reset, boardKeys.Focus, boardKeys.Quit}
	if m.focusedField == focusCommandInput {
		help = []key.Binding{boardKeys.Submit, boardKeys.Focus}
	}
	var hs []string
	for _, h := range help {
		hs = append(hs, fmt.Sprintf("%s %s", h.Help().Key, h.Help().Desc))
	}
	s.WriteString(headerStyle.Render(strings.Join(hs, " | ")))

	return s.String()
}
