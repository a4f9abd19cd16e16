// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/pinbus/pinbus/pkg/board"
	"github.com/pinbus/pinbus/pkg/canbus"
	"github.com/pinbus/pinbus/pkg/pinball"
	"github.com/pinbus/pinbus/pkg/pinball/coils"
	"github.com/pinbus/pinbus/pkg/pinball/switches"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBoard struct {
	snap    board.Snapshot
	toggled []int
	sent    []pinball.Message
	resets  int
}

func (f *fakeBoard) Address() uint8 { return 42 }

func (f *fakeBoard) Snapshot(ctx context.Context) (board.Snapshot, error) {
	return f.snap, nil
}

func (f *fakeBoard) ToggleSwitch(ctx context.Context, n int) error {
	f.toggled = append(f.toggled, n)
	return nil
}

func (f *fakeBoard) Send(ctx context.Context, m pinball.Message) error {
	f.sent = append(f.sent, m)
	return nil
}

func (f *fakeBoard) ResetStats(ctx context.Context) error {
	f.resets++
	return nil
}

func newTestModel(t *testing.T) (boardModel, *fakeBoard) {
	fb := &fakeBoard{snap: board.Snapshot{
		Address:  42,
		Tick:     100,
		Inputs:   []bool{false, true, false},
		Switches: make([]switches.ChannelState, 3),
		Coils:    make([]coils.Envelope, 2),
	}}
	fb.snap.Switches[1].TriggerMask = pinball.SwitchTriggerRising
	m := initialBoardModel(context.Background(), fb, "Loopback")

	// load the first snapshot
	updated, _ := m.Update(snapshotMsg{snap: fb.snap})
	return updated.(boardModel), fb
}

func keyPress(s string) tea.KeyMsg {
	switch s {
	case "tab":
		return tea.KeyMsg{Type: tea.KeyTab}
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case " ":
		return tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestBoardModelSnapshot(t *testing.T) {
	m, _ := newTestModel(t)
	require.Len(t, m.switchList.Items(), 3)

	item := m.switchList.Items()[1].(switchItem)
	assert.Equal(t, "Switch  1  CLOSED", item.Title())
	assert.Equal(t, "rise", item.Description())
	assert.Contains(t, m.View(), "PINBUS - BOARD 0x2A")
}

func TestBoardModelToggle(t *testing.T) {
	m, fb := newTestModel(t)

	updated, cmd := m.Update(keyPress(" "))
	require.NotNil(t, cmd)
	msg := cmd()
	assert.Equal(t, actionResultMsg{what: "toggle switch 0"}, msg)
	assert.Equal(t, []int{0}, fb.toggled)

	_, cmd = updated.Update(keyPress("r"))
	require.NotNil(t, cmd)
	cmd()
	assert.Equal(t, 1, fb.resets)
}

func TestBoardModelCommandLine(t *testing.T) {
	m, fb := newTestModel(t)

	updated, _ := m.Update(keyPress("tab"))
	m = updated.(boardModel)
	assert.Equal(t, focusCommandInput, m.focusedField)

	// q types into the input instead of quitting
	updated, _ = m.Update(keyPress("q"))
	m = updated.(boardModel)
	assert.False(t, m.quitting)

	m.commandInput.SetValue("7 coil 2 0 255 20 64 5")
	updated, cmd := m.Update(keyPress("enter"))
	m = updated.(boardModel)
	require.NotNil(t, cmd)
	cmd()
	require.Len(t, fb.sent, 1)
	assert.Equal(t, uint8(7), fb.sent[0].Address)
	assert.Equal(t, pinball.FeatureCoil, fb.sent[0].FeatureType)
	assert.Empty(t, m.commandInput.Value())

	m.commandInput.SetValue("7 coil")
	updated, _ = m.Update(keyPress("enter"))
	m = updated.(boardModel)
	require.NotEmpty(t, m.eventLog)
	assert.True(t, m.eventLog[len(m.eventLog)-1].isError)
}

func TestBoardModelEvents(t *testing.T) {
	m, _ := newTestModel(t)
	now := time.Now()

	updated, _ := m.Update(trafficMsg{at: now, dir: canbus.DirTX,
		msg: pinball.NewCommand(7, pinball.FeatureCoil, 2, pinball.CoilFnEnvelope, 255, 20, 64, 5)})
	updated, _ = updated.Update(coilMsg{at: now, coil: 1, env: coils.Envelope{AttackLevel: 200}})
	updated, _ = updated.Update(coilMsg{at: now, coil: 1})
	m = updated.(boardModel)

	require.Len(t, m.eventLog, 3)
	assert.Contains(t, m.eventLog[0].message, "TX")
	assert.Contains(t, m.eventLog[1].message, "COIL 1 fired")
	assert.Equal(t, "COIL 1 off", m.eventLog[2].message)
}

func TestBoardModelQuit(t *testing.T) {
	m, _ := newTestModel(t)
	updated, cmd := m.Update(keyPress("q"))
	assert.True(t, updated.(boardModel).quitting)
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}
