// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package switches

import (
	"errors"
	"testing"

	"github.com/pinbus/pinbus/pkg/canbus"
	"github.com/pinbus/pinbus/pkg/pinball"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBoard = 42

// fakeHardware holds switch levels and records debounce notifications
type fakeHardware struct {
	levels   [MaxSwitches]uint8
	reads    int
	debounce [][2]int
}

func (h *fakeHardware) ReadSwitch(n int) uint8 {
	h.reads++
	return h.levels[n]
}

func (h *fakeHardware) DebounceChanged(n int, limit uint8) {
	h.debounce = append(h.debounce, [2]int{n, int(limit)})
}

// harness wires an engine to a router whose sender records frames
type harness struct {
	t      *testing.T
	hw     *fakeHardware
	engine *Engine
	router *pinball.Router
	frames []canbus.Frame
}

func newHarness(t *testing.T, numSwitches int) *harness {
	h := &harness{t: t, hw: &fakeHardware{}}
	h.router = pinball.NewRouter(testBoard, pinball.FrameSenderFunc(func(f canbus.Frame) error {
		h.frames = append(h.frames, f)
		return nil
	}))
	engine, err := New(numSwitches, h.hw)
	require.NoError(t, err)
	require.NoError(t, h.router.AddFeature(engine))
	h.engine = engine
	return h
}

func (h *harness) command(n, fn uint8, data ...byte) {
	h.router.ReceiveFrame(pinball.Encode(pinball.NewCommand(testBoard, pinball.FeatureSwitch, n, fn, data...), testBoard))
}

func (h *harness) request(n, fn uint8) {
	h.router.ReceiveFrame(pinball.Encode(pinball.NewRequest(testBoard, pinball.FeatureSwitch, n, fn), testBoard))
}

// take returns the frames sent so far, decoded, and clears the log
func (h *harness) take() []pinball.Message {
	msgs := make([]pinball.Message, len(h.frames))
	for i, f := range h.frames {
		require.True(h.t, f.Extended)
		require.False(h.t, f.Remote)
		msgs[i] = pinball.Decode(f)
	}
	h.frames = nil
	return msgs
}

func (h *harness) register(n int, state uint8) {
	require.NoError(h.t, h.engine.RegisterSwitchState(h.router, n, state))
}

func TestNew_SwitchCount(t *testing.T) {
	for _, n := range []int{0, -1, 17} {
		_, err := New(n, &fakeHardware{})
		assert.ErrorIs(t, err, pinball.ErrInvalidParameter, "count %d", n)
	}
	_, err := New(4, nil)
	assert.ErrorIs(t, err, pinball.ErrInvalidParameter)

	e, err := New(16, HardwareFuncs{})
	require.NoError(t, err)
	assert.Equal(t, 16, e.NumSwitches())
	assert.Equal(t, pinball.FeatureSwitch, e.FeatureType())
	for _, ch := range e.Snapshot() {
		assert.Equal(t, ChannelState{}, ch)
	}
}

func TestStateRequest_EdgeDetection(t *testing.T) {
	h := newHarness(t, 4)

	// same state twice: no edge
	h.hw.levels[1] = 1
	h.register(1, 1)
	h.register(1, 1)
	h.request(1, pinball.SwitchFnState)
	msgs := h.take()
	require.Len(t, msgs, 1)
	assert.Equal(t, []byte{1, pinball.SwitchEdgeNone}, msgs[0].Payload())

	// alternating: rising then falling
	h.hw.levels[2] = 1
	h.request(2, pinball.SwitchFnState)
	h.hw.levels[2] = 0
	h.request(2, pinball.SwitchFnState)
	msgs = h.take()
	require.Len(t, msgs, 2)
	assert.Equal(t, []byte{1, pinball.SwitchEdgeRising}, msgs[0].Payload())
	assert.Equal(t, []byte{0, pinball.SwitchEdgeFalling}, msgs[1].Payload())
}

func TestStateRequest_ReplyShape(t *testing.T) {
	h := newHarness(t, 4)
	req := pinball.NewRequest(testBoard, pinball.FeatureSwitch, 3, pinball.SwitchFnState)
	req.Priority = 6
	h.hw.levels[3] = 5 // any non-zero level reads as closed
	h.router.ReceiveFrame(pinball.Encode(req, testBoard))

	msgs := h.take()
	require.Len(t, msgs, 1)
	reply := msgs[0]
	assert.Equal(t, uint8(6), reply.Priority)
	assert.True(t, reply.UnitSpecific)
	assert.Equal(t, uint8(testBoard), reply.Address)
	assert.Equal(t, pinball.FeatureSwitch, reply.FeatureType)
	assert.Equal(t, uint8(3), reply.FeatureNum)
	assert.Equal(t, pinball.SwitchFnState, reply.Function)
	assert.Equal(t, []byte{1, pinball.SwitchEdgeRising}, reply.Payload())
}

func TestStateCommand_NoOp(t *testing.T) {
	h := newHarness(t, 4)
	h.command(0, pinball.SwitchFnState, 1, 1)
	assert.Empty(t, h.take())
	assert.Equal(t, 0, h.hw.reads)
}

func TestTriggerGating(t *testing.T) {
	h := newHarness(t, 4)
	h.command(0, pinball.SwitchFnTriggerMask, 0x01)

	h.register(0, 1)
	msgs := h.take()
	require.Len(t, msgs, 1)
	assert.Equal(t, uint8(pinball.PriorityStatus), msgs[0].Priority)
	assert.Equal(t, pinball.SwitchFnState, msgs[0].Function)
	assert.Equal(t, []byte{1, pinball.SwitchEdgeRising}, msgs[0].Payload())

	h.register(0, 0)
	assert.Empty(t, h.take())
}

func TestTriggerMask_MaskedToTwoBits(t *testing.T) {
	h := newHarness(t, 4)
	h.command(1, pinball.SwitchFnTriggerMask, 0xFE)
	h.request(1, pinball.SwitchFnTriggerMask)
	msgs := h.take()
	require.Len(t, msgs, 1)
	assert.Equal(t, []byte{0x02}, msgs[0].Payload())
}

func TestRuleFiringOrder(t *testing.T) {
	h := newHarness(t, 4)
	h.command(0, pinball.SwitchFnTriggerMask, 0x01)
	h.command(0, pinball.SwitchFnCloseRule, 0x01, 7, 2, 255, 20, 64, 5)
	require.Empty(t, h.take())

	h.register(0, 1)
	msgs := h.take()
	require.Len(t, msgs, 2)

	status := msgs[0]
	assert.Equal(t, pinball.FeatureSwitch, status.FeatureType)
	assert.Equal(t, []byte{1, pinball.SwitchEdgeRising}, status.Payload())

	coil := msgs[1]
	assert.Equal(t, pinball.FeatureCoil, coil.FeatureType)
	assert.Equal(t, uint8(7), coil.Address)
	assert.Equal(t, uint8(2), coil.FeatureNum)
	assert.Equal(t, pinball.CoilFnEnvelope, coil.Function)
	assert.Equal(t, []byte{255, 20, 64, 5}, coil.Payload())
}

func TestOpenRuleFiresOnFalling(t *testing.T) {
	h := newHarness(t, 4)
	h.command(2, pinball.SwitchFnOpenRule, 0x01, 9, 4, 200, 10, 0)
	h.take()

	h.register(2, 1)
	assert.Empty(t, h.take(), "open rule ignores rising edges")

	h.register(2, 0)
	msgs := h.take()
	require.Len(t, msgs, 1)
	assert.Equal(t, uint8(9), msgs[0].Address)
	assert.Equal(t, uint8(4), msgs[0].FeatureNum)
	// six-byte command leaves sustain duration at zero
	assert.Equal(t, []byte{200, 10, 0, 0}, msgs[0].Payload())
}

func TestRuleDisableForcesOff(t *testing.T) {
	h := newHarness(t, 4)
	h.command(0, pinball.SwitchFnCloseRule, 0x01, 7, 2, 255, 20, 64, 5)
	require.Empty(t, h.take())

	h.command(0, pinball.SwitchFnCloseRule, 0x00, 7, 2, 255, 20, 64, 5)
	msgs := h.take()
	require.Len(t, msgs, 1)
	assert.Equal(t, pinball.FeatureCoil, msgs[0].FeatureType)
	assert.Equal(t, uint8(7), msgs[0].Address)
	assert.Equal(t, uint8(2), msgs[0].FeatureNum)
	assert.Equal(t, []byte{0}, msgs[0].Payload())

	// already disarmed: still forced off
	h.command(0, pinball.SwitchFnCloseRule, 0x00, 8, 3, 0, 0, 0)
	msgs = h.take()
	require.Len(t, msgs, 1)
	assert.Equal(t, uint8(8), msgs[0].Address)

	// disarmed rules do not fire
	h.register(0, 1)
	assert.Empty(t, h.take())
}

func TestRuleRequestReply(t *testing.T) {
	h := newHarness(t, 4)
	h.command(1, pinball.SwitchFnOpenRule, 0x01, 7, 2, 255, 20, 64, 5)
	h.command(1, pinball.SwitchFnCloseRule, 0x01, 8, 3, 1, 2, 3)
	h.request(1, pinball.SwitchFnOpenRule)
	h.request(1, pinball.SwitchFnCloseRule)

	msgs := h.take()
	require.Len(t, msgs, 2)
	assert.Equal(t, []byte{0x03, 7, 2, 255, 20, 64, 5}, msgs[0].Payload())
	assert.Equal(t, []byte{0x03, 8, 3, 1, 2, 3, 0}, msgs[1].Payload())
}

func TestRuleCommandTooShort(t *testing.T) {
	h := newHarness(t, 4)
	h.command(1, pinball.SwitchFnOpenRule, 0x00, 7, 2, 255, 20)
	assert.Empty(t, h.take())
	assert.Equal(t, ChannelState{}, h.engine.Snapshot()[1])
}

func TestDebounceLimitEndToEnd(t *testing.T) {
	h := newHarness(t, 15)
	h.command(0, pinball.SwitchFnDebounceLimit, 120)
	assert.Equal(t, [][2]int{{0, 120}}, h.hw.debounce)
	assert.Empty(t, h.take())

	h.request(0, pinball.SwitchFnDebounceLimit)
	msgs := h.take()
	require.Len(t, msgs, 1)
	assert.Equal(t, []byte{120}, msgs[0].Payload())
	assert.Equal(t, uint8(testBoard), msgs[0].Address)
}

func TestMalformedCommandsIgnored(t *testing.T) {
	h := newHarness(t, 4)
	h.command(0, pinball.SwitchFnPollInterval)
	h.command(0, pinball.SwitchFnTriggerMask)
	h.command(0, pinball.SwitchFnDebounceLimit)
	assert.Empty(t, h.take())
	assert.Empty(t, h.hw.debounce)
	assert.Equal(t, ChannelState{}, h.engine.Snapshot()[0])
}

func TestOutOfRangeSwitch(t *testing.T) {
	h := newHarness(t, 4)
	for fn := uint8(0); fn <= pinball.SwitchFnCloseRule; fn++ {
		h.request(4, fn)
		h.command(15, fn, 1, 7, 2, 255, 20, 64, 5)
	}
	assert.Empty(t, h.take())
	assert.Empty(t, h.hw.debounce)

	assert.ErrorIs(t, h.engine.RegisterSwitchState(h.router, 4, 1), pinball.ErrInvalidParameter)
	assert.ErrorIs(t, h.engine.RegisterSwitchState(h.router, -1, 1), pinball.ErrInvalidParameter)
}

func TestUnusedFunctions(t *testing.T) {
	h := newHarness(t, 4)
	for fn := uint8(7); fn < 16; fn++ {
		h.request(0, fn)
		h.command(0, fn, 1, 2, 3)
	}
	assert.Empty(t, h.take())
}

func TestPollingCadence(t *testing.T) {
	h := newHarness(t, 4)
	h.command(0, pinball.SwitchFnPollInterval, 10)
	h.hw.levels[0] = 1

	for tick := uint32(0); tick < 10; tick++ {
		h.router.Tick(tick)
	}
	assert.Empty(t, h.take())
	assert.Equal(t, 0, h.hw.reads)

	h.router.Tick(10)
	msgs := h.take()
	require.Len(t, msgs, 1)
	assert.Equal(t, 1, h.hw.reads)
	assert.Equal(t, uint8(pinball.PriorityStatus), msgs[0].Priority)
	assert.Equal(t, []byte{1, pinball.SwitchEdgeRising}, msgs[0].Payload())
	assert.Equal(t, uint32(10), h.engine.Snapshot()[0].LastTick)

	// next report is due 10 ticks later
	h.router.Tick(19)
	assert.Empty(t, h.take())
	h.router.Tick(20)
	assert.Len(t, h.take(), 1)
}

func TestPollingWrapAround(t *testing.T) {
	h := newHarness(t, 1)
	h.router.Tick(0xFFFFFFF0)
	h.request(0, pinball.SwitchFnState) // sets lastTick to the current tick
	h.command(0, pinball.SwitchFnPollInterval, 0x20)
	h.take()

	h.router.Tick(0x0F)
	assert.Empty(t, h.take())
	h.router.Tick(0x10)
	assert.Len(t, h.take(), 1)
}

func TestRegisterUnchangedUpdatesTick(t *testing.T) {
	h := newHarness(t, 2)
	h.router.Tick(55)
	h.register(1, 0)
	assert.Equal(t, uint32(55), h.engine.Snapshot()[1].LastTick)
	assert.Empty(t, h.take())
}

func TestBulkState(t *testing.T) {
	h := newHarness(t, 15)
	for i := 0; i < 15; i++ {
		if i%2 == 1 {
			h.hw.levels[i] = 1
		}
	}

	// featureNum is ignored for the bulk function
	h.request(12, pinball.SwitchFnBulkState)
	msgs := h.take()
	require.Len(t, msgs, 1)
	assert.Equal(t, []byte{0xAA, 0x2A}, msgs[0].Payload())

	h.command(0, pinball.SwitchFnBulkState)
	assert.Empty(t, h.take())
}

func TestBulkStateSingleByte(t *testing.T) {
	h := newHarness(t, 3)
	h.hw.levels[0] = 1
	h.hw.levels[2] = 1
	h.request(0, pinball.SwitchFnBulkState)
	msgs := h.take()
	require.Len(t, msgs, 1)
	assert.Equal(t, []byte{0x05}, msgs[0].Payload())
}

func TestSendErrorsDoNotRollBack(t *testing.T) {
	sendErr := errors.New("tx queue full")
	router := pinball.NewRouter(testBoard, pinball.FrameSenderFunc(func(canbus.Frame) error {
		return sendErr
	}))
	engine, err := New(2, &fakeHardware{})
	require.NoError(t, err)
	require.NoError(t, router.AddFeature(engine))

	router.ReceiveFrame(pinball.Encode(
		pinball.NewCommand(testBoard, pinball.FeatureSwitch, 0, pinball.SwitchFnTriggerMask, 0x03), testBoard))
	router.ReceiveFrame(pinball.Encode(
		pinball.NewCommand(testBoard, pinball.FeatureSwitch, 0, pinball.SwitchFnCloseRule, 0x01, 7, 2, 1, 1, 1, 1), testBoard))

	err = engine.RegisterSwitchState(router, 0, 1)
	assert.ErrorIs(t, err, sendErr)
	assert.Equal(t, uint8(1), engine.Snapshot()[0].LastState)
}

func TestHardwareFuncs(t *testing.T) {
	var got []int
	hw := HardwareFuncs{
		Read:     func(n int) uint8 { return uint8(n) },
		Debounce: func(n int, limit uint8) { got = append(got, n, int(limit)) },
	}
	assert.Equal(t, uint8(3), hw.ReadSwitch(3))
	hw.DebounceChanged(1, 9)
	assert.Equal(t, []int{1, 9}, got)

	var empty HardwareFuncs
	assert.Equal(t, uint8(0), empty.ReadSwitch(3))
	empty.DebounceChanged(1, 9)
}
