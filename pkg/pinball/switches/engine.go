// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package switches implements the switch feature (type 1): up to 16 debounced
// inputs with on-demand, edge-triggered and periodic state reporting, and
// hardware rules that drive a coil on any board when a switch changes.
package switches

import (
	"errors"
	"fmt"

	"github.com/pinbus/pinbus/pkg/pinball"
	"go.uber.org/zap"
)

// MaxSwitches is the number of channels one engine can hold
const MaxSwitches = 16

// Hardware is the board's switch input hardware
type Hardware interface {
	// ReadSwitch returns the current logical level of switch n
	ReadSwitch(n int) uint8
	// DebounceChanged is called after a command sets a new debounce limit
	DebounceChanged(n int, limit uint8)
}

// HardwareFuncs adapts a pair of functions to Hardware. Nil functions read
// as open and ignore debounce changes.
type HardwareFuncs struct {
	Read     func(n int) uint8
	Debounce func(n int, limit uint8)
}

func (h HardwareFuncs) ReadSwitch(n int) uint8 {
	if h.Read == nil {
		return 0
	}
	return h.Read(n)
}

func (h HardwareFuncs) DebounceChanged(n int, limit uint8) {
	if h.Debounce != nil {
		h.Debounce(n, limit)
	}
}

// Rule is a coil envelope fired on another (or this) board when a switch
// edge occurs.
type Rule struct {
	BoardAddress    uint8 `json:"board_address"`
	CoilNum         uint8 `json:"coil"`
	AttackLevel     uint8 `json:"attack_level"`
	AttackDuration  uint8 `json:"attack_duration"`
	SustainLevel    uint8 `json:"sustain_level"`
	SustainDuration uint8 `json:"sustain_duration"`
}

// ChannelState is the configuration and last observed state of one switch
type ChannelState struct {
	LastState     uint8  `json:"state"`
	TriggerMask   uint8  `json:"trigger_mask"`
	PollInterval  uint8  `json:"poll_interval"`
	LastTick      uint32 `json:"last_tick"`
	DebounceLimit uint8  `json:"debounce_limit"`
	RuleMask      uint8  `json:"rule_mask"`
	OpenRule      Rule   `json:"open_rule"`
	CloseRule     Rule   `json:"close_rule"`
}

// Engine is the switch feature channel. Like the router it serves, it is
// not safe for concurrent use.
type Engine struct {
	numSwitches int
	hw          Hardware
	channels    [MaxSwitches]ChannelState
	tick        uint32
	log         *zap.Logger
}

// Option configures an Engine
type Option func(*Engine)

// WithLogger sets the engine's logger
func WithLogger(log *zap.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// New creates an engine for numSwitches inputs (1-16) read through hw
func New(numSwitches int, hw Hardware, opts ...Option) (*Engine, error) {
	if numSwitches < 1 || numSwitches > MaxSwitches {
		return nil, fmt.Errorf("switch count %d: %w", numSwitches, pinball.ErrInvalidParameter)
	}
	if hw == nil {
		return nil, fmt.Errorf("switch hardware is nil: %w", pinball.ErrInvalidParameter)
	}
	e := &Engine{
		numSwitches: numSwitches,
		hw:          hw,
		log:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func (e *Engine) FeatureType() pinball.FeatureType {
	return pinball.FeatureSwitch
}

// NumSwitches returns the configured switch count
func (e *Engine) NumSwitches() int {
	return e.numSwitches
}

// Snapshot returns a copy of every configured channel
func (e *Engine) Snapshot() []ChannelState {
	out := make([]ChannelState, e.numSwitches)
	copy(out, e.channels[:e.numSwitches])
	return out
}

// MessageReceived handles a Request or Command addressed to the switch
// feature.
func (e *Engine) MessageReceived(out pinball.Outbound, m pinball.Message) {
	if m.Kind == pinball.KindResponse {
		return
	}

	if m.Function == pinball.SwitchFnBulkState {
		if m.Kind == pinball.KindRequest {
			e.replyBulkState(out, m)
		}
		return
	}
	if m.Function > pinball.SwitchFnCloseRule {
		return
	}

	n := int(m.FeatureNum)
	if n >= e.numSwitches {
		e.log.Debug("switch index out of range", zap.Int("switch", n), zap.Int("count", e.numSwitches))
		return
	}

	if m.Kind == pinball.KindRequest {
		e.handleRequest(out, m, n)
	} else {
		e.handleCommand(out, m, n)
	}
}

func (e *Engine) handleRequest(out pinball.Outbound, m pinball.Message, n int) {
	ch := &e.channels[n]
	switch m.Function {
	case pinball.SwitchFnState:
		state, edge := e.sample(n)
		e.send(out, pinball.NewResponse(m, state, edge))
	case pinball.SwitchFnPollInterval:
		e.send(out, pinball.NewResponse(m, ch.PollInterval))
	case pinball.SwitchFnTriggerMask:
		e.send(out, pinball.NewResponse(m, ch.TriggerMask))
	case pinball.SwitchFnDebounceLimit:
		e.send(out, pinball.NewResponse(m, ch.DebounceLimit))
	case pinball.SwitchFnOpenRule:
		e.send(out, pinball.NewResponse(m, ruleReply(ch.RuleMask, ch.OpenRule)...))
	case pinball.SwitchFnCloseRule:
		e.send(out, pinball.NewResponse(m, ruleReply(ch.RuleMask, ch.CloseRule)...))
	}
}

func (e *Engine) handleCommand(out pinball.Outbound, m pinball.Message, n int) {
	ch := &e.channels[n]
	data := m.Payload()
	switch m.Function {
	case pinball.SwitchFnPollInterval:
		if len(data) >= 1 {
			ch.PollInterval = data[0]
		}
	case pinball.SwitchFnTriggerMask:
		if len(data) >= 1 {
			ch.TriggerMask = data[0] & (pinball.SwitchTriggerRising | pinball.SwitchTriggerFalling)
		}
	case pinball.SwitchFnDebounceLimit:
		if len(data) >= 1 {
			ch.DebounceLimit = data[0]
			e.hw.DebounceChanged(n, data[0])
		}
	case pinball.SwitchFnOpenRule:
		e.configureRule(out, data, &ch.RuleMask, pinball.SwitchRuleOpenArmed, &ch.OpenRule)
	case pinball.SwitchFnCloseRule:
		e.configureRule(out, data, &ch.RuleMask, pinball.SwitchRuleCloseArmed, &ch.CloseRule)
	}
}

// configureRule applies a rule command. A command that leaves the rule
// disarmed always forces the rule's coil off, whatever the prior state.
func (e *Engine) configureRule(out pinball.Outbound, data []byte, mask *uint8, bit uint8, rule *Rule) {
	if len(data) < 6 {
		return
	}
	rule.BoardAddress = data[1]
	rule.CoilNum = data[2]
	rule.AttackLevel = data[3]
	rule.AttackDuration = data[4]
	rule.SustainLevel = data[5]
	rule.SustainDuration = 0
	if len(data) >= 7 {
		rule.SustainDuration = data[6]
	}

	if data[0]&1 != 0 {
		*mask |= bit
		return
	}
	*mask &^= bit
	e.send(out, pinball.NewCoilOffCommand(rule.BoardAddress, rule.CoilNum))
}

func ruleReply(mask uint8, r Rule) []byte {
	return []byte{mask, r.BoardAddress, r.CoilNum, r.AttackLevel, r.AttackDuration, r.SustainLevel, r.SustainDuration}
}

func (e *Engine) replyBulkState(out pinball.Outbound, m pinball.Message) {
	bitmap := make([]byte, (e.numSwitches+7)/8)
	for n := 0; n < e.numSwitches; n++ {
		if normalize(e.hw.ReadSwitch(n)) != 0 {
			bitmap[n/8] |= 1 << (n % 8)
		}
	}
	e.send(out, pinball.NewResponse(m, bitmap...))
}

// sample reads switch n, records it and returns [state, edge]
func (e *Engine) sample(n int) (uint8, uint8) {
	ch := &e.channels[n]
	state := normalize(e.hw.ReadSwitch(n))
	edge := edgeCode(ch.LastState, state)
	ch.LastState = state
	ch.LastTick = e.tick
	return state, edge
}

// RegisterSwitchState records a debounced state for switch n. A change
// sends the async status first (if the edge is enabled in the trigger
// mask), then the armed rule's coil command.
func (e *Engine) RegisterSwitchState(out pinball.Outbound, n int, state uint8) error {
	if n < 0 || n >= e.numSwitches {
		return fmt.Errorf("switch %d: %w", n, pinball.ErrInvalidParameter)
	}
	ch := &e.channels[n]
	state = normalize(state)
	prev := ch.LastState
	ch.LastState = state
	ch.LastTick = e.tick
	if state == prev {
		return nil
	}

	edge := edgeCode(prev, state)
	var errs []error

	trigger := pinball.SwitchTriggerFalling
	if edge == pinball.SwitchEdgeRising {
		trigger = pinball.SwitchTriggerRising
	}
	if ch.TriggerMask&trigger != 0 {
		errs = append(errs, e.send(out, e.statusMessage(out, n, state, edge)))
	}

	var rule *Rule
	switch {
	case edge == pinball.SwitchEdgeFalling && ch.RuleMask&pinball.SwitchRuleOpenArmed != 0:
		rule = &ch.OpenRule
	case edge == pinball.SwitchEdgeRising && ch.RuleMask&pinball.SwitchRuleCloseArmed != 0:
		rule = &ch.CloseRule
	}
	if rule != nil {
		errs = append(errs, e.send(out, pinball.NewCoilEnvelopeCommand(rule.BoardAddress, rule.CoilNum,
			rule.AttackLevel, rule.AttackDuration, rule.SustainLevel, rule.SustainDuration)))
	}

	return errors.Join(errs...)
}

// Tick records the current tick and reports every switch whose polling
// interval has elapsed.
func (e *Engine) Tick(out pinball.Outbound, tick uint32) {
	e.tick = tick
	for n := 0; n < e.numSwitches; n++ {
		ch := &e.channels[n]
		if ch.PollInterval == 0 {
			continue
		}
		if tick-ch.LastTick < uint32(ch.PollInterval) {
			continue
		}
		state, edge := e.sample(n)
		e.send(out, e.statusMessage(out, n, state, edge))
	}
}

// statusMessage builds an unsolicited state report for switch n
func (e *Engine) statusMessage(out pinball.Outbound, n int, state, edge uint8) pinball.Message {
	m := pinball.Message{
		Priority:     pinball.PriorityStatus,
		UnitSpecific: true,
		Address:      out.BoardAddress(),
		FeatureType:  pinball.FeatureSwitch,
		FeatureNum:   uint8(n),
		Function:     pinball.SwitchFnState,
		Kind:         pinball.KindResponse,
	}
	m.SetPayload([]byte{state, edge})
	return m
}

func (e *Engine) send(out pinball.Outbound, m pinball.Message) error {
	if err := out.SendMessage(m); err != nil {
		e.log.Debug("switch message not sent", zap.Stringer("message", m), zap.Error(err))
		return err
	}
	return nil
}

func normalize(state uint8) uint8 {
	if state != 0 {
		return 1
	}
	return 0
}

func edgeCode(prev, state uint8) uint8 {
	switch {
	case prev == state:
		return pinball.SwitchEdgeNone
	case state != 0:
		return pinball.SwitchEdgeRising
	default:
		return pinball.SwitchEdgeFalling
	}
}
