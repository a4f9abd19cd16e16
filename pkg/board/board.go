// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package board runs a simulated Pinball Protocol board on a CAN bus. One
// goroutine owns the feature router and every feature channel; frames,
// ticks and switch changes are serialised through it.
package board

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pinbus/pinbus/pkg/canbus"
	"github.com/pinbus/pinbus/pkg/pinball"
	"github.com/pinbus/pinbus/pkg/pinball/coils"
	"github.com/pinbus/pinbus/pkg/pinball/switches"
	"github.com/pinbus/pinbus/pkg/pinball/system"
	"go.uber.org/zap"
)

// ErrStopped is returned by board calls made after Run has returned
var ErrStopped = errors.New("board: not running")

// Options configures a Board
type Options struct {
	Address      uint8
	Switches     int
	Coils        int // 0 disables the coil feature
	TickInterval time.Duration
	Logger       *zap.Logger

	// OnTraffic, if set, is called from the board goroutine for every
	// message the board accepts or sends.
	OnTraffic func(dir canbus.Direction, m pinball.Message)
	// OnCoil, if set, is called from the board goroutine when a coil is
	// driven or released.
	OnCoil func(coil int, env coils.Envelope)
}

// Snapshot is a consistent copy of the board state
type Snapshot struct {
	Address       uint8                   `json:"address"`
	FeatureBitmap uint16                  `json:"feature_bitmap"`
	Tick          uint32                  `json:"tick"`
	Inputs        []bool                  `json:"inputs"`
	Switches      []switches.ChannelState `json:"switches"`
	Coils         []coils.Envelope        `json:"coils,omitempty"`
	Stats         pinball.Statistics      `json:"-"`
}

// Board is a simulated board
type Board struct {
	opts   Options
	bus    canbus.Bus
	log    *zap.Logger
	router *pinball.Router
	stats  *pinball.Statistics

	switches *switches.Engine
	coils    *coils.Feature
	system   *system.Feature

	inputs [switches.MaxSwitches]uint8
	tick   uint32

	events  chan func()
	stopped chan struct{}
}

// New creates a board attached to bus. Call Run to start it.
func New(bus canbus.Bus, opts Options) (*Board, error) {
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Millisecond
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	b := &Board{
		opts:    opts,
		bus:     bus,
		log:     log.With(zap.Uint8("board", opts.Address)),
		stats:   pinball.NewStatistics(),
		events:  make(chan func()),
		stopped: make(chan struct{}),
	}
	b.router = pinball.NewRouter(opts.Address, pinball.FrameSenderFunc(b.sendFrame),
		pinball.WithLogger(log.Named("router")),
		pinball.WithStatistics(b.stats))

	b.system = system.New(log.Named("system"))
	if err := b.router.AddFeature(b.system); err != nil {
		return nil, err
	}

	engine, err := switches.New(opts.Switches, switches.HardwareFuncs{
		Read:     func(n int) uint8 { return b.inputs[n] },
		Debounce: b.debounceChanged,
	}, switches.WithLogger(log.Named("switches")))
	if err != nil {
		return nil, fmt.Errorf("board: %w", err)
	}
	b.switches = engine
	if err := b.router.AddFeature(engine); err != nil {
		return nil, err
	}

	if opts.Coils > 0 {
		driver := coils.DriverFuncs{
			DriveFunc: func(n int, env coils.Envelope) { b.coilChanged(n, env) },
			OffFunc:   func(n int) { b.coilChanged(n, coils.Envelope{}) },
		}
		c, err := coils.New(opts.Coils, driver, log.Named("coils"))
		if err != nil {
			return nil, fmt.Errorf("board: %w", err)
		}
		b.coils = c
		if err := b.router.AddFeature(c); err != nil {
			return nil, err
		}
	}

	return b, nil
}

// Run drives the board until ctx ends or the bus fails
func (b *Board) Run(ctx context.Context) error {
	defer close(b.stopped)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	frames := make(chan canbus.Frame, 64)
	readErr := make(chan error, 1)
	go func() {
		for {
			f, err := b.bus.ReadFrame(ctx)
			if err != nil {
				readErr <- err
				return
			}
			select {
			case frames <- f:
			case <-ctx.Done():
				return
			}
		}
	}()

	ticker := time.NewTicker(b.opts.TickInterval)
	defer ticker.Stop()

	b.log.Info("board running",
		zap.Int("switches", b.switches.NumSwitches()),
		zap.Int("coils", b.opts.Coils),
		zap.Duration("tick", b.opts.TickInterval))

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("board: bus read: %w", err)
		case f := <-frames:
			b.receive(f)
		case <-ticker.C:
			b.tick++
			b.router.Tick(b.tick)
		case fn := <-b.events:
			fn()
		}
	}
}

// accepts models the controller's acceptance filter: only extended frames
// addressed to this board reach the router.
func (b *Board) accepts(f canbus.Frame) bool {
	return f.Extended && pinball.Decode(f).Address == b.opts.Address
}

func (b *Board) receive(f canbus.Frame) {
	if !b.accepts(f) {
		return
	}
	if b.opts.OnTraffic != nil {
		b.opts.OnTraffic(canbus.DirRX, pinball.Decode(f))
	}
	b.router.ReceiveFrame(f)
}

func (b *Board) sendFrame(f canbus.Frame) error {
	if err := b.bus.WriteFrame(f); err != nil {
		b.log.Warn("bus write failed", zap.String("frame", f.String()), zap.Error(err))
		return err
	}
	if b.opts.OnTraffic != nil {
		m := pinball.Decode(f)
		// A sent frame with our address is a reply
		if !f.Remote && m.Address == b.opts.Address {
			m.Kind = pinball.KindResponse
		}
		b.opts.OnTraffic(canbus.DirTX, m)
	}
	return nil
}

func (b *Board) debounceChanged(n int, limit uint8) {
	b.log.Debug("debounce limit changed", zap.Int("switch", n), zap.Uint8("limit", limit))
}

func (b *Board) coilChanged(n int, env coils.Envelope) {
	if env.Active() {
		b.log.Info("coil driven", zap.Int("coil", n), zap.Any("envelope", env))
	} else {
		b.log.Info("coil off", zap.Int("coil", n))
	}
	if b.opts.OnCoil != nil {
		b.opts.OnCoil(n, env)
	}
}

// do runs fn on the board goroutine and waits for it to finish. ctx only
// bounds the hand-off; once the loop has taken fn it runs to completion.
func (b *Board) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	select {
	case b.events <- func() { fn(); close(done) }:
	case <-b.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	<-done
	return nil
}

// SetSwitch changes simulated input n. The debounced scanner reports the
// new level to the switch engine immediately.
func (b *Board) SetSwitch(ctx context.Context, n int, closed bool) error {
	if n < 0 || n >= b.switches.NumSwitches() {
		return fmt.Errorf("switch %d: %w", n, pinball.ErrInvalidParameter)
	}
	var level uint8
	if closed {
		level = 1
	}
	var sendErr error
	err := b.do(ctx, func() {
		b.inputs[n] = level
		sendErr = b.switches.RegisterSwitchState(b.router, n, level)
	})
	if err != nil {
		return err
	}
	if sendErr != nil {
		return fmt.Errorf("board: switch %d report: %w", n, sendErr)
	}
	return nil
}

// ToggleSwitch flips simulated input n
func (b *Board) ToggleSwitch(ctx context.Context, n int) error {
	snap, err := b.Snapshot(ctx)
	if err != nil {
		return err
	}
	if n < 0 || n >= len(snap.Inputs) {
		return fmt.Errorf("switch %d: %w", n, pinball.ErrInvalidParameter)
	}
	return b.SetSwitch(ctx, n, !snap.Inputs[n])
}

// Send transmits m from this board
func (b *Board) Send(ctx context.Context, m pinball.Message) error {
	var sendErr error
	if err := b.do(ctx, func() { sendErr = b.router.SendMessage(m) }); err != nil {
		return err
	}
	return sendErr
}

// Snapshot returns a copy of the board state
func (b *Board) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := b.do(ctx, func() {
		snap = Snapshot{
			Address:       b.opts.Address,
			FeatureBitmap: b.router.FeatureBitmap(),
			Tick:          b.tick,
			Inputs:        make([]bool, b.switches.NumSwitches()),
			Switches:      b.switches.Snapshot(),
			Stats:         *b.stats,
		}
		for i := range snap.Inputs {
			snap.Inputs[i] = b.inputs[i] != 0
		}
		if b.coils != nil {
			snap.Coils = b.coils.Snapshot()
		}
	})
	if err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// ResetStats clears the router statistics
func (b *Board) ResetStats(ctx context.Context) error {
	return b.do(ctx, func() { b.stats.Reset() })
}

// Address returns the board address
func (b *Board) Address() uint8 {
	return b.opts.Address
}

// NumSwitches returns the configured switch count
func (b *Board) NumSwitches() int {
	return b.switches.NumSwitches()
}
