// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package coils implements the coil feature (type 3), the receiving end of
// switch hardware rules.
package coils

import (
	"fmt"

	"github.com/pinbus/pinbus/pkg/pinball"
	"go.uber.org/zap"
)

// MaxCoils is the number of coils one feature can drive
const MaxCoils = 16

// Envelope is a coil drive profile: an attack phase followed by a sustain
// phase.
type Envelope struct {
	AttackLevel     uint8 `json:"attack_level"`
	AttackDuration  uint8 `json:"attack_duration"`
	SustainLevel    uint8 `json:"sustain_level"`
	SustainDuration uint8 `json:"sustain_duration"`
}

// Active reports whether the envelope drives the coil at all
func (e Envelope) Active() bool {
	return e != Envelope{}
}

// Driver is the board's coil output hardware
type Driver interface {
	Drive(n int, env Envelope)
	Off(n int)
}

// DriverFuncs adapts a pair of functions to Driver
type DriverFuncs struct {
	DriveFunc func(n int, env Envelope)
	OffFunc   func(n int)
}

func (d DriverFuncs) Drive(n int, env Envelope) {
	if d.DriveFunc != nil {
		d.DriveFunc(n, env)
	}
}

func (d DriverFuncs) Off(n int) {
	if d.OffFunc != nil {
		d.OffFunc(n)
	}
}

// Feature is the coil feature channel
type Feature struct {
	numCoils  int
	driver    Driver
	envelopes [MaxCoils]Envelope
	log       *zap.Logger
}

// New creates a coil feature for numCoils outputs (1-16)
func New(numCoils int, driver Driver, log *zap.Logger) (*Feature, error) {
	if numCoils < 1 || numCoils > MaxCoils {
		return nil, fmt.Errorf("coil count %d: %w", numCoils, pinball.ErrInvalidParameter)
	}
	if driver == nil {
		driver = DriverFuncs{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Feature{numCoils: numCoils, driver: driver, log: log}, nil
}

func (f *Feature) FeatureType() pinball.FeatureType {
	return pinball.FeatureCoil
}

// NumCoils returns the configured coil count
func (f *Feature) NumCoils() int {
	return f.numCoils
}

// Snapshot returns the current envelope of every coil
func (f *Feature) Snapshot() []Envelope {
	out := make([]Envelope, f.numCoils)
	copy(out, f.envelopes[:f.numCoils])
	return out
}

func (f *Feature) MessageReceived(out pinball.Outbound, m pinball.Message) {
	if m.Function != pinball.CoilFnEnvelope || m.Kind == pinball.KindResponse {
		return
	}
	n := int(m.FeatureNum)
	if n >= f.numCoils {
		return
	}

	if m.Kind == pinball.KindRequest {
		env := f.envelopes[n]
		if err := out.SendMessage(pinball.NewResponse(m,
			env.AttackLevel, env.AttackDuration, env.SustainLevel, env.SustainDuration)); err != nil {
			f.log.Debug("coil reply not sent", zap.Error(err))
		}
		return
	}

	data := m.Payload()
	switch {
	case len(data) >= pinball.CoilEnvelopeLen:
		env := Envelope{data[0], data[1], data[2], data[3]}
		f.envelopes[n] = env
		f.log.Debug("coil envelope", zap.Int("coil", n), zap.Any("envelope", env))
		f.driver.Drive(n, env)
	case len(data) >= 1 && data[0] == 0:
		f.envelopes[n] = Envelope{}
		f.log.Debug("coil off", zap.Int("coil", n))
		f.driver.Off(n)
	}
}

func (f *Feature) Tick(out pinball.Outbound, tick uint32) {}
