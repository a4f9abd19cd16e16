// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package system implements the system-management feature (type 0), which
// lets a technician discover boards and the features they carry.
package system

import (
	"encoding/binary"

	"github.com/pinbus/pinbus/pkg/pinball"
	"go.uber.org/zap"
)

// Feature answers feature-bitmap and uptime requests
type Feature struct {
	tick uint32
	log  *zap.Logger
}

func New(log *zap.Logger) *Feature {
	if log == nil {
		log = zap.NewNop()
	}
	return &Feature{log: log}
}

func (f *Feature) FeatureType() pinball.FeatureType {
	return pinball.FeatureSystem
}

func (f *Feature) MessageReceived(out pinball.Outbound, m pinball.Message) {
	if m.Kind != pinball.KindRequest {
		return
	}
	var data []byte
	switch m.Function {
	case pinball.SystemFnFeatures:
		data = binary.LittleEndian.AppendUint16(nil, out.FeatureBitmap())
	case pinball.SystemFnUptime:
		data = binary.LittleEndian.AppendUint32(nil, f.tick)
	default:
		return
	}
	if err := out.SendMessage(pinball.NewResponse(m, data...)); err != nil {
		f.log.Debug("system reply not sent", zap.Uint8("function", m.Function), zap.Error(err))
	}
}

func (f *Feature) Tick(out pinball.Outbound, tick uint32) {
	f.tick = tick
}

// Uptime returns the last tick seen
func (f *Feature) Uptime() uint32 {
	return f.tick
}
