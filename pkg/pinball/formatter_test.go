// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package pinball

import (
	"strings"
	"testing"

	"github.com/pinbus/pinbus/pkg/canbus"
)

func TestFormatMessage(t *testing.T) {
	req := NewRequest(42, FeatureSwitch, 0, SwitchFnState)

	tests := []struct {
		name string
		m    Message
		want []string
	}{
		{
			name: "switch state response",
			m:    NewResponse(req, 1, SwitchEdgeRising),
			want: []string{"RESPONSE", "SWITCH#0", "STATE", "state=closed edge=rising", "unit"},
		},
		{
			name: "switch request",
			m:    req,
			want: []string{"REQUEST", "addr=0x2A"},
		},
		{
			name: "trigger mask",
			m:    NewCommand(42, FeatureSwitch, 3, SwitchFnTriggerMask, 0x03),
			want: []string{"TRIGGER_MASK", "triggers=rising+falling"},
		},
		{
			name: "poll interval off",
			m:    NewCommand(42, FeatureSwitch, 3, SwitchFnPollInterval, 0),
			want: []string{"interval=off"},
		},
		{
			name: "close rule",
			m:    NewCommand(42, FeatureSwitch, 0, SwitchFnCloseRule, 1, 7, 2, 255, 20, 64, 0),
			want: []string{"CLOSE_RULE", "board=0x07 coil=2 attack=255/20 sustain=64/0"},
		},
		{
			name: "bulk state",
			m:    NewResponse(NewRequest(42, FeatureSwitch, 0, SwitchFnBulkState), 0xAA, 0x2A),
			want: []string{"switches=0101010101010100"},
		},
		{
			name: "coil envelope",
			m:    NewCoilEnvelopeCommand(7, 2, 255, 20, 64, 0),
			want: []string{"COIL#2", "ENVELOPE", "attack=255/20 sustain=64/0", "pri=0"},
		},
		{
			name: "coil off",
			m:    NewCoilOffCommand(7, 2),
			want: []string{"off"},
		},
		{
			name: "system features",
			m:    NewResponse(NewRequest(42, FeatureSystem, 0, SystemFnFeatures), 0x0B, 0x00),
			want: []string{"features=SYSTEM,SWITCH,COIL"},
		},
		{
			name: "system uptime",
			m:    NewResponse(NewRequest(42, FeatureSystem, 0, SystemFnUptime), 0x10, 0x27, 0, 0),
			want: []string{"uptime=10000 ticks"},
		},
		{
			name: "unknown payload falls back to hex",
			m:    NewCommand(42, FeatureLamp, 0, 9, 0xDE, 0xAD),
			want: []string{"LAMP#0", "UNKNOWN", "[DE AD]"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FormatMessage(tt.m)
			for _, want := range tt.want {
				if !strings.Contains(got, want) {
					t.Errorf("FormatMessage() = %q, missing %q", got, want)
				}
			}
		})
	}
}

func TestFormatFeatureType(t *testing.T) {
	if got := FormatFeatureType(9); got != "FEATURE_9" {
		t.Errorf("FormatFeatureType(9) = %q", got)
	}
	if got := FormatFeatureType(FeatureBootloader); got != "BOOTLOADER" {
		t.Errorf("FormatFeatureType(15) = %q", got)
	}
}

func TestFormatFrame(t *testing.T) {
	f := canbus.Frame{ID: 0x092A1000, Extended: true, Remote: true}
	if got := FormatFrame(f); !strings.Contains(got, "092A1000 [EXT,RTR]") {
		t.Errorf("FormatFrame() = %q", got)
	}
	f = canbus.Frame{ID: 0x123, Len: 2, Data: [8]byte{0xAB, 0xCD}}
	if got := FormatFrame(f); !strings.Contains(got, "123 [STD") || !strings.Contains(got, "AB CD") {
		t.Errorf("FormatFrame() = %q", got)
	}
}
