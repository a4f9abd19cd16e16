// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bytes"
	"strings"
	"testing"

	"github.com/pinbus/pinbus/pkg/pinball"
)

func TestParseMessage(t *testing.T) {
	tests := []struct {
		name    string
		args    string
		request bool
		want    pinball.Message
	}{
		{
			name:    "switch state request by name",
			args:    "42 switch 3 state",
			request: true,
			want:    pinball.NewRequest(42, pinball.FeatureSwitch, 3, pinball.SwitchFnState),
		},
		{
			name: "trigger mask in hex",
			args: "0x2A switch 0 trigger 0x01",
			want: pinball.NewCommand(42, pinball.FeatureSwitch, 0, pinball.SwitchFnTriggerMask, 0x01),
		},
		{
			name: "close rule",
			args: "42 switch 0 close-rule 1 7 2 255 20 64 5",
			want: pinball.NewCommand(42, pinball.FeatureSwitch, 0, pinball.SwitchFnCloseRule, 1, 7, 2, 255, 20, 64, 5),
		},
		{
			name: "numeric feature and function",
			args: "7 3 2 0 255 20 64 5",
			want: pinball.NewCommand(7, pinball.FeatureCoil, 2, 0, 255, 20, 64, 5),
		},
		{
			name:    "system features request",
			args:    "1 SYSTEM 0 0",
			request: true,
			want:    pinball.NewRequest(1, pinball.FeatureSystem, 0, pinball.SystemFnFeatures),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseMessage(strings.Fields(tt.args), tt.request)
			if err != nil {
				t.Fatalf("parseMessage(%q) error: %v", tt.args, err)
			}
			if got.Address != tt.want.Address || got.FeatureType != tt.want.FeatureType ||
				got.FeatureNum != tt.want.FeatureNum || got.Function != tt.want.Function ||
				got.Kind != tt.want.Kind || !bytes.Equal(got.Payload(), tt.want.Payload()) {
				t.Errorf("parseMessage(%q) = %s, want %s", tt.args, got, tt.want)
			}
		})
	}
}

func TestParseMessageErrors(t *testing.T) {
	tests := []struct {
		args    string
		request bool
	}{
		{"256 switch 0 state", false},
		{"42 widget 0 state", false},
		{"42 switch 16 state", false},
		{"42 coil 0 state", false},
		{"42 switch 0 trigger 0x100", false},
		{"42 switch 0 trigger 1 2 3 4 5 6 7 8 9", false},
		{"42 switch 0 state 1", true},
	}

	for _, tt := range tests {
		if _, err := parseMessage(strings.Fields(tt.args), tt.request); err == nil {
			t.Errorf("parseMessage(%q) expected error", tt.args)
		}
	}
}

func TestParseByte(t *testing.T) {
	for s, want := range map[string]uint8{"0": 0, "255": 255, "0xFF": 0xFF, "0x2a": 42} {
		got, err := parseByte(s)
		if err != nil || got != want {
			t.Errorf("parseByte(%q) = %d, %v; want %d", s, got, err, want)
		}
	}
	if _, err := parseByte("-1"); err == nil {
		t.Error("parseByte(-1) expected error")
	}
}
