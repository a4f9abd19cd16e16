// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package pinball

import (
	"strings"
	"testing"

	"github.com/pinbus/pinbus/pkg/canbus"
)

func TestValidateFrame(t *testing.T) {
	tests := []struct {
		name  string
		frame canbus.Frame
		want  []AnomalyType
	}{
		{
			name:  "valid switch state reply",
			frame: Encode(NewResponse(NewRequest(42, FeatureSwitch, 0, SwitchFnState), 1, 1), 42),
		},
		{
			name:  "valid request",
			frame: Encode(NewRequest(42, FeatureSwitch, 0, SwitchFnOpenRule), 42),
		},
		{
			name:  "standard identifier",
			frame: canbus.Frame{ID: 0x123, Len: 1},
			want:  []AnomalyType{AnomalyStandardID},
		},
		{
			name:  "length overflow",
			frame: canbus.Frame{ID: 0x092A1000, Extended: true, Len: 9},
			want:  []AnomalyType{AnomalyLengthOverflow},
		},
		{
			name:  "reserved bits",
			frame: canbus.Frame{ID: 0x092A1005, Extended: true, Len: 2},
			want:  []AnomalyType{AnomalyReservedBits},
		},
		{
			name:  "short rule command",
			frame: Encode(NewCommand(42, FeatureSwitch, 0, SwitchFnOpenRule, 1, 7, 2), 42),
			want:  []AnomalyType{AnomalyShortPayload},
		},
		{
			name:  "empty coil command",
			frame: Encode(NewCommand(7, FeatureCoil, 0, CoilFnEnvelope), 7),
			want:  []AnomalyType{AnomalyShortPayload},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := ValidateFrame(tt.frame)
			if len(errs) != len(tt.want) {
				t.Fatalf("got %d anomalies %v, want %d", len(errs), errs, len(tt.want))
			}
			for i, err := range errs {
				if err.Type != tt.want[i] {
					t.Errorf("anomaly %d type = %d, want %d", i, err.Type, tt.want[i])
				}
				if err.Error() == "" {
					t.Errorf("anomaly %d has no message", i)
				}
			}
		})
	}
}

func TestStatistics(t *testing.T) {
	s := NewStatistics()

	good := Encode(NewCommand(42, FeatureSwitch, 0, SwitchFnPollInterval, 10), 42)
	s.Update(good, ValidateFrame(good))
	req := Encode(NewRequest(42, FeatureCoil, 0, CoilFnEnvelope), 42)
	s.Update(req, ValidateFrame(req))
	std := canbus.Frame{ID: 0x7FF}
	s.Update(std, ValidateFrame(std))

	if s.TotalFrames != 3 || s.ValidFrames != 2 || s.InvalidFrames != 1 {
		t.Errorf("counts total=%d valid=%d invalid=%d", s.TotalFrames, s.ValidFrames, s.InvalidFrames)
	}
	if s.Commands != 1 || s.Requests != 1 {
		t.Errorf("kinds commands=%d requests=%d", s.Commands, s.Requests)
	}
	if s.StandardFrames != 1 {
		t.Errorf("StandardFrames = %d", s.StandardFrames)
	}
	if s.FeatureRX[FeatureSwitch] != 1 || s.FeatureRX[FeatureCoil] != 1 {
		t.Errorf("FeatureRX = %v", s.FeatureRX)
	}

	summary := s.String()
	for _, want := range []string{"Total Frames:", "Standard ID:", "SWITCH", "COIL"} {
		if !strings.Contains(summary, want) {
			t.Errorf("summary missing %q:\n%s", want, summary)
		}
	}

	s.Reset()
	if s.TotalFrames != 0 || s.FeatureRX[FeatureSwitch] != 0 {
		t.Error("Reset did not clear counters")
	}
}
