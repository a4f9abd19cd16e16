// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package pinball

import (
	"fmt"

	"github.com/pinbus/pinbus/pkg/canbus"
)

// AnomalyType represents different types of frame anomalies
type AnomalyType int

const (
	AnomalyStandardID AnomalyType = iota
	AnomalyLengthOverflow
	AnomalyReservedBits
	AnomalyShortPayload
)

// ValidationError represents a frame validation failure
type ValidationError struct {
	Type    AnomalyType
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return v.Message
}

// ValidateFrame checks a bus frame against the Pinball Protocol and
// returns every anomaly found (empty if the frame is well-formed).
func ValidateFrame(f canbus.Frame) []ValidationError {
	errors := []ValidationError{}

	if !f.Extended {
		return []ValidationError{{
			Type:    AnomalyStandardID,
			Message: fmt.Sprintf("Standard 11-bit identifier 0x%03X (Pinball frames are extended)", f.ID),
			Details: map[string]interface{}{"id": f.ID},
		}}
	}

	if f.Len > MaxDataLen {
		errors = append(errors, ValidationError{
			Type:    AnomalyLengthOverflow,
			Message: fmt.Sprintf("Data length %d exceeds %d", f.Len, MaxDataLen),
			Details: map[string]interface{}{"length": f.Len, "max": MaxDataLen},
		})
	}

	m := Decode(f)
	if m.Reserved != 0 {
		errors = append(errors, ValidationError{
			Type:    AnomalyReservedBits,
			Message: fmt.Sprintf("Reserved identifier bits set (0x%X)", m.Reserved),
			Details: map[string]interface{}{"reserved": m.Reserved},
		})
	}

	// Remote frames carry no payload to check
	if m.Kind == KindRequest {
		return errors
	}

	if want := minPayloadLen(m.FeatureType, m.Function); int(m.Len) < want {
		errors = append(errors, ValidationError{
			Type: AnomalyShortPayload,
			Message: fmt.Sprintf("%s %s payload too short (expected %d bytes, got %d)",
				FormatFeatureType(m.FeatureType), FormatFunction(m.FeatureType, m.Function), want, m.Len),
			Details: map[string]interface{}{"length": m.Len, "expected": want},
		})
	}

	return errors
}

// minPayloadLen is the shortest data frame the receiving feature acts on
func minPayloadLen(ft FeatureType, fn uint8) int {
	switch ft {
	case FeatureSwitch:
		switch fn {
		case SwitchFnState:
			return SwitchStateReplyLen
		case SwitchFnPollInterval, SwitchFnTriggerMask, SwitchFnDebounceLimit, SwitchFnBulkState:
			return 1
		case SwitchFnOpenRule, SwitchFnCloseRule:
			return 6
		}
	case FeatureCoil:
		if fn == CoilFnEnvelope {
			return 1
		}
	}
	return 0
}
