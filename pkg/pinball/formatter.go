// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package pinball

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/pinbus/pinbus/pkg/canbus"
)

// FormatMessage formats a message into a single human-readable line
func FormatMessage(m Message) string {
	result := fmt.Sprintf("%-8s %s#%d %s (fn %d) addr=0x%02X pri=%d",
		FormatKind(m.Kind), FormatFeatureType(m.FeatureType), m.FeatureNum,
		FormatFunction(m.FeatureType, m.Function), m.Function, m.Address, m.Priority)
	if m.UnitSpecific {
		result += " unit"
	}
	if m.Reserved != 0 {
		result += fmt.Sprintf(" rsv=%X", m.Reserved)
	}
	if m.Kind == KindRequest {
		return result
	}
	result += fmt.Sprintf(" len=%d", m.Len)
	if payload := FormatPayload(m); payload != "" {
		result += "  " + payload
	} else if m.Len > 0 {
		result += fmt.Sprintf("  [% X]", m.Payload())
	}
	return result
}

// FormatFrame formats a raw frame with its timestamp-free hex dump
func FormatFrame(f canbus.Frame) string {
	flags := "EXT"
	if !f.Extended {
		flags = "STD"
	}
	if f.Remote {
		flags += ",RTR"
	}
	id := fmt.Sprintf("%08X", f.ID)
	if !f.Extended {
		id = fmt.Sprintf("     %03X", f.ID)
	}
	return fmt.Sprintf("%s [%-7s] len=%d  % X", id, flags, f.Len, f.Payload())
}

// FormatKind returns the name for a message kind
func FormatKind(k Kind) string {
	switch k {
	case KindResponse:
		return "RESPONSE"
	case KindCommand:
		return "COMMAND"
	case KindRequest:
		return "REQUEST"
	default:
		return "UNKNOWN"
	}
}

// FormatFeatureType returns the name for a feature type
func FormatFeatureType(ft FeatureType) string {
	switch ft {
	case FeatureSystem:
		return "SYSTEM"
	case FeatureSwitch:
		return "SWITCH"
	case FeatureLamp:
		return "LAMP"
	case FeatureCoil:
		return "COIL"
	case FeatureRGB:
		return "RGB"
	case FeatureScore:
		return "SCORE"
	case FeatureBootloader:
		return "BOOTLOADER"
	default:
		return fmt.Sprintf("FEATURE_%d", uint8(ft))
	}
}

// FormatFunction returns the name of a function within a feature type
func FormatFunction(ft FeatureType, fn uint8) string {
	switch ft {
	case FeatureSwitch:
		switch fn {
		case SwitchFnState:
			return "STATE"
		case SwitchFnPollInterval:
			return "POLL_INTERVAL"
		case SwitchFnTriggerMask:
			return "TRIGGER_MASK"
		case SwitchFnDebounceLimit:
			return "DEBOUNCE_LIMIT"
		case SwitchFnOpenRule:
			return "OPEN_RULE"
		case SwitchFnCloseRule:
			return "CLOSE_RULE"
		case SwitchFnBulkState:
			return "BULK_STATE"
		}
	case FeatureCoil:
		if fn == CoilFnEnvelope {
			return "ENVELOPE"
		}
	case FeatureSystem:
		switch fn {
		case SystemFnFeatures:
			return "FEATURES"
		case SystemFnUptime:
			return "UPTIME"
		}
	}
	return "UNKNOWN"
}

// FormatPayload decodes known payload shapes. It returns an empty string
// for payloads it does not recognise.
func FormatPayload(m Message) string {
	data := m.Payload()
	switch m.FeatureType {
	case FeatureSwitch:
		return formatSwitchPayload(m.Function, data)
	case FeatureCoil:
		if m.Function != CoilFnEnvelope {
			return ""
		}
		if len(data) >= CoilEnvelopeLen {
			return fmt.Sprintf("attack=%d/%d sustain=%d/%d", data[0], data[1], data[2], data[3])
		}
		if len(data) >= 1 && data[0] == 0 {
			return "off"
		}
	case FeatureSystem:
		switch {
		case m.Function == SystemFnFeatures && len(data) >= 2:
			bitmap := binary.LittleEndian.Uint16(data)
			return "features=" + formatFeatureBitmap(bitmap)
		case m.Function == SystemFnUptime && len(data) >= 4:
			return fmt.Sprintf("uptime=%d ticks", binary.LittleEndian.Uint32(data))
		}
	}
	return ""
}

func formatSwitchPayload(fn uint8, data []byte) string {
	switch fn {
	case SwitchFnState:
		if len(data) >= SwitchStateReplyLen {
			return fmt.Sprintf("state=%s edge=%s", formatSwitchState(data[0]), formatEdge(data[1]))
		}
	case SwitchFnPollInterval:
		if len(data) >= 1 {
			if data[0] == 0 {
				return "interval=off"
			}
			return fmt.Sprintf("interval=%d ticks", data[0])
		}
	case SwitchFnTriggerMask:
		if len(data) >= 1 {
			return "triggers=" + formatTriggerMask(data[0])
		}
	case SwitchFnDebounceLimit:
		if len(data) >= 1 {
			return fmt.Sprintf("debounce=%d", data[0])
		}
	case SwitchFnOpenRule, SwitchFnCloseRule:
		if len(data) >= 6 {
			var sustainDuration uint8
			if len(data) >= SwitchRuleReplyLen {
				sustainDuration = data[6]
			}
			return fmt.Sprintf("rules=0x%02X board=0x%02X coil=%d attack=%d/%d sustain=%d/%d",
				data[0], data[1], data[2], data[3], data[4], data[5], sustainDuration)
		}
	case SwitchFnBulkState:
		if len(data) >= 1 {
			var bits strings.Builder
			for i := 0; i < len(data)*8; i++ {
				if data[i/8]&(1<<(i%8)) != 0 {
					bits.WriteByte('1')
				} else {
					bits.WriteByte('0')
				}
			}
			return "switches=" + bits.String()
		}
	}
	return ""
}

func formatSwitchState(state uint8) string {
	if state != 0 {
		return "closed"
	}
	return "open"
}

func formatEdge(edge uint8) string {
	switch edge {
	case SwitchEdgeNone:
		return "none"
	case SwitchEdgeRising:
		return "rising"
	case SwitchEdgeFalling:
		return "falling"
	default:
		return fmt.Sprintf("?%d", edge)
	}
}

func formatTriggerMask(mask uint8) string {
	var parts []string
	if mask&SwitchTriggerRising != 0 {
		parts = append(parts, "rising")
	}
	if mask&SwitchTriggerFalling != 0 {
		parts = append(parts, "falling")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "+")
}

func formatFeatureBitmap(bitmap uint16) string {
	var names []string
	for i := 0; i < MaxFeatures; i++ {
		if bitmap&(1<<i) != 0 {
			names = append(names, FormatFeatureType(FeatureType(i)))
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ",")
}
