// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package pinball implements the Pinball Protocol: a message layer carried
// in 29-bit extended CAN frames, and the per-board Feature Router that
// dispatches decoded messages to up to 16 feature channels.
//
// Identifier layout (MSB to LSB):
//
//	bits 28-25  priority
//	bit  24     unit specific
//	bits 23-16  board address
//	bits 15-12  feature type
//	bits 11-8   feature number
//	bits  7-4   function
//	bits  3-0   reserved
package pinball

// Identifier field shifts and masks
const (
	priorityShift     = 25
	unitSpecificShift = 24
	addressShift      = 16
	featureTypeShift  = 12
	featureNumShift   = 8
	functionShift     = 4

	nibbleMask  = 0x0F
	addressMask = 0xFF
)

// Table sizes
const (
	MaxFeatures = 16
	MaxDataLen  = 8
)

// FeatureType selects a router slot
type FeatureType uint8

// Feature types. Switch and Coil are fixed by the wire contract between
// boards; the others are reserved for peer features.
const (
	FeatureSystem     FeatureType = 0
	FeatureSwitch     FeatureType = 1
	FeatureLamp       FeatureType = 2
	FeatureCoil       FeatureType = 3
	FeatureRGB        FeatureType = 4
	FeatureScore      FeatureType = 5
	FeatureBootloader FeatureType = 15
)

// Kind distinguishes the three message roles
type Kind uint8

const (
	// KindResponse is only ever produced locally; on the wire it looks
	// like a Command from the sending board.
	KindResponse Kind = iota
	KindCommand
	KindRequest
)

// Priorities. Lower values win arbitration.
const (
	PriorityRule    uint8 = 0
	PriorityStatus  uint8 = 1
	PriorityDefault uint8 = 4
)

// Switch feature functions
const (
	SwitchFnState         uint8 = 0
	SwitchFnPollInterval  uint8 = 1
	SwitchFnTriggerMask   uint8 = 2
	SwitchFnDebounceLimit uint8 = 3
	SwitchFnOpenRule      uint8 = 4
	SwitchFnCloseRule     uint8 = 5
	SwitchFnBulkState     uint8 = 6
)

// Switch trigger mask and rule mask bits
const (
	SwitchTriggerRising  uint8 = 0x01
	SwitchTriggerFalling uint8 = 0x02

	SwitchRuleOpenArmed  uint8 = 0x01 // fires on falling edges
	SwitchRuleCloseArmed uint8 = 0x02 // fires on rising edges
)

// Switch edge codes
const (
	SwitchEdgeNone    uint8 = 0
	SwitchEdgeRising  uint8 = 1
	SwitchEdgeFalling uint8 = 2
)

// Switch reply sizes
const (
	SwitchStateReplyLen = 2
	SwitchRuleReplyLen  = 7
)

// Coil feature functions
const (
	CoilFnEnvelope  uint8 = 0
	CoilEnvelopeLen       = 4
)

// System feature functions
const (
	SystemFnFeatures uint8 = 0
	SystemFnUptime   uint8 = 1
)
