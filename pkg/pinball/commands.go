// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package pinball

// Command builder functions create Messages ready for Router.SendMessage
// or Encode.

// NewCommand creates a Command to function fn of feature (ft, num) on the
// board at address.
func NewCommand(address uint8, ft FeatureType, num, fn uint8, data ...byte) Message {
	m := Message{
		Priority:    PriorityDefault,
		Address:     address,
		FeatureType: ft,
		FeatureNum:  num,
		Function:    fn,
		Kind:        KindCommand,
	}
	m.SetPayload(data)
	return m
}

// NewRequest creates a Request (remote frame) for function fn of feature
// (ft, num) on the board at address.
func NewRequest(address uint8, ft FeatureType, num, fn uint8) Message {
	return Message{
		Priority:    PriorityDefault,
		Address:     address,
		FeatureType: ft,
		FeatureNum:  num,
		Function:    fn,
		Kind:        KindRequest,
	}
}

// NewResponse creates the reply to req. The reply keeps the request's
// priority, feature and function, and is marked unit specific.
func NewResponse(req Message, data ...byte) Message {
	m := Message{
		Priority:     req.Priority,
		UnitSpecific: true,
		Address:      req.Address,
		FeatureType:  req.FeatureType,
		FeatureNum:   req.FeatureNum,
		Function:     req.Function,
		Kind:         KindResponse,
	}
	m.SetPayload(data)
	return m
}

// NewCoilEnvelopeCommand sets the drive envelope of coil on the board at
// address.
func NewCoilEnvelopeCommand(address, coil, attackLevel, attackDuration, sustainLevel, sustainDuration uint8) Message {
	m := NewCommand(address, FeatureCoil, coil, CoilFnEnvelope,
		attackLevel, attackDuration, sustainLevel, sustainDuration)
	m.Priority = PriorityRule
	return m
}

// NewCoilOffCommand forces coil on the board at address off
func NewCoilOffCommand(address, coil uint8) Message {
	m := NewCommand(address, FeatureCoil, coil, CoilFnEnvelope, 0)
	m.Priority = PriorityRule
	return m
}
