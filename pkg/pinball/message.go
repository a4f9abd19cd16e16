// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package pinball

import "github.com/pinbus/pinbus/pkg/canbus"

// Message is a decoded Pinball Protocol message
type Message struct {
	Priority     uint8 // 4 bits
	UnitSpecific bool
	Address      uint8 // target board for Command/Request, sender for Response
	FeatureType  FeatureType
	FeatureNum   uint8 // 4 bits
	Function     uint8 // 4 bits
	Reserved     uint8 // 4 bits
	Kind         Kind
	Len          uint8
	Data         [MaxDataLen]byte
}

// Payload returns the used portion of the data field
func (m Message) Payload() []byte {
	n := m.Len
	if n > MaxDataLen {
		n = MaxDataLen
	}
	return m.Data[:n]
}

// SetPayload copies up to 8 bytes into the data field and sets Len
func (m *Message) SetPayload(data []byte) {
	m.Data = [MaxDataLen]byte{}
	m.Len = uint8(copy(m.Data[:], data))
}

// String formats the message on one line
func (m Message) String() string {
	return FormatMessage(m)
}

// Decode unpacks a CAN frame into a message. Remote frames decode as
// requests, everything else as commands.
func Decode(f canbus.Frame) Message {
	id := f.ID
	m := Message{
		Priority:     uint8(id>>priorityShift) & nibbleMask,
		UnitSpecific: (id>>unitSpecificShift)&1 != 0,
		Address:      uint8(id>>addressShift) & addressMask,
		FeatureType:  FeatureType(uint8(id>>featureTypeShift) & nibbleMask),
		FeatureNum:   uint8(id>>featureNumShift) & nibbleMask,
		Function:     uint8(id>>functionShift) & nibbleMask,
		Reserved:     uint8(id) & nibbleMask,
		Kind:         KindCommand,
		Len:          f.Len,
	}
	if f.Remote {
		m.Kind = KindRequest
	}
	if m.Len > MaxDataLen {
		m.Len = MaxDataLen
	}
	copy(m.Data[:], f.Data[:m.Len])
	return m
}

// Encode packs a message into an extended CAN frame. Responses carry
// ownAddress; commands and requests carry the message's target address.
// Fields wider than their bit range are truncated.
func Encode(m Message, ownAddress uint8) canbus.Frame {
	addr := m.Address
	if m.Kind == KindResponse {
		addr = ownAddress
	}

	var id uint32
	id |= uint32(m.Priority&nibbleMask) << priorityShift
	if m.UnitSpecific {
		id |= 1 << unitSpecificShift
	}
	id |= uint32(addr) << addressShift
	id |= uint32(uint8(m.FeatureType)&nibbleMask) << featureTypeShift
	id |= uint32(m.FeatureNum&nibbleMask) << featureNumShift
	id |= uint32(m.Function&nibbleMask) << functionShift
	id |= uint32(m.Reserved & nibbleMask)

	f := canbus.Frame{
		ID:       id,
		Extended: true,
		Remote:   m.Kind == KindRequest,
		Len:      m.Len,
	}
	if f.Len > MaxDataLen {
		f.Len = MaxDataLen
	}
	copy(f.Data[:], m.Data[:f.Len])
	return f
}
