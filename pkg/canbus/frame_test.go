// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package canbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFrame(t *testing.T) {
	f, err := NewFrame(0x0A2A1040, []byte{0x01, 0x78})
	require.NoError(t, err)
	assert.True(t, f.Extended)
	assert.False(t, f.Remote)
	assert.Equal(t, uint8(2), f.Len)
	assert.Equal(t, []byte{0x01, 0x78}, f.Payload())

	_, err = NewFrame(0x20000000, nil)
	assert.ErrorIs(t, err, ErrInvalidID)

	_, err = NewFrame(0x100, make([]byte, 9))
	assert.ErrorIs(t, err, ErrInvalidLen)
}

func TestFrameValidate(t *testing.T) {
	tests := []struct {
		name string
		f    Frame
		err  error
	}{
		{"standard max", Frame{ID: MaxStandardID}, nil},
		{"standard too large", Frame{ID: MaxStandardID + 1}, ErrInvalidID},
		{"extended max", Frame{ID: MaxExtendedID, Extended: true}, nil},
		{"extended too large", Frame{ID: MaxExtendedID + 1, Extended: true}, ErrInvalidID},
		{"len 8", Frame{Len: 8}, nil},
		{"len 9", Frame{Len: 9}, ErrInvalidLen},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.f.Validate()
			if tt.err == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.err)
			}
		})
	}
}

func TestFrameString(t *testing.T) {
	f, _ := NewFrame(0x0A2A1040, []byte{0x01, 0x78})
	assert.Equal(t, "0A2A1040#0178", f.String())

	f = Frame{ID: 0x0A2A1040, Extended: true, Remote: true}
	assert.Equal(t, "0A2A1040#R0", f.String())

	f = Frame{ID: 0x123, Len: 1, Data: [8]byte{0xFF}}
	assert.Equal(t, "123#FF", f.String())
}

func TestFrameBinary(t *testing.T) {
	f := Frame{ID: 0x1ABCDEF0, Extended: true, Remote: true, Len: 3, Data: [8]byte{1, 2, 3}}
	data, err := f.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, data, FrameSize)

	// EFF | RTR | id, little-endian
	assert.Equal(t, []byte{0xF0, 0xDE, 0xBC, 0xDA}, data[0:4])
	assert.Equal(t, byte(3), data[4])

	var got Frame
	require.NoError(t, got.UnmarshalBinary(data))
	assert.Equal(t, f, got)
}

func TestFrameUnmarshalRejects(t *testing.T) {
	var f Frame
	assert.Error(t, f.UnmarshalBinary(make([]byte, 8)))

	errFrame := make([]byte, FrameSize)
	errFrame[3] = 0x20 // CAN_ERR_FLAG
	assert.Error(t, f.UnmarshalBinary(errFrame))

	badLen := make([]byte, FrameSize)
	badLen[4] = 12
	assert.ErrorIs(t, f.UnmarshalBinary(badLen), ErrInvalidLen)
}
