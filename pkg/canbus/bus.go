// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package canbus

import (
	"context"
	"errors"
)

// ErrClosed is returned by a bus after Close, or when its peer went away
var ErrClosed = errors.New("canbus: bus closed")

// Bus is a bidirectional CAN frame transport.
//
// ReadFrame blocks until a frame arrives, the context is done, or the bus
// fails. WriteFrame never retries; delivery failure is reported to the
// caller and handled there.
type Bus interface {
	ReadFrame(ctx context.Context) (Frame, error)
	WriteFrame(f Frame) error
	Close() error
}

// Kind names a transport for configuration and flags
type Kind string

const (
	KindSocketCAN Kind = "socketcan"
	KindSLCAN     Kind = "slcan"
	KindWebSocket Kind = "ws"
	KindLoopback  Kind = "loopback"
)

// Kinds lists every transport kind in flag-help order
func Kinds() []Kind {
	return []Kind{KindSocketCAN, KindSLCAN, KindWebSocket, KindLoopback}
}
