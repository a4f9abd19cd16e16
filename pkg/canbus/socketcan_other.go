// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

//go:build !linux

package canbus

import (
	"context"
	"errors"
)

var errSocketCANUnsupported = errors.New("socketcan: only supported on linux")

// SocketCAN is unavailable on this platform
type SocketCAN struct{}

// OpenSocketCAN always fails on non-Linux systems
func OpenSocketCAN(iface string) (*SocketCAN, error) {
	return nil, errSocketCANUnsupported
}

func (s *SocketCAN) Interface() string { return "" }

func (s *SocketCAN) ReadFrame(ctx context.Context) (Frame, error) {
	return Frame{}, errSocketCANUnsupported
}

func (s *SocketCAN) WriteFrame(f Frame) error { return errSocketCANUnsupported }

func (s *SocketCAN) Close() error { return nil }
