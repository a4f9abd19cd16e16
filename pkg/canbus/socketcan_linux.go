// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

//go:build linux

package canbus

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// SocketCAN is a raw CAN_RAW socket bound to one Linux CAN interface
type SocketCAN struct {
	iface string
	file  *os.File
}

// OpenSocketCAN opens a raw CAN socket on the named interface (e.g. can0,
// vcan0).
func OpenSocketCAN(iface string) (*SocketCAN, error) {
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		return nil, fmt.Errorf("socketcan: interface %s: %w", iface, err)
	}

	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return nil, fmt.Errorf("socketcan: socket: %w", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrCAN{Ifindex: ifi.Index}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("socketcan: bind %s: %w", iface, err)
	}
	// Non-blocking so the runtime poller can honour read deadlines
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("socketcan: set nonblock: %w", err)
	}

	return &SocketCAN{
		iface: iface,
		file:  os.NewFile(uintptr(fd), "can:"+iface),
	}, nil
}

// Interface returns the bound interface name
func (s *SocketCAN) Interface() string {
	return s.iface
}

func (s *SocketCAN) ReadFrame(ctx context.Context) (Frame, error) {
	if err := s.file.SetReadDeadline(time.Time{}); err != nil {
		return Frame{}, err
	}
	stop := context.AfterFunc(ctx, func() {
		s.file.SetReadDeadline(time.Now())
	})
	defer stop()

	buf := make([]byte, FrameSize)
	for {
		n, err := s.file.Read(buf)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Frame{}, ctxErr
			}
			if errors.Is(err, os.ErrClosed) {
				return Frame{}, ErrClosed
			}
			return Frame{}, fmt.Errorf("socketcan: read: %w", err)
		}
		if n < FrameSize {
			continue
		}
		var f Frame
		if err := f.UnmarshalBinary(buf[:n]); err != nil {
			// Error frames and malformed frames are not bus traffic
			continue
		}
		return f, nil
	}
}

func (s *SocketCAN) WriteFrame(f Frame) error {
	data, err := f.MarshalBinary()
	if err != nil {
		return err
	}
	if _, err := s.file.Write(data); err != nil {
		if errors.Is(err, os.ErrClosed) {
			return ErrClosed
		}
		return fmt.Errorf("socketcan: write: %w", err)
	}
	return nil
}

func (s *SocketCAN) Close() error {
	return s.file.Close()
}
