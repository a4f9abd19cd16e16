// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package canbus

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"go.bug.st/serial"
)

// SLCAN (Lawicel) line markers
const (
	slcanCR      = '\r'
	slcanMaxLine = 32
)

// slcanBitrates maps a CAN bitrate to its Sn setup command
var slcanBitrates = map[int]string{
	10000:   "S0",
	20000:   "S1",
	50000:   "S2",
	100000:  "S3",
	125000:  "S4",
	250000:  "S5",
	500000:  "S6",
	800000:  "S7",
	1000000: "S8",
}

// slcanPort is the subset of serial.Port used by SLCAN
type slcanPort interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
}

// SLCAN is a serial-line CAN adapter speaking the Lawicel ASCII protocol
// (CANable, USBtin, and most USB-CAN dongles).
type SLCAN struct {
	port slcanPort

	wmu sync.Mutex
	buf []byte
}

// OpenSLCAN opens a serial SLCAN adapter, sets the CAN bitrate and opens
// the channel.
func OpenSLCAN(portName string, baudRate int, canBitrate int) (*SLCAN, error) {
	setup, ok := slcanBitrates[canBitrate]
	if !ok {
		return nil, fmt.Errorf("slcan: unsupported CAN bitrate %d", canBitrate)
	}

	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("slcan: failed to open serial port %s: %w", portName, err)
	}

	s := newSLCAN(port)
	// Close first in case the adapter was left open, then configure
	for _, cmd := range []string{"C", setup, "O"} {
		if err := s.writeLine(cmd); err != nil {
			port.Close()
			return nil, err
		}
	}
	return s, nil
}

func newSLCAN(port slcanPort) *SLCAN {
	return &SLCAN{
		port: port,
		buf:  make([]byte, 0, slcanMaxLine*4),
	}
}

func (s *SLCAN) writeLine(line string) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if _, err := s.port.Write([]byte(line + string(rune(slcanCR)))); err != nil {
		return fmt.Errorf("slcan: write: %w", err)
	}
	return nil
}

func (s *SLCAN) ReadFrame(ctx context.Context) (Frame, error) {
	if err := s.port.SetReadTimeout(100 * time.Millisecond); err != nil {
		return Frame{}, fmt.Errorf("slcan: set read timeout: %w", err)
	}
	chunk := make([]byte, 64)
	for {
		if f, ok := s.nextBuffered(); ok {
			return f, nil
		}
		if err := ctx.Err(); err != nil {
			return Frame{}, err
		}
		n, err := s.port.Read(chunk)
		if err != nil {
			if err == io.EOF {
				return Frame{}, ErrClosed
			}
			return Frame{}, fmt.Errorf("slcan: read: %w", err)
		}
		s.buf = append(s.buf, chunk[:n]...)
	}
}

// nextBuffered extracts the next complete frame line from the receive
// buffer, discarding acknowledgements and unparseable lines.
func (s *SLCAN) nextBuffered() (Frame, bool) {
	for {
		i := bytes.IndexAny(s.buf, "\r\a")
		if i < 0 {
			if len(s.buf) > slcanMaxLine*4 {
				s.buf = s.buf[:0]
			}
			return Frame{}, false
		}
		line := string(s.buf[:i])
		s.buf = s.buf[i+1:]
		if line == "" || line == "z" || line == "Z" {
			continue
		}
		f, err := DecodeSLCAN(line)
		if err != nil {
			continue
		}
		return f, true
	}
}

func (s *SLCAN) WriteFrame(f Frame) error {
	line, err := EncodeSLCAN(f)
	if err != nil {
		return err
	}
	return s.writeLine(line)
}

func (s *SLCAN) Close() error {
	s.writeLine("C")
	return s.port.Close()
}

// EncodeSLCAN formats a frame as an SLCAN transmit command without the
// trailing carriage return.
func EncodeSLCAN(f Frame) (string, error) {
	if err := f.Validate(); err != nil {
		return "", err
	}
	var cmd byte
	var id string
	switch {
	case f.Extended && f.Remote:
		cmd, id = 'R', fmt.Sprintf("%08X", f.ID)
	case f.Extended:
		cmd, id = 'T', fmt.Sprintf("%08X", f.ID)
	case f.Remote:
		cmd, id = 'r', fmt.Sprintf("%03X", f.ID)
	default:
		cmd, id = 't', fmt.Sprintf("%03X", f.ID)
	}
	line := string(cmd) + id + strconv.Itoa(int(f.Len))
	if !f.Remote {
		line += fmt.Sprintf("%X", f.Payload())
	}
	return line, nil
}

// DecodeSLCAN parses one SLCAN receive line (without the carriage return).
func DecodeSLCAN(line string) (Frame, error) {
	if len(line) == 0 {
		return Frame{}, fmt.Errorf("slcan: empty line")
	}
	var f Frame
	idLen := 3
	switch line[0] {
	case 't':
	case 'r':
		f.Remote = true
	case 'T':
		f.Extended, idLen = true, 8
	case 'R':
		f.Extended, f.Remote, idLen = true, true, 8
	default:
		return Frame{}, fmt.Errorf("slcan: unknown command %q", line[0])
	}
	if len(line) < 1+idLen+1 {
		return Frame{}, fmt.Errorf("slcan: line too short: %q", line)
	}

	id, err := strconv.ParseUint(line[1:1+idLen], 16, 32)
	if err != nil {
		return Frame{}, fmt.Errorf("slcan: bad identifier in %q: %w", line, err)
	}
	f.ID = uint32(id)

	dlc := line[1+idLen]
	if dlc < '0' || dlc > '8' {
		return Frame{}, fmt.Errorf("slcan: bad length %q", dlc)
	}
	f.Len = dlc - '0'

	if !f.Remote {
		// Trailing timestamps (4 hex digits) are tolerated
		data := line[2+idLen:]
		if len(data) < int(f.Len)*2 {
			return Frame{}, fmt.Errorf("slcan: short payload in %q", line)
		}
		if _, err := hex.Decode(f.Data[:f.Len], []byte(data[:f.Len*2])); err != nil {
			return Frame{}, fmt.Errorf("slcan: bad payload in %q: %w", line, err)
		}
	}
	return f, f.Validate()
}
