// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package canbus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
)

// Direction of a traced frame relative to the recording tool
type Direction uint8

const (
	DirRX Direction = 0
	DirTX Direction = 1
)

func (d Direction) String() string {
	if d == DirTX {
		return "TX"
	}
	return "RX"
}

// TraceHeader is the first record of a trace file
type TraceHeader struct {
	Session   uuid.UUID `cbor:"1,keyasint"`
	StartUnix int64     `cbor:"2,keyasint"` // nanoseconds
	Interface string    `cbor:"3,keyasint"`
}

// Start returns the recording start time
func (h TraceHeader) Start() time.Time {
	return time.Unix(0, h.StartUnix)
}

// TraceRecord is one frame captured in a trace
type TraceRecord struct {
	Offset    time.Duration `cbor:"1,keyasint"`
	Direction Direction     `cbor:"2,keyasint"`
	ID        uint32        `cbor:"3,keyasint"`
	Extended  bool          `cbor:"4,keyasint"`
	Remote    bool          `cbor:"5,keyasint"`
	Len       uint8         `cbor:"6,keyasint"`
	Data      []byte        `cbor:"7,keyasint,omitempty"`
}

// Frame rebuilds the traced frame
func (r TraceRecord) Frame() (Frame, error) {
	if len(r.Data) > MaxDataLen {
		return Frame{}, ErrInvalidLen
	}
	f := Frame{ID: r.ID, Extended: r.Extended, Remote: r.Remote, Len: r.Len}
	copy(f.Data[:], r.Data)
	return f, f.Validate()
}

// TraceWriter appends CBOR frame records to a stream. It is safe for
// concurrent use.
type TraceWriter struct {
	mu     sync.Mutex
	enc    *cbor.Encoder
	header TraceHeader
	now    func() time.Time
	start  time.Time
}

// NewTraceWriter writes a trace header for iface to w and returns a writer
// for the frames that follow.
func NewTraceWriter(w io.Writer, iface string) (*TraceWriter, error) {
	return newTraceWriter(w, iface, time.Now)
}

func newTraceWriter(w io.Writer, iface string, now func() time.Time) (*TraceWriter, error) {
	start := now()
	tw := &TraceWriter{
		enc: cbor.NewEncoder(w),
		header: TraceHeader{
			Session:   uuid.New(),
			StartUnix: start.UnixNano(),
			Interface: iface,
		},
		now:   now,
		start: start,
	}
	if err := tw.enc.Encode(tw.header); err != nil {
		return nil, fmt.Errorf("trace: write header: %w", err)
	}
	return tw, nil
}

// Header returns the header written at the start of the trace
func (t *TraceWriter) Header() TraceHeader {
	return t.header
}

// Record appends one frame
func (t *TraceWriter) Record(dir Direction, f Frame) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec := TraceRecord{
		Offset:    t.now().Sub(t.start),
		Direction: dir,
		ID:        f.ID,
		Extended:  f.Extended,
		Remote:    f.Remote,
		Len:       f.Len,
	}
	if !f.Remote && f.Len > 0 {
		rec.Data = append([]byte(nil), f.Payload()...)
	}
	if err := t.enc.Encode(rec); err != nil {
		return fmt.Errorf("trace: write record: %w", err)
	}
	return nil
}

// TraceReader reads a trace written by TraceWriter
type TraceReader struct {
	dec    *cbor.Decoder
	header TraceHeader
}

// NewTraceReader reads the trace header from r
func NewTraceReader(r io.Reader) (*TraceReader, error) {
	tr := &TraceReader{dec: cbor.NewDecoder(r)}
	if err := tr.dec.Decode(&tr.header); err != nil {
		return nil, fmt.Errorf("trace: read header: %w", err)
	}
	return tr, nil
}

func (t *TraceReader) Header() TraceHeader {
	return t.header
}

// Next returns the next record, or io.EOF at the end of the trace
func (t *TraceReader) Next() (TraceRecord, error) {
	var rec TraceRecord
	if err := t.dec.Decode(&rec); err != nil {
		if errors.Is(err, io.EOF) {
			return TraceRecord{}, io.EOF
		}
		return TraceRecord{}, fmt.Errorf("trace: read record: %w", err)
	}
	return rec, nil
}

// TracingBus records every frame that passes through a Bus
type TracingBus struct {
	Bus
	trace *TraceWriter
}

// NewTracingBus wraps b so reads and writes are appended to tw
func NewTracingBus(b Bus, tw *TraceWriter) *TracingBus {
	return &TracingBus{Bus: b, trace: tw}
}

func (t *TracingBus) ReadFrame(ctx context.Context) (Frame, error) {
	f, err := t.Bus.ReadFrame(ctx)
	if err != nil {
		return f, err
	}
	return f, t.trace.Record(DirRX, f)
}

func (t *TracingBus) WriteFrame(f Frame) error {
	if err := t.Bus.WriteFrame(f); err != nil {
		return err
	}
	return t.trace.Record(DirTX, f)
}
