// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package canbus

import (
	"context"
	"sync"
	"sync/atomic"
)

// Loopback is an in-process virtual CAN bus. Every frame written by one
// endpoint is delivered to every other open endpoint, in write order.
type Loopback struct {
	mu        sync.RWMutex
	endpoints map[*LoopbackEndpoint]struct{}
	queueLen  int
}

// NewLoopback creates a virtual bus whose endpoints buffer up to queueLen
// frames each.
func NewLoopback(queueLen int) *Loopback {
	if queueLen <= 0 {
		queueLen = 64
	}
	return &Loopback{
		endpoints: make(map[*LoopbackEndpoint]struct{}),
		queueLen:  queueLen,
	}
}

// Endpoint attaches a new node to the virtual bus.
func (l *Loopback) Endpoint() *LoopbackEndpoint {
	ep := &LoopbackEndpoint{
		bus:  l,
		rx:   make(chan Frame, l.queueLen),
		done: make(chan struct{}),
	}
	l.mu.Lock()
	l.endpoints[ep] = struct{}{}
	l.mu.Unlock()
	return ep
}

func (l *Loopback) deliver(from *LoopbackEndpoint, f Frame) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for ep := range l.endpoints {
		if ep == from {
			continue
		}
		select {
		case ep.rx <- f:
		default:
			// Receiver is not draining; a real bus would lose the frame too
			ep.dropped.Add(1)
		}
	}
}

func (l *Loopback) detach(ep *LoopbackEndpoint) {
	l.mu.Lock()
	delete(l.endpoints, ep)
	l.mu.Unlock()
}

// LoopbackEndpoint is one node on a Loopback bus. It implements Bus.
type LoopbackEndpoint struct {
	bus       *Loopback
	rx        chan Frame
	done      chan struct{}
	closeOnce sync.Once
	dropped   atomic.Uint64
}

func (e *LoopbackEndpoint) ReadFrame(ctx context.Context) (Frame, error) {
	select {
	case f := <-e.rx:
		return f, nil
	case <-e.done:
		return Frame{}, ErrClosed
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

func (e *LoopbackEndpoint) WriteFrame(f Frame) error {
	select {
	case <-e.done:
		return ErrClosed
	default:
	}
	if err := f.Validate(); err != nil {
		return err
	}
	e.bus.deliver(e, f)
	return nil
}

func (e *LoopbackEndpoint) Close() error {
	e.closeOnce.Do(func() {
		e.bus.detach(e)
		close(e.done)
	})
	return nil
}

// Dropped returns how many frames were lost because this endpoint's queue
// was full.
func (e *LoopbackEndpoint) Dropped() uint64 {
	return e.dropped.Load()
}
