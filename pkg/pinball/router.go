// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package pinball

import (
	"errors"
	"fmt"

	"github.com/pinbus/pinbus/pkg/canbus"
	"go.uber.org/zap"
)

// ErrInvalidParameter reports an out-of-range feature type, channel index
// or channel count.
var ErrInvalidParameter = errors.New("pinball: invalid parameter")

// FrameSender transmits one frame on the bus. Errors are returned to the
// caller as-is; nothing is retried.
type FrameSender interface {
	SendFrame(f canbus.Frame) error
}

// FrameSenderFunc adapts a function to FrameSender
type FrameSenderFunc func(f canbus.Frame) error

func (fn FrameSenderFunc) SendFrame(f canbus.Frame) error {
	return fn(f)
}

// Outbound is the send context handed to a channel on every callback
type Outbound interface {
	SendMessage(m Message) error
	BoardAddress() uint8
	FeatureBitmap() uint16
}

// Channel is a feature implementation registered in one router slot
type Channel interface {
	FeatureType() FeatureType
	MessageReceived(out Outbound, m Message)
	Tick(out Outbound, tick uint32)
}

// Router translates frames to messages and dispatches them by feature type.
// It is not safe for concurrent use; all calls must come from one
// goroutine.
type Router struct {
	address  uint8
	sender   FrameSender
	features [MaxFeatures]Channel
	log      *zap.Logger
	stats    *Statistics
}

// RouterOption configures a Router
type RouterOption func(*Router)

// WithLogger sets the router's logger
func WithLogger(log *zap.Logger) RouterOption {
	return func(r *Router) {
		if log != nil {
			r.log = log
		}
	}
}

// WithStatistics makes the router count traffic into stats
func WithStatistics(stats *Statistics) RouterOption {
	return func(r *Router) {
		r.stats = stats
	}
}

// NewRouter creates a router for the board at address with all slots empty
func NewRouter(address uint8, sender FrameSender, opts ...RouterOption) *Router {
	r := &Router{
		address: address,
		sender:  sender,
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.With(zap.Uint8("board", address))
	return r
}

// AddFeature registers ch in the slot given by its feature type. A later
// registration for the same type replaces the earlier one.
func (r *Router) AddFeature(ch Channel) error {
	ft := ch.FeatureType()
	if int(ft) >= MaxFeatures {
		return fmt.Errorf("feature type %d: %w", ft, ErrInvalidParameter)
	}
	if r.features[ft] != nil {
		r.log.Debug("replacing feature channel", zap.String("feature", FormatFeatureType(ft)))
	}
	r.features[ft] = ch
	return nil
}

// ReceiveFrame decodes f and hands it to the channel registered for its
// feature type. Frames for empty slots are dropped.
func (r *Router) ReceiveFrame(f canbus.Frame) {
	m := Decode(f)
	ch := r.features[m.FeatureType]
	if ch == nil {
		if r.stats != nil {
			r.stats.recordDropped()
		}
		r.log.Debug("dropping frame for unregistered feature",
			zap.String("frame", f.String()),
			zap.Uint8("feature", uint8(m.FeatureType)))
		return
	}
	if r.stats != nil {
		r.stats.recordReceived(m)
	}
	ch.MessageReceived(r, m)
}

// SendMessage encodes m with this board's address and transmits it
func (r *Router) SendMessage(m Message) error {
	f := Encode(m, r.address)
	if err := r.sender.SendFrame(f); err != nil {
		if r.stats != nil {
			r.stats.SendErrors++
		}
		r.log.Debug("send failed", zap.String("frame", f.String()), zap.Error(err))
		return err
	}
	if r.stats != nil {
		r.stats.recordSent(m)
	}
	return nil
}

// Tick delivers tick to every registered channel in slot order
func (r *Router) Tick(tick uint32) {
	for _, ch := range r.features {
		if ch != nil {
			ch.Tick(r, tick)
		}
	}
}

// FeatureBitmap has bit i set when slot i holds a channel
func (r *Router) FeatureBitmap() uint16 {
	var bitmap uint16
	for i, ch := range r.features {
		if ch != nil {
			bitmap |= 1 << i
		}
	}
	return bitmap
}

func (r *Router) BoardAddress() uint8 {
	return r.address
}
