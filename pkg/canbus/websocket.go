// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package canbus

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WebSocket carries CAN frames over a WebSocket connection. Each binary
// message holds one or more 16-byte SocketCAN can_frame records.
type WebSocket struct {
	conn *websocket.Conn

	wmu     sync.Mutex
	pending []Frame
	closed  bool
}

// DialWebSocket connects to a frame bridge with optional HTTP Basic auth
func DialWebSocket(wsURL, username, password string, skipSSLVerify bool) (*WebSocket, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: skipSSLVerify,
		}
	}

	headers := http.Header{}
	if username != "" && password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("WebSocket connection failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("WebSocket connection failed: %w", err)
	}

	return NewWebSocket(conn), nil
}

// NewWebSocket wraps an established connection
func NewWebSocket(conn *websocket.Conn) *WebSocket {
	return &WebSocket{conn: conn}
}

func (w *WebSocket) ReadFrame(ctx context.Context) (Frame, error) {
	if len(w.pending) > 0 {
		f := w.pending[0]
		w.pending = w.pending[1:]
		return f, nil
	}
	if w.closed {
		return Frame{}, ErrClosed
	}

	stop := context.AfterFunc(ctx, func() {
		w.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		messageType, data, err := w.conn.ReadMessage()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Frame{}, ctxErr
			}
			// gorilla connections are unusable after a read error
			w.closed = true
			return Frame{}, fmt.Errorf("%w: %v", ErrClosed, err)
		}
		if messageType != websocket.BinaryMessage {
			continue
		}
		frames, err := unpackFrames(data)
		if err != nil || len(frames) == 0 {
			continue
		}
		w.pending = frames[1:]
		return frames[0], nil
	}
}

func (w *WebSocket) WriteFrame(f Frame) error {
	data, err := f.MarshalBinary()
	if err != nil {
		return err
	}
	w.wmu.Lock()
	defer w.wmu.Unlock()
	if err := w.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	return nil
}

func (w *WebSocket) Close() error {
	w.wmu.Lock()
	defer w.wmu.Unlock()
	w.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return w.conn.Close()
}

func unpackFrames(data []byte) ([]Frame, error) {
	if len(data)%FrameSize != 0 {
		return nil, fmt.Errorf("canbus: message length %d is not a multiple of %d", len(data), FrameSize)
	}
	frames := make([]Frame, 0, len(data)/FrameSize)
	for off := 0; off < len(data); off += FrameSize {
		var f Frame
		if err := f.UnmarshalBinary(data[off : off+FrameSize]); err != nil {
			return nil, err
		}
		frames = append(frames, f)
	}
	return frames, nil
}

// BridgeHandler serves a Loopback bus over WebSocket. Every accepted
// connection becomes an endpoint of lb, so remote tools share the bus with
// in-process boards.
type BridgeHandler struct {
	lb       *Loopback
	log      *zap.Logger
	upgrader websocket.Upgrader
}

// NewBridgeHandler creates a WebSocket bridge for lb
func NewBridgeHandler(lb *Loopback, log *zap.Logger) *BridgeHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &BridgeHandler{
		lb:  lb,
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (h *BridgeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	remote := NewWebSocket(conn)
	ep := h.lb.Endpoint()
	h.log.Info("bridge client connected", zap.String("remote", r.RemoteAddr))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// bus -> client
	go func() {
		defer cancel()
		for {
			f, err := ep.ReadFrame(ctx)
			if err != nil {
				return
			}
			if err := remote.WriteFrame(f); err != nil {
				return
			}
		}
	}()

	// client -> bus
	for {
		f, err := remote.ReadFrame(ctx)
		if err != nil {
			break
		}
		if err := ep.WriteFrame(f); err != nil {
			break
		}
	}

	ep.Close()
	conn.Close()
	h.log.Info("bridge client disconnected", zap.String("remote", r.RemoteAddr))
}
