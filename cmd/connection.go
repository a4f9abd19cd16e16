// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/pinbus/pinbus/internal/config"
	"github.com/pinbus/pinbus/pkg/canbus"
	"go.uber.org/zap"
	"golang.org/x/term"
)

// GetPassword retrieves password from config, environment or prompts user
func GetPassword(busCfg config.BusConfig) (string, error) {
	if busCfg.Password != "" {
		return busCfg.Password, nil
	}
	if pw := os.Getenv("PINBUS_PASSWORD"); pw != "" {
		return pw, nil
	}

	// Prompt user for password (hide input)
	fmt.Fprint(os.Stderr, "Password: ")

	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Fallback to regular input if terminal functions fail
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr)
	return string(passwordBytes), nil
}

// OpenBus opens the bus selected by busCfg. The returned string describes
// the connection for banners.
func OpenBus(busCfg config.BusConfig) (canbus.Bus, string, error) {
	switch canbus.Kind(busCfg.Kind) {
	case canbus.KindSocketCAN:
		bus, err := canbus.OpenSocketCAN(busCfg.Interface)
		if err != nil {
			return nil, "", err
		}
		return bus, fmt.Sprintf("SocketCAN: %s", busCfg.Interface), nil

	case canbus.KindSLCAN:
		bus, err := canbus.OpenSLCAN(busCfg.Port, busCfg.BaudRate, busCfg.Bitrate)
		if err != nil {
			return nil, "", err
		}
		return bus, fmt.Sprintf("SLCAN: %s @ %d baud, %d bit/s", busCfg.Port, busCfg.BaudRate, busCfg.Bitrate), nil

	case canbus.KindWebSocket:
		if busCfg.URL == "" {
			return nil, "", fmt.Errorf("--url is required for the ws bus")
		}
		password := ""
		if busCfg.Username != "" {
			var err error
			password, err = GetPassword(busCfg)
			if err != nil {
				return nil, "", err
			}
		}
		bus, err := canbus.DialWebSocket(busCfg.URL, busCfg.Username, password, busCfg.NoSSLVerify)
		if err != nil {
			return nil, "", err
		}
		return bus, fmt.Sprintf("WebSocket: %s", busCfg.URL), nil

	case canbus.KindLoopback:
		return nil, "", fmt.Errorf("the loopback bus only exists inside 'pinbus board'; use --bus ws against its --ws-listen bridge")

	default:
		return nil, "", fmt.Errorf("unknown bus kind %q (use one of %v)", busCfg.Kind, canbus.Kinds())
	}
}

var _ canbus.Bus = (*connectionManager)(nil)

// connectionManager keeps a bus open, reopening it after read failures
type connectionManager struct {
	busCfg   config.BusConfig
	mu       sync.RWMutex
	bus      canbus.Bus
	connInfo string
	log      *zap.Logger
	onChange func(connected bool, info string)
}

func newConnectionManager(busCfg config.BusConfig, log *zap.Logger) (*connectionManager, error) {
	// Prompt once so reconnects do not ask again
	if canbus.Kind(busCfg.Kind) == canbus.KindWebSocket && busCfg.Username != "" {
		password, err := GetPassword(busCfg)
		if err != nil {
			return nil, err
		}
		busCfg.Password = password
	}
	bus, info, err := OpenBus(busCfg)
	if err != nil {
		return nil, err
	}
	return &connectionManager{busCfg: busCfg, bus: bus, connInfo: info, log: log}, nil
}

// ReadFrame reads from the current bus, reconnecting with backoff when it
// fails. It only returns an error once ctx is done.
func (cm *connectionManager) ReadFrame(ctx context.Context) (canbus.Frame, error) {
	for {
		f, err := cm.getBus().ReadFrame(ctx)
		if err == nil {
			return f, nil
		}
		if ctx.Err() != nil {
			return canbus.Frame{}, ctx.Err()
		}
		cm.log.Warn("bus read failed", zap.String("bus", cm.connInfo), zap.Error(err))
		if cm.onChange != nil {
			cm.onChange(false, cm.connInfo)
		}
		if err := cm.reconnect(ctx); err != nil {
			return canbus.Frame{}, err
		}
	}
}

func (cm *connectionManager) WriteFrame(f canbus.Frame) error {
	return cm.getBus().WriteFrame(f)
}

func (cm *connectionManager) Close() error {
	return cm.getBus().Close()
}

func (cm *connectionManager) getBus() canbus.Bus {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.bus
}

func (cm *connectionManager) reconnect(ctx context.Context) error {
	cm.getBus().Close()
	backoff := 500 * time.Millisecond
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		bus, info, err := OpenBus(cm.busCfg)
		if err == nil {
			cm.mu.Lock()
			cm.bus = bus
			cm.connInfo = info
			cm.mu.Unlock()
			cm.log.Info("bus reconnected", zap.String("bus", info))
			if cm.onChange != nil {
				cm.onChange(true, info)
			}
			return nil
		}
		cm.log.Debug("reconnect failed", zap.Error(err), zap.Duration("retry_in", backoff))
		if backoff < 8*time.Second {
			backoff *= 2
		}
	}
}
