// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"net"
	"testing"
	"time"

	"github.com/pinbus/pinbus/internal/config"
	"github.com/pinbus/pinbus/internal/logger"
	"github.com/pinbus/pinbus/pkg/pinball"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freeAddr(t *testing.T) string {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func TestRunBoardStopsBridgeOnSetupError(t *testing.T) {
	savedCfg, savedLogs, savedCount := cfg, logs, boardCount
	t.Cleanup(func() { cfg, logs, boardCount = savedCfg, savedLogs, savedCount })

	l, err := logger.New(config.LogConfig{Level: "error", Output: "none"})
	require.NoError(t, err)
	logs = l

	bridge := freeAddr(t)
	boardCount = 1
	cfg = &config.Config{
		Bus:    config.BusConfig{Kind: "loopback", QueueLen: 8},
		Board:  config.BoardConfig{Address: 42, Switches: 0, TickInterval: time.Millisecond},
		Bridge: config.BridgeConfig{Listen: bridge, Path: "/ws"},
	}

	err = runBoard(boardCmd, nil)
	assert.ErrorIs(t, err, pinball.ErrInvalidParameter)

	// the bridge listener is gone once runBoard returns
	conn, err := net.DialTimeout("tcp", bridge, 200*time.Millisecond)
	if err == nil {
		conn.Close()
	}
	assert.Error(t, err)
}
