// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"

	"github.com/pinbus/pinbus/internal/config"
	"github.com/pinbus/pinbus/internal/logger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configPath string

	loader *config.Loader
	cfg    *config.Config
	logs   *logger.Logger
)

var rootCmd = &cobra.Command{
	Use:   "pinbus",
	Short: "Pinball Protocol CAN bus toolkit",
	Long: `Pinbus - tools for boards speaking the Pinball Protocol on a CAN bus.

Monitor and validate bus traffic, send commands and requests to boards,
discover the boards on a bus, and run simulated boards with the switch
engine for testing.

Bus selection:
  SocketCAN: --bus socketcan --iface can0
  SLCAN:     --bus slcan --port /dev/ttyACM0 [--baud 115200] [--bitrate 250000]
  WebSocket: --bus ws --url ws://host/bus [--username user]
  Loopback:  --bus loopback (in-process, for simulated boards)

Settings are read from pinbus.yaml and PINBUS_* environment variables;
flags override both. For WebSocket authentication, the password is read
from the PINBUS_PASSWORD environment variable, or prompted interactively
if not set. The --password flag is intentionally not provided to avoid
leaking credentials in shell history.`,
	Version:           "0.3.0",
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logs != nil {
			logs.Close()
		}
	},
}

// flagKeys maps persistent flags onto configuration keys
var flagKeys = map[string]string{
	"bus":           "bus.kind",
	"iface":         "bus.interface",
	"port":          "bus.port",
	"baud":          "bus.baud_rate",
	"bitrate":       "bus.bitrate",
	"url":           "bus.url",
	"username":      "bus.username",
	"no-ssl-verify": "bus.no_ssl_verify",
	"log-level":     "log.level",
	"log-output":    "log.output",
}

// commandFlagKeys maps subcommand flags onto configuration keys, by
// command name
var commandFlagKeys = map[string]map[string]string{}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "Config file (default ./pinbus.yaml)")

	// Bus selection flags
	pf.String("bus", "socketcan", "Bus kind: socketcan, slcan, ws or loopback")
	pf.StringP("iface", "i", "can0", "SocketCAN interface")
	pf.StringP("port", "p", "/dev/ttyACM0", "SLCAN serial port device")
	pf.IntP("baud", "b", 115200, "Serial baud rate (slcan only)")
	pf.Int("bitrate", 250000, "CAN bitrate (slcan only)")

	// WebSocket connection flags
	pf.StringP("url", "u", "", "WebSocket URL (ws:// or wss://)")
	pf.String("username", "", "Username for HTTP Basic auth")
	pf.Bool("no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	pf.String("log-level", "info", "Log level: debug, info, warn or error")
	pf.String("log-output", "stderr", "Log output: stderr, file, both or none")
}

// setup loads the configuration and builds the logger before any
// subcommand runs.
func setup(cmd *cobra.Command, args []string) error {
	loader = config.NewLoader(configPath)
	for name, key := range flagKeys {
		if err := loader.BindFlag(key, cmd.Root().PersistentFlags().Lookup(name)); err != nil {
			return err
		}
	}
	for name, key := range commandFlagKeys[cmd.Name()] {
		if err := loader.BindFlag(key, cmd.Flags().Lookup(name)); err != nil {
			return err
		}
	}

	var err error
	cfg, err = loader.Load()
	if err != nil {
		return err
	}

	logs, err = logger.New(cfg.Log)
	if err != nil {
		return err
	}
	if file := loader.ConfigFile(); file != "" {
		logs.Debug("configuration loaded", zap.String("file", file))
		loader.Watch(func(c *config.Config) {
			logs.SetLevel(c.Log.Level)
			logs.Info("configuration reloaded", zap.String("log_level", c.Log.Level))
		}, func(err error) {
			logs.Warn("configuration reload rejected", zap.Error(err))
		})
	}
	return nil
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// boardAddress parses an address argument (decimal or 0x hex)
func boardAddress(s string) (uint8, error) {
	v, err := parseByte(s)
	if err != nil {
		return 0, fmt.Errorf("board address %q: %w", s, err)
	}
	return v, nil
}
