// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads pinbus settings from pinbus.yaml, PINBUS_*
// environment variables and command-line flags, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the complete pinbus configuration
type Config struct {
	Bus    BusConfig    `mapstructure:"bus"`
	Board  BoardConfig  `mapstructure:"board"`
	HTTP   HTTPConfig   `mapstructure:"http"`
	Bridge BridgeConfig `mapstructure:"bridge"`
	Log    LogConfig    `mapstructure:"log"`
}

// BusConfig selects and parameterises the CAN transport
type BusConfig struct {
	Kind        string `mapstructure:"kind"`
	Interface   string `mapstructure:"interface"`
	Port        string `mapstructure:"port"`
	BaudRate    int    `mapstructure:"baud_rate"`
	Bitrate     int    `mapstructure:"bitrate"`
	URL         string `mapstructure:"url"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	NoSSLVerify bool   `mapstructure:"no_ssl_verify"`
	QueueLen    int    `mapstructure:"queue_len"`
}

// BoardConfig describes a simulated board
type BoardConfig struct {
	Address      int           `mapstructure:"address"`
	Switches     int           `mapstructure:"switches"`
	Coils        int           `mapstructure:"coils"`
	TickInterval time.Duration `mapstructure:"tick_interval"`
}

// HTTPConfig is the board API listener
type HTTPConfig struct {
	Listen string `mapstructure:"listen"`
	Mode   string `mapstructure:"mode"`
}

// BridgeConfig is the WebSocket bus bridge listener
type BridgeConfig struct {
	Listen string `mapstructure:"listen"`
	Path   string `mapstructure:"path"`
}

// LogConfig configures the zap logger
type LogConfig struct {
	Level  string        `mapstructure:"level"`
	Format string        `mapstructure:"format"`
	Output string        `mapstructure:"output"`
	File   LogFileConfig `mapstructure:"file"`
}

// LogFileConfig configures lumberjack log rotation
type LogFileConfig struct {
	Path       string `mapstructure:"path"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxAge     int    `mapstructure:"max_age"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

// Loader reads and watches the configuration
type Loader struct {
	v   *viper.Viper
	mu  sync.RWMutex
	cfg *Config
}

// NewLoader creates a loader for configPath, or for pinbus.yaml in the
// working directory and $HOME/.config/pinbus when configPath is empty.
func NewLoader(configPath string) *Loader {
	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("pinbus")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/pinbus")
	}

	v.SetEnvPrefix("PINBUS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	return &Loader{v: v}
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("bus.kind", "socketcan")
	v.SetDefault("bus.interface", "can0")
	v.SetDefault("bus.port", "/dev/ttyACM0")
	v.SetDefault("bus.baud_rate", 115200)
	v.SetDefault("bus.bitrate", 250000)
	v.SetDefault("bus.queue_len", 256)

	v.SetDefault("board.address", 1)
	v.SetDefault("board.switches", 16)
	v.SetDefault("board.coils", 8)
	v.SetDefault("board.tick_interval", "1ms")

	v.SetDefault("http.mode", "release")
	v.SetDefault("bridge.path", "/bus")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output", "stderr")
	v.SetDefault("log.file.path", "./logs")
	v.SetDefault("log.file.filename", "pinbus.log")
	v.SetDefault("log.file.max_size", 50)
	v.SetDefault("log.file.max_age", 14)
	v.SetDefault("log.file.max_backups", 5)
	v.SetDefault("log.file.compress", true)
}

// BindFlag makes flag override the configuration key when it is set on
// the command line.
func (l *Loader) BindFlag(key string, flag *pflag.Flag) error {
	if flag == nil {
		return fmt.Errorf("config: no flag for key %s", key)
	}
	return l.v.BindPFlag(key, flag)
}

// Load reads the configuration file (if any) and decodes the result
func (l *Loader) Load() (*Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: %w", err)
		}
	}

	cfg := &Config{}
	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.cfg = cfg
	l.mu.Unlock()
	return cfg, nil
}

// Get returns the last loaded configuration
func (l *Loader) Get() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg
}

// ConfigFile returns the file in use, or "" when running on defaults
func (l *Loader) ConfigFile() string {
	return l.v.ConfigFileUsed()
}

// Watch reloads the configuration when the file changes and passes the
// new value to callback. Invalid edits are reported through onError and
// otherwise ignored.
func (l *Loader) Watch(callback func(*Config), onError func(error)) {
	l.v.OnConfigChange(func(e fsnotify.Event) {
		newCfg := &Config{}
		err := l.v.Unmarshal(newCfg)
		if err == nil {
			err = newCfg.Validate()
		}
		if err != nil {
			if onError != nil {
				onError(fmt.Errorf("config: reload %s: %w", e.Name, err))
			}
			return
		}

		l.mu.Lock()
		l.cfg = newCfg
		l.mu.Unlock()

		if callback != nil {
			callback(newCfg)
		}
	})
	l.v.WatchConfig()
}

// Validate checks value ranges
func (c *Config) Validate() error {
	if c.Board.Address < 0 || c.Board.Address > 0xFF {
		return fmt.Errorf("config: board.address %d out of range 0-255", c.Board.Address)
	}
	if c.Board.Switches < 1 || c.Board.Switches > 16 {
		return fmt.Errorf("config: board.switches %d out of range 1-16", c.Board.Switches)
	}
	if c.Board.Coils < 0 || c.Board.Coils > 16 {
		return fmt.Errorf("config: board.coils %d out of range 0-16", c.Board.Coils)
	}
	if c.Board.TickInterval <= 0 {
		return fmt.Errorf("config: board.tick_interval must be positive")
	}
	return nil
}
