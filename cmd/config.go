// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the merged configuration: defaults, config file, TESTBENCH_*
// environment variables and flags, in increasing priority.
type Config struct {
	Connection  ConnectionConfig  `mapstructure:"connection"`
	Calibration CalibrationConfig `mapstructure:"calibration"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ConnectionConfig selects the serial port or WebSocket bridge
type ConnectionConfig struct {
	Port        string        `mapstructure:"port"`
	URL         string        `mapstructure:"url"`
	Username    string        `mapstructure:"username"`
	NoSSLVerify bool          `mapstructure:"no_ssl_verify"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// CalibrationConfig selects the calibration table source
type CalibrationConfig struct {
	// Source is "file" or "flash"
	Source string `mapstructure:"source"`
	Path   string `mapstructure:"path"`
}

// LoggingConfig configures the zap logger
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// newViper returns a viper instance with defaults and environment binding
func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("TESTBENCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("connection.port", "")
	v.SetDefault("connection.url", "")
	v.SetDefault("connection.username", "")
	v.SetDefault("connection.no_ssl_verify", false)
	v.SetDefault("connection.timeout", time.Second)

	v.SetDefault("calibration.source", "file")
	v.SetDefault("calibration.path", "")

	v.SetDefault("logging.level", "warn")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.output", "stderr")
	v.SetDefault("logging.max_size", 10)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age", 28)
	v.SetDefault("logging.compress", false)
}

// loadConfig reads file (or .testbench.yaml from the home and working
// directories when empty) into v and decodes the result. A missing default
// config file is not an error.
func loadConfig(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName(".testbench")
		v.SetConfigType("yaml")
		v.AddConfigPath("$HOME")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func validate(cfg *Config) error {
	switch cfg.Calibration.Source {
	case "file", "flash":
	default:
		return fmt.Errorf("calibration.source must be file or flash, got %q", cfg.Calibration.Source)
	}
	if cfg.Connection.Timeout <= 0 {
		return fmt.Errorf("connection.timeout must be positive, got %v", cfg.Connection.Timeout)
	}
	if cfg.Connection.URL != "" && !strings.HasPrefix(cfg.Connection.URL, "ws://") &&
		!strings.HasPrefix(cfg.Connection.URL, "wss://") {
		return fmt.Errorf("connection.url must use ws:// or wss://, got %q", cfg.Connection.URL)
	}
	return nil
}
