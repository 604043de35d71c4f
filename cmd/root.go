// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configFile string

	v      = newViper()
	cfg    *Config
	logger = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "testbench",
	Short: "Host tool for the LTS USB instrument",
	Long: `Testbench - drive the LTS lab instrument from the command line.

Covers the oscilloscope, logic analyzer, timing measurements, waveform
generators, programmable sources, I2C bus and flash of the instrument.

Connection modes:
  Serial:    --port /dev/ttyACM0 (omit to probe the known device names)
  WebSocket: --url ws://host/path [--username user]

Configuration is read from ~/.testbench.yaml (or --config) and TESTBENCH_*
environment variables, e.g. TESTBENCH_CONNECTION_PORT. Flags take priority.

For WebSocket authentication, the password is read from the TESTBENCH_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.`,
	Version:           "0.3.0",
	SilenceUsage:      true,
	PersistentPreRunE: initConfig,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "Config file (default ~/.testbench.yaml)")

	// Serial connection flags
	flags.StringP("port", "p", "", "Serial port device")
	flags.Duration("timeout", time.Second, "Serial read timeout")

	// WebSocket connection flags
	flags.StringP("url", "u", "", "WebSocket URL (ws:// or wss://)")
	flags.String("username", "", "Username for HTTP Basic auth")
	flags.Bool("no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	flags.String("calibration", "", "Calibration file (YAML, JSON or CBOR)")
	flags.Bool("flash-calibration", false, "Read the calibration table from device flash")
	flags.String("log-level", "warn", "Log level (debug, info, warn, error)")

	bindings := map[string]string{
		"connection.port":          "port",
		"connection.timeout":       "timeout",
		"connection.url":           "url",
		"connection.username":      "username",
		"connection.no_ssl_verify": "no-ssl-verify",
		"calibration.path":         "calibration",
		"logging.level":            "log-level",
	}
	for key, name := range bindings {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(err)
		}
	}
}

// initConfig loads configuration and builds the logger before any command runs
func initConfig(cmd *cobra.Command, args []string) error {
	if flash, _ := cmd.Flags().GetBool("flash-calibration"); flash {
		v.Set("calibration.source", "flash")
	}

	c, err := loadConfig(v, configFile)
	if err != nil {
		return err
	}
	cfg = c

	l, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	logger = l
	logger.Debug("configuration loaded",
		zap.String("config", v.ConfigFileUsed()),
		zap.String("port", cfg.Connection.Port),
		zap.String("url", cfg.Connection.URL),
		zap.String("calibration", cfg.Calibration.Source))
	return nil
}

// Execute runs the root command. Interrupts cancel the command context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}
