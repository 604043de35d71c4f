// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/Thermoquad/testbench/pkg/instrument"
	"golang.org/x/term"
)

// GetPassword retrieves password from environment or prompts user
func GetPassword() (string, error) {
	// First check environment variable
	if pw := os.Getenv("TESTBENCH_PASSWORD"); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")

	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Fallback to regular input if terminal functions fail
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %v", err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr)
	return string(passwordBytes), nil
}

// instrumentOptions maps the loaded configuration onto instrument.Options
func instrumentOptions(c *Config) instrument.Options {
	opts := instrument.Options{
		Port:            c.Connection.Port,
		Timeout:         c.Connection.Timeout,
		URL:             c.Connection.URL,
		Username:        c.Connection.Username,
		SkipTLSVerify:   c.Connection.NoSSLVerify,
		CalibrationPath: c.Calibration.Path,
		Logger:          logger,
	}
	if c.Calibration.Source == "flash" {
		opts.Calibration = instrument.CalibrationFlash
	}
	return opts
}

// OpenInstrument connects to the instrument selected by flags and config
func OpenInstrument(ctx context.Context) (*instrument.Instrument, error) {
	opts := instrumentOptions(cfg)
	if opts.URL != "" && opts.Username != "" {
		password, err := GetPassword()
		if err != nil {
			return nil, err
		}
		opts.Password = password
	}

	inst, err := instrument.Open(ctx, opts)
	if err != nil {
		return nil, err
	}
	return inst, nil
}

// connectionInfo describes the open connection for command headers
func connectionInfo(inst *instrument.Instrument) string {
	if cfg.Connection.URL != "" {
		return fmt.Sprintf("WebSocket: %s (%s)", cfg.Connection.URL, inst.Version())
	}
	return fmt.Sprintf("Serial: %s (%s)", inst.Conn().Name(), inst.Version())
}
