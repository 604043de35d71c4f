// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"fmt"
	"strings"

	"go.bug.st/serial/enumerator"
	"go.uber.org/zap"
)

// fallbackCandidates are probed when enumeration finds nothing usable.
var fallbackCandidates = func() []string {
	paths := make([]string, 10)
	for i := range paths {
		paths[i] = fmt.Sprintf("/dev/ttyACM%d", i)
	}
	return paths
}()

// isCDCPort reports whether an enumerated port looks like a USB CDC-ACM
// device node. Other USB serial adapters are never probed.
func isCDCPort(p *enumerator.PortDetails) bool {
	return p.IsUSB && (strings.Contains(p.Name, "ttyACM") || strings.Contains(p.Name, "usbmodem"))
}

// Candidates returns the device paths to probe, enumerated CDC-ACM ports
// first and then the fixed /dev/ttyACM0..9 list, without duplicates.
func Candidates(logger *zap.Logger) []string {
	if logger == nil {
		logger = zap.NewNop()
	}

	seen := make(map[string]bool)
	var out []string
	add := func(path string) {
		if !seen[path] {
			seen[path] = true
			out = append(out, path)
		}
	}

	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		logger.Debug("port enumeration failed", zap.Error(err))
	}
	for _, p := range ports {
		if isCDCPort(p) {
			logger.Debug("enumerated port",
				zap.String("port", p.Name),
				zap.String("vid", p.VID),
				zap.String("pid", p.PID),
				zap.String("product", p.Product))
			add(p.Name)
		}
	}
	for _, path := range fallbackCandidates {
		add(path)
	}
	return out
}
