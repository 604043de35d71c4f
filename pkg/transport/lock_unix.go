// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

//go:build linux || darwin || freebsd || netbsd || openbsd

package transport

import (
	"errors"
	"fmt"

	"github.com/Thermoquad/testbench/pkg/lts"
	"golang.org/x/sys/unix"
)

// portLock holds an advisory flock on a device node.
type portLock struct {
	fd int
}

func acquireLock(path string) (*portLock, error) {
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_NOCTTY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s for locking: %w", path, err)
	}
	if err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB); err != nil {
		unix.Close(fd)
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, &lts.PortBusyError{Port: path, Err: err}
		}
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	return &portLock{fd: fd}, nil
}

func (l *portLock) release() {
	if l == nil || l.fd < 0 {
		return
	}
	unix.Flock(l.fd, unix.LOCK_UN)
	unix.Close(l.fd)
	l.fd = -1
}
