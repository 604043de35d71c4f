// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

//go:build !(linux || darwin || freebsd || netbsd || openbsd)

package transport

// Windows opens COM ports exclusively already.
type portLock struct{}

func acquireLock(path string) (*portLock, error) {
	return &portLock{}, nil
}

func (l *portLock) release() {}
