// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package server

import (
	"net"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// listenConfig sets TCP_USER_TIMEOUT on the listening socket. Accepted
// collector connections inherit it, so a collector that stops reading is
// detected within userTimeout instead of the kernel retransmission limit.
func listenConfig(userTimeout time.Duration) net.ListenConfig {
	if userTimeout <= 0 {
		return net.ListenConfig{}
	}
	ms := int(userTimeout / time.Millisecond)
	return net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_USER_TIMEOUT, ms)
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}
}
