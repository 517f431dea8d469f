// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package server

import (
	"net"
	"time"
)

func listenConfig(time.Duration) net.ListenConfig {
	return net.ListenConfig{}
}
