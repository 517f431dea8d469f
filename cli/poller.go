// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"log/slog"
	"net"
	"time"

	"go.opentelemetry.io/mtrace/internal/pkg/log"
)

const defaultPollInterval = 500 * time.Millisecond

// CollectorPoller dials an agent until it accepts the connection.
type CollectorPoller struct {
	// Logger is used to log updates about the polling.
	Logger *slog.Logger
	// Addr is the agent address.
	Addr string
	// Interval is time between successive dial attempts. If zero, a default
	// of 500 milliseconds will be used.
	Interval time.Duration
}

func (cp *CollectorPoller) interval() time.Duration {
	if cp.Interval <= 0 {
		return defaultPollInterval
	}
	return cp.Interval
}

func (cp *CollectorPoller) logger() *slog.Logger {
	if cp.Logger != nil {
		return cp.Logger
	}
	return log.Discard()
}

// Overwritten in testing.
var dialContext = (&net.Dialer{}).DialContext

// Poll dials Addr until an agent accepts the connection or ctx is done.
func (cp *CollectorPoller) Poll(ctx context.Context) (net.Conn, error) {
	interval := cp.interval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	cp.logger().Info(
		"polling for agent",
		"addr", cp.Addr,
		"interval", interval,
	)
	for {
		conn, err := dialContext(ctx, "tcp", cp.Addr)
		if err == nil {
			cp.logger().Info("agent found", "addr", conn.RemoteAddr().String())
			return conn, nil
		}
		cp.logger().Debug("agent not listening, continuing...", "error", err)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
