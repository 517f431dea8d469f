// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"go.opentelemetry.io/mtrace/config"
)

type collectOptions struct {
	*rootOptions

	addr     string
	interval time.Duration
	count    int
}

func newCollectCmd(root *rootOptions) *cobra.Command {
	opts := &collectOptions{rootOptions: root}
	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Connect to an agent and print the trace it streams",
		Long: `Collect dials the agent, retrying until it listens, and prints one line
per traced method entry or exit until the agent closes the connection.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCollect(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.addr, "addr", net.JoinHostPort("127.0.0.1", fmt.Sprint(config.DefaultPort)), "Agent address")
	f.DurationVar(&opts.interval, "retry-interval", defaultPollInterval, "Time between connection attempts")
	f.IntVar(&opts.count, "count", 0, "Stop after this many events (0 is unlimited)")
	return cmd
}

func runCollect(ctx context.Context, w io.Writer, opts *collectOptions) error {
	cp := CollectorPoller{Logger: opts.logger, Addr: opts.addr, Interval: opts.interval}
	conn, err := cp.Poll(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	r := bufio.NewReader(conn)
	greeting, err := r.ReadString('\n')
	if err != nil {
		return fmt.Errorf("failed to read greeting: %w", err)
	}
	opts.logger.Info("connected", "greeting", strings.TrimSpace(greeting))

	var n int
	for opts.count <= 0 || n < opts.count {
		line, err := r.ReadString('\n')
		if len(line) > 0 && strings.HasSuffix(line, "\n") {
			n++
			fmt.Fprintln(w, strings.TrimRight(line, "\r\n"))
		}
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				break
			}
			return fmt.Errorf("failed to read event: %w", err)
		}
	}
	opts.logger.Info("collection done", "events", n)
	return nil
}
