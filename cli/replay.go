// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"go.opentelemetry.io/mtrace"
	"go.opentelemetry.io/mtrace/config"
	"go.opentelemetry.io/mtrace/internal/pkg/otelsdk"
	"go.opentelemetry.io/mtrace/internal/pkg/replay"
)

const (
	defaultWaitPoll     = 10 * time.Millisecond
	metricsReadTimeout  = 5 * time.Second
	defaultFlushTimeout = 5 * time.Second
)

type replayOptions struct {
	*rootOptions

	script        string
	options       string
	configFile    string
	metricsAddr   string
	waitCollector time.Duration
	flushTimeout  time.Duration
}

func newReplayCmd(root *rootOptions) *cobra.Command {
	opts := &replayOptions{rootOptions: root}
	cmd := &cobra.Command{
		Use:   "replay --script FILE",
		Short: "Attach the agent to a scripted runtime and replay it",
		Long: `Replay loads a YAML script describing classes and threads of method
calls, attaches the agent to a host runtime that plays it back, and streams
the resulting trace to the collector connected to the agent.

Agent options are read from MTRACE_AGENT_OPTIONS, then --options. Use
--options help to list them.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runReplay(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.script, "script", "", "Replay script (YAML)")
	f.StringVar(&opts.options, "options", "", "Agent option string")
	f.StringVar(&opts.configFile, "config", "", "Agent configuration file (YAML)")
	f.StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	f.DurationVar(&opts.waitCollector, "wait-collector", 0, "Wait up to this long for a collector before replaying")
	f.DurationVar(&opts.flushTimeout, "flush-timeout", defaultFlushTimeout, "Time allowed to flush queued events at exit")
	_ = cmd.MarkFlagRequired("script")
	return cmd
}

func runReplay(cmd *cobra.Command, opts *replayOptions) error {
	ctx := cmd.Context()
	logger := opts.logger

	script, err := replay.Load(opts.script)
	if err != nil {
		return err
	}

	tp, err := otelsdk.NewTracerProvider(ctx,
		otelsdk.WithServiceName("mtrace"),
		otelsdk.WithServiceVersion(mtrace.Version()),
		otelsdk.WithEnv(),
		otelsdk.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("failed to create tracer provider: %w", err)
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			logger.Error("failed to flush spans", "error", err)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	agentOpts := []mtrace.AgentOption{
		mtrace.WithEnv(),
		mtrace.WithLogger(logger),
		mtrace.WithTracerProvider(tp),
		mtrace.WithMetricsRegisterer(reg),
		mtrace.WithShutdownTimeout(opts.flushTimeout),
	}
	if opts.configFile != "" {
		agentOpts = append(agentOpts, mtrace.WithConfigFile(opts.configFile))
	}
	if opts.options != "" {
		agentOpts = append(agentOpts, mtrace.WithOptions(opts.options))
	}

	host, rw := replay.NewHost(script), replay.NewRewriter(script)
	agent, err := mtrace.New(ctx, host, rw, agentOpts...)
	if errors.Is(err, config.ErrHelp) {
		fmt.Fprint(cmd.OutOrStdout(), config.Usage)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to attach agent: %w", err)
	}
	logger.Info("agent listening", "addr", agent.Addr().String())

	g, gctx := errgroup.WithContext(ctx)
	var srv *http.Server
	if opts.metricsAddr != "" {
		srv = &http.Server{
			Addr:              opts.metricsAddr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
			ReadHeaderTimeout: metricsReadTimeout,
		}
		g.Go(func() error {
			logger.Info("serving metrics", "addr", opts.metricsAddr)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	var stats replay.Stats
	g.Go(func() error {
		if srv != nil {
			defer func() { _ = srv.Shutdown(context.Background()) }()
		}
		if err := waitForCollector(gctx, agent, opts.waitCollector); err != nil {
			logger.Warn("no collector connected", "error", err)
		}
		var err error
		stats, err = replay.Run(gctx, script, host, rw)
		return err
	})

	err = g.Wait()

	// Run delivers VMDeath, which already flushed and stopped the agent.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), opts.flushTimeout)
	defer cancel()
	err = errors.Join(err, agent.Shutdown(shutdownCtx))

	fmt.Fprintf(cmd.OutOrStdout(), "replayed %d calls, %d hooked, %d classes, %d events dropped\n",
		stats.Calls, stats.Hooked, len(agent.Classes()), agent.Dropped())
	return err
}

func waitForCollector(ctx context.Context, agent *mtrace.Agent, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	ticker := time.NewTicker(defaultWaitPoll)
	defer ticker.Stop()
	for !agent.Connected() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}
