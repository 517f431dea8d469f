// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Command mtrace runs the method call trace agent against a replayed
// program and collects the trace it streams.
package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"go.opentelemetry.io/mtrace"
	"go.opentelemetry.io/mtrace/internal/pkg/log"
)

// envLogLevelKey is the key for the environment variable value containing
// the log level.
const envLogLevelKey = "OTEL_LOG_LEVEL"

type rootOptions struct {
	logLevel  string
	logFormat string
	logger    *slog.Logger
}

func newLogger(w io.Writer, lvlStr, format string) *slog.Logger {
	levelVar := new(slog.LevelVar) // Default value of info.
	logger := log.New(w, levelVar, log.Format(format))

	if lvlStr == "" {
		lvlStr = os.Getenv(envLogLevelKey)
	}

	if lvlStr == "" {
		return logger
	}

	if level, err := mtrace.ParseLogLevel(lvlStr); err != nil {
		logger.Error("failed to parse log level", "error", err, "log-level", lvlStr)
	} else {
		levelVar.Set(level.Level())
	}

	return logger
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "mtrace",
		Short: "Method call trace agent",
		Long: `mtrace captures method entry and exit events from a monitored runtime
and streams them, in order, to a single TCP collector.

Environment variable configuration:

	- MTRACE_AGENT_OPTIONS: agent option string (see "mtrace replay --options help")
	- OTEL_LOG_LEVEL: log level (flag takes precedence)
	- OTEL_SERVICE_NAME (or OTEL_RESOURCE_ATTRIBUTES): service name of agent spans
	- OTEL_TRACES_EXPORTER: exporter for agent spans, resolved by autoexport`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			opts.logger = newLogger(cmd.ErrOrStderr(), opts.logLevel, opts.logFormat)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", `Logging level ("debug", "info", "warn", "error")`)
	cmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", string(log.FormatJSON), `Log format ("json", "text")`)

	cmd.AddCommand(
		newReplayCmd(opts),
		newCollectCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

func main() {
	// Trap Ctrl+C and SIGTERM and cancel the context.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
