// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package mtrace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"go.opentelemetry.io/mtrace/config"
	"go.opentelemetry.io/mtrace/internal/pkg/log"
)

const (
	// envOptionsKey is the key for the environment variable value
	// containing the agent option string.
	envOptionsKey = "MTRACE_AGENT_OPTIONS"
	// envLogLevelKey is the key for the environment variable value
	// containing the log level.
	envLogLevelKey = "OTEL_LOG_LEVEL"
)

// AgentOption configures an [Agent].
type AgentOption interface {
	apply(context.Context, agentConfig) (agentConfig, error)
}

type fnOpt func(context.Context, agentConfig) (agentConfig, error)

func (o fnOpt) apply(ctx context.Context, c agentConfig) (agentConfig, error) {
	return o(ctx, c)
}

type agentConfig struct {
	logger *slog.Logger
	tp     trace.TracerProvider
	reg    prometheus.Registerer
	fatal  func(error)
	hooks  Hooks

	// Layers of the resolved config.Config, lowest precedence first.
	files     []string
	options   []string
	overrides []func(*config.Config)
}

func newAgentConfig(ctx context.Context, opts []AgentOption) (agentConfig, error) {
	c := agentConfig{hooks: DefaultHooks}

	var err error
	for _, opt := range opts {
		var e error
		c, e = opt.apply(ctx, c)
		err = errors.Join(err, e)
	}
	return c, err
}

// resolve layers defaults, config files, option strings and explicit
// overrides.
func (c agentConfig) resolve() (config.Config, error) {
	cfg := config.Default()
	for _, path := range c.files {
		var err error
		if cfg, err = config.LoadFile(path, cfg); err != nil {
			return cfg, err
		}
	}
	for _, opts := range c.options {
		var err error
		if cfg, err = config.ParseOptions(opts, cfg); err != nil {
			return cfg, err
		}
	}
	for _, fn := range c.overrides {
		fn(&cfg)
	}
	return cfg, cfg.Validate()
}

func (c agentConfig) Logger() *slog.Logger {
	if c.logger != nil {
		return c.logger
	}
	return log.Discard()
}

func override(fn func(*config.Config)) AgentOption {
	return fnOpt(func(_ context.Context, c agentConfig) (agentConfig, error) {
		c.overrides = append(c.overrides, fn)
		return c, nil
	})
}

// WithLogger returns an [AgentOption] that configures the logger used.
//
// If this option and [WithEnv] are used, OTEL_LOG_LEVEL is ignored.
//
// If this option is not used, nothing is logged.
func WithLogger(l *slog.Logger) AgentOption {
	return fnOpt(func(_ context.Context, c agentConfig) (agentConfig, error) {
		c.logger = l
		return c, nil
	})
}

// WithOptions returns an [AgentOption] that applies the agent option string
// opts, for example "include=java.lang.,port=9000". See [config.Usage].
//
// Option strings take precedence over configuration files and are applied
// in the order given.
func WithOptions(opts string) AgentOption {
	return fnOpt(func(_ context.Context, c agentConfig) (agentConfig, error) {
		c.options = append(c.options, opts)
		return c, nil
	})
}

// WithConfigFile returns an [AgentOption] that reads settings from the YAML
// file at path.
func WithConfigFile(path string) AgentOption {
	return fnOpt(func(_ context.Context, c agentConfig) (agentConfig, error) {
		c.files = append(c.files, path)
		return c, nil
	})
}

var lookupEnv = os.LookupEnv

// WithEnv returns an [AgentOption] that applies configuration from the
// following environment variables:
//
//   - MTRACE_AGENT_OPTIONS: an agent option string, as for [WithOptions]
//   - OTEL_LOG_LEVEL: sets the default logger's minimum logging level
//
// If [WithLogger] is used before this option, OTEL_LOG_LEVEL is not used.
func WithEnv() AgentOption {
	return fnOpt(func(_ context.Context, c agentConfig) (agentConfig, error) {
		if v, ok := lookupEnv(envOptionsKey); ok {
			c.options = append(c.options, v)
		}

		var err error
		if val, ok := lookupEnv(envLogLevelKey); c.logger == nil && ok {
			l, e := ParseLogLevel(val)
			if e != nil {
				err = fmt.Errorf("parse log level %q: %w", val, e)
			} else {
				c.logger = log.New(os.Stderr, l.Level(), log.FormatJSON)
			}
		}
		return c, err
	})
}

// WithAgentName returns an [AgentOption] that sets the name announced to
// collectors.
func WithAgentName(name string) AgentOption {
	return override(func(cfg *config.Config) { cfg.AgentName = name })
}

// WithAddress returns an [AgentOption] that sets the listen host and port.
// Port zero picks a free port.
func WithAddress(host string, port int) AgentOption {
	return override(func(cfg *config.Config) {
		cfg.Host = host
		cfg.Port = port
	})
}

// WithInclude returns an [AgentOption] that adds include patterns.
func WithInclude(patterns ...string) AgentOption {
	return override(func(cfg *config.Config) {
		cfg.Include = append(cfg.Include, patterns...)
	})
}

// WithExclude returns an [AgentOption] that adds exclude patterns.
func WithExclude(patterns ...string) AgentOption {
	return override(func(cfg *config.Config) {
		cfg.Exclude = append(cfg.Exclude, patterns...)
	})
}

// WithQueue returns an [AgentOption] that configures the event queue.
func WithQueue(q config.Queue) AgentOption {
	return override(func(cfg *config.Config) { cfg.Queue = q })
}

// WithReconnect returns an [AgentOption] that controls whether a new
// collector is accepted after a disconnect.
func WithReconnect(reconnect bool) AgentOption {
	return override(func(cfg *config.Config) { cfg.Reconnect = reconnect })
}

// WithIdleWait returns an [AgentOption] that bounds how long the sender
// sleeps on an empty queue.
func WithIdleWait(d time.Duration) AgentOption {
	return override(func(cfg *config.Config) { cfg.IdleWait = d })
}

// WithShutdownTimeout returns an [AgentOption] that bounds the flush
// performed when the runtime dies.
func WithShutdownTimeout(d time.Duration) AgentOption {
	return override(func(cfg *config.Config) { cfg.ShutdownTimeout = d })
}

// WithHooks returns an [AgentOption] that sets the hook names passed to the
// rewriter.
func WithHooks(h Hooks) AgentOption {
	return fnOpt(func(_ context.Context, c agentConfig) (agentConfig, error) {
		c.hooks = h
		return c, nil
	})
}

// WithTracerProvider returns an [AgentOption] that sets the provider used
// for class-load and collector session spans. The global provider is used
// by default.
func WithTracerProvider(tp trace.TracerProvider) AgentOption {
	return fnOpt(func(_ context.Context, c agentConfig) (agentConfig, error) {
		c.tp = tp
		return c, nil
	})
}

// WithMetricsRegisterer returns an [AgentOption] that registers the agent
// metrics with reg. Metrics are not registered by default.
func WithMetricsRegisterer(reg prometheus.Registerer) AgentOption {
	return fnOpt(func(_ context.Context, c agentConfig) (agentConfig, error) {
		c.reg = reg
		return c, nil
	})
}

// WithFatalHandler returns an [AgentOption] that sets the function called
// on an unrecoverable error, such as a hook reporting an unknown class or
// method number. The default logs the error and exits the process with
// status 1.
func WithFatalHandler(fn func(error)) AgentOption {
	return fnOpt(func(_ context.Context, c agentConfig) (agentConfig, error) {
		c.fatal = fn
		return c, nil
	})
}
