// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"go.opentelemetry.io/mtrace"
)

const script = `
classes:
  - name: Foo
    methods:
      - {name: bar, signature: ()V}
  - name: Other
    methods:
      - {name: run, signature: ()V}
threads:
  - name: worker
    repeat: 3
    calls:
      - method: Foo.bar
      - method: Other.run
`

func writeScript(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "script.yaml")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o600))
	return path
}

func execute(ctx context.Context, args ...string) (string, error) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func TestNewLogger(t *testing.T) {
	ctx := context.Background()

	t.Run("default", func(t *testing.T) {
		l := newLogger(io.Discard, "", "json")
		assert.True(t, l.Enabled(ctx, slog.LevelInfo))
		assert.False(t, l.Enabled(ctx, slog.LevelDebug))
	})

	t.Run("OTEL_LOG_LEVEL", func(t *testing.T) {
		t.Setenv(envLogLevelKey, "debug")
		l := newLogger(io.Discard, "", "json")
		assert.True(t, l.Enabled(ctx, slog.LevelDebug))

		l = newLogger(io.Discard, "error", "text")
		assert.False(t, l.Enabled(ctx, slog.LevelWarn), "flag takes precedence")
	})

	t.Run("case insensitive", func(t *testing.T) {
		l := newLogger(io.Discard, "WARN", "text")
		assert.True(t, l.Enabled(ctx, slog.LevelWarn))
		assert.False(t, l.Enabled(ctx, slog.LevelInfo))
	})

	t.Run("invalid", func(t *testing.T) {
		var buf bytes.Buffer
		l := newLogger(&buf, "loud", "text")
		assert.True(t, l.Enabled(ctx, slog.LevelInfo))
		assert.Contains(t, buf.String(), "failed to parse log level")
	})
}

func TestVersionCmd(t *testing.T) {
	out, err := execute(context.Background(), "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "mtrace "+mtrace.Version()))
}

func TestReplayCmd(t *testing.T) {
	path := writeScript(t)

	out, err := execute(context.Background(),
		"replay", "--script", path,
		"--options", "include=Foo,host=127.0.0.1,port=0",
		"--flush-timeout", "100ms",
	)
	require.NoError(t, err)
	assert.Equal(t, "replayed 6 calls, 3 hooked, 1 classes, 0 events dropped\n", out)
}

func TestReplayCmdOptions(t *testing.T) {
	path := writeScript(t)
	ctx := context.Background()

	t.Run("help", func(t *testing.T) {
		out, err := execute(ctx, "replay", "--script", path, "--options", "help")
		require.NoError(t, err)
		assert.Contains(t, out, "include=item")
	})

	t.Run("unknown option", func(t *testing.T) {
		_, err := execute(ctx, "replay", "--script", path, "--options", "bogus")
		assert.Error(t, err)
	})

	t.Run("missing script", func(t *testing.T) {
		_, err := execute(ctx, "replay")
		assert.Error(t, err)
	})

	t.Run("config file", func(t *testing.T) {
		cfg := filepath.Join(t.TempDir(), "mtrace.yaml")
		require.NoError(t, os.WriteFile(cfg, []byte("host: 127.0.0.1\nport: 0\ninclude: [Other]\n"), 0o600))
		out, err := execute(ctx, "replay", "--script", path, "--config", cfg, "--flush-timeout", "100ms")
		require.NoError(t, err)
		assert.Equal(t, "replayed 6 calls, 3 hooked, 1 classes, 0 events dropped\n", out)
	})
}

func fakeAgent(t *testing.T, lines ...string) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_, _ = io.WriteString(conn, "Hello Client, I am fake\n")
		for _, l := range lines {
			_, _ = io.WriteString(conn, l)
		}
	}()
	return ln.Addr().String()
}

func TestCollectCmd(t *testing.T) {
	lines := []string{"enter: Foo:bar\r\n", "enter: Foo:baz\r\n", "exit: Foo:baz\r\n", "exit: Foo:bar\r\n"}

	t.Run("until EOF", func(t *testing.T) {
		addr := fakeAgent(t, lines...)
		out, err := execute(context.Background(), "collect", "--addr", addr, "--retry-interval", "5ms")
		require.NoError(t, err)
		assert.Equal(t, "enter: Foo:bar\nenter: Foo:baz\nexit: Foo:baz\nexit: Foo:bar\n", out)
	})

	t.Run("count", func(t *testing.T) {
		addr := fakeAgent(t, lines...)
		out, err := execute(context.Background(), "collect", "--addr", addr, "--count", "2")
		require.NoError(t, err)
		assert.Equal(t, "enter: Foo:bar\nenter: Foo:baz\n", out)
	})
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func TestReplayToCollector(t *testing.T) {
	path := writeScript(t)
	port := strconv.Itoa(freePort(t))

	var collected, replayed string
	var g errgroup.Group
	g.Go(func() error {
		var err error
		collected, err = execute(context.Background(),
			"collect", "--addr", net.JoinHostPort("127.0.0.1", port), "--retry-interval", "5ms")
		return err
	})
	g.Go(func() error {
		var err error
		replayed, err = execute(context.Background(),
			"replay", "--script", path,
			"--options", "include=Foo,host=127.0.0.1,port="+port,
			"--wait-collector", "10s",
		)
		return err
	})
	require.NoError(t, g.Wait())

	assert.Equal(t, "replayed 6 calls, 3 hooked, 1 classes, 0 events dropped\n", replayed)
	assert.Equal(t, strings.Repeat("enter: Foo:bar\nexit: Foo:bar\n", 3), collected)
}
