// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package log builds the slog loggers used across the agent.
package log

import (
	"context"
	"io"
	"log/slog"
)

// Format is the encoding of log records.
type Format string

const (
	// FormatJSON encodes records as JSON objects.
	FormatJSON Format = "json"
	// FormatText encodes records as key=value text.
	FormatText Format = "text"
)

// New returns a logger writing records at or above level to w.
func New(w io.Writer, level slog.Leveler, format Format) *slog.Logger {
	opts := &slog.HandlerOptions{AddSource: true, Level: level}
	if format == FormatText {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

var discardLogger = slog.New(discardHandler{})

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return discardLogger
}

// Replace with slog.DiscardHandler when Go 1.23 support is dropped.
type discardHandler struct{}

func (dh discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (dh discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (dh discardHandler) WithAttrs(attrs []slog.Attr) slog.Handler  { return dh }
func (dh discardHandler) WithGroup(name string) slog.Handler        { return dh }
