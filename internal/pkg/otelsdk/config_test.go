// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package otelsdk

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

func TestWithServiceName(t *testing.T) {
	const name = "test_serviceName"

	c, err := newConfig(context.Background(), []Option{WithServiceName(name), WithServiceVersion("v1.2.3")})
	require.NoError(t, err)

	res := c.resource().Attributes()
	assert.Contains(t, res, semconv.ServiceName(name))
	assert.Contains(t, res, semconv.ServiceVersion("v1.2.3"))
	assert.NotContains(t, res, semconv.ServiceName(defaultServiceName()))
}

func TestWithEnv(t *testing.T) {
	t.Run("OTEL_SERVICE_NAME", func(t *testing.T) {
		const name = "test_service"
		t.Setenv(envServiceNameKey, name)
		c, err := newConfig(context.Background(), []Option{WithEnv()})
		require.NoError(t, err)
		assert.Contains(t, c.resAttrs, semconv.ServiceName(name))
		assert.Nil(t, c.exporter, "no exporter without OTEL_TRACES_EXPORTER")
	})

	t.Run("OTEL_RESOURCE_ATTRIBUTES", func(t *testing.T) {
		const name = "test_service"
		t.Setenv(
			envResourceAttrKey,
			fmt.Sprintf("a=b,fubar,%s=%s,foo=bar", semconv.ServiceNameKey, name),
		)
		c, err := newConfig(context.Background(), []Option{WithEnv()})
		require.NoError(t, err)
		assert.Contains(t, c.resAttrs, attribute.String("a", "b"))
		assert.NotContains(t, c.resAttrs, attribute.String("fubar", ""))
		assert.Contains(t, c.resAttrs, semconv.ServiceName(name))
		assert.Contains(t, c.resAttrs, attribute.String("foo", "bar"))
	})

	t.Run("OTEL_TRACES_EXPORTER", func(t *testing.T) {
		t.Setenv(envTracesExporterKey, "console")
		c, err := newConfig(context.Background(), []Option{WithEnv()})
		require.NoError(t, err)
		assert.NotNil(t, c.exporter)

		t.Setenv(envTracesExporterKey, "bogus")
		_, err = newConfig(context.Background(), []Option{WithEnv()})
		assert.Error(t, err)
	})
}

func TestNewTracerProvider(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tp, err := NewTracerProvider(context.Background(), WithTraceExporter(exp), WithServiceName("mtrace-test"))
	require.NoError(t, err)

	_, span := tp.Tracer("test").Start(context.Background(), "class-load")
	span.End()
	require.NoError(t, tp.ForceFlush(context.Background()))

	spans := exp.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "class-load", spans[0].Name)
	assert.Contains(t, spans[0].Resource.Attributes(), semconv.ServiceName("mtrace-test"))

	require.NoError(t, tp.Shutdown(context.Background()))
}
