// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package telemetry holds the agent's own operational metrics.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "mtrace"

// Metrics are the counters exported by the agent about itself. They describe
// the pipeline, never the traced program.
type Metrics struct {
	EventsEnqueued prometheus.Counter
	EventsDropped  prometheus.Counter
	EventsSent     prometheus.Counter
	Connections    prometheus.Counter
	ClassesHooked  prometheus.Counter
}

// NewMetrics creates the agent metrics and registers them with reg. A nil
// reg leaves the metrics unregistered.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		EventsEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_enqueued_total",
			Help:      "Trace events accepted by the queue.",
		}),
		EventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Trace events discarded by the queue overflow policy or a closed server.",
		}),
		EventsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_sent_total",
			Help:      "Trace events written to a collector.",
		}),
		Connections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collector_connections_total",
			Help:      "Collector connections accepted.",
		}),
		ClassesHooked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classes_hooked_total",
			Help:      "Classes registered and rewritten with entry/exit hooks.",
		}),
	}
	if reg == nil {
		return m, nil
	}

	for _, c := range []prometheus.Collector{
		m.EventsEnqueued,
		m.EventsDropped,
		m.EventsSent,
		m.Connections,
		m.ClassesHooked,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// RegisterQueueDepth exports the current queue length reported by depth.
func RegisterQueueDepth(reg prometheus.Registerer, depth func() int) error {
	if reg == nil {
		return nil
	}
	return reg.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_depth",
		Help:      "Trace events waiting to be sent.",
	}, func() float64 { return float64(depth()) }))
}
