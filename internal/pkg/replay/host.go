// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package replay

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/mtrace"
)

// MainThread is the thread that initializes the replayed runtime.
const MainThread mtrace.ThreadID = 1

// Host is an [mtrace.Host] for a replayed program.
type Host struct {
	version string
	engaged atomic.Bool

	mu      sync.Mutex
	caps    mtrace.Capabilities
	enabled map[mtrace.EventKind]bool
	cb      mtrace.Callbacks
	threads map[mtrace.ThreadID]string
}

var _ mtrace.Host = (*Host)(nil)

// NewHost returns a Host for s. Script threads are numbered from 2 in
// script order. Unnamed threads have no name.
func NewHost(s *Script) *Host {
	h := &Host{
		version: s.HostVersion,
		enabled: make(map[mtrace.EventKind]bool),
		threads: map[mtrace.ThreadID]string{MainThread: "main"},
	}
	for i, t := range s.Threads {
		if t.Name != "" {
			h.threads[threadID(i)] = t.Name
		}
	}
	return h
}

func threadID(i int) mtrace.ThreadID { return mtrace.ThreadID(i + 2) }

func (h *Host) Version() string { return h.version }

func (h *Host) AddCapabilities(c mtrace.Capabilities) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.caps.CanGenerateAllClassHookEvents = h.caps.CanGenerateAllClassHookEvents || c.CanGenerateAllClassHookEvents
	return nil
}

func (h *Host) SetEventNotificationMode(enable bool, k mtrace.EventKind) error {
	if k < mtrace.EventVMStart || k > mtrace.EventClassFileLoadHook {
		return fmt.Errorf("invalid event kind: %s", k)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.enabled[k] = enable
	return nil
}

func (h *Host) SetEventCallbacks(cb mtrace.Callbacks) error {
	if cb == nil {
		return errors.New("nil callbacks")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cb = cb
	return nil
}

func (h *Host) ThreadName(t mtrace.ThreadID) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	name, ok := h.threads[t]
	if !ok {
		return "", fmt.Errorf("thread %d has no name", t)
	}
	return name, nil
}

func (h *Host) SetEngaged(on bool) error {
	h.engaged.Store(on)
	return nil
}

// Engaged reports whether the hooks in rewritten classes are active.
func (h *Host) Engaged() bool { return h.engaged.Load() }

func (h *Host) isEnabled(k mtrace.EventKind) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.enabled[k]
}

func (h *Host) callbacks() mtrace.Callbacks {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cb
}

func (h *Host) capabilities() mtrace.Capabilities {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.caps
}
