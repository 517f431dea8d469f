// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package replay

import (
	"context"
	"errors"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"go.opentelemetry.io/mtrace"
)

// ErrNotAttached is returned by Run when no callbacks were registered with
// the host.
var ErrNotAttached = errors.New("no agent attached to host")

// Stats summarize a replay.
type Stats struct {
	// Calls is the number of method calls made by all threads.
	Calls int64
	// Hooked is the number of those calls that reached the agent hooks.
	Hooked int64
}

// Run replays s against the agent attached to h. Classes marked system are
// loaded before the runtime starts, the rest after it initializes. Threads
// then run concurrently, and the runtime dies once they are all done or
// ctx is canceled.
func Run(ctx context.Context, s *Script, h *Host, rw *Rewriter) (Stats, error) {
	cb := h.callbacks()
	if cb == nil {
		return Stats{}, ErrNotAttached
	}

	r := &runner{host: h, rw: rw, cb: cb}

	for i := range s.Classes {
		if s.Classes[i].System {
			r.load(&s.Classes[i])
		}
	}
	if h.isEnabled(mtrace.EventVMStart) {
		cb.VMStart()
	}
	if h.isEnabled(mtrace.EventVMInit) {
		cb.VMInit(MainThread)
	}
	for i := range s.Classes {
		if !s.Classes[i].System {
			r.load(&s.Classes[i])
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	for i, t := range s.Threads {
		t := t
		id := threadID(i)
		g.Go(func() error { return r.thread(ctx, id, t) })
	}
	err := g.Wait()

	if h.isEnabled(mtrace.EventVMDeath) {
		cb.VMDeath()
	}
	return Stats{Calls: r.calls.Load(), Hooked: r.hooked.Load()}, err
}

type runner struct {
	host   *Host
	rw     *Rewriter
	cb     mtrace.Callbacks

	calls  atomic.Int64
	hooked atomic.Int64
}

func (r *runner) load(c *Class) {
	if !r.host.isEnabled(mtrace.EventClassFileLoadHook) {
		return
	}
	// Early class loads are only reported to agents holding the
	// capability.
	if c.System && !r.host.capabilities().CanGenerateAllClassHookEvents {
		return
	}
	name := c.Name
	if c.Anonymous {
		name = ""
	}
	r.cb.ClassFileLoad(name, Image(c.Name))
}

func (r *runner) thread(ctx context.Context, id mtrace.ThreadID, t Thread) error {
	if r.host.isEnabled(mtrace.EventThreadStart) {
		r.cb.ThreadStart(id)
	}
	defer func() {
		if r.host.isEnabled(mtrace.EventThreadEnd) {
			r.cb.ThreadEnd(id)
		}
	}()

	for i := 0; i < max(t.Repeat, 1); i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		r.run(t.Calls)
	}
	return nil
}

func (r *runner) run(calls []Call) {
	for _, call := range calls {
		r.calls.Add(1)
		class, method, _ := splitQualified(call.Method)

		cid, hooked := r.rw.classID(class)
		hooked = hooked && r.host.Engaged()
		var mid int
		if hooked {
			mid = r.rw.classes[class].methodIndex(method)
			r.hooked.Add(1)
			r.cb.MethodEntry(cid, mid)
		}

		r.run(call.Calls)

		if hooked {
			r.cb.MethodExit(cid, mid)
		}
	}
}
