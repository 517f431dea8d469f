// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package mtrace is a method call trace agent. It is attached to a
// monitored runtime through a [Host], has classes rewritten with entry and
// exit hooks by a [Rewriter], and streams one line per traced call to a
// single TCP collector.
package mtrace

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"

	goversion "github.com/hashicorp/go-version"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"go.opentelemetry.io/mtrace/config"
	"go.opentelemetry.io/mtrace/internal/pkg/event"
	"go.opentelemetry.io/mtrace/internal/pkg/filter"
	"go.opentelemetry.io/mtrace/internal/pkg/queue"
	"go.opentelemetry.io/mtrace/internal/pkg/registry"
	"go.opentelemetry.io/mtrace/internal/pkg/server"
	"go.opentelemetry.io/mtrace/internal/pkg/telemetry"
)

const tracerName = "go.opentelemetry.io/mtrace"

// unknownThread is logged when the host cannot name a thread.
const unknownThread = "Unknown"

var (
	// ErrNilHost is returned by New without a Host.
	ErrNilHost = errors.New("nil host")
	// ErrNilRewriter is returned by New without a Rewriter.
	ErrNilRewriter = errors.New("nil rewriter")
	// ErrUnsupportedHost is returned when the host interface version is
	// outside HostInterfaceConstraint.
	ErrUnsupportedHost = errors.New("unsupported host interface version")
	// ErrNoClassName is passed to the fatal handler when a class is loaded
	// without a name and none can be derived from its image.
	ErrNoClassName = errors.New("class name unavailable")
)

// exit is used for testing.
var exit = os.Exit

// Agent coordinates the trace pipeline for one monitored runtime. It
// implements [Callbacks] and is registered with its [Host] by New.
//
// A single lock guards the session state, the class registry and event
// formatting. It is never held while the event queue lock is.
type Agent struct {
	logger  *slog.Logger
	host    Host
	rw      Rewriter
	cfg     config.Config
	hooks   Hooks
	tracer  trace.Tracer
	metrics *telemetry.Metrics
	fatal   func(error)

	filter *filter.Filter
	queue  *queue.Queue
	server *server.Server

	mu        sync.Mutex
	vmStarted bool
	dead      bool
	registry  *registry.Registry
	// system is indexed by class number.
	system []bool
}

var _ Callbacks = (*Agent)(nil)

// New attaches an Agent to host and starts listening for a collector.
//
// An error wrapping [config.ErrHelp] is returned when the option string
// asks for help. Callers print [config.Usage] and exit successfully.
func New(ctx context.Context, host Host, rw Rewriter, opts ...AgentOption) (*Agent, error) {
	if host == nil {
		return nil, ErrNilHost
	}
	if rw == nil {
		return nil, ErrNilRewriter
	}

	c, err := newAgentConfig(ctx, opts)
	if err != nil {
		return nil, err
	}

	if err := checkVersion(host.Version()); err != nil {
		return nil, err
	}

	cfg, err := c.resolve()
	if err != nil {
		return nil, errors.Wrap(err, "invalid agent configuration")
	}

	a := &Agent{
		logger:   c.Logger(),
		host:     host,
		rw:       rw,
		cfg:      cfg,
		hooks:    c.hooks,
		registry: registry.New(),
	}
	a.fatal = c.fatal
	if a.fatal == nil {
		a.fatal = a.exitOnFatal
	}

	tp := c.tp
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	a.tracer = tp.Tracer(tracerName, trace.WithInstrumentationVersion(Version()))

	if a.metrics, err = telemetry.NewMetrics(c.reg); err != nil {
		return nil, errors.Wrap(err, "failed to register metrics")
	}

	rule, err := cfg.Rule()
	if err != nil {
		return nil, err
	}
	a.filter = filter.New(cfg.Include, cfg.Exclude, rule)

	policy, err := queue.ParsePolicy(cfg.Queue.Overflow)
	if err != nil {
		return nil, err
	}
	a.queue = queue.New(
		queue.WithCapacity(cfg.Queue.Capacity),
		queue.WithPolicy(policy),
		queue.WithBlockTimeout(cfg.Queue.BlockTimeout),
		queue.WithDropHandler(func(n int) { a.metrics.EventsDropped.Add(float64(n)) }),
	)
	if err := telemetry.RegisterQueueDepth(c.reg, a.queue.Len); err != nil {
		return nil, errors.Wrap(err, "failed to register metrics")
	}

	if err := a.attach(); err != nil {
		return nil, err
	}

	a.server = server.New(a.queue,
		server.WithLogger(a.logger.With("component", "server")),
		server.WithAddr(cfg.Addr()),
		server.WithAgentName(cfg.AgentName),
		server.WithReconnect(cfg.Reconnect),
		server.WithIdleWait(cfg.IdleWait),
		server.WithUserTimeout(cfg.UserTimeout),
		server.WithTracerProvider(tp),
		server.WithMetrics(a.metrics),
	)
	if err := a.server.Start(ctx); err != nil {
		return nil, err
	}

	a.logger.Info("agent attached",
		"version", Version(),
		"include", cfg.Include,
		"exclude", cfg.Exclude,
		"match", cfg.Match,
	)
	return a, nil
}

func checkVersion(v string) error {
	hv, err := goversion.NewVersion(v)
	if err != nil {
		return errors.Wrapf(ErrUnsupportedHost, "%q", v)
	}
	c := goversion.MustConstraints(goversion.NewConstraint(HostInterfaceConstraint))
	if !c.Check(hv) {
		return errors.Wrapf(ErrUnsupportedHost, "%s does not satisfy %s", hv, c)
	}
	return nil
}

// attach requests the host capabilities and notifications the agent needs
// and registers a as the host callbacks.
func (a *Agent) attach() error {
	err := a.host.AddCapabilities(Capabilities{CanGenerateAllClassHookEvents: true})
	if err != nil {
		return errors.Wrap(err, "failed to add capabilities")
	}
	for _, k := range []EventKind{
		EventVMStart,
		EventVMInit,
		EventVMDeath,
		EventClassFileLoadHook,
	} {
		if err := a.host.SetEventNotificationMode(true, k); err != nil {
			return errors.Wrapf(err, "failed to enable %s events", k)
		}
	}
	return errors.Wrap(a.host.SetEventCallbacks(a), "failed to set event callbacks")
}

func (a *Agent) exitOnFatal(err error) {
	a.logger.Error("fatal agent error", "error", err)
	exit(1)
}

// VMStart records that the runtime has started. Classes loaded before it
// are system classes.
func (a *Agent) VMStart() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.vmStarted = true
	a.logger.Debug("VMStart")
}

// VMInit engages the tracker and enables thread notifications.
func (a *Agent) VMInit(t ThreadID) {
	if err := a.vmInit(t); err != nil {
		a.fatal(err)
	}
}

func (a *Agent) vmInit(t ThreadID) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.dead {
		return nil
	}
	a.vmStarted = true
	a.logger.Info("VMInit", "thread", a.threadName(t))

	if err := a.host.SetEngaged(true); err != nil {
		return errors.Wrap(err, "failed to engage tracker")
	}
	for _, k := range []EventKind{EventThreadStart, EventThreadEnd} {
		if err := a.host.SetEventNotificationMode(true, k); err != nil {
			return errors.Wrapf(err, "failed to enable %s events", k)
		}
	}
	return nil
}

// VMDeath disengages the tracker, ends the session and stops the server
// after flushing queued events for at most the configured shutdown
// timeout.
func (a *Agent) VMDeath() {
	a.mu.Lock()
	if a.dead {
		a.mu.Unlock()
		return
	}
	if err := a.host.SetEngaged(false); err != nil {
		a.logger.Error("failed to disengage tracker", "error", err)
	}
	a.dead = true
	a.mu.Unlock()

	a.logger.Info("VMDeath")

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	if err := a.server.Stop(ctx); err != nil {
		a.logger.Error("failed to stop server", "error", err)
	}
}

// ThreadStart logs the name of a started thread.
func (a *Agent) ThreadStart(t ThreadID) { a.thread("thread started", t) }

// ThreadEnd logs the name of a finished thread.
func (a *Agent) ThreadEnd(t ThreadID) { a.thread("thread ended", t) }

func (a *Agent) thread(msg string, t ThreadID) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.dead {
		return
	}
	a.logger.Debug(msg, "thread", a.threadName(t))
}

// threadName must be called with a.mu held.
func (a *Agent) threadName(t ThreadID) string {
	name, err := a.host.ThreadName(t)
	if err != nil || name == "" {
		if err != nil {
			a.logger.Debug("failed to get thread name", "thread", uint64(t), "error", err)
		}
		return unknownThread
	}
	return name
}

// ClassFileLoad registers and rewrites classes the filter is interested
// in. It returns the rewritten image, or nil to load the class unmodified.
func (a *Agent) ClassFileLoad(name string, image []byte) []byte {
	out, err := a.classFileLoad(name, image)
	if err != nil {
		a.fatal(err)
		return nil
	}
	return out
}

func (a *Agent) classFileLoad(name string, image []byte) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.dead {
		return nil, nil
	}

	if name == "" {
		var err error
		name, err = a.rw.ClassName(image)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrNoClassName, err)
		}
		if name == "" {
			return nil, ErrNoClassName
		}
	}

	if !a.filter.InterestedInClass(name) {
		return nil, nil
	}

	id := a.registry.RegisterClass(name)
	system := !a.vmStarted
	a.system = append(a.system, system)

	_, span := a.tracer.Start(context.Background(), "class-load", trace.WithAttributes(
		attribute.String("class.name", name),
		attribute.Int("class.id", id),
		attribute.Bool("class.system", system),
	))
	defer span.End()

	res, err := a.rw.Rewrite(RewriteRequest{
		ClassID:     id,
		ClassName:   name,
		Image:       image,
		SystemClass: system,
		Hooks:       a.hooks,
	})
	if res.Release != nil {
		defer res.Release()
	}
	if err != nil {
		a.logger.Warn("failed to rewrite class", "class", name, "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "rewrite failed")
		return nil, nil
	}

	methods := make([]registry.Method, len(res.Methods))
	for i, m := range res.Methods {
		methods[i] = registry.Method{Name: m.Name, Signature: m.Signature}
	}
	if err := a.registry.AttachMethods(id, methods); err != nil {
		return nil, errors.Wrapf(err, "class %s", name)
	}
	span.SetAttributes(attribute.Int("class.methods", len(methods)))
	a.metrics.ClassesHooked.Inc()
	a.logger.Debug("class hooked", "class", name, "id", id, "methods", len(methods), "system", system)

	if len(res.Image) == 0 {
		return nil, nil
	}
	out := make([]byte, len(res.Image))
	copy(out, res.Image)
	return out, nil
}

// MethodEntry is called by the tracker when a hooked method is entered.
func (a *Agent) MethodEntry(classID, methodID int) {
	a.capture(event.KindEnter, classID, methodID)
}

// MethodExit is called by the tracker when a hooked method returns.
func (a *Agent) MethodExit(classID, methodID int) {
	a.capture(event.KindExit, classID, methodID)
}

func (a *Agent) capture(k event.Kind, classID, methodID int) {
	a.mu.Lock()
	if a.dead {
		a.mu.Unlock()
		return
	}
	class, method, err := a.registry.Lookup(classID, methodID)
	if err != nil {
		a.mu.Unlock()
		a.fatal(errors.Wrapf(err, "%s hook", k))
		return
	}
	if !a.filter.Interested(class, method) {
		a.mu.Unlock()
		return
	}
	e := event.New(k, class, method)
	a.mu.Unlock()

	if a.queue.Push(e) {
		a.metrics.EventsEnqueued.Inc()
	}
}

// Shutdown ends the session and stops the server, flushing queued events
// until ctx is done. It is safe to call more than once and after the
// runtime has died.
func (a *Agent) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	a.dead = true
	a.mu.Unlock()

	return a.server.Stop(ctx)
}

// Addr returns the address the agent listens on.
func (a *Agent) Addr() net.Addr {
	return a.server.Addr()
}

// Connected reports whether a collector is connected.
func (a *Agent) Connected() bool {
	return a.server.State() == server.StateConnected
}

// Config returns the resolved configuration.
func (a *Agent) Config() config.Config {
	return a.cfg
}

// QueueLen returns the number of events waiting to be sent.
func (a *Agent) QueueLen() int {
	return a.queue.Len()
}

// Dropped returns the number of events discarded so far.
func (a *Agent) Dropped() uint64 {
	return a.queue.Dropped()
}

// ClassInfo describes a registered class.
type ClassInfo struct {
	ID      int
	Name    string
	Methods []Method
	System  bool
}

// Classes returns a snapshot of the registered classes.
func (a *Agent) Classes() []ClassInfo {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]ClassInfo, 0, a.registry.Len())
	for id := 0; id < a.registry.Len(); id++ {
		rec, _ := a.registry.Class(id)
		ci := ClassInfo{ID: rec.ID, Name: rec.Name, System: a.system[id]}
		for _, m := range rec.Methods {
			ci.Methods = append(ci.Methods, Method{Name: m.Name, Signature: m.Signature})
		}
		out = append(out, ci)
	}
	return out
}
