// Package dispatch routes invocations to command handlers and keeps the
// command set in step with the module tree on disk.
//
// Every invocation walks the same path: lookup, permission check, cooldown
// check, usage record, invoke. Each stop can end the invocation with its own
// Outcome; exactly one Outcome is produced per Dispatch call.
//
// Handlers run on the dispatching goroutine and may block on their own I/O.
// They must not spin or block indefinitely without honoring ctx: nothing
// preempts a handler, and a handler that never returns holds its caller and
// delays Shutdown.
package dispatch

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/alucardeht/hotcmd/internal/command"
	"github.com/alucardeht/hotcmd/internal/cooldown"
	"github.com/alucardeht/hotcmd/internal/logger"
	"github.com/alucardeht/hotcmd/internal/module"
	"github.com/alucardeht/hotcmd/internal/permission"
	"github.com/alucardeht/hotcmd/internal/registry"
	"github.com/alucardeht/hotcmd/internal/usage"
	"github.com/alucardeht/hotcmd/internal/watcher"
	"github.com/alucardeht/hotcmd/pkg/cmdkit"
)

var log = logger.ForComponent("dispatch")

var tracer = otel.Tracer("github.com/alucardeht/hotcmd/internal/dispatch")

type Config struct {
	RootDir              string
	Discover             module.DiscoverConfig
	DebounceWindow       time.Duration
	DefaultCooldown      time.Duration
	HistoryCapacity      int
	HotReload            bool
	HandlerTimeout       time.Duration
	HostCapabilities     []string
	PrivilegedPrincipals []string
	ExtraCapabilities    []string
}

func DefaultConfig() Config {
	return Config{
		Discover:        module.DefaultDiscoverConfig(),
		DebounceWindow:  100 * time.Millisecond,
		HistoryCapacity: usage.DefaultCapacity,
		HotReload:       true,
	}
}

// Event is one invocation as delivered by a transport.
type Event struct {
	Command             string   `json:"command"`
	InvokerID           string   `json:"invoker"`
	ContextIDs          []string `json:"contexts,omitempty"`
	Args                []string `json:"args,omitempty"`
	InvokerCapabilities []string `json:"invoker_capabilities,omitempty"`
	// HostCapabilities are added to the configured host set for this event.
	HostCapabilities []string          `json:"host_capabilities,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`

	// Reply, when set, receives each handler reply as it is made.
	Reply cmdkit.ReplyFunc `json:"-"`
}

type state int

const (
	stateNew state = iota
	stateRunning
	stateShutdown
)

type Dispatcher struct {
	config      Config
	registry    *registry.Registry
	loader      *module.Loader
	permissions *permission.Evaluator
	cooldowns   *cooldown.Tracker
	history     *usage.Tracker
	hostCaps    command.CapabilitySet

	mu      sync.Mutex
	state   state
	matcher *module.Matcher
	watcher *watcher.Watcher
	reload  sync.Mutex

	inflight sync.WaitGroup

	dispatched    atomic.Int64
	handlerFaults atomic.Int64
	loadErrors    atomic.Int64
}

type Option func(*Dispatcher)

// WithUsageSink forwards every usage record, e.g. to a usage.Writer.
func WithUsageSink(sink usage.Sink) Option {
	return func(d *Dispatcher) {
		d.history = usage.NewTracker(d.config.HistoryCapacity, sink)
	}
}

func WithCooldownTracker(t *cooldown.Tracker) Option {
	return func(d *Dispatcher) { d.cooldowns = t }
}

func New(config Config, opts ...Option) *Dispatcher {
	if config.HistoryCapacity <= 0 {
		config.HistoryCapacity = usage.DefaultCapacity
	}
	if len(config.Discover.Include) == 0 {
		config.Discover = module.DefaultDiscoverConfig()
	}

	catalog := permission.NewCatalog(config.ExtraCapabilities...)
	d := &Dispatcher{
		config:      config,
		registry:    registry.New(),
		permissions: permission.NewEvaluator(catalog, config.PrivilegedPrincipals),
		cooldowns:   cooldown.NewTracker(),
		history:     usage.NewTracker(config.HistoryCapacity, nil),
		hostCaps:    command.NewCapabilitySet(config.HostCapabilities...),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.loader = module.NewLoader(module.LoaderConfig{
		DefaultCooldown: config.DefaultCooldown,
		Catalog:         d.permissions.Catalog(),
	})
	return d
}

// Initialize loads every module under rootDir (or the configured root when
// rootDir is empty) and starts the watcher when hot reload is enabled.
// Malformed modules are logged and skipped.
func (d *Dispatcher) Initialize(ctx context.Context, rootDir string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch d.state {
	case stateRunning:
		return ErrAlreadyStarted
	case stateShutdown:
		return ErrShutdown
	}

	if rootDir == "" {
		rootDir = d.config.RootDir
	}
	if rootDir == "" {
		return fmt.Errorf("initialize: no module root configured")
	}

	d.matcher = module.NewMatcher(rootDir, d.config.Discover)
	paths, err := d.matcher.Discover()
	if err != nil {
		return fmt.Errorf("discover modules: %w", err)
	}

	descriptors, errs := d.loader.LoadAll(ctx, paths)
	d.loadErrors.Add(int64(len(errs)))
	d.registry.ReplaceAll(descriptors)

	if d.config.HotReload {
		w, err := watcher.New(watcher.WatcherConfig{
			DebounceWindow: d.config.DebounceWindow,
		}, d.matcher, d)
		if err != nil {
			return fmt.Errorf("create watcher: %w", err)
		}
		if err := w.Start(context.WithoutCancel(ctx)); err != nil {
			w.Stop()
			return fmt.Errorf("start watcher: %w", err)
		}
		d.watcher = w
	}

	d.state = stateRunning
	log.Info("dispatcher initialized",
		"root", d.matcher.Root(),
		"commands", d.registry.Len(),
		"skipped", len(errs),
		"hot_reload", d.config.HotReload)
	return nil
}

// admit registers an in-flight invocation unless the dispatcher is not
// running.
func (d *Dispatcher) admit() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch d.state {
	case stateNew:
		return ErrNotInitialized
	case stateShutdown:
		return ErrShutdown
	}
	d.inflight.Add(1)
	return nil
}

// Dispatch runs one invocation to completion and returns its Outcome. It
// never panics, whatever the handler does.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) Outcome {
	id := uuid.NewString()
	start := time.Now()

	ctx, span := tracer.Start(ctx, "dispatch",
		trace.WithAttributes(
			attribute.String("hotcmd.command", ev.Command),
			attribute.String("hotcmd.invoker", ev.InvokerID),
			attribute.String("hotcmd.invocation_id", id),
		))
	defer span.End()

	if err := d.admit(); err != nil {
		return d.finish(span, unavailable(id, ev.Command, err), start)
	}
	defer d.inflight.Done()
	d.dispatched.Add(1)

	desc, ok := d.registry.Get(ev.Command)
	if !ok {
		log.Debug("unknown command", "command", ev.Command, "invoker", ev.InvokerID)
		return d.finish(span, notFound(id, ev.Command), start)
	}

	hostCaps := d.hostCaps.Union(command.NewCapabilitySet(ev.HostCapabilities...))
	decision := d.permissions.Evaluate(desc, command.NewCapabilitySet(ev.InvokerCapabilities...), hostCaps, ev.InvokerID)
	if !decision.Allowed {
		log.Info("invocation denied",
			"command", desc.Name(), "invoker", ev.InvokerID,
			"scope", decision.Scope, "missing", decision.Missing)
		return d.finish(span, denied(id, desc, decision.Scope, decision.Missing), start)
	}

	if res := d.cooldowns.Check(desc.Key(), ev.InvokerID, desc.Cooldown()); !res.Ready {
		log.Info("invocation rate limited",
			"command", desc.Name(), "invoker", ev.InvokerID, "remaining", res.Remaining)
		return d.finish(span, rateLimited(id, desc, res.Remaining), start)
	}

	d.history.Record(usage.Record{
		InvocationID:    id,
		Command:         desc.Name(),
		InvokerID:       ev.InvokerID,
		ContextIDs:      ev.ContextIDs,
		Timestamp:       start,
		ArgumentSummary: usage.Summarize(ev.Args),
	})

	inv := cmdkit.NewInvocation(id, desc.Name(), ev.InvokerID, ev.ContextIDs, ev.Args, ev.Reply)
	for k, v := range ev.Metadata {
		inv.Metadata[k] = v
	}

	fault := d.invoke(ctx, desc, inv)
	inv.Close()

	if fault != nil {
		d.handlerFaults.Add(1)
		attrs := []any{
			"command", desc.Name(),
			"invocation", id,
			"invoker", ev.InvokerID,
			"contexts", ev.ContextIDs,
			"path", desc.SourcePath(),
			"error", fault.Error(),
		}
		if fault.Panic != nil {
			attrs = append(attrs, "stack", string(fault.Stack))
		}
		log.Error("handler fault", attrs...)
		span.RecordError(fault)
		return d.finish(span, failed(id, desc, fault, inv.Replies()), start)
	}

	return d.finish(span, succeeded(id, desc, inv.Replies()), start)
}

// invoke calls the handler captured at lookup time. A reload that lands
// meanwhile does not affect this call.
func (d *Dispatcher) invoke(ctx context.Context, desc *command.Descriptor, inv *cmdkit.Invocation) (fault *HandlerFault) {
	defer func() {
		if r := recover(); r != nil {
			fault = &HandlerFault{
				Command:      desc.Name(),
				InvocationID: inv.ID,
				SourcePath:   desc.SourcePath(),
				Panic:        r,
				Stack:        debug.Stack(),
			}
		}
	}()

	if d.config.HandlerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.config.HandlerTimeout)
		defer cancel()
	}

	if err := desc.Invoke(ctx, inv); err != nil {
		return &HandlerFault{
			Command:      desc.Name(),
			InvocationID: inv.ID,
			SourcePath:   desc.SourcePath(),
			Err:          err,
		}
	}
	return nil
}

func (d *Dispatcher) finish(span trace.Span, o Outcome, start time.Time) Outcome {
	o.DurationMs = time.Since(start).Milliseconds()
	span.SetAttributes(attribute.String("hotcmd.status", string(o.Status)))
	if o.Status == StatusFailed {
		span.SetStatus(codes.Error, o.Message)
	}
	return o
}

type Stats struct {
	usage.Stats
	Commands        int   `json:"commands"`
	HistorySize     int   `json:"history_size"`
	HistoryCapacity int   `json:"history_capacity"`
	ActiveCooldowns int   `json:"active_cooldowns"`
	PendingReloads  int   `json:"pending_reloads"`
	WatchedDirs     int   `json:"watched_dirs"`
	Reloads         int64 `json:"reloads"`
	Dispatched      int64 `json:"dispatched"`
	HandlerFaults   int64 `json:"handler_faults"`
	LoadErrors      int64 `json:"load_errors"`
	WatcherFaults   int64 `json:"watcher_faults"`
}

func (d *Dispatcher) Stats() Stats {
	s := Stats{
		Stats:           d.history.Stats(),
		Commands:        d.registry.Len(),
		HistorySize:     d.history.Len(),
		HistoryCapacity: d.history.Capacity(),
		ActiveCooldowns: d.cooldowns.Active(),
		Dispatched:      d.dispatched.Load(),
		HandlerFaults:   d.handlerFaults.Load(),
		LoadErrors:      d.loadErrors.Load(),
	}

	d.mu.Lock()
	w := d.watcher
	d.mu.Unlock()
	if w != nil {
		s.PendingReloads = w.Pending()
		s.WatchedDirs = w.WatchedDirs()
		s.Reloads = w.Reloads()
		s.WatcherFaults = w.Faults()
	}
	return s
}

// Recent returns up to n usage records, newest first.
func (d *Dispatcher) Recent(n int) []usage.Record {
	return d.history.Recent(n)
}

// Commands lists the live command set.
func (d *Dispatcher) Commands() []command.Info {
	list := d.registry.List()
	out := make([]command.Info, len(list))
	for i, desc := range list {
		out[i] = desc.Info()
	}
	return out
}

// Lookup resolves a name or alias against the live registry.
func (d *Dispatcher) Lookup(nameOrAlias string) (*command.Descriptor, bool) {
	return d.registry.Get(nameOrAlias)
}

// Shutdown stops the watcher, drops pending reloads and waits for in-flight
// invocations until ctx expires.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if d.state == stateShutdown {
		d.mu.Unlock()
		return nil
	}
	d.state = stateShutdown
	w := d.watcher
	d.watcher = nil
	d.mu.Unlock()

	log.Info("dispatcher shutting down")

	var watchErr error
	if w != nil {
		watchErr = w.Stop()
	}
	d.cooldowns.Stop()

	done := make(chan struct{})
	go func() {
		d.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("waiting for in-flight invocations: %w", ctx.Err())
	}

	return watchErr
}

func (d *Dispatcher) absPath(path string) (string, error) {
	if filepath.IsAbs(path) {
		return filepath.Clean(path), nil
	}
	d.mu.Lock()
	m := d.matcher
	d.mu.Unlock()
	if m != nil {
		return filepath.Join(m.Root(), path), nil
	}
	return filepath.Abs(path)
}
