package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
)

const (
	ChannelStderr = "stderr"
	ChannelStdout = "stdout"
)

type Config struct {
	Level     slog.Level
	Format    string
	Output    io.Writer
	AddSource bool

	// DefaultChannel is where components without an override write. Empty
	// means Output.
	DefaultChannel string
	// Channels maps a component (event category) to its own channel. An
	// entry here always wins over DefaultChannel.
	Channels map[string]string
}

func DefaultConfig() Config {
	return Config{
		Level:     slog.LevelInfo,
		Format:    "text",
		Output:    os.Stderr,
		AddSource: false,
	}
}

func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type router struct {
	cfg      Config
	fallback slog.Handler
	handlers map[string]slog.Handler
	files    []*os.File
}

var (
	current atomic.Pointer[router]
	initMu  sync.Mutex
)

// Init installs the process-wide handlers. It may be called again; files
// opened by the previous call are closed.
func Init(cfg Config) error {
	initMu.Lock()
	defer initMu.Unlock()

	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}

	r := &router{cfg: cfg, handlers: make(map[string]slog.Handler)}
	writers := make(map[string]io.Writer)

	open := func(channel string) (io.Writer, error) {
		switch channel {
		case "":
			return cfg.Output, nil
		case ChannelStderr:
			return os.Stderr, nil
		case ChannelStdout:
			return os.Stdout, nil
		}
		if w, ok := writers[channel]; ok {
			return w, nil
		}
		f, err := os.OpenFile(channel, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
		if err != nil {
			return nil, fmt.Errorf("open log channel %s: %w", channel, err)
		}
		r.files = append(r.files, f)
		writers[channel] = f
		return f, nil
	}

	out, err := open(cfg.DefaultChannel)
	if err != nil {
		r.close()
		return err
	}
	r.fallback = newHandler(cfg, out)

	for component, channel := range cfg.Channels {
		if channel == "" {
			continue
		}
		w, err := open(channel)
		if err != nil {
			r.close()
			return err
		}
		r.handlers[component] = newHandler(cfg, w)
	}

	slog.SetDefault(slog.New(r.fallback))
	if prev := current.Swap(r); prev != nil {
		prev.close()
	}
	return nil
}

// Close releases channel files opened by Init.
func Close() {
	initMu.Lock()
	defer initMu.Unlock()
	if prev := current.Swap(nil); prev != nil {
		prev.close()
	}
}

func (r *router) close() {
	for _, f := range r.files {
		f.Close()
	}
}

func (r *router) handlerFor(component string) slog.Handler {
	if h, ok := r.handlers[component]; ok {
		return h
	}
	return r.fallback
}

// ChannelFor reports which channel a component's records go to under cfg.
func ChannelFor(cfg Config, component string) string {
	if ch, ok := cfg.Channels[component]; ok && ch != "" {
		return ch
	}
	if cfg.DefaultChannel != "" {
		return cfg.DefaultChannel
	}
	return ChannelStderr
}

func newHandler(cfg Config, w io.Writer) slog.Handler {
	opts := &slog.HandlerOptions{
		Level:     cfg.Level,
		AddSource: cfg.AddSource,
	}
	if cfg.Format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

func Debug(msg string, args ...any) { slog.Debug(msg, args...) }
func Info(msg string, args ...any)  { slog.Info(msg, args...) }
func Warn(msg string, args ...any)  { slog.Warn(msg, args...) }
func Error(msg string, args ...any) { slog.Error(msg, args...) }

// ForComponent returns a logger tagged with component. The handler chain is
// rebuilt only when Init installs new routing, so package-level loggers
// created before Init still follow it.
func ForComponent(component string) *slog.Logger {
	return slog.New(&componentHandler{component: component})
}

func With(args ...any) *slog.Logger {
	return slog.Default().With(args...)
}

type componentHandler struct {
	component string
	ops       []func(slog.Handler) slog.Handler
	cached    atomic.Pointer[resolved]
}

// resolved is the handler chain derived from one router.
type resolved struct {
	r *router
	h slog.Handler
}

func (h *componentHandler) target() slog.Handler {
	r := current.Load()
	if r == nil {
		return h.derive(slog.Default().Handler())
	}
	if c := h.cached.Load(); c != nil && c.r == r {
		return c.h
	}
	next := h.derive(r.handlerFor(h.component))
	h.cached.Store(&resolved{r: r, h: next})
	return next
}

func (h *componentHandler) derive(base slog.Handler) slog.Handler {
	base = base.WithAttrs([]slog.Attr{slog.String("component", h.component)})
	for _, op := range h.ops {
		base = op(base)
	}
	return base
}

func (h *componentHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.target().Enabled(ctx, level)
}

func (h *componentHandler) Handle(ctx context.Context, record slog.Record) error {
	return h.target().Handle(ctx, record)
}

func (h *componentHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h.with(func(next slog.Handler) slog.Handler { return next.WithAttrs(attrs) })
}

func (h *componentHandler) WithGroup(name string) slog.Handler {
	return h.with(func(next slog.Handler) slog.Handler { return next.WithGroup(name) })
}

func (h *componentHandler) with(op func(slog.Handler) slog.Handler) *componentHandler {
	ops := make([]func(slog.Handler) slog.Handler, len(h.ops), len(h.ops)+1)
	copy(ops, h.ops)
	return &componentHandler{component: h.component, ops: append(ops, op)}
}
