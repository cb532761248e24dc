// Package daemon serves a Dispatcher over JSON-RPC 2.0 on a unix socket.
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/sourcegraph/jsonrpc2"

	"github.com/alucardeht/hotcmd/internal/dispatch"
	"github.com/alucardeht/hotcmd/internal/logger"
	"github.com/alucardeht/hotcmd/internal/usage"
	"github.com/alucardeht/hotcmd/pkg/protocol"
)

var log = logger.ForComponent("daemon")

type Daemon struct {
	socketPath string
	listener   *SocketListener
	dispatcher *dispatch.Dispatcher
	store      *usage.Store

	connections map[*jsonrpc2.Conn]bool
	connMu      sync.Mutex
	wg          sync.WaitGroup

	shutdown     chan struct{}
	shutdownOnce sync.Once
	startTime    time.Time
}

type Option func(*Daemon)

// WithUsageStore enables persisted stats queries.
func WithUsageStore(store *usage.Store) Option {
	return func(d *Daemon) { d.store = store }
}

func NewDaemon(socketPath string, dispatcher *dispatch.Dispatcher, opts ...Option) *Daemon {
	d := &Daemon{
		socketPath:  socketPath,
		listener:    NewSocketListener(socketPath),
		dispatcher:  dispatcher,
		connections: make(map[*jsonrpc2.Conn]bool),
		shutdown:    make(chan struct{}),
		startTime:   time.Now(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start listens on the socket and serves connections in the background.
func (d *Daemon) Start(ctx context.Context) error {
	if err := d.listener.Start(); err != nil {
		return fmt.Errorf("failed to listen on %s: %w", d.socketPath, err)
	}

	log.Info("daemon listening", "socket", d.socketPath)

	d.wg.Add(1)
	go d.acceptConnections(ctx)
	return nil
}

func (d *Daemon) acceptConnections(ctx context.Context) {
	defer d.wg.Done()

	for {
		conn, err := d.listener.Accept()
		if err != nil {
			select {
			case <-d.shutdown:
				return
			default:
			}
			if errors.Is(err, errListenerClosed) {
				return
			}
			log.Warn("accept failed", "error", err)
			continue
		}

		stream := jsonrpc2.NewBufferedStream(conn, jsonrpc2.VSCodeObjectCodec{})
		jc := jsonrpc2.NewConn(ctx, stream, jsonrpc2.AsyncHandler(jsonrpc2.HandlerWithError(d.handle)))

		d.connMu.Lock()
		d.connections[jc] = true
		d.connMu.Unlock()

		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			<-jc.DisconnectNotify()
			d.connMu.Lock()
			delete(d.connections, jc)
			d.connMu.Unlock()
		}()
	}
}

func (d *Daemon) handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (any, error) {
	switch req.Method {
	case protocol.MethodDispatch:
		var params protocol.DispatchParams
		if err := unmarshalParams(req, &params); err != nil {
			return nil, err
		}
		return d.handleDispatch(ctx, conn, params), nil

	case protocol.MethodStats:
		var params protocol.StatsParams
		if err := unmarshalParams(req, &params); err != nil {
			return nil, err
		}
		return d.handleStats(ctx, params)

	case protocol.MethodCommands:
		return d.dispatcher.Commands(), nil

	case protocol.MethodReload:
		var params protocol.ReloadParams
		if err := unmarshalParams(req, &params); err != nil {
			return nil, err
		}
		if params.Path == "" {
			return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: "path is required"}
		}
		desc, err := d.dispatcher.Reload(params.Path)
		if err != nil {
			return nil, &jsonrpc2.Error{Code: protocol.CodeReloadFailed, Message: err.Error()}
		}
		return desc.Info(), nil

	case protocol.MethodHealth:
		return protocol.HealthResponse{
			Status:   "ok",
			Uptime:   int64(d.Uptime().Seconds()),
			Commands: len(d.dispatcher.Commands()),
		}, nil
	}

	return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeMethodNotFound, Message: "method not found: " + req.Method}
}

func (d *Daemon) handleDispatch(ctx context.Context, conn *jsonrpc2.Conn, params protocol.DispatchParams) dispatch.Outcome {
	ev := dispatch.Event{
		Command:             params.Command,
		InvokerID:           params.Invoker,
		ContextIDs:          params.Contexts,
		Args:                params.Args,
		InvokerCapabilities: params.InvokerCapabilities,
		HostCapabilities:    params.HostCapabilities,
		Metadata:            params.Metadata,
		Reply: func(text string) error {
			return conn.Notify(ctx, protocol.MethodReply, protocol.ReplyNotification{
				Command: params.Command,
				Invoker: params.Invoker,
				Text:    text,
			})
		},
	}
	return d.dispatcher.Dispatch(ctx, ev)
}

func (d *Daemon) handleStats(ctx context.Context, params protocol.StatsParams) (any, error) {
	if !params.Persisted {
		return d.dispatcher.Stats(), nil
	}
	if d.store == nil {
		return nil, &jsonrpc2.Error{Code: protocol.CodeUnavailable, Message: "usage persistence is disabled"}
	}

	var since time.Time
	if params.SinceMs > 0 {
		since = time.UnixMilli(params.SinceMs)
	}
	stats, err := d.store.Stats(ctx, since)
	if err != nil {
		return nil, &jsonrpc2.Error{Code: protocol.CodeStoreFailed, Message: err.Error()}
	}
	return stats, nil
}

func unmarshalParams(req *jsonrpc2.Request, v any) error {
	if req.Params == nil {
		return nil
	}
	if err := json.Unmarshal(*req.Params, v); err != nil {
		return &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: err.Error()}
	}
	return nil
}

// Shutdown closes the listener and every open connection. It does not stop
// the dispatcher.
func (d *Daemon) Shutdown() {
	d.shutdownOnce.Do(func() {
		close(d.shutdown)

		d.listener.Close()

		d.connMu.Lock()
		for conn := range d.connections {
			conn.Close()
		}
		d.connMu.Unlock()

		d.wg.Wait()

		if err := os.Remove(d.socketPath); err != nil && !os.IsNotExist(err) {
			log.Warn("failed to remove socket", "path", d.socketPath, "error", err)
		}
		log.Info("daemon stopped")
	})
}

func (d *Daemon) SocketPath() string {
	return d.socketPath
}

func (d *Daemon) Uptime() time.Duration {
	return time.Since(d.startTime)
}
