package daemon

import (
	"context"
	"fmt"
	"time"

	"github.com/sourcegraph/jsonrpc2"

	"github.com/alucardeht/hotcmd/internal/command"
	"github.com/alucardeht/hotcmd/internal/dispatch"
	"github.com/alucardeht/hotcmd/internal/usage"
	"github.com/alucardeht/hotcmd/pkg/protocol"
)

const defaultCallTimeout = 30 * time.Second

type Client struct {
	conn    *jsonrpc2.Conn
	timeout time.Duration
}

// ReplyHandler receives reply notifications for dispatches made through
// the client.
type ReplyHandler func(protocol.ReplyNotification)

// Dial connects to the daemon at socketPath. onReply may be nil.
func Dial(ctx context.Context, socketPath string, onReply ReplyHandler) (*Client, error) {
	nc, err := NewSocketConnector(socketPath).Connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect to daemon: %w", err)
	}

	stream := jsonrpc2.NewBufferedStream(nc, jsonrpc2.VSCodeObjectCodec{})
	return &Client{
		conn:    jsonrpc2.NewConn(context.Background(), stream, &clientHandler{onReply: onReply}),
		timeout: defaultCallTimeout,
	}, nil
}

type clientHandler struct {
	onReply ReplyHandler
}

func (h *clientHandler) Handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	if req.Method != protocol.MethodReply || h.onReply == nil || req.Params == nil {
		return
	}
	var n protocol.ReplyNotification
	if err := unmarshalParams(req, &n); err != nil {
		return
	}
	h.onReply(n)
}

func (c *Client) call(ctx context.Context, method string, params, result any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.conn.Call(ctx, method, params, result); err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	return nil
}

func (c *Client) Dispatch(ctx context.Context, params protocol.DispatchParams) (dispatch.Outcome, error) {
	var out dispatch.Outcome
	err := c.call(ctx, protocol.MethodDispatch, params, &out)
	return out, err
}

func (c *Client) Stats(ctx context.Context) (dispatch.Stats, error) {
	var stats dispatch.Stats
	err := c.call(ctx, protocol.MethodStats, protocol.StatsParams{}, &stats)
	return stats, err
}

// PersistedStats aggregates the usage database from since onwards.
func (c *Client) PersistedStats(ctx context.Context, since time.Time) (usage.Stats, error) {
	params := protocol.StatsParams{Persisted: true}
	if !since.IsZero() {
		params.SinceMs = since.UnixMilli()
	}
	var stats usage.Stats
	err := c.call(ctx, protocol.MethodStats, params, &stats)
	return stats, err
}

func (c *Client) Commands(ctx context.Context) ([]command.Info, error) {
	var list []command.Info
	err := c.call(ctx, protocol.MethodCommands, nil, &list)
	return list, err
}

func (c *Client) Reload(ctx context.Context, path string) (command.Info, error) {
	var info command.Info
	err := c.call(ctx, protocol.MethodReload, protocol.ReloadParams{Path: path}, &info)
	return info, err
}

func (c *Client) Health(ctx context.Context) (protocol.HealthResponse, error) {
	var h protocol.HealthResponse
	err := c.call(ctx, protocol.MethodHealth, nil, &h)
	return h, err
}

func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
