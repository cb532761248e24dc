package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"
)

var errListenerClosed = errors.New("listener closed")

type SocketListener struct {
	path     string
	listener net.Listener
}

func NewSocketListener(socketPath string) *SocketListener {
	return &SocketListener{
		path: socketPath,
	}
}

// Start replaces any stale socket file and listens with owner-only access.
func (sl *SocketListener) Start() error {
	dir := filepath.Dir(sl.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	if err := os.Remove(sl.path); err != nil && !os.IsNotExist(err) {
		return err
	}

	listener, err := net.Listen("unix", sl.path)
	if err != nil {
		return err
	}

	sl.listener = listener
	return os.Chmod(sl.path, 0700)
}

func (sl *SocketListener) Accept() (net.Conn, error) {
	if sl.listener == nil {
		return nil, fmt.Errorf("listener not started")
	}
	conn, err := sl.listener.Accept()
	if errors.Is(err, net.ErrClosed) {
		return nil, errListenerClosed
	}
	return conn, err
}

func (sl *SocketListener) Close() error {
	if sl.listener == nil {
		return nil
	}
	return sl.listener.Close()
}

type SocketConnector struct {
	path    string
	timeout time.Duration
}

func NewSocketConnector(socketPath string) *SocketConnector {
	return &SocketConnector{
		path:    socketPath,
		timeout: 2 * time.Second,
	}
}

func (sc *SocketConnector) Connect(ctx context.Context) (net.Conn, error) {
	dialer := net.Dialer{Timeout: sc.timeout}
	return dialer.DialContext(ctx, "unix", sc.path)
}

// Responsive reports whether something accepts connections on the socket.
func (sc *SocketConnector) Responsive() bool {
	conn, err := net.DialTimeout("unix", sc.path, 500*time.Millisecond)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
